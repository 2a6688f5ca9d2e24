// Package truncate tracks pending truncate-before-LUT thresholds: the
// state the merge policy consults to reject a write whose record predates
// a truncation of its (namespace, set). The storage engine that would
// persist these thresholds durably is out of scope here (see storageref);
// this is the in-memory table a real engine's truncate admin path would
// sit in front of.
package truncate

import "sync"

type key struct {
	namespace string
	set       string
}

type threshold struct {
	lut             uint64
	voidTimeCeiling uint32
}

// Table is a set of pending truncate-before-LUT thresholds, one per
// (namespace, set). The zero value has none and rejects nothing; a nil
// *Table is likewise always empty, so callers may leave it unset.
type Table struct {
	mu         sync.RWMutex
	thresholds map[key]threshold
}

// New returns an empty Table.
func New() *Table {
	return &Table{thresholds: make(map[key]threshold)}
}

// Truncate records that every write to (namespace, set) whose
// last-update-time is at or before lut is to be rejected as already
// truncated, and that any void-time past voidTimeCeiling on a write that
// survives the check gets clamped down to it. A voidTimeCeiling of 0
// means no ceiling. A later call for the same (namespace, set) only
// raises the threshold, never lowers it, matching how a truncate-before
// watermark only ever moves forward.
func (t *Table) Truncate(namespace, set string, lut uint64, voidTimeCeiling uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.thresholds == nil {
		t.thresholds = make(map[key]threshold)
	}
	k := key{namespace, set}
	if existing, ok := t.thresholds[k]; !ok || lut > existing.lut {
		t.thresholds[k] = threshold{lut: lut, voidTimeCeiling: voidTimeCeiling}
	}
}

// IsTruncated reports whether a write with the given last-update-time
// falls under a pending truncate-before-LUT for (namespace, set).
func (t *Table) IsTruncated(namespace, set string, lut uint64) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	th, ok := t.thresholds[key{namespace, set}]
	return ok && lut <= th.lut
}

// ClampVoidTime clamps voidTime to the truncate ceiling recorded for
// (namespace, set), if any and if it's tighter than voidTime itself. A
// voidTime of 0 (never expires) is always clamped down to a configured
// ceiling, since truncation bounds expiry even for records written to
// live forever.
func (t *Table) ClampVoidTime(namespace, set string, voidTime uint32) uint32 {
	if t == nil {
		return voidTime
	}
	t.mu.RLock()
	th, ok := t.thresholds[key{namespace, set}]
	t.mu.RUnlock()
	if !ok || th.voidTimeCeiling == 0 {
		return voidTime
	}
	if voidTime == 0 || voidTime > th.voidTimeCeiling {
		return th.voidTimeCeiling
	}
	return voidTime
}
