// Package record defines the data model shared by the migration and
// replicated-write paths: the record key, its stored entry, and the bin
// values that make up a record's contents.
package record

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// DigestSize is the length in bytes of a record key.
const DigestSize = 20

// Digest is a content digest identifying a record globally within a
// namespace.
type Digest [DigestSize]byte

// String renders the digest as a lowercase hex string.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParticleType tags the wire/storage type of a bin's value.
type ParticleType uint8

const (
	ParticleNull ParticleType = iota
	ParticleInteger
	ParticleFloat
	ParticleString
	ParticleBlob
	ParticleList
	ParticleMap
)

// Bin is one (name, typed value) pair stored in a record entry.
type Bin struct {
	Name  string
	Type  ParticleType
	Flags uint8
	Value []byte
}

// Entry is a record as stored in the index tree: metadata plus an ordered
// bin list.
type Entry struct {
	Generation     uint16
	LastUpdateTime uint64
	VoidTime       uint32
	SetName        string
	Bins           []Bin
	Key            []byte
}

// IsTombstone reports whether an entry has no bins, which this repo treats
// as equivalent to absence: such entries must never survive a commit in
// the tree.
func (e *Entry) IsTombstone() bool {
	return len(e.Bins) == 0
}

// Newer reports whether e is the winner over other under the merge policy:
// compare (last-update-time, generation) lexicographically, last-update-time
// primary so a generation wraparound never spuriously wins.
func (e *Entry) Newer(other *Entry) bool {
	if e.LastUpdateTime != other.LastUpdateTime {
		return e.LastUpdateTime > other.LastUpdateTime
	}
	return e.Generation > other.Generation
}

// PartitionOf hashes a digest onto [0, numPartitions) using xxhash, the same
// way a consistent-hash ring buckets keys onto its member set.
func PartitionOf(d Digest, numPartitions uint32) uint32 {
	return uint32(xxhash.Sum64(d[:]) % uint64(numPartitions))
}
