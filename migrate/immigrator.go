package migrate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pickle"
	"github.com/absolute8511/aerospike-server/pkg/scheduleutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/record"
	"github.com/absolute8511/aerospike-server/storageref"
	"github.com/absolute8511/aerospike-server/truncate"
)

// ImmigratorConfig holds the reaper's tunables.
type ImmigratorConfig struct {
	RxLifetimeMs int64
}

func defaultImmigratorConfig() ImmigratorConfig {
	return ImmigratorConfig{RxLifetimeMs: 60000}
}

// Stats counts conditions worth surfacing as a metric instead of only a
// log line.
type Stats struct {
	MalformedInserts int64
}

// Registry looks up a partition by (namespace, id) so the immigrator can
// reserve one on an unseen START without this package owning partition
// lifecycle itself.
type Registry interface {
	Partition(namespace string, id uint32) (*partition.Partition, bool)
}

// Store is the durable side of an applied insert: the subset of
// storageref.Store this package needs.
type Store interface {
	storageref.Capacity
	Put(namespace string, d record.Digest, pickle []byte) error
	Delete(namespace string, d record.Digest)
}

// Immigrator runs the inbound side of migration: one session per
// (source, emig_id), a merge-policy apply path, and a reaper.
type Immigrator struct {
	transport *fabric.Transport
	registry  Registry
	store     Store
	truncate  *truncate.Table

	cfg ImmigratorConfig

	mu       sync.RWMutex
	sessions map[immigrationKey]*ImmigrationSession

	statsMu sync.Mutex
	stats   Stats

	releases scheduleutil.Scheduler

	stopc chan struct{}
}

// NewImmigrator starts an Immigrator and its reaper goroutine. store may be
// nil, in which case an applied insert only ever lands in the in-memory
// tree and space is never rejected. truncateTable may be nil, in which
// case no insert is ever rejected as truncated.
func NewImmigrator(transport *fabric.Transport, registry Registry, store Store, truncateTable *truncate.Table, cfg ImmigratorConfig) *Immigrator {
	im := &Immigrator{
		transport: transport,
		registry:  registry,
		store:     store,
		truncate:  truncateTable,
		cfg:       cfg,
		sessions:  make(map[immigrationKey]*ImmigrationSession),
		releases:  scheduleutil.NewSchedulerFIFO(),
		stopc:     make(chan struct{}),
	}
	go im.reapLoop()
	return im
}

func (im *Immigrator) Stop() {
	close(im.stopc)
	im.releases.Stop()
}

func (im *Immigrator) Stats() Stats {
	im.statsMu.Lock()
	defer im.statsMu.Unlock()
	return im.stats
}

func (im *Immigrator) countMalformedInsert() {
	im.statsMu.Lock()
	im.stats.MalformedInserts++
	im.statsMu.Unlock()
}

// Sessions returns a point-in-time snapshot of every live immigration
// session.
func (im *Immigrator) Sessions() []*ImmigrationSession {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]*ImmigrationSession, 0, len(im.sessions))
	for _, s := range im.sessions {
		out = append(out, s)
	}
	return out
}

// HandleMessage implements fabric.Handler for inbound migrate traffic:
// START, INSERT, and DONE.
func (im *Immigrator) HandleMessage(from types.ID, msg *fabric.Message) error {
	op, _ := msg.GetUint32(fabric.FieldOp)
	switch Op(op) {
	case OpStart:
		return im.handleStart(from, msg)
	case OpInsert:
		return im.handleInsert(from, msg)
	case OpDone:
		return im.handleDone(from, msg)
	}
	return nil
}

func (im *Immigrator) lookup(key immigrationKey) *ImmigrationSession {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.sessions[key]
}

// handleStart implements the START handling described in 4.D: idempotent
// on a duplicate, fenced on cluster key, and dependent on the local
// registry being able to produce a reservable partition.
func (im *Immigrator) handleStart(from types.ID, msg *fabric.Message) error {
	eid, _ := msg.GetUint32(fabric.FieldEmigID)
	namespace, _ := msg.GetString(fabric.FieldNamespace)
	partitionID, _ := msg.GetUint32(fabric.FieldPartition)
	clusterKey, _ := msg.GetUint64(fabric.FieldClusterKey)

	key := immigrationKey{source: from, emigID: eid}

	if existing := im.lookup(key); existing != nil {
		return im.ackStart(from, eid, OpStartAckOK)
	}

	p, found := im.registry.Partition(namespace, partitionID)
	if !found {
		return im.ackStart(from, eid, OpStartAckFail)
	}

	r := p.Reserve()
	if r.ClusterKey != clusterKey {
		r.Release()
		return im.ackStart(from, eid, OpStartAckEagain)
	}
	if r.State == partition.Undef || r.State == partition.Absent {
		r.Release()
		return im.ackStart(from, eid, OpStartAckFail)
	}

	s := newImmigrationSession(from, eid, clusterKey, r, namespace, partitionID)

	im.mu.Lock()
	if existing := im.sessions[key]; existing != nil {
		im.mu.Unlock()
		r.Release()
		return im.ackStart(from, eid, OpStartAckOK)
	}
	im.sessions[key] = s
	im.mu.Unlock()

	return im.ackStart(from, eid, OpStartAckOK)
}

func (im *Immigrator) ackStart(to types.ID, eid uint32, op Op) error {
	reply := fabric.NewMessage(fabric.KindMigrate)
	reply.SetUint32(fabric.FieldOp, uint32(op))
	reply.SetUint32(fabric.FieldEmigID, eid)
	return im.transport.Send(to, fabric.Medium, reply)
}

// handleInsert implements the INSERT handling described in 4.D, applying
// the merge policy and acking positively unconditionally (ack failures are
// the sender's retransmit responsibility, never this path's).
func (im *Immigrator) handleInsert(from types.ID, msg *fabric.Message) error {
	eid, _ := msg.GetUint32(fabric.FieldEmigID)
	insertID, _ := msg.GetUint32(fabric.FieldEmigInsertID)
	key := immigrationKey{source: from, emigID: eid}

	s := im.lookup(key)
	if s == nil {
		return im.ackInsert(from, eid, insertID)
	}

	digestBytes, _ := msg.GetBytes(fabric.FieldDigest)
	var d record.Digest
	copy(d[:], digestBytes)

	gen, ok := msg.GetUint32(fabric.FieldGeneration)
	if !ok {
		gen = 1
	}
	voidTime, _ := msg.GetUint32(fabric.FieldVoidTime)
	lut, _ := msg.GetUint64(fabric.FieldLastUpdateTime)
	setName, _ := msg.GetString(fabric.FieldSetName)
	recBytes, _ := msg.GetBytes(fabric.FieldRecord)

	// A zero-bin pickle deletes only when the INSERT carries the DROP info
	// bit (0x10); without it the pickle is treated as malformed.
	info, _ := msg.GetUint32(fabric.FieldInfo)
	var err error
	if n, perr := pickle.PeekBinCount(recBytes); perr == nil && n == 0 && info&0x10 == 0 {
		err = errutil.ErrPickleMalformed
	} else {
		err = im.applyInsert(s, d, setName, uint16(gen), voidTime, lut, recBytes)
	}
	if err != nil {
		switch {
		case errors.Is(err, errutil.ErrPickleMalformed):
			im.countMalformedInsert()
			logger.Warningf("malformed insert for emig %d digest %s: %v", eid, d, err)
		case errors.Is(err, errutil.ErrOutOfSpace):
			logger.Warningf("dropped insert for emig %d digest %s: out of space", eid, d)
		case errors.Is(err, errutil.ErrForbidden):
			logger.Warningf("rejected insert for emig %d digest %s: set %q under pending truncate", eid, d, setName)
		}
	}

	return im.ackInsert(from, eid, insertID)
}

func (im *Immigrator) ackInsert(to types.ID, eid, insertID uint32) error {
	reply := fabric.NewMessage(fabric.KindMigrate)
	reply.SetUint32(fabric.FieldOp, uint32(OpInsertAck))
	reply.SetUint32(fabric.FieldEmigID, eid)
	reply.SetUint32(fabric.FieldEmigInsertID, insertID)
	return im.transport.Send(to, fabric.High, reply)
}

// applyInsert runs the merge policy against the session's reserved tree.
func (im *Immigrator) applyInsert(s *ImmigrationSession, d record.Digest, setName string, gen uint16, voidTime uint32, lut uint64, pickleBuf []byte) error {
	if s.reserved.ClusterKey != s.ClusterKey {
		return errutil.ErrClusterKeyMismatch
	}

	isDrop, err := pickle.IsDrop(pickleBuf)
	if err != nil {
		return err
	}
	if isDrop {
		s.reserved.Tree.Delete(d)
		if im.store != nil {
			im.store.Delete(s.Namespace, d)
		}
		return nil
	}

	existing, found := s.reserved.Tree.Get(d)
	if !found && im.truncate.IsTruncated(s.Namespace, setName, lut) {
		return errutil.ErrForbidden
	}

	bins, err := pickle.Decode(pickleBuf)
	if err != nil {
		return err
	}

	incoming := &record.Entry{
		Generation:     gen,
		VoidTime:       im.truncate.ClampVoidTime(s.Namespace, setName, voidTime),
		LastUpdateTime: lut,
		SetName:        setName,
		Bins:           bins,
	}

	if found && !incoming.Newer(existing) {
		return nil
	}

	if im.store != nil {
		if err := im.store.Put(s.Namespace, d, pickleBuf); err != nil {
			return err
		}
	}
	s.reserved.Tree.Put(d, incoming)
	return nil
}

// handleDone implements the DONE handling described in 4.D: at-most-once
// observable completion notification, unconditional ack.
func (im *Immigrator) handleDone(from types.ID, msg *fabric.Message) error {
	eid, _ := msg.GetUint32(fabric.FieldEmigID)
	key := immigrationKey{source: from, emigID: eid}

	s := im.lookup(key)
	if s != nil {
		if s.markDone() {
			s.receiveState.Store(int32(ReceiveDone))
			if im.cfg.RxLifetimeMs == 0 {
				im.mu.Lock()
				delete(im.sessions, key)
				im.mu.Unlock()
				s.release()
			}
		}
	}

	reply := fabric.NewMessage(fabric.KindMigrate)
	reply.SetUint32(fabric.FieldOp, uint32(OpDoneAck))
	reply.SetUint32(fabric.FieldEmigID, eid)
	return im.transport.Send(from, fabric.Medium, reply)
}

// reapLoop evicts sessions whose cluster key has gone stale or whose DONE
// is older than the configured retention window.
func (im *Immigrator) reapLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-im.stopc:
			return
		case <-ticker.C:
			im.reapOnce()
		}
	}
}

func (im *Immigrator) reapOnce() {
	var stale []immigrationKey

	im.mu.RLock()
	for key, s := range im.sessions {
		if im.registry != nil {
			if p, ok := im.registry.Partition(s.Namespace, s.PartitionID); ok && p.ClusterKey() != s.ClusterKey {
				stale = append(stale, key)
				continue
			}
		}
		if s.isDone() && s.doneAge() > time.Duration(im.cfg.RxLifetimeMs)*time.Millisecond {
			stale = append(stale, key)
		}
	}
	im.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	im.mu.Lock()
	for _, key := range stale {
		if s := im.sessions[key]; s != nil {
			delete(im.sessions, key)
			im.releases.Schedule(func(ctx context.Context) { s.release() })
		}
	}
	im.mu.Unlock()
}
