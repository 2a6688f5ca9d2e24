package migrate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// TransmitState is the emigrator's view of where a session sits in the
// per-session protocol. The source data model here has no sub-records, so
// the Subrecord state named in the protocol is collapsed away: every
// session goes straight to Record.
type TransmitState int32

const (
	TransmitNone TransmitState = iota
	TransmitRecord
	TransmitDone
)

// migratePhase tracks the session's position in the state diagram
// independently of TransmitState, since READY/START_SENDING/STREAMING/
// DONE_SENDING/DONE/ERROR are scheduler bookkeeping, not wire state.
type migratePhase int32

const (
	phaseReady migratePhase = iota
	phaseStartSending
	phaseStreaming
	phaseDoneSending
	phaseDone
	phaseError
)

// bytesInFlightCap is the backpressure ceiling on one session's outstanding,
// unacked INSERT bytes.
const bytesInFlightCap = 32 * 1024 * 1024

// reinsertEntry is one outstanding, unacked INSERT: the message sent and
// when it was last transmitted.
type reinsertEntry struct {
	msg     *fabric.Message
	xmitMs  int64
	size    int64
}

// EmigrationSession is the outbound side of one partition transfer.
type EmigrationSession struct {
	ID          uint32
	Dest        types.ID
	ClusterKey  uint64
	Namespace   string
	PartitionID uint32

	partition *partition.Partition
	reserved  *partition.Reservation

	transmitState atomic.Int32
	phase         atomic.Int32
	aborted       atomic.Bool

	bytesInFlight int64

	reinsertMu sync.Mutex
	reinsert   map[uint32]*reinsertEntry

	enqueuedAt time.Time

	paused atomic.Bool

	control *controlQueue
}

func newEmigrationSession(id uint32, dest types.ID, clusterKey uint64, p *partition.Partition, r *partition.Reservation) *EmigrationSession {
	s := &EmigrationSession{
		ID:          id,
		Dest:        dest,
		ClusterKey:  clusterKey,
		Namespace:   p.Namespace(),
		PartitionID: p.ID(),
		partition:   p,
		reserved:    r,
		reinsert:    make(map[uint32]*reinsertEntry),
		enqueuedAt:  time.Now(),
		control:     newControlQueue(),
	}
	s.transmitState.Store(int32(TransmitRecord))
	s.phase.Store(int32(phaseReady))
	return s
}

func (s *EmigrationSession) setPhase(p migratePhase) { s.phase.Store(int32(p)) }
func (s *EmigrationSession) Phase() migratePhase     { return migratePhase(s.phase.Load()) }

func (s *EmigrationSession) abort() { s.aborted.Store(true) }
func (s *EmigrationSession) Aborted() bool { return s.aborted.Load() }

// treeElementCount reports the live record count backing this session's
// work-selection priority.
func (s *EmigrationSession) treeElementCount() int {
	if s.reserved == nil {
		return 0
	}
	return s.reserved.Tree.Len()
}

func (s *EmigrationSession) addBytesInFlight(n int64) int64 {
	return atomic.AddInt64(&s.bytesInFlight, n)
}

func (s *EmigrationSession) BytesInFlight() int64 { return atomic.LoadInt64(&s.bytesInFlight) }

func (s *EmigrationSession) ackc() *controlQueue { return s.control }

// Paused reports whether this session's emitter is currently blocked on the
// bytes-in-flight backpressure valve.
func (s *EmigrationSession) Paused() bool { return s.paused.Load() }

func (s *EmigrationSession) release() {
	if s.reserved != nil {
		s.reserved.Release()
	}
}

// putReinsert records a sent INSERT awaiting ack.
func (s *EmigrationSession) putReinsert(insertID uint32, msg *fabric.Message, size int64) {
	s.reinsertMu.Lock()
	s.reinsert[insertID] = &reinsertEntry{msg: msg, xmitMs: nowMs(), size: size}
	s.reinsertMu.Unlock()
}

// ackReinsert removes an acked INSERT, returning its byte size so the
// caller can release it from bytes-in-flight. ok is false for a duplicate
// or unknown ack.
func (s *EmigrationSession) ackReinsert(insertID uint32) (int64, bool) {
	s.reinsertMu.Lock()
	defer s.reinsertMu.Unlock()

	e, ok := s.reinsert[insertID]
	if !ok {
		return 0, false
	}
	delete(s.reinsert, insertID)
	return e.size, true
}

func (s *EmigrationSession) reinsertEmpty() bool {
	s.reinsertMu.Lock()
	defer s.reinsertMu.Unlock()
	return len(s.reinsert) == 0
}

// dueRetransmits returns every reinsert entry whose last transmit is older
// than retransmitMs, refreshing their timestamps as it goes.
func (s *EmigrationSession) dueRetransmits(retransmitMs int64) []*fabric.Message {
	s.reinsertMu.Lock()
	defer s.reinsertMu.Unlock()

	now := nowMs()
	var due []*fabric.Message
	for _, e := range s.reinsert {
		if now-e.xmitMs > retransmitMs {
			due = append(due, e.msg)
			e.xmitMs = now
		}
	}
	return due
}

func nowMs() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }
