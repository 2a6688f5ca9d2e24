package migrate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// ReceiveState mirrors TransmitState on the immigrator's side. Like its
// counterpart, the Subrecord state is omitted: this data model has no
// sub-records.
type ReceiveState int32

const (
	ReceiveNone ReceiveState = iota
	ReceiveRecord
	ReceiveDone
)

// immigrationKey identifies an immigration session: the emigrating peer and
// its session id. Distinct source nodes can reuse the same emig_id
// independently, so both fields are required.
type immigrationKey struct {
	source types.ID
	emigID uint32
}

// ImmigrationSession is the inbound side of one partition transfer.
type ImmigrationSession struct {
	Source      types.ID
	EmigID      uint32
	ClusterKey  uint64
	PartitionID uint32
	Namespace   string

	reserved *partition.Reservation

	receiveState atomic.Int32

	doneRecv     atomic.Int64
	startRecvAt  time.Time
	doneRecvAtMu sync.Mutex
	doneRecvAt   time.Time
}

func newImmigrationSession(source types.ID, emigID uint32, clusterKey uint64, r *partition.Reservation, namespace string, partitionID uint32) *ImmigrationSession {
	s := &ImmigrationSession{
		Source:      source,
		EmigID:      emigID,
		ClusterKey:  clusterKey,
		PartitionID: partitionID,
		Namespace:   namespace,
		reserved:    r,
		startRecvAt: time.Now(),
	}
	s.receiveState.Store(int32(ReceiveRecord))
	return s
}

// markDone atomically increments done_recv, returning true only for the
// transition from 0 (in-flight) to 1, so DONE is ever observed at most
// once.
func (s *ImmigrationSession) markDone() bool {
	first := s.doneRecv.Add(1) == 1
	if first {
		s.doneRecvAtMu.Lock()
		s.doneRecvAt = time.Now()
		s.doneRecvAtMu.Unlock()
	}
	return first
}

func (s *ImmigrationSession) isDone() bool {
	return s.doneRecv.Load() >= 1
}

func (s *ImmigrationSession) doneAge() time.Duration {
	s.doneRecvAtMu.Lock()
	defer s.doneRecvAtMu.Unlock()
	if s.doneRecvAt.IsZero() {
		return 0
	}
	return time.Since(s.doneRecvAt)
}

func (s *ImmigrationSession) release() {
	if s.reserved != nil {
		s.reserved.Release()
	}
}
