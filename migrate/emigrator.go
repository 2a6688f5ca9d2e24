// Package migrate implements partition emigration and immigration: the
// protocol that moves one partition's records from a source node to a
// destination node while both continue serving live traffic.
package migrate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pickle"
	"github.com/absolute8511/aerospike-server/pkg/scheduleutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
	"github.com/absolute8511/aerospike-server/record"
)

var logger = xlog.NewLogger("migrate", xlog.INFO)

// EmigratorConfig holds the tunables the scheduling and protocol loops read.
// Config lives in its own package; this is the narrow subset the emigrator
// needs, passed in at construction so this package never imports config
// directly and can be driven by tests without it.
type EmigratorConfig struct {
	RetransmitMs          int64
	RetransmitStartDoneMs int64
	SleepUs               int64
	ScanWindow            int
}

func defaultEmigratorConfig() EmigratorConfig {
	return EmigratorConfig{
		RetransmitMs:          1000,
		RetransmitStartDoneMs: 1000,
		SleepUs:               0,
		ScanWindow:            20,
	}
}

// Emigrator runs the outbound side of migration: a priority queue of
// sessions and a pool of worker threads draining it.
type Emigrator struct {
	transport *fabric.Transport
	self      types.ID
	cfg       EmigratorConfig

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *sessionQueue
	stopping bool

	threads   int32
	nextOrder int64

	sessMu   sync.Mutex
	sessions map[uint32]*EmigrationSession
	nextID   uint32

	insertSeq uint64

	stallDetector *scheduleutil.TimeoutDetector
}

// NewEmigrator returns an Emigrator with n worker threads already running.
func NewEmigrator(transport *fabric.Transport, self types.ID, n int, cfg EmigratorConfig) *Emigrator {
	e := &Emigrator{
		transport:     transport,
		self:          self,
		cfg:           cfg,
		queue:         newSessionQueue(),
		sessions:      make(map[uint32]*EmigrationSession),
		stallDetector: scheduleutil.NewTimeoutDetector(2 * time.Duration(cfg.RetransmitStartDoneMs) * time.Millisecond),
	}
	e.cond = sync.NewCond(&e.mu)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		e.spawnWorker()
	}
	return e
}

func (e *Emigrator) spawnWorker() {
	atomic.AddInt32(&e.threads, 1)
	go e.workerLoop()
}

// SetThreads live-reconfigures the worker pool: growing spawns new workers
// immediately, shrinking queues one null sentinel per worker to remove,
// which the next idle worker to pop it consumes by exiting.
func (e *Emigrator) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	cur := int(atomic.LoadInt32(&e.threads))
	if n > cur {
		for i := 0; i < n-cur; i++ {
			e.spawnWorker()
		}
		return
	}
	e.mu.Lock()
	for i := 0; i < cur-n; i++ {
		e.queue.pushSentinel()
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *Emigrator) Threads() int { return int(atomic.LoadInt32(&e.threads)) }

// Submit creates and enqueues a new emigration session for (namespace,
// partition) against dest, reserving the partition for the session's
// lifetime. The caller does not own the returned session's reservation;
// the emigrator releases it when the session terminates.
func (e *Emigrator) Submit(p *partition.Partition, dest types.ID) (*EmigrationSession, error) {
	r := p.Reserve()
	if !r.Readable() {
		r.Release()
		return nil, errutil.ErrInvalidState
	}

	id := atomic.AddUint32(&e.nextID, 1)
	s := newEmigrationSession(id, dest, r.ClusterKey, p, r)

	e.sessMu.Lock()
	e.sessions[id] = s
	e.sessMu.Unlock()

	order := atomic.AddInt64(&e.nextOrder, 1)
	e.mu.Lock()
	e.queue.push(s, order, s.treeElementCount())
	e.cond.Signal()
	e.mu.Unlock()

	return s, nil
}

// Sessions returns a point-in-time snapshot of every live emigration
// session, for status reporting.
func (e *Emigrator) Sessions() []*EmigrationSession {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	out := make([]*EmigrationSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Emigrator) removeSession(id uint32) {
	e.sessMu.Lock()
	delete(e.sessions, id)
	e.sessMu.Unlock()
}

// HandleMessage implements fabric.Handler for migrate acks arriving on the
// ack/control path: START_ACK_*, INSERT_ACK, DONE_ACK route here by emig_id.
func (e *Emigrator) HandleMessage(from types.ID, msg *fabric.Message) error {
	eid, ok := msg.GetUint32(fabric.FieldEmigID)
	if !ok {
		return errutil.ErrPickleMalformed
	}

	e.sessMu.Lock()
	s := e.sessions[eid]
	e.sessMu.Unlock()
	if s == nil {
		return nil
	}

	op, _ := msg.GetUint32(fabric.FieldOp)
	switch Op(op) {
	case OpStartAckOK:
		s.ackc().push(ackEvent{op: OpStartAckOK})
	case OpStartAckEagain:
		s.ackc().push(ackEvent{op: OpStartAckEagain})
	case OpStartAckFail:
		s.ackc().push(ackEvent{op: OpStartAckFail})
	case OpStartAckAlreadyDone:
		s.ackc().push(ackEvent{op: OpStartAckAlreadyDone})
	case OpInsertAck:
		insertID, _ := msg.GetUint32(fabric.FieldEmigInsertID)
		if size, ok := s.ackReinsert(insertID); ok {
			s.addBytesInFlight(-size)
		}
	case OpDoneAck:
		s.ackc().push(ackEvent{op: OpDoneAck})
	}
	return nil
}

// workerLoop is the pop-work loop: pop the best-ranked session and run its
// protocol to completion (or abort), or exit on the sentinel.
func (e *Emigrator) workerLoop() {
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 {
			e.cond.Wait()
		}
		s, _ := e.queue.pop(e.cfg.ScanWindow)
		e.mu.Unlock()

		if s == nil {
			atomic.AddInt32(&e.threads, -1)
			return
		}

		e.runSession(s)
	}
}

// runSession drives one session from START through DONE or abort, then
// releases its reservation and removes it from the registry.
func (e *Emigrator) runSession(s *EmigrationSession) {
	defer func() {
		s.release()
		e.removeSession(s.ID)
	}()

	if s.treeElementCount() == 0 {
		s.setPhase(phaseDoneSending)
	}

	if !e.sendStart(s) {
		s.setPhase(phaseError)
		s.abort()
		return
	}

	if s.Phase() == phaseDoneSending {
		s.setPhase(phaseDone)
		return
	}

	s.setPhase(phaseStreaming)
	if !e.stream(s) {
		s.setPhase(phaseError)
		s.abort()
		return
	}

	if !e.retransmitUntilDrained(s) {
		s.setPhase(phaseError)
		s.abort()
		return
	}

	s.setPhase(phaseDoneSending)
	if !e.sendDone(s) {
		s.setPhase(phaseError)
		s.abort()
		return
	}

	s.setPhase(phaseDone)
}

// sendStart runs the START handshake, retransmitting until START_ACK_OK (or
// ALREADY_DONE, which this repo treats as already complete) or a fatal ack,
// or abandoning on cluster-key change.
func (e *Emigrator) sendStart(s *EmigrationSession) bool {
	s.setPhase(phaseStartSending)
	msg := fabric.NewMessage(fabric.KindMigrate)
	msg.SetUint32(fabric.FieldOp, uint32(OpStart))
	msg.SetUint32(fabric.FieldEmigID, s.ID)
	msg.SetUint64(fabric.FieldClusterKey, s.ClusterKey)
	msg.SetString(fabric.FieldNamespace, s.Namespace)
	msg.SetUint32(fabric.FieldPartition, s.PartitionID)

	ticker := time.NewTicker(time.Duration(e.cfg.RetransmitStartDoneMs) * time.Millisecond)
	defer ticker.Stop()

	if err := e.transport.Send(s.Dest, fabric.Medium, msg); err != nil {
		return false
	}

	ch := s.ackc().next()
	for {
		if s.partition.ClusterKey() != s.ClusterKey {
			return false
		}
		select {
		case v := <-ch:
			switch v.(ackEvent).op {
			case OpStartAckOK:
				return true
			case OpStartAckAlreadyDone:
				s.setPhase(phaseDoneSending)
				return true
			case OpStartAckFail:
				return false
			case OpStartAckEagain:
				ch = s.ackc().next()
			}
		case <-ticker.C:
			if beyond, exceeded := e.stallDetector.Observe(uint64(s.ID)); !beyond {
				logger.Warnf("session %d START handshake exceeded its retransmit interval by %v", s.ID, exceeded)
			}
			if err := e.transport.Send(s.Dest, fabric.Medium, msg); err != nil {
				return false
			}
		}
	}
}

// stream walks the session's reserved tree, pickling and sending one
// INSERT per entry, subject to the bytes-in-flight backpressure valve.
func (e *Emigrator) stream(s *EmigrationSession) bool {
	ok := true
	s.reserved.Tree.Range(func(d record.Digest, entry *record.Entry) bool {
		if s.partition.ClusterKey() != s.ClusterKey {
			ok = false
			return false
		}
		if entry.IsTombstone() {
			return true
		}

		bins := pickle.Encode(entry.Bins)
		insertID := uint32(atomic.AddUint64(&e.insertSeq, 1))

		msg := fabric.NewMessage(fabric.KindMigrate)
		msg.SetUint32(fabric.FieldOp, uint32(OpInsert))
		msg.SetUint32(fabric.FieldEmigID, s.ID)
		msg.SetUint32(fabric.FieldEmigInsertID, insertID)
		msg.SetString(fabric.FieldNamespace, s.Namespace)
		msg.SetBytes(fabric.FieldDigest, d[:])
		msg.SetUint32(fabric.FieldGeneration, uint32(entry.Generation))
		msg.SetUint32(fabric.FieldVoidTime, entry.VoidTime)
		msg.SetUint64(fabric.FieldLastUpdateTime, entry.LastUpdateTime)
		if entry.SetName != "" {
			msg.SetString(fabric.FieldSetName, entry.SetName)
		}
		msg.SetBytes(fabric.FieldRecord, bins)

		size := int64(len(bins))

		for s.BytesInFlight() > bytesInFlightCap {
			s.paused.Store(true)
			time.Sleep(time.Millisecond)
			if s.partition.ClusterKey() != s.ClusterKey {
				ok = false
				return false
			}
		}
		s.paused.Store(false)

		s.putReinsert(insertID, msg, size)
		s.addBytesInFlight(size)

		if err := e.sendWithBackoff(s, fabric.Low, msg); err != nil {
			if _, freed := s.ackReinsert(insertID); freed {
				s.addBytesInFlight(-size)
			}
			ok = false
			return false
		}

		if e.cfg.SleepUs > 0 {
			time.Sleep(time.Duration(e.cfg.SleepUs) * time.Microsecond)
		}
		return true
	})
	return ok
}

// sendWithBackoff retries a queue-full send with a bounded sleep, and
// treats no-node as fatal to the session per the failure-semantics split
// between transient and fatal fabric errors.
func (e *Emigrator) sendWithBackoff(s *EmigrationSession, priority fabric.Priority, msg *fabric.Message) error {
	for {
		err := e.transport.Send(s.Dest, priority, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, errutil.ErrQueueFull) {
			time.Sleep(time.Millisecond)
			if s.partition.ClusterKey() != s.ClusterKey {
				return errutil.ErrClusterKeyMismatch
			}
			continue
		}
		return err
	}
}

// retransmitUntilDrained reduces over the reinsert table once the stream
// pass has completed, resending anything past its retransmit interval,
// until the table empties or the cluster key moves on.
func (e *Emigrator) retransmitUntilDrained(s *EmigrationSession) bool {
	for !s.reinsertEmpty() {
		if s.partition.ClusterKey() != s.ClusterKey {
			return false
		}
		for _, msg := range s.dueRetransmits(e.cfg.RetransmitMs) {
			if err := e.sendWithBackoff(s, fabric.Low, msg); err != nil {
				return false
			}
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// sendDone runs the DONE handshake on the medium-priority channel.
func (e *Emigrator) sendDone(s *EmigrationSession) bool {
	msg := fabric.NewMessage(fabric.KindMigrate)
	msg.SetUint32(fabric.FieldOp, uint32(OpDone))
	msg.SetUint32(fabric.FieldEmigID, s.ID)

	ticker := time.NewTicker(time.Duration(e.cfg.RetransmitStartDoneMs) * time.Millisecond)
	defer ticker.Stop()

	if err := e.transport.Send(s.Dest, fabric.Medium, msg); err != nil {
		return false
	}

	ch := s.ackc().next()
	for {
		if s.partition.ClusterKey() != s.ClusterKey {
			return false
		}
		select {
		case v := <-ch:
			if v.(ackEvent).op == OpDoneAck {
				return true
			}
			ch = s.ackc().next()
		case <-ticker.C:
			if beyond, exceeded := e.stallDetector.Observe(uint64(s.ID)); !beyond {
				logger.Warnf("session %d DONE handshake exceeded its retransmit interval by %v", s.ID, exceeded)
			}
			if err := e.transport.Send(s.Dest, fabric.Medium, msg); err != nil {
				return false
			}
		}
	}
}
