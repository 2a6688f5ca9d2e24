package migrate

import (
	"sync/atomic"

	"github.com/absolute8511/aerospike-server/pkg/scheduleutil"
)

// Op is the migrate message operation code carried in FieldOp.
type Op uint32

const (
	OpStart Op = iota + 1
	OpInsert
	OpInsertAck
	OpDone
	OpDoneAck
	OpStartAckOK
	OpStartAckEagain
	OpStartAckFail
	OpStartAckAlreadyDone
)

// ackEvent is one entry on a session's control queue: a START/DONE ack
// observed by the transport's receive path and handed to the worker
// blocked in sendStart/sendDone.
type ackEvent struct {
	op Op
}

// controlQueue correlates a session's START/DONE handshake with the peer
// acks that arrive on the transport's receive path, the same way etcdserver
// uses pkg.wait to hand a raft proposal's eventual apply result back to the
// goroutine that proposed it. Each outstanding handshake attempt registers
// under a fresh sequence id; push delivers to whichever id is currently
// outstanding and drops silently otherwise, so a late or duplicate ack
// falls back to the caller's own retransmit timer exactly as before.
type controlQueue struct {
	wait scheduleutil.Wait
	seq  uint64
}

func newControlQueue() *controlQueue {
	return &controlQueue{wait: scheduleutil.NewWait()}
}

// next registers a new outstanding wait and returns its channel. Callers
// must not call next again while a previously returned channel is still
// unconsumed; doing so abandons that registration without ever triggering
// it.
func (q *controlQueue) next() <-chan interface{} {
	id := atomic.AddUint64(&q.seq, 1)
	return q.wait.Register(id)
}

func (q *controlQueue) push(ev ackEvent) {
	id := atomic.LoadUint64(&q.seq)
	if q.wait.IsRegistered(id) {
		q.wait.Trigger(id, ev)
	}
}
