package migrate

import "container/heap"

// sessionQueue orders pending emigration sessions by (migrateOrder,
// treeElementCount), so that popping always returns the session minimizing
// that composite key rather than strictly FIFO order. A session's
// treeElementCount is read once, at enqueue time, since sessions sit in
// this queue before their stream starts and the tree is not shrinking
// underneath the comparison.
type sessionQueue struct {
	items []*queuedSession
}

type queuedSession struct {
	session          *EmigrationSession
	migrateOrder     int64
	treeElementCount int
}

func (q *sessionQueue) Len() int { return len(q.items) }

func (q *sessionQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.migrateOrder != b.migrateOrder {
		return a.migrateOrder < b.migrateOrder
	}
	return a.treeElementCount < b.treeElementCount
}

func (q *sessionQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *sessionQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*queuedSession))
}

func (q *sessionQueue) Pop() interface{} {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return item
}

func newSessionQueue() *sessionQueue {
	q := &sessionQueue{}
	heap.Init(q)
	return q
}

func (q *sessionQueue) push(s *EmigrationSession, migrateOrder int64, treeElementCount int) {
	heap.Push(q, &queuedSession{session: s, migrateOrder: migrateOrder, treeElementCount: treeElementCount})
}

// isDegenerate reports whether the session at i is not worth running:
// an already-empty tree or a cluster key that's moved on since it was
// enqueued means its protocol run would do nothing but abort immediately.
// The sentinel (nil session) is never degenerate by this definition; it
// has its own, lower-than-anything migrateOrder to win comparisons with.
func (q *sessionQueue) isDegenerate(i int) bool {
	item := q.items[i]
	if item.session == nil {
		return false
	}
	if item.treeElementCount == 0 {
		return true
	}
	return item.session.partition != nil && item.session.partition.ClusterKey() != item.session.ClusterKey
}

// pop returns the minimizing session among up to the first window entries
// of the queue, or nil if empty. A window <= 0 or >= the queue length
// scans the whole queue, same as an unbounded pop. A nil *EmigrationSession
// entry is the thread-count-down sentinel: popping it signals the calling
// worker to exit rather than process a session.
//
// The scan stops as soon as the running best-so-far turns out to be
// degenerate (empty tree or stale cluster key): there's no point comparing
// it against the rest of the window, since running it will abort for free
// and nothing encountered earlier in the scan already beat it. This avoids
// head-of-line blocking behind one huge partition without letting a
// later, worse-ranked degenerate entry jump an already-confirmed better
// candidate.
//
// The underlying heap only guarantees items[0] is the global minimum; the
// rest of items is merely heap-ordered, not sorted. Scanning a prefix of it
// is therefore not "the N sessions nearest the head of a FIFO queue" in any
// strict sense, but it does bound the comparison work to a tunable window
// rather than the full queue, which is the property the window exists for.
func (q *sessionQueue) pop(window int) (*EmigrationSession, bool) {
	n := q.Len()
	if n == 0 {
		return nil, false
	}
	if window <= 0 || window > n {
		window = n
	}

	best := 0
	for i := 1; i < window && !q.isDegenerate(best); i++ {
		if q.Less(i, best) {
			best = i
		}
	}

	qs := heap.Remove(q, best).(*queuedSession)
	return qs.session, true
}

// pushSentinel enqueues the null-sentinel used to shrink the worker pool:
// the next worker to pop it exits instead of processing a session.
func (q *sessionQueue) pushSentinel() {
	heap.Push(q, &queuedSession{session: nil, migrateOrder: -1 << 62})
}
