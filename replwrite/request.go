// Package replwrite implements the replicated-write core: the master path
// that fans a client-originated mutation out to every replica destination
// and collects acks, and the receiver path that applies an incoming
// replicated write under the merge policy and acks back.
package replwrite

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
	"github.com/absolute8511/aerospike-server/record"
)

var logger = xlog.NewLogger("replwrite", xlog.INFO)

// requestKey identifies one inflight replicated-write request: namespace id
// plus record digest, the compound key for the process-wide request hash.
type requestKey struct {
	nsID   uint32
	digest record.Digest
}

// Request is one inflight client-originated mutation on the master, tracked
// until every destination acks or its deadline passes.
type Request struct {
	NSID           uint32
	Namespace      string
	PartitionID    uint32
	Digest         record.Digest
	TID            uint32
	Generation     uint16
	VoidTime       uint32
	LastUpdateTime uint64
	SetName        string
	Key            []byte
	Info           uint32
	Pickle         []byte

	Deadline time.Time

	RespondOnMasterCompletion bool
	CompletionCB              func(Result)
	TimeoutCB                 func()

	mu         sync.Mutex
	dest       []types.ID
	acked      map[types.ID]bool
	ackedCount int

	xmitMs   int64
	retryMs  int64

	finished int32 // atomic: CAS 0->1 guards exactly-one completion
}

func newRequest(dest []types.ID, initialRetryMs int64) *Request {
	return &Request{
		dest:    dest,
		acked:   make(map[types.ID]bool, len(dest)),
		xmitMs:  nowMs(),
		retryMs: initialRetryMs,
	}
}

// destinations returns a copy of the request's destination list.
func (r *Request) destinations() []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ID, len(r.dest))
	copy(out, r.dest)
	return out
}

func (r *Request) isDestination(id types.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dest {
		if d == id {
			return true
		}
	}
	return false
}

// pendingDestinations returns destinations not yet acked (or pruned).
func (r *Request) pendingDestinations() []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ID
	for _, d := range r.dest {
		if !r.acked[d] {
			out = append(out, d)
		}
	}
	return out
}

// resolve marks id as resolved (acked or pruned as unreachable), returning
// true if every destination is now resolved and false for a duplicate, a
// non-destination id, or a request already complete.
func (r *Request) resolve(id types.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, d := range r.dest {
		if d == id {
			found = true
			break
		}
	}
	if !found || r.acked[id] {
		return false
	}
	r.acked[id] = true
	r.ackedCount++
	return r.ackedCount == len(r.dest)
}

func (r *Request) dueForRetransmit(retryMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := nowMs()-r.xmitMs > retryMs
	if due {
		r.xmitMs = nowMs()
		r.retryMs *= 2
	}
	return due
}

func (r *Request) retryInterval() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryMs
}

// finishOnce runs fn exactly once across every caller racing to complete
// this request, whether via ack-driven completion or deadline timeout.
func (r *Request) finishOnce(fn func()) bool {
	if !atomic.CompareAndSwapInt32(&r.finished, 0, 1) {
		return false
	}
	fn()
	return true
}

func nowMs() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

const numShards = 32

// requestTable is the process-wide rw_request hash, sharded by
// xxhash(namespace-id, digest) the way hyp3rd-hypercache's ConcurrentMap
// shards by a hashed key, generalized here from fnv/string keys to
// xxhash/uint32 keys since requestKey isn't naturally a string.
type requestTable struct {
	shards [numShards]*shard
}

type shard struct {
	mu sync.Mutex
	m  map[requestKey]*Request
}

func newRequestTable() *requestTable {
	t := &requestTable{}
	for i := range t.shards {
		t.shards[i] = &shard{m: make(map[requestKey]*Request)}
	}
	return t
}

func (t *requestTable) shardFor(key requestKey) *shard {
	h := xxhash.New()
	var nsBuf [4]byte
	nsBuf[0] = byte(key.nsID)
	nsBuf[1] = byte(key.nsID >> 8)
	nsBuf[2] = byte(key.nsID >> 16)
	nsBuf[3] = byte(key.nsID >> 24)
	h.Write(nsBuf[:])
	h.Write(key.digest[:])
	return t.shards[h.Sum64()%uint64(len(t.shards))]
}

func (t *requestTable) put(key requestKey, r *Request) {
	s := t.shardFor(key)
	s.mu.Lock()
	s.m[key] = r
	s.mu.Unlock()
}

func (t *requestTable) get(key requestKey) *Request {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

func (t *requestTable) delete(key requestKey) {
	s := t.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// forEach invokes fn for a snapshot of every (key, request) pair currently
// in the table, shard by shard. fn must not mutate the table.
func (t *requestTable) forEach(fn func(requestKey, *Request)) {
	for _, s := range t.shards {
		s.mu.Lock()
		snapshot := make(map[requestKey]*Request, len(s.m))
		for k, v := range s.m {
			snapshot[k] = v
		}
		s.mu.Unlock()

		for k, v := range snapshot {
			fn(k, v)
		}
	}
}
