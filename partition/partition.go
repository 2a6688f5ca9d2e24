// Package partition implements the partition reservation component: a
// short-lived handle pinning a (namespace, partition) pair against
// concurrent rebalance, exposing its index tree and a snapshot of its
// current state, plus the state graph a partition is allowed to move
// through.
package partition

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/absolute8511/aerospike-server/errutil"
)

// Partition is one shard of a namespace: the unit of migration and
// replication.
type Partition struct {
	mu sync.RWMutex

	namespace string
	id        uint32
	tree      Tree
	state     State
	clusterKey uint64

	refs int32
}

// New returns a Partition in state Undef with a fresh reference tree.
func New(namespace string, id uint32) *Partition {
	return &Partition{
		namespace: namespace,
		id:        id,
		tree:      NewTree(),
		state:     Undef,
	}
}

func (p *Partition) Namespace() string { return p.namespace }
func (p *Partition) ID() uint32        { return p.id }

// State returns the partition's current state.
func (p *Partition) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the partition to 'to', rejecting any move not in
// the state graph. Only rebalance logic should call this directly;
// everything else goes through Reserve.
func (p *Partition) SetState(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !CanTransition(p.state, to) {
		return fmt.Errorf("%w: %s -> %s", errutil.ErrInvalidState, p.state, to)
	}
	p.state = to
	return nil
}

// ClusterKey returns the cluster key the partition last observed.
func (p *Partition) ClusterKey() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clusterKey
}

// SetClusterKey updates the locally observed cluster key, typically driven
// by the membership subsystem on every composition change.
func (p *Partition) SetClusterKey(ck uint64) {
	p.mu.Lock()
	p.clusterKey = ck
	p.mu.Unlock()
}

// RefCount returns the number of outstanding reservations. Rebalance must
// wait for this to reach zero before moving the partition off this node.
func (p *Partition) RefCount() int32 {
	return atomic.LoadInt32(&p.refs)
}

// Reserve is infallible: it always returns a Reservation, which callers
// must inspect via its State field before treating the tree as usable.
// Sync and Zombie are valid read sources for emigration; Absent and Undef
// are not.
func (p *Partition) Reserve() *Reservation {
	atomic.AddInt32(&p.refs, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	return &Reservation{
		partition:   p,
		Namespace:   p.namespace,
		PartitionID: p.id,
		Tree:        p.tree,
		State:       p.state,
		ClusterKey:  p.clusterKey,
	}
}

// Reservation is a scoped handle pinning a partition against concurrent
// rebalance. Every successful Reserve must be matched by exactly one
// Release on every exit path, including panics.
type Reservation struct {
	partition *Partition

	Namespace   string
	PartitionID uint32
	Tree        Tree
	State       State
	ClusterKey  uint64

	released int32
}

// Release returns the reservation's reference on the underlying partition.
// Calling Release more than once for the same Reserve is a programming
// error and panics with a diagnostic, per this repo's fatal-invariant
// policy for double-release.
func (r *Reservation) Release() {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		panic(fmt.Sprintf("partition: reservation for %s/%d released more than once", r.Namespace, r.PartitionID))
	}
	atomic.AddInt32(&r.partition.refs, -1)
}

// Readable reports whether the reservation's snapshotted state is a valid
// source for emigration reads (Sync or Zombie).
func (r *Reservation) Readable() bool {
	return r.State == Sync || r.State == Zombie
}
