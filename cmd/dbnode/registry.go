package main

import (
	"sync"

	"github.com/absolute8511/aerospike-server/partition"
)

// partitionRegistry owns every partition this process serves for one
// namespace, satisfying both migrate.Registry and replwrite.Registry
// (both are the same (namespace, id) -> (*partition.Partition, bool) shape,
// so one concrete type serves both packages).
type partitionRegistry struct {
	mu         sync.RWMutex
	namespace  string
	partitions map[uint32]*partition.Partition
}

// newPartitionRegistry builds n partitions for namespace, each already
// transitioned to Sync so a single demo node is immediately a valid
// migration/replicated-write destination and source.
func newPartitionRegistry(namespace string, n uint32) *partitionRegistry {
	r := &partitionRegistry{
		namespace:  namespace,
		partitions: make(map[uint32]*partition.Partition, n),
	}
	for id := uint32(0); id < n; id++ {
		p := partition.New(namespace, id)
		p.SetState(partition.Absent)
		p.SetState(partition.Desync)
		p.SetState(partition.Sync)
		r.partitions[id] = p
	}
	return r
}

func (r *partitionRegistry) Partition(namespace string, id uint32) (*partition.Partition, bool) {
	if namespace != r.namespace {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[id]
	return p, ok
}

// All returns every partition this registry owns.
func (r *partitionRegistry) All() []*partition.Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*partition.Partition, 0, len(r.partitions))
	for _, p := range r.partitions {
		out = append(out, p)
	}
	return out
}
