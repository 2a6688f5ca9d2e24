package replwrite

import (
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pickle"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/record"
	"github.com/absolute8511/aerospike-server/storageref"
	"github.com/absolute8511/aerospike-server/truncate"
)

// Registry looks up a partition by (namespace, id) so the receiver can
// reserve one without owning partition lifecycle itself.
type Registry interface {
	Partition(namespace string, id uint32) (*partition.Partition, bool)
}

// Store is the durable side of an accepted write: the subset of
// storageref.Store this package needs, narrow enough for tests to satisfy
// with a fake that only tracks quota.
type Store interface {
	storageref.Capacity
	Put(namespace string, d record.Digest, pickle []byte) error
	Delete(namespace string, d record.Digest)
}

// Notifier fires when an applied write is flagged for external shipping.
// The real cross-DC sink lives outside this package; Notify is the hook it
// would attach to.
type Notifier interface {
	Notify(namespace string, d record.Digest)
}

// Receiver runs the replica side of a replicated write: apply under the
// merge policy, or drop a tombstone, and ack the outcome back to the
// master. Unlike migrate's INSERT, a WRITE_ACK always carries a Result.
type Receiver struct {
	transport *fabric.Transport
	registry  Registry
	store     Store
	truncate  *truncate.Table
	notifier  Notifier
}

// NewReceiver builds a Receiver. store may be nil, in which case an applied
// write only ever lands in the in-memory tree and space is never rejected.
// truncateTable may be nil, in which case no write is ever rejected as
// truncated.
func NewReceiver(transport *fabric.Transport, registry Registry, store Store, truncateTable *truncate.Table) *Receiver {
	return &Receiver{transport: transport, registry: registry, store: store, truncate: truncateTable}
}

// SetNotifier installs the external-shipping hook. Nil (the default)
// leaves InfoXDR-flagged writes unshipped.
func (rv *Receiver) SetNotifier(n Notifier) { rv.notifier = n }

// HandleMessage implements fabric.Handler for inbound WRITE messages.
func (rv *Receiver) HandleMessage(from types.ID, msg *fabric.Message) error {
	op, _ := msg.GetUint32(fabric.FieldOp)
	if Op(op) != OpWrite {
		return nil
	}

	nsID, _ := msg.GetUint32(fabric.FieldNSID)
	namespace, _ := msg.GetString(fabric.FieldNamespace)
	tid, _ := msg.GetUint32(fabric.FieldTID)
	digestBytes, _ := msg.GetBytes(fabric.FieldDigest)
	var d record.Digest
	copy(d[:], digestBytes)

	partitionID, _ := msg.GetUint32(fabric.FieldPartition)

	p, found := rv.registry.Partition(namespace, partitionID)
	if !found {
		return rv.ack(from, nsID, d, tid, ResultNotFound)
	}

	r := p.Reserve()
	defer r.Release()

	// replwrite's wire shape carries no explicit cluster key, so the local
	// partition's own state stands in as the fencing signal migrate gets
	// from an explicit field: a partition this node doesn't currently hold
	// sync or zombie is not a valid replica-write destination.
	if !r.Readable() {
		return rv.ack(from, nsID, d, tid, ResultClusterKeyMismatch)
	}

	setName, _ := msg.GetString(fabric.FieldSetName)
	lut, _ := msg.GetUint64(fabric.FieldLastUpdateTime)

	result := rv.applyWrite(r, namespace, setName, lut, d, msg)
	return rv.ack(from, nsID, d, tid, result)
}

// applyWrite runs the merge policy against the reserved partition's tree:
// truncation gates a creating write before storage space is checked, void-
// time is clamped by whatever ceiling truncation implies, and the larger
// (last-update-time, generation) pair always wins. An applied (not stale)
// write is persisted through the storage layer before the tree is updated,
// so a restart doesn't lose it.
func (rv *Receiver) applyWrite(r *partition.Reservation, namespace, setName string, lut uint64, d record.Digest, msg *fabric.Message) Result {
	pickleBuf, _ := msg.GetBytes(fabric.FieldRecord)

	isDrop, err := pickle.IsDrop(pickleBuf)
	if err != nil {
		return ResultMalformed
	}
	if isDrop {
		r.Tree.Delete(d)
		if rv.store != nil {
			rv.store.Delete(namespace, d)
		}
		return ResultOK
	}

	existing, exists := r.Tree.Get(d)
	if !exists && rv.truncate.IsTruncated(namespace, setName, lut) {
		return ResultForbidden
	}

	bins, err := pickle.Decode(pickleBuf)
	if err != nil {
		return ResultMalformed
	}

	gen, _ := msg.GetUint32(fabric.FieldGeneration)
	voidTime, _ := msg.GetUint32(fabric.FieldVoidTime)

	incoming := &record.Entry{
		Generation:     uint16(gen),
		VoidTime:       rv.truncate.ClampVoidTime(namespace, setName, voidTime),
		LastUpdateTime: lut,
		SetName:        setName,
		Bins:           bins,
	}

	if exists && !incoming.Newer(existing) {
		return ResultOK
	}

	if rv.store != nil {
		if err := rv.store.Put(namespace, d, pickleBuf); err != nil {
			return ResultOutOfSpace
		}
	}
	r.Tree.Put(d, incoming)

	if info, _ := msg.GetUint32(fabric.FieldInfo); info&InfoXDR != 0 && rv.notifier != nil {
		rv.notifier.Notify(namespace, d)
	}
	return ResultOK
}

func (rv *Receiver) ack(to types.ID, nsID uint32, d record.Digest, tid uint32, result Result) error {
	reply := fabric.NewMessage(fabric.KindRW)
	reply.SetUint32(fabric.FieldOp, uint32(OpWriteAck))
	reply.SetUint32(fabric.FieldNSID, nsID)
	reply.SetBytes(fabric.FieldDigest, d[:])
	reply.SetUint32(fabric.FieldTID, tid)
	reply.SetUint32(fabric.FieldResult, uint32(result))
	return rv.transport.Send(to, fabric.High, reply)
}
