package migrate

import (
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// Router is the single fabric.Handler a node registers for KindMigrate: one
// physical transport carries both the START/INSERT/DONE request side (to
// the Immigrator) and the START_ACK/INSERT_ACK/DONE_ACK response side (to
// the Emigrator), since a node is routinely both an emigration source and
// an immigration destination at once.
type Router struct {
	Emigrator  *Emigrator
	Immigrator *Immigrator
}

func (r *Router) HandleMessage(from types.ID, msg *fabric.Message) error {
	op, _ := msg.GetUint32(fabric.FieldOp)
	switch Op(op) {
	case OpStart, OpInsert, OpDone:
		if r.Immigrator == nil {
			return nil
		}
		return r.Immigrator.HandleMessage(from, msg)
	default:
		if r.Emigrator == nil {
			return nil
		}
		return r.Emigrator.HandleMessage(from, msg)
	}
}
