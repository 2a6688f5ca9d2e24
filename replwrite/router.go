package replwrite

import (
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// Router combines a Writer and a Receiver behind one fabric.Handler for
// KindRW: a node that both originates replicated writes (needs its
// WRITE_ACKs routed back) and receives them as a replica (needs WRITE
// routed in) registers exactly one handler per fabric.Transport.RegisterHandler
// call, the same constraint migrate.Router exists to satisfy.
type Router struct {
	Writer   *Writer
	Receiver *Receiver
}

func (r *Router) HandleMessage(from types.ID, msg *fabric.Message) error {
	op, _ := msg.GetUint32(fabric.FieldOp)
	switch Op(op) {
	case OpWrite:
		if r.Receiver == nil {
			return nil
		}
		return r.Receiver.HandleMessage(from, msg)
	default:
		if r.Writer == nil {
			return nil
		}
		return r.Writer.HandleMessage(from, msg)
	}
}
