package replwrite

import (
	"sync"
	"time"

	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/pkg/idutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/record"
)

// WriterConfig holds the master path's tunables.
type WriterConfig struct {
	RetryIntervalMs int64
	DefaultDeadline time.Duration
}

func defaultWriterConfig() WriterConfig {
	return WriterConfig{RetryIntervalMs: 10, DefaultDeadline: time.Second}
}

// Writer drives the master side of replicated writes: build, send, track
// acks, retransmit, and complete exactly once via ack or timeout.
type Writer struct {
	transport *fabric.Transport
	self      types.ID
	cfg       WriterConfig
	ids       *idutil.Generator

	requests *requestTable

	stopc chan struct{}
	wg    sync.WaitGroup
}

// NewWriter starts a Writer and its retransmit/deadline goroutines.
func NewWriter(transport *fabric.Transport, self types.ID, cfg WriterConfig) *Writer {
	w := &Writer{
		transport: transport,
		self:      self,
		cfg:       cfg,
		ids:       idutil.NewGenerator(uint16(self), time.Now()),
		requests:  newRequestTable(),
		stopc:     make(chan struct{}),
	}
	w.wg.Add(2)
	go w.retransmitLoop()
	go w.deadlineLoop()
	return w
}

func (w *Writer) Stop() {
	close(w.stopc)
	w.wg.Wait()
}

// WriteParams is everything the caller has already decided before handing
// off to the Writer: the mutation has been applied locally and pickled.
type WriteParams struct {
	Namespace      string
	NSID           uint32
	PartitionID    uint32
	Digest         record.Digest
	Generation     uint16
	VoidTime       uint32
	LastUpdateTime uint64
	SetName        string
	Key            []byte
	Info           uint32
	Pickle         []byte

	Destinations []types.ID
	Deadline     time.Time // zero selects cfg.DefaultDeadline from now

	RespondOnMasterCompletion bool
	CompletionCB              func(Result)
	TimeoutCB                 func()
}

// Send builds the outbound WRITE message, fans it to every destination,
// and registers the request for ack tracking and retransmission.
func (w *Writer) Send(p WriteParams) *Request {
	tid := uint32(w.ids.Next())

	deadline := p.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(w.cfg.DefaultDeadline)
	}

	req := newRequest(p.Destinations, w.cfg.RetryIntervalMs)
	req.NSID = p.NSID
	req.Namespace = p.Namespace
	req.PartitionID = p.PartitionID
	req.Digest = p.Digest
	req.TID = tid
	req.Generation = p.Generation
	req.VoidTime = p.VoidTime
	req.LastUpdateTime = p.LastUpdateTime
	req.SetName = p.SetName
	req.Key = p.Key
	req.Info = p.Info
	req.Pickle = p.Pickle
	req.Deadline = deadline
	req.RespondOnMasterCompletion = p.RespondOnMasterCompletion
	req.CompletionCB = p.CompletionCB
	req.TimeoutCB = p.TimeoutCB

	key := requestKey{nsID: p.NSID, digest: p.Digest}
	w.requests.put(key, req)

	msg := w.buildWriteMessage(req)
	for _, dest := range p.Destinations {
		w.transport.Send(dest, fabric.High, msg)
	}

	return req
}

func (w *Writer) buildWriteMessage(req *Request) *fabric.Message {
	msg := fabric.NewMessage(fabric.KindRW)
	msg.SetUint32(fabric.FieldOp, uint32(OpWrite))
	msg.SetUint32(fabric.FieldNSID, req.NSID)
	msg.SetString(fabric.FieldNamespace, req.Namespace)
	msg.SetUint32(fabric.FieldPartition, req.PartitionID)
	msg.SetBytes(fabric.FieldDigest, req.Digest[:])
	msg.SetUint32(fabric.FieldTID, req.TID)
	msg.SetUint32(fabric.FieldGeneration, uint32(req.Generation))
	msg.SetUint32(fabric.FieldVoidTime, req.VoidTime)
	msg.SetUint64(fabric.FieldLastUpdateTime, req.LastUpdateTime)
	msg.SetString(fabric.FieldSetName, req.SetName)
	if req.Key != nil {
		msg.SetBytes(fabric.FieldKey, req.Key)
	}
	msg.SetUint32(fabric.FieldInfo, req.Info)
	msg.SetBytes(fabric.FieldRecord, req.Pickle)
	return msg
}

// HandleMessage implements fabric.Handler for inbound WRITE_ACKs on the
// master.
func (w *Writer) HandleMessage(from types.ID, msg *fabric.Message) error {
	op, _ := msg.GetUint32(fabric.FieldOp)
	if Op(op) != OpWriteAck {
		return nil
	}

	nsID, _ := msg.GetUint32(fabric.FieldNSID)
	digestBytes, _ := msg.GetBytes(fabric.FieldDigest)
	tid, _ := msg.GetUint32(fabric.FieldTID)
	resultCode, _ := msg.GetUint32(fabric.FieldResult)

	var d record.Digest
	copy(d[:], digestBytes)

	key := requestKey{nsID: nsID, digest: d}
	req := w.requests.get(key)
	if req == nil {
		return nil
	}
	if req.TID != tid {
		return nil
	}
	if !req.isDestination(from) {
		return nil
	}
	if Result(resultCode) == ResultClusterKeyMismatch {
		return nil
	}

	if req.resolve(from) {
		w.complete(key, req, Result(resultCode))
	}
	return nil
}

// complete ends a request exactly once, whether driven by a resolving ack
// or by retransmitOnce pruning an unhealthy destination. In
// respond-on-master-completion mode the caller already answered the client
// when the local write landed, so CompletionCB is a no-op here; the request
// still had to live until now purely to collect replica acks.
func (w *Writer) complete(key requestKey, req *Request, result Result) {
	req.finishOnce(func() {
		w.requests.delete(key)
		if req.CompletionCB != nil && !req.RespondOnMasterCompletion {
			req.CompletionCB(result)
		}
	})
}

// retransmitLoop walks the request table, resending to pending
// destinations past their retry interval and pruning destinations the
// transport's health prober now considers unreachable.
func (w *Writer) retransmitLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Duration(w.cfg.RetryIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopc:
			return
		case <-ticker.C:
			w.retransmitOnce()
		}
	}
}

func (w *Writer) retransmitOnce() {
	w.requests.forEach(func(key requestKey, req *Request) {
		for _, dest := range req.pendingDestinations() {
			if !w.transport.Healthy(dest) {
				if req.resolve(dest) {
					w.complete(key, req, ResultOK)
				}
				continue
			}
		}

		if !req.dueForRetransmit(req.retryInterval()) {
			return
		}

		msg := w.buildWriteMessage(req)
		for _, dest := range req.pendingDestinations() {
			w.transport.Send(dest, fabric.High, msg)
		}
	})
}

// deadlineLoop fires each request's timeout callback exactly once if its
// deadline passes before every destination resolves.
func (w *Writer) deadlineLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopc:
			return
		case <-ticker.C:
			now := time.Now()
			w.requests.forEach(func(key requestKey, req *Request) {
				if now.Before(req.Deadline) {
					return
				}
				req.finishOnce(func() {
					w.requests.delete(key)
					// Same reasoning as complete: the client already has
					// its answer in this mode, so a late timeout is not
					// news to anyone.
					if req.TimeoutCB != nil && !req.RespondOnMasterCompletion {
						req.TimeoutCB()
					}
				})
			})
		}
	}
}
