package replwrite

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/partition"
	"github.com/absolute8511/aerospike-server/pickle"
	"github.com/absolute8511/aerospike-server/pkg/testutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/record"
	"github.com/absolute8511/aerospike-server/storageref"
	"github.com/absolute8511/aerospike-server/truncate"
)

type fakeRegistry struct {
	p *partition.Partition
}

func (r *fakeRegistry) Partition(namespace string, id uint32) (*partition.Partition, bool) {
	if namespace == r.p.Namespace() && id == r.p.ID() {
		return r.p, true
	}
	return nil, false
}

func syncPartition(namespace string, id uint32) *partition.Partition {
	p := partition.New(namespace, id)
	p.SetState(partition.Absent)
	p.SetState(partition.Desync)
	p.SetState(partition.Sync)
	return p
}

func pair(t *testing.T, selfID types.ID, receiverHandler fabric.Handler) (*fabric.Transport, func()) {
	tr := fabric.NewTransport(selfID)
	if receiverHandler != nil {
		tr.RegisterHandler(fabric.KindRW, receiverHandler)
	}
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(tr.HTTPHandler())
	return tr, func() {
		srv.Close()
		tr.Stop()
	}
}

// TestReplicatedWriteCompletesOnBothAcks mirrors a healthy replicated write
// with two destinations: the master's CompletionCB fires exactly once, after
// both replicas have acked OK, and the replica's tree holds the write.
func TestReplicatedWriteCompletesOnBothAcks(t *testing.T) {
	dstPartitionA := syncPartition("test", 3)
	dstPartitionB := syncPartition("test", 3)

	storeA := storageref.NewFake(1 << 20)
	storeB := storageref.NewFake(1 << 20)

	recvA := NewReceiver(nil, &fakeRegistry{p: dstPartitionA}, storeA, nil)
	recvB := NewReceiver(nil, &fakeRegistry{p: dstPartitionB}, storeB, nil)

	trA, closeA := pair(t, types.ID(2), recvA)
	defer closeA()
	trB, closeB := pair(t, types.ID(3), recvB)
	defer closeB()

	trMaster := fabric.NewTransport(types.ID(1))
	if err := trMaster.Start(); err != nil {
		t.Fatal(err)
	}
	defer trMaster.Stop()
	masterSrv := httptest.NewServer(trMaster.HTTPHandler())
	defer masterSrv.Close()

	aSrv := httptest.NewServer(trA.HTTPHandler())
	defer aSrv.Close()
	bSrv := httptest.NewServer(trB.HTTPHandler())
	defer bSrv.Close()

	// Receivers need to ack back to the master, so wire the real addresses.
	recvA.transport = trA
	recvB.transport = trB

	trMaster.AddPeer(types.ID(2), types.MustNewURLs([]string{aSrv.URL}))
	trMaster.AddPeer(types.ID(3), types.MustNewURLs([]string{bSrv.URL}))
	trA.AddPeer(types.ID(1), types.MustNewURLs([]string{masterSrv.URL}))
	trB.AddPeer(types.ID(1), types.MustNewURLs([]string{masterSrv.URL}))

	cfg := defaultWriterConfig()
	cfg.RetryIntervalMs = 20
	w := NewWriter(trMaster, types.ID(1), cfg)
	defer w.Stop()
	trMaster.RegisterHandler(fabric.KindRW, w)

	var digest record.Digest
	digest[0] = 0x11

	var mu sync.Mutex
	var gotResult Result
	var completed bool
	done := make(chan struct{})

	w.Send(WriteParams{
		Namespace:   "test",
		NSID:        1,
		PartitionID: 3,
		Digest:      digest,
		Generation:  1,
		LastUpdateTime: 500,
		Pickle: pickle.Encode([]record.Bin{
			{Name: "v", Type: record.ParticleInteger, Value: []byte{9}},
		}),
		Destinations: []types.ID{types.ID(2), types.ID(3)},
		Deadline:     time.Now().Add(5 * time.Second),
		CompletionCB: func(r Result) {
			mu.Lock()
			gotResult = r
			completed = true
			mu.Unlock()
			close(done)
		},
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		testutil.FatalStack(t, "replicated write did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if !completed {
		t.Fatal("completion callback never ran")
	}
	if gotResult != ResultOK {
		t.Fatalf("result = %v, want ResultOK", gotResult)
	}

	for _, p := range []*partition.Partition{dstPartitionA, dstPartitionB} {
		r := p.Reserve()
		got, ok := r.Tree.Get(digest)
		r.Release()
		if !ok {
			t.Fatal("expected replica to hold the written record")
		}
		if len(got.Bins) != 1 || got.Bins[0].Name != "v" {
			t.Fatalf("replicated record mismatch: %+v", got)
		}
	}

	for _, s := range []*storageref.Fake{storeA, storeB} {
		if _, ok := s.Get("test", digest); !ok {
			t.Fatal("expected replica's durable store to hold the written record")
		}
	}
}

// TestReplicatedWriteTimesOutWhenADestinationNeverAcks mirrors a replica
// that never acks within the deadline: the timeout callback fires exactly
// once and the completion callback never runs.
func TestReplicatedWriteTimesOutWhenADestinationNeverAcks(t *testing.T) {
	silentPeer := fabric.NewTransport(types.ID(2))
	if err := silentPeer.Start(); err != nil {
		t.Fatal(err)
	}
	defer silentPeer.Stop()
	peerSrv := httptest.NewServer(silentPeer.HTTPHandler())
	defer peerSrv.Close()

	trMaster := fabric.NewTransport(types.ID(1))
	if err := trMaster.Start(); err != nil {
		t.Fatal(err)
	}
	defer trMaster.Stop()
	trMaster.AddPeer(types.ID(2), types.MustNewURLs([]string{peerSrv.URL}))

	cfg := defaultWriterConfig()
	cfg.RetryIntervalMs = 10
	w := NewWriter(trMaster, types.ID(1), cfg)
	defer w.Stop()

	var digest record.Digest
	digest[0] = 0x22

	var mu sync.Mutex
	var timedOut, completed bool
	done := make(chan struct{})

	w.Send(WriteParams{
		Namespace:    "test",
		NSID:         1,
		PartitionID:  3,
		Digest:       digest,
		Pickle:       pickle.Encode(nil),
		Destinations: []types.ID{types.ID(2)},
		Deadline:     time.Now().Add(100 * time.Millisecond),
		CompletionCB: func(Result) {
			mu.Lock()
			completed = true
			mu.Unlock()
		},
		TimeoutCB: func() {
			mu.Lock()
			timedOut = true
			mu.Unlock()
			close(done)
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		testutil.FatalStack(t, "timeout callback never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if !timedOut {
		t.Fatal("expected timeout callback to run")
	}
	if completed {
		t.Fatal("completion callback should not run on a timed-out request")
	}
}

// TestReceiverRejectsWriteOutOfSpace mirrors a replica whose storage is at
// quota: the receiver acks ResultOutOfSpace and leaves the tree untouched.
func TestReceiverRejectsWriteOutOfSpace(t *testing.T) {
	p := syncPartition("test", 5)
	capacity := storageref.NewFake(1)

	tr := fabric.NewTransport(types.ID(2))
	recv := NewReceiver(tr, &fakeRegistry{p: p}, capacity, nil)

	var digest record.Digest
	digest[0] = 0x33

	msg := fabric.NewMessage(fabric.KindRW)
	msg.SetUint32(fabric.FieldOp, uint32(OpWrite))
	msg.SetUint32(fabric.FieldNSID, 1)
	msg.SetString(fabric.FieldNamespace, "test")
	msg.SetUint32(fabric.FieldPartition, 5)
	msg.SetBytes(fabric.FieldDigest, digest[:])
	msg.SetUint32(fabric.FieldTID, 42)
	msg.SetBytes(fabric.FieldRecord, pickle.Encode([]record.Bin{
		{Name: "v", Type: record.ParticleInteger, Value: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}))

	// The ack send fails since no peer is registered on tr; that's fine,
	// this test only cares about the local apply decision.
	_ = recv.HandleMessage(types.ID(1), msg)

	r := p.Reserve()
	_, ok := r.Tree.Get(digest)
	r.Release()
	if ok {
		t.Fatal("expected out-of-space write to leave no record behind")
	}
}

// TestReceiverRejectsCreateUnderPendingTruncate mirrors a write landing on
// a set that was truncated after the write's last-update-time: the
// receiver acks ResultForbidden and leaves the tree untouched.
func TestReceiverRejectsCreateUnderPendingTruncate(t *testing.T) {
	p := syncPartition("test", 6)
	tbl := truncate.New()
	tbl.Truncate("test", "myset", 1000, 0)

	tr := fabric.NewTransport(types.ID(2))
	recv := NewReceiver(tr, &fakeRegistry{p: p}, nil, tbl)

	var digest record.Digest
	digest[0] = 0x44

	msg := fabric.NewMessage(fabric.KindRW)
	msg.SetUint32(fabric.FieldOp, uint32(OpWrite))
	msg.SetUint32(fabric.FieldNSID, 1)
	msg.SetString(fabric.FieldNamespace, "test")
	msg.SetString(fabric.FieldSetName, "myset")
	msg.SetUint32(fabric.FieldPartition, 6)
	msg.SetBytes(fabric.FieldDigest, digest[:])
	msg.SetUint32(fabric.FieldTID, 7)
	msg.SetUint64(fabric.FieldLastUpdateTime, 500) // at or before the truncate threshold
	msg.SetBytes(fabric.FieldRecord, pickle.Encode([]record.Bin{
		{Name: "v", Type: record.ParticleInteger, Value: []byte{1}},
	}))

	_ = recv.HandleMessage(types.ID(1), msg)

	r := p.Reserve()
	_, ok := r.Tree.Get(digest)
	r.Release()
	if ok {
		t.Fatal("expected truncated write to leave no record behind")
	}
}

// TestRespondOnMasterCompletionSuppressesCallbacks mirrors a write sent
// with RespondOnMasterCompletion set: the caller has already answered the
// client at send time, so neither CompletionCB on ack nor TimeoutCB on
// expiry should ever run.
func TestRespondOnMasterCompletionSuppressesCallbacks(t *testing.T) {
	dstPartition := syncPartition("test", 4)
	recv := NewReceiver(nil, &fakeRegistry{p: dstPartition}, nil, nil)

	trDst, closeDst := pair(t, types.ID(2), recv)
	defer closeDst()

	trMaster := fabric.NewTransport(types.ID(1))
	if err := trMaster.Start(); err != nil {
		t.Fatal(err)
	}
	defer trMaster.Stop()
	masterSrv := httptest.NewServer(trMaster.HTTPHandler())
	defer masterSrv.Close()
	dstSrv := httptest.NewServer(trDst.HTTPHandler())
	defer dstSrv.Close()

	recv.transport = trDst
	trMaster.AddPeer(types.ID(2), types.MustNewURLs([]string{dstSrv.URL}))
	trDst.AddPeer(types.ID(1), types.MustNewURLs([]string{masterSrv.URL}))

	cfg := defaultWriterConfig()
	cfg.RetryIntervalMs = 20
	w := NewWriter(trMaster, types.ID(1), cfg)
	defer w.Stop()
	trMaster.RegisterHandler(fabric.KindRW, w)

	var digest record.Digest
	digest[0] = 0x55

	var mu sync.Mutex
	var calledBack bool

	w.Send(WriteParams{
		Namespace:      "test",
		NSID:           1,
		PartitionID:    4,
		Digest:         digest,
		Generation:     1,
		LastUpdateTime: 500,
		Pickle: pickle.Encode([]record.Bin{
			{Name: "v", Type: record.ParticleInteger, Value: []byte{9}},
		}),
		Destinations:              []types.ID{types.ID(2)},
		Deadline:                  time.Now().Add(500 * time.Millisecond),
		RespondOnMasterCompletion: true,
		CompletionCB: func(Result) {
			mu.Lock()
			calledBack = true
			mu.Unlock()
		},
		TimeoutCB: func() {
			mu.Lock()
			calledBack = true
			mu.Unlock()
		},
	})

	// Give the ack time to arrive and the deadline time to pass, then
	// confirm neither callback ever fired.
	time.Sleep(700 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calledBack {
		t.Fatal("expected no callback to run in respond-on-master-completion mode")
	}

	r := dstPartition.Reserve()
	_, ok := r.Tree.Get(digest)
	r.Release()
	if !ok {
		t.Fatal("expected replica to still hold the written record")
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []record.Digest
}

func (n *recordingNotifier) Notify(namespace string, d record.Digest) {
	n.mu.Lock()
	n.calls = append(n.calls, d)
	n.mu.Unlock()
}

// TestApplyWriteFiresNotifierOnlyWhenXDRFlagged mirrors the external-
// shipping hook: a write carrying InfoXDR notifies, and one that doesn't
// never does.
func TestApplyWriteFiresNotifierOnlyWhenXDRFlagged(t *testing.T) {
	p := syncPartition("test", 10)
	tr := fabric.NewTransport(types.ID(2))
	recv := NewReceiver(tr, &fakeRegistry{p: p}, nil, nil)
	n := &recordingNotifier{}
	recv.SetNotifier(n)

	send := func(digest record.Digest, info uint32) {
		msg := fabric.NewMessage(fabric.KindRW)
		msg.SetUint32(fabric.FieldOp, uint32(OpWrite))
		msg.SetUint32(fabric.FieldNSID, 1)
		msg.SetString(fabric.FieldNamespace, "test")
		msg.SetUint32(fabric.FieldPartition, 10)
		msg.SetBytes(fabric.FieldDigest, digest[:])
		msg.SetUint32(fabric.FieldTID, 1)
		msg.SetUint32(fabric.FieldInfo, info)
		msg.SetBytes(fabric.FieldRecord, pickle.Encode([]record.Bin{
			{Name: "v", Type: record.ParticleInteger, Value: []byte{1}},
		}))
		_ = recv.HandleMessage(types.ID(1), msg)
	}

	var plain, xdr record.Digest
	plain[0] = 0x55
	xdr[0] = 0x66

	send(plain, 0)
	send(xdr, InfoXDR)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) != 1 || n.calls[0] != xdr {
		t.Fatalf("notifier calls = %v, want exactly one call for the XDR-flagged digest", n.calls)
	}
}
