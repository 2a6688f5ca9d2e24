package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/absolute8511/aerospike-server/config"
	"github.com/absolute8511/aerospike-server/pickle"
	"github.com/absolute8511/aerospike-server/pkg/netutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
	"github.com/absolute8511/aerospike-server/record"
	"github.com/absolute8511/aerospike-server/replwrite"
)

func pickleFor(name string, value []byte) []byte {
	return pickle.Encode([]record.Bin{{Name: name, Type: record.ParticleBlob, Value: value}})
}

func init() {
	xlog.SetGlobalMaxLogLevel(xlog.INFO)
}

func twoNodeConfigs(t *testing.T) (*config.Config, *config.Config) {
	ports, err := netutil.GetFreeTCPPorts(2)
	if err != nil {
		t.Fatal(err)
	}

	peerURLs := []string{
		fmt.Sprintf("http://localhost:%d", ports[0]),
		fmt.Sprintf("http://localhost:%d", ports[1]),
	}

	cfg1 := config.Default()
	cfg1.NodeID = 1
	cfg1.PeerURL = peerURLs[0]
	cfg1.PeerIDs = []uint64{1, 2}
	cfg1.PeerURLs = peerURLs
	cfg1.Namespace = "test"
	cfg1.NumPartitions = 4
	cfg1.MigrateRetransmitStartDoneMs = 20
	cfg1.MigrateRetransmitMs = 20

	cfg2 := config.Default()
	cfg2.NodeID = 2
	cfg2.PeerURL = peerURLs[1]
	cfg2.PeerIDs = []uint64{1, 2}
	cfg2.PeerURLs = peerURLs
	cfg2.Namespace = "test"
	cfg2.NumPartitions = 4
	cfg2.MigrateRetransmitStartDoneMs = 20
	cfg2.MigrateRetransmitMs = 20

	return cfg1, cfg2
}

// TestTwoNodesMigratePartition runs two real dbnode processes in one test
// process and migrates a single partition's one record from node 1 to node
// 2 over real HTTP fabric transports, end to end through the same wiring
// main() uses.
func TestTwoNodesMigratePartition(t *testing.T) {
	cfg1, cfg2 := twoNodeConfigs(t)

	n1 := startNode(cfg1)
	defer n1.stop()
	n2 := startNode(cfg2)
	defer n2.stop()

	time.Sleep(50 * time.Millisecond)

	srcPartition, ok := n1.registry.Partition("test", 0)
	if !ok {
		t.Fatal("node 1 missing partition 0")
	}

	var digest record.Digest
	digest[0] = 0x42
	seed := srcPartition.Reserve()
	seed.Tree.Put(digest, &record.Entry{
		Generation:     1,
		LastUpdateTime: 10,
		Bins:           []record.Bin{{Name: "v", Type: record.ParticleInteger, Value: []byte{7}}},
	})
	seed.Release()

	sess, err := n1.emigrator.Submit(srcPartition, types.ID(cfg2.NodeID))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snapshot := n1.emigrator.Sessions()
		done := len(snapshot) == 0
		for _, s := range snapshot {
			if s.ID == sess.ID {
				done = false
			}
		}
		if done {
			break
		}
		if sess.Aborted() || time.Now().After(deadline) {
			t.Fatalf("migration did not complete: aborted=%v", sess.Aborted())
		}
		time.Sleep(20 * time.Millisecond)
	}

	dstPartition, ok := n2.registry.Partition("test", 0)
	if !ok {
		t.Fatal("node 2 missing partition 0")
	}
	check := dstPartition.Reserve()
	defer check.Release()
	got, ok := check.Tree.Get(digest)
	if !ok {
		t.Fatal("expected migrated record on node 2")
	}
	if len(got.Bins) != 1 || got.Bins[0].Name != "v" {
		t.Fatalf("migrated record mismatch: %+v", got)
	}
}

// TestTwoNodesReplicateWrite runs a replicated write from node 1's Writer
// to node 2's Receiver and waits for the completion callback.
func TestTwoNodesReplicateWrite(t *testing.T) {
	cfg1, cfg2 := twoNodeConfigs(t)
	cfg1.TransactionRetryMs = 20

	n1 := startNode(cfg1)
	defer n1.stop()
	n2 := startNode(cfg2)
	defer n2.stop()

	time.Sleep(50 * time.Millisecond)

	var digest record.Digest
	digest[0] = 0x77

	done := make(chan replwrite.Result, 1)
	n1.writer.Send(replwrite.WriteParams{
		Namespace:      "test",
		NSID:           1,
		PartitionID:    1,
		Digest:         digest,
		Generation:     1,
		LastUpdateTime: 100,
		Pickle:         pickleFor("v", []byte{1, 2, 3}),
		Destinations:   []types.ID{types.ID(cfg2.NodeID)},
		Deadline:       time.Now().Add(5 * time.Second),
		CompletionCB:   func(r replwrite.Result) { done <- r },
	})

	select {
	case r := <-done:
		if r != replwrite.ResultOK {
			t.Fatalf("result = %v, want ResultOK", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("replicated write did not complete")
	}

	dstPartition, _ := n2.registry.Partition("test", 1)
	r := dstPartition.Reserve()
	defer r.Release()
	if _, ok := r.Tree.Get(digest); !ok {
		t.Fatal("expected replicated record on node 2")
	}
}
