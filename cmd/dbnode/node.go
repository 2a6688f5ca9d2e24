package main

import (
	"net/http"
	"time"

	"github.com/absolute8511/aerospike-server/config"
	"github.com/absolute8511/aerospike-server/fabric"
	"github.com/absolute8511/aerospike-server/migrate"
	"github.com/absolute8511/aerospike-server/pkg/netutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
	"github.com/absolute8511/aerospike-server/record"
	"github.com/absolute8511/aerospike-server/replwrite"
	"github.com/absolute8511/aerospike-server/storageref"
	"github.com/absolute8511/aerospike-server/truncate"
)

// maxFabricConns bounds simultaneous inbound fabric connections per node,
// the same role as the original's listen backlog tuning.
const maxFabricConns = 256

const (
	fabricConnWriteTimeout = 10 * time.Second
	fabricConnReadTimeout  = 10 * time.Second
)

var logger = xlog.NewLogger("dbnode", xlog.INFO)

// node wires one fabric.Transport, this namespace's partitions, the
// migrate emigrator/immigrator pair, and the replwrite writer/receiver
// pair into a single running process.
type node struct {
	cfg       *config.Config
	transport *fabric.Transport
	registry  *partitionRegistry
	store     *storageref.Store

	emigrator  *migrate.Emigrator
	immigrator *migrate.Immigrator

	writer   *replwrite.Writer
	receiver *replwrite.Receiver

	httpSrv  *http.Server
	pausable *netutil.PauseableHandler
	donec    chan struct{}
}

// startNode builds and starts every collaborator named in cfg, returning a
// node whose fabric listener is already serving.
func startNode(cfg *config.Config) *node {
	self := types.ID(cfg.NodeID)

	registry := newPartitionRegistry(cfg.Namespace, cfg.NumPartitions)

	var store *storageref.Store
	var migrateStore migrate.Store
	var rwStore replwrite.Store
	if cfg.DataDir != "" {
		s, err := storageref.Open(cfg.DataDir, 0)
		if err != nil {
			panic(err)
		}
		store = s
		migrateStore = s
		rwStore = s
	}

	transport := fabric.NewTransport(self)
	if err := transport.Start(); err != nil {
		panic(err)
	}

	for i, peerID := range cfg.PeerIDs {
		if peerID == cfg.NodeID {
			continue
		}
		urls := types.MustNewURLs([]string{cfg.PeerURLs[i]})
		transport.AddPeer(types.ID(peerID), urls)
	}

	truncateTable := truncate.New()

	emigrator := migrate.NewEmigrator(transport, self, cfg.MigrateThreads(), migrate.EmigratorConfig{
		RetransmitMs:          cfg.MigrateRetransmitMs,
		RetransmitStartDoneMs: cfg.MigrateRetransmitStartDoneMs,
		SleepUs:               cfg.MigrateSleepUs,
		ScanWindow:            cfg.MigrateScanWindow,
	})
	immigrator := migrate.NewImmigrator(transport, registry, migrateStore, truncateTable, migrate.ImmigratorConfig{
		RxLifetimeMs: cfg.MigrateRxLifetimeMs,
	})
	transport.RegisterHandler(fabric.KindMigrate, &migrate.Router{
		Emigrator:  emigrator,
		Immigrator: immigrator,
	})

	writerCfg := replwrite.WriterConfig{
		RetryIntervalMs: cfg.TransactionRetryMs,
		DefaultDeadline: time.Duration(cfg.TransactionMaxNs),
	}
	writer := replwrite.NewWriter(transport, self, writerCfg)
	receiver := replwrite.NewReceiver(transport, registry, rwStore, truncateTable)
	receiver.SetNotifier(logXDRNotifier{})
	transport.RegisterHandler(fabric.KindRW, &replwrite.Router{
		Writer:   writer,
		Receiver: receiver,
	})

	mux := http.NewServeMux()
	mux.Handle("/", transport.HTTPHandler())
	addr, err := listenAddr(cfg.PeerURL)
	if err != nil {
		panic(err)
	}

	ln, err := netutil.NewListenerWithTimeout(addr, "http", nil, fabricConnWriteTimeout, fabricConnReadTimeout)
	if err != nil {
		panic(err)
	}
	ln = netutil.NewListenerWithLimit(ln, maxFabricConns)
	ln, err = netutil.NewListenerWithKeepAlive(ln, "http", nil)
	if err != nil {
		panic(err)
	}

	pausable := &netutil.PauseableHandler{Next: mux}
	httpSrv := &http.Server{Addr: addr, Handler: pausable}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("fabric listener on %s exited: %v", addr, err)
		}
	}()

	logger.Infof("node %d serving namespace %q on %s", cfg.NodeID, cfg.Namespace, addr)

	return &node{
		cfg:        cfg,
		transport:  transport,
		registry:   registry,
		store:      store,
		emigrator:  emigrator,
		immigrator: immigrator,
		writer:     writer,
		receiver:   receiver,
		httpSrv:    httpSrv,
		pausable:   pausable,
		donec:      make(chan struct{}),
	}
}

// stop tears down every collaborator and signals donec. Grounded on the
// teacher's raft node's interrupt-driven stop path: registered once with
// osutil.RegisterInterruptHandler, called at most once per process.
func (n *node) stop() {
	n.pausable.Pause()
	n.httpSrv.Close()
	n.transport.Stop()
	n.immigrator.Stop()
	n.writer.Stop()
	if n.store != nil {
		n.store.Close()
	}
	close(n.donec)
}

// logXDRNotifier stands in for the cross-DC shipping pipeline: the real
// sink lives outside this repo, so the notification is just a log line
// until one is wired up.
type logXDRNotifier struct{}

func (logXDRNotifier) Notify(namespace string, d record.Digest) {
	logger.Debugf("xdr-eligible write in %s digest=%x", namespace, d)
}

func listenAddr(peerURL string) (string, error) {
	u, err := types.NewURL(peerURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
