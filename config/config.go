// Package config loads the node's tunables from a flat struct populated by
// flag.FlagSet, the way raft-example's main.go builds its config struct.
package config

import (
	"flag"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// uint64ListFlag and stringListFlag implement flag.Value over a
// comma-separated list, the way flag.Value is meant to be extended for a
// repeated value the stdlib's own flag types don't cover.
type uint64ListFlag struct{ vals *[]uint64 }

func (f uint64ListFlag) String() string {
	if f.vals == nil {
		return ""
	}
	parts := make([]string, len(*f.vals))
	for i, v := range *f.vals {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}

func (f uint64ListFlag) Set(s string) error {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*f.vals = out
	return nil
}

type stringListFlag struct{ vals *[]string }

func (f stringListFlag) String() string {
	if f.vals == nil {
		return ""
	}
	return strings.Join(*f.vals, ",")
}

func (f stringListFlag) Set(s string) error {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	*f.vals = out
	return nil
}

// Config holds every tunable named in this repo's external-interfaces
// table, plus node identity and addressing.
type Config struct {
	NodeID    uint64
	ClientURL string
	PeerURL   string
	PeerIDs   []uint64
	PeerURLs  []string

	NMigrateThreads int32 // atomic: SetMigrateThreads reconfigures this live

	MigrateRetransmitMs          int64
	MigrateRetransmitStartDoneMs int64
	MigrateSleepUs               int64
	MigrateRxLifetimeMs          int64
	MigrateScanWindow            int

	TransactionRetryMs int64
	TransactionMaxNs   int64

	Namespace     string
	NumPartitions uint32

	DataDir string
}

// Default returns a Config with the same defaults the original tunables
// table implies.
func Default() *Config {
	return &Config{
		NMigrateThreads:              4,
		MigrateRetransmitMs:          1000,
		MigrateRetransmitStartDoneMs: 1000,
		MigrateSleepUs:               0,
		MigrateRxLifetimeMs:          60000,
		MigrateScanWindow:            20,
		TransactionRetryMs:           10,
		TransactionMaxNs:             int64(time.Second),
		Namespace:                    "test",
		NumPartitions:                16,
	}
}

// Parse populates a Config from the given flag set and argument list,
// starting from Default(). The flag set is passed in rather than using the
// package-level flag.CommandLine so tests and multiple nodes in one process
// don't collide over flag registration.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	fs.Uint64Var(&cfg.NodeID, "id", 1, "node id, unique per process lifetime")
	fs.StringVar(&cfg.ClientURL, "client-url", "http://localhost:8080", "client-facing listen URL")
	fs.StringVar(&cfg.PeerURL, "peer-url", "http://localhost:8081", "fabric listen URL advertised to peers")
	fs.Var(uint64ListFlag{vals: &cfg.PeerIDs}, "peer-ids", "comma-separated peer node ids, including this node's own id")
	fs.Var(stringListFlag{vals: &cfg.PeerURLs}, "peer-urls", "comma-separated peer fabric URLs, aligned by index with -peer-ids")

	var threads int
	fs.IntVar(&threads, "n-migrate-threads", int(cfg.NMigrateThreads), "emigration worker pool size")
	fs.Int64Var(&cfg.MigrateRetransmitMs, "migrate-retransmit-ms", cfg.MigrateRetransmitMs, "INSERT retransmit interval")
	fs.Int64Var(&cfg.MigrateRetransmitStartDoneMs, "migrate-retransmit-startdone-ms", cfg.MigrateRetransmitStartDoneMs, "START/DONE retransmit interval")
	fs.Int64Var(&cfg.MigrateSleepUs, "migrate-sleep-us", cfg.MigrateSleepUs, "inter-record sleep, throttling emigration")
	fs.Int64Var(&cfg.MigrateRxLifetimeMs, "migrate-rx-lifetime-ms", cfg.MigrateRxLifetimeMs, "post-DONE immigration session retention; 0 evicts immediately")
	fs.IntVar(&cfg.MigrateScanWindow, "migrate-scan-window", cfg.MigrateScanWindow, "bounded scheduling scan window for emigration work selection")
	fs.Int64Var(&cfg.TransactionRetryMs, "transaction-retry-ms", cfg.TransactionRetryMs, "initial replicated-write retry interval")
	fs.Int64Var(&cfg.TransactionMaxNs, "transaction-max-ns", cfg.TransactionMaxNs, "default replicated-write deadline if the client set none")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "storage directory")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "namespace served by this node")

	var numPartitions uint
	fs.UintVar(&numPartitions, "num-partitions", uint(cfg.NumPartitions), "partition count for the served namespace")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.NMigrateThreads = int32(threads)
	cfg.NumPartitions = uint32(numPartitions)
	return cfg, nil
}

// MigrateThreads reads the live worker-pool size.
func (c *Config) MigrateThreads() int {
	return int(atomic.LoadInt32(&c.NMigrateThreads))
}

// SetMigrateThreads live-reconfigures the worker pool size. Callers still
// need to propagate the new value to a running migrate.Emigrator via its
// own SetThreads; this only updates the config's record of the setting.
func (c *Config) SetMigrateThreads(n int) {
	atomic.StoreInt32(&c.NMigrateThreads, int32(n))
}
