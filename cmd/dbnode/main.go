package main

import (
	"flag"
	"os"
	"syscall"

	"github.com/absolute8511/aerospike-server/config"
	"github.com/absolute8511/aerospike-server/pkg/osutil"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
)

func init() {
	xlog.SetGlobalMaxLogLevel(xlog.INFO)
}

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Errorf("config error: %v", err)
		os.Exit(1)
	}

	n := startNode(cfg)

	osutil.RegisterInterruptHandler(n.stop)
	osutil.WaitForInterruptSignals(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	<-n.donec
	logger.Infof("node %d stopped", cfg.NodeID)
}
