package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/core"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/manager"
	"github.com/jcsp/pgautoscale/internal/metrics"
)

var (
	appName, gitCommit, gitBranch string
)

func main() {
	var (
		showVersion = kingpin.Flag("version", "show version and exit").Default().Bool()
		logLevel    = kingpin.Flag("log-level", "set log level: debug, info, warn, error").Default("info").Envar("LOG_LEVEL").String()
		configFile  = kingpin.Flag("config-file", "path to config file").Default("/etc/pgautoscaled.yaml").Envar("CONFIG_FILE").String()
		blobDir     = kingpin.Flag("blob-dir", "directory of osd_map/pg_dump/... JSON fixtures").Default("/var/lib/pgautoscaled/blobs").Envar("BLOB_DIR").String()
		stateFile   = kingpin.Flag("state-file", "path to the persisted poolset state file").Default("/var/lib/pgautoscaled/state.json").Envar("STATE_FILE").String()
	)
	kingpin.Parse()
	log.SetLevel(*logLevel)

	if *showVersion {
		fmt.Printf("%s %s-%s\n", appName, gitCommit, gitBranch)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("cannot start %s, unable to load config: %s", appName, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("cannot start %s, invalid config: %s", appName, err)
		os.Exit(1)
	}

	mgr := manager.NewFileManager(*blobDir, *stateFile)
	mgrCtx := manager.NewContext(mgr, cfg)
	c := core.New(mgrCtx)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	doExit := make(chan error, 3)
	go func() {
		doExit <- listenSignals()
		cancel()
	}()

	go func() {
		doExit <- c.Run(ctx)
		cancel()
	}()

	go func() {
		collector := metrics.NewCollector(c.Resources, c.Scheduler, c.Tracker)
		server := metrics.NewServer(cfg.ListenAddress, collector)
		doExit <- server.Serve()
		cancel()
	}()

	log.Warnf("shutdown: %s", <-doExit)
}

func listenSignals() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	return fmt.Errorf("got %s", <-sig)
}
