// Command emberd runs a full emberchain node: chain storage, mempool,
// optional mining, and peer-to-peer sync.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/emberchain/emberd/app"
	"github.com/emberchain/emberd/logs"
)

var log = logs.Logger("MAIN")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if level, ok := logs.LevelFromString(cfg.DebugLevel); ok {
		logs.DefaultRegistry().SetAllLevels(level)
	}

	params, err := cfg.netParams()
	if err != nil {
		return err
	}

	nodeCfg := &app.Config{
		Params:      params,
		DataDir:     cfg.DataDir,
		ListenAddr:  cfg.Listen,
		ConnectTo:   cfg.ConnectTo,
		DisableDNS:  cfg.DisableDNS,
		Mine:        cfg.Mine,
		MineWorkers: cfg.MineWorkers,
	}

	if cfg.Mine {
		pub, err := cfg.miningAddr()
		if err != nil {
			return err
		}
		nodeCfg.MiningAddr = pub
	}

	node, err := app.New(nodeCfg)
	if err != nil {
		return err
	}

	if err := node.Start(); err != nil {
		return err
	}
	log.Infof("listening on %s, data dir %s", cfg.Listen, cfg.DataDir)

	waitForShutdown()

	return node.Stop()
}

// waitForShutdown blocks until SIGINT or SIGTERM, the pack carries no
// signal-handling library of its own so this falls back to the
// standard library.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
}
