package main

import (
	"os"
	"path/filepath"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	appName           = "emberd"
	defaultListenPort = "13141"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

// config mirrors the teacher's cmd/*/config.go shape: a flat
// go-flags-tagged struct, network selection via mutually exclusive
// bool switches rather than an enum flag.
type config struct {
	DataDir    string   `long:"datadir" description:"Directory to store block and account data" default:""`
	Listen     string   `long:"listen" description:"Address to listen for incoming peer connections on (defaults to 0.0.0.0:13141)"`
	ConnectTo  []string `long:"connect" description:"Address of a peer to connect to on startup; may be given multiple times"`
	DisableDNS bool     `long:"nodnsseed" description:"Disable DNS seeding on startup"`

	Testnet bool `long:"testnet" description:"Use the test network"`
	Regtest bool `long:"regtest" description:"Use the regression test network"`

	Mine        bool   `long:"mine" description:"Mine new blocks"`
	MiningAddr  string `long:"miningaddr" description:"Public key (hex) to pay mining rewards to, required with --mine"`
	MineWorkers int    `long:"mineworkers" description:"Number of parallel nonce-search workers" default:"1"`

	DebugLevel string `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical, off" default:"info"`
}

func (cfg *config) netParams() (*chaincfg.Params, error) {
	switch {
	case cfg.Testnet && cfg.Regtest:
		return nil, errors.New("--testnet and --regtest are mutually exclusive")
	case cfg.Testnet:
		return &chaincfg.TestnetParams, nil
	case cfg.Regtest:
		return &chaincfg.RegtestParams, nil
	default:
		return &chaincfg.MainnetParams, nil
	}
}

func (cfg *config) miningAddr() (chainkey.PublicKey, error) {
	var pub chainkey.PublicKey
	if cfg.MiningAddr == "" {
		return pub, errors.New("--miningaddr is required with --mine")
	}
	return chainkey.PublicKeyFromHex(cfg.MiningAddr)
}

// loadConfig parses os.Args into a config, applies the same defaults
// on every network (data directory, listen address, worker count),
// and validates mining flags.
func loadConfig() (*config, error) {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.Listen == "" {
		cfg.Listen = "0.0.0.0:" + defaultListenPort
	}
	if cfg.Mine && cfg.MiningAddr == "" {
		return nil, errors.New("--miningaddr is required with --mine")
	}
	if cfg.MineWorkers < 1 {
		cfg.MineWorkers = 1
	}
	return cfg, nil
}
