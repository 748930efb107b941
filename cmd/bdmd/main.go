// Command bdmd wires the indexing core's collaborators together and
// runs until interrupted. The block-file parser, p2p client, and
// signing helper are supplied by the binary embedding this core; this
// launcher is kept intentionally thin.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0ZTR/BitcoinArmory/internal/clients"
	"github.com/0ZTR/BitcoinArmory/internal/config"
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
	"github.com/0ZTR/BitcoinArmory/internal/scraddr"
	"github.com/0ZTR/BitcoinArmory/internal/ssh"
	"github.com/0ZTR/BitcoinArmory/internal/store"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
	"github.com/0ZTR/BitcoinArmory/internal/zeroconf"
)

var log, _ = logs.Get(logs.CNFG)
var spawn = panics.GoroutineWrapperFunc(log)

const statusLogInterval = time.Minute

func logStatusLoop(filter *scraddr.Filter, zc *zeroconf.Container, registry *clients.Registry, stop <-chan struct{}) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			log.Infof("status: %d clients, side-scan running=%t, zc topId=%d",
				registry.Len(), filter.IsScanning(), zc.TopID())
		case <-stop:
			return
		}
	}
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing command-line arguments: %s\n", err)
		os.Exit(1)
	}

	if err := logs.ParseAndSetDebugLevels(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error setting log levels: %s\n", err)
		os.Exit(1)
	}

	defer panics.HandlePanic(log, nil)

	kv, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Criticalf("opening KV store at %s: %s", cfg.DataDir, err)
		os.Exit(1)
	}
	defer kv.Close()

	if tx, err := kv.BeginRead(); err == nil {
		if sdbi, err := store.GetSDBI(tx); err == nil {
			log.Infof("database at height %d (schema v%d)", sdbi.TopScannedHeight, sdbi.SchemaVersion)
		} else {
			log.Warnf("reading database metadata: %s", err)
		}
		tx.Rollback()
	}

	idleReap, err := time.ParseDuration(cfg.IdleReap)
	if err != nil {
		log.Criticalf("invalid idlereap duration %q: %s", cfg.IdleReap, err)
		os.Exit(1)
	}

	mode := scraddr.Selective
	if cfg.ArmoryDBType == config.DBTypeSuper {
		mode = scraddr.Supernode
	}

	registry := clients.New(clients.DefaultGCInterval, idleReap)
	filter := scraddr.New(mode, noopRescanner{}, registry, ssh.NewWriter(kv))
	zc := zeroconf.New(zeroconf.Config{}, nil)

	log.Infof("bdmd listening on %s:%d, armorydbtype=%s, datadir=%s",
		cfg.ListenAddr, cfg.ListenPort, cfg.ArmoryDBType, cfg.DataDir)

	statusStop := make(chan struct{})
	defer close(statusStop)
	spawn(func() { logStatusLoop(filter, zc, registry, statusStop) })

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("shutting down")
	registry.Shutdown()
}

// noopRescanner is a placeholder Rescanner until the block-file parser
// collaborator is wired in by the binary
// that embeds this core.
type noopRescanner struct{}

func (noopRescanner) RescanRange(fromHeight, toHeight uint32, filterFn func(txio.ScriptHash) bool) (map[string][]*txio.TxIOPair, error) {
	return nil, nil
}
