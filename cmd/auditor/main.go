// Package main implements the auditor CLI: a flat os.Args[1] dispatcher in
// the style of beenet's cmd/bee/main.go, driving internal/auditor's
// Service through its challenge tick (STEP_TIME) and scoring tick
// (SCORES_TIME) on their own tickers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storasub/storasub/internal/auditor"
	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/rpcfabric"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/shardstore"
)

// Build-time variables set by ldflags.
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

// stepTime and scoresTime are spec.md §6.4's STEP_TIME/SCORES_TIME defaults.
const (
	stepTime   = 20 * time.Second
	scoresTime = 600 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		err = startCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("storasub-auditor %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`storasub-auditor v%s - proof-of-storage auditor node

Usage:
  auditor <command> [options]

Commands:
  start    Run the challenge/scoring tick loop against the prover fleet
  inspect  Print row count and boundary hashes for one peer's hash-only shard
  version  Show version information
  help     Show this help message

`, version)
}

func startCommand(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	dbRoot := fs.String("db-root", "./data", "root directory for on-disk shard stores")
	wallet := fs.String("wallet", "default", "wallet name, used in the on-disk path layout")
	ownPeer := fs.String("peer", "", "this node's PeerId (SS58 string)")
	directoryFile := fs.String("directory", "./directory.json", "peer directory fixture (see peerdirectory.FileSource)")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownPeer == "" {
		return fmt.Errorf("start: --peer is required")
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("start: build logger: %w", err)
	}
	defer log.Sync()

	sink := metrics.Noop()
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sink = metrics.NewPrometheus(reg)
		go serveMetrics(*metricsAddr, reg, log)
	}

	root := layout.Root{DBRoot: *dbRoot, WalletName: *wallet, Hotkey: *ownPeer}
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{})
	source := peerdirectory.FileSource{Path: *directoryFile}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dir.Refresh(ctx, source); err != nil {
		return fmt.Errorf("start: initial directory load: %w", err)
	}

	gen := shardgen.New(shardgen.WithLogger(log), shardgen.WithMetrics(sink))
	transport := rpcfabric.NewTCPTransport()
	newProber := func(endpoint string) auditor.Prober {
		return rpcfabric.NewClient(transport, endpoint, *ownPeer)
	}

	svc := auditor.NewService(root, *ownPeer, version, dir, gen, newProber,
		auditor.WithLogger(log), auditor.WithMetrics(sink))
	defer svc.Close()

	if err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("start: restore: %w", err)
	}

	log.Info("auditor started", zap.String("peer", *ownPeer))

	stepTicker := time.NewTicker(stepTime)
	defer stepTicker.Stop()
	scoreTicker := time.NewTicker(scoresTime)
	defer scoreTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("auditor shutting down")
			return nil

		case <-stepTicker.C:
			if err := dir.Refresh(ctx, source); err != nil {
				log.Warn("directory refresh failed", zap.Error(err))
				continue
			}
			if err := svc.HandleChurn(ctx); err != nil {
				log.Warn("churn handling failed", zap.Error(err))
			}
			if err := svc.Tick(ctx); err != nil {
				log.Warn("challenge tick failed", zap.Error(err))
			}

		case <-scoreTicker.C:
			if err := svc.ScoreTick(ctx); err != nil {
				log.Warn("score tick failed", zap.Error(err))
			}
		}
	}
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dbRoot := fs.String("db-root", "./data", "root directory for on-disk shard stores")
	wallet := fs.String("wallet", "default", "wallet name")
	ownPeer := fs.String("peer", "", "this node's PeerId")
	otherPeer := fs.String("other-peer", "", "the audited prover's PeerId")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownPeer == "" || *otherPeer == "" {
		return fmt.Errorf("inspect: --peer and --other-peer are required")
	}

	root := layout.Root{DBRoot: *dbRoot, WalletName: *wallet, Hotkey: *ownPeer}
	path := root.PairDBPath(layout.RoleValidator, *ownPeer, *otherPeer)
	store, err := shardstore.Open(path)
	if err != nil {
		return fmt.Errorf("inspect: open %s: %w", path, err)
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		return fmt.Errorf("inspect: count: %w", err)
	}
	fmt.Printf("path: %s\n", path)
	fmt.Printf("rows: %d\n", count)
	if count == 0 {
		return nil
	}
	if hash, err := store.GetHash(0); err == nil {
		fmt.Printf("chunk 0 hash: %s\n", hash)
	}
	if hash, err := store.GetHash(count - 1); err == nil {
		fmt.Printf("chunk %d hash: %s\n", count-1, hash)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
