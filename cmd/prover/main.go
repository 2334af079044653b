// Package main implements the prover CLI: a flat os.Args[1] dispatcher in
// the style of beenet's cmd/bee/main.go, wiring internal/prover's Service
// onto the TCP reference transport.
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

	"go.uber.org/zap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/prover"
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
	fmt.Printf("storasub-prover %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`storasub-prover v%s - proof-of-storage prover node

Usage:
  prover <command> [options]

Commands:
  start    Start the prover service (serves ping/retrieve/store to auditors)
  inspect  Print row count and boundary hashes for one peer's pair store
  version  Show version information
  help     Show this help message

`, version)
}

func startCommand(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	dbRoot := fs.String("db-root", "./data", "root directory for on-disk shard stores")
	wallet := fs.String("wallet", "default", "wallet name, used in the on-disk path layout")
	ownPeer := fs.String("peer", "", "this node's PeerId (SS58 string)")
	listen := fs.String("listen", "0.0.0.0:7800", "TCP address to serve RPCs on")
	directoryFile := fs.String("directory", "./directory.json", "peer directory fixture (see peerdirectory.FileSource)")
	pollInterval := fs.Duration("poll-interval", 600*time.Second, "how often to refresh the peer directory and reallocate")
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
	svc := prover.NewService(root, *ownPeer, version, dir, gen,
		prover.WithLogger(log), prover.WithMetrics(sink))
	defer svc.Close()

	transport := rpcfabric.NewTCPTransport()
	listener, err := transport.Listen(ctx, *listen)
	if err != nil {
		return fmt.Errorf("start: listen on %s: %w", *listen, err)
	}
	defer listener.Close()

	server := rpcfabric.NewServer(listener, svc.Handler(), log)
	log.Info("prover listening", zap.String("addr", *listen), zap.String("peer", *ownPeer))

	go func() {
		if err := server.Serve(ctx); err != nil {
			log.Error("rpc server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("prover shutting down")
			return nil
		case <-ticker.C:
			if err := dir.Refresh(ctx, source); err != nil {
				log.Warn("directory refresh failed", zap.Error(err))
				continue
			}
			if err := svc.Reallocate(ctx); err != nil {
				log.Warn("reallocate failed", zap.Error(err))
			}
		}
	}
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dbRoot := fs.String("db-root", "./data", "root directory for on-disk shard stores")
	wallet := fs.String("wallet", "default", "wallet name")
	ownPeer := fs.String("peer", "", "this node's PeerId")
	otherPeer := fs.String("other-peer", "", "the paired auditor's PeerId")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ownPeer == "" || *otherPeer == "" {
		return fmt.Errorf("inspect: --peer and --other-peer are required")
	}

	root := layout.Root{DBRoot: *dbRoot, WalletName: *wallet, Hotkey: *ownPeer}
	path := root.PairDBPath(layout.RoleMiner, *ownPeer, *otherPeer)
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

	if _, firstHash, err := store.Get(0); err == nil {
		fmt.Printf("chunk 0 hash: %s\n", firstHash)
	}
	if lastHash, err := store.GetHash(count - 1); err == nil {
		fmt.Printf("chunk %d hash: %s\n", count-1, lastHash)
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
