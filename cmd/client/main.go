// Package main implements the file-sharder client CLI: a flat os.Args[1]
// dispatcher in the style of beenet's cmd/bee/main.go, wiring
// internal/sharder onto the TCP reference transport so a file can be
// stored on and retrieved from the prover fleet end-to-end. Grounded on
// the original validator CLI's store_file/retrieve_file commands
// (original_source/neurons/test.py).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/rpcfabric"
	"github.com/storasub/storasub/internal/sharder"
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
	case "store":
		err = storeCommand(os.Args[2:])
	case "retrieve":
		err = retrieveCommand(os.Args[2:])
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
	fmt.Printf("storasub-client %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`storasub-client v%s - file-sharder client

Usage:
  client <command> [options]

Commands:
  store     Store a file on the prover fleet and print its placement-index name
  retrieve  Retrieve a previously stored file by its placement-index name
  version   Show version information
  help      Show this help message

Examples:
  client store --peer 5Auditor --directory ./directory.json myfile.bin
  client retrieve --peer 5Auditor --directory ./directory.json <name> out.bin

`, version)
}

// sharedFlags holds the flags store and retrieve have in common.
type sharedFlags struct {
	dbRoot        *string
	wallet        *string
	ownPeer       *string
	directoryFile *string
	chunkSize     *int
}

func addSharedFlags(fs *flag.FlagSet) sharedFlags {
	return sharedFlags{
		dbRoot:        fs.String("db-root", "./data", "root directory for the placement index"),
		wallet:        fs.String("wallet", "default", "wallet name, used in the on-disk path layout"),
		ownPeer:       fs.String("peer", "", "this client's PeerId (SS58 string), excluded as a storage candidate"),
		directoryFile: fs.String("directory", "./directory.json", "peer directory fixture (see peerdirectory.FileSource)"),
		chunkSize:     fs.Int("chunk-size", 4<<20, "bytes per chunk (§6.4 CHUNK_SIZE default 4 MiB)"),
	}
}

func buildSharder(ctx context.Context, f sharedFlags) (*sharder.Sharder, error) {
	if *f.ownPeer == "" {
		return nil, fmt.Errorf("--peer is required")
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	root := layout.Root{DBRoot: *f.dbRoot, WalletName: *f.wallet, Hotkey: *f.ownPeer}
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{})
	source := peerdirectory.FileSource{Path: *f.directoryFile}
	if err := dir.Refresh(ctx, source); err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	transport := rpcfabric.NewTCPTransport()
	newClient := func(endpoint string) sharder.StoreRetriever {
		return rpcfabric.NewClient(transport, endpoint, *f.ownPeer)
	}

	return sharder.New(root, *f.ownPeer, dir, newClient,
		sharder.WithLogger(log), sharder.WithChunkSize(*f.chunkSize)), nil
}

func storeCommand(args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	f := addSharedFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("store: expected exactly one file argument")
	}
	path := fs.Arg(0)

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer in.Close()

	ctx := context.Background()
	s, err := buildSharder(ctx, f)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	name, err := s.Store(ctx, in)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Println(name)
	return nil
}

func retrieveCommand(args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	f := addSharedFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("retrieve: expected <name> <output-file> arguments")
	}
	name, outPath := fs.Arg(0), fs.Arg(1)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("retrieve: create %s: %w", outPath, err)
	}
	defer out.Close()

	ctx := context.Background()
	s, err := buildSharder(ctx, f)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	if err := s.Retrieve(ctx, name, out); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	fmt.Printf("wrote %s\n", outPath)
	return nil
}
