// Package sharder implements the File Sharder (C5): splits a client file
// into fixed-size chunks, places each on a randomly chosen subset of
// provers with redundancy, records placement in an index DB, and
// reassembles on retrieval. Candidate retry is grounded on beenet's
// pkg/content/fetcher.go fetchChunk, which tries each provider in turn
// until one succeeds; the chunk windowing is grounded on
// pkg/content/chunker.go's ChunkReader/ReconstructData.
package sharder

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"go.uber.org/zap"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/suberrors"
	"github.com/storasub/storasub/internal/wireproto"
)

// StoreRetriever is the RPC surface the sharder needs against one prover;
// satisfied by *rpcfabric.Client.
type StoreRetriever interface {
	Store(ctx context.Context, key uint64, data string) (wireproto.StoreResponse, error)
	Retrieve(ctx context.Context, key uint64) (wireproto.RetrieveResponse, error)
}

// ClientFactory builds a StoreRetriever for a prover reachable at endpoint.
type ClientFactory func(endpoint string) StoreRetriever

// Sharder stores and retrieves arbitrary files via the prover fleet.
type Sharder struct {
	root      layout.Root
	ownPeer   string
	dir       *peerdirectory.Directory
	newClient ClientFactory

	chunkSize       int
	chunkStoreCount int
	limitLoopCount  int

	log     *zap.Logger
	metrics metrics.Sink
}

// Option configures a Sharder.
type Option func(*Sharder)

func WithLogger(log *zap.Logger) Option {
	return func(s *Sharder) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(sink metrics.Sink) Option {
	return func(s *Sharder) {
		if sink != nil {
			s.metrics = sink
		}
	}
}

func WithChunkSize(n int) Option {
	return func(s *Sharder) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithChunkStoreCount overrides CHUNK_STORE_COUNT (§6.4, default 1).
func WithChunkStoreCount(n int) Option {
	return func(s *Sharder) {
		if n > 0 {
			s.chunkStoreCount = n
		}
	}
}

// WithLimitLoopCount overrides LIMIT_LOOP_COUNT (§6.4, default 3).
func WithLimitLoopCount(n int) Option {
	return func(s *Sharder) {
		if n > 0 {
			s.limitLoopCount = n
		}
	}
}

// New builds a Sharder.
func New(root layout.Root, ownPeer string, dir *peerdirectory.Directory, newClient ClientFactory, opts ...Option) *Sharder {
	s := &Sharder{
		root:            root,
		ownPeer:         ownPeer,
		dir:             dir,
		newClient:       newClient,
		chunkSize:       4 << 20,
		chunkStoreCount: 1,
		limitLoopCount:  3,
		log:             zap.NewNop(),
		metrics:         metrics.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store streams r in chunkSize windows, placing each window on a
// redundant subset of provers and recording placement in a fresh index
// named after a random 256-bit hex string, which it returns.
func (s *Sharder) Store(ctx context.Context, r io.Reader) (string, error) {
	name, err := randomIndexName()
	if err != nil {
		return "", err
	}

	idx, err := OpenPlacementIndex(s.root.IndexDBPath(name))
	if err != nil {
		return "", err
	}
	defer idx.Close()

	buf := make([]byte, s.chunkSize)
	chunkNumber := 0
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := s.placeChunk(ctx, idx, chunkNumber, buf[:n]); err != nil {
				return "", err
			}
			chunkNumber++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("sharder: read input: %w", readErr)
		}
	}
	return name, nil
}

func (s *Sharder) placeChunk(ctx context.Context, idx *PlacementIndex, chunkNumber int, raw []byte) error {
	text := shardgen.EncodeChunk(raw)
	hash := shardgen.HashText(text)

	tried := make(map[string]bool)
	successes := 0
	for round := 0; round < s.limitLoopCount && successes < s.chunkStoreCount; round++ {
		candidates := s.pickCandidates(s.chunkStoreCount*2, tried)
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			tried[c.PeerID] = true
			if successes >= s.chunkStoreCount {
				break
			}

			client := s.newClient(c.Endpoint)
			resp, err := client.Store(ctx, uint64(chunkNumber), text)
			if err != nil || !resp.OK {
				s.metrics.IncPlacementFailure()
				continue
			}

			if err := idx.Put(chunkNumber, successes, Placement{
				MinerHotkey: c.PeerID,
				MinerKey:    resp.Key,
				Hash:        hash,
			}); err != nil {
				return err
			}
			successes++
			s.metrics.IncPlacementSuccess()
		}
	}

	if successes == 0 {
		return suberrors.InsufficientCapacity(chunkNumber)
	}
	return nil
}

// pickCandidates returns up to count provers from the current directory,
// excluding self, the 0.0.0.0 self-test sentinel, and peers in exclude,
// in a uniformly random order (Fisher-Yates via crypto/rand, the same
// unbiased-selection idiom pkg/swim's probeRandomMember uses).
func (s *Sharder) pickCandidates(count int, exclude map[string]bool) []peerdirectory.PeerRecord {
	snap := s.dir.Current()
	pool := make([]peerdirectory.PeerRecord, 0, len(snap.Records))
	for _, rec := range snap.Records {
		if rec.Role != peerdirectory.RoleProver {
			continue
		}
		if rec.PeerID == s.ownPeer || rec.Endpoint == "0.0.0.0" {
			continue
		}
		if exclude[rec.PeerID] {
			continue
		}
		pool = append(pool, rec)
	}

	for i := len(pool) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		pool[i], pool[j.Int64()] = pool[j.Int64()], pool[i]
	}

	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count]
}

// Retrieve reassembles the file recorded under name, writing bytes to w in
// chunk order, accepting the first placement whose returned text hashes to
// the recorded expected hash (§4.5 retrieve).
func (s *Sharder) Retrieve(ctx context.Context, name string, w io.Writer) error {
	idx, err := OpenPlacementIndex(s.root.IndexDBPath(name))
	if err != nil {
		return err
	}
	defer idx.Close()

	total, err := idx.ChunkCount()
	if err != nil {
		return err
	}

	for chunkNumber := 0; chunkNumber < total; chunkNumber++ {
		placements, err := idx.GetAll(chunkNumber)
		if err != nil {
			return suberrors.ChunkMissing(uint64(chunkNumber))
		}

		raw, err := s.fetchChunk(ctx, chunkNumber, placements)
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("sharder: write output: %w", err)
		}
	}
	return nil
}

func (s *Sharder) fetchChunk(ctx context.Context, chunkNumber int, placements []Placement) ([]byte, error) {
	snap := s.dir.Current()
	for round := 0; round < s.limitLoopCount; round++ {
		for _, p := range placements {
			rec, ok := snap.ByPeerID(p.MinerHotkey)
			if !ok {
				continue
			}
			client := s.newClient(rec.Endpoint)
			resp, err := client.Retrieve(ctx, p.MinerKey)
			if err != nil || resp.Data == nil {
				continue
			}
			if shardgen.HashText(*resp.Data) != p.Hash {
				continue
			}
			return shardgen.DecodeChunk(*resp.Data)
		}
	}
	return nil, suberrors.ChunkMissing(uint64(chunkNumber))
}
