// Package prover implements the Prover Service (§4.3): serves ping,
// retrieve(id), and store(id,data) to authenticated auditor peers, one
// store per auditor, rebuilt on peer-set changes.
package prover

import (
	"context"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/shardstore"
)

// PairState is the per-pair lifecycle of §4.3:
//
//	ABSENT -> GENERATING -> SERVING -> TEARDOWN -> ABSENT
type PairState int

const (
	StateAbsent PairState = iota
	StateGenerating
	StateServing
	StateTeardown
)

func (s PairState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateGenerating:
		return "generating"
	case StateServing:
		return "serving"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

type pairEntry struct {
	state   PairState
	store   *shardstore.Store
	nChunks uint64
}

// Service is one Prover's RPC-facing state: a map of PeerId -> open
// store, plus directory-driven reallocation.
type Service struct {
	mu    sync.RWMutex
	pairs map[string]*pairEntry

	root    layout.Root
	ownPeer string
	version string

	dir *peerdirectory.Directory
	gen *shardgen.Generator

	chunkSize        int
	defaultNChunks   uint64
	maxChunksPerPeer uint64
	workers          int

	log     *zap.Logger
	metrics metrics.Sink

	reallocGroup singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(sink metrics.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.metrics = sink
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithDefaultNChunks(n uint64) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultNChunks = n
		}
	}
}

// WithMaxChunksPerPeer sets the per-peer capacity cap (§9 Open Question:
// "a sane per-peer cap should be added").
func WithMaxChunksPerPeer(n uint64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxChunksPerPeer = n
		}
	}
}

// NewService builds a Prover Service for ownPeer, rooted at root, reading
// the peer directory from dir and generating shards through gen.
func NewService(root layout.Root, ownPeer, version string, dir *peerdirectory.Directory, gen *shardgen.Generator, opts ...Option) *Service {
	s := &Service{
		pairs:            make(map[string]*pairEntry),
		root:             root,
		ownPeer:          ownPeer,
		version:          version,
		dir:              dir,
		gen:              gen,
		chunkSize:        4 << 20,
		defaultNChunks:   128,
		maxChunksPerPeer: 1 << 24, // ~64 TiB at 4MiB/chunk; a generous but finite cap
		workers:          runtime.NumCPU(),
		log:              zap.NewNop(),
		metrics:          metrics.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PingText returns the side-effect-free role identification string, §6.2.
func (s *Service) PingText() string {
	return "prover-" + s.version
}

// Retrieve reads the chunk stored under key for peer, returning nil (no
// error) when the id is unknown or the pair isn't serving yet, per §4.3:
// "Requests during GENERATING for ids not yet written return null."
func (s *Service) Retrieve(peer string, key uint64) (*string, error) {
	s.mu.RLock()
	entry, ok := s.pairs[peer]
	s.mu.RUnlock()
	if !ok || entry.store == nil {
		return nil, nil
	}

	data, _, err := entry.store.Get(key)
	if err != nil {
		if err == shardstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &data, nil
}

// Store overwrites the chunk at key for peer, recomputing its hash.
// Returns ok=false (never an error) when the pair is unknown or key
// exceeds the pair's declared capacity, mirroring the -1 sentinel of §6.2.
func (s *Service) Store(peer string, key uint64, data string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.pairs[peer]
	s.mu.RUnlock()
	if !ok || entry.store == nil {
		return false, nil
	}
	if key >= entry.nChunks || key >= s.maxChunksPerPeer {
		return false, nil
	}

	hash := shardgen.HashText(data)
	if err := entry.store.Put(key, data, hash); err != nil {
		return false, err
	}
	return true, nil
}

// PairState reports the current lifecycle state for peer (StateAbsent if
// unknown), for tests and operational introspection.
func (s *Service) PairState(peer string) PairState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pairs[peer]
	if !ok {
		return StateAbsent
	}
	return entry.state
}

// Close tears down every open pair store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.pairs {
		if entry.store != nil {
			entry.store.Close()
		}
	}
	s.pairs = make(map[string]*pairEntry)
	return nil
}

// Reallocate diffs the current directory against open pairs: departed
// auditors are torn down, new ones generated. A reallocation already in
// flight absorbs concurrent callers instead of restarting (§5: "an
// in-flight reallocation MUST NOT be restarted concurrently"), the same
// de-duplication idiom arena-cache's loader.go uses for thundering-herd
// loads, via singleflight.
func (s *Service) Reallocate(ctx context.Context) error {
	_, err, _ := s.reallocGroup.Do("reallocate", func() (interface{}, error) {
		return nil, s.reallocateOnce(ctx)
	})
	return err
}

func (s *Service) reallocateOnce(ctx context.Context) error {
	snap := s.dir.Current()

	desired := make(map[string]bool)
	for _, r := range snap.Records {
		if r.Role != peerdirectory.RoleAuditor {
			continue
		}
		if r.PeerID == s.ownPeer || r.Endpoint == "0.0.0.0" {
			continue // self-test guard, §4.4 point 5
		}
		desired[r.PeerID] = true
	}

	s.mu.Lock()
	for peer, entry := range s.pairs {
		if desired[peer] {
			continue
		}
		entry.state = StateTeardown
		if entry.store != nil {
			entry.store.Close()
		}
		_ = os.RemoveAll(s.root.PairDBPath(layout.RoleMiner, s.ownPeer, peer))
		delete(s.pairs, peer)
		s.log.Debug("prover: tore down departed pair", zap.String("peer", peer))
	}

	var toGenerate []string
	for peer := range desired {
		if _, ok := s.pairs[peer]; !ok {
			s.pairs[peer] = &pairEntry{state: StateGenerating, nChunks: s.defaultNChunks}
			toGenerate = append(toGenerate, peer)
		}
	}
	s.mu.Unlock()

	if len(toGenerate) == 0 {
		return nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, peer := range toGenerate {
		peer := peer
		eg.Go(func() error {
			return s.materializePair(egctx, peer)
		})
	}
	return eg.Wait()
}

func (s *Service) materializePair(ctx context.Context, peer string) error {
	path := s.root.PairDBPath(layout.RoleMiner, s.ownPeer, peer)
	store, err := shardstore.Open(path)
	if err != nil {
		return err
	}

	params := shardgen.Params{
		OwnerPeer: s.ownPeer,
		OtherPeer: peer,
		NChunks:   s.defaultNChunks,
		ChunkSize: s.chunkSize,
		OnlyHash:  false,
	}
	if err := s.gen.Generate(ctx, store, s.root.DBRoot, params); err != nil {
		store.Close()
		s.mu.Lock()
		delete(s.pairs, peer)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if entry, ok := s.pairs[peer]; ok {
		entry.store = store
		entry.state = StateServing
	} else {
		store.Close() // pair departed while we were generating
	}
	s.mu.Unlock()
	s.log.Debug("prover: pair now serving", zap.String("peer", peer))
	return nil
}
