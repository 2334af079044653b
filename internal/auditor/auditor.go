// Package auditor implements the Auditor Loop (§4.4): per-prover challenge
// sampling near the capacity frontier, AIMD adjustment of the estimate, and
// the scoring tick that emits normalized weights to the chain client.
// Modeled on beenet's pkg/swim probe-tick loop shape (periodic per-member
// probe with timeout-as-failure), generalized from a binary alive/dead
// verdict to an AIMD capacity estimate.
package auditor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/storasub/storasub/internal/chainclient"
	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/shardstore"
	"github.com/storasub/storasub/internal/wireproto"
)

// Prober is the minimal RPC surface a challenge needs against one prover;
// satisfied by *rpcfabric.Client and fakeable in tests.
type Prober interface {
	Retrieve(ctx context.Context, key uint64) (wireproto.RetrieveResponse, error)
}

// ProberFactory builds a Prober for a prover reachable at endpoint.
type ProberFactory func(endpoint string) Prober

type proverState struct {
	nChunks uint64
	store   *shardstore.Store // hash-only local shard, §4.4 "Expected hash: read from local C2"
}

// Service runs the per-prover challenge tick and the scoring tick against
// the directory's provers.
type Service struct {
	mu     sync.RWMutex
	states map[string]*proverState // peer -> estimate + hash store
	scores map[string]float64      // peer -> EMA score, §4.4 scoring tick

	uidPeer map[uint32]string // last-seen peer per uid, for churn detection (§4.4 "directory churn handling")

	root    layout.Root
	ownPeer string
	version string

	dir          *peerdirectory.Directory
	gen          *shardgen.Generator
	newProber    ProberFactory
	emitter      chainclient.WeightEmitter

	chunkSize        int
	defaultNChunks   uint64
	increasingRate   uint64
	decreasingRate   uint64
	alpha            float64
	workers          int
	rpcTimeout       time.Duration

	log     *zap.Logger
	metrics metrics.Sink

	tickGroup singleflight.Group
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

// WithDefaultNChunks overrides DEFAULT_N_CHUNKS (§6.4, default 128).
func WithDefaultNChunks(n uint64) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultNChunks = n
		}
	}
}

// WithRates overrides VALIDATION_INCREASING_RATE / VALIDATION_DECREASING_RATE.
func WithRates(increasing, decreasing uint64) Option {
	return func(s *Service) {
		if increasing > 0 {
			s.increasingRate = increasing
		}
		if decreasing > 0 {
			s.decreasingRate = decreasing
		}
	}
}

// WithAlpha overrides the EMA smoothing factor (§6.4 ALPHA, default 0.9).
func WithAlpha(alpha float64) Option {
	return func(s *Service) {
		if alpha > 0 && alpha < 1 {
			s.alpha = alpha
		}
	}
}

// WithRPCTimeout bounds how long a single challenge waits for retrieve.
func WithRPCTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rpcTimeout = d
		}
	}
}

// WithEmitter plugs the weight-emission boundary (§6, chainclient.WeightEmitter).
func WithEmitter(e chainclient.WeightEmitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

// NewService builds an auditor Service. newProber builds an RPC client per
// prover endpoint; gen regenerates local hash-only shards after a success.
func NewService(root layout.Root, ownPeer, version string, dir *peerdirectory.Directory, gen *shardgen.Generator, newProber ProberFactory, opts ...Option) *Service {
	s := &Service{
		states:         make(map[string]*proverState),
		scores:         make(map[string]float64),
		uidPeer:        make(map[uint32]string),
		root:           root,
		ownPeer:        ownPeer,
		version:        version,
		dir:            dir,
		gen:            gen,
		newProber:      newProber,
		emitter:        &chainclient.LoggingEmitter{},
		chunkSize:      4 << 20,
		defaultNChunks: 128,
		increasingRate: 256,
		decreasingRate: 64,
		alpha:          0.9,
		workers:        4,
		rpcTimeout:     5 * time.Second,
		log:            zap.NewNop(),
		metrics:        metrics.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PingText returns the auditor-side role identification string,
// "auditor-<version>", the counterpart of the prover's "prover-<version>".
func (s *Service) PingText() string {
	return "auditor-" + s.version
}

// Estimate returns the current n_chunks estimate for peer (0 if unknown).
func (s *Service) Estimate(peer string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[peer]
	if !ok {
		return 0
	}
	return st.nChunks
}

// Close closes every open hash store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st.store != nil {
			st.store.Close()
		}
	}
	s.states = make(map[string]*proverState)
	return nil
}

// Restore loads the persisted allocation snapshot and restores n_chunks
// estimates for known PeerIds, defaulting unknown ones to defaultNChunks,
// then materializes every prover's local hash-only shard in parallel
// before the caller enters the tick loop (§4.4 "Restart").
func (s *Service) Restore(ctx context.Context) error {
	records, err := loadAllocations(s.root.AllocationsPath())
	if err != nil {
		return err
	}
	restored := make(map[string]uint64, len(records))
	for _, r := range records {
		restored[r.Hotkey] = r.NChunks
	}

	snap := s.dir.Current()
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, rec := range snap.Records {
		if rec.Role != peerdirectory.RoleProver {
			continue
		}
		if rec.PeerID == s.ownPeer || rec.Endpoint == "0.0.0.0" {
			continue
		}
		peer := rec.PeerID
		n, ok := restored[peer]
		if !ok {
			n = s.defaultNChunks
		}
		s.setEstimateOnly(peer, n)
		eg.Go(func() error {
			return s.materializeHashShard(egctx, peer, n)
		})
	}
	return eg.Wait()
}

func (s *Service) setEstimateOnly(peer string, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[peer]
	if !ok {
		st = &proverState{}
		s.states[peer] = st
	}
	st.nChunks = n
}

func (s *Service) materializeHashShard(ctx context.Context, peer string, n uint64) error {
	path := s.root.PairDBPath(layout.RoleValidator, s.ownPeer, peer)
	store, err := shardstore.Open(path)
	if err != nil {
		return err
	}
	params := shardgen.Params{
		OwnerPeer: s.ownPeer,
		OtherPeer: peer,
		NChunks:   n,
		ChunkSize: s.chunkSize,
		OnlyHash:  true,
	}
	if err := s.gen.Generate(ctx, store, s.root.DBRoot, params); err != nil {
		store.Close()
		return err
	}
	s.mu.Lock()
	if st, ok := s.states[peer]; ok {
		st.store = store
		st.nChunks = n
	} else {
		store.Close()
	}
	s.mu.Unlock()
	return nil
}

// sampleChunkID implements §4.4 point 1: probe near the current frontier
// so growth/shrink converges on the edge.
func sampleChunkID(n, decreasingRate uint64) (uint64, error) {
	if n < 2 {
		return 0, nil
	}
	lo := uint64(0)
	if n > decreasingRate {
		lo = n - decreasingRate
	}
	hi := n - 1
	if lo >= hi {
		return lo, nil
	}
	span := hi - lo + 1
	offset, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return 0, fmt.Errorf("auditor: sample chunk id: %w", err)
	}
	return lo + offset.Uint64(), nil
}

// Tick runs one challenge round against every prover currently in the
// directory, bounded by workers, skipping in-flight overlap via
// singleflight the same way the prover's reallocation does.
func (s *Service) Tick(ctx context.Context) error {
	_, err, _ := s.tickGroup.Do("tick", func() (interface{}, error) {
		return nil, s.tickOnce(ctx)
	})
	return err
}

func (s *Service) tickOnce(ctx context.Context) error {
	snap := s.dir.Current()

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, rec := range snap.Records {
		if rec.Role != peerdirectory.RoleProver {
			continue
		}
		if rec.PeerID == s.ownPeer || rec.Endpoint == "0.0.0.0" {
			continue // self-test guard, §4.4 point 5
		}
		rec := rec
		eg.Go(func() error {
			if err := s.challengeOne(egctx, rec.PeerID, rec.Endpoint); err != nil {
				s.log.Warn("auditor: challenge failed", zap.String("peer", rec.PeerID), zap.Error(err))
			}
			return nil // per-prover failures never abort the loop, §7
		})
	}
	return eg.Wait()
}

func (s *Service) stateFor(peer string) (*proverState, error) {
	s.mu.Lock()
	st, ok := s.states[peer]
	if !ok {
		st = &proverState{nChunks: s.defaultNChunks}
		s.states[peer] = st
	}
	s.mu.Unlock()

	s.mu.RLock()
	hasStore := st.store != nil
	s.mu.RUnlock()
	if hasStore {
		return st, nil
	}

	path := s.root.PairDBPath(layout.RoleValidator, s.ownPeer, peer)
	store, err := shardstore.Open(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if st.store == nil {
		st.store = store
	} else {
		store.Close()
	}
	s.mu.Unlock()
	return st, nil
}

// challengeOne runs §4.4 steps 1-4 for a single prover: sample, query,
// compare against the local hash, AIMD-update the estimate.
func (s *Service) challengeOne(ctx context.Context, peer, endpoint string) error {
	st, err := s.stateFor(peer)
	if err != nil {
		return err
	}

	s.mu.RLock()
	n := st.nChunks
	s.mu.RUnlock()

	chunkID, err := sampleChunkID(n, s.decreasingRate)
	if err != nil {
		return err
	}

	expectedHash, err := st.store.GetHash(chunkID)
	if err != nil && err != shardstore.ErrNotFound {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	prober := s.newProber(endpoint)
	resp, rpcErr := prober.Retrieve(cctx, chunkID)

	success := rpcErr == nil && resp.Data != nil && expectedHash != "" && shardgen.HashText(*resp.Data) == expectedHash

	var newN uint64
	if success {
		newN = chunkID + s.increasingRate
		s.metrics.IncChallengeSuccess(peer)
	} else {
		newN = 1
		if chunkID > s.decreasingRate {
			newN = chunkID - s.decreasingRate
		}
		s.metrics.IncChallengeFailure(peer)
	}

	s.mu.Lock()
	st.nChunks = newN
	s.mu.Unlock()
	s.metrics.SetAllocation(peer, newN)

	if success {
		params := shardgen.Params{
			OwnerPeer: s.ownPeer,
			OtherPeer: peer,
			NChunks:   newN,
			ChunkSize: s.chunkSize,
			OnlyHash:  true,
		}
		if err := s.gen.Generate(ctx, st.store, s.root.DBRoot, params); err != nil {
			s.log.Warn("auditor: hash shard regeneration failed", zap.String("peer", peer), zap.Error(err))
		}
	}
	return nil
}
