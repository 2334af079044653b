package shardgen

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storasub/storasub/internal/diskspace"
	"github.com/storasub/storasub/internal/metrics"
	"github.com/storasub/storasub/internal/shardstore"
	"github.com/storasub/storasub/internal/suberrors"
)

// Generator orchestrates grow/shrink against a shardstore.Store with a
// bounded worker pool, the concurrency model of §5: "parallel threads with
// a bounded worker pool... for hash-heavy tasks: shard generation".
type Generator struct {
	workers      int
	minFreeBytes uint64
	log          *zap.Logger
	metrics      metrics.Sink
}

// Option configures a Generator.
type Option func(*Generator)

// WithWorkers overrides the worker pool size (default runtime.NumCPU()).
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithMinFreeBytes sets the free-space gate backing MIN_SIZE_IN_GB
// (§6.4, §SUPPLEMENTED FEATURES): Generate refuses to grow a shard once
// doing so would drop the filesystem's free space below this floor.
func WithMinFreeBytes(n uint64) Option {
	return func(g *Generator) { g.minFreeBytes = n }
}

// WithLogger plugs a structured logger; defaults to zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// WithMetrics plugs a metrics sink; defaults to a no-op sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(g *Generator) {
		if sink != nil {
			g.metrics = sink
		}
	}
}

// New builds a Generator with sensible defaults.
func New(opts ...Option) *Generator {
	g := &Generator{
		workers: runtime.NumCPU(),
		log:     zap.NewNop(),
		metrics: metrics.Noop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate materializes store's contents so it holds exactly p.NChunks
// rows for (p.OwnerPeer, p.OtherPeer), growing or shrinking as needed.
// Idempotent in (pair, n_chunks): calling again with the same Params is a
// no-op once the store already matches.
//
// spaceCheckDir is the filesystem path the free-space gate statfs's — in
// practice the db_root under which the pair's store directory lives.
func (g *Generator) Generate(ctx context.Context, store *shardstore.Store, spaceCheckDir string, p Params) error {
	existing, err := store.Count()
	if err != nil {
		return suberrors.StoreCorrupt(store.Path(), err)
	}

	switch {
	case p.NChunks < existing:
		return store.TruncateAbove(p.NChunks)
	case p.NChunks == existing:
		return nil
	}

	if g.minFreeBytes > 0 && spaceCheckDir != "" {
		free, err := diskspace.FreeBytes(spaceCheckDir)
		if err != nil {
			return fmt.Errorf("shardgen: check free space: %w", err)
		}
		// Rows hold the hex text form (two bytes per raw byte); hash-only
		// rows carry no data, so only their small hash is left uncounted.
		var need uint64
		if !p.OnlyHash {
			need = (p.NChunks - existing) * uint64(p.ChunkSize) * 2
		}
		if free < g.minFreeBytes || free-g.minFreeBytes < need {
			return suberrors.InsufficientSpace(fmt.Sprintf("%s%s", p.OwnerPeer, p.OtherPeer), nil)
		}
	}

	toGenerate := p.NChunks - existing
	ids := make([]uint64, toGenerate)
	for i := range ids {
		ids[i] = existing + uint64(i)
	}

	rows := make([]shardstore.Row, len(ids))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for idx, id := range ids {
		idx, id := idx, id
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			row, err := Row(p, id)
			if err != nil {
				return err
			}
			rows[idx] = row
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("shardgen: generate rows: %w", err)
	}

	if err := store.BulkInsert(rows); err != nil {
		return fmt.Errorf("shardgen: bulk insert: %w", err)
	}
	g.metrics.IncShardGenerateRows(len(rows))
	g.log.Debug("shardgen: grew shard",
		zap.String("owner", p.OwnerPeer), zap.String("other", p.OtherPeer),
		zap.Uint64("from", existing), zap.Uint64("to", p.NChunks))
	return nil
}
