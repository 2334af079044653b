package auditor

import (
	"context"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/peerdirectory"
)

// HandleChurn implements §4.4 "directory churn handling": after a refresh,
// any uid whose PeerId changed gets its old shard deleted, its estimate
// reset to defaultNChunks, and its hash shard regenerated.
func (s *Service) HandleChurn(ctx context.Context) error {
	snap := s.dir.Current()

	var toRegenerate []string
	s.mu.Lock()
	for _, rec := range snap.Records {
		if rec.Role != peerdirectory.RoleProver {
			continue
		}
		prev, seen := s.uidPeer[rec.UID]
		s.uidPeer[rec.UID] = rec.PeerID
		if !seen || prev == rec.PeerID {
			continue
		}

		if st, ok := s.states[prev]; ok {
			if st.store != nil {
				st.store.Close()
			}
			delete(s.states, prev)
		}
		_ = os.RemoveAll(s.root.PairDBPath(layout.RoleValidator, s.ownPeer, prev))
		delete(s.scores, prev)

		s.states[rec.PeerID] = &proverState{nChunks: s.defaultNChunks}
		toRegenerate = append(toRegenerate, rec.PeerID)
		s.log.Info("auditor: uid PeerId changed, reset to default",
			zap.Uint32("uid", rec.UID), zap.String("old", prev), zap.String("new", rec.PeerID))
	}
	s.mu.Unlock()

	if len(toRegenerate) == 0 {
		return nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, peer := range toRegenerate {
		peer := peer
		eg.Go(func() error {
			return s.materializeHashShard(egctx, peer, s.defaultNChunks)
		})
	}
	return eg.Wait()
}

// ScoreTick implements §4.4's scoring tick: EMA over the current
// allocation snapshot, L1-normalized weight emission, and, on success,
// persistence of the allocation snapshot to disk.
func (s *Service) ScoreTick(ctx context.Context) error {
	snap := s.dir.Current()

	s.mu.Lock()
	n := len(snap.Records)
	weights := make([]float64, n)
	records := make([]AllocationRecord, 0, n)
	for uid, rec := range snap.Records {
		if rec.Role != peerdirectory.RoleProver {
			continue
		}
		var allocation uint64
		if st, ok := s.states[rec.PeerID]; ok {
			allocation = st.nChunks
		}
		prev := s.scores[rec.PeerID]
		score := s.alpha*prev + (1-s.alpha)*float64(allocation)
		s.scores[rec.PeerID] = score
		weights[uid] = score

		records = append(records, AllocationRecord{
			Hotkey:  rec.PeerID,
			NChunks: allocation,
			DBPath:  s.root.PairDBPath(layout.RoleValidator, s.ownPeer, rec.PeerID),
		})
	}
	s.mu.Unlock()

	normalized := l1Normalize(weights)
	if err := s.emitter.EmitWeights(ctx, normalized); err != nil {
		return err
	}

	return saveAllocations(s.root.AllocationsPath(), records)
}

// l1Normalize divides each element by the sum of absolute values, leaving
// an all-zero vector unchanged (nothing to normalize against).
func l1Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		if x < 0 {
			sum += -x
		} else {
			sum += x
		}
	}
	if sum == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
