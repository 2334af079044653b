package prover

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/storasub/storasub/internal/rpcfabric"
	"github.com/storasub/storasub/internal/suberrors"
	"github.com/storasub/storasub/internal/wireproto"
)

// Handler builds an rpcfabric.Handler that enforces §4.3 admission
// (directory membership + auditor role bit) before dispatching to the
// three RPC kinds.
func (s *Service) Handler() rpcfabric.Handler {
	return func(ctx context.Context, env *wireproto.Envelope) (interface{}, error) {
		snap := s.dir.Current()
		if !snap.IsAuditor(env.From) {
			return nil, suberrors.Unauthorized(env.From, "caller is not an auditor in the current directory")
		}

		switch env.Kind {
		case wireproto.KindPing:
			return wireproto.PingResponse{Data: s.PingText()}, nil

		case wireproto.KindRetrieve:
			var req wireproto.RetrieveRequest
			if err := env.DecodeBody(&req); err != nil {
				return nil, fmt.Errorf("prover: decode retrieve request: %w", err)
			}
			data, err := s.Retrieve(env.From, req.Key)
			if err != nil {
				return nil, err
			}
			return wireproto.RetrieveResponse{Data: data}, nil

		case wireproto.KindStore:
			var req wireproto.StoreRequest
			if err := env.DecodeBody(&req); err != nil {
				return nil, fmt.Errorf("prover: decode store request: %w", err)
			}
			ok, err := s.Store(env.From, req.Key, req.Data)
			if err != nil {
				s.log.Warn("prover: store failed", zap.String("peer", env.From), zap.Uint64("key", req.Key), zap.Error(err))
				ok = false
			}
			return wireproto.StoreResponse{Key: req.Key, OK: ok}, nil

		default:
			return nil, fmt.Errorf("prover: unknown rpc kind %v", env.Kind)
		}
	}
}
