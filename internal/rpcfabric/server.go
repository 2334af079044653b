package rpcfabric

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/storasub/storasub/internal/wireproto"
)

// Handler answers one decoded request envelope and returns the response
// body to encode back. Implementations type-switch on env.Kind.
type Handler func(ctx context.Context, env *wireproto.Envelope) (interface{}, error)

// Server accepts connections from a Listener and dispatches each inbound
// Envelope to Handler, one goroutine per connection/request, matching
// §5's "service front-end MAY be cooperative... but per-request handlers
// run on the pool" — here the pool is simply a goroutine per request,
// which is the idiomatic Go shape for this kind of front-end.
type Server struct {
	listener Listener
	handler  Handler
	log      *zap.Logger

	done chan struct{}
}

// Serve runs the accept loop until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn Conn) {
	defer conn.Close()
	for {
		env, err := ReadEnvelope(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("rpcfabric: read envelope failed", zap.Error(err))
			}
			return
		}

		respBody, err := s.handler(ctx, env)
		if err != nil {
			s.log.Debug("rpcfabric: handler error", zap.String("kind", env.Kind.String()), zap.Error(err))
			return
		}

		respEnv, err := wireproto.NewEnvelope(env.Kind, "", env.Seq, respBody)
		if err != nil {
			s.log.Debug("rpcfabric: build response envelope failed", zap.Error(err))
			return
		}
		if err := WriteEnvelope(conn, respEnv); err != nil {
			s.log.Debug("rpcfabric: write response failed", zap.Error(err))
			return
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// NewServer builds a Server bound to an already-listening Listener.
func NewServer(listener Listener, handler Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{listener: listener, handler: handler, log: log, done: make(chan struct{})}
}
