package rpcfabric

import (
	"context"
	"testing"
	"time"

	"github.com/storasub/storasub/internal/wireproto"
)

func startEchoServer(t *testing.T, handler Handler) (addr string, stop func()) {
	t.Helper()
	transport := NewTCPTransport()
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := transport.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	srv := NewServer(ln, handler, nil)
	go func() { _ = srv.Serve(ctx) }()

	return ln.Addr().String(), func() {
		cancel()
		srv.Close()
	}
}

func TestClientServerPing(t *testing.T) {
	addr, stop := startEchoServer(t, func(ctx context.Context, env *wireproto.Envelope) (interface{}, error) {
		if env.Kind != wireproto.KindPing {
			t.Fatalf("unexpected kind %v", env.Kind)
		}
		return wireproto.PingResponse{Data: "prover-1.0.0"}, nil
	})
	defer stop()

	client := NewClient(NewTCPTransport(), addr, "5Auditor")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if resp.Data != "prover-1.0.0" {
		t.Fatalf("Data = %q", resp.Data)
	}
}

func TestClientServerRetrieveNull(t *testing.T) {
	addr, stop := startEchoServer(t, func(ctx context.Context, env *wireproto.Envelope) (interface{}, error) {
		var req wireproto.RetrieveRequest
		if err := env.DecodeBody(&req); err != nil {
			t.Fatalf("DecodeBody: %v", err)
		}
		return wireproto.RetrieveResponse{Data: nil}, nil
	})
	defer stop()

	client := NewClient(NewTCPTransport(), addr, "5Auditor")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Retrieve(ctx, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if resp.Data != nil {
		t.Fatalf("expected nil data")
	}
}

func TestClientDialFailureIsError(t *testing.T) {
	client := NewClient(NewTCPTransport(), "127.0.0.1:1", "5Auditor")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := client.Ping(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
}
