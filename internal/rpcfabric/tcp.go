package rpcfabric

import (
	"context"
	"fmt"
	"net"
)

// tcpTransport is the reference Transport implementation: plain TCP,
// no transport security (see package doc — that belongs to the external
// fabric in a real deployment).
type tcpTransport struct{}

// NewTCPTransport returns the reference TCP Transport.
func NewTCPTransport() Transport {
	return &tcpTransport{}
}

func (t *tcpTransport) Name() string { return "tcp" }

func (t *tcpTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcfabric: listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (t *tcpTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcfabric: dial %s: %w", addr, err)
	}
	return conn, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{conn: c, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
