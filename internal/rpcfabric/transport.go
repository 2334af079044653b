// Package rpcfabric pins the boundary contract of §6: request/response
// envelopes travel over some transport supplied by an external RPC fabric.
// This package defines that boundary as a small interface (mirroring
// beenet's pkg/transport.Transport) and ships one concrete reference
// transport (plain TCP) so the rest of this module can be exercised
// end-to-end without depending on whatever fabric a real deployment plugs
// in. Authentication, retries, and multiplexing belong to that external
// fabric; this reference transport carries only what §6.2 needs: a
// length-prefixed Envelope per request/response.
package rpcfabric

import (
	"context"
	"net"
)

// Transport is the pinned boundary: something that can listen for and
// dial connections carrying framed Envelopes.
type Transport interface {
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
	Name() string
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Conn is a framed duplex byte stream.
type Conn interface {
	net.Conn
}
