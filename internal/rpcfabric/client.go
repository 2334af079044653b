package rpcfabric

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/storasub/storasub/internal/suberrors"
	"github.com/storasub/storasub/internal/wireproto"
)

// Client issues request/response RPCs against one remote endpoint. Each
// Call dials a fresh connection, per §5's "outbound RPC awaits" suspension
// point; the transport and, transitively, the context deadline bound how
// long a caller waits before treating the peer as unresponsive.
type Client struct {
	transport Transport
	addr      string
	localPeer string
	seq       atomic.Uint64
}

// NewClient builds a Client that dials addr via transport, identifying
// itself as localPeer on every envelope.
func NewClient(transport Transport, addr, localPeer string) *Client {
	return &Client{transport: transport, addr: addr, localPeer: localPeer}
}

// Call sends one request envelope of the given kind and decodes the
// response body into respBody. Returns suberrors-classifiable errors on
// dial/timeout failure: a failed dial is CodeRPCUnavailable, a connection
// deadline hit while sending or awaiting the response is CodeRPCTimeout.
func (c *Client) Call(ctx context.Context, kind wireproto.Kind, reqBody, respBody interface{}) error {
	conn, err := c.transport.Dial(ctx, c.addr)
	if err != nil {
		return suberrors.RPCUnavailable(c.addr, fmt.Errorf("rpcfabric: dial: %w", err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	env, err := wireproto.NewEnvelope(kind, c.localPeer, c.seq.Add(1), reqBody)
	if err != nil {
		return fmt.Errorf("rpcfabric: build request envelope: %w", err)
	}
	if err := WriteEnvelope(conn, env); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return suberrors.RPCTimeout(c.addr)
		}
		return fmt.Errorf("rpcfabric: send request: %w", err)
	}

	respEnv, err := ReadEnvelope(conn)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return suberrors.RPCTimeout(c.addr)
		}
		return fmt.Errorf("rpcfabric: read response: %w", err)
	}
	if respBody != nil {
		if err := respEnv.DecodeBody(respBody); err != nil {
			return fmt.Errorf("rpcfabric: decode response body: %w", err)
		}
	}
	return nil
}

// Ping issues a KindPing call.
func (c *Client) Ping(ctx context.Context) (wireproto.PingResponse, error) {
	var resp wireproto.PingResponse
	err := c.Call(ctx, wireproto.KindPing, wireproto.PingRequest{}, &resp)
	return resp, err
}

// Retrieve issues a KindRetrieve call.
func (c *Client) Retrieve(ctx context.Context, key uint64) (wireproto.RetrieveResponse, error) {
	var resp wireproto.RetrieveResponse
	err := c.Call(ctx, wireproto.KindRetrieve, wireproto.RetrieveRequest{Key: key}, &resp)
	return resp, err
}

// Store issues a KindStore call.
func (c *Client) Store(ctx context.Context, key uint64, data string) (wireproto.StoreResponse, error) {
	var resp wireproto.StoreResponse
	err := c.Call(ctx, wireproto.KindStore, wireproto.StoreRequest{Key: key, Data: data}, &resp)
	return resp, err
}
