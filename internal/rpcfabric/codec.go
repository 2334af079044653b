package rpcfabric

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/storasub/storasub/internal/wireproto"
)

// maxFrameSize bounds a single Envelope's wire size; generous enough for
// one chunk (4 MiB raw -> 8 MiB hex text) plus framing overhead.
const maxFrameSize = 16 << 20

// WriteEnvelope writes a length-prefixed, CBOR-encoded Envelope to w.
func WriteEnvelope(w io.Writer, env *wireproto.Envelope) error {
	data, err := wireproto.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpcfabric: marshal envelope: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("rpcfabric: envelope too large: %d bytes", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpcfabric: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("rpcfabric: write envelope body: %w", err)
	}
	return nil
}

// ReadEnvelope reads one length-prefixed, CBOR-encoded Envelope from r.
func ReadEnvelope(r io.Reader) (*wireproto.Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("rpcfabric: envelope too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rpcfabric: read envelope body: %w", err)
	}
	var env wireproto.Envelope
	if err := wireproto.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("rpcfabric: unmarshal envelope: %w", err)
	}
	return &env, nil
}
