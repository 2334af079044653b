// Package wireproto implements the three request kinds of §6.2 (Ping,
// Retrieve, Store) as CBOR envelopes, built on pkg/codec/cborcanon's
// canonical encoding so every peer serializes the same value identically.
package wireproto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/storasub/storasub/pkg/codec/cborcanon"
)

// Kind identifies which of the three RPC shapes an Envelope carries.
type Kind uint16

const (
	// KindPing carries no fields; the response identifies the peer's role.
	KindPing Kind = 1
	// KindRetrieve carries a chunk id and expects text or null back.
	KindRetrieve Kind = 2
	// KindStore carries a chunk id and payload and expects an
	// acknowledgement or failure sentinel back.
	KindStore Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindRetrieve:
		return "retrieve"
	case KindStore:
		return "store"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Marshal encodes v as canonical CBOR via cborcanon's shared encoding
// mode (deterministic key order) rather than a second copy of it.
func Marshal(v interface{}) ([]byte, error) {
	return cborcanon.Marshal(v)
}

// Unmarshal decodes canonical CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cborcanon.Unmarshal(data, v)
}

// Envelope is the common request/response wrapper. Body holds the
// kind-specific payload as a raw, not-yet-decoded CBOR value so the
// receiver can pick a concrete Go type once it has read Kind.
type Envelope struct {
	Kind Kind            `cbor:"kind"`
	From string          `cbor:"from"` // caller's authenticated PeerId
	Seq  uint64          `cbor:"seq"`
	Body cbor.RawMessage `cbor:"body"`
}

// NewEnvelope marshals body and wraps it in an Envelope.
func NewEnvelope(kind Kind, from string, seq uint64, body interface{}) (*Envelope, error) {
	raw, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wireproto: marshal body: %w", err)
	}
	return &Envelope{Kind: kind, From: from, Seq: seq, Body: raw}, nil
}

// DecodeBody unmarshals the envelope's Body into dst, which must be a
// pointer to the concrete struct matching e.Kind.
func (e *Envelope) DecodeBody(dst interface{}) error {
	return Unmarshal(e.Body, dst)
}

// PingRequest carries no fields; Ping is side-effect-free and
// identifies the responder's role per §4.3.
type PingRequest struct{}

// PingResponse carries the responder's "<role>-<version>" string.
type PingResponse struct {
	Data string `cbor:"data"`
}

// RetrieveRequest asks the responder for the chunk stored under Key.
type RetrieveRequest struct {
	Key uint64 `cbor:"key"`
}

// RetrieveResponse carries the stored chunk's text, or nil if Key is
// unknown to the responder.
type RetrieveResponse struct {
	Data *string `cbor:"data"`
}

// StoreRequest asks the responder to overwrite the chunk at Key with Data.
type StoreRequest struct {
	Key  uint64 `cbor:"key"`
	Data string `cbor:"data"`
}

// StoreResponse echoes Key on success; OK is false when the write was
// rejected (capacity exceeded, storage failure), mirroring the -1
// sentinel of §6.2.
type StoreResponse struct {
	Key uint64 `cbor:"key"`
	OK  bool   `cbor:"ok"`
}
