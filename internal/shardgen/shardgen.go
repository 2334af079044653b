// Package shardgen implements the Shard Generator (§4.1): deterministic
// bulk generation of per-(prover,auditor) data so both sides derive
// identical content without exchanging it.
//
// The PRF is a ChaCha20 keystream keyed by SHA-256(ownerPeer||otherPeer),
// seeked per chunk id — the stream-cipher-in-counter-mode construction
// §4.1 suggests, built on golang.org/x/crypto/chacha20 the way
// sixafter/prng-chacha builds a CSPRNG on the same primitive, except keyed
// deterministically instead of from crypto/rand.
package shardgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/storasub/storasub/internal/shardstore"
)

// nonceSuffix is mixed into the seed hash to derive the fixed nonce; frozen
// once, never varies across deployments (§4.1: "freeze one").
const nonceSuffix = "storasub-nonce-v1"

// Params mirrors the five fields of the frozen generator invocation
// (§9: --db_path/--n_chunks/--chunk_size/--table_name/--only_hash), minus
// db_path and table_name which the caller already has open as a Store.
type Params struct {
	OwnerPeer string
	OtherPeer string
	NChunks   uint64
	ChunkSize int
	OnlyHash  bool
}

func seedFor(ownerPeer, otherPeer string) [32]byte {
	return sha256.Sum256([]byte(ownerPeer + otherPeer))
}

func nonceFor(seed [32]byte) [chacha20.NonceSize]byte {
	full := sha256.Sum256(append(append([]byte{}, seed[:]...), []byte(nonceSuffix)...))
	var nonce [chacha20.NonceSize]byte
	copy(nonce[:], full[:chacha20.NonceSize])
	return nonce
}

// chunkBytes returns the PRF output for chunk id within a pair: the
// chacha20 keystream seeked to the id-th chunkSize-byte block window.
// chunkSize must be a multiple of 64 (the cipher's block size) so the
// seek lands on an exact block boundary and is reproducible across
// independent processes (§4.1 Seed, §8 Determinism).
func chunkBytes(seed [32]byte, nonce [chacha20.NonceSize]byte, id uint64, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 || chunkSize%64 != 0 {
		return nil, fmt.Errorf("shardgen: chunk size %d must be a positive multiple of 64", chunkSize)
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("shardgen: new cipher: %w", err)
	}
	blockOffset := id * uint64(chunkSize) / 64
	cipher.SetCounter(uint32(blockOffset))

	out := make([]byte, chunkSize)
	cipher.XORKeyStream(out, out)
	return out, nil
}

// EncodeChunk freezes the textual encoding of raw chunk bytes (§4.1, §9):
// lowercase hex. This is the data column's representation, the retrieve
// RPC's data field, and the exact text every hash in this module is taken
// over — never the decoded raw bytes.
func EncodeChunk(raw []byte) string {
	return hex.EncodeToString(raw)
}

// DecodeChunk reverses EncodeChunk. Only ever used after a hash check on
// the text form has already passed (§9's redesign note).
func DecodeChunk(text string) ([]byte, error) {
	return hex.DecodeString(text)
}

// HashText computes the frozen SHA-256-of-text hash, lowercase hex.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Row computes the (data, hash) pair for one chunk id under Params.
func Row(p Params, id uint64) (shardstore.Row, error) {
	seed := seedFor(p.OwnerPeer, p.OtherPeer)
	nonce := nonceFor(seed)
	raw, err := chunkBytes(seed, nonce, id, p.ChunkSize)
	if err != nil {
		return shardstore.Row{}, err
	}
	text := EncodeChunk(raw)
	hash := HashText(text)
	if p.OnlyHash {
		return shardstore.Row{ID: id, Data: "", Hash: hash}, nil
	}
	return shardstore.Row{ID: id, Data: text, Hash: hash}, nil
}
