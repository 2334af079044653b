package sharder

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// ErrChunkNotIndexed is returned when a chunk number has no recorded
// placement at all.
var ErrChunkNotIndexed = errors.New("sharder: chunk not indexed")

// Placement is one row of the placement index: which prover (and which
// chunk id on that prover's store) holds a copy of a file chunk, §6.1's
// "saved_data(chunk_id, miner_hotkey, miner_key)". A chunk number may have
// more than one Placement when CHUNK_STORE_COUNT places it redundantly.
//
// Hash is the sharder's own SHA-256-of-text for the stored chunk, computed
// once at store time. §4.5 retrieve describes fetching "the expected
// per-chunk hash from the local PairShard", but arbitrary file content has
// no PairShard of its own (that concept belongs to the deterministic
// generator, C1) — carrying the hash alongside the placement is the
// faithful reading of "verify against a hash you already know locally".
type Placement struct {
	MinerHotkey string `cbor:"miner_hotkey"`
	MinerKey    uint64 `cbor:"miner_key"`
	Hash        string `cbor:"hash"`
}

// PlacementIndex is the badger-backed per-file placement index, one badger
// directory per stored file named after a random 256-bit hex string.
// Keys are <chunkNumber:8 bytes big-endian><candidate:4 bytes big-endian>
// so every successful candidate for a chunk gets its own row.
type PlacementIndex struct {
	db   *badger.DB
	path string
}

// randomIndexName generates a random 256-bit name, hex-encoded to stay
// consistent with the generator's frozen text encoding, for a new
// placement index / stored file.
func randomIndexName() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sharder: generate index name: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// OpenPlacementIndex creates (if absent) or reopens the placement index at path.
func OpenPlacementIndex(path string) (*PlacementIndex, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sharder: open placement index %s: %w", path, err)
	}
	return &PlacementIndex{db: db, path: path}, nil
}

func (idx *PlacementIndex) Close() error { return idx.db.Close() }

func (idx *PlacementIndex) Path() string { return idx.path }

func placementKey(chunkNumber int, candidate int) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b[:8], uint64(chunkNumber))
	binary.BigEndian.PutUint32(b[8:], uint32(candidate))
	return b
}

func chunkPrefix(chunkNumber int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(chunkNumber))
	return b
}

// Put records that chunkNumber's candidate-th accepted copy landed on p.
func (idx *PlacementIndex) Put(chunkNumber, candidate int, p Placement) error {
	raw, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("sharder: encode placement: %w", err)
	}
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(placementKey(chunkNumber, candidate), raw)
	})
}

// GetAll returns every recorded Placement for chunkNumber, in candidate
// order, or ErrChunkNotIndexed if none were ever recorded.
func (idx *PlacementIndex) GetAll(chunkNumber int) ([]Placement, error) {
	var placements []Placement
	err := idx.db.View(func(txn *badger.Txn) error {
		prefix := chunkPrefix(chunkNumber)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Placement
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			placements = append(placements, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(placements) == 0 {
		return nil, ErrChunkNotIndexed
	}
	return placements, nil
}

// ChunkCount returns max(chunk_id)+1 over all recorded placements, the
// total chunk count for the file (§4.5 retrieve step 1).
func (idx *PlacementIndex) ChunkCount() (int, error) {
	max := -1
	err := idx.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := int(binary.BigEndian.Uint64(key[:8]))
			if id > max {
				max = id
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
