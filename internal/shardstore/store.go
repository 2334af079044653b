// Package shardstore implements the Local Shard Store (§4.2): a single
// embedded, transactional, indexed key/value store per PairShard. Badger
// is the retrieval pack's only embedded transactional KV engine (see
// Voskan/arena-cache's examples/disk_eject), so it stands in for the
// single-file SQL engine spec.md describes; each PairShard becomes one
// badger directory instead of one SQL file, with the same point
// lookup/update and bulk-rebuild contract.
package shardstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/storasub/storasub/internal/wireproto"
)

// ErrNotFound is returned by Get/GetHash when the id has no row.
var ErrNotFound = errors.New("shardstore: id not found")

// Row is one PairShard record: id, textual chunk encoding, and its hash.
type Row struct {
	ID   uint64
	Data string
	Hash string
}

// record is the badger value payload for one row.
type record struct {
	Data string `cbor:"data"`
	Hash string `cbor:"hash"`
}

// Store wraps one badger database representing a single PairShard table.
type Store struct {
	db   *badger.DB
	path string
	mu   sync.Mutex // serializes writers; badger allows concurrent readers
}

// Open opens (creating if absent) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("shardstore: open %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's on-disk directory.
func (s *Store) Path() string { return s.path }

func key(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func idFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

// Get returns the (data, hash) pair stored under id.
func (s *Store) Get(id uint64) (data, hash string, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var rec record
			if derr := wireproto.Unmarshal(val, &rec); derr != nil {
				return fmt.Errorf("%w: %v", errStoreCorrupt, derr)
			}
			data, hash = rec.Data, rec.Hash
			return nil
		})
	})
	return data, hash, err
}

// GetHash returns only the hash column for id, the read path the auditor
// uses against its only_hash shards.
func (s *Store) GetHash(id uint64) (hash string, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var rec record
			if derr := wireproto.Unmarshal(val, &rec); derr != nil {
				return fmt.Errorf("%w: %v", errStoreCorrupt, derr)
			}
			hash = rec.Hash
			return nil
		})
	})
	return hash, err
}

// Put inserts or replaces the row at id.
func (s *Store) Put(id uint64, data, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := wireproto.Marshal(record{Data: data, Hash: hash})
	if err != nil {
		return fmt.Errorf("shardstore: encode row %d: %w", id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), val)
	})
}

// BulkInsert writes every row through one badger WriteBatch, the
// throughput path the generator uses to materialize a shard. The batch
// commits in as many transactions as badger needs, so the rows are not
// written as one atomic unit: a failure part-way can leave some rows stored.
func (s *Store) BulkInsert(rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range rows {
		val, err := wireproto.Marshal(record{Data: r.Data, Hash: r.Hash})
		if err != nil {
			return fmt.Errorf("shardstore: encode row %d: %w", r.ID, err)
		}
		if err := wb.Set(key(r.ID), val); err != nil {
			return fmt.Errorf("shardstore: batch set row %d: %w", r.ID, err)
		}
	}
	return wb.Flush()
}

// TruncateAbove deletes every row with id >= id, the shrink path.
func (s *Store) TruncateAbove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if idFromKey(k) >= id {
				toDelete = append(toDelete, k)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of rows currently stored, used to recover
// n_chunks on reopen.
func (s *Store) Count() (uint64, error) {
	var n uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

var errStoreCorrupt = errors.New("shardstore: corrupt row")

// IsCorrupt reports whether err indicates schema drift or an unreadable
// row, per §4.1's StoreCorrupt failure mode.
func IsCorrupt(err error) bool {
	return errors.Is(err, errStoreCorrupt)
}
