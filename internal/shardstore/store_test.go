package shardstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "DB-owner-other")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(3, "deadbeef", "abc123"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, hash, err := s.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data != "deadbeef" || hash != "abc123" {
		t.Fatalf("Get = (%q, %q)", data, hash)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Get(99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBulkInsertAndCount(t *testing.T) {
	s := openTestStore(t)

	rows := make([]Row, 0, 10)
	for i := uint64(0); i < 10; i++ {
		rows = append(rows, Row{ID: i, Data: "x", Hash: "h"})
	}
	if err := s.BulkInsert(rows); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 10 {
		t.Fatalf("Count = %d, want 10", n)
	}
}

func TestTruncateAbove(t *testing.T) {
	s := openTestStore(t)

	rows := make([]Row, 0, 10)
	for i := uint64(0); i < 10; i++ {
		rows = append(rows, Row{ID: i, Data: "x", Hash: "h"})
	}
	if err := s.BulkInsert(rows); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	if err := s.TruncateAbove(5); err != nil {
		t.Fatalf("TruncateAbove: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Fatalf("Count after truncate = %d, want 5", n)
	}

	if _, _, err := s.Get(5); err != ErrNotFound {
		t.Fatalf("expected id 5 deleted")
	}
	if _, _, err := s.Get(4); err != nil {
		t.Fatalf("expected id 4 to survive truncate: %v", err)
	}
}

func TestGetHash(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(1, "", "onlyhash"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	h, err := s.GetHash(1)
	if err != nil {
		t.Fatalf("GetHash: %v", err)
	}
	if h != "onlyhash" {
		t.Fatalf("GetHash = %q", h)
	}
}
