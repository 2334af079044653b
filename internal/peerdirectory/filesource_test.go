package peerdirectory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	fixture := `[
		{"uid": 0, "peer_id": "5Prover", "endpoint": "5Prover:9000", "stake": 10, "role": "prover"},
		{"uid": 1, "peer_id": "5Auditor", "endpoint": "5Auditor:9000", "stake": 0, "role": "auditor"}
	]`
	if err := os.WriteFile(path, []byte(fixture), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	snap, err := (FileSource{Path: path}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(snap.Records))
	}

	prover, ok := snap.ByUID(0)
	if !ok || prover.PeerID != "5Prover" || prover.Role != RoleProver || prover.Stake != 10 {
		t.Fatalf("prover record = %+v", prover)
	}
	if !snap.IsAuditor("5Auditor") {
		t.Fatalf("expected 5Auditor to carry the auditor role")
	}
}

func TestFileSourceFetchMissingFile(t *testing.T) {
	_, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}).Fetch(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing fixture")
	}
}

func TestFileSourceFetchInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := (FileSource{Path: path}).Fetch(context.Background())
	if err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
