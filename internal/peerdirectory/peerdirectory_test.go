package peerdirectory

import (
	"context"
	"testing"
)

func TestSnapshotLookups(t *testing.T) {
	snap := Snapshot{Records: []PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: RoleProver},
		{UID: 1, PeerID: "5Auditor", Role: RoleAuditor},
	}}

	if !snap.IsAuditor("5Auditor") {
		t.Fatalf("expected 5Auditor to be recognized as auditor")
	}
	if snap.IsAuditor("5Prover") {
		t.Fatalf("5Prover must not be an auditor")
	}
	if snap.IsAuditor("5Unknown") {
		t.Fatalf("unknown peer must not be an auditor")
	}

	rec, ok := snap.ByUID(1)
	if !ok || rec.PeerID != "5Auditor" {
		t.Fatalf("ByUID(1) = %+v, %v", rec, ok)
	}

	if _, ok := snap.ByUID(99); ok {
		t.Fatalf("expected out-of-range uid to miss")
	}
}

type fakeSource struct {
	snap Snapshot
	err  error
}

func (f fakeSource) Fetch(ctx context.Context) (Snapshot, error) { return f.snap, f.err }

func TestDirectoryRefreshReplacesAtomically(t *testing.T) {
	d := NewStatic(Snapshot{Records: []PeerRecord{{UID: 0, PeerID: "5Old"}}})

	if rec, _ := d.Current().ByUID(0); rec.PeerID != "5Old" {
		t.Fatalf("expected initial snapshot")
	}

	src := fakeSource{snap: Snapshot{Records: []PeerRecord{{UID: 0, PeerID: "5New"}}}}
	if err := d.Refresh(context.Background(), src); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if rec, _ := d.Current().ByUID(0); rec.PeerID != "5New" {
		t.Fatalf("expected refreshed snapshot, got %+v", rec)
	}
}
