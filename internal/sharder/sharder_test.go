package sharder

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/wireproto"
)

// fakeProver is an in-memory stand-in for a prover's store/retrieve RPCs,
// keyed by id, so sharder tests don't need a real rpcfabric round trip.
type fakeProver struct {
	mu   sync.Mutex
	rows map[uint64]string
	fail bool
}

func newFakeProver() *fakeProver { return &fakeProver{rows: make(map[uint64]string)} }

func (f *fakeProver) Store(ctx context.Context, key uint64, data string) (wireproto.StoreResponse, error) {
	if f.fail {
		return wireproto.StoreResponse{OK: false}, nil
	}
	f.mu.Lock()
	f.rows[key] = data
	f.mu.Unlock()
	return wireproto.StoreResponse{Key: key, OK: true}, nil
}

func (f *fakeProver) Retrieve(ctx context.Context, key uint64) (wireproto.RetrieveResponse, error) {
	f.mu.Lock()
	data, ok := f.rows[key]
	f.mu.Unlock()
	if !ok {
		return wireproto.RetrieveResponse{Data: nil}, nil
	}
	return wireproto.RetrieveResponse{Data: &data}, nil
}

func fleetDirectory(peers ...string) (*peerdirectory.Directory, map[string]*fakeProver) {
	fleet := make(map[string]*fakeProver, len(peers))
	records := make([]peerdirectory.PeerRecord, 0, len(peers))
	for i, p := range peers {
		fleet[p] = newFakeProver()
		records = append(records, peerdirectory.PeerRecord{
			UID: uint32(i), PeerID: p, Endpoint: p + ":9000", Role: peerdirectory.RoleProver,
		})
	}
	return peerdirectory.NewStatic(peerdirectory.Snapshot{Records: records}), fleet
}

func TestFileSharderRoundTrip(t *testing.T) {
	dir, fleet := fleetDirectory("5P1", "5P2", "5P3")
	newClient := func(endpoint string) StoreRetriever {
		for peer, prover := range fleet {
			if endpoint == peer+":9000" {
				return prover
			}
		}
		t.Fatalf("no fake prover for endpoint %q", endpoint)
		return nil
	}

	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	s := New(root, "5Auditor", dir, newClient, WithChunkSize(4))

	// 15-byte input split into 4-byte chunks -> 4 chunks (4, 4, 4, 3).
	input := []byte("hello storasub!")
	name, err := s.Store(context.Background(), bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	var out bytes.Buffer
	if err := s.Retrieve(context.Background(), name, &out); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if !bytes.Equal(out.Bytes(), input) {
		t.Fatalf("round trip mismatch: got %q, want %q", out.Bytes(), input)
	}

	idx, err := OpenPlacementIndex(root.IndexDBPath(name))
	if err != nil {
		t.Fatalf("OpenPlacementIndex: %v", err)
	}
	defer idx.Close()
	count, err := idx.ChunkCount()
	if err != nil {
		t.Fatalf("ChunkCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("ChunkCount = %d, want 4", count)
	}
}

func TestStoreFailsWhenNoCandidateAccepts(t *testing.T) {
	dir, fleet := fleetDirectory("5P1")
	fleet["5P1"].fail = true
	newClient := func(endpoint string) StoreRetriever { return fleet["5P1"] }

	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	s := New(root, "5Auditor", dir, newClient, WithChunkSize(4), WithLimitLoopCount(1))

	_, err := s.Store(context.Background(), bytes.NewReader([]byte("abcd")))
	if err == nil {
		t.Fatalf("expected Store to fail when every candidate rejects")
	}
}

func TestRetrieveFailsOnHashMismatch(t *testing.T) {
	dir, fleet := fleetDirectory("5P1")
	newClient := func(endpoint string) StoreRetriever { return fleet["5P1"] }

	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	s := New(root, "5Auditor", dir, newClient, WithChunkSize(4))

	name, err := s.Store(context.Background(), bytes.NewReader([]byte("abcd")))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Corrupt the prover's stored bytes after placement.
	fleet["5P1"].mu.Lock()
	fleet["5P1"].rows[0] = shardgen.EncodeChunk([]byte("XXXX"))
	fleet["5P1"].mu.Unlock()

	var out bytes.Buffer
	err = s.Retrieve(context.Background(), name, &out)
	if err == nil {
		t.Fatalf("expected Retrieve to fail on hash mismatch")
	}
}

func TestSkipsSelfAndZeroEndpointCandidates(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Auditor", Endpoint: "5Auditor:9000", Role: peerdirectory.RoleProver},
		{UID: 1, PeerID: "5Zero", Endpoint: "0.0.0.0", Role: peerdirectory.RoleProver},
	}})
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	s := New(root, "5Auditor", dir, nil, WithChunkSize(4))

	got := s.pickCandidates(4, map[string]bool{})
	if len(got) != 0 {
		t.Fatalf("expected self and 0.0.0.0 peers to be excluded, got %+v", got)
	}
}
