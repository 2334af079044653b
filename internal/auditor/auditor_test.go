package auditor

import (
	"context"
	"testing"

	"github.com/storasub/storasub/internal/layout"
	"github.com/storasub/storasub/internal/peerdirectory"
	"github.com/storasub/storasub/internal/shardgen"
	"github.com/storasub/storasub/internal/wireproto"
)

// fakeProber returns a fixed response for every Retrieve call, standing in
// for a real rpcfabric.Client in these tests.
type fakeProber struct {
	data *string
	err  error
}

func (f fakeProber) Retrieve(ctx context.Context, key uint64) (wireproto.RetrieveResponse, error) {
	if f.err != nil {
		return wireproto.RetrieveResponse{}, f.err
	}
	return wireproto.RetrieveResponse{Data: f.data}, nil
}

func newTestAuditor(t *testing.T, dir *peerdirectory.Directory, prober Prober) *Service {
	t.Helper()
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	gen := shardgen.New(shardgen.WithWorkers(2))
	svc := NewService(root, "5Auditor", "1.0.0", dir, gen,
		func(endpoint string) Prober { return prober },
		WithChunkSize(64), WithDefaultNChunks(8))
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestSampleChunkIDSmallN(t *testing.T) {
	for _, n := range []uint64{0, 1} {
		got, err := sampleChunkID(n, 64)
		if err != nil {
			t.Fatalf("sampleChunkID(%d): %v", n, err)
		}
		if got != 0 {
			t.Fatalf("sampleChunkID(%d) = %d, want 0", n, got)
		}
	}
}

func TestSampleChunkIDNearFrontier(t *testing.T) {
	n := uint64(200)
	d := uint64(64)
	for i := 0; i < 100; i++ {
		got, err := sampleChunkID(n, d)
		if err != nil {
			t.Fatalf("sampleChunkID: %v", err)
		}
		if got < n-d || got > n-1 {
			t.Fatalf("sampleChunkID = %d, want in [%d, %d]", got, n-d, n-1)
		}
	}
}

func TestChallengeSuccessIncreasesEstimate(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: peerdirectory.RoleProver},
	}})

	// Prime the local hash shard so GetHash(0) succeeds, then hand back
	// matching text via the fake prober.
	gen := shardgen.New(shardgen.WithWorkers(1))
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	svc := NewService(root, "5Auditor", "1.0.0", dir, gen, nil, WithChunkSize(64), WithDefaultNChunks(1))
	defer svc.Close()

	row, err := shardgen.Row(shardgen.Params{OwnerPeer: "5Auditor", OtherPeer: "5Prover", NChunks: 1, ChunkSize: 64, OnlyHash: false}, 0)
	if err != nil {
		t.Fatalf("shardgen.Row: %v", err)
	}

	st, err := svc.stateFor("5Prover")
	if err != nil {
		t.Fatalf("stateFor: %v", err)
	}
	if err := st.store.Put(0, row.Data, row.Hash); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data := row.Data
	svc.newProber = func(endpoint string) Prober { return fakeProber{data: &data} }

	if err := svc.challengeOne(context.Background(), "5Prover", "1.2.3.4:9000"); err != nil {
		t.Fatalf("challengeOne: %v", err)
	}

	got := svc.Estimate("5Prover")
	if got != 0+svc.increasingRate {
		t.Fatalf("estimate after success = %d, want %d", got, svc.increasingRate)
	}
}

func TestChallengeFailureDecreasesEstimate(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: peerdirectory.RoleProver},
	}})
	svc := newTestAuditor(t, dir, fakeProber{data: nil})

	svc.setEstimateOnly("5Prover", 200)
	if err := svc.challengeOne(context.Background(), "5Prover", "1.2.3.4:9000"); err != nil {
		t.Fatalf("challengeOne: %v", err)
	}

	got := svc.Estimate("5Prover")
	if got > 200-svc.decreasingRate || got < 1 {
		t.Fatalf("estimate after failure = %d, want in [1, %d]", got, 200-svc.decreasingRate)
	}
}

func TestChallengeFailureFloorsAtOne(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: peerdirectory.RoleProver},
	}})
	svc := newTestAuditor(t, dir, fakeProber{data: nil})

	svc.setEstimateOnly("5Prover", 1)
	if err := svc.challengeOne(context.Background(), "5Prover", "1.2.3.4:9000"); err != nil {
		t.Fatalf("challengeOne: %v", err)
	}

	if got := svc.Estimate("5Prover"); got != 1 {
		t.Fatalf("estimate after failure at floor = %d, want 1", got)
	}
}

func TestSkipsSelfAndZeroEndpoint(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Auditor", Role: peerdirectory.RoleProver},
		{UID: 1, PeerID: "5Zero", Endpoint: "0.0.0.0", Role: peerdirectory.RoleProver},
	}})
	svc := newTestAuditor(t, dir, fakeProber{})

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if svc.Estimate("5Auditor") != 0 {
		t.Fatalf("self peer should not have been challenged")
	}
	if svc.Estimate("5Zero") != 0 {
		t.Fatalf("0.0.0.0 endpoint peer should not have been challenged")
	}
}

func TestRestartContinuityRestoresPersistedEstimate(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: peerdirectory.RoleProver},
	}})
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	gen := shardgen.New(shardgen.WithWorkers(1))

	if err := saveAllocations(root.AllocationsPath(), []AllocationRecord{
		{Hotkey: "5Prover", NChunks: 999, DBPath: "irrelevant"},
	}); err != nil {
		t.Fatalf("saveAllocations: %v", err)
	}

	svc := NewService(root, "5Auditor", "1.0.0", dir, gen, nil, WithChunkSize(64))
	defer svc.Close()

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := svc.Estimate("5Prover"); got != 999 {
		t.Fatalf("restored estimate = %d, want 999 (not DEFAULT_N_CHUNKS)", got)
	}
}

func TestRestoreDefaultsUnknownPeer(t *testing.T) {
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5NewProver", Role: peerdirectory.RoleProver},
	}})
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	gen := shardgen.New(shardgen.WithWorkers(1))
	svc := NewService(root, "5Auditor", "1.0.0", dir, gen, nil, WithChunkSize(64), WithDefaultNChunks(128))
	defer svc.Close()

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := svc.Estimate("5NewProver"); got != 128 {
		t.Fatalf("estimate for unknown peer = %d, want DEFAULT_N_CHUNKS (128)", got)
	}
}

func TestHandleChurnResetsOnPeerIDChange(t *testing.T) {
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	gen := shardgen.New(shardgen.WithWorkers(1))
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5PeerA", Role: peerdirectory.RoleProver},
	}})
	svc := NewService(root, "5Auditor", "1.0.0", dir, gen, nil, WithChunkSize(64), WithDefaultNChunks(128))
	defer svc.Close()

	if err := svc.HandleChurn(context.Background()); err != nil {
		t.Fatalf("HandleChurn (seed uid=0 -> PeerA): %v", err)
	}
	svc.setEstimateOnly("5PeerA", 500)

	// uid=0 now maps to a different PeerId.
	dir2 := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5PeerB", Role: peerdirectory.RoleProver},
	}})
	svc.dir = dir2

	if err := svc.HandleChurn(context.Background()); err != nil {
		t.Fatalf("HandleChurn (churn): %v", err)
	}

	if svc.Estimate("5PeerA") != 0 {
		t.Fatalf("expected old PeerId's estimate to be discarded")
	}
	if got := svc.Estimate("5PeerB"); got != 128 {
		t.Fatalf("new PeerId estimate = %d, want DEFAULT_N_CHUNKS (128)", got)
	}
}

func TestL1Normalize(t *testing.T) {
	got := l1Normalize([]float64{1, 2, 3, 4})
	want := []float64{0.1, 0.2, 0.3, 0.4}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("l1Normalize[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestL1NormalizeAllZero(t *testing.T) {
	got := l1Normalize([]float64{0, 0, 0})
	for _, v := range got {
		if v != 0 {
			t.Fatalf("expected all-zero vector unchanged, got %v", got)
		}
	}
}

func TestScoreTickPersistsAndEmits(t *testing.T) {
	root := layout.Root{DBRoot: t.TempDir(), WalletName: "wallet", Hotkey: "hk"}
	gen := shardgen.New(shardgen.WithWorkers(1))
	dir := peerdirectory.NewStatic(peerdirectory.Snapshot{Records: []peerdirectory.PeerRecord{
		{UID: 0, PeerID: "5Prover", Role: peerdirectory.RoleProver},
	}})

	var emitted []float64
	svc := NewService(root, "5Auditor", "1.0.0", dir, gen, nil,
		WithChunkSize(64),
		WithEmitter(emitterFunc(func(ctx context.Context, w []float64) error {
			emitted = append([]float64{}, w...)
			return nil
		})))
	defer svc.Close()

	svc.setEstimateOnly("5Prover", 100)
	if err := svc.ScoreTick(context.Background()); err != nil {
		t.Fatalf("ScoreTick: %v", err)
	}

	if len(emitted) != 1 || emitted[0] != 1.0 {
		t.Fatalf("emitted = %v, want [1.0]", emitted)
	}

	records, err := loadAllocations(root.AllocationsPath())
	if err != nil {
		t.Fatalf("loadAllocations: %v", err)
	}
	if len(records) != 1 || records[0].Hotkey != "5Prover" || records[0].NChunks != 100 {
		t.Fatalf("persisted records = %+v", records)
	}
}

type emitterFunc func(ctx context.Context, weights []float64) error

func (f emitterFunc) EmitWeights(ctx context.Context, weights []float64) error {
	return f(ctx, weights)
}
