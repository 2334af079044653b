package peerdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// fileRecord is the on-disk JSON shape of one PeerRecord; Role is spelled
// out as a string so the fixture file stays human-editable.
type fileRecord struct {
	UID      uint32  `json:"uid"`
	PeerID   string  `json:"peer_id"`
	Endpoint string  `json:"endpoint"`
	Stake    float64 `json:"stake"`
	Role     string  `json:"role"`
}

// FileSource loads a Snapshot from a JSON fixture, re-reading the file on
// every Fetch. Stands in for the real chain client (§1: external
// collaborator, pinned at the boundary only) the same way beenet's
// identity.LoadFromFile/SaveToFile stand in for a real keystore: a plain
// JSON file an operator can hand-edit to run cmd/prover or cmd/auditor
// without a chain connected.
type FileSource struct {
	Path string
}

// Fetch reads and parses the fixture at Path.
func (f FileSource) Fetch(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("peerdirectory: read %s: %w", f.Path, err)
	}

	var raw []fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("peerdirectory: parse %s: %w", f.Path, err)
	}

	records := make([]PeerRecord, 0, len(raw))
	for _, r := range raw {
		role := RoleProver
		if r.Role == "auditor" {
			role = RoleAuditor
		}
		records = append(records, PeerRecord{
			UID:      r.UID,
			PeerID:   r.PeerID,
			Endpoint: r.Endpoint,
			Stake:    r.Stake,
			Role:     role,
		})
	}
	return Snapshot{Records: records}, nil
}
