package auditor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// AllocationRecord is the persisted per-prover capacity estimate, §6.3.
type AllocationRecord struct {
	Hotkey  string `cbor:"hotkey"`
	NChunks uint64 `cbor:"n_chunks"`
	DBPath  string `cbor:"db_path"`
}

// loadAllocations reads a persisted snapshot, returning an empty slice (not
// an error) if the file doesn't exist yet — the first-ever run.
func loadAllocations(path string) ([]AllocationRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auditor: read allocations: %w", err)
	}
	var records []AllocationRecord
	if err := cbor.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("auditor: decode allocations: %w", err)
	}
	return records, nil
}

// saveAllocations persists records atomically via temp-file + rename, §6.3.
func saveAllocations(path string, records []AllocationRecord) error {
	raw, err := cbor.Marshal(records)
	if err != nil {
		return fmt.Errorf("auditor: encode allocations: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("auditor: mkdir allocations dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".allocations-*.tmp")
	if err != nil {
		return fmt.Errorf("auditor: create temp allocations file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("auditor: write temp allocations file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auditor: close temp allocations file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("auditor: rename allocations file: %w", err)
	}
	return nil
}
