// Package peerdirectory pins the externally-supplied peer directory
// boundary of §6: an ordered roster of PeerIds with endpoint, stake, and
// role metadata, refreshed by the chain client every step. It adapts the
// membership-record shape of beenet's internal/dht presence tracking and
// pkg/swim member list to a directory this module only reads, never
// computes via gossip or failure detection.
package peerdirectory

import (
	"context"
	"sync/atomic"
)

// Role bits identify what a PeerId is permitted to do against a Prover.
type Role int

const (
	// RoleProver identifies a miner: it serves data, never challenges.
	RoleProver Role = iota
	// RoleAuditor identifies a validator: it is permitted to call
	// retrieve/store against a Prover (§4.3 admission).
	RoleAuditor
)

// PeerRecord is one directory entry, §3: PeerDirectory.
type PeerRecord struct {
	UID      uint32
	PeerID   string
	Endpoint string
	Stake    float64
	Role     Role
}

// Snapshot is an ordered, indexed-by-uid view of the directory at one
// instant.
type Snapshot struct {
	Records []PeerRecord
}

// ByUID returns the record at uid, or false if uid is out of range.
func (s Snapshot) ByUID(uid uint32) (PeerRecord, bool) {
	if int(uid) >= len(s.Records) {
		return PeerRecord{}, false
	}
	return s.Records[uid], true
}

// ByPeerID finds the record for peer, or false if absent.
func (s Snapshot) ByPeerID(peer string) (PeerRecord, bool) {
	for _, r := range s.Records {
		if r.PeerID == peer {
			return r, true
		}
	}
	return PeerRecord{}, false
}

// IsAuditor reports whether peer is present in the directory with the
// auditor role bit set, the §4.3 admission check.
func (s Snapshot) IsAuditor(peer string) bool {
	r, ok := s.ByPeerID(peer)
	return ok && r.Role == RoleAuditor
}

// Source is the externally-supplied chain client boundary: something that
// can be asked for the current roster.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Directory exposes the latest Snapshot, replaced atomically every tick
// (§5: "the peer directory is replaced atomically each tick").
type Directory struct {
	current atomic.Pointer[Snapshot]
}

// NewStatic builds a Directory that never refreshes itself, for tests and
// single-shot tools.
func NewStatic(snap Snapshot) *Directory {
	d := &Directory{}
	d.current.Store(&snap)
	return d
}

// Current returns the latest snapshot.
func (d *Directory) Current() Snapshot {
	if p := d.current.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Refresh pulls a new snapshot from source and atomically replaces Current.
func (d *Directory) Refresh(ctx context.Context, source Source) error {
	snap, err := source.Fetch(ctx)
	if err != nil {
		return err
	}
	d.current.Store(&snap)
	return nil
}
