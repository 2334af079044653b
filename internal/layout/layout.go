// Package layout computes the on-disk paths and table identifiers used by
// the shard generator and stores, as specified in §6.1.
package layout

import (
	"fmt"
	"path/filepath"
)

// Role distinguishes the two on-disk subtrees under a hotkey directory.
type Role string

const (
	// RoleMiner is the prover-owned subtree: full data+hash shards.
	RoleMiner Role = "miner"
	// RoleValidator is the auditor-owned subtree: hash-only shards.
	RoleValidator Role = "validator"
)

// Root describes the filesystem root a process operates under:
// <db_root>/<walletName>/<hotkey>/...
type Root struct {
	DBRoot     string
	WalletName string
	Hotkey     string
}

// RoleDir returns <db_root>/<walletName>/<hotkey>/<role>.
func (r Root) RoleDir(role Role) string {
	return filepath.Join(r.DBRoot, r.WalletName, r.Hotkey, string(role))
}

// PairDBPath returns the path of the PairShard database for
// (ownerPeer, otherPeer) under the given role subtree.
func (r Root) PairDBPath(role Role, ownerPeer, otherPeer string) string {
	return filepath.Join(r.RoleDir(role), fmt.Sprintf("DB-%s-%s", ownerPeer, otherPeer))
}

// TableName returns the table identifier for a (ownerPeer, otherPeer) pair:
// the concatenation of both SS58 strings, safe as an identifier because
// SS58 alphabets are alphanumeric.
func TableName(ownerPeer, otherPeer string) string {
	return ownerPeer + otherPeer
}

// DataDir returns <db_root>/<walletName>/<hotkey>/data, the file-sharder's
// placement-index directory.
func (r Root) DataDir() string {
	return filepath.Join(r.DBRoot, r.WalletName, r.Hotkey, "data")
}

// IndexDBPath returns the placement-index path for a given random index name.
func (r Root) IndexDBPath(indexName string) string {
	return filepath.Join(r.DataDir(), indexName+".db")
}

// AllocationsPath returns the path of the persisted AllocationRecord
// snapshot, §6.3.
func (r Root) AllocationsPath() string {
	return filepath.Join(r.DBRoot, r.WalletName, r.Hotkey, "validator-allocations.cbor")
}
