// Package suberrors defines the typed error kinds of §7: each carries a
// stable code, a retryability bit, and an optional wrapped cause, following
// the shape of beenet's pkg/content.ContentError.
package suberrors

import (
	"errors"
	"fmt"
)

// Code is a stable, comparable error kind.
type Code string

const (
	// CodeInsufficientSpace: desired allocation exceeds available filesystem
	// bytes (§4.1). Fatal for the allocation call.
	CodeInsufficientSpace Code = "INSUFFICIENT_SPACE"
	// CodeStoreCorrupt: schema drift or unreadable row in a PairShard (§4.2).
	// The containing pair is rebuilt from scratch on the next tick.
	CodeStoreCorrupt Code = "STORE_CORRUPT"
	// CodeRPCTimeout: an outbound RPC did not complete before its deadline.
	CodeRPCTimeout Code = "RPC_TIMEOUT"
	// CodeRPCUnavailable: an outbound RPC could not be dispatched at all
	// (dial failure, closed connection).
	CodeRPCUnavailable Code = "RPC_UNAVAILABLE"
	// CodeUnauthorized: caller is not a directory member in the auditor role.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeHashMismatch: returned chunk text hashes to something other than
	// the expected hash.
	CodeHashMismatch Code = "HASH_MISMATCH"
	// CodeChunkMissing: no candidate yielded a valid chunk during file
	// retrieval. Fatal for the containing retrieval.
	CodeChunkMissing Code = "CHUNK_MISSING"
	// CodeDirectoryDesync: the PeerId indexed by a uid no longer matches
	// what the auditor expected.
	CodeDirectoryDesync Code = "DIRECTORY_DESYNC"
	// CodeInsufficientCapacity: no prover candidate accepted a chunk after
	// exhausting retries during a file-sharder store (§4.5).
	CodeInsufficientCapacity Code = "INSUFFICIENT_CAPACITY"
)

// Error is the single typed error used throughout this module.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether retrying the operation might succeed.
func (e *Error) IsRetryable() bool { return e.Retryable }

func new(code Code, retryable bool, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

func wrap(code Code, retryable bool, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: retryable, Cause: cause}
}

// InsufficientSpace builds a CodeInsufficientSpace error.
func InsufficientSpace(pairTable string, cause error) *Error {
	return wrap(CodeInsufficientSpace, false, cause, "insufficient space to allocate shard %s", pairTable)
}

// StoreCorrupt builds a CodeStoreCorrupt error.
func StoreCorrupt(path string, cause error) *Error {
	return wrap(CodeStoreCorrupt, false, cause, "store corrupt at %s", path)
}

// RPCTimeout builds a CodeRPCTimeout error.
func RPCTimeout(peer string) *Error {
	return new(CodeRPCTimeout, true, "rpc to %s timed out", peer)
}

// RPCUnavailable builds a CodeRPCUnavailable error.
func RPCUnavailable(peer string, cause error) *Error {
	return wrap(CodeRPCUnavailable, true, cause, "rpc to %s unavailable", peer)
}

// Unauthorized builds a CodeUnauthorized error with a stable reason string.
func Unauthorized(peer, reason string) *Error {
	return new(CodeUnauthorized, false, "peer %s rejected: %s", peer, reason)
}

// HashMismatch builds a CodeHashMismatch error.
func HashMismatch(peer string, chunkID uint64) *Error {
	return new(CodeHashMismatch, false, "hash mismatch from %s at chunk %d", peer, chunkID)
}

// ChunkMissing builds a CodeChunkMissing error.
func ChunkMissing(chunkID uint64) *Error {
	return new(CodeChunkMissing, false, "no candidate served chunk %d", chunkID)
}

// DirectoryDesync builds a CodeDirectoryDesync error.
func DirectoryDesync(uid uint32, expected, actual string) *Error {
	return new(CodeDirectoryDesync, false, "uid %d expected peer %s, got %s", uid, expected, actual)
}

// InsufficientCapacity builds a CodeInsufficientCapacity error.
func InsufficientCapacity(chunkNumber int) *Error {
	return new(CodeInsufficientCapacity, false, "no prover accepted chunk %d after retries", chunkNumber)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
