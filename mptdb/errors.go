// Package mptdb is the composition root: it wires updateaux's coordinator
// and metadata's double-buffered region behind the read-write and
// read-only Db facades spec'd as the engine's only public entry point,
// re-exporting the handful of sentinels a caller needs to classify a
// failure without reaching into the lower packages directly.
package mptdb

import (
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/pool"
	"github.com/erigontech/mpt/trie"
)

// ErrVersionNoLongerExists is returned when a lookup targets a version
// outside [get_earliest_version, get_latest_version] at the moment of the
// call.
var ErrVersionNoLongerExists = trie.ErrVersionNoLongerExists

// ErrKeyMismatch is returned when the requested key is not present at the
// requested version: Get returns it both when the key diverges from a
// stored compressed path and when it is simply absent.
var ErrKeyMismatch = trie.ErrKeyMismatch

// ErrBadNode is returned when a persisted node fails to parse; this should
// never happen against a healthy pool.
var ErrBadNode = node.ErrBadNode

// ErrIoError is the sentinel every OS-level I/O failure wraps.
var ErrIoError = pool.ErrIoError

// ErrOutOfChunks is returned when the free list is exhausted. The history
// window is not shortened to free a chunk before it is returned.
var ErrOutOfChunks = pool.ErrOutOfChunks
