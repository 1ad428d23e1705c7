package mptdb

import (
	"context"

	"github.com/erigontech/mpt/config"
	"github.com/erigontech/mpt/mlog"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
	"github.com/erigontech/mpt/updateaux"
)

// Db is the read-write facade: it owns an UpdateAux and the state machine
// driving digest/auto-expire/cache policy for every upsert. Db has no
// reactor of its own: every call goes straight to UpdateAux, whose mutex
// serializes it.
type Db struct {
	log *mlog.Logger
	aux *updateaux.UpdateAux
	sm  statemachine.Machine
}

// Create initializes a brand-new backing pool, metadata region and lock
// file for cfg, ready to accept its first Upsert (at any version).
func Create(cfg config.Config, sm statemachine.Machine) (*Db, error) {
	aux, err := updateaux.Create(cfg)
	if err != nil {
		return nil, err
	}
	return &Db{log: mlog.New("mptdb"), aux: aux, sm: sm}, nil
}

// Open reopens an existing pool and metadata region, restoring the latest
// durable version as the current root.
func Open(cfg config.Config, sm statemachine.Machine) (*Db, error) {
	aux, err := updateaux.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Db{log: mlog.New("mptdb"), aux: aux, sm: sm}, nil
}

// Close releases the underlying pool, metadata region and lock file.
func (db *Db) Close() error {
	db.log.Info("closing")
	return db.aux.Close()
}

// Upsert applies updates in key order at version, which must be strictly
// greater than GetLatestVersion. compact requests a compaction step beyond
// whatever the free-list threshold would trigger on its own.
func (db *Db) Upsert(ctx context.Context, updates []updateaux.Update, version uint64, compact bool) (*node.ChildRef, error) {
	return db.aux.DoUpdate(ctx, db.sm, updates, version, compact)
}

// Get returns the value stored for key as of version, ErrKeyMismatch if key
// is absent (whether never set or diverging from a stored compressed
// path), or ErrVersionNoLongerExists if version falls outside the retained
// window.
func (db *Db) Get(ctx context.Context, key nibble.Path, version uint64) ([]byte, error) {
	root, err := db.aux.LoadRootForVersion(version)
	if err != nil {
		return nil, err
	}
	n, found, err := trie.FindExact(ctx, db.aux.Loader(), root, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyMismatch
	}
	return n.Value, nil
}

// GetData returns the state-machine-computed digest stored at prefix as of
// version, regardless of whether that node also holds a value. Returns
// ErrKeyMismatch if no node exists at exactly that path, or (nil, nil) if
// the node exists but the state machine never computed a digest for it.
func (db *Db) GetData(ctx context.Context, prefix nibble.Path, version uint64) ([]byte, error) {
	root, err := db.aux.LoadRootForVersion(version)
	if err != nil {
		return nil, err
	}
	n, found, err := trie.FindNodeByPrefix(ctx, db.aux.Loader(), root, prefix)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyMismatch
	}
	if !n.HasData {
		return nil, nil
	}
	return n.Data, nil
}

// Cursor identifies a resolved node reached by Find, for callers that want
// to inspect the node (its digest, whether it holds a value) rather than
// just the value bytes Get returns.
type Cursor struct {
	Path nibble.Path
	Node *node.Node
}

// Find resolves key as of version and returns a Cursor over the terminal
// node, distinguishing "absent" (false, nil error) from a path mismatch
// (ErrKeyMismatch).
func (db *Db) Find(ctx context.Context, key nibble.Path, version uint64) (Cursor, bool, error) {
	root, err := db.aux.LoadRootForVersion(version)
	if err != nil {
		return Cursor{}, false, err
	}
	n, found, err := trie.FindExact(ctx, db.aux.Loader(), root, key)
	if err != nil {
		return Cursor{}, false, err
	}
	if !found {
		return Cursor{}, false, nil
	}
	return Cursor{Path: key, Node: n}, true, nil
}

// Traverse walks the trie as of version depth-first, pre-order, calling
// visitor.Visit on every node reached.
func (db *Db) Traverse(ctx context.Context, version uint64, visitor trie.Visitor) error {
	root, err := db.aux.LoadRootForVersion(version)
	if err != nil {
		return err
	}
	return trie.Traverse(ctx, db.aux.Loader(), root, visitor)
}

// CopyTrie grafts the sub-trie at srcPrefix as of srcVersion onto dstPrefix,
// durably recorded as dstVersion. See updateaux.UpdateAux.CopyTrie for the
// createIfAbsent semantics.
func (db *Db) CopyTrie(ctx context.Context, srcVersion uint64, srcPrefix nibble.Path, dstVersion uint64, dstPrefix nibble.Path, createIfAbsent bool) (*node.ChildRef, error) {
	return db.aux.CopyTrie(ctx, db.sm, srcVersion, srcPrefix, dstVersion, dstPrefix, createIfAbsent)
}

// MoveTrieVersionForward re-labels ring[src] as dst without re-encoding any
// node, invalidating every version strictly between them.
func (db *Db) MoveTrieVersionForward(src, dst uint64) error {
	return db.aux.MoveTrieVersionForward(src, dst)
}

// LoadRootForVersion resolves the root reference recorded for version, or
// ErrVersionNoLongerExists if it falls outside the retained window.
func (db *Db) LoadRootForVersion(version uint64) (*node.ChildRef, error) {
	return db.aux.LoadRootForVersion(version)
}

// GetLatestVersion returns max_version and whether any version has ever
// been recorded.
func (db *Db) GetLatestVersion() (uint64, bool) { return db.aux.GetLatestVersion() }

// GetEarliestVersion returns min_valid_version, the oldest version still
// reachable.
func (db *Db) GetEarliestVersion() uint64 { return db.aux.GetEarliestVersion() }

// GetHistoryLength returns the configured retention window length.
func (db *Db) GetHistoryLength() uint64 { return db.aux.GetHistoryLength() }

// SetHistoryLength changes the logical retention window, bounded by the
// ring's fixed physical capacity set at Create time.
func (db *Db) SetHistoryLength(n uint64) error { return db.aux.SetHistoryLength(n) }

// RewindToVersion discards every version after w.
func (db *Db) RewindToVersion(w uint64) error { return db.aux.RewindToVersion(w) }

// Loader exposes the node loader backing this Db, for callers composing
// their own trie-package reads (LoadAll, CopySubtrie) outside the facade's
// convenience methods.
func (db *Db) Loader() *trie.Loader { return db.aux.Loader() }
