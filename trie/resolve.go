// Package trie implements the core Merkle Patricia Trie algorithms:
// upsert, erase, find, traverse, sub-trie copy and load-all, all built over
// the node, nodecache, pool and statemachine packages.
package trie

import (
	"context"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/nodecache"
	"github.com/erigontech/mpt/pool"
)

// Loader resolves a ChildRef to its node, either returning the in-memory
// node directly or reading and parsing it from the pool through the node
// cache's in-flight-coalescing GetOrLoad.
type Loader struct {
	Cache *nodecache.Cache
	Pool  *pool.Pool
}

// Resolve returns the node ref points to.
func (l *Loader) Resolve(ctx context.Context, ref *node.ChildRef) (*node.Node, error) {
	if ref.InMemory != nil {
		return ref.InMemory, nil
	}
	return l.Cache.GetOrLoad(ctx, ref.Offset, func(ctx context.Context, off chunkoffset.Offset) (*node.Node, error) {
		raw, err := l.Pool.ReadAt(off, ref.DiskSize)
		if err != nil {
			return nil, err
		}
		n, _, err := node.Parse(raw)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
}
