// Package nodecache implements a bounded, byte-budgeted cache of parsed
// nodes keyed by their on-disk chunk offset, with in-flight read
// coalescing so concurrent lookups of the same offset share one load.
package nodecache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/node"
)

// Loader fetches and parses the node at off when it is not already cached.
type Loader func(ctx context.Context, off chunkoffset.Offset) (*node.Node, error)

// Cache bounds resident nodes by an approximate byte budget rather than by
// entry count, since node sizes vary widely with value/path length.
type Cache struct {
	mu            sync.Mutex
	lru           *lru.LRU[chunkoffset.Offset, *node.Node]
	capacityBytes int64
	usedBytes     int64

	group singleflight.Group
}

// New builds a Cache with the given approximate byte capacity.
func New(capacityBytes int64) *Cache {
	c := &Cache{capacityBytes: capacityBytes}
	// The underlying simplelru is capped at 1<<24 entries; below that cap,
	// eviction is driven by evictOverBudgetLocked's byte accounting.
	inner, err := lru.NewLRU[chunkoffset.Offset, *node.Node](1<<24, c.onEvict)
	if err != nil {
		panic(fmt.Sprintf("nodecache: simplelru.NewLRU: %v", err))
	}
	c.lru = inner
	return c
}

func (c *Cache) onEvict(_ chunkoffset.Offset, n *node.Node) {
	c.usedBytes -= int64(n.ApproxSize())
}

// Get returns the cached node at off, if present, without affecting
// in-flight loads.
func (c *Cache) Get(off chunkoffset.Offset) (*node.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(off)
}

// Insert adds or replaces the cached node at off and evicts the coldest
// entries if the byte budget is now exceeded.
func (c *Cache) Insert(off chunkoffset.Offset, n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(off, n)
}

func (c *Cache) insertLocked(off chunkoffset.Offset, n *node.Node) {
	if old, ok := c.lru.Peek(off); ok {
		c.usedBytes -= int64(old.ApproxSize())
	}
	c.lru.Add(off, n)
	c.usedBytes += int64(n.ApproxSize())
	c.evictOverBudgetLocked()
}

func (c *Cache) evictOverBudgetLocked() {
	for c.usedBytes > c.capacityBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// Evict drops off from the cache, if present.
func (c *Cache) Evict(off chunkoffset.Offset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(off)
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// UsedBytes reports the current approximate byte footprint.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// GetOrLoad returns the cached node at off, or invokes load exactly once
// across all concurrent callers requesting the same offset (in-flight read
// coalescing), caching the result on success.
func (c *Cache) GetOrLoad(ctx context.Context, off chunkoffset.Offset, load Loader) (*node.Node, error) {
	if n, ok := c.Get(off); ok {
		return n, nil
	}

	key := fmt.Sprintf("%d:%d", off.ChunkID(), off.InChunk())
	v, err, _ := c.group.Do(key, func() (any, error) {
		if n, ok := c.Get(off); ok {
			return n, nil
		}
		n, err := load(ctx, off)
		if err != nil {
			return nil, err
		}
		c.Insert(off, n)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Node), nil
}
