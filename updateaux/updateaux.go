// Package updateaux implements the update coordinator: the component that
// owns the pool's fast/slow append streams and the metadata region's
// root-offset ring, turning a sequence of in-memory trie upserts into a
// durable new version while driving compaction, expiration and history
// retention.
package updateaux

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/flock"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/config"
	"github.com/erigontech/mpt/metadata"
	"github.com/erigontech/mpt/mlog"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/nodecache"
	"github.com/erigontech/mpt/pool"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
)

// Update is a single key mutation applied within one do_update call.
// Erase true means the key is removed rather than set to Value.
type Update struct {
	Key   nibble.Path
	Value []byte
	Erase bool
}

// UpdateAux is the C9 coordinator: it drives C8's trie algorithms over an
// append-only pool, persisting the resulting root in the metadata
// region's version ring and reclaiming space via compaction.
type UpdateAux struct {
	mu sync.Mutex

	log    *mlog.Logger
	pool   *pool.Pool
	region *metadata.Region
	cache  *nodecache.Cache
	loader *trie.Loader
	lock   *flock.Flock

	fast *stream
	slow *stream

	// ringCapacity is the physical entry count of the metadata region's
	// ring, fixed for the life of the backing files. historyLength is the
	// logical retention window used for eviction math; SetHistoryLength
	// may change it within [0, ringCapacity] without touching the region's
	// on-disk layout.
	ringCapacity    uint64
	historyLength   uint64
	minValidVersion uint64
	maxVersion      uint64
	hasMaxVersion   bool
	ring            []metadata.RingEntry

	compactionThreshold uint32

	root *node.ChildRef
}

// Create initializes a brand-new pool file, metadata region and lock file
// described by cfg.
func Create(cfg config.Config) (*UpdateAux, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolPath := cfg.PoolPaths[0]
	metaPath := poolPath + ".meta"

	p, err := pool.Create(poolPath, uint32(cfg.ChunkCapacity), cfg.ChunkCount)
	if err != nil {
		return nil, fmt.Errorf("updateaux: create pool: %w", err)
	}
	region, err := metadata.Create(metaPath, uint32(cfg.ChunkCapacity), cfg.ChunkCount, cfg.HistoryLength)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("updateaux: create metadata region: %w", err)
	}

	aux := newUpdateAux(cfg, p, region)
	if err := aux.acquireLock(cfg.LockPath); err != nil {
		region.Close()
		p.Close()
		return nil, err
	}
	if err := aux.persist(); err != nil {
		aux.Close()
		return nil, err
	}
	return aux, nil
}

// Open reopens an existing pool file and metadata region, rebuilding the
// in-memory chunk lists and stream positions from the persisted state.
func Open(cfg config.Config) (*UpdateAux, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolPath := cfg.PoolPaths[0]
	metaPath := poolPath + ".meta"

	p, err := pool.Open(poolPath, uint32(cfg.ChunkCapacity), cfg.ChunkCount)
	if err != nil {
		return nil, fmt.Errorf("updateaux: open pool: %w", err)
	}
	region, err := metadata.Open(metaPath, cfg.HistoryLength, cfg.ChunkCount)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("updateaux: open metadata region: %w", err)
	}

	hdr := region.ReadHeader()
	table := region.ReadChunkTable()
	states := make([]pool.ChunkListState, len(table))
	for i, e := range table {
		states[i] = pool.ChunkListState{ChunkID: uint32(i), Tag: pool.ListTag(e.Tag), InsertionCount: e.InsertionCount}
	}
	p.Restore(states)

	aux := newUpdateAux(cfg, p, region)
	aux.minValidVersion = hdr.MinValidVersion
	aux.maxVersion = hdr.MaxVersion
	aux.hasMaxVersion = hdr.HasMaxVersion
	aux.historyLength = hdr.HistoryLength
	aux.ring = region.ReadRing()

	if aux.hasMaxVersion {
		slot := aux.maxVersion % aux.ringCapacity
		entry := aux.ring[slot]
		if entry.Valid && entry.Version == aux.maxVersion && entry.Root.IsValid() {
			root, err := aux.loadRootRef(entry.Root)
			if err != nil {
				aux.Close()
				return nil, fmt.Errorf("updateaux: load root for version %d: %w", aux.maxVersion, err)
			}
			aux.root = root
		}
	}

	aux.resumeStreams()

	if err := aux.acquireLock(cfg.LockPath); err != nil {
		aux.Close()
		return nil, err
	}
	return aux, nil
}

func newUpdateAux(cfg config.Config, p *pool.Pool, region *metadata.Region) *UpdateAux {
	ring := make([]metadata.RingEntry, cfg.HistoryLength)
	for i := range ring {
		ring[i].Root = chunkoffset.Invalid
	}
	cache := nodecache.New(int64(cfg.CacheCapacity))
	return &UpdateAux{
		log:                 mlog.New("updateaux"),
		pool:                p,
		region:              region,
		cache:               cache,
		loader:              &trie.Loader{Cache: cache, Pool: p},
		fast:                newStream(p, pool.ListFast),
		slow:                newStream(p, pool.ListSlow),
		ringCapacity:        cfg.HistoryLength,
		historyLength:       cfg.HistoryLength,
		ring:                ring,
		compactionThreshold: uint32(cfg.CompactionThresholdChunks),
	}
}

func (aux *UpdateAux) acquireLock(path string) error {
	if path == "" {
		return nil
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return fmt.Errorf("updateaux: acquire lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("updateaux: lock %s already held by another process", path)
	}
	aux.lock = l
	return nil
}

// resumeStreams marks each stream's current tail chunk as exhausted, so
// the next Write allocates a fresh chunk instead of risking a write into
// whatever fill level the previous process session left the chunk at (the
// chunk table persists list membership, not an exact byte cursor). This
// trades a little space in the last chunk of each list for the simpler,
// always-safe invariant that a resumed stream never overwrites live bytes.
func (aux *UpdateAux) resumeStreams() {
	if id, ok := tailOf(aux.pool, pool.ListFast); ok {
		aux.fast.resume(id, aux.pool.Capacity())
	}
	if id, ok := tailOf(aux.pool, pool.ListSlow); ok {
		aux.slow.resume(id, aux.pool.Capacity())
	}
}

func tailOf(p *pool.Pool, tag pool.ListTag) (uint32, bool) {
	id, ok := p.ListHead(tag)
	if !ok {
		return 0, false
	}
	for {
		next, ok := p.Next(id)
		if !ok {
			return id, true
		}
		id = next
	}
}

func (aux *UpdateAux) loadRootRef(off chunkoffset.Offset) (*node.ChildRef, error) {
	remaining := aux.pool.Capacity() - off.InChunk()
	raw, err := aux.pool.ReadAt(off, remaining)
	if err != nil {
		return nil, err
	}
	n, consumed, err := node.Parse(raw)
	if err != nil {
		return nil, err
	}
	ref := &node.ChildRef{Offset: off, DiskSize: uint32(consumed)}
	aux.cache.Insert(off, n)
	return ref, nil
}

// GetHistoryLength returns the configured retention window length.
func (aux *UpdateAux) GetHistoryLength() uint64 {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	return aux.historyLength
}

// GetEarliestVersion returns min_valid_version.
func (aux *UpdateAux) GetEarliestVersion() uint64 {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	return aux.minValidVersion
}

// GetLatestVersion returns max_version and whether any version has ever
// been recorded.
func (aux *UpdateAux) GetLatestVersion() (uint64, bool) {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	return aux.maxVersion, aux.hasMaxVersion
}

// Loader exposes the coordinator's node loader, for read paths (find,
// traverse) layered on top by mptdb.
func (aux *UpdateAux) Loader() *trie.Loader { return aux.loader }

// Root returns the current (most recently updated) root reference.
func (aux *UpdateAux) Root() *node.ChildRef {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	return aux.root
}

// LoadRootForVersion resolves the root reference recorded for version v,
// or ErrVersionNoLongerExists / ErrKeyMismatch-style absence per spec.
func (aux *UpdateAux) LoadRootForVersion(v uint64) (*node.ChildRef, error) {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	return aux.loadRootForVersionLocked(v)
}

func (aux *UpdateAux) loadRootForVersionLocked(v uint64) (*node.ChildRef, error) {
	if !aux.hasMaxVersion || v < aux.minValidVersion || v > aux.maxVersion {
		return nil, trie.ErrVersionNoLongerExists
	}
	slot := v % aux.ringCapacity
	entry := aux.ring[slot]
	if !entry.Valid || entry.Version != v {
		return nil, trie.ErrVersionNoLongerExists
	}
	if v == aux.maxVersion {
		return aux.root, nil
	}
	if !entry.Root.IsValid() {
		return nil, nil
	}
	return aux.loadRootRef(entry.Root)
}

// DoUpdate applies updates in order at version v, flushes every newly
// produced node to the fast stream, records the new root in the ring,
// advances the retention window, and runs a compaction step if compact is
// requested or the free list has fallen to the configured threshold.
func (aux *UpdateAux) DoUpdate(ctx context.Context, sm statemachine.Machine, updates []Update, v uint64, compact bool) (*node.ChildRef, error) {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	if aux.hasMaxVersion && v <= aux.maxVersion {
		return nil, fmt.Errorf("%w: got %d, current max_version %d", ErrVersionOutOfOrder, v, aux.maxVersion)
	}

	root := aux.root
	var err error
	for _, u := range updates {
		if u.Erase {
			root, err = trie.Erase(ctx, aux.loader, root, u.Key, v, sm)
		} else {
			root, err = trie.Upsert(ctx, aux.loader, root, u.Key, u.Value, v, sm)
		}
		if err != nil {
			return nil, err
		}
	}

	flushed, err := aux.flushTree(root, aux.fast)
	if err != nil {
		return nil, err
	}
	aux.root = flushed

	aux.setRingLocked(v, flushed)
	aux.advanceRetentionLocked(v)

	if compact || aux.shouldCompactLocked() {
		if err := aux.runCompactionStepLocked(ctx, sm, v); err != nil {
			return nil, err
		}
	}

	if err := aux.persist(); err != nil {
		return nil, err
	}
	aux.log.Info("do_update applied", "version", v, "updates", len(updates), "compact", compact)
	return aux.root, nil
}

func (aux *UpdateAux) setRingLocked(v uint64, root *node.ChildRef) {
	slot := v % aux.ringCapacity
	off := chunkoffset.Invalid
	if root != nil {
		off = root.Offset
	}
	aux.ring[slot] = metadata.RingEntry{Root: off, Version: v, Valid: true}
	aux.maxVersion = v
	aux.hasMaxVersion = true
}

func (aux *UpdateAux) advanceRetentionLocked(v uint64) {
	newMin := uint64(0)
	if v+1 > aux.historyLength {
		newMin = v + 1 - aux.historyLength
	}
	if newMin <= aux.minValidVersion {
		return
	}
	for i := range aux.ring {
		if aux.ring[i].Valid && aux.ring[i].Version < newMin {
			aux.ring[i].Valid = false
		}
	}
	aux.minValidVersion = newMin
}

// flushTree walks ref bottom-up, serializing and writing every not-yet-
// flushed node to stream, leaving already-flushed children untouched.
func (aux *UpdateAux) flushTree(ref *node.ChildRef, s *stream) (*node.ChildRef, error) {
	if ref == nil {
		return nil, nil
	}
	if ref.InMemory == nil {
		return ref, nil
	}
	n := ref.InMemory
	for i := 0; i < 16; i++ {
		if n.Children[i] == nil {
			continue
		}
		newChild, err := aux.flushTree(n.Children[i], s)
		if err != nil {
			return nil, err
		}
		n.Children[i] = newChild
	}
	data, err := n.Serialize()
	if err != nil {
		return nil, err
	}
	off, err := s.Write(data)
	if err != nil {
		return nil, err
	}
	aux.cache.Insert(off, n)
	return &node.ChildRef{
		Offset:               off,
		DiskSize:             uint32(len(data)),
		Data:                 ref.Data,
		SubtrieMinVersion:    ref.SubtrieMinVersion,
		HasSubtrieMinVersion: ref.HasSubtrieMinVersion,
	}, nil
}

// persist stages the current header/ring/chunk-table state into the
// metadata region's inactive buffer and flips the active-buffer selector.
func (aux *UpdateAux) persist() error {
	hdr := metadata.Header{
		ChunkCapacity:   aux.pool.Capacity(),
		ChunkCount:      aux.pool.Count(),
		HistoryLength:   aux.historyLength,
		MinValidVersion: aux.minValidVersion,
		MaxVersion:      aux.maxVersion,
		HasMaxVersion:   aux.hasMaxVersion,
	}
	table := make([]metadata.ChunkEntry, aux.pool.Count())
	for i := range table {
		id := uint32(i)
		tag := aux.pool.Tag(id)
		next, hasNext := aux.pool.Next(id)
		n := int32(-1)
		if hasNext {
			n = int32(next)
		}
		table[i] = metadata.ChunkEntry{
			Tag:            uint8(tag),
			Prev:           -1,
			Next:           n,
			InsertionCount: aux.pool.InsertionCount(id),
		}
	}
	if err := aux.region.Swap(hdr, aux.ring, table); err != nil {
		return fmt.Errorf("updateaux: persist metadata: %w", err)
	}
	if err := aux.pool.Sync(); err != nil {
		return fmt.Errorf("updateaux: sync pool: %w", err)
	}
	return nil
}

// Close releases the pool, metadata region and lock file.
func (aux *UpdateAux) Close() error {
	aux.mu.Lock()
	defer aux.mu.Unlock()
	var firstErr error
	if aux.lock != nil {
		if err := aux.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := aux.region.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := aux.pool.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
