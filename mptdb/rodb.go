package mptdb

import (
	"context"

	"github.com/erigontech/mpt/aio"
	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/config"
	"github.com/erigontech/mpt/metadata"
	"github.com/erigontech/mpt/mlog"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/nodecache"
	"github.com/erigontech/mpt/pool"
	"github.com/erigontech/mpt/trie"
)

// RODb is the read-only facade: it maps the same pool and metadata region a
// writer owns, polls its own (or a shared) reactor, and re-derives the
// retained version window on every lookup from the metadata region's
// double buffer rather than caching it, so it always observes the writer's
// most recent durable state. It never takes the writer's advisory lock, so
// any number of RODb instances may coexist with one writing Db.
type RODb struct {
	log          *mlog.Logger
	pool         *pool.Pool
	region       *metadata.Region
	loader       *trie.Loader
	reactor      *aio.Reactor
	ringCapacity uint64
}

// NewRODb opens cfg's backing pool and metadata region for reading. If
// reactor is nil, a private one is created with cfg.WorkerQueueDepth;
// passing the same reactor to several NewRODb calls lets them share one
// completion queue, per spec.
func NewRODb(cfg config.Config, reactor *aio.Reactor) (*RODb, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolPath := cfg.PoolPaths[0]
	metaPath := poolPath + ".meta"

	p, err := pool.Open(poolPath, uint32(cfg.ChunkCapacity), cfg.ChunkCount)
	if err != nil {
		return nil, err
	}
	region, err := metadata.Open(metaPath, cfg.HistoryLength, cfg.ChunkCount)
	if err != nil {
		p.Close()
		return nil, err
	}
	if reactor == nil {
		reactor = aio.New(cfg.WorkerQueueDepth)
	}
	cache := nodecache.New(int64(cfg.CacheCapacity))
	return &RODb{
		log:          mlog.New("mptdb-ro"),
		pool:         p,
		region:       region,
		loader:       &trie.Loader{Cache: cache, Pool: p},
		reactor:      reactor,
		ringCapacity: cfg.HistoryLength,
	}, nil
}

// Close unmaps this instance's pool and metadata region. It does not close
// a reactor passed in by the caller — the caller owns that lifecycle since
// it may be shared with other RODb instances.
func (r *RODb) Close() error {
	r.log.Info("closing read-only handle")
	var firstErr error
	if err := r.region.Close(); err != nil {
		firstErr = err
	}
	if err := r.pool.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// blocking submits op to this RODb's reactor and busy-polls it until the
// single submitted operation completes, the pattern every blocking method
// below uses instead of calling the pool directly, so a caller mixing
// blocking and Async-suffixed calls against the same RODb always drains
// through one serialization point.
func (r *RODb) blocking(op aio.Op) (any, error) {
	var (
		result any
		opErr  error
		done   bool
	)
	if err := r.reactor.Submit(op, func(res any, err error) {
		result, opErr = res, err
		done = true
	}); err != nil {
		return nil, err
	}
	for !done {
		r.reactor.Poll(true)
	}
	return result, opErr
}

func (r *RODb) loadRootForVersion(v uint64) (*node.ChildRef, error) {
	r.region.Refresh()
	hdr := r.region.ReadHeader()
	if !hdr.HasMaxVersion || v < hdr.MinValidVersion || v > hdr.MaxVersion {
		return nil, ErrVersionNoLongerExists
	}
	ring := r.region.ReadRing()
	slot := v % r.ringCapacity
	entry := ring[slot]
	if !entry.Valid || entry.Version != v {
		return nil, ErrVersionNoLongerExists
	}
	if !entry.Root.IsValid() {
		return nil, nil
	}
	return r.loadRootRef(entry.Root)
}

func (r *RODb) loadRootRef(off chunkoffset.Offset) (*node.ChildRef, error) {
	remaining := r.pool.Capacity() - off.InChunk()
	raw, err := r.pool.ReadAt(off, remaining)
	if err != nil {
		return nil, err
	}
	n, consumed, err := node.Parse(raw)
	if err != nil {
		return nil, err
	}
	ref := &node.ChildRef{Offset: off, DiskSize: uint32(consumed)}
	r.loader.Cache.Insert(off, n)
	return ref, nil
}

// Get returns the value stored for key as of version, busy-polling this
// RODb's reactor for the duration of the call.
func (r *RODb) Get(ctx context.Context, key nibble.Path, version uint64) ([]byte, error) {
	res, err := r.blocking(func() (any, error) {
		root, err := r.loadRootForVersion(version)
		if err != nil {
			return nil, err
		}
		n, found, err := trie.FindExact(ctx, r.loader, root, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrKeyMismatch
		}
		return n.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// GetData returns the digest stored at prefix as of version.
func (r *RODb) GetData(ctx context.Context, prefix nibble.Path, version uint64) ([]byte, error) {
	res, err := r.blocking(func() (any, error) {
		root, err := r.loadRootForVersion(version)
		if err != nil {
			return nil, err
		}
		n, found, err := trie.FindNodeByPrefix(ctx, r.loader, root, prefix)
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
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.([]byte), nil
}

// Find resolves key as of version and returns a Cursor over the terminal
// node, mirroring Db.Find.
func (r *RODb) Find(ctx context.Context, key nibble.Path, version uint64) (Cursor, bool, error) {
	type result struct {
		cur   Cursor
		found bool
	}
	res, err := r.blocking(func() (any, error) {
		root, err := r.loadRootForVersion(version)
		if err != nil {
			return nil, err
		}
		n, found, err := trie.FindExact(ctx, r.loader, root, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return result{}, nil
		}
		return result{cur: Cursor{Path: key, Node: n}, found: true}, nil
	})
	if err != nil {
		return Cursor{}, false, err
	}
	out := res.(result)
	return out.cur, out.found, nil
}

// Traverse walks the trie as of version depth-first, pre-order.
func (r *RODb) Traverse(ctx context.Context, version uint64, visitor trie.Visitor) error {
	_, err := r.blocking(func() (any, error) {
		root, err := r.loadRootForVersion(version)
		if err != nil {
			return nil, err
		}
		return nil, trie.Traverse(ctx, r.loader, root, visitor)
	})
	return err
}

// GetLatestVersion returns the most recently observed max_version.
func (r *RODb) GetLatestVersion() (uint64, bool) {
	r.region.Refresh()
	hdr := r.region.ReadHeader()
	return hdr.MaxVersion, hdr.HasMaxVersion
}

// GetEarliestVersion returns the most recently observed min_valid_version.
func (r *RODb) GetEarliestVersion() uint64 {
	r.region.Refresh()
	return r.region.ReadHeader().MinValidVersion
}

// GetHistoryLength returns the most recently observed logical retention
// window length.
func (r *RODb) GetHistoryLength() uint64 {
	r.region.Refresh()
	return r.region.ReadHeader().HistoryLength
}

// Reactor exposes the reactor this RODb polls, so a caller driving several
// RODb instances from one event loop can Poll it directly instead of going
// through the blocking wrappers above.
func (r *RODb) Reactor() *aio.Reactor { return r.reactor }
