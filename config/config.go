// Package config loads the TOML configuration for the storage engine: pool
// file layout, chunk sizing, history retention, cache budget and reactor
// tuning. The CLI that constructs a Config is out of scope for this module;
// only the struct and its loader live here.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration for a pool-backed trie database.
type Config struct {
	// PoolPaths lists the backing chunk files, in chunk-id order. A single
	// path is the common case; more than one lets chunks be striped across
	// distinct volumes.
	PoolPaths []string `toml:"pool_paths"`

	// ChunkCapacity is the fixed size of every chunk in the pool.
	ChunkCapacity datasize.ByteSize `toml:"chunk_capacity"`

	// ChunkCount is the fixed number of chunks the pool file is
	// preallocated to hold.
	ChunkCount uint32 `toml:"chunk_count"`

	// HistoryLength is the number of most-recent versions whose roots stay
	// reachable in the root-offset ring.
	HistoryLength uint64 `toml:"history_length"`

	// CacheCapacity bounds the node cache's approximate byte budget.
	CacheCapacity datasize.ByteSize `toml:"cache_capacity"`

	// WorkerCount is a worker count for callers that build an
	// aio/worker.Pool. Validate checks it; nothing else in this module
	// reads it, so no component chooses its reactor from it.
	WorkerCount int `toml:"worker_count"`

	// WorkerQueueDepth is a per-worker queue depth for an aio/worker.Pool;
	// NewRODb also uses it as the completion-queue depth of the reactor it
	// creates when none is supplied.
	WorkerQueueDepth int `toml:"worker_queue_depth"`

	// CompactionThresholdChunks is the free-list low-water mark below which
	// UpdateAux triggers a compaction pass (Open Question decision #2).
	CompactionThresholdChunks int `toml:"compaction_threshold_chunks"`

	// LockPath is the advisory lock file path taken by a read-write Db.
	LockPath string `toml:"lock_path"`
}

const (
	MinHistoryLength          = 2
	MinChunkCapacity          = 64 * datasize.MB
	MaxChunkCapacity          = 1024 * datasize.MB
	DefaultCompactionChunks   = 1
	DefaultWorkerQueueDepth   = 256
)

// Default returns a Config with the values spec.md §6.5 lists as defaults.
func Default() Config {
	return Config{
		ChunkCapacity:             256 * datasize.MB,
		ChunkCount:                1024,
		HistoryLength:             1000,
		CacheCapacity:             256 * datasize.MB,
		WorkerCount:               0,
		WorkerQueueDepth:          DefaultWorkerQueueDepth,
		CompactionThresholdChunks: DefaultCompactionChunks,
		LockPath:                  "",
	}
}

// Load reads and validates a TOML config file, starting from Default() so
// unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.LockPath == "" && len(cfg.PoolPaths) > 0 {
		cfg.LockPath = cfg.PoolPaths[0] + ".lock"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration bounds from spec.md §6.5.
func (c Config) Validate() error {
	if len(c.PoolPaths) == 0 {
		return fmt.Errorf("config: at least one pool_paths entry is required")
	}
	if c.HistoryLength < MinHistoryLength {
		return fmt.Errorf("config: history_length %d below minimum %d", c.HistoryLength, MinHistoryLength)
	}
	if c.ChunkCapacity < MinChunkCapacity || c.ChunkCapacity > MaxChunkCapacity {
		return fmt.Errorf("config: chunk_capacity %s out of range [%s, %s]", c.ChunkCapacity, MinChunkCapacity, MaxChunkCapacity)
	}
	if c.ChunkCount == 0 {
		return fmt.Errorf("config: chunk_count must be > 0")
	}
	if c.CompactionThresholdChunks < 0 {
		return fmt.Errorf("config: compaction_threshold_chunks must be >= 0")
	}
	if c.WorkerCount < 0 {
		return fmt.Errorf("config: worker_count must be >= 0")
	}
	return nil
}
