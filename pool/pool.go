// Package pool implements the fixed-size chunk-partitioned storage pool: a
// backing file divided into equal-capacity chunks, addressed by the
// chunkoffset package, with free/fast/slow intrusive doubly-linked chunk
// lists tracking which chunks are unused, hold the append-heavy fast
// stream, or hold the compacted slow stream.
package pool

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/sizemath"
)

// ErrOutOfChunks is returned by Allocate when the free list is empty. A
// pool's chunk count is fixed at Create; the pool never grows.
var ErrOutOfChunks = errors.New("pool: out of free chunks")

// ErrIoError is the sentinel every I/O failure from this package wraps, so
// callers can classify pool failures with errors.Is regardless of the
// underlying syscall error.
var ErrIoError = errors.New("pool: io error")

// ErrChunkOutOfRange is returned when a chunk id is outside [0, Count()).
var ErrChunkOutOfRange = errors.New("pool: chunk id out of range")

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("pool: %s: %w: %w", op, ErrIoError, err)
}

// ListTag names one of the pool's three intrusive chunk lists.
type ListTag uint8

const (
	ListFree ListTag = iota
	ListFast
	ListSlow

	numLists = 3
)

func (t ListTag) String() string {
	switch t {
	case ListFree:
		return "free"
	case ListFast:
		return "fast"
	case ListSlow:
		return "slow"
	default:
		return "unknown"
	}
}

type chunkMeta struct {
	tag            ListTag
	prev, next     int32 // -1 sentinel
	insertionCount uint64
}

// Pool manages a single backing file of fixed-capacity chunks.
type Pool struct {
	mu sync.Mutex

	file          *os.File
	fd            int
	chunkCapacity uint32
	chunks        []chunkMeta

	heads [numLists]int32
	tails [numLists]int32
	sizes [numLists]uint32

	nextInsertion uint64
}

// Create allocates a new pool file with chunkCount chunks of chunkCapacity
// bytes each, all starting on the free list, and preallocates the backing
// file's extent with Fallocate. If Fallocate fails it falls back to
// Truncate, which sets the file size without reserving blocks.
func Create(path string, chunkCapacity uint32, chunkCount uint32) (*Pool, error) {
	sizeU, overflow := sizemath.SafeMul(uint64(chunkCapacity), uint64(chunkCount))
	if overflow {
		return nil, fmt.Errorf("pool: chunk_capacity %d * chunk_count %d overflows a file size", chunkCapacity, chunkCount)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, wrapIO("create", err)
	}
	size := int64(sizeU)
	fd := int(f.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err != nil {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, wrapIO("truncate", err)
		}
	}

	p := &Pool{
		file:          f,
		fd:            fd,
		chunkCapacity: chunkCapacity,
		chunks:        make([]chunkMeta, chunkCount),
	}
	for i := range p.heads {
		p.heads[i] = -1
		p.tails[i] = -1
	}
	for i := uint32(0); i < chunkCount; i++ {
		p.chunks[i] = chunkMeta{tag: ListFree, prev: -1, next: -1}
		p.pushTailLocked(ListFree, i)
	}
	return p, nil
}

// Open reopens an existing pool file. The chunk list structure itself
// (free/fast/slow membership) is not recoverable from the raw file alone;
// callers reconstruct it from the metadata region via Restore.
func Open(path string, chunkCapacity uint32, chunkCount uint32) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrapIO("open", err)
	}
	p := &Pool{
		file:          f,
		fd:            int(f.Fd()),
		chunkCapacity: chunkCapacity,
		chunks:        make([]chunkMeta, chunkCount),
	}
	for i := range p.heads {
		p.heads[i] = -1
		p.tails[i] = -1
	}
	for i := range p.chunks {
		p.chunks[i] = chunkMeta{tag: ListFree, prev: -1, next: -1}
	}
	return p, nil
}

// ChunkListState is a snapshot of one chunk's list membership, used to
// restore pool bookkeeping from the persisted metadata region.
type ChunkListState struct {
	ChunkID        uint32
	Tag            ListTag
	InsertionCount uint64
}

// Restore rebuilds the in-memory chunk lists from a persisted snapshot,
// ordered by ascending InsertionCount within each tag.
func (p *Pool) Restore(states []ChunkListState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.chunks {
		p.chunks[i] = chunkMeta{tag: ListFree, prev: -1, next: -1}
	}
	for i := range p.heads {
		p.heads[i] = -1
		p.tails[i] = -1
		p.sizes[i] = 0
	}
	ordered := append([]ChunkListState(nil), states...)
	sortByInsertion(ordered)
	var maxInsertion uint64
	for _, s := range ordered {
		p.chunks[s.ChunkID].insertionCount = s.InsertionCount
		p.pushTailLocked(s.Tag, s.ChunkID)
		if s.InsertionCount > maxInsertion {
			maxInsertion = s.InsertionCount
		}
	}
	p.nextInsertion = maxInsertion
}

func sortByInsertion(s []ChunkListState) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1].InsertionCount > s[j].InsertionCount {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}

// Capacity returns the fixed per-chunk byte capacity.
func (p *Pool) Capacity() uint32 { return p.chunkCapacity }

// Count returns the total number of chunks in the pool.
func (p *Pool) Count() uint32 { return uint32(len(p.chunks)) }

// ListSize returns how many chunks currently sit on the named list.
func (p *Pool) ListSize(tag ListTag) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizes[tag]
}

// ListHead returns the chunk id at the head of the named list, or false if
// that list is empty.
func (p *Pool) ListHead(tag ListTag) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.heads[tag]
	if h < 0 {
		return 0, false
	}
	return uint32(h), true
}

// Next returns the chunk following chunkID on its current list, or false if
// chunkID is the tail.
func (p *Pool) Next(chunkID uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.chunks[chunkID].next
	if n < 0 {
		return 0, false
	}
	return uint32(n), true
}

// Tag returns chunkID's current list membership.
func (p *Pool) Tag(chunkID uint32) ListTag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks[chunkID].tag
}

// Allocate pops the head of the free list and appends it to the tail of
// tag, returning ErrOutOfChunks if no chunk is free.
func (p *Pool) Allocate(tag ListTag) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.heads[ListFree]
	if h < 0 {
		return 0, ErrOutOfChunks
	}
	p.unlinkLocked(uint32(h))
	p.pushTailLocked(tag, uint32(h))
	return uint32(h), nil
}

// Release removes chunkID from its current list and returns it to the tail
// of the free list.
func (p *Pool) Release(chunkID uint32) error {
	if chunkID >= uint32(len(p.chunks)) {
		return ErrChunkOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlinkLocked(chunkID)
	p.pushTailLocked(ListFree, chunkID)
	return nil
}

// MoveToTail unlinks chunkID from whichever list holds it and re-appends it
// to the tail of tag, refreshing its insertion order. No other package in
// this module calls it.
func (p *Pool) MoveToTail(chunkID uint32, tag ListTag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlinkLocked(chunkID)
	p.pushTailLocked(tag, chunkID)
}

func (p *Pool) unlinkLocked(chunkID uint32) {
	c := &p.chunks[chunkID]
	if c.prev >= 0 {
		p.chunks[c.prev].next = c.next
	} else {
		p.heads[c.tag] = c.next
	}
	if c.next >= 0 {
		p.chunks[c.next].prev = c.prev
	} else {
		p.tails[c.tag] = c.prev
	}
	p.sizes[c.tag]--
	c.prev, c.next = -1, -1
}

func (p *Pool) pushTailLocked(tag ListTag, chunkID uint32) {
	c := &p.chunks[chunkID]
	c.tag = tag
	c.prev = p.tails[tag]
	c.next = -1
	if p.tails[tag] >= 0 {
		p.chunks[p.tails[tag]].next = int32(chunkID)
	} else {
		p.heads[tag] = int32(chunkID)
	}
	p.tails[tag] = int32(chunkID)
	p.nextInsertion++
	c.insertionCount = p.nextInsertion
	p.sizes[tag]++
}

// InsertionCount returns chunkID's sequence number within its current list,
// used to order compaction's low-water-mark scan.
func (p *Pool) InsertionCount(chunkID uint32) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks[chunkID].insertionCount
}

func (p *Pool) absoluteOffset(off chunkoffset.Offset) (int64, error) {
	if off.ChunkID() >= uint32(len(p.chunks)) {
		return 0, ErrChunkOutOfRange
	}
	return int64(off.ChunkID())*int64(p.chunkCapacity) + int64(off.InChunk()), nil
}

// ReadAt reads length bytes at off, failing if the read would cross a
// chunk boundary.
func (p *Pool) ReadAt(off chunkoffset.Offset, length uint32) ([]byte, error) {
	if uint64(off.InChunk())+uint64(length) > uint64(p.chunkCapacity) {
		return nil, fmt.Errorf("pool: read at %s length %d crosses chunk boundary", off, length)
	}
	abs, err := p.absoluteOffset(off)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := unix.Pread(p.fd, buf, abs)
	if err != nil {
		return nil, wrapIO("pread", err)
	}
	if n != int(length) {
		return nil, wrapIO("pread", fmt.Errorf("short read: got %d want %d", n, length))
	}
	return buf, nil
}

// WriteAt writes data at off, failing if it would cross a chunk boundary.
func (p *Pool) WriteAt(off chunkoffset.Offset, data []byte) error {
	if uint64(off.InChunk())+uint64(len(data)) > uint64(p.chunkCapacity) {
		return fmt.Errorf("pool: write at %s length %d crosses chunk boundary", off, len(data))
	}
	abs, err := p.absoluteOffset(off)
	if err != nil {
		return err
	}
	n, err := unix.Pwrite(p.fd, data, abs)
	if err != nil {
		return wrapIO("pwrite", err)
	}
	if n != len(data) {
		return wrapIO("pwrite", fmt.Errorf("short write: wrote %d want %d", n, len(data)))
	}
	return nil
}

// Sync flushes the backing file to durable storage.
func (p *Pool) Sync() error {
	return wrapIO("fsync", p.file.Sync())
}

// Close releases the backing file descriptor.
func (p *Pool) Close() error {
	return wrapIO("close", p.file.Close())
}
