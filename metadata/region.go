// Package metadata implements the persisted metadata region: a magic/version
// header, the chunk table (list membership per chunk), and the root-offset
// ring, all double-buffered so a crash mid-write never corrupts the
// previously durable state. Readers always see either the old or the new
// generation, never a half-written one, because the flip is a single
// aligned word write observed through a shared mapping.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/sizemath"
)

// Magic identifies a valid metadata region.
var Magic = [8]byte{'m', 'p', 't', 'm', 'e', 't', 'a', 0}

const (
	FormatVersion = 1

	selectorRegionSize = 4096 // one page, holds only the active-buffer word
	headerSize         = 24 * 1024
	ringEntrySize      = 24
	chunkEntrySize      = 24
)

// ErrCorrupt is returned when neither buffer in the region carries a valid
// magic/version, or a requested index is out of range.
var ErrCorrupt = errors.New("metadata: corrupt region")

// RingEntry is one slot of the root-offset ring, indexed by version mod
// HistoryLength.
type RingEntry struct {
	Root    chunkoffset.Offset
	Version uint64
	Valid   bool
}

// ChunkEntry mirrors one pool chunk's list membership, persisted so the
// pool's intrusive lists can be rebuilt on open.
type ChunkEntry struct {
	Tag            uint8
	Prev           int32
	Next           int32
	InsertionCount uint64
}

// Header is the fixed-size leading section of each buffer.
type Header struct {
	ChunkCapacity   uint32
	ChunkCount      uint32
	HistoryLength   uint64
	MinValidVersion uint64
	MaxVersion      uint64
	HasMaxVersion   bool
}

// Region is a memory-mapped, double-buffered metadata file.
type Region struct {
	file   *os.File
	data   mmap.MMap
	active int

	historyLength uint64
	chunkCount    uint32
	bufferSize    int64
}

func bufferSize(historyLength uint64, chunkCount uint32) (int64, error) {
	ringBytes, overflow := sizemath.SafeMul(historyLength, ringEntrySize)
	if overflow {
		return 0, fmt.Errorf("%w: history_length %d overflows the ring region size", ErrCorrupt, historyLength)
	}
	tableBytes, overflow := sizemath.SafeMul(uint64(chunkCount), chunkEntrySize)
	if overflow {
		return 0, fmt.Errorf("%w: chunk_count %d overflows the chunk table size", ErrCorrupt, chunkCount)
	}
	total, overflow := sizemath.SafeAdd(uint64(headerSize), ringBytes)
	if overflow {
		return 0, fmt.Errorf("%w: metadata buffer size overflows", ErrCorrupt)
	}
	total, overflow = sizemath.SafeAdd(total, tableBytes)
	if overflow {
		return 0, fmt.Errorf("%w: metadata buffer size overflows", ErrCorrupt)
	}
	return int64(total), nil
}

// Create initializes a fresh metadata region file with an empty ring and
// chunk table, all chunks defaulting to the free list (tag 0).
func Create(path string, chunkCapacity uint32, chunkCount uint32, historyLength uint64) (*Region, error) {
	bs, err := bufferSize(historyLength, chunkCount)
	if err != nil {
		return nil, fmt.Errorf("metadata: create %s: %w", path, err)
	}
	total := int64(selectorRegionSize) + 2*bs

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metadata: create %s: %w", path, err)
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("metadata: truncate %s: %w", path, err)
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("metadata: mmap %s: %w", path, err)
	}

	r := &Region{file: f, data: m, active: 0, historyLength: historyLength, chunkCount: chunkCount, bufferSize: bs}
	hdr := Header{ChunkCapacity: chunkCapacity, ChunkCount: chunkCount, HistoryLength: historyLength}
	ring := make([]RingEntry, historyLength)
	table := make([]ChunkEntry, chunkCount)
	if err := r.writeBuffer(0, hdr, ring, table); err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	r.writeSelector(0)
	if err := r.data.Flush(); err != nil {
		return nil, fmt.Errorf("metadata: flush: %w", err)
	}
	return r, nil
}

// Open maps an existing metadata region file and validates its active
// buffer.
func Open(path string, historyLength uint64, chunkCount uint32) (*Region, error) {
	bs, err := bufferSize(historyLength, chunkCount)
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("metadata: mmap %s: %w", path, err)
	}
	r := &Region{file: f, data: m, historyLength: historyLength, chunkCount: chunkCount, bufferSize: bs}
	r.active = r.readSelector()
	if !r.bufferValid(r.active) {
		other := 1 - r.active
		if !r.bufferValid(other) {
			m.Unmap()
			f.Close()
			return nil, ErrCorrupt
		}
		r.active = other
	}
	return r, nil
}

func (r *Region) bufferOffset(buf int) int64 {
	return int64(selectorRegionSize) + int64(buf)*r.bufferSize
}

func (r *Region) bufferValid(buf int) bool {
	off := r.bufferOffset(buf)
	if off+8 > int64(len(r.data)) {
		return false
	}
	return string(r.data[off:off+8]) == string(Magic[:])
}

func (r *Region) writeSelector(buf int) {
	binary.LittleEndian.PutUint64(r.data[0:8], uint64(buf))
}

func (r *Region) readSelector() int {
	v := binary.LittleEndian.Uint64(r.data[0:8])
	if v == 0 {
		return 0
	}
	return 1
}

// ActiveBuffer reports which of the two buffers (0 or 1) is currently live.
func (r *Region) ActiveBuffer() int { return r.active }

func (r *Region) writeBuffer(buf int, hdr Header, ring []RingEntry, table []ChunkEntry) error {
	base := r.bufferOffset(buf)
	if base+r.bufferSize > int64(len(r.data)) {
		return fmt.Errorf("%w: buffer %d exceeds mapped region", ErrCorrupt, buf)
	}
	b := r.data[base : base+r.bufferSize]

	copy(b[0:8], Magic[:])
	binary.LittleEndian.PutUint32(b[8:12], FormatVersion)
	binary.LittleEndian.PutUint32(b[12:16], hdr.ChunkCapacity)
	binary.LittleEndian.PutUint32(b[16:20], hdr.ChunkCount)
	binary.LittleEndian.PutUint64(b[20:28], hdr.HistoryLength)
	binary.LittleEndian.PutUint64(b[28:36], hdr.MinValidVersion)
	binary.LittleEndian.PutUint64(b[36:44], hdr.MaxVersion)
	has := byte(0)
	if hdr.HasMaxVersion {
		has = 1
	}
	b[44] = has

	ringBase := headerSize
	for i, e := range ring {
		off := ringBase + i*ringEntrySize
		binary.LittleEndian.PutUint64(b[off:off+8], uint64(e.Root))
		binary.LittleEndian.PutUint64(b[off+8:off+16], e.Version)
		valid := byte(0)
		if e.Valid {
			valid = 1
		}
		b[off+16] = valid
	}

	tableBase := headerSize + len(ring)*ringEntrySize
	for i, c := range table {
		off := tableBase + i*chunkEntrySize
		b[off] = c.Tag
		binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(c.Prev))
		binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(c.Next))
		binary.LittleEndian.PutUint64(b[off+12:off+20], c.InsertionCount)
	}
	return nil
}

// ReadHeader decodes the active buffer's fixed header.
func (r *Region) ReadHeader() Header {
	base := r.bufferOffset(r.active)
	b := r.data[base : base+r.bufferSize]
	return Header{
		ChunkCapacity:   binary.LittleEndian.Uint32(b[12:16]),
		ChunkCount:      binary.LittleEndian.Uint32(b[16:20]),
		HistoryLength:   binary.LittleEndian.Uint64(b[20:28]),
		MinValidVersion: binary.LittleEndian.Uint64(b[28:36]),
		MaxVersion:      binary.LittleEndian.Uint64(b[36:44]),
		HasMaxVersion:   b[44] == 1,
	}
}

// ReadRing decodes every ring entry from the active buffer.
func (r *Region) ReadRing() []RingEntry {
	base := r.bufferOffset(r.active)
	b := r.data[base : base+r.bufferSize]
	ringBase := headerSize
	out := make([]RingEntry, r.historyLength)
	for i := range out {
		off := ringBase + i*ringEntrySize
		out[i] = RingEntry{
			Root:    chunkoffset.Offset(binary.LittleEndian.Uint64(b[off : off+8])),
			Version: binary.LittleEndian.Uint64(b[off+8 : off+16]),
			Valid:   b[off+16] == 1,
		}
	}
	return out
}

// ReadChunkTable decodes every chunk-table entry from the active buffer.
func (r *Region) ReadChunkTable() []ChunkEntry {
	base := r.bufferOffset(r.active)
	b := r.data[base : base+r.bufferSize]
	tableBase := headerSize + int(r.historyLength)*ringEntrySize
	out := make([]ChunkEntry, r.chunkCount)
	for i := range out {
		off := tableBase + i*chunkEntrySize
		out[i] = ChunkEntry{
			Tag:            b[off],
			Prev:           int32(binary.LittleEndian.Uint32(b[off+4 : off+8])),
			Next:           int32(binary.LittleEndian.Uint32(b[off+8 : off+12])),
			InsertionCount: binary.LittleEndian.Uint64(b[off+12 : off+20]),
		}
	}
	return out
}

// Swap writes the new generation into the inactive buffer, flushes it, then
// flips the selector word and flushes again. On return the new generation
// is durable and ReadHeader/ReadRing/ReadChunkTable observe it.
func (r *Region) Swap(hdr Header, ring []RingEntry, table []ChunkEntry) error {
	if uint64(len(ring)) != r.historyLength {
		return fmt.Errorf("metadata: ring length %d does not match history_length %d", len(ring), r.historyLength)
	}
	if uint32(len(table)) != r.chunkCount {
		return fmt.Errorf("metadata: chunk table length %d does not match chunk_count %d", len(table), r.chunkCount)
	}
	inactive := 1 - r.active
	if err := r.writeBuffer(inactive, hdr, ring, table); err != nil {
		return err
	}
	if err := r.data.Flush(); err != nil {
		return fmt.Errorf("metadata: flush new buffer: %w", err)
	}
	r.writeSelector(inactive)
	if err := r.data.Flush(); err != nil {
		return fmt.Errorf("metadata: flush selector: %w", err)
	}
	r.active = inactive
	return nil
}

// Refresh re-polls the active-buffer selector, so a Region instance opened
// by a reader that shares the mapping with a separate writer observes the
// writer's most recent Swap instead of whatever buffer was active when this
// instance's Open returned. A no-op if the selector hasn't moved.
func (r *Region) Refresh() {
	active := r.readSelector()
	if active == r.active {
		return
	}
	if r.bufferValid(active) {
		r.active = active
	}
}

// Close unmaps the region and closes its backing file.
func (r *Region) Close() error {
	if err := r.data.Unmap(); err != nil {
		return fmt.Errorf("metadata: unmap: %w", err)
	}
	return r.file.Close()
}
