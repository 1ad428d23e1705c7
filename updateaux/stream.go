package updateaux

import (
	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/pool"
)

// stream is a stateful append writer over a pool list (fast or slow): it
// holds the current chunk id and the byte offset one past the last write.
// When a write would not fit in the remaining space of the current chunk,
// replaceNodeWriter seals the current chunk (simply by leaving it on its
// list — chunk contents are self-delimiting, so no explicit "sealed size"
// bookkeeping is needed beyond what the pool chunk table already tracks)
// and allocates a fresh chunk from the free list at the tail of the same
// list.
type stream struct {
	pool     *pool.Pool
	tag      pool.ListTag
	chunkID  uint32
	hasChunk bool
	offset   uint32
}

func newStream(p *pool.Pool, tag pool.ListTag) *stream {
	return &stream{pool: p, tag: tag}
}

// resume points the stream at an already-allocated chunk and offset,
// used to restore stream position across a reopen.
func (s *stream) resume(chunkID, offset uint32) {
	s.chunkID = chunkID
	s.offset = offset
	s.hasChunk = true
}

func (s *stream) replaceNodeWriter(bytesForNew uint32) error {
	if s.hasChunk && uint64(s.offset)+uint64(bytesForNew) <= uint64(s.pool.Capacity()) {
		return nil
	}
	id, err := s.pool.Allocate(s.tag)
	if err != nil {
		return err
	}
	s.chunkID = id
	s.offset = 0
	s.hasChunk = true
	return nil
}

// Write appends data to the stream, crossing into a freshly allocated
// chunk first if it would not otherwise fit, and returns the chunk_offset
// the data now lives at.
func (s *stream) Write(data []byte) (chunkoffset.Offset, error) {
	if err := s.replaceNodeWriter(uint32(len(data))); err != nil {
		return 0, err
	}
	off, err := chunkoffset.New(s.chunkID, s.offset)
	if err != nil {
		return 0, err
	}
	if err := s.pool.WriteAt(off, data); err != nil {
		return 0, err
	}
	s.offset += uint32(len(data))
	return off, nil
}

// position reports the stream's current chunk and offset, for persistence.
func (s *stream) position() (chunkID, offset uint32, ok bool) {
	return s.chunkID, s.offset, s.hasChunk
}
