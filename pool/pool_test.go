package pool_test

import (
	"path/filepath"
	"testing"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/pool"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, chunkCapacity uint32, chunkCount uint32) *pool.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.dat")
	p, err := pool.Create(path, chunkCapacity, chunkCount)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocateMovesChunkOffFreeList(t *testing.T) {
	p := newTestPool(t, 4096, 4)
	require.Equal(t, uint32(4), p.ListSize(pool.ListFree))

	id, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	require.Equal(t, uint32(3), p.ListSize(pool.ListFree))
	require.Equal(t, uint32(1), p.ListSize(pool.ListFast))
	require.Equal(t, pool.ListFast, p.Tag(id))
}

func TestAllocateExhaustionReturnsOutOfChunks(t *testing.T) {
	p := newTestPool(t, 4096, 2)
	_, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	_, err = p.Allocate(pool.ListFast)
	require.NoError(t, err)
	_, err = p.Allocate(pool.ListFast)
	require.ErrorIs(t, err, pool.ErrOutOfChunks)
}

func TestReleaseReturnsChunkToFreeList(t *testing.T) {
	p := newTestPool(t, 4096, 2)
	id, err := p.Allocate(pool.ListSlow)
	require.NoError(t, err)
	require.NoError(t, p.Release(id))
	require.Equal(t, uint32(2), p.ListSize(pool.ListFree))
	require.Equal(t, pool.ListFree, p.Tag(id))
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := newTestPool(t, 4096, 2)
	id, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	off, err := chunkoffset.New(id, 100)
	require.NoError(t, err)

	payload := []byte("hello chunk")
	require.NoError(t, p.WriteAt(off, payload))

	got, err := p.ReadAt(off, uint32(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteRejectsCrossingChunkBoundary(t *testing.T) {
	p := newTestPool(t, 16, 2)
	id, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	off, err := chunkoffset.New(id, 10)
	require.NoError(t, err)

	err = p.WriteAt(off, make([]byte, 10))
	require.Error(t, err)
}

func TestListOrderPreservesInsertionOrder(t *testing.T) {
	p := newTestPool(t, 4096, 3)
	a, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	b, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)

	head, ok := p.ListHead(pool.ListFast)
	require.True(t, ok)
	require.Equal(t, a, head)

	next, ok := p.Next(head)
	require.True(t, ok)
	require.Equal(t, b, next)
}

func TestRestoreRebuildsLists(t *testing.T) {
	p := newTestPool(t, 4096, 4)
	a, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)
	b, err := p.Allocate(pool.ListFast)
	require.NoError(t, err)

	states := []pool.ChunkListState{
		{ChunkID: a, Tag: pool.ListFast, InsertionCount: 10},
		{ChunkID: b, Tag: pool.ListFast, InsertionCount: 20},
		{ChunkID: 2, Tag: pool.ListFree, InsertionCount: 1},
		{ChunkID: 3, Tag: pool.ListFree, InsertionCount: 2},
	}
	p.Restore(states)

	head, ok := p.ListHead(pool.ListFast)
	require.True(t, ok)
	require.Equal(t, a, head)
	require.Equal(t, uint32(2), p.ListSize(pool.ListFree))
}
