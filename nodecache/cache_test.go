package nodecache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/nodecache"
	"github.com/stretchr/testify/require"
)

func mustOffset(t *testing.T, chunkID, off uint32) chunkoffset.Offset {
	t.Helper()
	o, err := chunkoffset.New(chunkID, off)
	require.NoError(t, err)
	return o
}

func TestInsertAndGet(t *testing.T) {
	c := nodecache.New(1 << 20)
	off := mustOffset(t, 1, 10)
	n := &node.Node{Value: []byte("v"), HasValue: true}
	c.Insert(off, n)

	got, ok := c.Get(off)
	require.True(t, ok)
	require.Same(t, n, got)
}

func TestEvictionUnderByteBudget(t *testing.T) {
	c := nodecache.New(200)
	for i := 0; i < 20; i++ {
		off := mustOffset(t, 1, uint32(i))
		c.Insert(off, &node.Node{Value: make([]byte, 50), HasValue: true})
	}
	require.LessOrEqual(t, c.UsedBytes(), int64(200))
	require.Less(t, c.Len(), 20)
}

func TestGetOrLoadCoalescesConcurrentCallers(t *testing.T) {
	c := nodecache.New(1 << 20)
	off := mustOffset(t, 3, 40)

	var loadCount int32
	release := make(chan struct{})
	load := func(ctx context.Context, o chunkoffset.Offset) (*node.Node, error) {
		atomic.AddInt32(&loadCount, 1)
		<-release
		return &node.Node{Version: 9}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*node.Node, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			n, err := c.GetOrLoad(context.Background(), off, load)
			require.NoError(t, err)
			results[idx] = n
		}(i)
	}
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&loadCount))
	for _, r := range results {
		require.Same(t, results[0], r)
	}
}

func TestGetOrLoadReturnsCachedWithoutLoad(t *testing.T) {
	c := nodecache.New(1 << 20)
	off := mustOffset(t, 1, 1)
	n := &node.Node{Version: 5}
	c.Insert(off, n)

	called := false
	got, err := c.GetOrLoad(context.Background(), off, func(context.Context, chunkoffset.Offset) (*node.Node, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Same(t, n, got)
}

func TestEvict(t *testing.T) {
	c := nodecache.New(1 << 20)
	off := mustOffset(t, 1, 1)
	c.Insert(off, &node.Node{})
	c.Evict(off)
	_, ok := c.Get(off)
	require.False(t, ok)
}
