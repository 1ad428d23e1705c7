package updateaux

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/erigontech/mpt/config"
	"github.com/erigontech/mpt/metadata"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/pool"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
)

// newTestAux builds an UpdateAux directly over a small, fast-to-allocate
// pool and metadata region, bypassing config.Validate's size minimums so
// chunk rotation is reachable within a handful of tiny writes.
func newTestAux(t *testing.T, chunkCapacity uint32, chunkCount uint32, historyLength uint64) *UpdateAux {
	t.Helper()
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "pool.dat")
	metaPath := poolPath + ".meta"

	p, err := pool.Create(poolPath, chunkCapacity, chunkCount)
	if err != nil {
		t.Fatalf("pool.Create: %v", err)
	}
	region, err := metadata.Create(metaPath, chunkCapacity, chunkCount, historyLength)
	if err != nil {
		t.Fatalf("metadata.Create: %v", err)
	}

	cfg := config.Config{
		ChunkCount:                chunkCount,
		HistoryLength:             historyLength,
		CompactionThresholdChunks: 1,
	}
	return newUpdateAux(cfg, p, region)
}

// TestCompactionReclaimsUnreferencedChunk seeds an empty chunk onto the head
// of the fast list before any real data is written, so the chunk compaction
// targets holds nothing the live trie references. The walk should find no
// live reference into it and return it to the free list.
func TestCompactionReclaimsUnreferencedChunk(t *testing.T) {
	aux := newTestAux(t, 64, 4, 8)
	defer aux.Close()

	dummy, err := aux.pool.Allocate(pool.ListFast)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	if _, err := aux.DoUpdate(ctx, sm, []Update{{Key: nibble.FromKey([]byte{0x01}), Value: []byte("v1")}}, 1, false); err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	head, ok := aux.pool.ListHead(pool.ListFast)
	if !ok || head != dummy {
		t.Fatalf("expected the seeded chunk %d to remain the fast list head, got %d (ok=%v)", dummy, head, ok)
	}

	freeBefore := aux.pool.ListSize(pool.ListFree)

	aux.mu.Lock()
	if err := aux.runCompactionStepLocked(ctx, sm, 2); err != nil {
		aux.mu.Unlock()
		t.Fatalf("runCompactionStepLocked: %v", err)
	}
	aux.mu.Unlock()

	if aux.pool.Tag(dummy) != pool.ListFree {
		t.Fatalf("expected chunk %d back on the free list, tag is %v", dummy, aux.pool.Tag(dummy))
	}
	if got := aux.pool.ListSize(pool.ListFree); got != freeBefore+1 {
		t.Fatalf("free list size = %d, want %d", got, freeBefore+1)
	}

	got, found, err := mustFind(ctx, t, aux.loader, aux.root, nibble.FromKey([]byte{0x01}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found || string(got) != "v1" {
		t.Fatalf("got %q, found=%v, want v1", got, found)
	}
}

// TestCompactNodeRewritesAncestorsForTargetChunk exercises the rewrite step
// directly: given the chunk the current root physically lives in as the
// compaction target, the root must be re-emitted onto the slow stream at a
// new offset while still resolving to the same stored value.
func TestCompactNodeRewritesAncestorsForTargetChunk(t *testing.T) {
	aux := newTestAux(t, 256, 4, 8)
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	if _, err := aux.DoUpdate(ctx, sm, []Update{
		{Key: nibble.FromKey([]byte{0x01}), Value: []byte("first")},
		{Key: nibble.FromKey([]byte{0x02}), Value: []byte("second")},
	}, 1, false); err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	oldRoot := aux.root
	targetChunk := oldRoot.Offset.ChunkID()

	blockedRelease := false
	newRoot, changed, err := aux.compactNode(ctx, sm, oldRoot, targetChunk, 2, &blockedRelease)
	if err != nil {
		t.Fatalf("compactNode: %v", err)
	}
	if !changed {
		t.Fatalf("expected the root (which lives in the target chunk) to be re-emitted")
	}
	if blockedRelease {
		t.Fatalf("AlwaysEmpty never auto-expires; blockedRelease should stay false")
	}
	if newRoot.Offset.ChunkID() == targetChunk {
		t.Fatalf("expected the rewritten root to land outside the target chunk")
	}

	for _, tc := range []struct {
		key   []byte
		value string
	}{
		{[]byte{0x01}, "first"},
		{[]byte{0x02}, "second"},
	} {
		got, found, err := mustFind(ctx, t, aux.loader, newRoot, nibble.FromKey(tc.key))
		if err != nil {
			t.Fatalf("find %v: %v", tc.key, err)
		}
		if !found || string(got) != tc.value {
			t.Fatalf("key %v: got %q, found=%v, want %q", tc.key, got, found, tc.value)
		}
	}
}

func mustFind(ctx context.Context, t *testing.T, loader *trie.Loader, root *node.ChildRef, key nibble.Path) ([]byte, bool, error) {
	t.Helper()
	n, found, err := trie.Find(ctx, loader, root, key)
	if err != nil || !found {
		return nil, found, err
	}
	return n.Value, true, nil
}

func TestShouldCompactLockedTracksFreeListThreshold(t *testing.T) {
	aux := newTestAux(t, 64, 4, 8)
	defer aux.Close()
	aux.compactionThreshold = 3

	if aux.shouldCompactLocked() {
		t.Fatalf("expected shouldCompactLocked false with an entirely free pool")
	}

	if _, err := aux.pool.Allocate(pool.ListFast); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := aux.pool.Allocate(pool.ListFast); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if !aux.shouldCompactLocked() {
		t.Fatalf("expected shouldCompactLocked true once the free list drops to the threshold")
	}
}
