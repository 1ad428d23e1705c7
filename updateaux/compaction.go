package updateaux

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/pool"
	"github.com/erigontech/mpt/statemachine"
)

func (aux *UpdateAux) shouldCompactLocked() bool {
	return aux.pool.ListSize(pool.ListFree) <= aux.compactionThreshold
}

// runCompactionStepLocked re-emits every live node reachable from the
// current root that resides in the fast list's head (oldest) chunk onto
// the slow stream, rewriting ancestor child references up to the root so
// every on-disk pointer keeps pointing at an already-flushed node. When
// the walk finds no still-live reference into that chunk, it is returned
// to the free list.
func (aux *UpdateAux) runCompactionStepLocked(ctx context.Context, sm statemachine.Machine, version uint64) error {
	head, ok := aux.pool.ListHead(pool.ListFast)
	if !ok {
		return nil
	}
	if aux.root == nil {
		return nil
	}

	blockedRelease := false
	newRoot, changed, err := aux.compactNode(ctx, sm, aux.root, head, version, &blockedRelease)
	if err != nil {
		return err
	}
	if changed {
		aux.root = newRoot
		aux.setRingLocked(version, aux.root)
	}
	if !blockedRelease {
		if err := aux.pool.Release(head); err != nil {
			return err
		}
		aux.log.Info("compaction reclaimed chunk", "chunk", head)
	}
	return nil
}

// compactNode re-emits n (and any of its descendants) that live in
// targetChunk onto the slow stream, threading the state machine exactly
// the way upsert/collapse do so the AutoExpire() policy is evaluated at
// the right depth. A sub-tree whose machine reports AutoExpire() is left
// untouched entirely: compaction does not reclaim it, and blockedRelease
// is set so the target chunk is not freed out from under it.
func (aux *UpdateAux) compactNode(ctx context.Context, sm statemachine.Machine, ref *node.ChildRef, targetChunk uint32, version uint64, blockedRelease *bool) (*node.ChildRef, bool, error) {
	if ref == nil {
		return nil, false, nil
	}
	if sm.AutoExpire() {
		*blockedRelease = true
		return ref, false, nil
	}

	selfInTarget := ref.InMemory == nil && ref.Offset.ChunkID() == targetChunk

	n, err := aux.loader.Resolve(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	childBase := sm
	if n.HasPath {
		childBase = advanceMachine(sm, n.Path)
	}

	changed := selfInTarget
	newChildren := n.Children
	for i := 0; i < 16; i++ {
		c := n.Children[i]
		if c == nil {
			continue
		}
		childSM := childBase.Down(byte(i))
		nc, childChanged, err := aux.compactNode(ctx, childSM, c, targetChunk, version, blockedRelease)
		if err != nil {
			return nil, false, err
		}
		if childChanged {
			newChildren[i] = nc
			changed = true
		}
	}

	if !changed {
		return ref, false, nil
	}

	rewritten := &node.Node{
		Mask:     n.Mask,
		Children: newChildren,
		Path:     n.Path,
		HasPath:  n.HasPath,
		Value:    n.Value,
		HasValue: n.HasValue,
		Data:     n.Data,
		HasData:  n.HasData,
		Version:  n.Version,
	}
	data, err := rewritten.Serialize()
	if err != nil {
		return nil, false, err
	}
	off, err := aux.slow.Write(data)
	if err != nil {
		return nil, false, err
	}
	aux.cache.Insert(off, rewritten)
	newRef := &node.ChildRef{
		Offset:               off,
		DiskSize:             uint32(len(data)),
		Data:                 ref.Data,
		SubtrieMinVersion:    ref.SubtrieMinVersion,
		HasSubtrieMinVersion: ref.HasSubtrieMinVersion,
	}
	return newRef, true, nil
}

// advanceMachine mirrors trie's private advance helper (unexported there),
// stepping sm forward one depth per nibble of p.
func advanceMachine(sm statemachine.Machine, p nibble.Path) statemachine.Machine {
	for i := 0; i < p.Len(); i++ {
		sm = sm.Down(p.At(i))
	}
	return sm
}
