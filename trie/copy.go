package trie

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
)

// CopySubtrie grafts srcRoot — an independent, already-built sub-trie — at
// destKey under destRoot, reusing srcRoot's nodes by reference (no node is
// copied byte-for-byte; this is a structural-sharing attach, the same way
// two versions of the trie already share every node neither upsert path
// touched). It returns the new destination root.
func CopySubtrie(ctx context.Context, loader *Loader, destRoot *node.ChildRef, destKey nibble.Path, srcRoot *node.ChildRef, version uint64, sm statemachine.Machine) (*node.ChildRef, error) {
	if destRoot == nil {
		return prependPath(ctx, loader, destKey, srcRoot, version, sm)
	}

	n, err := loader.Resolve(ctx, destRoot)
	if err != nil {
		return nil, err
	}

	pathLen := 0
	if n.HasPath {
		pathLen = n.Path.Len()
	}
	cpl := 0
	if n.HasPath {
		cpl = n.Path.CommonPrefixLen(destKey)
	}

	if n.HasPath && cpl < pathLen {
		oldTailPath := n.Path.Sub(cpl+1, pathLen)
		oldNode := &node.Node{Mask: n.Mask, Children: n.Children, Value: n.Value, HasValue: n.HasValue, Version: n.Version}
		if oldTailPath.Len() > 0 {
			oldNode.Path = oldTailPath.Materialize()
			oldNode.HasPath = true
		}
		oldBranchNibble := n.Path.At(cpl)
		commonPrefix := destKey.Sub(0, cpl)
		oldChildSM := advance(sm, commonPrefix).Down(oldBranchNibble)
		if d := oldChildSM.Compute(oldNode); d != nil {
			oldNode.Data = d
			oldNode.HasData = true
		}
		oldRef := &node.ChildRef{InMemory: oldNode}

		remainderDestKey := destKey.Sub(cpl, destKey.Len())
		if remainderDestKey.Len() == 0 {
			return nil, ErrDestinationNotEmpty
		}

		branch := &node.Node{Version: version}
		if commonPrefix.Len() > 0 {
			branch.Path = commonPrefix.Materialize()
			branch.HasPath = true
		}
		branch.SetChild(int(oldBranchNibble), oldRef)

		newBranchNibble := remainderDestKey.At(0)
		tail := remainderDestKey.Sub(1, remainderDestKey.Len())
		newChildSM := advance(sm, commonPrefix).Down(newBranchNibble)
		newRef, err := prependPath(ctx, loader, tail, srcRoot, version, newChildSM)
		if err != nil {
			return nil, err
		}
		branch.SetChild(int(newBranchNibble), newRef)

		branchSM := advance(sm, commonPrefix)
		if d := branchSM.Compute(branch); d != nil {
			branch.Data = d
			branch.HasData = true
		}
		return &node.ChildRef{InMemory: branch}, nil
	}

	remaining := destKey
	if n.HasPath {
		remaining = destKey.Sub(pathLen, destKey.Len())
	}
	childSM := sm
	if n.HasPath {
		childSM = advance(sm, n.Path)
	}

	if remaining.Len() == 0 {
		return srcRoot, nil
	}

	branchNibble := remaining.At(0)
	childKey := remaining.Sub(1, remaining.Len())
	oldChildRef := n.Children[branchNibble]
	newChildRef, err := CopySubtrie(ctx, loader, oldChildRef, childKey, srcRoot, version, childSM.Down(branchNibble))
	if err != nil {
		return nil, err
	}

	newNode := &node.Node{Mask: n.Mask, Children: n.Children, Path: n.Path, HasPath: n.HasPath, Value: n.Value, HasValue: n.HasValue, Version: version}
	newNode.SetChild(int(branchNibble), newChildRef)
	return collapse(ctx, loader, newNode, childSM)
}
