package trie

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
)

// Upsert inserts or overwrites the value at key under root, returning the
// new root (copy-on-write: root and everything reachable from it are left
// untouched). A nil result means the trie is now empty.
func Upsert(ctx context.Context, loader *Loader, root *node.ChildRef, key nibble.Path, value []byte, version uint64, sm statemachine.Machine) (*node.ChildRef, error) {
	return upsert(ctx, loader, root, key, value, false, version, sm)
}

// Erase removes the value at key under root, collapsing any node left with
// no value and at most one child. A nil result means the trie is now
// empty. Erasing an absent key is a no-op that returns root unchanged.
func Erase(ctx context.Context, loader *Loader, root *node.ChildRef, key nibble.Path, version uint64, sm statemachine.Machine) (*node.ChildRef, error) {
	return upsert(ctx, loader, root, key, nil, true, version, sm)
}

func upsert(ctx context.Context, loader *Loader, ref *node.ChildRef, key nibble.Path, value []byte, erase bool, version uint64, sm statemachine.Machine) (*node.ChildRef, error) {
	if ref == nil {
		if erase {
			return nil, nil
		}
		leaf := &node.Node{Version: version}
		if key.Len() > 0 {
			leaf.Path = key.Materialize()
			leaf.HasPath = true
		}
		leaf.Value = value
		leaf.HasValue = true
		if d := sm.Compute(leaf); d != nil {
			leaf.Data = d
			leaf.HasData = true
		}
		return &node.ChildRef{InMemory: leaf}, nil
	}

	n, err := loader.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	pathLen := 0
	if n.HasPath {
		pathLen = n.Path.Len()
	}
	cpl := 0
	if n.HasPath {
		cpl = n.Path.CommonPrefixLen(key)
	}

	if n.HasPath && cpl < pathLen {
		if erase {
			return ref, nil
		}

		oldTailPath := n.Path.Sub(cpl+1, pathLen)
		oldNode := &node.Node{Mask: n.Mask, Children: n.Children, Value: n.Value, HasValue: n.HasValue, Version: n.Version}
		if oldTailPath.Len() > 0 {
			oldNode.Path = oldTailPath.Materialize()
			oldNode.HasPath = true
		}
		oldBranchNibble := n.Path.At(cpl)
		commonPrefix := key.Sub(0, cpl)
		oldChildSM := advance(sm, commonPrefix).Down(oldBranchNibble)
		if d := oldChildSM.Compute(oldNode); d != nil {
			oldNode.Data = d
			oldNode.HasData = true
		}
		oldRef := &node.ChildRef{InMemory: oldNode}

		branch := &node.Node{Version: version}
		if commonPrefix.Len() > 0 {
			branch.Path = commonPrefix.Materialize()
			branch.HasPath = true
		}
		branch.SetChild(int(oldBranchNibble), oldRef)

		if key.Len() == cpl {
			branch.Value = value
			branch.HasValue = true
		} else {
			newBranchNibble := key.At(cpl)
			newChildSM := advance(sm, commonPrefix).Down(newBranchNibble)
			newRef, err := upsert(ctx, loader, nil, key.Sub(cpl+1, key.Len()), value, false, version, newChildSM)
			if err != nil {
				return nil, err
			}
			branch.SetChild(int(newBranchNibble), newRef)
		}

		branchSM := advance(sm, commonPrefix)
		if d := branchSM.Compute(branch); d != nil {
			branch.Data = d
			branch.HasData = true
		}
		return &node.ChildRef{InMemory: branch}, nil
	}

	remaining := key
	if n.HasPath {
		remaining = key.Sub(pathLen, key.Len())
	}
	childSM := sm
	if n.HasPath {
		childSM = advance(sm, n.Path)
	}

	if remaining.Len() == 0 {
		newNode := &node.Node{Mask: n.Mask, Children: n.Children, Path: n.Path, HasPath: n.HasPath, Version: version}
		if erase {
			if !n.HasValue {
				return ref, nil
			}
			// value cleared; Value/HasValue left zero
		} else {
			newNode.Value = value
			newNode.HasValue = true
		}
		return collapse(ctx, loader, newNode, childSM)
	}

	branchNibble := remaining.At(0)
	childKey := remaining.Sub(1, remaining.Len())
	oldChildRef := n.Children[branchNibble]
	newChildRef, err := upsert(ctx, loader, oldChildRef, childKey, value, erase, version, childSM.Down(branchNibble))
	if err != nil {
		return nil, err
	}
	if erase && newChildRef == oldChildRef {
		return ref, nil
	}

	newNode := &node.Node{Mask: n.Mask, Children: n.Children, Path: n.Path, HasPath: n.HasPath, Value: n.Value, HasValue: n.HasValue, Version: version}
	newNode.SetChild(int(branchNibble), newChildRef)
	return collapse(ctx, loader, newNode, childSM)
}
