package trie

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
)

// advance steps sm forward one depth per nibble of p, in order, used to
// compute the state machine a node's children see once that node's own
// compressed path has been consumed.
func advance(sm statemachine.Machine, p nibble.Path) statemachine.Machine {
	for i := 0; i < p.Len(); i++ {
		sm = sm.Down(p.At(i))
	}
	return sm
}

func singleNibblePath(n byte) nibble.Path {
	buf := []byte{n << 4}
	return nibble.View(buf, 0, 1)
}

// collapse enforces the "no node has exactly one child and no value"
// invariant: a node left with a single child and no value after an erase
// or a child update is merged with that child, concatenating paths; a node
// left with neither children nor a value collapses to nil, cascading the
// erase upward. sm is the state machine at n's own depth.
func collapse(ctx context.Context, loader *Loader, n *node.Node, sm statemachine.Machine) (*node.ChildRef, error) {
	if n.Mask == 0 {
		if !n.HasValue {
			return nil, nil
		}
		if d := sm.Compute(n); d != nil {
			n.Data = d
			n.HasData = true
		}
		return &node.ChildRef{InMemory: n}, nil
	}

	if n.ChildCount() == 1 && !n.HasValue {
		idx := -1
		for i := 0; i < 16; i++ {
			if n.HasChild(i) {
				idx = i
				break
			}
		}
		childRef := n.Children[idx]
		child, err := loader.Resolve(ctx, childRef)
		if err != nil {
			return nil, err
		}
		merged := &node.Node{
			Mask:     child.Mask,
			Children: child.Children,
			Value:    child.Value,
			HasValue: child.HasValue,
			Version:  n.Version,
		}
		var parts []nibble.Path
		if n.HasPath {
			parts = append(parts, n.Path)
		}
		parts = append(parts, singleNibblePath(byte(idx)))
		if child.HasPath {
			parts = append(parts, child.Path)
		}
		merged.Path = nibble.Concat(parts...)
		merged.HasPath = true
		if d := sm.Compute(merged); d != nil {
			merged.Data = d
			merged.HasData = true
		}
		return &node.ChildRef{InMemory: merged}, nil
	}

	if d := sm.Compute(n); d != nil {
		n.Data = d
		n.HasData = true
	}
	return &node.ChildRef{InMemory: n}, nil
}

// prependPath wraps ref's node with prefix nibbles prepended to its own
// compressed path, used when grafting a sub-trie several nibbles below an
// empty slot.
func prependPath(ctx context.Context, loader *Loader, prefix nibble.Path, ref *node.ChildRef, version uint64, sm statemachine.Machine) (*node.ChildRef, error) {
	if prefix.Len() == 0 {
		return ref, nil
	}
	n, err := loader.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	merged := &node.Node{
		Mask:     n.Mask,
		Children: n.Children,
		Value:    n.Value,
		HasValue: n.HasValue,
		Version:  version,
	}
	parts := []nibble.Path{prefix}
	if n.HasPath {
		parts = append(parts, n.Path)
	}
	merged.Path = nibble.Concat(parts...)
	merged.HasPath = true
	if d := sm.Compute(merged); d != nil {
		merged.Data = d
		merged.HasData = true
	}
	return &node.ChildRef{InMemory: merged}, nil
}
