package trie

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
)

// Find walks root looking for key, returning the resolved node holding the
// value and true if present. A nil root means an empty trie (not found, no
// error). Find never returns ErrKeyMismatch itself — that sentinel is for
// callers of FindExact that want to distinguish "key diverges from a stored
// path" from "key is simply absent"; Find treats both as plain not-found.
func Find(ctx context.Context, loader *Loader, root *node.ChildRef, key nibble.Path) (*node.Node, bool, error) {
	if root == nil {
		return nil, false, nil
	}
	n, err := loader.Resolve(ctx, root)
	if err != nil {
		return nil, false, err
	}

	remaining := key
	if n.HasPath {
		pl := n.Path.Len()
		if key.Len() < pl || n.Path.CommonPrefixLen(key) != pl {
			return nil, false, nil
		}
		remaining = key.Sub(pl, key.Len())
	}

	if remaining.Len() == 0 {
		if n.HasValue {
			return n, true, nil
		}
		return nil, false, nil
	}

	branch := remaining.At(0)
	child := n.Children[branch]
	if child == nil {
		return nil, false, nil
	}
	return Find(ctx, loader, child, remaining.Sub(1, remaining.Len()))
}

// FindExact behaves like Find, but returns ErrKeyMismatch instead of a
// plain not-found when key diverges from a stored compressed path rather
// than simply missing a branch — useful for callers that want to
// distinguish "definitely absent" from "path says no, but something is
// there".
func FindExact(ctx context.Context, loader *Loader, root *node.ChildRef, key nibble.Path) (*node.Node, bool, error) {
	if root == nil {
		return nil, false, nil
	}
	n, err := loader.Resolve(ctx, root)
	if err != nil {
		return nil, false, err
	}

	remaining := key
	if n.HasPath {
		pl := n.Path.Len()
		cpl := n.Path.CommonPrefixLen(key)
		if cpl != pl {
			if key.Len() < pl || cpl < pl {
				return nil, false, ErrKeyMismatch
			}
		}
		remaining = key.Sub(pl, key.Len())
	}

	if remaining.Len() == 0 {
		if n.HasValue {
			return n, true, nil
		}
		return nil, false, nil
	}

	branch := remaining.At(0)
	child := n.Children[branch]
	if child == nil {
		return nil, false, nil
	}
	return FindExact(ctx, loader, child, remaining.Sub(1, remaining.Len()))
}

// FindNodeByPrefix walks root looking for the node whose accumulated path
// from the root is exactly prefix, regardless of whether that node holds a
// value — used to read a sub-tree's digest at an arbitrary depth rather
// than a leaf's value.
func FindNodeByPrefix(ctx context.Context, loader *Loader, root *node.ChildRef, prefix nibble.Path) (*node.Node, bool, error) {
	if root == nil {
		return nil, false, nil
	}
	n, err := loader.Resolve(ctx, root)
	if err != nil {
		return nil, false, err
	}

	remaining := prefix
	if n.HasPath {
		pl := n.Path.Len()
		if prefix.Len() < pl || n.Path.CommonPrefixLen(prefix) != pl {
			return nil, false, nil
		}
		remaining = prefix.Sub(pl, prefix.Len())
	}

	if remaining.Len() == 0 {
		return n, true, nil
	}

	branch := remaining.At(0)
	child := n.Children[branch]
	if child == nil {
		return nil, false, nil
	}
	return FindNodeByPrefix(ctx, loader, child, remaining.Sub(1, remaining.Len()))
}

// FindRefByPrefix behaves like FindNodeByPrefix but returns the ChildRef
// itself rather than the resolved node, so a caller can graft the
// referenced sub-trie elsewhere (CopySubtrie) without forcing every node
// under it to be resolved first. When prefix ends exactly at the end of a
// node's compressed path, those path nibbles already belong to prefix, so
// the result is an in-memory copy of that node with its path dropped (and
// no Data); otherwise the stored ChildRef itself is returned.
func FindRefByPrefix(ctx context.Context, loader *Loader, root *node.ChildRef, prefix nibble.Path) (*node.ChildRef, bool, error) {
	if root == nil {
		return nil, false, nil
	}
	if prefix.Len() == 0 {
		return root, true, nil
	}
	n, err := loader.Resolve(ctx, root)
	if err != nil {
		return nil, false, err
	}

	remaining := prefix
	if n.HasPath {
		pl := n.Path.Len()
		if prefix.Len() < pl || n.Path.CommonPrefixLen(prefix) != pl {
			return nil, false, nil
		}
		remaining = prefix.Sub(pl, prefix.Len())
	}

	if remaining.Len() == 0 {
		// prefix is non-empty here, so n has a path and prefix covers it.
		stripped := &node.Node{Mask: n.Mask, Children: n.Children, Value: n.Value, HasValue: n.HasValue, Version: n.Version}
		return &node.ChildRef{InMemory: stripped}, true, nil
	}

	branch := remaining.At(0)
	child := n.Children[branch]
	if child == nil {
		return nil, false, nil
	}
	return FindRefByPrefix(ctx, loader, child, remaining.Sub(1, remaining.Len()))
}
