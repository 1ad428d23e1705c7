package trie

import (
	"context"

	"github.com/erigontech/mpt/aio/worker"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
)

// Visitor is the TraverseMachine contract: Visit is called once per node in
// pre-order with the full nibble path from the trie root, and returns
// whether traversal should continue into that node's children.
type Visitor interface {
	Visit(ctx context.Context, path nibble.Path, n *node.Node) (descend bool, err error)
}

// Traverse walks root depth-first, pre-order, blocking on each node load.
func Traverse(ctx context.Context, loader *Loader, root *node.ChildRef, visitor Visitor) error {
	if root == nil {
		return nil
	}
	return traverseNode(ctx, loader, nibble.Empty(), root, visitor)
}

func traverseNode(ctx context.Context, loader *Loader, prefix nibble.Path, ref *node.ChildRef, visitor Visitor) error {
	n, err := loader.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	full := prefix
	if n.HasPath {
		full = nibble.Concat(prefix, n.Path)
	}
	descend, err := visitor.Visit(ctx, full, n)
	if err != nil {
		return err
	}
	if !descend {
		return nil
	}
	for i := 0; i < 16; i++ {
		c := n.Children[i]
		if c == nil {
			continue
		}
		childPrefix := nibble.AppendNibble(full, byte(i))
		if err := traverseNode(ctx, loader, childPrefix, c, visitor); err != nil {
			return err
		}
	}
	return nil
}

// TraverseAsync walks root like Traverse, but fans a node's present
// children out across wp instead of visiting them one at a time, using the
// worker pool's FanOut to run sibling subtrees concurrently.
func TraverseAsync(ctx context.Context, loader *Loader, root *node.ChildRef, visitor Visitor, wp *worker.Pool) error {
	if root == nil {
		return nil
	}
	return traverseNodeAsync(ctx, loader, nibble.Empty(), root, visitor, wp)
}

func traverseNodeAsync(ctx context.Context, loader *Loader, prefix nibble.Path, ref *node.ChildRef, visitor Visitor, wp *worker.Pool) error {
	n, err := loader.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	full := prefix
	if n.HasPath {
		full = nibble.Concat(prefix, n.Path)
	}
	descend, err := visitor.Visit(ctx, full, n)
	if err != nil {
		return err
	}
	if !descend {
		return nil
	}

	var jobs []worker.Job
	for i := 0; i < 16; i++ {
		c := n.Children[i]
		if c == nil {
			continue
		}
		i, c := i, c
		childPrefix := nibble.AppendNibble(full, byte(i))
		jobs = append(jobs, func(jctx context.Context) (any, error) {
			return nil, traverseNodeAsync(jctx, loader, childPrefix, c, visitor, wp)
		})
	}
	if len(jobs) == 0 {
		return nil
	}
	_, err = worker.FanOut(ctx, wp, jobs)
	return err
}
