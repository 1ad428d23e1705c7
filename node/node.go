// Package node implements the on-disk node representation: a branch-indexed
// mask of up to 16 children, an optional compressed path, an optional value,
// an optional digest, and a version tag.
package node

import (
	"errors"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/nibble"
)

// ErrBadNode is returned by Parse when a buffer does not decode to a
// structurally valid node.
var ErrBadNode = errors.New("node: malformed encoding")

// ChildRef is a reference to one of a node's 16 branch-indexed children. It
// is either an in-memory child awaiting flush (InMemory != nil) or a fully
// flushed on-disk child (Offset valid, InMemory nil).
type ChildRef struct {
	InMemory *Node // owned, not yet flushed; nil once flushed to disk

	Offset   chunkoffset.Offset
	DiskSize uint32

	// Data is the child's cached digest or compute summary, at most 32
	// bytes, produced by the state machine's get_compute/cache hooks.
	Data []byte

	// SubtrieMinVersion is present only when the owning state machine's
	// auto_expire flag is set; it records the minimum version still live
	// anywhere in the child sub-trie.
	SubtrieMinVersion    uint64
	HasSubtrieMinVersion bool
}

// IsFlushed reports whether this child has a durable on-disk location.
func (c *ChildRef) IsFlushed() bool { return c != nil && c.InMemory == nil && c.Offset.IsValid() }

// Node is one node of the trie, addressed by nibble path segment.
type Node struct {
	Mask     uint16
	Children [16]*ChildRef

	Path    nibble.Path
	HasPath bool

	Value    []byte
	HasValue bool

	// Data is this node's own cached digest/compute summary, at most 32
	// bytes.
	Data    []byte
	HasData bool

	Version uint64
}

// ChildCount returns the number of set bits in Mask.
func (n *Node) ChildCount() int {
	count := 0
	for i := 0; i < 16; i++ {
		if n.Mask&(1<<uint(i)) != 0 {
			count++
		}
	}
	return count
}

// HasChild reports whether branch index i is present.
func (n *Node) HasChild(i int) bool { return n.Mask&(1<<uint(i)) != 0 }

// SetChild installs (or clears, when ref is nil) the child at branch index i,
// maintaining Mask.
func (n *Node) SetChild(i int, ref *ChildRef) {
	if ref == nil {
		n.Mask &^= 1 << uint(i)
		n.Children[i] = nil
		return
	}
	n.Mask |= 1 << uint(i)
	n.Children[i] = ref
}

// IsLeaf reports whether n has no children at all.
func (n *Node) IsLeaf() bool { return n.Mask == 0 }

// ApproxSize estimates the in-memory footprint of n for cache accounting
// purposes: struct overhead plus the variable-length payloads.
func (n *Node) ApproxSize() int {
	const overhead = 96 // struct + slice headers, rough
	size := overhead
	size += len(n.Value)
	size += len(n.Data)
	size += (n.Path.Len() + 1) / 2
	for i := 0; i < 16; i++ {
		if c := n.Children[i]; c != nil {
			size += 32 + len(c.Data) // per-child entry overhead + digest
		}
	}
	return size
}
