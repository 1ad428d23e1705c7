package statemachine

import (
	"github.com/erigontech/mpt/node"
)

// HashFunc is the injected digest function H(bytes) -> digest.
type HashFunc func([]byte) []byte

func nodePathNibbles(n *node.Node) []byte {
	if !n.HasPath {
		return nil
	}
	out := make([]byte, n.Path.Len())
	for i := range out {
		out[i] = n.Path.At(i)
	}
	return out
}

// childOrEmpty returns child i's cached digest, or an empty string marker
// when absent, for building the 17-element branch encoding.
func childOrEmpty(n *node.Node, i int) []byte {
	c := n.Children[i]
	if c == nil {
		return nil
	}
	return c.Data
}

func encodeForHash(n *node.Node) []byte {
	if n.IsLeaf() {
		path := compactPath(nodePathNibbles(n), true)
		return rlpList(rlpString(path), rlpString(n.Value))
	}
	items := make([][]byte, 0, 17)
	for i := 0; i < 16; i++ {
		items = append(items, rlpString(childOrEmpty(n, i)))
	}
	var val []byte
	if n.HasValue {
		val = n.Value
	}
	items = append(items, rlpString(val))
	return rlpList(items...)
}

// AlwaysMerkle computes a Keccak-style digest at every depth: the default
// injected-hash variant named directly after the canonical Ethereum MPT.
type AlwaysMerkle struct {
	H HashFunc
}

func (m AlwaysMerkle) Down(byte) Machine      { return m }
func (m AlwaysMerkle) Cache() bool            { return true }
func (m AlwaysMerkle) Compact() bool          { return true }
func (m AlwaysMerkle) AutoExpire() bool       { return false }
func (m AlwaysMerkle) IsVariableLength() bool { return true }
func (m AlwaysMerkle) Compute(n *node.Node) []byte {
	return m.H(encodeForHash(n))
}

// EmptyHash returns H_empty, the digest of the empty trie (H(rlp(""))).
func EmptyHash(h HashFunc) []byte {
	return h(rlpString(nil))
}

// AlwaysEmpty never computes a digest; used for sub-tries whose nodes are
// addressed purely by offset, with no merkle commitment.
type AlwaysEmpty struct{}

func (AlwaysEmpty) Down(byte) Machine           { return AlwaysEmpty{} }
func (AlwaysEmpty) Cache() bool                 { return true }
func (AlwaysEmpty) Compact() bool                { return true }
func (AlwaysEmpty) AutoExpire() bool            { return false }
func (AlwaysEmpty) IsVariableLength() bool       { return true }
func (AlwaysEmpty) Compute(n *node.Node) []byte { return nil }

// PlainVariableLength stores variable-length values with no digest
// tracking and no per-node caching beyond what the node cache does anyway.
type PlainVariableLength struct{}

func (PlainVariableLength) Down(byte) Machine           { return PlainVariableLength{} }
func (PlainVariableLength) Cache() bool                 { return false }
func (PlainVariableLength) Compact() bool                { return true }
func (PlainVariableLength) AutoExpire() bool            { return false }
func (PlainVariableLength) IsVariableLength() bool       { return true }
func (PlainVariableLength) Compute(n *node.Node) []byte { return nil }

// MerkleFixedPrefix computes digests like AlwaysMerkle down to PrefixDepth,
// then switches to AlwaysEmpty for the remainder of the trie — used when
// only a fixed-depth prefix of the key space needs a merkle commitment
// (e.g. an account trie's top levels, leaving per-account storage
// unmerkleized).
type MerkleFixedPrefix struct {
	H          HashFunc
	PrefixDepth int
	depth       int
}

func (m MerkleFixedPrefix) Down(byte) Machine {
	if m.depth+1 >= m.PrefixDepth {
		return AlwaysEmpty{}
	}
	return MerkleFixedPrefix{H: m.H, PrefixDepth: m.PrefixDepth, depth: m.depth + 1}
}
func (m MerkleFixedPrefix) Cache() bool            { return true }
func (m MerkleFixedPrefix) Compact() bool          { return true }
func (m MerkleFixedPrefix) AutoExpire() bool       { return false }
func (m MerkleFixedPrefix) IsVariableLength() bool { return true }
func (m MerkleFixedPrefix) Compute(n *node.Node) []byte {
	if m.depth >= m.PrefixDepth {
		return nil
	}
	return m.H(encodeForHash(n))
}

// AutoExpireCache wraps an inner machine, reporting AutoExpire() true and
// caching only down to CacheDepth, past which nodes are left
// uncached to bound memory use over long-lived expiring sub-tries.
type AutoExpireCache struct {
	Inner      Machine
	CacheDepth int
	depth      int
}

func (m AutoExpireCache) Down(branchNibble byte) Machine {
	return AutoExpireCache{Inner: m.Inner.Down(branchNibble), CacheDepth: m.CacheDepth, depth: m.depth + 1}
}
func (m AutoExpireCache) Cache() bool            { return m.depth <= m.CacheDepth && m.Inner.Cache() }
func (m AutoExpireCache) Compact() bool          { return m.Inner.Compact() }
func (m AutoExpireCache) AutoExpire() bool       { return true }
func (m AutoExpireCache) IsVariableLength() bool { return m.Inner.IsVariableLength() }
func (m AutoExpireCache) Compute(n *node.Node) []byte {
	return m.Inner.Compute(n)
}
