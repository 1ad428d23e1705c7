// Package statemachine defines the pluggable per-depth policy the trie
// consults while it recomputes node digests bottom-up: whether a node's
// children carry a merkle digest, whether nodes are cached, whether
// compaction may rewrite them, and whether sub-tries track an expiration
// version.
package statemachine

import "github.com/erigontech/mpt/node"

// Machine is the capability set a trie consults at every depth while
// building or rebuilding a node.
type Machine interface {
	// Down returns the state machine to use one nibble deeper, given the
	// branch nibble being descended. Most variants return themselves
	// unchanged; MerkleFixedPrefix switches behavior past its prefix depth.
	Down(branchNibble byte) Machine

	// Compute returns the digest/summary to store as a node's own Data
	// field, given that every present child's ChildRef.Data has already
	// been computed. A nil/empty result means "no digest for this variant".
	Compute(n *node.Node) []byte

	// Cache reports whether a node computed under this machine should be
	// retained in the node cache after being written.
	Cache() bool

	// Compact reports whether nodes under this machine participate in
	// compaction's live-node re-emission.
	Compact() bool

	// AutoExpire reports whether the sub-trie under this machine is an
	// expiring one. Compaction leaves such sub-tries in place; the trie
	// operations in this module do not set ChildRef.SubtrieMinVersion from
	// it, and there is no expiration pass.
	AutoExpire() bool

	// IsVariableLength reports whether values under this machine vary in
	// length (true for all bundled variants except none — kept as a
	// capability bit since spec.md calls it out explicitly).
	IsVariableLength() bool
}
