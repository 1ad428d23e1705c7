package updateaux

import (
	"context"
	"fmt"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
)

// CopyTrie grafts the sub-trie rooted at srcPrefix as of srcVersion onto
// dstPrefix in the current tree, recording the result as a new version
// dstVersion (which must be strictly greater than the current max_version,
// the same ordering DoUpdate enforces). When the source sub-trie is absent,
// createIfAbsent controls whether that erases the value stored at exactly
// dstPrefix (true; keys below dstPrefix are kept) or fails with
// ErrKeyMismatch (false).
func (aux *UpdateAux) CopyTrie(ctx context.Context, sm statemachine.Machine, srcVersion uint64, srcPrefix nibble.Path, dstVersion uint64, dstPrefix nibble.Path, createIfAbsent bool) (*node.ChildRef, error) {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	if aux.hasMaxVersion && dstVersion <= aux.maxVersion {
		return nil, fmt.Errorf("%w: got %d, current max_version %d", ErrVersionOutOfOrder, dstVersion, aux.maxVersion)
	}

	srcRoot, err := aux.loadRootForVersionLocked(srcVersion)
	if err != nil {
		return nil, err
	}
	srcRef, found, err := trie.FindRefByPrefix(ctx, aux.loader, srcRoot, srcPrefix)
	if err != nil {
		return nil, err
	}

	var newRoot *node.ChildRef
	if !found {
		if !createIfAbsent {
			return nil, trie.ErrKeyMismatch
		}
		newRoot, err = trie.Erase(ctx, aux.loader, aux.root, dstPrefix, dstVersion, sm)
	} else {
		newRoot, err = trie.CopySubtrie(ctx, aux.loader, aux.root, dstPrefix, srcRef, dstVersion, sm)
	}
	if err != nil {
		return nil, err
	}

	flushed, err := aux.flushTree(newRoot, aux.fast)
	if err != nil {
		return nil, err
	}
	aux.root = flushed

	aux.setRingLocked(dstVersion, flushed)
	aux.advanceRetentionLocked(dstVersion)

	if aux.shouldCompactLocked() {
		if err := aux.runCompactionStepLocked(ctx, sm, dstVersion); err != nil {
			return nil, err
		}
	}

	if err := aux.persist(); err != nil {
		return nil, err
	}
	aux.log.Info("copy_trie applied", "src_version", srcVersion, "dst_version", dstVersion)
	return aux.root, nil
}
