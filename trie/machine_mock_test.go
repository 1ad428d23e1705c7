package trie_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
)

// TestUpsertCallsComputeExactlyOnceForANewLeaf exercises the state machine
// contract with a mock rather than a real hashing variant: Upsert into an
// empty trie must call Compute exactly once, against the freshly built leaf,
// and must store whatever digest Compute returns.
func TestUpsertCallsComputeExactlyOnceForANewLeaf(t *testing.T) {
	ctrl := gomock.NewController(t)
	sm := statemachine.NewMockMachine(ctrl)

	wantDigest := []byte("fixed-digest")
	sm.EXPECT().
		Compute(gomock.Any()).
		DoAndReturn(func(n *node.Node) []byte {
			require.Equal(t, "v1", string(n.Value))
			return wantDigest
		}).
		Times(1)

	loader := &trie.Loader{}
	root, err := trie.Upsert(context.Background(), loader, nil, nibble.FromKey([]byte("k")), []byte("v1"), 1, sm)
	require.NoError(t, err)
	require.NotNil(t, root)
	require.NotNil(t, root.InMemory)
	require.True(t, root.InMemory.HasData)
	require.Equal(t, wantDigest, root.InMemory.Data)
}

// TestUpsertSkipsDataWhenComputeReturnsNil mirrors a non-merkleizing state
// machine: Compute is still invoked, but a nil result must leave the node
// without a digest.
func TestUpsertSkipsDataWhenComputeReturnsNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	sm := statemachine.NewMockMachine(ctrl)
	sm.EXPECT().Compute(gomock.Any()).Return(nil).Times(1)

	loader := &trie.Loader{}
	root, err := trie.Upsert(context.Background(), loader, nil, nibble.FromKey([]byte("k")), []byte("v1"), 1, sm)
	require.NoError(t, err)
	require.NotNil(t, root)
	require.False(t, root.InMemory.HasData)
}
