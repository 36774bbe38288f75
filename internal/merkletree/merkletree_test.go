package merkletree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// Round-trip law from spec.md §8: for any set of <=32 distinct pubkeys,
// every leaf's proof must verify against the tree's root.
func TestBuildAndVerify_AllLeavesVerify(t *testing.T) {
	var leaves [model.NumSendersInBlock][]byte
	for i := 0; i < 10; i++ {
		leaves[i] = []byte{byte(i), byte(i + 1), byte(i + 2)}
	}
	tree := Build(leaves)
	root := tree.Root()

	for i := 0; i < model.NumSendersInBlock; i++ {
		proof := tree.ProofFor(i)
		require.Len(t, proof.Siblings, Height)
		assert.True(t, Verify(root, leaves[i], proof), "leaf %d must verify", i)
	}
}

func TestVerify_RejectsWrongLeaf(t *testing.T) {
	var leaves [model.NumSendersInBlock][]byte
	leaves[0] = []byte("alice-tx")
	leaves[1] = []byte("bob-tx")
	tree := Build(leaves)
	proof := tree.ProofFor(0)

	assert.False(t, Verify(tree.Root(), []byte("mallory-tx"), proof))
}

func TestVerify_RejectsWrongIndex(t *testing.T) {
	var leaves [model.NumSendersInBlock][]byte
	leaves[0] = []byte("alice-tx")
	leaves[1] = []byte("bob-tx")
	tree := Build(leaves)
	proof := tree.ProofFor(0)
	proof.Index = 1

	assert.False(t, Verify(tree.Root(), leaves[0], proof))
}

func TestEmptySlotsHashToEmptyLeaf(t *testing.T) {
	var leaves [model.NumSendersInBlock][]byte
	leaves[0] = []byte("only-one-request")
	tree := Build(leaves)

	proof := tree.ProofFor(5)
	assert.True(t, Verify(tree.Root(), nil, proof))
}
