// Package merkletree builds the fixed-height transaction Merkle tree that
// commits a block's 32 slots, and the per-leaf inclusion proofs handed back
// to senders. Adapted from the teacher pack's fixed-width Merkle
// construction pattern (github.com/xsleonard/go-merkle) to a hardcoded
// height matching model.NumSendersInBlock exactly, since the block width
// never varies.
package merkletree

import (
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// Height is log2(NumSendersInBlock): 32 leaves need 5 levels of hashing to
// reach a single root.
const Height = 5

// EmptyLeaf is the canonical leaf value for a padded (unused) slot.
var EmptyLeaf = model.Hash{}

func leafHash(data []byte) model.Hash {
	if len(data) == 0 {
		return EmptyLeaf
	}
	return model.HashBytes([]byte{0x00}, data)
}

func nodeHash(left, right model.Hash) model.Hash {
	return model.HashBytes([]byte{0x01}, left.Bytes(), right.Bytes())
}

// Tree holds every level of a fully built tree so proofs can be extracted
// for any leaf index without recomputation.
type Tree struct {
	levels [][]model.Hash // levels[0] = leaves, levels[Height] = [root]
}

// Build hashes leafData (one entry per slot; empty entries hash to
// EmptyLeaf) into a Tree of Height levels.
func Build(leafData [model.NumSendersInBlock][]byte) *Tree {
	leaves := make([]model.Hash, model.NumSendersInBlock)
	for i, d := range leafData {
		leaves[i] = leafHash(d)
	}

	levels := make([][]model.Hash, Height+1)
	levels[0] = leaves
	for lvl := 0; lvl < Height; lvl++ {
		cur := levels[lvl]
		next := make([]model.Hash, len(cur)/2)
		for i := range next {
			next[i] = nodeHash(cur[2*i], cur[2*i+1])
		}
		levels[lvl+1] = next
	}
	return &Tree{levels: levels}
}

// Root returns the tree's root hash.
func (t *Tree) Root() model.Hash { return t.levels[Height][0] }

// ProofFor returns the sibling path from leaf index to the root.
func (t *Tree) ProofFor(index int) model.MerkleProof {
	proof := model.MerkleProof{Index: index}
	idx := index
	for lvl := 0; lvl < Height; lvl++ {
		siblingIdx := idx ^ 1
		proof.Siblings = append(proof.Siblings, t.levels[lvl][siblingIdx])
		idx /= 2
	}
	return proof
}

// Verify checks that leafData, at position proof.Index, is included under
// root according to proof.
func Verify(root model.Hash, leafData []byte, proof model.MerkleProof) bool {
	if len(proof.Siblings) != Height {
		return false
	}
	cur := leafHash(leafData)
	idx := proof.Index
	for _, sib := range proof.Siblings {
		if idx%2 == 0 {
			cur = nodeHash(cur, sib)
		} else {
			cur = nodeHash(sib, cur)
		}
		idx /= 2
	}
	return cur == root
}
