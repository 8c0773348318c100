package merkle

import (
	"github.com/temporanet/tempora/internal/crypto"
)

// ProofStep is one level of an inclusion proof: the sibling hash and its
// position relative to the path node. The direction records where the
// sibling sits in the tree; recombination itself follows the canonical
// smaller-hash-left rule, so a proof verifies identically whichever side
// the sibling came from.
type ProofStep struct {
	Sibling crypto.Hash
	Left    bool
}

// Proof is an ordered list of steps from a leaf up to a committed root.
// Proofs are generated on demand and never stored beyond the
// request/response that needed them.
type Proof []ProofStep

// Prove generates the inclusion proof for the leaf at the given index.
func Prove(leaves []crypto.Hash, index int) (Proof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, ErrLeafNotFound
	}

	level := make([]crypto.Hash, len(leaves))
	copy(level, leaves)

	var proof Proof
	for len(level) > 1 {
		if len(proof) >= MaxProofDepth {
			return nil, ErrProofTooDeep
		}

		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, ProofStep{
				Sibling: level[sibling],
				Left:    sibling < index,
			})
		}
		// An odd node without a sibling is promoted; no step is emitted
		// for that level.

		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
		index /= 2
	}

	return proof, nil
}

// ProveLeaf generates the inclusion proof for the first leaf equal to the
// given hash.
func ProveLeaf(leaves []crypto.Hash, leaf crypto.Hash) (Proof, error) {
	for i, l := range leaves {
		if l == leaf {
			return Prove(leaves, i)
		}
	}
	return nil, ErrLeafNotFound
}

// Verify recomputes the root from a leaf hash and its proof and compares it
// to an independently-known root, typically taken from a slice header.
func Verify(leaf crypto.Hash, proof Proof, root crypto.Hash) bool {
	if len(proof) > MaxProofDepth {
		return false
	}

	current := leaf
	for _, step := range proof {
		current = combine(current, step.Sibling)
	}
	return current == root
}
