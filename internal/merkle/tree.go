// Package merkle builds the commitment roots for presence sets and
// transaction sets and produces the inclusion proofs light clients verify
// against slice headers.
package merkle

import (
	"errors"

	"github.com/temporanet/tempora/internal/crypto"
)

const (
	// MaxProofDepth bounds proofs to 32 levels, i.e. up to 2^32 leaves.
	MaxProofDepth = 32

	nodePrefix  = "$node"
	emptyPrefix = "$empty"
)

var (
	ErrLeafNotFound = errors.New("merkle: leaf not found")
	ErrProofTooDeep = errors.New("merkle: proof exceeds depth limit")
)

// EmptyRoot is the defined root of a tree with no leaves.
var EmptyRoot = crypto.HashData([]byte(emptyPrefix))

// combine hashes two child nodes under the node domain-separation prefix.
// The numerically smaller hash always goes on the left regardless of tree
// position, which prevents second-preimage style proof confusion and makes
// the root independent of input submission order at each pair.
func combine(a, b crypto.Hash) crypto.Hash {
	if b.Compare(a) < 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, len(nodePrefix)+2*crypto.HashSize)
	buf = append(buf, nodePrefix...)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return crypto.HashData(buf)
}

// ComputeRoot computes the root of a binary hash tree over the ordered leaf
// hashes. An empty set yields EmptyRoot; a single leaf is its own root. An
// odd node at any level is promoted unchanged.
func ComputeRoot(leaves []crypto.Hash) crypto.Hash {
	if len(leaves) == 0 {
		return EmptyRoot
	}

	level := make([]crypto.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}

	return level[0]
}
