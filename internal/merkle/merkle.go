// Package merkle builds the proof-of-reserves tree: a commitment to the
// full per-account liability set, published as a single root alongside the
// aggregate total so any account holder can verify inclusion.
package merkle

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Leaf is one account's collateral balance at build time.
type Leaf struct {
	Address common.Address
	Balance *big.Int
}

// Proof is the sibling path from a leaf to the root, bottom-up.
type Proof [][32]byte

// Tree is an immutable reserves commitment. It is rebuilt wholesale each
// reserves cycle and atomically swapped in by the caller, never mutated.
type Tree struct {
	Root             [32]byte
	TotalLiabilities *big.Int
	AccountCount     int

	proofs map[common.Address]Proof
}

// zeroHash pads the leaf level out to a power of two.
var zeroHash [32]byte

// Build constructs the tree from the given balance set. The result is
// deterministic for a given multiset of leaves regardless of input order:
// leaves are sorted by address and sibling pairs are hashed in commutative
// (min, max) byte order, so proofs need no left/right positions.
func Build(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return &Tree{
			TotalLiabilities: new(big.Int),
			proofs:           map[common.Address]Proof{},
		}, nil
	}

	sorted := make([]Leaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address[:], sorted[j].Address[:]) < 0
	})

	total := new(big.Int)
	hashes := make([][32]byte, len(sorted))
	for i, leaf := range sorted {
		if leaf.Balance == nil || leaf.Balance.Sign() < 0 {
			return nil, fmt.Errorf("leaf %s: balance must be a non-negative integer", leaf.Address.Hex())
		}
		if i > 0 && sorted[i-1].Address == leaf.Address {
			return nil, fmt.Errorf("duplicate leaf address %s", leaf.Address.Hex())
		}
		total.Add(total, leaf.Balance)
		hashes[i] = LeafHash(leaf.Address, leaf.Balance)
	}

	// Pad on the right to a power of two. A single leaf is already one.
	for !isPowerOfTwo(len(hashes)) {
		hashes = append(hashes, zeroHash)
	}

	levels := [][][32]byte{hashes}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([][32]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			right := cur[i] // odd trailing node pairs with itself
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, hashPair(cur[i], right))
		}
		levels = append(levels, next)
	}

	proofs := make(map[common.Address]Proof, len(sorted))
	for i, leaf := range sorted {
		proof := make(Proof, 0, len(levels)-1)
		idx := i
		for _, level := range levels[:len(levels)-1] {
			sib := idx ^ 1
			if sib >= len(level) {
				sib = idx
			}
			proof = append(proof, level[sib])
			idx /= 2
		}
		proofs[leaf.Address] = proof
	}

	return &Tree{
		Root:             levels[len(levels)-1][0],
		TotalLiabilities: total,
		AccountCount:     len(sorted),
		proofs:           proofs,
	}, nil
}

// Proof returns the inclusion proof for address, if it was a build leaf.
func (t *Tree) Proof(addr common.Address) (Proof, bool) {
	p, ok := t.proofs[addr]
	return p, ok
}

// Verify recomputes the leaf hash and folds the proof with the same
// commutative pair ordering used by Build.
func Verify(root [32]byte, addr common.Address, balance *big.Int, proof Proof) bool {
	if balance == nil {
		return false
	}
	h := LeafHash(addr, balance)
	for _, sib := range proof {
		h = hashPair(h, sib)
	}
	return h == root
}

// LeafHash is keccak256 over the packed (address ‖ uint256 balance) pair,
// the same encoding the ledger program uses to check published roots.
func LeafHash(addr common.Address, balance *big.Int) [32]byte {
	var bal [32]byte
	balance.FillBytes(bal[:])
	var out [32]byte
	copy(out[:], crypto.Keccak256(addr[:], bal[:]))
	return out
}

func hashPair(a, b [32]byte) [32]byte {
	first, second := a, b
	if bytes.Compare(b[:], a[:]) < 0 {
		first, second = b, a
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(first[:], second[:]))
	return out
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
