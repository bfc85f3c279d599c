// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"bytes"
	"sort"

	"github.com/luxfi/ids"
)

// Direction locates a proof sibling relative to the node being proven.
type Direction uint8

const (
	// Left means the sibling hash sits to the left of the running hash.
	Left Direction = iota
	// Right means the sibling hash sits to the right.
	Right
)

// Proof is an inclusion proof for one key/value pair. Siblings and
// Directions run leaf-to-root and have equal length, O(log n) in the leaf
// count.
type Proof struct {
	Key        []byte
	Value      []byte
	Siblings   []ids.ID
	Directions []Direction
}

// Proof returns the inclusion proof for key, or false when the key is not
// a leaf of the tree.
func (t *Tree) Proof(key []byte) (*Proof, bool) {
	idx := sort.Search(len(t.pairs), func(i int) bool {
		return bytes.Compare(t.pairs[i].Key, key) >= 0
	})
	if idx >= len(t.pairs) || !bytes.Equal(t.pairs[idx].Key, key) {
		return nil, false
	}

	proof := &Proof{
		Key:   t.pairs[idx].Key,
		Value: t.pairs[idx].Value,
	}
	// Walk every level below the root, recording the sibling at each
	// step. The duplicated-last-node rule means an unpaired node is its
	// own right sibling.
	for _, level := range t.levels[:len(t.levels)-1] {
		if idx%2 == 0 {
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			proof.Siblings = append(proof.Siblings, sibling)
			proof.Directions = append(proof.Directions, Right)
		} else {
			proof.Siblings = append(proof.Siblings, level[idx-1])
			proof.Directions = append(proof.Directions, Left)
		}
		idx /= 2
	}
	return proof, true
}

// Verify recomputes the spine of the proof and compares it against the
// expected root. It is pure: no tree state is consulted.
func Verify(proof *Proof, expectedRoot ids.ID) bool {
	if proof == nil || len(proof.Siblings) != len(proof.Directions) {
		return false
	}
	h := LeafHash(proof.Key, proof.Value)
	for i, sibling := range proof.Siblings {
		if proof.Directions[i] == Left {
			h = InternalHash(sibling, h)
		} else {
			h = InternalHash(h, sibling)
		}
	}
	return h == expectedRoot
}
