// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle computes deterministic SHA-256 trees over key/value pairs
// and produces logarithmic inclusion proofs against their roots.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/luxfi/ids"
)

var (
	leafPrefix     = []byte("leaf:")
	internalPrefix = []byte("internal:")
	separator      = []byte(":")
)

// Pair is one key/value leaf of the tree.
type Pair struct {
	Key   []byte
	Value []byte
}

// Tree is a binary SHA-256 tree over key-sorted pairs. A level with an odd
// node count duplicates its last node, so every level halves.
type Tree struct {
	pairs  []Pair
	levels [][]ids.ID
}

// FromPairs sorts pairs by key and builds the tree. Identical multisets of
// pairs yield identical roots regardless of insertion order. An empty input
// yields a tree with no root.
func FromPairs(pairs []Pair) *Tree {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	t := &Tree{pairs: sorted}
	if len(sorted) == 0 {
		return t
	}

	leaves := make([]ids.ID, len(sorted))
	for i, p := range sorted {
		leaves[i] = LeafHash(p.Key, p.Value)
	}
	t.levels = append(t.levels, leaves)

	for level := leaves; len(level) > 1; {
		next := make([]ids.ID, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, InternalHash(level[i], right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the root hash. ok is false for an empty tree.
func (t *Tree) Root() (ids.ID, bool) {
	if len(t.levels) == 0 {
		return ids.Empty, false
	}
	top := t.levels[len(t.levels)-1]
	return top[0], true
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.pairs)
}

// LeafHash is SHA256("leaf:" || key || ":" || value).
func LeafHash(key, value []byte) ids.ID {
	h := sha256.New()
	h.Write(leafPrefix)
	h.Write(key)
	h.Write(separator)
	h.Write(value)
	var out ids.ID
	copy(out[:], h.Sum(nil))
	return out
}

// InternalHash is SHA256("internal:" || left || ":" || right).
func InternalHash(left, right ids.ID) ids.ID {
	h := sha256.New()
	h.Write(internalPrefix)
	h.Write(left[:])
	h.Write(separator)
	h.Write(right[:])
	var out ids.ID
	copy(out[:], h.Sum(nil))
	return out
}
