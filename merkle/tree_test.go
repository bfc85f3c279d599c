// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func pairs(kvs ...string) []Pair {
	if len(kvs)%2 != 0 {
		panic("pairs requires key/value arguments")
	}
	out := make([]Pair, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		out = append(out, Pair{Key: []byte(kvs[i]), Value: []byte(kvs[i+1])})
	}
	return out
}

func TestEmptyTreeHasNoRoot(t *testing.T) {
	require := require.New(t)

	tree := FromPairs(nil)
	_, ok := tree.Root()
	require.False(ok)

	_, ok = tree.Proof([]byte("missing"))
	require.False(ok)
}

func TestSingleLeaf(t *testing.T) {
	require := require.New(t)

	tree := FromPairs(pairs("alice", "1"))
	root, ok := tree.Root()
	require.True(ok)
	require.Equal(LeafHash([]byte("alice"), []byte("1")), root)

	proof, ok := tree.Proof([]byte("alice"))
	require.True(ok)
	require.Empty(proof.Siblings)
	require.True(Verify(proof, root))
}

func TestDeterminismUnderShuffle(t *testing.T) {
	require := require.New(t)

	base := make([]Pair, 0, 101)
	for i := 0; i < 101; i++ {
		base = append(base, Pair{
			Key:   []byte(fmt.Sprintf("key-%03d", i)),
			Value: []byte(fmt.Sprintf("value-%d", i)),
		})
	}
	tree := FromPairs(base)
	root, ok := tree.Root()
	require.True(ok)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]Pair, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		shuffledRoot, ok := FromPairs(shuffled).Root()
		require.True(ok)
		require.Equal(root, shuffledRoot)
	}
}

func TestOddLevelDuplication(t *testing.T) {
	require := require.New(t)

	// Three leaves: the leaf level is odd, so its last node (c) pairs with itself.
	tree := FromPairs(pairs("a", "1", "b", "2", "c", "3"))
	root, ok := tree.Root()
	require.True(ok)

	la := LeafHash([]byte("a"), []byte("1"))
	lb := LeafHash([]byte("b"), []byte("2"))
	lc := LeafHash([]byte("c"), []byte("3"))
	expected := InternalHash(InternalHash(la, lb), InternalHash(lc, lc))
	require.Equal(expected, root)

	// Every leaf must verify, including the duplicated one.
	for _, key := range []string{"a", "b", "c"} {
		proof, ok := tree.Proof([]byte(key))
		require.True(ok)
		require.True(Verify(proof, root))
	}
}

func TestProofFailsAgainstChangedRoot(t *testing.T) {
	require := require.New(t)

	tree := FromPairs(pairs("k", "v", "k2", "v2"))
	root, ok := tree.Root()
	require.True(ok)

	proof, ok := tree.Proof([]byte("k"))
	require.True(ok)
	require.True(Verify(proof, root))

	// Tamper with the stored value and recompute: the old proof must not
	// verify against the new root.
	tampered := FromPairs(pairs("k", "v'", "k2", "v2"))
	newRoot, ok := tampered.Root()
	require.True(ok)
	require.NotEqual(root, newRoot)
	require.False(Verify(proof, newRoot))
}

func TestProofTamperedValue(t *testing.T) {
	require := require.New(t)

	tree := FromPairs(pairs("a", "1", "b", "2", "c", "3", "d", "4"))
	root, _ := tree.Root()

	proof, ok := tree.Proof([]byte("b"))
	require.True(ok)
	proof.Value = []byte("20")
	require.False(Verify(proof, root))
}

func TestProofSizeLogarithmic(t *testing.T) {
	require := require.New(t)

	base := make([]Pair, 0, 1024)
	for i := 0; i < 1024; i++ {
		base = append(base, Pair{Key: []byte(fmt.Sprintf("%04d", i)), Value: []byte("v")})
	}
	tree := FromPairs(base)
	root, _ := tree.Root()

	proof, ok := tree.Proof([]byte("0517"))
	require.True(ok)
	require.Len(proof.Siblings, 10)
	require.True(Verify(proof, root))
}
