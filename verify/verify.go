// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package verify binds the merkle engine to the live applied state for
// root and proof queries.
package verify

import (
	"encoding/hex"

	"github.com/luxfi/ids"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/merkle"
	"github.com/hyra-network/scribe-ledger/storage"
)

// Service computes roots and proofs over the live key space.
type Service struct {
	store *storage.Store
}

// New returns a verification service over store.
func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// ComputeRoot builds the tree over the live state and returns its root.
// ok is false for an empty ledger.
func (s *Service) ComputeRoot() (ids.ID, bool, error) {
	tree, err := s.liveTree()
	if err != nil {
		return ids.Empty, false, err
	}
	root, ok := tree.Root()
	return root, ok, nil
}

// Prove returns the inclusion proof for key over the live pairs. ok is
// false when key is absent.
func (s *Service) Prove(key []byte) (*merkle.Proof, ids.ID, bool, error) {
	tree, err := s.liveTree()
	if err != nil {
		return nil, ids.Empty, false, err
	}
	root, hasRoot := tree.Root()
	if !hasRoot {
		return nil, ids.Empty, false, nil
	}
	proof, ok := tree.Proof(key)
	if !ok {
		return nil, root, false, nil
	}
	return proof, root, true, nil
}

// Verify is pure proof verification against an expected root.
func Verify(proof *merkle.Proof, expectedRoot ids.ID) bool {
	return merkle.Verify(proof, expectedRoot)
}

// Result is the verification endpoint's response shape.
type Result struct {
	Verified    bool     `json:"verified"`
	RootHex     string   `json:"root_hex"`
	SiblingsHex []string `json:"siblings_hex"`
}

// VerifyKey proves key against the current root and reports the outcome.
func (s *Service) VerifyKey(key []byte) (Result, error) {
	proof, root, ok, err := s.Prove(key)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errs.Newf(errs.NotFound, "key absent from live state")
	}
	siblings := make([]string, len(proof.Siblings))
	for i, sibling := range proof.Siblings {
		siblings[i] = hex.EncodeToString(sibling[:])
	}
	return Result{
		Verified:    Verify(proof, root),
		RootHex:     hex.EncodeToString(root[:]),
		SiblingsHex: siblings,
	}, nil
}

func (s *Service) liveTree() (*merkle.Tree, error) {
	iter := s.store.SnapshotIter()
	defer iter.Release()

	var pairs []merkle.Pair
	for iter.Next() {
		pairs = append(pairs, merkle.Pair{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Wrap(errs.StorageIO, err, "scanning live state")
	}
	return merkle.FromPairs(pairs), nil
}
