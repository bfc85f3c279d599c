// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/storage"
	"github.com/hyra-network/scribe-ledger/types"
	"github.com/hyra-network/scribe-ledger/verify"
)

// ReadMode selects the consistency of a Get.
type ReadMode uint8

const (
	// Linearizable reads pass a ReadIndex barrier on the leader.
	Linearizable ReadMode = iota
	// Local reads serve possibly stale data from this node's applied
	// state.
	Local
)

// Put replicates a single write and returns its applied log index.
// Followers reject with the leader redirect hint.
func (n *Node) Put(ctx context.Context, key, value []byte) (uint64, error) {
	if err := n.admit(ctx, "put", key); err != nil {
		return 0, err
	}
	if len(key) == 0 {
		return 0, errs.New(errs.InvalidRequest, "empty key")
	}
	return n.raft.Propose(ctx, types.Put(key, value))
}

// Delete replicates a removal and returns its applied log index.
func (n *Node) Delete(ctx context.Context, key []byte) (uint64, error) {
	if err := n.admit(ctx, "delete", key); err != nil {
		return 0, err
	}
	if len(key) == 0 {
		return 0, errs.New(errs.InvalidRequest, "empty key")
	}
	return n.raft.Propose(ctx, types.Delete(key))
}

// BatchPut replicates a group of writes applied atomically.
func (n *Node) BatchPut(ctx context.Context, pairs []storage.Pair) (uint64, error) {
	if err := n.admit(ctx, "batch_put", nil); err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, errs.New(errs.InvalidRequest, "empty batch")
	}
	ops := make([]types.Command, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair.Key) == 0 {
			return 0, errs.New(errs.InvalidRequest, "empty key in batch")
		}
		ops = append(ops, types.Put(pair.Key, pair.Value))
	}
	return n.raft.Propose(ctx, types.Batch(ops...))
}

// Get reads a key. Linearizable mode establishes a leader read barrier
// first; Local mode serves this node's applied state as-is. The lookup
// checks the hot cache, then the embedded store, then falls through to
// archived segments.
func (n *Node) Get(ctx context.Context, key []byte, mode ReadMode) ([]byte, bool, error) {
	if err := n.admit(ctx, "get", key); err != nil {
		return nil, false, err
	}
	switch mode {
	case Linearizable:
		if _, err := n.raft.ReadIndex(ctx); err != nil {
			return nil, false, err
		}
	case Local:
		if !n.cfg.LocalReads {
			return nil, false, errs.New(errs.InvalidRequest, "local reads disabled")
		}
	}
	return n.lookup(ctx, key)
}

func (n *Node) lookup(ctx context.Context, key []byte) ([]byte, bool, error) {
	if value, ok := n.hot.Get(key); ok {
		return value, true, nil
	}
	value, err := n.store.Get(key)
	switch {
	case err == nil:
		n.hot.Put(key, value)
		return value, true, nil
	case !errs.IsKind(err, errs.NotFound):
		return nil, false, err
	}

	// Miss in the live tiers: consult archived segments, newest first,
	// so the latest archived version of the key wins.
	if n.archiver == nil {
		return nil, false, nil
	}
	catalog := n.archiver.Catalog()
	for i := len(catalog) - 1; i >= 0; i-- {
		value, err := n.archiver.GetValue(ctx, catalog[i].SegmentID, key)
		if err == nil {
			n.hot.Put(key, value)
			return value, true, nil
		}
		if !errs.IsKind(err, errs.NotFound) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// VerifyKey proves key against the live merkle root.
func (n *Node) VerifyKey(key []byte) (verify.Result, error) {
	return n.verifier.VerifyKey(key)
}

// ComputeRoot returns the merkle root over the live state, hex-encoded.
// ok is false for an empty ledger.
func (n *Node) ComputeRoot() (string, bool, error) {
	root, ok, err := n.verifier.ComputeRoot()
	if err != nil || !ok {
		return "", false, err
	}
	return root.Hex(), true, nil
}

// Info is the cluster introspection snapshot.
type Info struct {
	NodeID      uint64   `json:"node_id"`
	Leader      uint64   `json:"leader"`
	Voters      []uint64 `json:"voters"`
	Learners    []uint64 `json:"learners"`
	Term        uint64   `json:"term"`
	CommitIndex uint64   `json:"commit_index"`
	LastApplied uint64   `json:"last_applied"`
	Role        string   `json:"role"`
}

// ClusterInfo reports this node's view of the cluster.
func (n *Node) ClusterInfo() Info {
	leader, _ := n.raft.Leader()
	membership := n.raft.Membership()
	return Info{
		NodeID:      n.cfg.NodeID,
		Leader:      leader,
		Voters:      membership.VoterIDs(),
		Learners:    membership.LearnerIDs(),
		Term:        n.raft.Term(),
		CommitIndex: n.raft.CommitIndex(),
		LastApplied: n.raft.AppliedIndex(),
		Role:        n.raft.State().String(),
	}
}

// AddLearner proposes adding id as a non-voting member.
func (n *Node) AddLearner(ctx context.Context, id uint64, addr string) error {
	membership := n.raft.Membership()
	if membership.IsMember(id) {
		return errs.Newf(errs.InvalidRequest, "node %d is already a member", id)
	}
	_, err := n.raft.Propose(ctx, types.ChangeMembership(membership.AddLearner(id, addr)))
	return err
}

// PromoteLearner proposes moving id from learner to voter.
func (n *Node) PromoteLearner(ctx context.Context, id uint64) error {
	membership := n.raft.Membership()
	if !membership.IsLearner(id) {
		return errs.Newf(errs.InvalidRequest, "node %d is not a learner", id)
	}
	_, err := n.raft.Propose(ctx, types.ChangeMembership(membership.PromoteLearner(id)))
	return err
}

// RemoveNode proposes removing id from the cluster.
func (n *Node) RemoveNode(ctx context.Context, id uint64) error {
	membership := n.raft.Membership()
	if !membership.IsMember(id) {
		return errs.Newf(errs.InvalidRequest, "node %d is not a member", id)
	}
	_, err := n.raft.Propose(ctx, types.ChangeMembership(membership.RemoveNode(id)))
	return err
}

// TransferLeadership hands leadership to target; zero picks the most
// caught-up voter.
func (n *Node) TransferLeadership(ctx context.Context, target uint64) error {
	return n.raft.TransferLeadership(ctx, target)
}

func (n *Node) admit(ctx context.Context, op string, key []byte) error {
	if n.gate == nil {
		return nil
	}
	return n.gate.Allow(ctx, op, key)
}
