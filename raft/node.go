// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/types"
)

// progress tracks replication to one peer.
type progress struct {
	next  uint64
	match uint64
}

// Node is one member of the consensus group. All volatile and durable
// consensus state mutates under one mutex; persistence happens before any
// RPC response that depends on it, and the lock is never held across an
// outbound RPC.
type Node struct {
	cfg       config.RaftConfig
	id        uint64
	log       log.Logger
	storage   *Storage
	fsm       FSM
	transport Transport

	mu                sync.Mutex
	state             State
	currentTerm       uint64
	votedFor          uint64
	leaderID          uint64
	membership        *types.Membership
	pendingMembership *types.Membership

	commitIndex   uint64
	lastApplied   uint64
	snapshotIndex uint64
	snapshotTerm  uint64

	peers map[uint64]*progress

	electionTimer *time.Timer
	leaderStop    chan struct{}
	rng           *rand.Rand

	applySignal chan struct{}
	waiters     map[uint64][]chan error
	incoming    *incomingSnapshot

	metrics *metrics

	stopOnce sync.Once
	stopped  chan struct{}
	done     sync.WaitGroup
}

// New restores a node from storage. The state machine's persisted applied
// index is seeded afterwards through SetApplied; the commit index starts
// there and re-advances through normal replication.
func New(
	cfg config.RaftConfig,
	id uint64,
	membership *types.Membership,
	store *Storage,
	fsm FSM,
	transport Transport,
	logger log.Logger,
) (*Node, error) {
	term, votedFor, err := store.HardState()
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:         cfg,
		id:          id,
		log:         logger,
		storage:     store,
		fsm:         fsm,
		transport:   transport,
		state:       Follower,
		currentTerm: term,
		votedFor:    votedFor,
		membership:  membership,
		peers:       make(map[uint64]*progress),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id))),
		applySignal: make(chan struct{}, 1),
		waiters:     make(map[uint64][]chan error),
		stopped:     make(chan struct{}),
	}

	if meta, ok, err := store.SnapshotMeta(); err != nil {
		return nil, err
	} else if ok {
		n.snapshotIndex = meta.LastIncludedIndex
		n.snapshotTerm = meta.LastIncludedTerm
		if meta.Membership != nil {
			n.membership = meta.Membership
		}
		n.commitIndex = meta.LastIncludedIndex
		n.lastApplied = meta.LastIncludedIndex
	}
	if n.membership.IsLearner(id) {
		n.state = Learner
	}
	return n, nil
}

// SetApplied seeds the applied index from the state machine's durable
// record. Call before Start.
func (n *Node) SetApplied(applied uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if applied > n.lastApplied {
		n.lastApplied = applied
	}
	if applied > n.commitIndex {
		n.commitIndex = applied
	}
}

// Start arms the election timer and launches the apply loop.
func (n *Node) Start() {
	n.mu.Lock()
	n.electionTimer = time.AfterFunc(n.electionDuration(), n.onElectionTimeout)
	n.mu.Unlock()

	n.done.Add(1)
	go n.applyLoop()
}

// Stop halts timers and background loops. In-flight proposals fail with a
// busy error.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		if n.electionTimer != nil {
			n.electionTimer.Stop()
		}
		if n.leaderStop != nil {
			close(n.leaderStop)
			n.leaderStop = nil
		}
		for index, chans := range n.waiters {
			for _, ch := range chans {
				ch <- errs.New(errs.ConsensusBusy, "node stopping")
			}
			delete(n.waiters, index)
		}
		n.mu.Unlock()
		close(n.stopped)
	})
	n.done.Wait()
}

// ID returns this node's id.
func (n *Node) ID() uint64 { return n.id }

// State returns the current consensus role.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Term returns the current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// Leader returns the last known leader and its address.
func (n *Node) Leader() (uint64, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID, n.membership.Addresses[n.leaderID]
}

// CommitIndex returns the highest committed index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// AppliedIndex returns the highest applied index.
func (n *Node) AppliedIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastApplied
}

// Membership returns the active cluster configuration.
func (n *Node) Membership() *types.Membership {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.membership.Clone()
}

// Propose replicates cmd and waits until it is committed and applied on
// this node. It returns the entry's log index.
func (n *Node) Propose(ctx context.Context, cmd types.Command) (uint64, error) {
	n.mu.Lock()
	if n.state != Leader {
		leaderID := n.leaderID
		addr := n.membership.Addresses[leaderID]
		n.mu.Unlock()
		return 0, &errs.NotLeaderError{LeaderID: leaderID, Address: addr}
	}

	entry := types.LogEntry{
		Term:    n.currentTerm,
		Index:   n.storage.LastIndex() + 1,
		Command: cmd,
	}
	if entry.Index <= n.snapshotIndex {
		entry.Index = n.snapshotIndex + 1
	}
	if err := n.storage.Append([]types.LogEntry{entry}); err != nil {
		n.mu.Unlock()
		return 0, err
	}
	if cmd.Kind == types.KindMembershipChange {
		n.pendingMembership = cmd.Membership
		n.ensureProgressLocked()
	}

	wait := make(chan error, 1)
	n.waiters[entry.Index] = append(n.waiters[entry.Index], wait)
	n.maybeCommitLocked()
	n.mu.Unlock()

	n.broadcastAppend()

	select {
	case err := <-wait:
		if err != nil {
			return 0, err
		}
		return entry.Index, nil
	case <-ctx.Done():
		return 0, errs.Wrap(errs.ConsensusBusy, ctx.Err(), "proposal abandoned")
	case <-n.stopped:
		return 0, errs.New(errs.ConsensusBusy, "node stopping")
	}
}

// electionDuration randomizes in [T, 2T].
func (n *Node) electionDuration() time.Duration {
	t := n.cfg.ElectionTimeout
	return t + time.Duration(n.rng.Int63n(int64(t)))
}

func (n *Node) resetElectionTimerLocked() {
	if n.electionTimer != nil {
		n.electionTimer.Reset(n.electionDuration())
	}
}

// rpcTimeout bounds a single outbound RPC.
func (n *Node) rpcTimeout() time.Duration {
	return n.cfg.HeartbeatInterval
}

// stepDownLocked reverts to follower at term, clearing any leader state.
func (n *Node) stepDownLocked(term uint64) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = 0
		if err := n.storage.SetHardState(n.currentTerm, n.votedFor); err != nil {
			n.log.Error("persisting hard state failed", zap.Error(err))
		}
	}
	if n.leaderStop != nil {
		close(n.leaderStop)
		n.leaderStop = nil
	}
	if n.membership.IsLearner(n.id) {
		n.state = Learner
	} else {
		n.state = Follower
	}
	n.metrics.observeState(n.state, n.currentTerm)
	n.resetElectionTimerLocked()
}

// ensureProgressLocked keeps one progress slot per remote member of the
// active (and any pending) configuration.
func (n *Node) ensureProgressLocked() {
	members := map[uint64]struct{}{}
	for _, id := range n.membership.MemberIDs() {
		members[id] = struct{}{}
	}
	if n.pendingMembership != nil {
		for _, id := range n.pendingMembership.MemberIDs() {
			members[id] = struct{}{}
		}
	}
	for id := range members {
		if id == n.id {
			continue
		}
		if _, ok := n.peers[id]; !ok {
			n.peers[id] = &progress{next: n.storage.LastIndex() + 1}
		}
	}
	for id := range n.peers {
		if _, ok := members[id]; !ok {
			delete(n.peers, id)
		}
	}
}

// addressFor resolves a member address across the active and pending
// configurations.
func (n *Node) addressFor(id uint64) string {
	if addr, ok := n.membership.Addresses[id]; ok {
		return addr
	}
	if n.pendingMembership != nil {
		return n.pendingMembership.Addresses[id]
	}
	return ""
}
