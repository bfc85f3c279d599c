// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/types"
)

// broadcastAppend pushes entries (or a heartbeat) to every peer.
func (n *Node) broadcastAppend() {
	n.mu.Lock()
	if n.state != Leader {
		n.mu.Unlock()
		return
	}
	peers := make([]uint64, 0, len(n.peers))
	for id := range n.peers {
		peers = append(peers, id)
	}
	n.mu.Unlock()

	for _, peer := range peers {
		go n.replicateTo(peer)
	}
}

// replicateTo sends one AppendEntries round to peer, backing up next on
// rejection and falling back to a snapshot when the needed entries are
// compacted away.
func (n *Node) replicateTo(peer uint64) {
	n.mu.Lock()
	if n.state != Leader {
		n.mu.Unlock()
		return
	}
	p, ok := n.peers[peer]
	if !ok {
		n.mu.Unlock()
		return
	}

	// A peer that needs compacted entries gets the snapshot instead.
	if n.snapshotIndex > 0 && p.next <= n.snapshotIndex {
		n.mu.Unlock()
		n.sendSnapshot(peer)
		return
	}

	prevIndex := p.next - 1
	prevTerm, err := n.storage.Term(prevIndex)
	if err != nil {
		n.mu.Unlock()
		n.log.Warn("resolving prev log term failed",
			zap.Uint64("peer", peer),
			zap.Uint64("prevIndex", prevIndex),
			zap.Error(err),
		)
		return
	}
	entries, err := n.storage.Entries(p.next, n.storage.LastIndex(), n.cfg.MaxPayloadEntries)
	if err != nil {
		n.mu.Unlock()
		n.log.Warn("reading entries for replication failed", zap.Error(err))
		return
	}
	req := &AppendEntriesRequest{
		Term:         n.currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.rpcTimeout())
	defer cancel()
	resp, err := n.transport.AppendEntries(ctx, peer, req)
	if err != nil {
		n.log.Debug("append entries failed", zap.Uint64("peer", peer), zap.Error(err))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if resp.Term > n.currentTerm {
		n.stepDownLocked(resp.Term)
		return
	}
	if n.state != Leader || n.currentTerm != req.Term {
		return
	}
	p, ok = n.peers[peer]
	if !ok {
		return
	}
	if resp.Success {
		if resp.MatchIndex > p.match {
			p.match = resp.MatchIndex
		}
		p.next = p.match + 1
		n.maybeCommitLocked()
		// Keep pushing while the peer is behind.
		if p.next <= n.storage.LastIndex() {
			go n.replicateTo(peer)
		}
		return
	}

	// Rejected: back up, honoring the follower's conflict hint.
	if resp.ConflictIndex > 0 && resp.ConflictIndex < p.next {
		p.next = resp.ConflictIndex
	} else if p.next > 1 {
		p.next--
	}
	go n.replicateTo(peer)
}

// matchedLocked reports whether a majority of the given voter set has
// persisted index.
func (n *Node) matchedLocked(m *types.Membership, index uint64) bool {
	votes := 0
	for _, id := range m.VoterIDs() {
		if id == n.id {
			if n.lastIndexLocked() >= index {
				votes++
			}
			continue
		}
		if p, ok := n.peers[id]; ok && p.match >= index {
			votes++
		}
	}
	return votes >= m.Quorum()
}

// maybeCommitLocked advances the commit index to the highest index
// replicated on a quorum in the leader's current term. While a membership
// change is in flight, both the old and new voter sets must reach quorum.
func (n *Node) maybeCommitLocked() {
	if n.state != Leader {
		return
	}

	// Collect candidate indices above the current commit point.
	matches := []uint64{n.lastIndexLocked()}
	for _, p := range n.peers {
		matches = append(matches, p.match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	for _, index := range matches {
		if index <= n.commitIndex {
			break
		}
		term, err := n.storage.Term(index)
		if err != nil || term != n.currentTerm {
			// Entries from prior terms commit only alongside a
			// current-term entry.
			continue
		}
		if !n.matchedLocked(n.membership, index) {
			continue
		}
		if n.pendingMembership != nil && !n.matchedLocked(n.pendingMembership, index) {
			continue
		}
		n.commitIndex = index
		n.metrics.observeCommit(index)
		n.signalApply()
		return
	}
}

func (n *Node) signalApply() {
	select {
	case n.applySignal <- struct{}{}:
	default:
	}
}

// HandleAppendEntries answers replication traffic from the leader.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &AppendEntriesResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.state == Candidate {
		n.stepDownLocked(req.Term)
	}
	resp.Term = n.currentTerm
	n.leaderID = req.LeaderID
	n.resetElectionTimerLocked()

	// Consistency check at the previous slot.
	if req.PrevLogIndex > 0 && req.PrevLogIndex > n.snapshotIndex {
		if req.PrevLogIndex > n.lastIndexLocked() {
			resp.ConflictIndex = n.lastIndexLocked() + 1
			return resp
		}
		term, err := n.storage.Term(req.PrevLogIndex)
		if err != nil || term != req.PrevLogTerm {
			resp.ConflictIndex = req.PrevLogIndex
			return resp
		}
	}

	// Drop entries already covered by the snapshot, then resolve any
	// divergence: the leader's suffix overwrites uncommitted conflicts.
	entries := req.Entries
	for len(entries) > 0 && entries[0].Index <= n.snapshotIndex {
		entries = entries[1:]
	}
	appendFrom := -1
	for i, entry := range entries {
		if entry.Index > n.storage.LastIndex() {
			appendFrom = i
			break
		}
		term, err := n.storage.Term(entry.Index)
		if err != nil || term != entry.Term {
			if err := n.storage.TruncateSuffix(entry.Index); err != nil {
				n.log.Error("truncating diverged suffix failed", zap.Error(err))
				return resp
			}
			appendFrom = i
			break
		}
	}
	if appendFrom >= 0 {
		// Entries persist before the acknowledgment leaves this node.
		if err := n.storage.Append(entries[appendFrom:]); err != nil {
			n.log.Error("appending replicated entries failed", zap.Error(err))
			return resp
		}
	}

	resp.Success = true
	resp.MatchIndex = req.PrevLogIndex + uint64(len(req.Entries))
	if req.LeaderCommit > n.commitIndex {
		last := n.lastIndexLocked()
		if req.LeaderCommit < last {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = last
		}
		n.metrics.observeCommit(n.commitIndex)
		n.signalApply()
	}
	return resp
}

// applyLoop is the single task draining committed entries into the state
// machine.
func (n *Node) applyLoop() {
	defer n.done.Done()

	for {
		select {
		case <-n.applySignal:
			n.applyCommitted()
		case <-n.stopped:
			return
		}
	}
}

func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		index := n.lastApplied + 1
		entry, err := n.storage.Entry(index)
		if err != nil {
			// A snapshot install moved the floor past this index.
			if index <= n.snapshotIndex {
				n.lastApplied = n.snapshotIndex
				n.mu.Unlock()
				continue
			}
			n.mu.Unlock()
			n.log.Error("reading committed entry failed",
				zap.Uint64("index", index),
				zap.Error(err),
			)
			return
		}
		n.mu.Unlock()

		// The state machine applies outside the consensus lock; the
		// apply loop is the only writer.
		applyErr := n.fsm.Apply(entry)

		n.mu.Lock()
		if applyErr == nil && index == n.lastApplied+1 {
			// A concurrent snapshot install may have moved the floor
			// past this index; never regress.
			n.lastApplied = index
			n.metrics.observeApplied(index)
			if entry.Command.Kind == types.KindMembershipChange {
				n.applyMembershipLocked(entry.Command.Membership)
			}
		}
		n.notifyWaitersLocked(index, applyErr)
		n.mu.Unlock()

		if applyErr != nil {
			n.log.Error("applying entry failed; halting apply loop",
				zap.Uint64("index", index),
				zap.Error(applyErr),
			)
			return
		}
		n.maybeSnapshot()
	}
}

func (n *Node) applyMembershipLocked(m *types.Membership) {
	n.membership = m
	n.pendingMembership = nil
	n.ensureProgressLocked()
	if n.state != Leader {
		if m.IsLearner(n.id) {
			n.state = Learner
		} else if n.state == Learner && m.IsVoter(n.id) {
			n.state = Follower
		}
	}
	n.log.Info("membership change applied",
		zap.Uint64s("voters", m.VoterIDs()),
		zap.Uint64s("learners", m.LearnerIDs()),
	)
}

func (n *Node) notifyWaitersLocked(index uint64, err error) {
	for _, ch := range n.waiters[index] {
		ch <- err
	}
	delete(n.waiters, index)
}
