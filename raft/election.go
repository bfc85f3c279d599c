// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/types"
)

func (n *Node) lastIndexLocked() uint64 {
	if last := n.storage.LastIndex(); last > 0 {
		return last
	}
	return n.snapshotIndex
}

func (n *Node) lastTermLocked() uint64 {
	if n.storage.LastIndex() > 0 {
		return n.storage.LastTerm()
	}
	return n.snapshotTerm
}

// onElectionTimeout fires when no heartbeat arrived within the randomized
// election window.
func (n *Node) onElectionTimeout() {
	select {
	case <-n.stopped:
		return
	default:
	}

	n.mu.Lock()
	if n.state == Leader || n.state == Learner || !n.membership.IsVoter(n.id) {
		n.resetElectionTimerLocked()
		n.mu.Unlock()
		return
	}
	req, voters := n.startElectionLocked()
	n.mu.Unlock()

	n.campaign(req, voters)
}

// startElectionLocked moves to candidate, votes for itself and builds the
// vote request.
func (n *Node) startElectionLocked() (*RequestVoteRequest, []uint64) {
	n.state = Candidate
	n.currentTerm++
	n.votedFor = n.id
	n.leaderID = 0
	if err := n.storage.SetHardState(n.currentTerm, n.votedFor); err != nil {
		n.log.Error("persisting vote failed", zap.Error(err))
	}
	n.metrics.observeState(n.state, n.currentTerm)
	n.metrics.electionStarted()
	n.resetElectionTimerLocked()

	n.log.Info("starting election", zap.Uint64("term", n.currentTerm))
	req := &RequestVoteRequest{
		Term:         n.currentTerm,
		CandidateID:  n.id,
		LastLogIndex: n.lastIndexLocked(),
		LastLogTerm:  n.lastTermLocked(),
	}
	var voters []uint64
	for _, id := range n.membership.VoterIDs() {
		if id != n.id {
			voters = append(voters, id)
		}
	}
	return req, voters
}

// campaign gathers votes; a strict majority of voters wins.
func (n *Node) campaign(req *RequestVoteRequest, voters []uint64) {
	var (
		mu    sync.Mutex
		votes = 1 // own vote
		won   bool
	)
	quorum := n.Membership().Quorum()
	if votes >= quorum {
		n.mu.Lock()
		n.becomeLeaderLocked(req.Term)
		n.mu.Unlock()
		return
	}

	var wg sync.WaitGroup
	for _, peer := range voters {
		wg.Add(1)
		go func(peer uint64) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), n.rpcTimeout())
			defer cancel()
			resp, err := n.transport.RequestVote(ctx, peer, req)
			if err != nil {
				n.log.Debug("vote request failed", zap.Uint64("peer", peer), zap.Error(err))
				return
			}

			n.mu.Lock()
			if resp.Term > n.currentTerm {
				n.stepDownLocked(resp.Term)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()

			if !resp.Granted {
				return
			}
			mu.Lock()
			votes++
			reached := votes >= quorum && !won
			if reached {
				won = true
			}
			mu.Unlock()
			if reached {
				n.mu.Lock()
				n.becomeLeaderLocked(req.Term)
				n.mu.Unlock()
				n.broadcastAppend()
			}
		}(peer)
	}
	wg.Wait()
}

// becomeLeaderLocked assumes leadership for term if the election is still
// current.
func (n *Node) becomeLeaderLocked(term uint64) {
	if n.state != Candidate || n.currentTerm != term {
		return
	}
	n.state = Leader
	n.leaderID = n.id
	n.ensureProgressLocked()
	for _, p := range n.peers {
		p.next = n.lastIndexLocked() + 1
		p.match = 0
	}
	n.metrics.observeState(n.state, n.currentTerm)
	n.log.Info("won election", zap.Uint64("term", n.currentTerm))

	// Committing a noop pins the commit rule to the new term.
	entry := types.LogEntry{
		Term:    n.currentTerm,
		Index:   n.lastIndexLocked() + 1,
		Command: types.Noop(),
	}
	if err := n.storage.Append([]types.LogEntry{entry}); err != nil {
		n.log.Error("appending term noop failed", zap.Error(err))
	}
	n.maybeCommitLocked()

	stop := make(chan struct{})
	n.leaderStop = stop
	n.done.Add(1)
	go n.heartbeatLoop(stop)
}

// heartbeatLoop drives periodic AppendEntries while leadership holds.
func (n *Node) heartbeatLoop(stop chan struct{}) {
	defer n.done.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.broadcastAppend()
		case <-stop:
			return
		case <-n.stopped:
			return
		}
	}
}

// HandleRequestVote answers a peer's campaign.
func (n *Node) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
	}
	resp := &RequestVoteResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}

	upToDate := req.LastLogTerm > n.lastTermLocked() ||
		(req.LastLogTerm == n.lastTermLocked() && req.LastLogIndex >= n.lastIndexLocked())
	if upToDate && (n.votedFor == 0 || n.votedFor == req.CandidateID) {
		n.votedFor = req.CandidateID
		// The vote persists before the response leaves this node.
		if err := n.storage.SetHardState(n.currentTerm, n.votedFor); err != nil {
			n.log.Error("persisting vote failed", zap.Error(err))
			return resp
		}
		resp.Granted = true
		n.resetElectionTimerLocked()
	}
	return resp
}

// HandleTimeoutNow accepts a leadership transfer hint and campaigns
// immediately.
func (n *Node) HandleTimeoutNow(req *TimeoutNowRequest) {
	n.mu.Lock()
	if req.Term < n.currentTerm || !n.membership.IsVoter(n.id) || n.state == Leader {
		n.mu.Unlock()
		return
	}
	voteReq, voters := n.startElectionLocked()
	n.mu.Unlock()

	n.campaign(voteReq, voters)
}

// TransferLeadership hands leadership to target, the most caught-up voter
// when target is zero.
func (n *Node) TransferLeadership(ctx context.Context, target uint64) error {
	n.mu.Lock()
	if n.state != Leader {
		leaderID := n.leaderID
		addr := n.membership.Addresses[leaderID]
		n.mu.Unlock()
		return &errs.NotLeaderError{LeaderID: leaderID, Address: addr}
	}
	if target == 0 {
		var best uint64
		var bestMatch uint64
		for id, p := range n.peers {
			if n.membership.IsVoter(id) && p.match >= bestMatch {
				best, bestMatch = id, p.match
			}
		}
		target = best
	}
	term := n.currentTerm
	n.mu.Unlock()

	if target == 0 || target == n.id {
		return errs.New(errs.InvalidRequest, "no transfer target available")
	}
	return n.transport.TimeoutNow(ctx, target, &TimeoutNowRequest{Term: term, LeaderID: n.id})
}
