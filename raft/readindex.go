// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/errs"
)

// ReadIndex establishes a linearizable read barrier: the leader records
// its commit index, confirms leadership with a quorum heartbeat round and
// waits until the applied index reaches the barrier. Followers reject with
// the redirect hint.
func (n *Node) ReadIndex(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	if n.state != Leader {
		leaderID := n.leaderID
		addr := n.membership.Addresses[leaderID]
		n.mu.Unlock()
		return 0, &errs.NotLeaderError{LeaderID: leaderID, Address: addr}
	}
	readIndex := n.commitIndex
	term := n.currentTerm
	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		LeaderCommit: n.commitIndex,
	}
	voters := n.membership.VoterIDs()
	quorum := n.membership.Quorum()
	n.mu.Unlock()

	// Heartbeat round: self counts, so a single-voter cluster confirms
	// immediately.
	acks := 1
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, peer := range voters {
		if peer == n.id {
			continue
		}
		wg.Add(1)
		go func(peer uint64) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, n.rpcTimeout())
			defer cancel()
			resp, err := n.transport.AppendEntries(callCtx, peer, req)
			if err != nil {
				n.log.Debug("read barrier heartbeat failed", zap.Uint64("peer", peer), zap.Error(err))
				return
			}
			n.mu.Lock()
			if resp.Term > n.currentTerm {
				n.stepDownLocked(resp.Term)
			}
			n.mu.Unlock()

			mu.Lock()
			acks++
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	mu.Lock()
	confirmed := acks >= quorum
	mu.Unlock()

	n.mu.Lock()
	stillLeader := n.state == Leader && n.currentTerm == term
	n.mu.Unlock()
	if !confirmed || !stillLeader {
		return 0, errs.New(errs.TermStale, "leadership not confirmed for read barrier")
	}

	// Wait for the applied prefix to cover the barrier.
	for {
		n.mu.Lock()
		applied := n.lastApplied
		n.mu.Unlock()
		if applied >= readIndex {
			return readIndex, nil
		}
		select {
		case <-ctx.Done():
			return 0, errs.Wrap(errs.ConsensusBusy, ctx.Err(), "read barrier abandoned")
		case <-n.stopped:
			return 0, errs.New(errs.ConsensusBusy, "node stopping")
		case <-time.After(time.Millisecond):
		}
	}
}
