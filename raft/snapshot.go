// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/types"
)

// snapshotChunkSize bounds one InstallSnapshot frame.
const snapshotChunkSize = 1 << 20

// incomingSnapshot buffers chunks of a snapshot being installed.
type incomingSnapshot struct {
	meta types.SnapshotMeta
	buf  []byte
}

// maybeSnapshot takes a local snapshot once enough log accumulated since
// the last one. Leaders and followers snapshot independently.
func (n *Node) maybeSnapshot() {
	n.mu.Lock()
	if n.cfg.SnapshotLogsSinceLast == 0 ||
		n.lastApplied-n.snapshotIndex < n.cfg.SnapshotLogsSinceLast {
		n.mu.Unlock()
		return
	}
	index := n.lastApplied
	membership := n.membership.Clone()
	n.mu.Unlock()

	// The apply loop is the only writer, so the applied state is stable
	// while the dump runs.
	body, root, err := n.fsm.Snapshot()
	if err != nil {
		n.log.Error("state machine snapshot failed", zap.Error(err))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	term, err := n.storage.Term(index)
	if err != nil {
		n.log.Error("resolving snapshot term failed", zap.Error(err))
		return
	}
	meta := types.SnapshotMeta{
		LastIncludedIndex: index,
		LastIncludedTerm:  term,
		Membership:        membership,
		MerkleRoot:        root,
		BytesLen:          uint64(len(body)),
	}
	if err := n.storage.SaveSnapshot(meta, body); err != nil {
		n.log.Error("persisting snapshot failed", zap.Error(err))
		return
	}
	n.snapshotIndex = index
	n.snapshotTerm = term

	// Keep a tail of the log for straggler catch-up.
	if index > n.cfg.MaxInSnapshotLogToKeep {
		if err := n.storage.TruncatePrefix(index - n.cfg.MaxInSnapshotLogToKeep); err != nil {
			n.log.Error("truncating log prefix failed", zap.Error(err))
		}
	}
	n.metrics.observeSnapshot(index)
	n.log.Info("took snapshot",
		zap.Uint64("index", index),
		zap.Uint64("bytes", meta.BytesLen),
	)
}

// sendSnapshot streams the current snapshot to a peer whose needed
// entries were compacted away.
func (n *Node) sendSnapshot(peer uint64) {
	n.mu.Lock()
	meta, ok, err := n.storage.SnapshotMeta()
	if err != nil || !ok {
		n.mu.Unlock()
		if err != nil {
			n.log.Error("reading snapshot meta failed", zap.Error(err))
		}
		return
	}
	term := n.currentTerm
	n.mu.Unlock()

	body, err := n.storage.SnapshotBody(meta.LastIncludedIndex)
	if err != nil {
		n.log.Error("reading snapshot body failed", zap.Error(err))
		return
	}

	for offset := 0; ; offset += snapshotChunkSize {
		end := offset + snapshotChunkSize
		done := end >= len(body)
		if end > len(body) {
			end = len(body)
		}
		req := &InstallSnapshotRequest{
			Term:     term,
			LeaderID: n.id,
			Meta:     meta,
			Offset:   uint64(offset),
			Data:     body[offset:end],
			Done:     done,
		}

		ctx, cancel := context.WithTimeout(context.Background(), n.rpcTimeout())
		resp, err := n.transport.InstallSnapshot(ctx, peer, req)
		cancel()
		if err != nil {
			n.log.Debug("snapshot chunk failed", zap.Uint64("peer", peer), zap.Error(err))
			return
		}

		n.mu.Lock()
		if resp.Term > n.currentTerm {
			n.stepDownLocked(resp.Term)
			n.mu.Unlock()
			return
		}
		stillLeader := n.state == Leader && n.currentTerm == term
		if done && stillLeader {
			if p, ok := n.peers[peer]; ok {
				if meta.LastIncludedIndex > p.match {
					p.match = meta.LastIncludedIndex
				}
				p.next = p.match + 1
			}
			n.maybeCommitLocked()
		}
		n.mu.Unlock()
		if !stillLeader || done {
			return
		}
	}
}

// HandleInstallSnapshot buffers chunks and installs the snapshot when the
// final chunk lands: the applied state is replaced, then the log is
// truncated up to the snapshot's last included index.
func (n *Node) HandleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	n.mu.Lock()
	resp := &InstallSnapshotResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		n.mu.Unlock()
		return resp
	}
	if req.Term > n.currentTerm || n.state == Candidate {
		n.stepDownLocked(req.Term)
		resp.Term = n.currentTerm
	}
	n.leaderID = req.LeaderID
	n.resetElectionTimerLocked()

	// A stale install restarts cleanly when offset zero arrives.
	if req.Offset == 0 {
		n.incoming = &incomingSnapshot{meta: req.Meta}
	}
	if n.incoming == nil || n.incoming.meta.LastIncludedIndex != req.Meta.LastIncludedIndex {
		n.mu.Unlock()
		return resp
	}
	if uint64(len(n.incoming.buf)) != req.Offset {
		// Out-of-order chunk; drop the partial install.
		n.incoming = nil
		n.mu.Unlock()
		return resp
	}
	n.incoming.buf = append(n.incoming.buf, req.Data...)
	if !req.Done {
		n.mu.Unlock()
		return resp
	}

	install := n.incoming
	n.incoming = nil
	if install.meta.LastIncludedIndex <= n.snapshotIndex {
		n.mu.Unlock()
		return resp
	}
	n.mu.Unlock()

	// Restore outside the lock: the state machine swap can be slow.
	if err := n.fsm.Restore(install.meta, install.buf); err != nil {
		n.log.Error("restoring snapshot failed", zap.Error(err))
		return resp
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.storage.SaveSnapshot(install.meta, install.buf); err != nil {
		n.log.Error("persisting installed snapshot failed", zap.Error(err))
		return resp
	}
	if err := n.storage.TruncatePrefix(install.meta.LastIncludedIndex); err != nil {
		n.log.Error("truncating log after snapshot failed", zap.Error(err))
	}
	n.snapshotIndex = install.meta.LastIncludedIndex
	n.snapshotTerm = install.meta.LastIncludedTerm
	if install.meta.Membership != nil {
		n.membership = install.meta.Membership
		n.ensureProgressLocked()
	}
	if install.meta.LastIncludedIndex > n.commitIndex {
		n.commitIndex = install.meta.LastIncludedIndex
	}
	n.lastApplied = install.meta.LastIncludedIndex
	n.metrics.observeSnapshot(n.snapshotIndex)
	n.metrics.observeApplied(n.lastApplied)
	n.log.Info("installed snapshot",
		zap.Uint64("index", install.meta.LastIncludedIndex),
		zap.Uint64("term", install.meta.LastIncludedTerm),
	)
	return resp
}
