// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package raft implements the single-group consensus core: log
// replication, leader election, snapshotting and membership changes.
package raft

import (
	"github.com/hyra-network/scribe-ledger/types"
)

// State is the node's consensus role.
type State uint8

const (
	// Follower replicates entries from the leader.
	Follower State = iota
	// Candidate is campaigning for leadership.
	Candidate
	// Leader accepts writes and drives replication.
	Leader
	// Learner replicates without voting or campaigning.
	Learner
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	case Learner:
		return "learner"
	default:
		return "unknown"
	}
}

// AppendEntriesRequest replicates log entries; an empty Entries slice is a
// heartbeat.
type AppendEntriesRequest struct {
	Term         uint64           `json:"term"`
	LeaderID     uint64           `json:"leader_id"`
	PrevLogIndex uint64           `json:"prev_log_index"`
	PrevLogTerm  uint64           `json:"prev_log_term"`
	Entries      []types.LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64           `json:"leader_commit"`
}

// AppendEntriesResponse acknowledges or rejects an append.
type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`

	// MatchIndex is the highest index known replicated on success.
	MatchIndex uint64 `json:"match_index"`

	// ConflictIndex hints where the leader should back up to after a
	// log-mismatch rejection.
	ConflictIndex uint64 `json:"conflict_index,omitempty"`
}

// RequestVoteRequest campaigns for leadership.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  uint64 `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteResponse grants or withholds a vote.
type RequestVoteResponse struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
}

// InstallSnapshotRequest streams one chunk of a snapshot body.
type InstallSnapshotRequest struct {
	Term     uint64             `json:"term"`
	LeaderID uint64             `json:"leader_id"`
	Meta     types.SnapshotMeta `json:"meta"`
	Offset   uint64             `json:"offset"`
	Data     []byte             `json:"data"`
	Done     bool               `json:"done"`
}

// InstallSnapshotResponse acknowledges a chunk.
type InstallSnapshotResponse struct {
	Term uint64 `json:"term"`
}

// TimeoutNowRequest asks the target to start an election immediately.
// Leadership transfer sends it to the most caught-up voter.
type TimeoutNowRequest struct {
	Term     uint64 `json:"term"`
	LeaderID uint64 `json:"leader_id"`
}
