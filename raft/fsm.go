// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"context"

	"github.com/hyra-network/scribe-ledger/types"
)

// FSM is the state machine the committed log applies to. The raft core
// calls Apply from a single goroutine in commit order.
type FSM interface {
	// Apply executes one committed entry against local state.
	Apply(entry types.LogEntry) error

	// Snapshot dumps the applied state as a canonical byte stream and
	// returns the merkle root (hex) of the dumped pairs.
	Snapshot() (body []byte, merkleRoot string, err error)

	// Restore replaces the applied state from a snapshot body.
	Restore(meta types.SnapshotMeta, body []byte) error
}

// Transport is the client side of the peer RPC surface.
type Transport interface {
	AppendEntries(ctx context.Context, to uint64, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	RequestVote(ctx context.Context, to uint64, req *RequestVoteRequest) (*RequestVoteResponse, error)
	InstallSnapshot(ctx context.Context, to uint64, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	TimeoutNow(ctx context.Context, to uint64, req *TimeoutNowRequest) error
}

// Handler is the server side of the peer RPC surface, implemented by the
// raft node and invoked by the transport for inbound messages.
type Handler interface {
	HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse
	HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse
	HandleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse
	HandleTimeoutNow(req *TimeoutNowRequest)
}
