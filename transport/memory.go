// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sync"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/raft"
)

// MemoryNetwork connects in-process nodes directly. Tests partition nodes
// by disconnecting them; a disconnected node neither sends nor receives.
type MemoryNetwork struct {
	mu           sync.RWMutex
	handlers     map[uint64]raft.Handler
	disconnected map[uint64]bool
}

// NewMemoryNetwork returns an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handlers:     make(map[uint64]raft.Handler),
		disconnected: make(map[uint64]bool),
	}
}

// Join returns a node's transport endpoint. The node's inbound handler
// binds separately via Register, since the consensus core is constructed
// with the transport in hand.
func (mn *MemoryNetwork) Join(id uint64) *Memory {
	return &Memory{network: mn, from: id}
}

// Register binds the handler that answers inbound traffic for id.
func (mn *MemoryNetwork) Register(id uint64, handler raft.Handler) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.handlers[id] = handler
}

// Disconnect isolates id from the network.
func (mn *MemoryNetwork) Disconnect(id uint64) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.disconnected[id] = true
}

// Reconnect restores id's connectivity.
func (mn *MemoryNetwork) Reconnect(id uint64) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	delete(mn.disconnected, id)
}

// Leave removes id entirely.
func (mn *MemoryNetwork) Leave(id uint64) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	delete(mn.handlers, id)
	delete(mn.disconnected, id)
}

func (mn *MemoryNetwork) route(from, to uint64) (raft.Handler, error) {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	if mn.disconnected[from] || mn.disconnected[to] {
		return nil, errs.Newf(errs.NetworkConnect, "node %d unreachable", to)
	}
	handler, ok := mn.handlers[to]
	if !ok {
		return nil, errs.Newf(errs.NetworkConnect, "node %d not joined", to)
	}
	return handler, nil
}

// Memory is one node's view of the in-process network.
type Memory struct {
	network *MemoryNetwork
	from    uint64
}

var _ raft.Transport = (*Memory)(nil)

// AppendEntries delivers an append request to the peer's handler.
func (m *Memory) AppendEntries(ctx context.Context, to uint64, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	handler, err := m.network.route(m.from, to)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.NetworkTimeout, err, "append entries")
	}
	return handler.HandleAppendEntries(req), nil
}

// RequestVote delivers a vote request to the peer's handler.
func (m *Memory) RequestVote(ctx context.Context, to uint64, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	handler, err := m.network.route(m.from, to)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.NetworkTimeout, err, "request vote")
	}
	return handler.HandleRequestVote(req), nil
}

// InstallSnapshot delivers a snapshot chunk to the peer's handler.
func (m *Memory) InstallSnapshot(ctx context.Context, to uint64, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	handler, err := m.network.route(m.from, to)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.NetworkTimeout, err, "install snapshot")
	}
	return handler.HandleInstallSnapshot(req), nil
}

// TimeoutNow delivers a leadership transfer hint.
func (m *Memory) TimeoutNow(ctx context.Context, to uint64, req *raft.TimeoutNowRequest) error {
	handler, err := m.network.route(m.from, to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.NetworkTimeout, err, "timeout now")
	}
	handler.HandleTimeoutNow(req)
	return nil
}
