// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport carries consensus traffic between nodes: framed,
// ordered request/response messages over pooled TCP connections, with an
// in-memory implementation for multi-node tests in one process.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/hyra-network/scribe-ledger/raft"
)

// MessageType discriminates the frame payload.
type MessageType uint8

const (
	// AppendEntriesReq replicates entries or heartbeats.
	AppendEntriesReq MessageType = iota + 1
	// AppendEntriesResp acknowledges replication.
	AppendEntriesResp
	// VoteReq campaigns for leadership.
	VoteReq
	// VoteResp answers a campaign.
	VoteResp
	// SnapshotChunk streams one piece of a snapshot.
	SnapshotChunk
	// SnapshotAck acknowledges a chunk.
	SnapshotAck
	// TimeoutNow transfers leadership.
	TimeoutNow
	// TimeoutNowAck acknowledges a transfer hint.
	TimeoutNowAck
	// MembershipPing probes peer liveness.
	MembershipPing
	// MembershipPong answers a probe.
	MembershipPong
	// ErrorResp reports a handler failure.
	ErrorResp
)

// frameVersion leads every frame for forward compatibility.
const frameVersion byte = 0

// maxFrameSize rejects runaway frames; snapshots stream in bounded
// chunks, so no legitimate frame approaches this.
const maxFrameSize = 32 << 20

// Message is one framed unit: a type tag and its JSON payload.
type Message struct {
	Type    MessageType
	From    uint64
	Payload []byte
}

func encodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodePayload[T any](m *Message) (*T, error) {
	var out T
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		return nil, fmt.Errorf("decoding %d payload: %w", m.Type, err)
	}
	return &out, nil
}

// dispatch routes one inbound request to the handler and produces the
// response message.
func dispatch(handler raft.Handler, msg *Message) (*Message, error) {
	switch msg.Type {
	case AppendEntriesReq:
		req, err := decodePayload[raft.AppendEntriesRequest](msg)
		if err != nil {
			return nil, err
		}
		payload, err := encodePayload(handler.HandleAppendEntries(req))
		if err != nil {
			return nil, err
		}
		return &Message{Type: AppendEntriesResp, Payload: payload}, nil
	case VoteReq:
		req, err := decodePayload[raft.RequestVoteRequest](msg)
		if err != nil {
			return nil, err
		}
		payload, err := encodePayload(handler.HandleRequestVote(req))
		if err != nil {
			return nil, err
		}
		return &Message{Type: VoteResp, Payload: payload}, nil
	case SnapshotChunk:
		req, err := decodePayload[raft.InstallSnapshotRequest](msg)
		if err != nil {
			return nil, err
		}
		payload, err := encodePayload(handler.HandleInstallSnapshot(req))
		if err != nil {
			return nil, err
		}
		return &Message{Type: SnapshotAck, Payload: payload}, nil
	case TimeoutNow:
		req, err := decodePayload[raft.TimeoutNowRequest](msg)
		if err != nil {
			return nil, err
		}
		handler.HandleTimeoutNow(req)
		return &Message{Type: TimeoutNowAck, Payload: []byte("{}")}, nil
	case MembershipPing:
		return &Message{Type: MembershipPong, Payload: []byte("{}")}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", msg.Type)
	}
}
