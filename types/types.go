// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types holds the wire- and state-level data model shared by the
// consensus, storage and archival subsystems.
package types

// Key is an opaque byte sequence compared lexicographically.
type Key = []byte

// Value is an opaque byte sequence bounded only by segment size policy.
type Value = []byte

// CommandKind discriminates the Command tagged variant.
type CommandKind uint8

const (
	// KindNoop advances the applied index with no state effect. A new
	// leader commits one at the start of its term.
	KindNoop CommandKind = iota
	// KindPut stores a key/value pair.
	KindPut
	// KindDelete removes a key.
	KindDelete
	// KindBatch applies a group of operations atomically.
	KindBatch
	// KindMembershipChange replaces the cluster's voter and learner
	// sets.
	KindMembershipChange
)

func (k CommandKind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	case KindBatch:
		return "batch"
	case KindMembershipChange:
		return "membership_change"
	default:
		return "unknown"
	}
}

// Command is the tagged variant carried by a log entry payload. Exactly the
// fields for its Kind are set.
type Command struct {
	Kind CommandKind

	// Put / Delete
	Key   Key
	Value Value

	// Batch
	Ops []Command

	// MembershipChange
	Membership *Membership
}

// Put returns a put command for k, v.
func Put(k Key, v Value) Command {
	return Command{Kind: KindPut, Key: k, Value: v}
}

// Delete returns a delete command for k.
func Delete(k Key) Command {
	return Command{Kind: KindDelete, Key: k}
}

// Batch returns a batch command over ops. Nested batches flatten at apply
// time.
func Batch(ops ...Command) Command {
	return Command{Kind: KindBatch, Ops: ops}
}

// Noop returns the no-op command.
func Noop() Command {
	return Command{Kind: KindNoop}
}

// ChangeMembership returns a membership-change command.
func ChangeMembership(m *Membership) Command {
	return Command{Kind: KindMembershipChange, Membership: m}
}

// LogEntry is one slot of the replicated log. Indices are dense from 1 and
// (Term, Index) is unique.
type LogEntry struct {
	Term    uint64
	Index   uint64
	Command Command
}

// SnapshotMeta describes an installed snapshot. The body is a canonical
// dump of the applied key-value state.
type SnapshotMeta struct {
	LastIncludedIndex uint64      `json:"last_included_index"`
	LastIncludedTerm  uint64      `json:"last_included_term"`
	Membership        *Membership `json:"membership"`
	MerkleRoot        string      `json:"merkle_root"`
	BytesLen          uint64      `json:"bytes_len"`
}
