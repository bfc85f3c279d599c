// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package segment groups recent writes into immutable segments for the
// archival tier. Sealed segments are held in memory; the active segment's
// records are also persisted in the embedded store's meta keyspace and are
// reloaded into the active segment on restart.
package segment

import (
	"sort"
	"time"

	"github.com/luxfi/ids"

	"github.com/hyra-network/scribe-ledger/merkle"
)

// Record is one entry of a segment. A tombstone records a delete so sealed
// segments converge across replicas regardless of archival timing.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Segment is an ordered batch of key/value updates. Once sealed it is
// immutable.
type Segment struct {
	ID        uint64
	CreatedAt time.Time
	Sealed    bool
	ByteSize  uint64

	entries map[string]Record
}

func newSegment(id uint64, now time.Time) *Segment {
	return &Segment{
		ID:        id,
		CreatedAt: now,
		entries:   make(map[string]Record),
	}
}

func (s *Segment) put(rec Record) {
	key := string(rec.Key)
	if prev, ok := s.entries[key]; ok {
		s.ByteSize -= recordSize(prev)
	}
	s.entries[key] = rec
	s.ByteSize += recordSize(rec)
}

func recordSize(rec Record) uint64 {
	return uint64(len(rec.Key) + len(rec.Value))
}

// Len returns the number of records.
func (s *Segment) Len() int {
	return len(s.entries)
}

// Get returns the record for key.
func (s *Segment) Get(key []byte) (Record, bool) {
	rec, ok := s.entries[string(key)]
	return rec, ok
}

// Records returns the records in key order.
func (s *Segment) Records() []Record {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.entries[k])
	}
	return out
}

// MerkleRoot computes the root over the segment's entries. Tombstones hash
// with an empty value, so replicas that tombstone identically converge.
// ok is false for an empty segment.
func (s *Segment) MerkleRoot() (ids.ID, bool) {
	pairs := make([]merkle.Pair, 0, len(s.entries))
	for _, rec := range s.entries {
		pairs = append(pairs, merkle.Pair{Key: rec.Key, Value: rec.Value})
	}
	return merkle.FromPairs(pairs).Root()
}

// Age returns how long the segment has existed as of now.
func (s *Segment) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
