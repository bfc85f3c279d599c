// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Metadata is the catalog entry for one archived segment.
type Metadata struct {
	SegmentID      uint64    `json:"segment_id"`
	CreatedAt      time.Time `json:"created_at"`
	OriginalSize   uint64    `json:"original_size"`
	CompressedSize uint64    `json:"compressed_size"`
	MerkleRoot     string    `json:"merkle_root"`
	ObjectKey      string    `json:"object_key"`
}

// MarshalMetadata renders the catalog entry as the JSON stored beside the
// segment body.
func MarshalMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata parses a stored catalog entry.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	if raw, err := hex.DecodeString(m.MerkleRoot); err != nil || len(raw) != 32 {
		return Metadata{}, fmt.Errorf("metadata for segment %d carries a malformed merkle root", m.SegmentID)
	}
	return m, nil
}

// segmentKey is the object key for a segment body. Ids zero-pad to 20
// digits so lexicographic listings sort numerically.
func segmentKey(id uint64) string {
	return fmt.Sprintf("segments/%020d", id)
}

// metadataKey is the object key for a segment's catalog entry.
func metadataKey(id uint64) string {
	return fmt.Sprintf("metadata/%020d", id)
}

// catalog is the in-memory view of archived segments. Readers are
// concurrent; writers serialize per segment upstream.
type catalog struct {
	mu      sync.RWMutex
	entries map[uint64]Metadata
}

func newCatalog() *catalog {
	return &catalog{entries: make(map[uint64]Metadata)}
}

func (c *catalog) get(id uint64) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[id]
	return m, ok
}

func (c *catalog) put(m Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.SegmentID] = m
}

func (c *catalog) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *catalog) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *catalog) list() []Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Metadata, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Metadata) int {
		switch {
		case a.SegmentID < b.SegmentID:
			return -1
		case a.SegmentID > b.SegmentID:
			return 1
		default:
			return 0
		}
	})
	return out
}
