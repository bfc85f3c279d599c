// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package segment

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
)

var (
	nextIDKey    = []byte("segment_next_id")
	activePrefix = []byte("active_segment/")
)

// Manager maintains the single active segment and the sealed list. Ids
// strictly increase with creation time; at most one segment is unsealed.
type Manager struct {
	cfg  config.SegmentConfig
	log  log.Logger
	meta database.Database

	mu     sync.Mutex
	active *Segment
	sealed map[uint64]*Segment

	now func() time.Time

	metrics *metrics
}

// NewManager opens a manager whose id counter persists in meta, so ids
// keep increasing across restarts.
func NewManager(cfg config.SegmentConfig, meta database.Database, logger log.Logger) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		log:    logger,
		meta:   meta,
		sealed: make(map[uint64]*Segment),
		now:    time.Now,
	}
	id, err := m.allocateID()
	if err != nil {
		return nil, err
	}
	m.active = newSegment(id, m.now())
	if err := m.recoverActive(); err != nil {
		return nil, err
	}
	return m, nil
}

// recoverActive rebuilds the active segment from the records persisted
// alongside the embedded store, so a crash loses nothing that was applied.
func (m *Manager) recoverActive() error {
	iter := m.meta.NewIteratorWithPrefix(activePrefix)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()[len(activePrefix):]...)
		value := iter.Value()
		if len(value) == 0 {
			return errs.New(errs.StorageCorruption, "active segment record malformed")
		}
		m.active.put(Record{
			Key:       key,
			Value:     append([]byte(nil), value[1:]...),
			Tombstone: value[0] == 1,
		})
	}
	if err := iter.Error(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "recovering active segment")
	}
	return nil
}

func activeKey(key []byte) []byte {
	return append(append([]byte(nil), activePrefix...), key...)
}

func (m *Manager) persistRecord(rec Record) error {
	value := make([]byte, 1+len(rec.Value))
	if rec.Tombstone {
		value[0] = 1
	}
	copy(value[1:], rec.Value)
	if err := m.meta.Put(activeKey(rec.Key), value); err != nil {
		return errs.Wrap(errs.StorageIO, err, "persisting active segment record")
	}
	return nil
}

func (m *Manager) clearActiveRecords() error {
	iter := m.meta.NewIteratorWithPrefix(activePrefix)
	defer iter.Release()
	batch := m.meta.NewBatch()
	for iter.Next() {
		if err := batch.Delete(iter.Key()); err != nil {
			return errs.Wrap(errs.StorageIO, err, "staging active segment reset")
		}
	}
	if err := iter.Error(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "scanning active segment records")
	}
	return errs.Wrap(errs.StorageIO, batch.Write(), "clearing active segment records")
}

// Append adds a key/value update to the active segment. The write that
// brings the active segment to the size threshold seals it and opens a
// fresh one.
func (m *Manager) Append(key, value []byte) error {
	return m.append(Record{Key: key, Value: value})
}

// AppendTombstone records a delete.
func (m *Manager) AppendTombstone(key []byte) error {
	return m.append(Record{Key: key, Tombstone: true})
}

func (m *Manager) append(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persistRecord(rec); err != nil {
		return err
	}
	m.active.put(rec)
	m.metrics.observeActive(m.active)
	if m.active.ByteSize >= m.cfg.SegmentSize {
		return m.sealLocked()
	}
	return nil
}

// SealActive forces a roll of the active segment. An empty active segment
// is left in place.
func (m *Manager) SealActive() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active.Len() == 0 {
		return nil
	}
	return m.sealLocked()
}

// SealExpired seals the active segment once it outlives the roll interval.
// The archival tick drives this.
func (m *Manager) SealExpired() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.RollInterval <= 0 || m.active.Len() == 0 {
		return nil
	}
	if m.active.Age(m.now()) < m.cfg.RollInterval {
		return nil
	}
	return m.sealLocked()
}

func (m *Manager) sealLocked() error {
	seg := m.active
	seg.Sealed = true
	m.sealed[seg.ID] = seg

	if err := m.clearActiveRecords(); err != nil {
		return err
	}
	id, err := m.allocateID()
	if err != nil {
		return err
	}
	m.active = newSegment(id, m.now())
	m.metrics.sealed(seg, len(m.sealed))
	m.log.Debug("sealed segment",
		zap.Uint64("segmentID", seg.ID),
		zap.Uint64("bytes", seg.ByteSize),
		zap.Int("records", seg.Len()),
	)
	return nil
}

// ListSealed returns the sealed segments ordered by id.
func (m *Manager) ListSealed() []*Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Segment, 0, len(m.sealed))
	for _, seg := range m.sealed {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sealed returns the sealed segment with the given id.
func (m *Manager) Sealed(id uint64) (*Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, ok := m.sealed[id]
	return seg, ok
}

// DropLocal discards a sealed segment body after archival confirmed the
// remote copy. Unknown ids are a no-op.
func (m *Manager) DropLocal(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sealed[id]; ok {
		delete(m.sealed, id)
		m.metrics.dropped(len(m.sealed))
	}
}

// ComputeMerkleRoot builds the tree over a sealed segment's entries.
func (m *Manager) ComputeMerkleRoot(id uint64) (ids.ID, error) {
	seg, ok := m.Sealed(id)
	if !ok {
		return ids.Empty, errs.Newf(errs.NotFound, "segment %d not held locally", id)
	}
	root, ok := seg.MerkleRoot()
	if !ok {
		return ids.Empty, errs.Newf(errs.Internal, "segment %d is empty", id)
	}
	return root, nil
}

// ActiveID returns the id of the active segment.
func (m *Manager) ActiveID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.ID
}

// ActiveSize returns the byte size of the active segment.
func (m *Manager) ActiveSize() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.ByteSize
}

// Restore replays records into the active segment, persisting them as if
// they had been appended. The snapshot install path does not call it;
// installing a snapshot leaves the segment tier as it was.
func (m *Manager) Restore(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if err := m.persistRecord(rec); err != nil {
			return err
		}
		m.active.put(rec)
	}
	return nil
}

func (m *Manager) allocateID() (uint64, error) {
	next, err := database.GetUInt64(m.meta, nextIDKey)
	switch err {
	case nil:
	case database.ErrNotFound:
		next = 1
	default:
		return 0, errs.Wrap(errs.StorageIO, err, "reading segment id counter")
	}
	if err := database.PutUInt64(m.meta, nextIDKey, next+1); err != nil {
		return 0, errs.Wrap(errs.StorageIO, err, "advancing segment id counter")
	}
	return next, nil
}
