// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/luxfi/database"
	"github.com/luxfi/database/leveldb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/types"
)

var (
	logPrefix    = []byte("log")
	statePrefix  = []byte("state")
	hardStateKey = []byte("hard_state")
	snapMetaKey  = []byte("snapshot_meta")
)

// Storage is the durable per-node consensus state: the log, the hard
// state (current term and vote) and the snapshot pointer. Hard state
// persists before any RPC response that depends on it.
type Storage struct {
	db      database.Database
	entries database.Database
	state   database.Database
	snapDir string

	firstIndex uint64 // lowest index still held in the log, 0 when empty
	lastIndex  uint64
	lastTerm   uint64
}

// OpenStorage opens (or creates) the consensus state under dir. With
// inMemory set (used by tests) the state lives in a memdb backend.
func OpenStorage(dir string, inMemory bool, logger log.Logger, reg prometheus.Registerer) (*Storage, error) {
	var (
		db  database.Database
		err error
	)
	if inMemory {
		db = memdb.New()
	} else {
		db, err = leveldb.New(dir, nil, logger, reg)
		if err != nil {
			return nil, errs.Wrap(errs.StorageCorruption, err, "opening raft storage")
		}
	}

	s := &Storage{
		db:      db,
		entries: prefixdb.New(logPrefix, db),
		state:   prefixdb.New(statePrefix, db),
		snapDir: filepath.Join(dir, "snapshots"),
	}
	if !inMemory {
		if err := os.MkdirAll(s.snapDir, 0o755); err != nil {
			return nil, errs.Wrap(errs.StorageIO, err, "creating snapshot dir")
		}
	}
	if err := s.recoverBounds(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) recoverBounds() error {
	iter := s.entries.NewIterator()
	defer iter.Release()
	for iter.Next() {
		index := binary.BigEndian.Uint64(iter.Key())
		if s.firstIndex == 0 || index < s.firstIndex {
			s.firstIndex = index
		}
		if index > s.lastIndex {
			entry, err := types.DecodeEntry(iter.Value())
			if err != nil {
				return errs.Wrap(errs.StorageCorruption, err, "decoding log tail")
			}
			s.lastIndex = index
			s.lastTerm = entry.Term
		}
	}
	if err := iter.Error(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "recovering log bounds")
	}
	return nil
}

func entryKey(index uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], index)
	return key[:]
}

// HardState returns the persisted current term and vote.
func (s *Storage) HardState() (term, votedFor uint64, err error) {
	raw, err := s.state.Get(hardStateKey)
	switch err {
	case nil:
	case database.ErrNotFound:
		return 0, 0, nil
	default:
		return 0, 0, errs.Wrap(errs.StorageIO, err, "reading hard state")
	}
	if len(raw) != 16 {
		return 0, 0, errs.New(errs.StorageCorruption, "hard state malformed")
	}
	return binary.BigEndian.Uint64(raw), binary.BigEndian.Uint64(raw[8:]), nil
}

// SetHardState persists the current term and vote.
func (s *Storage) SetHardState(term, votedFor uint64) error {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], term)
	binary.BigEndian.PutUint64(raw[8:], votedFor)
	if err := s.state.Put(hardStateKey, raw[:]); err != nil {
		return errs.Wrap(errs.StorageIO, err, "persisting hard state")
	}
	return nil
}

// Append persists entries at the tail of the log. Entries must be dense
// and continue from the current tail (or overwrite a truncated suffix).
func (s *Storage) Append(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := s.entries.NewBatch()
	for _, entry := range entries {
		if err := batch.Put(entryKey(entry.Index), types.EncodeEntry(entry)); err != nil {
			return errs.Wrap(errs.StorageIO, err, "staging log entry")
		}
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "appending log entries")
	}
	if s.firstIndex == 0 {
		s.firstIndex = entries[0].Index
	}
	tail := entries[len(entries)-1]
	s.lastIndex = tail.Index
	s.lastTerm = tail.Term
	return nil
}

// Entry returns the log entry at index.
func (s *Storage) Entry(index uint64) (types.LogEntry, error) {
	raw, err := s.entries.Get(entryKey(index))
	switch err {
	case nil:
	case database.ErrNotFound:
		return types.LogEntry{}, errs.Newf(errs.NotFound, "log entry %d not held", index)
	default:
		return types.LogEntry{}, errs.Wrap(errs.StorageIO, err, "reading log entry")
	}
	entry, err := types.DecodeEntry(raw)
	if err != nil {
		return types.LogEntry{}, errs.Wrap(errs.StorageCorruption, err, "decoding log entry")
	}
	return entry, nil
}

// Term returns the term of the entry at index, consulting the snapshot
// pointer for the boundary index.
func (s *Storage) Term(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	if meta, ok, err := s.SnapshotMeta(); err != nil {
		return 0, err
	} else if ok && index == meta.LastIncludedIndex {
		return meta.LastIncludedTerm, nil
	}
	entry, err := s.Entry(index)
	if err != nil {
		return 0, err
	}
	return entry.Term, nil
}

// Entries returns up to maxCount entries in [lo, hi].
func (s *Storage) Entries(lo, hi uint64, maxCount int) ([]types.LogEntry, error) {
	if lo > hi || maxCount <= 0 {
		return nil, nil
	}
	out := make([]types.LogEntry, 0, min(int(hi-lo+1), maxCount))
	for index := lo; index <= hi && len(out) < maxCount; index++ {
		entry, err := s.Entry(index)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// FirstIndex returns the lowest index held, zero when the log is empty.
func (s *Storage) FirstIndex() uint64 { return s.firstIndex }

// LastIndex returns the highest index held, zero when the log is empty.
func (s *Storage) LastIndex() uint64 { return s.lastIndex }

// LastTerm returns the term of the tail entry.
func (s *Storage) LastTerm() uint64 { return s.lastTerm }

// TruncateSuffix discards every entry with index >= from. The leader's
// overwrite of a diverged follower suffix lands here.
func (s *Storage) TruncateSuffix(from uint64) error {
	batch := s.entries.NewBatch()
	for index := from; index <= s.lastIndex; index++ {
		if err := batch.Delete(entryKey(index)); err != nil {
			return errs.Wrap(errs.StorageIO, err, "staging suffix truncation")
		}
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "truncating log suffix")
	}
	if from <= s.firstIndex {
		s.firstIndex = 0
		s.lastIndex = 0
		s.lastTerm = 0
		return nil
	}
	s.lastIndex = from - 1
	term, err := s.Term(s.lastIndex)
	if err != nil {
		return err
	}
	s.lastTerm = term
	return nil
}

// TruncatePrefix discards every entry with index <= upTo, retaining the
// tail for straggler catch-up after a snapshot.
func (s *Storage) TruncatePrefix(upTo uint64) error {
	if s.firstIndex == 0 || upTo < s.firstIndex {
		return nil
	}
	batch := s.entries.NewBatch()
	for index := s.firstIndex; index <= upTo && index <= s.lastIndex; index++ {
		if err := batch.Delete(entryKey(index)); err != nil {
			return errs.Wrap(errs.StorageIO, err, "staging prefix truncation")
		}
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "truncating log prefix")
	}
	if upTo >= s.lastIndex {
		s.firstIndex = 0
		s.lastIndex = 0
		s.lastTerm = 0
	} else {
		s.firstIndex = upTo + 1
	}
	return nil
}

// SaveSnapshot persists the snapshot meta and body. The body lands in
// snapshots/<index>.snap; in-memory storage keeps it in the database.
func (s *Storage) SaveSnapshot(meta types.SnapshotMeta, body []byte) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return errs.Wrap(errs.StorageIO, err, "encoding snapshot meta")
	}
	if !s.inMemory() {
		path := s.snapshotPath(meta.LastIncludedIndex)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return errs.Wrap(errs.StorageIO, err, "writing snapshot body")
		}
	} else {
		if err := s.state.Put(snapshotBodyKey(meta.LastIncludedIndex), body); err != nil {
			return errs.Wrap(errs.StorageIO, err, "writing snapshot body")
		}
	}
	if err := s.state.Put(snapMetaKey, raw); err != nil {
		return errs.Wrap(errs.StorageIO, err, "persisting snapshot meta")
	}
	return nil
}

// SnapshotMeta returns the most recent snapshot pointer.
func (s *Storage) SnapshotMeta() (types.SnapshotMeta, bool, error) {
	raw, err := s.state.Get(snapMetaKey)
	switch err {
	case nil:
	case database.ErrNotFound:
		return types.SnapshotMeta{}, false, nil
	default:
		return types.SnapshotMeta{}, false, errs.Wrap(errs.StorageIO, err, "reading snapshot meta")
	}
	var meta types.SnapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return types.SnapshotMeta{}, false, errs.Wrap(errs.StorageCorruption, err, "decoding snapshot meta")
	}
	return meta, true, nil
}

// SnapshotBody returns the body of the snapshot at index.
func (s *Storage) SnapshotBody(index uint64) ([]byte, error) {
	if !s.inMemory() {
		body, err := os.ReadFile(s.snapshotPath(index))
		if err != nil {
			return nil, errs.Wrap(errs.StorageIO, err, "reading snapshot body")
		}
		return body, nil
	}
	body, err := s.state.Get(snapshotBodyKey(index))
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, err, "reading snapshot body")
	}
	return body, nil
}

func (s *Storage) snapshotPath(index uint64) string {
	return filepath.Join(s.snapDir, fmt.Sprintf("%d.snap", index))
}

func snapshotBodyKey(index uint64) []byte {
	return append([]byte("snapshot_body/"), entryKey(index)...)
}

func (s *Storage) inMemory() bool {
	_, ok := s.db.(*memdb.Database)
	return ok
}

// Close releases the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}
