// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage wraps the embedded ordered key-value database behind the
// store used by the apply loop. The apply loop is the only writer; readers
// run concurrently against database snapshots.
package storage

import (
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/leveldb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/types"
)

var (
	kvPrefix   = []byte("kv")
	metaPrefix = []byte("meta")

	flushMarkerKey = []byte("flush_marker")
)

// Store is the durable local ordered KV with batched writes and iteration.
type Store struct {
	db   database.Database
	kv   database.Database
	meta database.Database
	log  log.Logger

	flushInterval time.Duration

	mu        sync.Mutex
	flushSeq  uint64
	closeOnce sync.Once
	closed    chan struct{}
	done      sync.WaitGroup
}

// New opens the store under dir. An in-memory backend is substituted when
// the config asks for one. A database that fails to open surfaces as a
// startup error carrying the storage taxonomy kind.
func New(cfg config.StorageConfig, dir string, logger log.Logger, reg prometheus.Registerer) (*Store, error) {
	var (
		db  database.Database
		err error
	)
	if cfg.InMemory {
		db = memdb.New()
	} else {
		db, err = leveldb.New(dir, nil, logger, reg)
		if err != nil {
			return nil, errs.Wrap(errs.StorageCorruption, err, "opening embedded kv")
		}
	}

	s := &Store{
		db:            db,
		kv:            prefixdb.New(kvPrefix, db),
		meta:          prefixdb.New(metaPrefix, db),
		log:           logger,
		flushInterval: cfg.FlushInterval,
		closed:        make(chan struct{}),
	}
	if s.flushInterval > 0 {
		s.done.Add(1)
		go s.flushLoop()
	}
	return s, nil
}

// Put stores value under key.
func (s *Store) Put(key, value []byte) error {
	if err := s.kv.Put(key, value); err != nil {
		return errs.Wrap(errs.StorageIO, err, "put")
	}
	if s.flushInterval == 0 {
		return s.Flush()
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(key []byte) ([]byte, error) {
	value, err := s.kv.Get(key)
	switch err {
	case nil:
		return value, nil
	case database.ErrNotFound:
		return nil, errs.Wrap(errs.NotFound, err, "get")
	default:
		return nil, errs.Wrap(errs.StorageIO, err, "get")
	}
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	ok, err := s.kv.Has(key)
	if err != nil {
		return false, errs.Wrap(errs.StorageIO, err, "has")
	}
	return ok, nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(key []byte) error {
	if err := s.kv.Delete(key); err != nil {
		return errs.Wrap(errs.StorageIO, err, "delete")
	}
	if s.flushInterval == 0 {
		return s.Flush()
	}
	return nil
}

// ApplyBatch applies put and delete operations in one atomic, durable
// batch. Nested batch commands flatten.
func (s *Store) ApplyBatch(ops []types.Command) error {
	batch := s.kv.NewBatch()
	if err := s.appendOps(batch, ops); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageIO, err, "batch write")
	}
	if s.flushInterval == 0 {
		return s.Flush()
	}
	return nil
}

func (s *Store) appendOps(batch database.Batch, ops []types.Command) error {
	for _, op := range ops {
		switch op.Kind {
		case types.KindPut:
			if err := batch.Put(op.Key, op.Value); err != nil {
				return errs.Wrap(errs.StorageIO, err, "batch put")
			}
		case types.KindDelete:
			if err := batch.Delete(op.Key); err != nil {
				return errs.Wrap(errs.StorageIO, err, "batch delete")
			}
		case types.KindBatch:
			if err := s.appendOps(batch, op.Ops); err != nil {
				return err
			}
		case types.KindNoop:
		default:
			return errs.Newf(errs.InvalidRequest, "command %s not applicable to storage", op.Kind)
		}
	}
	return nil
}

// Pair is one key/value result of a Scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Scan returns the pairs in [start, end) in key order. A nil end scans to
// the end of the key space. The iteration is snapshot-consistent.
func (s *Store) Scan(start, end []byte) ([]Pair, error) {
	iter := s.kv.NewIteratorWithStart(start)
	defer iter.Release()

	var out []Pair
	for iter.Next() {
		if end != nil && string(iter.Key()) >= string(end) {
			break
		}
		out = append(out, Pair{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Wrap(errs.StorageIO, err, "scan")
	}
	return out, nil
}

// SnapshotIter returns an iterator over the full live key space. The
// iterator sees a consistent snapshot for its lifetime; callers must
// Release it.
func (s *Store) SnapshotIter() database.Iterator {
	return s.kv.NewIterator()
}

// Flush forces the durability barrier by writing a synced marker through
// the backend's write-ahead log.
func (s *Store) Flush() error {
	s.mu.Lock()
	s.flushSeq++
	seq := s.flushSeq
	s.mu.Unlock()

	if err := database.PutUInt64(s.meta, flushMarkerKey, seq); err != nil {
		return errs.Wrap(errs.StorageIO, err, "flush marker")
	}
	return nil
}

// Meta exposes the node metadata keyspace (applied index, segment
// counters). It shares the store's durability policy.
func (s *Store) Meta() database.Database {
	return s.meta
}

// Close stops the flush loop and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.done.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) flushLoop() {
	defer s.done.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Warn("periodic flush failed", zap.Error(err))
			}
		case <-s.closed:
			return
		}
	}
}
