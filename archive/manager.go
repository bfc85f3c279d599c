// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"context"
	"encoding/hex"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/objstore"
	"github.com/hyra-network/scribe-ledger/segment"
	"github.com/hyra-network/scribe-ledger/utils/wrappers"
)

// Manager drives age-based archival of sealed segments and serves
// read-through lookups from the object store. The segment manager is held
// as a plain reference; the node owns both and tears them down together.
type Manager struct {
	cfg      config.ArchivalConfig
	client   objstore.Client
	segments *segment.Manager
	log      log.Logger

	catalog   *catalog
	segCache  *lru.Cache[uint64, map[string]segment.Record]
	metaCache *lru.Cache[uint64, Metadata]

	mu       sync.Mutex
	inflight map[uint64]struct{}

	now func() time.Time

	metrics *metrics

	closeOnce sync.Once
	closed    chan struct{}
	done      sync.WaitGroup
}

// NewManager builds an archival manager over the given object store
// client and segment manager.
func NewManager(cfg config.ArchivalConfig, client objstore.Client, segments *segment.Manager, logger log.Logger) (*Manager, error) {
	segCache, err := lru.New[uint64, map[string]segment.Record](max(cfg.SegmentCacheSize, 1))
	if err != nil {
		return nil, err
	}
	metaCache, err := lru.New[uint64, Metadata](max(cfg.MetadataCacheSize, 1))
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		client:    client,
		segments:  segments,
		log:       logger,
		catalog:   newCatalog(),
		segCache:  segCache,
		metaCache: metaCache,
		inflight:  make(map[uint64]struct{}),
		now:       time.Now,
		closed:    make(chan struct{}),
	}, nil
}

// Run wakes on the configured interval and archives whatever segments
// crossed the age threshold. It returns when ctx is done or Close is
// called; an in-flight pass finishes its tick before stopping.
func (m *Manager) Run(ctx context.Context) {
	m.done.Add(1)
	go func() {
		defer m.done.Done()

		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.ArchiveOldSegments(ctx); err != nil {
					m.log.Warn("archival tick failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			}
		}
	}()
}

// Close stops the background loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.done.Wait()
}

// ArchiveOldSegments archives every sealed segment older than the age
// threshold. Distinct segments archive concurrently; each segment's
// archival is serialized. Upload failures are logged and retried on the
// next tick; the local body survives until the remote put is confirmed.
func (m *Manager) ArchiveOldSegments(ctx context.Context) error {
	if err := m.segments.SealExpired(); err != nil {
		return err
	}

	now := m.now()
	var due []*segment.Segment
	for _, seg := range m.segments.ListSealed() {
		if seg.Age(now) >= m.cfg.AgeThreshold {
			due = append(due, seg)
		}
	}
	if len(due) == 0 {
		return nil
	}

	workers := m.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)
	errCh := make(chan error, len(due))
	var wg sync.WaitGroup
	for _, seg := range due {
		if !m.tryLock(seg.ID) {
			continue
		}
		wg.Add(1)
		go func(seg *segment.Segment) {
			defer wg.Done()
			defer m.unlock(seg.ID)
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := m.archiveSegment(ctx, seg); err != nil {
				m.metrics.archiveError()
				m.log.Warn("segment archival failed",
					zap.Uint64("segmentID", seg.ID),
					zap.Error(err),
				)
				errCh <- err
			}
		}(seg)
	}
	wg.Wait()
	close(errCh)

	var collected wrappers.Errs
	for err := range errCh {
		collected.Add(err)
	}
	return collected.Err()
}

func (m *Manager) tryLock(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) unlock(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

func (m *Manager) archiveSegment(ctx context.Context, seg *segment.Segment) error {
	// Re-archiving an already-archived id is a no-op; only the deferred
	// local drop may still be owed.
	if _, done := m.catalog.get(seg.ID); done {
		if m.cfg.DropLocalAfterUpload {
			m.segments.DropLocal(seg.ID)
		}
		return nil
	}

	root, ok := seg.MerkleRoot()
	if !ok {
		return errs.Newf(errs.ArchivalUpload, "segment %d has no entries", seg.ID)
	}

	body := serializeSegment(seg.Records(), m.cfg.CompactTombstones)
	compressed, err := compress(body, m.cfg.CompressionLevel)
	if err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "compressing segment")
	}

	meta := Metadata{
		SegmentID:      seg.ID,
		CreatedAt:      seg.CreatedAt.UTC(),
		OriginalSize:   uint64(len(body)),
		CompressedSize: uint64(len(compressed)),
		MerkleRoot:     hex.EncodeToString(root[:]),
		ObjectKey:      segmentKey(seg.ID),
	}
	metaBody, err := MarshalMetadata(meta)
	if err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "encoding metadata")
	}

	if err := m.client.PutObject(ctx, meta.ObjectKey, compressed); err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "uploading segment body")
	}
	if err := m.client.PutObject(ctx, metadataKey(seg.ID), metaBody); err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "uploading segment metadata")
	}

	m.catalog.put(meta)
	m.metaCache.Add(seg.ID, meta)
	m.metrics.archived(meta)
	m.log.Info("archived segment",
		zap.Uint64("segmentID", seg.ID),
		zap.Uint64("originalSize", meta.OriginalSize),
		zap.Uint64("compressedSize", meta.CompressedSize),
	)

	if m.cfg.DropLocalAfterUpload {
		m.segments.DropLocal(seg.ID)
	}
	return nil
}

// GetValue serves a key from an archived segment, downloading and caching
// the body on a cache miss. A tombstoned or absent key reports NotFound.
func (m *Manager) GetValue(ctx context.Context, segmentID uint64, key []byte) ([]byte, error) {
	records, err := m.loadSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	rec, ok := records[string(key)]
	if !ok || rec.Tombstone {
		return nil, errs.Newf(errs.NotFound, "key absent from segment %d", segmentID)
	}
	return rec.Value, nil
}

func (m *Manager) loadSegment(ctx context.Context, id uint64) (map[string]segment.Record, error) {
	if records, ok := m.segCache.Get(id); ok {
		m.metrics.readThrough(true)
		return records, nil
	}
	m.metrics.readThrough(false)

	meta, err := m.metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	compressed, err := m.client.GetObject(ctx, meta.ObjectKey)
	if err != nil {
		if objstore.IsNotFound(err) {
			return nil, errs.Wrap(errs.NotFound, err, "segment body missing remotely")
		}
		return nil, errs.Wrap(errs.ArchivalDownload, err, "downloading segment body")
	}
	body, err := decompress(compressed)
	if err != nil {
		return nil, err
	}
	list, err := deserializeSegment(body)
	if err != nil {
		return nil, err
	}

	records := make(map[string]segment.Record, len(list))
	for _, rec := range list {
		records[string(rec.Key)] = rec
	}
	m.segCache.Add(id, records)
	return records, nil
}

func (m *Manager) metadata(ctx context.Context, id uint64) (Metadata, error) {
	if meta, ok := m.metaCache.Get(id); ok {
		return meta, nil
	}
	if meta, ok := m.catalog.get(id); ok {
		m.metaCache.Add(id, meta)
		return meta, nil
	}

	raw, err := m.client.GetObject(ctx, metadataKey(id))
	if err != nil {
		if objstore.IsNotFound(err) {
			return Metadata{}, errs.Newf(errs.NotFound, "segment %d is not archived", id)
		}
		return Metadata{}, errs.Wrap(errs.ArchivalDownload, err, "downloading segment metadata")
	}
	meta, err := UnmarshalMetadata(raw)
	if err != nil {
		return Metadata{}, errs.Wrap(errs.ArchivalDecode, err, "parsing segment metadata")
	}
	m.catalog.put(meta)
	m.metaCache.Add(id, meta)
	return meta, nil
}

// Restore rebuilds the catalog from the object store's metadata listing.
// Startup calls this before serving read-through lookups.
func (m *Manager) Restore(ctx context.Context) error {
	keys, err := m.client.ListPrefix(ctx, "metadata/")
	if err != nil {
		return errs.Wrap(errs.ArchivalDownload, err, "listing metadata")
	}
	for _, key := range keys {
		raw, err := m.client.GetObject(ctx, key)
		if err != nil {
			return errs.Wrap(errs.ArchivalDownload, err, "restoring catalog entry")
		}
		meta, err := UnmarshalMetadata(raw)
		if err != nil {
			m.log.Warn("skipping malformed catalog entry", zap.String("key", key), zap.Error(err))
			continue
		}
		m.catalog.put(meta)
	}
	m.metrics.catalogSize(m.catalog.len())
	m.log.Info("restored archival catalog", zap.Int("segments", m.catalog.len()))
	return nil
}

// DeleteArchived removes a segment's remote body and metadata and clears
// every cache entry for it.
func (m *Manager) DeleteArchived(ctx context.Context, id uint64) error {
	meta, ok := m.catalog.get(id)
	if !ok {
		return errs.Newf(errs.NotFound, "segment %d is not archived", id)
	}
	if err := m.client.DeleteObject(ctx, meta.ObjectKey); err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "deleting segment body")
	}
	if err := m.client.DeleteObject(ctx, metadataKey(id)); err != nil {
		return errs.Wrap(errs.ArchivalUpload, err, "deleting segment metadata")
	}
	m.catalog.remove(id)
	m.segCache.Remove(id)
	m.metaCache.Remove(id)
	m.metrics.catalogSize(m.catalog.len())
	return nil
}

// IsArchived reports whether id has a confirmed remote copy.
func (m *Manager) IsArchived(id uint64) bool {
	_, ok := m.catalog.get(id)
	return ok
}

// Catalog returns the archived segment metadata ordered by id.
func (m *Manager) Catalog() []Metadata {
	return m.catalog.list()
}
