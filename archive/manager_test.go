// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/objstore"
	"github.com/hyra-network/scribe-ledger/objstore/s3mock"
	"github.com/hyra-network/scribe-ledger/segment"
)

func newTestPipeline(t *testing.T, client objstore.Client, cfg config.ArchivalConfig) (*segment.Manager, *Manager) {
	t.Helper()
	segs, err := segment.NewManager(config.SegmentConfig{SegmentSize: 1 << 20}, memdb.New(), log.NewNoOpLogger())
	require.NoError(t, err)
	mgr, err := NewManager(cfg, client, segs, log.NewNoOpLogger())
	require.NoError(t, err)
	return segs, mgr
}

func defaultTestConfig() config.ArchivalConfig {
	cfg := config.DefaultArchivalConfig()
	cfg.AgeThreshold = 0
	cfg.DropLocalAfterUpload = true
	return cfg
}

func TestArchiveRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	segs, mgr := newTestPipeline(t, store, defaultTestConfig())

	require.NoError(segs.Append([]byte("x"), []byte("1")))
	require.NoError(segs.Append([]byte("y"), []byte("2")))
	require.NoError(segs.SealActive())
	id := segs.ListSealed()[0].ID
	wantRoot, err := segs.ComputeMerkleRoot(id)
	require.NoError(err)

	require.NoError(mgr.ArchiveOldSegments(ctx))

	// The local body was dropped after the confirmed upload.
	require.Empty(segs.ListSealed())
	require.True(mgr.IsArchived(id))
	require.Equal(2, store.Len())

	// Read-through serves both keys from the remote copy.
	v, err := mgr.GetValue(ctx, id, []byte("x"))
	require.NoError(err)
	require.Equal([]byte("1"), v)
	v, err = mgr.GetValue(ctx, id, []byte("y"))
	require.NoError(err)
	require.Equal([]byte("2"), v)

	_, err = mgr.GetValue(ctx, id, []byte("absent"))
	require.True(errs.IsKind(err, errs.NotFound))

	// Catalog entry matches what was archived.
	catalog := mgr.Catalog()
	require.Len(catalog, 1)
	require.Equal(id, catalog[0].SegmentID)
	require.Equal(segmentKey(id), catalog[0].ObjectKey)

	meta, err := UnmarshalMetadata(mustGet(t, store, metadataKey(id)))
	require.NoError(err)
	require.Equal(catalog[0], meta)
	require.Equal(hex.EncodeToString(wantRoot[:]), meta.MerkleRoot)
}

func mustGet(t *testing.T, store objstore.Client, key string) []byte {
	t.Helper()
	body, err := store.GetObject(context.Background(), key)
	require.NoError(t, err)
	return body
}

func TestReArchiveIsNoOp(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	segs, mgr := newTestPipeline(t, store, defaultTestConfig())

	require.NoError(segs.Append([]byte("a"), []byte("1")))
	require.NoError(segs.SealActive())

	require.NoError(mgr.ArchiveOldSegments(ctx))
	require.Equal(2, store.Len())

	// A second pass finds nothing to do and uploads nothing.
	require.NoError(mgr.ArchiveOldSegments(ctx))
	require.Equal(2, store.Len())
	require.Len(mgr.Catalog(), 1)
}

func TestUploadFailureKeepsLocalBody(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	cfg := defaultTestConfig()
	segs, mgr := newTestPipeline(t, store, cfg)

	require.NoError(segs.Append([]byte("a"), []byte("1")))
	require.NoError(segs.SealActive())
	id := segs.ListSealed()[0].ID

	// The memory store does not retry, so one failed put fails this tick.
	store.FailNextPuts(1)
	err := mgr.ArchiveOldSegments(ctx)
	require.True(errs.IsKind(err, errs.ArchivalUpload))

	// The local body must survive an unconfirmed upload.
	_, held := segs.Sealed(id)
	require.True(held)
	require.False(mgr.IsArchived(id))

	// The next tick succeeds and completes the archival.
	require.NoError(mgr.ArchiveOldSegments(ctx))
	require.True(mgr.IsArchived(id))
	_, held = segs.Sealed(id)
	require.False(held)
}

func TestAgeThresholdGatesArchival(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	cfg := defaultTestConfig()
	cfg.AgeThreshold = config.DefaultArchivalConfig().AgeThreshold
	segs, mgr := newTestPipeline(t, store, cfg)

	require.NoError(segs.Append([]byte("a"), []byte("1")))
	require.NoError(segs.SealActive())

	// Too young: nothing uploads.
	require.NoError(mgr.ArchiveOldSegments(ctx))
	require.Zero(store.Len())
	require.Len(segs.ListSealed(), 1)
}

func TestCatalogRestore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	segs, mgr := newTestPipeline(t, store, defaultTestConfig())

	for i := 0; i < 3; i++ {
		require.NoError(segs.Append([]byte{byte('a' + i)}, []byte("v")))
		require.NoError(segs.SealActive())
	}
	require.NoError(mgr.ArchiveOldSegments(ctx))
	require.Len(mgr.Catalog(), 3)

	// A fresh manager over the same store rebuilds the catalog from the
	// metadata listing.
	fresh, err := NewManager(defaultTestConfig(), store, segs, log.NewNoOpLogger())
	require.NoError(err)
	require.NoError(fresh.Restore(ctx))

	restored := fresh.Catalog()
	require.Len(restored, 3)
	for i := 1; i < len(restored); i++ {
		require.Greater(restored[i].SegmentID, restored[i-1].SegmentID)
	}
}

func TestDeleteArchivedClearsCaches(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	segs, mgr := newTestPipeline(t, store, defaultTestConfig())

	require.NoError(segs.Append([]byte("a"), []byte("1")))
	require.NoError(segs.SealActive())
	id := segs.ListSealed()[0].ID
	require.NoError(mgr.ArchiveOldSegments(ctx))

	// Warm the segment cache.
	_, err := mgr.GetValue(ctx, id, []byte("a"))
	require.NoError(err)

	require.NoError(mgr.DeleteArchived(ctx, id))
	require.Zero(store.Len())
	require.False(mgr.IsArchived(id))

	_, err = mgr.GetValue(ctx, id, []byte("a"))
	require.True(errs.IsKind(err, errs.NotFound))

	err = mgr.DeleteArchived(ctx, id)
	require.True(errs.IsKind(err, errs.NotFound))
}

func TestTombstonesReadAsAbsent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := objstore.NewMemory()
	segs, mgr := newTestPipeline(t, store, defaultTestConfig())

	require.NoError(segs.Append([]byte("live"), []byte("1")))
	require.NoError(segs.AppendTombstone([]byte("dead")))
	require.NoError(segs.SealActive())
	id := mustSealedID(t, segs)

	require.NoError(mgr.ArchiveOldSegments(ctx))

	v, err := mgr.GetValue(ctx, id, []byte("live"))
	require.NoError(err)
	require.Equal([]byte("1"), v)

	_, err = mgr.GetValue(ctx, id, []byte("dead"))
	require.True(errs.IsKind(err, errs.NotFound))
}

func mustSealedID(t *testing.T, segs *segment.Manager) uint64 {
	t.Helper()
	sealed := segs.ListSealed()
	require.Len(t, sealed, 1)
	return sealed[0].ID
}

func TestReadThroughCachesSegment(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	segs, err := segment.NewManager(config.SegmentConfig{SegmentSize: 1 << 20}, memdb.New(), log.NewNoOpLogger())
	require.NoError(err)

	// Archive through a real memory store first to capture the wire
	// bytes, then serve them from a mock that tolerates one download.
	backing := objstore.NewMemory()
	mgr, err := NewManager(defaultTestConfig(), backing, segs, log.NewNoOpLogger())
	require.NoError(err)
	require.NoError(segs.Append([]byte("k"), []byte("v")))
	require.NoError(segs.SealActive())
	id := mustSealedID(t, segs)
	require.NoError(mgr.ArchiveOldSegments(ctx))
	bodyBytes := mustGet(t, backing, segmentKey(id))
	metaBytes := mustGet(t, backing, metadataKey(id))

	mock := s3mock.NewMockClient(ctrl)
	mock.EXPECT().GetObject(gomock.Any(), metadataKey(id)).Return(metaBytes, nil).Times(1)
	mock.EXPECT().GetObject(gomock.Any(), segmentKey(id)).Return(bodyBytes, nil).Times(1)

	cold, err := NewManager(defaultTestConfig(), mock, segs, log.NewNoOpLogger())
	require.NoError(err)

	// First read downloads; later reads come from the LRU cache, so the
	// mock's single expected download suffices.
	for i := 0; i < 5; i++ {
		v, err := cold.GetValue(ctx, id, []byte("k"))
		require.NoError(err)
		require.Equal([]byte("v"), v)
	}
}
