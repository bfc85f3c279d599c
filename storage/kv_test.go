// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"fmt"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StorageConfig{InMemory: true}, t.TempDir(), log.NewNoOpLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Put([]byte("alice"), []byte("1")))

	v, err := s.Get([]byte("alice"))
	require.NoError(err)
	require.Equal([]byte("1"), v)

	require.NoError(s.Delete([]byte("alice")))
	_, err = s.Get([]byte("alice"))
	require.True(errs.IsKind(err, errs.NotFound))

	// Deleting again is a no-op.
	require.NoError(s.Delete([]byte("alice")))
}

func TestApplyBatchAtomic(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Put([]byte("stale"), []byte("x")))
	require.NoError(s.ApplyBatch([]types.Command{
		types.Put([]byte("a"), []byte("1")),
		types.Put([]byte("b"), []byte("2")),
		types.Delete([]byte("stale")),
		types.Batch(types.Put([]byte("c"), []byte("3"))),
	}))

	for key, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		v, err := s.Get([]byte(key))
		require.NoError(err)
		require.Equal([]byte(want), v)
	}
	_, err := s.Get([]byte("stale"))
	require.True(errs.IsKind(err, errs.NotFound))
}

func TestApplyBatchRejectsMembership(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	err := s.ApplyBatch([]types.Command{types.ChangeMembership(types.NewMembership(nil))})
	require.True(errs.IsKind(err, errs.InvalidRequest))
}

func TestScanOrderAndRange(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	for _, key := range []string{"d", "b", "a", "c", "e"} {
		require.NoError(s.Put([]byte(key), []byte("v-"+key)))
	}

	pairs, err := s.Scan([]byte("b"), []byte("e"))
	require.NoError(err)
	require.Len(pairs, 3)
	for i, want := range []string{"b", "c", "d"} {
		require.Equal([]byte(want), pairs[i].Key)
		require.Equal([]byte("v-"+want), pairs[i].Value)
	}

	all, err := s.Scan(nil, nil)
	require.NoError(err)
	require.Len(all, 5)
}

func TestSnapshotIterCoversLiveState(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	want := map[string]string{}
	for i := 0; i < 64; i++ {
		k := fmt.Sprintf("key-%02d", i)
		v := fmt.Sprintf("val-%d", i)
		want[k] = v
		require.NoError(s.Put([]byte(k), []byte(v)))
	}

	iter := s.SnapshotIter()
	defer iter.Release()

	got := map[string]string{}
	for iter.Next() {
		got[string(iter.Key())] = string(iter.Value())
	}
	require.NoError(iter.Error())
	require.Equal(want, got)
}

func TestMetaKeyspaceIsolated(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Meta().Put([]byte("applied_index"), []byte{1}))
	require.NoError(s.Put([]byte("applied_index"), []byte("user data")))

	v, err := s.Get([]byte("applied_index"))
	require.NoError(err)
	require.Equal([]byte("user data"), v)

	pairs, err := s.Scan(nil, nil)
	require.NoError(err)
	require.Len(pairs, 1)
}

func TestFlushAdvancesMarker(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Flush())
	first, err := database.GetUInt64(s.Meta(), flushMarkerKey)
	require.NoError(err)
	require.NoError(s.Flush())
	second, err := database.GetUInt64(s.Meta(), flushMarkerKey)
	require.NoError(err)
	require.Equal(first+1, second)
}
