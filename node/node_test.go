// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/merkle"
	"github.com/hyra-network/scribe-ledger/objstore"
	"github.com/hyra-network/scribe-ledger/raft"
	"github.com/hyra-network/scribe-ledger/storage"
	"github.com/hyra-network/scribe-ledger/transport"
)

func testConfig(id uint64, peers map[uint64]string, dir string) config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = id
	cfg.BindAddress = peers[id]
	cfg.DataDir = dir
	cfg.Peers = peers
	cfg.LocalReads = true
	cfg.Storage.InMemory = true
	cfg.Raft.HeartbeatInterval = 20 * time.Millisecond
	cfg.Raft.ElectionTimeout = 150 * time.Millisecond
	// Tests drive archival explicitly rather than through the background
	// loop; sealed segments are due immediately.
	cfg.Archival.AgeThreshold = 0
	cfg.Archival.DropLocalAfterUpload = true
	return cfg
}

type testCluster struct {
	network *transport.MemoryNetwork
	store   *objstore.Memory
	nodes   map[uint64]*Node
}

func newTestCluster(t *testing.T, ids ...uint64) *testCluster {
	t.Helper()

	peers := make(map[uint64]string, len(ids))
	for _, id := range ids {
		peers[id] = fmt.Sprintf("127.0.0.1:%d", 7600+id)
	}

	tc := &testCluster{
		network: transport.NewMemoryNetwork(),
		store:   objstore.NewMemory(),
		nodes:   make(map[uint64]*Node),
	}
	ctx := context.Background()
	for _, id := range ids {
		n, err := New(testConfig(id, peers, t.TempDir()), log.NewNoOpLogger(), Options{
			ObjectStore: tc.store,
			Network:     tc.network,
		})
		require.NoError(t, err)
		require.NoError(t, n.Start(ctx))
		tc.nodes[id] = n
	}
	t.Cleanup(func() {
		for _, n := range tc.nodes {
			_ = n.Close()
		}
	})
	return tc
}

func (tc *testCluster) waitLeader(t *testing.T) *Node {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range tc.nodes {
			if n.raft.State() == raft.Leader {
				return n
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected")
	return nil
}

func waitTrue(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSingleNodePutGet(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	index, err := leader.Put(ctx, []byte("alice"), []byte("1"))
	require.NoError(err)
	require.NotZero(index)

	value, ok, err := leader.Get(ctx, []byte("alice"), Linearizable)
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte("1"), value)

	root, ok, err := leader.ComputeRoot()
	require.NoError(err)
	require.True(ok)
	require.NotEmpty(root)

	result, err := leader.VerifyKey([]byte("alice"))
	require.NoError(err)
	require.True(result.Verified)
	require.Equal(root, result.RootHex)
}

func TestEmptyLedger(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1)
	leader := tc.waitLeader(t)

	_, ok, err := leader.ComputeRoot()
	require.NoError(err)
	require.False(ok)

	_, err = leader.VerifyKey([]byte("missing"))
	require.True(errs.IsKind(err, errs.NotFound))

	value, ok, err := leader.Get(context.Background(), []byte("missing"), Local)
	require.NoError(err)
	require.False(ok)
	require.Nil(value)
}

func TestNotLeaderRedirect(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1, 2, 3)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	// Followers learn the leader from its first heartbeat.
	for id, n := range tc.nodes {
		n := n
		waitTrue(t, fmt.Sprintf("node %d sees leader", id), func() bool {
			known, _ := n.raft.Leader()
			return known == leader.cfg.NodeID
		})
	}

	for _, n := range tc.nodes {
		if n == leader {
			continue
		}
		_, err := n.Put(ctx, []byte("k"), []byte("v"))
		nl, ok := errs.AsNotLeader(err)
		require.True(ok)
		require.Equal(leader.cfg.NodeID, nl.LeaderID)
		require.Equal(leader.cfg.BindAddress, nl.Address)
	}
}

func TestBatchAtomicityAndRoot(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1, 2, 3)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	_, err := leader.BatchPut(ctx, []storage.Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	})
	require.NoError(err)

	// Every replica sees all three pairs.
	for id, n := range tc.nodes {
		n := n
		waitTrue(t, fmt.Sprintf("replica %d batch", id), func() bool {
			for _, key := range []string{"a", "b", "c"} {
				if _, ok, _ := n.Get(ctx, []byte(key), Local); !ok {
					return false
				}
			}
			return true
		})
	}

	// The live root equals the root over exactly {a:1, b:2, c:3}.
	wantRoot, ok := merkle.FromPairs([]merkle.Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}).Root()
	require.True(ok)
	root, ok, err := leader.ComputeRoot()
	require.NoError(err)
	require.True(ok)
	require.Equal(hex.EncodeToString(wantRoot[:]), root)
}

func TestReplicaConvergence(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1, 2, 3)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := leader.Put(ctx, []byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("v%d", i)))
		require.NoError(err)
	}
	_, err := leader.Delete(ctx, []byte("key-07"))
	require.NoError(err)

	wantIndex := leader.raft.AppliedIndex()
	wantRoot, _, err := leader.ComputeRoot()
	require.NoError(err)

	for id, n := range tc.nodes {
		n := n
		waitTrue(t, fmt.Sprintf("replica %d applied index", id), func() bool {
			return n.raft.AppliedIndex() >= wantIndex
		})
		root, ok, err := n.ComputeRoot()
		require.NoError(err)
		require.True(ok)
		require.Equal(wantRoot, root, "replica %d root diverged", id)
	}
}

func TestDeleteInvalidatesCache(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	_, err := leader.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(err)

	// Warm the hot cache.
	_, ok, err := leader.Get(ctx, []byte("k"), Local)
	require.NoError(err)
	require.True(ok)

	_, err = leader.Delete(ctx, []byte("k"))
	require.NoError(err)

	_, ok, err = leader.Get(ctx, []byte("k"), Local)
	require.NoError(err)
	require.False(ok)
}

func TestLinearizableReadAfterWrite(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1, 2, 3)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	_, err := leader.Put(ctx, []byte("k"), []byte("v1"))
	require.NoError(err)
	_, err = leader.Put(ctx, []byte("k"), []byte("v2"))
	require.NoError(err)

	value, ok, err := leader.Get(ctx, []byte("k"), Linearizable)
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte("v2"), value)
}

func TestArchivalReadThrough(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	_, err := leader.Put(ctx, []byte("x"), []byte("1"))
	require.NoError(err)
	_, err = leader.Put(ctx, []byte("y"), []byte("2"))
	require.NoError(err)

	// Seal and archive the segment; the config drops the local body once
	// the upload is confirmed.
	require.NoError(leader.segments.SealActive())
	require.NoError(leader.archiver.ArchiveOldSegments(ctx))
	require.Empty(leader.segments.ListSealed())
	require.Len(leader.archiver.Catalog(), 1)

	// Evict the pairs from the live tiers to force the read-through.
	require.NoError(leader.store.Delete([]byte("x")))
	require.NoError(leader.store.Delete([]byte("y")))
	leader.hot.Clear()

	value, ok, err := leader.Get(ctx, []byte("x"), Local)
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte("1"), value)

	// The read-through re-cached the value.
	cached, ok := leader.hot.Get([]byte("x"))
	require.True(ok)
	require.Equal([]byte("1"), cached)

	// Re-archiving the already-archived id is a no-op.
	require.NoError(leader.archiver.ArchiveOldSegments(ctx))
	require.Len(leader.archiver.Catalog(), 1)
}

func TestHealthAndClusterInfo(t *testing.T) {
	require := require.New(t)
	tc := newTestCluster(t, 1, 2, 3)
	leader := tc.waitLeader(t)
	ctx := context.Background()

	_, err := leader.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(err)

	report := leader.Health(ctx)
	require.True(report.Healthy)
	require.Len(report.Checks, 3)

	info := leader.ClusterInfo()
	require.Equal(leader.cfg.NodeID, info.Leader)
	require.Equal("leader", info.Role)
	require.Len(info.Voters, 3)
	require.Empty(info.Learners)
	require.NotZero(info.Term)
	require.GreaterOrEqual(info.CommitIndex, info.LastApplied)
}

func TestLocalReadsDisabled(t *testing.T) {
	require := require.New(t)

	peers := map[uint64]string{1: "127.0.0.1:7601"}
	cfg := testConfig(1, peers, t.TempDir())
	cfg.LocalReads = false
	n, err := New(cfg, log.NewNoOpLogger(), Options{
		ObjectStore: objstore.NewMemory(),
		Network:     transport.NewMemoryNetwork(),
	})
	require.NoError(err)
	require.NoError(n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Close() })

	_, _, err = n.Get(context.Background(), []byte("k"), Local)
	require.True(errs.IsKind(err, errs.InvalidRequest))
}

type denyGate struct{}

func (denyGate) Allow(_ context.Context, op string, _ []byte) error {
	if op == "put" {
		return errs.New(errs.RateLimited, "bucket empty")
	}
	return nil
}

func TestRequestGateHook(t *testing.T) {
	require := require.New(t)

	peers := map[uint64]string{1: "127.0.0.1:7601"}
	n, err := New(testConfig(1, peers, t.TempDir()), log.NewNoOpLogger(), Options{
		ObjectStore: objstore.NewMemory(),
		Network:     transport.NewMemoryNetwork(),
		Gate:        denyGate{},
	})
	require.NoError(err)
	require.NoError(n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Close() })

	_, err = n.Put(context.Background(), []byte("k"), []byte("v"))
	require.True(errs.IsKind(err, errs.RateLimited))

	// Other operations pass the gate untouched.
	_, ok, err := n.Get(context.Background(), []byte("k"), Local)
	require.NoError(err)
	require.False(ok)
}
