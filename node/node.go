// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node assembles the storage tiers, the consensus core and the
// archival pipeline into one handle. The handle owns every sub-component;
// tests run multi-node clusters by giving each node its own handle and
// data directory.
package node

import (
	"context"
	"crypto/tls"
	"path/filepath"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/api/health"
	"github.com/hyra-network/scribe-ledger/archive"
	"github.com/hyra-network/scribe-ledger/cache"
	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/objstore"
	"github.com/hyra-network/scribe-ledger/raft"
	"github.com/hyra-network/scribe-ledger/segment"
	"github.com/hyra-network/scribe-ledger/storage"
	"github.com/hyra-network/scribe-ledger/transport"
	"github.com/hyra-network/scribe-ledger/types"
	"github.com/hyra-network/scribe-ledger/verify"
)

// RequestGate is the collaborator hook for authentication and rate
// limiting. Core never implements it; a nil gate admits everything.
type RequestGate interface {
	Allow(ctx context.Context, op string, key []byte) error
}

// Options carries the injectable collaborators. Zero values select the
// production defaults.
type Options struct {
	// ObjectStore overrides the S3 client; tests inject the in-memory
	// double here.
	ObjectStore objstore.Client

	// Network switches the peer transport to an in-process network.
	Network *transport.MemoryNetwork

	// Registry receives the node's metrics. Nil registers nothing
	// externally observable.
	Registry prometheus.Registerer

	// Gate is the auth/rate-limit collaborator hook.
	Gate RequestGate

	// TLS enables mutual TLS on the TCP peer transport.
	TLS *tls.Config
}

// Node is the process-wide handle owning all sub-components.
type Node struct {
	cfg config.Config
	log log.Logger

	store    *storage.Store
	hot      *cache.Cache
	segments *segment.Manager
	objects  objstore.Client
	archiver *archive.Manager
	verifier *verify.Service

	raftStore *raft.Storage
	raft      *raft.Node
	tcp       *transport.TCP

	health *health.Registry
	gate   RequestGate

	archiveCancel context.CancelFunc
}

// New assembles a node from cfg. Call Start to bring it online.
func New(cfg config.Config, logger log.Logger, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	store, err := storage.New(cfg.Storage, filepath.Join(cfg.DataDir, "kv"), logger, reg)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:    cfg,
		log:    logger,
		store:  store,
		hot:    cache.New(cfg.Cache.Capacity),
		health: health.NewRegistry(),
		gate:   opts.Gate,
	}
	n.verifier = verify.New(store)
	if err := n.hot.WithMetrics(reg); err != nil {
		return nil, n.failOpen(err)
	}

	n.segments, err = segment.NewManager(cfg.Segment, store.Meta(), logger)
	if err != nil {
		return nil, n.failOpen(err)
	}
	if err := n.segments.WithMetrics(reg); err != nil {
		return nil, n.failOpen(err)
	}

	n.objects = opts.ObjectStore
	if n.objects == nil && cfg.Archival.Enabled {
		n.objects, err = objstore.NewS3(context.Background(), cfg.S3, logger)
		if err != nil {
			return nil, n.failOpen(err)
		}
	}
	if n.objects != nil {
		archCfg := cfg.Archival
		if archCfg.Workers == 0 {
			archCfg.Workers = cfg.WorkerThreads
		}
		n.archiver, err = archive.NewManager(archCfg, n.objects, n.segments, logger)
		if err != nil {
			return nil, n.failOpen(err)
		}
		if err := n.archiver.WithMetrics(reg); err != nil {
			return nil, n.failOpen(err)
		}
	}

	n.raftStore, err = raft.OpenStorage(filepath.Join(cfg.DataDir, "raft"), cfg.Storage.InMemory, logger, reg)
	if err != nil {
		return nil, n.failOpen(err)
	}

	sm := &stateMachine{
		store:    store,
		hot:      n.hot,
		segments: n.segments,
		log:      logger,
	}

	var peerTransport raft.Transport
	if opts.Network != nil {
		peerTransport = opts.Network.Join(cfg.NodeID)
	} else {
		n.tcp = transport.NewTCP(cfg.NodeID, n.resolvePeer, logger, opts.TLS)
		peerTransport = n.tcp
	}

	membership := types.NewMembership(cfg.Peers)
	n.raft, err = raft.New(cfg.Raft, cfg.NodeID, membership, n.raftStore, sm, peerTransport, logger)
	if err != nil {
		return nil, n.failOpen(err)
	}
	if err := n.raft.WithMetrics(reg); err != nil {
		return nil, n.failOpen(err)
	}

	applied, err := appliedIndex(store.Meta())
	if err != nil {
		return nil, n.failOpen(err)
	}
	n.raft.SetApplied(applied)

	if opts.Network != nil {
		opts.Network.Register(cfg.NodeID, n.raft)
	}

	n.registerHealthChecks()
	return n, nil
}

func (n *Node) failOpen(err error) error {
	_ = n.store.Close()
	if n.raftStore != nil {
		_ = n.raftStore.Close()
	}
	return err
}

func (n *Node) resolvePeer(id uint64) string {
	if n.raft != nil {
		if addr, ok := n.raft.Membership().Addresses[id]; ok {
			return addr
		}
	}
	return n.cfg.Peers[id]
}

// Start brings the transport, consensus core and archival loop online.
func (n *Node) Start(ctx context.Context) error {
	if n.tcp != nil {
		if err := n.tcp.Serve(n.cfg.BindAddress, n.raft); err != nil {
			return err
		}
	}
	if n.archiver != nil {
		if err := n.archiver.Restore(ctx); err != nil {
			n.log.Warn("archival catalog restore failed", zap.Error(err))
		}
		if n.cfg.Archival.Enabled {
			archiveCtx, cancel := context.WithCancel(context.Background())
			n.archiveCancel = cancel
			n.archiver.Run(archiveCtx)
		}
	}
	n.raft.Start()
	n.log.Info("node started",
		zap.Uint64("nodeID", n.cfg.NodeID),
		zap.String("bind", n.cfg.BindAddress),
	)
	return nil
}

// Close tears the node down in dependency order.
func (n *Node) Close() error {
	n.raft.Stop()
	if n.archiveCancel != nil {
		n.archiveCancel()
	}
	if n.archiver != nil {
		n.archiver.Close()
	}
	if n.tcp != nil {
		_ = n.tcp.Close()
	}
	if err := n.raftStore.Close(); err != nil {
		return err
	}
	return n.store.Close()
}

// Raft exposes the consensus core for transports and tests.
func (n *Node) Raft() *raft.Node {
	return n.raft
}

// Archiver exposes the archival manager; nil when no object store is
// configured.
func (n *Node) Archiver() *archive.Manager {
	return n.archiver
}

func (n *Node) registerHealthChecks() {
	n.health.Register("kv", health.CheckFn(func(context.Context) (interface{}, error) {
		_, err := appliedIndex(n.store.Meta())
		return nil, err
	}))
	n.health.Register("raft", health.CheckFn(func(context.Context) (interface{}, error) {
		return map[string]interface{}{
			"role":         n.raft.State().String(),
			"term":         n.raft.Term(),
			"last_applied": n.raft.AppliedIndex(),
		}, nil
	}))
	if n.objects != nil {
		n.health.Register("objstore", health.CheckFn(func(ctx context.Context) (interface{}, error) {
			return nil, n.objects.HealthCheck(ctx)
		}))
	}
}

// Health runs the registered checks and reports aggregate liveness along
// with the node's role and applied index.
func (n *Node) Health(ctx context.Context) health.Report {
	return n.health.Report(ctx)
}
