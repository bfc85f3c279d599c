// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"runtime"
	"time"
)

// Config is the top-level node configuration. Parsing of config files,
// environment overlays and CLI flags happens outside this package; callers
// hand a fully populated Config to node.New.
type Config struct {
	// NodeID uniquely identifies this node in the cluster.
	NodeID uint64

	// BindAddress is the host:port the peer transport listens on.
	BindAddress string

	// DataDir is the root of the node's on-disk layout.
	DataDir string

	// Peers maps node ids to their peer transport addresses. The local
	// node must appear in the map.
	Peers map[uint64]string

	// LocalReads permits stale reads served from this node's applied
	// state without a ReadIndex barrier.
	LocalReads bool

	// WorkerThreads bounds CPU-bound work (compression, hashing,
	// serialization). Zero means one worker per CPU.
	WorkerThreads int

	Raft     RaftConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Segment  SegmentConfig
	Archival ArchivalConfig
	S3       S3Config
}

// RaftConfig holds the consensus timing and sizing parameters.
type RaftConfig struct {
	// HeartbeatInterval is how often the leader sends AppendEntries,
	// possibly empty.
	HeartbeatInterval time.Duration

	// ElectionTimeout is the base election timeout T; each follower
	// randomizes in [T, 2T].
	ElectionTimeout time.Duration

	// MaxPayloadEntries bounds the entries batched into one
	// AppendEntries request.
	MaxPayloadEntries int

	// SnapshotLogsSinceLast triggers a snapshot once this many entries
	// accumulated since the previous one.
	SnapshotLogsSinceLast uint64

	// MaxInSnapshotLogToKeep is the log tail retained after snapshotting
	// for straggler catch-up.
	MaxInSnapshotLogToKeep uint64
}

// StorageConfig configures the embedded key-value store.
type StorageConfig struct {
	// FlushInterval bounds the unflushed write window. Zero means fsync
	// on every write.
	FlushInterval time.Duration

	// InMemory backs the store with an in-memory database. Used by
	// tests; production nodes leave it false.
	InMemory bool
}

// CacheConfig configures the hot-data cache.
type CacheConfig struct {
	// Capacity is the fixed number of entries held before LRU eviction.
	Capacity int
}

// SegmentConfig configures the segment manager.
type SegmentConfig struct {
	// SegmentSize seals the active segment once its byte size reaches
	// this threshold.
	SegmentSize uint64

	// RollInterval seals the active segment by age even when below the
	// size threshold.
	RollInterval time.Duration
}

// ArchivalConfig configures age-based archival to the object store.
type ArchivalConfig struct {
	// Enabled turns the background archival loop on.
	Enabled bool

	// AgeThreshold is how old a sealed segment must be before it is
	// archived.
	AgeThreshold time.Duration

	// CheckInterval is the background loop wake-up period.
	CheckInterval time.Duration

	// CompressionLevel is the gzip level, 0-9. Zero stores bodies
	// uncompressed.
	CompressionLevel int

	// DropLocalAfterUpload discards the local segment body once the
	// remote put is confirmed.
	DropLocalAfterUpload bool

	// CompactTombstones omits tombstoned keys from archived bodies.
	// Leave false to preserve root convergence during concurrent
	// archival.
	CompactTombstones bool

	// SegmentCacheSize bounds the read-through segment cache.
	SegmentCacheSize int

	// MetadataCacheSize bounds the per-segment metadata cache.
	MetadataCacheSize int

	// Workers bounds concurrent segment archival (compression and
	// hashing are CPU-bound). Zero means one worker per CPU.
	Workers int
}

// S3Config configures the S3-compatible object store client.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// PathStyle selects path-style addressing (MinIO) over virtual-host
	// style (AWS).
	PathStyle bool

	// PoolSize bounds concurrent connections to the object store.
	PoolSize int

	// Timeout is the per-request deadline.
	Timeout time.Duration

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
}

// DefaultConfig returns a single-node configuration with the default
// parameters.
func DefaultConfig() Config {
	return Config{
		NodeID:        1,
		BindAddress:   "127.0.0.1:7600",
		DataDir:       "data",
		Peers:         map[uint64]string{1: "127.0.0.1:7600"},
		WorkerThreads: runtime.NumCPU(),
		Raft:          DefaultRaftConfig(),
		Storage:       DefaultStorageConfig(),
		Cache:         DefaultCacheConfig(),
		Segment:       DefaultSegmentConfig(),
		Archival:      DefaultArchivalConfig(),
		S3:            DefaultS3Config(),
	}
}

// DefaultRaftConfig returns the default consensus parameters.
func DefaultRaftConfig() RaftConfig {
	return RaftConfig{
		HeartbeatInterval:      3 * time.Second,
		ElectionTimeout:        10 * time.Second,
		MaxPayloadEntries:      300,
		SnapshotLogsSinceLast:  5000,
		MaxInSnapshotLogToKeep: 1000,
	}
}

// DefaultStorageConfig returns the default storage parameters.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		FlushInterval: 100 * time.Millisecond,
	}
}

// DefaultCacheConfig returns the default cache parameters.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: 10_000,
	}
}

// DefaultSegmentConfig returns the default segment parameters.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		SegmentSize:  4 << 20,
		RollInterval: 10 * time.Minute,
	}
}

// DefaultArchivalConfig returns the default archival parameters.
func DefaultArchivalConfig() ArchivalConfig {
	return ArchivalConfig{
		Enabled:           false,
		AgeThreshold:      time.Hour,
		CheckInterval:     time.Minute,
		CompressionLevel:  6,
		SegmentCacheSize:  32,
		MetadataCacheSize: 1024,
	}
}

// DefaultS3Config returns the default object store parameters.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:     "us-east-1",
		PathStyle:  true,
		PoolSize:   10,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}
