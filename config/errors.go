// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "errors"

// Error variables for configuration validation
var (
	ErrInvalidNodeID          = errors.New("node id must be non-zero")
	ErrMissingDataDir         = errors.New("data dir must be set")
	ErrMissingBindAddress     = errors.New("bind address must be set")
	ErrNodeNotInPeers         = errors.New("local node missing from peer map")
	ErrInvalidHeartbeat       = errors.New("heartbeat interval must be >= 1ms")
	ErrInvalidElectionTimeout = errors.New("election timeout must exceed heartbeat interval")
	ErrInvalidPayloadEntries  = errors.New("max payload entries must be >= 1")
	ErrInvalidCacheCapacity   = errors.New("cache capacity must be >= 1")
	ErrInvalidSegmentSize     = errors.New("segment size must be >= 1 byte")
	ErrInvalidCompression     = errors.New("compression level must be between 0 and 9")
	ErrMissingBucket          = errors.New("s3 bucket must be set when archival is enabled")
)
