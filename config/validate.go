// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch {
	case c.NodeID == 0:
		return ErrInvalidNodeID
	case c.DataDir == "":
		return ErrMissingDataDir
	case c.BindAddress == "":
		return ErrMissingBindAddress
	}
	if _, ok := c.Peers[c.NodeID]; !ok {
		return ErrNodeNotInPeers
	}
	if err := c.Raft.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Segment.Validate(); err != nil {
		return err
	}
	if err := c.Archival.Validate(); err != nil {
		return err
	}
	if c.Archival.Enabled && c.S3.Bucket == "" {
		return ErrMissingBucket
	}
	return nil
}

// Validate checks the consensus timing parameters.
func (r *RaftConfig) Validate() error {
	switch {
	case r.HeartbeatInterval < time.Millisecond:
		return ErrInvalidHeartbeat
	case r.ElectionTimeout <= r.HeartbeatInterval:
		return ErrInvalidElectionTimeout
	case r.MaxPayloadEntries < 1:
		return ErrInvalidPayloadEntries
	}
	return nil
}

// Validate checks the cache parameters.
func (c *CacheConfig) Validate() error {
	if c.Capacity < 1 {
		return ErrInvalidCacheCapacity
	}
	return nil
}

// Validate checks the segment parameters.
func (s *SegmentConfig) Validate() error {
	if s.SegmentSize == 0 {
		return ErrInvalidSegmentSize
	}
	return nil
}

// Validate checks the archival parameters.
func (a *ArchivalConfig) Validate() error {
	if a.CompressionLevel < 0 || a.CompressionLevel > 9 {
		return ErrInvalidCompression
	}
	return nil
}
