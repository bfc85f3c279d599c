// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// scribed runs one Scribe-Ledger node.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/hyra-network/scribe-ledger/config"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/node"
)

// Exit codes for the service manager.
const (
	exitOK      = 0
	exitConfig  = 1
	exitStorage = 2
	exitNetwork = 3
	exitRaft    = 64
)

var flags struct {
	nodeID        uint64
	bind          string
	dataDir       string
	peers         []string
	localReads    bool
	archival      bool
	s3Endpoint    string
	s3Region      string
	s3Bucket      string
	s3AccessKey   string
	s3SecretKey   string
	s3PathStyle   bool
}

func main() {
	root := &cobra.Command{
		Use:   "scribed",
		Short: "Scribe-Ledger node daemon",
		Long: `scribed runs one node of a Scribe-Ledger cluster: a replicated,
tiered key-value store with raft consensus, segmented local storage and
optional compressed archival to an S3-compatible object store.`,
		RunE: run,
	}

	root.Flags().Uint64Var(&flags.nodeID, "node-id", 1, "unique node id")
	root.Flags().StringVar(&flags.bind, "bind", "127.0.0.1:7600", "peer transport bind address")
	root.Flags().StringVar(&flags.dataDir, "data-dir", "data", "data directory")
	root.Flags().StringSliceVar(&flags.peers, "peer", nil, "peer as id=host:port (repeatable)")
	root.Flags().BoolVar(&flags.localReads, "local-reads", false, "allow stale local reads")
	root.Flags().BoolVar(&flags.archival, "archival", false, "enable segment archival")
	root.Flags().StringVar(&flags.s3Endpoint, "s3-endpoint", "", "object store endpoint")
	root.Flags().StringVar(&flags.s3Region, "s3-region", "us-east-1", "object store region")
	root.Flags().StringVar(&flags.s3Bucket, "s3-bucket", "", "object store bucket")
	root.Flags().StringVar(&flags.s3AccessKey, "s3-access-key", "", "object store access key")
	root.Flags().StringVar(&flags.s3SecretKey, "s3-secret-key", "", "object store secret key")
	root.Flags().BoolVar(&flags.s3PathStyle, "s3-path-style", true, "use path-style addressing")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	logger := log.NewLogger("scribed")

	n, err := node.New(cfg, logger, node.Options{})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		_ = n.Close()
		return err
	}
	<-ctx.Done()
	return n.Close()
}

func buildConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.NodeID = flags.nodeID
	cfg.BindAddress = flags.bind
	cfg.DataDir = flags.dataDir
	cfg.LocalReads = flags.localReads
	cfg.Archival.Enabled = flags.archival
	cfg.S3.Endpoint = flags.s3Endpoint
	cfg.S3.Region = flags.s3Region
	cfg.S3.Bucket = flags.s3Bucket
	cfg.S3.AccessKey = flags.s3AccessKey
	cfg.S3.SecretKey = flags.s3SecretKey
	cfg.S3.PathStyle = flags.s3PathStyle

	cfg.Peers = map[uint64]string{flags.nodeID: flags.bind}
	for _, peer := range flags.peers {
		id, addr, ok := strings.Cut(peer, "=")
		if !ok {
			return cfg, fmt.Errorf("malformed --peer %q, want id=host:port", peer)
		}
		parsed, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("malformed peer id %q: %w", id, err)
		}
		cfg.Peers[parsed] = addr
	}
	return cfg, cfg.Validate()
}

func exitCode(err error) int {
	var nl *errs.NotLeaderError
	if errors.As(err, &nl) {
		return exitRaft
	}
	switch errs.KindOf(err) {
	case errs.Config:
		return exitConfig
	case errs.StorageIO, errs.StorageCorruption, errs.StorageFull:
		return exitStorage
	case errs.NetworkConnect, errs.NetworkTimeout, errs.NetworkReset:
		return exitNetwork
	case errs.NotLeader, errs.ConsensusBusy, errs.ConsensusRejected, errs.TermStale:
		return exitRaft
	default:
		return exitConfig
	}
}
