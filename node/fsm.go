// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/cache"
	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/merkle"
	"github.com/hyra-network/scribe-ledger/raft"
	"github.com/hyra-network/scribe-ledger/segment"
	"github.com/hyra-network/scribe-ledger/storage"
	"github.com/hyra-network/scribe-ledger/types"
)

var appliedIndexKey = []byte("applied_index")

// snapshotBodyVersion leads every state snapshot dump.
const snapshotBodyVersion byte = 0

// stateMachine maps committed commands onto the storage tiers. The raft
// apply loop is its only caller, so writes are single-threaded.
type stateMachine struct {
	store    *storage.Store
	hot      *cache.Cache
	segments *segment.Manager
	log      log.Logger
}

var _ raft.FSM = (*stateMachine)(nil)

// Apply executes one committed entry: the embedded store first, then the
// hot cache and the segment tier.
func (sm *stateMachine) Apply(entry types.LogEntry) error {
	if err := sm.applyCommand(entry.Command); err != nil {
		return err
	}
	if err := database.PutUInt64(sm.store.Meta(), appliedIndexKey, entry.Index); err != nil {
		return errs.Wrap(errs.StorageIO, err, "recording applied index")
	}
	return nil
}

func (sm *stateMachine) applyCommand(cmd types.Command) error {
	switch cmd.Kind {
	case types.KindPut:
		if err := sm.store.Put(cmd.Key, cmd.Value); err != nil {
			return err
		}
		sm.hot.Put(cmd.Key, cmd.Value)
		return sm.segments.Append(cmd.Key, cmd.Value)

	case types.KindDelete:
		// Invalidate before the store delete lands so a failover never
		// serves the removed value from cache.
		sm.hot.Remove(cmd.Key)
		if err := sm.store.Delete(cmd.Key); err != nil {
			return err
		}
		return sm.segments.AppendTombstone(cmd.Key)

	case types.KindBatch:
		ops := flatten(cmd.Ops)
		// One storage batch keeps the group atomic for readers.
		if err := sm.store.ApplyBatch(ops); err != nil {
			return err
		}
		for _, op := range ops {
			switch op.Kind {
			case types.KindPut:
				sm.hot.Put(op.Key, op.Value)
				if err := sm.segments.Append(op.Key, op.Value); err != nil {
					return err
				}
			case types.KindDelete:
				sm.hot.Remove(op.Key)
				if err := sm.segments.AppendTombstone(op.Key); err != nil {
					return err
				}
			}
		}
		return nil

	case types.KindNoop, types.KindMembershipChange:
		// Noop only advances the applied index; membership is the
		// consensus core's concern.
		return nil

	default:
		return errs.Newf(errs.InvalidRequest, "unknown command kind %d", cmd.Kind)
	}
}

func flatten(ops []types.Command) []types.Command {
	out := make([]types.Command, 0, len(ops))
	for _, op := range ops {
		if op.Kind == types.KindBatch {
			out = append(out, flatten(op.Ops)...)
			continue
		}
		out = append(out, op)
	}
	return out
}

// Snapshot dumps the applied state as a canonical length-prefixed pair
// stream and returns the merkle root over the dumped pairs.
func (sm *stateMachine) Snapshot() ([]byte, string, error) {
	iter := sm.store.SnapshotIter()
	defer iter.Release()

	body := []byte{snapshotBodyVersion}
	var pairs []merkle.Pair
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		body = binary.BigEndian.AppendUint32(body, uint32(len(key)))
		body = append(body, key...)
		body = binary.BigEndian.AppendUint32(body, uint32(len(value)))
		body = append(body, value...)
		pairs = append(pairs, merkle.Pair{Key: key, Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, "", errs.Wrap(errs.StorageIO, err, "dumping state")
	}

	rootHex := ""
	if root, ok := merkle.FromPairs(pairs).Root(); ok {
		rootHex = hex.EncodeToString(root[:])
	}
	return body, rootHex, nil
}

// Restore replaces the applied state from a snapshot body. The hot cache
// clears; readers see the swap as one step once the restore batch lands.
func (sm *stateMachine) Restore(meta types.SnapshotMeta, body []byte) error {
	if len(body) == 0 || body[0] != snapshotBodyVersion {
		return errs.New(errs.StorageCorruption, "snapshot body malformed")
	}
	data := body[1:]

	var ops []types.Command
	existing, err := sm.store.Scan(nil, nil)
	if err != nil {
		return err
	}
	for _, pair := range existing {
		ops = append(ops, types.Delete(pair.Key))
	}
	for len(data) > 0 {
		key, rest, err := readSized(data)
		if err != nil {
			return err
		}
		value, rest, err := readSized(rest)
		if err != nil {
			return err
		}
		ops = append(ops, types.Put(key, value))
		data = rest
	}
	if err := sm.store.ApplyBatch(ops); err != nil {
		return err
	}
	sm.hot.Clear()
	if err := database.PutUInt64(sm.store.Meta(), appliedIndexKey, meta.LastIncludedIndex); err != nil {
		return errs.Wrap(errs.StorageIO, err, "recording restored index")
	}
	sm.log.Info("restored state from snapshot",
		zap.Uint64("index", meta.LastIncludedIndex),
		zap.String("merkleRoot", meta.MerkleRoot),
	)
	return nil
}

func readSized(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.StorageCorruption, "snapshot body truncated")
	}
	n := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, errs.New(errs.StorageCorruption, "snapshot body truncated")
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}

// appliedIndex reads the durable applied index, zero when never applied.
func appliedIndex(meta database.Database) (uint64, error) {
	index, err := database.GetUInt64(meta, appliedIndexKey)
	switch err {
	case nil:
		return index, nil
	case database.ErrNotFound:
		return 0, nil
	default:
		return 0, errs.Wrap(errs.StorageIO, err, "reading applied index")
	}
}
