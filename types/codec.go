// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CodecVersion versions the canonical binary encoding of commands and log
// entries. Decoders accept only versions they know; the byte leads every
// encoded payload so the format can evolve.
type CodecVersion uint8

// CurrentVersion is the current codec version.
const CurrentVersion CodecVersion = 0

var (
	errUnsupportedVersion = errors.New("unsupported codec version")
	errTruncatedPayload   = errors.New("truncated payload")
	errUnknownCommand     = errors.New("unknown command kind")
)

// EncodeCommand renders cmd into the canonical byte form. Identical
// commands encode to identical bytes on every node; membership sets are
// written in ascending id order to keep the encoding canonical.
func EncodeCommand(cmd Command) []byte {
	buf := []byte{byte(CurrentVersion)}
	return appendCommand(buf, cmd)
}

func appendCommand(buf []byte, cmd Command) []byte {
	buf = append(buf, byte(cmd.Kind))
	switch cmd.Kind {
	case KindNoop:
	case KindPut:
		buf = appendBytes(buf, cmd.Key)
		buf = appendBytes(buf, cmd.Value)
	case KindDelete:
		buf = appendBytes(buf, cmd.Key)
	case KindBatch:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(cmd.Ops)))
		for _, op := range cmd.Ops {
			buf = appendCommand(buf, op)
		}
	case KindMembershipChange:
		buf = appendMembership(buf, cmd.Membership)
	}
	return buf
}

func appendMembership(buf []byte, m *Membership) []byte {
	voters := m.VoterIDs()
	learners := m.LearnerIDs()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(voters)))
	for _, id := range voters {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(learners)))
	for _, id := range learners {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	members := m.MemberIDs()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(members)))
	for _, id := range members {
		buf = binary.BigEndian.AppendUint64(buf, id)
		buf = appendBytes(buf, []byte(m.Addresses[id]))
	}
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// DecodeCommand parses the canonical byte form produced by EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return Command{}, errTruncatedPayload
	}
	if CodecVersion(data[0]) != CurrentVersion {
		return Command{}, fmt.Errorf("%w: %d", errUnsupportedVersion, data[0])
	}
	cmd, rest, err := readCommand(data[1:])
	if err != nil {
		return Command{}, err
	}
	if len(rest) != 0 {
		return Command{}, fmt.Errorf("%d trailing bytes after command", len(rest))
	}
	return cmd, nil
}

func readCommand(data []byte) (Command, []byte, error) {
	if len(data) == 0 {
		return Command{}, nil, errTruncatedPayload
	}
	kind := CommandKind(data[0])
	data = data[1:]
	var (
		cmd = Command{Kind: kind}
		err error
	)
	switch kind {
	case KindNoop:
	case KindPut:
		if cmd.Key, data, err = readBytes(data); err != nil {
			return Command{}, nil, err
		}
		if cmd.Value, data, err = readBytes(data); err != nil {
			return Command{}, nil, err
		}
	case KindDelete:
		if cmd.Key, data, err = readBytes(data); err != nil {
			return Command{}, nil, err
		}
	case KindBatch:
		var n uint32
		if n, data, err = readUint32(data); err != nil {
			return Command{}, nil, err
		}
		cmd.Ops = make([]Command, 0, n)
		for i := uint32(0); i < n; i++ {
			var op Command
			if op, data, err = readCommand(data); err != nil {
				return Command{}, nil, err
			}
			cmd.Ops = append(cmd.Ops, op)
		}
	case KindMembershipChange:
		if cmd.Membership, data, err = readMembership(data); err != nil {
			return Command{}, nil, err
		}
	default:
		return Command{}, nil, fmt.Errorf("%w: %d", errUnknownCommand, kind)
	}
	return cmd, data, nil
}

func readMembership(data []byte) (*Membership, []byte, error) {
	m := NewMembership(nil)
	n, data, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < n; i++ {
		var id uint64
		if id, data, err = readUint64(data); err != nil {
			return nil, nil, err
		}
		m.Voters.Add(id)
	}
	if n, data, err = readUint32(data); err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < n; i++ {
		var id uint64
		if id, data, err = readUint64(data); err != nil {
			return nil, nil, err
		}
		m.Learners.Add(id)
	}
	if n, data, err = readUint32(data); err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < n; i++ {
		var (
			id   uint64
			addr []byte
		)
		if id, data, err = readUint64(data); err != nil {
			return nil, nil, err
		}
		if addr, data, err = readBytes(data); err != nil {
			return nil, nil, err
		}
		m.Addresses[id] = string(addr)
	}
	return m, data, nil
}

// EncodeEntry renders a log entry as term, index, then the command payload.
func EncodeEntry(e LogEntry) []byte {
	buf := make([]byte, 0, 17+len(e.Command.Key)+len(e.Command.Value))
	buf = binary.BigEndian.AppendUint64(buf, e.Term)
	buf = binary.BigEndian.AppendUint64(buf, e.Index)
	return append(buf, EncodeCommand(e.Command)...)
}

// DecodeEntry parses the byte form produced by EncodeEntry.
func DecodeEntry(data []byte) (LogEntry, error) {
	if len(data) < 16 {
		return LogEntry{}, errTruncatedPayload
	}
	cmd, err := DecodeCommand(data[16:])
	if err != nil {
		return LogEntry{}, err
	}
	return LogEntry{
		Term:    binary.BigEndian.Uint64(data[:8]),
		Index:   binary.BigEndian.Uint64(data[8:16]),
		Command: cmd,
	}, nil
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errTruncatedPayload
	}
	return binary.BigEndian.Uint32(data), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, errTruncatedPayload
	}
	return binary.BigEndian.Uint64(data), data[8:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, data, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(data)) < n {
		return nil, nil, errTruncatedPayload
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}
