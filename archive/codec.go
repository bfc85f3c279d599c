// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package archive moves sealed segments into the object store and serves
// read-through lookups against archived data.
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/segment"
)

// bodyVersion leads every serialized segment body.
const bodyVersion byte = 0

const tombstoneFlag byte = 1

// serializeSegment renders records as length-prefixed key/value pairs in
// key order. Tombstones are dropped when compact is set.
func serializeSegment(records []segment.Record, compact bool) []byte {
	kept := records
	if compact {
		kept = kept[:0:0]
		for _, rec := range records {
			if !rec.Tombstone {
				kept = append(kept, rec)
			}
		}
	}

	size := 5
	for _, rec := range kept {
		size += 9 + len(rec.Key) + len(rec.Value)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, bodyVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(kept)))
	for _, rec := range kept {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Key)))
		buf = append(buf, rec.Key...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Value)))
		buf = append(buf, rec.Value...)
		var flags byte
		if rec.Tombstone {
			flags |= tombstoneFlag
		}
		buf = append(buf, flags)
	}
	return buf
}

// deserializeSegment parses the body produced by serializeSegment.
func deserializeSegment(data []byte) ([]segment.Record, error) {
	if len(data) < 5 {
		return nil, errs.New(errs.ArchivalDecode, "segment body truncated")
	}
	if data[0] != bodyVersion {
		return nil, errs.Newf(errs.ArchivalDecode, "unsupported segment body version %d", data[0])
	}
	count := binary.BigEndian.Uint32(data[1:5])
	data = data[5:]

	records := make([]segment.Record, 0, count)
	for i := uint32(0); i < count; i++ {
		key, rest, err := readChunk(data)
		if err != nil {
			return nil, err
		}
		value, rest, err := readChunk(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, errs.New(errs.ArchivalDecode, "segment body truncated")
		}
		tombstone := rest[0]&tombstoneFlag != 0
		if tombstone {
			value = nil
		}
		records = append(records, segment.Record{
			Key:       key,
			Value:     value,
			Tombstone: tombstone,
		})
		data = rest[1:]
	}
	if len(data) != 0 {
		return nil, errs.Newf(errs.ArchivalDecode, "%d trailing bytes in segment body", len(data))
	}
	return records, nil
}

func readChunk(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.ArchivalDecode, "segment body truncated")
	}
	n := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, errs.New(errs.ArchivalDecode, "segment body truncated")
	}
	chunk := make([]byte, n)
	copy(chunk, data[:n])
	return chunk, data[n:], nil
}

// compress gzips body at the configured level. Level zero stores the body
// uncompressed inside a gzip wrapper so downloads decode uniformly.
func compress(body []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	gz, err := gzip.NewWriterLevel(&out, gzipLevel(level))
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := gz.Write(body); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return out.Bytes(), nil
}

func gzipLevel(level int) int {
	if level <= 0 {
		return gzip.NoCompression
	}
	if level > gzip.BestCompression {
		return gzip.BestCompression
	}
	return level
}

// decompress reverses compress.
func decompress(body []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.ArchivalDecode, err, "gzip header")
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, errs.Wrap(errs.ArchivalDecode, err, "gzip body")
	}
	return out, nil
}
