// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs defines the error taxonomy shared by every subsystem.
// Transport boundaries map their library-specific failures into a Kind so
// callers branch on stable kinds while the wrapped cause keeps the detail
// for logs.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the node-wide taxonomy.
type Kind uint8

const (
	Internal Kind = iota
	Config
	StorageIO
	StorageCorruption
	StorageFull
	NetworkConnect
	NetworkTimeout
	NetworkReset
	NotLeader
	ConsensusBusy
	ConsensusRejected
	TermStale
	ArchivalUpload
	ArchivalDownload
	ArchivalDecode
	Unauthorized
	Forbidden
	RateLimited
	NotFound
	InvalidRequest
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case StorageIO:
		return "storage.io"
	case StorageCorruption:
		return "storage.corruption"
	case StorageFull:
		return "storage.full"
	case NetworkConnect:
		return "network.connect"
	case NetworkTimeout:
		return "network.timeout"
	case NetworkReset:
		return "network.reset"
	case NotLeader:
		return "consensus.not_leader"
	case ConsensusBusy:
		return "consensus.busy"
	case ConsensusRejected:
		return "consensus.rejected"
	case TermStale:
		return "consensus.term_stale"
	case ArchivalUpload:
		return "archival.upload"
	case ArchivalDownload:
		return "archival.download"
	case ArchivalDecode:
		return "archival.decode"
	case Unauthorized:
		return "auth.unauthorized"
	case Forbidden:
		return "auth.forbidden"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "internal"
	}
}

// Error carries a taxonomy kind, a human message and an optional wrapped
// cause. The message is user-visible; the cause goes only to logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so callers can use
// errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New returns a taxonomy error with the given kind and message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to Internal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
