// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package errs

import (
	"errors"
	"fmt"
)

// NotLeaderError rejects a write issued against a follower and carries the
// redirect hint. LeaderID is zero when no leader is currently known.
type NotLeaderError struct {
	LeaderID uint64
	Address  string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == 0 {
		return "consensus.not_leader: no known leader"
	}
	return fmt.Sprintf("consensus.not_leader: leader is node %d at %s", e.LeaderID, e.Address)
}

// Is lets errors.Is treat every NotLeaderError (and kind NotLeader) alike.
func (e *NotLeaderError) Is(target error) bool {
	var nl *NotLeaderError
	if errors.As(target, &nl) {
		return true
	}
	var te *Error
	return errors.As(target, &te) && te.Kind == NotLeader
}

// AsNotLeader extracts a NotLeaderError from err if present.
func AsNotLeader(err error) (*NotLeaderError, bool) {
	var nl *NotLeaderError
	ok := errors.As(err, &nl)
	return nl, ok
}
