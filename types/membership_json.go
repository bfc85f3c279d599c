// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "encoding/json"

var (
	_ json.Marshaler   = (*Membership)(nil)
	_ json.Unmarshaler = (*Membership)(nil)
)

type membershipJSON struct {
	Voters    []uint64          `json:"voters"`
	Learners  []uint64          `json:"learners"`
	Addresses map[uint64]string `json:"addresses"`
}

// MarshalJSON renders the membership with sorted id slices so the encoding
// is stable across nodes.
func (m *Membership) MarshalJSON() ([]byte, error) {
	return json.Marshal(membershipJSON{
		Voters:    m.VoterIDs(),
		Learners:  m.LearnerIDs(),
		Addresses: m.Addresses,
	})
}

// UnmarshalJSON parses the form written by MarshalJSON.
func (m *Membership) UnmarshalJSON(data []byte) error {
	var raw membershipJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = *NewMembership(nil)
	for _, id := range raw.Voters {
		m.Voters.Add(id)
	}
	for _, id := range raw.Learners {
		m.Learners.Add(id)
	}
	for id, addr := range raw.Addresses {
		m.Addresses[id] = addr
	}
	return nil
}
