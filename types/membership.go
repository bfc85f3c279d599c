// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
)

// Membership is the cluster's voting configuration. Voters contribute to
// election and commit quorums; learners replicate without voting.
type Membership struct {
	Voters    mapset.Set[uint64]
	Learners  mapset.Set[uint64]
	Addresses map[uint64]string
}

// NewMembership returns a membership over the given voter addresses.
func NewMembership(voters map[uint64]string) *Membership {
	m := &Membership{
		Voters:    mapset.NewSet[uint64](),
		Learners:  mapset.NewSet[uint64](),
		Addresses: make(map[uint64]string, len(voters)),
	}
	for id, addr := range voters {
		m.Voters.Add(id)
		m.Addresses[id] = addr
	}
	return m
}

// Clone returns a deep copy.
func (m *Membership) Clone() *Membership {
	addrs := make(map[uint64]string, len(m.Addresses))
	for id, addr := range m.Addresses {
		addrs[id] = addr
	}
	return &Membership{
		Voters:    m.Voters.Clone(),
		Learners:  m.Learners.Clone(),
		Addresses: addrs,
	}
}

// IsVoter reports whether id votes.
func (m *Membership) IsVoter(id uint64) bool {
	return m.Voters.Contains(id)
}

// IsLearner reports whether id replicates without voting.
func (m *Membership) IsLearner(id uint64) bool {
	return m.Learners.Contains(id)
}

// IsMember reports whether id is a voter or learner.
func (m *Membership) IsMember(id uint64) bool {
	return m.IsVoter(id) || m.IsLearner(id)
}

// Quorum is the strict majority of the voter set.
func (m *Membership) Quorum() int {
	return m.Voters.Cardinality()/2 + 1
}

// VoterIDs returns the voter ids in ascending order.
func (m *Membership) VoterIDs() []uint64 {
	ids := m.Voters.ToSlice()
	slices.Sort(ids)
	return ids
}

// LearnerIDs returns the learner ids in ascending order.
func (m *Membership) LearnerIDs() []uint64 {
	ids := m.Learners.ToSlice()
	slices.Sort(ids)
	return ids
}

// MemberIDs returns every member id in ascending order.
func (m *Membership) MemberIDs() []uint64 {
	ids := append(m.VoterIDs(), m.LearnerIDs()...)
	slices.Sort(ids)
	return ids
}

// AddLearner returns a copy of the membership with id added as a learner.
func (m *Membership) AddLearner(id uint64, addr string) *Membership {
	next := m.Clone()
	next.Learners.Add(id)
	next.Addresses[id] = addr
	return next
}

// PromoteLearner returns a copy with id moved from learner to voter.
func (m *Membership) PromoteLearner(id uint64) *Membership {
	next := m.Clone()
	next.Learners.Remove(id)
	next.Voters.Add(id)
	return next
}

// RemoveNode returns a copy with id removed entirely.
func (m *Membership) RemoveNode(id uint64) *Membership {
	next := m.Clone()
	next.Voters.Remove(id)
	next.Learners.Remove(id)
	delete(next.Addresses, id)
	return next
}
