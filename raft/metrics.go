// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package raft

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	term          prometheus.Gauge
	state         prometheus.Gauge
	commitIndex   prometheus.Gauge
	appliedIndex  prometheus.Gauge
	snapshotIndex prometheus.Gauge
	elections     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_raft_term",
			Help: "Current term",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_raft_state",
			Help: "Consensus role (0 follower, 1 candidate, 2 leader, 3 learner)",
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_raft_commit_index",
			Help: "Highest committed log index",
		}),
		appliedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_raft_applied_index",
			Help: "Highest applied log index",
		}),
		snapshotIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_raft_snapshot_index",
			Help: "Last included index of the newest snapshot",
		}),
		elections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_raft_elections_total",
			Help: "Number of elections started",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.term, m.state, m.commitIndex, m.appliedIndex, m.snapshotIndex, m.elections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithMetrics registers consensus metrics on reg.
func (n *Node) WithMetrics(reg prometheus.Registerer) error {
	m, err := newMetrics(reg)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.metrics = m
	m.observeState(n.state, n.currentTerm)
	n.mu.Unlock()
	return nil
}

func (m *metrics) observeState(state State, term uint64) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
	m.term.Set(float64(term))
}

func (m *metrics) observeCommit(index uint64) {
	if m != nil {
		m.commitIndex.Set(float64(index))
	}
}

func (m *metrics) observeApplied(index uint64) {
	if m != nil {
		m.appliedIndex.Set(float64(index))
	}
}

func (m *metrics) observeSnapshot(index uint64) {
	if m != nil {
		m.snapshotIndex.Set(float64(index))
	}
}

func (m *metrics) electionStarted() {
	if m != nil {
		m.elections.Inc()
	}
}
