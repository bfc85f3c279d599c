// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_cache_hits",
			Help: "Number of hot cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_cache_misses",
			Help: "Number of hot cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_cache_evictions",
			Help: "Number of LRU evictions",
		}),
	}
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithMetrics registers cache metrics on reg. Callers that do not need
// observability skip this and the counters stay nil.
func (c *Cache) WithMetrics(reg prometheus.Registerer) error {
	m, err := newMetrics(reg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	return nil
}

func (m *metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *metrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}
