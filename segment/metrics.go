// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package segment

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	activeBytes    prometheus.Gauge
	activeRecords  prometheus.Gauge
	sealedSegments prometheus.Gauge
	sealsTotal     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		activeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_segment_active_bytes",
			Help: "Byte size of the active segment",
		}),
		activeRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_segment_active_records",
			Help: "Record count of the active segment",
		}),
		sealedSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_segment_sealed_held",
			Help: "Sealed segments held locally",
		}),
		sealsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_segment_seals_total",
			Help: "Number of segments sealed",
		}),
	}
	for _, c := range []prometheus.Collector{m.activeBytes, m.activeRecords, m.sealedSegments, m.sealsTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithMetrics registers segment metrics on reg.
func (m *Manager) WithMetrics(reg prometheus.Registerer) error {
	mets, err := newMetrics(reg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.metrics = mets
	m.mu.Unlock()
	return nil
}

func (m *metrics) observeActive(seg *Segment) {
	if m == nil {
		return
	}
	m.activeBytes.Set(float64(seg.ByteSize))
	m.activeRecords.Set(float64(seg.Len()))
}

func (m *metrics) sealed(seg *Segment, held int) {
	if m == nil {
		return
	}
	m.sealsTotal.Inc()
	m.sealedSegments.Set(float64(held))
	m.activeBytes.Set(0)
	m.activeRecords.Set(0)
}

func (m *metrics) dropped(held int) {
	if m == nil {
		return
	}
	m.sealedSegments.Set(float64(held))
}
