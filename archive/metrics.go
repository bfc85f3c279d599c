// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	archivedTotal    prometheus.Counter
	archiveErrors    prometheus.Counter
	uploadedBytes    prometheus.Counter
	readThroughHits  prometheus.Counter
	readThroughMiss  prometheus.Counter
	catalogSegments  prometheus.Gauge
	compressionRatio prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		archivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_archive_segments_total",
			Help: "Number of segments archived",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_archive_errors_total",
			Help: "Number of failed archival attempts",
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_archive_uploaded_bytes",
			Help: "Compressed bytes uploaded to the object store",
		}),
		readThroughHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_archive_read_through_hits",
			Help: "Read-through lookups served from the segment cache",
		}),
		readThroughMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_archive_read_through_misses",
			Help: "Read-through lookups that downloaded the segment",
		}),
		catalogSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_archive_catalog_segments",
			Help: "Segments present in the archival catalog",
		}),
		compressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_archive_compression_ratio",
			Help:    "Compressed over original size per archived segment",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	for _, c := range []prometheus.Collector{
		m.archivedTotal, m.archiveErrors, m.uploadedBytes,
		m.readThroughHits, m.readThroughMiss, m.catalogSegments,
		m.compressionRatio,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithMetrics registers archival metrics on reg.
func (m *Manager) WithMetrics(reg prometheus.Registerer) error {
	mets, err := newMetrics(reg)
	if err != nil {
		return err
	}
	m.metrics = mets
	return nil
}

func (m *metrics) archived(meta Metadata) {
	if m == nil {
		return
	}
	m.archivedTotal.Inc()
	m.uploadedBytes.Add(float64(meta.CompressedSize))
	if meta.OriginalSize > 0 {
		m.compressionRatio.Observe(float64(meta.CompressedSize) / float64(meta.OriginalSize))
	}
}

func (m *metrics) archiveError() {
	if m != nil {
		m.archiveErrors.Inc()
	}
}

func (m *metrics) readThrough(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.readThroughHits.Inc()
	} else {
		m.readThroughMiss.Inc()
	}
}

func (m *metrics) catalogSize(n int) {
	if m != nil {
		m.catalogSegments.Set(float64(n))
	}
}
