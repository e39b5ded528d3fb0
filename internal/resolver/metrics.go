// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// How a method name was found.
const (
	MatchExact     = "exact"
	MatchHierarchy = "hierarchy"
)

// Metrics tracks frame resolution outcomes
type Metrics struct {
	frames          atomic.Uint64
	classUnresolved atomic.Uint64

	methodExact      atomic.Uint64
	methodHierarchy  atomic.Uint64
	methodUnresolved atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	resolutionTime atomic.Int64 // nanoseconds

	// Prometheus metrics (optional)
	promResolved   *prometheus.CounterVec
	promCache      *prometheus.CounterVec
	promLatency    prometheus.Histogram
	promCacheSize  prometheus.Gauge
	promRegistered bool
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RegisterPrometheus registers the collectors with reg
func (m *Metrics) RegisterPrometheus(reg prometheus.Registerer, namespace string) error {
	if m.promRegistered {
		return nil
	}

	resolved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_symbols_total",
			Help:      "Class and method names looked up, by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	cache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_frame_cache_total",
			Help:      "Frame cache hit/miss counters",
		},
		[]string{"result"},
	)

	latency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_frame_duration_seconds",
			Help:      "Time spent resolving uncached frames",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	cacheSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolver_frame_cache_size",
			Help:      "Current size of the frame cache",
		},
	)

	collectors := []prometheus.Collector{resolved, cache, latency, cacheSize}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			// Leave reg as it was so a later call can retry.
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}
			return err
		}
	}

	m.promResolved = resolved
	m.promCache = cache
	m.promLatency = latency
	m.promCacheSize = cacheSize
	m.promRegistered = true
	return nil
}

// RecordFrame records a frame passed to the resolver
func (m *Metrics) RecordFrame() {
	m.frames.Add(1)
}

// RecordClassUnresolved records a frame whose class has no mapping
func (m *Metrics) RecordClassUnresolved() {
	m.classUnresolved.Add(1)
	if m.promResolved != nil {
		m.promResolved.WithLabelValues("class", "unresolved").Inc()
	}
}

// RecordMethod records a method name found through match
func (m *Metrics) RecordMethod(match string) {
	switch match {
	case MatchExact:
		m.methodExact.Add(1)
	case MatchHierarchy:
		m.methodHierarchy.Add(1)
	}
	if m.promResolved != nil {
		m.promResolved.WithLabelValues("method", match).Inc()
	}
}

// RecordMethodUnresolved records a method left obfuscated
func (m *Metrics) RecordMethodUnresolved() {
	m.methodUnresolved.Add(1)
	if m.promResolved != nil {
		m.promResolved.WithLabelValues("method", "unresolved").Inc()
	}
}

// RecordCacheHit records a frame cache hit
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
	if m.promCache != nil {
		m.promCache.WithLabelValues("hit").Inc()
	}
}

// RecordCacheMiss records a frame cache miss
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
	if m.promCache != nil {
		m.promCache.WithLabelValues("miss").Inc()
	}
}

// RecordResolutionTime records time spent resolving a frame
func (m *Metrics) RecordResolutionTime(d time.Duration) {
	m.resolutionTime.Add(d.Nanoseconds())
	if m.promLatency != nil {
		m.promLatency.Observe(d.Seconds())
	}
}

// UpdateCacheSize updates the cache size gauge
func (m *Metrics) UpdateCacheSize(size int) {
	if m.promCacheSize != nil {
		m.promCacheSize.Set(float64(size))
	}
}

// Stats returns current metrics statistics
func (m *Metrics) Stats() Stats {
	return Stats{
		Frames:           m.frames.Load(),
		ClassUnresolved:  m.classUnresolved.Load(),
		MethodExact:      m.methodExact.Load(),
		MethodHierarchy:  m.methodHierarchy.Load(),
		MethodUnresolved: m.methodUnresolved.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		AvgTimeNs:        m.avgResolutionTime(),
	}
}

func (m *Metrics) avgResolutionTime() int64 {
	misses := m.cacheMisses.Load()
	if misses == 0 {
		return 0
	}
	return m.resolutionTime.Load() / int64(misses)
}

// Stats holds frame resolution statistics
type Stats struct {
	Frames           uint64
	ClassUnresolved  uint64
	MethodExact      uint64
	MethodHierarchy  uint64
	MethodUnresolved uint64
	CacheHits        uint64
	CacheMisses      uint64
	AvgTimeNs        int64
}
