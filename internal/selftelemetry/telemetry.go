// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package selftelemetry collects the metrics of a deobfuscation run and
// writes them out in the Prometheus text format.
package selftelemetry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the run metrics. Collectors are registered on a private
// registry so several runs can coexist in one process.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	// Run lifecycle
	RunSuccess  prometheus.Gauge
	RunDuration prometheus.Gauge

	// Mapping acquisition
	MappingsLoadSeconds prometheus.Gauge
	MappingsEntries     *prometheus.GaugeVec

	// Class metadata
	ClassesParsed      prometheus.Gauge
	ClassParseFailures prometheus.Gauge

	// Report tree
	FilesProcessed *prometheus.CounterVec
	ReportLines    prometheus.Counter
	ReportFrames   prometheus.Counter
	ReportDetails  prometheus.Counter
	FileDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crashdeobf"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{namespace: namespace, registry: reg}

	m.RunSuccess = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_success",
		Help:      "Whether the last run completed (1 = success)",
	})
	m.RunDuration = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the run",
	})

	m.MappingsLoadSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mappings_load_duration_seconds",
		Help:      "Time spent acquiring and parsing the renaming table",
	})
	m.MappingsEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mappings_entries",
		Help:      "Entries in the loaded renaming table",
	}, []string{"kind"})

	m.ClassesParsed = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "classes_parsed",
		Help:      "Class files parsed for metadata",
	})
	m.ClassParseFailures = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "class_parse_failures",
		Help:      "Class files that could not be parsed",
	})

	m.FilesProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_processed_total",
		Help:      "Files written to the output tree, by how they were handled",
	}, []string{"mode"})
	m.ReportLines = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "report_lines_total",
		Help:      "Report lines rewritten",
	})
	m.ReportFrames = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "report_frames_total",
		Help:      "Stack frames deobfuscated",
	})
	m.ReportDetails = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "report_details_total",
		Help:      "Report detail lines seen",
	})
	m.FileDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "file_duration_seconds",
		Help:      "Time spent per output file",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"mode"})

	return m
}

// Namespace returns the metric namespace.
func (m *Metrics) Namespace() string { return m.namespace }

// Registerer lets other components add their collectors to the run.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

// Gatherer exposes the collected metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ObserveFile records one file written in the given mode.
func (m *Metrics) ObserveFile(mode string, d time.Duration) {
	m.FilesProcessed.WithLabelValues(mode).Inc()
	m.FileDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// WriteText writes every metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile replaces path with the text format dump, in the manner of a
// node exporter textfile.
func (m *Metrics) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
