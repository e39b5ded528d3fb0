// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package analyzer deobfuscates a Minecraft debug report: it mirrors the
// report tree, rewriting crash reports and copying every other file.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/crashdeobf/internal/classmeta"
	"github.com/platformbuilds/crashdeobf/internal/classpath"
	"github.com/platformbuilds/crashdeobf/internal/config"
	"github.com/platformbuilds/crashdeobf/internal/crashreport"
	"github.com/platformbuilds/crashdeobf/internal/mappings"
	"github.com/platformbuilds/crashdeobf/internal/resolver"
	"github.com/platformbuilds/crashdeobf/internal/selftelemetry"
	"github.com/platformbuilds/crashdeobf/internal/yarn"
)

// ErrNoClasspath is returned when the report has no classpath.txt.
var ErrNoClasspath = errors.New("no " + classpath.FileName)

const tracerName = "github.com/platformbuilds/crashdeobf/internal/analyzer"

// File modes recorded in metrics and spans.
const (
	modeReport = "report"
	modeCopy   = "copy"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithMetrics sets the run metrics.
func WithMetrics(m *selftelemetry.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Analyzer) { a.tracer = tp.Tracer(tracerName) }
}

// Analyzer runs deobfuscation of debug reports.
type Analyzer struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *selftelemetry.Metrics
	tracer  trace.Tracer
}

// New creates an Analyzer. A nil cfg means the defaults.
func New(cfg *config.Config, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	for _, pattern := range cfg.ReportFiles {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("report file pattern %q: %w", pattern, err)
		}
	}
	a := &Analyzer{
		cfg:    cfg,
		log:    slog.Default(),
		tracer: noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = selftelemetry.NewMetrics(cfg.Telemetry.NS)
	}
	a.log = a.log.With("component", "analyzer")
	return a, nil
}

// Metrics returns the run metrics.
func (a *Analyzer) Metrics() *selftelemetry.Metrics { return a.metrics }

// Run deobfuscates the report tree at from into to. Either may be a
// directory or a .zip archive.
func (a *Analyzer) Run(ctx context.Context, from, to string) (err error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "analyze", trace.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
	defer func() {
		endSpan(span, err)
		a.metrics.RunDuration.Set(time.Since(start).Seconds())
		if err == nil {
			a.metrics.RunSuccess.Set(1)
		} else {
			a.metrics.RunSuccess.Set(0)
		}
	}()

	src, closer, err := openTree(from)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer func() { _ = closer.Close() }()

	cp, err := readClasspath(src)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("game.version", cp.Version))

	gameDir := a.cfg.MinecraftDir
	if gameDir == "" {
		gameDir = classpath.DefaultGameDir()
	}
	provider := classpath.Open(cp.Resolve(gameDir), a.log)
	defer func() { _ = provider.Close() }()

	table, err := a.prepare(ctx, provider, cp.Version)
	if err != nil {
		return err
	}

	index := classmeta.NewIndex(provider, a.log)
	rmetrics := resolver.NewMetrics()
	if err := rmetrics.RegisterPrometheus(a.metrics.Registerer(), a.metrics.Namespace()); err != nil {
		a.log.Warn("resolver metrics not registered", "error", err)
	}
	res := resolver.New(table, index,
		resolver.WithLogger(a.log),
		resolver.WithMetrics(rmetrics),
		resolver.WithFrameCacheSize(a.cfg.Resolver.FrameCacheSize),
		resolver.WithMaxDepth(a.cfg.Resolver.MaxHierarchyDepth),
	)
	tr := crashreport.NewTransformer(res, table,
		crashreport.WithPlayerListKeys(a.cfg.PlayerListKeys),
		crashreport.WithLogger(a.log),
	)

	files, err := a.mirror(ctx, src, to, tr)

	parsed, failed := index.Stats()
	a.metrics.ClassesParsed.Set(float64(parsed))
	a.metrics.ClassParseFailures.Set(float64(failed))
	if err != nil {
		return err
	}

	rs := rmetrics.Stats()
	a.log.Info("analysis complete",
		"files", files,
		"frames", rs.Frames,
		"cache_hits", rs.CacheHits,
		"classes_parsed", parsed,
		"duration", fmt.Sprintf("%.3fs", time.Since(start).Seconds()),
	)
	return nil
}

func readClasspath(src fs.FS) (classpath.Classpath, error) {
	b, err := fs.ReadFile(src, classpath.FileName)
	if errors.Is(err, fs.ErrNotExist) {
		return classpath.Classpath{}, ErrNoClasspath
	}
	if err != nil {
		return classpath.Classpath{}, fmt.Errorf("read %s: %w", classpath.FileName, err)
	}
	return classpath.Parse(bytes.NewReader(b))
}

// prepare loads the mappings while the classpath is opened and probed.
// A failed probe only degrades line disambiguation, so it is logged.
func (a *Analyzer) prepare(ctx context.Context, provider *classpath.Provider, gameVersion string) (*mappings.Table, error) {
	var table *mappings.Table
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ctx, span := a.tracer.Start(gctx, "classpath.probe")
		defer span.End()
		if err := provider.Probe(ctx, classpath.ProbeResource); err != nil {
			span.RecordError(err)
			a.log.Warn("classpath probe failed, class metadata may be missing", "error", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		ctx, span := a.tracer.Start(gctx, "mappings.load")
		defer func() { endSpan(span, err) }()
		table, err = a.loadMappings(ctx, gameVersion)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return table, nil
}

func (a *Analyzer) loadMappings(ctx context.Context, gameVersion string) (*mappings.Table, error) {
	start := time.Now()
	rc, err := a.openMappings(ctx, gameVersion)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	table, err := mappings.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	st := table.Stats()
	a.metrics.MappingsLoadSeconds.Set(time.Since(start).Seconds())
	a.metrics.MappingsEntries.WithLabelValues("class").Set(float64(st.Classes))
	a.metrics.MappingsEntries.WithLabelValues("method").Set(float64(st.Methods))
	a.metrics.MappingsEntries.WithLabelValues("field").Set(float64(st.Fields))
	a.log.Info("mappings loaded",
		"namespaces", table.Namespaces(),
		"classes", st.Classes,
		"methods", st.Methods,
		"fields", st.Fields,
		"duration", time.Since(start),
	)
	return table, nil
}

func (a *Analyzer) openMappings(ctx context.Context, gameVersion string) (io.ReadCloser, error) {
	mc := a.cfg.Mappings
	if mc.File != "" {
		f, err := os.Open(mc.File)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", yarn.ErrAcquisition, err)
		}
		return f, nil
	}

	src := yarn.NewSource(yarn.Config{
		MetaURL:      mc.MetaURL,
		MavenURL:     mc.MavenURL,
		CacheDir:     mc.CacheDir,
		LoomCacheDir: mc.LoomCacheDir,
		Timeout:      mc.Timeout(),
		Retry: yarn.RetryConfig{
			Enabled:             !mc.Retry.Disabled,
			InitialInterval:     mc.Retry.InitialInterval(),
			MaxInterval:         mc.Retry.MaxInterval(),
			MaxElapsedTime:      mc.Retry.MaxElapsedTime(),
			MaxAttempts:         mc.Retry.MaxAttempts,
			Multiplier:          mc.Retry.Multiplier,
			RandomizationFactor: mc.Retry.Jitter,
		},
	}, a.log)

	if mc.Version != "" {
		c, err := yarn.ParseCoordinate(mc.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", yarn.ErrAcquisition, err)
		}
		return src.Acquire(ctx, c)
	}
	if gameVersion == "" {
		return nil, fmt.Errorf("%w: game version not found in %s", yarn.ErrAcquisition, classpath.FileName)
	}
	rc, c, err := src.AcquireLatest(ctx, gameVersion)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("mappings.version", c.String()))
	return rc, nil
}

// mirror copies src into to, transforming report files. It returns the
// number of files written.
func (a *Analyzer) mirror(ctx context.Context, src fs.FS, to string, tr *crashreport.Transformer) (int, error) {
	out, err := newSink(to)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}

	files := 0
	err = fs.WalkDir(src, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.mirrorFile(ctx, src, name, out, tr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		files++
		return nil
	})
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return files, err
}

func (a *Analyzer) mirrorFile(ctx context.Context, src fs.FS, name string, out sink, tr *crashreport.Transformer) (err error) {
	mode := modeCopy
	if a.isReport(name) {
		mode = modeReport
	}
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "file."+mode, trace.WithAttributes(attribute.String("file", name)))
	defer func() { endSpan(span, err) }()

	in, err := src.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	w, err := out.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	if mode == modeReport {
		st, err := tr.Transform(ctx, in, w)
		if err != nil {
			return err
		}
		a.metrics.ReportLines.Add(float64(st.Lines))
		a.metrics.ReportFrames.Add(float64(st.Frames))
		a.metrics.ReportDetails.Add(float64(st.Details))
		span.SetAttributes(attribute.Int("report.frames", st.Frames))
		a.log.Info("report deobfuscated", "file", name, "lines", st.Lines, "frames", st.Frames,
			"duration", time.Since(start))
	} else if _, err := io.Copy(w, in); err != nil {
		return err
	}
	a.metrics.ObserveFile(mode, time.Since(start))
	return nil
}

func (a *Analyzer) isReport(name string) bool {
	base := path.Base(name)
	for _, pattern := range a.cfg.ReportFiles {
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
