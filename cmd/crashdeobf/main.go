// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Command crashdeobf deobfuscates the crash reports of a Minecraft debug
// report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/platformbuilds/crashdeobf/internal/analyzer"
	"github.com/platformbuilds/crashdeobf/internal/config"
	"github.com/platformbuilds/crashdeobf/internal/selftelemetry"
	"github.com/platformbuilds/crashdeobf/internal/telemetry"
	"github.com/platformbuilds/crashdeobf/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("crashdeobf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to config yaml")
	showVersion := fs.Bool("version", false, "print version and exit")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	metricsOut := fs.String("metrics-out", "", "write run metrics in Prometheus text format to this file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: crashdeobf [flags] <from> <to>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsOut != "" {
		cfg.Telemetry.MetricsFile = *metricsOut
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log, stderr)
	logger.Info("crashdeobf starting", "version", version.Version())

	tp, shutdown, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.Tracing, telemetry.Resource(version.Version()))
	if err != nil {
		logger.Error("tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	metrics := selftelemetry.NewMetrics(cfg.Telemetry.NS)
	a, err := analyzer.New(cfg,
		analyzer.WithLogger(logger),
		analyzer.WithMetrics(metrics),
		analyzer.WithTracerProvider(tp),
	)
	if err != nil {
		logger.Error("analyzer", "error", err)
		return 1
	}

	runErr := a.Run(ctx, fs.Arg(0), fs.Arg(1))
	if cfg.Telemetry.MetricsFile != "" {
		if err := metrics.WriteFile(cfg.Telemetry.MetricsFile); err != nil {
			logger.Warn("write metrics", "path", cfg.Telemetry.MetricsFile, "error", err)
		}
	}
	if runErr != nil {
		logger.Error("deobfuscation failed", "error", runErr)
		return 1
	}
	return 0
}

func newLogger(c config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
