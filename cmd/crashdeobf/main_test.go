// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/platformbuilds/crashdeobf/internal/config"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run(-version) = %d, stderr: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "crashdeobf ") {
		t.Errorf("unexpected version output %q", stdout.String())
	}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"one arg", []string{"in"}, 2},
		{"bad flag", []string{"-nope", "in", "out"}, 2},
		{"help", []string{"-h"}, 0},
		{"bad level", []string{"-log-level", "loud", "in", "out"}, 1},
		{"missing config", []string{"-config", filepath.Join(os.TempDir(), "absent-crashdeobf.yaml"), "in", "out"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("run(%v) = %d, want %d; stderr: %s", tt.args, code, tt.code, stderr.String())
			}
		})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	tiny := filepath.Join(dir, "mappings.tiny")
	write(t, tiny, "v1\tofficial\tnamed\nCLASS\ta\tnet/minecraft/server/MinecraftServer\nMETHOD\ta\t()V\tb\ttick\n")
	cfgFile := filepath.Join(dir, "config.yaml")
	write(t, cfgFile, "minecraft_dir: "+filepath.Join(dir, "minecraft")+"\nmappings:\n  file: "+tiny+"\n")

	from := filepath.Join(dir, "report")
	write(t, filepath.Join(from, "classpath.txt"), "/x/.minecraft/versions/1.14.4/1.14.4.jar\n")
	write(t, filepath.Join(from, "example_crash.txt"), "\tat a.b(SourceFile:3)\n")
	to := filepath.Join(dir, "out")
	metricsFile := filepath.Join(dir, "metrics.prom")

	var stdout, stderr bytes.Buffer
	args := []string{"-config", cfgFile, "-log-level", "debug", "-metrics-out", metricsFile, from, to}
	if code := run(context.Background(), args, &stdout, &stderr); code != 0 {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}

	got, err := os.ReadFile(filepath.Join(to, "example_crash.txt"))
	if err != nil {
		t.Fatal(err)
	}
	// No game jar, so the method descriptor is unknown and the name stays.
	if want := "\tat net.minecraft.server.MinecraftServer.b(MinecraftServer.java:3)\n"; string(got) != want {
		t.Errorf("report = %q, want %q", got, want)
	}
	m, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(m), "crashdeobf_run_success 1") {
		t.Errorf("metrics file lacks run_success:\n%s", m)
	}
}

func TestRun_FailureWritesMetrics(t *testing.T) {
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "metrics.prom")

	var stdout, stderr bytes.Buffer
	args := []string{"-metrics-out", metricsFile, t.TempDir(), filepath.Join(dir, "out")}
	if code := run(context.Background(), args, &stdout, &stderr); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "no classpath.txt") {
		t.Errorf("stderr lacks cause: %s", stderr.String())
	}
	if _, err := os.Stat(metricsFile); err != nil {
		t.Errorf("metrics not written: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("unexpected log output %q", buf.String())
	}
	if !log.Enabled(context.Background(), slog.LevelWarn) {
		t.Errorf("warn level should be enabled")
	}
}

func write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
