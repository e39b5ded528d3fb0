// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the crashdeobf YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/crashdeobf/internal/yarn"
)

// Config is the root configuration. Every field is optional.
type Config struct {
	// MinecraftDir is the game directory classpath entries are resolved
	// against. Defaults to ~/.minecraft.
	MinecraftDir string `yaml:"minecraft_dir"`

	// ReportFiles are glob patterns matched against base names; matching
	// files are deobfuscated, all others are copied.
	ReportFiles []string `yaml:"report_files"`

	// PlayerListKeys are the report detail keys holding player lists.
	PlayerListKeys []string `yaml:"player_list_keys"`

	Mappings  Mappings  `yaml:"mappings"`
	Resolver  Resolver  `yaml:"resolver"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Mappings configures where renaming tables come from.
type Mappings struct {
	MetaURL      string `yaml:"meta_url"`
	MavenURL     string `yaml:"maven_url"`
	CacheDir     string `yaml:"cache_dir"`
	LoomCacheDir string `yaml:"loom_cache_dir"`
	TimeoutStr   string `yaml:"timeout"`

	// File is a local tiny file used instead of downloading.
	File string `yaml:"file"`
	// Version pins a maven coordinate instead of asking for the latest.
	Version string `yaml:"version"`

	Retry Retry `yaml:"retry"`
}

// Timeout parses TimeoutStr; invalid values were rejected by Validate.
func (m Mappings) Timeout() time.Duration { d, _ := time.ParseDuration(m.TimeoutStr); return d }

// Retry configures download retries.
type Retry struct {
	Disabled    bool    `yaml:"disabled"`
	Initial     string  `yaml:"initial"`
	Max         string  `yaml:"max"`
	MaxElapsed  string  `yaml:"max_elapsed"`
	MaxAttempts int     `yaml:"max_attempts"`
	Multiplier  float64 `yaml:"multiplier"`
	Jitter      float64 `yaml:"jitter"`
}

// InitialInterval parses Initial.
func (r Retry) InitialInterval() time.Duration { d, _ := time.ParseDuration(r.Initial); return d }

// MaxInterval parses Max.
func (r Retry) MaxInterval() time.Duration { d, _ := time.ParseDuration(r.Max); return d }

// MaxElapsedTime parses MaxElapsed.
func (r Retry) MaxElapsedTime() time.Duration { d, _ := time.ParseDuration(r.MaxElapsed); return d }

// Resolver tunes frame resolution.
type Resolver struct {
	// FrameCacheSize bounds the resolved frame cache; negative disables it.
	FrameCacheSize    int `yaml:"frame_cache_size"`
	MaxHierarchyDepth int `yaml:"max_hierarchy_depth"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Telemetry configures metrics and tracing of a run.
type Telemetry struct {
	// MetricsFile receives the metrics in Prometheus text format at exit.
	MetricsFile string  `yaml:"metrics_file"`
	NS          string  `yaml:"prometheus_namespace"`
	Tracing     Tracing `yaml:"tracing"`
}

// Tracing configures the OTLP span exporter.
type Tracing struct {
	Enabled  bool              `yaml:"enabled"`
	Protocol string            `yaml:"protocol"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	TLS      TLS               `yaml:"tls"`
}

// TLS configures client certificates for the exporter.
type TLS struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path and applies defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if len(c.ReportFiles) == 0 {
		c.ReportFiles = []string{"example_crash.txt"}
	}
	if len(c.PlayerListKeys) == 0 {
		c.PlayerListKeys = []string{"All players", "Player Count"}
	}
	if c.Mappings.TimeoutStr == "" {
		c.Mappings.TimeoutStr = "2m"
	}
	r, def := &c.Mappings.Retry, yarn.DefaultRetryConfig()
	if r.Initial == "" {
		r.Initial = def.InitialInterval.String()
	}
	if r.Max == "" {
		r.Max = def.MaxInterval.String()
	}
	if r.MaxElapsed == "" {
		r.MaxElapsed = def.MaxElapsedTime.String()
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Multiplier
	}
	if r.Jitter == 0 {
		r.Jitter = def.RandomizationFactor
	}
	if c.Resolver.FrameCacheSize == 0 {
		c.Resolver.FrameCacheSize = 4096
	}
	if c.Resolver.MaxHierarchyDepth == 0 {
		c.Resolver.MaxHierarchyDepth = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Telemetry.NS == "" {
		c.Telemetry.NS = "crashdeobf"
	}
	if c.Telemetry.Tracing.Protocol == "" {
		c.Telemetry.Tracing.Protocol = "grpc"
	}
}

// Validate checks durations and enumerations.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"mappings.timeout":           c.Mappings.TimeoutStr,
		"mappings.retry.initial":     c.Mappings.Retry.Initial,
		"mappings.retry.max":         c.Mappings.Retry.Max,
		"mappings.retry.max_elapsed": c.Mappings.Retry.MaxElapsed,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Telemetry.Tracing.Protocol {
	case "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.tracing.protocol: unknown protocol %q", c.Telemetry.Tracing.Protocol))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint: required when tracing is enabled"))
	}
	if c.Resolver.MaxHierarchyDepth < 0 {
		errs = append(errs, errors.New("resolver.max_hierarchy_depth: must not be negative"))
	}
	return errors.Join(errs...)
}
