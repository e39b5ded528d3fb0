// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package yarn acquires Fabric yarn mappings: it finds the latest release
// for a game version and fetches its tiny file from a local cache or the
// Fabric maven.
package yarn

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAcquisition wraps every failure to obtain mappings.
var ErrAcquisition = errors.New("mappings acquisition failed")

// Default endpoints.
const (
	DefaultMetaURL  = "https://meta.fabricmc.net"
	DefaultMavenURL = "https://maven.fabricmc.net"
)

// Config configures a Source.
type Config struct {
	MetaURL  string
	MavenURL string

	// CacheDir keeps downloaded tiny files, one per version. Empty means
	// "fabric-yarn-cache" in the OS temp directory.
	CacheDir string

	// LoomCacheDir is searched for tiny files extracted by Fabric Loom.
	// Empty means ~/.gradle/caches/fabric-loom/mappings.
	LoomCacheDir string

	Timeout time.Duration
	Retry   RetryConfig
}

// DefaultLoomCacheDir returns Fabric Loom's mappings cache directory.
func DefaultLoomCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gradle", "caches", "fabric-loom", "mappings")
}

// Source acquires mappings files.
type Source struct {
	cfg     Config
	client  *http.Client
	retryer *Retryer
	log     *slog.Logger
}

// NewSource creates a Source, filling in defaults for empty settings.
func NewSource(cfg Config, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MetaURL == "" {
		cfg.MetaURL = DefaultMetaURL
	}
	if cfg.MavenURL == "" {
		cfg.MavenURL = DefaultMavenURL
	}
	cfg.MetaURL = strings.TrimRight(cfg.MetaURL, "/")
	cfg.MavenURL = strings.TrimRight(cfg.MavenURL, "/")
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "fabric-yarn-cache")
	}
	if cfg.LoomCacheDir == "" {
		cfg.LoomCacheDir = DefaultLoomCacheDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	log = log.With("component", "mappings_source")
	return &Source{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		retryer: NewRetryer(cfg.Retry, log),
		log:     log,
	}
}

type yarnVersion struct {
	GameVersion string `json:"gameVersion"`
	Version     string `json:"version"`
	Maven       string `json:"maven"`
	Stable      bool   `json:"stable"`
}

// LatestVersion asks the Fabric meta service for the newest mappings
// release of gameVersion.
func (s *Source) LatestVersion(ctx context.Context, gameVersion string) (Coordinate, error) {
	s.log.Info("querying latest mappings", "game_version", gameVersion)
	endpoint := s.cfg.MetaURL + "/v2/versions/yarn/" + url.PathEscape(gameVersion)

	versions, err := DoWithResult(s.retryer, ctx, func(ctx context.Context, _ int) ([]yarnVersion, error) {
		body, err := s.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		defer func() { _ = body.Close() }()

		var versions []yarnVersion
		if err := json.NewDecoder(body).Decode(&versions); err != nil {
			return nil, NewRetryableError(fmt.Errorf("decode %s: %w", endpoint, err), false)
		}
		return versions, nil
	})
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: latest version of %s: %v", ErrAcquisition, gameVersion, err)
	}
	if len(versions) == 0 {
		return Coordinate{}, fmt.Errorf("%w: no mappings published for %s", ErrAcquisition, gameVersion)
	}

	c, err := ParseCoordinate(versions[0].Maven)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}
	return c, nil
}

// Acquire returns the uncompressed tiny file of c, trying the Loom cache,
// then the download cache, then the maven.
func (s *Source) Acquire(ctx context.Context, c Coordinate) (io.ReadCloser, error) {
	log := s.log.With("mappings", c.String())

	if s.cfg.LoomCacheDir != "" {
		if f, err := os.Open(filepath.Join(s.cfg.LoomCacheDir, c.LoomCacheName())); err == nil {
			log.Info("loading mappings from fabric-loom cache")
			return f, nil
		}
	}

	cached := s.CachePath(c)
	if f, err := os.Open(cached); err == nil {
		log.Info("loading mappings from cache", "path", cached)
		return f, nil
	}

	if err := s.download(ctx, c, cached); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAcquisition, c, err)
	}
	log.Info("cached mappings", "path", cached)

	f, err := os.Open(cached)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}
	return f, nil
}

// AcquireLatest combines LatestVersion and Acquire.
func (s *Source) AcquireLatest(ctx context.Context, gameVersion string) (io.ReadCloser, Coordinate, error) {
	c, err := s.LatestVersion(ctx, gameVersion)
	if err != nil {
		return nil, Coordinate{}, err
	}
	rc, err := s.Acquire(ctx, c)
	if err != nil {
		return nil, c, err
	}
	return rc, c, nil
}

// CachePath is where the download cache keeps the tiny file of c.
func (s *Source) CachePath(c Coordinate) string {
	return filepath.Join(s.cfg.CacheDir, c.LoomCacheName()+".tiny")
}

// download fetches and gunzips c into path. The file only appears once it
// is complete.
func (s *Source) download(ctx context.Context, c Coordinate, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	endpoint := s.cfg.MavenURL + "/" + c.MavenPath()
	s.log.Info("downloading mappings", "url", endpoint)

	return s.retryer.Do(ctx, func(ctx context.Context, _ int) error {
		body, err := s.get(ctx, endpoint)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()

		zr, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer func() { _ = zr.Close() }()

		tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
		if err != nil {
			return NewRetryableError(fmt.Errorf("create temp file: %w", err), false)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()

		if _, err := io.Copy(tmp, zr); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write %s: %w", tmp.Name(), err)
		}
		if err := tmp.Close(); err != nil {
			return NewRetryableError(err, false)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return NewRetryableError(fmt.Errorf("store mappings: %w", err), false)
		}
		return nil
	})
}

// get issues a GET request and classifies failures for the retryer.
func (s *Source) get(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("failed to create request: %w", err), false)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	statusErr := fmt.Errorf("GET %s: %s", endpoint, resp.Status)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		re := NewRetryableError(statusErr, true)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			re.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, re
	default:
		return nil, NewRetryableError(statusErr, false)
	}
}
