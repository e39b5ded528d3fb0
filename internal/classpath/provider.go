// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package classpath

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// ErrNotFound is returned by Probe when no entry holds the resource.
var ErrNotFound = errors.New("resource not found on classpath")

// Provider serves resources from classpath entries, searching them in
// order. Jars are opened on first use. It is safe for concurrent use.
type Provider struct {
	log   *slog.Logger
	paths []string

	once    sync.Once
	sources []fs.FS
	closers []*zip.ReadCloser
}

// Open returns a Provider over the given jar files and directories.
func Open(paths []string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{log: log.With("component", "classpath"), paths: paths}
}

func (p *Provider) open() {
	p.once.Do(func() {
		for _, name := range p.paths {
			info, err := os.Stat(name)
			if err != nil {
				p.log.Warn("skipping classpath entry", "path", name, "error", err)
				continue
			}
			if info.IsDir() {
				p.sources = append(p.sources, os.DirFS(name))
				continue
			}
			zr, err := zip.OpenReader(name)
			if err != nil {
				p.log.Warn("skipping classpath entry", "path", name, "error", err)
				continue
			}
			p.closers = append(p.closers, zr)
			p.sources = append(p.sources, zr)
		}
		p.log.Debug("classpath opened", "entries", len(p.paths), "usable", len(p.sources))
	})
}

// Fetch returns the content of resource, e.g. "a/b.class", from the first
// entry containing it.
func (p *Provider) Fetch(resource string) ([]byte, bool) {
	p.open()
	if !fs.ValidPath(resource) {
		return nil, false
	}
	for _, src := range p.sources {
		data, err := fs.ReadFile(src, resource)
		if err == nil {
			return data, true
		}
		if !errors.Is(err, fs.ErrNotExist) {
			p.log.Debug("reading classpath resource", "resource", resource, "error", err)
		}
	}
	return nil, false
}

// Probe opens the classpath and checks that resource can be found.
func (p *Provider) Probe(ctx context.Context, resource string) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.open()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	for _, src := range p.sources {
		if _, err := fs.Stat(src, resource); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", resource, ErrNotFound)
}

// Close releases the opened jars.
func (p *Provider) Close() error {
	p.open()
	var errs []error
	for _, zr := range p.closers {
		errs = append(errs, zr.Close())
	}
	p.closers = nil
	return errors.Join(errs...)
}
