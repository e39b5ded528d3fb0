// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package classmeta

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrResourceUnavailable is returned by Lookup when the byte provider has no
// class file for the requested class.
var ErrResourceUnavailable = errors.New("class resource unavailable")

// ByteProvider supplies raw class files by resource path, e.g.
// "net/minecraft/a.class".
type ByteProvider interface {
	Fetch(path string) ([]byte, bool)
}

// ByteProviderFunc adapts a function to ByteProvider.
type ByteProviderFunc func(path string) ([]byte, bool)

// Fetch calls f(path).
func (f ByteProviderFunc) Fetch(path string) ([]byte, bool) { return f(path) }

// entry is a cached lookup outcome. Exactly one of meta and err is set.
type entry struct {
	meta *ClassMetadata
	err  error
}

// Index lazily parses and caches class metadata. Outcomes are never
// invalidated, including failures. It is safe for concurrent use.
type Index struct {
	log      *slog.Logger
	provider ByteProvider

	cache sync.Map // internal name -> *entry
	sf    singleflight.Group

	parsed atomic.Int64
	failed atomic.Int64
}

// NewIndex returns an Index that fetches class files from provider.
func NewIndex(provider ByteProvider, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		log:      log.With("component", "class_index"),
		provider: provider,
	}
}

// Lookup returns the metadata of the named class. Dotted names are accepted.
// Missing class files yield ErrResourceUnavailable and unparsable ones a
// *FormatError; both are remembered so the class is never fetched again.
func (x *Index) Lookup(name string) (*ClassMetadata, error) {
	name = strings.ReplaceAll(name, ".", "/")
	if v, ok := x.cache.Load(name); ok {
		e := v.(*entry)
		return e.meta, e.err
	}

	v, _, _ := x.sf.Do(name, func() (any, error) {
		if v, ok := x.cache.Load(name); ok {
			return v, nil
		}
		e := x.load(name)
		x.cache.Store(name, e)
		return e, nil
	})
	e := v.(*entry)
	return e.meta, e.err
}

func (x *Index) load(name string) *entry {
	data, ok := x.provider.Fetch(name + ".class")
	if !ok {
		x.log.Debug("class file not found", "class", name)
		return &entry{err: fmt.Errorf("%s: %w", name, ErrResourceUnavailable)}
	}

	meta, err := Parse(name, data)
	if err != nil {
		x.failed.Add(1)
		x.log.Warn("failed to parse class file", "class", name, "error", err)
		return &entry{err: err}
	}
	x.parsed.Add(1)
	return &entry{meta: meta}
}

// Len returns the number of cached lookup outcomes.
func (x *Index) Len() int {
	n := 0
	x.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats returns how many class files were parsed and how many failed.
func (x *Index) Stats() (parsed, failed int64) {
	return x.parsed.Load(), x.failed.Load()
}
