// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver deobfuscates stack frames using a renaming table and the
// class hierarchy recovered from compiled classes.
package resolver

import (
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platformbuilds/crashdeobf/internal/classmeta"
	"github.com/platformbuilds/crashdeobf/internal/stacktrace"
)

// Defaults used by New.
const (
	DefaultFrameCacheSize = 4096
	DefaultMaxDepth       = 64
)

const lambdaMarker = "$Lambda$"

// Mappings renames obfuscated classes and methods. Class names and
// descriptors use the internal slash form of the obfuscated namespace.
type Mappings interface {
	DeobfuscateClass(name string) (string, bool)
	DeobfuscateMethod(class, name, desc string) (string, bool)
}

// Hierarchy supplies class metadata of obfuscated classes.
type Hierarchy interface {
	Lookup(name string) (*classmeta.ClassMetadata, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithFrameCacheSize bounds the resolved frame cache. Sizes <= 0 disable it.
func WithFrameCacheSize(n int) Option {
	return func(r *Resolver) { r.cacheSize = n }
}

// WithMaxDepth bounds how many supertypes deep a method is searched for.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) { r.maxDepth = n }
}

// WithMetrics sets the metrics tracker.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver deobfuscates stack frames. It is safe for concurrent use.
type Resolver struct {
	log      *slog.Logger
	mappings Mappings
	classes  Hierarchy
	metrics  *Metrics

	cacheSize int
	maxDepth  int
	cache     *lru.Cache[stacktrace.Frame, stacktrace.Frame]
}

// New creates a Resolver.
func New(m Mappings, classes Hierarchy, opts ...Option) *Resolver {
	r := &Resolver{
		log:       slog.Default(),
		mappings:  m,
		classes:   classes,
		cacheSize: DefaultFrameCacheSize,
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "resolver")
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	if r.cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		r.cache, _ = lru.New[stacktrace.Frame, stacktrace.Frame](r.cacheSize)
	}
	return r
}

// Metrics returns the resolver's metrics tracker.
func (r *Resolver) Metrics() *Metrics { return r.metrics }

// Deobfuscate returns f with its class, method and file renamed. Frames of
// unknown classes are returned unchanged; methods that cannot be resolved
// keep their obfuscated name.
func (r *Resolver) Deobfuscate(f stacktrace.Frame) stacktrace.Frame {
	r.metrics.RecordFrame()
	if r.cache != nil {
		if out, ok := r.cache.Get(f); ok {
			r.metrics.RecordCacheHit()
			return out
		}
	}
	r.metrics.RecordCacheMiss()

	start := time.Now()
	out := r.resolve(f)
	r.metrics.RecordResolutionTime(time.Since(start))

	if r.cache != nil {
		r.cache.Add(f, out)
		r.metrics.UpdateCacheSize(r.cache.Len())
	}
	return out
}

func (r *Resolver) resolve(f stacktrace.Frame) stacktrace.Frame {
	base, suffix := SplitLambda(f.Class)
	class := strings.ReplaceAll(base, ".", "/")

	named, ok := r.mappings.DeobfuscateClass(class)
	if !ok {
		r.metrics.RecordClassUnresolved()
		return f
	}

	out := f
	out.Class = strings.ReplaceAll(named, "/", ".") + suffix
	out.File = SourceFileName(named)

	// Synthetic lambda classes have no class file of their own, so the
	// method name of such a frame is never known.
	if suffix != "" {
		r.metrics.RecordMethodUnresolved()
		return out
	}

	desc, known := r.descriptorAt(class, f.Line, f.Method)
	if !known {
		r.metrics.RecordMethodUnresolved()
		r.log.Debug("no descriptor at line", "class", class, "method", f.Method, "line", f.Line)
		return out
	}
	if name, match, ok := r.resolveMethod(class, f.Method, desc); ok {
		r.metrics.RecordMethod(match)
		out.Method = name
	} else {
		r.metrics.RecordMethodUnresolved()
		r.log.Debug("method not resolved", "class", class, "method", f.Method, "descriptor", desc)
	}
	return out
}

func (r *Resolver) descriptorAt(class string, line int, method string) (string, bool) {
	meta, err := r.classes.Lookup(class)
	if err != nil {
		r.log.Debug("no class metadata", "class", class, "error", err)
		return "", false
	}
	return meta.DescriptorAt(line, method)
}

// resolveMethod searches class and its supertypes for the method with the
// exact descriptor.
func (r *Resolver) resolveMethod(class, name, desc string) (string, string, bool) {
	exact := func(c string) (string, bool) { return r.mappings.DeobfuscateMethod(c, name, desc) }
	if n, depth, ok := r.walk(class, exact); ok {
		return n, matchAt(depth), true
	}
	return "", "", false
}

func matchAt(depth int) string {
	if depth > 0 {
		return MatchHierarchy
	}
	return MatchExact
}

// walk visits class, then its superclass chain and interfaces depth first,
// superclass before interfaces, and returns the first hit with its depth.
func (r *Resolver) walk(class string, match func(string) (string, bool)) (string, int, bool) {
	visited := make(map[string]struct{})
	var visit func(c string, depth int) (string, int, bool)
	visit = func(c string, depth int) (string, int, bool) {
		if depth > r.maxDepth {
			return "", 0, false
		}
		if _, seen := visited[c]; seen {
			return "", 0, false
		}
		visited[c] = struct{}{}

		if n, ok := match(c); ok {
			return n, depth, true
		}
		meta, err := r.classes.Lookup(c)
		if err != nil {
			return "", 0, false
		}
		if meta.SuperName != "" {
			if n, d, ok := visit(meta.SuperName, depth+1); ok {
				return n, d, true
			}
		}
		for _, iface := range meta.Interfaces {
			if n, d, ok := visit(iface, depth+1); ok {
				return n, d, true
			}
		}
		return "", 0, false
	}
	return visit(class, 0)
}

// SplitLambda splits a synthetic lambda class name into its enclosing class
// and the generated suffix, e.g. "a$$Lambda$12/0x1" into "a" and
// "$$Lambda$12/0x1". Other names are returned with an empty suffix.
func SplitLambda(class string) (base, suffix string) {
	i := strings.Index(class, lambdaMarker)
	if i < 0 {
		return class, ""
	}
	base, suffix = class[:i], class[i:]
	if strings.HasSuffix(base, "$") {
		base, suffix = base[:len(base)-1], "$"+suffix
	}
	return base, suffix
}

// SourceFileName derives the source file of a class from its internal name:
// the simple name of its outermost class plus ".java".
func SourceFileName(class string) string {
	if i := strings.IndexByte(class, '$'); i >= 0 {
		class = class[:i]
	}
	return class[strings.LastIndexByte(class, '/')+1:] + ".java"
}
