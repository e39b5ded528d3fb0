// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashreport rewrites crash reports, deobfuscating stack frames and
// the class names embedded in selected detail fields.
package crashreport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/platformbuilds/crashdeobf/internal/stacktrace"
	"github.com/platformbuilds/crashdeobf/internal/textio"
)

// DefaultPlayerListKeys are the detail keys whose values list player entities.
var DefaultPlayerListKeys = []string{"All players", "Player Count"}

const (
	framePrefix     = "\tat "
	recordSeparator = "], ["
	ctxCheckEvery   = 1024
)

// FrameResolver deobfuscates a single stack frame.
type FrameResolver interface {
	Deobfuscate(stacktrace.Frame) stacktrace.Frame
}

// ClassRenamer deobfuscates class names in internal slash form.
type ClassRenamer interface {
	DeobfuscateClass(name string) (string, bool)
}

// Stats counts what a Transform call saw.
type Stats struct {
	Lines   int
	Frames  int
	Details int
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithPlayerListKeys replaces the detail keys treated as player lists.
func WithPlayerListKeys(keys []string) Option {
	return func(t *Transformer) {
		t.playerKeys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			t.playerKeys[k] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Transformer) { t.log = log }
}

// Transformer rewrites crash report lines.
type Transformer struct {
	log        *slog.Logger
	frames     FrameResolver
	classes    ClassRenamer
	playerKeys map[string]struct{}
}

// NewTransformer creates a Transformer.
func NewTransformer(frames FrameResolver, classes ClassRenamer, opts ...Option) *Transformer {
	t := &Transformer{log: slog.Default(), frames: frames, classes: classes}
	WithPlayerListKeys(DefaultPlayerListKeys)(t)
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "crash_report")
	return t
}

// TransformLine rewrites one report line. Frames are re-emitted as
// "\tat <frame>", detail lines as "\t<key>: <value>"; anything else is
// returned unchanged.
func (t *Transformer) TransformLine(line string) string {
	out, _ := t.transformLine(line)
	return out
}

type lineKind int

const (
	kindOther lineKind = iota
	kindFrame
	kindDetail
)

func (t *Transformer) transformLine(line string) (string, lineKind) {
	if f, ok := stacktrace.ParseFrame(line); ok {
		return framePrefix + t.frames.Deobfuscate(f).String(), kindFrame
	}
	if key, value, ok := splitDetail(line); ok {
		return "\t" + key + ": " + t.TransformDetail(key, value), kindDetail
	}
	return line, kindOther
}

// splitDetail splits "\t<key>: <value>" at the first colon.
func splitDetail(line string) (key, value string, ok bool) {
	if !strings.HasPrefix(line, "\t") {
		return "", "", false
	}
	i := strings.IndexByte(line, ':')
	if i < 0 || !strings.HasPrefix(line[i:], ": ") {
		return "", "", false
	}
	return line[1:i], line[i+2:], true
}

// TransformDetail rewrites the value of a detail field. Only player list
// fields are changed: every record's leading class name is replaced by the
// simple name of its deobfuscated class.
func (t *Transformer) TransformDetail(key, value string) string {
	if _, ok := t.playerKeys[key]; !ok {
		return value
	}
	open, end := strings.IndexByte(value, '['), strings.LastIndexByte(value, ']')
	if open < 0 || end <= open {
		return value
	}

	records := strings.Split(value[open+1:end], recordSeparator)
	for i, rec := range records {
		records[i] = t.renameRecord(rec)
	}
	return value[:open+1] + strings.Join(records, recordSeparator) + value[end:]
}

func (t *Transformer) renameRecord(rec string) string {
	i := strings.IndexByte(rec, '[')
	if i <= 0 {
		return rec
	}
	named, ok := t.classes.DeobfuscateClass(strings.ReplaceAll(rec[:i], ".", "/"))
	if !ok {
		return rec
	}
	return named[strings.LastIndexByte(named, '/')+1:] + rec[i:]
}

// Transform streams a report from r to w, rewriting every line and ending
// each with '\n'.
func (t *Transformer) Transform(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats
	lr := textio.NewLineReader(r)
	bw := bufio.NewWriter(w)

	for {
		if stats.Lines%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read report line %d: %w", stats.Lines+1, err)
		}
		stats.Lines++

		out, kind := t.transformLine(string(line))
		switch kind {
		case kindFrame:
			stats.Frames++
		case kindDetail:
			stats.Details++
		}
		if _, err := bw.WriteString(out); err != nil {
			return stats, fmt.Errorf("write report: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return stats, fmt.Errorf("write report: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("write report: %w", err)
	}
	t.log.Debug("report transformed", "lines", stats.Lines, "frames", stats.Frames, "details", stats.Details)
	return stats, nil
}
