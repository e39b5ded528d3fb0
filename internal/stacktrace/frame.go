// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package stacktrace parses and formats JVM stack frame lines.
package stacktrace

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// NoLine marks a frame without a line number.
	NoLine = -1
	// NativeLine marks a frame executing a native method.
	NativeLine = -2
)

const (
	nativeMethod  = "Native Method"
	unknownSource = "Unknown Source"
)

var frameRE = regexp.MustCompile(`^\s*at\s+((?:[\w$/]+\.)*[\w$/]+)\.([\w$<>]+)\((.+?)(?::(\d+))?\)$`)

// Frame is one stack frame. It is comparable and can be used as a map key.
type Frame struct {
	Class  string // dotted binary name
	Method string
	File   string // empty when unknown
	Line   int
}

// ParseFrame parses a line of the form "\tat pkg.Class.method(File.java:12)".
// It reports false for lines that are not frames.
func ParseFrame(line string) (Frame, bool) {
	m := frameRE.FindStringSubmatch(line)
	if m == nil {
		return Frame{}, false
	}
	f := Frame{Class: m[1], Method: m[2], File: m[3], Line: NoLine}
	if m[4] != "" {
		if n, err := strconv.Atoi(m[4]); err == nil {
			f.Line = n
		}
	}
	switch f.File {
	case nativeMethod:
		f.File, f.Line = "", NativeLine
	case unknownSource:
		f.File = ""
	}
	return f, true
}

// IsNative reports whether the frame is a native method.
func (f Frame) IsNative() bool { return f.Line == NativeLine }

// String formats the frame the way the JVM prints stack trace elements,
// without the leading "at".
func (f Frame) String() string {
	var sb strings.Builder
	sb.Grow(len(f.Class) + len(f.Method) + len(f.File) + 16)
	sb.WriteString(f.Class)
	sb.WriteByte('.')
	sb.WriteString(f.Method)
	switch {
	case f.IsNative():
		sb.WriteString("(" + nativeMethod + ")")
	case f.File != "" && f.Line >= 0:
		sb.WriteByte('(')
		sb.WriteString(f.File)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(f.Line))
		sb.WriteByte(')')
	case f.File != "":
		sb.WriteString("(" + f.File + ")")
	default:
		sb.WriteString("(" + unknownSource + ")")
	}
	return sb.String()
}
