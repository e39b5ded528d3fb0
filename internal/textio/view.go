// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package textio provides zero-copy byte views and a fast line reader used
// to parse large mapping files and crash reports.
package textio

import (
	"bytes"
	"hash/maphash"
)

// View is a borrowed window into a byte buffer owned elsewhere. A View is
// only valid as long as the backing buffer is not modified or reused.
type View struct {
	buf []byte
	off int
	n   int

	str *string // memoized copy-out
}

// NewView returns a View over buf[off:off+n].
func NewView(buf []byte, off, n int) View {
	if off < 0 || n < 0 || off+n > len(buf) {
		panic("textio: view out of range")
	}
	return View{buf: buf, off: off, n: n}
}

// ViewOf returns a View over all of buf.
func ViewOf(buf []byte) View {
	return View{buf: buf, n: len(buf)}
}

// ViewString returns a View over the bytes of s. The string is copied once
// and the result is already materialized.
func ViewString(s string) View {
	v := View{buf: []byte(s), n: len(s)}
	v.str = &s
	return v
}

// Len returns the number of bytes in the view.
func (v View) Len() int { return v.n }

// At returns the byte at index i.
func (v View) At(i int) byte { return v.buf[v.off+i] }

// Bytes returns the referenced bytes without copying.
func (v View) Bytes() []byte { return v.buf[v.off : v.off+v.n : v.off+v.n] }

// Slice returns the sub-view [start, end).
func (v View) Slice(start, end int) View {
	if start < 0 || end < start || end > v.n {
		panic("textio: slice out of range")
	}
	return View{buf: v.buf, off: v.off + start, n: end - start}
}

// IndexByte returns the index of the first c at or after from, or -1.
func (v View) IndexByte(from int, c byte) int {
	if from >= v.n {
		return -1
	}
	i := bytes.IndexByte(v.buf[v.off+from:v.off+v.n], c)
	if i < 0 {
		return -1
	}
	return from + i
}

// Equal reports whether both views reference the same byte sequence.
func (v View) Equal(o View) bool {
	if v.n != o.n {
		return false
	}
	if v.n == 0 {
		return true
	}
	if &v.buf[v.off] == &o.buf[o.off] {
		return true
	}
	return bytes.Equal(v.Bytes(), o.Bytes())
}

// EqualString reports whether the view holds exactly s.
func (v View) EqualString(s string) bool {
	return string(v.Bytes()) == s
}

// Hash hashes the referenced bytes, so equal views hash equally regardless
// of their backing buffers.
func (v View) Hash(seed maphash.Seed) uint64 {
	return maphash.Bytes(seed, v.Bytes())
}

// String returns an owned copy of the referenced bytes. The copy is made on
// the first call and reused afterwards.
func (v *View) String() string {
	if v.str == nil {
		s := string(v.Bytes())
		v.str = &s
	}
	return *v.str
}

// Split splits buf around every sep. Unlike bytes.Split, a trailing
// separator does not produce a final empty view.
func Split(buf []byte, sep byte) []View {
	views := make([]View, 0, bytes.Count(buf, []byte{sep})+1)
	prev := 0
	for i, c := range buf {
		if c != sep {
			continue
		}
		views = append(views, View{buf: buf, off: prev, n: i - prev})
		prev = i + 1
	}
	if prev != len(buf) {
		views = append(views, View{buf: buf, off: prev, n: len(buf) - prev})
	}
	return views
}

// Join concatenates parts into a new view with its own backing buffer.
func Join(parts []View) View {
	total := 0
	for _, p := range parts {
		total += p.n
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p.Bytes()...)
	}
	return ViewOf(buf)
}
