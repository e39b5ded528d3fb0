// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package textio

import (
	"encoding/binary"
	"io"
)

// DefaultBufferSize is the buffer size used by NewLineReader.
const DefaultBufferSize = 1024

const (
	wordOnes     = 0x0101010101010101
	wordHighBits = 0x8080808080808080
	wordNewlines = 0x0a0a0a0a0a0a0a0a // '\n' in every byte

	maxEmptyReads = 100
)

// LineReader reads '\n' or "\r\n" terminated lines from a byte stream.
type LineReader struct {
	rd   io.Reader
	buf  []byte
	r, w int
	err  error

	line []byte // accumulates lines that span refills
}

// NewLineReader returns a LineReader with the default buffer size.
func NewLineReader(rd io.Reader) *LineReader {
	return NewLineReaderSize(rd, DefaultBufferSize)
}

// NewLineReaderSize returns a LineReader whose buffer holds size bytes.
// Sizes below 1 are raised to 1.
func NewLineReaderSize(rd io.Reader, size int) *LineReader {
	if size < 1 {
		size = 1
	}
	return &LineReader{rd: rd, buf: make([]byte, size)}
}

// ReadLine returns the next line without its terminator. After the last
// line it returns io.EOF; content after the final terminator is returned
// once as a line of its own. The returned slice is only valid until the
// next call.
func (lr *LineReader) ReadLine() ([]byte, error) {
	lr.line = lr.line[:0]
	partial := false
	for {
		if lr.r >= lr.w {
			if lr.err != nil {
				if partial {
					return lr.line, nil
				}
				return nil, lr.err
			}
			lr.fill()
			continue
		}

		i := indexNewline(lr.buf[lr.r:lr.w])
		if i < 0 {
			lr.line = append(lr.line, lr.buf[lr.r:lr.w]...)
			lr.r = lr.w
			partial = true
			continue
		}

		var line []byte
		if partial {
			lr.line = append(lr.line, lr.buf[lr.r:lr.r+i]...)
			line = lr.line
		} else {
			line = lr.buf[lr.r : lr.r+i]
		}
		lr.r += i + 1
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		return line, nil
	}
}

func (lr *LineReader) fill() {
	lr.r, lr.w = 0, 0
	for i := 0; i < maxEmptyReads; i++ {
		n, err := lr.rd.Read(lr.buf)
		lr.w = n
		if err != nil {
			lr.err = err
			return
		}
		if n > 0 {
			return
		}
	}
	lr.err = io.ErrNoProgress
}

// indexNewline returns the index of the first '\n' in b, or -1. Whole
// 8-byte words without a newline are skipped using the zero-byte trick
// (https://graphics.stanford.edu/~seander/bithacks.html#ZeroInWord); the
// word that may hold one is scanned byte by byte.
func indexNewline(b []byte) int {
	i := 0
	for ; i+8 <= len(b); i += 8 {
		x := binary.LittleEndian.Uint64(b[i:]) ^ wordNewlines
		if (x-wordOnes)&^x&wordHighBits != 0 {
			break
		}
	}
	for ; i < len(b); i++ {
		if b[i] == '\n' {
			return i
		}
	}
	return -1
}
