// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package textio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, lr *LineReader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
}

func TestLineReader_Terminators(t *testing.T) {
	input := "test\n123\r\n\r\n456\n\n"
	want := []string{"test", "123", "", "456", ""}

	for size := 1; size <= 64; size++ {
		lr := NewLineReaderSize(strings.NewReader(input), size)
		assert.Equal(t, want, readAll(t, lr), "buffer size %d", size)
	}
}

func TestLineReader_DefaultSize(t *testing.T) {
	lr := NewLineReader(strings.NewReader("test\n123\r\n\r\n456\n\n"))
	assert.Equal(t, []string{"test", "123", "", "456", ""}, readAll(t, lr))

	_, err := lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")
}

func TestLineReader_EdgeCases(t *testing.T) {
	long := strings.Repeat("abcdefghij", 300)

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty input", input: "", want: nil},
		{name: "no trailing terminator", input: "a\nbc", want: []string{"a", "bc"}},
		{name: "only terminators", input: "\n\n\r\n", want: []string{"", "", ""}},
		{name: "lone carriage return kept", input: "a\rb\n", want: []string{"a\rb"}},
		{name: "carriage return at eof", input: "a\r", want: []string{"a\r"}},
		{name: "long lines", input: long + "\n" + long + "\r\n" + long, want: []string{long, long, long}},
		{name: "utf8 passthrough", input: "ünïcödé\nx", want: []string{"ünïcödé", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, size := range []int{1, 2, 3, 7, 8, 9, 16, 1024} {
				lr := NewLineReaderSize(strings.NewReader(tt.input), size)
				assert.Equal(t, tt.want, readAll(t, lr), "buffer size %d", size)
			}
		})
	}
}

func TestLineReader_ShortReads(t *testing.T) {
	input := "first line\r\nsecond\n\nthird"
	lr := NewLineReaderSize(iotest.OneByteReader(strings.NewReader(input)), 16)
	assert.Equal(t, []string{"first line", "second", "", "third"}, readAll(t, lr))

	lr = NewLineReaderSize(iotest.DataErrReader(strings.NewReader(input)), 5)
	assert.Equal(t, []string{"first line", "second", "", "third"}, readAll(t, lr))
}

func TestLineReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	lr := NewLineReaderSize(io.MultiReader(strings.NewReader("ok\npartial"), iotest.ErrReader(boom)), 4)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(line))

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(line))

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, boom)
}

func TestIndexNewline(t *testing.T) {
	for n := 0; n < 40; n++ {
		for pos := 0; pos < n; pos++ {
			b := bytes.Repeat([]byte{'x'}, n)
			b[pos] = '\n'
			assert.Equal(t, pos, indexNewline(b), "len %d pos %d", n, pos)
		}
		assert.Equal(t, -1, indexNewline(bytes.Repeat([]byte{0x0b}, n)))
	}
}

func BenchmarkLineReader(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 10000; i++ {
		sb.WriteString("METHOD\tnet/minecraft/class_1\t(Lnet/minecraft/class_2;)V\tmethod_1\tm_1\n")
	}
	data := []byte(sb.String())
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lr := NewLineReader(bytes.NewReader(data))
		for {
			if _, err := lr.ReadLine(); err != nil {
				break
			}
		}
	}
}
