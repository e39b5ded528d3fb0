// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func isZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// openTree opens a debug report, either a directory or a zip archive.
func openTree(name string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return os.DirFS(name), io.NopCloser(nil), nil
	}
	if !isZip(name) {
		return nil, nil, fmt.Errorf("%s: not a directory or .zip archive", name)
	}
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr, nil
}

// sink receives the files of the output tree. rel is slash separated.
type sink interface {
	Create(rel string) (io.WriteCloser, error)
	Close() error
}

func newSink(name string) (sink, error) {
	if !isZip(name) {
		if err := os.MkdirAll(name, 0o755); err != nil {
			return nil, err
		}
		return dirSink(name), nil
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &zipSink{f: f, zw: zip.NewWriter(f)}, nil
}

type dirSink string

func (d dirSink) Create(rel string) (io.WriteCloser, error) {
	p := filepath.Join(string(d), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

func (dirSink) Close() error { return nil }

// zipSink writes entries sequentially; each writer must be closed before
// the next Create.
type zipSink struct {
	f  *os.File
	zw *zip.Writer
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (z *zipSink) Create(rel string) (io.WriteCloser, error) {
	w, err := z.zw.Create(rel)
	if err != nil {
		return nil, err
	}
	return nopWriteCloser{w}, nil
}

func (z *zipSink) Close() error {
	err := z.zw.Close()
	if cerr := z.f.Close(); err == nil {
		err = cerr
	}
	return err
}
