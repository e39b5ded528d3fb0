// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package classpath reads the classpath.txt of a debug report and serves
// class files from the jars and directories it lists.
package classpath

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/platformbuilds/crashdeobf/internal/textio"
)

// FileName is the name of the classpath listing inside a debug report.
const FileName = "classpath.txt"

// ProbeResource is a class every game jar contains.
const ProbeResource = "net/minecraft/server/MinecraftServer.class"

const (
	librariesDir = "/libraries"
	versionsDir  = "/versions"
)

// Classpath is the parsed content of classpath.txt.
type Classpath struct {
	// Entries are slash-separated paths relative to the game directory.
	Entries []string
	// Version is the game version, taken from the game jar's name.
	Version string
}

// Parse reads a classpath listing. Only entries under the game directory's
// libraries and versions folders are kept; other lines are ignored.
func Parse(r io.Reader) (Classpath, error) {
	var cp Classpath
	lr := textio.NewLineReader(r)
	for {
		raw, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Classpath{}, fmt.Errorf("read classpath: %w", err)
		}
		line := strings.ReplaceAll(strings.TrimSpace(string(raw)), `\`, "/")

		if i := strings.Index(line, librariesDir); i >= 0 {
			cp.Entries = append(cp.Entries, line[i+1:])
		} else if i := strings.Index(line, versionsDir); i >= 0 {
			cp.Entries = append(cp.Entries, line[i+1:])
			if name := path.Base(line); strings.HasSuffix(name, ".jar") {
				cp.Version = strings.TrimSuffix(name, ".jar")
			}
		}
	}
	return cp, nil
}

// Resolve returns the entries as paths below gameDir.
func (c Classpath) Resolve(gameDir string) []string {
	paths := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		paths[i] = filepath.Join(gameDir, filepath.FromSlash(e))
	}
	return paths
}

// DefaultGameDir returns ~/.minecraft.
func DefaultGameDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minecraft"
	}
	return filepath.Join(home, ".minecraft")
}
