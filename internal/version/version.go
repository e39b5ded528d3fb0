// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information stamped through -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridden at link time:
//
//	-X github.com/platformbuilds/crashdeobf/internal/version.version=v1.2.3
var (
	version   = "unknown"
	commit    = "unknown"
	buildDate = "unknown"
)

func Version() string {
	if version != "unknown" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return version
}

func Commit() string    { return commit }
func BuildDate() string { return buildDate }

// String is the line printed by -version.
func String() string {
	return fmt.Sprintf("crashdeobf %s (commit %s, built %s)", Version(), Commit(), BuildDate())
}
