// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package yarn

import (
	"fmt"
	"strings"
)

// Coordinate is a maven coordinate of a mappings release, e.g.
// "net.fabricmc:yarn:1.14.4+build.18".
type Coordinate struct {
	Group    string
	Artifact string
	Version  string
}

// ParseCoordinate parses "group:artifact:version".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Coordinate{}, fmt.Errorf("invalid maven coordinate %q", s)
	}
	return Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}, nil
}

func (c Coordinate) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

// LoomCacheName is the file name Fabric Loom caches the extracted tiny file
// under.
func (c Coordinate) LoomCacheName() string {
	return c.Group + "." + c.Artifact + "-tiny-" + strings.ReplaceAll(c.Version, "+build.", "-")
}

// MavenPath is the path of the gzipped tiny file relative to the maven root.
func (c Coordinate) MavenPath() string {
	return strings.ReplaceAll(c.Group, ".", "/") + "/" + c.Artifact + "/" + c.Version + "/" +
		c.Artifact + "-" + c.Version + "-tiny.gz"
}
