// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package classmeta extracts the parts of compiled JVM classes needed to
// resolve stack frames: the class hierarchy and which method owns each
// source line.
package classmeta

// LineKind tells which form a LineEntry holds.
type LineKind uint8

const (
	// LineEmpty means no method has code on the line.
	LineEmpty LineKind = iota
	// LineSingle means exactly one method name has code on the line.
	LineSingle
	// LineByName means several methods share the line.
	LineByName
)

// LineEntry describes the methods with code on one source line.
type LineEntry struct {
	Kind LineKind

	// Set for LineSingle.
	Name       string
	Descriptor string

	// Set for LineByName, method name -> descriptor.
	ByName map[string]string
}

// add records that method name with descriptor desc has code on the line.
// A later method with the same name as an existing one does not replace it.
func (e *LineEntry) add(name, desc string) {
	switch e.Kind {
	case LineEmpty:
		e.Kind = LineSingle
		e.Name, e.Descriptor = name, desc
	case LineSingle:
		if e.Name == name {
			return
		}
		e.ByName = map[string]string{e.Name: e.Descriptor, name: desc}
		e.Kind = LineByName
		e.Name, e.Descriptor = "", ""
	case LineByName:
		if _, ok := e.ByName[name]; !ok {
			e.ByName[name] = desc
		}
	}
}

// ClassMetadata is what is known about one compiled class. Names use the
// internal slash-separated form of the obfuscated namespace.
type ClassMetadata struct {
	Name       string
	SuperName  string // empty for java/lang/Object
	Interfaces []string

	// Lines is indexed by source line number and covers every line up to
	// the highest one observed.
	Lines []LineEntry
}

// DescriptorAt returns the descriptor of the method with code on line. When a
// single method owns the line its descriptor is returned for any name;
// otherwise method selects among the methods sharing the line.
func (m *ClassMetadata) DescriptorAt(line int, method string) (string, bool) {
	if m == nil || line < 0 || line >= len(m.Lines) {
		return "", false
	}
	e := &m.Lines[line]
	switch e.Kind {
	case LineSingle:
		return e.Descriptor, true
	case LineByName:
		desc, ok := e.ByName[method]
		return desc, ok
	default:
		return "", false
	}
}
