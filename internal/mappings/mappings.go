// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package mappings loads tiny v1 renaming tables and renames classes,
// methods and fields between their namespaces.
package mappings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/platformbuilds/crashdeobf/internal/textio"
)

// ErrMalformedTable is returned when a renaming table violates the row grammar.
var ErrMalformedTable = errors.New("malformed mapping table")

const (
	rowClass  = "CLASS"
	rowMethod = "METHOD"
	rowField  = "FIELD"
)

// memberKey identifies a method or field within one namespace. Desc is empty
// for fields and for by-name method lookups.
type memberKey struct {
	Class string
	Name  string
	Desc  string
}

// member is a method or field as declared in the source namespace.
type member struct {
	owner string
	desc  string
}

// Table is an immutable multi-namespace renaming table. It is safe for
// concurrent use once loaded.
type Table struct {
	format     string
	namespaces []string

	classNames [][]string       // [ns][id]
	classIDs   []map[string]int // [ns] name -> id

	methods      []member
	methodNames  [][]string            // [ns][id]
	methodDescs  [][]string            // [ns][id], remapped into ns
	methodIDs    []map[memberKey]int   // [ns] (class, name, desc) -> id
	methodGroups []map[memberKey][]int // [ns] (class, name) -> ids

	fields     []member
	fieldNames [][]string          // [ns][id]
	fieldIDs   []map[memberKey]int // [ns] (class, name) -> id
}

// Stats summarizes the size of a loaded table.
type Stats struct {
	Namespaces int
	Classes    int
	Methods    int
	Fields     int
}

// Load reads a renaming table. The first row is the header naming the
// namespaces; namespace 0 is the source (obfuscated) namespace and the last
// one is the target. Duplicate rows overwrite earlier ones.
func Load(r io.Reader) (*Table, error) {
	lr := textio.NewLineReaderSize(r, 64*1024)

	header, err := lr.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrMalformedTable)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	t, err := newTable(header)
	if err != nil {
		return nil, err
	}

	for lineNo := 2; ; lineNo++ {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", lineNo, err)
		}
		if err := t.loadRow(line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTable, lineNo, err)
		}
	}

	t.finish()
	return t, nil
}

func newTable(header []byte) (*Table, error) {
	header = bytes.TrimRight(header, " ")
	cols := textio.Split(header, '\t')
	if len(cols) < 2 {
		return nil, fmt.Errorf("%w: header declares no namespaces", ErrMalformedTable)
	}
	format := cols[0].String()
	if format == "tiny" {
		return nil, fmt.Errorf("%w: tiny v2 tables are not supported", ErrMalformedTable)
	}

	n := len(cols) - 1
	t := &Table{
		format:       format,
		namespaces:   make([]string, n),
		classNames:   make([][]string, n),
		classIDs:     make([]map[string]int, n),
		methodNames:  make([][]string, n),
		methodDescs:  make([][]string, n),
		methodIDs:    make([]map[memberKey]int, n),
		methodGroups: make([]map[memberKey][]int, n),
		fieldNames:   make([][]string, n),
		fieldIDs:     make([]map[memberKey]int, n),
	}
	for i := 0; i < n; i++ {
		t.namespaces[i] = cols[i+1].String()
		t.classIDs[i] = make(map[string]int)
	}
	return t, nil
}

func (t *Table) loadRow(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	cols := textio.Split(line, '\t')

	var names []textio.View
	switch {
	case cols[0].EqualString(rowClass):
		names = cols[1:]
	case cols[0].EqualString(rowMethod), cols[0].EqualString(rowField):
		if len(cols) < 3 {
			return fmt.Errorf("%s row has no owner or descriptor", cols[0].String())
		}
		names = cols[3:]
	default:
		return nil
	}
	if len(names) > len(t.namespaces) {
		return fmt.Errorf("row references namespace %d, header declares %d", len(names)-1, len(t.namespaces))
	}
	if len(names) < len(t.namespaces) {
		return fmt.Errorf("row has %d names, header declares %d namespaces", len(names), len(t.namespaces))
	}

	switch {
	case cols[0].EqualString(rowClass):
		id := len(t.classNames[0])
		for ns := range names {
			name := names[ns].String()
			t.classNames[ns] = append(t.classNames[ns], name)
			t.classIDs[ns][name] = id
		}
	case cols[0].EqualString(rowMethod):
		t.methods = append(t.methods, member{owner: cols[1].String(), desc: cols[2].String()})
		for ns := range names {
			t.methodNames[ns] = append(t.methodNames[ns], names[ns].String())
		}
	default:
		t.fields = append(t.fields, member{owner: cols[1].String(), desc: cols[2].String()})
		for ns := range names {
			t.fieldNames[ns] = append(t.fieldNames[ns], names[ns].String())
		}
	}
	return nil
}

// finish builds the per-namespace member indexes. It needs the complete
// class table because member owners and descriptors are renamed through it.
func (t *Table) finish() {
	for ns := range t.namespaces {
		t.methodDescs[ns] = make([]string, len(t.methods))
		t.methodIDs[ns] = make(map[memberKey]int, len(t.methods))
		t.methodGroups[ns] = make(map[memberKey][]int)
		t.fieldIDs[ns] = make(map[memberKey]int, len(t.fields))
	}

	for id, m := range t.methods {
		for ns := range t.namespaces {
			owner := t.ownerIn(m.owner, ns)
			desc := t.RemapDescriptor(m.desc, 0, ns)
			t.methodDescs[ns][id] = desc

			key := memberKey{Class: owner, Name: t.methodNames[ns][id], Desc: desc}
			prev, dup := t.methodIDs[ns][key]
			t.methodIDs[ns][key] = id

			group := memberKey{Class: owner, Name: key.Name}
			if dup {
				ids := t.methodGroups[ns][group]
				for i, other := range ids {
					if other == prev {
						ids[i] = id
					}
				}
				continue
			}
			t.methodGroups[ns][group] = append(t.methodGroups[ns][group], id)
		}
	}

	for id, f := range t.fields {
		for ns := range t.namespaces {
			key := memberKey{Class: t.ownerIn(f.owner, ns), Name: t.fieldNames[ns][id]}
			t.fieldIDs[ns][key] = id
		}
	}
}

// ownerIn returns the name of a source-namespace class in ns, or the source
// name when the class has no row.
func (t *Table) ownerIn(owner string, ns int) string {
	if name, ok := t.RenameClass(owner, 0, ns); ok {
		return name
	}
	return owner
}

// Format returns the format tag from the header row.
func (t *Table) Format() string { return t.format }

// Namespaces returns the namespace names in header order.
func (t *Table) Namespaces() []string {
	out := make([]string, len(t.namespaces))
	copy(out, t.namespaces)
	return out
}

// NamespaceIndex returns the index of the named namespace.
func (t *Table) NamespaceIndex(name string) (int, bool) {
	for i, ns := range t.namespaces {
		if ns == name {
			return i, true
		}
	}
	return -1, false
}

// Source is the index of the obfuscated namespace.
func (t *Table) Source() int { return 0 }

// Target is the index of the deobfuscated namespace.
func (t *Table) Target() int { return len(t.namespaces) - 1 }

// Stats returns the table's entity counts.
func (t *Table) Stats() Stats {
	return Stats{
		Namespaces: len(t.namespaces),
		Classes:    len(t.classNames[0]),
		Methods:    len(t.methods),
		Fields:     len(t.fields),
	}
}

func (t *Table) validNS(ns ...int) bool {
	for _, n := range ns {
		if n < 0 || n >= len(t.namespaces) {
			return false
		}
	}
	return true
}

// RenameClass renames a class from one namespace to another.
func (t *Table) RenameClass(name string, from, to int) (string, bool) {
	if !t.validNS(from, to) {
		return "", false
	}
	id, ok := t.classIDs[from][name]
	if !ok {
		return "", false
	}
	return t.classNames[to][id], true
}

// RenameMethod renames a method. class and desc must be expressed in the
// from namespace. There is no hierarchy awareness: the method must be
// declared on class itself.
func (t *Table) RenameMethod(class, name, desc string, from, to int) (string, bool) {
	if !t.validNS(from, to) {
		return "", false
	}
	id, ok := t.methodIDs[from][memberKey{Class: class, Name: name, Desc: desc}]
	if !ok {
		return "", false
	}
	return t.methodNames[to][id], true
}

// MethodsByName returns the descriptors, in ns, of every overload of
// class.name declared in ns.
func (t *Table) MethodsByName(class, name string, ns int) []string {
	if !t.validNS(ns) {
		return nil
	}
	ids := t.methodGroups[ns][memberKey{Class: class, Name: name}]
	if len(ids) == 0 {
		return nil
	}
	descs := make([]string, len(ids))
	for i, id := range ids {
		descs[i] = t.methodDescs[ns][id]
	}
	return descs
}

// RenameField renames a field declared on class in the from namespace.
func (t *Table) RenameField(class, name string, from, to int) (string, bool) {
	if !t.validNS(from, to) {
		return "", false
	}
	id, ok := t.fieldIDs[from][memberKey{Class: class, Name: name}]
	if !ok {
		return "", false
	}
	return t.fieldNames[to][id], true
}

// RemapDescriptor renames every L<class>; reference in desc. References
// without a class row are kept; all other bytes are copied verbatim.
func (t *Table) RemapDescriptor(desc string, from, to int) string {
	if from == to || !t.validNS(from, to) {
		return desc
	}
	ids, names := t.classIDs[from], t.classNames[to]
	var sb strings.Builder
	last := 0
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i+1:], ';')
		if end < 0 {
			break
		}
		end += i + 1
		if id, ok := ids[desc[i+1:end]]; ok {
			if sb.Len() == 0 {
				sb.Grow(len(desc) + 16)
			}
			sb.WriteString(desc[last : i+1])
			sb.WriteString(names[id])
			last = end
		}
		i = end
	}
	if last == 0 {
		return desc
	}
	sb.WriteString(desc[last:])
	return sb.String()
}
