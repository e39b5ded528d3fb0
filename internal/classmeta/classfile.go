// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package classmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chimehq/binarycursor"
)

const classMagic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

const (
	attrCode            = "Code"
	attrLineNumberTable = "LineNumberTable"
)

// ErrBadClassFormat matches every *FormatError.
var ErrBadClassFormat = errors.New("bad class format")

// FormatError reports a truncated or corrupt class file.
type FormatError struct {
	Class  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("class %s: %s", e.Class, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrBadClassFormat }

// constantPool keeps the entries the metadata needs; all others are only
// skipped over.
type constantPool struct {
	utf8  []string
	class []uint16 // name index of CONSTANT_Class entries
}

func (cp *constantPool) str(idx uint16) (string, bool) {
	if int(idx) >= len(cp.utf8) || idx == 0 {
		return "", false
	}
	return cp.utf8[idx], true
}

func (cp *constantPool) className(idx uint16) (string, bool) {
	if int(idx) >= len(cp.class) || cp.class[idx] == 0 {
		return "", false
	}
	return cp.str(cp.class[idx])
}

type classReader struct {
	name    string
	c       binarycursor.BinaryCursor
	scratch [512]byte
}

func (r *classReader) fail(reason string, err error) error {
	return &FormatError{Class: r.name, Reason: reason, Err: err}
}

func (r *classReader) u1() (uint8, error) {
	v, err := r.c.ReadUint8()
	if err != nil {
		return 0, r.fail("truncated", err)
	}
	return v, nil
}

func (r *classReader) u2() (uint16, error) {
	v, err := r.c.ReadUint16()
	if err != nil {
		return 0, r.fail("truncated", err)
	}
	return v, nil
}

func (r *classReader) u4() (uint32, error) {
	v, err := r.c.ReadUint32()
	if err != nil {
		return 0, r.fail("truncated", err)
	}
	return v, nil
}

func (r *classReader) read(p []byte) error {
	n, err := r.c.Read(p)
	if n < len(p) {
		if err == nil {
			err = fmt.Errorf("short read %d/%d", n, len(p))
		}
		return r.fail("truncated", err)
	}
	return nil
}

func (r *classReader) skip(n int) error {
	for n > 0 {
		chunk := r.scratch[:min(n, len(r.scratch))]
		if err := r.read(chunk); err != nil {
			return err
		}
		n -= len(chunk)
	}
	return nil
}

// Parse extracts the metadata of the class named name from its class file
// bytes. Field and method bodies other than line number tables are skipped.
func Parse(name string, data []byte) (*ClassMetadata, error) {
	r := &classReader{name: name, c: binarycursor.NewBinaryReaderAtCursor(bytes.NewReader(data), 0)}
	r.c.SetOrder(binary.BigEndian)

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, r.fail(fmt.Sprintf("bad magic %#x", magic), nil)
	}
	if err := r.skip(4); err != nil { // minor, major
		return nil, err
	}

	cp, err := r.constantPool()
	if err != nil {
		return nil, err
	}

	if err := r.skip(2); err != nil { // access flags
		return nil, err
	}
	m := &ClassMetadata{}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	var ok bool
	if m.Name, ok = cp.className(thisIdx); !ok {
		return nil, r.fail("invalid this_class index", nil)
	}
	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if m.SuperName, ok = cp.className(superIdx); !ok {
			return nil, r.fail("invalid super_class index", nil)
		}
	}

	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		m.Interfaces = make([]string, count)
	}
	for i := range m.Interfaces {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		if m.Interfaces[i], ok = cp.className(idx); !ok {
			return nil, r.fail("invalid interface index", nil)
		}
	}

	if err := r.skipMembers(); err != nil { // fields
		return nil, err
	}

	lines := newLineTable()
	if err := r.methods(cp, lines); err != nil {
		return nil, err
	}
	m.Lines = lines.entries
	return m, nil
}

func (r *classReader) constantPool() (*constantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	cp := &constantPool{utf8: make([]string, count), class: make([]uint16, count)}
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			buf := make([]byte, n)
			if err := r.read(buf); err != nil {
				return nil, err
			}
			// Class and member names are ASCII in practice, so modified
			// UTF-8 is taken as is.
			cp.utf8[i] = string(buf)
		case tagClass:
			if cp.class[i], err = r.u2(); err != nil {
				return nil, err
			}
		case tagString, tagMethodType, tagModule, tagPackage:
			err = r.skip(2)
		case tagMethodHandle:
			err = r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			err = r.skip(4)
		case tagLong, tagDouble:
			err = r.skip(8)
			i++ // occupies two slots
		default:
			return nil, r.fail(fmt.Sprintf("unknown constant pool tag %d at index %d", tag, i), nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return cp, nil
}

func (r *classReader) skipAttributes() error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(2); err != nil {
			return err
		}
		n, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(n)); err != nil {
			return err
		}
	}
	return nil
}

func (r *classReader) skipMembers() error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(6); err != nil { // access, name, descriptor
			return err
		}
		if err := r.skipAttributes(); err != nil {
			return err
		}
	}
	return nil
}

func (r *classReader) methods(cp *constantPool, lines *lineTable) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(2); err != nil {
			return err
		}
		nameIdx, err := r.u2()
		if err != nil {
			return err
		}
		descIdx, err := r.u2()
		if err != nil {
			return err
		}
		name, ok := cp.str(nameIdx)
		if !ok {
			return r.fail("invalid method name index", nil)
		}
		desc, ok := cp.str(descIdx)
		if !ok {
			return r.fail("invalid method descriptor index", nil)
		}

		attrs, err := r.u2()
		if err != nil {
			return err
		}
		for j := 0; j < int(attrs); j++ {
			attrIdx, err := r.u2()
			if err != nil {
				return err
			}
			n, err := r.u4()
			if err != nil {
				return err
			}
			if attr, _ := cp.str(attrIdx); attr != attrCode {
				if err := r.skip(int(n)); err != nil {
					return err
				}
				continue
			}
			if err := r.code(cp, lines, name, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// code reads a Code attribute body, recording its line numbers.
func (r *classReader) code(cp *constantPool, lines *lineTable, name, desc string) error {
	if err := r.skip(4); err != nil { // max_stack, max_locals
		return err
	}
	codeLen, err := r.u4()
	if err != nil {
		return err
	}
	if err := r.skip(int(codeLen)); err != nil {
		return err
	}
	handlers, err := r.u2()
	if err != nil {
		return err
	}
	if err := r.skip(int(handlers) * 8); err != nil {
		return err
	}

	attrs, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(attrs); i++ {
		attrIdx, err := r.u2()
		if err != nil {
			return err
		}
		n, err := r.u4()
		if err != nil {
			return err
		}
		if attr, _ := cp.str(attrIdx); attr != attrLineNumberTable {
			if err := r.skip(int(n)); err != nil {
				return err
			}
			continue
		}
		entries, err := r.u2()
		if err != nil {
			return err
		}
		for k := 0; k < int(entries); k++ {
			if err := r.skip(2); err != nil { // start_pc
				return err
			}
			line, err := r.u2()
			if err != nil {
				return err
			}
			lines.add(int(line), name, desc)
		}
	}
	return nil
}

type lineTable struct {
	entries []LineEntry
}

func newLineTable() *lineTable { return &lineTable{} }

func (t *lineTable) add(line int, name, desc string) {
	if line >= len(t.entries) {
		t.entries = append(t.entries, make([]LineEntry, line+1-len(t.entries))...)
	}
	t.entries[line].add(name, desc)
}
