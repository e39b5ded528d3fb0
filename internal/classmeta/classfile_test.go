// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package classmeta

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMethod struct {
	name   string
	desc   string
	lines  []uint16
	noCode bool
}

type testClass struct {
	name       string
	super      string
	interfaces []string
	methods    []testMethod
}

// poolBuilder assembles a constant pool, handing out indexes.
type poolBuilder struct {
	buf   bytes.Buffer
	next  uint16
	utf8s map[string]uint16
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{next: 1, utf8s: map[string]uint16{}}
}

func (p *poolBuilder) entry(tag byte, body ...any) uint16 {
	p.buf.WriteByte(tag)
	for _, v := range body {
		_ = binary.Write(&p.buf, binary.BigEndian, v)
	}
	idx := p.next
	p.next++
	if tag == tagLong || tag == tagDouble {
		p.next++
	}
	return idx
}

func (p *poolBuilder) utf8(s string) uint16 {
	if idx, ok := p.utf8s[s]; ok {
		return idx
	}
	idx := p.entry(tagUtf8, uint16(len(s)), []byte(s))
	p.utf8s[s] = idx
	return idx
}

func (p *poolBuilder) class(s string) uint16 {
	return p.entry(tagClass, p.utf8(s))
}

func u2(b *bytes.Buffer, v uint16) { _ = binary.Write(b, binary.BigEndian, v) }
func u4(b *bytes.Buffer, v uint32) { _ = binary.Write(b, binary.BigEndian, v) }

// build encodes c as a class file with every constant pool tag present and
// some attributes the parser has to skip.
func (c testClass) build() []byte {
	p := newPoolBuilder()

	// Entries the parser only skips over.
	p.entry(tagInteger, uint32(7))
	p.entry(tagFloat, uint32(0x3f800000))
	p.entry(tagLong, uint64(1)<<40)
	p.entry(tagDouble, uint64(0x4000000000000000))
	str := p.entry(tagString, p.utf8("hello"))
	nat := p.entry(tagNameAndType, p.utf8("x"), p.utf8("I"))
	p.entry(tagFieldref, uint16(1), nat)
	mref := p.entry(tagMethodref, uint16(1), nat)
	p.entry(tagInterfaceMethodref, uint16(1), nat)
	p.entry(tagMethodHandle, uint8(5), mref)
	p.entry(tagMethodType, p.utf8("()V"))
	p.entry(tagDynamic, uint16(0), nat)
	p.entry(tagInvokeDynamic, uint16(0), nat)
	p.entry(tagModule, p.utf8("mod"))
	p.entry(tagPackage, p.utf8("pkg"))
	_ = str

	this := p.class(c.name)
	var super uint16
	if c.super != "" {
		super = p.class(c.super)
	}
	ifaces := make([]uint16, len(c.interfaces))
	for i, name := range c.interfaces {
		ifaces[i] = p.class(name)
	}
	fieldName, fieldDesc, constValue := p.utf8("f"), p.utf8("I"), p.utf8("ConstantValue")
	code, lnt, smt, src := p.utf8(attrCode), p.utf8(attrLineNumberTable), p.utf8("StackMapTable"), p.utf8("SourceFile")
	type methodRef struct{ name, desc uint16 }
	refs := make([]methodRef, len(c.methods))
	for i, m := range c.methods {
		refs[i] = methodRef{p.utf8(m.name), p.utf8(m.desc)}
	}

	var out bytes.Buffer
	u4(&out, classMagic)
	u2(&out, 0)
	u2(&out, 52)
	u2(&out, p.next)
	out.Write(p.buf.Bytes())
	u2(&out, 0x21)
	u2(&out, this)
	u2(&out, super)
	u2(&out, uint16(len(ifaces)))
	for _, idx := range ifaces {
		u2(&out, idx)
	}

	// One field with a ConstantValue attribute.
	u2(&out, 1)
	u2(&out, 0x19)
	u2(&out, fieldName)
	u2(&out, fieldDesc)
	u2(&out, 1)
	u2(&out, constValue)
	u4(&out, 2)
	u2(&out, 1)

	u2(&out, uint16(len(c.methods)))
	for i, m := range c.methods {
		u2(&out, 0x1)
		u2(&out, refs[i].name)
		u2(&out, refs[i].desc)
		if m.noCode {
			u2(&out, 0)
			continue
		}
		u2(&out, 1)

		var body bytes.Buffer
		u2(&body, 2)
		u2(&body, 1)
		u4(&body, 3)
		body.Write([]byte{0x00, 0x00, 0xb1})
		u2(&body, 1) // one exception handler
		body.Write(make([]byte, 8))
		u2(&body, 2)
		u2(&body, smt)
		u4(&body, 2)
		body.Write([]byte{0, 0})
		u2(&body, lnt)
		u4(&body, uint32(2+4*len(m.lines)))
		u2(&body, uint16(len(m.lines)))
		for pc, line := range m.lines {
			u2(&body, uint16(pc))
			u2(&body, line)
		}

		u2(&out, code)
		u4(&out, uint32(body.Len()))
		out.Write(body.Bytes())
	}

	u2(&out, 1)
	u2(&out, src)
	u4(&out, 2)
	u2(&out, src)
	return out.Bytes()
}

func TestParse_Hierarchy(t *testing.T) {
	data := testClass{
		name:       "a",
		super:      "b",
		interfaces: []string{"c", "java/lang/Runnable"},
	}.build()

	m, err := Parse("a", data)
	require.NoError(t, err)
	assert.Equal(t, "a", m.Name)
	assert.Equal(t, "b", m.SuperName)
	assert.Equal(t, []string{"c", "java/lang/Runnable"}, m.Interfaces)
	assert.Empty(t, m.Lines)
}

func TestParse_RootClass(t *testing.T) {
	m, err := Parse("java/lang/Object", testClass{name: "java/lang/Object"}.build())
	require.NoError(t, err)
	assert.Equal(t, "", m.SuperName)
	assert.Nil(t, m.Interfaces)
}

func TestParse_LineTable(t *testing.T) {
	data := testClass{
		name:  "a",
		super: "java/lang/Object",
		methods: []testMethod{
			{name: "a", desc: "(I)V", lines: []uint16{3, 4}},
			{name: "b", desc: "()V", lines: []uint16{4, 6}},
			{name: "a", desc: "(J)V", lines: []uint16{3, 6}},
			{name: "c", desc: "()I", lines: []uint16{6}},
			{name: "abstractOne", desc: "()V", noCode: true},
		},
	}.build()

	m, err := Parse("a", data)
	require.NoError(t, err)

	want := []LineEntry{
		{}, {}, {},
		{Kind: LineSingle, Name: "a", Descriptor: "(I)V"},
		{Kind: LineByName, ByName: map[string]string{"a": "(I)V", "b": "()V"}},
		{},
		{Kind: LineByName, ByName: map[string]string{"b": "()V", "a": "(J)V", "c": "()I"}},
	}
	if diff := cmp.Diff(want, m.Lines); diff != "" {
		t.Errorf("Lines mismatch (-want +got):\n%s", diff)
	}
}

func TestDescriptorAt(t *testing.T) {
	m := &ClassMetadata{Lines: []LineEntry{
		{},
		{Kind: LineSingle, Name: "a", Descriptor: "(I)V"},
		{Kind: LineByName, ByName: map[string]string{"a": "(I)V", "b": "()V"}},
	}}

	tests := []struct {
		name   string
		line   int
		method string
		want   string
		ok     bool
	}{
		{name: "single", line: 1, method: "a", want: "(I)V", ok: true},
		{name: "single ignores name", line: 1, method: "zz", want: "(I)V", ok: true},
		{name: "by name", line: 2, method: "b", want: "()V", ok: true},
		{name: "by name miss", line: 2, method: "zz"},
		{name: "empty line", line: 0, method: "a"},
		{name: "past the end", line: 3, method: "a"},
		{name: "no line", line: -1, method: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.DescriptorAt(tt.line, tt.method)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	var nilMeta *ClassMetadata
	_, ok := nilMeta.DescriptorAt(1, "a")
	assert.False(t, ok)
}

func TestParse_Malformed(t *testing.T) {
	valid := testClass{
		name:    "a",
		super:   "java/lang/Object",
		methods: []testMethod{{name: "a", desc: "()V", lines: []uint16{1, 2}}},
	}.build()

	// The trailing class attributes are not read, so only cuts before them
	// are detectable.
	for cut := 0; cut < len(valid)-10; cut++ {
		_, err := Parse("a", valid[:cut])
		require.ErrorIs(t, err, ErrBadClassFormat, "cut at %d", cut)
	}

	badMagic := append([]byte{0xca, 0xfe, 0xd0, 0x0d}, valid[4:]...)
	_, err := Parse("a", badMagic)
	assert.ErrorIs(t, err, ErrBadClassFormat)

	// Constant pool starts at offset 10 with its first tag.
	badTag := bytes.Clone(valid)
	badTag[10] = 2
	_, err = Parse("a", badTag)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "a", fe.Class)
	assert.Contains(t, fe.Error(), "unknown constant pool tag 2")
}
