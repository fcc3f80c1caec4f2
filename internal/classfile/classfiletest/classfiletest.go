// Package classfiletest builds minimal, well-formed class units for tests.
// The emitted bytes contain exactly the structures the parser consumes:
// constant pool, access flags, fields, methods with optional line tables,
// and a SourceFile attribute.
package classfiletest

import (
	"bytes"
	"encoding/binary"
)

// Access flag bits, mirroring the classfile grammar.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
)

// Member describes one field or method to emit.
type Member struct {
	Name       string
	Descriptor string
	Access     uint16
	Line       int // methods only; 0 means no LineNumberTable
}

// Spec describes one class unit to emit.
type Spec struct {
	Name       string // internal form, e.g. "org/example/Foo$Bar"
	Access     uint16
	SourceName string // "" omits the SourceFile attribute
	Methods    []Member
	Fields     []Member
}

// pool accumulates constant pool entries on demand.
type pool struct {
	buf     bytes.Buffer
	count   uint16
	utf8s   map[string]uint16
	classes map[string]uint16
}

func newPool() *pool {
	return &pool{count: 1, utf8s: make(map[string]uint16), classes: make(map[string]uint16)}
}

func (p *pool) utf8(s string) uint16 {
	if idx, ok := p.utf8s[s]; ok {
		return idx
	}
	p.buf.WriteByte(1) // Utf8 tag
	writeU2(&p.buf, uint16(len(s)))
	p.buf.WriteString(s)
	idx := p.count
	p.count++
	p.utf8s[s] = idx
	return idx
}

func (p *pool) class(internalName string) uint16 {
	if idx, ok := p.classes[internalName]; ok {
		return idx
	}
	nameIdx := p.utf8(internalName)
	p.buf.WriteByte(7) // Class tag
	writeU2(&p.buf, nameIdx)
	idx := p.count
	p.count++
	p.classes[internalName] = idx
	return idx
}

// Build emits the class unit described by spec.
func Build(spec Spec) []byte {
	p := newPool()

	thisClass := p.class(spec.Name)
	superClass := p.class("java/lang/Object")

	var body bytes.Buffer
	writeU2(&body, spec.Access)
	writeU2(&body, thisClass)
	writeU2(&body, superClass)
	writeU2(&body, 0) // interfaces

	writeU2(&body, uint16(len(spec.Fields)))
	for _, f := range spec.Fields {
		writeU2(&body, f.Access)
		writeU2(&body, p.utf8(f.Name))
		writeU2(&body, p.utf8(f.Descriptor))
		writeU2(&body, 0) // attributes
	}

	writeU2(&body, uint16(len(spec.Methods)))
	for _, m := range spec.Methods {
		writeU2(&body, m.Access)
		writeU2(&body, p.utf8(m.Name))
		writeU2(&body, p.utf8(m.Descriptor))
		if m.Line > 0 {
			writeU2(&body, 1)
			writeCodeAttr(&body, p, m.Line)
		} else {
			writeU2(&body, 0)
		}
	}

	if spec.SourceName != "" {
		writeU2(&body, 1)
		writeU2(&body, p.utf8("SourceFile"))
		writeU4(&body, 2)
		writeU2(&body, p.utf8(spec.SourceName))
	} else {
		writeU2(&body, 0)
	}

	var out bytes.Buffer
	writeU4(&out, 0xCAFEBABE)
	writeU2(&out, 0)  // minor
	writeU2(&out, 52) // major (Java 8)
	writeU2(&out, p.count)
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// writeCodeAttr emits a Code attribute holding a bare return instruction
// and a one-entry LineNumberTable.
func writeCodeAttr(w *bytes.Buffer, p *pool, line int) {
	codeIdx := p.utf8("Code")
	lntIdx := p.utf8("LineNumberTable")

	var code bytes.Buffer
	writeU2(&code, 0) // max_stack
	writeU2(&code, 0) // max_locals
	writeU4(&code, 1)
	code.WriteByte(0xb1) // return
	writeU2(&code, 0)    // exception table
	writeU2(&code, 1)    // attributes
	writeU2(&code, lntIdx)
	writeU4(&code, 6) // table count + one entry
	writeU2(&code, 1)
	writeU2(&code, 0) // start_pc
	writeU2(&code, uint16(line))

	writeU2(w, codeIdx)
	writeU4(w, uint32(code.Len()))
	w.Write(code.Bytes())
}

func writeU2(w *bytes.Buffer, v uint16) {
	_ = binary.Write(w, binary.BigEndian, v)
}

func writeU4(w *bytes.Buffer, v uint32) {
	_ = binary.Write(w, binary.BigEndian, v)
}
