// Package classfile decodes compiled class units: the class name and
// accessibility, the source filename, and every declared method and field
// with its access and best-effort source line; visibility filtering is left
// to the caller. Only the structures the indexer
// needs are decoded; everything else, including vendor-specific attributes,
// is skipped over by its length prefix.
package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/adelbertc/ensime-server/pkg/types"
)

const magic = 0xCAFEBABE

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

// Access flag bits.
const (
	accPublic    = 0x0001
	accPrivate   = 0x0002
	accProtected = 0x0004
)

// ParseError reports a malformed class unit. Callers treat it as "no
// symbols" and log.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed class file at offset %d: %s", e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return types.ErrMalformedClass }

// Field is one declared field of a class.
type Field struct {
	Name       string
	Descriptor string
	Access     types.Access
}

// Method is one declared method of a class. Line is the first entry of the
// method's LineNumberTable, when present.
type Method struct {
	Name       string
	Descriptor string
	Access     types.Access
	Line       *int
}

// ClassFile is the decoded form of one class unit. Methods and Fields
// appear in declaration order. SourceLine is the smallest method line seen,
// approximating where the class starts in its source file.
type ClassFile struct {
	Name       types.ClassName
	SuperClass types.ClassName // "" for java.lang.Object and modules
	Access     types.Access
	SourceName *string
	SourceLine *int
	Methods    []Method
	Fields     []Field
}

// IsPublic reports whether the class itself is public.
func (c *ClassFile) IsPublic() bool { return c.Access == types.AccessPublic }

// reader walks the class bytes with a sticky error so parse code reads
// linearly. Every accessor is a no-op once an error is recorded.
type reader struct {
	data []byte
	off  int
	err  *ParseError
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = &ParseError{Offset: r.off, Msg: msg}
	}
}

func (r *reader) u1() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.data) {
		r.fail("truncated")
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.data) {
		r.fail("truncated")
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.fail("truncated")
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail("truncated")
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { _ = r.bytes(n) }

// constantPool holds the subset of pool entries the parser resolves:
// Utf8 strings and Class name references.
type constantPool struct {
	utf8    map[uint16]string
	classes map[uint16]uint16 // Class entry -> Utf8 index
}

func (cp *constantPool) utf8At(idx uint16) (string, bool) {
	s, ok := cp.utf8[idx]
	return s, ok
}

func (cp *constantPool) classNameAt(idx uint16) (string, bool) {
	nameIdx, ok := cp.classes[idx]
	if !ok {
		return "", false
	}
	return cp.utf8At(nameIdx)
}

// Parse decodes one class unit. A non-nil error is always a *ParseError
// wrapping types.ErrMalformedClass.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}

	if r.u4() != magic {
		r.fail("bad magic")
		return nil, r.err
	}
	r.u2() // minor
	r.u2() // major

	cp, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}

	access := r.u2()
	thisClass := r.u2()
	superClass := r.u2()

	interfaceCount := int(r.u2())
	r.skip(interfaceCount * 2)

	cls := &ClassFile{Access: toAccess(access)}

	if name, ok := cp.classNameAt(thisClass); ok {
		cls.Name = types.ClassNameFromInternal(name)
	} else if r.err == nil {
		r.fail("this_class does not resolve")
	}
	if superClass != 0 {
		if name, ok := cp.classNameAt(superClass); ok {
			cls.SuperClass = types.ClassNameFromInternal(name)
		}
	}

	fieldCount := int(r.u2())
	for i := 0; i < fieldCount && r.err == nil; i++ {
		f := parseMember(r, cp)
		cls.Fields = append(cls.Fields, Field{Name: f.name, Descriptor: f.descriptor, Access: f.access})
	}

	methodCount := int(r.u2())
	for i := 0; i < methodCount && r.err == nil; i++ {
		m := parseMember(r, cp)
		method := Method{Name: m.name, Descriptor: m.descriptor, Access: m.access, Line: m.line}
		cls.Methods = append(cls.Methods, method)
		if m.line != nil && (cls.SourceLine == nil || *m.line < *cls.SourceLine) {
			line := *m.line
			cls.SourceLine = &line
		}
	}

	attrCount := int(r.u2())
	for i := 0; i < attrCount && r.err == nil; i++ {
		nameIdx := r.u2()
		length := int(r.u4())
		name, _ := cp.utf8At(nameIdx)
		if name == "SourceFile" && length == 2 {
			if src, ok := cp.utf8At(r.u2()); ok {
				cls.SourceName = &src
			}
		} else {
			r.skip(length)
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	return cls, nil
}

func parseConstantPool(r *reader) (*constantPool, error) {
	count := int(r.u2())
	cp := &constantPool{
		utf8:    make(map[uint16]string),
		classes: make(map[uint16]uint16),
	}
	for i := 1; i < count && r.err == nil; i++ {
		tag := r.u1()
		switch tag {
		case tagUtf8:
			n := int(r.u2())
			cp.utf8[uint16(i)] = string(r.bytes(n))
		case tagClass:
			cp.classes[uint16(i)] = r.u2()
		case tagInteger, tagFloat, tagFieldref, tagMethodref,
			tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			i++ // 8-byte constants occupy two pool slots
		case tagString, tagMethodType, tagModule, tagPackage:
			r.skip(2)
		case tagMethodHandle:
			r.skip(3)
		default:
			r.fail(fmt.Sprintf("unknown constant pool tag %d", tag))
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return cp, nil
}

type member struct {
	name       string
	descriptor string
	access     types.Access
	line       *int
}

func parseMember(r *reader, cp *constantPool) member {
	var m member
	m.access = toAccess(r.u2())
	m.name, _ = cp.utf8At(r.u2())
	m.descriptor, _ = cp.utf8At(r.u2())

	attrCount := int(r.u2())
	for i := 0; i < attrCount && r.err == nil; i++ {
		nameIdx := r.u2()
		length := int(r.u4())
		name, _ := cp.utf8At(nameIdx)
		if name == "Code" {
			m.line = parseCodeLine(r, cp, length)
		} else {
			r.skip(length)
		}
	}
	return m
}

// parseCodeLine reads a Code attribute and returns the first
// LineNumberTable line, consuming exactly length bytes.
func parseCodeLine(r *reader, cp *constantPool, length int) *int {
	end := r.off + length
	var line *int

	r.u2() // max_stack
	r.u2() // max_locals
	codeLen := int(r.u4())
	r.skip(codeLen)
	excLen := int(r.u2())
	r.skip(excLen * 8)

	attrCount := int(r.u2())
	for i := 0; i < attrCount && r.err == nil; i++ {
		nameIdx := r.u2()
		attrLen := int(r.u4())
		name, _ := cp.utf8At(nameIdx)
		if name == "LineNumberTable" && line == nil {
			tableLen := int(r.u2())
			if tableLen > 0 {
				r.u2() // start_pc
				n := int(r.u2())
				line = &n
				r.skip((tableLen - 1) * 4)
			}
		} else {
			r.skip(attrLen)
		}
	}

	if r.err == nil && r.off != end {
		if r.off < end {
			r.skip(end - r.off)
		} else {
			r.fail("Code attribute overran its length")
		}
	}
	return line
}

func toAccess(flags uint16) types.Access {
	switch {
	case flags&accPublic != 0:
		return types.AccessPublic
	case flags&accProtected != 0:
		return types.AccessProtected
	case flags&accPrivate != 0:
		return types.AccessPrivate
	default:
		return types.AccessDefault
	}
}
