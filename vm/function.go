package vm

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"
)

// FunctionDef is one fully-resolved bytecode function as delivered by the
// bytecode producer: the instruction stream, its constant pool, the side
// tables that validated opcodes index into, and the declared signature.
// The JIT consumes it read-only.
type FunctionDef struct {
	Name string

	// Code is the flat instruction stream (see bytecode.go).
	Code []uint32

	// Constants is the constant pool addressed by ClassConstant slots.
	Constants []Value

	// ParamCount is how many leading stack slots are parameters; the
	// compiled prologue copies the caller's arguments into them.
	ParamCount int

	// StackSize is the number of named stack slots (parameters plus
	// locals). Temporaries are appended after these by the JIT.
	StackSize int

	// MemberCount is the size of the instance-member region addressed by
	// ClassMember slots.
	MemberCount int

	// Names is the string table referenced by named access, static
	// access, method-call and utility-call instructions.
	Names []string

	// Side tables of pre-resolved helpers, indexed by the small integers
	// embedded in validated instructions.
	Operators        []*BinaryOp
	IndexedAccessors []*IndexedAccessor
	NamedAccessors   []*NamedAccessor
	Constructors     []*Constructor
	Methods          []*BoundMethod
	Utilities        []*Utility

	// ReturnKind is the declared return kind; TypedReturn is false for an
	// untyped declaration, in which case the return value is copied
	// without coercion.
	ReturnKind  Kind
	TypedReturn bool

	// Statics is the static class-variable store this function resolves
	// GET_STATIC/SET_STATIC against. Optional; nil means an empty store.
	Statics *Statics
}

// NameAt looks up a string-table entry; out-of-range indexes yield "".
func (f *FunctionDef) NameAt(idx uint32) string {
	if int(idx) < len(f.Names) {
		return f.Names[idx]
	}
	return ""
}

// Checksum returns a CRC32 identifying the function for the on-disk
// compile cache: the instruction stream, the frame shape, the constant
// values, the name table, and the identity of every side-table helper.
// Everything that changes the compiled output changes the key.
func (f *FunctionDef) Checksum() uint32 {
	h := crc32.NewIEEE()
	for _, word := range f.Code {
		crcU32(h, word)
	}
	crcU32(h, uint32(f.ParamCount))
	crcU32(h, uint32(f.StackSize))
	crcU32(h, uint32(f.MemberCount))
	crcU32(h, uint32(f.ReturnKind))
	if f.TypedReturn {
		crcU32(h, 1)
	} else {
		crcU32(h, 0)
	}

	crcU32(h, uint32(len(f.Constants)))
	for i := range f.Constants {
		crcValue(h, &f.Constants[i])
	}
	crcU32(h, uint32(len(f.Names)))
	for _, n := range f.Names {
		crcStr(h, n)
	}

	crcU32(h, uint32(len(f.Operators)))
	for _, op := range f.Operators {
		crcHelper(h, op != nil, func() string { return op.Name })
	}
	crcU32(h, uint32(len(f.IndexedAccessors)))
	for _, a := range f.IndexedAccessors {
		crcHelper(h, a != nil, func() string { return a.Name })
	}
	crcU32(h, uint32(len(f.NamedAccessors)))
	for _, a := range f.NamedAccessors {
		crcHelper(h, a != nil, func() string { return a.Name })
	}
	crcU32(h, uint32(len(f.Constructors)))
	for _, c := range f.Constructors {
		crcHelper(h, c != nil, func() string { return c.Name })
	}
	crcU32(h, uint32(len(f.Methods)))
	for _, m := range f.Methods {
		crcHelper(h, m != nil, func() string { return m.Name })
	}
	crcU32(h, uint32(len(f.Utilities)))
	for _, u := range f.Utilities {
		crcHelper(h, u != nil, func() string { return u.Name })
	}
	return h.Sum32()
}

func crcU32(h io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	h.Write(b[:])
}

func crcU64(h io.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func crcStr(h io.Writer, s string) {
	crcU32(h, uint32(len(s)))
	io.WriteString(h, s)
}

func crcHelper(h io.Writer, present bool, name func() string) {
	if present {
		crcStr(h, name())
	} else {
		crcStr(h, "")
	}
}

// crcValue hashes a constant by content. Composite payloads recurse;
// dictionary and object entries are walked in sorted key order so the
// hash is stable across map iteration.
func crcValue(h io.Writer, v *Value) {
	crcU32(h, uint32(v.Kind))
	switch v.Kind {
	case KindNil:
	case KindBool, KindInt, KindFloat, KindVector2:
		crcU64(h, v.Bits)
	case KindString:
		crcStr(h, v.Str())
	case KindArray:
		elems := v.Elems()
		crcU32(h, uint32(len(elems)))
		for i := range elems {
			crcValue(h, &elems[i])
		}
	case KindDict:
		keys := make([]string, 0, len(v.Ref.entries))
		for k := range v.Ref.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		crcU32(h, uint32(len(keys)))
		for _, k := range keys {
			crcStr(h, k)
			e := v.Ref.entries[k]
			crcValue(h, &e)
		}
	case KindObject:
		crcStr(h, v.Ref.class)
		keys := make([]string, 0, len(v.Ref.fields))
		for k := range v.Ref.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		crcU32(h, uint32(len(keys)))
		for _, k := range keys {
			crcStr(h, k)
			fv := v.Ref.fields[k]
			crcValue(h, &fv)
		}
	}
}
