package vm

import (
	"fmt"
	"math"
	"unsafe"
)

// Value is the universal Tansy runtime value: a 4-byte kind tag followed by
// a payload region. Scalar kinds (Int, Float, Vector2) live inline in the
// Bits word; reference kinds (String, Array, Dict, Object) live behind the
// Ref pointer.
//
// The memory layout is load-bearing: the JIT addresses individual fields of
// a Value by byte offset (see the layout constants below), so the field
// order and padding here must not change without updating generated code.
//
// Invariant: Kind always reflects the currently-valid payload
// interpretation. No code path reads Bits or Ref without having just
// established the kind or checked it first.
type Value struct {
	Kind Kind
	_    uint32
	Bits uint64
	Ref  *Object
}

// Kind is the runtime type discriminator stored in a Value's tag field.
type Kind uint32

// Value kinds.
const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindVector2
	KindString
	KindArray
	KindDict
	KindObject

	KindCount // number of kinds; not itself a kind
)

var kindNames = [KindCount]string{
	"Nil", "Bool", "Int", "Float", "Vector2",
	"String", "Array", "Dict", "Object",
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if k < KindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// IsScalar reports whether values of this kind store their whole payload
// inline in the Bits word.
func (k Kind) IsScalar() bool {
	switch k {
	case KindNil, KindBool, KindInt, KindFloat, KindVector2:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Layout constants
// ---------------------------------------------------------------------------

// Byte offsets of Value fields, used by the JIT when forming memory
// operands. Vector2 packs its two float32 lanes into the Bits word: the x
// lane at BitsOffset, the y lane four bytes after it.
const (
	ValueSize  = int32(unsafe.Sizeof(Value{}))
	KindOffset = int32(unsafe.Offsetof(Value{}.Kind))
	BitsOffset = int32(unsafe.Offsetof(Value{}.Bits))
	RefOffset  = int32(unsafe.Offsetof(Value{}.Ref))

	LaneXOffset = BitsOffset
	LaneYOffset = BitsOffset + 4
)

// Field access widths for memory operands.
const (
	Width32 = 4
	Width64 = 8
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NilValue returns the nil value.
func NilValue() Value {
	return Value{Kind: KindNil}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.Bits = 1
	}
	return v
}

// IntValue returns a 64-bit integer value.
func IntValue(n int64) Value {
	return Value{Kind: KindInt, Bits: uint64(n)}
}

// FloatValue returns a 64-bit float value.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Bits: math.Float64bits(f)}
}

// Vector2Value returns a 2D vector value with the given lanes.
func Vector2Value(x, y float32) Value {
	return Value{Kind: KindVector2, Bits: PackLanes(x, y)}
}

// StringValue returns a string value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Ref: newStringObject(s)}
}

// ArrayValue returns an array value wrapping the given elements.
// The slice is not copied.
func ArrayValue(elems []Value) Value {
	return Value{Kind: KindArray, Ref: newArrayObject(elems)}
}

// DictValue returns an empty dictionary value.
func DictValue() Value {
	return Value{Kind: KindDict, Ref: newDictObject()}
}

// ObjectValue returns an object value wrapping an instance.
func ObjectValue(obj *Object) Value {
	return Value{Kind: KindObject, Ref: obj}
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// Bool returns v's boolean payload. Panics if v is not a Bool.
func (v Value) Bool() bool {
	if v.Kind != KindBool {
		panic("Value.Bool: not a boolean")
	}
	return v.Bits != 0
}

// Int returns v's integer payload. Panics if v is not an Int.
func (v Value) Int() int64 {
	if v.Kind != KindInt {
		panic("Value.Int: not an integer")
	}
	return int64(v.Bits)
}

// Float returns v's float payload. Panics if v is not a Float.
func (v Value) Float() float64 {
	if v.Kind != KindFloat {
		panic("Value.Float: not a float")
	}
	return math.Float64frombits(v.Bits)
}

// Lanes returns v's vector lanes. Panics if v is not a Vector2.
func (v Value) Lanes() (x, y float32) {
	if v.Kind != KindVector2 {
		panic("Value.Lanes: not a vector")
	}
	return UnpackLanes(v.Bits)
}

// Str returns v's string payload. Panics if v is not a String.
func (v Value) Str() string {
	if v.Kind != KindString {
		panic("Value.Str: not a string")
	}
	return v.Ref.str
}

// Elems returns v's array elements. Panics if v is not an Array.
// The returned slice aliases the array's backing store.
func (v Value) Elems() []Value {
	if v.Kind != KindArray {
		panic("Value.Elems: not an array")
	}
	return v.Ref.elems
}

// AsFloat converts an Int or Float value to float64.
// Panics for any other kind.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInt:
		return float64(int64(v.Bits))
	case KindFloat:
		return math.Float64frombits(v.Bits)
	}
	panic("Value.AsFloat: not numeric")
}

// IsTruthy reports whether v is considered true in conditionals: nil and
// false are falsy, numeric zero is falsy, everything else is truthy.
func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool, KindInt:
		return v.Bits != 0
	case KindFloat:
		return math.Float64frombits(v.Bits) != 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Lane packing
// ---------------------------------------------------------------------------

// PackLanes packs two float32 lanes into a single payload word, x in the
// low 32 bits, y in the high 32 bits.
func PackLanes(x, y float32) uint64 {
	return uint64(math.Float32bits(x)) | uint64(math.Float32bits(y))<<32
}

// UnpackLanes splits a payload word into two float32 lanes.
func UnpackLanes(bits uint64) (x, y float32) {
	return math.Float32frombits(uint32(bits)), math.Float32frombits(uint32(bits >> 32))
}

// String implements the Stringer interface.
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.Bits != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", int64(v.Bits))
	case KindFloat:
		return fmt.Sprintf("%g", math.Float64frombits(v.Bits))
	case KindVector2:
		x, y := UnpackLanes(v.Bits)
		return fmt.Sprintf("(%g, %g)", x, y)
	case KindString:
		return fmt.Sprintf("%q", v.Ref.str)
	case KindArray:
		return fmt.Sprintf("Array(%d)", len(v.Ref.elems))
	case KindDict:
		return fmt.Sprintf("Dict(%d)", len(v.Ref.entries))
	case KindObject:
		if v.Ref == nil {
			return "Object(nil)"
		}
		return fmt.Sprintf("Object(%s)", v.Ref.class)
	}
	return fmt.Sprintf("Value(kind=%d)", uint32(v.Kind))
}
