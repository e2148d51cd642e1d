package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Value copy
// ---------------------------------------------------------------------------

// CopyValue copies a full tagged value, keeping the advisory share counter
// of reference payloads in step. This is the generic assignment path; the
// JIT inlines only same-scalar-kind copies.
func CopyValue(dst, src *Value) {
	if dst == src {
		return
	}
	src.Ref.retain()
	dst.Ref.release()
	*dst = *src
}

// CopyTyped copies src into dst, coercing the payload to the target kind.
// Same-kind copies behave exactly like CopyValue; numeric, boolean and
// string targets convert; anything else falls back to an untyped copy,
// leaving stricter enforcement to the bytecode producer.
func CopyTyped(kind Kind, dst, src *Value) {
	if src.Kind == kind {
		CopyValue(dst, src)
		return
	}
	switch kind {
	case KindInt:
		switch src.Kind {
		case KindFloat:
			*dst = IntValue(int64(src.AsFloat()))
			return
		case KindBool:
			if src.Bits != 0 {
				*dst = IntValue(1)
			} else {
				*dst = IntValue(0)
			}
			return
		}
	case KindFloat:
		switch src.Kind {
		case KindInt:
			*dst = FloatValue(float64(int64(src.Bits)))
			return
		case KindBool:
			*dst = FloatValue(float64(src.Bits & 1))
			return
		}
	case KindBool:
		*dst = BoolValue(src.IsTruthy())
		return
	case KindString:
		// The fresh string is held by dst alone; going through CopyValue
		// would leave its share counter at 2.
		s := StringValue(src.String())
		dst.Ref.release()
		*dst = s
		return
	}
	CopyValue(dst, src)
}

// IsShared reports whether v aliases a reference payload that more than
// one value currently holds. Scalar kinds are never shared.
func IsShared(v *Value) bool {
	return v.Ref.Shared()
}

// Booleanize converts any value to a native boolean using truthiness
// rules. This is the slow path behind conditional jumps; Bool and Int
// payloads are tested inline by generated code.
func Booleanize(v *Value) bool {
	return v.IsTruthy()
}

// ---------------------------------------------------------------------------
// Keyed access (runtime-computed key)
// ---------------------------------------------------------------------------

// GetKeyed reads base[key] for arrays (integer key), dictionaries and
// objects (string key). Sets *ok to false on a bad base kind, bad key kind
// or out-of-range index.
func GetKeyed(base, key, dst *Value, ok *bool) {
	*ok = true
	switch base.Kind {
	case KindArray:
		if key.Kind != KindInt {
			break
		}
		idx := int64(key.Bits)
		elems := base.Ref.elems
		if idx < 0 || idx >= int64(len(elems)) {
			break
		}
		CopyValue(dst, &elems[idx])
		return
	case KindDict:
		if key.Kind != KindString {
			break
		}
		if v, found := base.Ref.entries[key.Ref.str]; found {
			tmp := v
			CopyValue(dst, &tmp)
			return
		}
	case KindObject:
		if key.Kind != KindString {
			break
		}
		tmp := base.Ref.Field(key.Ref.str)
		CopyValue(dst, &tmp)
		return
	}
	*ok = false
	*dst = NilValue()
}

// SetKeyed writes base[key] = src with the same kind rules as GetKeyed.
func SetKeyed(base, key, src *Value, ok *bool) {
	*ok = true
	switch base.Kind {
	case KindArray:
		if key.Kind != KindInt {
			break
		}
		idx := int64(key.Bits)
		elems := base.Ref.elems
		if idx < 0 || idx >= int64(len(elems)) {
			break
		}
		CopyValue(&elems[idx], src)
		return
	case KindDict:
		if key.Kind != KindString {
			break
		}
		src.Ref.retain()
		base.Ref.entries[key.Ref.str] = *src
		return
	case KindObject:
		if key.Kind != KindString {
			break
		}
		src.Ref.retain()
		base.Ref.SetField(key.Ref.str, *src)
		return
	}
	*ok = false
}

// ---------------------------------------------------------------------------
// Named access
// ---------------------------------------------------------------------------

// GetNamed reads a named member of a value: vector lanes, string length,
// array size, dict/object entries. Sets *ok to false for unknown names.
func GetNamed(base *Value, name string, dst *Value, ok *bool) {
	*ok = true
	switch base.Kind {
	case KindVector2:
		x, y := UnpackLanes(base.Bits)
		switch name {
		case "x":
			*dst = FloatValue(float64(x))
			return
		case "y":
			*dst = FloatValue(float64(y))
			return
		}
	case KindString:
		if name == "length" {
			*dst = IntValue(int64(len(base.Ref.str)))
			return
		}
	case KindArray:
		if name == "size" {
			*dst = IntValue(int64(len(base.Ref.elems)))
			return
		}
	case KindDict:
		if v, found := base.Ref.entries[name]; found {
			tmp := v
			CopyValue(dst, &tmp)
			return
		}
	case KindObject:
		tmp := base.Ref.Field(name)
		CopyValue(dst, &tmp)
		return
	}
	*ok = false
	*dst = NilValue()
}

// SetNamed writes a named member of a value. Vector lanes accept Int or
// Float sources; everything else follows GetNamed's shape.
func SetNamed(base *Value, name string, src *Value, ok *bool) {
	*ok = true
	switch base.Kind {
	case KindVector2:
		if src.Kind != KindInt && src.Kind != KindFloat {
			break
		}
		x, y := UnpackLanes(base.Bits)
		switch name {
		case "x":
			base.Bits = PackLanes(float32(src.AsFloat()), y)
			return
		case "y":
			base.Bits = PackLanes(x, float32(src.AsFloat()))
			return
		}
	case KindDict:
		src.Ref.retain()
		base.Ref.entries[name] = *src
		return
	case KindObject:
		src.Ref.retain()
		base.Ref.SetField(name, *src)
		return
	}
	*ok = false
}

// ---------------------------------------------------------------------------
// Validated accessors
// ---------------------------------------------------------------------------

// IndexedFn is the calling convention for a validated indexed accessor:
// the index arrives as a native integer, there is no validity flag, and
// bounds behavior belongs to the accessor itself.
type IndexedFn func(base *Value, index int64, v *Value)

// IndexedAccessor is a pre-resolved, kind-specialized indexed getter or
// setter carried in validated bytecode.
type IndexedAccessor struct {
	Name string
	Fn   IndexedFn
}

// ArrayIndexedGet is the validated element getter for arrays. Out-of-range
// indexes clamp into the backing store modulo its length; an empty array
// yields nil. The JIT adds no bounds check of its own on top of this.
var ArrayIndexedGet = &IndexedAccessor{
	Name: "Array.get",
	Fn: func(base *Value, index int64, v *Value) {
		elems := base.Ref.elems
		if len(elems) == 0 {
			*v = NilValue()
			return
		}
		i := index % int64(len(elems))
		if i < 0 {
			i += int64(len(elems))
		}
		CopyValue(v, &elems[i])
	},
}

// ArrayIndexedSet is the validated element setter for arrays, with the
// same wrapping bounds behavior as ArrayIndexedGet.
var ArrayIndexedSet = &IndexedAccessor{
	Name: "Array.set",
	Fn: func(base *Value, index int64, v *Value) {
		elems := base.Ref.elems
		if len(elems) == 0 {
			return
		}
		i := index % int64(len(elems))
		if i < 0 {
			i += int64(len(elems))
		}
		CopyValue(&elems[i], v)
	},
}

// NamedFn is the calling convention for a validated named getter/setter.
type NamedFn func(base, v *Value)

// NamedAccessor is a pre-resolved named getter or setter. Accessors whose
// Lane field is nonnegative read or write a Vector2 float32 lane; the JIT
// inlines those without any call.
type NamedAccessor struct {
	Name string
	Lane int32 // 0 = x, 1 = y, -1 = not a lane accessor
	Fn   NamedFn
}

// Validated named accessors for Vector2 lanes.
var (
	Vector2GetX = &NamedAccessor{Name: "Vector2.x", Lane: 0, Fn: laneGet(0)}
	Vector2GetY = &NamedAccessor{Name: "Vector2.y", Lane: 1, Fn: laneGet(1)}
	Vector2SetX = &NamedAccessor{Name: "Vector2.x=", Lane: 0, Fn: laneSet(0)}
	Vector2SetY = &NamedAccessor{Name: "Vector2.y=", Lane: 1, Fn: laneSet(1)}
)

func laneGet(lane int) NamedFn {
	return func(base, v *Value) {
		x, y := UnpackLanes(base.Bits)
		if lane == 0 {
			*v = FloatValue(float64(x))
		} else {
			*v = FloatValue(float64(y))
		}
	}
}

func laneSet(lane int) NamedFn {
	return func(base, v *Value) {
		x, y := UnpackLanes(base.Bits)
		f := float32(v.AsFloat())
		if lane == 0 {
			base.Bits = PackLanes(f, y)
		} else {
			base.Bits = PackLanes(x, f)
		}
	}
}

// ---------------------------------------------------------------------------
// Static class variables
// ---------------------------------------------------------------------------

// Statics is the process-wide static class-variable store, keyed by
// "Class.name". Loads of absent statics yield nil-kind.
type Statics struct {
	vars map[string]Value
}

// NewStatics creates an empty static-variable store.
func NewStatics() *Statics {
	return &Statics{vars: make(map[string]Value)}
}

func staticKey(class, name string) string {
	return fmt.Sprintf("%s.%s", class, name)
}

// Get reads a static class variable.
func (s *Statics) Get(class, name string, dst *Value) {
	if v, ok := s.vars[staticKey(class, name)]; ok {
		tmp := v
		CopyValue(dst, &tmp)
		return
	}
	*dst = NilValue()
}

// Set writes a static class variable.
func (s *Statics) Set(class, name string, src *Value) {
	src.Ref.retain()
	s.vars[staticKey(class, name)] = *src
}

// ---------------------------------------------------------------------------
// Iteration helpers (generic containers)
// ---------------------------------------------------------------------------

// IterBegin starts iteration over a container: iter receives the internal
// position (an Int cursor) and counter receives the first element. Sets
// *ok to false when the container is empty or its kind cannot be iterated,
// in which case the loop must not be entered.
func IterBegin(container, counter, iter *Value, ok *bool) {
	*iter = IntValue(0)
	iterElem(container, counter, 0, ok)
}

// IterAdvance moves an iteration started by IterBegin to the next element.
// Sets *ok to false when the container is exhausted.
func IterAdvance(container, counter, iter *Value, ok *bool) {
	next := int64(iter.Bits) + 1
	iter.Bits = uint64(next)
	iterElem(container, counter, next, ok)
}

func iterElem(container, counter *Value, index int64, ok *bool) {
	switch container.Kind {
	case KindArray:
		elems := container.Ref.elems
		if index >= int64(len(elems)) {
			*ok = false
			return
		}
		CopyValue(counter, &elems[index])
		*ok = true
	case KindDict:
		// Dictionaries iterate their keys in sorted order, so that loop
		// order is stable across runs.
		keys := make([]string, 0, len(container.Ref.entries))
		for k := range container.Ref.entries {
			keys = append(keys, k)
		}
		if index >= int64(len(keys)) {
			*ok = false
			return
		}
		sort.Strings(keys)
		key := StringValue(keys[index])
		CopyValue(counter, &key)
		*ok = true
	default:
		*ok = false
	}
}
