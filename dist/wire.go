// Package dist defines the portable on-wire image of a bytecode function.
// Functions travel as canonical CBOR, so equal functions encode to equal
// bytes; validated side tables travel by name (or, for operator helpers,
// by their proven operand kinds) and are re-resolved against this
// process's registries on decode.
package dist

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tansy/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

var (
	// ErrUnportableValue marks a constant that has no wire form, such as
	// a dictionary or a native object.
	ErrUnportableValue = errors.New("dist: value kind has no wire form")
	// ErrUnknownHelper marks a side-table entry this process cannot
	// resolve.
	ErrUnknownHelper = errors.New("dist: unknown validated helper")
)

type wireFunction struct {
	Name        string
	Code        []uint32
	Constants   []wireValue
	ParamCount  int
	StackSize   int
	MemberCount int
	Names       []string

	Operators        []wireOperator
	IndexedAccessors []string
	NamedAccessors   []string
	Constructors     []string
	Methods          []string
	Utilities        []string

	ReturnKind  uint32
	TypedReturn bool
}

// wireOperator carries a validated operator helper as its proven triple;
// the decoder re-resolves it through the operator registry.
type wireOperator struct {
	Op    uint32
	Left  uint32
	Right uint32
}

type wireValue struct {
	Kind  uint32
	Bits  uint64      `cbor:",omitempty"`
	Str   string      `cbor:",omitempty"`
	Elems []wireValue `cbor:",omitempty"`
}

// MarshalFunction serializes a function definition to canonical CBOR.
// The statics store is a runtime binding and does not travel.
func MarshalFunction(fn *vm.FunctionDef) ([]byte, error) {
	w := wireFunction{
		Name:        fn.Name,
		Code:        fn.Code,
		ParamCount:  fn.ParamCount,
		StackSize:   fn.StackSize,
		MemberCount: fn.MemberCount,
		Names:       fn.Names,
		ReturnKind:  uint32(fn.ReturnKind),
		TypedReturn: fn.TypedReturn,
	}
	for i := range fn.Constants {
		wv, err := encodeValue(&fn.Constants[i])
		if err != nil {
			return nil, fmt.Errorf("constant %d of %s: %w", i, fn.Name, err)
		}
		w.Constants = append(w.Constants, wv)
	}
	for i, op := range fn.Operators {
		d := vm.DescribeBinaryOp(op)
		if !d.Known {
			return nil, fmt.Errorf("%w: operator %d (%s) of %s", ErrUnknownHelper, i, op.Name, fn.Name)
		}
		w.Operators = append(w.Operators, wireOperator{uint32(d.Op), uint32(d.Left), uint32(d.Right)})
	}
	for _, a := range fn.IndexedAccessors {
		w.IndexedAccessors = append(w.IndexedAccessors, a.Name)
	}
	for _, a := range fn.NamedAccessors {
		w.NamedAccessors = append(w.NamedAccessors, a.Name)
	}
	for _, ct := range fn.Constructors {
		w.Constructors = append(w.Constructors, ct.Name)
	}
	for _, m := range fn.Methods {
		w.Methods = append(w.Methods, m.Name)
	}
	for _, u := range fn.Utilities {
		w.Utilities = append(w.Utilities, u.Name)
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalFunction deserializes a function definition, re-resolving all
// validated side tables. A helper the local registries do not know fails
// the whole decode; a half-resolved function is worse than none.
func UnmarshalFunction(data []byte) (*vm.FunctionDef, error) {
	var w wireFunction
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("dist: unmarshal function: %w", err)
	}
	fn := &vm.FunctionDef{
		Name:        w.Name,
		Code:        w.Code,
		ParamCount:  w.ParamCount,
		StackSize:   w.StackSize,
		MemberCount: w.MemberCount,
		Names:       w.Names,
		ReturnKind:  vm.Kind(w.ReturnKind),
		TypedReturn: w.TypedReturn,
	}
	for i, wv := range w.Constants {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, fmt.Errorf("constant %d of %s: %w", i, w.Name, err)
		}
		fn.Constants = append(fn.Constants, v)
	}
	for i, wo := range w.Operators {
		b := vm.LookupBinaryOp(vm.Operator(wo.Op), vm.Kind(wo.Left), vm.Kind(wo.Right))
		if b == nil {
			return nil, fmt.Errorf("%w: operator %d of %s", ErrUnknownHelper, i, w.Name)
		}
		fn.Operators = append(fn.Operators, b)
	}
	for _, name := range w.IndexedAccessors {
		a, ok := indexedAccessors[name]
		if !ok {
			return nil, fmt.Errorf("%w: indexed accessor %q", ErrUnknownHelper, name)
		}
		fn.IndexedAccessors = append(fn.IndexedAccessors, a)
	}
	for _, name := range w.NamedAccessors {
		a, ok := namedAccessors[name]
		if !ok {
			return nil, fmt.Errorf("%w: named accessor %q", ErrUnknownHelper, name)
		}
		fn.NamedAccessors = append(fn.NamedAccessors, a)
	}
	for _, name := range w.Constructors {
		ct, ok := constructors[name]
		if !ok {
			return nil, fmt.Errorf("%w: constructor %q", ErrUnknownHelper, name)
		}
		fn.Constructors = append(fn.Constructors, ct)
	}
	for _, name := range w.Methods {
		m, ok := methods[name]
		if !ok {
			return nil, fmt.Errorf("%w: method %q", ErrUnknownHelper, name)
		}
		fn.Methods = append(fn.Methods, m)
	}
	for _, name := range w.Utilities {
		u, ok := utilities[name]
		if !ok {
			return nil, fmt.Errorf("%w: utility %q", ErrUnknownHelper, name)
		}
		fn.Utilities = append(fn.Utilities, u)
	}
	return fn, nil
}

func encodeValue(v *vm.Value) (wireValue, error) {
	switch v.Kind {
	case vm.KindNil:
		return wireValue{Kind: uint32(vm.KindNil)}, nil
	case vm.KindBool, vm.KindInt, vm.KindFloat, vm.KindVector2:
		return wireValue{Kind: uint32(v.Kind), Bits: v.Bits}, nil
	case vm.KindString:
		return wireValue{Kind: uint32(vm.KindString), Str: v.Str()}, nil
	case vm.KindArray:
		wv := wireValue{Kind: uint32(vm.KindArray)}
		elems := v.Elems()
		for i := range elems {
			e, err := encodeValue(&elems[i])
			if err != nil {
				return wireValue{}, err
			}
			wv.Elems = append(wv.Elems, e)
		}
		return wv, nil
	}
	return wireValue{}, fmt.Errorf("%w: %s", ErrUnportableValue, v.Kind)
}

func decodeValue(w wireValue) (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindNil:
		return vm.NilValue(), nil
	case vm.KindBool:
		return vm.BoolValue(w.Bits != 0), nil
	case vm.KindInt:
		v := vm.IntValue(0)
		v.Bits = w.Bits
		return v, nil
	case vm.KindFloat:
		v := vm.FloatValue(0)
		v.Bits = w.Bits
		return v, nil
	case vm.KindVector2:
		x, y := vm.UnpackLanes(w.Bits)
		return vm.Vector2Value(x, y), nil
	case vm.KindString:
		return vm.StringValue(w.Str), nil
	case vm.KindArray:
		elems := make([]vm.Value, 0, len(w.Elems))
		for _, e := range w.Elems {
			v, err := decodeValue(e)
			if err != nil {
				return vm.Value{}, err
			}
			elems = append(elems, v)
		}
		return vm.ArrayValue(elems), nil
	}
	return vm.Value{}, fmt.Errorf("%w: kind %d", ErrUnportableValue, w.Kind)
}
