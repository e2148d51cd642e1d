package dist

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/tansy/vm"
)

func sampleFunction() *vm.FunctionDef {
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpOperatorValidated, 0, vm.MakeAddr(vm.ClassStack, 2),
		vm.MakeAddr(vm.ClassStack, 0), vm.MakeAddr(vm.ClassStack, 1))
	b.Emit(vm.OpReturn, vm.MakeAddr(vm.ClassStack, 2))
	b.Emit(vm.OpEnd)

	return &vm.FunctionDef{
		Name:       "sample",
		Code:       b.Words(),
		ParamCount: 2,
		StackSize:  3,
		Names:      []string{"length", "x"},
		Constants: []vm.Value{
			vm.NilValue(),
			vm.BoolValue(true),
			vm.IntValue(-7),
			vm.FloatValue(2.5),
			vm.Vector2Value(1, 2),
			vm.StringValue("hello"),
			vm.ArrayValue([]vm.Value{vm.IntValue(1), vm.StringValue("x")}),
		},
		Operators: []*vm.BinaryOp{
			vm.LookupBinaryOp(vm.OpAdd, vm.KindInt, vm.KindInt),
			vm.LookupBinaryOp(vm.OpMul, vm.KindVector2, vm.KindFloat),
		},
		IndexedAccessors: []*vm.IndexedAccessor{vm.ArrayIndexedGet, vm.ArrayIndexedSet},
		NamedAccessors:   []*vm.NamedAccessor{vm.Vector2GetX, vm.Vector2SetY},
		Constructors:     []*vm.Constructor{vm.CtorVector2FF, vm.CtorIntF},
		Methods:          []*vm.BoundMethod{vm.ArrayAppend, vm.StringLength},
		Utilities:        []*vm.Utility{vm.UtilAbs},
		ReturnKind:       vm.KindInt,
		TypedReturn:      true,
	}
}

func TestFunctionRoundTrip(t *testing.T) {
	fn := sampleFunction()
	data, err := MarshalFunction(fn)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	t.Logf("image size: %d bytes", len(data))

	got, err := UnmarshalFunction(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Name != fn.Name || got.ParamCount != fn.ParamCount ||
		got.StackSize != fn.StackSize || got.MemberCount != fn.MemberCount {
		t.Errorf("shape mismatch: %+v", got)
	}
	if got.ReturnKind != vm.KindInt || !got.TypedReturn {
		t.Errorf("signature mismatch: %v %v", got.ReturnKind, got.TypedReturn)
	}
	if len(got.Code) != len(fn.Code) {
		t.Fatalf("code length = %d, want %d", len(got.Code), len(fn.Code))
	}
	for i := range fn.Code {
		if got.Code[i] != fn.Code[i] {
			t.Fatalf("code word %d = %08x, want %08x", i, got.Code[i], fn.Code[i])
		}
	}
	if len(got.Names) != 2 || got.Names[0] != "length" {
		t.Errorf("names = %v", got.Names)
	}

	// Side tables resolve to the exact local registry entries.
	if got.Operators[0] != fn.Operators[0] || got.Operators[1] != fn.Operators[1] {
		t.Error("operators did not re-resolve to registry helpers")
	}
	if got.IndexedAccessors[0] != vm.ArrayIndexedGet || got.NamedAccessors[1] != vm.Vector2SetY {
		t.Error("accessors did not re-resolve")
	}
	if got.Constructors[1] != vm.CtorIntF || got.Methods[0] != vm.ArrayAppend || got.Utilities[0] != vm.UtilAbs {
		t.Error("call tables did not re-resolve")
	}

	// Constants, including the nested array.
	c := got.Constants
	if c[2].Int() != -7 || c[3].Float() != 2.5 || c[5].Str() != "hello" {
		t.Errorf("constants = %v", c)
	}
	if x, y := c[4].Lanes(); x != 1 || y != 2 {
		t.Errorf("vector constant = (%g, %g)", x, y)
	}
	elems := c[6].Elems()
	if len(elems) != 2 || elems[0].Int() != 1 || elems[1].Str() != "x" {
		t.Errorf("array constant = %v", elems)
	}

	// The statics binding never travels.
	if got.Statics != nil {
		t.Error("statics crossed the wire")
	}
}

func TestMarshalIsCanonical(t *testing.T) {
	fn := sampleFunction()
	a, err := MarshalFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal functions encoded to different bytes")
	}
}

func TestMarshalUnportableConstant(t *testing.T) {
	fn := &vm.FunctionDef{
		Name:      "bad",
		Code:      []uint32{uint32(vm.OpEnd)},
		Constants: []vm.Value{vm.DictValue()},
	}
	if _, err := MarshalFunction(fn); !errors.Is(err, ErrUnportableValue) {
		t.Errorf("err = %v, want %v", err, ErrUnportableValue)
	}
}

func TestMarshalUnknownOperator(t *testing.T) {
	stray := &vm.BinaryOp{Name: "stray", Fn: func(l, r, out *vm.Value) {}}
	fn := &vm.FunctionDef{
		Name:      "bad",
		Code:      []uint32{uint32(vm.OpEnd)},
		Operators: []*vm.BinaryOp{stray},
	}
	if _, err := MarshalFunction(fn); !errors.Is(err, ErrUnknownHelper) {
		t.Errorf("err = %v, want %v", err, ErrUnknownHelper)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := UnmarshalFunction([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Error("garbage decoded")
	}
}
