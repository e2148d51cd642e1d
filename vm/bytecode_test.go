package vm

import (
	"strings"
	"testing"
)

func TestInstructionLength(t *testing.T) {
	b := NewCodeBuilder()
	b.Emit(OpAssign, MakeAddr(ClassStack, 0), MakeAddr(ClassConstant, 0))
	callPos := b.Emit(OpCallMethod, 0, MakeAddr(ClassStack, 0), MakeAddr(ClassStack, 1), 2,
		MakeAddr(ClassConstant, 0), MakeAddr(ClassConstant, 1))
	endPos := b.Emit(OpEnd)
	code := b.Words()

	if n, ok := InstructionLength(code, 0); !ok || n != 3 {
		t.Errorf("ASSIGN length = %d, %v", n, ok)
	}
	// CALL_METHOD is 5 fixed words plus the two trailing argument words.
	if n, ok := InstructionLength(code, callPos); !ok || n != 7 {
		t.Errorf("CALL_METHOD length = %d, %v", n, ok)
	}
	if n, ok := InstructionLength(code, endPos); !ok || n != 1 {
		t.Errorf("END length = %d, %v", n, ok)
	}
}

func TestInstructionLengthErrors(t *testing.T) {
	if _, ok := InstructionLength([]uint32{0xdead}, 0); ok {
		t.Error("unknown opcode accepted")
	}
	// ASSIGN needs three words; give it two.
	if _, ok := InstructionLength([]uint32{uint32(OpAssign), 0}, 0); ok {
		t.Error("truncated instruction accepted")
	}
	// Variadic form whose argument list runs past the stream.
	trunc := []uint32{uint32(OpConstructArray), MakeAddr(ClassStack, 0), 5}
	if _, ok := InstructionLength(trunc, 0); ok {
		t.Error("truncated argument list accepted")
	}
	if _, ok := InstructionLength(nil, 0); ok {
		t.Error("empty stream accepted")
	}
}

func TestAddrEncoding(t *testing.T) {
	tests := []struct {
		class StorageClass
		index int
	}{
		{ClassStack, 0},
		{ClassStack, 12345},
		{ClassConstant, 7},
		{ClassMember, 3},
	}
	for _, tt := range tests {
		word := MakeAddr(tt.class, tt.index)
		class, index, ok := DecodeAddr(word)
		if !ok || class != tt.class || index != tt.index {
			t.Errorf("round trip of (%d, %d) = (%d, %d, %v)",
				tt.class, tt.index, class, index, ok)
		}
	}

	// The fourth class bit pattern is not a valid address.
	if _, _, ok := DecodeAddr(uint32(3) << 30); ok {
		t.Error("invalid storage class decoded")
	}
}

func TestAddrString(t *testing.T) {
	if s := AddrString(MakeAddr(ClassStack, 2)); s != "stack[2]" {
		t.Errorf("AddrString = %q", s)
	}
	if s := AddrString(MakeAddr(ClassConstant, 0)); s != "const[0]" {
		t.Errorf("AddrString = %q", s)
	}
	if s := AddrString(uint32(3) << 30); !strings.HasPrefix(s, "bad(") {
		t.Errorf("AddrString of invalid address = %q", s)
	}
}

func TestDisassemble(t *testing.T) {
	b := NewCodeBuilder()
	b.Emit(OpAssignTrue, MakeAddr(ClassStack, 0))
	b.Emit(OpReturn, MakeAddr(ClassStack, 0))
	b.Emit(OpEnd)
	listing := Disassemble(b.Words())
	t.Logf("listing:\n%s", listing)

	for _, want := range []string{"ASSIGN_TRUE", "RETURN", "END"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %s", want)
		}
	}
}

func TestDisassembleUnknownOpcode(t *testing.T) {
	listing := Disassemble([]uint32{uint32(OpEnd), 0xbeef, 1, 2})
	t.Logf("listing:\n%s", listing)
	// The listing stops at the unknown word rather than guessing operand
	// boundaries.
	if !strings.Contains(listing, "unknown opcode") {
		t.Error("listing missing unknown-opcode marker")
	}
	if strings.Count(listing, "\n") != 2 {
		t.Errorf("listing continued past the unknown opcode:\n%s", listing)
	}
}

func TestCodeBuilderPatch(t *testing.T) {
	b := NewCodeBuilder()
	b.Emit(OpJump, 0)
	target := b.Len()
	b.Emit(OpEnd)
	b.Patch(1, uint32(target))
	if b.Words()[1] != uint32(target) {
		t.Errorf("patched word = %d, want %d", b.Words()[1], target)
	}
}

func TestFunctionChecksum(t *testing.T) {
	fn := &FunctionDef{
		Name:      "f",
		Code:      []uint32{uint32(OpEnd)},
		StackSize: 2,
	}
	sum := fn.Checksum()
	if sum != fn.Checksum() {
		t.Error("checksum is not stable")
	}
	fn.StackSize = 3
	if fn.Checksum() == sum {
		t.Error("checksum ignores the frame shape")
	}
}

// Two functions with identical code must not share a checksum when their
// constants, name table or side-table helpers differ; the checksum is the
// compile-cache key, so a collision serves the wrong function.
func TestFunctionChecksumContent(t *testing.T) {
	base := func() *FunctionDef {
		return &FunctionDef{
			Name:      "f",
			Code:      []uint32{uint32(OpReturn), uint32(MakeAddr(ClassConstant, 0)), uint32(OpEnd)},
			StackSize: 1,
			Constants: []Value{IntValue(1)},
			Names:     []string{"length"},
			Operators: []*BinaryOp{LookupBinaryOp(OpAdd, KindInt, KindInt)},
		}
	}
	sum := base().Checksum()

	mutations := []struct {
		name string
		edit func(*FunctionDef)
	}{
		{"constant value", func(f *FunctionDef) { f.Constants[0] = IntValue(2) }},
		{"constant kind", func(f *FunctionDef) { f.Constants[0] = FloatValue(1) }},
		{"string constant", func(f *FunctionDef) { f.Constants[0] = StringValue("x") }},
		{"array constant", func(f *FunctionDef) { f.Constants[0] = ArrayValue([]Value{IntValue(1)}) }},
		{"name table", func(f *FunctionDef) { f.Names[0] = "size" }},
		{"operator helper", func(f *FunctionDef) { f.Operators[0] = LookupBinaryOp(OpSub, KindInt, KindInt) }},
		{"extra side table", func(f *FunctionDef) { f.Utilities = []*Utility{UtilAbs} }},
		{"typed return", func(f *FunctionDef) { f.TypedReturn = true; f.ReturnKind = KindInt }},
	}
	for _, m := range mutations {
		fn := base()
		m.edit(fn)
		if fn.Checksum() == sum {
			t.Errorf("%s: checksum unchanged", m.name)
		}
	}

	// Content-equal functions do agree, including across composite
	// constants with map payloads.
	a, b := base(), base()
	d1, d2 := DictValue(), DictValue()
	for _, k := range []string{"b", "a", "c"} {
		key := StringValue(k)
		src := IntValue(int64(len(k)))
		var ok bool
		SetKeyed(&d1, &key, &src, &ok)
		SetKeyed(&d2, &key, &src, &ok)
	}
	a.Constants = append(a.Constants, d1)
	b.Constants = append(b.Constants, d2)
	if a.Checksum() != b.Checksum() {
		t.Error("content-equal functions disagree")
	}
}
