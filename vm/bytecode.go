package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the first word of every bytecode instruction. The stream is a
// flat []uint32: opcode word, then a fixed number of operand words, plus a
// trailing argument list for the variadic call/construct opcodes.
type Opcode uint32

// Operators and assignment
const (
	OpEnd               Opcode = 0x00 // terminal marker, emits nothing
	OpLine              Opcode = 0x01 // debug line number, emits nothing
	OpOperator          Opcode = 0x02 // dynamic binary operator (op, dst, left, right)
	OpOperatorValidated Opcode = 0x03 // pre-resolved operator helper (helper, dst, left, right)
	OpAssign            Opcode = 0x04 // generic value copy (dst, src)
	OpAssignTrue        Opcode = 0x05 // dst := true
	OpAssignFalse       Opcode = 0x06 // dst := false
	OpAssignTyped       Opcode = 0x07 // copy with coercion to kind (kind, dst, src)
)

// Load/store
const (
	OpGetKeyed            Opcode = 0x10 // dst := base[key], runtime key
	OpSetKeyed            Opcode = 0x11 // base[key] := src, runtime key
	OpGetIndexedValidated Opcode = 0x12 // specialized indexed getter (accessor, dst, base, index)
	OpSetIndexedValidated Opcode = 0x13 // specialized indexed setter (accessor, base, index, src)
	OpGetNamed            Opcode = 0x14 // dst := base.name (name, dst, base)
	OpSetNamed            Opcode = 0x15 // base.name := src (name, base, src)
	OpGetNamedValidated   Opcode = 0x16 // specialized named getter (accessor, dst, base)
	OpSetNamedValidated   Opcode = 0x17 // specialized named setter (accessor, base, src)
	OpGetStatic           Opcode = 0x18 // dst := Class.var (class, name, dst)
	OpSetStatic           Opcode = 0x19 // Class.var := src (class, name, src)
)

// Construction
const (
	OpConstruct           Opcode = 0x20 // generic constructor (kind, dst, argc, args...)
	OpConstructValidated  Opcode = 0x21 // specialized constructor (ctor, dst, argc, args...)
	OpConstructArray      Opcode = 0x22 // array from N values (dst, argc, args...)
	OpConstructTypedArray Opcode = 0x23 // typed array (elemKind, className, dst, argc, args...)
)

// Calls
const (
	OpCallMethod            Opcode = 0x30 // named method bridge (name, dst, base, argc, args...)
	OpCallMethodValidated   Opcode = 0x31 // pre-resolved method (method, dst, base, argc, args...)
	OpCallMethodValidatedNR Opcode = 0x32 // pre-resolved no-return method, dst still gets nil
	OpCallUtility           Opcode = 0x33 // named utility bridge (name, dst, argc, args...)
	OpCallUtilityValidated  Opcode = 0x34 // pre-resolved utility (util, dst, argc, args...)
)

// Control flow
const (
	OpJump         Opcode = 0x40 // unconditional (target)
	OpJumpIf       Opcode = 0x41 // branch if truthy (cond, target)
	OpJumpIfNot    Opcode = 0x42 // branch if falsy (cond, target)
	OpJumpIfShared Opcode = 0x43 // branch if reference payload is shared (cond, target)
)

// Iteration. The begin forms sit above the loop body and branch forward
// to their target when the loop is not entered; the advance forms sit
// below the body and branch backward to it while iteration continues.
const (
	OpIterBeginRange Opcode = 0x50 // (counter, from, to, step, iter, exit)
	OpIterRange      Opcode = 0x51 // (counter, to, step, iter, body)
	OpIterBeginArray Opcode = 0x52 // (counter, container, iter, exit)
	OpIterArray      Opcode = 0x53 // (counter, container, iter, body)
	OpIterBegin      Opcode = 0x54 // generic container (counter, container, iter, exit)
	OpIterNext       Opcode = 0x55 // generic container (counter, container, iter, body)
)

// Return
const (
	OpReturn Opcode = 0x60 // copy/coerce src into the result slot and return (src)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo is the static metadata for one opcode. Both the jump-target
// analysis pass and the translation pass decode instruction lengths from
// this one table; a second, hand-maintained length computation is exactly
// the divergence bug this table exists to prevent.
type OpcodeInfo struct {
	Name  string
	Words int // fixed instruction length in words, including the opcode
	ArgcA int // word index of the argument count, -1 for fixed-length opcodes
	JumpA int // word index of the jump-target operand, -1 for non-branching opcodes
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpEnd:               {"END", 1, -1, -1},
	OpLine:              {"LINE", 2, -1, -1},
	OpOperator:          {"OPERATOR", 5, -1, -1},
	OpOperatorValidated: {"OPERATOR_VALIDATED", 5, -1, -1},
	OpAssign:            {"ASSIGN", 3, -1, -1},
	OpAssignTrue:        {"ASSIGN_TRUE", 2, -1, -1},
	OpAssignFalse:       {"ASSIGN_FALSE", 2, -1, -1},
	OpAssignTyped:       {"ASSIGN_TYPED", 4, -1, -1},

	OpGetKeyed:            {"GET_KEYED", 4, -1, -1},
	OpSetKeyed:            {"SET_KEYED", 4, -1, -1},
	OpGetIndexedValidated: {"GET_INDEXED_VALIDATED", 5, -1, -1},
	OpSetIndexedValidated: {"SET_INDEXED_VALIDATED", 5, -1, -1},
	OpGetNamed:            {"GET_NAMED", 4, -1, -1},
	OpSetNamed:            {"SET_NAMED", 4, -1, -1},
	OpGetNamedValidated:   {"GET_NAMED_VALIDATED", 4, -1, -1},
	OpSetNamedValidated:   {"SET_NAMED_VALIDATED", 4, -1, -1},
	OpGetStatic:           {"GET_STATIC", 4, -1, -1},
	OpSetStatic:           {"SET_STATIC", 4, -1, -1},

	OpConstruct:           {"CONSTRUCT", 4, 3, -1},
	OpConstructValidated:  {"CONSTRUCT_VALIDATED", 4, 3, -1},
	OpConstructArray:      {"CONSTRUCT_ARRAY", 3, 2, -1},
	OpConstructTypedArray: {"CONSTRUCT_TYPED_ARRAY", 5, 4, -1},

	OpCallMethod:            {"CALL_METHOD", 5, 4, -1},
	OpCallMethodValidated:   {"CALL_METHOD_VALIDATED", 5, 4, -1},
	OpCallMethodValidatedNR: {"CALL_METHOD_VALIDATED_NO_RETURN", 5, 4, -1},
	OpCallUtility:           {"CALL_UTILITY", 4, 3, -1},
	OpCallUtilityValidated:  {"CALL_UTILITY_VALIDATED", 4, 3, -1},

	OpJump:         {"JUMP", 2, -1, 1},
	OpJumpIf:       {"JUMP_IF", 3, -1, 2},
	OpJumpIfNot:    {"JUMP_IF_NOT", 3, -1, 2},
	OpJumpIfShared: {"JUMP_IF_SHARED", 3, -1, 2},

	OpIterBeginRange: {"ITERATE_BEGIN_RANGE", 7, -1, 6},
	OpIterRange:      {"ITERATE_RANGE", 6, -1, 5},
	OpIterBeginArray: {"ITERATE_BEGIN_ARRAY", 5, -1, 4},
	OpIterArray:      {"ITERATE_ARRAY", 5, -1, 4},
	OpIterBegin:      {"ITERATE_BEGIN", 5, -1, 4},
	OpIterNext:       {"ITERATE_NEXT", 5, -1, 4},

	OpReturn: {"RETURN", 2, -1, -1},
}

// Info returns the metadata for an opcode. The second result is false for
// opcodes this build does not know, which callers must treat as a contract
// violation with the bytecode producer.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN_%02X", uint32(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// InstructionLength returns the total word length of the instruction at
// pos, reading the argument-count word for variadic opcodes. The second
// result is false for unknown opcodes or a truncated stream.
func InstructionLength(code []uint32, pos int) (int, bool) {
	if pos >= len(code) {
		return 0, false
	}
	info, ok := Opcode(code[pos]).Info()
	if !ok {
		return 0, false
	}
	length := info.Words
	if info.ArgcA >= 0 {
		if pos+info.ArgcA >= len(code) {
			return 0, false
		}
		length += int(code[pos+info.ArgcA])
	}
	if pos+length > len(code) {
		return 0, false
	}
	return length, true
}

// ---------------------------------------------------------------------------
// Slot addresses
// ---------------------------------------------------------------------------

// StorageClass tags which storage region a slot address refers to.
type StorageClass uint32

const (
	ClassStack    StorageClass = 0 // locals, parameters and temporaries
	ClassConstant StorageClass = 1 // the function's constant pool
	ClassMember   StorageClass = 2 // instance member array
)

// Slot address encoding: the storage class lives in the top two bits, the
// index in the remaining thirty.
const (
	addrClassShift = 30
	addrIndexMask  = (uint32(1) << addrClassShift) - 1
)

// MakeAddr encodes a slot address word.
func MakeAddr(class StorageClass, index int) uint32 {
	return uint32(class)<<addrClassShift | uint32(index)&addrIndexMask
}

// DecodeAddr splits a slot address word. Decoding is total over the three
// valid classes; the boolean is false for the remaining bit pattern, which
// marks a defect in the bytecode producer.
func DecodeAddr(addr uint32) (StorageClass, int, bool) {
	class := StorageClass(addr >> addrClassShift)
	if class > ClassMember {
		return class, 0, false
	}
	return class, int(addr & addrIndexMask), true
}

// AddrString formats a slot address for disassembly.
func AddrString(addr uint32) string {
	class, index, ok := DecodeAddr(addr)
	if !ok {
		return fmt.Sprintf("bad(%08x)", addr)
	}
	switch class {
	case ClassStack:
		return fmt.Sprintf("stack[%d]", index)
	case ClassConstant:
		return fmt.Sprintf("const[%d]", index)
	default:
		return fmt.Sprintf("member[%d]", index)
	}
}

// ---------------------------------------------------------------------------
// CodeBuilder: helper for constructing instruction streams
// ---------------------------------------------------------------------------

// CodeBuilder helps construct word-addressed instruction streams, mostly
// in tests and in the bytecode producer.
type CodeBuilder struct {
	words []uint32
}

// NewCodeBuilder creates an empty builder.
func NewCodeBuilder() *CodeBuilder {
	return &CodeBuilder{words: make([]uint32, 0, 32)}
}

// Words returns the constructed stream.
func (b *CodeBuilder) Words() []uint32 {
	return b.words
}

// Len returns the current length in words, i.e. the offset of the next
// instruction.
func (b *CodeBuilder) Len() int {
	return len(b.words)
}

// Emit appends an opcode followed by its operand words.
func (b *CodeBuilder) Emit(op Opcode, operands ...uint32) int {
	pos := len(b.words)
	b.words = append(b.words, uint32(op))
	b.words = append(b.words, operands...)
	return pos
}

// Patch overwrites one word, used to resolve forward jump targets.
func (b *CodeBuilder) Patch(pos int, word uint32) {
	b.words[pos] = word
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders an instruction stream for logging and debugging.
// Unknown opcodes terminate the listing with a marker rather than guessing
// at operand boundaries.
func Disassemble(code []uint32) string {
	var sb strings.Builder
	pos := 0
	for pos < len(code) {
		op := Opcode(code[pos])
		length, ok := InstructionLength(code, pos)
		if !ok {
			fmt.Fprintf(&sb, "%04d  <unknown opcode %08x>\n", pos, code[pos])
			break
		}
		fmt.Fprintf(&sb, "%04d  %s", pos, op.Name())
		for i := pos + 1; i < pos+length; i++ {
			fmt.Fprintf(&sb, " %d", code[i])
		}
		sb.WriteString("\n")
		pos += length
	}
	return sb.String()
}
