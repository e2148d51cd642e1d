package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Operator identifies a binary operator in bytecode and in the generic
// evaluator's dispatch.
type Operator uint32

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OperatorCount
)

var operatorNames = [OperatorCount]string{
	"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=",
}

// String implements the Stringer interface.
func (op Operator) String() string {
	if op < OperatorCount {
		return operatorNames[op]
	}
	return fmt.Sprintf("Operator(%d)", uint32(op))
}

// IsComparison reports whether the operator produces a Bool result.
func (op Operator) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// ---------------------------------------------------------------------------
// Validated operator helpers
// ---------------------------------------------------------------------------

// BinaryFn is the calling convention for a kind-specialized operator
// helper: two const operand pointers, one out pointer. No validity flag;
// a validated helper is only reached for operands whose kinds were proven
// by the bytecode producer.
type BinaryFn func(left, right, result *Value)

// BinaryOp is a pre-resolved, kind-specialized operator helper. The
// bytecode producer embeds these (via side-table indices) in validated
// operator instructions; the JIT recovers the static operand kinds from
// the helper through DescribeBinaryOp.
type BinaryOp struct {
	Name string
	Fn   BinaryFn
}

/// OpDescriptor is the static description of a validated helper:
// the operator and the proven operand kinds.
type OpDescriptor struct {
	Op          Operator
	Left, Right Kind
	Known       bool // false for the defined "unknown" descriptor
}

type opKey struct {
	op          Operator
	left, right Kind
}

var (
	opTableOnce  sync.Once
	validatedOps map[opKey]*BinaryOp
	opDescs      map[*BinaryOp]OpDescriptor
)

// LookupBinaryOp returns the specialized helper for (op, left, right), or
// nil when no specialization exists and the producer must fall back to the
// generic evaluator.
func LookupBinaryOp(op Operator, left, right Kind) *BinaryOp {
	opTableOnce.Do(buildOpTables)
	return validatedOps[opKey{op, left, right}]
}

// DescribeBinaryOp recovers the operator and operand kinds of a validated
// helper. Helpers not in the registry yield the unknown descriptor, never
// an error; the table itself is built once and read-only afterwards.
func DescribeBinaryOp(b *BinaryOp) OpDescriptor {
	opTableOnce.Do(buildOpTables)
	if d, ok := opDescs[b]; ok {
		return d
	}
	return OpDescriptor{}
}

// register installs one specialized helper and its reverse descriptor.
// Every combination the JIT's fast-path selector special-cases must appear
// here, or DescribeBinaryOp would hand the selector an unknown descriptor
// and the fast path would silently degrade.
func register(op Operator, left, right Kind, fn BinaryFn) {
	b := &BinaryOp{
		Name: fmt.Sprintf("%s %s %s", left, op, right),
		Fn:   fn,
	}
	validatedOps[opKey{op, left, right}] = b
	opDescs[b] = OpDescriptor{Op: op, Left: left, Right: right, Known: true}
}

func buildOpTables() {
	validatedOps = make(map[opKey]*BinaryOp)
	opDescs = make(map[*BinaryOp]OpDescriptor)

	arith := []Operator{OpAdd, OpSub, OpMul, OpDiv}

	// Int x Int: arithmetic and comparisons. Division keeps its zero check
	// (the helper is never inlined; see the fast-path selector).
	for _, op := range []Operator{OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe} {
		op := op
		register(op, KindInt, KindInt, func(l, r, out *Value) {
			evalIntInt(op, int64(l.Bits), int64(r.Bits), out)
		})
	}

	// Float and mixed numeric pairs.
	numeric := []struct{ l, r Kind }{
		{KindFloat, KindFloat}, {KindFloat, KindInt}, {KindInt, KindFloat},
	}
	for _, pair := range numeric {
		for _, op := range []Operator{OpAdd, OpSub, OpMul, OpDiv, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe} {
			op, pair := op, pair
			register(op, pair.l, pair.r, func(l, r, out *Value) {
				evalFloatFloat(op, l.AsFloat(), r.AsFloat(), out)
			})
		}
	}

	// Vector2 combined with Vector2, Float or Int: per-lane arithmetic with
	// scalar broadcast.
	for _, op := range arith {
		op := op
		register(op, KindVector2, KindVector2, func(l, r, out *Value) {
			lx, ly := UnpackLanes(l.Bits)
			rx, ry := UnpackLanes(r.Bits)
			*out = Vector2Value(laneOp(op, lx, rx), laneOp(op, ly, ry))
		})
		for _, scalar := range []Kind{KindFloat, KindInt} {
			scalar := scalar
			register(op, KindVector2, scalar, func(l, r, out *Value) {
				lx, ly := UnpackLanes(l.Bits)
				s := float32(r.AsFloat())
				*out = Vector2Value(laneOp(op, lx, s), laneOp(op, ly, s))
			})
			register(op, scalar, KindVector2, func(l, r, out *Value) {
				rx, ry := UnpackLanes(r.Bits)
				s := float32(l.AsFloat())
				*out = Vector2Value(laneOp(op, s, rx), laneOp(op, s, ry))
			})
		}
	}

	// String concatenation and comparison: statically typed but never
	// inlined, always through the helper.
	register(OpAdd, KindString, KindString, func(l, r, out *Value) {
		*out = StringValue(l.Ref.str + r.Ref.str)
	})
	register(OpEq, KindString, KindString, func(l, r, out *Value) {
		*out = BoolValue(l.Ref.str == r.Ref.str)
	})
	register(OpNe, KindString, KindString, func(l, r, out *Value) {
		*out = BoolValue(l.Ref.str != r.Ref.str)
	})
}

func laneOp(op Operator, a, b float32) float32 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	}
	panic("laneOp: not an arithmetic operator")
}

// ---------------------------------------------------------------------------
// Generic evaluator
// ---------------------------------------------------------------------------

// EvalBinary is the fully dynamic operator path: it dispatches on the
// runtime kinds of both operands. On an unsupported kind combination it
// sets *valid to false and writes a nil result; otherwise *valid is true.
//
// Float division is deliberately unchecked (IEEE semantics: ±Inf or NaN);
// integer division and modulo by zero are invalid, matching the asymmetry
// of the inline fast paths.
func EvalBinary(op Operator, left, right, result *Value, valid *bool) {
	*valid = true
	lk, rk := left.Kind, right.Kind

	switch {
	case lk == KindInt && rk == KindInt:
		if (op == OpDiv || op == OpMod) && right.Bits == 0 {
			*valid = false
			*result = NilValue()
			return
		}
		evalIntInt(op, int64(left.Bits), int64(right.Bits), result)
		return

	case (lk == KindInt || lk == KindFloat) && (rk == KindInt || rk == KindFloat):
		if op == OpMod {
			*valid = false
			*result = NilValue()
			return
		}
		evalFloatFloat(op, left.AsFloat(), right.AsFloat(), result)
		return

	case lk == KindVector2 || rk == KindVector2:
		if fn := LookupBinaryOp(op, lk, rk); fn != nil {
			fn.Fn(left, right, result)
			return
		}

	case lk == KindString && rk == KindString:
		if fn := LookupBinaryOp(op, lk, rk); fn != nil {
			fn.Fn(left, right, result)
			return
		}

	case lk == KindBool && rk == KindBool && (op == OpEq || op == OpNe):
		*result = BoolValue((left.Bits == right.Bits) == (op == OpEq))
		return

	case lk == KindNil || rk == KindNil:
		if op == OpEq {
			*result = BoolValue(lk == rk)
			return
		}
		if op == OpNe {
			*result = BoolValue(lk != rk)
			return
		}
	}

	*valid = false
	*result = NilValue()
}

func evalIntInt(op Operator, a, b int64, out *Value) {
	switch op {
	case OpAdd:
		*out = IntValue(a + b)
	case OpSub:
		*out = IntValue(a - b)
	case OpMul:
		*out = IntValue(a * b)
	case OpDiv:
		*out = IntValue(a / b)
	case OpMod:
		*out = IntValue(a % b)
	case OpEq:
		*out = BoolValue(a == b)
	case OpNe:
		*out = BoolValue(a != b)
	case OpLt:
		*out = BoolValue(a < b)
	case OpLe:
		*out = BoolValue(a <= b)
	case OpGt:
		*out = BoolValue(a > b)
	case OpGe:
		*out = BoolValue(a >= b)
	}
}

func evalFloatFloat(op Operator, a, b float64, out *Value) {
	switch op {
	case OpAdd:
		*out = FloatValue(a + b)
	case OpSub:
		*out = FloatValue(a - b)
	case OpMul:
		*out = FloatValue(a * b)
	case OpDiv:
		// Unchecked: IEEE infinity/NaN semantics.
		*out = FloatValue(a / b)
	case OpEq:
		*out = BoolValue(a == b)
	case OpNe:
		*out = BoolValue(a != b)
	case OpLt:
		*out = BoolValue(a < b)
	case OpLe:
		*out = BoolValue(a <= b)
	case OpGt:
		*out = BoolValue(a > b)
	case OpGe:
		*out = BoolValue(a >= b)
	}
}
