package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Call errors
// ---------------------------------------------------------------------------

// CallErrorCode classifies a runtime call failure reported by a generic
// bridge.
type CallErrorCode int32

const (
	CallOK CallErrorCode = iota
	CallErrInvalidMethod
	CallErrInvalidArgument
	CallErrTooManyArguments
	CallErrTooFewArguments
	CallErrInstanceIsNil
)

// CallError is the out-call-error record threaded through every generic
// call bridge. Its field layout is part of the runtime ABI: external
// callers (debuggers, the interpreter's error path) read it positionally,
// so the order and widths here are frozen.
type CallError struct {
	Error    CallErrorCode
	Argument int32
	Expected Kind
	_        uint32
}

// Clear resets the record to the no-error state.
func (e *CallError) Clear() {
	*e = CallError{}
}

// Set fills the record.
func (e *CallError) Set(code CallErrorCode, arg int32, expected Kind) {
	e.Error = code
	e.Argument = arg
	e.Expected = expected
}

// OK reports whether the record holds no error.
func (e *CallError) OK() bool {
	return e.Error == CallOK
}

// String implements the Stringer interface.
func (e *CallError) String() string {
	switch e.Error {
	case CallOK:
		return "ok"
	case CallErrInvalidMethod:
		return "invalid method"
	case CallErrInvalidArgument:
		return fmt.Sprintf("invalid argument %d (expected %s)", e.Argument, e.Expected)
	case CallErrTooManyArguments:
		return fmt.Sprintf("too many arguments (%d)", e.Argument)
	case CallErrTooFewArguments:
		return fmt.Sprintf("too few arguments (%d)", e.Argument)
	case CallErrInstanceIsNil:
		return "instance is nil"
	}
	return fmt.Sprintf("call error %d", int32(e.Error))
}

// ---------------------------------------------------------------------------
// Method calls
// ---------------------------------------------------------------------------

// MethodFn is the calling convention of a validated bound method: the
// receiver, the argument block, and an out pointer for the result.
type MethodFn func(base *Value, args []*Value, ret *Value)

// BoundMethod is a pre-resolved method of a built-in kind or a native
// class, carried in validated call bytecode. NoReturn methods leave ret
// untouched; the JIT still writes a nil result to the destination slot.
type BoundMethod struct {
	Name     string
	NoReturn bool
	Fn       MethodFn
}

// Built-in methods reachable through validated call opcodes.
var (
	ArrayAppend = &BoundMethod{
		Name:     "Array.append",
		NoReturn: true,
		Fn: func(base *Value, args []*Value, _ *Value) {
			args[0].Ref.retain()
			base.Ref.elems = append(base.Ref.elems, *args[0])
		},
	}
	ArraySize = &BoundMethod{
		Name: "Array.size",
		Fn: func(base *Value, _ []*Value, ret *Value) {
			*ret = IntValue(int64(len(base.Ref.elems)))
		},
	}
	StringLength = &BoundMethod{
		Name: "String.length",
		Fn: func(base *Value, _ []*Value, ret *Value) {
			*ret = IntValue(int64(len(base.Ref.str)))
		},
	}
	Vector2Length = &BoundMethod{
		Name: "Vector2.length",
		Fn: func(base *Value, _ []*Value, ret *Value) {
			x, y := UnpackLanes(base.Bits)
			*ret = FloatValue(math.Hypot(float64(x), float64(y)))
		},
	}
)

// methodTable resolves name-based method calls for CallMethod. Keyed by
// kind and method name.
var methodTable = map[Kind]map[string]*BoundMethod{
	KindArray: {
		"append": ArrayAppend,
		"size":   ArraySize,
	},
	KindString: {
		"length": StringLength,
	},
	KindVector2: {
		"length": Vector2Length,
	},
}

// CallMethod is the generic "call named method on value" bridge. Unknown
// methods report through err; the result slot receives nil on failure.
func CallMethod(base *Value, method string, args []*Value, argc int, ret *Value, err *CallError) {
	err.Clear()
	if base.Kind == KindNil {
		err.Set(CallErrInstanceIsNil, 0, KindNil)
		*ret = NilValue()
		return
	}
	if kinds, ok := methodTable[base.Kind]; ok {
		if m, ok := kinds[method]; ok {
			*ret = NilValue()
			m.Fn(base, args[:argc], ret)
			return
		}
	}
	if base.Kind == KindObject {
		// Script objects answer field-backed callables through the
		// interpreter; from compiled code only native methods resolve.
		err.Set(CallErrInvalidMethod, 0, KindObject)
		*ret = NilValue()
		return
	}
	err.Set(CallErrInvalidMethod, 0, base.Kind)
	*ret = NilValue()
}

// ---------------------------------------------------------------------------
// Utility functions
// ---------------------------------------------------------------------------

// UtilityFn is the calling convention of a validated utility function:
// out pointer first, then the argument block and count.
type UtilityFn func(ret *Value, args []*Value, argc int)

// Utility is a pre-resolved global utility function.
type Utility struct {
	Name string
	Fn   UtilityFn
}

// Built-in utilities.
var (
	UtilAbs = &Utility{
		Name: "abs",
		Fn: func(ret *Value, args []*Value, argc int) {
			switch args[0].Kind {
			case KindInt:
				n := int64(args[0].Bits)
				if n < 0 {
					n = -n
				}
				*ret = IntValue(n)
			case KindFloat:
				f := args[0].AsFloat()
				if f < 0 {
					f = -f
				}
				*ret = FloatValue(f)
			default:
				*ret = NilValue()
			}
		},
	}
	UtilLen = &Utility{
		Name: "len",
		Fn: func(ret *Value, args []*Value, argc int) {
			switch args[0].Kind {
			case KindString:
				*ret = IntValue(int64(len(args[0].Ref.str)))
			case KindArray:
				*ret = IntValue(int64(len(args[0].Ref.elems)))
			case KindDict:
				*ret = IntValue(int64(len(args[0].Ref.entries)))
			default:
				*ret = NilValue()
			}
		},
	}
)

var utilityTable = map[string]*Utility{
	"abs": UtilAbs,
	"len": UtilLen,
}

// CallUtility is the name-based utility bridge.
func CallUtility(name string, args []*Value, argc int, ret *Value, err *CallError) {
	err.Clear()
	u, ok := utilityTable[name]
	if !ok {
		err.Set(CallErrInvalidMethod, 0, KindNil)
		*ret = NilValue()
		return
	}
	*ret = NilValue()
	u.Fn(ret, args, argc)
}
