package vm

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// CtorFn is the calling convention for a validated constructor: an out
// pointer and the argument pointer block. A validated constructor is only
// reached when the producer proved argument kinds against one registered
// signature, so it performs no checking.
type CtorFn func(dst *Value, args []*Value)

// Constructor is a pre-resolved, signature-specialized constructor carried
// in validated construction bytecode.
type Constructor struct {
	Name string
	Fn   CtorFn
}

// Validated constructors for the built-in composite kinds.
var (
	// Vector2(float, float)
	CtorVector2FF = &Constructor{
		Name: "Vector2(Float,Float)",
		Fn: func(dst *Value, args []*Value) {
			*dst = Vector2Value(float32(args[0].AsFloat()), float32(args[1].AsFloat()))
		},
	}
	// Vector2(int, int)
	CtorVector2II = &Constructor{
		Name: "Vector2(Int,Int)",
		Fn: func(dst *Value, args []*Value) {
			*dst = Vector2Value(float32(int64(args[0].Bits)), float32(int64(args[1].Bits)))
		},
	}
	// Float(int)
	CtorFloatI = &Constructor{
		Name: "Float(Int)",
		Fn: func(dst *Value, args []*Value) {
			*dst = FloatValue(float64(int64(args[0].Bits)))
		},
	}
	// Int(float), truncating
	CtorIntF = &Constructor{
		Name: "Int(Float)",
		Fn: func(dst *Value, args []*Value) {
			*dst = IntValue(int64(args[0].AsFloat()))
		},
	}
)

// Construct is the generic dynamic constructor: build a value of the given
// kind from arbitrary arguments, reporting failures through err. The JIT
// wires err straight through from generated code; it never interprets the
// record.
func Construct(kind Kind, dst *Value, args []*Value, argc int, err *CallError) {
	err.Clear()
	switch kind {
	case KindNil:
		*dst = NilValue()
	case KindBool:
		if argc == 1 {
			*dst = BoolValue(args[0].IsTruthy())
			return
		}
	case KindInt:
		if argc == 1 {
			switch args[0].Kind {
			case KindInt:
				*dst = *args[0]
				return
			case KindFloat:
				*dst = IntValue(int64(args[0].AsFloat()))
				return
			case KindBool:
				*dst = IntValue(int64(args[0].Bits))
				return
			}
			err.Set(CallErrInvalidArgument, 0, KindInt)
			return
		}
	case KindFloat:
		if argc == 1 {
			switch args[0].Kind {
			case KindInt, KindFloat:
				*dst = FloatValue(args[0].AsFloat())
				return
			}
			err.Set(CallErrInvalidArgument, 0, KindFloat)
			return
		}
	case KindVector2:
		switch argc {
		case 0:
			*dst = Vector2Value(0, 0)
			return
		case 2:
			for i := 0; i < 2; i++ {
				if args[i].Kind != KindInt && args[i].Kind != KindFloat {
					err.Set(CallErrInvalidArgument, int32(i), KindFloat)
					return
				}
			}
			*dst = Vector2Value(float32(args[0].AsFloat()), float32(args[1].AsFloat()))
			return
		}
	case KindString:
		if argc == 1 {
			*dst = StringValue(args[0].String())
			return
		}
	case KindDict:
		if argc == 0 {
			*dst = DictValue()
			return
		}
	}
	if dst.Kind == kind {
		return // zero-argument rebuild of an already-typed slot
	}
	err.Set(CallErrTooManyArguments, int32(argc), kind)
	*dst = NilValue()
}

// BuildArray builds an untyped array from N argument values.
func BuildArray(dst *Value, args []*Value, argc int) {
	elems := make([]Value, argc)
	for i := 0; i < argc; i++ {
		args[i].Ref.retain()
		elems[i] = *args[i]
	}
	*dst = ArrayValue(elems)
}

// BuildTypedArray builds an array whose elements are coerced to elemKind.
// For Object-kind elements, className names the required native class;
// a mismatched element reports through err and leaves a nil element.
func BuildTypedArray(dst *Value, elemKind Kind, className string, args []*Value, argc int, err *CallError) {
	err.Clear()
	elems := make([]Value, argc)
	for i := 0; i < argc; i++ {
		a := args[i]
		switch {
		case a.Kind == elemKind:
			if elemKind == KindObject && className != "" && a.Ref.Class() != className {
				err.Set(CallErrInvalidArgument, int32(i), KindObject)
				elems[i] = NilValue()
				continue
			}
			a.Ref.retain()
			elems[i] = *a
		case elemKind == KindFloat && a.Kind == KindInt:
			elems[i] = FloatValue(a.AsFloat())
		case elemKind == KindInt && a.Kind == KindFloat:
			elems[i] = IntValue(int64(a.AsFloat()))
		default:
			err.Set(CallErrInvalidArgument, int32(i), elemKind)
			elems[i] = NilValue()
		}
	}
	*dst = ArrayValue(elems)
	dst.Ref.elemKind = elemKind
	dst.Ref.elemName = className
}
