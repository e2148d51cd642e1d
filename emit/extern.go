package emit

import (
	"github.com/chazu/tansy/vm"
)

// Extern is an external helper callable from emitted code. Fn must hold
// one of the signature types below; the backend dispatches on the concrete
// type and marshals call arguments accordingly. Externs are defined once,
// in a fixed registry, and referenced by every call site that needs them.
type Extern struct {
	Name string
	Fn   interface{}
}

// The signatures emitted code can call. They mirror the runtime bridge
// functions one to one, so the registry entries are the bridge functions
// themselves rather than per-call-site closures. These are defined types,
// not aliases: the backend dispatches on the exact type, so registry
// entries convert explicitly, and two signatures with the same underlying
// shape stay distinguishable.
type (
	// SigBinary is a pre-resolved validated binary operator.
	SigBinary func(left, right, result *vm.Value)
	// SigEval is the generic operator evaluator with a validity out-flag.
	SigEval func(op vm.Operator, left, right, result *vm.Value, valid *bool)
	// SigCopy copies one value into another with reference accounting.
	SigCopy func(dst, src *vm.Value)
	// SigCopyTyped copies with coercion to a target kind.
	SigCopyTyped func(kind vm.Kind, dst, src *vm.Value)
	// SigKeyed is keyed get/set: (base, key, value, ok).
	SigKeyed func(base, key, v *vm.Value, ok *bool)
	// SigNamed is dynamic named get/set: (base, name, value, ok).
	SigNamed func(base *vm.Value, name string, v *vm.Value, ok *bool)
	// SigIndexed is a validated indexed accessor body.
	SigIndexed func(base *vm.Value, index int64, v *vm.Value)
	// SigStatic is static get/set keyed by class and member name.
	SigStatic func(st *vm.Statics, class, name string, v *vm.Value)
	// SigConstruct is the generic dynamic constructor.
	SigConstruct func(kind vm.Kind, dst *vm.Value, args []*vm.Value, argc int, cerr *vm.CallError)
	// SigCtor is a pre-resolved validated constructor body.
	SigCtor func(dst *vm.Value, args []*vm.Value)
	// SigBuildArray builds an untyped array literal.
	SigBuildArray func(dst *vm.Value, args []*vm.Value, argc int)
	// SigBuildTypedArray builds a typed array literal.
	SigBuildTypedArray func(dst *vm.Value, elem vm.Kind, class string, args []*vm.Value, argc int, cerr *vm.CallError)
	// SigCallMethod is the dynamic method-call bridge.
	SigCallMethod func(base *vm.Value, method string, args []*vm.Value, argc int, ret *vm.Value, cerr *vm.CallError)
	// SigMethod is a pre-resolved bound method body.
	SigMethod func(base *vm.Value, args []*vm.Value, ret *vm.Value)
	// SigCallUtility is the dynamic utility-call bridge.
	SigCallUtility func(name string, args []*vm.Value, argc int, ret *vm.Value, cerr *vm.CallError)
	// SigUtility is a pre-resolved utility body.
	SigUtility func(ret *vm.Value, args []*vm.Value, argc int)
	// SigPredicate computes a boolean from one value; the result lands in
	// the call's destination register as 0 or 1.
	SigPredicate func(v *vm.Value) bool
	// SigIter starts or advances container iteration.
	SigIter func(container, counter, iter *vm.Value, ok *bool)
)

// CallArgKind discriminates call-argument encodings.
type CallArgKind uint8

const (
	// ArgReg passes a register payload. If the register holds a region
	// address the backend resolves it to the matching pointer type.
	ArgReg CallArgKind = iota
	// ArgImm passes a 64-bit immediate.
	ArgImm
	// ArgStr passes a string constant.
	ArgStr
	// ArgBlock passes a register holding the address of a scratch block of
	// Count value addresses, materialized as []*vm.Value. Count zero passes
	// a nil slice.
	ArgBlock
	// ArgStatics passes the statics store the function was installed with.
	ArgStatics
)

// CallArg is one argument at an external call site.
type CallArg struct {
	Kind  CallArgKind
	Reg   Reg
	Imm   uint64
	Str   string
	Count int
}

// RegArg passes a register payload or resolved address.
func RegArg(r Reg) CallArg { return CallArg{Kind: ArgReg, Reg: r} }

// ImmArg passes an immediate.
func ImmArg(v uint64) CallArg { return CallArg{Kind: ArgImm, Imm: v} }

// StrArg passes a string constant.
func StrArg(s string) CallArg { return CallArg{Kind: ArgStr, Str: s} }

// BlockArg passes an argument block of count value addresses starting at
// the address in r.
func BlockArg(r Reg, count int) CallArg { return CallArg{Kind: ArgBlock, Reg: r, Count: count} }

// StaticsArg passes the installed statics store.
func StaticsArg() CallArg { return CallArg{Kind: ArgStatics} }

// CallSite describes one external call.
type CallSite struct {
	Target *Extern
	Args   []CallArg
}
