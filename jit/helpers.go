// Package jit translates bytecode functions into executable code. The
// translator walks a function's instruction stream once after a jump
// target pre-pass, picks a fast path per instruction from statically
// proven operand kinds, and hands everything else to the runtime bridge
// helpers below.
package jit

import (
	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// The extern registry: one entry per bridge signature the translator
// emits calls to, defined once and referenced from every call site.
// Validated instructions additionally wrap the pre-resolved helper from
// their function's side table at compile time; those wrap the helper
// function itself, never call-site state.
var (
	extCopy        = &emit.Extern{Name: "value_copy", Fn: emit.SigCopy(vm.CopyValue)}
	extCopyTyped   = &emit.Extern{Name: "value_copy_typed", Fn: emit.SigCopyTyped(vm.CopyTyped)}
	extEval        = &emit.Extern{Name: "operator_eval", Fn: emit.SigEval(vm.EvalBinary)}
	extGetKeyed    = &emit.Extern{Name: "get_keyed", Fn: emit.SigKeyed(vm.GetKeyed)}
	extSetKeyed    = &emit.Extern{Name: "set_keyed", Fn: emit.SigKeyed(vm.SetKeyed)}
	extGetNamed    = &emit.Extern{Name: "get_named", Fn: emit.SigNamed(vm.GetNamed)}
	extSetNamed    = &emit.Extern{Name: "set_named", Fn: emit.SigNamed(vm.SetNamed)}
	extStaticGet   = &emit.Extern{Name: "static_get", Fn: emit.SigStatic(staticGet)}
	extStaticSet   = &emit.Extern{Name: "static_set", Fn: emit.SigStatic(staticSet)}
	extConstruct   = &emit.Extern{Name: "construct", Fn: emit.SigConstruct(vm.Construct)}
	extBuildArray  = &emit.Extern{Name: "build_array", Fn: emit.SigBuildArray(vm.BuildArray)}
	extBuildTyped  = &emit.Extern{Name: "build_typed_array", Fn: emit.SigBuildTypedArray(vm.BuildTypedArray)}
	extCallMethod  = &emit.Extern{Name: "call_method", Fn: emit.SigCallMethod(vm.CallMethod)}
	extCallUtility = &emit.Extern{Name: "call_utility", Fn: emit.SigCallUtility(vm.CallUtility)}
	extBooleanize  = &emit.Extern{Name: "booleanize", Fn: emit.SigPredicate(vm.Booleanize)}
	extIsShared    = &emit.Extern{Name: "is_shared", Fn: emit.SigPredicate(vm.IsShared)}
	extIterBegin   = &emit.Extern{Name: "iter_begin", Fn: emit.SigIter(vm.IterBegin)}
	extIterAdvance = &emit.Extern{Name: "iter_advance", Fn: emit.SigIter(vm.IterAdvance)}
)

func staticGet(st *vm.Statics, class, name string, v *vm.Value) { st.Get(class, name, v) }
func staticSet(st *vm.Statics, class, name string, v *vm.Value) { st.Set(class, name, v) }
