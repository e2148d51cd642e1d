package emit

import (
	"errors"
	"testing"

	"github.com/chazu/tansy/vm"
)

// install finalizes the assembler and installs the result in a fresh
// runtime, failing the test on any emission error.
func install(t *testing.T, a *Assembler, consts []vm.Value) *Func {
	t.Helper()
	code, err := a.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return NewRuntime().Install(code, consts, vm.NewStatics())
}

func TestStoreImmediate(t *testing.T) {
	a := NewAssembler("imm")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindInt))
	a.StoreImm(Mem{Base: res, Disp: vm.BitsOffset, Width: 8}, 42)
	a.Ret()

	f := install(t, a, nil)
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if result.Int() != 42 {
		t.Errorf("result = %s, want 42", result)
	}
}

func TestLoopAndArithmetic(t *testing.T) {
	// acc := 0; r := 3; repeat { acc += r; r -= 1 } while r != 0
	a := NewAssembler("loop")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	acc := a.NewReg()
	a.MovImm(acc, 0)
	r := a.NewReg()
	a.MovImm(r, 3)
	one := a.NewReg()
	a.MovImm(one, 1)

	top := a.NewLabel()
	a.Bind(top)
	a.Add(acc, r)
	a.Sub(r, one)
	a.JumpNotZero(r, top)

	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindInt))
	a.Store(Mem{Base: res, Disp: vm.BitsOffset, Width: 8}, acc)
	a.Ret()

	f := install(t, a, nil)
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if result.Int() != 6 {
		t.Errorf("3+2+1 = %s", result)
	}
}

func TestExternCopy(t *testing.T) {
	ext := &Extern{Name: "copy", Fn: SigCopy(vm.CopyValue)}

	a := NewAssembler("copy")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	consts := a.NewReg()
	a.LoadRegion(consts, RegionConstants)
	src := a.NewReg()
	a.Lea(src, Mem{Base: consts, Disp: 0, Width: 8})
	a.CallExt(NoReg, ext, RegArg(res), RegArg(src))
	a.Ret()

	f := install(t, a, []vm.Value{vm.StringValue("hi")})
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if result.Str() != "hi" {
		t.Errorf("result = %s", result)
	}
}

func TestExternPredicateResult(t *testing.T) {
	ext := &Extern{Name: "truthy", Fn: SigPredicate(vm.Booleanize)}

	a := NewAssembler("pred")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	consts := a.NewReg()
	a.LoadRegion(consts, RegionConstants)
	src := a.NewReg()
	a.Lea(src, Mem{Base: consts, Disp: 0, Width: 8})
	r := a.NewReg()
	a.CallExt(r, ext, RegArg(src))
	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindBool))
	a.Store(Mem{Base: res, Disp: vm.BitsOffset, Width: 8}, r)
	a.Ret()

	f := install(t, a, []vm.Value{vm.IntValue(7)})
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if !result.Bool() {
		t.Errorf("truthy(7) = %s", result)
	}
}

func TestFloatConversionChain(t *testing.T) {
	// Load an int, convert to float64, into float32, back to float64.
	a := NewAssembler("cvt")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	consts := a.NewReg()
	a.LoadRegion(consts, RegionConstants)
	r := a.NewReg()
	a.Load(r, Mem{Base: consts, Disp: vm.BitsOffset, Width: 8})
	a.CvtIntFloat(r)
	a.CvtFloatF32(r)
	a.CvtF32Float(r)
	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindFloat))
	a.Store(Mem{Base: res, Disp: vm.BitsOffset, Width: 8}, r)
	a.Ret()

	f := install(t, a, []vm.Value{vm.IntValue(5)})
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if result.Float() != 5 {
		t.Errorf("result = %s", result)
	}
}

func TestLaneStores(t *testing.T) {
	a := NewAssembler("lanes")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	consts := a.NewReg()
	a.LoadRegion(consts, RegionConstants)
	x := a.NewReg()
	a.Load(x, Mem{Base: consts, Disp: vm.LaneXOffset, Width: 4})
	y := a.NewReg()
	a.Load(y, Mem{Base: consts, Disp: vm.LaneYOffset, Width: 4})
	a.F32Add(x, y)
	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindVector2))
	a.Store(Mem{Base: res, Disp: vm.LaneXOffset, Width: 4}, x)
	a.Store(Mem{Base: res, Disp: vm.LaneYOffset, Width: 4}, y)
	a.Ret()

	f := install(t, a, []vm.Value{vm.Vector2Value(1, 2)})
	var result vm.Value
	f.Call(&result, nil, nil, nil)
	if rx, ry := result.Lanes(); rx != 3 || ry != 2 {
		t.Errorf("lanes = (%g, %g), want (3, 2)", rx, ry)
	}
}

func TestTagStoreClearsRef(t *testing.T) {
	// Writing a raw tag over a reference value must drop the pointer, or
	// a later payload read would misinterpret the stale reference.
	a := NewAssembler("tag")
	res := a.NewReg()
	a.LoadRegion(res, RegionResult)
	a.StoreImm(Mem{Base: res, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindInt))
	a.StoreImm(Mem{Base: res, Disp: vm.BitsOffset, Width: 8}, 1)
	a.Ret()

	f := install(t, a, nil)
	result := vm.StringValue("stale")
	f.Call(&result, nil, nil, nil)
	if result.Ref != nil {
		t.Error("tag store left the reference pointer in place")
	}
	if result.Int() != 1 {
		t.Errorf("result = %s", result)
	}
}

func TestDispMutationBeforeFinalize(t *testing.T) {
	// Instruction nodes stay mutable until Finalize; rewriting a memory
	// displacement redirects the access. This is the contract the JIT's
	// deferred patching relies on.
	a := NewAssembler("patch")
	stack := a.NewReg()
	a.LoadRegion(stack, RegionStack)
	in := a.StoreImm(Mem{Base: stack, Disp: 0, Width: 8}, 99)
	a.Ret()

	in.Mem.Disp += vm.ValueSize + vm.BitsOffset

	f := install(t, a, nil)
	var result vm.Value
	frame := make([]vm.Value, 2)
	f.Call(&result, nil, frame, nil)
	if frame[1].Bits != 99 {
		t.Errorf("stack = %+v", frame)
	}
}

func TestUnboundLabel(t *testing.T) {
	a := NewAssembler("bad")
	a.Jump(a.NewLabel())
	a.Ret()
	if _, err := a.Finalize(); !errors.Is(err, ErrUnboundLabel) {
		t.Errorf("finalize error = %v", err)
	}
}

func TestDoubleBindIsSticky(t *testing.T) {
	a := NewAssembler("bad")
	l := a.NewLabel()
	a.Bind(l)
	a.Bind(l)
	a.Ret()
	if _, err := a.Finalize(); err == nil {
		t.Error("double bind accepted")
	}
}

func TestScratchAlignment(t *testing.T) {
	a := NewAssembler("scratch")
	if off := a.AllocScratch(4); off != 0 {
		t.Errorf("first block at %d", off)
	}
	if off := a.AllocScratch(16); off != 8 {
		t.Errorf("second block at %d, want 8", off)
	}
	if off := a.AllocScratch(8); off != 24 {
		t.Errorf("third block at %d, want 24", off)
	}
}

func TestRuntimeRelease(t *testing.T) {
	a := NewAssembler("noop")
	a.Ret()
	code, err := a.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	rt := NewRuntime()
	f := rt.Install(code, nil, nil)
	if rt.Count() != 1 {
		t.Fatalf("count = %d", rt.Count())
	}
	rt.Release(f)
	rt.Release(f) // releasing twice is a no-op
	rt.Release(nil)
	if rt.Count() != 0 {
		t.Errorf("count after release = %d", rt.Count())
	}
	if f.Name() != "<released>" {
		t.Errorf("released name = %q", f.Name())
	}

	defer func() {
		if recover() == nil {
			t.Error("call of a released function did not panic")
		}
	}()
	var result vm.Value
	f.Call(&result, nil, nil, nil)
}
