package emit

import (
	"fmt"
	"math"
	"sync"

	"github.com/chazu/tansy/vm"
)

// The backend executes finalized code directly, one instruction node at a
// time. It exists so the translator above it stays portable: the JIT core
// never sees how instructions run, only the assembler surface. A native
// encoder slots in behind the same Code/Func types.

// addr is a resolved region address held in a register.
type addr struct {
	region Region
	off    int32
}

// word is one register or scratch slot: either a raw 64-bit payload or a
// region address.
type word struct {
	bits   uint64
	addr   addr
	isAddr bool
}

// Runtime is the shared executable arena. Installation and release are
// serialized; calls into installed functions are not, matching the
// compile-once, call-concurrently contract.
type Runtime struct {
	mu    sync.Mutex
	funcs map[*Func]struct{}
}

// NewRuntime creates an empty arena.
func NewRuntime() *Runtime {
	return &Runtime{funcs: make(map[*Func]struct{})}
}

// Install places finalized code into the arena and binds it to its
// constant pool and statics store.
func (rt *Runtime) Install(code *Code, consts []vm.Value, statics *vm.Statics) *Func {
	f := &Func{rt: rt, code: code, consts: consts, statics: statics}
	rt.mu.Lock()
	rt.funcs[f] = struct{}{}
	rt.mu.Unlock()
	return f
}

// Release removes an installed function from the arena. Releasing nil or
// releasing twice is a no-op.
func (rt *Runtime) Release(f *Func) {
	if f == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if f.code == nil {
		return
	}
	delete(rt.funcs, f)
	f.code = nil
}

// Count reports how many functions are currently installed.
func (rt *Runtime) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.funcs)
}

// Func is an installed, callable compiled function.
type Func struct {
	rt      *Runtime
	code    *Code
	consts  []vm.Value
	statics *vm.Statics
}

// Name returns the compiled function's name.
func (f *Func) Name() string {
	if f.code == nil {
		return "<released>"
	}
	return f.code.Name()
}

// frame is the per-invocation execution state.
type frame struct {
	f       *Func
	regs    []word
	scratch []word
	result  *vm.Value
	args    []vm.Value
	stack   []vm.Value
	members []vm.Value
	ok      bool
	cerr    vm.CallError
}

// Call runs the compiled function. The caller supplies the result slot,
// the argument array, an evaluation stack sized per the source function,
// and the instance member array. A malformed instruction stream panics;
// well-formed emission cannot reach those paths.
func (f *Func) Call(result *vm.Value, args, stack, members []vm.Value) {
	code := f.code
	if code == nil {
		panic("emit: call of released function")
	}
	fr := &frame{
		f:       f,
		regs:    make([]word, code.numRegs),
		scratch: make([]word, (code.scratch+7)/8),
		result:  result,
		args:    args,
		stack:   stack,
		members: members,
	}
	fr.run(code)
}

func (fr *frame) run(code *Code) {
	insts := code.insts
	for pc := 0; pc < len(insts); pc++ {
		in := insts[pc]
		switch in.Op {
		case opNop, opBind:
		case opMovImm:
			fr.regs[in.Dst] = word{bits: in.Imm}
		case opMov:
			fr.regs[in.Dst] = fr.regs[in.Src]
		case opLoadRegion:
			fr.regs[in.Dst] = word{addr: addr{region: Region(in.Imm)}, isAddr: true}
		case opLea:
			a := fr.memAddr(in.Mem)
			fr.regs[in.Dst] = word{addr: a, isAddr: true}
		case opLoad:
			fr.regs[in.Dst] = word{bits: fr.load(fr.memAddr(in.Mem), in.Mem.Width)}
		case opStore:
			fr.store(fr.memAddr(in.Mem), in.Mem.Width, fr.regs[in.Src])
		case opStoreImm:
			fr.store(fr.memAddr(in.Mem), in.Mem.Width, word{bits: in.Imm})
		case opAdd:
			fr.regs[in.Dst].bits += fr.regs[in.Src].bits
		case opSub:
			fr.regs[in.Dst].bits -= fr.regs[in.Src].bits
		case opMul:
			fr.regs[in.Dst].bits = uint64(int64(fr.regs[in.Dst].bits) * int64(fr.regs[in.Src].bits))
		case opCmpSet:
			x, y := int64(fr.regs[in.Src].bits), int64(fr.regs[in.Src2].bits)
			fr.regs[in.Dst] = word{bits: boolBit(intCond(in.Cond, x, y))}
		case opFAdd:
			fr.fop(in, func(x, y float64) float64 { return x + y })
		case opFSub:
			fr.fop(in, func(x, y float64) float64 { return x - y })
		case opFMul:
			fr.fop(in, func(x, y float64) float64 { return x * y })
		case opFDiv:
			fr.fop(in, func(x, y float64) float64 { return x / y })
		case opFCmpSet:
			x := math.Float64frombits(fr.regs[in.Src].bits)
			y := math.Float64frombits(fr.regs[in.Src2].bits)
			fr.regs[in.Dst] = word{bits: boolBit(floatCond(in.Cond, x, y))}
		case opF32Add:
			fr.f32op(in, func(x, y float32) float32 { return x + y })
		case opF32Sub:
			fr.f32op(in, func(x, y float32) float32 { return x - y })
		case opF32Mul:
			fr.f32op(in, func(x, y float32) float32 { return x * y })
		case opF32Div:
			fr.f32op(in, func(x, y float32) float32 { return x / y })
		case opCvtIntFloat:
			fr.regs[in.Dst].bits = math.Float64bits(float64(int64(fr.regs[in.Dst].bits)))
		case opCvtFloatF32:
			f := math.Float64frombits(fr.regs[in.Dst].bits)
			fr.regs[in.Dst].bits = uint64(math.Float32bits(float32(f)))
		case opCvtF32Float:
			f := math.Float32frombits(uint32(fr.regs[in.Dst].bits))
			fr.regs[in.Dst].bits = math.Float64bits(float64(f))
		case opJump:
			pc = code.targets[in.Label.id]
		case opJumpZero:
			if fr.regs[in.Src].bits == 0 {
				pc = code.targets[in.Label.id]
			}
		case opJumpNotZero:
			if fr.regs[in.Src].bits != 0 {
				pc = code.targets[in.Label.id]
			}
		case opCall:
			fr.call(in)
		case opRet:
			return
		default:
			panic(fmt.Sprintf("emit: bad opcode %d", in.Op))
		}
	}
}

func (fr *frame) fop(in *Inst, op func(x, y float64) float64) {
	x := math.Float64frombits(fr.regs[in.Dst].bits)
	y := math.Float64frombits(fr.regs[in.Src].bits)
	fr.regs[in.Dst].bits = math.Float64bits(op(x, y))
}

func (fr *frame) f32op(in *Inst, op func(x, y float32) float32) {
	x := math.Float32frombits(uint32(fr.regs[in.Dst].bits))
	y := math.Float32frombits(uint32(fr.regs[in.Src].bits))
	fr.regs[in.Dst].bits = uint64(math.Float32bits(op(x, y)))
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func intCond(c Cond, x, y int64) bool {
	switch c {
	case CondEq:
		return x == y
	case CondNe:
		return x != y
	case CondLt:
		return x < y
	case CondLe:
		return x <= y
	case CondGt:
		return x > y
	default:
		return x >= y
	}
}

func floatCond(c Cond, x, y float64) bool {
	switch c {
	case CondEq:
		return x == y
	case CondNe:
		return x != y
	case CondLt:
		return x < y
	case CondLe:
		return x <= y
	case CondGt:
		return x > y
	default:
		return x >= y
	}
}

// ---------------------------------------------------------------------------
// Memory access
// ---------------------------------------------------------------------------

func (fr *frame) memAddr(m Mem) addr {
	w := fr.regs[m.Base]
	if !w.isAddr {
		panic("emit: memory operand base is not an address")
	}
	a := w.addr
	a.off += m.Disp
	return a
}

// slot resolves a value-region address to the value it points into, plus
// the byte offset inside that value.
func (fr *frame) slot(a addr) (*vm.Value, int32) {
	var region []vm.Value
	switch a.region {
	case RegionResult:
		if a.off >= vm.ValueSize {
			panic("emit: result offset out of range")
		}
		return fr.result, a.off
	case RegionArgs:
		region = fr.args
	case RegionStack:
		region = fr.stack
	case RegionMembers:
		region = fr.members
	case RegionConstants:
		region = fr.f.consts
	default:
		panic("emit: not a value region")
	}
	idx := a.off / vm.ValueSize
	if idx < 0 || int(idx) >= len(region) {
		panic(fmt.Sprintf("emit: region %d slot %d out of range", a.region, idx))
	}
	return &region[idx], a.off - idx*vm.ValueSize
}

func (fr *frame) load(a addr, width uint8) uint64 {
	switch a.region {
	case RegionScratch:
		w := fr.scratch[a.off/8]
		if w.isAddr {
			panic("emit: raw load of an address word")
		}
		if width == 4 {
			return w.bits & 0xffffffff
		}
		return w.bits
	case RegionFlag:
		return boolBit(fr.ok)
	case RegionCallErr:
		switch a.off {
		case 0:
			return uint64(uint32(fr.cerr.Error))
		case 4:
			return uint64(uint32(fr.cerr.Argument))
		case 8:
			return uint64(uint32(fr.cerr.Expected))
		}
		panic("emit: bad call-error offset")
	}
	v, fld := fr.slot(a)
	switch {
	case fld == vm.KindOffset && width == 4:
		return uint64(uint32(v.Kind))
	case fld == vm.BitsOffset && width == 8:
		return v.Bits
	case fld == vm.LaneXOffset && width == 4:
		return v.Bits & 0xffffffff
	case fld == vm.LaneYOffset && width == 4:
		return v.Bits >> 32
	}
	panic(fmt.Sprintf("emit: bad value access at +%d width %d", fld, width))
}

func (fr *frame) store(a addr, width uint8, w word) {
	switch a.region {
	case RegionScratch:
		if width == 8 {
			fr.scratch[a.off/8] = w
		} else {
			s := &fr.scratch[a.off/8]
			s.isAddr = false
			s.bits = (s.bits &^ 0xffffffff) | (w.bits & 0xffffffff)
		}
		return
	case RegionFlag:
		fr.ok = w.bits != 0
		return
	case RegionCallErr:
		switch a.off {
		case 0:
			fr.cerr.Error = vm.CallErrorCode(uint32(w.bits))
		case 4:
			fr.cerr.Argument = int32(uint32(w.bits))
		case 8:
			fr.cerr.Expected = vm.Kind(uint32(w.bits))
		default:
			panic("emit: bad call-error offset")
		}
		return
	}
	v, fld := fr.slot(a)
	switch {
	case fld == vm.KindOffset && width == 4:
		// A raw tag store makes the slot a non-reference value.
		v.Kind = vm.Kind(uint32(w.bits))
		v.Ref = nil
	case fld == vm.BitsOffset && width == 8:
		v.Bits = w.bits
	case fld == vm.LaneXOffset && width == 4:
		v.Bits = (v.Bits &^ 0xffffffff) | (w.bits & 0xffffffff)
	case fld == vm.LaneYOffset && width == 4:
		v.Bits = (v.Bits & 0xffffffff) | (w.bits << 32)
	default:
		panic(fmt.Sprintf("emit: bad value access at +%d width %d", fld, width))
	}
}

// ---------------------------------------------------------------------------
// External calls
// ---------------------------------------------------------------------------

// arg is one resolved call argument.
type arg struct {
	bits  uint64
	val   *vm.Value
	flag  *bool
	cerr  *vm.CallError
	str   string
	block []*vm.Value
	st    *vm.Statics
}

func (fr *frame) resolveArg(ca CallArg) arg {
	switch ca.Kind {
	case ArgImm:
		return arg{bits: ca.Imm}
	case ArgStr:
		return arg{str: ca.Str}
	case ArgStatics:
		return arg{st: fr.f.statics}
	case ArgBlock:
		if ca.Count == 0 {
			return arg{}
		}
		w := fr.regs[ca.Reg]
		if !w.isAddr || w.addr.region != RegionScratch {
			panic("emit: argument block is not a scratch address")
		}
		base := w.addr.off / 8
		block := make([]*vm.Value, ca.Count)
		for i := range block {
			sw := fr.scratch[base+int32(i)]
			if !sw.isAddr {
				panic("emit: argument block slot is not an address")
			}
			block[i] = fr.valuePtr(sw.addr)
		}
		return arg{block: block}
	}
	w := fr.regs[ca.Reg]
	if !w.isAddr {
		return arg{bits: w.bits}
	}
	switch w.addr.region {
	case RegionFlag:
		return arg{flag: &fr.ok}
	case RegionCallErr:
		return arg{cerr: &fr.cerr}
	default:
		return arg{val: fr.valuePtr(w.addr)}
	}
}

func (fr *frame) valuePtr(a addr) *vm.Value {
	v, fld := fr.slot(a)
	if fld != 0 {
		panic("emit: unaligned value address passed to call")
	}
	return v
}

func (fr *frame) call(in *Inst) {
	site := in.Call
	as := make([]arg, len(site.Args))
	for i, ca := range site.Args {
		as[i] = fr.resolveArg(ca)
	}
	switch fn := site.Target.Fn.(type) {
	case SigBinary:
		fn(as[0].val, as[1].val, as[2].val)
	case SigEval:
		fn(vm.Operator(as[0].bits), as[1].val, as[2].val, as[3].val, as[4].flag)
	case SigCopy:
		fn(as[0].val, as[1].val)
	case SigCopyTyped:
		fn(vm.Kind(as[0].bits), as[1].val, as[2].val)
	case SigKeyed:
		fn(as[0].val, as[1].val, as[2].val, as[3].flag)
	case SigNamed:
		fn(as[0].val, as[1].str, as[2].val, as[3].flag)
	case SigIndexed:
		fn(as[0].val, int64(as[1].bits), as[2].val)
	case SigStatic:
		fn(as[0].st, as[1].str, as[2].str, as[3].val)
	case SigConstruct:
		fn(vm.Kind(as[0].bits), as[1].val, as[2].block, int(as[3].bits), as[4].cerr)
	case SigCtor:
		fn(as[0].val, as[1].block)
	case SigBuildArray:
		fn(as[0].val, as[1].block, int(as[2].bits))
	case SigBuildTypedArray:
		fn(as[0].val, vm.Kind(as[1].bits), as[2].str, as[3].block, int(as[4].bits), as[5].cerr)
	case SigCallMethod:
		fn(as[0].val, as[1].str, as[2].block, int(as[3].bits), as[4].val, as[5].cerr)
	case SigMethod:
		fn(as[0].val, as[1].block, as[2].val)
	case SigCallUtility:
		fn(as[0].str, as[1].block, int(as[2].bits), as[3].val, as[4].cerr)
	case SigUtility:
		fn(as[0].val, as[1].block, int(as[2].bits))
	case SigPredicate:
		r := fn(as[0].val)
		if in.Dst != NoReg {
			fr.regs[in.Dst] = word{bits: boolBit(r)}
		}
	case SigIter:
		fn(as[0].val, as[1].val, as[2].val, as[3].flag)
	default:
		panic(fmt.Sprintf("emit: extern %q has unsupported signature %T", site.Target.Name, site.Target.Fn))
	}
}
