package jit

import (
	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// context is the state of one function compilation: the assembler, the
// region base registers the prologue loads, the temporary pool with its
// patch records, and the labels created for branch targets.
type context struct {
	fn  *vm.FunctionDef
	asm *emit.Assembler

	regResult  emit.Reg
	regArgs    emit.Reg
	regStack   emit.Reg
	regMembers emit.Reg
	regConsts  emit.Reg
	regScratch emit.Reg
	regFlag    emit.Reg // address of the out-validity flag
	regCerr    emit.Reg // address of the out-call-error record

	temps   tempPool
	patches patcher
	labels  map[int]*emit.Label
}

func newContext(fn *vm.FunctionDef) *context {
	c := &context{fn: fn, asm: emit.NewAssembler(fn.Name)}
	asm := c.asm
	c.regResult = asm.NewReg()
	c.regArgs = asm.NewReg()
	c.regStack = asm.NewReg()
	c.regMembers = asm.NewReg()
	c.regConsts = asm.NewReg()
	c.regScratch = asm.NewReg()
	c.regFlag = asm.NewReg()
	c.regCerr = asm.NewReg()
	return c
}

// prologue loads the region base registers, clears the result slot and
// copies the caller's arguments into the leading named stack slots.
func (c *context) prologue() {
	asm := c.asm
	asm.LoadRegion(c.regResult, emit.RegionResult)
	asm.LoadRegion(c.regArgs, emit.RegionArgs)
	asm.LoadRegion(c.regStack, emit.RegionStack)
	asm.LoadRegion(c.regMembers, emit.RegionMembers)
	asm.LoadRegion(c.regConsts, emit.RegionConstants)
	asm.LoadRegion(c.regScratch, emit.RegionScratch)
	asm.LoadRegion(c.regFlag, emit.RegionFlag)
	asm.LoadRegion(c.regCerr, emit.RegionCallErr)

	// Result defaults to nil so a fall-off-the-end function is still
	// well defined.
	asm.StoreImm(emit.Mem{Base: c.regResult, Disp: vm.KindOffset, Width: 4}, uint64(vm.KindNil))
	asm.StoreImm(emit.Mem{Base: c.regResult, Disp: vm.BitsOffset, Width: 8}, 0)

	for i := 0; i < c.fn.ParamCount; i++ {
		dst := asm.NewReg()
		asm.Lea(dst, emit.Mem{Base: c.regStack, Disp: int32(i) * vm.ValueSize, Width: 8})
		src := asm.NewReg()
		asm.Lea(src, emit.Mem{Base: c.regArgs, Disp: int32(i) * vm.ValueSize, Width: 8})
		asm.CallExt(emit.NoReg, extCopy, emit.RegArg(dst), emit.RegArg(src))
	}
}

// loadFlag reads the out-validity flag into a fresh register.
func (c *context) loadFlag() emit.Reg {
	r := c.asm.NewReg()
	c.asm.Load(r, emit.Mem{Base: c.regFlag, Width: 4})
	return r
}
