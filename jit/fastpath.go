package jit

import (
	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// pathKind classifies how a validated operator instruction is emitted.
type pathKind int

const (
	// pathHelper calls the pre-resolved helper from the side table.
	pathHelper pathKind = iota
	// pathInline emits pure register code with no call at all.
	pathInline
)

// selectPath decides whether a validated helper's proven operand kinds
// admit inline code. Integer division and modulo stay on the helper,
// which owns the divide-by-zero check; float division is IEEE and inlines
// unguarded. An unknown descriptor always takes the helper path: the
// helper pointer is valid whether or not the registry can describe it.
func selectPath(d vm.OpDescriptor) pathKind {
	if !d.Known {
		return pathHelper
	}
	switch {
	case d.Left == vm.KindInt && d.Right == vm.KindInt:
		if d.Op == vm.OpDiv || d.Op == vm.OpMod {
			return pathHelper
		}
		return pathInline
	case scalarNumeric(d.Left) && scalarNumeric(d.Right):
		if d.Op == vm.OpMod {
			return pathHelper
		}
		return pathInline
	case d.Left == vm.KindVector2 || d.Right == vm.KindVector2:
		if vectorInline(d) {
			return pathInline
		}
	}
	return pathHelper
}

func scalarNumeric(k vm.Kind) bool {
	return k == vm.KindInt || k == vm.KindFloat
}

// vectorInline admits lane-decomposed arithmetic: Vector2 against Vector2
// or a numeric scalar broadcast across both lanes. Vector comparisons and
// everything else go through the helper.
func vectorInline(d vm.OpDescriptor) bool {
	switch d.Op {
	case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpDiv:
	default:
		return false
	}
	lane := func(k vm.Kind) bool { return k == vm.KindVector2 || scalarNumeric(k) }
	return lane(d.Left) && lane(d.Right)
}

func condFor(op vm.Operator) emit.Cond {
	switch op {
	case vm.OpEq:
		return emit.CondEq
	case vm.OpNe:
		return emit.CondNe
	case vm.OpLt:
		return emit.CondLt
	case vm.OpLe:
		return emit.CondLe
	case vm.OpGt:
		return emit.CondGt
	default:
		return emit.CondGe
	}
}

// emitInlineBinary emits register code for one proven operand shape. All
// operand payloads are loaded before the destination tag is written, so
// the sequence stays correct when the destination aliases an operand.
func (c *context) emitInlineBinary(d vm.OpDescriptor, dst, left, right loc) {
	switch {
	case d.Left == vm.KindInt && d.Right == vm.KindInt:
		c.inlineIntInt(d, dst, left, right)
	case d.Left == vm.KindVector2 || d.Right == vm.KindVector2:
		c.inlineVector(d, dst, left, right)
	default:
		c.inlineFloat(d, dst, left, right)
	}
}

func (c *context) inlineIntInt(d vm.OpDescriptor, dst, left, right loc) {
	asm := c.asm
	la, ra := asm.NewReg(), asm.NewReg()
	c.load(la, left, vm.BitsOffset, 8)
	c.load(ra, right, vm.BitsOffset, 8)
	if d.Op.IsComparison() {
		rr := asm.NewReg()
		asm.CmpSet(condFor(d.Op), rr, la, ra)
		c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindBool))
		c.store(dst, vm.BitsOffset, 8, rr)
		return
	}
	switch d.Op {
	case vm.OpAdd:
		asm.Add(la, ra)
	case vm.OpSub:
		asm.Sub(la, ra)
	default:
		asm.Mul(la, ra)
	}
	c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindInt))
	c.store(dst, vm.BitsOffset, 8, la)
}

// loadAsFloat loads a proven-numeric operand as float64 bits.
func (c *context) loadAsFloat(l loc, k vm.Kind) emit.Reg {
	r := c.asm.NewReg()
	c.load(r, l, vm.BitsOffset, 8)
	if k == vm.KindInt {
		c.asm.CvtIntFloat(r)
	}
	return r
}

func (c *context) inlineFloat(d vm.OpDescriptor, dst, left, right loc) {
	asm := c.asm
	la := c.loadAsFloat(left, d.Left)
	ra := c.loadAsFloat(right, d.Right)
	if d.Op.IsComparison() {
		rr := asm.NewReg()
		asm.FCmpSet(condFor(d.Op), rr, la, ra)
		c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindBool))
		c.store(dst, vm.BitsOffset, 8, rr)
		return
	}
	switch d.Op {
	case vm.OpAdd:
		asm.FAdd(la, ra)
	case vm.OpSub:
		asm.FSub(la, ra)
	case vm.OpMul:
		asm.FMul(la, ra)
	default:
		asm.FDiv(la, ra)
	}
	c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindFloat))
	c.store(dst, vm.BitsOffset, 8, la)
}

// laneRegs loads one operand as a pair of float32 lane registers. A
// scalar operand is converted once and broadcast across both lanes.
func (c *context) laneRegs(l loc, k vm.Kind) (x, y emit.Reg) {
	asm := c.asm
	if k == vm.KindVector2 {
		x, y = asm.NewReg(), asm.NewReg()
		c.load(x, l, vm.LaneXOffset, 4)
		c.load(y, l, vm.LaneYOffset, 4)
		return x, y
	}
	s := c.loadAsFloat(l, k)
	asm.CvtFloatF32(s)
	y = asm.NewReg()
	asm.Mov(y, s)
	return s, y
}

func (c *context) inlineVector(d vm.OpDescriptor, dst, left, right loc) {
	asm := c.asm
	lx, ly := c.laneRegs(left, d.Left)
	rx, ry := c.laneRegs(right, d.Right)
	switch d.Op {
	case vm.OpAdd:
		asm.F32Add(lx, rx)
		asm.F32Add(ly, ry)
	case vm.OpSub:
		asm.F32Sub(lx, rx)
		asm.F32Sub(ly, ry)
	case vm.OpMul:
		asm.F32Mul(lx, rx)
		asm.F32Mul(ly, ry)
	default:
		asm.F32Div(lx, rx)
		asm.F32Div(ly, ry)
	}
	c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindVector2))
	c.store(dst, vm.LaneXOffset, 4, lx)
	c.store(dst, vm.LaneYOffset, 4, ly)
}
