package jit

import (
	"errors"
	"fmt"

	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// Compile-time failures. All of them mark a contract violation by the
// bytecode producer; none are recoverable by retrying.
var (
	ErrBadAddress    = errors.New("invalid slot address")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction stream")
	ErrBadJump       = errors.New("invalid jump target")
	ErrBadSideTable  = errors.New("side-table index out of range")
)

// loc is a resolved slot location: a region base register plus a byte
// displacement. Temporary slots carry temp >= 0 and keep a placeholder
// displacement until the patcher runs.
type loc struct {
	base emit.Reg
	disp int32
	temp int
}

// resolve maps a bytecode slot-address word onto a storage location. The
// index is checked against the region's declared size; a stack index can
// only name a named slot, since temporaries are the translator's own.
func (c *context) resolve(word uint32, at int) (loc, error) {
	class, idx, ok := vm.DecodeAddr(word)
	if !ok {
		return loc{}, fmt.Errorf("%w: %08x at %04d", ErrBadAddress, word, at)
	}
	switch class {
	case vm.ClassStack:
		if idx >= c.fn.StackSize {
			return loc{}, fmt.Errorf("%w: stack[%d] of %d at %04d", ErrBadAddress, idx, c.fn.StackSize, at)
		}
		return loc{base: c.regStack, disp: int32(idx) * vm.ValueSize, temp: -1}, nil
	case vm.ClassConstant:
		if idx >= len(c.fn.Constants) {
			return loc{}, fmt.Errorf("%w: const[%d] of %d at %04d", ErrBadAddress, idx, len(c.fn.Constants), at)
		}
		return loc{base: c.regConsts, disp: int32(idx) * vm.ValueSize, temp: -1}, nil
	default:
		if idx >= c.fn.MemberCount {
			return loc{}, fmt.Errorf("%w: member[%d] of %d at %04d", ErrBadAddress, idx, c.fn.MemberCount, at)
		}
		return loc{base: c.regMembers, disp: int32(idx) * vm.ValueSize, temp: -1}, nil
	}
}

// tempLoc allocates a temporary stack slot from the pool.
func (c *context) tempLoc() loc {
	return loc{base: c.regStack, temp: c.temps.alloc()}
}

// freeLoc returns a temporary to the pool; named locations pass through.
func (c *context) freeLoc(l loc) {
	if l.temp >= 0 {
		c.temps.release(l.temp)
	}
}

// memOf builds the memory operand for a field of a slot. Temporary slots
// get the placeholder displacement; callers must pair this with note so
// the patcher finds the operand.
func (c *context) memOf(l loc, field int32, width uint8) emit.Mem {
	d := l.disp + field
	if l.temp >= 0 {
		d = placeholderDisp + field
	}
	return emit.Mem{Base: l.base, Disp: d, Width: width}
}

func (c *context) notePatch(inst *emit.Inst, l loc, field int32) {
	if l.temp >= 0 {
		c.patches.note(inst, l.temp, field)
	}
}

func (c *context) load(dst emit.Reg, l loc, field int32, width uint8) {
	c.notePatch(c.asm.Load(dst, c.memOf(l, field, width)), l, field)
}

func (c *context) store(l loc, field int32, width uint8, src emit.Reg) {
	c.notePatch(c.asm.Store(c.memOf(l, field, width), src), l, field)
}

func (c *context) storeImm(l loc, field int32, width uint8, imm uint64) {
	c.notePatch(c.asm.StoreImm(c.memOf(l, field, width), imm), l, field)
}

// valueAddr materializes the address of a slot for passing to a helper.
func (c *context) valueAddr(l loc) emit.Reg {
	r := c.asm.NewReg()
	c.notePatch(c.asm.Lea(r, c.memOf(l, 0, 8)), l, 0)
	return r
}

// storeNil writes a nil value into a slot: tag first, then payload.
func (c *context) storeNil(l loc) {
	c.storeImm(l, vm.KindOffset, 4, uint64(vm.KindNil))
	c.storeImm(l, vm.BitsOffset, 8, 0)
}
