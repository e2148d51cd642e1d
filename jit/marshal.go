package jit

import (
	"fmt"

	"github.com/chazu/tansy/emit"
)

// buildArgBlock emits the argument marshalling for a variadic call: a
// scratch block is filled with the addresses of the argument slots and
// its own address becomes the call argument. A zero-argument call skips
// the block entirely and the bridge sees a nil slice.
func (c *context) buildArgBlock(words []uint32, at int) (emit.CallArg, error) {
	argc := len(words)
	if argc == 0 {
		return emit.BlockArg(emit.NoReg, 0), nil
	}
	asm := c.asm
	off := asm.AllocScratch(int32(argc) * 8)
	for i, w := range words {
		l, err := c.resolve(w, at)
		if err != nil {
			return emit.CallArg{}, err
		}
		addr := c.valueAddr(l)
		asm.Store(emit.Mem{Base: c.regScratch, Disp: off + int32(i)*8, Width: 8}, addr)
	}
	blk := asm.NewReg()
	asm.Lea(blk, emit.Mem{Base: c.regScratch, Disp: off, Width: 8})
	return emit.BlockArg(blk, argc), nil
}

// sideTable bounds-checks an index into one of the function's validated
// side tables.
func sideTable(name string, at int, idx uint32, size int) error {
	if int(idx) < size {
		return nil
	}
	return fmt.Errorf("%w: %s[%d] of %d at %04d", ErrBadSideTable, name, idx, size, at)
}
