package jit

import (
	"fmt"

	"github.com/chazu/tansy/vm"
)

// analyzeJumpTargets walks the instruction stream once before translation
// and collects every branch-target offset. The walk and the later
// translation pass both decode instruction lengths from the shared opcode
// table, so the two passes cannot disagree about where instructions
// start.
//
// Every target must land on an instruction boundary; a target inside an
// instruction means the producer emitted garbage, and translating it
// would execute operand words as opcodes.
func analyzeJumpTargets(code []uint32) (map[int]bool, error) {
	boundaries := make(map[int]bool)
	targets := make(map[int]int) // target offset -> branch site
	pos := 0
	for pos < len(code) {
		op := vm.Opcode(code[pos])
		info, known := op.Info()
		if !known {
			return nil, fmt.Errorf("%w: %08x at %04d", ErrUnknownOpcode, code[pos], pos)
		}
		length, ok := vm.InstructionLength(code, pos)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %04d", ErrTruncated, op, pos)
		}
		boundaries[pos] = true
		if info.JumpA >= 0 {
			t := int(code[pos+info.JumpA])
			if t > len(code) {
				return nil, fmt.Errorf("%w: %04d from %04d", ErrBadJump, t, pos)
			}
			targets[t] = pos
		}
		pos += length
	}
	// The end of the stream is a valid target: a branch there just
	// returns.
	boundaries[pos] = true

	set := make(map[int]bool, len(targets))
	for t, site := range targets {
		if !boundaries[t] {
			return nil, fmt.Errorf("%w: %04d from %04d splits an instruction", ErrBadJump, t, site)
		}
		set[t] = true
	}
	return set, nil
}
