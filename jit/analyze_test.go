package jit

import (
	"errors"
	"testing"

	"github.com/chazu/tansy/vm"
)

func TestAnalyzeJumpTargets(t *testing.T) {
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpJumpIf, stack(0), 0)
	b.Emit(vm.OpAssignTrue, stack(0))
	target := b.Len()
	b.Emit(vm.OpReturn, stack(0))
	b.Emit(vm.OpEnd)
	b.Patch(2, uint32(target))

	targets, err := analyzeJumpTargets(b.Words())
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || !targets[target] {
		t.Errorf("targets = %v, want {%d}", targets, target)
	}
}

func TestAnalyzeEndOfStreamTarget(t *testing.T) {
	// Branching to the first offset past the last instruction is a plain
	// return, not an error.
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpJump, 0)
	b.Emit(vm.OpEnd)
	b.Patch(1, uint32(b.Len()))

	targets, err := analyzeJumpTargets(b.Words())
	if err != nil {
		t.Fatal(err)
	}
	if !targets[b.Len()] {
		t.Errorf("targets = %v", targets)
	}
}

func TestAnalyzeVariadicLengths(t *testing.T) {
	// The argument words of a call must not be parsed as instructions;
	// a jump over them proves the analyzer honors variadic lengths.
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpJump, 0)
	b.Emit(vm.OpCallUtility, 0, stack(0), 2, cnst(0), cnst(1))
	after := b.Len()
	b.Emit(vm.OpEnd)
	b.Patch(1, uint32(after))

	targets, err := analyzeJumpTargets(b.Words())
	if err != nil {
		t.Fatal(err)
	}
	if !targets[after] {
		t.Errorf("targets = %v, want {%d}", targets, after)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []uint32
		want error
	}{
		{"unknown opcode", []uint32{0xffff}, ErrUnknownOpcode},
		{"truncated", []uint32{uint32(vm.OpAssign), 0}, ErrTruncated},
		{"target past stream", []uint32{uint32(vm.OpJump), 99}, ErrBadJump},
		{"target splits instruction", []uint32{uint32(vm.OpJump), 1, uint32(vm.OpEnd)}, ErrBadJump},
	}
	for _, tt := range tests {
		if _, err := analyzeJumpTargets(tt.code); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}
