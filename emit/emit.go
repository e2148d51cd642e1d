// Package emit is the low-level code emitter underneath the JIT. The JIT
// core treats it as a black box with a narrow surface: allocate virtual
// registers, emit instructions, define and bind labels, call external
// helper functions with typed signatures, and finalize the instruction
// stream into an executable function installed in a shared runtime arena.
//
// Instructions are held as mutable nodes until Finalize, which is what
// makes the JIT's deferred memory-operand patching possible: a recorded
// node's displacement can be rewritten any time before the stream is
// frozen.
package emit

import (
	"errors"
	"fmt"
)

// Reg is a virtual register handle. Registers hold a 64-bit payload word
// or a region address (the result of Lea/LoadRegion).
type Reg int32

// NoReg marks an absent register operand.
const NoReg Reg = -1

// regLimit caps virtual register allocation; exceeding it is an emission
// failure reported at Finalize, mirroring a real encoder running out of
// encodable operands.
const regLimit = 1 << 14

// Region identifies one of the storage areas addressable by emitted code.
type Region uint8

const (
	RegionResult    Region = iota // the single result value slot
	RegionArgs                    // caller-supplied argument array
	RegionStack                   // evaluation stack: locals then temporaries
	RegionMembers                 // instance member array
	RegionConstants               // the function's constant pool
	RegionScratch                 // per-invocation word-addressed scratch frame
	RegionFlag                    // the out-validity boolean scratch
	RegionCallErr                 // the out-call-error record scratch
)

// Mem is a memory operand: a base register that must hold a region
// address, plus a byte displacement and an access width (4 or 8 bytes).
type Mem struct {
	Base  Reg
	Disp  int32
	Width uint8
}

// Cond selects a comparison condition for CmpSet instructions.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
)

// Label is an opaque branch-target handle. A label may be referenced by
// branches before it is bound; every referenced label must be bound by
// Finalize time.
type Label struct {
	id    int
	bound bool
	pc    int
}

// Bound reports whether the label has been bound to a code position.
func (l *Label) Bound() bool { return l.bound }

// Op is the emitter's instruction set.
type Op uint8

const (
	opNop Op = iota
	opMovImm
	opMov
	opLoadRegion
	opLea
	opLoad
	opStore
	opStoreImm
	opAdd
	opSub
	opMul
	opCmpSet
	opFAdd
	opFSub
	opFMul
	opFDiv
	opFCmpSet
	opF32Add
	opF32Sub
	opF32Mul
	opF32Div
	opCvtIntFloat
	opCvtFloatF32
	opCvtF32Float
	opJump
	opJumpZero
	opJumpNotZero
	opBind
	opCall
	opRet
)

// Inst is one emitted instruction node. Nodes stay mutable until the
// assembler is finalized; the JIT's patcher rewrites Mem.Disp in place.
type Inst struct {
	Op    Op
	Dst   Reg
	Src   Reg
	Src2  Reg
	Imm   uint64
	Mem   Mem
	Cond  Cond
	Label *Label
	Call  *CallSite
}

// Assembler accumulates instructions for one function. Errors are sticky:
// the first failure is remembered and re-reported by Finalize, so opcode
// handlers can emit unconditionally.
type Assembler struct {
	name    string
	insts   []*Inst
	nextReg Reg
	labels  []*Label
	scratch int32 // high-water scratch size, bytes
	err     error
}

// NewAssembler creates an assembler for one function body.
func NewAssembler(name string) *Assembler {
	return &Assembler{name: name}
}

// Name returns the function name the assembler was created with.
func (a *Assembler) Name() string { return a.name }

// Err returns the sticky emission error, if any.
func (a *Assembler) Err() error { return a.err }

func (a *Assembler) fail(format string, args ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

// NewReg allocates a fresh virtual register.
func (a *Assembler) NewReg() Reg {
	if a.nextReg >= regLimit {
		a.fail("emit: out of virtual registers (%d)", regLimit)
		return NoReg
	}
	r := a.nextReg
	a.nextReg++
	return r
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() *Label {
	l := &Label{id: len(a.labels), pc: -1}
	a.labels = append(a.labels, l)
	return l
}

// AllocScratch reserves size bytes of per-invocation scratch space and
// returns its byte offset within the scratch region. Offsets are 8-byte
// aligned.
func (a *Assembler) AllocScratch(size int32) int32 {
	off := a.scratch
	a.scratch += (size + 7) &^ 7
	return off
}

func (a *Assembler) push(i *Inst) *Inst {
	a.insts = append(a.insts, i)
	return i
}

// ---------------------------------------------------------------------------
// Instruction constructors
// ---------------------------------------------------------------------------

// MovImm sets dst to a 64-bit immediate.
func (a *Assembler) MovImm(dst Reg, imm uint64) *Inst {
	return a.push(&Inst{Op: opMovImm, Dst: dst, Imm: imm})
}

// Mov copies src into dst.
func (a *Assembler) Mov(dst, src Reg) *Inst {
	return a.push(&Inst{Op: opMov, Dst: dst, Src: src})
}

// LoadRegion sets dst to the address of the start of a region.
func (a *Assembler) LoadRegion(dst Reg, r Region) *Inst {
	return a.push(&Inst{Op: opLoadRegion, Dst: dst, Imm: uint64(r)})
}

// Lea sets dst to the address denoted by the memory operand.
func (a *Assembler) Lea(dst Reg, m Mem) *Inst {
	return a.push(&Inst{Op: opLea, Dst: dst, Mem: m})
}

// Load reads m.Width bytes at the operand's address into dst,
// zero-extended.
func (a *Assembler) Load(dst Reg, m Mem) *Inst {
	return a.push(&Inst{Op: opLoad, Dst: dst, Mem: m})
}

// Store writes the low m.Width bytes of src to the operand's address.
func (a *Assembler) Store(m Mem, src Reg) *Inst {
	return a.push(&Inst{Op: opStore, Mem: m, Src: src})
}

// StoreImm writes an immediate of m.Width bytes to the operand's address.
func (a *Assembler) StoreImm(m Mem, imm uint64) *Inst {
	return a.push(&Inst{Op: opStoreImm, Mem: m, Imm: imm})
}

// Add, Sub and Mul perform 64-bit integer arithmetic, dst op= src.
func (a *Assembler) Add(dst, src Reg) *Inst { return a.push(&Inst{Op: opAdd, Dst: dst, Src: src}) }
func (a *Assembler) Sub(dst, src Reg) *Inst { return a.push(&Inst{Op: opSub, Dst: dst, Src: src}) }
func (a *Assembler) Mul(dst, src Reg) *Inst { return a.push(&Inst{Op: opMul, Dst: dst, Src: src}) }

// CmpSet compares x and y as signed 64-bit integers and sets dst to 1 or 0.
func (a *Assembler) CmpSet(c Cond, dst, x, y Reg) *Inst {
	return a.push(&Inst{Op: opCmpSet, Cond: c, Dst: dst, Src: x, Src2: y})
}

// FAdd, FSub, FMul and FDiv perform float64 arithmetic on register
// payloads, dst op= src. FDiv is unchecked: IEEE semantics apply.
func (a *Assembler) FAdd(dst, src Reg) *Inst { return a.push(&Inst{Op: opFAdd, Dst: dst, Src: src}) }
func (a *Assembler) FSub(dst, src Reg) *Inst { return a.push(&Inst{Op: opFSub, Dst: dst, Src: src}) }
func (a *Assembler) FMul(dst, src Reg) *Inst { return a.push(&Inst{Op: opFMul, Dst: dst, Src: src}) }
func (a *Assembler) FDiv(dst, src Reg) *Inst { return a.push(&Inst{Op: opFDiv, Dst: dst, Src: src}) }

// FCmpSet compares x and y as float64 and sets dst to 1 or 0.
func (a *Assembler) FCmpSet(c Cond, dst, x, y Reg) *Inst {
	return a.push(&Inst{Op: opFCmpSet, Cond: c, Dst: dst, Src: x, Src2: y})
}

// F32Add, F32Sub, F32Mul and F32Div perform float32 arithmetic on the low
// 32 bits of register payloads, used for vector lane decomposition.
func (a *Assembler) F32Add(dst, src Reg) *Inst { return a.push(&Inst{Op: opF32Add, Dst: dst, Src: src}) }
func (a *Assembler) F32Sub(dst, src Reg) *Inst { return a.push(&Inst{Op: opF32Sub, Dst: dst, Src: src}) }
func (a *Assembler) F32Mul(dst, src Reg) *Inst { return a.push(&Inst{Op: opF32Mul, Dst: dst, Src: src}) }
func (a *Assembler) F32Div(dst, src Reg) *Inst { return a.push(&Inst{Op: opF32Div, Dst: dst, Src: src}) }

// CvtIntFloat converts dst from int64 to float64 bits in place.
func (a *Assembler) CvtIntFloat(dst Reg) *Inst {
	return a.push(&Inst{Op: opCvtIntFloat, Dst: dst})
}

// CvtFloatF32 narrows dst from float64 bits to float32 bits in place.
func (a *Assembler) CvtFloatF32(dst Reg) *Inst {
	return a.push(&Inst{Op: opCvtFloatF32, Dst: dst})
}

// CvtF32Float widens dst from float32 bits to float64 bits in place.
func (a *Assembler) CvtF32Float(dst Reg) *Inst {
	return a.push(&Inst{Op: opCvtF32Float, Dst: dst})
}

// Jump emits an unconditional branch to l.
func (a *Assembler) Jump(l *Label) *Inst {
	return a.push(&Inst{Op: opJump, Label: l})
}

// JumpZero branches to l when src is zero.
func (a *Assembler) JumpZero(src Reg, l *Label) *Inst {
	return a.push(&Inst{Op: opJumpZero, Src: src, Label: l})
}

// JumpNotZero branches to l when src is nonzero.
func (a *Assembler) JumpNotZero(src Reg, l *Label) *Inst {
	return a.push(&Inst{Op: opJumpNotZero, Src: src, Label: l})
}

// Bind attaches l to the current code position. Binding twice is an
// emission error.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		a.fail("emit: label %d bound twice", l.id)
		return
	}
	l.bound = true
	a.push(&Inst{Op: opBind, Label: l})
}

// CallExt invokes an external helper. dst receives the helper's native
// return value for predicate signatures, NoReg otherwise.
func (a *Assembler) CallExt(dst Reg, target *Extern, args ...CallArg) *Inst {
	return a.push(&Inst{Op: opCall, Dst: dst, Call: &CallSite{Target: target, Args: args}})
}

// Ret terminates the function.
func (a *Assembler) Ret() *Inst {
	return a.push(&Inst{Op: opRet})
}

// ---------------------------------------------------------------------------
// Finalize
// ---------------------------------------------------------------------------

// Code is a finalized, immutable instruction stream ready to install into
// a Runtime.
type Code struct {
	name    string
	insts   []*Inst
	targets []int // label id -> instruction index
	numRegs int
	scratch int32
}

// Name returns the compiled function's name.
func (c *Code) Name() string { return c.name }

// Len returns the instruction count, for diagnostics.
func (c *Code) Len() int { return len(c.insts) }

// ErrUnboundLabel is reported when a referenced label was never bound.
var ErrUnboundLabel = errors.New("emit: branch to unbound label")

// Finalize resolves labels and freezes the instruction stream. After a
// successful Finalize the assembler must not be used further.
func (a *Assembler) Finalize() (*Code, error) {
	if a.err != nil {
		return nil, a.err
	}

	targets := make([]int, len(a.labels))
	for i := range targets {
		targets[i] = -1
	}
	for pc, in := range a.insts {
		if in.Op == opBind {
			targets[in.Label.id] = pc
			in.Label.pc = pc
		}
	}
	for _, in := range a.insts {
		switch in.Op {
		case opJump, opJumpZero, opJumpNotZero:
			if targets[in.Label.id] < 0 {
				return nil, fmt.Errorf("%w: label %d in %s", ErrUnboundLabel, in.Label.id, a.name)
			}
		}
	}

	return &Code{
		name:    a.name,
		insts:   a.insts,
		targets: targets,
		numRegs: int(a.nextReg),
		scratch: a.scratch,
	}, nil
}
