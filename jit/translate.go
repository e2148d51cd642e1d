package jit

import (
	"fmt"

	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// translate drives the whole compilation of one function: the jump-target
// pre-pass, the prologue, the single forward walk over the instruction
// stream, and the final temp-displacement patch.
func (c *context) translate() error {
	targets, err := analyzeJumpTargets(c.fn.Code)
	if err != nil {
		return err
	}
	c.labels = make(map[int]*emit.Label, len(targets))
	for t := range targets {
		c.labels[t] = c.asm.NewLabel()
	}

	c.prologue()

	code := c.fn.Code
	pos := 0
	for pos < len(code) {
		if l, ok := c.labels[pos]; ok {
			c.asm.Bind(l)
		}
		length, ok := vm.InstructionLength(code, pos)
		if !ok {
			// The analyzer accepted the stream, so this cannot trip
			// unless the code slice changed underneath us.
			return fmt.Errorf("%w: at %04d", ErrTruncated, pos)
		}
		if err := c.emitOp(vm.Opcode(code[pos]), code[pos:pos+length], pos); err != nil {
			return err
		}
		pos += length
	}
	if l, ok := c.labels[pos]; ok {
		c.asm.Bind(l)
	}
	c.asm.Ret()

	c.patches.apply(c.fn.StackSize)
	return c.asm.Err()
}

// target returns the label for a branch-target word.
func (c *context) target(word uint32) *emit.Label {
	return c.labels[int(word)]
}

// emitOp emits the code for one instruction. w holds the full
// instruction, opcode word included.
func (c *context) emitOp(op vm.Opcode, w []uint32, at int) error {
	switch op {
	case vm.OpEnd, vm.OpLine:
		return nil

	case vm.OpOperator:
		return c.emitOperatorDynamic(w, at)
	case vm.OpOperatorValidated:
		return c.emitOperatorValidated(w, at)

	case vm.OpAssign:
		dst, src, err := c.resolve2(w[1], w[2], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extCopy,
			emit.RegArg(c.valueAddr(dst)), emit.RegArg(c.valueAddr(src)))
		return nil

	case vm.OpAssignTrue, vm.OpAssignFalse:
		dst, err := c.resolve(w[1], at)
		if err != nil {
			return err
		}
		var bits uint64
		if op == vm.OpAssignTrue {
			bits = 1
		}
		c.storeImm(dst, vm.KindOffset, 4, uint64(vm.KindBool))
		c.storeImm(dst, vm.BitsOffset, 8, bits)
		return nil

	case vm.OpAssignTyped:
		dst, src, err := c.resolve2(w[2], w[3], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extCopyTyped, emit.ImmArg(uint64(w[1])),
			emit.RegArg(c.valueAddr(dst)), emit.RegArg(c.valueAddr(src)))
		return nil

	case vm.OpGetKeyed:
		return c.emitGuardedGet(extGetKeyed, w[1], at, func(out emit.Reg) ([]emit.CallArg, error) {
			base, key, err := c.resolve2(w[2], w[3], at)
			if err != nil {
				return nil, err
			}
			return []emit.CallArg{
				emit.RegArg(c.valueAddr(base)), emit.RegArg(c.valueAddr(key)),
				emit.RegArg(out), emit.RegArg(c.regFlag),
			}, nil
		})
	case vm.OpSetKeyed:
		base, key, err := c.resolve2(w[1], w[2], at)
		if err != nil {
			return err
		}
		src, err := c.resolve(w[3], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extSetKeyed,
			emit.RegArg(c.valueAddr(base)), emit.RegArg(c.valueAddr(key)),
			emit.RegArg(c.valueAddr(src)), emit.RegArg(c.regFlag))
		return nil

	case vm.OpGetIndexedValidated:
		return c.emitIndexed(w, at, true)
	case vm.OpSetIndexedValidated:
		return c.emitIndexed(w, at, false)

	case vm.OpGetNamed:
		name := c.fn.NameAt(w[1])
		return c.emitGuardedGet(extGetNamed, w[2], at, func(out emit.Reg) ([]emit.CallArg, error) {
			base, err := c.resolve(w[3], at)
			if err != nil {
				return nil, err
			}
			return []emit.CallArg{
				emit.RegArg(c.valueAddr(base)), emit.StrArg(name),
				emit.RegArg(out), emit.RegArg(c.regFlag),
			}, nil
		})
	case vm.OpSetNamed:
		base, src, err := c.resolve2(w[2], w[3], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extSetNamed,
			emit.RegArg(c.valueAddr(base)), emit.StrArg(c.fn.NameAt(w[1])),
			emit.RegArg(c.valueAddr(src)), emit.RegArg(c.regFlag))
		return nil

	case vm.OpGetNamedValidated:
		return c.emitNamedValidated(w, at, true)
	case vm.OpSetNamedValidated:
		return c.emitNamedValidated(w, at, false)

	case vm.OpGetStatic:
		dst, err := c.resolve(w[3], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extStaticGet, emit.StaticsArg(),
			emit.StrArg(c.fn.NameAt(w[1])), emit.StrArg(c.fn.NameAt(w[2])),
			emit.RegArg(c.valueAddr(dst)))
		return nil
	case vm.OpSetStatic:
		src, err := c.resolve(w[3], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extStaticSet, emit.StaticsArg(),
			emit.StrArg(c.fn.NameAt(w[1])), emit.StrArg(c.fn.NameAt(w[2])),
			emit.RegArg(c.valueAddr(src)))
		return nil

	case vm.OpConstruct:
		dst, err := c.resolve(w[2], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[4:], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extConstruct, emit.ImmArg(uint64(w[1])),
			emit.RegArg(c.valueAddr(dst)), block, emit.ImmArg(uint64(w[3])),
			emit.RegArg(c.regCerr))
		return nil

	case vm.OpConstructValidated:
		if err := sideTable("constructors", at, w[1], len(c.fn.Constructors)); err != nil {
			return err
		}
		ctor := c.fn.Constructors[w[1]]
		dst, err := c.resolve(w[2], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[4:], at)
		if err != nil {
			return err
		}
		ext := &emit.Extern{Name: ctor.Name, Fn: emit.SigCtor(ctor.Fn)}
		c.asm.CallExt(emit.NoReg, ext, emit.RegArg(c.valueAddr(dst)), block)
		return nil

	case vm.OpConstructArray:
		dst, err := c.resolve(w[1], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[3:], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extBuildArray,
			emit.RegArg(c.valueAddr(dst)), block, emit.ImmArg(uint64(w[2])))
		return nil

	case vm.OpConstructTypedArray:
		dst, err := c.resolve(w[3], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[5:], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extBuildTyped,
			emit.RegArg(c.valueAddr(dst)), emit.ImmArg(uint64(w[1])),
			emit.StrArg(c.fn.NameAt(w[2])), block, emit.ImmArg(uint64(w[4])),
			emit.RegArg(c.regCerr))
		return nil

	case vm.OpCallMethod:
		dst, base, err := c.resolve2(w[2], w[3], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[5:], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extCallMethod,
			emit.RegArg(c.valueAddr(base)), emit.StrArg(c.fn.NameAt(w[1])),
			block, emit.ImmArg(uint64(w[4])),
			emit.RegArg(c.valueAddr(dst)), emit.RegArg(c.regCerr))
		return nil

	case vm.OpCallMethodValidated, vm.OpCallMethodValidatedNR:
		if err := sideTable("methods", at, w[1], len(c.fn.Methods)); err != nil {
			return err
		}
		m := c.fn.Methods[w[1]]
		dst, base, err := c.resolve2(w[2], w[3], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[5:], at)
		if err != nil {
			return err
		}
		if op == vm.OpCallMethodValidatedNR {
			// The method writes no result; the destination still becomes
			// a defined nil.
			c.storeNil(dst)
		}
		ext := &emit.Extern{Name: m.Name, Fn: emit.SigMethod(m.Fn)}
		c.asm.CallExt(emit.NoReg, ext,
			emit.RegArg(c.valueAddr(base)), block, emit.RegArg(c.valueAddr(dst)))
		return nil

	case vm.OpCallUtility:
		dst, err := c.resolve(w[2], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[4:], at)
		if err != nil {
			return err
		}
		c.asm.CallExt(emit.NoReg, extCallUtility,
			emit.StrArg(c.fn.NameAt(w[1])), block, emit.ImmArg(uint64(w[3])),
			emit.RegArg(c.valueAddr(dst)), emit.RegArg(c.regCerr))
		return nil

	case vm.OpCallUtilityValidated:
		if err := sideTable("utilities", at, w[1], len(c.fn.Utilities)); err != nil {
			return err
		}
		u := c.fn.Utilities[w[1]]
		dst, err := c.resolve(w[2], at)
		if err != nil {
			return err
		}
		block, err := c.buildArgBlock(w[4:], at)
		if err != nil {
			return err
		}
		ext := &emit.Extern{Name: u.Name, Fn: emit.SigUtility(u.Fn)}
		c.asm.CallExt(emit.NoReg, ext,
			emit.RegArg(c.valueAddr(dst)), block, emit.ImmArg(uint64(w[3])))
		return nil

	case vm.OpJump:
		c.asm.Jump(c.target(w[1]))
		return nil
	case vm.OpJumpIf, vm.OpJumpIfNot:
		return c.emitJumpTruthy(w, at, op == vm.OpJumpIf)
	case vm.OpJumpIfShared:
		cond, err := c.resolve(w[1], at)
		if err != nil {
			return err
		}
		r := c.asm.NewReg()
		c.asm.CallExt(r, extIsShared, emit.RegArg(c.valueAddr(cond)))
		c.asm.JumpNotZero(r, c.target(w[2]))
		return nil

	case vm.OpIterBeginRange:
		return c.emitIterBeginRange(w, at)
	case vm.OpIterRange:
		return c.emitIterRange(w, at)
	case vm.OpIterBeginArray, vm.OpIterBegin:
		return c.emitIterContainer(w, at, extIterBegin, false)
	case vm.OpIterArray, vm.OpIterNext:
		return c.emitIterContainer(w, at, extIterAdvance, true)

	case vm.OpReturn:
		src, err := c.resolve(w[1], at)
		if err != nil {
			return err
		}
		if c.fn.TypedReturn {
			c.asm.CallExt(emit.NoReg, extCopyTyped, emit.ImmArg(uint64(c.fn.ReturnKind)),
				emit.RegArg(c.regResult), emit.RegArg(c.valueAddr(src)))
		} else {
			c.asm.CallExt(emit.NoReg, extCopy,
				emit.RegArg(c.regResult), emit.RegArg(c.valueAddr(src)))
		}
		c.asm.Ret()
		return nil
	}
	return fmt.Errorf("%w: %08x at %04d", ErrUnknownOpcode, uint32(op), at)
}

func (c *context) resolve2(a, b uint32, at int) (loc, loc, error) {
	la, err := c.resolve(a, at)
	if err != nil {
		return loc{}, loc{}, err
	}
	lb, err := c.resolve(b, at)
	if err != nil {
		return loc{}, loc{}, err
	}
	return la, lb, nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// emitOperatorDynamic emits the generic-evaluator slow path. The result
// goes through a temporary: when the evaluator reports invalid operands
// the destination keeps its previous value instead of receiving garbage.
func (c *context) emitOperatorDynamic(w []uint32, at int) error {
	dst, err := c.resolve(w[2], at)
	if err != nil {
		return err
	}
	left, right, err := c.resolve2(w[3], w[4], at)
	if err != nil {
		return err
	}
	tmp := c.tempLoc()
	tmpAddr := c.valueAddr(tmp)
	c.asm.CallExt(emit.NoReg, extEval, emit.ImmArg(uint64(w[1])),
		emit.RegArg(c.valueAddr(left)), emit.RegArg(c.valueAddr(right)),
		emit.RegArg(tmpAddr), emit.RegArg(c.regFlag))

	skip := c.asm.NewLabel()
	ok := c.loadFlag()
	c.asm.JumpZero(ok, skip)
	c.asm.CallExt(emit.NoReg, extCopy, emit.RegArg(c.valueAddr(dst)), emit.RegArg(tmpAddr))
	c.asm.Bind(skip)
	c.freeLoc(tmp)
	return nil
}

func (c *context) emitOperatorValidated(w []uint32, at int) error {
	if err := sideTable("operators", at, w[1], len(c.fn.Operators)); err != nil {
		return err
	}
	helper := c.fn.Operators[w[1]]
	dst, err := c.resolve(w[2], at)
	if err != nil {
		return err
	}
	left, right, err := c.resolve2(w[3], w[4], at)
	if err != nil {
		return err
	}
	desc := vm.DescribeBinaryOp(helper)
	if selectPath(desc) == pathInline {
		c.emitInlineBinary(desc, dst, left, right)
		return nil
	}
	ext := &emit.Extern{Name: helper.Name, Fn: emit.SigBinary(helper.Fn)}
	c.asm.CallExt(emit.NoReg, ext,
		emit.RegArg(c.valueAddr(left)), emit.RegArg(c.valueAddr(right)),
		emit.RegArg(c.valueAddr(dst)))
	return nil
}

// ---------------------------------------------------------------------------
// Guarded loads
// ---------------------------------------------------------------------------

// emitGuardedGet is the shared shape of the dynamic get paths: the bridge
// writes into a temporary under a validity flag, and only a valid result
// reaches the destination.
func (c *context) emitGuardedGet(ext *emit.Extern, dstWord uint32, at int, args func(out emit.Reg) ([]emit.CallArg, error)) error {
	dst, err := c.resolve(dstWord, at)
	if err != nil {
		return err
	}
	tmp := c.tempLoc()
	tmpAddr := c.valueAddr(tmp)
	ca, err := args(tmpAddr)
	if err != nil {
		return err
	}
	c.asm.CallExt(emit.NoReg, ext, ca...)

	skip := c.asm.NewLabel()
	ok := c.loadFlag()
	c.asm.JumpZero(ok, skip)
	c.asm.CallExt(emit.NoReg, extCopy, emit.RegArg(c.valueAddr(dst)), emit.RegArg(tmpAddr))
	c.asm.Bind(skip)
	c.freeLoc(tmp)
	return nil
}

// ---------------------------------------------------------------------------
// Validated accessors
// ---------------------------------------------------------------------------

// emitIndexed handles the validated indexed forms. The index operand is a
// proven Int, so its payload loads straight into a register; bounds
// behavior belongs entirely to the accessor.
func (c *context) emitIndexed(w []uint32, at int, get bool) error {
	if err := sideTable("indexed accessors", at, w[1], len(c.fn.IndexedAccessors)); err != nil {
		return err
	}
	acc := c.fn.IndexedAccessors[w[1]]
	var baseW, idxW, valW uint32
	if get {
		valW, baseW, idxW = w[2], w[3], w[4]
	} else {
		baseW, idxW, valW = w[2], w[3], w[4]
	}
	base, idx, err := c.resolve2(baseW, idxW, at)
	if err != nil {
		return err
	}
	val, err := c.resolve(valW, at)
	if err != nil {
		return err
	}
	idxReg := c.asm.NewReg()
	c.load(idxReg, idx, vm.BitsOffset, 8)
	ext := &emit.Extern{Name: acc.Name, Fn: emit.SigIndexed(acc.Fn)}
	c.asm.CallExt(emit.NoReg, ext,
		emit.RegArg(c.valueAddr(base)), emit.RegArg(idxReg), emit.RegArg(c.valueAddr(val)))
	return nil
}

// emitNamedValidated handles the validated named forms. Lane accessors
// inline completely: a Vector2 float32 lane moves to or from a Float slot
// with no call at all. Other accessors call their pre-resolved body.
func (c *context) emitNamedValidated(w []uint32, at int, get bool) error {
	if err := sideTable("named accessors", at, w[1], len(c.fn.NamedAccessors)); err != nil {
		return err
	}
	acc := c.fn.NamedAccessors[w[1]]
	// Operand order is (dst, base) for the getter form, (base, src) for
	// the setter form; val is the non-base side either way.
	var base, val loc
	var err error
	if get {
		val, base, err = c.resolve2(w[2], w[3], at)
	} else {
		base, val, err = c.resolve2(w[2], w[3], at)
	}
	if err != nil {
		return err
	}
	if acc.Lane >= 0 {
		laneOff := vm.LaneXOffset
		if acc.Lane == 1 {
			laneOff = vm.LaneYOffset
		}
		r := c.asm.NewReg()
		if get {
			c.load(r, base, laneOff, 4)
			c.asm.CvtF32Float(r)
			c.storeImm(val, vm.KindOffset, 4, uint64(vm.KindFloat))
			c.store(val, vm.BitsOffset, 8, r)
		} else {
			c.load(r, val, vm.BitsOffset, 8)
			c.asm.CvtFloatF32(r)
			c.store(base, laneOff, 4, r)
		}
		return nil
	}
	ext := &emit.Extern{Name: acc.Name, Fn: emit.SigCopy(acc.Fn)}
	c.asm.CallExt(emit.NoReg, ext, emit.RegArg(c.valueAddr(base)), emit.RegArg(c.valueAddr(val)))
	return nil
}

// ---------------------------------------------------------------------------
// Conditional jumps
// ---------------------------------------------------------------------------

// emitJumpTruthy emits the truthiness test behind conditional jumps. Bool
// and Int payloads test inline on their raw bits; every other kind calls
// the Booleanize bridge.
func (c *context) emitJumpTruthy(w []uint32, at int, whenTrue bool) error {
	cond, err := c.resolve(w[1], at)
	if err != nil {
		return err
	}
	asm := c.asm
	slow := asm.NewLabel()
	join := asm.NewLabel()

	tag := asm.NewReg()
	c.load(tag, cond, vm.KindOffset, 4)
	kb := asm.NewReg()
	asm.MovImm(kb, uint64(vm.KindBool))
	ki := asm.NewReg()
	asm.MovImm(ki, uint64(vm.KindInt))
	isB := asm.NewReg()
	asm.CmpSet(emit.CondEq, isB, tag, kb)
	isI := asm.NewReg()
	asm.CmpSet(emit.CondEq, isI, tag, ki)
	asm.Add(isB, isI)

	res := asm.NewReg()
	asm.JumpZero(isB, slow)
	c.load(res, cond, vm.BitsOffset, 8)
	asm.Jump(join)
	asm.Bind(slow)
	asm.CallExt(res, extBooleanize, emit.RegArg(c.valueAddr(cond)))
	asm.Bind(join)

	if whenTrue {
		asm.JumpNotZero(res, c.target(w[2]))
	} else {
		asm.JumpZero(res, c.target(w[2]))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// emitIterBeginRange initializes a numeric range loop. The counter and
// the internal cursor both start at from; the loop is entered only when
// (to - from) * step is positive, which also makes a zero step a
// zero-trip loop instead of an infinite one.
func (c *context) emitIterBeginRange(w []uint32, at int) error {
	counter, from, err := c.resolve2(w[1], w[2], at)
	if err != nil {
		return err
	}
	to, step, err := c.resolve2(w[3], w[4], at)
	if err != nil {
		return err
	}
	iter, err := c.resolve(w[5], at)
	if err != nil {
		return err
	}
	asm := c.asm

	rFrom := asm.NewReg()
	c.load(rFrom, from, vm.BitsOffset, 8)
	rTo := asm.NewReg()
	c.load(rTo, to, vm.BitsOffset, 8)
	rStep := asm.NewReg()
	c.load(rStep, step, vm.BitsOffset, 8)

	c.storeImm(iter, vm.KindOffset, 4, uint64(vm.KindInt))
	c.store(iter, vm.BitsOffset, 8, rFrom)
	c.storeImm(counter, vm.KindOffset, 4, uint64(vm.KindInt))
	c.store(counter, vm.BitsOffset, 8, rFrom)

	rDiff := asm.NewReg()
	asm.Mov(rDiff, rTo)
	asm.Sub(rDiff, rFrom)
	asm.Mul(rDiff, rStep)
	rZero := asm.NewReg()
	asm.MovImm(rZero, 0)
	rEnter := asm.NewReg()
	asm.CmpSet(emit.CondGt, rEnter, rDiff, rZero)
	asm.JumpZero(rEnter, c.target(w[6]))
	return nil
}

// emitIterRange advances a range loop and branches back to the body while
// the cursor stays short of the bound.
func (c *context) emitIterRange(w []uint32, at int) error {
	counter, to, err := c.resolve2(w[1], w[2], at)
	if err != nil {
		return err
	}
	step, iter, err := c.resolve2(w[3], w[4], at)
	if err != nil {
		return err
	}
	asm := c.asm

	rIter := asm.NewReg()
	c.load(rIter, iter, vm.BitsOffset, 8)
	rStep := asm.NewReg()
	c.load(rStep, step, vm.BitsOffset, 8)
	asm.Add(rIter, rStep)
	c.store(iter, vm.BitsOffset, 8, rIter)

	rTo := asm.NewReg()
	c.load(rTo, to, vm.BitsOffset, 8)
	rDiff := asm.NewReg()
	asm.Mov(rDiff, rTo)
	asm.Sub(rDiff, rIter)
	asm.Mul(rDiff, rStep)
	rZero := asm.NewReg()
	asm.MovImm(rZero, 0)
	rMore := asm.NewReg()
	asm.CmpSet(emit.CondGt, rMore, rDiff, rZero)

	done := asm.NewLabel()
	asm.JumpZero(rMore, done)
	c.storeImm(counter, vm.KindOffset, 4, uint64(vm.KindInt))
	c.store(counter, vm.BitsOffset, 8, rIter)
	asm.Jump(c.target(w[5]))
	asm.Bind(done)
	return nil
}

// emitIterContainer emits the container forms, generic and array alike:
// the bridge owns element access, the flag decides the branch. Begin
// forms branch out on exhaustion, advance forms branch back on success.
func (c *context) emitIterContainer(w []uint32, at int, ext *emit.Extern, advance bool) error {
	counter, container, err := c.resolve2(w[1], w[2], at)
	if err != nil {
		return err
	}
	iter, err := c.resolve(w[3], at)
	if err != nil {
		return err
	}
	c.asm.CallExt(emit.NoReg, ext,
		emit.RegArg(c.valueAddr(container)), emit.RegArg(c.valueAddr(counter)),
		emit.RegArg(c.valueAddr(iter)), emit.RegArg(c.regFlag))
	ok := c.loadFlag()
	if advance {
		c.asm.JumpNotZero(ok, c.target(w[4]))
	} else {
		c.asm.JumpZero(ok, c.target(w[4]))
	}
	return nil
}
