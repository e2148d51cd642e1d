package jit

import (
	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

// placeholderDisp fills the displacement of memory operands that address
// temporary stack slots until the final temporary count is known. It is
// far outside any real frame, so an operand that escapes patching faults
// immediately instead of silently aliasing a named slot.
const placeholderDisp = int32(1) << 28

type patchRecord struct {
	inst  *emit.Inst
	temp  int
	extra int32
}

// patcher collects the memory operands that address temporary stack
// slots. Temporaries live after the named slots, so their displacements
// depend on the named-slot count and on nothing that changes after
// translation; apply rewrites every record once the walk is done.
type patcher struct {
	records []patchRecord
}

func (p *patcher) note(inst *emit.Inst, temp int, extra int32) {
	p.records = append(p.records, patchRecord{inst: inst, temp: temp, extra: extra})
}

// apply rewrites every recorded operand to its final displacement and
// discards the records; the patch list is empty afterwards, so a second
// apply has nothing to do.
func (p *patcher) apply(namedSlots int) {
	for _, r := range p.records {
		r.inst.Mem.Disp = int32(namedSlots+r.temp)*vm.ValueSize + r.extra
	}
	p.records = nil
}

// tempPool hands out temporary stack-slot indexes. Released indexes are
// reused before the pool grows, keeping the frame as small as the deepest
// overlap of live temporaries.
type tempPool struct {
	free []int
	next int
}

func (t *tempPool) alloc() int {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx
	}
	idx := t.next
	t.next++
	return idx
}

func (t *tempPool) release(idx int) {
	t.free = append(t.free, idx)
}

// size is the high-water temporary count, i.e. how many slots beyond the
// named ones the frame needs.
func (t *tempPool) size() int { return t.next }
