package jit

import (
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/tansy/emit"
	"github.com/chazu/tansy/vm"
)

var log = commonlog.GetLogger("tansy.jit")

// Config controls one Compiler instance.
type Config struct {
	// DumpCode logs the bytecode disassembly and emitted instruction
	// count of every successful compile at debug level.
	DumpCode bool

	// Cache, when set, records every compiled function in the on-disk
	// compile cache.
	Cache *Cache
}

// Compiler turns FunctionDefs into installed executable functions. It is
// safe for concurrent use; installed functions may be called from any
// number of goroutines at once.
type Compiler struct {
	rt  *emit.Runtime
	cfg Config

	mu    sync.Mutex
	stats Stats
}

// Stats are the compiler's counters since creation.
type Stats struct {
	Compiled uint64
	Failed   uint64
	Released uint64
	Time     time.Duration
}

// New creates a Compiler with its own executable arena.
func New(cfg Config) *Compiler {
	return &Compiler{rt: emit.NewRuntime(), cfg: cfg}
}

// Compiled is one installed function together with its frame shape.
type Compiled struct {
	def  *vm.FunctionDef
	code *emit.Func

	// StackSlots is the full frame size: the function's named slots plus
	// the temporaries the translator introduced. Callers must size the
	// stack region with this, not with the FunctionDef's StackSize.
	StackSlots int

	released bool
}

// Name returns the source function's name.
func (cp *Compiled) Name() string { return cp.def.Name }

// NewFrame allocates a correctly sized stack region for one call.
func (cp *Compiled) NewFrame() []vm.Value {
	return make([]vm.Value, cp.StackSlots)
}

// Call invokes the compiled function.
func (cp *Compiled) Call(result *vm.Value, args, stack, members []vm.Value) {
	cp.code.Call(result, args, stack, members)
}

// Compile translates, finalizes and installs one function. A failure
// reports a compile error and installs nothing; the caller falls back to
// whatever executed the function before.
func (jc *Compiler) Compile(fn *vm.FunctionDef) (*Compiled, error) {
	start := time.Now()
	c := newContext(fn)
	err := c.translate()
	var code *emit.Code
	if err == nil {
		code, err = c.asm.Finalize()
	}
	if err != nil {
		jc.mu.Lock()
		jc.stats.Failed++
		jc.mu.Unlock()
		return nil, fmt.Errorf("compile %s: %w", fn.Name, err)
	}

	statics := fn.Statics
	if statics == nil {
		statics = vm.NewStatics()
	}
	cp := &Compiled{
		def:        fn,
		code:       jc.rt.Install(code, fn.Constants, statics),
		StackSlots: fn.StackSize + c.temps.size(),
	}

	elapsed := time.Since(start)
	jc.mu.Lock()
	jc.stats.Compiled++
	jc.stats.Time += elapsed
	jc.mu.Unlock()

	if jc.cfg.DumpCode {
		log.Debugf("compiled %s: %d words -> %d instructions, %d stack slots\n%s",
			fn.Name, len(fn.Code), code.Len(), cp.StackSlots, vm.Disassemble(fn.Code))
	}
	if jc.cfg.Cache != nil {
		if cerr := jc.cfg.Cache.Put(fn, code.Len(), cp.StackSlots, elapsed); cerr != nil {
			log.Errorf("cache write for %s: %s", fn.Name, cerr.Error())
		}
	}
	return cp, nil
}

// Release uninstalls a compiled function. Releasing nil, or releasing the
// same function twice, is a no-op.
func (jc *Compiler) Release(cp *Compiled) {
	if cp == nil {
		return
	}
	jc.mu.Lock()
	done := cp.released
	cp.released = true
	if !done {
		jc.stats.Released++
	}
	jc.mu.Unlock()
	if !done {
		jc.rt.Release(cp.code)
	}
}

// Stats returns a snapshot of the compiler's counters.
func (jc *Compiler) Stats() Stats {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.stats
}

// Installed reports how many functions are currently installed in the
// arena.
func (jc *Compiler) Installed() int {
	return jc.rt.Count()
}
