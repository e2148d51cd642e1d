package jit

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/tansy/vm"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func cacheFunction(name string) *vm.FunctionDef {
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpReturn, vm.MakeAddr(vm.ClassConstant, 0))
	b.Emit(vm.OpEnd)
	return &vm.FunctionDef{
		Name:      name,
		Code:      b.Words(),
		StackSize: 1,
		Constants: []vm.Value{vm.IntValue(42)},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := testCache(t)
	fn := cacheFunction("cached")
	if err := c.Put(fn, 12, 3, 250*time.Microsecond); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, rec, err := c.Get(fn.Checksum())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "cached" || got.Constants[0].Int() != 42 {
		t.Errorf("reloaded function = %+v", got)
	}
	if rec.Instructions != 12 || rec.StackSlots != 3 || rec.Duration != 250*time.Microsecond {
		t.Errorf("record = %+v", rec)
	}
	if rec.CodeWords != len(fn.Code) {
		t.Errorf("CodeWords = %d, want %d", rec.CodeWords, len(fn.Code))
	}

	// A reloaded function compiles and runs like the original.
	if out := run(t, got); out.Int() != 42 {
		t.Errorf("reloaded compile result = %s", out)
	}
}

func TestCacheDistinguishesConstants(t *testing.T) {
	// Identical code with different constant values must occupy distinct
	// rows; a shared key would let one function's Put overwrite the other
	// and Get hand back the wrong definition.
	c := testCache(t)
	a := cacheFunction("a")
	b := cacheFunction("b")
	b.Constants[0] = vm.IntValue(7)
	if a.Checksum() == b.Checksum() {
		t.Fatal("functions with different constants share a cache key")
	}
	if err := c.Put(a, 1, 1, time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(b, 1, 1, time.Microsecond); err != nil {
		t.Fatal(err)
	}
	got, _, err := c.Get(a.Checksum())
	if err != nil {
		t.Fatal(err)
	}
	if got.Constants[0].Int() != 42 {
		t.Errorf("reloaded constant = %s, want 42", got.Constants[0])
	}
	got, _, err = c.Get(b.Checksum())
	if err != nil {
		t.Fatal(err)
	}
	if got.Constants[0].Int() != 7 {
		t.Errorf("reloaded constant = %s, want 7", got.Constants[0])
	}
}

func TestCacheMiss(t *testing.T) {
	c := testCache(t)
	if _, _, err := c.Get(0xdeadbeef); !errors.Is(err, ErrNotCached) {
		t.Errorf("err = %v, want %v", err, ErrNotCached)
	}
}

func TestCacheReplace(t *testing.T) {
	c := testCache(t)
	fn := cacheFunction("f")
	if err := c.Put(fn, 1, 1, time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(fn, 9, 2, time.Microsecond); err != nil {
		t.Fatal(err)
	}
	_, rec, err := c.Get(fn.Checksum())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Instructions != 9 {
		t.Errorf("replace kept the old record: %+v", rec)
	}
	recs, err := c.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}
}

func TestCacheRecords(t *testing.T) {
	c := testCache(t)
	for _, name := range []string{"a", "b"} {
		fn := cacheFunction(name)
		// The function's own name is not part of the checksum; vary the
		// shape instead.
		if name == "b" {
			fn.StackSize = 2
		}
		if err := c.Put(fn, 1, fn.StackSize, time.Microsecond); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := c.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		t.Logf("cached %s: %d words, %d slots", r.Name, r.CodeWords, r.StackSlots)
	}
}

func TestCompilerWritesCache(t *testing.T) {
	c := testCache(t)
	jc := New(Config{Cache: c})
	fn := cacheFunction("writethrough")
	cp, err := jc.Compile(fn)
	if err != nil {
		t.Fatal(err)
	}
	_, rec, err := c.Get(fn.Checksum())
	if err != nil {
		t.Fatalf("compile did not populate the cache: %v", err)
	}
	if rec.StackSlots != cp.StackSlots {
		t.Errorf("cached slots = %d, want %d", rec.StackSlots, cp.StackSlots)
	}
}
