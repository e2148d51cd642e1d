package vm

import "testing"

func TestCallMethodBridge(t *testing.T) {
	base := StringValue("hello")
	var ret Value
	var cerr CallError
	CallMethod(&base, "length", nil, 0, &ret, &cerr)
	if !cerr.OK() {
		t.Fatalf("length failed: %s", &cerr)
	}
	if ret.Int() != 5 {
		t.Errorf(`"hello".length() = %s`, ret)
	}
}

func TestCallMethodAppend(t *testing.T) {
	base := ArrayValue([]Value{IntValue(1)})
	elem := IntValue(2)
	var ret Value
	var cerr CallError
	CallMethod(&base, "append", []*Value{&elem}, 1, &ret, &cerr)
	if !cerr.OK() {
		t.Fatalf("append failed: %s", &cerr)
	}
	if len(base.Elems()) != 2 || base.Elems()[1].Int() != 2 {
		t.Errorf("after append: %v", base.Elems())
	}
}

func TestCallMethodErrors(t *testing.T) {
	var ret Value
	var cerr CallError

	nilBase := NilValue()
	CallMethod(&nilBase, "length", nil, 0, &ret, &cerr)
	if cerr.Error != CallErrInstanceIsNil {
		t.Errorf("nil base: %s", &cerr)
	}

	base := IntValue(5)
	CallMethod(&base, "nope", nil, 0, &ret, &cerr)
	if cerr.Error != CallErrInvalidMethod {
		t.Errorf("unknown method: %s", &cerr)
	}
	if ret.Kind != KindNil {
		t.Errorf("failed call wrote %s", ret)
	}
}

func TestVector2Length(t *testing.T) {
	base := Vector2Value(3, 4)
	var ret Value
	Vector2Length.Fn(&base, nil, &ret)
	if ret.Float() != 5 {
		t.Errorf("|(3,4)| = %s", ret)
	}
}

func TestCallUtility(t *testing.T) {
	neg := IntValue(-5)
	var ret Value
	var cerr CallError
	CallUtility("abs", []*Value{&neg}, 1, &ret, &cerr)
	if !cerr.OK() || ret.Int() != 5 {
		t.Errorf("abs(-5) = %s (%s)", ret, &cerr)
	}

	s := StringValue("abc")
	CallUtility("len", []*Value{&s}, 1, &ret, &cerr)
	if !cerr.OK() || ret.Int() != 3 {
		t.Errorf(`len("abc") = %s (%s)`, ret, &cerr)
	}

	CallUtility("nope", nil, 0, &ret, &cerr)
	if cerr.Error != CallErrInvalidMethod {
		t.Errorf("unknown utility: %s", &cerr)
	}
}

func TestCallErrorString(t *testing.T) {
	var e CallError
	if e.String() != "ok" {
		t.Errorf("clear record = %q", e.String())
	}
	e.Set(CallErrInvalidArgument, 2, KindFloat)
	if e.OK() {
		t.Error("record with an error reports OK")
	}
	t.Logf("rendered: %s", &e)
	e.Clear()
	if !e.OK() {
		t.Error("Clear did not reset the record")
	}
}
