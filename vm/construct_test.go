package vm

import "testing"

func TestConstruct(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		args []Value
		want Value
		code CallErrorCode
	}{
		{"bool from int", KindBool, []Value{IntValue(2)}, BoolValue(true), CallOK},
		{"int from float", KindInt, []Value{FloatValue(2.9)}, IntValue(2), CallOK},
		{"float from int", KindFloat, []Value{IntValue(3)}, FloatValue(3), CallOK},
		{"vector default", KindVector2, nil, Vector2Value(0, 0), CallOK},
		{"vector from ints", KindVector2, []Value{IntValue(1), IntValue(2)}, Vector2Value(1, 2), CallOK},
		{"int from string", KindInt, []Value{StringValue("x")}, NilValue(), CallErrInvalidArgument},
		{"vector from string", KindVector2, []Value{StringValue("x"), IntValue(1)}, NilValue(), CallErrInvalidArgument},
	}
	for _, tt := range tests {
		args := make([]*Value, len(tt.args))
		for i := range tt.args {
			args[i] = &tt.args[i]
		}
		var dst Value
		var cerr CallError
		Construct(tt.kind, &dst, args, len(args), &cerr)
		if cerr.Error != tt.code {
			t.Errorf("%s: error = %s", tt.name, &cerr)
			continue
		}
		if tt.code == CallOK && !sameValue(dst, tt.want) {
			t.Errorf("%s: got %s, want %s", tt.name, dst, tt.want)
		}
	}
}

func TestValidatedConstructors(t *testing.T) {
	var dst Value
	a, b := FloatValue(1.5), FloatValue(2.5)
	CtorVector2FF.Fn(&dst, []*Value{&a, &b})
	if x, y := dst.Lanes(); x != 1.5 || y != 2.5 {
		t.Errorf("Vector2(1.5, 2.5) = (%g, %g)", x, y)
	}

	f := FloatValue(-2.9)
	CtorIntF.Fn(&dst, []*Value{&f})
	if dst.Int() != -2 {
		t.Errorf("Int(-2.9) = %s", dst)
	}

	i := IntValue(4)
	CtorFloatI.Fn(&dst, []*Value{&i})
	if dst.Float() != 4 {
		t.Errorf("Float(4) = %s", dst)
	}
}

func TestBuildArray(t *testing.T) {
	a, b := IntValue(1), StringValue("x")
	var dst Value
	BuildArray(&dst, []*Value{&a, &b}, 2)
	elems := dst.Elems()
	if len(elems) != 2 || elems[0].Int() != 1 || elems[1].Str() != "x" {
		t.Errorf("built %v", elems)
	}
	// The string element now has two holders: the source and the array.
	if !IsShared(&b) {
		t.Error("array element not retained")
	}
}

func TestBuildTypedArray(t *testing.T) {
	a, b := IntValue(1), FloatValue(2.5)
	var dst Value
	var cerr CallError
	BuildTypedArray(&dst, KindFloat, "", []*Value{&a, &b}, 2, &cerr)
	if !cerr.OK() {
		t.Fatalf("typed build failed: %s", &cerr)
	}
	elems := dst.Elems()
	if elems[0].Float() != 1 || elems[1].Float() != 2.5 {
		t.Errorf("coerced elements: %v", elems)
	}

	s := StringValue("x")
	BuildTypedArray(&dst, KindInt, "", []*Value{&s}, 1, &cerr)
	if cerr.Error != CallErrInvalidArgument {
		t.Errorf("string into Int array: %s", &cerr)
	}
	if dst.Elems()[0].Kind != KindNil {
		t.Errorf("mismatched element = %s", dst.Elems()[0])
	}
}
