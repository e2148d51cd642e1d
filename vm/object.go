package vm

import "sync/atomic"

// Object is the heap payload shared by every reference kind. Exactly one of
// the payload fields is populated, matching the owning Value's kind.
//
// The shares counter tracks how many Values currently alias this payload.
// Generated code consults it through the IsShared helper for the
// jump-if-shared opcode; it is advisory, not a garbage-collection mechanism
// (the Go runtime owns lifetime).
type Object struct {
	shares atomic.Int32

	// String payload
	str string

	// Array payload
	elems    []Value
	elemKind Kind   // KindNil for untyped arrays
	elemName string // native class name for Object-kind elements

	// Dict payload
	entries map[string]Value

	// Object payload
	class  string
	fields map[string]Value
}

func newStringObject(s string) *Object {
	o := &Object{str: s}
	o.shares.Store(1)
	return o
}

func newArrayObject(elems []Value) *Object {
	o := &Object{elems: elems}
	o.shares.Store(1)
	return o
}

func newDictObject() *Object {
	o := &Object{entries: make(map[string]Value)}
	o.shares.Store(1)
	return o
}

// NewInstance creates an Object-kind payload for the given native class.
func NewInstance(class string) *Object {
	o := &Object{class: class, fields: make(map[string]Value)}
	o.shares.Store(1)
	return o
}

// Class returns the instance's native class name.
func (o *Object) Class() string { return o.class }

// Field returns a named field of an instance, or nil-kind if absent.
func (o *Object) Field(name string) Value {
	if v, ok := o.fields[name]; ok {
		return v
	}
	return NilValue()
}

// SetField stores a named field on an instance.
func (o *Object) SetField(name string, v Value) {
	o.fields[name] = v
}

// retain and release keep the advisory share counter in step with value
// copies made by the generated code's copy helper.
func (o *Object) retain() {
	if o != nil {
		o.shares.Add(1)
	}
}

func (o *Object) release() {
	if o != nil {
		o.shares.Add(-1)
	}
}

// Shared reports whether more than one Value currently aliases o.
func (o *Object) Shared() bool {
	return o != nil && o.shares.Load() > 1
}
