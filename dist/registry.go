package dist

import "github.com/chazu/tansy/vm"

// The decode registries: every named validated helper this build can
// resolve. A function image referencing anything else is rejected at
// decode time rather than patched up with a stand-in.

var indexedAccessors = map[string]*vm.IndexedAccessor{
	vm.ArrayIndexedGet.Name: vm.ArrayIndexedGet,
	vm.ArrayIndexedSet.Name: vm.ArrayIndexedSet,
}

var namedAccessors = map[string]*vm.NamedAccessor{
	vm.Vector2GetX.Name: vm.Vector2GetX,
	vm.Vector2GetY.Name: vm.Vector2GetY,
	vm.Vector2SetX.Name: vm.Vector2SetX,
	vm.Vector2SetY.Name: vm.Vector2SetY,
}

var constructors = map[string]*vm.Constructor{
	vm.CtorVector2FF.Name: vm.CtorVector2FF,
	vm.CtorVector2II.Name: vm.CtorVector2II,
	vm.CtorFloatI.Name:    vm.CtorFloatI,
	vm.CtorIntF.Name:      vm.CtorIntF,
}

var methods = map[string]*vm.BoundMethod{
	vm.ArrayAppend.Name:   vm.ArrayAppend,
	vm.ArraySize.Name:     vm.ArraySize,
	vm.StringLength.Name:  vm.StringLength,
	vm.Vector2Length.Name: vm.Vector2Length,
}

var utilities = map[string]*vm.Utility{
	vm.UtilAbs.Name: vm.UtilAbs,
	vm.UtilLen.Name: vm.UtilLen,
}
