package vm

import "strings"

// ---------------------------------------------------------------------------
// Symbol, NilClass, TrueClass and FalseClass Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerSymbolPrimitives() {
	c := vm.cSymbol
	vm.undefSingleton(c, "new")

	name := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(self.Symbol().String()), nil
	}
	vm.DefineMethod(c, "to_s", 0, name)
	vm.DefineMethod(c, "id2name", 0, name)
	vm.DefineMethod(c, "name", 0, name)
	vm.DefineMethod(c, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(self.String()), nil
	})
	vm.DefineMethod(c, "to_sym", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(c, "to_proc", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.symbolProc(self.Symbol()), nil
	})
	vm.DefineMethod(c, "length", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(len([]rune(self.Symbol().String())))), nil
	})
	vm.DefineMethod(c, "<=>", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if !args[0].IsSymbol() {
			return Nil, nil
		}
		return FromFixnum(int64(strings.Compare(self.Symbol().String(), args[0].Symbol().String()))), nil
	})
	vm.DefineMethod(c, "upcase", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return SymbolValue(Intern(strings.ToUpper(self.Symbol().String()))), nil
	})
	vm.DefineMethod(c, "downcase", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return SymbolValue(Intern(strings.ToLower(self.Symbol().String()))), nil
	})

	// nil, true and false
	vm.undefSingleton(vm.cNil, "new")
	vm.undefSingleton(vm.cTrue, "new")
	vm.undefSingleton(vm.cFalse, "new")
	vm.DefineMethod(vm.cNil, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(""), nil
	})
	vm.DefineMethod(vm.cNil, "to_a", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewArray(), nil
	})
	vm.DefineMethod(vm.cNil, "to_i", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(0), nil
	})
	vm.DefineMethod(vm.cNil, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString("nil"), nil
	})
	for _, cls := range []*Module{vm.cTrue, vm.cFalse} {
		vm.DefineMethod(cls, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return vm.NewString(self.String()), nil
		})
		vm.DefineMethod(cls, "&", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return Bool(self.Truthy() && args[0].Truthy()), nil
		})
		vm.DefineMethod(cls, "|", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return Bool(self.Truthy() || args[0].Truthy()), nil
		})
		vm.DefineMethod(cls, "^", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return Bool(self.Truthy() != args[0].Truthy()), nil
		})
	}
}
