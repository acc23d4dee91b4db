package vm

import "fmt"

// ---------------------------------------------------------------------------
// Proc and Method Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerProcPrimitives() {
	c := vm.cProc

	if err := vm.DefineSingletonMethod(c.self, "new", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return Nil, vm.newError(vm.eArgumentError, "tried to create Proc object without a block")
		}
		return blk, nil
	}); err != nil {
		panic(err)
	}

	call := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.invokeBlock(self, args, e.KeywordsGiven(), blk)
	}
	for _, name := range []string{"call", "()", "yield", "[]", "==="} {
		vm.DefineMethod(c, name, -1, call)
	}
	vm.DefineMethod(c, "to_proc", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(c, "lambda?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.procOf(self).Lambda), nil
	})
	vm.DefineMethod(c, "arity", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(vm.procOf(self).Arity())), nil
	})
	inspect := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(vm.Inspect(self)), nil
	}
	vm.DefineMethod(c, "inspect", 0, inspect)
	vm.DefineMethod(c, "to_s", 0, inspect)
	vm.DefineMethod(c, "curry", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		p := vm.procOf(self)
		n := p.Arity()
		if n < 0 {
			n = -n - 1
		}
		if len(args) == 1 {
			want, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			if p.Lambda && p.Arity() >= 0 && int(want) != n {
				return Nil, vm.argumentError(int(want), fmt.Sprint(n))
			}
			n = int(want)
		}
		return vm.curry(self, n, nil), nil
	})
	vm.DefineMethod(c, ">>", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.compose(self, args[0]), nil
	})
	vm.DefineMethod(c, "<<", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.compose(args[0], self), nil
	})

	// Method
	m := vm.cMethod
	vm.undefSingleton(m, "new")
	callMethod := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mo := vm.heap.get(self).method()
		if mo.Recv == Undef {
			return Nil, vm.newError(vm.eNoMethodError, "undefined method 'call' for an unbound method")
		}
		return e.invoke(mo.Info, mo.Recv, args, e.KeywordsGiven(), blk)
	}
	for _, name := range []string{"call", "()", "[]", "==="} {
		vm.DefineMethod(m, name, -1, callMethod)
	}
	vm.DefineMethod(m, "to_proc", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.methodProc(self), nil
	})
	vm.DefineMethod(m, "arity", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(vm.heap.get(self).method().Info.arity(vm))), nil
	})
	vm.DefineMethod(m, "name", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return SymbolValue(vm.heap.get(self).method().Info.Name), nil
	})
	vm.DefineMethod(m, "owner", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.heap.get(self).method().Info.Owner.self, nil
	})
	vm.DefineMethod(m, "receiver", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if r := vm.heap.get(self).method().Recv; r != Undef {
			return r, nil
		}
		return Nil, nil
	})
	vm.DefineMethod(m, "unbind", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mo := vm.heap.get(self).method()
		return vm.newMethodObject(Undef, mo.Info), nil
	})
	vm.DefineMethod(m, "bind", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mo := vm.heap.get(self).method()
		if !vm.IsA(args[0], mo.Info.Owner) {
			return Nil, vm.newError(vm.eTypeError, "bind argument must be an instance of %s", mo.Info.Owner.Name())
		}
		return vm.newMethodObject(args[0], mo.Info), nil
	})
	vm.DefineMethod(m, "inspect", 0, inspect)
}

func (vm *VM) newMethodObject(recv Value, mi *MethodInfo) Value {
	return vm.alloc(&RObject{kind: ObjMethod, class: vm.cMethod, data: &MethodObject{Recv: recv, Info: mi}})
}

// curry returns a lambda that gathers n arguments across calls before
// invoking target. got holds the arguments collected so far; it and
// target are kept reachable through the proc's bound array.
func (vm *VM) curry(target Value, n int, got []Value) Value {
	held := vm.NewArray(append([]Value{target}, got...)...)
	v := vm.NewNativeProc(-1, true, func(e *Engine, args []Value, blk Value) (Value, error) {
		all := append(append([]Value(nil), got...), args...)
		if len(all) >= n {
			return e.invokeBlock(target, all, false, blk)
		}
		return vm.curry(target, n, all), nil
	})
	vm.procOf(v).bound = held
	return v
}

// compose returns a lambda computing second(first(args...)).
func (vm *VM) compose(first, second Value) Value {
	held := vm.NewArray(first, second)
	v := vm.NewNativeProc(-1, true, func(e *Engine, args []Value, blk Value) (Value, error) {
		r, err := e.Send(first, "call", args...)
		if err != nil {
			return Nil, err
		}
		return e.Send(second, "call", r)
	})
	vm.procOf(v).bound = held
	return v
}
