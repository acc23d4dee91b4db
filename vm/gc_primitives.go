package vm

// ---------------------------------------------------------------------------
// GC Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerGCPrimitives() {
	g := vm.mGC.self
	def := func(name string, arity int, fn BuiltinFunc) {
		if err := vm.DefineSingletonMethod(g, name, arity, fn); err != nil {
			panic(err)
		}
	}

	def("start", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		vm.Collect()
		return Nil, nil
	})
	def("count", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(vm.heap.collections)), nil
	})
	def("enable", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		was := vm.gcDisabled
		vm.gcDisabled = false
		return Bool(was), nil
	})
	def("disable", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		was := vm.gcDisabled
		vm.gcDisabled = true
		return Bool(was), nil
	})
	def("stat", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		s := vm.Stats()
		fields := []struct {
			name string
			n    int64
		}{
			{"count", int64(s.Collections)},
			{"heap_live_slots", int64(s.Live)},
			{"total_allocated_objects", int64(s.Allocations)},
			{"total_freed_objects", int64(s.Freed)},
			{"method_generation", int64(s.Generation)},
			{"fibers", int64(s.Fibers)},
		}
		if len(args) == 1 {
			key, err := vm.symArg(args[0])
			if err != nil {
				return Nil, err
			}
			for _, f := range fields {
				if Intern(f.name) == key {
					return FromFixnum(f.n), nil
				}
			}
			return Nil, vm.newError(vm.eArgumentError, "unknown key: %s", key)
		}
		out := vm.NewHash()
		h := vm.heap.get(out).hash()
		for _, f := range fields {
			vm.HashSet(h, SymbolValue(Intern(f.name)), FromFixnum(f.n))
		}
		return out, nil
	})
}
