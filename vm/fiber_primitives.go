package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Fiber and Enumerator Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFiberPrimitives() {
	f := vm.cFiber

	if err := vm.DefineSingletonMethod(f.self, "new", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewFiber(blk)
	}); err != nil {
		panic(err)
	}
	if err := vm.DefineSingletonMethod(f.self, "yield", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.FiberYield(args)
	}); err != nil {
		panic(err)
	}
	vm.DefineMethod(f, "resume", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.fiberOf(self).Resume(e, args)
	})
	vm.DefineMethod(f, "kill", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		fb := vm.fiberOf(self)
		switch {
		case e.fiber == fb:
			return Nil, vm.newError(vm.eFiberError, "attempt to kill the current fiber")
		case fb.state == FiberResumed:
			return Nil, vm.newError(vm.eFiberError, "attempt to kill a resumed fiber")
		}
		fb.terminate(e)
		return self, nil
	})
	vm.DefineMethod(f, "alive?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.fiberOf(self).Alive()), nil
	})
	vm.DefineMethod(f, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(vm.Inspect(self)), nil
	})

	vm.registerEnumeratorPrimitives()
}

func (vm *VM) registerEnumeratorPrimitives() {
	c := vm.cEnumerator

	// Enumerator.new { |y| ... } iterates a Generator, whose each hands
	// the block a Yielder wrapping the consumer's block.
	gen := vm.newClass("Generator", vm.cObject)
	gen.parent = c
	c.SetConst(Intern("Generator"), gen.self)
	yielder := vm.newClass("Yielder", vm.cObject)
	yielder.parent = c
	c.SetConst(Intern("Yielder"), yielder.self)
	ivarProc := Intern("@proc")

	vm.DefineMethod(gen, "each", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		y := vm.NewObject(yielder)
		e.Keep(y)
		vm.heap.get(y).SetIvar(ivarProc, blk)
		return e.invokeBlock(vm.getIvar(self, ivarProc), append([]Value{y}, args...), false, Nil)
	})
	vm.DefineMethod(yielder, "<<", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if _, err := e.invokeBlock(vm.getIvar(self, ivarProc), args, false, Nil); err != nil {
			return Nil, err
		}
		return self, nil
	})
	yield := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.invokeBlock(vm.getIvar(self, ivarProc), args, false, Nil)
	}
	vm.DefineMethod(yielder, "yield", -1, yield)
	vm.DefineMethod(yielder, "call", -1, yield)

	if err := vm.DefineSingletonMethod(c.self, "new", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return Nil, vm.newError(vm.eArgumentError, "no block given")
		}
		g := vm.NewObject(gen)
		e.Keep(g)
		vm.heap.get(g).SetIvar(ivarProc, blk)
		return vm.NewEnumerator(g, symEach, nil), nil
	}); err != nil {
		panic(err)
	}

	vm.DefineMethod(c, "next", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.enumeratorOf(self).Next(e)
	})
	vm.DefineMethod(c, "peek", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.enumeratorOf(self).Peek(e)
	})
	vm.DefineMethod(c, "rewind", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		vm.enumeratorOf(self).Rewind(e)
		return self, nil
	})
	vm.DefineMethod(c, "each", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return self, nil
		}
		return vm.enumeratorOf(self).Each(e, blk)
	})
	vm.DefineMethod(c, "size", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		en := vm.enumeratorOf(self)
		switch en.meth {
		case symEach, Intern("map"), Intern("each_with_index"), Intern("select"),
			Intern("filter"), Intern("reject"), Intern("each_index"), Intern("reverse_each"):
		default:
			return Nil, nil
		}
		if _, ok := vm.ArrayOf(en.recv); ok {
			return e.call(en.recv, Intern("size"), nil, false, Nil)
		}
		if vm.isKind(en.recv, ObjHash) {
			return e.call(en.recv, Intern("size"), nil, false, Nil)
		}
		return Nil, nil
	})
	withIndex := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("with_index"), args), nil
		}
		i := int64(0)
		if len(args) == 1 && args[0] != Nil {
			n, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			i = n
		}
		step := vm.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
			v, err := e.CallBlock(blk, blockElem(e.vm, args), FromFixnum(i))
			i++
			return v, err
		})
		e.Keep(step)
		return vm.enumeratorOf(self).Each(e, step)
	}
	vm.DefineMethod(c, "with_index", -1, withIndex)
	vm.DefineMethod(c, "each_with_index", 0, withIndex)
	vm.DefineMethod(c, "with_object", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		memo := args[0]
		step := vm.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
			return e.CallBlock(blk, blockElem(e.vm, args), memo)
		})
		e.Keep(step)
		if _, err := vm.enumeratorOf(self).Each(e, step); err != nil {
			return Nil, err
		}
		return memo, nil
	})
	inspect := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		en := vm.enumeratorOf(self)
		if vm.ClassOf(en.recv) == gen {
			return vm.NewString("#<Enumerator: #<Enumerator::Generator>:each>"), nil
		}
		recv, err := e.inspect(en.recv)
		if err != nil {
			return Nil, err
		}
		s := fmt.Sprintf("#<Enumerator: %s:%s", recv, en.meth)
		if len(en.args) > 0 {
			parts := make([]string, len(en.args))
			for i, a := range en.args {
				if parts[i], err = e.inspect(a); err != nil {
					return Nil, err
				}
			}
			s += "(" + strings.Join(parts, ", ") + ")"
		}
		return vm.NewString(s + ">"), nil
	}
	vm.DefineMethod(c, "inspect", 0, inspect)
	vm.DefineMethod(c, "to_s", 0, inspect)
}
