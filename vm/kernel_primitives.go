package vm

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ---------------------------------------------------------------------------
// Argument helpers shared by the primitives
// ---------------------------------------------------------------------------

func (vm *VM) checkArgs(args []Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		switch {
		case max < 0:
			return vm.argumentError(len(args), strconv.Itoa(min)+"+")
		case min == max:
			return vm.argumentError(len(args), strconv.Itoa(min))
		}
		return vm.argumentError(len(args), fmt.Sprintf("%d..%d", min, max))
	}
	return nil
}

func optArg(args []Value, i int, def Value) Value {
	if i < len(args) {
		return args[i]
	}
	return def
}

func (vm *VM) intArg(v Value) (int64, error) {
	if n, ok := vm.IntOf(v); ok {
		return n, nil
	}
	if f, ok := vm.FloatOf(v); ok {
		return int64(f), nil
	}
	return 0, vm.typeError(v, "Integer")
}

func (vm *VM) strArg(v Value) (string, error) {
	if s, ok := vm.StringOf(v); ok {
		return s, nil
	}
	return "", vm.typeError(v, "String")
}

// symArg accepts a Symbol or a String naming one.
func (vm *VM) symArg(v Value) (Symbol, error) {
	if v.IsSymbol() {
		return v.Symbol(), nil
	}
	if s, ok := vm.StringOf(v); ok {
		return Intern(s), nil
	}
	return 0, vm.newError(vm.eTypeError, "%s is not a symbol nor a string", vm.Inspect(v))
}

func (vm *VM) checkFrozen(v Value) error {
	if o := vm.Object(v); o != nil && o.frozen {
		return vm.frozenError(v)
	}
	return nil
}

// toS converts v for output through its to_s method.
func (e *Engine) toS(v Value) (string, error) {
	if s, ok := e.vm.StringOf(v); ok {
		return s, nil
	}
	r, err := e.call(v, symToS, nil, false, Nil)
	if err != nil {
		return "", err
	}
	if s, ok := e.vm.StringOf(r); ok {
		return s, nil
	}
	return e.vm.Inspect(v), nil
}

// inspect converts v through its inspect method.
func (e *Engine) inspect(v Value) (string, error) {
	r, err := e.call(v, symInspect, nil, false, Nil)
	if err != nil {
		return "", err
	}
	if s, ok := e.vm.StringOf(r); ok {
		return s, nil
	}
	return e.vm.Inspect(v), nil
}

// callerBlock returns the block of the bytecode method that invoked the
// running builtin.
func (e *Engine) callerBlock() Value {
	if c := e.currentFrame(); c != nil {
		return c.methodContext().Block
	}
	return Nil
}

// ---------------------------------------------------------------------------
// BasicObject and Kernel Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerKernelPrimitives() {
	b := vm.cBasicObject
	k := vm.mKernel

	vm.DefinePrivateMethod(b, "initialize", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})
	vm.DefinePrivateMethod(b, "method_missing", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if len(args) == 0 || !args[0].IsSymbol() {
			return Nil, vm.newError(vm.eArgumentError, "no method name given")
		}
		return Nil, vm.newNoMethodError(args[0].Symbol(), self, false)
	})
	vm.DefineMethod(b, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(self == args[0]), nil
	})
	vm.DefineMethod(b, "equal?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(self == args[0]), nil
	})
	vm.DefineMethod(b, "!", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(!self.Truthy()), nil
	})
	vm.DefineMethod(b, "!=", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		r, err := e.call(self, symEq, args, false, Nil)
		if err != nil {
			return Nil, err
		}
		return Bool(!r.Truthy()), nil
	})
	vm.DefineMethod(b, "__id__", 0, kernelObjectID)
	vm.DefineMethod(b, "__send__", -1, kernelSend)
	vm.DefineMethod(b, "instance_eval", -1, kernelInstanceExec)
	vm.DefineMethod(b, "instance_exec", -1, kernelInstanceExec)

	// Identity and classification
	vm.DefineMethod(k, "class", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.ClassOf(self).self, nil
	})
	vm.DefineMethod(k, "singleton_class", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, err := vm.SingletonClass(self)
		if err != nil {
			return Nil, err
		}
		return s.self, nil
	})
	isA := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(args[0])
		if mod == nil {
			return Nil, vm.newError(vm.eTypeError, "class or module required")
		}
		return Bool(vm.IsA(self, mod)), nil
	}
	vm.DefineMethod(k, "is_a?", 1, isA)
	vm.DefineMethod(k, "kind_of?", 1, isA)
	vm.DefineMethod(k, "instance_of?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.moduleOf(args[0]) == vm.ClassOf(self)), nil
	})
	vm.DefineMethod(k, "nil?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(self == Nil), nil
	})
	vm.DefineMethod(k, "===", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if self == args[0] {
			return True, nil
		}
		r, err := e.call(self, symEq, args, false, Nil)
		return Bool(r.Truthy()), err
	})
	vm.DefineMethod(k, "=~", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})
	vm.DefineMethod(k, "eql?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(self == args[0]), nil
	})
	vm.DefineMethod(k, "hash", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(uint64(self) >> 1)), nil
	})
	vm.DefineMethod(k, "object_id", 0, kernelObjectID)
	vm.DefineMethod(k, "itself", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(k, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if self == vm.mainObj {
			return vm.NewString("main"), nil
		}
		return vm.NewString(fmt.Sprintf("#<%s>", vm.ClassOf(self).Name())), nil
	})
	vm.DefineMethod(k, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(vm.Inspect(self)), nil
	})

	// Freezing and copying
	vm.DefineMethod(k, "freeze", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if o := vm.Object(self); o != nil {
			o.frozen = true
		}
		return self, nil
	})
	vm.DefineMethod(k, "frozen?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if o := vm.Object(self); o != nil {
			return Bool(o.frozen), nil
		}
		return True, nil
	})
	vm.DefineMethod(k, "dup", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.dup(self), nil
	})
	vm.DefineMethod(k, "clone", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		c := vm.dup(self)
		if o, co := vm.Object(self), vm.Object(c); o != nil && co != nil {
			co.frozen = o.frozen
		}
		return c, nil
	})

	// Instance variables
	vm.DefineMethod(k, "instance_variable_get", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		return vm.getIvar(self, name), nil
	})
	vm.DefineMethod(k, "instance_variable_set", 2, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		return args[1], vm.setIvar(self, name, args[1])
	})
	vm.DefineMethod(k, "instance_variable_defined?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		if o := vm.Object(self); o != nil {
			_, ok := o.ivars[name]
			return Bool(ok), nil
		}
		return False, nil
	})
	vm.DefineMethod(k, "instance_variables", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o := vm.Object(self)
		if o == nil {
			return vm.NewArray(), nil
		}
		names := make([]Value, 0, len(o.ivars))
		for n := range o.ivars {
			names = append(names, SymbolValue(n))
		}
		sortSymbols(names)
		return vm.newArrayNoCopy(names), nil
	})

	// Dynamic dispatch
	vm.DefineMethod(k, "send", -1, kernelSend)
	vm.DefineMethod(k, "public_send", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		kw := e.KeywordsGiven()
		if len(args) == 0 {
			return Nil, vm.newError(vm.eArgumentError, "no method name given")
		}
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		v, err := e.dispatch(e.currentFrame(), self, name, args[1:], kw, blk, false, nil)
		if err == nil {
			e.Keep(v)
		}
		return v, err
	})
	vm.DefineMethod(k, "respond_to?", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		all := optArg(args, 1, False).Truthy()
		if e.RespondTo(self, name, all) {
			return True, nil
		}
		if vm.classOf(self).FindMethod(symRespondMissing) != nil {
			r, err := e.call(self, symRespondMissing, []Value{SymbolValue(name), Bool(all)}, false, Nil)
			return Bool(r.Truthy()), err
		}
		return False, nil
	})
	vm.DefineMethod(k, "method", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		mi := vm.classOf(self).FindMethod(name)
		if mi == nil {
			return Nil, vm.newNameError(name, "undefined method '%s' for %s", name, vm.describeReceiver(self))
		}
		return vm.newMethodObject(self, mi), nil
	})
	vm.DefineMethod(k, "methods", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.methodList(vm.classOf(self), true, func(mi *MethodInfo) bool { return mi.Visibility != Private }), nil
	})
	vm.DefineMethod(k, "extend", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, -1); err != nil {
			return Nil, err
		}
		s, err := vm.SingletonClass(self)
		if err != nil {
			return Nil, err
		}
		for _, a := range args {
			mod := vm.moduleOf(a)
			if mod == nil {
				return Nil, vm.newError(vm.eTypeError, "wrong argument type %s (expected Module)", vm.typeName(a))
			}
			if err := s.Include(mod); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	vm.DefineMethod(k, "define_singleton_method", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, err := vm.SingletonClass(self)
		if err != nil {
			return Nil, err
		}
		return vm.defineMethodFromArgs(s, args, blk)
	})
	vm.DefineMethod(k, "tap", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if _, err := e.CallBlock(blk, self); err != nil {
			return Nil, err
		}
		return self, nil
	})
	vm.DefineMethod(k, "then", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.CallBlock(blk, self)
	})
	enumFor := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		meth := symEach
		if len(args) > 0 {
			name, err := vm.symArg(args[0])
			if err != nil {
				return Nil, err
			}
			meth = name
			args = args[1:]
		}
		return vm.NewEnumerator(self, meth, args), nil
	}
	vm.DefineMethod(k, "to_enum", -1, enumFor)
	vm.DefineMethod(k, "enum_for", -1, enumFor)

	// Private Kernel functions
	vm.DefinePrivateMethod(k, "puts", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if len(args) == 0 {
			_, err := io.WriteString(vm.Stdout, "\n")
			return Nil, err
		}
		for _, a := range args {
			if err := e.putsValue(a, 0); err != nil {
				return Nil, err
			}
		}
		return Nil, nil
	})
	vm.DefinePrivateMethod(k, "print", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for _, a := range args {
			s, err := e.toS(a)
			if err != nil {
				return Nil, err
			}
			if _, err := io.WriteString(vm.Stdout, s); err != nil {
				return Nil, err
			}
		}
		return Nil, nil
	})
	vm.DefinePrivateMethod(k, "p", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for _, a := range args {
			s, err := e.inspect(a)
			if err != nil {
				return Nil, err
			}
			if _, err := io.WriteString(vm.Stdout, s+"\n"); err != nil {
				return Nil, err
			}
		}
		switch len(args) {
		case 0:
			return Nil, nil
		case 1:
			return args[0], nil
		}
		return vm.NewArray(args...), nil
	})
	raise := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 2); err != nil {
			return Nil, err
		}
		if len(args) == 0 {
			if cur := vm.globals[symErrInfo]; cur != Nil {
				return Nil, e.makeRaise(cur)
			}
			return Nil, vm.newError(vm.eRuntimeError, "unhandled exception")
		}
		exc := args[0]
		if mod := vm.moduleOf(exc); mod != nil {
			v, err := e.call(exc, Intern("exception"), args[1:], false, Nil)
			if err != nil {
				return Nil, err
			}
			exc = v
		} else if s, ok := vm.StringOf(exc); ok {
			exc = vm.makeException(vm.eRuntimeError, s)
		} else if len(args) == 2 {
			if x := vm.excOf(exc); x != nil {
				x.message = args[1]
			}
		}
		if x := vm.excOf(exc); x != nil && x.cause == Nil && exc != vm.globals[symErrInfo] {
			x.cause = vm.globals[symErrInfo]
		}
		return Nil, e.makeRaise(exc)
	}
	vm.DefinePrivateMethod(k, "raise", -1, raise)
	vm.DefinePrivateMethod(k, "fail", -1, raise)
	vm.DefinePrivateMethod(k, "block_given?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(e.callerBlock() != Nil), nil
	})
	vm.DefinePrivateMethod(k, "loop", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("loop"), nil), nil
		}
		for {
			if _, err := e.invokeBlock(blk, nil, false, Nil); err != nil {
				var re *RaiseError
				if errors.As(err, &re) && vm.IsA(re.Exception, vm.eStopIteration) {
					return vm.getIvar(re.Exception, Intern("@result")), nil
				}
				return Nil, err
			}
		}
	})
	vm.DefinePrivateMethod(k, "proc", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return Nil, vm.newError(vm.eArgumentError, "tried to create Proc object without a block")
		}
		return blk, nil
	})
	vm.DefinePrivateMethod(k, "lambda", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		p := vm.procOf(blk)
		if p == nil {
			return Nil, vm.newError(vm.eArgumentError, "tried to create Proc object without a block")
		}
		if p.Lambda {
			return blk, nil
		}
		l := *p
		l.Lambda = true
		return vm.newProcValue(&l), nil
	})
	vm.DefinePrivateMethod(k, "binding", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, vm.newError(vm.eNotImplementedErr, "binding is not supported")
	})
}

func kernelObjectID(e *Engine, self Value, args []Value, blk Value) (Value, error) {
	return FromFixnum(int64(uint64(self) >> 1)), nil
}

func kernelSend(e *Engine, self Value, args []Value, blk Value) (Value, error) {
	kw := e.KeywordsGiven()
	if len(args) == 0 {
		return Nil, e.vm.newError(e.vm.eArgumentError, "no method name given")
	}
	name, err := e.vm.symArg(args[0])
	if err != nil {
		return Nil, err
	}
	return e.call(self, name, args[1:], kw, blk)
}

func kernelInstanceExec(e *Engine, self Value, args []Value, blk Value) (Value, error) {
	kw := e.KeywordsGiven()
	p := e.vm.procOf(blk)
	if p == nil {
		return Nil, e.vm.newError(e.vm.eArgumentError, "no block given")
	}
	var cref *Cref
	if p.Outer != nil {
		if s, err := e.vm.SingletonClass(self); err == nil {
			cref = &Cref{Module: s, Outer: p.Outer.Cref}
		}
	}
	v, err := e.runProc(p, self, args, kw, Nil, nil, cref)
	if err == nil {
		e.Keep(v)
	}
	return v, err
}

// putsValue writes v followed by a newline, flattening arrays.
func (e *Engine) putsValue(v Value, depth int) error {
	vm := e.vm
	if arr, ok := vm.ArrayOf(v); ok && depth < 64 {
		if len(arr) == 0 && depth == 0 {
			_, err := io.WriteString(vm.Stdout, "\n")
			return err
		}
		for i := 0; i < len(vm.heap.get(v).arr); i++ {
			if err := e.putsValue(vm.heap.get(v).arr[i], depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	s, err := e.toS(v)
	if err != nil {
		return err
	}
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}
	_, err = io.WriteString(vm.Stdout, s)
	return err
}

// dup makes a shallow copy of v without its singleton class.
func (vm *VM) dup(v Value) Value {
	o := vm.Object(v)
	if o == nil || o.kind == ObjClass || o.kind == ObjModule || o.kind == ObjFloat || o.kind == ObjBignum {
		return v
	}
	c := &RObject{kind: o.kind, class: o.class.realClass(), f: o.f, big: o.big, data: o.data}
	if o.ivars != nil {
		c.ivars = make(map[Symbol]Value, len(o.ivars))
		for k, x := range o.ivars {
			c.ivars[k] = x
		}
	}
	if o.str != nil {
		c.str = append([]byte(nil), o.str...)
	}
	if o.arr != nil {
		c.arr = append([]Value(nil), o.arr...)
	}
	switch d := o.data.(type) {
	case *Hash:
		h := newHash()
		d.Each(func(k, x Value) bool {
			vm.HashSet(h, k, x)
			return true
		})
		h.Default, h.DefaultProc = d.Default, d.DefaultProc
		c.data = h
	case *Range:
		r := *d
		c.data = &r
	case *excData:
		x := *d
		c.data = &x
	case *Proc:
		p := *d
		c.data = &p
	}
	return vm.alloc(c)
}

func (vm *VM) excOf(v Value) *excData {
	if o := vm.Object(v); o != nil {
		return o.exc()
	}
	return nil
}
