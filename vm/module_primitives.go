package vm

import (
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Module and Class Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerModulePrimitives() {
	m := vm.cModule

	vm.DefineMethod(m, "name", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(self)
		if mod.name == "" || mod.singleton {
			return Nil, nil
		}
		return vm.NewString(mod.Name()), nil
	})
	toS := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(vm.moduleOf(self).Name()), nil
	}
	vm.DefineMethod(m, "to_s", 0, toS)
	vm.DefineMethod(m, "inspect", 0, toS)
	vm.DefineMethod(m, "===", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.IsA(args[0], vm.moduleOf(self))), nil
	})
	vm.DefineMethod(m, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(self == args[0]), nil
	})
	vm.DefineMethod(m, "<", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.moduleRelation(self, args[0], true)
	})
	vm.DefineMethod(m, "<=", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.moduleRelation(self, args[0], false)
	})
	vm.DefineMethod(m, "ancestors", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		anc := vm.moduleOf(self).Ancestors()
		out := make([]Value, len(anc))
		for i, a := range anc {
			out[i] = a.self
		}
		return vm.newArrayNoCopy(out), nil
	})

	// Mixins
	vm.DefineMethod(m, "include", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.mixin(self, args, false)
	})
	vm.DefineMethod(m, "prepend", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.mixin(self, args, true)
	})
	vm.DefineMethod(m, "include?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod, other := vm.moduleOf(self), vm.moduleOf(args[0])
		if other == nil || !other.isModule {
			return Nil, vm.newError(vm.eTypeError, "wrong argument type %s (expected Module)", vm.typeName(args[0]))
		}
		return Bool(mod != other && mod.Includes(other)), nil
	})
	vm.DefinePrivateMethod(m, "included", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})
	vm.DefinePrivateMethod(m, "extended", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})
	vm.DefinePrivateMethod(m, "prepended", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})

	// Method tables
	vm.DefineMethod(m, "instance_methods", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		inherit := optArg(args, 0, True).Truthy()
		return vm.methodList(vm.moduleOf(self), inherit, func(mi *MethodInfo) bool { return mi.Visibility != Private }), nil
	})
	vm.DefineMethod(m, "private_instance_methods", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		inherit := optArg(args, 0, True).Truthy()
		return vm.methodList(vm.moduleOf(self), inherit, func(mi *MethodInfo) bool { return mi.Visibility == Private }), nil
	})
	vm.DefineMethod(m, "method_defined?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		mi := vm.moduleOf(self).FindMethod(name)
		return Bool(mi != nil && mi.Visibility != Private), nil
	})
	vm.DefineMethod(m, "private_method_defined?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		mi := vm.moduleOf(self).FindMethod(name)
		return Bool(mi != nil && mi.Visibility == Private), nil
	})
	vm.DefineMethod(m, "instance_method", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		mod := vm.moduleOf(self)
		mi := mod.FindMethod(name)
		if mi == nil {
			return Nil, vm.newNameError(name, "undefined method '%s' for class '%s'", name, mod.Name())
		}
		return vm.newMethodObject(Undef, mi), nil
	})
	vm.DefineMethod(m, "define_method", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.defineMethodFromArgs(vm.moduleOf(self), args, blk)
	})
	vm.DefineMethod(m, "alias_method", 2, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		newName, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		oldName, err := vm.symArg(args[1])
		if err != nil {
			return Nil, err
		}
		return SymbolValue(newName), vm.aliasMethod(vm.moduleOf(self), newName, oldName)
	})
	vm.DefineMethod(m, "remove_method", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(self)
		for _, a := range args {
			name, err := vm.symArg(a)
			if err != nil {
				return Nil, err
			}
			if !mod.RemoveMethod(name) {
				return Nil, vm.newNameError(name, "method '%s' not defined in %s", name, mod.Name())
			}
		}
		return self, nil
	})
	vm.DefineMethod(m, "undef_method", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(self)
		for _, a := range args {
			name, err := vm.symArg(a)
			if err != nil {
				return Nil, err
			}
			if mod.FindMethod(name) == nil {
				return Nil, vm.newNameError(name, "undefined method '%s' for class '%s'", name, mod.Name())
			}
			mod.AddMethod(&MethodInfo{Name: name, Kind: MethodUndefined})
		}
		return self, nil
	})

	// Attribute accessors
	attr := func(reader, writer bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			mod := vm.moduleOf(self)
			vis := e.defaultVisibility(mod)
			out := make([]Value, 0, len(args)*2)
			for _, a := range args {
				name, err := vm.symArg(a)
				if err != nil {
					return Nil, err
				}
				ivar := Intern("@" + name.String())
				if reader {
					mod.AddMethod(&MethodInfo{Name: name, Kind: MethodAttrReader, Ivar: ivar, Visibility: vis})
					out = append(out, SymbolValue(name))
				}
				if writer {
					setter := Intern(name.String() + "=")
					mod.AddMethod(&MethodInfo{Name: setter, Kind: MethodAttrWriter, Ivar: ivar, Visibility: vis})
					out = append(out, SymbolValue(setter))
				}
			}
			return vm.newArrayNoCopy(out), nil
		}
	}
	vm.DefineMethod(m, "attr_reader", -1, attr(true, false))
	vm.DefineMethod(m, "attr_writer", -1, attr(false, true))
	vm.DefineMethod(m, "attr_accessor", -1, attr(true, true))

	// Visibility
	vm.DefineMethod(m, "public", -1, visibilityPrimitive(Public))
	vm.DefineMethod(m, "private", -1, visibilityPrimitive(Private))
	vm.DefineMethod(m, "protected", -1, visibilityPrimitive(Protected))
	vm.DefineMethod(m, "module_function", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(self)
		s, err := vm.SingletonClass(self)
		if err != nil {
			return Nil, err
		}
		for _, a := range args {
			name, err := vm.symArg(a)
			if err != nil {
				return Nil, err
			}
			mi := mod.FindMethod(name)
			if mi == nil {
				return Nil, vm.newNameError(name, "undefined method '%s' for module '%s'", name, mod.Name())
			}
			pub := mi.clone(name)
			pub.Visibility = Public
			s.AddMethod(pub)
			priv := mi.clone(name)
			priv.Visibility = Private
			mod.AddMethod(priv)
		}
		return Nil, nil
	})

	// Constants
	vm.DefineMethod(m, "const_get", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		path, err := vm.strOrSym(args[0])
		if err != nil {
			return Nil, err
		}
		cur := self
		for _, part := range strings.Split(path, "::") {
			if part == "" {
				cur = vm.cObject.self
				continue
			}
			v, err := e.scopedConst(cur, Intern(part))
			if err != nil {
				return Nil, err
			}
			cur = v
		}
		return cur, nil
	})
	vm.DefineMethod(m, "const_set", 2, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		if s := name.String(); s == "" || s[0] < 'A' || s[0] > 'Z' {
			return Nil, vm.newNameError(name, "wrong constant name %s", s)
		}
		vm.moduleOf(self).SetConst(name, args[1])
		return args[1], nil
	})
	vm.DefineMethod(m, "const_defined?", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		name, err := vm.symArg(args[0])
		if err != nil {
			return Nil, err
		}
		_, ok := vm.constInAncestors(vm.moduleOf(self), name)
		return Bool(ok), nil
	})
	vm.DefineMethod(m, "constants", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.moduleOf(self)
		names := make([]Value, 0, len(mod.consts))
		for n := range mod.consts {
			names = append(names, SymbolValue(n))
		}
		sortSymbols(names)
		return vm.newArrayNoCopy(names), nil
	})

	// Evaluation
	classEval := func(exec bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return e.classExec(self, args, blk, exec)
		}
	}
	vm.DefineMethod(m, "class_eval", -1, classEval(false))
	vm.DefineMethod(m, "module_eval", -1, classEval(false))
	vm.DefineMethod(m, "class_exec", -1, classEval(true))
	vm.DefineMethod(m, "module_exec", -1, classEval(true))

	if err := vm.DefineSingletonMethod(m.self, "new", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		mod := vm.newModule("")
		if blk != Nil {
			if _, err := e.SendWithBlock(mod.self, Intern("module_eval"), nil, blk); err != nil {
				return Nil, err
			}
		}
		return mod.self, nil
	}); err != nil {
		panic(err)
	}

	// Class
	c := vm.cClass
	vm.DefineMethod(c, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		kw := e.KeywordsGiven()
		cls := vm.moduleOf(self)
		if cls.singleton {
			return Nil, vm.newError(vm.eTypeError, "can't create instance of singleton class")
		}
		obj := vm.NewObject(cls)
		e.Keep(obj)
		if _, err := e.dispatch(e.currentFrame(), obj, symInitialize, args, kw, blk, true, nil); err != nil {
			return Nil, err
		}
		return obj, nil
	})
	vm.DefineMethod(c, "allocate", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewObject(vm.moduleOf(self)), nil
	})
	vm.DefineMethod(c, "superclass", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for s := vm.moduleOf(self).super; s != nil; s = s.super {
			if !s.isModule {
				return s.self, nil
			}
		}
		return Nil, nil
	})
	vm.DefinePrivateMethod(c, "inherited", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, nil
	})
	if err := vm.DefineSingletonMethod(c.self, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		sup := vm.cObject
		if len(args) == 1 {
			sup = vm.moduleOf(args[0])
			if sup == nil || sup.isModule || sup.singleton {
				return Nil, vm.newError(vm.eTypeError, "superclass must be a Class")
			}
		}
		cls := vm.newClass("", sup)
		e.Keep(cls.self)
		if _, err := e.call(sup.self, symInherited, []Value{cls.self}, false, Nil); err != nil {
			return Nil, err
		}
		if blk != Nil {
			if _, err := e.SendWithBlock(cls.self, Intern("class_eval"), nil, blk); err != nil {
				return Nil, err
			}
		}
		return cls.self, nil
	}); err != nil {
		panic(err)
	}
}

// classExec runs blk with self as the receiver and as the target of
// method definitions. class_eval passes the module to the block;
// class_exec passes args.
func (e *Engine) classExec(self Value, args []Value, blk Value, exec bool) (Value, error) {
	vm := e.vm
	kw := e.KeywordsGiven()
	p := vm.procOf(blk)
	if p == nil {
		return Nil, vm.newError(vm.eArgumentError, "no block given")
	}
	var cref *Cref
	if p.Outer != nil {
		cref = &Cref{Module: vm.moduleOf(self), Outer: p.Outer.Cref}
	}
	if !exec {
		args, kw = []Value{self}, false
	}
	v, err := e.runProc(p, self, args, kw, Nil, nil, cref)
	if err == nil {
		e.Keep(v)
	}
	return v, err
}

// mixin includes or prepends modules into self and runs their hooks.
func (e *Engine) mixin(self Value, args []Value, prepend bool) (Value, error) {
	vm := e.vm
	if err := vm.checkArgs(args, 1, -1); err != nil {
		return Nil, err
	}
	target := vm.moduleOf(self)
	hook := symIncluded
	if prepend {
		hook = Intern("prepended")
	}
	for i := len(args) - 1; i >= 0; i-- {
		mod := vm.moduleOf(args[i])
		if mod == nil || !mod.isModule {
			return Nil, vm.newError(vm.eTypeError, "wrong argument type %s (expected Module)", vm.typeName(args[i]))
		}
		var err error
		if prepend {
			err = target.Prepend(mod)
		} else {
			err = target.Include(mod)
		}
		if err != nil {
			return Nil, err
		}
		if _, err := e.call(mod.self, hook, []Value{self}, false, Nil); err != nil {
			return Nil, err
		}
	}
	return self, nil
}

func (vm *VM) moduleRelation(self, other Value, strict bool) (Value, error) {
	mod, o := vm.moduleOf(self), vm.moduleOf(other)
	if o == nil {
		return Nil, vm.newError(vm.eTypeError, "compared with non class/module")
	}
	switch {
	case mod == o:
		return Bool(!strict), nil
	case mod.Includes(o):
		return True, nil
	case o.Includes(mod):
		return False, nil
	}
	return Nil, nil
}

// defaultVisibility is the visibility a class body has selected for
// methods defined in mod.
func (e *Engine) defaultVisibility(mod *Module) Visibility {
	c := e.currentFrame()
	if c == nil {
		return Public
	}
	mc := c.methodContext()
	if mc.ISeq.Kind == ISeqClass && mc.Cref != nil && mc.Cref.Module == mod {
		return mc.visibility
	}
	return Public
}

// visibilityPrimitive implements public, private and protected. Without
// arguments they set the default for later definitions in the calling
// class body; with names they change those methods.
func visibilityPrimitive(vis Visibility) BuiltinFunc {
	return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		vm := e.vm
		mod := vm.moduleOf(self)
		if len(args) == 0 {
			if c := e.currentFrame(); c != nil {
				mc := c.methodContext()
				if mc.ISeq.Kind == ISeqClass || mc.ISeq.Kind == ISeqTop {
					mc.visibility = vis
				}
			}
			return Nil, nil
		}
		if len(args) == 1 {
			if arr, ok := vm.ArrayOf(args[0]); ok {
				args = arr
			}
		}
		for _, a := range args {
			name, err := vm.symArg(a)
			if err != nil {
				return Nil, err
			}
			mi := mod.FindMethod(name)
			if mi == nil {
				return Nil, vm.newNameError(name, "undefined method '%s' for class '%s'", name, mod.Name())
			}
			if mi.Owner == mod {
				mi.Visibility = vis
				vm.methodChanged(mod, name)
				continue
			}
			c := mi.clone(name)
			c.Visibility = vis
			mod.AddMethod(c)
		}
		if len(args) == 1 {
			return args[0], nil
		}
		return vm.NewArray(args...), nil
	}
}

// defineMethodFromArgs implements define_method(name, body) and
// define_method(name) { ... }.
func (vm *VM) defineMethodFromArgs(mod *Module, args []Value, blk Value) (Value, error) {
	if err := vm.checkArgs(args, 1, 2); err != nil {
		return Nil, err
	}
	name, err := vm.symArg(args[0])
	if err != nil {
		return Nil, err
	}
	body := blk
	if len(args) == 2 {
		body = args[1]
	}
	switch {
	case vm.isKind(body, ObjMethod):
		mi := vm.heap.get(body).method().Info.clone(name)
		mi.Visibility = Public
		mod.AddMethod(mi)
	case vm.isKind(body, ObjProc):
		mod.AddMethod(&MethodInfo{Name: name, Kind: MethodProc, Proc: body})
	default:
		return Nil, vm.newError(vm.eArgumentError, "tried to create Proc object without a block")
	}
	return SymbolValue(name), nil
}

// methodList collects method names visible on mod, honoring shadowing
// and undef tombstones.
func (vm *VM) methodList(mod *Module, inherit bool, keep func(*MethodInfo) bool) Value {
	anc := mod.Ancestors()
	if !inherit {
		anc = []*Module{mod}
	}
	seen := make(map[Symbol]bool)
	var out []Value
	for _, a := range anc {
		if inherit && (a == vm.cObject || a == vm.mKernel || a == vm.cBasicObject) && mod != a {
			continue
		}
		for name, mi := range a.methods {
			if seen[name] {
				continue
			}
			seen[name] = true
			if mi.Kind != MethodUndefined && keep(mi) {
				out = append(out, SymbolValue(name))
			}
		}
	}
	sortSymbols(out)
	return vm.newArrayNoCopy(out)
}

func (vm *VM) strOrSym(v Value) (string, error) {
	if v.IsSymbol() {
		return v.Symbol().String(), nil
	}
	return vm.strArg(v)
}

func sortSymbols(vals []Value) {
	slices.SortFunc(vals, func(a, b Value) int {
		return strings.Compare(a.Symbol().String(), b.Symbol().String())
	})
}

// ---------------------------------------------------------------------------
// Comparable Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerComparablePrimitives() {
	c := vm.mComparable
	cmp := func(e *Engine, a, b Value) (int, error) {
		r, err := e.call(a, symCmp, []Value{b}, false, Nil)
		if err != nil {
			return 0, err
		}
		n, ok := vm.IntOf(r)
		if !ok {
			return 0, vm.newError(vm.eArgumentError, "comparison of %s with %s failed", vm.ClassOf(a).Name(), vm.describeOperand(b))
		}
		return int(n), nil
	}
	rel := func(test func(int) bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			n, err := cmp(e, self, args[0])
			if err != nil {
				return Nil, err
			}
			return Bool(test(n)), nil
		}
	}
	vm.DefineMethod(c, "<", 1, rel(func(n int) bool { return n < 0 }))
	vm.DefineMethod(c, "<=", 1, rel(func(n int) bool { return n <= 0 }))
	vm.DefineMethod(c, ">", 1, rel(func(n int) bool { return n > 0 }))
	vm.DefineMethod(c, ">=", 1, rel(func(n int) bool { return n >= 0 }))
	vm.DefineMethod(c, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if self == args[0] {
			return True, nil
		}
		r, err := e.call(self, symCmp, args, false, Nil)
		if err != nil {
			return Nil, err
		}
		n, ok := vm.IntOf(r)
		return Bool(ok && n == 0), nil
	})
	vm.DefineMethod(c, "between?", 2, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		lo, err := cmp(e, self, args[0])
		if err != nil {
			return Nil, err
		}
		hi, err := cmp(e, self, args[1])
		if err != nil {
			return Nil, err
		}
		return Bool(lo >= 0 && hi <= 0), nil
	})
	vm.DefineMethod(c, "clamp", 2, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if n, err := cmp(e, self, args[0]); err != nil || n < 0 {
			return args[0], err
		}
		if n, err := cmp(e, self, args[1]); err != nil || n > 0 {
			return args[1], err
		}
		return self, nil
	})
}
