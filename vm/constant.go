package vm

// ---------------------------------------------------------------------------
// Constant resolution
// ---------------------------------------------------------------------------

// getConst resolves a bare constant reference through the site's cache.
func (e *Engine) getConst(ctx *Context, name Symbol, cache *ConstCache) (Value, error) {
	vm := e.vm
	gen := vm.generation
	recv := vm.constReceiver(ctx.Self)
	if v, ok := cache.Lookup(ctx.Cref, recv, gen); ok {
		return v, nil
	}
	v, err := vm.lookupConst(ctx.Cref, recv, name)
	if err != nil {
		return Nil, err
	}
	cache.Update(ctx.Cref, recv, gen, v)
	return v, nil
}

// constReceiver is the module whose ancestry a bare constant reference
// searches after the lexical scopes: self when self is a class or module,
// otherwise self's class.
func (vm *VM) constReceiver(self Value) *Module {
	if m := vm.moduleOf(self); m != nil {
		return m
	}
	return vm.ClassOf(self)
}

// lookupConst searches the lexical scopes from innermost outward (the
// top-level scope excluded), then the ancestry of the innermost scope,
// then the receiver's ancestry, then Object.
func (vm *VM) lookupConst(cref *Cref, recv *Module, name Symbol) (Value, error) {
	for c := cref; c != nil && c.Outer != nil; c = c.Outer {
		if v, ok := c.Module.consts[name]; ok {
			return v, nil
		}
	}
	if v, ok := vm.constBelowObject(cref.Module, name); ok {
		return v, nil
	}
	if recv != nil && recv != cref.Module {
		if v, ok := vm.constBelowObject(recv, name); ok {
			return v, nil
		}
	}
	if v, ok := vm.constInAncestors(vm.cObject, name); ok {
		return v, nil
	}
	if cref.Outer == nil || cref.Module == vm.cObject {
		return Nil, vm.newNameError(name, "uninitialized constant %s", name)
	}
	return Nil, vm.newNameError(name, "uninitialized constant %s::%s", cref.Module.Name(), name)
}

// constBelowObject searches mod's ancestry up to, not including, Object.
func (vm *VM) constBelowObject(mod *Module, name Symbol) (Value, bool) {
	for _, a := range mod.Ancestors() {
		if a == vm.cObject {
			break
		}
		if v, ok := a.consts[name]; ok {
			return v, true
		}
	}
	return Nil, false
}

func (vm *VM) constInAncestors(mod *Module, name Symbol) (Value, bool) {
	for _, a := range mod.Ancestors() {
		if v, ok := a.consts[name]; ok {
			return v, true
		}
	}
	return Nil, false
}

// topConst resolves ::Name.
func (e *Engine) topConst(name Symbol) (Value, error) {
	if v, ok := e.vm.constInAncestors(e.vm.cObject, name); ok {
		return v, nil
	}
	return Nil, e.vm.newNameError(name, "uninitialized constant %s", name)
}

// scopedConst resolves Base::Name in base's ancestry. Object's constants
// are only visible when base is Object itself.
func (e *Engine) scopedConst(base Value, name Symbol) (Value, error) {
	vm := e.vm
	mod := vm.moduleOf(base)
	if mod == nil {
		return Nil, vm.newError(vm.eTypeError, "%s is not a class/module", vm.Inspect(base))
	}
	for _, a := range mod.Ancestors() {
		if a == vm.cObject && mod != vm.cObject {
			break
		}
		if v, ok := a.consts[name]; ok {
			return v, nil
		}
	}
	return Nil, vm.newNameError(name, "uninitialized constant %s::%s", mod.Name(), name)
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// defineMethod binds a compiled method in the innermost lexical module.
// Class bodies and the top level apply their current default visibility;
// initialize is always private.
func (e *Engine) defineMethod(ctx *Context, name Symbol, body *ISeq) {
	vis := Public
	mctx := ctx.methodContext()
	if (mctx.ISeq.Kind == ISeqClass || mctx.ISeq.Kind == ISeqTop) && mctx.Cref.Module == ctx.Cref.Module {
		vis = mctx.visibility
	}
	if name == symInitialize || name == symRespondMissing {
		vis = Private
	}
	e.vm.defineISeqMethod(ctx.Cref.Module, name, body, ctx.Cref, vis)
}

func (e *Engine) defineSingletonMethod(ctx *Context, target Value, name Symbol, body *ISeq) error {
	s, err := e.vm.SingletonClass(target)
	if err != nil {
		return err
	}
	e.vm.defineISeqMethod(s, name, body, ctx.Cref, Public)
	return nil
}

// defineClass opens the class or module name in the innermost lexical
// module, creating it on first use, and runs body with it as self.
func (e *Engine) defineClass(ctx *Context, flags byte, name Symbol, super Value, body *ISeq) (Value, error) {
	vm := e.vm
	isModule := flags&ClassFlagModule != 0
	container := ctx.Cref.Module
	var mod *Module

	if existing, ok := container.Const(name); ok {
		mod = vm.moduleOf(existing)
		switch {
		case mod == nil || mod.isModule != isModule:
			kind := "class"
			if isModule {
				kind = "module"
			}
			return Nil, vm.newError(vm.eTypeError, "%s is not a %s", name, kind)
		case !isModule && super != Nil && vm.moduleOf(super) != mod.super:
			return Nil, vm.newError(vm.eTypeError, "superclass mismatch for class %s", name)
		}
	} else {
		if isModule {
			mod = vm.newModule(name.String())
		} else {
			sup := vm.cObject
			if super != Nil {
				sup = vm.moduleOf(super)
				switch {
				case sup == nil || sup.isModule:
					return Nil, vm.newError(vm.eTypeError, "superclass must be an instance of Class (given an instance of %s)", vm.ClassOf(super).Name())
				case sup.singleton:
					return Nil, vm.newError(vm.eTypeError, "can't make subclass of singleton class")
				case sup == vm.cClass:
					return Nil, vm.newError(vm.eTypeError, "can't make subclass of Class")
				}
			}
			mod = vm.newClass(name.String(), sup)
		}
		mod.parent = container
		container.SetConst(name, mod.self)
		if !isModule {
			if _, err := e.dispatch(ctx, mod.super.self, symInherited, []Value{mod.self}, false, Nil, true, nil); err != nil {
				return Nil, err
			}
		}
	}
	return e.runBody(ctx, body, mod)
}

// defineSingletonClass runs body with the singleton class of target as
// self (class << target).
func (e *Engine) defineSingletonClass(ctx *Context, target Value, body *ISeq) (Value, error) {
	s, err := e.vm.SingletonClass(target)
	if err != nil {
		return Nil, err
	}
	return e.runBody(ctx, body, s)
}

func (e *Engine) runBody(ctx *Context, body *ISeq, mod *Module) (Value, error) {
	e.vm.safePoint(e)
	c := newContext(body, mod.self, nil)
	c.Cref = &Cref{Module: mod, Outer: ctx.Cref}
	c.visibility = Public
	return e.execute(c)
}
