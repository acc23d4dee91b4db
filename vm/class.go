package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Module: classes, modules and singleton classes
// ---------------------------------------------------------------------------

// Module is the metadata of a class or module. Classes carry a superclass;
// modules never do. Singleton classes are classes attached to one object.
type Module struct {
	vm   *VM
	name string
	self Value // the Class/Module heap object

	isModule  bool
	singleton bool
	attached  Value // owner of a singleton class
	parent    *Module

	super    *Module
	includes []*Module // in include order; searched most recent first
	prepends []*Module // in prepend order; searched most recent first

	methods map[Symbol]*MethodInfo
	consts  map[Symbol]Value

	// instKind is the payload kind allocated by Class#new.
	instKind ObjKind

	anc    []*Module
	ancGen uint64
}

// Value returns the heap object representing the module.
func (m *Module) Value() Value { return m.self }

// IsModule reports whether m is a module rather than a class.
func (m *Module) IsModule() bool { return m.isModule }

// IsSingleton reports whether m is a singleton class.
func (m *Module) IsSingleton() bool { return m.singleton }

// Superclass returns the direct superclass, skipping nothing.
func (m *Module) Superclass() *Module { return m.super }

// Name returns the qualified name, or an anonymous description.
func (m *Module) Name() string {
	if m.singleton {
		return fmt.Sprintf("#<Class:%s>", m.vm.Inspect(m.attached))
	}
	if m.name == "" {
		kind := "Class"
		if m.isModule {
			kind = "Module"
		}
		return fmt.Sprintf("#<%s:0x%x>", kind, uint64(m.self))
	}
	if m.parent != nil && m.parent != m.vm.cObject {
		return m.parent.Name() + "::" + m.name
	}
	return m.name
}

func (m *Module) String() string { return m.Name() }

// realClass skips singleton classes.
func (m *Module) realClass() *Module {
	for m != nil && m.singleton {
		m = m.super
	}
	return m
}

// ---------------------------------------------------------------------------
// Ancestry
// ---------------------------------------------------------------------------

// Ancestors returns the method resolution order: for each class in the
// superclass chain, its prepended modules (most recent first), the class
// itself, then its included modules (most recent first). The list is
// cached until the next global generation bump.
func (m *Module) Ancestors() []*Module {
	gen := m.vm.generation
	if m.anc != nil && m.ancGen == gen {
		return m.anc
	}
	var out []*Module
	seen := make(map[*Module]bool)
	for c := m; c != nil; c = c.super {
		c.collectOwn(&out, seen)
	}
	m.anc = out
	m.ancGen = gen
	return out
}

func (m *Module) collectOwn(out *[]*Module, seen map[*Module]bool) {
	for i := len(m.prepends) - 1; i >= 0; i-- {
		m.prepends[i].collectOwn(out, seen)
	}
	if !seen[m] {
		seen[m] = true
		*out = append(*out, m)
	}
	for i := len(m.includes) - 1; i >= 0; i-- {
		m.includes[i].collectOwn(out, seen)
	}
}

// Includes reports whether mod appears in m's ancestry.
func (m *Module) Includes(mod *Module) bool {
	return slices.Contains(m.Ancestors(), mod)
}

// ---------------------------------------------------------------------------
// Mixins
// ---------------------------------------------------------------------------

// Include mixes mod into m after m itself in the lookup order.
func (m *Module) Include(mod *Module) error {
	if err := m.checkMixin(mod); err != nil {
		return err
	}
	if m.Includes(mod) {
		return nil
	}
	m.includes = append(m.includes, mod)
	m.vm.bumpGeneration("include " + mod.Name() + " into " + m.Name())
	return nil
}

// Prepend mixes mod into m ahead of m itself in the lookup order.
func (m *Module) Prepend(mod *Module) error {
	if err := m.checkMixin(mod); err != nil {
		return err
	}
	if slices.Contains(m.prepends, mod) {
		return nil
	}
	m.prepends = append(m.prepends, mod)
	m.vm.bumpGeneration("prepend " + mod.Name() + " to " + m.Name())
	m.vm.checkMixinRedefinition(m, mod)
	return nil
}

func (m *Module) checkMixin(mod *Module) error {
	if !mod.isModule {
		return m.vm.newError(m.vm.eTypeError, "wrong argument type %s (expected Module)", mod.realClassName())
	}
	if mod == m || mod.Includes(m) {
		return m.vm.newError(m.vm.eArgumentError, "cyclic include detected")
	}
	return nil
}

func (m *Module) realClassName() string {
	if m.isModule {
		return "Module"
	}
	return "Class"
}

// ---------------------------------------------------------------------------
// Method tables
// ---------------------------------------------------------------------------

// AddMethod installs mi in m's own table.
func (m *Module) AddMethod(mi *MethodInfo) {
	mi.Owner = m
	if m.methods == nil {
		m.methods = make(map[Symbol]*MethodInfo)
	}
	m.methods[mi.Name] = mi
	m.vm.methodChanged(m, mi.Name)
}

// RemoveMethod deletes name from m's own table.
func (m *Module) RemoveMethod(name Symbol) bool {
	if _, ok := m.methods[name]; !ok {
		return false
	}
	delete(m.methods, name)
	m.vm.methodChanged(m, name)
	return true
}

// FindMethod resolves name along the ancestry. Undefined entries stop
// the search.
func (m *Module) FindMethod(name Symbol) *MethodInfo {
	for _, a := range m.Ancestors() {
		if mi, ok := a.methods[name]; ok {
			if mi.Kind == MethodUndefined {
				return nil
			}
			return mi
		}
	}
	return nil
}

// findSuperMethod resolves name starting after owner in m's ancestry.
func (m *Module) findSuperMethod(owner *Module, name Symbol) *MethodInfo {
	anc := m.Ancestors()
	i := slices.Index(anc, owner)
	if i < 0 {
		return nil
	}
	for _, a := range anc[i+1:] {
		if mi, ok := a.methods[name]; ok {
			if mi.Kind == MethodUndefined {
				return nil
			}
			return mi
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Constant tables
// ---------------------------------------------------------------------------

// SetConst binds a constant in m's own table. Anonymous modules take the
// constant's name.
func (m *Module) SetConst(name Symbol, v Value) {
	if m.consts == nil {
		m.consts = make(map[Symbol]Value)
	}
	m.consts[name] = v
	if mod := m.vm.moduleOf(v); mod != nil && mod.name == "" && !mod.singleton {
		mod.name = name.String()
		mod.parent = m
	}
	m.vm.bumpGeneration("constant " + name.String())
}

// Const reads a constant from m's own table.
func (m *Module) Const(name Symbol) (Value, bool) {
	v, ok := m.consts[name]
	return v, ok
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

func (vm *VM) rawModule(name string, kind ObjKind, class *Module) *Module {
	m := &Module{
		vm:      vm,
		name:    name,
		methods: make(map[Symbol]*MethodInfo),
		consts:  make(map[Symbol]Value),
	}
	m.self = vm.alloc(&RObject{kind: kind, class: class, data: m})
	return m
}

// newClass creates a class and its metaclass. The metaclass inherits from
// the superclass's metaclass, so class methods are inherited.
func (vm *VM) newClass(name string, super *Module) *Module {
	m := vm.rawModule(name, ObjClass, nil)
	m.super = super
	if super != nil {
		m.instKind = super.instKind
	}
	vm.attachMetaclass(m)
	vm.bumpGeneration("class " + name)
	return m
}

func (vm *VM) attachMetaclass(m *Module) {
	metaSuper := vm.cClass
	if m.super != nil {
		metaSuper = vm.heap.get(m.super.self).class
	}
	meta := vm.rawModule("", ObjClass, vm.cClass)
	meta.singleton = true
	meta.attached = m.self
	meta.super = metaSuper
	vm.heap.get(m.self).class = meta
}

func (vm *VM) newModule(name string) *Module {
	m := vm.rawModule(name, ObjModule, vm.cModule)
	m.isModule = true
	return m
}

// SingletonClass returns (creating if needed) the singleton class of v.
func (vm *VM) SingletonClass(v Value) (*Module, error) {
	switch v {
	case Nil:
		return vm.cNil, nil
	case True:
		return vm.cTrue, nil
	case False:
		return vm.cFalse, nil
	}
	if !v.IsHeap() {
		return nil, vm.newError(vm.eTypeError, "can't define singleton")
	}
	o := vm.heap.get(v)
	if o.class.singleton && o.class.attached == v {
		return o.class, nil
	}
	switch o.kind {
	case ObjFloat, ObjBignum:
		return nil, vm.newError(vm.eTypeError, "can't define singleton")
	}
	s := vm.rawModule("", ObjClass, vm.cClass)
	s.singleton = true
	s.attached = v
	s.super = o.class
	s.instKind = o.class.instKind
	o.class = s
	vm.bumpGeneration("singleton class")
	return s, nil
}

// classOf returns the class used for method dispatch on v.
func (vm *VM) classOf(v Value) *Module {
	switch v.Kind() {
	case KindFixnum:
		return vm.cInteger
	case KindFlonum:
		return vm.cFloat
	case KindNil:
		return vm.cNil
	case KindTrue:
		return vm.cTrue
	case KindFalse:
		return vm.cFalse
	case KindSymbol:
		return vm.cSymbol
	case KindHeap:
		return vm.heap.get(v).class
	}
	return vm.cBasicObject
}

// ClassOf returns the non-singleton class of v.
func (vm *VM) ClassOf(v Value) *Module {
	return vm.classOf(v).realClass()
}

// IsA reports whether mod appears in v's ancestry.
func (vm *VM) IsA(v Value, mod *Module) bool {
	return vm.classOf(v).Includes(mod)
}

// ---------------------------------------------------------------------------
// Invalidation
// ---------------------------------------------------------------------------

// bumpGeneration invalidates every inline cache and ancestry list.
func (vm *VM) bumpGeneration(reason string) {
	vm.generation++
	if vm.booted {
		vmLog.Debugf("cache generation %d: %s", vm.generation, reason)
	}
}

func (vm *VM) methodChanged(owner *Module, name Symbol) {
	vm.bumpGeneration("method " + owner.Name() + "#" + name.String())
	if !arithSymbols[name] || !vm.booted {
		return
	}
	for _, c := range []*Module{vm.cInteger, vm.cFloat} {
		anc := c.Ancestors()
		i := slices.Index(anc, c)
		if slices.Contains(anc[:i+1], owner) {
			vm.redefined[c] = true
		}
	}
}

// checkMixinRedefinition flags a numeric class whose operators may now be
// shadowed by a prepended module.
func (vm *VM) checkMixinRedefinition(target, mod *Module) {
	if !vm.booted || (target != vm.cInteger && target != vm.cFloat) {
		return
	}
	for _, a := range mod.Ancestors() {
		for name := range a.methods {
			if arithSymbols[name] {
				vm.redefined[target] = true
				return
			}
		}
	}
}
