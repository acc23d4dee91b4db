package vm

import (
	"io"
	"os"

	"github.com/chazu/garnet/manifest"
)

// ---------------------------------------------------------------------------
// VM: The Garnet Virtual Machine
// ---------------------------------------------------------------------------

// VM owns the object arena, the class hierarchy and the engines that
// execute bytecode. A VM is driven by one goroutine at a time; fibers
// run on their own goroutines but only while holding control.
type VM struct {
	heap   *heap
	config *manifest.Config

	maxDepth    int
	gcThreshold int
	gcDisabled  bool

	// generation is bumped by every change that can alter method or
	// constant resolution; inline caches compare against it.
	generation uint64
	booted     bool
	// redefined marks numeric classes whose operators no longer match the
	// inline arithmetic paths.
	redefined map[*Module]bool

	globals map[Symbol]Value
	pinned  map[Value]int

	main    *Engine
	current *Engine
	engines map[*Engine]struct{}
	fibers  map[*Fiber]Value

	mainObj Value
	topCref *Cref

	// Stdout receives output of puts, print and p.
	Stdout io.Writer

	// Core classes and modules
	cBasicObject *Module
	cObject      *Module
	cModule      *Module
	cClass       *Module
	mKernel      *Module
	mComparable  *Module
	mEnumerable  *Module
	cNumeric     *Module
	cInteger     *Module
	cFloat       *Module
	cString      *Module
	cSymbol      *Module
	cNil         *Module
	cTrue        *Module
	cFalse       *Module
	cArray       *Module
	cHash        *Module
	cRange       *Module
	cProc        *Module
	cMethod      *Module
	cRegexp      *Module
	cFiber       *Module
	cEnumerator  *Module
	mGC          *Module

	// Exception hierarchy
	eException         *Module
	eScriptError       *Module
	eNotImplementedErr *Module
	eStandardError     *Module
	eRuntimeError      *Module
	eArgumentError     *Module
	eTypeError         *Module
	eNameError         *Module
	eNoMethodError     *Module
	eZeroDivisionError *Module
	eIndexError        *Module
	eKeyError          *Module
	eStopIteration     *Module
	eRangeError        *Module
	eFrozenError       *Module
	eLocalJumpError    *Module
	eFiberError        *Module
	eSystemStackError  *Module
}

// Option configures a VM.
type Option func(*VM)

// WithConfig applies an engine configuration, including its log section.
func WithConfig(cfg *manifest.Config) Option {
	return func(vm *VM) {
		vm.applyConfig(cfg)
		ConfigureLogging(cfg)
	}
}

func (vm *VM) applyConfig(cfg *manifest.Config) {
	vm.config = cfg
	vm.maxDepth = cfg.Engine.MaxDepth
	vm.gcThreshold = cfg.GC.Threshold
	vm.gcDisabled = cfg.GC.Disabled
}

// WithStdout redirects script output.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.Stdout = w }
}

// WithMaxDepth bounds nested frames.
func WithMaxDepth(n int) Option {
	return func(vm *VM) { vm.maxDepth = n }
}

// WithGCThreshold sets the allocation count between automatic collections.
func WithGCThreshold(n int) Option {
	return func(vm *VM) { vm.gcThreshold = n }
}

// NewVM creates a VM with the core classes installed.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		heap:      newHeap(),
		redefined: make(map[*Module]bool),
		globals:   make(map[Symbol]Value),
		pinned:    make(map[Value]int),
		engines:   make(map[*Engine]struct{}),
		fibers:    make(map[*Fiber]Value),
		Stdout:    os.Stdout,
	}
	vm.applyConfig(manifest.Default())
	for _, opt := range opts {
		opt(vm)
	}
	if vm.maxDepth <= 0 {
		vm.maxDepth = manifest.DefaultMaxDepth
	}
	if vm.gcThreshold <= 0 {
		vm.gcThreshold = manifest.DefaultGCThreshold
	}

	vm.bootstrap()
	vm.main = newEngine(vm, nil)
	vm.current = vm.main
	vm.booted = true
	vmLog.Debugf("vm ready: %d objects after bootstrap", vm.heap.live)
	return vm
}

// bootstrap builds the class hierarchy. BasicObject, Object, Module and
// Class refer to each other, so they are created raw and wired up before
// their metaclasses exist.
func (vm *VM) bootstrap() {
	vm.cBasicObject = vm.rawModule("BasicObject", ObjClass, nil)
	vm.cObject = vm.rawModule("Object", ObjClass, nil)
	vm.cModule = vm.rawModule("Module", ObjClass, nil)
	vm.cClass = vm.rawModule("Class", ObjClass, nil)
	vm.cObject.super = vm.cBasicObject
	vm.cModule.super = vm.cObject
	vm.cClass.super = vm.cModule
	for _, c := range []*Module{vm.cBasicObject, vm.cObject, vm.cModule, vm.cClass} {
		vm.attachMetaclass(c)
	}

	vm.mKernel = vm.newModule("Kernel")
	vm.mComparable = vm.newModule("Comparable")
	vm.mEnumerable = vm.newModule("Enumerable")
	vm.cObject.includes = append(vm.cObject.includes, vm.mKernel)

	class := func(name string, super *Module, kind ObjKind) *Module {
		c := vm.newClass(name, super)
		c.instKind = kind
		return c
	}
	vm.cNumeric = class("Numeric", vm.cObject, ObjOrdinary)
	vm.cNumeric.includes = append(vm.cNumeric.includes, vm.mComparable)
	vm.cInteger = class("Integer", vm.cNumeric, ObjOrdinary)
	vm.cFloat = class("Float", vm.cNumeric, ObjOrdinary)
	vm.cString = class("String", vm.cObject, ObjString)
	vm.cString.includes = append(vm.cString.includes, vm.mComparable)
	vm.cSymbol = class("Symbol", vm.cObject, ObjOrdinary)
	vm.cNil = class("NilClass", vm.cObject, ObjOrdinary)
	vm.cTrue = class("TrueClass", vm.cObject, ObjOrdinary)
	vm.cFalse = class("FalseClass", vm.cObject, ObjOrdinary)
	vm.cArray = class("Array", vm.cObject, ObjArray)
	vm.cArray.includes = append(vm.cArray.includes, vm.mEnumerable)
	vm.cHash = class("Hash", vm.cObject, ObjHash)
	vm.cHash.includes = append(vm.cHash.includes, vm.mEnumerable)
	vm.cRange = class("Range", vm.cObject, ObjRange)
	vm.cRange.includes = append(vm.cRange.includes, vm.mEnumerable)
	vm.cProc = class("Proc", vm.cObject, ObjProc)
	vm.cMethod = class("Method", vm.cObject, ObjMethod)
	vm.cRegexp = class("Regexp", vm.cObject, ObjRegexp)
	vm.cFiber = class("Fiber", vm.cObject, ObjFiber)
	vm.cEnumerator = class("Enumerator", vm.cObject, ObjEnumerator)
	vm.cEnumerator.includes = append(vm.cEnumerator.includes, vm.mEnumerable)
	vm.mGC = vm.newModule("GC")

	vm.eException = class("Exception", vm.cObject, ObjException)
	vm.eScriptError = class("ScriptError", vm.eException, ObjException)
	vm.eNotImplementedErr = class("NotImplementedError", vm.eScriptError, ObjException)
	vm.eStandardError = class("StandardError", vm.eException, ObjException)
	vm.eRuntimeError = class("RuntimeError", vm.eStandardError, ObjException)
	vm.eArgumentError = class("ArgumentError", vm.eStandardError, ObjException)
	vm.eTypeError = class("TypeError", vm.eStandardError, ObjException)
	vm.eNameError = class("NameError", vm.eStandardError, ObjException)
	vm.eNoMethodError = class("NoMethodError", vm.eNameError, ObjException)
	vm.eZeroDivisionError = class("ZeroDivisionError", vm.eStandardError, ObjException)
	vm.eIndexError = class("IndexError", vm.eStandardError, ObjException)
	vm.eKeyError = class("KeyError", vm.eIndexError, ObjException)
	vm.eStopIteration = class("StopIteration", vm.eIndexError, ObjException)
	vm.eRangeError = class("RangeError", vm.eStandardError, ObjException)
	vm.eFrozenError = class("FrozenError", vm.eRuntimeError, ObjException)
	vm.eLocalJumpError = class("LocalJumpError", vm.eStandardError, ObjException)
	vm.eFiberError = class("FiberError", vm.eStandardError, ObjException)
	vm.eSystemStackError = class("SystemStackError", vm.eException, ObjException)

	for _, m := range vm.coreModules() {
		if !m.singleton {
			vm.cObject.SetConst(Intern(m.name), m.self)
			m.parent = vm.cObject
		}
	}

	vm.mainObj = vm.NewObject(vm.cObject)
	vm.topCref = &Cref{Module: vm.cObject}

	vm.registerKernelPrimitives()
	vm.registerModulePrimitives()
	vm.registerComparablePrimitives()
	vm.registerIntegerPrimitives()
	vm.registerFloatPrimitives()
	vm.registerStringPrimitives()
	vm.registerRegexpPrimitives()
	vm.registerSymbolPrimitives()
	vm.registerArrayPrimitives()
	vm.registerHashPrimitives()
	vm.registerRangePrimitives()
	vm.registerEnumerablePrimitives()
	vm.registerProcPrimitives()
	vm.registerExceptionPrimitives()
	vm.registerFiberPrimitives()
	vm.registerGCPrimitives()
}

// coreModules lists every class and module created by bootstrap.
func (vm *VM) coreModules() []*Module {
	return []*Module{
		vm.cBasicObject, vm.cObject, vm.cModule, vm.cClass,
		vm.mKernel, vm.mComparable, vm.mEnumerable,
		vm.cNumeric, vm.cInteger, vm.cFloat, vm.cString, vm.cSymbol,
		vm.cNil, vm.cTrue, vm.cFalse, vm.cArray, vm.cHash, vm.cRange,
		vm.cProc, vm.cMethod, vm.cRegexp, vm.cFiber, vm.cEnumerator, vm.mGC,
		vm.eException, vm.eScriptError, vm.eNotImplementedErr, vm.eStandardError,
		vm.eRuntimeError, vm.eArgumentError, vm.eTypeError, vm.eNameError,
		vm.eNoMethodError, vm.eZeroDivisionError, vm.eIndexError, vm.eKeyError,
		vm.eStopIteration, vm.eRangeError, vm.eFrozenError, vm.eLocalJumpError,
		vm.eFiberError, vm.eSystemStackError,
	}
}

// ---------------------------------------------------------------------------
// Embedder API
// ---------------------------------------------------------------------------

// Run evaluates a top-level ISeq with the main object as self. An
// exception escaping the program is reported as *UncaughtError. The
// result is not rooted; Pin it to keep it across later evaluations.
func (vm *VM) Run(iseq *ISeq) (Value, error) {
	e := vm.main
	ctx := newContext(iseq, vm.mainObj, nil)
	ctx.Cref = vm.topCref
	ctx.visibility = Private
	v, err := e.execute(ctx)
	if len(e.frames) == 0 {
		e.handles = e.handles[:0]
	}
	if err != nil {
		return Nil, vm.uncaught(err)
	}
	return v, nil
}

// Send calls a method from Go, ignoring visibility.
func (vm *VM) Send(recv Value, name string, args ...Value) (Value, error) {
	e := vm.current
	base := e.sp
	e.push(recv)
	for _, a := range args {
		e.push(a)
	}
	v, err := e.dispatch(e.currentFrame(), recv, Intern(name), e.stack[base+1:e.sp], false, Nil, true, nil)
	e.sp = base
	if err != nil {
		return Nil, vm.uncaught(err)
	}
	return v, nil
}

// DefineClass returns the top-level class name, creating it under super
// (Object when nil) if it does not exist.
func (vm *VM) DefineClass(name string, super *Module) *Module {
	sym := Intern(name)
	if v, ok := vm.cObject.Const(sym); ok {
		if m := vm.moduleOf(v); m != nil && !m.isModule {
			return m
		}
	}
	if super == nil {
		super = vm.cObject
	}
	c := vm.newClass(name, super)
	c.parent = vm.cObject
	vm.cObject.SetConst(sym, c.self)
	return c
}

// DefineModule returns the top-level module name, creating it if needed.
func (vm *VM) DefineModule(name string) *Module {
	sym := Intern(name)
	if v, ok := vm.cObject.Const(sym); ok {
		if m := vm.moduleOf(v); m != nil && m.isModule {
			return m
		}
	}
	m := vm.newModule(name)
	m.parent = vm.cObject
	vm.cObject.SetConst(sym, m.self)
	return m
}

// Const returns a top-level constant.
func (vm *VM) Const(name string) (Value, bool) {
	return vm.cObject.Const(Intern(name))
}

// Intern returns the Symbol value for name.
func (vm *VM) Intern(name string) Value {
	return SymbolValue(Intern(name))
}

// Global reads a global variable.
func (vm *VM) Global(name string) Value {
	return vm.globals[Intern(name)]
}

// SetGlobal assigns a global variable.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[Intern(name)] = v
}

// Main returns the top-level self.
func (vm *VM) Main() Value { return vm.mainObj }

// ObjectClass returns Object.
func (vm *VM) ObjectClass() *Module { return vm.cObject }

// Generation returns the resolution generation counter.
func (vm *VM) Generation() uint64 { return vm.generation }

// Close terminates every suspended fiber, running its ensure clauses.
func (vm *VM) Close() {
	for f := range vm.fibers {
		f.terminate(vm.main)
	}
}
