package vm

// ---------------------------------------------------------------------------
// MethodInfo: entries of a method table
// ---------------------------------------------------------------------------

// MethodKind discriminates how a method body is executed.
type MethodKind uint8

const (
	MethodISeq       MethodKind = iota // compiled bytecode
	MethodBuiltin                      // Go function
	MethodAttrReader                   // returns an instance variable
	MethodAttrWriter                   // assigns an instance variable
	MethodProc                         // body is a proc (define_method)
	MethodUndefined                    // undef_method tombstone
)

// Visibility controls which call sites may invoke a method.
type Visibility uint8

const (
	Public Visibility = iota
	Private
	Protected
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	}
	return "public"
}

// BuiltinFunc is the invocation contract shared by every Go-implemented
// method: receiver, positional arguments (a trailing keyword Hash is passed
// as the last argument) and an optional block (a Proc value or nil).
type BuiltinFunc func(e *Engine, self Value, args []Value, blk Value) (Value, error)

// MethodInfo is one entry of a method table.
type MethodInfo struct {
	Name       Symbol
	Owner      *Module
	Kind       MethodKind
	Visibility Visibility

	ISeq *ISeq // MethodISeq
	Cref *Cref // lexical scope of the definition

	Fn    BuiltinFunc // MethodBuiltin
	Arity int         // MethodBuiltin: exact count, or -1 for variadic

	Proc Value  // MethodProc
	Ivar Symbol // MethodAttrReader, MethodAttrWriter
}

// clone returns a copy suitable for aliasing under a new name.
func (mi *MethodInfo) clone(name Symbol) *MethodInfo {
	c := *mi
	c.Name = name
	return &c
}

// arity reports the method's arity using the language's convention:
// non-negative for a fixed count, -(required+1) when optional or rest
// parameters are accepted.
func (mi *MethodInfo) arity(vm *VM) int {
	switch mi.Kind {
	case MethodBuiltin:
		return mi.Arity
	case MethodAttrReader:
		return 0
	case MethodAttrWriter:
		return 1
	case MethodISeq:
		return mi.ISeq.Params.arity()
	case MethodProc:
		if p := vm.procOf(mi.Proc); p != nil && p.ISeq != nil {
			return p.ISeq.Params.arity()
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Definition helpers
// ---------------------------------------------------------------------------

// DefineMethod installs a builtin instance method on mod.
func (vm *VM) DefineMethod(mod *Module, name string, arity int, fn BuiltinFunc) {
	mod.AddMethod(&MethodInfo{Name: Intern(name), Kind: MethodBuiltin, Fn: fn, Arity: arity})
}

// DefinePrivateMethod installs a private builtin instance method on mod.
func (vm *VM) DefinePrivateMethod(mod *Module, name string, arity int, fn BuiltinFunc) {
	mod.AddMethod(&MethodInfo{Name: Intern(name), Kind: MethodBuiltin, Fn: fn, Arity: arity, Visibility: Private})
}

// DefineSingletonMethod installs a builtin method on the singleton class
// of obj (a class method when obj is a class).
func (vm *VM) DefineSingletonMethod(obj Value, name string, arity int, fn BuiltinFunc) error {
	s, err := vm.SingletonClass(obj)
	if err != nil {
		return err
	}
	vm.DefineMethod(s, name, arity, fn)
	return nil
}

// defineISeqMethod installs compiled code as a method.
func (vm *VM) defineISeqMethod(mod *Module, name Symbol, iseq *ISeq, cref *Cref, vis Visibility) *MethodInfo {
	mi := &MethodInfo{Name: name, Kind: MethodISeq, ISeq: iseq, Cref: cref, Visibility: vis}
	mod.AddMethod(mi)
	return mi
}

// aliasMethod copies the method resolved for old under the name new.
func (vm *VM) aliasMethod(mod *Module, newName, oldName Symbol) error {
	mi := mod.FindMethod(oldName)
	if mi == nil {
		return vm.newNameError(oldName, "undefined method '%s' for class '%s'", oldName, mod.Name())
	}
	c := mi.clone(newName)
	mod.AddMethod(c)
	return nil
}
