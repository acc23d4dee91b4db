package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error universes
// ---------------------------------------------------------------------------
//
// Language exceptions travel as *RaiseError and can be rescued. Engine
// failures travel as *FatalError: they skip rescue handlers but still run
// ensure clauses. Non-local exits (method return from a block, break,
// fiber termination) travel as *jumpSignal on the same return path.

// RaiseError carries a language-level exception object.
type RaiseError struct {
	Exception Value
	vm        *VM
}

func (e *RaiseError) Error() string {
	return e.vm.exceptionSummary(e.Exception)
}

// FatalKind classifies engine failures.
type FatalKind uint8

const (
	FatalInternal FatalKind = iota
	FatalStackCorruption
	FatalInvalidOpcode
	FatalLocalJump
)

func (k FatalKind) String() string {
	switch k {
	case FatalStackCorruption:
		return "stack corruption"
	case FatalInvalidOpcode:
		return "invalid opcode"
	case FatalLocalJump:
		return "local jump"
	}
	return "internal error"
}

// FatalError is an engine failure. It indicates malformed bytecode or an
// implementation defect, never a script error, and is not rescuable.
type FatalError struct {
	Kind     FatalKind
	Message  string
	Location string
}

func (e *FatalError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: fatal %s: %s", e.Location, e.Kind, e.Message)
	}
	return fmt.Sprintf("fatal %s: %s", e.Kind, e.Message)
}

// IsFatal reports whether err is an engine failure of the given kind.
func IsFatal(err error, kind FatalKind) bool {
	var fe *FatalError
	return errors.As(err, &fe) && fe.Kind == kind
}

type jumpKind uint8

const (
	jumpReturn    jumpKind = iota // method-level return from a block
	jumpBreak                     // break out of a block's call site
	jumpTerminate                 // fiber termination
)

// jumpSignal is an in-flight non-local exit.
type jumpSignal struct {
	kind   jumpKind
	target *Context // jumpReturn
	proc   *Proc    // jumpBreak
	value  Value
}

func (j *jumpSignal) Error() string {
	switch j.kind {
	case jumpReturn:
		return "unexpected return"
	case jumpBreak:
		return "break from proc-closure"
	}
	return "fiber terminated"
}

// UncaughtError reports a language exception that escaped a top-level
// evaluation.
type UncaughtError struct {
	Class     string
	Message   string
	Location  string
	Backtrace []string
	Exception Value
}

func (e *UncaughtError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Location, e.Message, e.Class)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Class)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// makeException allocates an exception of cls with a message.
func (vm *VM) makeException(cls *Module, msg string) Value {
	v := vm.NewObject(cls)
	if x := vm.heap.get(v).exc(); x != nil {
		x.message = vm.NewString(msg)
	}
	return v
}

// raiseValue wraps an exception object, capturing the backtrace when the
// object has none yet.
func (vm *VM) raiseValue(exc Value) *RaiseError {
	if o := vm.Object(exc); o != nil {
		if x := o.exc(); x != nil && x.backtrace == nil && vm.current != nil {
			x.backtrace = vm.current.backtrace()
		}
	}
	return &RaiseError{Exception: exc, vm: vm}
}

// newError creates a rescuable exception of cls.
func (vm *VM) newError(cls *Module, format string, args ...any) error {
	return vm.raiseValue(vm.makeException(cls, fmt.Sprintf(format, args...)))
}

// NewError is the builtin-facing form of newError.
func (e *Engine) NewError(cls *Module, format string, args ...any) error {
	return e.vm.newError(cls, format, args...)
}

func (vm *VM) newNameError(name Symbol, format string, args ...any) error {
	exc := vm.makeException(vm.eNameError, fmt.Sprintf(format, args...))
	vm.heap.get(exc).SetIvar(Intern("@name"), SymbolValue(name))
	return vm.raiseValue(exc)
}

func (vm *VM) newNoMethodError(name Symbol, recv Value, private bool) error {
	kind := "undefined"
	if private {
		kind = "private"
	}
	exc := vm.makeException(vm.eNoMethodError,
		fmt.Sprintf("%s method '%s' for %s", kind, name, vm.describeReceiver(recv)))
	o := vm.heap.get(exc)
	o.SetIvar(Intern("@name"), SymbolValue(name))
	o.SetIvar(Intern("@receiver"), recv)
	return vm.raiseValue(exc)
}

func (vm *VM) describeReceiver(v Value) string {
	switch v {
	case Nil:
		return "nil"
	case True:
		return "true"
	case False:
		return "false"
	}
	if m := vm.moduleOf(v); m != nil {
		if m.isModule {
			return "module " + m.Name()
		}
		return "class " + m.Name()
	}
	return "an instance of " + vm.ClassOf(v).Name()
}

func (vm *VM) argumentError(given int, expected string) error {
	return vm.newError(vm.eArgumentError, "wrong number of arguments (given %d, expected %s)", given, expected)
}

func (vm *VM) typeError(v Value, expected string) error {
	return vm.newError(vm.eTypeError, "no implicit conversion of %s into %s", vm.typeName(v), expected)
}

func (vm *VM) typeName(v Value) string {
	switch v {
	case Nil:
		return "nil"
	case True:
		return "true"
	case False:
		return "false"
	}
	return vm.ClassOf(v).Name()
}

func (vm *VM) frozenError(v Value) error {
	exc := vm.makeException(vm.eFrozenError, fmt.Sprintf("can't modify frozen %s: %s", vm.ClassOf(v).Name(), vm.Inspect(v)))
	vm.heap.get(exc).SetIvar(Intern("@receiver"), v)
	return vm.raiseValue(exc)
}

func fatal(kind FatalKind, format string, args ...any) *FatalError {
	return &FatalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// makeRaise converts the operand of a raise into an error: exception
// objects raise themselves, strings raise RuntimeError, exception classes
// are instantiated, and parked unwind markers resume their unwind.
func (e *Engine) makeRaise(v Value) error {
	vm := e.vm
	if o := vm.Object(v); o != nil {
		switch o.kind {
		case ObjException:
			return vm.raiseValue(v)
		case ObjString:
			return vm.raiseValue(vm.makeException(vm.eRuntimeError, string(o.str)))
		case ObjSignal:
			return o.data.(error)
		case ObjClass:
			if m := o.module(); m.Includes(vm.eException) {
				exc, err := e.Send(v, "new")
				if err != nil {
					return err
				}
				return e.makeRaise(exc)
			}
		}
	}
	return vm.newError(vm.eTypeError, "exception class/object expected")
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// ExceptionMessage returns the message of an exception object.
func (vm *VM) ExceptionMessage(exc Value) string {
	o := vm.Object(exc)
	if o == nil || o.exc() == nil {
		return vm.Inspect(exc)
	}
	if s, ok := vm.StringOf(o.exc().message); ok {
		return s
	}
	return vm.ClassOf(exc).Name()
}

// Backtrace returns the recorded backtrace of an exception object.
func (vm *VM) Backtrace(exc Value) []string {
	if o := vm.Object(exc); o != nil {
		if x := o.exc(); x != nil {
			return x.backtrace
		}
	}
	return nil
}

func (vm *VM) exceptionSummary(exc Value) string {
	return fmt.Sprintf("%s (%s)", vm.ExceptionMessage(exc), vm.ClassOf(exc).Name())
}

// uncaught converts an error escaping a top-level evaluation into the
// form reported to embedders.
func (vm *VM) uncaught(err error) error {
	var re *RaiseError
	if errors.As(err, &re) {
		bt := vm.Backtrace(re.Exception)
		u := &UncaughtError{
			Class:     vm.ClassOf(re.Exception).Name(),
			Message:   vm.ExceptionMessage(re.Exception),
			Backtrace: bt,
			Exception: re.Exception,
		}
		if len(bt) > 0 {
			u.Location, _, _ = strings.Cut(bt[0], ":in ")
		}
		vmLog.Debugf("uncaught %s", u.Error())
		return u
	}
	var js *jumpSignal
	if errors.As(err, &js) {
		return fatal(FatalLocalJump, "%s", js.Error())
	}
	return err
}

// recoverFatal converts a recovered panic into a FatalError.
func recoverFatal(r any) *FatalError {
	switch x := r.(type) {
	case *FatalError:
		return x
	case error:
		return fatal(FatalInternal, "%v", x)
	}
	return fatal(FatalInternal, "%v", r)
}
