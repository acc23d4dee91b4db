package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exception Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerExceptionPrimitives() {
	c := vm.eException

	if err := vm.DefineSingletonMethod(c.self, "exception", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.call(self, symNew, args, false, Nil)
	}); err != nil {
		panic(err)
	}
	vm.DefinePrivateMethod(c, "initialize", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		vm.excOf(self).message = optArg(args, 0, Nil)
		return Nil, nil
	})
	vm.DefineMethod(c, "exception", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		if len(args) == 0 || args[0] == self {
			return self, nil
		}
		cp := vm.dup(self)
		x := vm.excOf(cp)
		x.message = args[0]
		x.backtrace = nil
		return cp, nil
	})
	vm.DefineMethod(c, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		msg := vm.excOf(self).message
		if msg == Nil {
			return vm.NewString(vm.ClassOf(self).Name()), nil
		}
		if _, ok := vm.StringOf(msg); ok {
			return msg, nil
		}
		return e.call(msg, symToS, nil, false, Nil)
	})
	vm.DefineMethod(c, "message", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.call(self, symToS, nil, false, Nil)
	})
	vm.DefineMethod(c, "detailed_message", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		msg, err := e.toS(self)
		if err != nil {
			return Nil, err
		}
		return vm.NewString(fmt.Sprintf("%s (%s)", msg, vm.ClassOf(self).Name())), nil
	})
	vm.DefineMethod(c, "full_message", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		msg, err := e.toS(self)
		if err != nil {
			return Nil, err
		}
		var b strings.Builder
		bt := vm.excOf(self).backtrace
		if len(bt) > 0 {
			b.WriteString(bt[0])
			b.WriteString(": ")
		}
		fmt.Fprintf(&b, "%s (%s)", msg, vm.ClassOf(self).Name())
		for _, line := range bt[min(1, len(bt)):] {
			b.WriteString("\n\tfrom ")
			b.WriteString(line)
		}
		return vm.NewString(b.String()), nil
	})
	vm.DefineMethod(c, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		name := vm.ClassOf(self).Name()
		msg, err := e.toS(self)
		if err != nil {
			return Nil, err
		}
		switch msg {
		case "":
			return vm.NewString(name), nil
		case name:
			return vm.NewString(name), nil
		}
		return vm.NewString(fmt.Sprintf("#<%s: %s>", name, msg)), nil
	})
	vm.DefineMethod(c, "backtrace", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		bt := vm.excOf(self).backtrace
		if bt == nil {
			return Nil, nil
		}
		lines := make([]Value, len(bt))
		for i, l := range bt {
			lines[i] = vm.NewString(l)
		}
		return vm.newArrayNoCopy(lines), nil
	})
	vm.DefineMethod(c, "set_backtrace", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		x := vm.excOf(self)
		switch {
		case args[0] == Nil:
			x.backtrace = nil
		default:
			if s, ok := vm.StringOf(args[0]); ok {
				x.backtrace = []string{s}
				break
			}
			elems, ok := vm.ArrayOf(args[0])
			if !ok {
				return Nil, vm.newError(vm.eTypeError, "backtrace must be an Array of String")
			}
			x.backtrace = make([]string, 0, len(elems))
			for _, el := range elems {
				s, ok := vm.StringOf(el)
				if !ok {
					return Nil, vm.newError(vm.eTypeError, "backtrace must be an Array of String")
				}
				x.backtrace = append(x.backtrace, s)
			}
		}
		return args[0], nil
	})
	vm.DefineMethod(c, "cause", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.excOf(self).cause, nil
	})
	vm.DefineMethod(c, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if self == args[0] {
			return True, nil
		}
		if vm.ClassOf(self) != vm.ClassOf(args[0]) {
			return False, nil
		}
		a, err := e.call(self, symMessage, nil, false, Nil)
		if err != nil {
			return Nil, err
		}
		b, err := e.call(args[0], symMessage, nil, false, Nil)
		if err != nil {
			return Nil, err
		}
		same, err := e.valuesEqual(a, b)
		return Bool(same), err
	})

	// Subclass payloads live in instance variables.
	reader := func(cls *Module, name string) {
		ivar := Intern("@" + name)
		vm.DefineMethod(cls, name, 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return vm.getIvar(self, ivar), nil
		})
	}
	reader(vm.eStopIteration, "result")
	reader(vm.eNameError, "name")
	reader(vm.eNameError, "receiver")
	reader(vm.eKeyError, "key")
	reader(vm.eKeyError, "receiver")
	reader(vm.eFrozenError, "receiver")
}
