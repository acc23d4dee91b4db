package vm

import (
	"errors"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Fibers: coroutines on goroutines
// ---------------------------------------------------------------------------
//
// Each fiber runs its body on its own goroutine and its own Engine. Control
// moves between the resumer and the fiber over two unbuffered channels, so
// exactly one of them runs at any moment and the handoff orders all memory
// accesses. vm.current always names the engine holding control.

// FiberState is the lifecycle state of a fiber.
type FiberState uint8

const (
	FiberCreated FiberState = iota
	FiberResumed
	FiberSuspended
	FiberDead
)

func (s FiberState) String() string {
	switch s {
	case FiberCreated:
		return "created"
	case FiberResumed:
		return "resumed"
	case FiberSuspended:
		return "suspended"
	}
	return "terminated"
}

type fiberMsg struct {
	value     Value
	err       error
	done      bool // fiber body finished
	terminate bool // resumer asks the fiber to unwind
}

// Fiber is the payload of a Fiber object.
type Fiber struct {
	id     uuid.UUID
	vm     *VM
	engine *Engine
	self   Value
	body   Value // Proc
	state  FiberState

	resumeCh chan fiberMsg // resumer -> fiber
	yieldCh  chan fiberMsg // fiber -> resumer
	resumer  *Engine

	// transfer holds the value in flight between the two sides.
	transfer Value
}

// ID returns the fiber's unique identifier.
func (f *Fiber) ID() uuid.UUID { return f.id }

// State returns the lifecycle state.
func (f *Fiber) State() FiberState { return f.state }

// NewFiber creates a suspended fiber that will run body on first resume.
func (vm *VM) NewFiber(body Value) (Value, error) {
	if vm.procOf(body) == nil {
		return Nil, vm.newError(vm.eArgumentError, "tried to create Proc object without a block")
	}
	f := &Fiber{
		id:       uuid.New(),
		vm:       vm,
		body:     body,
		resumeCh: make(chan fiberMsg),
		yieldCh:  make(chan fiberMsg),
		transfer: Nil,
	}
	f.engine = newEngine(vm, f)
	f.self = vm.alloc(&RObject{kind: ObjFiber, class: vm.cFiber, data: f})
	vm.fibers[f] = f.self
	fiberLog.Debugf("fiber %s created", f.id)
	return f.self, nil
}

func (vm *VM) fiberOf(v Value) *Fiber {
	if !vm.isKind(v, ObjFiber) {
		return nil
	}
	return vm.heap.get(v).fiber()
}

// Resume transfers control into f, passing args, and returns the value
// the fiber next yields or finishes with.
func (f *Fiber) Resume(e *Engine, args []Value) (Value, error) {
	vm := f.vm
	switch {
	case f.state == FiberDead:
		return Nil, vm.newError(vm.eFiberError, "attempt to resume a terminated fiber")
	case f.state == FiberResumed || e.fiber == f:
		return Nil, vm.newError(vm.eFiberError, "attempt to resume the current fiber")
	}

	first := f.state == FiberCreated
	f.resumer = e
	f.state = FiberResumed
	vm.current = f.engine
	fiberLog.Debugf("fiber %s resumed", f.id)

	if first {
		go f.run(args)
	} else {
		f.transfer = packYield(vm, args)
		f.resumeCh <- fiberMsg{value: f.transfer}
	}
	return f.await(e)
}

// await blocks the resumer until the fiber yields or finishes.
func (f *Fiber) await(e *Engine) (Value, error) {
	msg := <-f.yieldCh
	f.vm.current = e
	f.transfer = Nil
	if msg.done {
		f.finish()
	} else {
		f.state = FiberSuspended
		fiberLog.Debugf("fiber %s suspended", f.id)
	}
	return msg.value, msg.err
}

func (f *Fiber) finish() {
	f.state = FiberDead
	delete(f.vm.engines, f.engine)
	delete(f.vm.fibers, f)
	fiberLog.Debugf("fiber %s terminated", f.id)
}

// run is the fiber goroutine.
func (f *Fiber) run(args []Value) {
	e := f.engine
	var v Value
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				v, err = Nil, recoverFatal(r)
			}
		}()
		v, err = e.invokeBlock(f.body, args, false, Nil)
	}()
	var js *jumpSignal
	if errors.As(err, &js) {
		if js.kind == jumpTerminate {
			err = nil
		} else {
			err = fatal(FatalLocalJump, "%s", js.Error())
		}
	}
	f.yieldCh <- fiberMsg{value: v, err: err, done: true}
}

// FiberYield suspends the fiber running on e and hands values to its resumer.
// It returns the values passed to the next resume.
func (e *Engine) FiberYield(values []Value) (Value, error) {
	vm := e.vm
	f := e.fiber
	if f == nil {
		return Nil, vm.newError(vm.eFiberError, "can't yield from root fiber")
	}
	f.transfer = packYield(vm, values)
	f.yieldCh <- fiberMsg{value: f.transfer}
	msg := <-f.resumeCh
	if msg.terminate {
		return Nil, &jumpSignal{kind: jumpTerminate, value: Nil}
	}
	return msg.value, nil
}

// packYield folds resume/yield arguments into one value.
func packYield(vm *VM, values []Value) Value {
	switch len(values) {
	case 0:
		return Nil
	case 1:
		return values[0]
	}
	return vm.NewArray(values...)
}

// terminate unwinds a suspended fiber, running its ensure clauses.
func (f *Fiber) terminate(e *Engine) {
	switch f.state {
	case FiberCreated:
		f.finish()
		return
	case FiberSuspended:
	default:
		return
	}
	vm := f.vm
	for f.state != FiberDead {
		f.resumer = e
		f.state = FiberResumed
		vm.current = f.engine
		f.resumeCh <- fiberMsg{terminate: true}
		if _, err := f.await(e); err != nil {
			fiberLog.Warningf("fiber %s raised while terminating: %s", f.id, err)
		}
	}
}

// Alive reports whether the fiber can still be resumed.
func (f *Fiber) Alive() bool { return f.state != FiberDead }
