package vm

// ---------------------------------------------------------------------------
// Enumerator: external iteration driven by a fiber
// ---------------------------------------------------------------------------

// Enumerator is the payload of an Enumerator object. The first call to
// next starts a fiber that runs recv.meth(*args) with a block yielding
// each element back out.
type Enumerator struct {
	recv Value
	meth Symbol
	args []Value

	fiber   Value // Fiber object, or nil before the first next
	peeked  Value
	hasPeek bool
	done    bool
	result  Value // return value of the iteration once exhausted
}

// NewEnumerator creates an Enumerator over recv.meth(*args).
func (vm *VM) NewEnumerator(recv Value, meth Symbol, args []Value) Value {
	en := &Enumerator{recv: recv, meth: meth, args: append([]Value(nil), args...), fiber: Nil, peeked: Nil, result: Nil}
	return vm.alloc(&RObject{kind: ObjEnumerator, class: vm.cEnumerator, data: en})
}

func (vm *VM) enumeratorOf(v Value) *Enumerator {
	if !vm.isKind(v, ObjEnumerator) {
		return nil
	}
	return vm.heap.get(v).enumerator()
}

// Next returns the next element, raising StopIteration once the
// underlying iteration has finished.
func (en *Enumerator) Next(e *Engine) (Value, error) {
	vm := e.vm
	if en.hasPeek {
		v := en.peeked
		en.peeked, en.hasPeek = Nil, false
		return v, nil
	}
	if en.done {
		return Nil, en.stopIteration(vm)
	}
	if en.fiber == Nil {
		f, err := vm.NewFiber(vm.NewNativeProc(-1, false, en.drive))
		if err != nil {
			return Nil, err
		}
		en.fiber = f
	}
	f := vm.fiberOf(en.fiber)
	v, err := f.Resume(e, nil)
	if err != nil {
		en.done = true
		return Nil, err
	}
	if !f.Alive() {
		en.done = true
		en.result = v
		return Nil, en.stopIteration(vm)
	}
	return v, nil
}

// drive runs inside the enumerator's fiber.
func (en *Enumerator) drive(e *Engine, _ []Value, _ Value) (Value, error) {
	yielder := e.vm.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		return e.FiberYield(args)
	})
	return e.dispatch(nil, en.recv, en.meth, en.args, false, yielder, true, nil)
}

func (en *Enumerator) stopIteration(vm *VM) error {
	exc := vm.makeException(vm.eStopIteration, "iteration reached an end")
	vm.heap.get(exc).SetIvar(Intern("@result"), en.result)
	return vm.raiseValue(exc)
}

// Peek returns the next element without consuming it.
func (en *Enumerator) Peek(e *Engine) (Value, error) {
	if en.hasPeek {
		return en.peeked, nil
	}
	v, err := en.Next(e)
	if err != nil {
		return Nil, err
	}
	en.peeked, en.hasPeek = v, true
	return v, nil
}

// Rewind discards iteration state; the next call to Next starts over.
func (en *Enumerator) Rewind(e *Engine) {
	if f := e.vm.fiberOf(en.fiber); f != nil {
		f.terminate(e)
	}
	en.fiber = Nil
	en.peeked, en.hasPeek = Nil, false
	en.done = false
	en.result = Nil
}

// Each runs the underlying iteration with blk.
func (en *Enumerator) Each(e *Engine, blk Value) (Value, error) {
	return e.dispatch(nil, en.recv, en.meth, en.args, false, blk, true, nil)
}
