package vm

import (
	"errors"
	"strconv"
)

// ---------------------------------------------------------------------------
// Proc: closures over a defining context
// ---------------------------------------------------------------------------

// NativeBlock is the body of a proc implemented in Go, such as the proc
// produced by Symbol#to_proc.
type NativeBlock func(e *Engine, args []Value, blk Value) (Value, error)

// Proc is a block body bound to the context it was created in. Outer
// keeps that context alive for as long as the proc is reachable.
type Proc struct {
	ISeq   *ISeq
	Outer  *Context
	Self   Value
	Lambda bool

	Native NativeBlock
	arity  int // Native only

	// bound keeps values captured by a native body reachable, such as
	// the Method object behind Method#to_proc.
	bound Value
}

// Arity reports the proc's arity in the language's convention.
func (p *Proc) Arity() int {
	if p.Native != nil {
		return p.arity
	}
	a := p.ISeq.Params.arity()
	if !p.Lambda && a >= 0 && p.ISeq.Params.Required+p.ISeq.Params.Post == 0 && p.ISeq.Params.Optional > 0 {
		return -1
	}
	return a
}

// newBlock closes iseq over ctx.
func (e *Engine) newBlock(ctx *Context, iseq *ISeq) *Proc {
	return &Proc{ISeq: iseq, Outer: ctx, Self: ctx.Self}
}

// NewNativeProc wraps fn as a Proc value.
func (vm *VM) NewNativeProc(arity int, lambda bool, fn NativeBlock) Value {
	return vm.newProcValue(&Proc{Native: fn, arity: arity, Lambda: lambda, Self: Nil, bound: Nil})
}

// symbolProc returns the proc for &:name, which sends name to its first
// argument.
func (vm *VM) symbolProc(name Symbol) Value {
	return vm.NewNativeProc(-2, true, func(e *Engine, args []Value, blk Value) (Value, error) {
		if len(args) == 0 {
			return Nil, vm.newError(vm.eArgumentError, "no receiver given")
		}
		return e.dispatch(nil, args[0], name, args[1:], false, blk, false, nil)
	})
}

// autoSplat reports whether a lone Array argument is spread across the
// block's parameters.
func (p *ParamDesc) autoSplat() bool {
	lead := p.Required + p.Optional + p.Post
	return lead > 1 || (lead > 0 && p.Rest)
}

// callProc runs p with self bound to self. mi is set when the proc is the
// body of a method created by define_method; such procs bind strictly and
// return from themselves.
func (e *Engine) callProc(p *Proc, self Value, args []Value, kw bool, block Value, mi *MethodInfo) (Value, error) {
	return e.runProc(p, self, args, kw, block, mi, nil)
}

// runProc is callProc with an optional lexical scope replacing the
// proc's own, as used by class_eval and instance_exec.
func (e *Engine) runProc(p *Proc, self Value, args []Value, kw bool, block Value, mi *MethodInfo, cref *Cref) (Value, error) {
	if p.Native != nil {
		return e.callNative(p, args, block)
	}
	e.vm.safePoint(e)
	ctx := newContext(p.ISeq, self, p.Outer)
	ctx.proc = p
	ctx.lambda = p.Lambda || mi != nil
	ctx.Method = p.Outer.Method
	ctx.Cref = p.Outer.Cref
	if cref != nil {
		ctx.Cref = cref
	}
	if mi != nil {
		ctx.Method = mi
	}
	if err := e.bindArgs(ctx, args, kw, block, ctx.lambda); err != nil {
		return Nil, err
	}
	v, err := e.execute(ctx)
	if err != nil && ctx.lambda {
		var js *jumpSignal
		if errors.As(err, &js) && js.kind == jumpBreak && js.proc == p {
			return js.value, nil
		}
	}
	return v, err
}

func (e *Engine) callNative(p *Proc, args []Value, block Value) (Value, error) {
	if p.Lambda && p.arity >= 0 && len(args) != p.arity {
		return Nil, e.vm.argumentError(len(args), strconv.Itoa(p.arity))
	}
	mark := len(e.handles)
	e.nativeDepth++
	v, err := p.Native(e, args, block)
	e.nativeDepth--
	e.handles = e.handles[:mark]
	if err != nil {
		return Nil, e.vm.wrapHostError(err)
	}
	if e.nativeDepth > 0 {
		e.Keep(v)
	}
	return v, nil
}

// invokeBlock calls a block value with args.
func (e *Engine) invokeBlock(blk Value, args []Value, kw bool, block Value) (Value, error) {
	p := e.vm.procOf(blk)
	if p == nil {
		return Nil, e.vm.newError(e.vm.eTypeError, "wrong argument type %s (expected Proc)", e.vm.typeName(blk))
	}
	return e.callProc(p, p.Self, args, kw, block, nil)
}

// CallBlock invokes a block or proc value from Go. The result stays
// rooted until the calling builtin returns.
func (e *Engine) CallBlock(blk Value, args ...Value) (Value, error) {
	v, err := e.invokeBlock(blk, args, false, Nil)
	if err == nil && e.nativeDepth > 0 {
		e.Keep(v)
	}
	return v, err
}

// BlockGiven reports whether blk holds a callable block.
func (e *Engine) BlockGiven(blk Value) bool {
	return blk != Nil && e.vm.procOf(blk) != nil
}

// toBlock converts the operand of a &arg into a Proc value: procs pass
// through, symbols and Method objects have their own conversions, and
// anything else must answer to_proc.
func (e *Engine) toBlock(v Value) (Value, error) {
	vm := e.vm
	if v == Nil || vm.isKind(v, ObjProc) {
		return v, nil
	}
	if v.IsSymbol() {
		return vm.symbolProc(v.Symbol()), nil
	}
	if vm.isKind(v, ObjMethod) {
		return vm.methodProc(v), nil
	}
	if vm.classOf(v).FindMethod(symToProc) == nil {
		return Nil, vm.newError(vm.eTypeError, "wrong argument type %s (expected Proc)", vm.typeName(v))
	}
	p, err := e.dispatch(nil, v, symToProc, nil, false, Nil, true, nil)
	if err != nil {
		return Nil, err
	}
	if !vm.isKind(p, ObjProc) {
		return Nil, vm.newError(vm.eTypeError, "can't convert %s to Proc", vm.typeName(v))
	}
	return p, nil
}

// methodProc wraps a Method object as a lambda.
func (vm *VM) methodProc(m Value) Value {
	mo := vm.heap.get(m).method()
	v := vm.NewNativeProc(mo.Info.arity(vm), true, func(e *Engine, args []Value, blk Value) (Value, error) {
		return e.invoke(mo.Info, mo.Recv, args, false, blk)
	})
	vm.heap.get(v).proc().bound = m
	return v
}
