package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Call sites
// ---------------------------------------------------------------------------

// collectArgs normalizes the arguments of a call site in place. On entry
// the top of the stack holds argc values (the last one a keyword Hash when
// FlagKwargs is set, the last positional one an Array when FlagSplat is
// set) followed by the block operand when FlagBlockArg is set. On return
// the arguments occupy stack[base:base+n] and a converted block, if any,
// sits in the slot above them.
func (e *Engine) collectArgs(argc int, flags byte) (base, n int, kw bool, block Value, err error) {
	block = Nil
	hasBlock := flags&FlagBlockArg != 0
	kw = flags&FlagKwargs != 0
	n = argc
	base = e.sp - argc - b2i(hasBlock)

	if flags&FlagSplat != 0 {
		var blk, kwv Value
		if hasBlock {
			blk = e.pop()
		}
		if kw {
			kwv = e.pop()
		}
		elems := e.splatElems(e.pop())
		for _, x := range elems {
			e.push(x)
		}
		if kw {
			e.push(kwv)
		}
		if hasBlock {
			e.push(blk)
		}
		n = argc - 1 + len(elems)
	}

	if kw {
		if h, ok := e.vm.HashOf(e.stack[base+n-1]); ok && h.Len() == 0 {
			// **{} passes nothing
			copy(e.stack[base+n-1:], e.stack[base+n:e.sp])
			e.sp--
			n--
			kw = false
		}
	}

	if hasBlock {
		block, err = e.toBlock(e.stack[e.sp-1])
		if err != nil {
			return
		}
		e.stack[e.sp-1] = block
	}
	return
}

func (e *Engine) splatElems(v Value) []Value {
	if v == Nil {
		return nil
	}
	if arr, ok := e.vm.ArrayOf(v); ok {
		return arr
	}
	return []Value{v}
}

// callSite executes a SEND. The receiver and arguments stay on the stack
// until the call returns so they remain rooted.
func (e *Engine) callSite(ctx *Context, name Symbol, argc int, flags byte, blkIdx int, cache *CallCache) (Value, error) {
	if blkIdx != NoBlock {
		e.push(e.vm.newProcValue(e.newBlock(ctx, ctx.ISeq.Children[blkIdx])))
		flags |= FlagBlockArg
	}
	base, n, kw, block, err := e.collectArgs(argc, flags)
	if err != nil {
		return Nil, err
	}
	recv := e.stack[base-1]
	v, err := e.dispatch(ctx, recv, name, e.stack[base:base+n], kw, block, flags&FlagFcall != 0, cache)
	e.sp = base - 1
	return e.catchBreak(ctx, v, err)
}

// catchBreak ends a break aimed at a call site in ctx.
func (e *Engine) catchBreak(ctx *Context, v Value, err error) (Value, error) {
	if err == nil {
		return v, nil
	}
	var js *jumpSignal
	if errors.As(err, &js) && js.kind == jumpBreak && js.proc.Outer == ctx {
		return js.value, nil
	}
	return v, err
}

// superSite executes a SEND_SUPER: the method of the same name found after
// the current method's owner in the receiver's ancestry. Without an
// explicit block the current block is passed along.
func (e *Engine) superSite(ctx *Context, argc int, flags byte, blkIdx int) (Value, error) {
	vm := e.vm
	explicit := blkIdx != NoBlock || flags&FlagBlockArg != 0
	if blkIdx != NoBlock {
		e.push(vm.newProcValue(e.newBlock(ctx, ctx.ISeq.Children[blkIdx])))
		flags |= FlagBlockArg
	}
	base, n, kw, block, err := e.collectArgs(argc, flags)
	if err != nil {
		return Nil, err
	}
	defer func() { e.sp = base }()

	mi := ctx.Method
	if mi == nil {
		return Nil, vm.newError(vm.eRuntimeError, "super called outside of method")
	}
	if !explicit {
		block = ctx.methodContext().Block
	}
	sm := vm.classOf(ctx.Self).findSuperMethod(mi.Owner, mi.Name)
	if sm == nil {
		return Nil, vm.newNoMethodError(mi.Name, ctx.Self, false)
	}
	v, err := e.invoke(sm, ctx.Self, e.stack[base:base+n], kw, block)
	return e.catchBreak(ctx, v, err)
}

// yieldSite executes a YIELD to the block of the enclosing method.
func (e *Engine) yieldSite(ctx *Context, argc int, flags byte) (Value, error) {
	vm := e.vm
	blk := ctx.methodContext().Block
	base, n, kw, block, err := e.collectArgs(argc, flags)
	if err != nil {
		return Nil, err
	}
	defer func() { e.sp = base }()
	if blk == Nil {
		return Nil, vm.newError(vm.eLocalJumpError, "no block given (yield)")
	}
	return e.invokeBlock(blk, e.stack[base:base+n], kw, block)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// findMethod resolves name for recv through the call site cache.
func (e *Engine) findMethod(recv Value, name Symbol, cache *CallCache) *MethodInfo {
	cls := e.vm.classOf(recv)
	gen := e.vm.generation
	if cache != nil {
		if mi := cache.Lookup(cls, gen); mi != nil {
			return mi
		}
	}
	mi := cls.FindMethod(name)
	if cache != nil {
		cache.Update(cls, gen, mi)
	}
	return mi
}

// dispatch sends name to recv. ctx is the calling activation, used for
// protected checks; fcall marks a receiverless call, which may reach
// private methods.
func (e *Engine) dispatch(ctx *Context, recv Value, name Symbol, args []Value, kw bool, block Value, fcall bool, cache *CallCache) (Value, error) {
	vm := e.vm
	mi := e.findMethod(recv, name, cache)
	if mi == nil {
		return e.methodMissing(recv, name, args, kw, block, fcall, false)
	}
	switch mi.Visibility {
	case Private:
		if !fcall {
			return e.methodMissing(recv, name, args, kw, block, fcall, true)
		}
	case Protected:
		if !fcall && (ctx == nil || !vm.IsA(ctx.Self, mi.Owner.realClass())) {
			return Nil, vm.newError(vm.eNoMethodError, "protected method '%s' called for %s", name, vm.describeReceiver(recv))
		}
	}
	return e.invoke(mi, recv, args, kw, block)
}

// methodMissing forwards an unresolved send to method_missing, or raises
// NameError/NoMethodError when only the default handler exists.
func (e *Engine) methodMissing(recv Value, name Symbol, args []Value, kw bool, block Value, fcall, private bool) (Value, error) {
	vm := e.vm
	mm := vm.classOf(recv).FindMethod(symMethodMissing)
	if mm != nil && mm.Owner != vm.cBasicObject {
		margs := make([]Value, 0, len(args)+1)
		margs = append(margs, SymbolValue(name))
		margs = append(margs, args...)
		return e.invoke(mm, recv, margs, kw, block)
	}
	if fcall && len(args) == 0 && block == Nil && !private {
		return Nil, vm.newNameError(name, "undefined local variable or method '%s' for %s", name, vm.describeReceiver(recv))
	}
	return Nil, vm.newNoMethodError(name, recv, private)
}

// invoke runs a resolved method.
func (e *Engine) invoke(mi *MethodInfo, recv Value, args []Value, kw bool, block Value) (Value, error) {
	vm := e.vm
	switch mi.Kind {
	case MethodISeq:
		vm.safePoint(e)
		ctx := newContext(mi.ISeq, recv, nil)
		ctx.Block = block
		ctx.Method = mi
		ctx.Cref = mi.Cref
		if err := e.bindArgs(ctx, args, kw, block, true); err != nil {
			return Nil, err
		}
		return e.execute(ctx)

	case MethodBuiltin:
		return e.callBuiltin(mi, recv, args, kw, block)

	case MethodAttrReader:
		if len(args) != 0 {
			return Nil, vm.argumentError(len(args), "0")
		}
		return vm.getIvar(recv, mi.Ivar), nil

	case MethodAttrWriter:
		if len(args) != 1 {
			return Nil, vm.argumentError(len(args), "1")
		}
		return args[0], vm.setIvar(recv, mi.Ivar, args[0])

	case MethodProc:
		p := vm.procOf(mi.Proc)
		if p == nil {
			return Nil, fatal(FatalInternal, "method %s has no body", mi.Name)
		}
		return e.callProc(p, recv, args, kw, block, mi)
	}
	return Nil, vm.newNoMethodError(mi.Name, recv, false)
}

func (e *Engine) callBuiltin(mi *MethodInfo, recv Value, args []Value, kw bool, block Value) (Value, error) {
	if mi.Arity >= 0 && len(args) != mi.Arity {
		return Nil, e.vm.argumentError(len(args), strconv.Itoa(mi.Arity))
	}
	mark := len(e.handles)
	e.kwPassed = kw
	e.nativeDepth++
	v, err := mi.Fn(e, recv, args, block)
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

// wrapHostError passes engine errors through and turns any other Go error
// returned by a builtin into a RuntimeError.
func (vm *VM) wrapHostError(err error) error {
	var re *RaiseError
	var fe *FatalError
	var js *jumpSignal
	if errors.As(err, &re) || errors.As(err, &fe) || errors.As(err, &js) {
		return err
	}
	return vm.newError(vm.eRuntimeError, "%v", err)
}

// ---------------------------------------------------------------------------
// Argument binding
// ---------------------------------------------------------------------------

// bindArgs assigns args to ctx's parameter slots and selects the entry
// point for the supplied optional count. Methods and lambdas bind strictly;
// blocks pad missing arguments with nil, drop extras and spread a lone
// Array over several parameters.
func (e *Engine) bindArgs(ctx *Context, args []Value, kw bool, block Value, strict bool) error {
	vm := e.vm
	p := &ctx.ISeq.Params
	pos := args
	kwHash := Nil
	if kw && p.hasKeywords() {
		kwHash = args[len(args)-1]
		pos = args[:len(args)-1]
	}
	if !strict && len(pos) == 1 && p.autoSplat() {
		if arr, ok := vm.ArrayOf(pos[0]); ok {
			pos = arr
		}
	}

	n := len(pos)
	req := p.Required + p.Post
	if strict {
		if n < req || (!p.Rest && n > req+p.Optional) {
			return vm.argumentError(n, p.expected())
		}
	} else {
		if n < req {
			padded := make([]Value, req)
			copy(padded, pos)
			pos = padded
			n = req
		}
		if !p.Rest && n > req+p.Optional {
			n = req + p.Optional
			pos = pos[:n]
		}
	}

	for i := 0; i < p.Required; i++ {
		ctx.SetLocal(i, pos[i])
	}
	nopt := min(p.Optional, n-req)
	for i := 0; i < nopt; i++ {
		ctx.SetLocal(p.Required+i, pos[p.Required+i])
	}
	if p.Rest {
		start := p.Required + nopt
		ctx.SetLocal(p.restSlot(), vm.NewArray(pos[start:n-p.Post]...))
	}
	for i := 0; i < p.Post; i++ {
		ctx.SetLocal(p.postStart()+i, pos[n-p.Post+i])
	}
	if p.Optional > 0 {
		ctx.pc = p.OptEntries[nopt]
	}
	if p.hasKeywords() {
		if err := e.bindKeywords(ctx, p, kwHash); err != nil {
			return err
		}
	}
	if p.Block {
		ctx.SetLocal(p.blockSlot(), block)
	}
	return nil
}

// bindKeywords fills keyword slots from kwHash. Absent optional keywords
// are left undefined so their default code runs.
func (e *Engine) bindKeywords(ctx *Context, p *ParamDesc, kwHash Value) error {
	vm := e.vm
	h, _ := vm.HashOf(kwHash)
	used := 0
	var missing []string
	for i, k := range p.Keywords {
		slot := p.kwStart() + i
		if h != nil {
			if v, ok := vm.HashGet(h, SymbolValue(k.Name)); ok {
				ctx.SetLocal(slot, v)
				used++
				continue
			}
		}
		if k.Required {
			missing = append(missing, ":"+k.Name.String())
			continue
		}
		ctx.SetLocal(slot, Undef)
	}
	if len(missing) > 0 {
		word := "keyword"
		if len(missing) > 1 {
			word = "keywords"
		}
		return vm.newError(vm.eArgumentError, "missing %s: %s", word, strings.Join(missing, ", "))
	}

	declared := func(k Value) bool {
		if !k.IsSymbol() {
			return false
		}
		for _, kp := range p.Keywords {
			if kp.Name == k.Symbol() {
				return true
			}
		}
		return false
	}
	if p.KwRest {
		rest := newHash()
		if h != nil {
			h.Each(func(k, v Value) bool {
				if !declared(k) {
					vm.HashSet(rest, k, v)
				}
				return true
			})
		}
		ctx.SetLocal(p.kwRestSlot(), vm.alloc(&RObject{kind: ObjHash, class: vm.cHash, data: rest}))
		return nil
	}
	if h != nil && used < h.Len() {
		var unknown []string
		h.Each(func(k, _ Value) bool {
			if !declared(k) {
				unknown = append(unknown, vm.Inspect(k))
			}
			return true
		})
		word := "keyword"
		if len(unknown) > 1 {
			word = "keywords"
		}
		return vm.newError(vm.eArgumentError, "unknown %s: %s", word, strings.Join(unknown, ", "))
	}
	return nil
}

// expected formats the accepted positional count for ArgumentError.
func (p *ParamDesc) expected() string {
	req := p.Required + p.Post
	switch {
	case p.Rest:
		return fmt.Sprintf("%d+", req)
	case p.Optional > 0:
		return fmt.Sprintf("%d..%d", req, req+p.Optional)
	}
	return strconv.Itoa(req)
}

// ---------------------------------------------------------------------------
// Go-facing sends
// ---------------------------------------------------------------------------

// Send calls a method by name, ignoring visibility. From inside a builtin
// the result stays rooted until the builtin returns.
func (e *Engine) Send(recv Value, name string, args ...Value) (Value, error) {
	return e.SendWithBlock(recv, Intern(name), args, Nil)
}

// SendWithBlock calls a method with a block.
func (e *Engine) SendWithBlock(recv Value, name Symbol, args []Value, blk Value) (Value, error) {
	return e.call(recv, name, args, false, blk)
}

// call sends from a builtin, forwarding a keyword Hash when kw is set,
// and roots the result.
func (e *Engine) call(recv Value, name Symbol, args []Value, kw bool, blk Value) (Value, error) {
	v, err := e.dispatch(e.currentFrame(), recv, name, args, kw, blk, true, nil)
	if err == nil && e.nativeDepth > 0 {
		e.Keep(v)
	}
	return v, err
}

// KeywordsGiven reports whether the innermost builtin was called with a
// trailing keyword Hash. It must be read before the builtin makes calls
// of its own.
func (e *Engine) KeywordsGiven() bool { return e.kwPassed }

// RespondTo reports whether recv has a public method name.
func (e *Engine) RespondTo(recv Value, name Symbol, includePrivate bool) bool {
	mi := e.vm.classOf(recv).FindMethod(name)
	return mi != nil && (includePrivate || mi.Visibility != Private)
}
