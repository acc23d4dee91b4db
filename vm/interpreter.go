package vm

import (
	"encoding/binary"
	"errors"
	"math"
)

// ---------------------------------------------------------------------------
// Engine: operand stack and frame stack of one thread of execution
// ---------------------------------------------------------------------------

// Engine executes bytecode. The main program and every fiber own one
// engine; only the engine holding the VM's running token executes at a
// time.
type Engine struct {
	vm     *VM
	stack  []Value    // operand stack shared by all frames
	sp     int        // next free slot
	base   int        // stack base of the innermost frame
	frames []*Context // active activations, innermost last

	// handles roots values created by builtins until the builtin returns.
	handles     []Value
	nativeDepth int
	kwPassed    bool // keyword flag of the innermost builtin call

	fiber *Fiber // nil for the main engine
}

// maxBacktrace bounds the frames recorded in an exception backtrace.
const maxBacktrace = 256

func newEngine(vm *VM, fiber *Fiber) *Engine {
	e := &Engine{
		vm:     vm,
		stack:  make([]Value, vm.config.Engine.StackSize),
		frames: make([]*Context, 0, 64),
		fiber:  fiber,
	}
	vm.engines[e] = struct{}{}
	return e
}

// VM returns the owning virtual machine.
func (e *Engine) VM() *VM { return e.vm }

// Depth returns the number of active frames.
func (e *Engine) Depth() int { return len(e.frames) }

func (e *Engine) push(v Value) {
	if e.sp == len(e.stack) {
		grown := make([]Value, len(e.stack)*2+16)
		copy(grown, e.stack)
		e.stack = grown
	}
	e.stack[e.sp] = v
	e.sp++
}

func (e *Engine) pop() Value {
	if e.sp <= e.base {
		panic(fatal(FatalStackCorruption, "operand stack underflow"))
	}
	e.sp--
	return e.stack[e.sp]
}

func (e *Engine) top() Value {
	if e.sp <= e.base {
		panic(fatal(FatalStackCorruption, "operand stack underflow"))
	}
	return e.stack[e.sp-1]
}

// peek returns the value n slots below the top.
func (e *Engine) peek(n int) Value {
	if e.sp-1-n < e.base {
		panic(fatal(FatalStackCorruption, "operand stack underflow"))
	}
	return e.stack[e.sp-1-n]
}

// Keep roots v until the innermost builtin returns.
func (e *Engine) Keep(v Value) {
	if v.IsHeap() {
		e.handles = append(e.handles, v)
	}
}

// currentFrame returns the innermost bytecode activation, or nil.
func (e *Engine) currentFrame() *Context {
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

func (e *Engine) backtrace() []string {
	n := len(e.frames)
	lines := make([]string, 0, min(n, maxBacktrace))
	for i := n - 1; i >= 0 && len(lines) < maxBacktrace; i-- {
		lines = append(lines, e.frames[i].frameLabel())
	}
	return lines
}

// ---------------------------------------------------------------------------
// Frame entry and exit
// ---------------------------------------------------------------------------

// execute pushes ctx, runs it to completion and pops it. A method-level
// return aimed at ctx ends here as a normal return; panics inside the
// frame become fatal errors so ensure clauses still run.
func (e *Engine) execute(ctx *Context) (Value, error) {
	if len(e.frames) >= e.vm.maxDepth {
		return Nil, e.vm.newError(e.vm.eSystemStackError, "stack level too deep")
	}
	ctx.stackBase = e.sp
	ctx.active = true
	prevBase, prevNative := e.base, e.nativeDepth
	e.base = e.sp
	e.nativeDepth = 0
	e.frames = append(e.frames, ctx)

	defer func() {
		e.frames = e.frames[:len(e.frames)-1]
		ctx.active = false
		e.sp = ctx.stackBase
		e.base, e.nativeDepth = prevBase, prevNative
	}()

	result, err := e.runGuarded(ctx)
	if js, ok := err.(*jumpSignal); ok && js.kind == jumpReturn && js.target == ctx {
		return js.value, nil
	}
	return result, err
}

// runGuarded runs ctx until it returns. A panic becomes a fatal error that
// is offered to ctx's own ensure entries before it leaves the frame.
func (e *Engine) runGuarded(ctx *Context) (Value, error) {
	mark := len(e.handles)
	for {
		result, panicked, err := e.runRecovering(ctx)
		if !panicked {
			return result, err
		}
		e.nativeDepth = 0
		e.handles = e.handles[:mark]
		if !e.handle(ctx, err) {
			return Nil, err
		}
	}
}

func (e *Engine) runRecovering(ctx *Context) (result Value, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fe := recoverFatal(r)
			if fe.Location == "" {
				fe.Location = ctx.ISeq.Location(ctx.instPC)
			}
			result, panicked, err = Nil, true, fe
		}
	}()
	result, err = e.run(ctx)
	return result, false, err
}

// handle consults ctx's exception table for an entry covering the
// faulting instruction. Rescue entries only take language exceptions;
// ensure entries take every unwind and receive either the exception or
// a marker object carrying the pending unwind.
func (e *Engine) handle(ctx *Context, err error) bool {
	var re *RaiseError
	isRaise := errors.As(err, &re)
	pc := ctx.instPC
	for i := range ctx.ISeq.Catch {
		c := &ctx.ISeq.Catch[i]
		if pc < c.Start || pc >= c.End {
			continue
		}
		switch c.Kind {
		case CatchRescue:
			if !isRaise {
				continue
			}
			e.sp = ctx.stackBase + c.Depth
			e.push(re.Exception)
			e.vm.globals[symErrInfo] = re.Exception
		case CatchEnsure:
			e.sp = ctx.stackBase + c.Depth
			if isRaise {
				e.push(re.Exception)
			} else {
				e.push(e.vm.newSignal(err))
			}
		}
		ctx.pc = c.Handler
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

func le16(code []byte, pc int) int    { return int(binary.LittleEndian.Uint16(code[pc:])) }
func le32(code []byte, pc int) uint32 { return binary.LittleEndian.Uint32(code[pc:]) }

// run is the fetch-decode-execute loop for one frame.
func (e *Engine) run(ctx *Context) (Value, error) {
	vm := e.vm
	iseq := ctx.ISeq
	code := iseq.Code
	var err error

	for {
		if ctx.pc >= len(code) {
			return Nil, fatal(FatalInvalidOpcode, "%s: execution ran past the end of the code", iseq.Name)
		}
		ctx.instPC = ctx.pc
		op := Opcode(code[ctx.pc])
		ctx.pc++

		switch op {
		// --- Stack operations ---
		case OpNOP:

		case OpPOP:
			e.pop()

		case OpDUP:
			e.push(e.top())

		case OpSWAP:
			a := e.pop()
			b := e.pop()
			e.push(a)
			e.push(b)

		case OpTOPN:
			n := int(code[ctx.pc])
			ctx.pc++
			e.push(e.peek(n))

		// --- Push constants ---
		case OpPushNil:
			e.push(Nil)

		case OpPushTrue:
			e.push(True)

		case OpPushFalse:
			e.push(False)

		case OpPushSelf:
			e.push(ctx.Self)

		case OpPushInt:
			n := int32(le32(code, ctx.pc))
			ctx.pc += 4
			e.push(FromFixnum(int64(n)))

		case OpPushLit:
			idx := le16(code, ctx.pc)
			ctx.pc += 2
			if idx >= len(iseq.Literals) {
				err = fatal(FatalInvalidOpcode, "literal index %d out of bounds (len=%d)", idx, len(iseq.Literals))
				break
			}
			e.push(iseq.Literals[idx])

		case OpPushFloat:
			bits := binary.LittleEndian.Uint64(code[ctx.pc:])
			ctx.pc += 8
			e.push(vm.Float(math.Float64frombits(bits)))

		case OpPushSym:
			e.push(SymbolValue(Symbol(le32(code, ctx.pc))))
			ctx.pc += 4

		case OpPushString:
			idx := le16(code, ctx.pc)
			ctx.pc += 2
			e.push(vm.NewString(iseq.Strings[idx]))

		// --- Variables ---
		case OpGetLocal, OpSetLocal, OpCheckLocal:
			slot := le16(code, ctx.pc)
			c := ctx.outerN(int(code[ctx.pc+2]))
			ctx.pc += 3
			if c == nil || slot >= c.numLocals() {
				err = fatal(FatalStackCorruption, "%s: local %d out of range", op, slot)
				break
			}
			switch op {
			case OpGetLocal:
				e.push(c.Local(slot))
			case OpSetLocal:
				c.SetLocal(slot, e.pop())
			default:
				e.push(Bool(c.Local(slot) != Undef))
			}

		case OpGetIvar:
			e.push(vm.getIvar(ctx.Self, Symbol(le32(code, ctx.pc))))
			ctx.pc += 4

		case OpSetIvar:
			name := Symbol(le32(code, ctx.pc))
			ctx.pc += 4
			err = vm.setIvar(ctx.Self, name, e.pop())

		case OpGetGvar:
			e.push(vm.globals[Symbol(le32(code, ctx.pc))])
			ctx.pc += 4

		case OpSetGvar:
			vm.globals[Symbol(le32(code, ctx.pc))] = e.pop()
			ctx.pc += 4

		// --- Constants ---
		case OpGetConst:
			name := Symbol(le32(code, ctx.pc))
			cache := le16(code, ctx.pc+4)
			ctx.pc += 6
			var v Value
			if v, err = e.getConst(ctx, name, &iseq.constCaches[cache]); err == nil {
				e.push(v)
			}

		case OpGetConstTop:
			name := Symbol(le32(code, ctx.pc))
			ctx.pc += 4
			var v Value
			if v, err = e.topConst(name); err == nil {
				e.push(v)
			}

		case OpGetScope:
			name := Symbol(le32(code, ctx.pc))
			ctx.pc += 4
			var v Value
			if v, err = e.scopedConst(e.top(), name); err == nil {
				e.stack[e.sp-1] = v
			}

		case OpSetConst:
			name := Symbol(le32(code, ctx.pc))
			ctx.pc += 4
			ctx.Cref.Module.SetConst(name, e.pop())

		// --- Sends ---
		case OpSend:
			name := Symbol(le32(code, ctx.pc))
			argc := int(code[ctx.pc+4])
			flags := code[ctx.pc+5]
			blk := le16(code, ctx.pc+6)
			cache := le16(code, ctx.pc+8)
			ctx.pc += 10
			var v Value
			if v, err = e.callSite(ctx, name, argc, flags, blk, &iseq.callCaches[cache]); err == nil {
				e.push(v)
			}

		case OpSendSuper:
			argc := int(code[ctx.pc])
			flags := code[ctx.pc+1]
			blk := le16(code, ctx.pc+2)
			ctx.pc += 4
			var v Value
			if v, err = e.superSite(ctx, argc, flags, blk); err == nil {
				e.push(v)
			}

		case OpYield:
			argc := int(code[ctx.pc])
			flags := code[ctx.pc+1]
			ctx.pc += 2
			var v Value
			if v, err = e.yieldSite(ctx, argc, flags); err == nil {
				e.push(v)
			}

		// --- Arithmetic ---
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpCmp:
			cache := le16(code, ctx.pc)
			ctx.pc += 2
			var v Value
			if v, err = e.arith(ctx, op, &iseq.callCaches[cache]); err == nil {
				e.push(v)
			}

		case OpNot:
			e.push(Bool(!e.pop().Truthy()))

		// --- Control flow ---
		case OpJump:
			off := int32(le32(code, ctx.pc))
			ctx.pc += 4 + int(off)

		case OpJumpIf:
			off := int32(le32(code, ctx.pc))
			ctx.pc += 4
			if e.pop().Truthy() {
				ctx.pc += int(off)
			}

		case OpJumpUnless:
			off := int32(le32(code, ctx.pc))
			ctx.pc += 4
			if !e.pop().Truthy() {
				ctx.pc += int(off)
			}

		case OpJumpNil:
			off := int32(le32(code, ctx.pc))
			ctx.pc += 4
			if e.pop() == Nil {
				ctx.pc += int(off)
			}

		// --- Returns and exceptions ---
		case OpReturn:
			return e.pop(), nil

		case OpMReturn:
			v := e.pop()
			target := ctx.returnTarget()
			if !target.active {
				err = fatal(FatalLocalJump, "unexpected return")
				break
			}
			err = &jumpSignal{kind: jumpReturn, target: target, value: v}

		case OpBreak:
			v := e.pop()
			p := ctx.proc
			switch {
			case p == nil:
				err = fatal(FatalLocalJump, "break from %s", iseq.Kind)
			case !p.Lambda && (p.Outer == nil || !p.Outer.active):
				err = fatal(FatalLocalJump, "break from proc-closure")
			default:
				err = &jumpSignal{kind: jumpBreak, proc: p, value: v}
			}

		case OpThrow:
			err = e.makeRaise(e.top())
			e.sp--

		case OpRescueMatch:
			n := int(code[ctx.pc])
			ctx.pc++
			var ok bool
			ok, err = e.rescueMatch(e.peek(n), e.stack[e.sp-n:e.sp])
			e.sp -= n
			e.push(Bool(ok))

		case OpEnsureEnd:
			if v := e.top(); v != Nil {
				err = e.makeRaise(v)
			}
			e.sp--

		// --- Object creation ---
		case OpNewArray:
			n := le16(code, ctx.pc)
			ctx.pc += 2
			arr := make([]Value, n)
			copy(arr, e.stack[e.sp-n:e.sp])
			e.sp -= n
			e.push(vm.newArrayNoCopy(arr))

		case OpNewHash:
			n := le16(code, ctx.pc)
			ctx.pc += 2
			h := newHash()
			pairs := e.stack[e.sp-2*n : e.sp]
			for i := 0; i < len(pairs); i += 2 {
				vm.HashSet(h, pairs[i], pairs[i+1])
			}
			e.sp -= 2 * n
			e.push(vm.alloc(&RObject{kind: ObjHash, class: vm.cHash, data: h}))

		case OpNewRange:
			excl := code[ctx.pc] != 0
			ctx.pc++
			end := e.pop()
			begin := e.pop()
			e.push(vm.NewRange(begin, end, excl))

		case OpNewProc:
			child := iseq.Children[le16(code, ctx.pc)]
			lambda := code[ctx.pc+2] != 0
			ctx.pc += 3
			p := e.newBlock(ctx, child)
			p.Lambda = lambda
			e.push(vm.newProcValue(p))

		// --- Definitions ---
		case OpDefMethod:
			name := Symbol(le32(code, ctx.pc))
			child := iseq.Children[le16(code, ctx.pc+4)]
			ctx.pc += 6
			e.defineMethod(ctx, name, child)
			e.push(SymbolValue(name))

		case OpDefSMethod:
			name := Symbol(le32(code, ctx.pc))
			child := iseq.Children[le16(code, ctx.pc+4)]
			ctx.pc += 6
			if err = e.defineSingletonMethod(ctx, e.top(), name, child); err == nil {
				e.stack[e.sp-1] = SymbolValue(name)
			}

		case OpDefClass:
			flags := code[ctx.pc]
			name := Symbol(le32(code, ctx.pc+1))
			child := iseq.Children[le16(code, ctx.pc+5)]
			ctx.pc += 7
			var v Value
			if v, err = e.defineClass(ctx, flags, name, e.top(), child); err == nil {
				e.stack[e.sp-1] = v
			}

		case OpDefSClass:
			child := iseq.Children[le16(code, ctx.pc)]
			ctx.pc += 2
			var v Value
			if v, err = e.defineSingletonClass(ctx, e.top(), child); err == nil {
				e.stack[e.sp-1] = v
			}

		case OpAlias:
			newName := Symbol(le32(code, ctx.pc))
			oldName := Symbol(le32(code, ctx.pc+4))
			ctx.pc += 8
			if err = vm.aliasMethod(ctx.Cref.Module, newName, oldName); err == nil {
				e.push(Nil)
			}

		default:
			err = fatal(FatalInvalidOpcode, "%s: invalid opcode 0x%02x at %d", iseq.Name, byte(op), ctx.instPC)
		}

		if err != nil {
			if !e.handle(ctx, err) {
				return Nil, err
			}
			err = nil
		}
	}
}

// rescueMatch tests exc against the classes of a rescue clause; an empty
// list means StandardError. An Array operand stands for a splatted list.
func (e *Engine) rescueMatch(exc Value, classes []Value) (bool, error) {
	vm := e.vm
	if len(classes) == 0 {
		return vm.IsA(exc, vm.eStandardError), nil
	}
	for _, c := range classes {
		if arr, ok := vm.ArrayOf(c); ok {
			if matched, err := e.rescueMatch(exc, arr); err != nil || matched {
				return matched, err
			}
			continue
		}
		mod := vm.moduleOf(c)
		if mod == nil {
			return false, vm.newError(vm.eTypeError, "class or module required for rescue clause")
		}
		if vm.IsA(exc, mod) {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Instance variables
// ---------------------------------------------------------------------------

func (vm *VM) getIvar(self Value, name Symbol) Value {
	if !self.IsHeap() {
		return Nil
	}
	return vm.heap.get(self).Ivar(name)
}

func (vm *VM) setIvar(self Value, name Symbol, v Value) error {
	if !self.IsHeap() {
		return vm.frozenError(self)
	}
	o := vm.heap.get(self)
	if o.frozen {
		return vm.frozenError(self)
	}
	o.SetIvar(name, v)
	return nil
}
