package vm

import (
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestRunReturnsImmediates(t *testing.T) {
	m, _ := newTestVM(t)

	cases := []struct {
		name string
		emit func(b *ISeqBuilder)
		want Value
	}{
		{"nil", func(b *ISeqBuilder) { b.Emit(OpPushNil) }, Nil},
		{"true", func(b *ISeqBuilder) { b.Emit(OpPushTrue) }, True},
		{"false", func(b *ISeqBuilder) { b.Emit(OpPushFalse) }, False},
		{"int", func(b *ISeqBuilder) { b.PushInt(-12) }, FromFixnum(-12)},
		{"symbol", func(b *ISeqBuilder) { b.PushSym("ok") }, SymbolValue(Intern("ok"))},
		{"self", func(b *ISeqBuilder) { b.Emit(OpPushSelf) }, m.Main()},
		{"literal", func(b *ISeqBuilder) { b.PushLit(FromFixnum(99)) }, FromFixnum(99)},
		{"not", func(b *ISeqBuilder) {
			b.Emit(OpPushNil)
			b.Emit(OpNot)
		}, True},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			iseq := topLevel(func(b *ISeqBuilder) {
				c.emit(b)
				b.Emit(OpReturn)
			})
			if got := mustRun(t, m, iseq); got != c.want {
				t.Errorf("result = %v, want %v", got, c.want)
			}
		})
	}
}

func TestStackOperations(t *testing.T) {
	m, _ := newTestVM(t)

	// [1, 2] -> SWAP -> [2, 1] -> TOPN 1 -> [2, 1, 2] -> DUP -> [2, 1, 2, 2]
	iseq := topLevel(func(b *ISeqBuilder) {
		b.PushInt(1)
		b.PushInt(2)
		b.Emit(OpSWAP)
		b.TopN(1)
		b.Emit(OpDUP)
		b.NewArray(4)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[2, 1, 2, 2]")
}

func TestLiteralObjects(t *testing.T) {
	m, _ := newTestVM(t)

	iseq := topLevel(func(b *ISeqBuilder) {
		b.PushString("a")
		b.PushFloat(1.5)
		b.PushInt(1)
		b.PushInt(3)
		b.NewRange(true)
		b.PushSym("k")
		b.PushInt(1)
		b.NewHash(1)
		b.NewArray(4)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), `["a", 1.5, 1...3, {k: 1}]`)
}

func TestPushStringAllocatesFreshStrings(t *testing.T) {
	m, _ := newTestVM(t)

	iseq := topLevel(func(b *ISeqBuilder) {
		b.PushString("s")
		b.PushString("s")
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	arr, _ := m.ArrayOf(mustRun(t, m, iseq))
	if len(arr) != 2 || arr[0] == arr[1] {
		t.Error("each PUSH_STRING should produce a distinct object")
	}
}

func TestGlobalsAndInstanceVariables(t *testing.T) {
	m, _ := newTestVM(t)

	iseq := topLevel(func(b *ISeqBuilder) {
		b.PushInt(5)
		b.SetGvar("$count")
		b.PushInt(6)
		b.SetIvar("@x")
		b.GetIvar("@x")
		b.GetIvar("@missing")
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[6, nil]")
	if got := m.Global("$count"); got != FromFixnum(5) {
		t.Errorf("$count = %v, want 5", got)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic tests
// ---------------------------------------------------------------------------

func binop(op Opcode, a, b Value) *ISeq {
	return topLevel(func(bb *ISeqBuilder) {
		bb.PushLit(a)
		bb.PushLit(b)
		bb.Arith(op)
		bb.Emit(OpReturn)
	})
}

func TestFixnumArithmetic(t *testing.T) {
	m, _ := newTestVM(t)

	cases := []struct {
		op   Opcode
		a, b int64
		want string
	}{
		{OpAdd, 2, 3, "5"},
		{OpSub, 2, 3, "-1"},
		{OpMul, -4, 6, "-24"},
		{OpDiv, 7, 2, "3"},
		{OpDiv, -7, 2, "-4"},
		{OpMod, -7, 2, "1"},
		{OpEq, 4, 4, "true"},
		{OpNe, 4, 4, "false"},
		{OpLt, 1, 2, "true"},
		{OpGe, 1, 2, "false"},
		{OpCmp, 3, 2, "1"},
	}
	for _, c := range cases {
		got := mustRun(t, m, binop(c.op, FromFixnum(c.a), FromFixnum(c.b)))
		if s := m.Inspect(got); s != c.want {
			t.Errorf("%d %s %d = %s, want %s", c.a, c.op, c.b, s, c.want)
		}
	}
}

func TestFixnumOverflowPromotesToBignum(t *testing.T) {
	m, _ := newTestVM(t)

	got := mustRun(t, m, binop(OpAdd, FromFixnum(MaxFixnum), FromFixnum(1)))
	if got.IsFixnum() {
		t.Fatal("overflowed sum should be a bignum")
	}
	expectInspect(t, m, got, "4611686018427387904")

	got = mustRun(t, m, binop(OpSub, FromFixnum(MinFixnum), FromFixnum(1)))
	expectInspect(t, m, got, "-4611686018427387905")

	got = mustRun(t, m, binop(OpMul, FromFixnum(1<<40), FromFixnum(1<<40)))
	expectInspect(t, m, got, "1208925819614629174706176")
}

func TestMixedFloatArithmetic(t *testing.T) {
	m, _ := newTestVM(t)

	got := mustRun(t, m, binop(OpAdd, FromFixnum(1), m.Float(0.5)))
	if f, ok := m.FloatOf(got); !ok || f != 1.5 {
		t.Errorf("1 + 0.5 = %s, want 1.5", m.Inspect(got))
	}
	got = mustRun(t, m, binop(OpDiv, m.Float(1), FromFixnum(0)))
	expectInspect(t, m, got, "Infinity")
}

func TestDivisionByZeroRaises(t *testing.T) {
	m, _ := newTestVM(t)

	_, err := m.Run(binop(OpDiv, FromFixnum(1), FromFixnum(0)))
	u := expectUncaught(t, err, "ZeroDivisionError")
	if u.Message != "divided by 0" {
		t.Errorf("message = %q, want divided by 0", u.Message)
	}
}

func TestArithmeticFallsBackToSend(t *testing.T) {
	m, _ := newTestVM(t)

	// String#+ is reached through the instruction's call cache.
	got := mustRun(t, m, binop(OpAdd, m.NewString("ab"), m.NewString("cd")))
	expectInspect(t, m, got, `"abcd"`)
}

func TestRedefinedIntegerOperatorDisablesFastPath(t *testing.T) {
	m, _ := newTestVM(t)

	if got := mustRun(t, m, binop(OpAdd, FromFixnum(2), FromFixnum(3))); got != FromFixnum(5) {
		t.Fatalf("2 + 3 = %v before redefinition", got)
	}
	m.DefineMethod(m.cInteger, "+", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(42), nil
	})
	if got := mustRun(t, m, binop(OpAdd, FromFixnum(2), FromFixnum(3))); got != FromFixnum(42) {
		t.Errorf("2 + 3 = %v after redefinition, want 42", got)
	}
	// Float's operators are untouched.
	got := mustRun(t, m, binop(OpAdd, m.Float(0.5), m.Float(0.25)))
	expectInspect(t, m, got, "0.75")
}

func TestFastPathMatchesSend(t *testing.T) {
	m, _ := newTestVM(t)

	operands := []Value{
		FromFixnum(0), FromFixnum(1), FromFixnum(-1), FromFixnum(7), FromFixnum(-7),
		FromFixnum(1 << 31), FromFixnum(1<<53 + 1),
		FromFixnum(MaxFixnum), FromFixnum(MaxFixnum - 1), FromFixnum(MinFixnum),
		m.Float(0.5), m.Float(-2.5), m.Float(0), m.Float(1e20), m.Float(float64(1 << 53)),
	}
	for _, v := range operands {
		m.Pin(v)
	}
	for _, o := range numericOperators {
		for _, a := range operands {
			for _, b := range operands {
				fast, fastErr := m.Run(binop(o.op, a, b))
				slow, slowErr := m.Send(a, o.name, b)
				desc := m.Inspect(a) + " " + o.name + " " + m.Inspect(b)
				if (fastErr == nil) != (slowErr == nil) {
					t.Errorf("%s: fast err = %v, send err = %v", desc, fastErr, slowErr)
					continue
				}
				if fastErr != nil {
					fu, _ := fastErr.(*UncaughtError)
					su, _ := slowErr.(*UncaughtError)
					if fu == nil || su == nil || fu.Class != su.Class {
						t.Errorf("%s: fast raised %v, send raised %v", desc, fastErr, slowErr)
					}
					continue
				}
				if f, s := m.Inspect(fast), m.Inspect(slow); f != s {
					t.Errorf("%s: result = %s, want %s", desc, f, s)
				}
			}
		}
	}
}

func TestMixedComparisonIsExact(t *testing.T) {
	m, _ := newTestVM(t)

	// 2**53 + 1 has no float64 twin; converting it would round to 2**53.
	n := FromFixnum(1<<53 + 1)
	f := m.Float(float64(1 << 53))
	cases := []struct {
		op   Opcode
		a, b Value
		want string
	}{
		{OpEq, n, f, "false"},
		{OpNe, n, f, "true"},
		{OpGt, n, f, "true"},
		{OpLe, n, f, "false"},
		{OpCmp, n, f, "1"},
		{OpLt, f, n, "true"},
		{OpCmp, f, n, "-1"},
		{OpEq, FromFixnum(-(1<<53 + 1)), m.Float(-float64(1 << 53)), "false"},
		{OpCmp, n, m.Float(math.NaN()), "nil"},
		{OpLt, n, m.Float(math.Inf(1)), "true"},
		{OpEq, FromFixnum(1 << 53), f, "true"},
	}
	for _, c := range cases {
		m.Pin(c.b)
		got := mustRun(t, m, binop(c.op, c.a, c.b))
		if s := m.Inspect(got); s != c.want {
			t.Errorf("%s %s %s = %s, want %s", m.Inspect(c.a), c.op, m.Inspect(c.b), s, c.want)
		}
	}

	if got := mustSend(t, m, n, "==", f); got != False {
		t.Errorf("(2**53+1) == (2**53).to_f = %v, want false", got)
	}
	big := mustRun(t, m, binop(OpAdd, FromFixnum(MaxFixnum), FromFixnum(1)))
	m.Pin(big)
	if got := mustSend(t, m, big, "<", m.Float(math.Ldexp(1, 62))); got != False {
		t.Errorf("2**62 < 2.0**62 = %v, want false", got)
	}
	if got := mustSend(t, m, big, "==", m.Float(math.Ldexp(1, 62))); got != True {
		t.Errorf("2**62 == 2.0**62 = %v, want true", got)
	}
}

// ---------------------------------------------------------------------------
// Methods and blocks
// ---------------------------------------------------------------------------

func TestTopLevelMethodCall(t *testing.T) {
	m, _ := newTestVM(t)

	add := build("add", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("a", "b")
		b.GetLocal(0, 0)
		b.GetLocal(1, 0)
		b.Arith(OpAdd)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("add", add)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		b.PushInt(2)
		b.PushInt(3)
		callSelf(b, "add", 2)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(5) {
		t.Errorf("add(2, 3) = %v, want 5", got)
	}

	// Top-level definitions are private.
	_, err := m.Run(topLevel(func(b *ISeqBuilder) {
		b.Emit(OpPushSelf)
		b.PushInt(1)
		b.PushInt(1)
		b.Send("add", 2, 0, nil)
		b.Emit(OpReturn)
	}))
	u := expectUncaught(t, err, "NoMethodError")
	if !strings.Contains(u.Message, "private method 'add'") {
		t.Errorf("message = %q", u.Message)
	}
}

func TestClosureOutlivesDefiningMethod(t *testing.T) {
	m, _ := newTestVM(t, WithGCThreshold(1))

	// def make_counter; n = 0; -> { n += 1 }; end
	counter := build("make_counter", ISeqMethod, func(b *ISeqBuilder) {
		n := b.Local("n")
		body := build("block in make_counter", ISeqBlock, func(b *ISeqBuilder) {
			b.GetLocal(n, 1)
			b.PushInt(1)
			b.Arith(OpAdd)
			b.Emit(OpDUP)
			b.SetLocal(n, 1)
			b.Emit(OpReturn)
		})
		b.PushInt(0)
		b.SetLocal(n, 0)
		b.NewProc(body, true)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		c := b.Local("c")
		b.DefMethod("make_counter", counter)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "make_counter", 0)
		b.SetLocal(c, 0)
		for range 3 {
			b.GetLocal(c, 0)
			b.Send("call", 0, 0, nil)
			b.Emit(OpPOP)
		}
		b.GetLocal(c, 0)
		b.Send("call", 0, 0, nil)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(4) {
		t.Errorf("fourth call = %v, want 4", got)
	}
	if m.Stats().Collections == 0 {
		t.Error("expected collections to run during the test")
	}
}

func TestBlockSeesEnclosingLocals(t *testing.T) {
	m, _ := newTestVM(t)

	// sum = 0; [1, 2, 3].each { |x| sum += x }; sum
	iseq := topLevel(func(b *ISeqBuilder) {
		sum := b.Local("sum")
		blk := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.Required("x")
			b.GetLocal(sum, 1)
			b.GetLocal(0, 0)
			b.Arith(OpAdd)
			b.Emit(OpDUP)
			b.SetLocal(sum, 1)
			b.Emit(OpReturn)
		})
		b.PushInt(0)
		b.SetLocal(sum, 0)
		b.PushInt(1)
		b.PushInt(2)
		b.PushInt(3)
		b.NewArray(3)
		b.Send("each", 0, 0, blk)
		b.Emit(OpPOP)
		b.GetLocal(sum, 0)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(6) {
		t.Errorf("sum = %v, want 6", got)
	}
}

func TestPutsWritesToConfiguredStdout(t *testing.T) {
	m, out := newTestVM(t)

	mustRun(t, m, topLevel(func(b *ISeqBuilder) {
		b.Emit(OpPushSelf)
		b.PushString("hello")
		b.PushInt(1)
		b.PushInt(2)
		b.NewArray(2)
		callSelf(b, "puts", 2)
		b.Emit(OpReturn)
	}))
	if got := out.String(); got != "hello\n1\n2\n" {
		t.Errorf("output = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Non-local control flow
// ---------------------------------------------------------------------------

func TestMethodReturnFromBlock(t *testing.T) {
	m, _ := newTestVM(t)

	// def f; return 1; end
	f := build("f", ISeqMethod, func(b *ISeqBuilder) {
		b.PushInt(1)
		b.Emit(OpMReturn)
		b.PushInt(99)
		b.Emit(OpReturn)
	})
	// def g; yield; 2; end
	g := build("g", ISeqMethod, func(b *ISeqBuilder) {
		b.Yield(0, 0)
		b.Emit(OpPOP)
		b.PushInt(2)
		b.Emit(OpReturn)
	})
	// y = nil; x = g { y = f }; [x, y]
	iseq := topLevel(func(b *ISeqBuilder) {
		x, y := b.Local("x"), b.Local("y")
		blk := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.Emit(OpPushSelf)
			callSelf(b, "f", 0)
			b.Emit(OpDUP)
			b.SetLocal(y, 1)
			b.Emit(OpReturn)
		})
		b.DefMethod("f", f)
		b.Emit(OpPOP)
		b.DefMethod("g", g)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		b.Send("g", 0, FlagFcall, blk)
		b.SetLocal(x, 0)
		b.GetLocal(x, 0)
		b.GetLocal(y, 0)
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	// The return inside f ends f only, so the block gets 1 and g goes on to
	// return 2; x is g's value, not f's.
	expectInspect(t, m, mustRun(t, m, iseq), "[2, 1]")
}

func TestReturnFromBlockEndsEnclosingMethod(t *testing.T) {
	m, _ := newTestVM(t)

	// def find; [1, 2, 3].each { |x| return x * 10 if x == 2 }; :none; end
	find := build("find", ISeqMethod, func(b *ISeqBuilder) {
		blk := build("block in find", ISeqBlock, func(b *ISeqBuilder) {
			b.Required("x")
			skip := b.NewLabel()
			b.GetLocal(0, 0)
			b.PushInt(2)
			b.Arith(OpEq)
			b.Jump(OpJumpUnless, skip)
			b.GetLocal(0, 0)
			b.PushInt(10)
			b.Arith(OpMul)
			b.Emit(OpMReturn)
			b.Mark(skip)
			b.Emit(OpPushNil)
			b.Emit(OpReturn)
		})
		b.PushInt(1)
		b.PushInt(2)
		b.PushInt(3)
		b.NewArray(3)
		b.Send("each", 0, 0, blk)
		b.Emit(OpPOP)
		b.PushSym("none")
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("find", find)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "find", 0)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(20) {
		t.Errorf("find = %v, want 20", got)
	}
}

func TestNextReturnsFromBlockOnly(t *testing.T) {
	m, _ := newTestVM(t)

	// [1, 2, 3].map { |x| next 0 if x == 2; x }
	iseq := topLevel(func(b *ISeqBuilder) {
		blk := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.Required("x")
			skip := b.NewLabel()
			b.GetLocal(0, 0)
			b.PushInt(2)
			b.Arith(OpEq)
			b.Jump(OpJumpUnless, skip)
			b.PushInt(0)
			b.Emit(OpReturn)
			b.Mark(skip)
			b.GetLocal(0, 0)
			b.Emit(OpReturn)
		})
		b.PushInt(1)
		b.PushInt(2)
		b.PushInt(3)
		b.NewArray(3)
		b.Send("map", 0, 0, blk)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[1, 0, 3]")
}

func TestLambdaReturnEndsLambda(t *testing.T) {
	m, _ := newTestVM(t)

	// l = -> { return 5; 6 }; [l.call, :after]
	iseq := topLevel(func(b *ISeqBuilder) {
		body := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.PushInt(5)
			b.Emit(OpMReturn)
			b.PushInt(6)
			b.Emit(OpReturn)
		})
		b.NewProc(body, true)
		b.Send("call", 0, 0, nil)
		b.PushSym("after")
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[5, :after]")
}

func TestBreakRunsEnsureAndEndsCallSite(t *testing.T) {
	m, _ := newTestVM(t)

	// $log = []
	// r = [1, 2, 3].each { |x| begin; break x * 10; ensure; $log.push(:ensure); end }
	iseq := topLevel(func(b *ISeqBuilder) {
		blk := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.Required("x")
			start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
			b.Mark(start)
			b.GetLocal(0, 0)
			b.PushInt(10)
			b.Arith(OpMul)
			b.Emit(OpBreak)
			b.Mark(end)
			b.Emit(OpPushNil)
			b.Mark(handler)
			b.GetGvar("$log")
			b.PushSym("ensure")
			b.Send("push", 1, 0, nil)
			b.Emit(OpPOP)
			b.Emit(OpEnsureEnd)
			b.Emit(OpPushNil)
			b.Emit(OpReturn)
			b.Catch(CatchEnsure, start, end, handler, 0)
		})
		b.NewArray(0)
		b.SetGvar("$log")
		b.PushInt(1)
		b.PushInt(2)
		b.PushInt(3)
		b.NewArray(3)
		b.Send("each", 0, 0, blk)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(10) {
		t.Errorf("result = %v, want 10", got)
	}
	expectInspect(t, m, m.Global("$log"), "[:ensure]")
}

func TestEscapedProcReturnIsLocalJump(t *testing.T) {
	m, _ := newTestVM(t)

	// def mk; proc { return 1 }; end; mk.call
	mk := build("mk", ISeqMethod, func(b *ISeqBuilder) {
		body := build("block in mk", ISeqBlock, func(b *ISeqBuilder) {
			b.PushInt(1)
			b.Emit(OpMReturn)
		})
		b.NewProc(body, false)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("mk", mk)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "mk", 0)
		b.Send("call", 0, 0, nil)
		b.Emit(OpReturn)
	})
	_, err := m.Run(iseq)
	if !IsFatal(err, FatalLocalJump) {
		t.Errorf("error = %v, want a fatal local jump", err)
	}
}

func TestEscapedProcBreakIsLocalJump(t *testing.T) {
	m, _ := newTestVM(t)

	mk := build("mk", ISeqMethod, func(b *ISeqBuilder) {
		body := build("block in mk", ISeqBlock, func(b *ISeqBuilder) {
			b.PushInt(1)
			b.Emit(OpBreak)
		})
		b.NewProc(body, false)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("mk", mk)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "mk", 0)
		b.Send("call", 0, 0, nil)
		b.Emit(OpReturn)
	})
	_, err := m.Run(iseq)
	if !IsFatal(err, FatalLocalJump) {
		t.Errorf("error = %v, want a fatal local jump", err)
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestEnsureRunsOnceBeforeOuterRescue(t *testing.T) {
	m, _ := newTestVM(t)

	// $log = []
	// begin
	//   begin; raise "boom"; ensure; $log.push(:ensure); end
	// rescue RuntimeError
	//   :rescued
	// end
	iseq := topLevel(func(b *ISeqBuilder) {
		outerStart, outerEnd := b.NewLabel(), b.NewLabel()
		innerStart, innerEnd := b.NewLabel(), b.NewLabel()
		ensure, rescue, reraise := b.NewLabel(), b.NewLabel(), b.NewLabel()

		b.NewArray(0)
		b.SetGvar("$log")
		b.Mark(outerStart)
		b.Mark(innerStart)
		b.Emit(OpPushSelf)
		b.PushString("boom")
		callSelf(b, "raise", 1)
		b.Emit(OpPOP)
		b.Mark(innerEnd)
		b.Emit(OpPushNil)
		b.Mark(ensure)
		b.GetGvar("$log")
		b.PushSym("ensure")
		b.Send("push", 1, 0, nil)
		b.Emit(OpPOP)
		b.Emit(OpEnsureEnd)
		b.Mark(outerEnd)
		b.PushSym("not_rescued")
		b.Emit(OpReturn)

		b.Mark(rescue)
		b.GetConst("RuntimeError")
		b.RescueMatch(1)
		b.Jump(OpJumpUnless, reraise)
		b.Emit(OpPOP)
		b.PushSym("rescued")
		b.Emit(OpReturn)
		b.Mark(reraise)
		b.Emit(OpThrow)

		b.Catch(CatchEnsure, innerStart, innerEnd, ensure, 0)
		b.Catch(CatchRescue, outerStart, outerEnd, rescue, 0)
	})
	if got := mustRun(t, m, iseq); got != SymbolValue(Intern("rescued")) {
		t.Errorf("result = %s, want :rescued", m.Inspect(got))
	}
	expectInspect(t, m, m.Global("$log"), "[:ensure]")
	exc := m.Global("$!")
	if m.ExceptionMessage(exc) != "boom" {
		t.Errorf("$! = %s", m.Inspect(exc))
	}
}

func TestRescueMismatchPropagates(t *testing.T) {
	m, _ := newTestVM(t)

	// begin; 1 / 0; rescue ArgumentError; :wrong; end
	iseq := topLevel(func(b *ISeqBuilder) {
		start, end, rescue, reraise := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Mark(start)
		b.PushInt(1)
		b.PushInt(0)
		b.Arith(OpDiv)
		b.Mark(end)
		b.Emit(OpReturn)
		b.Mark(rescue)
		b.GetConst("ArgumentError")
		b.RescueMatch(1)
		b.Jump(OpJumpUnless, reraise)
		b.Emit(OpPOP)
		b.PushSym("wrong")
		b.Emit(OpReturn)
		b.Mark(reraise)
		b.Emit(OpThrow)
		b.Catch(CatchRescue, start, end, rescue, 0)
	})
	_, err := m.Run(iseq)
	expectUncaught(t, err, "ZeroDivisionError")
}

func TestBareRescueMatchesStandardErrorOnly(t *testing.T) {
	m, _ := newTestVM(t)

	run := func(class string) Value {
		return mustRun(t, m, topLevel(func(b *ISeqBuilder) {
			b.GetConst(class)
			b.Send("new", 0, 0, nil)
			b.RescueMatch(0)
			b.Emit(OpReturn)
		}))
	}
	if got := run("KeyError"); got != True {
		t.Errorf("KeyError matched = %v, want true", got)
	}
	if got := run("NotImplementedError"); got != False {
		t.Errorf("NotImplementedError matched = %v, want false", got)
	}
}

func TestUncaughtErrorCarriesLocation(t *testing.T) {
	m, _ := newTestVM(t)

	iseq := topLevel(func(b *ISeqBuilder) {
		b.SetFile("app.rb")
		b.Line(7)
		b.Emit(OpPushSelf)
		b.PushString("bad")
		callSelf(b, "raise", 1)
		b.Emit(OpReturn)
	})
	_, err := m.Run(iseq)
	u := expectUncaught(t, err, "RuntimeError")
	if u.Message != "bad" {
		t.Errorf("message = %q, want bad", u.Message)
	}
	if u.Location != "app.rb:7" {
		t.Errorf("location = %q, want app.rb:7", u.Location)
	}
	if len(u.Backtrace) == 0 || !strings.HasSuffix(u.Backtrace[0], "in '<main>'") {
		t.Errorf("backtrace = %q", u.Backtrace)
	}
}

func TestDeepRecursionRaisesSystemStackError(t *testing.T) {
	m, _ := newTestVM(t, WithMaxDepth(64))

	// def down; down; end; down
	down := build("down", ISeqMethod, func(b *ISeqBuilder) {
		b.Emit(OpPushSelf)
		callSelf(b, "down", 0)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("down", down)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "down", 0)
		b.Emit(OpReturn)
	})
	_, err := m.Run(iseq)
	u := expectUncaught(t, err, "SystemStackError")
	if u.Message != "stack level too deep" {
		t.Errorf("message = %q", u.Message)
	}

	// The VM stays usable.
	if got := mustRun(t, m, binop(OpAdd, FromFixnum(1), FromFixnum(1))); got != FromFixnum(2) {
		t.Errorf("1 + 1 = %v after stack overflow", got)
	}
}

func TestInvalidOpcodeIsFatal(t *testing.T) {
	m, _ := newTestVM(t)

	iseq := topLevel(func(b *ISeqBuilder) {
		b.Emit(Opcode(0xEE))
	})
	_, err := m.Run(iseq)
	if !IsFatal(err, FatalInvalidOpcode) {
		t.Errorf("error = %v, want fatal invalid opcode", err)
	}

	// Running off the end of the code is also malformed.
	_, err = m.Run(topLevel(func(b *ISeqBuilder) { b.Emit(OpNOP) }))
	if !IsFatal(err, FatalInvalidOpcode) {
		t.Errorf("error = %v, want fatal invalid opcode", err)
	}
}

func TestPanicInFrameRunsItsOwnEnsure(t *testing.T) {
	m, _ := newTestVM(t)

	// $log = []
	// begin
	//   <pop from an empty stack>
	// rescue
	//   :rescued
	// ensure
	//   $log.push(:cleanup)
	// end
	iseq := topLevel(func(b *ISeqBuilder) {
		start, end, rescue, ensure := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.NewArray(0)
		b.SetGvar("$log")
		b.Mark(start)
		b.Emit(OpPOP)
		b.Mark(end)
		b.Emit(OpPushNil)
		b.Mark(ensure)
		b.GetGvar("$log")
		b.PushSym("cleanup")
		b.Send("push", 1, 0, nil)
		b.Emit(OpPOP)
		b.Emit(OpEnsureEnd)
		b.Emit(OpPushNil)
		b.Emit(OpReturn)
		b.Mark(rescue)
		b.PushSym("rescued")
		b.Emit(OpReturn)
		b.Catch(CatchRescue, start, end, rescue, 0)
		b.Catch(CatchEnsure, start, end, ensure, 0)
	})
	_, err := m.Run(iseq)
	if !IsFatal(err, FatalStackCorruption) {
		t.Errorf("error = %v, want fatal stack corruption", err)
	}
	expectInspect(t, m, m.Global("$log"), "[:cleanup]")
}
