package vm

import (
	"cmp"
	"strings"
	"testing"
)

// sendBlock calls name on recv from Go with blk as the block.
func sendBlock(t *testing.T, m *VM, recv Value, name string, blk Value, args ...Value) Value {
	t.Helper()
	v, err := m.main.SendWithBlock(recv, Intern(name), args, blk)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

// intBlock wraps fn as a one-argument block over Integers.
func intBlock(m *VM, fn func(n int64) Value) Value {
	return m.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		n, _ := e.vm.IntOf(args[0])
		return fn(n), nil
	})
}

func ints(m *VM, ns ...int64) Value {
	vals := make([]Value, len(ns))
	for i, n := range ns {
		vals[i] = FromFixnum(n)
	}
	return m.NewArray(vals...)
}

func strs(m *VM, ss ...string) Value {
	vals := make([]Value, len(ss))
	for i, s := range ss {
		vals[i] = m.NewString(s)
	}
	return m.NewArray(vals...)
}

func sym(name string) Value { return SymbolValue(Intern(name)) }

// ---------------------------------------------------------------------------
// Enumerable
// ---------------------------------------------------------------------------

func TestEnumerableOverRange(t *testing.T) {
	m, _ := newTestVM(t)
	r := m.NewRange(FromFixnum(1), FromFixnum(4), false)
	m.Pin(r)

	square := intBlock(m, func(n int64) Value { return FromFixnum(n * n) })
	expectInspect(t, m, sendBlock(t, m, r, "map", square), "[1, 4, 9, 16]")
	expectInspect(t, m, sendBlock(t, m, r, "select", m.symbolProc(Intern("even?"))), "[2, 4]")
	expectInspect(t, m, mustSend(t, m, r, "inject", sym("+")), "10")
	expectInspect(t, m, mustSend(t, m, r, "reduce", FromFixnum(1), sym("*")), "24")
	expectInspect(t, m, mustSend(t, m, r, "sum"), "10")
	expectInspect(t, m, sendBlock(t, m, r, "sum", intBlock(m, func(n int64) Value { return FromFixnum(2 * n) })), "20")
	expectInspect(t, m, mustSend(t, m, r, "first", FromFixnum(2)), "[1, 2]")
	expectInspect(t, m, mustSend(t, m, r, "first"), "1")
	expectInspect(t, m, mustSend(t, m, r, "to_a"), "[1, 2, 3, 4]")
	expectInspect(t, m, sendBlock(t, m, r, "min_by", intBlock(m, func(n int64) Value { return FromFixnum(-n) })), "4")
	expectInspect(t, m, sendBlock(t, m, r, "count", m.symbolProc(Intern("odd?"))), "2")
	expectInspect(t, m, sendBlock(t, m, r, "any?", intBlock(m, func(n int64) Value { return Bool(n > 3) })), "true")
	expectInspect(t, m, sendBlock(t, m, r, "all?", intBlock(m, func(n int64) Value { return Bool(n > 1) })), "false")

	memo := sendBlock(t, m, r, "each_with_object", m.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		return e.Send(args[1], "unshift", args[0])
	}), m.NewArray())
	expectInspect(t, m, memo, "[4, 3, 2, 1]")
}

func TestPartitionGroupAndTally(t *testing.T) {
	m, _ := newTestVM(t)

	six := m.NewRange(FromFixnum(1), FromFixnum(6), false)
	expectInspect(t, m, sendBlock(t, m, six, "partition", m.symbolProc(Intern("odd?"))), "[[1, 3, 5], [2, 4, 6]]")

	odd := intBlock(m, func(n int64) Value { return Bool(n%2 == 1) })
	expectInspect(t, m, sendBlock(t, m, ints(m, 1, 2, 3, 4), "group_by", odd), "{true => [1, 3], false => [2, 4]}")
	expectInspect(t, m, mustSend(t, m, strs(m, "a", "b", "a"), "tally"), `{"a" => 2, "b" => 1}`)
	expectInspect(t, m, sendBlock(t, m, strs(m, "ccc", "a", "bb"), "sort_by", m.symbolProc(Intern("size"))), `["a", "bb", "ccc"]`)
	expectInspect(t, m, mustSend(t, m, m.NewArray(m.NewArray(sym("a"), FromFixnum(1))), "to_h"), "{a: 1}")
}

func TestFindStopsEarly(t *testing.T) {
	m, _ := newTestVM(t)

	calls := 0
	blk := intBlock(m, func(n int64) Value {
		calls++
		return Bool(n > 2)
	})
	endless := m.NewRange(FromFixnum(1), Nil, false)
	if got := sendBlock(t, m, endless, "find", blk); got != FromFixnum(3) {
		t.Errorf("find = %v, want 3", got)
	}
	if calls != 3 {
		t.Errorf("block ran %d times, want 3", calls)
	}
	expectInspect(t, m, mustSend(t, m, endless, "first", FromFixnum(3)), "[1, 2, 3]")
}

func TestLazyIsNotSupported(t *testing.T) {
	m, _ := newTestVM(t)

	_, err := m.Send(ints(m, 1), "lazy")
	u := expectUncaught(t, err, "NotImplementedError")
	if u.Message != "lazy enumerators are not supported" {
		t.Errorf("message = %q", u.Message)
	}
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func TestArrayPrimitives(t *testing.T) {
	m, _ := newTestVM(t)

	nested := m.NewArray(FromFixnum(1), m.NewArray(FromFixnum(2), ints(m, 3)))
	desc := m.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		a, _ := e.vm.IntOf(args[0])
		b, _ := e.vm.IntOf(args[1])
		return FromFixnum(int64(cmp.Compare(b, a))), nil
	})

	cases := []struct {
		name string
		got  func() Value
		want string
	}{
		{"sort", func() Value { return mustSend(t, m, ints(m, 3, 1, 2), "sort") }, "[1, 2, 3]"},
		{"sort with block", func() Value { return sendBlock(t, m, ints(m, 3, 1, 2), "sort", desc) }, "[3, 2, 1]"},
		{"flatten", func() Value { return mustSend(t, m, nested, "flatten") }, "[1, 2, 3]"},
		{"flatten depth", func() Value { return mustSend(t, m, nested, "flatten", FromFixnum(1)) }, "[1, 2, [3]]"},
		{"zip", func() Value { return mustSend(t, m, ints(m, 1, 2), "zip", ints(m, 3, 4), ints(m, 5)) }, "[[1, 3, 5], [2, 4, nil]]"},
		{"rotate", func() Value { return mustSend(t, m, ints(m, 1, 2, 3), "rotate") }, "[2, 3, 1]"},
		{"rotate back", func() Value { return mustSend(t, m, ints(m, 1, 2, 3), "rotate", FromFixnum(-1)) }, "[3, 1, 2]"},
		{"join", func() Value { return mustSend(t, m, ints(m, 1, 2, 3), "join", m.NewString("-")) }, `"1-2-3"`},
		{"times string", func() Value { return mustSend(t, m, ints(m, 1, 2), "*", m.NewString(",")) }, `"1,2"`},
		{"uniq", func() Value { return mustSend(t, m, ints(m, 1, 2, 2, 3, 1), "uniq") }, "[1, 2, 3]"},
		{"difference", func() Value { return mustSend(t, m, ints(m, 1, 2, 2, 3), "-", ints(m, 2, 3)) }, "[1]"},
		{"fetch default", func() Value { return mustSend(t, m, ints(m, 1), "fetch", FromFixnum(5), sym("none")) }, ":none"},
		{"negative index", func() Value { return mustSend(t, m, ints(m, 1, 2, 3), "[]", FromFixnum(-1)) }, "3"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			expectInspect(t, m, c.got(), c.want)
		})
	}

	_, err := m.Send(ints(m, 1, 2, 3), "fetch", FromFixnum(10))
	u := expectUncaught(t, err, "IndexError")
	if u.Message != "index 10 outside of array bounds: -3...3" {
		t.Errorf("message = %q", u.Message)
	}
}

// ---------------------------------------------------------------------------
// Hash
// ---------------------------------------------------------------------------

func TestHashPrimitives(t *testing.T) {
	m, _ := newTestVM(t)

	hv := m.NewHash()
	h, _ := m.HashOf(hv)
	m.HashSet(h, sym("a"), FromFixnum(1))
	m.Pin(hv)

	other := m.NewHash()
	oh, _ := m.HashOf(other)
	m.HashSet(oh, sym("a"), FromFixnum(2))
	m.HashSet(oh, sym("b"), FromFixnum(3))

	sum := m.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		return e.Send(args[1], "+", args[2])
	})
	expectInspect(t, m, sendBlock(t, m, hv, "merge", sum, other), "{a: 3, b: 3}")
	expectInspect(t, m, hv, "{a: 1}")

	tenfold := intBlock(m, func(n int64) Value { return FromFixnum(n * 10) })
	expectInspect(t, m, sendBlock(t, m, hv, "transform_values", tenfold), "{a: 10}")

	if got := mustSend(t, m, hv, "fetch", sym("z"), FromFixnum(0)); got != FromFixnum(0) {
		t.Errorf("fetch with default = %v, want 0", got)
	}
	_, err := m.Send(hv, "fetch", sym("z"))
	u := expectUncaught(t, err, "KeyError")
	if u.Message != "key not found: :z" {
		t.Errorf("message = %q", u.Message)
	}

	// String keys compare by content.
	sk := m.NewHash()
	skh, _ := m.HashOf(sk)
	m.HashSet(skh, m.NewString("k"), FromFixnum(1))
	if v, ok := m.HashGet(skh, m.NewString("k")); !ok || v != FromFixnum(1) {
		t.Error("lookup with an equal String key failed")
	}
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

func TestStringPrimitives(t *testing.T) {
	m, _ := newTestVM(t)

	vowel, err := m.NewRegexp("[aeiou]")
	if err != nil {
		t.Fatal(err)
	}
	m.Pin(vowel)
	words, err := m.NewRegexp(`(\w+) (\w+)`)
	if err != nil {
		t.Fatal(err)
	}
	m.Pin(words)
	pairs, err := m.NewRegexp(`(\d)(\w)`)
	if err != nil {
		t.Fatal(err)
	}
	m.Pin(pairs)

	upcase := m.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		s, _ := e.vm.StringOf(args[0])
		return e.vm.NewString(strings.ToUpper(s)), nil
	})

	cases := []struct {
		name string
		got  func() Value
		want string
	}{
		{"format", func() Value {
			args := m.NewArray(m.Float(3.14159), m.NewString("ab"), FromFixnum(255), sym("k"))
			return mustSend(t, m, m.NewString("%05.2f|%-3s|%x|%p|100%%"), "%", args)
		}, `"03.14|ab |ff|:k|100%"`},
		{"split separator", func() Value {
			return mustSend(t, m, m.NewString("a,b,,c,,"), "split", m.NewString(","))
		}, `["a", "b", "", "c"]`},
		{"split whitespace", func() Value { return mustSend(t, m, m.NewString("  hi  there "), "split") }, `["hi", "there"]`},
		{"gsub", func() Value {
			return mustSend(t, m, m.NewString("hello world"), "gsub", vowel, m.NewString("*"))
		}, `"h*ll* w*rld"`},
		{"sub backrefs", func() Value {
			return mustSend(t, m, m.NewString("john smith"), "sub", words, m.NewString(`\2 \1`))
		}, `"smith john"`},
		{"gsub block", func() Value { return sendBlock(t, m, m.NewString("hello"), "gsub", upcase, vowel) }, `"hEllO"`},
		{"scan groups", func() Value { return mustSend(t, m, m.NewString("1a 2b"), "scan", pairs) }, `[["1", "a"], ["2", "b"]]`},
		{"repeat", func() Value { return mustSend(t, m, m.NewString("ab"), "*", FromFixnum(3)) }, `"ababab"`},
		{"length", func() Value { return mustSend(t, m, m.NewString("héllo"), "length") }, "5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			expectInspect(t, m, c.got(), c.want)
		})
	}

	_, err = m.Send(m.NewString("%d"), "%", m.NewArray())
	expectUncaught(t, err, "ArgumentError")
}

// ---------------------------------------------------------------------------
// Proc
// ---------------------------------------------------------------------------

func TestCurryAndCompose(t *testing.T) {
	m, _ := newTestVM(t)

	add3 := m.NewNativeProc(3, true, func(e *Engine, args []Value, _ Value) (Value, error) {
		var n int64
		for _, a := range args {
			x, _ := e.vm.IntOf(a)
			n += x
		}
		return FromFixnum(n), nil
	})
	m.Pin(add3)

	c := mustSend(t, m, add3, "curry")
	m.Pin(c)
	step := mustSend(t, m, c, "call", FromFixnum(1))
	step = mustSend(t, m, step, "call", FromFixnum(2))
	if got := mustSend(t, m, step, "call", FromFixnum(3)); got != FromFixnum(6) {
		t.Errorf("curried result = %v, want 6", got)
	}
	if got := mustSend(t, m, c, "call", FromFixnum(1), FromFixnum(2), FromFixnum(3)); got != FromFixnum(6) {
		t.Errorf("curried call with all arguments = %v, want 6", got)
	}
	_, err := m.Send(add3, "curry", FromFixnum(2))
	u := expectUncaught(t, err, "ArgumentError")
	if u.Message != "wrong number of arguments (given 2, expected 3)" {
		t.Errorf("message = %q", u.Message)
	}

	double := m.NewNativeProc(1, true, func(e *Engine, args []Value, _ Value) (Value, error) {
		n, _ := e.vm.IntOf(args[0])
		return FromFixnum(2 * n), nil
	})
	inc := m.NewNativeProc(1, true, func(e *Engine, args []Value, _ Value) (Value, error) {
		n, _ := e.vm.IntOf(args[0])
		return FromFixnum(n + 1), nil
	})
	m.Pin(double)
	m.Pin(inc)
	then := mustSend(t, m, double, ">>", inc)
	if got := mustSend(t, m, then, "call", FromFixnum(5)); got != FromFixnum(11) {
		t.Errorf("(double >> inc).call(5) = %v, want 11", got)
	}
	before := mustSend(t, m, double, "<<", inc)
	if got := mustSend(t, m, before, "call", FromFixnum(5)); got != FromFixnum(12) {
		t.Errorf("(double << inc).call(5) = %v, want 12", got)
	}
}

// ---------------------------------------------------------------------------
// Exception
// ---------------------------------------------------------------------------

func TestExceptionMessages(t *testing.T) {
	m, _ := newTestVM(t)

	cls, _ := m.Const("RuntimeError")
	exc := mustSend(t, m, cls, "new", m.NewString("boom"))
	m.Pin(exc)
	expectInspect(t, m, exc, "#<RuntimeError: boom>")
	expectInspect(t, m, mustSend(t, m, exc, "detailed_message"), `"boom (RuntimeError)"`)

	mustSend(t, m, exc, "set_backtrace", strs(m, "app.rb:3:in 'run'", "app.rb:9:in '<main>'"))
	full, _ := m.StringOf(mustSend(t, m, exc, "full_message"))
	want := "app.rb:3:in 'run': boom (RuntimeError)\n\tfrom app.rb:9:in '<main>'"
	if full != want {
		t.Errorf("full_message = %q, want %q", full, want)
	}

	bare := mustSend(t, m, cls, "new")
	expectInspect(t, m, bare, "RuntimeError")
}

func TestRaiseRecordsCause(t *testing.T) {
	m, _ := newTestVM(t)

	cls, _ := m.Const("KeyError")
	first := mustSend(t, m, cls, "new", m.NewString("first"))
	m.SetGlobal("$!", first)

	_, err := m.Send(m.Main(), "raise", m.NewString("second"))
	u := expectUncaught(t, err, "RuntimeError")
	if cause := mustSend(t, m, u.Exception, "cause"); cause != first {
		t.Errorf("cause = %s, want the KeyError", m.Inspect(cause))
	}

	m.SetGlobal("$!", Nil)
	_, err = m.Send(m.Main(), "raise", m.NewString("third"))
	u = expectUncaught(t, err, "RuntimeError")
	if cause := mustSend(t, m, u.Exception, "cause"); cause != Nil {
		t.Errorf("cause = %s, want nil", m.Inspect(cause))
	}
}
