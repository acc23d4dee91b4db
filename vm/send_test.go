package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Argument binding tests
// ---------------------------------------------------------------------------

// kwMethod is def m(a, b = 10, key:, opt: 5) = [a, b, key, opt].
func kwMethod() *ISeq {
	return build("m", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("a")
		b.Optional("b")
		key := b.Keyword("key", true)
		opt := b.Keyword("opt", false)
		b.OptEntry()
		b.PushInt(10)
		b.SetLocal(1, 0)
		b.OptEntry()
		have := b.NewLabel()
		b.CheckLocal(opt, 0)
		b.Jump(OpJumpIf, have)
		b.PushInt(5)
		b.SetLocal(opt, 0)
		b.Mark(have)
		b.GetLocal(0, 0)
		b.GetLocal(1, 0)
		b.GetLocal(key, 0)
		b.GetLocal(opt, 0)
		b.NewArray(4)
		b.Emit(OpReturn)
	})
}

// callKw defines m and calls it with the arguments pushed by args.
func callKw(args func(b *ISeqBuilder) (int, byte)) *ISeq {
	return topLevel(func(b *ISeqBuilder) {
		b.DefMethod("m", kwMethod())
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		argc, flags := args(b)
		b.Send("m", argc, flags|FlagFcall, nil)
		b.Emit(OpReturn)
	})
}

func pushKw(b *ISeqBuilder, pairs ...any) {
	for i := 0; i < len(pairs); i += 2 {
		b.PushSym(pairs[i].(string))
		b.PushInt(int32(pairs[i+1].(int)))
	}
	b.NewHash(len(pairs) / 2)
}

func TestOptionalAndKeywordParams(t *testing.T) {
	m, _ := newTestVM(t)

	cases := []struct {
		name string
		args func(b *ISeqBuilder) (int, byte)
		want string
	}{
		{"defaults", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			pushKw(b, "key", 3)
			return 2, FlagKwargs
		}, "[1, 10, 3, 5]"},
		{"all supplied", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			b.PushInt(2)
			pushKw(b, "key", 3, "opt", 4)
			return 3, FlagKwargs
		}, "[1, 2, 3, 4]"},
		{"splat", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			b.PushInt(2)
			b.NewArray(2)
			pushKw(b, "key", 3)
			return 2, FlagSplat | FlagKwargs
		}, "[1, 2, 3, 5]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			expectInspect(t, m, mustRun(t, m, callKw(c.args)), c.want)
		})
	}
}

func TestArgumentErrors(t *testing.T) {
	m, _ := newTestVM(t)

	cases := []struct {
		name string
		args func(b *ISeqBuilder) (int, byte)
		want string
	}{
		{"missing keyword", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			return 1, 0
		}, "missing keyword: :key"},
		{"unknown keyword", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			pushKw(b, "key", 1, "bogus", 2)
			return 2, FlagKwargs
		}, "unknown keyword: :bogus"},
		{"too many", func(b *ISeqBuilder) (int, byte) {
			b.PushInt(1)
			b.PushInt(2)
			b.PushInt(3)
			pushKw(b, "key", 1)
			return 4, FlagKwargs
		}, "wrong number of arguments (given 3, expected 1..2)"},
		{"too few", func(b *ISeqBuilder) (int, byte) {
			pushKw(b, "key", 1)
			return 1, FlagKwargs
		}, "wrong number of arguments (given 0, expected 1..2)"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := m.Run(callKw(c.args))
			u := expectUncaught(t, err, "ArgumentError")
			if u.Message != c.want {
				t.Errorf("message = %q, want %q", u.Message, c.want)
			}
		})
	}
}

func TestRestAndPostParams(t *testing.T) {
	m, _ := newTestVM(t)

	// def m(a, *rest, z) = [a, rest, z]
	body := build("m", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("a")
		b.Rest("rest")
		b.Post("z")
		b.GetLocal(0, 0)
		b.GetLocal(1, 0)
		b.GetLocal(2, 0)
		b.NewArray(3)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("m", body)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		for i := int32(1); i <= 4; i++ {
			b.PushInt(i)
		}
		callSelf(b, "m", 4)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[1, [2, 3], 4]")
}

func TestBlocksAreLenient(t *testing.T) {
	m, _ := newTestVM(t)

	// [[1, 2], [3]].map { |a, b| [b, a] }
	iseq := topLevel(func(b *ISeqBuilder) {
		blk := build("block in <main>", ISeqBlock, func(b *ISeqBuilder) {
			b.Required("a", "b")
			b.GetLocal(1, 0)
			b.GetLocal(0, 0)
			b.NewArray(2)
			b.Emit(OpReturn)
		})
		b.PushInt(1)
		b.PushInt(2)
		b.NewArray(2)
		b.PushInt(3)
		b.NewArray(1)
		b.NewArray(2)
		b.Send("map", 0, 0, blk)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[[2, 1], [nil, 3]]")
}

func TestSymbolBlockArgument(t *testing.T) {
	m, _ := newTestVM(t)

	// [1, 2].map(&:to_s)
	iseq := topLevel(func(b *ISeqBuilder) {
		b.PushInt(1)
		b.PushInt(2)
		b.NewArray(2)
		b.PushSym("to_s")
		b.Send("map", 0, FlagBlockArg, nil)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), `["1", "2"]`)
}

func TestYieldWithoutBlockRaises(t *testing.T) {
	m, _ := newTestVM(t)

	g := build("g", ISeqMethod, func(b *ISeqBuilder) {
		b.Yield(0, 0)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.DefMethod("g", g)
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "g", 0)
		b.Emit(OpReturn)
	})
	_, err := m.Run(iseq)
	u := expectUncaught(t, err, "LocalJumpError")
	if u.Message != "no block given (yield)" {
		t.Errorf("message = %q", u.Message)
	}
}

// ---------------------------------------------------------------------------
// Classes, mixins and super
// ---------------------------------------------------------------------------

func TestClassDefinition(t *testing.T) {
	m, _ := newTestVM(t)

	// class Point
	//   attr_reader :x
	//   def initialize(x); @x = x; end
	// end
	// Point.new(3).x
	init := build("initialize", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("x")
		b.GetLocal(0, 0)
		b.SetIvar("@x")
		b.Emit(OpPushNil)
		b.Emit(OpReturn)
	})
	body := build("<class:Point>", ISeqClass, func(b *ISeqBuilder) {
		b.Emit(OpPushSelf)
		b.PushSym("x")
		callSelf(b, "attr_reader", 1)
		b.Emit(OpPOP)
		b.DefMethod("initialize", init)
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		b.Emit(OpPushNil)
		b.DefClass("Point", body, false)
		b.Emit(OpPOP)
		b.GetConst("Point")
		b.PushInt(3)
		b.Send("new", 1, 0, nil)
		b.Send("x", 0, 0, nil)
		b.Emit(OpReturn)
	})
	if got := mustRun(t, m, iseq); got != FromFixnum(3) {
		t.Errorf("Point.new(3).x = %v, want 3", got)
	}

	v, ok := m.Const("Point")
	if !ok {
		t.Fatal("Point not defined")
	}
	point := m.moduleOf(v)
	if point.Superclass() != m.ObjectClass() {
		t.Errorf("superclass = %v, want Object", point.Superclass())
	}
	if mi := point.FindMethod(Intern("initialize")); mi == nil || mi.Visibility != Private {
		t.Error("initialize should be private")
	}

	// Reopening with another superclass is an error.
	_, err := m.Run(topLevel(func(b *ISeqBuilder) {
		b.GetConst("String")
		b.DefClass("Point", body, false)
		b.Emit(OpReturn)
	}))
	u := expectUncaught(t, err, "TypeError")
	if u.Message != "superclass mismatch for class Point" {
		t.Errorf("message = %q", u.Message)
	}
}

func TestSingletonMethodAndAlias(t *testing.T) {
	m, _ := newTestVM(t)

	greet := build("greet", ISeqMethod, func(b *ISeqBuilder) {
		b.PushString("hi")
		b.Emit(OpReturn)
	})
	iseq := topLevel(func(b *ISeqBuilder) {
		obj := b.Local("obj")
		b.GetConst("Object")
		b.Send("new", 0, 0, nil)
		b.SetLocal(obj, 0)
		b.GetLocal(obj, 0)
		b.DefSMethod("greet", greet)
		b.Emit(OpPOP)
		b.GetLocal(obj, 0)
		b.Send("greet", 0, 0, nil)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), `"hi"`)

	iseq = topLevel(func(b *ISeqBuilder) {
		b.DefMethod("greet", greet)
		b.Emit(OpPOP)
		b.Alias("salute", "greet")
		b.Emit(OpPOP)
		b.Emit(OpPushSelf)
		callSelf(b, "salute", 0)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), `"hi"`)
}

// speakMethod returns a method body computing prefix + super (or just
// prefix when super is false).
func speakMethod(prefix string, super bool) *ISeq {
	return build("speak", ISeqMethod, func(b *ISeqBuilder) {
		b.PushString(prefix)
		if super {
			b.SendSuper(0, 0, nil)
			b.Send("+", 1, 0, nil)
		}
		b.Emit(OpReturn)
	})
}

func TestSuperThroughIncludeAndPrepend(t *testing.T) {
	m, _ := newTestVM(t)

	animal := m.DefineClass("Animal", nil)
	dog := m.DefineClass("Dog", animal)
	tail := m.DefineModule("Tail")
	head := m.DefineModule("Head")
	speak := Intern("speak")
	m.defineISeqMethod(animal, speak, speakMethod("animal", false), m.topCref, Public)
	m.defineISeqMethod(dog, speak, speakMethod("dog>", true), m.topCref, Public)
	m.defineISeqMethod(tail, speak, speakMethod("tail>", true), m.topCref, Public)
	m.defineISeqMethod(head, speak, speakMethod("head>", true), m.topCref, Public)

	mustSend(t, m, dog.Value(), "include", tail.Value())
	mustSend(t, m, dog.Value(), "prepend", head.Value())

	anc := dog.Ancestors()
	want := []*Module{head, dog, tail, animal, m.ObjectClass()}
	if len(anc) < len(want) {
		t.Fatalf("ancestors = %v", anc)
	}
	for i, mod := range want {
		if anc[i] != mod {
			t.Errorf("ancestors[%d] = %s, want %s", i, anc[i].Name(), mod.Name())
		}
	}

	obj := mustSend(t, m, dog.Value(), "new")
	expectInspect(t, m, mustSend(t, m, obj, "speak"), `"head>dog>tail>animal"`)

	if mustSend(t, m, dog.Value(), "include?", tail.Value()) != True {
		t.Error("Dog.include?(Tail) should be true")
	}
}

func TestSuperWithoutSuperMethod(t *testing.T) {
	m, _ := newTestVM(t)

	lonely := m.DefineClass("Lonely", nil)
	m.defineISeqMethod(lonely, Intern("speak"), speakMethod("x", true), m.topCref, Public)
	obj := mustSend(t, m, lonely.Value(), "new")
	_, err := m.Send(obj, "speak")
	expectUncaught(t, err, "NoMethodError")
}

// ---------------------------------------------------------------------------
// Method missing
// ---------------------------------------------------------------------------

func TestMethodMissingReceivesNameAndArgs(t *testing.T) {
	m, _ := newTestVM(t)

	ghost := m.DefineClass("Ghost", nil)
	mm := build("method_missing", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("name")
		b.Rest("args")
		b.GetLocal(0, 0)
		b.GetLocal(1, 0)
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	m.defineISeqMethod(ghost, Intern("method_missing"), mm, m.topCref, Private)

	obj := mustSend(t, m, ghost.Value(), "new")
	expectInspect(t, m, mustSend(t, m, obj, "boo", FromFixnum(1), FromFixnum(2)), "[:boo, [1, 2]]")
}

func TestUndefinedMethodErrors(t *testing.T) {
	m, _ := newTestVM(t)

	// Object.new.nope
	_, err := m.Run(topLevel(func(b *ISeqBuilder) {
		b.GetConst("Object")
		b.Send("new", 0, 0, nil)
		b.Send("nope", 0, 0, nil)
		b.Emit(OpReturn)
	}))
	u := expectUncaught(t, err, "NoMethodError")
	if u.Message != "undefined method 'nope' for an instance of Object" {
		t.Errorf("message = %q", u.Message)
	}

	// A bare identifier with no receiver reads as a local variable.
	_, err = m.Run(topLevel(func(b *ISeqBuilder) {
		b.Emit(OpPushSelf)
		callSelf(b, "nope", 0)
		b.Emit(OpReturn)
	}))
	u = expectUncaught(t, err, "NameError")
	if !strings.HasPrefix(u.Message, "undefined local variable or method 'nope'") {
		t.Errorf("message = %q", u.Message)
	}
}

// ---------------------------------------------------------------------------
// Inline caches
// ---------------------------------------------------------------------------

func TestCallCacheInvalidatedByRedefinition(t *testing.T) {
	m, _ := newTestVM(t)

	foo := m.DefineClass("Foo", nil)
	m.DefineMethod(foo, "val", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(1), nil
	})
	// def fetch(o) = o.val
	fetch := build("fetch", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("o")
		b.GetLocal(0, 0)
		b.Send("val", 0, 0, nil)
		b.Emit(OpReturn)
	})
	m.defineISeqMethod(m.ObjectClass(), Intern("fetch"), fetch, m.topCref, Public)

	obj := mustSend(t, m, foo.Value(), "new")
	for range 2 {
		if got := mustSend(t, m, m.Main(), "fetch", obj); got != FromFixnum(1) {
			t.Fatalf("fetch = %v, want 1", got)
		}
	}
	cache := &fetch.callCaches[0]
	if cache.Hits != 1 || cache.Misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", cache.Hits, cache.Misses)
	}

	gen := m.Generation()
	m.DefineMethod(foo, "val", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(2), nil
	})
	if m.Generation() <= gen {
		t.Error("redefinition should advance the generation")
	}
	if got := mustSend(t, m, m.Main(), "fetch", obj); got != FromFixnum(2) {
		t.Errorf("fetch = %v after redefinition, want 2", got)
	}
	if cache.Misses != 2 {
		t.Errorf("misses = %d, want 2", cache.Misses)
	}
}

func TestCallCacheInvalidatedByHierarchyChange(t *testing.T) {
	two := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(2), nil
	}
	tests := []struct {
		name   string
		mutate func(t *testing.T, m *VM, foo, mix *Module)
	}{
		{"include", func(t *testing.T, m *VM, foo, mix *Module) {
			mustSend(t, m, foo.Value(), "include", mix.Value())
		}},
		{"prepend", func(t *testing.T, m *VM, foo, mix *Module) {
			mustSend(t, m, foo.Value(), "prepend", mix.Value())
		}},
		{"define_method", func(t *testing.T, m *VM, foo, mix *Module) {
			body := m.NewNativeProc(-1, true, func(e *Engine, args []Value, _ Value) (Value, error) {
				return FromFixnum(2), nil
			})
			mustSend(t, m, foo.Value(), "define_method", SymbolValue(Intern("val")), body)
		}},
		{"alias_method", func(t *testing.T, m *VM, foo, mix *Module) {
			mustSend(t, m, foo.Value(), "alias_method", SymbolValue(Intern("val")), SymbolValue(Intern("two")))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestVM(t)

			// class Base; def val = 1; end
			// class Foo < Base; def two = 2; end
			// module Mix; def val = 2; end
			base := m.DefineClass("Base", nil)
			m.DefineMethod(base, "val", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
				return FromFixnum(1), nil
			})
			foo := m.DefineClass("Foo", base)
			m.DefineMethod(foo, "two", 0, two)
			mix := m.DefineModule("Mix")
			m.DefineMethod(mix, "val", 0, two)

			// def fetch(o) = o.val
			fetch := build("fetch", ISeqMethod, func(b *ISeqBuilder) {
				b.Required("o")
				b.GetLocal(0, 0)
				b.Send("val", 0, 0, nil)
				b.Emit(OpReturn)
			})
			m.defineISeqMethod(m.ObjectClass(), Intern("fetch"), fetch, m.topCref, Public)

			obj := mustSend(t, m, foo.Value(), "new")
			m.Pin(obj)
			for range 1000 {
				if got := mustSend(t, m, m.Main(), "fetch", obj); got != FromFixnum(1) {
					t.Fatalf("fetch = %v, want 1", got)
				}
			}
			cache := &fetch.callCaches[0]
			if cache.Hits != 999 || cache.Misses != 1 {
				t.Fatalf("cache hits/misses = %d/%d, want 999/1", cache.Hits, cache.Misses)
			}

			gen := m.Generation()
			tt.mutate(t, m, foo, mix)
			if m.Generation() <= gen {
				t.Errorf("%s did not advance the generation", tt.name)
			}
			if got := mustSend(t, m, m.Main(), "fetch", obj); got != FromFixnum(2) {
				t.Errorf("fetch = %v after %s, want 2", got, tt.name)
			}
			if cache.Misses != 2 {
				t.Errorf("misses = %d after %s, want 2", cache.Misses, tt.name)
			}
		})
	}
}

func TestCallCacheIsMonomorphic(t *testing.T) {
	m, _ := newTestVM(t)

	fetch := build("fetch", ISeqMethod, func(b *ISeqBuilder) {
		b.Required("o")
		b.GetLocal(0, 0)
		b.Send("class", 0, 0, nil)
		b.Emit(OpReturn)
	})
	m.defineISeqMethod(m.ObjectClass(), Intern("fetch"), fetch, m.topCref, Public)

	for _, v := range []Value{FromFixnum(1), m.NewString("s"), FromFixnum(2)} {
		got := mustSend(t, m, m.Main(), "fetch", v)
		if got != m.ClassOf(v).Value() {
			t.Errorf("fetch(%s) = %s", m.Inspect(v), m.Inspect(got))
		}
	}
	if cache := &fetch.callCaches[0]; cache.Hits != 0 || cache.Misses != 3 {
		t.Errorf("hits/misses = %d/%d, want 0/3", cache.Hits, cache.Misses)
	}
}

func TestConstantCacheInvalidatedBySet(t *testing.T) {
	m, _ := newTestVM(t)

	limit := Intern("LIMIT")
	m.ObjectClass().SetConst(limit, FromFixnum(1))
	// def limit = LIMIT
	read := build("limit", ISeqMethod, func(b *ISeqBuilder) {
		b.GetConst("LIMIT")
		b.Emit(OpReturn)
	})
	m.defineISeqMethod(m.ObjectClass(), Intern("limit"), read, m.topCref, Public)

	mustSend(t, m, m.Main(), "limit")
	if got := mustSend(t, m, m.Main(), "limit"); got != FromFixnum(1) {
		t.Fatalf("limit = %v, want 1", got)
	}
	if read.constCaches[0].Hits != 1 {
		t.Errorf("const cache hits = %d, want 1", read.constCaches[0].Hits)
	}

	m.ObjectClass().SetConst(limit, FromFixnum(2))
	if got := mustSend(t, m, m.Main(), "limit"); got != FromFixnum(2) {
		t.Errorf("limit = %v after reassignment, want 2", got)
	}

	_, err := m.Run(topLevel(func(b *ISeqBuilder) {
		b.GetConst("MISSING")
		b.Emit(OpReturn)
	}))
	u := expectUncaught(t, err, "NameError")
	if u.Message != "uninitialized constant MISSING" {
		t.Errorf("message = %q", u.Message)
	}
}

func TestConstantResolvesThroughReceiverClass(t *testing.T) {
	m, _ := newTestVM(t)

	// class A; def get = K; end
	// class B < A; K = 5; end
	a := m.DefineClass("A", nil)
	b := m.DefineClass("B", a)
	b.SetConst(Intern("K"), FromFixnum(5))
	get := build("get", ISeqMethod, func(b *ISeqBuilder) {
		b.GetConst("K")
		b.Emit(OpReturn)
	})
	m.defineISeqMethod(a, Intern("get"), get, &Cref{Module: a, Outer: m.topCref}, Public)

	objA := mustSend(t, m, a.Value(), "new")
	objB := mustSend(t, m, b.Value(), "new")
	m.Pin(objA)
	m.Pin(objB)

	_, err := m.Send(objA, "get")
	u := expectUncaught(t, err, "NameError")
	if u.Message != "uninitialized constant A::K" {
		t.Errorf("message = %q", u.Message)
	}

	for range 2 {
		if got := mustSend(t, m, objB, "get"); got != FromFixnum(5) {
			t.Fatalf("B.new.get = %v, want 5", got)
		}
	}
	cache := &get.constCaches[0]
	if cache.Hits != 1 {
		t.Errorf("const cache hits = %d, want 1", cache.Hits)
	}

	_, err = m.Send(objA, "get")
	expectUncaught(t, err, "NameError")
	if cache.Hits != 1 {
		t.Errorf("const cache hits = %d after a different receiver, want 1", cache.Hits)
	}
}

func TestScopedConstants(t *testing.T) {
	m, _ := newTestVM(t)

	outer := m.DefineModule("Outer")
	outer.SetConst(Intern("INNER"), FromFixnum(7))

	iseq := topLevel(func(b *ISeqBuilder) {
		b.GetConst("Outer")
		b.GetScope("INNER")
		b.GetConstTop("Outer")
		b.NewArray(2)
		b.Emit(OpReturn)
	})
	expectInspect(t, m, mustRun(t, m, iseq), "[7, Outer]")

	_, err := m.Run(topLevel(func(b *ISeqBuilder) {
		b.GetConst("Outer")
		b.GetScope("String")
		b.Emit(OpReturn)
	}))
	u := expectUncaught(t, err, "NameError")
	if u.Message != "uninitialized constant Outer::String" {
		t.Errorf("message = %q", u.Message)
	}
}
