package vm

import (
	"fmt"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Fixnum tests
// ---------------------------------------------------------------------------

func TestFixnumRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, MaxFixnum, MinFixnum} {
		v := FromFixnum(n)
		if !v.IsFixnum() {
			t.Errorf("FromFixnum(%d) is not a fixnum", n)
		}
		if v.Kind() != KindFixnum {
			t.Errorf("FromFixnum(%d).Kind() = %s, want fixnum", n, v.Kind())
		}
		if got := v.Fixnum(); got != n {
			t.Errorf("FromFixnum(%d).Fixnum() = %d", n, got)
		}
	}
}

func TestFitsFixnum(t *testing.T) {
	if !FitsFixnum(MaxFixnum) || !FitsFixnum(MinFixnum) {
		t.Error("fixnum bounds should fit")
	}
	if FitsFixnum(MaxFixnum+1) || FitsFixnum(MinFixnum-1) {
		t.Error("values past the fixnum bounds should not fit")
	}
}

func TestIntegerBoxesOutOfRange(t *testing.T) {
	m, _ := newTestVM(t)

	v := m.Integer(math.MaxInt64)
	if v.IsFixnum() {
		t.Fatal("MaxInt64 should be a bignum")
	}
	if got, ok := m.IntOf(v); !ok || got != math.MaxInt64 {
		t.Errorf("IntOf = %d, %v", got, ok)
	}
	if m.ClassOf(v) != m.cInteger {
		t.Errorf("class = %s, want Integer", m.ClassOf(v).Name())
	}
}

// ---------------------------------------------------------------------------
// Flonum tests
// ---------------------------------------------------------------------------

func TestFlonumRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 1.5, -2.25, 3.141592653589793, 1e10, 1e-10} {
		v, ok := packFlonum(f)
		if !ok {
			t.Errorf("packFlonum(%g) failed", f)
			continue
		}
		if !v.IsFlonum() || v.Kind() != KindFlonum {
			t.Errorf("packFlonum(%g) kind = %s", f, v.Kind())
		}
		if got := v.Flonum(); got != f {
			t.Errorf("packFlonum(%g).Flonum() = %g", f, got)
		}
	}
}

func TestFlonumZeroEncoding(t *testing.T) {
	v, ok := packFlonum(0)
	if !ok || v != flonumZero {
		t.Fatalf("packFlonum(0) = %#x, %v", uint64(v), ok)
	}
	if math.Signbit(v.Flonum()) {
		t.Error("+0.0 decoded with a sign")
	}
}

func TestFloatsOutsideWindowAreBoxed(t *testing.T) {
	m, _ := newTestVM(t)

	for _, f := range []float64{math.Copysign(0, -1), 1e300, 1e-300, math.Inf(1), math.NaN()} {
		v := m.Float(f)
		if v.IsFlonum() {
			t.Errorf("Float(%g) should be boxed", f)
			continue
		}
		got, ok := m.FloatOf(v)
		if !ok {
			t.Errorf("FloatOf(Float(%g)) failed", f)
			continue
		}
		if math.IsNaN(f) {
			if !math.IsNaN(got) {
				t.Errorf("NaN decoded as %g", got)
			}
			continue
		}
		if got != f || math.Signbit(got) != math.Signbit(f) {
			t.Errorf("FloatOf(Float(%g)) = %g", f, got)
		}
	}
}

func TestNegativeZeroInspect(t *testing.T) {
	m, _ := newTestVM(t)
	expectInspect(t, m, m.Float(math.Copysign(0, -1)), "-0.0")
	expectInspect(t, m, m.Float(0), "0.0")
}

// ---------------------------------------------------------------------------
// Immediates
// ---------------------------------------------------------------------------

func TestSpecialConstants(t *testing.T) {
	cases := []struct {
		v      Value
		kind   Kind
		truthy bool
	}{
		{Nil, KindNil, false},
		{False, KindFalse, false},
		{True, KindTrue, true},
		{Undef, KindUndef, true},
		{FromFixnum(0), KindFixnum, true},
	}
	for _, c := range cases {
		if c.v.Kind() != c.kind {
			t.Errorf("%s.Kind() = %s, want %s", c.v, c.v.Kind(), c.kind)
		}
		if c.v.Truthy() != c.truthy {
			t.Errorf("%s.Truthy() = %v, want %v", c.v, c.v.Truthy(), c.truthy)
		}
		if c.v.IsHeap() {
			t.Errorf("%s should not be a heap value", c.v)
		}
	}
}

func TestNonCanonicalImmediatesDecodeInvalid(t *testing.T) {
	for _, v := range []Value{0x24, 0x2c, 0x3c, 0x104, False | 1<<32, True | 1<<40, Undef | 1<<33} {
		if k := v.Kind(); k != KindInvalid {
			t.Errorf("0x%x.Kind() = %s, want invalid", uint64(v), k)
		}
		if s := v.String(); s != fmt.Sprintf("#<invalid 0x%x>", uint64(v)) {
			t.Errorf("0x%x.String() = %q", uint64(v), s)
		}
	}

	// Every low byte decodes to some kind, and only immediate patterns with
	// no constructor are invalid.
	for lo := Value(0); lo < 256; lo++ {
		for _, hi := range []Value{0, 1 << 32, 0xdeadbeef << 32} {
			v := hi | lo
			k := v.Kind()
			if k.String() == "" {
				t.Fatalf("0x%x decoded to an unnamed kind", uint64(v))
			}
			if k != KindInvalid {
				continue
			}
			if v&1 == 1 || v&3 == 2 || v&7 == 0 || uint32(v) == tagSymbol {
				t.Errorf("0x%x.Kind() = invalid for an encodable pattern", uint64(v))
			}
		}
	}
}

func TestSymbolValues(t *testing.T) {
	a := SymbolValue(Intern("status"))
	b := SymbolValue(Intern("status"))
	if a != b {
		t.Error("interning the same name twice should give the same value")
	}
	if !a.IsSymbol() || a.Kind() != KindSymbol {
		t.Errorf("kind = %s, want symbol", a.Kind())
	}
	if a.Symbol().String() != "status" {
		t.Errorf("name = %q, want status", a.Symbol().String())
	}
	if a.String() != ":status" {
		t.Errorf("String() = %q, want :status", a.String())
	}
	if SymbolValue(Intern("other")) == a {
		t.Error("distinct names share a symbol")
	}
}

func TestHeapValues(t *testing.T) {
	m, _ := newTestVM(t)

	s := m.NewString("x")
	if !s.IsHeap() || s.Kind() != KindHeap {
		t.Fatalf("kind = %s, want heap", s.Kind())
	}
	if s.IsFixnum() || s.IsFlonum() || s.IsSymbol() {
		t.Error("heap value matched an immediate tag")
	}
	if got, ok := m.StringOf(s); !ok || got != "x" {
		t.Errorf("StringOf = %q, %v", got, ok)
	}
}
