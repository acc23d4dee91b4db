package interchange

import (
	"bytes"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/chazu/garnet/vm"
)

func TestScalarRoundTrip(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	cases := []struct {
		name string
		v    vm.Value
	}{
		{"nil", vm.Nil},
		{"true", vm.True},
		{"false", vm.False},
		{"fixnum", vm.FromFixnum(42)},
		{"negative", vm.FromFixnum(-7)},
		{"int64 max", m.Integer(math.MaxInt64)},
		{"bignum", m.BigInteger(huge)},
		{"float", m.Float(2.5)},
		{"negative zero", m.Float(math.Copysign(0, -1))},
		{"string", m.NewString("héllo")},
		{"symbol", vm.SymbolValue(vm.Intern("status"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(m, tc.v)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := Unmarshal(m, data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if m.Inspect(got) != m.Inspect(tc.v) {
				t.Errorf("got %s, want %s", m.Inspect(got), m.Inspect(tc.v))
			}
		})
	}
}

func TestNegativeZeroKeepsSign(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	data, err := Marshal(m, m.Float(math.Copysign(0, -1)))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(m, data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	f, ok := m.FloatOf(got)
	if !ok || !math.Signbit(f) {
		t.Errorf("got %s, want -0.0", m.Inspect(got))
	}
}

func TestContainers(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	hv := m.NewHash()
	h, _ := m.HashOf(hv)
	m.HashSet(h, vm.SymbolValue(vm.Intern("b")), m.NewArray(vm.FromFixnum(1), m.NewString("two")))
	m.HashSet(h, m.NewString("a"), vm.Nil)

	data, err := Marshal(m, hv)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(m, data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	gh, ok := m.HashOf(got)
	if !ok || gh.Len() != 2 {
		t.Fatalf("got %s, want a two-entry Hash", m.Inspect(got))
	}
	arr, ok := m.HashGet(gh, vm.SymbolValue(vm.Intern("b")))
	if !ok {
		t.Fatal("symbol key :b lost")
	}
	if s := m.Inspect(arr); s != `[1, "two"]` {
		t.Errorf("got %s, want [1, \"two\"]", s)
	}
	if v, ok := m.HashGet(gh, m.NewString("a")); !ok || v != vm.Nil {
		t.Error(`string key "a" lost`)
	}
}

func TestCanonicalEncodingIsDeterministic(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	build := func(order []string) vm.Value {
		hv := m.NewHash()
		h, _ := m.HashOf(hv)
		for _, k := range order {
			m.HashSet(h, m.NewString(k), vm.FromFixnum(int64(len(k))))
		}
		return hv
	}
	a, err := Marshal(m, build([]string{"x", "yy", "zzz"}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(m, build([]string{"zzz", "x", "yy"}))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding depends on insertion order")
	}

	got, err := Unmarshal(m, a)
	if err != nil {
		t.Fatal(err)
	}
	if s := m.Inspect(got); s != `{"x" => 1, "yy" => 2, "zzz" => 3}` {
		t.Errorf("decoded order: %s", s)
	}
}

func TestUnsupportedValues(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	obj := m.NewObject(m.ObjectClass())
	if _, err := Marshal(m, obj); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Marshal(Object): got %v, want ErrUnsupported", err)
	}

	hv := m.NewHash()
	h, _ := m.HashOf(hv)
	m.HashSet(h, m.NewArray(vm.FromFixnum(1)), vm.True)
	if _, err := Marshal(m, hv); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Marshal(array key): got %v, want ErrUnsupported", err)
	}
}

func TestCyclicArrayRejected(t *testing.T) {
	m := vm.NewVM()
	defer m.Close()

	a := m.NewArray()
	if _, err := m.Send(a, "push", a); err != nil {
		t.Fatal(err)
	}
	if _, err := Marshal(m, a); err == nil {
		t.Error("expected an error for a self-containing Array")
	}
}
