// Package interchange converts script values to and from canonical CBOR so
// embedders can move data across the VM boundary without sharing heap
// handles.
//
// Supported values are nil, true, false, Integers (including bignums),
// Floats, Strings, Symbols, Arrays, and Hashes whose keys are themselves
// scalar. Symbols travel as CBOR tag 39 wrapping their name. Hash entries
// are written in canonical key order, so insertion order is not preserved.
package interchange

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/garnet/vm"
)

// SymbolTag is the CBOR tag number that marks a Symbol.
const SymbolTag = 39

// MaxDepth bounds container nesting, which also rejects cyclic structures.
const MaxDepth = 256

// ErrUnsupported is wrapped by errors for values with no CBOR form.
var ErrUnsupported = errors.New("unsupported value")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("interchange: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{MaxNestedLevels: MaxDepth + 8}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("interchange: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v as canonical CBOR.
func Marshal(m *vm.VM, v vm.Value) ([]byte, error) {
	x, err := toHost(m, v, 0)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(x)
}

// Unmarshal decodes CBOR into a new script value. The result is not
// rooted; Pin it before running more code if it must survive a collection.
func Unmarshal(m *vm.VM, data []byte) (vm.Value, error) {
	var x any
	if err := decMode.Unmarshal(data, &x); err != nil {
		return vm.Nil, fmt.Errorf("interchange: unmarshal: %w", err)
	}
	return fromHost(m, x, 0)
}

func toHost(m *vm.VM, v vm.Value, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("interchange: nesting deeper than %d", MaxDepth)
	}
	switch v {
	case vm.Nil:
		return nil, nil
	case vm.True:
		return true, nil
	case vm.False:
		return false, nil
	}
	if v.IsSymbol() {
		return cbor.Tag{Number: SymbolTag, Content: v.Symbol().String()}, nil
	}
	if n, ok := m.IntOf(v); ok {
		return n, nil
	}
	if b, ok := m.BigOf(v); ok {
		return b, nil
	}
	if f, ok := m.FloatOf(v); ok {
		return f, nil
	}
	if s, ok := m.StringOf(v); ok {
		return s, nil
	}
	if elems, ok := m.ArrayOf(v); ok {
		out := make([]any, len(elems))
		for i, el := range elems {
			x, err := toHost(m, el, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}
	if h, ok := m.HashOf(v); ok {
		out := make(map[any]any, h.Len())
		var err error
		h.Each(func(k, val vm.Value) bool {
			var hk, hv any
			if hk, err = toHost(m, k, depth+1); err != nil {
				return false
			}
			if !comparableKey(hk) {
				err = fmt.Errorf("interchange: hash key %s: %w", m.Inspect(k), ErrUnsupported)
				return false
			}
			if hv, err = toHost(m, val, depth+1); err != nil {
				return false
			}
			out[hk] = hv
			return true
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("interchange: %s: %w", m.ClassOf(v).Name(), ErrUnsupported)
}

func comparableKey(x any) bool {
	switch x.(type) {
	case nil, bool, int64, float64, string, cbor.Tag:
		return true
	}
	return false
}

func fromHost(m *vm.VM, x any, depth int) (vm.Value, error) {
	if depth > MaxDepth {
		return vm.Nil, fmt.Errorf("interchange: nesting deeper than %d", MaxDepth)
	}
	switch t := x.(type) {
	case nil:
		return vm.Nil, nil
	case bool:
		return vm.Bool(t), nil
	case int64:
		return m.Integer(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return m.BigInteger(new(big.Int).SetUint64(t)), nil
		}
		return m.Integer(int64(t)), nil
	case big.Int:
		return m.BigInteger(&t), nil
	case *big.Int:
		return m.BigInteger(t), nil
	case float64:
		return m.Float(t), nil
	case float32:
		return m.Float(float64(t)), nil
	case string:
		return m.NewString(t), nil
	case []byte:
		return m.NewString(string(t)), nil
	case cbor.Tag:
		name, ok := t.Content.(string)
		if t.Number != SymbolTag || !ok {
			return vm.Nil, fmt.Errorf("interchange: CBOR tag %d: %w", t.Number, ErrUnsupported)
		}
		return vm.SymbolValue(vm.Intern(name)), nil
	case []any:
		elems := make([]vm.Value, len(t))
		for i, el := range t {
			v, err := fromHost(m, el, depth+1)
			if err != nil {
				return vm.Nil, err
			}
			elems[i] = v
		}
		return m.NewArray(elems...), nil
	case map[any]any:
		keys, err := canonicalKeys(t)
		if err != nil {
			return vm.Nil, err
		}
		hv := m.NewHash()
		h, _ := m.HashOf(hv)
		for _, k := range keys {
			kv, err := fromHost(m, k, depth+1)
			if err != nil {
				return vm.Nil, err
			}
			vv, err := fromHost(m, t[k], depth+1)
			if err != nil {
				return vm.Nil, err
			}
			m.HashSet(h, kv, vv)
		}
		return hv, nil
	}
	return vm.Nil, fmt.Errorf("interchange: %T: %w", x, ErrUnsupported)
}

// canonicalKeys orders map keys the way the canonical encoder writes them
// (shorter encodings first, then bytewise), so decoding is deterministic.
func canonicalKeys(t map[any]any) ([]any, error) {
	type entry struct {
		key any
		enc []byte
	}
	entries := make([]entry, 0, len(t))
	for k := range t {
		b, err := encMode.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("interchange: hash key: %w", err)
		}
		entries = append(entries, entry{k, b})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if len(a.enc) != len(b.enc) {
			return len(a.enc) - len(b.enc)
		}
		return bytes.Compare(a.enc, b.enc)
	})
	keys := make([]any, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}
