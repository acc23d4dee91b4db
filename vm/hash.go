package vm

import (
	"math"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Hash is the payload of a Hash object: an insertion-ordered map from
// script values to script values.
type Hash struct {
	m           *linkedhashmap.Map // hashKey -> *hashEntry
	Default     Value
	DefaultProc Value
}

type hashEntry struct {
	key, value Value
}

// hashKey is the comparable identity of a key. Strings and bignums hash
// by content, floats by bit pattern, everything else by Value identity.
type hashKey struct {
	kind ObjKind
	imm  Value
	s    string
	f    uint64
}

func newHash() *Hash {
	return &Hash{m: linkedhashmap.New(), Default: Nil, DefaultProc: Nil}
}

func (vm *VM) hashKeyOf(v Value) hashKey {
	if !v.IsHeap() {
		if v.IsFlonum() {
			return hashKey{kind: ObjFloat, f: math.Float64bits(v.Flonum())}
		}
		return hashKey{imm: v}
	}
	o := vm.heap.get(v)
	switch o.kind {
	case ObjString:
		return hashKey{kind: ObjString, s: string(o.str)}
	case ObjBignum:
		return hashKey{kind: ObjBignum, s: o.big.String()}
	case ObjFloat:
		return hashKey{kind: ObjFloat, f: math.Float64bits(o.f)}
	}
	return hashKey{kind: ObjOrdinary, imm: v}
}

// Len returns the number of entries.
func (h *Hash) Len() int { return h.m.Size() }

// Each visits entries in insertion order. Returning false stops the walk.
func (h *Hash) Each(fn func(k, v Value) bool) {
	it := h.m.Iterator()
	for it.Next() {
		e := it.Value().(*hashEntry)
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (h *Hash) Keys() []Value {
	out := make([]Value, 0, h.m.Size())
	h.Each(func(k, _ Value) bool { out = append(out, k); return true })
	return out
}

// HashGet looks up key.
func (vm *VM) HashGet(h *Hash, key Value) (Value, bool) {
	e, ok := h.m.Get(vm.hashKeyOf(key))
	if !ok {
		return Nil, false
	}
	return e.(*hashEntry).value, true
}

// HashSet inserts or replaces key. String keys are copied and frozen, as
// a later mutation of the caller's string must not corrupt the table.
func (vm *VM) HashSet(h *Hash, key, value Value) {
	k := vm.hashKeyOf(key)
	if e, ok := h.m.Get(k); ok {
		e.(*hashEntry).value = value
		return
	}
	if s, ok := vm.StringOf(key); ok && !vm.heap.get(key).frozen {
		key = vm.NewString(s)
		vm.heap.get(key).frozen = true
	}
	h.m.Put(k, &hashEntry{key: key, value: value})
}

// HashDelete removes key and returns its value.
func (vm *VM) HashDelete(h *Hash, key Value) (Value, bool) {
	k := vm.hashKeyOf(key)
	e, ok := h.m.Get(k)
	if !ok {
		return Nil, false
	}
	h.m.Remove(k)
	return e.(*hashEntry).value, true
}

// clear removes every entry.
func (h *Hash) clear() { h.m.Clear() }
