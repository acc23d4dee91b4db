package vm

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: Tagged machine word
// ---------------------------------------------------------------------------

// Value is a 64-bit tagged word. The low bits select the representation:
//
//	...xxxxxxx1  Fixnum   (63-bit signed integer, value<<1 | 1)
//	...xxxxxx10  Flonum   (IEEE-754 double rotated left by 3 bits)
//	...xxxxx000  Heap     (arena index<<3, index >= 1)
//	0x0000000000000000  nil
//	0x0000000000000004  undef (internal "not supplied" marker)
//	0x0000000000000014  false
//	0x000000000000001c  true
//	iiiiiiii0000000c    Symbol (32-bit id in the high word)
//
// Doubles whose exponent falls outside the flonum window, and -0.0, are
// stored as boxed Float heap objects.
type Value uint64

// Special constants.
const (
	Nil   Value = 0x00
	Undef Value = 0x04
	False Value = 0x14
	True  Value = 0x1c
)

const (
	tagSymbol = 0x0c

	// flonumZero encodes +0.0. Its natural decoding (0x3000000000000000)
	// is therefore never packed as a flonum.
	flonumZero Value = 0x8000000000000002
)

// Fixnum range.
const (
	MaxFixnum = 1<<62 - 1
	MinFixnum = -(1 << 62)
)

// Kind classifies the representation of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNil
	KindTrue
	KindFalse
	KindUndef
	KindFixnum
	KindFlonum
	KindSymbol
	KindHeap
)

var kindNames = [...]string{"invalid", "nil", "true", "false", "undef", "fixnum", "flonum", "symbol", "heap"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Kind decodes the tag of v. Every word built by the constructors in this
// file decodes to its own kind; the remaining immediate patterns, such as
// 0x24 or false with high bits set, decode as KindInvalid.
func (v Value) Kind() Kind {
	switch {
	case v&1 == 1:
		return KindFixnum
	case v&3 == 2:
		return KindFlonum
	case v == Nil:
		return KindNil
	case v&7 == 0:
		return KindHeap
	}
	switch v {
	case True:
		return KindTrue
	case False:
		return KindFalse
	case Undef:
		return KindUndef
	}
	if uint32(v) == tagSymbol {
		return KindSymbol
	}
	return KindInvalid
}

// ---------------------------------------------------------------------------
// Fixnums
// ---------------------------------------------------------------------------

// FitsFixnum reports whether n can be stored as an immediate integer.
func FitsFixnum(n int64) bool {
	return n >= MinFixnum && n <= MaxFixnum
}

// FromFixnum packs n, which must satisfy FitsFixnum.
func FromFixnum(n int64) Value {
	return Value(uint64(n)<<1 | 1)
}

// IsFixnum returns true if v is an immediate integer.
func (v Value) IsFixnum() bool {
	return v&1 == 1
}

// Fixnum returns the integer stored in v. v must be a fixnum.
func (v Value) Fixnum() int64 {
	return int64(v) >> 1
}

// ---------------------------------------------------------------------------
// Flonums
// ---------------------------------------------------------------------------

// packFlonum tries to encode f as an immediate. It fails for -0.0, NaN
// payloads and exponents outside the window, which must be boxed instead.
func packFlonum(f float64) (Value, bool) {
	u := math.Float64bits(f)
	if u == 0 {
		return flonumZero, true
	}
	exp := ((u >> 60) & 7) + 1
	if exp&6 != 4 {
		return 0, false
	}
	v := Value(bits.RotateLeft64(u&^(6<<60)|4<<60, 3))
	if v == flonumZero {
		return 0, false
	}
	return v, true
}

// IsFlonum returns true if v is an immediate double.
func (v Value) IsFlonum() bool {
	return v&3 == 2
}

// Flonum returns the double stored in v. v must be a flonum.
func (v Value) Flonum() float64 {
	if v == flonumZero {
		return 0
	}
	u := uint64(v)
	b := 2 - ((u >> 63) & 1)
	return math.Float64frombits(bits.RotateLeft64(u&^3|b, -3))
}

// ---------------------------------------------------------------------------
// Symbols, booleans, heap references
// ---------------------------------------------------------------------------

// SymbolValue packs an interned symbol.
func SymbolValue(s Symbol) Value {
	return Value(uint64(s)<<32 | tagSymbol)
}

// IsSymbol returns true if v is an immediate symbol.
func (v Value) IsSymbol() bool {
	return uint32(v) == tagSymbol
}

// Symbol returns the symbol stored in v. v must be a symbol.
func (v Value) Symbol() Symbol {
	return Symbol(v >> 32)
}

// Bool converts a Go bool.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Truthy returns false only for nil and false.
func (v Value) Truthy() bool {
	return v != Nil && v != False
}

// IsHeap returns true if v references an arena object.
func (v Value) IsHeap() bool {
	return v != Nil && v&7 == 0
}

func heapValue(index uint32) Value {
	return Value(uint64(index) << 3)
}

func (v Value) heapIndex() uint32 {
	return uint32(v >> 3)
}

// String renders immediates; heap values print their arena index.
// Use VM.Inspect for a full rendering.
func (v Value) String() string {
	switch v.Kind() {
	case KindNil:
		return "nil"
	case KindTrue:
		return "true"
	case KindFalse:
		return "false"
	case KindUndef:
		return "undef"
	case KindFixnum:
		return strconv.FormatInt(v.Fixnum(), 10)
	case KindFlonum:
		return formatFloat(v.Flonum())
	case KindSymbol:
		return ":" + v.Symbol().String()
	case KindHeap:
		return fmt.Sprintf("#<heap %d>", v.heapIndex())
	}
	return fmt.Sprintf("#<invalid 0x%x>", uint64(v))
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' {
			return s
		}
	}
	return s + ".0"
}
