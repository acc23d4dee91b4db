package vm

import (
	"math/big"
	"regexp"
)

// ObjKind discriminates heap object payloads.
type ObjKind uint8

const (
	ObjOrdinary ObjKind = iota
	ObjClass
	ObjModule
	ObjString
	ObjFloat
	ObjBignum
	ObjArray
	ObjHash
	ObjRange
	ObjProc
	ObjMethod
	ObjRegexp
	ObjException
	ObjFiber
	ObjEnumerator
	ObjSignal // internal: a pending unwind parked on the stack for ensure
)

var objKindNames = [...]string{
	"object", "class", "module", "string", "float", "bignum", "array", "hash",
	"range", "proc", "method", "regexp", "exception", "fiber", "enumerator", "signal",
}

func (k ObjKind) String() string {
	if int(k) < len(objKindNames) {
		return objKindNames[k]
	}
	return "unknown"
}

// RObject is a heap-allocated object living in the VM arena.
//
// class points at the object's singleton class when it has one; the
// singleton's superclass chain leads back to the real class.
type RObject struct {
	kind   ObjKind
	class  *Module
	ivars  map[Symbol]Value
	frozen bool
	mark   uint32

	// Scalar payloads, used according to kind.
	str []byte
	f   float64
	big *big.Int
	arr []Value

	// data holds the structured payload: *Hash, *Range, *Proc,
	// *MethodObject, *regexpData, *excData, *Fiber, *Enumerator,
	// *Module or (for ObjSignal) an error.
	data any
}

// Kind returns the payload kind.
func (o *RObject) Kind() ObjKind { return o.kind }

// Class returns the object's class or singleton class.
func (o *RObject) Class() *Module { return o.class }

// Ivar returns an instance variable, or nil if unset.
func (o *RObject) Ivar(name Symbol) Value {
	if v, ok := o.ivars[name]; ok {
		return v
	}
	return Nil
}

// SetIvar sets an instance variable.
func (o *RObject) SetIvar(name Symbol, v Value) {
	if o.ivars == nil {
		o.ivars = make(map[Symbol]Value, 4)
	}
	o.ivars[name] = v
}

// Frozen reports whether the object rejects mutation.
func (o *RObject) Frozen() bool { return o.frozen }

// Range is the payload of a Range object.
type Range struct {
	Begin, End Value
	Exclusive  bool
}

// MethodObject is the payload of a bound Method object.
type MethodObject struct {
	Recv Value
	Info *MethodInfo
}

type regexpData struct {
	re     *regexp.Regexp
	source string
}

// excData is the payload of an Exception instance.
type excData struct {
	message   Value
	backtrace []string
	cause     Value
}

func (o *RObject) hash() *Hash             { h, _ := o.data.(*Hash); return h }
func (o *RObject) rng() *Range             { r, _ := o.data.(*Range); return r }
func (o *RObject) proc() *Proc             { p, _ := o.data.(*Proc); return p }
func (o *RObject) method() *MethodObject   { m, _ := o.data.(*MethodObject); return m }
func (o *RObject) regexp() *regexpData     { r, _ := o.data.(*regexpData); return r }
func (o *RObject) exc() *excData           { x, _ := o.data.(*excData); return x }
func (o *RObject) fiber() *Fiber           { f, _ := o.data.(*Fiber); return f }
func (o *RObject) enumerator() *Enumerator { n, _ := o.data.(*Enumerator); return n }
func (o *RObject) module() *Module         { m, _ := o.data.(*Module); return m }

// ---------------------------------------------------------------------------
// Allocation helpers
// ---------------------------------------------------------------------------

// NewObject allocates an ordinary instance of cls.
func (vm *VM) NewObject(cls *Module) Value {
	return vm.alloc(&RObject{kind: cls.instKind, class: cls, data: newPayload(cls.instKind)})
}

func newPayload(k ObjKind) any {
	switch k {
	case ObjHash:
		return newHash()
	case ObjException:
		return &excData{message: Nil, cause: Nil}
	case ObjRange:
		return &Range{Begin: Nil, End: Nil}
	}
	return nil
}

// NewString allocates a String.
func (vm *VM) NewString(s string) Value {
	return vm.alloc(&RObject{kind: ObjString, class: vm.cString, str: []byte(s)})
}

func (vm *VM) newStringBytes(b []byte) Value {
	return vm.alloc(&RObject{kind: ObjString, class: vm.cString, str: b})
}

// NewArray allocates an Array holding a copy of elems.
func (vm *VM) NewArray(elems ...Value) Value {
	arr := make([]Value, len(elems))
	copy(arr, elems)
	return vm.newArrayNoCopy(arr)
}

func (vm *VM) newArrayNoCopy(arr []Value) Value {
	return vm.alloc(&RObject{kind: ObjArray, class: vm.cArray, arr: arr})
}

// NewHash allocates an empty Hash.
func (vm *VM) NewHash() Value {
	return vm.alloc(&RObject{kind: ObjHash, class: vm.cHash, data: newHash()})
}

// NewRange allocates a Range.
func (vm *VM) NewRange(begin, end Value, exclusive bool) Value {
	return vm.alloc(&RObject{kind: ObjRange, class: vm.cRange, data: &Range{Begin: begin, End: end, Exclusive: exclusive}})
}

// Float packs f as a flonum, boxing it when the encoding cannot hold it.
func (vm *VM) Float(f float64) Value {
	if v, ok := packFlonum(f); ok {
		return v
	}
	return vm.alloc(&RObject{kind: ObjFloat, class: vm.cFloat, f: f, frozen: true})
}

// Integer returns an immediate when n fits, otherwise a boxed bignum.
func (vm *VM) Integer(n int64) Value {
	if FitsFixnum(n) {
		return FromFixnum(n)
	}
	return vm.alloc(&RObject{kind: ObjBignum, class: vm.cInteger, big: big.NewInt(n), frozen: true})
}

// bigInteger normalizes b, demoting to a fixnum when it fits.
func (vm *VM) bigInteger(b *big.Int) Value {
	if b.IsInt64() && FitsFixnum(b.Int64()) {
		return FromFixnum(b.Int64())
	}
	return vm.alloc(&RObject{kind: ObjBignum, class: vm.cInteger, big: b, frozen: true})
}

func (vm *VM) newRegexp(re *regexp.Regexp, source string) Value {
	return vm.alloc(&RObject{kind: ObjRegexp, class: vm.cRegexp, data: &regexpData{re: re, source: source}, frozen: true})
}

func (vm *VM) newProcValue(p *Proc) Value {
	return vm.alloc(&RObject{kind: ObjProc, class: vm.cProc, data: p})
}

func (vm *VM) newSignal(err error) Value {
	return vm.alloc(&RObject{kind: ObjSignal, class: vm.cObject, data: err})
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// Object returns the heap object behind v, or nil for immediates.
func (vm *VM) Object(v Value) *RObject {
	if !v.IsHeap() {
		return nil
	}
	return vm.heap.get(v)
}

func (vm *VM) objKind(v Value) (ObjKind, bool) {
	if !v.IsHeap() {
		return 0, false
	}
	return vm.heap.get(v).kind, true
}

func (vm *VM) isKind(v Value, k ObjKind) bool {
	kind, ok := vm.objKind(v)
	return ok && kind == k
}

// StringOf returns the contents of a String value.
func (vm *VM) StringOf(v Value) (string, bool) {
	if !vm.isKind(v, ObjString) {
		return "", false
	}
	return string(vm.heap.get(v).str), true
}

// ArrayOf returns the backing slice of an Array value.
func (vm *VM) ArrayOf(v Value) ([]Value, bool) {
	if !vm.isKind(v, ObjArray) {
		return nil, false
	}
	return vm.heap.get(v).arr, true
}

// HashOf returns the payload of a Hash value.
func (vm *VM) HashOf(v Value) (*Hash, bool) {
	if !vm.isKind(v, ObjHash) {
		return nil, false
	}
	return vm.heap.get(v).hash(), true
}

// FloatOf returns the double held by a flonum or boxed Float.
func (vm *VM) FloatOf(v Value) (float64, bool) {
	if v.IsFlonum() {
		return v.Flonum(), true
	}
	if vm.isKind(v, ObjFloat) {
		return vm.heap.get(v).f, true
	}
	return 0, false
}

// IntOf returns the int64 held by an Integer that fits in 64 bits.
func (vm *VM) IntOf(v Value) (int64, bool) {
	if v.IsFixnum() {
		return v.Fixnum(), true
	}
	if vm.isKind(v, ObjBignum) {
		b := vm.heap.get(v).big
		if b.IsInt64() {
			return b.Int64(), true
		}
	}
	return 0, false
}

// BigOf returns the arbitrary-precision value of any Integer.
func (vm *VM) BigOf(v Value) (*big.Int, bool) {
	if v.IsFixnum() {
		return big.NewInt(v.Fixnum()), true
	}
	if vm.isKind(v, ObjBignum) {
		return new(big.Int).Set(vm.heap.get(v).big), true
	}
	return nil, false
}

// BigInteger converts b to an Integer, immediate when it fits.
func (vm *VM) BigInteger(b *big.Int) Value {
	return vm.bigInteger(new(big.Int).Set(b))
}

func (vm *VM) isInteger(v Value) bool {
	return v.IsFixnum() || vm.isKind(v, ObjBignum)
}

func (vm *VM) isFloat(v Value) bool {
	return v.IsFlonum() || vm.isKind(v, ObjFloat)
}

func (vm *VM) procOf(v Value) *Proc {
	if !vm.isKind(v, ObjProc) {
		return nil
	}
	return vm.heap.get(v).proc()
}

func (vm *VM) moduleOf(v Value) *Module {
	if !v.IsHeap() {
		return nil
	}
	o := vm.heap.get(v)
	if o.kind != ObjClass && o.kind != ObjModule {
		return nil
	}
	return o.module()
}
