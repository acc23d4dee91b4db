package vm

import (
	"math"
	"math/big"
)

// ---------------------------------------------------------------------------
// Arithmetic instructions
// ---------------------------------------------------------------------------

// arith executes one of the operator instructions. Integer and Float
// operands take an inline path while the corresponding class has no
// user-visible redefinition of the operator; everything else is an
// ordinary send through the instruction's call cache. Both paths produce
// identical results.
func (e *Engine) arith(ctx *Context, op Opcode, cache *CallCache) (Value, error) {
	if e.sp-2 < e.base {
		panic(fatal(FatalStackCorruption, "operand stack underflow"))
	}
	a, b := e.stack[e.sp-2], e.stack[e.sp-1]
	if v, ok, err := e.vm.fastArith(op, a, b); ok {
		e.sp -= 2
		return v, err
	}
	v, err := e.dispatch(ctx, a, arithOps[op], e.stack[e.sp-1:e.sp], false, Nil, false, cache)
	e.sp -= 2
	return v, err
}

func (vm *VM) fastArith(op Opcode, a, b Value) (Value, bool, error) {
	if a.IsFixnum() && b.IsFixnum() {
		if vm.redefined[vm.cInteger] {
			return Nil, false, nil
		}
		v, err := vm.fixnumOp(op, a, b)
		return v, true, err
	}
	if (a.IsFlonum() || a.IsFixnum()) && (b.IsFlonum() || b.IsFixnum()) {
		if (a.IsFlonum() && vm.redefined[vm.cFloat]) || (a.IsFixnum() && vm.redefined[vm.cInteger]) {
			return Nil, false, nil
		}
		if isComparison(op) && (beyondFloatPrecision(a) || beyondFloatPrecision(b)) {
			return vm.mixedCompare(op, a, b), true, nil
		}
		return vm.floatOp(op, immediateFloat(a), immediateFloat(b)), true, nil
	}
	return Nil, false, nil
}

// beyondFloatPrecision reports a fixnum that float64 may not hold exactly.
func beyondFloatPrecision(v Value) bool {
	if !v.IsFixnum() {
		return false
	}
	n := v.Fixnum()
	return n > 1<<53 || n < -(1<<53)
}

func isComparison(op Opcode) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpCmp:
		return true
	}
	return false
}

// mixedCompare compares an Integer with a Float without rounding the
// Integer to float64.
func (vm *VM) mixedCompare(op Opcode, a, b Value) Value {
	var c int
	if vm.isInteger(a) {
		f := vm.toFloat(b)
		if math.IsNaN(f) {
			return vm.floatOp(op, 0, f)
		}
		c = new(big.Float).SetInt(vm.toBig(a)).Cmp(big.NewFloat(f))
	} else {
		f := vm.toFloat(a)
		if math.IsNaN(f) {
			return vm.floatOp(op, f, 0)
		}
		c = big.NewFloat(f).Cmp(new(big.Float).SetInt(vm.toBig(b)))
	}
	return compareResult(op, c)
}

func compareResult(op Opcode, c int) Value {
	switch op {
	case OpEq:
		return Bool(c == 0)
	case OpNe:
		return Bool(c != 0)
	case OpLt:
		return Bool(c < 0)
	case OpLe:
		return Bool(c <= 0)
	case OpGt:
		return Bool(c > 0)
	case OpGe:
		return Bool(c >= 0)
	}
	return FromFixnum(int64(c))
}

func immediateFloat(v Value) float64 {
	if v.IsFixnum() {
		return float64(v.Fixnum())
	}
	return v.Flonum()
}

// fixnumOp applies op to two fixnums. Addition and subtraction work on the
// tagged representation directly; overflow promotes to a bignum.
func (vm *VM) fixnumOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpAdd:
		ta, tb := int64(a), int64(b)-1
		s := ta + tb
		if (ta^s)&(tb^s) < 0 {
			return vm.bigInteger(new(big.Int).Add(big.NewInt(a.Fixnum()), big.NewInt(b.Fixnum()))), nil
		}
		return Value(s), nil
	case OpSub:
		ta, tb := int64(a), int64(b)-1
		d := ta - tb
		if (ta^tb)&(ta^d) < 0 {
			return vm.bigInteger(new(big.Int).Sub(big.NewInt(a.Fixnum()), big.NewInt(b.Fixnum()))), nil
		}
		return Value(d), nil
	}

	x, y := a.Fixnum(), b.Fixnum()
	switch op {
	case OpMul:
		r := x * y
		if x != 0 && (r/x != y || !FitsFixnum(r)) {
			return vm.bigInteger(new(big.Int).Mul(big.NewInt(x), big.NewInt(y))), nil
		}
		return FromFixnum(r), nil
	case OpDiv:
		if y == 0 {
			return Nil, vm.newError(vm.eZeroDivisionError, "divided by 0")
		}
		return vm.Integer(floorDiv(x, y)), nil
	case OpMod:
		if y == 0 {
			return Nil, vm.newError(vm.eZeroDivisionError, "divided by 0")
		}
		return FromFixnum(floorMod(x, y)), nil
	case OpEq:
		return Bool(a == b), nil
	case OpNe:
		return Bool(a != b), nil
	case OpLt:
		return Bool(x < y), nil
	case OpLe:
		return Bool(x <= y), nil
	case OpGt:
		return Bool(x > y), nil
	case OpGe:
		return Bool(x >= y), nil
	case OpCmp:
		return FromFixnum(int64(cmp3(x, y))), nil
	}
	return Nil, fatal(FatalInvalidOpcode, "%s is not an arithmetic instruction", op)
}

func floorDiv(x, y int64) int64 {
	q := x / y
	if x%y != 0 && (x < 0) != (y < 0) {
		q--
	}
	return q
}

func floorMod(x, y int64) int64 {
	r := x % y
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r
}

func floatMod(x, y float64) float64 {
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r
}

func cmp3[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func (vm *VM) floatOp(op Opcode, x, y float64) Value {
	switch op {
	case OpAdd:
		return vm.Float(x + y)
	case OpSub:
		return vm.Float(x - y)
	case OpMul:
		return vm.Float(x * y)
	case OpDiv:
		return vm.Float(x / y)
	case OpMod:
		return vm.Float(floatMod(x, y))
	case OpEq:
		return Bool(x == y)
	case OpNe:
		return Bool(x != y)
	case OpLt:
		return Bool(x < y)
	case OpLe:
		return Bool(x <= y)
	case OpGt:
		return Bool(x > y)
	case OpGe:
		return Bool(x >= y)
	case OpCmp:
		if math.IsNaN(x) || math.IsNaN(y) {
			return Nil
		}
		return FromFixnum(int64(cmp3(x, y)))
	}
	return Nil
}

// ---------------------------------------------------------------------------
// General numeric operations (Integer and Float methods)
// ---------------------------------------------------------------------------

func (vm *VM) toBig(v Value) *big.Int {
	if v.IsFixnum() {
		return big.NewInt(v.Fixnum())
	}
	return vm.heap.get(v).big
}

func (vm *VM) toFloat(v Value) float64 {
	if f, ok := vm.FloatOf(v); ok {
		return f
	}
	if v.IsFixnum() {
		return float64(v.Fixnum())
	}
	f, _ := new(big.Float).SetInt(vm.heap.get(v).big).Float64()
	return f
}

// numericOp applies op to a numeric receiver and argument, widening to
// bignum or Float as needed.
func (vm *VM) numericOp(op Opcode, a, b Value) (Value, error) {
	aInt, bInt := vm.isInteger(a), vm.isInteger(b)
	bNum := bInt || vm.isFloat(b)
	if !bNum {
		switch op {
		case OpEq:
			return False, nil
		case OpNe:
			return True, nil
		case OpCmp:
			return Nil, nil
		case OpLt, OpLe, OpGt, OpGe:
			return Nil, vm.newError(vm.eArgumentError, "comparison of %s with %s failed", vm.ClassOf(a).Name(), vm.describeOperand(b))
		}
		return Nil, vm.newError(vm.eTypeError, "%s can't be coerced into %s", vm.describeOperand(b), vm.ClassOf(a).Name())
	}
	if aInt && bInt {
		if a.IsFixnum() && b.IsFixnum() {
			return vm.fixnumOp(op, a, b)
		}
		return vm.bigOp(op, vm.toBig(a), vm.toBig(b))
	}
	if (aInt || bInt) && isComparison(op) {
		return vm.mixedCompare(op, a, b), nil
	}
	return vm.floatOp(op, vm.toFloat(a), vm.toFloat(b)), nil
}

func (vm *VM) describeOperand(v Value) string {
	switch v {
	case Nil:
		return "nil"
	case True:
		return "true"
	case False:
		return "false"
	}
	return vm.ClassOf(v).Name()
}

func (vm *VM) bigOp(op Opcode, x, y *big.Int) (Value, error) {
	switch op {
	case OpAdd:
		return vm.bigInteger(new(big.Int).Add(x, y)), nil
	case OpSub:
		return vm.bigInteger(new(big.Int).Sub(x, y)), nil
	case OpMul:
		return vm.bigInteger(new(big.Int).Mul(x, y)), nil
	case OpDiv, OpMod:
		if y.Sign() == 0 {
			return Nil, vm.newError(vm.eZeroDivisionError, "divided by 0")
		}
		q, r := new(big.Int).QuoRem(x, y, new(big.Int))
		if r.Sign() != 0 && r.Sign() != y.Sign() {
			q.Sub(q, big.NewInt(1))
			r.Add(r, y)
		}
		if op == OpDiv {
			return vm.bigInteger(q), nil
		}
		return vm.bigInteger(r), nil
	case OpEq:
		return Bool(x.Cmp(y) == 0), nil
	case OpNe:
		return Bool(x.Cmp(y) != 0), nil
	case OpLt:
		return Bool(x.Cmp(y) < 0), nil
	case OpLe:
		return Bool(x.Cmp(y) <= 0), nil
	case OpGt:
		return Bool(x.Cmp(y) > 0), nil
	case OpGe:
		return Bool(x.Cmp(y) >= 0), nil
	case OpCmp:
		return FromFixnum(int64(x.Cmp(y))), nil
	}
	return Nil, fatal(FatalInvalidOpcode, "%s is not an arithmetic instruction", op)
}

// intPow raises an Integer to an Integer power. Negative exponents give a
// Float.
func (vm *VM) intPow(a, b Value) Value {
	exp := vm.toBig(b)
	if exp.Sign() < 0 {
		return vm.Float(math.Pow(vm.toFloat(a), vm.toFloat(b)))
	}
	return vm.bigInteger(new(big.Int).Exp(vm.toBig(a), exp, nil))
}
