package vm

import (
	"math"
	"math/big"
	"strconv"
)

// ---------------------------------------------------------------------------
// Numeric operators shared by Integer and Float
// ---------------------------------------------------------------------------

// numericOperators maps operator method names to their instructions. The
// builtins go through numericOp, so a send and the inline path agree.
var numericOperators = []struct {
	name string
	op   Opcode
}{
	{"+", OpAdd}, {"-", OpSub}, {"*", OpMul}, {"/", OpDiv}, {"%", OpMod},
	{"==", OpEq}, {"<", OpLt}, {"<=", OpLe}, {">", OpGt}, {">=", OpGe},
	{"<=>", OpCmp},
}

func (vm *VM) defineNumericOperators(cls *Module) {
	for _, o := range numericOperators {
		op := o.op
		vm.DefineMethod(cls, o.name, 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return vm.numericOp(op, self, args[0])
		})
	}
	vm.DefineMethod(cls, "modulo", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.numericOp(OpMod, self, args[0])
	})
	vm.DefineMethod(cls, "eql?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if vm.isInteger(self) != vm.isInteger(args[0]) || vm.isFloat(self) != vm.isFloat(args[0]) {
			return False, nil
		}
		return vm.numericOp(OpEq, self, args[0])
	})
	vm.DefineMethod(cls, "hash", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		k := vm.hashKeyOf(self)
		h := int64(k.f) ^ int64(k.imm)
		for _, c := range k.s {
			h = h*31 + int64(c)
		}
		return FromFixnum(h >> 2), nil
	})
	vm.DefineMethod(cls, "zero?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.toFloat(self) == 0), nil
	})
	vm.DefineMethod(cls, "positive?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.numSign(self) > 0), nil
	})
	vm.DefineMethod(cls, "negative?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.numSign(self) < 0), nil
	})
	vm.DefineMethod(cls, "to_f", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.Float(vm.toFloat(self)), nil
	})
	vm.DefineMethod(cls, "divmod", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		q, err := vm.numericOp(OpDiv, self, args[0])
		if err != nil {
			return Nil, err
		}
		if vm.isFloat(q) {
			q = vm.floatToInteger(math.Floor(vm.toFloat(q)))
		}
		r, err := vm.numericOp(OpMod, self, args[0])
		if err != nil {
			return Nil, err
		}
		return vm.NewArray(q, r), nil
	})
	vm.DefineMethod(cls, "fdiv", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if !vm.isInteger(args[0]) && !vm.isFloat(args[0]) {
			return Nil, vm.newError(vm.eTypeError, "%s can't be coerced into Float", vm.describeOperand(args[0]))
		}
		return vm.Float(vm.toFloat(self) / vm.toFloat(args[0])), nil
	})
	vm.DefineMethod(cls, "coerce", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if vm.isInteger(self) && vm.isInteger(args[0]) {
			return vm.NewArray(args[0], self), nil
		}
		if !vm.isInteger(args[0]) && !vm.isFloat(args[0]) {
			return Nil, vm.newError(vm.eTypeError, "%s can't be coerced into %s", vm.describeOperand(args[0]), vm.ClassOf(self).Name())
		}
		return vm.NewArray(vm.Float(vm.toFloat(args[0])), vm.Float(vm.toFloat(self))), nil
	})
}

func (vm *VM) numSign(v Value) int {
	if vm.isInteger(v) {
		return vm.toBig(v).Sign()
	}
	f := vm.toFloat(v)
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return 0
}

// floatToInteger truncates f to an Integer, promoting to a bignum when
// it does not fit in 64 bits.
func (vm *VM) floatToInteger(f float64) Value {
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return vm.Integer(int64(f))
	}
	b, _ := big.NewFloat(f).Int(nil)
	return vm.bigInteger(b)
}

// ---------------------------------------------------------------------------
// Integer Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() {
	c := vm.cInteger
	vm.defineNumericOperators(c)
	vm.undefSingleton(c, "new")
	vm.undefSingleton(vm.cFloat, "new")

	vm.DefineMethod(c, "**", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		switch {
		case vm.isInteger(args[0]):
			return vm.intPow(self, args[0]), nil
		case vm.isFloat(args[0]):
			return vm.Float(math.Pow(vm.toFloat(self), vm.toFloat(args[0]))), nil
		}
		return Nil, vm.newError(vm.eTypeError, "%s can't be coerced into Integer", vm.describeOperand(args[0]))
	})
	vm.DefineMethod(c, "pow", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.call(self, Intern("**"), args, false, Nil)
	})
	vm.DefineMethod(c, "-@", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.bigInteger(new(big.Int).Neg(vm.toBig(self))), nil
	})
	vm.DefineMethod(c, "abs", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.bigInteger(new(big.Int).Abs(vm.toBig(self))), nil
	})
	vm.DefineMethod(c, "div", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		q, err := vm.numericOp(OpDiv, self, args[0])
		if err != nil || !vm.isFloat(q) {
			return q, err
		}
		return vm.floatToInteger(math.Floor(vm.toFloat(q))), nil
	})
	toS := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		base := int64(10)
		if len(args) > 0 {
			b, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			if b < 2 || b > 36 {
				return Nil, vm.newError(vm.eArgumentError, "invalid radix %d", b)
			}
			base = b
		}
		return vm.NewString(vm.toBig(self).Text(int(base))), nil
	}
	vm.DefineMethod(c, "to_s", -1, toS)
	vm.DefineMethod(c, "inspect", -1, toS)
	ident := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	}
	vm.DefineMethod(c, "to_i", 0, ident)
	vm.DefineMethod(c, "to_int", 0, ident)
	vm.DefineMethod(c, "floor", -1, ident)
	vm.DefineMethod(c, "ceil", -1, ident)
	vm.DefineMethod(c, "round", -1, ident)
	vm.DefineMethod(c, "integer?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return True, nil
	})
	succ := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.numericOp(OpAdd, self, FromFixnum(1))
	}
	vm.DefineMethod(c, "succ", 0, succ)
	vm.DefineMethod(c, "next", 0, succ)
	vm.DefineMethod(c, "pred", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.numericOp(OpSub, self, FromFixnum(1))
	})
	vm.DefineMethod(c, "even?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.toBig(self).Bit(0) == 0), nil
	})
	vm.DefineMethod(c, "odd?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(vm.toBig(self).Bit(0) == 1), nil
	})
	vm.DefineMethod(c, "chr", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, _ := vm.IntOf(self)
		if n < 0 || n > 255 {
			return Nil, vm.newError(vm.eRangeError, "%d out of char range", n)
		}
		return vm.newStringBytes([]byte{byte(n)}), nil
	})

	// Bitwise operators
	bitOp := func(name string, fn func(z, x, y *big.Int) *big.Int) {
		vm.DefineMethod(c, name, 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if !vm.isInteger(args[0]) {
				return Nil, vm.typeError(args[0], "Integer")
			}
			return vm.bigInteger(fn(new(big.Int), vm.toBig(self), vm.toBig(args[0]))), nil
		})
	}
	bitOp("&", (*big.Int).And)
	bitOp("|", (*big.Int).Or)
	bitOp("^", (*big.Int).Xor)
	shift := func(left bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			n, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			if n < 0 {
				n, left = -n, !left
			}
			x := vm.toBig(self)
			if left {
				return vm.bigInteger(new(big.Int).Lsh(x, uint(n))), nil
			}
			return vm.bigInteger(new(big.Int).Rsh(x, uint(n))), nil
		}
	}
	vm.DefineMethod(c, "<<", 1, shift(true))
	vm.DefineMethod(c, ">>", 1, shift(false))
	vm.DefineMethod(c, "~", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.bigInteger(new(big.Int).Not(vm.toBig(self))), nil
	})

	// Iteration
	vm.DefineMethod(c, "times", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("times"), nil), nil
		}
		n, _ := vm.IntOf(self)
		for i := int64(0); i < n; i++ {
			if _, err := e.CallBlock(blk, FromFixnum(i)); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	step := func(name string, dir int64) {
		vm.DefineMethod(c, name, 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if blk == Nil {
				return vm.NewEnumerator(self, Intern(name), args), nil
			}
			from, _ := vm.IntOf(self)
			to, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			for i := from; (dir > 0 && i <= to) || (dir < 0 && i >= to); i += dir {
				if _, err := e.CallBlock(blk, vm.Integer(i)); err != nil {
					return Nil, err
				}
			}
			return self, nil
		})
	}
	step("upto", 1)
	step("downto", -1)
}

// undefSingleton hides an inherited class method such as new.
func (vm *VM) undefSingleton(cls *Module, name string) {
	s, err := vm.SingletonClass(cls.self)
	if err != nil {
		panic(err)
	}
	s.AddMethod(&MethodInfo{Name: Intern(name), Kind: MethodUndefined})
}

// parseInteger reads a leading decimal integer the way String#to_i does.
func parseInteger(s string) (int64, bool) {
	end := 0
	for end < len(s) && (s[end] == '-' || s[end] == '+') && end == 0 {
		end++
	}
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '_') {
		end++
	}
	digits := make([]byte, 0, end)
	for i := 0; i < end; i++ {
		if s[i] != '_' {
			digits = append(digits, s[i])
		}
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	return n, err == nil
}
