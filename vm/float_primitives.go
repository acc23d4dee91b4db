package vm

import "math"

// ---------------------------------------------------------------------------
// Float Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFloatPrimitives() {
	c := vm.cFloat
	vm.defineNumericOperators(c)
	c.SetConst(Intern("INFINITY"), vm.Float(math.Inf(1)))
	c.SetConst(Intern("NAN"), vm.Float(math.NaN()))
	c.SetConst(Intern("EPSILON"), vm.Float(2.220446049250313e-16))

	vm.DefineMethod(c, "**", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if !vm.isInteger(args[0]) && !vm.isFloat(args[0]) {
			return Nil, vm.newError(vm.eTypeError, "%s can't be coerced into Float", vm.describeOperand(args[0]))
		}
		return vm.Float(math.Pow(vm.toFloat(self), vm.toFloat(args[0]))), nil
	})
	vm.DefineMethod(c, "-@", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.Float(-vm.toFloat(self)), nil
	})
	vm.DefineMethod(c, "abs", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.Float(math.Abs(vm.toFloat(self))), nil
	})
	toS := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(formatFloat(vm.toFloat(self))), nil
	}
	vm.DefineMethod(c, "to_s", 0, toS)
	vm.DefineMethod(c, "inspect", 0, toS)
	vm.DefineMethod(c, "nan?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(math.IsNaN(vm.toFloat(self))), nil
	})
	vm.DefineMethod(c, "finite?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		f := vm.toFloat(self)
		return Bool(!math.IsNaN(f) && !math.IsInf(f, 0)), nil
	})
	vm.DefineMethod(c, "infinite?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		f := vm.toFloat(self)
		switch {
		case math.IsInf(f, 1):
			return FromFixnum(1), nil
		case math.IsInf(f, -1):
			return FromFixnum(-1), nil
		}
		return Nil, nil
	})
	vm.DefineMethod(c, "integer?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return False, nil
	})

	// Rounding. With a digit count the result stays a Float.
	rounding := func(fn func(float64) float64) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if err := vm.checkArgs(args, 0, 1); err != nil {
				return Nil, err
			}
			f := vm.toFloat(self)
			if len(args) == 1 {
				d, err := vm.intArg(args[0])
				if err != nil {
					return Nil, err
				}
				if d > 0 {
					p := math.Pow(10, float64(d))
					return vm.Float(fn(f*p) / p), nil
				}
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Nil, vm.newError(vm.eRangeError, "%s", formatFloat(f))
			}
			return vm.floatToInteger(fn(f)), nil
		}
	}
	vm.DefineMethod(c, "floor", -1, rounding(math.Floor))
	vm.DefineMethod(c, "ceil", -1, rounding(math.Ceil))
	vm.DefineMethod(c, "round", -1, rounding(math.Round))
	vm.DefineMethod(c, "truncate", -1, rounding(math.Trunc))
	vm.DefineMethod(c, "to_i", 0, rounding(math.Trunc))
}
