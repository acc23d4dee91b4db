package vm

import (
	"errors"
	"slices"
)

// ---------------------------------------------------------------------------
// Enumerable Primitives
// ---------------------------------------------------------------------------
//
// Every Enumerable method drives the receiver's each with a native block.
// Values that must outlive one step of the iteration are stored in rooted
// heap Arrays, since a native block's handles are released when it returns.

// iterate calls recv.each, handing each yielded element to fn. fn returns
// false to stop the iteration early.
func (e *Engine) iterate(recv Value, fn func(elem Value) (bool, error)) error {
	vm := e.vm
	var stop *jumpSignal
	var blk Value
	blk = vm.NewNativeProc(-1, false, func(e *Engine, args []Value, _ Value) (Value, error) {
		more, err := fn(blockElem(e.vm, args))
		if err != nil {
			return Nil, err
		}
		if !more {
			stop = &jumpSignal{kind: jumpBreak, proc: e.vm.procOf(blk), value: Nil}
			return Nil, stop
		}
		return Nil, nil
	})
	e.Keep(blk)
	_, err := e.call(recv, symEach, nil, false, blk)
	var js *jumpSignal
	if err != nil && stop != nil && errors.As(err, &js) && js == stop {
		return nil
	}
	return err
}

// blockElem packs the values of one yield the way a one-parameter block
// sees them.
func blockElem(vm *VM, args []Value) Value {
	switch len(args) {
	case 0:
		return Nil
	case 1:
		return args[0]
	}
	return vm.NewArray(args...)
}

// rootedArray allocates an Array that stays alive until the running
// builtin returns.
func (e *Engine) rootedArray() *RObject {
	v := e.vm.newArrayNoCopy(nil)
	e.Keep(v)
	return e.vm.heap.get(v)
}

func (e *Engine) collect(recv Value, fn func(elem Value, out *RObject) (bool, error)) (Value, error) {
	out := e.rootedArray()
	err := e.iterate(recv, func(elem Value) (bool, error) {
		return fn(elem, out)
	})
	if err != nil {
		return Nil, err
	}
	return e.vm.newArrayNoCopy(out.arr), nil
}

func (e *Engine) enumToA(recv Value) (Value, error) {
	return e.collect(recv, func(elem Value, out *RObject) (bool, error) {
		out.arr = append(out.arr, elem)
		return true, nil
	})
}

func (e *Engine) enumTake(recv, count Value) (Value, error) {
	n, err := e.vm.intArg(count)
	if err != nil {
		return Nil, err
	}
	if n < 0 {
		return Nil, e.vm.newError(e.vm.eArgumentError, "attempt to take negative size")
	}
	if n == 0 {
		return e.vm.NewArray(), nil
	}
	return e.collect(recv, func(elem Value, out *RObject) (bool, error) {
		out.arr = append(out.arr, elem)
		return int64(len(out.arr)) < n, nil
	})
}

func (e *Engine) enumCount(recv Value, args []Value, blk Value) (Value, error) {
	n := int64(0)
	err := e.iterate(recv, func(elem Value) (bool, error) {
		switch {
		case len(args) > 0:
			same, err := e.valuesEqual(elem, args[0])
			if err != nil {
				return false, err
			}
			if same {
				n++
			}
		case blk != Nil:
			r, err := e.CallBlock(blk, elem)
			if err != nil {
				return false, err
			}
			if r.Truthy() {
				n++
			}
		default:
			n++
		}
		return true, nil
	})
	return FromFixnum(n), err
}

// predicate evaluates the block, or the pattern argument with ===, or the
// element's truthiness.
func (e *Engine) predicate(elem Value, args []Value, blk Value) (bool, error) {
	switch {
	case len(args) > 0:
		r, err := e.call(args[0], symEqq, []Value{elem}, false, Nil)
		return r.Truthy(), err
	case blk != Nil:
		r, err := e.CallBlock(blk, elem)
		return r.Truthy(), err
	}
	return elem.Truthy(), nil
}

func (vm *VM) registerEnumerablePrimitives() {
	m := vm.mEnumerable

	vm.DefineMethod(m, "to_a", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.enumToA(self)
	})
	vm.DefineMethod(m, "entries", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.enumToA(self)
	})
	mapFn := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("map"), nil), nil
		}
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			v, err := e.CallBlock(blk, elem)
			out.arr = append(out.arr, v)
			return true, err
		})
	}
	vm.DefineMethod(m, "map", 0, mapFn)
	vm.DefineMethod(m, "collect", 0, mapFn)
	vm.DefineMethod(m, "flat_map", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			v, err := e.CallBlock(blk, elem)
			if inner, ok := vm.ArrayOf(v); ok {
				out.arr = append(out.arr, inner...)
			} else {
				out.arr = append(out.arr, v)
			}
			return true, err
		})
	})
	filter := func(name string, keep bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if blk == Nil {
				return vm.NewEnumerator(self, Intern(name), nil), nil
			}
			return e.collect(self, func(elem Value, out *RObject) (bool, error) {
				r, err := e.CallBlock(blk, elem)
				if r.Truthy() == keep {
					out.arr = append(out.arr, elem)
				}
				return true, err
			})
		}
	}
	vm.DefineMethod(m, "select", 0, filter("select", true))
	vm.DefineMethod(m, "filter", 0, filter("filter", true))
	vm.DefineMethod(m, "reject", 0, filter("reject", false))
	vm.DefineMethod(m, "filter_map", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			v, err := e.CallBlock(blk, elem)
			if v.Truthy() {
				out.arr = append(out.arr, v)
			}
			return true, err
		})
	})
	vm.DefineMethod(m, "partition", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		yes, no := e.rootedArray(), e.rootedArray()
		err := e.iterate(self, func(elem Value) (bool, error) {
			r, err := e.CallBlock(blk, elem)
			if r.Truthy() {
				yes.arr = append(yes.arr, elem)
			} else {
				no.arr = append(no.arr, elem)
			}
			return true, err
		})
		if err != nil {
			return Nil, err
		}
		return vm.NewArray(vm.newArrayNoCopy(yes.arr), vm.newArrayNoCopy(no.arr)), nil
	})

	// Searching
	member := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		found := false
		err := e.iterate(self, func(elem Value) (bool, error) {
			same, err := e.valuesEqual(elem, args[0])
			found = same
			return !same, err
		})
		return Bool(found), err
	}
	vm.DefineMethod(m, "include?", 1, member)
	vm.DefineMethod(m, "member?", 1, member)
	find := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := e.rootedArray()
		err := e.iterate(self, func(elem Value) (bool, error) {
			r, err := e.CallBlock(blk, elem)
			if r.Truthy() {
				out.arr = append(out.arr, elem)
				return false, err
			}
			return true, err
		})
		if err != nil || len(out.arr) == 0 {
			return Nil, err
		}
		return out.arr[0], nil
	}
	vm.DefineMethod(m, "find", 0, find)
	vm.DefineMethod(m, "detect", 0, find)
	vm.DefineMethod(m, "find_index", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		i, at := int64(0), int64(-1)
		err := e.iterate(self, func(elem Value) (bool, error) {
			var hit bool
			var err error
			if len(args) > 0 {
				hit, err = e.valuesEqual(elem, args[0])
			} else {
				var r Value
				r, err = e.CallBlock(blk, elem)
				hit = r.Truthy()
			}
			if hit {
				at = i
				return false, err
			}
			i++
			return true, err
		})
		if err != nil || at < 0 {
			return Nil, err
		}
		return FromFixnum(at), nil
	})
	vm.DefineMethod(m, "count", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.enumCount(self, args, blk)
	})
	vm.DefineMethod(m, "first", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if len(args) > 0 {
			return e.enumTake(self, args[0])
		}
		v, err := e.enumTake(self, FromFixnum(1))
		if err != nil {
			return Nil, err
		}
		if a, _ := vm.ArrayOf(v); len(a) > 0 {
			return a[0], nil
		}
		return Nil, nil
	})
	vm.DefineMethod(m, "take", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.enumTake(self, args[0])
	})
	vm.DefineMethod(m, "take_while", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			r, err := e.CallBlock(blk, elem)
			if err != nil || !r.Truthy() {
				return false, err
			}
			out.arr = append(out.arr, elem)
			return true, nil
		})
	})
	vm.DefineMethod(m, "drop", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		i := int64(0)
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			if i >= n {
				out.arr = append(out.arr, elem)
			}
			i++
			return true, nil
		})
	})
	quantifier := func(stopOn bool, resultOnStop bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			result := !resultOnStop
			err := e.iterate(self, func(elem Value) (bool, error) {
				hit, err := e.predicate(elem, args, blk)
				if err != nil {
					return false, err
				}
				if hit == stopOn {
					result = resultOnStop
					return false, nil
				}
				return true, nil
			})
			return Bool(result), err
		}
	}
	vm.DefineMethod(m, "any?", -1, quantifier(true, true))
	vm.DefineMethod(m, "all?", -1, quantifier(false, false))
	vm.DefineMethod(m, "none?", -1, quantifier(true, false))

	// Folding
	inject := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 2); err != nil {
			return Nil, err
		}
		acc := e.rootedArray()
		op := Symbol(0)
		switch {
		case len(args) == 2:
			acc.arr = []Value{args[0]}
			name, err := vm.symArg(args[1])
			if err != nil {
				return Nil, err
			}
			op = name
		case len(args) == 1 && blk == Nil:
			name, err := vm.symArg(args[0])
			if err != nil {
				return Nil, err
			}
			op = name
		case len(args) == 1:
			acc.arr = []Value{args[0]}
		}
		err := e.iterate(self, func(elem Value) (bool, error) {
			if len(acc.arr) == 0 {
				acc.arr = []Value{elem}
				return true, nil
			}
			var v Value
			var err error
			if op != 0 {
				v, err = e.call(acc.arr[0], op, []Value{elem}, false, Nil)
			} else {
				v, err = e.CallBlock(blk, acc.arr[0], elem)
			}
			acc.arr[0] = v
			return true, err
		})
		if err != nil || len(acc.arr) == 0 {
			return Nil, err
		}
		return acc.arr[0], nil
	}
	vm.DefineMethod(m, "inject", -1, inject)
	vm.DefineMethod(m, "reduce", -1, inject)
	vm.DefineMethod(m, "sum", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		acc := e.rootedArray()
		acc.arr = []Value{optArg(args, 0, FromFixnum(0))}
		err := e.iterate(self, func(elem Value) (bool, error) {
			if blk != Nil {
				var err error
				if elem, err = e.CallBlock(blk, elem); err != nil {
					return false, err
				}
			}
			v, err := e.call(acc.arr[0], symAdd, []Value{elem}, false, Nil)
			acc.arr[0] = v
			return true, err
		})
		return acc.arr[0], err
	})
	vm.DefineMethod(m, "each_with_index", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("each_with_index"), nil), nil
		}
		i := int64(0)
		err := e.iterate(self, func(elem Value) (bool, error) {
			_, err := e.CallBlock(blk, elem, FromFixnum(i))
			i++
			return true, err
		})
		return self, err
	})
	vm.DefineMethod(m, "each_with_object", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		memo := args[0]
		err := e.iterate(self, func(elem Value) (bool, error) {
			_, err := e.CallBlock(blk, elem, memo)
			return true, err
		})
		return memo, err
	})
	slicer := func(name string, cons bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			n, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			if n <= 0 {
				return Nil, vm.newError(vm.eArgumentError, "invalid size")
			}
			if blk == Nil {
				return vm.NewEnumerator(self, Intern(name), args), nil
			}
			win := e.rootedArray()
			err = e.iterate(self, func(elem Value) (bool, error) {
				win.arr = append(win.arr, elem)
				if int64(len(win.arr)) < n {
					return true, nil
				}
				_, err := e.CallBlock(blk, vm.NewArray(win.arr...))
				if cons {
					win.arr = win.arr[1:]
				} else {
					win.arr = win.arr[:0]
				}
				return true, err
			})
			if err == nil && !cons && len(win.arr) > 0 {
				_, err = e.CallBlock(blk, vm.NewArray(win.arr...))
			}
			return self, err
		}
	}
	vm.DefineMethod(m, "each_slice", 1, slicer("each_slice", false))
	vm.DefineMethod(m, "each_cons", 1, slicer("each_cons", true))

	// Ordering
	vm.DefineMethod(m, "sort", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		all, err := e.enumToA(self)
		if err != nil {
			return Nil, err
		}
		vals := vm.heap.get(all).arr
		return all, e.sortValues(vals, blk)
	})
	vm.DefineMethod(m, "sort_by", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("sort_by"), nil), nil
		}
		pairs, err := e.collect(self, func(elem Value, out *RObject) (bool, error) {
			k, err := e.CallBlock(blk, elem)
			out.arr = append(out.arr, vm.NewArray(k, elem))
			return true, err
		})
		if err != nil {
			return Nil, err
		}
		e.Keep(pairs)
		vals := vm.heap.get(pairs).arr
		var firstErr error
		slices.SortStableFunc(vals, func(a, b Value) int {
			if firstErr != nil {
				return 0
			}
			n, err := e.compare(vm.heap.get(a).arr[0], vm.heap.get(b).arr[0], Nil)
			if err != nil {
				firstErr = err
			}
			return n
		})
		if firstErr != nil {
			return Nil, firstErr
		}
		out := make([]Value, len(vals))
		for i, p := range vals {
			out[i] = vm.heap.get(p).arr[1]
		}
		return vm.newArrayNoCopy(out), nil
	})
	extreme := func(sign int) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			best := e.rootedArray()
			err := e.iterate(self, func(elem Value) (bool, error) {
				if len(best.arr) == 0 {
					best.arr = []Value{elem}
					return true, nil
				}
				n, err := e.compare(elem, best.arr[0], blk)
				if n*sign > 0 {
					best.arr[0] = elem
				}
				return true, err
			})
			if err != nil || len(best.arr) == 0 {
				return Nil, err
			}
			return best.arr[0], nil
		}
	}
	vm.DefineMethod(m, "min", 0, extreme(-1))
	vm.DefineMethod(m, "max", 0, extreme(1))
	extremeBy := func(sign int) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			best := e.rootedArray() // [element, key]
			err := e.iterate(self, func(elem Value) (bool, error) {
				k, err := e.CallBlock(blk, elem)
				if err != nil {
					return false, err
				}
				if len(best.arr) == 0 {
					best.arr = []Value{elem, k}
					return true, nil
				}
				n, err := e.compare(k, best.arr[1], Nil)
				if n*sign > 0 {
					best.arr[0], best.arr[1] = elem, k
				}
				return true, err
			})
			if err != nil || len(best.arr) == 0 {
				return Nil, err
			}
			return best.arr[0], nil
		}
	}
	vm.DefineMethod(m, "min_by", 0, extremeBy(-1))
	vm.DefineMethod(m, "max_by", 0, extremeBy(1))

	// Grouping
	vm.DefineMethod(m, "group_by", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := vm.NewHash()
		e.Keep(out)
		h := vm.heap.get(out).hash()
		err := e.iterate(self, func(elem Value) (bool, error) {
			k, err := e.CallBlock(blk, elem)
			if err != nil {
				return false, err
			}
			bucket, ok := vm.HashGet(h, k)
			if !ok {
				bucket = vm.NewArray()
				vm.HashSet(h, k, bucket)
			}
			vm.heap.get(bucket).arr = append(vm.heap.get(bucket).arr, elem)
			return true, nil
		})
		return out, err
	})
	vm.DefineMethod(m, "tally", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := vm.NewHash()
		e.Keep(out)
		h := vm.heap.get(out).hash()
		err := e.iterate(self, func(elem Value) (bool, error) {
			n, _ := vm.HashGet(h, elem)
			c, _ := vm.IntOf(n)
			vm.HashSet(h, elem, FromFixnum(c+1))
			return true, nil
		})
		return out, err
	})
	vm.DefineMethod(m, "uniq", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		seen := make(map[hashKey]bool)
		return e.collect(self, func(elem Value, out *RObject) (bool, error) {
			k := elem
			if blk != Nil {
				var err error
				if k, err = e.CallBlock(blk, elem); err != nil {
					return false, err
				}
			}
			if hk := vm.hashKeyOf(k); !seen[hk] {
				seen[hk] = true
				out.arr = append(out.arr, elem)
			}
			return true, nil
		})
	})
	vm.DefineMethod(m, "to_h", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := vm.NewHash()
		e.Keep(out)
		h := vm.heap.get(out).hash()
		err := e.iterate(self, func(elem Value) (bool, error) {
			if blk != Nil {
				var err error
				if elem, err = e.CallBlock(blk, elem); err != nil {
					return false, err
				}
			}
			pair, ok := vm.ArrayOf(elem)
			if !ok || len(pair) != 2 {
				return false, vm.newError(vm.eTypeError, "wrong element type %s (expected array)", vm.typeName(elem))
			}
			vm.HashSet(h, pair[0], pair[1])
			return true, nil
		})
		return out, err
	})
	vm.DefineMethod(m, "each_entry", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		err := e.iterate(self, func(elem Value) (bool, error) {
			_, err := e.CallBlock(blk, elem)
			return true, err
		})
		return self, err
	})
	vm.DefineMethod(m, "lazy", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Nil, vm.newError(vm.eNotImplementedErr, "lazy enumerators are not supported")
	})
}
