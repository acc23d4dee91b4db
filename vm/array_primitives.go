package vm

import (
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

// valuesEqual compares with ==, skipping the send for identical values and
// immediates.
func (e *Engine) valuesEqual(a, b Value) (bool, error) {
	if a == b {
		return true, nil
	}
	num := func(v Value) bool { return v.IsFixnum() || v.IsFlonum() }
	if !a.IsHeap() && !b.IsHeap() && !(num(a) && num(b)) {
		return false, nil
	}
	r, err := e.call(a, symEq, []Value{b}, false, Nil)
	return r.Truthy(), err
}

// compare orders a and b with <=>, or with blk when one is given.
func (e *Engine) compare(a, b, blk Value) (int, error) {
	vm := e.vm
	if blk == Nil && a.IsFixnum() && b.IsFixnum() {
		return cmp3(a.Fixnum(), b.Fixnum()), nil
	}
	var r Value
	var err error
	if blk != Nil {
		r, err = e.CallBlock(blk, a, b)
	} else {
		r, err = e.call(a, symCmp, []Value{b}, false, Nil)
	}
	if err != nil {
		return 0, err
	}
	n, ok := vm.IntOf(r)
	if !ok {
		return 0, vm.newError(vm.eArgumentError, "comparison of %s with %s failed", vm.ClassOf(a).Name(), vm.describeOperand(b))
	}
	return int(n), nil
}

// sortValues stably sorts vals in place, stopping at the first error.
func (e *Engine) sortValues(vals []Value, blk Value) error {
	var firstErr error
	slices.SortStableFunc(vals, func(a, b Value) int {
		if firstErr != nil {
			return 0
		}
		n, err := e.compare(a, b, blk)
		if err != nil {
			firstErr = err
		}
		return n
	})
	return firstErr
}

func (vm *VM) registerArrayPrimitives() {
	c := vm.cArray
	arr := func(v Value) *RObject { return vm.heap.get(v) }

	if err := vm.DefineSingletonMethod(c.self, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 2); err != nil {
			return Nil, err
		}
		n := int64(0)
		if len(args) > 0 {
			if src, ok := vm.ArrayOf(args[0]); ok && len(args) == 1 {
				v := vm.NewArray(src...)
				arr(v).class = vm.moduleOf(self)
				return v, nil
			}
			var err error
			if n, err = vm.intArg(args[0]); err != nil {
				return Nil, err
			}
			if n < 0 {
				return Nil, vm.newError(vm.eArgumentError, "negative array size")
			}
		}
		v := vm.newArrayNoCopy(make([]Value, 0, n))
		arr(v).class = vm.moduleOf(self)
		e.Keep(v)
		fill := optArg(args, 1, Nil)
		for i := int64(0); i < n; i++ {
			x := fill
			if blk != Nil {
				var err error
				if x, err = e.CallBlock(blk, FromFixnum(i)); err != nil {
					return Nil, err
				}
			}
			arr(v).arr = append(arr(v).arr, x)
		}
		return v, nil
	}); err != nil {
		panic(err)
	}

	size := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(len(arr(self).arr))), nil
	}
	vm.DefineMethod(c, "size", 0, size)
	vm.DefineMethod(c, "length", 0, size)
	vm.DefineMethod(c, "empty?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(len(arr(self).arr) == 0), nil
	})
	vm.DefineMethod(c, "to_a", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(c, "to_ary", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	inspect := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		var sb strings.Builder
		sb.WriteByte('[')
		for i := 0; i < len(arr(self).arr); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			x := arr(self).arr[i]
			if x == self {
				sb.WriteString("[...]")
				continue
			}
			s, err := e.inspect(x)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(s)
		}
		sb.WriteByte(']')
		return vm.NewString(sb.String()), nil
	}
	vm.DefineMethod(c, "inspect", 0, inspect)
	vm.DefineMethod(c, "to_s", 0, inspect)
	vm.DefineMethod(c, "hash", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		h := int64(len(arr(self).arr))
		for i := 0; i < len(arr(self).arr); i++ {
			r, err := e.call(arr(self).arr[i], symHash, nil, false, Nil)
			if err != nil {
				return Nil, err
			}
			n, _ := vm.IntOf(r)
			h = h*31 + n
		}
		return FromFixnum(h >> 2), nil
	})
	eq := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return False, nil
		}
		if self == args[0] {
			return True, nil
		}
		if len(other) != len(arr(self).arr) {
			return False, nil
		}
		for i := 0; i < len(arr(self).arr) && i < len(arr(args[0]).arr); i++ {
			same, err := e.valuesEqual(arr(self).arr[i], arr(args[0]).arr[i])
			if err != nil || !same {
				return False, err
			}
		}
		return True, nil
	}
	vm.DefineMethod(c, "==", 1, eq)
	vm.DefineMethod(c, "eql?", 1, eq)
	vm.DefineMethod(c, "<=>", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if _, ok := vm.ArrayOf(args[0]); !ok {
			return Nil, nil
		}
		a, b := arr(self), arr(args[0])
		for i := 0; i < len(a.arr) && i < len(b.arr); i++ {
			n, err := e.compare(a.arr[i], b.arr[i], Nil)
			if err != nil || n != 0 {
				return FromFixnum(int64(n)), err
			}
		}
		return FromFixnum(int64(cmp3(int64(len(a.arr)), int64(len(b.arr))))), nil
	})

	// Element access
	vm.DefineMethod(c, "[]", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		a := arr(self).arr
		start, n, ok, err := vm.sliceBounds(len(a), args)
		if err != nil || !ok {
			return Nil, err
		}
		if n < 0 {
			return a[start], nil
		}
		return vm.NewArray(a[start : start+n]...), nil
	})
	vm.DefineMethod(c, "slice", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.call(self, Intern("[]"), args, false, Nil)
	})
	vm.DefineMethod(c, "at", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.call(self, Intern("[]"), args, false, Nil)
	})
	vm.DefineMethod(c, "dig", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		cur := self
		for _, a := range args {
			if cur == Nil {
				return Nil, nil
			}
			v, err := e.call(cur, Intern("[]"), []Value{a}, false, Nil)
			if err != nil {
				return Nil, err
			}
			cur = v
		}
		return cur, nil
	})
	vm.DefineMethod(c, "fetch", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		i, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		a := arr(self).arr
		j := i
		if j < 0 {
			j += int64(len(a))
		}
		if j >= 0 && j < int64(len(a)) {
			return a[j], nil
		}
		switch {
		case blk != Nil:
			return e.CallBlock(blk, args[0])
		case len(args) == 2:
			return args[1], nil
		}
		return Nil, vm.newError(vm.eIndexError, "index %d outside of array bounds: %d...%d", i, -len(a), len(a))
	})
	vm.DefineMethod(c, "[]=", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 2, 3); err != nil {
			return Nil, err
		}
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		o := arr(self)
		val := args[len(args)-1]
		if len(args) == 3 {
			start, n, ok, err := vm.sliceBounds(len(o.arr), args[:2])
			if err != nil {
				return Nil, err
			}
			if !ok {
				return Nil, vm.newError(vm.eIndexError, "index %s too small for array", vm.Inspect(args[0]))
			}
			repl := []Value{val}
			if elems, isArr := vm.ArrayOf(val); isArr {
				repl = elems
			}
			o.arr = slices.Concat(o.arr[:start:start], repl, o.arr[start+n:])
			return val, nil
		}
		i, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		if i < 0 {
			i += int64(len(o.arr))
			if i < 0 {
				return Nil, vm.newError(vm.eIndexError, "index %d too small for array", i-int64(len(o.arr)))
			}
		}
		for int64(len(o.arr)) <= i {
			o.arr = append(o.arr, Nil)
		}
		o.arr[i] = val
		return val, nil
	})
	edge := func(first bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if err := vm.checkArgs(args, 0, 1); err != nil {
				return Nil, err
			}
			a := arr(self).arr
			if len(args) == 0 {
				switch {
				case len(a) == 0:
					return Nil, nil
				case first:
					return a[0], nil
				}
				return a[len(a)-1], nil
			}
			n, err := vm.intArg(args[0])
			if err != nil {
				return Nil, err
			}
			if n < 0 {
				return Nil, vm.newError(vm.eArgumentError, "negative array size")
			}
			n = min(n, int64(len(a)))
			if first {
				return vm.NewArray(a[:n]...), nil
			}
			return vm.NewArray(a[int64(len(a))-n:]...), nil
		}
	}
	vm.DefineMethod(c, "first", -1, edge(true))
	vm.DefineMethod(c, "last", -1, edge(false))
	vm.DefineMethod(c, "take", 1, edge(true))
	vm.DefineMethod(c, "drop", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		a := arr(self).arr
		if n < 0 {
			return Nil, vm.newError(vm.eArgumentError, "attempt to drop negative size")
		}
		return vm.NewArray(a[min(n, int64(len(a))):]...), nil
	})
	vm.DefineMethod(c, "values_at", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		a := arr(self).arr
		out := make([]Value, len(args))
		for i, x := range args {
			j, err := vm.intArg(x)
			if err != nil {
				return Nil, err
			}
			if j < 0 {
				j += int64(len(a))
			}
			out[i] = Nil
			if j >= 0 && j < int64(len(a)) {
				out[i] = a[j]
			}
		}
		return vm.newArrayNoCopy(out), nil
	})

	// Mutation
	mutator := func(fn BuiltinFunc) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if err := vm.checkFrozen(self); err != nil {
				return Nil, err
			}
			return fn(e, self, args, blk)
		}
	}
	push := mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		arr(self).arr = append(arr(self).arr, args...)
		return self, nil
	})
	vm.DefineMethod(c, "push", -1, push)
	vm.DefineMethod(c, "append", -1, push)
	vm.DefineMethod(c, "<<", 1, push)
	vm.DefineMethod(c, "pop", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o := arr(self)
		if len(o.arr) == 0 {
			return Nil, nil
		}
		v := o.arr[len(o.arr)-1]
		o.arr = o.arr[:len(o.arr)-1]
		return v, nil
	}))
	vm.DefineMethod(c, "shift", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o := arr(self)
		if len(o.arr) == 0 {
			return Nil, nil
		}
		v := o.arr[0]
		o.arr = slices.Delete(o.arr, 0, 1)
		return v, nil
	}))
	unshift := mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o := arr(self)
		o.arr = slices.Insert(o.arr, 0, args...)
		return self, nil
	})
	vm.DefineMethod(c, "unshift", -1, unshift)
	vm.DefineMethod(c, "prepend", -1, unshift)
	vm.DefineMethod(c, "insert", -1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, -1); err != nil {
			return Nil, err
		}
		i, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		o := arr(self)
		if i < 0 {
			i += int64(len(o.arr)) + 1
		}
		if i < 0 {
			return Nil, vm.newError(vm.eIndexError, "index %d too small for array", i)
		}
		for int64(len(o.arr)) < i {
			o.arr = append(o.arr, Nil)
		}
		o.arr = slices.Insert(o.arr, int(i), args[1:]...)
		return self, nil
	}))
	vm.DefineMethod(c, "concat", -1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for _, a := range args {
			other, ok := vm.ArrayOf(a)
			if !ok {
				return Nil, vm.typeError(a, "Array")
			}
			arr(self).arr = append(arr(self).arr, other...)
		}
		return self, nil
	}))
	vm.DefineMethod(c, "delete", 1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		found := Nil
		kept := make([]Value, 0, len(arr(self).arr))
		for i := 0; i < len(arr(self).arr); i++ {
			x := arr(self).arr[i]
			same, err := e.valuesEqual(x, args[0])
			if err != nil {
				return Nil, err
			}
			if same {
				found = x
				continue
			}
			kept = append(kept, x)
		}
		arr(self).arr = kept
		return found, nil
	}))
	vm.DefineMethod(c, "delete_at", 1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		i, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		o := arr(self)
		if i < 0 {
			i += int64(len(o.arr))
		}
		if i < 0 || i >= int64(len(o.arr)) {
			return Nil, nil
		}
		v := o.arr[i]
		o.arr = slices.Delete(o.arr, int(i), int(i)+1)
		return v, nil
	}))
	vm.DefineMethod(c, "delete_if", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		kept := make([]Value, 0, len(arr(self).arr))
		for i := 0; i < len(arr(self).arr); i++ {
			x := arr(self).arr[i]
			r, err := e.CallBlock(blk, x)
			if err != nil {
				return Nil, err
			}
			if !r.Truthy() {
				kept = append(kept, x)
			}
		}
		arr(self).arr = kept
		return self, nil
	}))
	vm.DefineMethod(c, "clear", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		arr(self).arr = nil
		return self, nil
	}))
	vm.DefineMethod(c, "replace", 1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return Nil, vm.typeError(args[0], "Array")
		}
		arr(self).arr = slices.Clone(other)
		return self, nil
	}))
	vm.DefineMethod(c, "fill", 1, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for i := range arr(self).arr {
			arr(self).arr[i] = args[0]
		}
		return self, nil
	}))
	vm.DefineMethod(c, "map!", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for i := 0; i < len(arr(self).arr); i++ {
			v, err := e.CallBlock(blk, arr(self).arr[i])
			if err != nil {
				return Nil, err
			}
			if i < len(arr(self).arr) {
				arr(self).arr[i] = v
			}
		}
		return self, nil
	}))
	vm.DefineMethod(c, "sort!", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		vals := slices.Clone(arr(self).arr)
		if err := e.sortValues(vals, blk); err != nil {
			return Nil, err
		}
		arr(self).arr = vals
		return self, nil
	}))
	vm.DefineMethod(c, "reverse!", 0, mutator(func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		slices.Reverse(arr(self).arr)
		return self, nil
	}))

	// Iteration
	vm.DefineMethod(c, "each", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, symEach, nil), nil
		}
		for i := 0; i < len(arr(self).arr); i++ {
			if _, err := e.CallBlock(blk, arr(self).arr[i]); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	vm.DefineMethod(c, "each_index", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("each_index"), nil), nil
		}
		for i := 0; i < len(arr(self).arr); i++ {
			if _, err := e.CallBlock(blk, FromFixnum(int64(i))); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	vm.DefineMethod(c, "reverse_each", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("reverse_each"), nil), nil
		}
		for i := len(arr(self).arr) - 1; i >= 0; i-- {
			if i >= len(arr(self).arr) {
				continue
			}
			if _, err := e.CallBlock(blk, arr(self).arr[i]); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	vm.DefineMethod(c, "map", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("map"), nil), nil
		}
		out := vm.newArrayNoCopy(make([]Value, 0, len(arr(self).arr)))
		e.Keep(out)
		for i := 0; i < len(arr(self).arr); i++ {
			v, err := e.CallBlock(blk, arr(self).arr[i])
			if err != nil {
				return Nil, err
			}
			arr(out).arr = append(arr(out).arr, v)
		}
		return out, nil
	})

	// Queries
	vm.DefineMethod(c, "include?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for i := 0; i < len(arr(self).arr); i++ {
			same, err := e.valuesEqual(arr(self).arr[i], args[0])
			if err != nil || same {
				return Bool(same), err
			}
		}
		return False, nil
	})
	index := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		for i := 0; i < len(arr(self).arr); i++ {
			var hit bool
			var err error
			if len(args) > 0 {
				hit, err = e.valuesEqual(arr(self).arr[i], args[0])
			} else {
				var r Value
				r, err = e.CallBlock(blk, arr(self).arr[i])
				hit = r.Truthy()
			}
			if err != nil {
				return Nil, err
			}
			if hit {
				return FromFixnum(int64(i)), nil
			}
		}
		return Nil, nil
	}
	vm.DefineMethod(c, "index", -1, index)
	vm.DefineMethod(c, "find_index", -1, index)

	// Derived arrays
	vm.DefineMethod(c, "join", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		sep := ""
		if len(args) > 0 && args[0] != Nil {
			var err error
			if sep, err = vm.strArg(args[0]); err != nil {
				return Nil, err
			}
		}
		var sb strings.Builder
		if err := e.joinTo(&sb, self, sep, 0); err != nil {
			return Nil, err
		}
		return vm.NewString(sb.String()), nil
	})
	vm.DefineMethod(c, "reverse", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := slices.Clone(arr(self).arr)
		slices.Reverse(out)
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "rotate", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, err := vm.intArg(optArg(args, 0, FromFixnum(1)))
		if err != nil {
			return Nil, err
		}
		a := arr(self).arr
		if len(a) == 0 {
			return vm.NewArray(), nil
		}
		k := int(((n % int64(len(a))) + int64(len(a))) % int64(len(a)))
		return vm.newArrayNoCopy(slices.Concat(a[k:], a[:k])), nil
	})
	vm.DefineMethod(c, "sort", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		vals := slices.Clone(arr(self).arr)
		if err := e.sortValues(vals, blk); err != nil {
			return Nil, err
		}
		return vm.newArrayNoCopy(vals), nil
	})
	vm.DefineMethod(c, "+", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return Nil, vm.typeError(args[0], "Array")
		}
		return vm.newArrayNoCopy(slices.Concat(arr(self).arr, other)), nil
	})
	vm.DefineMethod(c, "-", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return Nil, vm.typeError(args[0], "Array")
		}
		drop := make(map[hashKey]bool, len(other))
		for _, x := range other {
			drop[vm.hashKeyOf(x)] = true
		}
		var out []Value
		for _, x := range arr(self).arr {
			if !drop[vm.hashKeyOf(x)] {
				out = append(out, x)
			}
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "*", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if sep, ok := vm.StringOf(args[0]); ok {
			return e.call(self, Intern("join"), []Value{vm.NewString(sep)}, false, Nil)
		}
		n, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		if n < 0 {
			return Nil, vm.newError(vm.eArgumentError, "negative argument")
		}
		var out []Value
		for i := int64(0); i < n; i++ {
			out = append(out, arr(self).arr...)
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "&", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return Nil, vm.typeError(args[0], "Array")
		}
		in := make(map[hashKey]bool, len(other))
		for _, x := range other {
			in[vm.hashKeyOf(x)] = true
		}
		return vm.uniqValues(arr(self).arr, func(v Value) bool { return in[vm.hashKeyOf(v)] }), nil
	})
	vm.DefineMethod(c, "|", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.ArrayOf(args[0])
		if !ok {
			return Nil, vm.typeError(args[0], "Array")
		}
		return vm.uniqValues(slices.Concat(arr(self).arr, other), nil), nil
	})
	vm.DefineMethod(c, "uniq", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.uniqValues(arr(self).arr, nil), nil
		}
		seen := make(map[hashKey]bool)
		var out []Value
		for i := 0; i < len(arr(self).arr); i++ {
			x := arr(self).arr[i]
			k, err := e.CallBlock(blk, x)
			if err != nil {
				return Nil, err
			}
			if hk := vm.hashKeyOf(k); !seen[hk] {
				seen[hk] = true
				out = append(out, x)
			}
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "compact", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := make([]Value, 0, len(arr(self).arr))
		for _, x := range arr(self).arr {
			if x != Nil {
				out = append(out, x)
			}
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "flatten", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		depth := int64(-1)
		if len(args) > 0 && args[0] != Nil {
			var err error
			if depth, err = vm.intArg(args[0]); err != nil {
				return Nil, err
			}
		}
		var out []Value
		if err := vm.flattenInto(&out, self, depth, make(map[Value]bool)); err != nil {
			return Nil, err
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "zip", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		a := arr(self).arr
		out := make([]Value, len(a))
		for i, x := range a {
			row := []Value{x}
			for _, other := range args {
				o, ok := vm.ArrayOf(other)
				if !ok {
					return Nil, vm.typeError(other, "Array")
				}
				if i < len(o) {
					row = append(row, o[i])
				} else {
					row = append(row, Nil)
				}
			}
			out[i] = vm.newArrayNoCopy(row)
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "transpose", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		rows := arr(self).arr
		if len(rows) == 0 {
			return vm.NewArray(), nil
		}
		first, ok := vm.ArrayOf(rows[0])
		if !ok {
			return Nil, vm.typeError(rows[0], "Array")
		}
		cols := make([]Value, len(first))
		for j := range cols {
			col := make([]Value, len(rows))
			for i, r := range rows {
				row, ok := vm.ArrayOf(r)
				if !ok || len(row) != len(first) {
					return Nil, vm.newError(vm.eIndexError, "element size differs (%d should be %d)", len(row), len(first))
				}
				col[i] = row[j]
			}
			cols[j] = vm.newArrayNoCopy(col)
		}
		return vm.newArrayNoCopy(cols), nil
	})
}

// joinTo writes the elements of arr separated by sep, joining nested
// arrays recursively.
func (e *Engine) joinTo(sb *strings.Builder, arr Value, sep string, depth int) error {
	vm := e.vm
	if depth > 64 {
		return vm.newError(vm.eArgumentError, "recursive array join")
	}
	for i := 0; i < len(vm.heap.get(arr).arr); i++ {
		if i > 0 {
			sb.WriteString(sep)
		}
		x := vm.heap.get(arr).arr[i]
		if vm.isKind(x, ObjArray) {
			if err := e.joinTo(sb, x, sep, depth+1); err != nil {
				return err
			}
			continue
		}
		s, err := e.toS(x)
		if err != nil {
			return err
		}
		sb.WriteString(s)
	}
	return nil
}

// uniqValues keeps the first occurrence of each value, using Hash key
// identity. keep, when set, filters candidates.
func (vm *VM) uniqValues(vals []Value, keep func(Value) bool) Value {
	seen := make(map[hashKey]bool, len(vals))
	out := make([]Value, 0, len(vals))
	for _, x := range vals {
		k := vm.hashKeyOf(x)
		if seen[k] || (keep != nil && !keep(x)) {
			continue
		}
		seen[k] = true
		out = append(out, x)
	}
	return vm.newArrayNoCopy(out)
}

func (vm *VM) flattenInto(out *[]Value, v Value, depth int64, active map[Value]bool) error {
	if active[v] {
		return vm.newError(vm.eArgumentError, "tried to flatten recursive array")
	}
	active[v] = true
	defer delete(active, v)
	for _, x := range vm.heap.get(v).arr {
		if depth != 0 && vm.isKind(x, ObjArray) {
			if err := vm.flattenInto(out, x, depth-1, active); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, x)
	}
	return nil
}
