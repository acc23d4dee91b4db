package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Hash Primitives
// ---------------------------------------------------------------------------

// snapshot copies the entries of h as a flat key, value list held in a
// rooted Array, so blocks may mutate h during iteration.
func (e *Engine) snapshot(h *Hash) []Value {
	flat := make([]Value, 0, h.Len()*2)
	h.Each(func(k, v Value) bool {
		flat = append(flat, k, v)
		return true
	})
	e.Keep(e.vm.newArrayNoCopy(flat))
	return flat
}

// hashFetch returns the value for key, falling back to the default value
// or default proc.
func (e *Engine) hashFetch(self Value, h *Hash, key Value) (Value, error) {
	if v, ok := e.vm.HashGet(h, key); ok {
		return v, nil
	}
	if h.DefaultProc != Nil {
		return e.CallBlock(h.DefaultProc, self, key)
	}
	return h.Default, nil
}

func (vm *VM) registerHashPrimitives() {
	c := vm.cHash
	hashOf := func(v Value) *Hash { return vm.heap.get(v).hash() }

	if err := vm.DefineSingletonMethod(c.self, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		v := vm.NewHash()
		o := vm.heap.get(v)
		o.class = vm.moduleOf(self)
		o.hash().Default = optArg(args, 0, Nil)
		o.hash().DefaultProc = blk
		return v, nil
	}); err != nil {
		panic(err)
	}

	vm.DefineMethod(c, "[]", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.hashFetch(self, hashOf(self), args[0])
	})
	store := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		vm.HashSet(hashOf(self), args[0], args[1])
		return args[1], nil
	}
	vm.DefineMethod(c, "[]=", 2, store)
	vm.DefineMethod(c, "store", 2, store)
	vm.DefineMethod(c, "fetch", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		if v, ok := vm.HashGet(hashOf(self), args[0]); ok {
			return v, nil
		}
		switch {
		case blk != Nil:
			return e.CallBlock(blk, args[0])
		case len(args) == 2:
			return args[1], nil
		}
		s, err := e.inspect(args[0])
		if err != nil {
			return Nil, err
		}
		exc := vm.makeException(vm.eKeyError, "key not found: "+s)
		xo := vm.heap.get(exc)
		xo.SetIvar(Intern("@key"), args[0])
		xo.SetIvar(Intern("@receiver"), self)
		return Nil, vm.raiseValue(exc)
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
	hasKey := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		_, ok := vm.HashGet(hashOf(self), args[0])
		return Bool(ok), nil
	}
	vm.DefineMethod(c, "key?", 1, hasKey)
	vm.DefineMethod(c, "has_key?", 1, hasKey)
	vm.DefineMethod(c, "include?", 1, hasKey)
	vm.DefineMethod(c, "member?", 1, hasKey)
	vm.DefineMethod(c, "value?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		for i := 1; i < len(flat); i += 2 {
			same, err := e.valuesEqual(flat[i], args[0])
			if err != nil || same {
				return Bool(same), err
			}
		}
		return False, nil
	})
	vm.DefineMethod(c, "key", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		for i := 0; i < len(flat); i += 2 {
			same, err := e.valuesEqual(flat[i+1], args[0])
			if err != nil {
				return Nil, err
			}
			if same {
				return flat[i], nil
			}
		}
		return Nil, nil
	})
	vm.DefineMethod(c, "delete", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		v, ok := vm.HashDelete(hashOf(self), args[0])
		if !ok && blk != Nil {
			return e.CallBlock(blk, args[0])
		}
		return v, nil
	})
	vm.DefineMethod(c, "clear", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		hashOf(self).clear()
		return self, nil
	})
	vm.DefineMethod(c, "default", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return hashOf(self).Default, nil
	})
	vm.DefineMethod(c, "default=", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		h := hashOf(self)
		h.Default, h.DefaultProc = args[0], Nil
		return args[0], nil
	})

	size := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(hashOf(self).Len())), nil
	}
	vm.DefineMethod(c, "size", 0, size)
	vm.DefineMethod(c, "length", 0, size)
	vm.DefineMethod(c, "empty?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(hashOf(self).Len() == 0), nil
	})
	vm.DefineMethod(c, "keys", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.newArrayNoCopy(hashOf(self).Keys()), nil
	})
	vm.DefineMethod(c, "values", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		h := hashOf(self)
		out := make([]Value, 0, h.Len())
		h.Each(func(_, v Value) bool { out = append(out, v); return true })
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "to_a", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		out := make([]Value, 0, len(flat)/2)
		for i := 0; i < len(flat); i += 2 {
			out = append(out, vm.NewArray(flat[i], flat[i+1]))
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "to_h", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	inspect := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		if len(flat) == 0 {
			return vm.NewString("{}"), nil
		}
		var sb strings.Builder
		sb.WriteByte('{')
		for i := 0; i < len(flat); i += 2 {
			if i > 0 {
				sb.WriteString(", ")
			}
			k := flat[i]
			if k.IsSymbol() && isPlainIdent(k.Symbol().String()) {
				sb.WriteString(k.Symbol().String() + ": ")
			} else {
				s, err := e.inspect(k)
				if err != nil {
					return Nil, err
				}
				sb.WriteString(s + " => ")
			}
			if flat[i+1] == self {
				sb.WriteString("{...}")
				continue
			}
			s, err := e.inspect(flat[i+1])
			if err != nil {
				return Nil, err
			}
			sb.WriteString(s)
		}
		sb.WriteByte('}')
		return vm.NewString(sb.String()), nil
	}
	vm.DefineMethod(c, "inspect", 0, inspect)
	vm.DefineMethod(c, "to_s", 0, inspect)
	vm.DefineMethod(c, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		other, ok := vm.HashOf(args[0])
		if !ok {
			return False, nil
		}
		h := hashOf(self)
		if h.Len() != other.Len() {
			return False, nil
		}
		flat := e.snapshot(h)
		for i := 0; i < len(flat); i += 2 {
			ov, ok := vm.HashGet(other, flat[i])
			if !ok {
				return False, nil
			}
			same, err := e.valuesEqual(flat[i+1], ov)
			if err != nil || !same {
				return False, err
			}
		}
		return True, nil
	})

	// Iteration. Blocks receive key and value; a one-parameter block gets
	// the pair.
	each := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, symEach, nil), nil
		}
		flat := e.snapshot(hashOf(self))
		for i := 0; i < len(flat); i += 2 {
			if _, err := e.CallBlock(blk, vm.NewArray(flat[i], flat[i+1])); err != nil {
				return Nil, err
			}
		}
		return self, nil
	}
	vm.DefineMethod(c, "each", 0, each)
	vm.DefineMethod(c, "each_pair", 0, each)
	vm.DefineMethod(c, "each_key", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		for i := 0; i < len(flat); i += 2 {
			if _, err := e.CallBlock(blk, flat[i]); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	vm.DefineMethod(c, "each_value", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		flat := e.snapshot(hashOf(self))
		for i := 1; i < len(flat); i += 2 {
			if _, err := e.CallBlock(blk, flat[i]); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	filter := func(keepIf bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			out := vm.NewHash()
			e.Keep(out)
			flat := e.snapshot(hashOf(self))
			for i := 0; i < len(flat); i += 2 {
				r, err := e.CallBlock(blk, flat[i], flat[i+1])
				if err != nil {
					return Nil, err
				}
				if r.Truthy() == keepIf {
					vm.HashSet(hashOf(out), flat[i], flat[i+1])
				}
			}
			return out, nil
		}
	}
	vm.DefineMethod(c, "select", 0, filter(true))
	vm.DefineMethod(c, "filter", 0, filter(true))
	vm.DefineMethod(c, "reject", 0, filter(false))
	vm.DefineMethod(c, "transform_values", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := vm.NewHash()
		e.Keep(out)
		flat := e.snapshot(hashOf(self))
		for i := 0; i < len(flat); i += 2 {
			v, err := e.CallBlock(blk, flat[i+1])
			if err != nil {
				return Nil, err
			}
			vm.HashSet(hashOf(out), flat[i], v)
		}
		return out, nil
	})
	vm.DefineMethod(c, "transform_keys", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		out := vm.NewHash()
		e.Keep(out)
		flat := e.snapshot(hashOf(self))
		for i := 0; i < len(flat); i += 2 {
			k, err := e.CallBlock(blk, flat[i])
			if err != nil {
				return Nil, err
			}
			vm.HashSet(hashOf(out), k, flat[i+1])
		}
		return out, nil
	})
	merge := func(inPlace bool) BuiltinFunc {
		return func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			target := self
			if inPlace {
				if err := vm.checkFrozen(self); err != nil {
					return Nil, err
				}
			} else {
				target = vm.NewHash()
				e.Keep(target)
				th, sh := hashOf(target), hashOf(self)
				sh.Each(func(k, v Value) bool { vm.HashSet(th, k, v); return true })
				th.Default, th.DefaultProc = sh.Default, sh.DefaultProc
			}
			for _, a := range args {
				other, ok := vm.HashOf(a)
				if !ok {
					return Nil, vm.typeError(a, "Hash")
				}
				flat := e.snapshot(other)
				for i := 0; i < len(flat); i += 2 {
					k, v := flat[i], flat[i+1]
					if old, exists := vm.HashGet(hashOf(target), k); exists && blk != Nil {
						var err error
						if v, err = e.CallBlock(blk, k, old, v); err != nil {
							return Nil, err
						}
					}
					vm.HashSet(hashOf(target), k, v)
				}
			}
			return target, nil
		}
	}
	vm.DefineMethod(c, "merge", -1, merge(false))
	vm.DefineMethod(c, "merge!", -1, merge(true))
	vm.DefineMethod(c, "update", -1, merge(true))
}

// ---------------------------------------------------------------------------
// Range Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerRangePrimitives() {
	c := vm.cRange
	rng := func(v Value) *Range { return vm.heap.get(v).rng() }

	if err := vm.DefineSingletonMethod(c.self, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 2, 3); err != nil {
			return Nil, err
		}
		return vm.NewRange(args[0], args[1], optArg(args, 2, False).Truthy()), nil
	}); err != nil {
		panic(err)
	}
	vm.DefineMethod(c, "first", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if len(args) == 0 {
			return rng(self).Begin, nil
		}
		return e.enumTake(self, args[0])
	})
	vm.DefineMethod(c, "begin", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return rng(self).Begin, nil
	})
	endFn := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return rng(self).End, nil
	}
	vm.DefineMethod(c, "end", 0, endFn)
	vm.DefineMethod(c, "last", 0, endFn)
	vm.DefineMethod(c, "exclude_end?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(rng(self).Exclusive), nil
	})
	vm.DefineMethod(c, "==", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if !vm.isKind(args[0], ObjRange) {
			return False, nil
		}
		a, b := rng(self), rng(args[0])
		if a.Exclusive != b.Exclusive {
			return False, nil
		}
		same, err := e.valuesEqual(a.Begin, b.Begin)
		if err != nil || !same {
			return False, err
		}
		same, err = e.valuesEqual(a.End, b.End)
		return Bool(same), err
	})
	vm.DefineMethod(c, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		r := rng(self)
		dots := ".."
		if r.Exclusive {
			dots = "..."
		}
		b, err := e.toS(r.Begin)
		if err != nil {
			return Nil, err
		}
		en, err := e.toS(r.End)
		if err != nil {
			return Nil, err
		}
		return vm.NewString(b + dots + en), nil
	})
	vm.DefineMethod(c, "each", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, symEach, nil), nil
		}
		r := rng(self)
		from, ok := vm.IntOf(r.Begin)
		if !ok {
			return Nil, vm.newError(vm.eTypeError, "can't iterate from %s", vm.typeName(r.Begin))
		}
		if r.End == Nil {
			for i := from; ; i++ {
				if _, err := e.CallBlock(blk, vm.Integer(i)); err != nil {
					return Nil, err
				}
			}
		}
		to, err := vm.intArg(r.End)
		if err != nil {
			return Nil, err
		}
		if r.Exclusive {
			to--
		}
		for i := from; i <= to; i++ {
			if _, err := e.CallBlock(blk, vm.Integer(i)); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
	cover := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		r := rng(self)
		if r.Begin != Nil {
			n, err := e.compare(r.Begin, args[0], Nil)
			if err != nil {
				return False, nil
			}
			if n > 0 {
				return False, nil
			}
		}
		if r.End != Nil {
			n, err := e.compare(args[0], r.End, Nil)
			if err != nil {
				return False, nil
			}
			if n > 0 || (r.Exclusive && n == 0) {
				return False, nil
			}
		}
		return True, nil
	}
	vm.DefineMethod(c, "include?", 1, cover)
	vm.DefineMethod(c, "member?", 1, cover)
	vm.DefineMethod(c, "cover?", 1, cover)
	vm.DefineMethod(c, "===", 1, cover)
	size := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		r := rng(self)
		from, ok1 := vm.IntOf(r.Begin)
		to, ok2 := vm.IntOf(r.End)
		if !ok1 || !ok2 {
			return Nil, nil
		}
		if r.Exclusive {
			to--
		}
		return FromFixnum(max(0, to-from+1)), nil
	}
	vm.DefineMethod(c, "size", 0, size)
	vm.DefineMethod(c, "count", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if len(args) == 0 && blk == Nil {
			return size(e, self, args, blk)
		}
		return e.enumCount(self, args, blk)
	})
	vm.DefineMethod(c, "step", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("step"), args), nil
		}
		r := rng(self)
		by, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		if by <= 0 {
			return Nil, vm.newError(vm.eArgumentError, "step can't be negative or zero")
		}
		from, err := vm.intArg(r.Begin)
		if err != nil {
			return Nil, err
		}
		to, err := vm.intArg(r.End)
		if err != nil {
			return Nil, err
		}
		for i := from; i < to || (!r.Exclusive && i == to); i += by {
			if _, err := e.CallBlock(blk, vm.Integer(i)); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
}
