package vm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerStringPrimitives() {
	c := vm.cString

	if err := vm.DefineSingletonMethod(c.self, "new", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		s := ""
		if len(args) == 1 {
			var err error
			if s, err = vm.strArg(args[0]); err != nil {
				return Nil, err
			}
		}
		v := vm.NewString(s)
		vm.heap.get(v).class = vm.moduleOf(self)
		return v, nil
	}); err != nil {
		panic(err)
	}

	str := func(v Value) string { return string(vm.heap.get(v).str) }

	vm.DefineMethod(c, "+", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		return vm.NewString(str(self) + o), nil
	})
	vm.DefineMethod(c, "*", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, err := vm.intArg(args[0])
		if err != nil {
			return Nil, err
		}
		if n < 0 {
			return Nil, vm.newError(vm.eArgumentError, "negative argument")
		}
		return vm.NewString(strings.Repeat(str(self), int(n))), nil
	})
	vm.DefineMethod(c, "%", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		fmtArgs := []Value{args[0]}
		if arr, ok := vm.ArrayOf(args[0]); ok {
			fmtArgs = arr
		}
		return e.format(str(self), fmtArgs)
	})
	eq := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o, ok := vm.StringOf(args[0])
		return Bool(ok && o == str(self)), nil
	}
	vm.DefineMethod(c, "==", 1, eq)
	vm.DefineMethod(c, "eql?", 1, eq)
	vm.DefineMethod(c, "===", 1, eq)
	vm.DefineMethod(c, "<=>", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o, ok := vm.StringOf(args[0])
		if !ok {
			return Nil, nil
		}
		return FromFixnum(int64(strings.Compare(str(self), o))), nil
	})
	vm.DefineMethod(c, "hash", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		var h int64
		for _, b := range vm.heap.get(self).str {
			h = h*31 + int64(b)
		}
		return FromFixnum(h >> 2), nil
	})
	length := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(utf8.RuneCount(vm.heap.get(self).str))), nil
	}
	vm.DefineMethod(c, "length", 0, length)
	vm.DefineMethod(c, "size", 0, length)
	vm.DefineMethod(c, "bytesize", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return FromFixnum(int64(len(vm.heap.get(self).str))), nil
	})
	vm.DefineMethod(c, "empty?", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return Bool(len(vm.heap.get(self).str) == 0), nil
	})
	vm.DefineMethod(c, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(c, "to_str", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return self, nil
	})
	vm.DefineMethod(c, "inspect", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(quoteString(str(self))), nil
	})
	toSym := func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return SymbolValue(Intern(str(self))), nil
	}
	vm.DefineMethod(c, "to_sym", 0, toSym)
	vm.DefineMethod(c, "intern", 0, toSym)
	vm.DefineMethod(c, "to_i", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		n, _ := parseInteger(strings.TrimSpace(str(self)))
		return vm.Integer(n), nil
	})
	vm.DefineMethod(c, "to_f", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s := strings.TrimSpace(str(self))
		end := len(s)
		for end > 0 {
			if _, err := strconv.ParseFloat(s[:end], 64); err == nil {
				break
			}
			end--
		}
		f, _ := strconv.ParseFloat(s[:end], 64)
		return vm.Float(f), nil
	})

	// Transformations returning new strings
	mapStr := func(name string, fn func(string) string) {
		vm.DefineMethod(c, name, 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			return vm.NewString(fn(str(self))), nil
		})
	}
	mapStr("upcase", strings.ToUpper)
	mapStr("downcase", strings.ToLower)
	mapStr("strip", strings.TrimSpace)
	mapStr("lstrip", func(s string) string { return strings.TrimLeft(s, " \t\r\n\f\v") })
	mapStr("rstrip", func(s string) string { return strings.TrimRight(s, " \t\r\n\f\v") })
	mapStr("chomp", func(s string) string { return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r") })
	mapStr("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		r, n := utf8.DecodeRuneInString(s)
		return strings.ToUpper(string(r)) + strings.ToLower(s[n:])
	})
	mapStr("swapcase", func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z':
				return r - 32
			case r >= 'A' && r <= 'Z':
				return r + 32
			}
			return r
		}, s)
	})
	mapStr("reverse", func(s string) string {
		rs := []rune(s)
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			rs[i], rs[j] = rs[j], rs[i]
		}
		return string(rs)
	})
	vm.DefineMethod(c, "dup", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(str(self)), nil
	})
	vm.DefineMethod(c, "+@", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if vm.heap.get(self).frozen {
			return vm.NewString(str(self)), nil
		}
		return self, nil
	})

	// Predicates
	vm.DefineMethod(c, "include?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		o, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		return Bool(strings.Contains(str(self), o)), nil
	})
	affix := func(name string, test func(s, affix string) bool) {
		vm.DefineMethod(c, name, -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			for _, a := range args {
				o, err := vm.strArg(a)
				if err != nil {
					return Nil, err
				}
				if test(str(self), o) {
					return True, nil
				}
			}
			return False, nil
		})
	}
	affix("start_with?", strings.HasPrefix)
	affix("end_with?", strings.HasSuffix)
	vm.DefineMethod(c, "index", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 1); err != nil {
			return Nil, err
		}
		o, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		s := str(self)
		i := strings.Index(s, o)
		if i < 0 {
			return Nil, nil
		}
		return FromFixnum(int64(utf8.RuneCountInString(s[:i]))), nil
	})

	// Splitting
	vm.DefineMethod(c, "split", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 0, 1); err != nil {
			return Nil, err
		}
		var parts []string
		s := str(self)
		switch sep := optArg(args, 0, Nil); {
		case sep == Nil:
			parts = strings.Fields(s)
		case vm.isKind(sep, ObjRegexp):
			parts = vm.heap.get(sep).regexp().re.Split(s, -1)
		default:
			sp, err := vm.strArg(sep)
			if err != nil {
				return Nil, err
			}
			if sp == " " {
				parts = strings.Fields(s)
			} else {
				parts = strings.Split(s, sp)
			}
		}
		for len(parts) > 0 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = vm.NewString(p)
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "chars", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s := str(self)
		out := make([]Value, 0, len(s))
		for _, r := range s {
			out = append(out, vm.NewString(string(r)))
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "bytes", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		b := vm.heap.get(self).str
		out := make([]Value, len(b))
		for i, x := range b {
			out[i] = FromFixnum(int64(x))
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "each_char", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if blk == Nil {
			return vm.NewEnumerator(self, Intern("each_char"), nil), nil
		}
		for _, r := range str(self) {
			if _, err := e.CallBlock(blk, vm.NewString(string(r))); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})

	// Indexing
	vm.DefineMethod(c, "[]", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkArgs(args, 1, 2); err != nil {
			return Nil, err
		}
		rs := []rune(str(self))
		start, n, ok, err := vm.sliceBounds(len(rs), args)
		if err != nil || !ok {
			return Nil, err
		}
		if n < 0 {
			return vm.NewString(string(rs[start])), nil
		}
		return vm.NewString(string(rs[start : start+n])), nil
	})

	// Mutation
	vm.DefineMethod(c, "<<", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		o := vm.heap.get(self)
		if n, ok := vm.IntOf(args[0]); ok {
			o.str = utf8.AppendRune(o.str, rune(n))
			return self, nil
		}
		s, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		o.str = append(o.str, s...)
		return self, nil
	})
	vm.DefineMethod(c, "concat", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		o := vm.heap.get(self)
		for _, a := range args {
			s, err := vm.strArg(a)
			if err != nil {
				return Nil, err
			}
			o.str = append(o.str, s...)
		}
		return self, nil
	})
	vm.DefineMethod(c, "replace", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		if err := vm.checkFrozen(self); err != nil {
			return Nil, err
		}
		s, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		vm.heap.get(self).str = []byte(s)
		return self, nil
	})
	bang := func(name string, fn func(string) string) {
		vm.DefineMethod(c, name, 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
			if err := vm.checkFrozen(self); err != nil {
				return Nil, err
			}
			o := vm.heap.get(self)
			s := fn(string(o.str))
			if s == string(o.str) {
				return Nil, nil
			}
			o.str = []byte(s)
			return self, nil
		})
	}
	bang("upcase!", strings.ToUpper)
	bang("downcase!", strings.ToLower)
	bang("strip!", strings.TrimSpace)

	// Pattern matching
	vm.DefineMethod(c, "=~", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		re, err := vm.regexpArg(args[0])
		if err != nil {
			return Nil, err
		}
		return vm.matchIndex(re, str(self)), nil
	})
	vm.DefineMethod(c, "match?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		re, err := vm.regexpArg(args[0])
		if err != nil {
			return Nil, err
		}
		return Bool(re.MatchString(str(self))), nil
	})
	vm.DefineMethod(c, "scan", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		re, err := vm.regexpArg(args[0])
		if err != nil {
			return Nil, err
		}
		var out []Value
		for _, m := range re.FindAllStringSubmatch(str(self), -1) {
			if len(m) == 1 {
				out = append(out, vm.NewString(m[0]))
				continue
			}
			groups := make([]Value, len(m)-1)
			for i, g := range m[1:] {
				groups[i] = vm.NewString(g)
			}
			out = append(out, vm.newArrayNoCopy(groups))
		}
		return vm.newArrayNoCopy(out), nil
	})
	vm.DefineMethod(c, "sub", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.substitute(self, args, blk, false)
	})
	vm.DefineMethod(c, "gsub", -1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return e.substitute(self, args, blk, true)
	})
}

// sliceBounds resolves the [] forms index, (start, length) and range
// against a sequence of size n. n<0 in the result selects one element.
func (vm *VM) sliceBounds(size int, args []Value) (start, n int, ok bool, err error) {
	if len(args) == 2 {
		s, err := vm.intArg(args[0])
		if err != nil {
			return 0, 0, false, err
		}
		l, err := vm.intArg(args[1])
		if err != nil {
			return 0, 0, false, err
		}
		if s < 0 {
			s += int64(size)
		}
		if s < 0 || s > int64(size) || l < 0 {
			return 0, 0, false, nil
		}
		return int(s), int(min(l, int64(size)-s)), true, nil
	}
	if o := vm.Object(args[0]); o != nil && o.kind == ObjRange {
		r := o.rng()
		b, e := int64(0), int64(size)-1
		if r.Begin != Nil {
			if b, err = vm.intArg(r.Begin); err != nil {
				return 0, 0, false, err
			}
		}
		if r.End != Nil {
			if e, err = vm.intArg(r.End); err != nil {
				return 0, 0, false, err
			}
			if e < 0 {
				e += int64(size)
			}
			if r.Exclusive {
				e--
			}
		}
		if b < 0 {
			b += int64(size)
		}
		if b < 0 || b > int64(size) {
			return 0, 0, false, nil
		}
		if e >= int64(size) {
			e = int64(size) - 1
		}
		return int(b), int(max(0, e-b+1)), true, nil
	}
	i, err := vm.intArg(args[0])
	if err != nil {
		return 0, 0, false, err
	}
	if i < 0 {
		i += int64(size)
	}
	if i < 0 || i >= int64(size) {
		return 0, 0, false, nil
	}
	return int(i), -1, true, nil
}

// substitute implements sub and gsub with a replacement string or a
// block.
func (e *Engine) substitute(self Value, args []Value, blk Value, global bool) (Value, error) {
	vm := e.vm
	if blk == Nil {
		if err := vm.checkArgs(args, 2, 2); err != nil {
			return Nil, err
		}
	} else if err := vm.checkArgs(args, 1, 1); err != nil {
		return Nil, err
	}
	var re *regexp.Regexp
	if s, ok := vm.StringOf(args[0]); ok {
		re = regexp.MustCompile(regexp.QuoteMeta(s))
	} else {
		var err error
		if re, err = vm.regexpArg(args[0]); err != nil {
			return Nil, err
		}
	}
	src := string(vm.heap.get(self).str)
	locs := re.FindAllStringSubmatchIndex(src, -1)
	if !global && len(locs) > 1 {
		locs = locs[:1]
	}
	var sb strings.Builder
	last := 0
	for _, loc := range locs {
		sb.WriteString(src[last:loc[0]])
		if blk != Nil {
			r, err := e.CallBlock(blk, vm.NewString(src[loc[0]:loc[1]]))
			if err != nil {
				return Nil, err
			}
			s, err := e.toS(r)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(s)
		} else {
			repl, err := vm.strArg(args[1])
			if err != nil {
				return Nil, err
			}
			sb.Write(re.ExpandString(nil, backrefTemplate(repl), src, loc))
		}
		last = loc[1]
	}
	sb.WriteString(src[last:])
	return vm.NewString(sb.String()), nil
}

// backrefTemplate rewrites \1 style references into the ${1} form used by
// Regexp.Expand.
func backrefTemplate(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9':
			sb.WriteString("${" + string(s[i+1]) + "}")
			i++
		case s[i] == '$':
			sb.WriteString("$$")
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// format implements String#% for the common directives.
func (e *Engine) format(tmpl string, args []Value) (Value, error) {
	vm := e.vm
	var sb strings.Builder
	next := 0
	arg := func() (Value, error) {
		if next >= len(args) {
			return Nil, vm.newError(vm.eArgumentError, "too few arguments")
		}
		next++
		return args[next-1], nil
	}
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' || i+1 == len(tmpl) {
			sb.WriteByte(tmpl[i])
			continue
		}
		j := i + 1
		for j < len(tmpl) && strings.IndexByte("-+ 0#.123456789", tmpl[j]) >= 0 {
			j++
		}
		if j == len(tmpl) {
			sb.WriteString(tmpl[i:])
			break
		}
		spec := tmpl[i+1 : j]
		verb := tmpl[j]
		i = j
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		v, err := arg()
		if err != nil {
			return Nil, err
		}
		switch verb {
		case 'd', 'i':
			n, err := vm.intArg(v)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(fmt.Sprintf("%"+spec+"d", n))
		case 'f', 'e', 'g':
			sb.WriteString(fmt.Sprintf("%"+spec+string(verb), vm.toFloat(v)))
		case 'x', 'o', 'b':
			n, err := vm.intArg(v)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(fmt.Sprintf("%"+spec+string(verb), n))
		case 's':
			s, err := e.toS(v)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(fmt.Sprintf("%"+spec+"s", s))
		case 'p':
			s, err := e.inspect(v)
			if err != nil {
				return Nil, err
			}
			sb.WriteString(fmt.Sprintf("%"+spec+"s", s))
		default:
			return Nil, vm.newError(vm.eArgumentError, "malformed format string - %%%c", verb)
		}
	}
	return vm.NewString(sb.String()), nil
}

// ---------------------------------------------------------------------------
// Regexp Primitives
// ---------------------------------------------------------------------------

func (vm *VM) regexpArg(v Value) (*regexp.Regexp, error) {
	if o := vm.Object(v); o != nil && o.kind == ObjRegexp {
		return o.regexp().re, nil
	}
	if s, ok := vm.StringOf(v); ok {
		return regexp.MustCompile(regexp.QuoteMeta(s)), nil
	}
	return nil, vm.newError(vm.eTypeError, "wrong argument type %s (expected Regexp)", vm.typeName(v))
}

func (vm *VM) matchIndex(re *regexp.Regexp, s string) Value {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return Nil
	}
	return FromFixnum(int64(utf8.RuneCountInString(s[:loc[0]])))
}

// NewRegexp compiles source with Go's RE2 syntax.
func (vm *VM) NewRegexp(source string) (Value, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return Nil, vm.newError(vm.eArgumentError, "invalid regular expression: %s", err)
	}
	return vm.newRegexp(re, source), nil
}

func (vm *VM) registerRegexpPrimitives() {
	c := vm.cRegexp
	if err := vm.DefineSingletonMethod(c.self, "new", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		return vm.NewRegexp(s)
	}); err != nil {
		panic(err)
	}
	if err := vm.DefineSingletonMethod(c.self, "escape", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		return vm.NewString(regexp.QuoteMeta(s)), nil
	}); err != nil {
		panic(err)
	}
	re := func(v Value) *regexpData { return vm.heap.get(v).regexp() }
	vm.DefineMethod(c, "source", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(re(self).source), nil
	})
	vm.DefineMethod(c, "to_s", 0, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		return vm.NewString(vm.Inspect(self)), nil
	})
	vm.DefineMethod(c, "match?", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, ok := vm.StringOf(args[0])
		return Bool(ok && re(self).re.MatchString(s)), nil
	})
	vm.DefineMethod(c, "=~", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, ok := vm.StringOf(args[0])
		if !ok {
			return Nil, nil
		}
		return vm.matchIndex(re(self).re, s), nil
	})
	vm.DefineMethod(c, "===", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		var s string
		switch {
		case args[0].IsSymbol():
			s = args[0].Symbol().String()
		default:
			var ok bool
			if s, ok = vm.StringOf(args[0]); !ok {
				return False, nil
			}
		}
		return Bool(re(self).re.MatchString(s)), nil
	})
	vm.DefineMethod(c, "match", 1, func(e *Engine, self Value, args []Value, blk Value) (Value, error) {
		s, err := vm.strArg(args[0])
		if err != nil {
			return Nil, err
		}
		m := re(self).re.FindStringSubmatch(s)
		if m == nil {
			return Nil, nil
		}
		out := make([]Value, len(m))
		for i, g := range m {
			out[i] = vm.NewString(g)
		}
		return vm.newArrayNoCopy(out), nil
	})
}
