package vm

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Inspect renders v the way the language's default inspect methods do.
// User-defined inspect methods are not consulted.
func (vm *VM) Inspect(v Value) string {
	var sb strings.Builder
	vm.inspectTo(&sb, v, make(map[Value]bool))
	return sb.String()
}

// ToS renders v the way the default to_s methods do.
func (vm *VM) ToS(v Value) string {
	switch {
	case v == Nil:
		return ""
	case v.IsSymbol():
		return v.Symbol().String()
	}
	if s, ok := vm.StringOf(v); ok {
		return s
	}
	if o := vm.Object(v); o != nil && o.kind == ObjException {
		return vm.ExceptionMessage(v)
	}
	return vm.Inspect(v)
}

func (vm *VM) inspectTo(sb *strings.Builder, v Value, seen map[Value]bool) {
	if !v.IsHeap() {
		sb.WriteString(v.String())
		return
	}
	o := vm.heap.get(v)
	switch o.kind {
	case ObjString:
		sb.WriteString(quoteString(string(o.str)))
		return
	case ObjFloat:
		sb.WriteString(formatFloat(o.f))
		return
	case ObjBignum:
		sb.WriteString(o.big.String())
		return
	case ObjClass, ObjModule:
		sb.WriteString(o.module().Name())
		return
	case ObjRegexp:
		sb.WriteString("/" + o.regexp().source + "/")
		return
	}

	if seen[v] {
		switch o.kind {
		case ObjArray:
			sb.WriteString("[...]")
		case ObjHash:
			sb.WriteString("{...}")
		default:
			sb.WriteString("#<" + o.class.realClass().Name() + " ...>")
		}
		return
	}
	seen[v] = true
	defer delete(seen, v)

	switch o.kind {
	case ObjArray:
		sb.WriteByte('[')
		for i, x := range o.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			vm.inspectTo(sb, x, seen)
		}
		sb.WriteByte(']')
	case ObjHash:
		h := o.hash()
		if h.Len() == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteByte('{')
		first := true
		h.Each(func(k, val Value) bool {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			if k.IsSymbol() && isPlainIdent(k.Symbol().String()) {
				sb.WriteString(k.Symbol().String() + ": ")
			} else {
				vm.inspectTo(sb, k, seen)
				sb.WriteString(" => ")
			}
			vm.inspectTo(sb, val, seen)
			return true
		})
		sb.WriteByte('}')
	case ObjRange:
		r := o.rng()
		if r.Begin != Nil {
			vm.inspectTo(sb, r.Begin, seen)
		}
		if r.Exclusive {
			sb.WriteString("...")
		} else {
			sb.WriteString("..")
		}
		if r.End != Nil {
			vm.inspectTo(sb, r.End, seen)
		}
	case ObjProc:
		p := o.proc()
		fmt.Fprintf(sb, "#<Proc:0x%016x", uint64(v))
		if p.ISeq != nil {
			sb.WriteString(" " + p.ISeq.Location(0))
		}
		if p.Lambda {
			sb.WriteString(" (lambda)")
		}
		sb.WriteByte('>')
	case ObjMethod:
		m := o.method()
		fmt.Fprintf(sb, "#<Method: %s#%s>", m.Info.Owner.Name(), m.Info.Name)
	case ObjException:
		name := o.class.realClass().Name()
		msg := vm.ExceptionMessage(v)
		if msg == "" || msg == name {
			sb.WriteString(name)
			return
		}
		fmt.Fprintf(sb, "#<%s: %s>", name, msg)
	case ObjFiber:
		f := o.fiber()
		fmt.Fprintf(sb, "#<Fiber:%s (%s)>", f.id, f.state)
	case ObjEnumerator:
		en := o.enumerator()
		sb.WriteString("#<Enumerator: ")
		vm.inspectTo(sb, en.recv, seen)
		sb.WriteString(":" + en.meth.String() + ">")
	default:
		if v == vm.mainObj {
			sb.WriteString("main")
			return
		}
		sb.WriteString("#<" + o.class.realClass().Name())
		if len(o.ivars) > 0 {
			names := make([]string, 0, len(o.ivars))
			for k := range o.ivars {
				names = append(names, k.String())
			}
			slices.Sort(names)
			for i, n := range names {
				if i > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(" " + n + "=")
				vm.inspectTo(sb, o.ivars[Intern(n)], seen)
			}
		}
		sb.WriteByte('>')
	}
}

func quoteString(s string) string {
	q := strconv.Quote(s)
	return strings.ReplaceAll(q, "#{", "\\#{")
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		case (c == '?' || c == '!') && i == len(s)-1:
		default:
			return false
		}
	}
	return true
}
