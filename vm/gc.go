package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ---------------------------------------------------------------------------
// Garbage collection: mark and sweep over the arena
// ---------------------------------------------------------------------------
//
// Collection only starts at a safe point (frame entry) or on an explicit
// request. At those points every live Value is reachable from an engine's
// operand stack, its frames, its builtin handles, or a VM-level root.

// safePoint collects when enough objects were allocated since the last
// cycle.
func (vm *VM) safePoint(e *Engine) {
	if vm.gcDisabled || vm.heap.sinceGC < vm.gcThreshold {
		return
	}
	vm.Collect()
}

// Collect runs a full collection and returns the number of objects freed.
func (vm *VM) Collect() int {
	start := time.Now()
	h := vm.heap
	h.epoch++
	if h.epoch == 0 {
		h.epoch = 1
	}
	m := &marker{vm: vm, epoch: h.epoch}
	m.markRoots()
	m.drain()
	freed := h.sweep()
	gcLog.Debugf("collection %d: freed %s objects, %s live, took %s",
		h.collections, humanize.Comma(int64(freed)), humanize.Comma(int64(h.live)), time.Since(start))
	return freed
}

// Pin keeps v alive across collections until a matching Unpin.
func (vm *VM) Pin(v Value) {
	if v.IsHeap() {
		vm.pinned[v]++
	}
}

// Unpin releases one Pin of v.
func (vm *VM) Unpin(v Value) {
	if n := vm.pinned[v]; n > 1 {
		vm.pinned[v] = n - 1
	} else {
		delete(vm.pinned, v)
	}
}

// Stats is a snapshot of allocator and cache counters.
type Stats struct {
	Live        int
	Allocations uint64
	Collections uint64
	Freed       uint64
	Generation  uint64
	Fibers      int
}

// Stats returns allocator counters.
func (vm *VM) Stats() Stats {
	h := vm.heap
	n := 0
	for f := range vm.fibers {
		if f.state != FiberDead {
			n++
		}
	}
	return Stats{
		Live:        h.live,
		Allocations: h.allocations,
		Collections: h.collections,
		Freed:       h.freed,
		Generation:  vm.generation,
		Fibers:      n,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("%s live objects, %s allocated, %s freed in %s collections, generation %d, %d fibers",
		humanize.Comma(int64(s.Live)), humanize.Comma(int64(s.Allocations)),
		humanize.Comma(int64(s.Freed)), humanize.Comma(int64(s.Collections)), s.Generation, s.Fibers)
}

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

type marker struct {
	vm    *VM
	epoch uint32
	gray  []Value
}

func (m *marker) markRoots() {
	vm := m.vm
	for e := range vm.engines {
		for _, v := range e.stack[:e.sp] {
			m.value(v)
		}
		for _, v := range e.handles {
			m.value(v)
		}
		for _, c := range e.frames {
			m.context(c)
		}
	}
	for _, v := range vm.globals {
		m.value(v)
	}
	for v := range vm.pinned {
		m.value(v)
	}
	for f, v := range vm.fibers {
		if f.state != FiberDead {
			m.value(v)
		}
	}
	m.value(vm.mainObj)
	for _, c := range vm.coreModules() {
		m.value(c.self)
	}
}

func (m *marker) value(v Value) {
	if !v.IsHeap() || !m.vm.heap.valid(v) {
		return
	}
	o := m.vm.heap.objs[v.heapIndex()]
	if o.mark == m.epoch {
		return
	}
	o.mark = m.epoch
	m.gray = append(m.gray, v)
}

func (m *marker) drain() {
	for len(m.gray) > 0 {
		v := m.gray[len(m.gray)-1]
		m.gray = m.gray[:len(m.gray)-1]
		m.scan(m.vm.heap.objs[v.heapIndex()])
	}
}

func (m *marker) scan(o *RObject) {
	if o.class != nil {
		m.value(o.class.self)
	}
	for _, v := range o.ivars {
		m.value(v)
	}
	for _, v := range o.arr {
		m.value(v)
	}
	switch d := o.data.(type) {
	case *Hash:
		d.Each(func(k, v Value) bool {
			m.value(k)
			m.value(v)
			return true
		})
		m.value(d.Default)
		m.value(d.DefaultProc)
	case *Range:
		m.value(d.Begin)
		m.value(d.End)
	case *Proc:
		m.proc(d)
	case *MethodObject:
		m.value(d.Recv)
		m.method(d.Info)
	case *excData:
		m.value(d.message)
		m.value(d.cause)
	case *Fiber:
		m.value(d.body)
		m.value(d.transfer)
	case *Enumerator:
		m.value(d.recv)
		m.value(d.fiber)
		m.value(d.peeked)
		m.value(d.result)
		for _, v := range d.args {
			m.value(v)
		}
	case *Module:
		m.module(d)
	case error:
		m.signal(d)
	}
}

func (m *marker) module(mod *Module) {
	if mod.super != nil {
		m.value(mod.super.self)
	}
	if mod.parent != nil {
		m.value(mod.parent.self)
	}
	m.value(mod.attached)
	for _, x := range mod.includes {
		m.value(x.self)
	}
	for _, x := range mod.prepends {
		m.value(x.self)
	}
	for _, mi := range mod.methods {
		m.method(mi)
	}
	for _, v := range mod.consts {
		m.value(v)
	}
}

func (m *marker) method(mi *MethodInfo) {
	if mi.Owner != nil {
		m.value(mi.Owner.self)
	}
	if mi.ISeq != nil {
		m.iseq(mi.ISeq)
	}
	m.cref(mi.Cref)
	m.value(mi.Proc)
}

func (m *marker) proc(p *Proc) {
	m.value(p.Self)
	m.value(p.bound)
	if p.ISeq != nil {
		m.iseq(p.ISeq)
	}
	m.context(p.Outer)
}

func (m *marker) context(c *Context) {
	for ; c != nil && c.mark != m.epoch; c = c.Outer {
		c.mark = m.epoch
		m.value(c.Self)
		m.value(c.Block)
		for i := 0; i < c.numLocals(); i++ {
			m.value(c.Local(i))
		}
		m.iseq(c.ISeq)
		m.cref(c.Cref)
		if c.Method != nil {
			m.method(c.Method)
		}
		if c.proc != nil {
			m.value(c.proc.Self)
			m.value(c.proc.bound)
		}
	}
}

func (m *marker) iseq(is *ISeq) {
	if is.mark == m.epoch {
		return
	}
	is.mark = m.epoch
	for _, v := range is.Literals {
		m.value(v)
	}
	for _, c := range is.Children {
		m.iseq(c)
	}
}

func (m *marker) cref(c *Cref) {
	for ; c != nil; c = c.Outer {
		m.value(c.Module.self)
	}
}

// signal marks the payload of a parked unwind.
func (m *marker) signal(err error) {
	var re *RaiseError
	if errors.As(err, &re) {
		m.value(re.Exception)
	}
	var js *jumpSignal
	if errors.As(err, &js) {
		m.value(js.value)
		m.context(js.target)
		if js.proc != nil {
			m.proc(js.proc)
		}
	}
}
