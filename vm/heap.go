package vm

// ---------------------------------------------------------------------------
// Arena: index-addressed object storage
// ---------------------------------------------------------------------------

// heap owns every RObject. Values refer to objects by arena index, so
// cyclic graphs (class <-> instance <-> method table) need no ownership
// pointers. Slot 0 is reserved so that index 0 never aliases nil.
type heap struct {
	objs  []*RObject
	free  []uint32
	live  int
	epoch uint32

	sinceGC     int
	allocations uint64
	collections uint64
	freed       uint64
}

func newHeap() *heap {
	return &heap{objs: make([]*RObject, 1, 1024), epoch: 1}
}

func (h *heap) alloc(o *RObject) Value {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
		h.objs[idx] = o
	} else {
		idx = uint32(len(h.objs))
		h.objs = append(h.objs, o)
	}
	h.live++
	h.sinceGC++
	h.allocations++
	return heapValue(idx)
}

func (h *heap) get(v Value) *RObject {
	idx := v.heapIndex()
	if int(idx) >= len(h.objs) || h.objs[idx] == nil {
		panic(&FatalError{Kind: FatalStackCorruption, Message: "reference to freed object " + v.String()})
	}
	return h.objs[idx]
}

// valid reports whether v still names a live object.
func (h *heap) valid(v Value) bool {
	idx := v.heapIndex()
	return v.IsHeap() && int(idx) < len(h.objs) && h.objs[idx] != nil
}

// sweep frees every object not stamped with the current epoch.
func (h *heap) sweep() int {
	n := 0
	for i := 1; i < len(h.objs); i++ {
		o := h.objs[i]
		if o == nil || o.mark == h.epoch {
			continue
		}
		h.objs[i] = nil
		h.free = append(h.free, uint32(i))
		n++
	}
	h.live -= n
	h.freed += uint64(n)
	h.collections++
	h.sinceGC = 0
	return n
}

// alloc places o in the arena. Objects created while a builtin is the
// innermost activation are recorded as handles of the running engine so
// they survive a collection triggered by a nested call.
func (vm *VM) alloc(o *RObject) Value {
	v := vm.heap.alloc(o)
	if e := vm.current; e != nil && e.nativeDepth > 0 {
		e.handles = append(e.handles, v)
	}
	return v
}
