package vm

// Inline Caching for Method and Constant Resolution
//
// Every SEND, arithmetic and GET_CONST instruction owns one cache slot,
// indexed by an operand of the instruction. Caches are monomorphic: a
// single (class, method) pair stamped with the VM's global generation.
// Any mutation of a method table, constant table or ancestry bumps the
// generation, which invalidates every slot at once.

// CallCache memoizes method resolution for one call site.
type CallCache struct {
	class  *Module
	gen    uint64
	method *MethodInfo

	// Statistics for profiling
	Hits   uint64
	Misses uint64
}

// Lookup returns the cached method when class and generation match.
func (c *CallCache) Lookup(class *Module, gen uint64) *MethodInfo {
	if c.class == class && c.gen == gen && c.method != nil {
		c.Hits++
		return c.method
	}
	c.Misses++
	return nil
}

// Update records a resolution. Failed lookups are not cached.
func (c *CallCache) Update(class *Module, gen uint64, mi *MethodInfo) {
	if mi == nil {
		return
	}
	c.class = class
	c.gen = gen
	c.method = mi
}

// Reset clears the cache.
func (c *CallCache) Reset() {
	*c = CallCache{}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (c *CallCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) * 100 / float64(total)
}

// ConstCache memoizes constant resolution for one reference site, keyed on
// the lexical scope and receiver it was resolved for.
type ConstCache struct {
	cref  *Cref
	recv  *Module
	gen   uint64
	value Value
	valid bool

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached value when scope, receiver and generation match.
func (c *ConstCache) Lookup(cref *Cref, recv *Module, gen uint64) (Value, bool) {
	if c.valid && c.cref == cref && c.recv == recv && c.gen == gen {
		c.Hits++
		return c.value, true
	}
	c.Misses++
	return Nil, false
}

// Update records a resolution.
func (c *ConstCache) Update(cref *Cref, recv *Module, gen uint64, v Value) {
	c.cref = cref
	c.recv = recv
	c.gen = gen
	c.value = v
	c.valid = true
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// CacheStats aggregates inline cache counters.
type CacheStats struct {
	CallSites  int
	ConstSites int
	Hits       uint64
	Misses     uint64
}

// HitRate returns the aggregate hit rate as a percentage (0-100).
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// CacheStats collects counters for iseq and all of its children.
func (iseq *ISeq) CacheStats() CacheStats {
	var s CacheStats
	iseq.collectCacheStats(&s)
	return s
}

func (iseq *ISeq) collectCacheStats(s *CacheStats) {
	for i := range iseq.callCaches {
		c := &iseq.callCaches[i]
		s.CallSites++
		s.Hits += c.Hits
		s.Misses += c.Misses
	}
	for i := range iseq.constCaches {
		c := &iseq.constCaches[i]
		s.ConstSites++
		s.Hits += c.Hits
		s.Misses += c.Misses
	}
	for _, child := range iseq.Children {
		child.collectCacheStats(s)
	}
}
