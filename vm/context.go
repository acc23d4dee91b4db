package vm

// ---------------------------------------------------------------------------
// Context: one activation of an ISeq
// ---------------------------------------------------------------------------

// NumInlineLocals is the number of local slots stored directly in a
// Context; further slots spill into a slice.
const NumInlineLocals = 8

// Cref is a node of the lexical module nesting used for constant lookup
// and method definition.
type Cref struct {
	Module *Module
	Outer  *Cref
}

// Context is an activation record. Method, class and top-level contexts
// have no Outer; block contexts point at the context in which the block
// literal was evaluated. Contexts are always heap-owned so a block may
// outlive the call that created it.
type Context struct {
	ISeq  *ISeq
	Self  Value
	Outer *Context

	// Block is the block passed to a method context (a Proc value or nil).
	Block Value
	// Method is the method being executed, inherited by block contexts.
	Method *MethodInfo
	Cref   *Cref

	proc   *Proc // the proc whose body runs in a block context
	lambda bool  // return/break end this context

	locals [NumInlineLocals]Value
	spill  []Value

	pc        int
	instPC    int // offset of the instruction being executed
	stackBase int
	active    bool

	// visibility applies to methods defined by this (class body) context.
	visibility Visibility
	mark       uint32
}

func newContext(iseq *ISeq, self Value, outer *Context) *Context {
	ctx := &Context{ISeq: iseq, Self: self, Outer: outer, Block: Nil}
	if n := len(iseq.Locals); n > NumInlineLocals {
		ctx.spill = make([]Value, n-NumInlineLocals)
	}
	return ctx
}

// Local returns slot i.
func (c *Context) Local(i int) Value {
	if i < NumInlineLocals {
		return c.locals[i]
	}
	return c.spill[i-NumInlineLocals]
}

// SetLocal assigns slot i.
func (c *Context) SetLocal(i int, v Value) {
	if i < NumInlineLocals {
		c.locals[i] = v
		return
	}
	c.spill[i-NumInlineLocals] = v
}

func (c *Context) numLocals() int {
	return NumInlineLocals + len(c.spill)
}

// outerN walks n lexical links.
func (c *Context) outerN(n int) *Context {
	for ; n > 0 && c != nil; n-- {
		c = c.Outer
	}
	return c
}

// methodContext returns the outermost context of the lexical chain: the
// method, class body or top-level activation owning c.
func (c *Context) methodContext() *Context {
	for c.Outer != nil {
		c = c.Outer
	}
	return c
}

// returnTarget returns the context a method-level return unwinds to: the
// nearest lambda context, or else the owning method context.
func (c *Context) returnTarget() *Context {
	for ; c.Outer != nil; c = c.Outer {
		if c.lambda {
			return c
		}
	}
	return c
}

// IsBlock reports whether c runs a block body.
func (c *Context) IsBlock() bool { return c.Outer != nil }

// Line returns the current source line.
func (c *Context) Line() int { return c.ISeq.Line(c.instPC) }

// frameLabel formats c for backtraces.
func (c *Context) frameLabel() string {
	name := c.ISeq.Name
	switch {
	case c.IsBlock():
		name = "block in " + c.methodContext().ISeq.Name
	case c.ISeq.Kind == ISeqTop && name == "":
		name = "<main>"
	}
	return c.ISeq.Location(c.instPC) + ":in '" + name + "'"
}
