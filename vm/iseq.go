package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// ISeq: compiled instruction sequences
// ---------------------------------------------------------------------------

// ISeqKind identifies what an instruction sequence is the body of.
type ISeqKind uint8

const (
	ISeqTop ISeqKind = iota
	ISeqMethod
	ISeqBlock
	ISeqClass
	ISeqEval
)

func (k ISeqKind) String() string {
	switch k {
	case ISeqMethod:
		return "method"
	case ISeqBlock:
		return "block"
	case ISeqClass:
		return "class"
	case ISeqEval:
		return "eval"
	}
	return "top"
}

// ISeq is an immutable unit of bytecode plus its metadata. It is shared by
// every method and closure created from it; the inline cache slots are the
// only mutable part.
type ISeq struct {
	Name     string
	File     string
	Kind     ISeqKind
	Code     []byte
	Literals []Value
	Strings  []string
	Children []*ISeq
	Params   ParamDesc
	Locals   []Symbol // slot -> name; parameters first
	Catch    []CatchEntry
	Lines    []LineEntry

	callCaches  []CallCache
	constCaches []ConstCache
	mark        uint32
}

// KeywordParam describes one keyword parameter.
type KeywordParam struct {
	Name     Symbol
	Required bool
}

// ParamDesc is the parameter layout. Slots are assigned in the order
// required, optional, rest, post, keywords, keyword rest, block.
type ParamDesc struct {
	Required int
	Optional int
	Rest     bool
	Post     int
	Keywords []KeywordParam
	KwRest   bool
	Block    bool

	// OptEntries holds Optional+1 start offsets: entry i is used when i
	// optional arguments were supplied.
	OptEntries []int
}

func (p *ParamDesc) restSlot() int  { return p.Required + p.Optional }
func (p *ParamDesc) postStart() int { return p.restSlot() + b2i(p.Rest) }
func (p *ParamDesc) kwStart() int   { return p.postStart() + p.Post }
func (p *ParamDesc) kwRestSlot() int {
	return p.kwStart() + len(p.Keywords)
}
func (p *ParamDesc) blockSlot() int { return p.kwRestSlot() + b2i(p.KwRest) }

// Size returns the number of slots used by parameters.
func (p *ParamDesc) Size() int { return p.blockSlot() + b2i(p.Block) }

func (p *ParamDesc) hasKeywords() bool { return len(p.Keywords) > 0 || p.KwRest }

// arity follows the language convention: the exact count, or
// -(required+1) when optional or rest parameters exist.
func (p *ParamDesc) arity() int {
	req := p.Required + p.Post
	for _, k := range p.Keywords {
		if k.Required {
			req++
			break
		}
	}
	if p.Optional > 0 || p.Rest {
		return -(req + 1)
	}
	return req
}

func (p ParamDesc) String() string {
	var parts []string
	if p.Required > 0 {
		parts = append(parts, fmt.Sprintf("req=%d", p.Required))
	}
	if p.Optional > 0 {
		parts = append(parts, fmt.Sprintf("opt=%d", p.Optional))
	}
	if p.Rest {
		parts = append(parts, "rest")
	}
	if p.Post > 0 {
		parts = append(parts, fmt.Sprintf("post=%d", p.Post))
	}
	for _, k := range p.Keywords {
		s := "kw:" + k.Name.String()
		if k.Required {
			s += "!"
		}
		parts = append(parts, s)
	}
	if p.KwRest {
		parts = append(parts, "kwrest")
	}
	if p.Block {
		parts = append(parts, "block")
	}
	if len(parts) == 0 {
		return "no params"
	}
	return strings.Join(parts, " ")
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CatchKind distinguishes rescue handlers from ensure handlers.
type CatchKind uint8

const (
	// CatchRescue handles language exceptions only. The handler starts
	// with the exception on the stack.
	CatchRescue CatchKind = iota
	// CatchEnsure handles every unwind. The handler starts with the
	// exception or a pending-unwind marker on the stack; the normal path
	// enters it with nil.
	CatchEnsure
)

func (k CatchKind) String() string {
	if k == CatchEnsure {
		return "ensure"
	}
	return "rescue"
}

// CatchEntry covers the byte range [Start, End). Depth is the operand
// stack height, relative to the frame's base, restored before jumping
// to Handler.
type CatchEntry struct {
	Kind    CatchKind
	Start   int
	End     int
	Handler int
	Depth   int
}

// LineEntry maps a code offset to a source line. Entries are sorted by
// offset.
type LineEntry struct {
	Offset int
	Line   int
}

// Line returns the source line for pc, or 0 when unknown.
func (iseq *ISeq) Line(pc int) int {
	i := sort.Search(len(iseq.Lines), func(i int) bool { return iseq.Lines[i].Offset > pc })
	if i == 0 {
		return 0
	}
	return iseq.Lines[i-1].Line
}

// Location formats pc as file:line.
func (iseq *ISeq) Location(pc int) string {
	file := iseq.File
	if file == "" {
		file = "(garnet)"
	}
	return fmt.Sprintf("%s:%d", file, iseq.Line(pc))
}

// ---------------------------------------------------------------------------
// ISeqBuilder: the instruction-emission contract
// ---------------------------------------------------------------------------

// Label represents a code position, possibly not yet known.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions awaiting the label
}

// Position returns the resolved offset.
func (l *Label) Position() int { return l.position }

type pendingCatch struct {
	kind                CatchKind
	start, end, handler *Label
	depth               int
}

// ISeqBuilder assembles an ISeq. Parameters must be declared in slot
// order before any other local is introduced.
type ISeqBuilder struct {
	iseq    *ISeq
	code    []byte
	locals  map[Symbol]int
	phase   int
	catches []pendingCatch
	calls   int
	consts  int
}

// Parameter declaration phases.
const (
	phaseRequired = iota
	phaseOptional
	phaseRest
	phasePost
	phaseKeyword
	phaseKwRest
	phaseBlock
	phaseLocals
)

// NewISeqBuilder starts an instruction sequence.
func NewISeqBuilder(name string, kind ISeqKind) *ISeqBuilder {
	return &ISeqBuilder{
		iseq:   &ISeq{Name: name, Kind: kind},
		code:   make([]byte, 0, 64),
		locals: make(map[Symbol]int),
	}
}

// SetFile records the source file name.
func (b *ISeqBuilder) SetFile(file string) { b.iseq.File = file }

// Len returns the current code length.
func (b *ISeqBuilder) Len() int { return len(b.code) }

func (b *ISeqBuilder) enter(phase int) {
	if phase < b.phase {
		panic(fmt.Sprintf("iseq %s: parameters declared out of order", b.iseq.Name))
	}
	b.phase = phase
}

func (b *ISeqBuilder) addSlot(name string) uint16 {
	sym := Intern(name)
	if _, dup := b.locals[sym]; dup {
		panic(fmt.Sprintf("iseq %s: duplicate local %s", b.iseq.Name, name))
	}
	slot := len(b.iseq.Locals)
	b.locals[sym] = slot
	b.iseq.Locals = append(b.iseq.Locals, sym)
	return uint16(slot)
}

// Required declares required leading parameters.
func (b *ISeqBuilder) Required(names ...string) {
	b.enter(phaseRequired)
	for _, n := range names {
		b.addSlot(n)
		b.iseq.Params.Required++
	}
}

// Optional declares optional parameters. Each needs an OptEntry.
func (b *ISeqBuilder) Optional(names ...string) {
	b.enter(phaseOptional)
	for _, n := range names {
		b.addSlot(n)
		b.iseq.Params.Optional++
	}
}

// Rest declares the splat parameter.
func (b *ISeqBuilder) Rest(name string) {
	b.enter(phaseRest)
	b.addSlot(name)
	b.iseq.Params.Rest = true
	b.phase = phasePost
}

// Post declares required parameters following the rest parameter.
func (b *ISeqBuilder) Post(names ...string) {
	b.enter(phasePost)
	for _, n := range names {
		b.addSlot(n)
		b.iseq.Params.Post++
	}
}

// Keyword declares a keyword parameter.
func (b *ISeqBuilder) Keyword(name string, required bool) uint16 {
	b.enter(phaseKeyword)
	slot := b.addSlot(name)
	b.iseq.Params.Keywords = append(b.iseq.Params.Keywords, KeywordParam{Name: Intern(name), Required: required})
	return slot
}

// KwRest declares the keyword splat parameter.
func (b *ISeqBuilder) KwRest(name string) {
	b.enter(phaseKwRest)
	b.addSlot(name)
	b.iseq.Params.KwRest = true
	b.phase = phaseBlock
}

// BlockParam declares the explicit block parameter.
func (b *ISeqBuilder) BlockParam(name string) {
	b.enter(phaseBlock)
	b.addSlot(name)
	b.iseq.Params.Block = true
	b.phase = phaseLocals
}

// OptEntry records the current offset as the next optional-argument
// entry point.
func (b *ISeqBuilder) OptEntry() {
	b.iseq.Params.OptEntries = append(b.iseq.Params.OptEntries, len(b.code))
}

// Local returns the slot of name, allocating a new local if needed.
func (b *ISeqBuilder) Local(name string) uint16 {
	if slot, ok := b.locals[Intern(name)]; ok {
		return uint16(slot)
	}
	b.phase = phaseLocals
	return b.addSlot(name)
}

// Child registers a nested ISeq and returns its index.
func (b *ISeqBuilder) Child(child *ISeq) uint16 {
	for i, c := range b.iseq.Children {
		if c == child {
			return uint16(i)
		}
	}
	b.iseq.Children = append(b.iseq.Children, child)
	return uint16(len(b.iseq.Children) - 1)
}

// Line records that code from the current offset comes from line.
func (b *ISeqBuilder) Line(line int) {
	lines := b.iseq.Lines
	if n := len(lines); n > 0 && lines[n-1].Offset == len(b.code) {
		lines[n-1].Line = line
		return
	}
	b.iseq.Lines = append(lines, LineEntry{Offset: len(b.code), Line: line})
}

// ---------------------------------------------------------------------------
// Raw emission
// ---------------------------------------------------------------------------

// Emit appends an opcode with no operands.
func (b *ISeqBuilder) Emit(op Opcode) {
	b.code = append(b.code, byte(op))
}

func (b *ISeqBuilder) u8(v uint8)   { b.code = append(b.code, v) }
func (b *ISeqBuilder) u16(v uint16) { b.code = binary.LittleEndian.AppendUint16(b.code, v) }
func (b *ISeqBuilder) u32(v uint32) { b.code = binary.LittleEndian.AppendUint32(b.code, v) }

func (b *ISeqBuilder) callCache() uint16 {
	b.calls++
	return uint16(b.calls - 1)
}

// ---------------------------------------------------------------------------
// Typed emitters
// ---------------------------------------------------------------------------

// PushInt emits PUSH_INT.
func (b *ISeqBuilder) PushInt(n int32) {
	b.Emit(OpPushInt)
	b.u32(uint32(n))
}

// PushFloat emits PUSH_FLOAT.
func (b *ISeqBuilder) PushFloat(f float64) {
	b.Emit(OpPushFloat)
	b.code = binary.LittleEndian.AppendUint64(b.code, math.Float64bits(f))
}

// PushSym emits PUSH_SYM.
func (b *ISeqBuilder) PushSym(name string) {
	b.Emit(OpPushSym)
	b.u32(uint32(Intern(name)))
}

// PushString emits PUSH_STRING, interning s in the string table.
func (b *ISeqBuilder) PushString(s string) {
	idx := -1
	for i, existing := range b.iseq.Strings {
		if existing == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.iseq.Strings = append(b.iseq.Strings, s)
		idx = len(b.iseq.Strings) - 1
	}
	b.Emit(OpPushString)
	b.u16(uint16(idx))
}

// PushLit emits PUSH_LIT for a literal value.
func (b *ISeqBuilder) PushLit(v Value) {
	b.iseq.Literals = append(b.iseq.Literals, v)
	b.Emit(OpPushLit)
	b.u16(uint16(len(b.iseq.Literals) - 1))
}

// TopN emits TOPN.
func (b *ISeqBuilder) TopN(n uint8) {
	b.Emit(OpTOPN)
	b.u8(n)
}

func (b *ISeqBuilder) local(op Opcode, slot uint16, outer uint8) {
	b.Emit(op)
	b.u16(slot)
	b.u8(outer)
}

// GetLocal emits GET_LOCAL.
func (b *ISeqBuilder) GetLocal(slot uint16, outer uint8) { b.local(OpGetLocal, slot, outer) }

// SetLocal emits SET_LOCAL.
func (b *ISeqBuilder) SetLocal(slot uint16, outer uint8) { b.local(OpSetLocal, slot, outer) }

// CheckLocal emits CHECK_LOCAL.
func (b *ISeqBuilder) CheckLocal(slot uint16, outer uint8) { b.local(OpCheckLocal, slot, outer) }

func (b *ISeqBuilder) sym(op Opcode, name string) {
	b.Emit(op)
	b.u32(uint32(Intern(name)))
}

// GetIvar emits GET_IVAR.
func (b *ISeqBuilder) GetIvar(name string) { b.sym(OpGetIvar, name) }

// SetIvar emits SET_IVAR.
func (b *ISeqBuilder) SetIvar(name string) { b.sym(OpSetIvar, name) }

// GetGvar emits GET_GVAR.
func (b *ISeqBuilder) GetGvar(name string) { b.sym(OpGetGvar, name) }

// SetGvar emits SET_GVAR.
func (b *ISeqBuilder) SetGvar(name string) { b.sym(OpSetGvar, name) }

// GetConst emits GET_CONST with a fresh cache slot.
func (b *ISeqBuilder) GetConst(name string) {
	b.sym(OpGetConst, name)
	b.u16(uint16(b.consts))
	b.consts++
}

// GetConstTop emits GET_CONST_TOP.
func (b *ISeqBuilder) GetConstTop(name string) { b.sym(OpGetConstTop, name) }

// GetScope emits GET_SCOPE.
func (b *ISeqBuilder) GetScope(name string) { b.sym(OpGetScope, name) }

// SetConst emits SET_CONST.
func (b *ISeqBuilder) SetConst(name string) { b.sym(OpSetConst, name) }

func (b *ISeqBuilder) blockOperand(block *ISeq) uint16 {
	if block == nil {
		return NoBlock
	}
	return b.Child(block)
}

// Send emits SEND. The receiver and argc arguments must already be on
// the stack; block, when non-nil, becomes a literal block.
func (b *ISeqBuilder) Send(name string, argc int, flags byte, block *ISeq) {
	blk := b.blockOperand(block)
	b.sym(OpSend, name)
	b.u8(uint8(argc))
	b.u8(flags)
	b.u16(blk)
	b.u16(b.callCache())
}

// SendSuper emits SEND_SUPER.
func (b *ISeqBuilder) SendSuper(argc int, flags byte, block *ISeq) {
	blk := b.blockOperand(block)
	b.Emit(OpSendSuper)
	b.u8(uint8(argc))
	b.u8(flags)
	b.u16(blk)
}

// Yield emits YIELD.
func (b *ISeqBuilder) Yield(argc int, flags byte) {
	b.Emit(OpYield)
	b.u8(uint8(argc))
	b.u8(flags)
}

// Arith emits an arithmetic or comparison instruction with a cache slot.
func (b *ISeqBuilder) Arith(op Opcode) {
	if _, ok := arithOps[op]; !ok {
		panic(fmt.Sprintf("iseq %s: %s is not an arithmetic opcode", b.iseq.Name, op))
	}
	b.Emit(op)
	b.u16(b.callCache())
}

// NewArray emits NEW_ARRAY.
func (b *ISeqBuilder) NewArray(n int) {
	b.Emit(OpNewArray)
	b.u16(uint16(n))
}

// NewHash emits NEW_HASH for n key/value pairs.
func (b *ISeqBuilder) NewHash(n int) {
	b.Emit(OpNewHash)
	b.u16(uint16(n))
}

// NewRange emits NEW_RANGE.
func (b *ISeqBuilder) NewRange(exclusive bool) {
	b.Emit(OpNewRange)
	b.u8(uint8(b2i(exclusive)))
}

// NewProc emits NEW_PROC.
func (b *ISeqBuilder) NewProc(body *ISeq, lambda bool) {
	idx := b.Child(body)
	b.Emit(OpNewProc)
	b.u16(idx)
	b.u8(uint8(b2i(lambda)))
}

// RescueMatch emits RESCUE_MATCH.
func (b *ISeqBuilder) RescueMatch(n int) {
	b.Emit(OpRescueMatch)
	b.u8(uint8(n))
}

// DefMethod emits DEF_METHOD.
func (b *ISeqBuilder) DefMethod(name string, body *ISeq) {
	idx := b.Child(body)
	b.sym(OpDefMethod, name)
	b.u16(idx)
}

// DefSMethod emits DEF_SMETHOD; the target object must be on the stack.
func (b *ISeqBuilder) DefSMethod(name string, body *ISeq) {
	idx := b.Child(body)
	b.sym(OpDefSMethod, name)
	b.u16(idx)
}

// DefClass emits DEF_CLASS; the superclass (or nil) must be on the stack.
func (b *ISeqBuilder) DefClass(name string, body *ISeq, module bool) {
	idx := b.Child(body)
	var flags uint8
	if module {
		flags |= ClassFlagModule
	}
	b.Emit(OpDefClass)
	b.u8(flags)
	b.u32(uint32(Intern(name)))
	b.u16(idx)
}

// DefSClass emits DEF_SCLASS; the object must be on the stack.
func (b *ISeqBuilder) DefSClass(body *ISeq) {
	idx := b.Child(body)
	b.Emit(OpDefSClass)
	b.u16(idx)
}

// Alias emits ALIAS.
func (b *ISeqBuilder) Alias(newName, oldName string) {
	b.Emit(OpAlias)
	b.u32(uint32(Intern(newName)))
	b.u32(uint32(Intern(oldName)))
}

// ---------------------------------------------------------------------------
// Labels, jumps and catch entries
// ---------------------------------------------------------------------------

// NewLabel creates an unresolved label.
func (b *ISeqBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *ISeqBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.code)

	// Patch all forward references
	for _, ref := range label.refs {
		offset := label.position - (ref + 4) // offset from after the operand
		binary.LittleEndian.PutUint32(b.code[ref:], uint32(int32(offset)))
	}
	label.refs = nil
}

// Jump emits a jump instruction targeting label.
func (b *ISeqBuilder) Jump(op Opcode, label *Label) {
	b.Emit(op)
	if label.resolved {
		offset := label.position - (len(b.code) + 4)
		b.u32(uint32(int32(offset)))
		return
	}
	label.refs = append(label.refs, len(b.code))
	b.u32(0) // placeholder
}

// Catch registers an exception-table entry covering [start, end). Entries
// are searched in registration order, so register inner regions first.
func (b *ISeqBuilder) Catch(kind CatchKind, start, end, handler *Label, depth int) {
	b.catches = append(b.catches, pendingCatch{kind: kind, start: start, end: end, handler: handler, depth: depth})
}

// Build finalizes the ISeq.
func (b *ISeqBuilder) Build() *ISeq {
	iseq := b.iseq
	for _, c := range b.catches {
		if !c.start.resolved || !c.end.resolved || !c.handler.resolved {
			panic(fmt.Sprintf("iseq %s: unresolved catch label", iseq.Name))
		}
		iseq.Catch = append(iseq.Catch, CatchEntry{
			Kind:    c.kind,
			Start:   c.start.position,
			End:     c.end.position,
			Handler: c.handler.position,
			Depth:   c.depth,
		})
	}
	if p := &iseq.Params; p.Optional > 0 && len(p.OptEntries) != p.Optional+1 {
		panic(fmt.Sprintf("iseq %s: %d optional params need %d entries, have %d",
			iseq.Name, p.Optional, p.Optional+1, len(p.OptEntries)))
	}
	iseq.Code = b.code
	iseq.callCaches = make([]CallCache, b.calls)
	iseq.constCaches = make([]ConstCache, b.consts)
	return iseq
}
