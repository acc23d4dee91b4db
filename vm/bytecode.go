package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Operands are
// little-endian and every opcode has a fixed operand width.
type Opcode byte

// Stack Operations
const (
	OpNOP  Opcode = 0x00 // no operation
	OpPOP  Opcode = 0x01 // discard top of stack
	OpDUP  Opcode = 0x02 // duplicate top of stack
	OpSWAP Opcode = 0x03 // swap the two top values
	OpTOPN Opcode = 0x04 // push a copy of the value n below the top (8-bit n)
)

// Push Constants
const (
	OpPushNil    Opcode = 0x10 // push nil
	OpPushTrue   Opcode = 0x11 // push true
	OpPushFalse  Opcode = 0x12 // push false
	OpPushSelf   Opcode = 0x13 // push self
	OpPushInt    Opcode = 0x14 // push 32-bit signed integer
	OpPushLit    Opcode = 0x15 // push literal (16-bit index)
	OpPushFloat  Opcode = 0x16 // push inline float64
	OpPushSym    Opcode = 0x17 // push symbol (32-bit id)
	OpPushString Opcode = 0x18 // push a fresh String (16-bit string table index)
)

// Variable Operations
const (
	OpGetLocal   Opcode = 0x20 // push local (16-bit slot, 8-bit outer hops)
	OpSetLocal   Opcode = 0x21 // pop into local (16-bit slot, 8-bit outer hops)
	OpCheckLocal Opcode = 0x22 // push whether a keyword local was supplied
	OpGetIvar    Opcode = 0x23 // push instance variable (32-bit symbol)
	OpSetIvar    Opcode = 0x24 // pop into instance variable
	OpGetGvar    Opcode = 0x25 // push global variable (32-bit symbol)
	OpSetGvar    Opcode = 0x26 // pop into global variable
)

// Constants
const (
	OpGetConst    Opcode = 0x28 // lexical constant (32-bit symbol, 16-bit cache)
	OpGetConstTop Opcode = 0x29 // top-level constant (32-bit symbol)
	OpGetScope    Opcode = 0x2a // pop module, push its constant (32-bit symbol)
	OpSetConst    Opcode = 0x2b // pop value into the lexical module (32-bit symbol)
)

// Message Sends
const (
	OpSend      Opcode = 0x30 // symbol u32, argc u8, flags u8, block u16, cache u16
	OpSendSuper Opcode = 0x31 // argc u8, flags u8, block u16
	OpYield     Opcode = 0x32 // argc u8, flags u8
)

// Arithmetic and comparison with fixnum/flonum fast paths (16-bit cache)
const (
	OpAdd Opcode = 0x40
	OpSub Opcode = 0x41
	OpMul Opcode = 0x42
	OpDiv Opcode = 0x43
	OpMod Opcode = 0x44
	OpEq  Opcode = 0x45
	OpNe  Opcode = 0x46
	OpLt  Opcode = 0x47
	OpLe  Opcode = 0x48
	OpGt  Opcode = 0x49
	OpGe  Opcode = 0x4a
	OpCmp Opcode = 0x4b
	OpNot Opcode = 0x4c // logical not, no operand
)

// Control Flow (32-bit offset relative to the end of the instruction)
const (
	OpJump       Opcode = 0x50
	OpJumpIf     Opcode = 0x51 // pop, jump if truthy
	OpJumpUnless Opcode = 0x52 // pop, jump if falsy
	OpJumpNil    Opcode = 0x53 // pop, jump if nil
)

// Returns and exceptions
const (
	OpReturn      Opcode = 0x60 // return top from the current frame
	OpMReturn     Opcode = 0x61 // return top from the lexically enclosing method
	OpBreak       Opcode = 0x62 // break out of the block's call site with top
	OpThrow       Opcode = 0x63 // raise top
	OpRescueMatch Opcode = 0x64 // pop n classes, test the exception below them (8-bit n)
	OpEnsureEnd   Opcode = 0x65 // pop pending unwind marker, resume it unless nil
)

// Object Creation
const (
	OpNewArray Opcode = 0x70 // pop n values (16-bit n)
	OpNewHash  Opcode = 0x71 // pop n key/value pairs (16-bit n)
	OpNewRange Opcode = 0x72 // pop begin and end (8-bit exclusive flag)
	OpNewProc  Opcode = 0x73 // child u16, lambda u8
)

// Definitions
const (
	OpDefMethod  Opcode = 0x80 // symbol u32, child u16
	OpDefSMethod Opcode = 0x81 // pop target; symbol u32, child u16
	OpDefClass   Opcode = 0x82 // flags u8, symbol u32, child u16; pops superclass or nil
	OpDefSClass  Opcode = 0x83 // pop object; child u16
	OpAlias      Opcode = 0x84 // new u32, old u32
)

// Send flags.
const (
	FlagBlockArg = 1 << iota // last value is an explicit &block argument
	FlagSplat                // last positional argument is splatted
	FlagKwargs               // a keyword Hash follows the positional arguments
	FlagFcall                // receiverless call; private methods allowed
)

// DefClass flags.
const (
	ClassFlagModule = 1 << iota
)

// NoBlock is the block operand of a send without a literal block.
const NoBlock = 0xFFFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:  {"NOP", 0, 0},
	OpPOP:  {"POP", 0, -1},
	OpDUP:  {"DUP", 0, 1},
	OpSWAP: {"SWAP", 0, 0},
	OpTOPN: {"TOPN", 1, 1},

	OpPushNil:    {"PUSH_NIL", 0, 1},
	OpPushTrue:   {"PUSH_TRUE", 0, 1},
	OpPushFalse:  {"PUSH_FALSE", 0, 1},
	OpPushSelf:   {"PUSH_SELF", 0, 1},
	OpPushInt:    {"PUSH_INT", 4, 1},
	OpPushLit:    {"PUSH_LIT", 2, 1},
	OpPushFloat:  {"PUSH_FLOAT", 8, 1},
	OpPushSym:    {"PUSH_SYM", 4, 1},
	OpPushString: {"PUSH_STRING", 2, 1},

	OpGetLocal:   {"GET_LOCAL", 3, 1},
	OpSetLocal:   {"SET_LOCAL", 3, -1},
	OpCheckLocal: {"CHECK_LOCAL", 3, 1},
	OpGetIvar:    {"GET_IVAR", 4, 1},
	OpSetIvar:    {"SET_IVAR", 4, -1},
	OpGetGvar:    {"GET_GVAR", 4, 1},
	OpSetGvar:    {"SET_GVAR", 4, -1},

	OpGetConst:    {"GET_CONST", 6, 1},
	OpGetConstTop: {"GET_CONST_TOP", 4, 1},
	OpGetScope:    {"GET_SCOPE", 4, 0},
	OpSetConst:    {"SET_CONST", 4, -1},

	OpSend:      {"SEND", 10, -1},
	OpSendSuper: {"SEND_SUPER", 4, -1},
	OpYield:     {"YIELD", 2, -1},

	OpAdd: {"ADD", 2, -1},
	OpSub: {"SUB", 2, -1},
	OpMul: {"MUL", 2, -1},
	OpDiv: {"DIV", 2, -1},
	OpMod: {"MOD", 2, -1},
	OpEq:  {"EQ", 2, -1},
	OpNe:  {"NE", 2, -1},
	OpLt:  {"LT", 2, -1},
	OpLe:  {"LE", 2, -1},
	OpGt:  {"GT", 2, -1},
	OpGe:  {"GE", 2, -1},
	OpCmp: {"CMP", 2, -1},
	OpNot: {"NOT", 0, 0},

	OpJump:       {"JUMP", 4, 0},
	OpJumpIf:     {"JUMP_IF", 4, -1},
	OpJumpUnless: {"JUMP_UNLESS", 4, -1},
	OpJumpNil:    {"JUMP_NIL", 4, -1},

	OpReturn:      {"RETURN", 0, -1},
	OpMReturn:     {"MRETURN", 0, -1},
	OpBreak:       {"BREAK", 0, -1},
	OpThrow:       {"THROW", 0, -1},
	OpRescueMatch: {"RESCUE_MATCH", 1, -1},
	OpEnsureEnd:   {"ENSURE_END", 0, -1},

	OpNewArray: {"NEW_ARRAY", 2, -1},
	OpNewHash:  {"NEW_HASH", 2, -1},
	OpNewRange: {"NEW_RANGE", 1, -1},
	OpNewProc:  {"NEW_PROC", 3, 1},

	OpDefMethod:  {"DEF_METHOD", 6, 1},
	OpDefSMethod: {"DEF_SMETHOD", 6, 0},
	OpDefClass:   {"DEF_CLASS", 7, 0},
	OpDefSClass:  {"DEF_SCLASS", 2, 0},
	OpAlias:      {"ALIAS", 8, 1},
}

// arithOps maps arithmetic opcodes to their method names.
var arithOps = map[Opcode]Symbol{
	OpAdd: symAdd, OpSub: symSub, OpMul: symMul, OpDiv: symDiv, OpMod: symMod,
	OpEq: symEq, OpNe: symNe, OpLt: symLt, OpLe: symLe, OpGt: symGt,
	OpGe: symGe, OpCmp: symCmp,
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader over bc.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read offset.
func (r *BytecodeReader) Position() int { return r.pos }

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool { return r.pos < len(r.bytes) }

// ReadOpcode reads an opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single byte, returning 0 past the end.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		return 0
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a little-endian 16-bit value.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		r.pos = len(r.bytes)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a little-endian 32-bit value.
func (r *BytecodeReader) ReadUint32() uint32 {
	if r.pos+4 > len(r.bytes) {
		r.pos = len(r.bytes)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads a little-endian signed 32-bit value.
func (r *BytecodeReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadFloat64 reads a little-endian float64.
func (r *BytecodeReader) ReadFloat64() float64 {
	if r.pos+8 > len(r.bytes) {
		r.pos = len(r.bytes)
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.bytes[r.pos:]))
	r.pos += 8
	return v
}

// Skip advances the reader by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it. iseq resolves string-table operands and
// may be nil.
func DisassembleInstruction(r *BytecodeReader, iseq *ISeq) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpTOPN, OpRescueMatch, OpNewRange:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())

	case OpPushInt:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt32())

	case OpPushLit, OpNewArray, OpNewHash, OpDefSClass:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadUint16())

	case OpPushFloat:
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, formatFloat(r.ReadFloat64()))

	case OpPushString:
		idx := r.ReadUint16()
		if iseq != nil && int(idx) < len(iseq.Strings) {
			return fmt.Sprintf("%04d  %s %q", pos, info.Name, iseq.Strings[idx])
		}
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, idx)

	case OpPushSym, OpGetIvar, OpSetIvar, OpGetGvar, OpSetGvar,
		OpGetConstTop, OpGetScope, OpSetConst:
		return fmt.Sprintf("%04d  %s :%s", pos, info.Name, Symbol(r.ReadUint32()))

	case OpGetLocal, OpSetLocal, OpCheckLocal:
		slot := r.ReadUint16()
		outer := r.ReadByte()
		name := ""
		if iseq != nil && outer == 0 && int(slot) < len(iseq.Locals) {
			name = " (" + iseq.Locals[slot].String() + ")"
		}
		return fmt.Sprintf("%04d  %s %d@%d%s", pos, info.Name, slot, outer, name)

	case OpGetConst:
		name := Symbol(r.ReadUint32())
		cache := r.ReadUint16()
		return fmt.Sprintf("%04d  %s :%s cache=%d", pos, info.Name, name, cache)

	case OpSend:
		name := Symbol(r.ReadUint32())
		argc := r.ReadByte()
		flags := r.ReadByte()
		blk := r.ReadUint16()
		cache := r.ReadUint16()
		return fmt.Sprintf("%04d  %s :%s argc=%d flags=%s%s cache=%d",
			pos, info.Name, name, argc, formatSendFlags(flags), formatBlock(blk), cache)

	case OpSendSuper:
		argc := r.ReadByte()
		flags := r.ReadByte()
		blk := r.ReadUint16()
		return fmt.Sprintf("%04d  %s argc=%d flags=%s%s", pos, info.Name, argc, formatSendFlags(flags), formatBlock(blk))

	case OpYield:
		argc := r.ReadByte()
		flags := r.ReadByte()
		return fmt.Sprintf("%04d  %s argc=%d flags=%s", pos, info.Name, argc, formatSendFlags(flags))

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpCmp:
		return fmt.Sprintf("%04d  %s cache=%d", pos, info.Name, r.ReadUint16())

	case OpJump, OpJumpIf, OpJumpUnless, OpJumpNil:
		offset := r.ReadInt32()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpNewProc:
		child := r.ReadUint16()
		lambda := r.ReadByte()
		return fmt.Sprintf("%04d  %s child=%d lambda=%t", pos, info.Name, child, lambda != 0)

	case OpDefMethod, OpDefSMethod:
		name := Symbol(r.ReadUint32())
		child := r.ReadUint16()
		return fmt.Sprintf("%04d  %s :%s child=%d", pos, info.Name, name, child)

	case OpDefClass:
		flags := r.ReadByte()
		name := Symbol(r.ReadUint32())
		child := r.ReadUint16()
		kind := "class"
		if flags&ClassFlagModule != 0 {
			kind = "module"
		}
		return fmt.Sprintf("%04d  %s %s %s child=%d", pos, info.Name, kind, name, child)

	case OpAlias:
		newName := Symbol(r.ReadUint32())
		oldName := Symbol(r.ReadUint32())
		return fmt.Sprintf("%04d  %s :%s :%s", pos, info.Name, newName, oldName)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

func formatSendFlags(flags byte) string {
	if flags == 0 {
		return "-"
	}
	var parts []string
	for _, f := range []struct {
		bit  byte
		name string
	}{{FlagBlockArg, "blockarg"}, {FlagSplat, "splat"}, {FlagKwargs, "kwargs"}, {FlagFcall, "fcall"}} {
		if flags&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

func formatBlock(blk uint16) string {
	if blk == NoBlock {
		return ""
	}
	return fmt.Sprintf(" block=%d", blk)
}

// Disassemble returns a listing of iseq followed by its children.
func Disassemble(iseq *ISeq) string {
	var sb strings.Builder
	disassembleInto(&sb, iseq, "")
	return sb.String()
}

func disassembleInto(sb *strings.Builder, iseq *ISeq, path string) {
	fmt.Fprintf(sb, "== %s %s (%s)", iseq.Kind, iseq.Name, iseq.Params)
	if path != "" {
		fmt.Fprintf(sb, " child %s", path)
	}
	sb.WriteByte('\n')
	for _, c := range iseq.Catch {
		fmt.Fprintf(sb, "   catch %s [%04d, %04d) -> %04d depth=%d\n", c.Kind, c.Start, c.End, c.Handler, c.Depth)
	}
	r := NewBytecodeReader(iseq.Code)
	for r.HasMore() {
		sb.WriteString(DisassembleInstruction(r, iseq))
		sb.WriteByte('\n')
	}
	for i, child := range iseq.Children {
		p := fmt.Sprint(i)
		if path != "" {
			p = path + "." + p
		}
		disassembleInto(sb, child, p)
	}
}
