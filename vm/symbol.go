package vm

import "sync"

// ---------------------------------------------------------------------------
// SymbolTable: Interned identifiers
// ---------------------------------------------------------------------------

// Symbol is a stable identifier for an interned name.
type Symbol uint32

// SymbolTable interns names to unique IDs. The mapping is append-only and
// shared by every VM in the process.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]Symbol // name -> ID
	byID   []string          // ID -> name
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]Symbol),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the ID for a name, creating a new one if needed.
func (st *SymbolTable) Intern(name string) Symbol {
	// Fast path: read-only lookup
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := st.byName[name]; ok {
		return id
	}

	id := Symbol(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Lookup returns the ID for a name without interning it.
func (st *SymbolTable) Lookup(name string) (Symbol, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the name for an ID, or "" if invalid.
func (st *SymbolTable) Name(id Symbol) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// symbols is the process-wide table.
var symbols = NewSymbolTable()

// Intern returns the process-wide symbol for name.
func Intern(name string) Symbol {
	return symbols.Intern(name)
}

// String returns the symbol's name.
func (s Symbol) String() string {
	return symbols.Name(s)
}

// Well-known symbols used by the engine.
var (
	symAdd            = Intern("+")
	symSub            = Intern("-")
	symMul            = Intern("*")
	symDiv            = Intern("/")
	symMod            = Intern("%")
	symEq             = Intern("==")
	symNe             = Intern("!=")
	symLt             = Intern("<")
	symLe             = Intern("<=")
	symGt             = Intern(">")
	symGe             = Intern(">=")
	symCmp            = Intern("<=>")
	symEqq            = Intern("===")
	symNot            = Intern("!")
	symCall           = Intern("call")
	symEach           = Intern("each")
	symNew            = Intern("new")
	symInitialize     = Intern("initialize")
	symMethodMissing  = Intern("method_missing")
	symRespondMissing = Intern("respond_to_missing?")
	symToS            = Intern("to_s")
	symInspect        = Intern("inspect")
	symToProc         = Intern("to_proc")
	symToA            = Intern("to_a")
	symHash           = Intern("hash")
	symMessage        = Intern("message")
	symErrInfo        = Intern("$!")
	symMain           = Intern("main")
	symInherited      = Intern("inherited")
	symIncluded       = Intern("included")
)

// arithSymbols are the operators with fast paths; redefining one on
// Integer or Float disables the fast path for that class.
var arithSymbols = map[Symbol]bool{
	symAdd: true, symSub: true, symMul: true, symDiv: true, symMod: true,
	symEq: true, symNe: true, symLt: true, symLe: true, symGt: true,
	symGe: true, symCmp: true,
}
