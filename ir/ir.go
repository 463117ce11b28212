// Package ir defines the linear intermediate representation the builder
// lowers ast.Node trees into: a VReg/Instruction/Frame/Module alphabet
// modeled structurally on a staged-lowering compiler pipeline, but
// entirely re-expressed for a register-machine IR instead of a
// tree-walking one.
package ir

import (
	"fmt"

	"github.com/xyproto/solisp/ast"
)

// VReg is an opaque virtual register handle. Each VReg is defined exactly
// once by the builder (SSA-like), though it may be the target of Move on
// set!, which models a mutation rather than a fresh binding.
type VReg uint32

// Label is a monotonic branch-target identifier, resolved to an absolute
// instruction index during encoding.
type Label uint32

// RegHint records whether the builder expects a VReg to live across a call
// boundary, which the register allocator uses as a preference signal (not a
// hard constraint) between caller-save and callee-save physical registers.
type RegHint int

const (
	HintNone RegHint = iota
	HintCalleeSave
	HintCallerSave
	// HintAccountsPtr pins a VReg to R6 for its entire live range: the
	// accounts-base input pointer, which must survive every CallSyscall
	// in the function.
	HintAccountsPtr
	// HintInstrDataPtr pins a VReg to R7: the derived instruction-data
	// pointer.
	HintInstrDataPtr
)

// Op enumerates the IR instruction alphabet.
type Op int

const (
	OpConstI64 Op = iota
	OpConstPtr
	OpMove
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
	OpJumpIf
	OpJump
	OpLoad1
	OpLoad2
	OpLoad4
	OpLoad8
	OpStore1
	OpStore2
	OpStore4
	OpStore8
	OpCallSyscall
	OpCall
	OpReturn
	OpLabel
	OpFrameAlloc
	// OpEntryAccountsPtr defines the VReg holding the accounts-base input
	// pointer (R1 at program entry). The builder emits exactly one of
	// these, as the function's first instruction, so it is captured
	// before anything can clobber R1.
	OpEntryAccountsPtr
	// OpNop is a placeholder the optimiser leaves behind when it proves a
	// branch is never taken; the encoder skips it entirely.
	OpNop
)

func (op Op) String() string {
	switch op {
	case OpConstI64:
		return "const_i64"
	case OpConstPtr:
		return "const_ptr"
	case OpMove:
		return "move"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpSar:
		return "sar"
	case OpJumpIf:
		return "jump_if"
	case OpJump:
		return "jump"
	case OpLoad1, OpLoad2, OpLoad4, OpLoad8:
		return fmt.Sprintf("load%d", loadStoreWidth(op))
	case OpStore1, OpStore2, OpStore4, OpStore8:
		return fmt.Sprintf("store%d", loadStoreWidth(op))
	case OpCallSyscall:
		return "call_syscall"
	case OpCall:
		return "call"
	case OpReturn:
		return "return"
	case OpLabel:
		return "label"
	case OpFrameAlloc:
		return "frame_alloc"
	case OpEntryAccountsPtr:
		return "entry_accounts_ptr"
	case OpNop:
		return "nop"
	default:
		return "unknown"
	}
}

func loadStoreWidth(op Op) int {
	switch op {
	case OpLoad1, OpStore1:
		return 1
	case OpLoad2, OpStore2:
		return 2
	case OpLoad4, OpStore4:
		return 4
	case OpLoad8, OpStore8:
		return 8
	}
	return 0
}

// IsBinaryALU reports whether op is one of the Add..Sar binary arithmetic
// ops.
func (op Op) IsBinaryALU() bool {
	return op >= OpAdd && op <= OpSar
}

// Cond is a comparison condition used by JumpIf.
type Cond int

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
)

func (c Cond) String() string {
	switch c {
	case CondEQ:
		return "eq"
	case CondNE:
		return "ne"
	case CondLT:
		return "lt"
	case CondLE:
		return "le"
	case CondGT:
		return "gt"
	case CondGE:
		return "ge"
	default:
		return "?"
	}
}

// Negate returns the logical negation of c, used by the comparison
// intrinsics to branch to their false arm on the opposite condition.
func (c Cond) Negate() Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondLT:
		return CondGE
	case CondLE:
		return CondGT
	case CondGT:
		return CondLE
	case CondGE:
		return CondLT
	default:
		return c
	}
}

// Operand is either a virtual register or a 64-bit immediate. Exactly one
// binary ALU operand position supports the immediate form; the builder
// always materializes the first operand into a register.
type Operand struct {
	IsImm bool
	Reg   VReg
	Imm   int64
}

// RegOperand wraps a VReg as an Operand.
func RegOperand(r VReg) Operand { return Operand{Reg: r} }

// ImmOperand wraps an int64 as an immediate Operand.
func ImmOperand(v int64) Operand { return Operand{IsImm: true, Imm: v} }

func (o Operand) String() string {
	if o.IsImm {
		return fmt.Sprintf("#%d", o.Imm)
	}
	return fmt.Sprintf("v%d", o.Reg)
}

// Instr is one IR instruction. Only the fields relevant to Op are
// meaningful; a single wide instruction struct is used in favor of N Go
// types satisfying a common interface, because the back-end that follows
// (register allocator, encoder, verifier) wants to switch exhaustively on
// Op rather than do a type switch per pass.
type Instr struct {
	Op     Op
	Dst    VReg    // ConstI64, ConstPtr, Move, binary ALU, Load*
	A      VReg    // Move src; binary ALU first operand; Store* base; Load* base
	B      Operand // binary ALU second operand
	Imm    int64   // ConstI64, ConstPtr immediate value
	Wide   bool    // ConstI64/ConstPtr needs the two-slot LDDW form
	Offset int32   // Load*/Store* byte offset
	Value  Operand // Store* value; Return value
	Cond   Cond    // JumpIf
	CmpA   Operand // JumpIf left operand
	CmpB   Operand // JumpIf right operand
	Target Label   // Jump, JumpIf
	Label  Label   // Label
	Name   string  // CallSyscall/Call callee name
	Argc   int     // CallSyscall/Call argument count
	Args   []VReg  // CallSyscall/Call argument values, placed into R1..R5 in order
	Bytes  int     // FrameAlloc
	Pos    ast.Pos // source position, when known
}

func (in Instr) String() string {
	switch in.Op {
	case OpConstI64, OpConstPtr:
		return fmt.Sprintf("v%d = %s %d", in.Dst, in.Op, in.Imm)
	case OpMove:
		return fmt.Sprintf("v%d = move v%d", in.Dst, in.A)
	case OpJumpIf:
		return fmt.Sprintf("jump_if %s %s %s -> L%d", in.CmpA, in.Cond, in.CmpB, in.Target)
	case OpJump:
		return fmt.Sprintf("jump L%d", in.Target)
	case OpLoad1, OpLoad2, OpLoad4, OpLoad8:
		return fmt.Sprintf("v%d = %s [v%d+%d]", in.Dst, in.Op, in.A, in.Offset)
	case OpStore1, OpStore2, OpStore4, OpStore8:
		return fmt.Sprintf("%s [v%d+%d] <- %s", in.Op, in.A, in.Offset, in.Value)
	case OpCallSyscall:
		return fmt.Sprintf("call_syscall %s/%d", in.Name, in.Argc)
	case OpCall:
		return fmt.Sprintf("v%d = call %s/%d", in.Dst, in.Name, in.Argc)
	case OpReturn:
		return fmt.Sprintf("return %s", in.Value)
	case OpLabel:
		return fmt.Sprintf("L%d:", in.Label)
	case OpFrameAlloc:
		return fmt.Sprintf("frame_alloc %d", in.Bytes)
	case OpEntryAccountsPtr:
		return fmt.Sprintf("v%d = entry_accounts_ptr", in.Dst)
	case OpNop:
		return "nop"
	default:
		if in.Op.IsBinaryALU() {
			return fmt.Sprintf("v%d = %s v%d, %s", in.Dst, in.Op, in.A, in.B)
		}
		return in.Op.String()
	}
}

// StringConst is an interned string-pool entry.
type StringConst struct {
	Offset int // byte offset within the module's rodata region
	Value  string
}

// Function is one emitted function frame. In practice solisp programs
// compile to a single `entrypoint` function, but the data model keeps
// this general since direct (non-closure) calls between user-defined
// functions are part of the surface language.
type Function struct {
	Name         string
	Instrs       []Instr
	NumVRegs     int
	NextLabel    Label
	Locals       map[string]VReg // not filled in by the builder, which keeps name bindings in its own scope stack
	StackSlots   int             // FrameAlloc accounting, bytes
	Hints        map[VReg]RegHint
}

// Module is the whole compilation unit: one or more functions plus
// module-global constants.
type Module struct {
	Functions    []*Function
	EntryIndex   int // index into Functions of the entrypoint
	Strings      []StringConst
	internedPool map[string]int
	Diagnostics  []Diagnostic
}

// DiagnosticKind classifies a non-fatal Diagnostic.
type DiagnosticKind int

const (
	DiagUnusedLocal DiagnosticKind = iota
	DiagConstantBranch
	DiagUnregisteredSyscallCallSite
	DiagComputeBudgetExceeded
)

// Diagnostic is a non-fatal compile-time warning.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
	Pos     ast.Pos
}

// NewModule creates an empty module with one entrypoint function.
func NewModule() *Module {
	entry := &Function{Name: "entrypoint", Locals: map[string]VReg{}, Hints: map[VReg]RegHint{}}
	return &Module{
		Functions:    []*Function{entry},
		EntryIndex:   0,
		internedPool: map[string]int{},
	}
}

// Entry returns the module's entrypoint function.
func (m *Module) Entry() *Function {
	return m.Functions[m.EntryIndex]
}

// Intern adds s to the module string pool (if not already present) and
// returns its stable byte offset. String handles are stable for the
// lifetime of the compile.
func (m *Module) Intern(s string) int {
	if off, ok := m.internedPool[s]; ok {
		return off
	}
	off := 0
	for _, sc := range m.Strings {
		off += len(sc.Value) + 1 // NUL-terminated, matches .dynstr-style pooling
	}
	m.Strings = append(m.Strings, StringConst{Offset: off, Value: s})
	m.internedPool[s] = off
	return off
}

// Warn appends a non-fatal diagnostic to the module.
func (m *Module) Warn(kind DiagnosticKind, pos ast.Pos, format string, args ...any) {
	m.Diagnostics = append(m.Diagnostics, Diagnostic{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	})
}
