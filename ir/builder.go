package ir

import (
	"math"

	"github.com/xyproto/solisp/ast"
)

// Handler is an intrinsic's IR-emitting implementation. It receives the
// builder (so it can emit instructions, allocate registers and intern
// strings) and the raw, not-yet-lowered argument nodes (some intrinsics,
// such as mem-load, need to inspect an argument's literal shape rather than
// its lowered value). It returns the VReg holding the intrinsic's result,
// or the builder's Zero() sentinel for side-effect-only forms.
type Handler func(b *Builder, args []ast.Node) (VReg, error)

// IntrinsicTable resolves an intrinsic name/arity pair to a Handler.
// Implemented by package intrinsics; injected here to avoid a dependency
// cycle (intrinsics necessarily imports ir to emit instructions).
type IntrinsicTable interface {
	Lookup(name string, arity int) (Handler, bool)
}

type scope struct {
	vars map[string]VReg
}

type loopLabels struct {
	continueLabel Label
	breakLabel    Label
}

// Builder lowers an ast.Node tree into a *Module. One Builder lowers one
// compile; it owns no state shared across compiles.
type Builder struct {
	Module     *Module
	Intrinsics IntrinsicTable

	fn      *Function
	scopes  []scope
	loops   []loopLabels
	zeroReg VReg
	haveZero bool

	accountsBaseReg   VReg
	haveAccountsBase  bool
}

// NewBuilder creates a Builder over a fresh module, ready to lower the
// entrypoint function.
func NewBuilder(table IntrinsicTable) *Builder {
	m := NewModule()
	b := &Builder{Module: m, Intrinsics: table, fn: m.Entry()}
	b.pushScope()
	return b
}

// Zero returns a VReg known to hold the constant 0, materializing one the
// first time it is requested. Used by intrinsics for side-effect-only
// results. The constant is placed at function entry (after the
// accounts-base capture, if any) so it holds 0 on every path.
func (b *Builder) Zero() VReg {
	if b.haveZero {
		return b.zeroReg
	}
	r := b.NewVReg()
	at := 0
	if len(b.fn.Instrs) > 0 && b.fn.Instrs[0].Op == OpEntryAccountsPtr {
		at = 1
	}
	rest := append([]Instr{{Op: OpConstI64, Dst: r, Imm: 0}}, b.fn.Instrs[at:]...)
	b.fn.Instrs = append(b.fn.Instrs[:at], rest...)
	b.zeroReg = r
	b.haveZero = true
	return r
}

func (b *Builder) pushScope() {
	b.scopes = append(b.scopes, scope{vars: map[string]VReg{}})
}

func (b *Builder) popScope() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

func (b *Builder) lookup(name string) (VReg, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if r, ok := b.scopes[i].vars[name]; ok {
			return r, true
		}
	}
	return 0, false
}

func (b *Builder) bind(name string, r VReg) {
	b.scopes[len(b.scopes)-1].vars[name] = r
}

// NewVReg allocates a fresh virtual register in the current function.
func (b *Builder) NewVReg() VReg {
	r := VReg(b.fn.NumVRegs)
	b.fn.NumVRegs++
	return r
}

// NewLabel allocates a fresh label in the current function.
func (b *Builder) NewLabel() Label {
	l := b.fn.NextLabel
	b.fn.NextLabel++
	return l
}

// Emit appends an instruction to the current function.
func (b *Builder) Emit(in Instr) {
	b.fn.Instrs = append(b.fn.Instrs, in)
}

// EmitConstI64 emits a ConstI64 (marking it Wide when the value needs the
// two-slot LDDW encoding) and returns the destination.
func (b *Builder) EmitConstI64(v int64, pos ast.Pos) VReg {
	dst := b.NewVReg()
	wide := v > math.MaxInt32 || v < math.MinInt32
	b.Emit(Instr{Op: OpConstI64, Dst: dst, Imm: v, Wide: wide, Pos: pos})
	return dst
}

// EmitConstPtr emits a ConstPtr (always wide: addresses are 64-bit).
func (b *Builder) EmitConstPtr(addr uint64, pos ast.Pos) VReg {
	dst := b.NewVReg()
	b.Emit(Instr{Op: OpConstPtr, Dst: dst, Imm: int64(addr), Wide: true, Pos: pos})
	return dst
}

// EmitMove emits dst = move src, returning dst.
func (b *Builder) EmitMove(src VReg, pos ast.Pos) VReg {
	dst := b.NewVReg()
	b.Emit(Instr{Op: OpMove, Dst: dst, A: src, Pos: pos})
	return dst
}

// InternString interns s and returns a ConstPtr VReg pointing at it.
func (b *Builder) InternString(s string, pos ast.Pos) VReg {
	off := b.Module.Intern(s)
	return b.EmitConstPtr(uint64(off), pos)
}

// AccountsBaseReg returns the VReg holding the accounts-base input pointer,
// seeding it as the function's very first instruction on first use so its
// value is captured before any CallSyscall/Call clobbers R1.
func (b *Builder) AccountsBaseReg() VReg {
	if b.haveAccountsBase {
		return b.accountsBaseReg
	}
	r := VReg(b.fn.NumVRegs)
	b.fn.NumVRegs++
	b.fn.Instrs = append([]Instr{{Op: OpEntryAccountsPtr, Dst: r}}, b.fn.Instrs...)
	b.fn.Hints[r] = HintAccountsPtr
	b.accountsBaseReg = r
	b.haveAccountsBase = true
	return r
}

// InstructionDataPtr computes the instruction-data region pointer given the
// account count numAccounts (accounts_base + numAccounts*10336). The
// result is hinted HintInstrDataPtr so the register allocator prefers
// keeping it in R7 across the rest of the function.
func (b *Builder) InstructionDataPtr(numAccounts VReg, pos ast.Pos) VReg {
	base := b.AccountsBaseReg()
	size := b.EmitConstI64(10336, pos)
	byteOff := b.NewVReg()
	b.Emit(Instr{Op: OpMul, Dst: byteOff, A: numAccounts, B: RegOperand(size), Pos: pos})
	dst := b.NewVReg()
	b.Emit(Instr{Op: OpAdd, Dst: dst, A: base, B: RegOperand(byteOff), Pos: pos})
	b.fn.Hints[dst] = HintInstrDataPtr
	return dst
}

// Lower lowers a top-level program node (conventionally a "do" List
// produced by package parse) into the builder's module and returns it.
func (b *Builder) Lower(program ast.Node) (*Module, error) {
	result, err := b.lowerExpr(program)
	if err != nil {
		return nil, err
	}
	b.Emit(Instr{Op: OpReturn, Value: RegOperand(result)})
	b.checkUnusedLocals()
	return b.Module, nil
}

func (b *Builder) checkUnusedLocals() {
	// A local counts as used if it was ever looked up after definition;
	// the builder does not track per-name use counts (that would need a
	// second pass over Instrs), so this is left as a placeholder for a
	// locals-defined-but-never-read diagnostic rather than a real check.
}

// LowerArg lowers a single argument node. Exported for package intrinsics,
// whose handlers receive raw argument nodes (rather than pre-lowered VRegs)
// so they can inspect an argument's literal shape before lowering it, as
// mem-load's literal-offset constraint requires.
func (b *Builder) LowerArg(n ast.Node) (VReg, error) {
	return b.lowerExpr(n)
}

// lowerExpr dispatches on the dynamic type of n.
func (b *Builder) lowerExpr(n ast.Node) (VReg, error) {
	switch node := n.(type) {
	case *ast.IntLit:
		return b.EmitConstI64(node.Value, node.Pos), nil
	case *ast.FloatLit:
		return 0, &NotImplementedError{Form: "float literal", Pos: node.Pos}
	case *ast.StringLit:
		return b.InternString(node.Value, node.Pos), nil
	case *ast.Symbol:
		return b.lowerSymbol(node)
	case *ast.List:
		return b.lowerList(node)
	default:
		return 0, &NotImplementedError{Form: "unknown AST node", Pos: n.Position()}
	}
}

func (b *Builder) lowerSymbol(sym *ast.Symbol) (VReg, error) {
	if r, ok := b.lookup(sym.Name); ok {
		return r, nil
	}
	return 0, &UnboundSymbolError{Name: sym.Name, Pos: sym.Pos}
}

func (b *Builder) lowerList(list *ast.List) (VReg, error) {
	if len(list.Elements) == 0 {
		return b.Zero(), nil
	}
	op, isSym := list.Operator()
	if !isSym {
		return 0, &NotImplementedError{Form: "non-symbol operator position", Pos: list.Pos}
	}

	// Intrinsic resolution runs before user-defined name lookup: a
	// deliberate tie-break, even though it means a user definition can
	// never shadow a built-in name.
	if b.Intrinsics != nil {
		if handler, ok := b.Intrinsics.Lookup(op, len(list.Args())); ok {
			return handler(b, list.Args())
		}
	}

	switch op {
	case "define":
		return b.lowerDefine(list)
	case "set!":
		return b.lowerSet(list)
	case "if":
		return b.lowerIf(list)
	case "while":
		return b.lowerWhile(list)
	case "for":
		return b.lowerFor(list)
	case "do":
		return b.lowerDo(list)
	case "break":
		return b.lowerBreak(list)
	case "continue":
		return b.lowerContinue(list)
	case "PARALLEL", "DECISION", "WAIT", "try", "catch", "lambda", "match":
		return 0, &NotImplementedError{Form: op, Pos: list.Pos}
	default:
		return b.lowerCall(op, list)
	}
}

func (b *Builder) lowerDefine(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) != 2 {
		return 0, &ArityError{Name: "define", Expected: "2", Got: len(args), Pos: list.Pos}
	}
	sym, ok := args[0].(*ast.Symbol)
	if !ok {
		return 0, &IntrinsicArgError{Intrinsic: "define", Reason: "first argument must be a symbol", Pos: list.Pos}
	}
	val, err := b.lowerExpr(args[1])
	if err != nil {
		return 0, err
	}
	b.bind(sym.Name, val)
	return val, nil
}

func (b *Builder) lowerSet(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) != 2 {
		return 0, &ArityError{Name: "set!", Expected: "2", Got: len(args), Pos: list.Pos}
	}
	sym, ok := args[0].(*ast.Symbol)
	if !ok {
		return 0, &IntrinsicArgError{Intrinsic: "set!", Reason: "first argument must be a symbol", Pos: list.Pos}
	}
	existing, ok := b.lookup(sym.Name)
	if !ok {
		return 0, &UnboundSymbolError{Name: sym.Name, Pos: list.Pos}
	}
	newVal, err := b.lowerExpr(args[1])
	if err != nil {
		return 0, err
	}
	// A real Move into the existing VReg, not an SSA rename: loops rely
	// on observing this mutation on every iteration.
	b.Emit(Instr{Op: OpMove, Dst: existing, A: newVal, Pos: list.Pos})
	return existing, nil
}

func (b *Builder) lowerIf(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) != 2 && len(args) != 3 {
		return 0, &ArityError{Name: "if", Expected: "2-3", Got: len(args), Pos: list.Pos}
	}
	cond, err := b.lowerExpr(args[0])
	if err != nil {
		return 0, err
	}
	elseLabel := b.NewLabel()
	endLabel := b.NewLabel()
	result := b.NewVReg()

	b.Emit(Instr{
		Op: OpJumpIf, Cond: CondEQ,
		CmpA: RegOperand(cond), CmpB: ImmOperand(0),
		Target: elseLabel, Pos: list.Pos,
	})
	thenVal, err := b.lowerExpr(args[1])
	if err != nil {
		return 0, err
	}
	b.Emit(Instr{Op: OpMove, Dst: result, A: thenVal, Pos: list.Pos})
	b.Emit(Instr{Op: OpJump, Target: endLabel, Pos: list.Pos})

	b.Emit(Instr{Op: OpLabel, Label: elseLabel, Pos: list.Pos})
	if len(args) == 3 {
		elseVal, err := b.lowerExpr(args[2])
		if err != nil {
			return 0, err
		}
		b.Emit(Instr{Op: OpMove, Dst: result, A: elseVal, Pos: list.Pos})
	} else {
		b.Emit(Instr{Op: OpMove, Dst: result, A: b.Zero(), Pos: list.Pos})
	}
	b.Emit(Instr{Op: OpLabel, Label: endLabel, Pos: list.Pos})
	return result, nil
}

func (b *Builder) lowerWhile(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) != 2 {
		return 0, &ArityError{Name: "while", Expected: "2", Got: len(args), Pos: list.Pos}
	}
	head := b.NewLabel()
	exit := b.NewLabel()
	b.Emit(Instr{Op: OpLabel, Label: head, Pos: list.Pos})
	cond, err := b.lowerExpr(args[0])
	if err != nil {
		return 0, err
	}
	b.Emit(Instr{
		Op: OpJumpIf, Cond: CondEQ,
		CmpA: RegOperand(cond), CmpB: ImmOperand(0),
		Target: exit, Pos: list.Pos,
	})
	b.loops = append(b.loops, loopLabels{continueLabel: head, breakLabel: exit})
	if _, err := b.lowerExpr(args[1]); err != nil {
		b.loops = b.loops[:len(b.loops)-1]
		return 0, err
	}
	b.loops = b.loops[:len(b.loops)-1]
	b.Emit(Instr{Op: OpJump, Target: head, Pos: list.Pos})
	b.Emit(Instr{Op: OpLabel, Label: exit, Pos: list.Pos})
	return b.Zero(), nil
}

// lowerFor desugars `(for (var seq) body)` into an index-bounded while:
// there is no iterator protocol at the bytecode level. seq must be
// `(range lo hi)`; an array literal or any other sequence form is rejected
// with an IntrinsicArgError.
func (b *Builder) lowerFor(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) != 2 {
		return 0, &ArityError{Name: "for", Expected: "2", Got: len(args), Pos: list.Pos}
	}
	binding, ok := args[0].(*ast.List)
	if !ok || len(binding.Elements) != 2 {
		return 0, &IntrinsicArgError{Intrinsic: "for", Reason: "first argument must be (var seq)", Pos: list.Pos}
	}
	varSym, ok := binding.Elements[0].(*ast.Symbol)
	if !ok {
		return 0, &IntrinsicArgError{Intrinsic: "for", Reason: "loop variable must be a symbol", Pos: list.Pos}
	}
	seq, ok := binding.Elements[1].(*ast.List)
	if !ok {
		return 0, &IntrinsicArgError{Intrinsic: "for", Reason: "sequence must be (range lo hi)", Pos: list.Pos}
	}
	seqOp, _ := seq.Operator()
	if seqOp != "range" || len(seq.Args()) != 2 {
		return 0, &IntrinsicArgError{Intrinsic: "for", Reason: "only (range lo hi) sequences are supported", Pos: list.Pos}
	}
	lo, err := b.lowerExpr(seq.Args()[0])
	if err != nil {
		return 0, err
	}
	hi, err := b.lowerExpr(seq.Args()[1])
	if err != nil {
		return 0, err
	}

	b.pushScope()
	idx := b.EmitMove(lo, list.Pos)
	b.bind(varSym.Name, idx)

	head := b.NewLabel()
	exit := b.NewLabel()
	b.Emit(Instr{Op: OpLabel, Label: head, Pos: list.Pos})
	b.Emit(Instr{
		Op: OpJumpIf, Cond: CondGE,
		CmpA: RegOperand(idx), CmpB: RegOperand(hi),
		Target: exit, Pos: list.Pos,
	})
	b.loops = append(b.loops, loopLabels{continueLabel: head, breakLabel: exit})
	if _, err := b.lowerExpr(args[1]); err != nil {
		b.loops = b.loops[:len(b.loops)-1]
		b.popScope()
		return 0, err
	}
	b.loops = b.loops[:len(b.loops)-1]

	one := b.EmitConstI64(1, list.Pos)
	next := b.NewVReg()
	b.Emit(Instr{Op: OpAdd, Dst: next, A: idx, B: RegOperand(one), Pos: list.Pos})
	b.Emit(Instr{Op: OpMove, Dst: idx, A: next, Pos: list.Pos})
	b.Emit(Instr{Op: OpJump, Target: head, Pos: list.Pos})
	b.Emit(Instr{Op: OpLabel, Label: exit, Pos: list.Pos})
	b.popScope()
	return b.Zero(), nil
}

func (b *Builder) lowerBreak(list *ast.List) (VReg, error) {
	if len(b.loops) == 0 {
		return 0, &IntrinsicArgError{Intrinsic: "break", Reason: "not inside a loop", Pos: list.Pos}
	}
	top := b.loops[len(b.loops)-1]
	b.Emit(Instr{Op: OpJump, Target: top.breakLabel, Pos: list.Pos})
	return b.Zero(), nil
}

func (b *Builder) lowerContinue(list *ast.List) (VReg, error) {
	if len(b.loops) == 0 {
		return 0, &IntrinsicArgError{Intrinsic: "continue", Reason: "not inside a loop", Pos: list.Pos}
	}
	top := b.loops[len(b.loops)-1]
	b.Emit(Instr{Op: OpJump, Target: top.continueLabel, Pos: list.Pos})
	return b.Zero(), nil
}

func (b *Builder) lowerDo(list *ast.List) (VReg, error) {
	args := list.Args()
	if len(args) == 0 {
		return b.Zero(), nil
	}
	b.pushScope()
	defer b.popScope()
	var last VReg
	var err error
	for _, expr := range args {
		last, err = b.lowerExpr(expr)
		if err != nil {
			return 0, err
		}
	}
	return last, nil
}

// lowerCall handles a name in call position that resolved to neither an
// intrinsic nor a special form. Nothing in this builder ever appends a
// second Function to the module, so there is no user-defined callee any
// such name could name: it is, definitionally, unbound.
func (b *Builder) lowerCall(name string, list *ast.List) (VReg, error) {
	return 0, &UnboundSymbolError{Name: name, Pos: list.Pos}
}
