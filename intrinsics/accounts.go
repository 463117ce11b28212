package intrinsics

import (
	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/ir"
)

// Account record layout, fixed for every serialized account (assumes
// data_len == 0 for every account; see DESIGN.md's account-offset note).
const (
	AccountRecordSize = 10336

	OffIsSigner   = 1
	OffIsWritable = 2
	OffExecutable = 3
	OffPubkey     = 8
	OffOwner      = 40
	OffLamports   = 72
	OffDataLen    = 80
	OffData       = 88
)

// HeapBase is the start of the 32KB scratch region used to materialize CPI
// descriptors. It requires the LDDW two-slot form to materialize (33-bit
// constant) -- rematerialized from the constant rather than spilled
// across a call.
const HeapBase = 0x300000000

// accountsBase returns the VReg holding R6's value: the input pointer to
// the serialized account region. The IR builder has no dedicated "R6"
// concept (that's a register-allocator concern); at this level it is the
// VReg defined by the OpEntryAccountsPtr instruction that
// Builder.AccountsBaseReg splices in as the function's first instruction
// on first use.
func accountsBase(b *ir.Builder) ir.VReg {
	return b.AccountsBaseReg()
}

func indexArg(b *ir.Builder, args []ast.Node, who string) (ir.VReg, error) {
	if len(args) != 1 {
		return 0, arityError(who, "1", args, posOf(args))
	}
	return b.LowerArg(args[0])
}

func registerAccounts(t *Table) {
	load := func(name string, width int, off int32) {
		var op ir.Op
		switch width {
		case 1:
			op = ir.OpLoad1
		case 2:
			op = ir.OpLoad2
		case 4:
			op = ir.OpLoad4
		case 8:
			op = ir.OpLoad8
		}
		t.register(name, 1, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			idx, err := indexArg(b, args, name)
			if err != nil {
				return 0, err
			}
			base := recordBase(b, idx, posOf(args))
			dst := b.NewVReg()
			b.Emit(ir.Instr{Op: op, Dst: dst, A: base, Offset: off, Pos: posOf(args)})
			return dst, nil
		})
	}

	load("account-is-signer", 1, OffIsSigner)
	load("account-is-writable", 1, OffIsWritable)
	load("account-executable", 1, OffExecutable)
	load("account-lamports", 8, OffLamports)
	load("account-data-len", 8, OffDataLen)

	// Pointer-valued accessors: the result is an address, not a loaded
	// value -- callers that need the bytes must mem-load through it.
	ptrAccessor := func(name string, off int32) {
		t.register(name, 1, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			idx, err := indexArg(b, args, name)
			if err != nil {
				return 0, err
			}
			base := recordBase(b, idx, posOf(args))
			offsetImm := b.EmitConstI64(int64(off), posOf(args))
			dst := b.NewVReg()
			b.Emit(ir.Instr{Op: ir.OpAdd, Dst: dst, A: base, B: ir.RegOperand(offsetImm), Pos: posOf(args)})
			return dst, nil
		})
	}
	ptrAccessor("account-pubkey", OffPubkey)
	ptrAccessor("account-owner", OffOwner)
	ptrAccessor("account-data", OffData)

	t.register("mem-load", 2, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 2 {
			return 0, arityError("mem-load", "2", args, posOf(args))
		}
		off, ok := literalInt(args[1])
		if !ok {
			return 0, &ir.IntrinsicArgError{Intrinsic: "mem-load", Reason: "offset must be a literal integer", Pos: args[1].Position()}
		}
		ptr, err := b.LowerArg(args[0])
		if err != nil {
			return 0, err
		}
		dst := b.NewVReg()
		b.Emit(ir.Instr{Op: ir.OpLoad8, Dst: dst, A: ptr, Offset: int32(off), Pos: posOf(args)})
		return dst, nil
	})

	t.register("mem-store", 3, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 3 {
			return 0, arityError("mem-store", "3", args, posOf(args))
		}
		off, ok := literalInt(args[1])
		if !ok {
			return 0, &ir.IntrinsicArgError{Intrinsic: "mem-store", Reason: "offset must be a literal integer", Pos: args[1].Position()}
		}
		ptr, err := b.LowerArg(args[0])
		if err != nil {
			return 0, err
		}
		val, err := b.LowerArg(args[2])
		if err != nil {
			return 0, err
		}
		b.Emit(ir.Instr{Op: ir.OpStore8, A: ptr, Offset: int32(off), Value: ir.RegOperand(val), Pos: posOf(args)})
		return b.Zero(), nil
	})

	// require / anchor-error: the only guard checks this compiler emits
	// on behalf of the source. require evaluates the condition, and if
	// false, invokes sol_log_ with its message and returns status 1
	// instead of continuing. anchor-error returns its literal code
	// unconditionally, without logging.
	t.register("require", 2, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 2 {
			return 0, arityError("require", "2", args, posOf(args))
		}
		msg, ok := args[1].(*ast.StringLit)
		if !ok {
			return 0, &ir.IntrinsicArgError{Intrinsic: "require", Reason: "message must be a string literal", Pos: args[1].Position()}
		}
		cond, err := b.LowerArg(args[0])
		if err != nil {
			return 0, err
		}
		okLabel := b.NewLabel()
		b.Emit(ir.Instr{Op: ir.OpJumpIf, Cond: ir.CondNE, CmpA: ir.RegOperand(cond), CmpB: ir.ImmOperand(0), Target: okLabel, Pos: posOf(args)})
		msgPtr := b.InternString(msg.Value, posOf(args))
		b.Emit(ir.Instr{Op: ir.OpCallSyscall, Name: "sol_log_", Argc: 1, Args: []ir.VReg{msgPtr}, Pos: posOf(args)})
		one := b.EmitConstI64(1, posOf(args))
		b.Emit(ir.Instr{Op: ir.OpReturn, Value: ir.RegOperand(one), Pos: posOf(args)})
		b.Emit(ir.Instr{Op: ir.OpLabel, Label: okLabel, Pos: posOf(args)})
		return b.Zero(), nil
	})
	t.register("anchor-error", 1, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 1 {
			return 0, arityError("anchor-error", "1", args, posOf(args))
		}
		code, ok := literalInt(args[0])
		if !ok {
			return 0, &ir.IntrinsicArgError{Intrinsic: "anchor-error", Reason: "error code must be a literal integer", Pos: posOf(args)}
		}
		codeReg := b.EmitConstI64(code, posOf(args))
		b.Emit(ir.Instr{Op: ir.OpReturn, Value: ir.RegOperand(codeReg), Pos: posOf(args)})
		return b.Zero(), nil
	})
}

// recordBase computes accounts_base + idx*AccountRecordSize. idx may be a
// literal (the common case) in which case the multiplication folds away
// immediately via the optimiser; it is still emitted as IR here since
// constant folding is the optimiser's job, not the intrinsic's.
func recordBase(b *ir.Builder, idx ir.VReg, pos ast.Pos) ir.VReg {
	base := accountsBase(b)
	size := b.EmitConstI64(AccountRecordSize, pos)
	byteOff := b.NewVReg()
	b.Emit(ir.Instr{Op: ir.OpMul, Dst: byteOff, A: idx, B: ir.RegOperand(size), Pos: pos})
	dst := b.NewVReg()
	b.Emit(ir.Instr{Op: ir.OpAdd, Dst: dst, A: base, B: ir.RegOperand(byteOff), Pos: pos})
	return dst
}

func literalInt(n ast.Node) (int64, bool) {
	if lit, ok := n.(*ast.IntLit); ok {
		return lit.Value, true
	}
	return 0, false
}
