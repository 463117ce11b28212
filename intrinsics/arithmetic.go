package intrinsics

import (
	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/ir"
)

// registerArithmetic wires the binary ALU and comparison operators. These
// are intrinsics too: ordinary names resolved through the same table
// before user-defined name lookup, just spelled as operators rather than
// identifiers.
func registerArithmetic(t *Table) {
	binALU := map[string]ir.Op{
		"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMul, "/": ir.OpDiv, "%": ir.OpMod,
		"&": ir.OpAnd, "|": ir.OpOr, "^": ir.OpXor,
		"<<": ir.OpShl, ">>": ir.OpShr, "asr": ir.OpSar,
	}
	for name, op := range binALU {
		op := op
		name := name
		t.register(name, 2, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			if len(args) != 2 {
				return 0, arityError(name, "2", args, posOf(args))
			}
			vals, err := lowerAll(b, args)
			if err != nil {
				return 0, err
			}
			dst := b.NewVReg()
			b.Emit(ir.Instr{Op: op, Dst: dst, A: vals[0], B: ir.RegOperand(vals[1]), Pos: posOf(args)})
			return dst, nil
		})
	}

	cmp := map[string]ir.Cond{
		"=": ir.CondEQ, "!=": ir.CondNE,
		"<": ir.CondLT, "<=": ir.CondLE,
		">": ir.CondGT, ">=": ir.CondGE,
	}
	for name, cond := range cmp {
		cond := cond
		name := name
		t.register(name, 2, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			if len(args) != 2 {
				return 0, arityError(name, "2", args, posOf(args))
			}
			vals, err := lowerAll(b, args)
			if err != nil {
				return 0, err
			}
			return emitBoolean(b, cond, ir.RegOperand(vals[0]), ir.RegOperand(vals[1]), posOf(args)), nil
		})
	}

	t.register("not", 1, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
		if len(args) != 1 {
			return 0, arityError("not", "1", args, posOf(args))
		}
		vals, err := lowerAll(b, args)
		if err != nil {
			return 0, err
		}
		return emitBoolean(b, ir.CondEQ, ir.RegOperand(vals[0]), ir.ImmOperand(0), posOf(args)), nil
	})
}

// emitBoolean materializes (a `cond` b) as a 0/1-valued VReg: the IR has no
// flags register or setcc equivalent, only compare-and-branch, so booleans
// used as values are synthesized with a two-way branch exactly like `if`.
func emitBoolean(b *ir.Builder, cond ir.Cond, a, bOperand ir.Operand, pos ast.Pos) ir.VReg {
	falseLabel := b.NewLabel()
	endLabel := b.NewLabel()
	result := b.NewVReg()

	b.Emit(ir.Instr{
		Op: ir.OpJumpIf, Cond: cond.Negate(),
		CmpA: a, CmpB: bOperand, Target: falseLabel, Pos: pos,
	})
	one := b.EmitConstI64(1, pos)
	b.Emit(ir.Instr{Op: ir.OpMove, Dst: result, A: one, Pos: pos})
	b.Emit(ir.Instr{Op: ir.OpJump, Target: endLabel, Pos: pos})

	b.Emit(ir.Instr{Op: ir.OpLabel, Label: falseLabel, Pos: pos})
	zero := b.Zero()
	b.Emit(ir.Instr{Op: ir.OpMove, Dst: result, A: zero, Pos: pos})
	b.Emit(ir.Instr{Op: ir.OpLabel, Label: endLabel, Pos: pos})
	return result
}
