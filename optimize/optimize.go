// Package optimize implements a "light" optimizer: constant folding,
// dead-block elimination and limited single-block copy propagation over
// the flat IR stream. Modeled on a foldConstants/eliminateDeadCode/
// propagateConstants trio operating on the same three concerns at the
// AST level; here they run post-lowering, over ir.Instr, because this
// compiler's register-machine IR (not a tree-walked AST) is its
// optimizable representation.
package optimize

import "github.com/xyproto/solisp/ir"

// Run applies the optimizer to every function in m at the given opt_level.
// Level 0 is a no-op; level 1 runs constant folding, copy propagation and
// constant-branch simplification with dead-block elimination, in that
// order, once (no fixed-point
// iteration -- this is scoped as a single light pass, not a CSE/LICM-
// capable optimizer).
func Run(m *ir.Module, optLevel int) {
	if optLevel < 1 {
		return
	}
	for _, fn := range m.Functions {
		foldConstants(fn)
		propagateCopies(fn)
		eliminateDeadBlocks(fn)
	}
}

func foldConstants(fn *ir.Function) {
	known := map[ir.VReg]int64{}
	out := make([]ir.Instr, 0, len(fn.Instrs))

	resolve := func(v ir.VReg) (int64, bool) {
		c, ok := known[v]
		return c, ok
	}
	resolveOperand := func(o ir.Operand) (int64, bool) {
		if o.IsImm {
			return o.Imm, true
		}
		return resolve(o.Reg)
	}

	for _, in := range fn.Instrs {
		switch in.Op {
		case ir.OpLabel:
			// A label is a join point (a loop head included): facts from
			// the fall-through path need not hold on the other edges in.
			known = map[ir.VReg]int64{}
			out = append(out, in)
			continue
		case ir.OpConstI64, ir.OpConstPtr:
			known[in.Dst] = in.Imm
			out = append(out, in)
			continue
		case ir.OpMove:
			if c, ok := resolve(in.A); ok {
				known[in.Dst] = c
			} else {
				delete(known, in.Dst)
			}
			out = append(out, in)
			continue
		}

		if in.Op.IsBinaryALU() {
			a, aok := resolve(in.A)
			b, bok := resolveOperand(in.B)
			if aok && bok {
				if (in.Op == ir.OpDiv || in.Op == ir.OpMod) && b == 0 {
					// Division/mod by a literal zero is kept as a
					// runtime trap, never folded.
					delete(known, in.Dst)
					out = append(out, in)
					continue
				}
				if result, ok := foldBinary(in.Op, a, b); ok {
					known[in.Dst] = result
					out = append(out, ir.Instr{Op: ir.OpConstI64, Dst: in.Dst, Imm: result, Pos: in.Pos})
					continue
				}
			}
			delete(known, in.Dst)
			out = append(out, in)
			continue
		}

		// Any other instruction that defines a register invalidates its
		// constant-ness; FrameAlloc/Label/Jump/etc. define nothing.
		if definesReg(in.Op) {
			delete(known, in.Dst)
		}
		out = append(out, in)
	}
	fn.Instrs = out
}

func definesReg(op ir.Op) bool {
	switch op {
	case ir.OpLoad1, ir.OpLoad2, ir.OpLoad4, ir.OpLoad8, ir.OpCall, ir.OpEntryAccountsPtr:
		return true
	default:
		return op.IsBinaryALU()
	}
}

func foldBinary(op ir.Op, a, b int64) (int64, bool) {
	switch op {
	case ir.OpAdd:
		return a + b, true
	case ir.OpSub:
		return a - b, true
	case ir.OpMul:
		return a * b, true
	case ir.OpDiv:
		return a / b, true
	case ir.OpMod:
		return a % b, true
	case ir.OpAnd:
		return a & b, true
	case ir.OpOr:
		return a | b, true
	case ir.OpXor:
		return a ^ b, true
	case ir.OpShl:
		return a << uint(b), true
	case ir.OpShr:
		return int64(uint64(a) >> uint(b)), true
	case ir.OpSar:
		return a >> uint(b), true
	default:
		return 0, false
	}
}

// propagateCopies replaces reads of a Move's destination with its source
// within the same basic block, conservatively giving up at any label or
// branch boundary.
func propagateCopies(fn *ir.Function) {
	subst := map[ir.VReg]ir.VReg{}
	resetBlock := func() { subst = map[ir.VReg]ir.VReg{} }

	resolve := func(v ir.VReg) ir.VReg {
		for {
			if r, ok := subst[v]; ok {
				v = r
				continue
			}
			return v
		}
	}

	for i := range fn.Instrs {
		in := &fn.Instrs[i]
		switch in.Op {
		case ir.OpLabel:
			resetBlock()
			continue
		case ir.OpJump, ir.OpJumpIf:
			substituteOperandsInPlace(in, resolve)
			resetBlock()
			continue
		}

		substituteOperandsInPlace(in, resolve)

		if in.Op == ir.OpMove {
			subst[in.Dst] = resolve(in.A)
		} else if definesReg(in.Op) {
			delete(subst, in.Dst)
		}
	}
}

func substituteOperandsInPlace(in *ir.Instr, resolve func(ir.VReg) ir.VReg) {
	in.A = resolve(in.A)
	if !in.B.IsImm {
		in.B.Reg = resolve(in.B.Reg)
	}
	if !in.Value.IsImm {
		in.Value.Reg = resolve(in.Value.Reg)
	}
	if !in.CmpA.IsImm {
		in.CmpA.Reg = resolve(in.CmpA.Reg)
	}
	if !in.CmpB.IsImm {
		in.CmpB.Reg = resolve(in.CmpB.Reg)
	}
	for i, a := range in.Args {
		in.Args[i] = resolve(a)
	}
}

// eliminateDeadBlocks simplifies constant branches and then drops anything
// no longer reachable by a forward walk from instruction 0, along with any
// Label that is no longer the target of a surviving Jump/JumpIf.
func eliminateDeadBlocks(fn *ir.Function) {
	simplifyConstantBranches(fn)

	labelIndex := map[ir.Label]int{}
	for i, in := range fn.Instrs {
		if in.Op == ir.OpLabel {
			labelIndex[in.Label] = i
		}
	}

	reachable := make([]bool, len(fn.Instrs))
	var visit func(i int)
	visit = func(i int) {
		for i >= 0 && i < len(fn.Instrs) && !reachable[i] {
			reachable[i] = true
			in := fn.Instrs[i]
			switch in.Op {
			case ir.OpJump:
				if target, ok := labelIndex[in.Target]; ok {
					visit(target)
				}
				return
			case ir.OpJumpIf:
				if target, ok := labelIndex[in.Target]; ok {
					visit(target)
				}
				i++
				continue
			case ir.OpReturn:
				return
			default:
				i++
				continue
			}
		}
	}
	visit(0)

	usedLabels := map[ir.Label]bool{}
	out := make([]ir.Instr, 0, len(fn.Instrs))
	for i, in := range fn.Instrs {
		if !reachable[i] {
			continue
		}
		if in.Op == ir.OpJump || in.Op == ir.OpJumpIf {
			usedLabels[in.Target] = true
		}
	}
	for i, in := range fn.Instrs {
		if !reachable[i] {
			continue
		}
		if in.Op == ir.OpLabel && !usedLabels[in.Label] {
			continue
		}
		out = append(out, in)
	}
	fn.Instrs = out
}

// simplifyConstantBranches rewrites a JumpIf whose comparison operands are
// both literal immediates into an unconditional Jump or a no-op, letting
// the reachability walk above discard the dead arm.
func simplifyConstantBranches(fn *ir.Function) {
	for i, in := range fn.Instrs {
		if in.Op != ir.OpJumpIf || !in.CmpA.IsImm || !in.CmpB.IsImm {
			continue
		}
		taken := evalCond(in.Cond, in.CmpA.Imm, in.CmpB.Imm)
		if taken {
			fn.Instrs[i] = ir.Instr{Op: ir.OpJump, Target: in.Target, Pos: in.Pos}
		} else {
			fn.Instrs[i] = ir.Instr{Op: ir.OpNop, Pos: in.Pos}
		}
	}
}

func evalCond(c ir.Cond, a, b int64) bool {
	switch c {
	case ir.CondEQ:
		return a == b
	case ir.CondNE:
		return a != b
	case ir.CondLT:
		return a < b
	case ir.CondLE:
		return a <= b
	case ir.CondGT:
		return a > b
	case ir.CondGE:
		return a >= b
	default:
		return false
	}
}
