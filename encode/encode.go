// Package encode implements lowering an allocated ir.Function into
// sBPF's 8-byte instruction words, including the two-slot LDDW form for
// wide immediates and the second-pass branch-offset patch-up. Modeled
// on a per-instruction-class byte-emission idiom (each instruction class
// owning its own Out(w io.Writer) encoder) and a two-pass "emit
// placeholders, patch offsets" approach to branch handling.
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/solisp/ir"
	"github.com/xyproto/solisp/regalloc"
	"github.com/xyproto/solisp/syscalls"
)

// Opcode bytes for the sBPF instruction classes this compiler emits.
// Only the subset the IR can produce is listed.
const (
	opALU64Reg   = 0x0f // dst += src forms, class ALU64 | X
	opALU64Imm   = 0x07 // dst += imm forms, class ALU64 | K
	opMovReg     = 0xbf
	opMovImm     = 0xb7
	opLDDW       = 0x18
	opJA         = 0x05
	opCall       = 0x85
	opExit       = 0x95
)

var aluRegOp = map[ir.Op]byte{
	ir.OpAdd: 0x0f, ir.OpSub: 0x1f, ir.OpMul: 0x2f, ir.OpDiv: 0x3f,
	ir.OpOr: 0x4f, ir.OpAnd: 0x5f, ir.OpShl: 0x6f, ir.OpShr: 0x7f,
	ir.OpMod: 0x9f, ir.OpXor: 0xaf, ir.OpSar: 0xcf,
}

var aluImmOp = map[ir.Op]byte{
	ir.OpAdd: 0x07, ir.OpSub: 0x17, ir.OpMul: 0x27, ir.OpDiv: 0x37,
	ir.OpOr: 0x47, ir.OpAnd: 0x57, ir.OpShl: 0x67, ir.OpShr: 0x77,
	ir.OpMod: 0x97, ir.OpXor: 0xa7, ir.OpSar: 0xc7,
}

var jmpRegOp = map[ir.Cond]byte{
	ir.CondEQ: 0x1d, ir.CondNE: 0x5d, ir.CondLT: 0xad, ir.CondLE: 0xbd,
	ir.CondGT: 0x2d, ir.CondGE: 0x3d,
}

var jmpImmOp = map[ir.Cond]byte{
	ir.CondEQ: 0x15, ir.CondNE: 0x55, ir.CondLT: 0xa5, ir.CondLE: 0xb5,
	ir.CondGT: 0x25, ir.CondGE: 0x35,
}

var loadOp = map[ir.Op]byte{ir.OpLoad1: 0x71, ir.OpLoad2: 0x69, ir.OpLoad4: 0x61, ir.OpLoad8: 0x79}
var storeOp = map[ir.Op]byte{ir.OpStore1: 0x73, ir.OpStore2: 0x6b, ir.OpStore4: 0x63, ir.OpStore8: 0x7b}

// BranchOutOfRangeError reports a computed branch displacement that does
// not fit in the signed 16-bit offset field.
type BranchOutOfRangeError struct {
	InstrIndex int
	Delta      int
}

func (e *BranchOutOfRangeError) Error() string {
	return fmt.Sprintf("instruction %d: branch offset %d out of 16-bit range", e.InstrIndex, e.Delta)
}

// Relocation is one V1 dynamic-relocation site: the word index (8-byte
// units from the start of .text) whose imm field names an unresolved
// syscall, and the syscall name to resolve it against.
type Relocation struct {
	WordIndex int
	Syscall   string
}

// Result is the encoded function body plus the bookkeeping the ELF writer
// (component H) needs.
type Result struct {
	Code         []byte
	Relocations  []Relocation // only populated for V1
}

// Encode lowers fn (already register-allocated) into sBPF machine code.
// version selects V1 (dynamic relocations, imm=-1 placeholder, call sites
// recorded into reg) or V2 (static Murmur3 hash baked into imm directly).
func Encode(fn *ir.Function, assign *regalloc.Assignment, reg *syscalls.Registry, version int) (*Result, error) {
	// First pass: drop Nops and assign a final word index to each
	// surviving instruction, including the second LDDW slot.
	type placed struct {
		instr ir.Instr
		word  int
	}
	var list []placed
	word := 0
	labelWord := map[ir.Label]int{}
	for _, in := range fn.Instrs {
		if in.Op == ir.OpNop {
			continue
		}
		if in.Op == ir.OpLabel {
			labelWord[in.Label] = word
			continue
		}
		list = append(list, placed{instr: in, word: word})
		switch {
		case (in.Op == ir.OpConstI64 || in.Op == ir.OpConstPtr) && in.Wide:
			word += 2
		case in.Op == ir.OpReturn:
			word += 2 // the move-into-R0 word plus its trailing EXIT word
		case in.Op == ir.OpCallSyscall || in.Op == ir.OpCall:
			// one argument-placement mov per Args[i] (into R(i+1)), then
			// the call word itself.
			word += len(in.Args) + 1
		default:
			word++
		}
	}

	out := make([]byte, word*8)
	var relocs []Relocation

	physOf := func(v ir.VReg) byte {
		if p, ok := assign.Regs[v]; ok {
			return byte(p)
		}
		return 0
	}

	emit := func(w int, opcode, dst, src byte, off int16, imm int32) {
		base := w * 8
		out[base] = opcode
		out[base+1] = dst&0x0f | (src&0x0f)<<4
		binary.LittleEndian.PutUint16(out[base+2:], uint16(off))
		binary.LittleEndian.PutUint32(out[base+4:], uint32(imm))
	}

	for idx, p := range list {
		in := p.instr
		switch in.Op {
		case ir.OpConstI64, ir.OpConstPtr:
			if in.Wide {
				lo := uint32(uint64(in.Imm) & 0xffffffff)
				hi := uint32(uint64(in.Imm) >> 32)
				emit(p.word, opLDDW, physOf(in.Dst), 0, 0, int32(lo))
				emit(p.word+1, 0, 0, 0, 0, int32(hi))
			} else {
				emit(p.word, opMovImm, physOf(in.Dst), 0, 0, int32(in.Imm))
			}
		case ir.OpMove:
			emit(p.word, opMovReg, physOf(in.Dst), physOf(in.A), 0, 0)
		case ir.OpEntryAccountsPtr:
			// R1 already holds the accounts pointer at entry; since the
			// builder pins this VReg to R6 via HintAccountsPtr, emit the
			// register-to-register copy that makes the pin concrete.
			emit(p.word, opMovReg, physOf(in.Dst), byte(1), 0, 0)
		case ir.OpLoad1, ir.OpLoad2, ir.OpLoad4, ir.OpLoad8:
			emit(p.word, loadOp[in.Op], physOf(in.Dst), physOf(in.A), int16(in.Offset), 0)
		case ir.OpStore1, ir.OpStore2, ir.OpStore4, ir.OpStore8:
			if in.Value.IsImm {
				emit(p.word, storeImmVariant(in.Op), physOf(in.A), 0, int16(in.Offset), int32(in.Value.Imm))
			} else {
				emit(p.word, storeOp[in.Op], physOf(in.A), physOf(in.Value.Reg), int16(in.Offset), 0)
			}
		case ir.OpJump:
			target, ok := labelWord[in.Target]
			if !ok {
				return nil, &BranchOutOfRangeError{InstrIndex: idx, Delta: 0}
			}
			delta := target - (p.word + 1)
			if delta < -32768 || delta > 32767 {
				return nil, &BranchOutOfRangeError{InstrIndex: idx, Delta: delta}
			}
			emit(p.word, opJA, 0, 0, int16(delta), 0)
		case ir.OpJumpIf:
			target, ok := labelWord[in.Target]
			if !ok {
				return nil, &BranchOutOfRangeError{InstrIndex: idx, Delta: 0}
			}
			delta := target - (p.word + 1)
			if delta < -32768 || delta > 32767 {
				return nil, &BranchOutOfRangeError{InstrIndex: idx, Delta: delta}
			}
			a := physOf(in.CmpA.Reg)
			if in.CmpB.IsImm {
				emit(p.word, jmpImmOp[in.Cond], a, 0, int16(delta), int32(in.CmpB.Imm))
			} else {
				emit(p.word, jmpRegOp[in.Cond], a, physOf(in.CmpB.Reg), int16(delta), 0)
			}
		case ir.OpCallSyscall:
			callWord := emitArgPlacement(emit, p.word, in.Args, physOf)
			imm := encodeCall(reg, in.Name, version, callWord, &relocs)
			emit(callWord, opCall, 0, 0, 0, imm)
		case ir.OpCall:
			target, ok := labelWord[in.Target]
			if !ok {
				return nil, &BranchOutOfRangeError{InstrIndex: idx, Delta: 0}
			}
			callWord := emitArgPlacement(emit, p.word, in.Args, physOf)
			delta := target - (callWord + 1)
			emit(callWord, opCall, 0, 1, 0, int32(delta))
		case ir.OpReturn:
			if !in.Value.IsImm {
				emit(p.word, opMovReg, 0, physOf(in.Value.Reg), 0, 0)
			} else {
				emit(p.word, opMovImm, 0, 0, 0, int32(in.Value.Imm))
			}
			emit(p.word+1, opExit, 0, 0, 0, 0)
		default:
			if in.Op.IsBinaryALU() {
				dst := physOf(in.Dst)
				if in.B.IsImm {
					emit(p.word, aluImmOp[in.Op], dst, 0, 0, int32(in.B.Imm))
				} else {
					emit(p.word, aluRegOp[in.Op], dst, physOf(in.B.Reg), 0, 0)
				}
			}
		}
	}

	// Fall-through safety net: a function whose last surviving instruction
	// isn't a Return (the builder always ends a function with a Return of
	// the program's result value, so this only guards a malformed or hand-built
	// ir.Function reaching the encoder directly, e.g. in tests).
	if len(list) == 0 || list[len(list)-1].instr.Op != ir.OpReturn {
		out = append(out, make([]byte, 16)...)
		moveWord := len(out)/8 - 2
		emit(moveWord, opMovImm, 0, 0, 0, 0)
		emit(moveWord+1, opExit, 0, 0, 0, 0)
	}

	return &Result{Code: out, Relocations: relocs}, nil
}

func storeImmVariant(op ir.Op) byte {
	switch op {
	case ir.OpStore1:
		return 0x72
	case ir.OpStore2:
		return 0x6a
	case ir.OpStore4:
		return 0x62
	case ir.OpStore8:
		return 0x7a
	}
	return 0
}

// emitArgPlacement copies each arg's allocated register into the fixed
// R1..R5 argument registers the calling convention requires, one mov word
// per argument starting at word, and returns the word index the call
// opcode itself belongs at.
func emitArgPlacement(emit func(w int, opcode, dst, src byte, off int16, imm int32), word int, args []ir.VReg, physOf func(ir.VReg) byte) int {
	for i, a := range args {
		emit(word+i, opMovReg, byte(i+1), physOf(a), 0, 0)
	}
	return word + len(args)
}

// encodeCall returns the imm field for a CallSyscall word. V1 leaves a
// -1 placeholder and records a Relocation for the ELF writer's .rel.dyn;
// V2 bakes the syscall's Murmur3 hash directly into imm, needing no
// relocation section at all.
func encodeCall(reg *syscalls.Registry, name string, version int, word int, relocs *[]Relocation) int32 {
	if version == 1 {
		reg.RecordCallSite(name, word)
		*relocs = append(*relocs, Relocation{WordIndex: word, Syscall: name})
		return -1
	}
	return int32(reg.Hash(name))
}
