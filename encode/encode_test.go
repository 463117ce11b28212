package encode

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/solisp/ir"
	"github.com/xyproto/solisp/regalloc"
	"github.com/xyproto/solisp/syscalls"
)

func word(code []byte, i int) (opcode byte, dst, src byte, off int16, imm int32) {
	base := i * 8
	opcode = code[base]
	dst = code[base+1] & 0x0f
	src = (code[base+1] >> 4) & 0x0f
	off = int16(binary.LittleEndian.Uint16(code[base+2:]))
	imm = int32(binary.LittleEndian.Uint32(code[base+4:]))
	return
}

func TestEncodeReturnEmitsMoveAndExit(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpConstI64, Dst: 0, Imm: 7},
		{Op: ir.OpReturn, Value: ir.RegOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{0: regalloc.R0}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	n := len(res.Code) / 8
	if n != 3 {
		t.Fatalf("got %d words, want 3 (movimm + move + exit)", n)
	}
	opcode, _, _, _, _ := word(res.Code, n-1)
	if opcode != opExit {
		t.Errorf("last word opcode = %#x, want exit (%#x)", opcode, opExit)
	}
}

func TestEncodeMultipleReturnsEachGetTheirOwnExit(t *testing.T) {
	// if (cmp) return 1 else return 2 -- two distinct Return sites.
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpConstI64, Dst: 0, Imm: 1},
		{Op: ir.OpJumpIf, Cond: ir.CondEQ, CmpA: ir.ImmOperand(1), CmpB: ir.ImmOperand(1), Target: 0},
		{Op: ir.OpConstI64, Dst: 1, Imm: 10},
		{Op: ir.OpReturn, Value: ir.RegOperand(1)},
		{Op: ir.OpLabel, Label: 0},
		{Op: ir.OpConstI64, Dst: 2, Imm: 20},
		{Op: ir.OpReturn, Value: ir.RegOperand(2)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{
		0: regalloc.R1, 1: regalloc.R2, 2: regalloc.R3,
	}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	n := len(res.Code) / 8
	var exits int
	for i := 0; i < n; i++ {
		if opcode, _, _, _, _ := word(res.Code, i); opcode == opExit {
			exits++
		}
	}
	if exits != 2 {
		t.Errorf("got %d exit words, want 2 (one per Return)", exits)
	}
}

func TestEncodeWideConstUsesLDDWTwoSlotForm(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpConstPtr, Dst: 0, Imm: 0x300000000, Wide: true},
		{Op: ir.OpReturn, Value: ir.RegOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{0: regalloc.R1}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	opcode, _, _, _, imm := word(res.Code, 0)
	if opcode != opLDDW {
		t.Fatalf("word 0 opcode = %#x, want lddw (%#x)", opcode, opLDDW)
	}
	if imm != 0 {
		t.Errorf("lddw low slot imm = %#x, want 0 (low 32 bits of 0x300000000)", imm)
	}
	secondOp, _, _, _, hi := word(res.Code, 1)
	if secondOp != 0 {
		t.Errorf("lddw second slot opcode = %#x, want 0", secondOp)
	}
	if hi != 3 {
		t.Errorf("lddw high slot imm = %d, want 3", hi)
	}
}

func TestEncodeV1RecordsRelocationAndPlaceholder(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpConstPtr, Dst: 0, Imm: 0, Wide: true},
		{Op: ir.OpCallSyscall, Name: "sol_log_", Argc: 1, Args: []ir.VReg{0}},
		{Op: ir.OpReturn, Value: ir.RegOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{0: regalloc.R1}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(res.Relocations) != 1 {
		t.Fatalf("got %d relocations, want 1", len(res.Relocations))
	}
	if res.Relocations[0].Syscall != "sol_log_" {
		t.Errorf("relocation syscall = %q, want sol_log_", res.Relocations[0].Syscall)
	}
	opcode, _, _, _, imm := word(res.Code, res.Relocations[0].WordIndex)
	if opcode != opCall {
		t.Errorf("relocated word opcode = %#x, want call (%#x)", opcode, opCall)
	}
	if imm != -1 {
		t.Errorf("V1 call imm placeholder = %d, want -1", imm)
	}
}

func TestEncodeV2BakesMurmur3HashDirectly(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpCallSyscall, Name: "sol_log_", Argc: 0},
		{Op: ir.OpReturn, Value: ir.ImmOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(res.Relocations) != 0 {
		t.Errorf("V2 should never produce relocations, got %d", len(res.Relocations))
	}
	_, _, _, _, imm := word(res.Code, 0)
	want := int32(reg.Hash("sol_log_"))
	if imm != want {
		t.Errorf("V2 call imm = %d, want murmur3 hash %d", imm, want)
	}
}

func TestEncodeCallSyscallPlacesArgsInR1ThroughR5(t *testing.T) {
	// Three arguments, each allocated to a register that is NOT its
	// calling-convention slot (R8, R9, R6): the encoder must still move
	// each into R1, R2, R3 respectively before the call word.
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpCallSyscall, Name: "sol_invoke_signed_c", Argc: 3, Args: []ir.VReg{0, 1, 2}},
		{Op: ir.OpReturn, Value: ir.ImmOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{
		0: regalloc.R8, 1: regalloc.R9, 2: regalloc.R6,
	}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// words 0,1,2 are the argument-placement movs; word 3 is the call.
	for i, wantSrc := range []byte{byte(regalloc.R8), byte(regalloc.R9), byte(regalloc.R6)} {
		opcode, dst, src, _, _ := word(res.Code, i)
		if opcode != opMovReg {
			t.Fatalf("word %d opcode = %#x, want mov-reg (%#x)", i, opcode, opMovReg)
		}
		if dst != byte(i+1) {
			t.Errorf("word %d dst = R%d, want R%d", i, dst, i+1)
		}
		if src != wantSrc {
			t.Errorf("word %d src = R%d, want R%d", i, src, wantSrc)
		}
	}
	opcode, _, _, _, _ := word(res.Code, 3)
	if opcode != opCall {
		t.Errorf("word 3 opcode = %#x, want call (%#x)", opcode, opCall)
	}
}

func TestEncodeBranchOutOfRange(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpJump, Target: 99}, // no matching label: unresolved
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{}}
	reg := syscalls.New()
	_, err := Encode(fn, assign, reg, 2)
	if err == nil {
		t.Fatal("expected a BranchOutOfRangeError for an unresolved label")
	}
	if _, ok := err.(*BranchOutOfRangeError); !ok {
		t.Errorf("err = %#v (%T), want *BranchOutOfRangeError", err, err)
	}
}

func TestEncodeNopsAreSkipped(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpNop},
		{Op: ir.OpReturn, Value: ir.ImmOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(res.Code)/8 != 2 {
		t.Errorf("got %d words, want 2 (nop must not be emitted)", len(res.Code)/8)
	}
}

func TestEncodeStoreImmVariant(t *testing.T) {
	fn := &ir.Function{Instrs: []ir.Instr{
		{Op: ir.OpStore8, A: 0, Offset: 8, Value: ir.ImmOperand(42)},
		{Op: ir.OpReturn, Value: ir.ImmOperand(0)},
	}}
	assign := &regalloc.Assignment{Regs: map[ir.VReg]regalloc.PReg{0: regalloc.R6}}
	reg := syscalls.New()
	res, err := Encode(fn, assign, reg, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	opcode, _, _, off, imm := word(res.Code, 0)
	if opcode != storeImmVariant(ir.OpStore8) {
		t.Errorf("store-imm opcode = %#x, want %#x", opcode, storeImmVariant(ir.OpStore8))
	}
	if off != 8 || imm != 42 {
		t.Errorf("store off/imm = %d/%d, want 8/42", off, imm)
	}
}
