package regalloc

import (
	"testing"

	"github.com/xyproto/solisp/ir"
)

func TestAllocateSimpleNonOverlapping(t *testing.T) {
	// v0 = const 1; v1 = move v0; return v1
	fn := &ir.Function{
		NumVRegs: 2,
		Hints:    map[ir.VReg]ir.RegHint{},
		Instrs: []ir.Instr{
			{Op: ir.OpConstI64, Dst: 0, Imm: 1},
			{Op: ir.OpMove, Dst: 1, A: 0},
			{Op: ir.OpReturn, Value: ir.RegOperand(1)},
		},
	}
	assign, err := Allocate(fn)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, ok := assign.Regs[0]; !ok {
		t.Error("v0 should have a physical register")
	}
	if _, ok := assign.Regs[1]; !ok {
		t.Error("v1 should have a physical register")
	}
	if assign.StackBytes != 0 {
		t.Errorf("StackBytes = %d, want 0 for two short-lived values", assign.StackBytes)
	}
}

func TestAllocatePinsAccountsPtrToR6(t *testing.T) {
	fn := &ir.Function{
		NumVRegs: 1,
		Hints:    map[ir.VReg]ir.RegHint{0: ir.HintAccountsPtr},
		Instrs: []ir.Instr{
			{Op: ir.OpEntryAccountsPtr, Dst: 0},
			{Op: ir.OpReturn, Value: ir.RegOperand(0)},
		},
	}
	assign, err := Allocate(fn)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if assign.Regs[0] != R6 {
		t.Errorf("accounts-base VReg assigned %v, want R6", assign.Regs[0])
	}
}

func TestAllocatePinsInstrDataPtrToR7(t *testing.T) {
	fn := &ir.Function{
		NumVRegs: 1,
		Hints:    map[ir.VReg]ir.RegHint{0: ir.HintInstrDataPtr},
		Instrs: []ir.Instr{
			{Op: ir.OpConstI64, Dst: 0, Imm: 5},
			{Op: ir.OpReturn, Value: ir.RegOperand(0)},
		},
	}
	assign, err := Allocate(fn)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if assign.Regs[0] != R7 {
		t.Errorf("instruction-data VReg assigned %v, want R7", assign.Regs[0])
	}
}

func TestAllocateNeverAssignsR10(t *testing.T) {
	instrs := []ir.Instr{}
	hints := map[ir.VReg]ir.RegHint{}
	n := 12
	for i := 0; i < n; i++ {
		instrs = append(instrs, ir.Instr{Op: ir.OpConstI64, Dst: ir.VReg(i), Imm: int64(i)})
	}
	var sum ir.VReg = ir.VReg(n)
	instrs = append(instrs, ir.Instr{Op: ir.OpConstI64, Dst: sum, Imm: 0})
	for i := 0; i < n; i++ {
		next := ir.VReg(n + 1 + i)
		instrs = append(instrs, ir.Instr{Op: ir.OpAdd, Dst: next, A: sum, B: ir.RegOperand(ir.VReg(i))})
		sum = next
	}
	instrs = append(instrs, ir.Instr{Op: ir.OpReturn, Value: ir.RegOperand(sum)})

	fn := &ir.Function{NumVRegs: int(sum) + 1, Hints: hints, Instrs: instrs}
	assign, err := Allocate(fn)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for v, p := range assign.Regs {
		if p == R10 {
			t.Errorf("VReg %d assigned to R10, which must never be allocated", v)
		}
	}
}

func TestAllocateSpillsOnTooManyLiveValues(t *testing.T) {
	// Force far more simultaneously-live values than physical registers by
	// defining N values up front and using every one of them in the single
	// final instruction, so value i is live over [i, N] and all overlap.
	const n = 600 // spillSlotBytes(8) * 600 > maxStackBytes(4096): must error
	instrs := make([]ir.Instr, 0, n+1)
	args := make([]ir.VReg, 0, n)
	for i := 0; i < n; i++ {
		instrs = append(instrs, ir.Instr{Op: ir.OpConstI64, Dst: ir.VReg(i), Imm: int64(i)})
		args = append(args, ir.VReg(i))
	}
	instrs = append(instrs, ir.Instr{Op: ir.OpCallSyscall, Name: "sol_log_", Args: args})
	fn := &ir.Function{NumVRegs: n, Hints: map[ir.VReg]ir.RegHint{}, Instrs: instrs}

	_, err := Allocate(fn)
	if err == nil {
		t.Fatal("expected a TooManyLiveValuesError")
	}
	if _, ok := err.(*TooManyLiveValuesError); !ok {
		t.Errorf("err = %#v (%T), want *TooManyLiveValuesError", err, err)
	}
}

func TestAllocateHonoursCalleeSaveHintForLongRanges(t *testing.T) {
	// A value live across many instructions with HintCalleeSave should end
	// up in the callee-save pool (R8/R9), not a caller-save register.
	instrs := []ir.Instr{{Op: ir.OpConstI64, Dst: 0, Imm: 1}}
	for i := 0; i < 20; i++ {
		instrs = append(instrs, ir.Instr{Op: ir.OpConstI64, Dst: ir.VReg(i + 1), Imm: int64(i)})
	}
	instrs = append(instrs, ir.Instr{Op: ir.OpReturn, Value: ir.RegOperand(0)})
	fn := &ir.Function{
		NumVRegs: 21,
		Hints:    map[ir.VReg]ir.RegHint{0: ir.HintCalleeSave},
		Instrs:   instrs,
	}
	assign, err := Allocate(fn)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	got := assign.Regs[0]
	if got != R8 && got != R9 {
		t.Errorf("HintCalleeSave value assigned %v, want R8 or R9", got)
	}
}
