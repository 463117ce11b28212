// Package regalloc implements linear-scan allocation of virtual
// registers to the 11 physical sBPF registers, honoring a fixed
// calling-convention partition between caller-save and callee-save
// pools. Modeled directly on a LiveInterval/linear-scan-over-sorted-
// interval-starts/spill-slot allocator and its reserved-register
// bookkeeping, re-targeted from x86_64/arm64's many named registers to
// BPF's eleven numbered ones.
package regalloc

import (
	"sort"

	"github.com/xyproto/solisp/ir"
)

// PReg is a physical sBPF register number, 0..10.
type PReg uint8

const (
	R0  PReg = 0 // return value / scratch
	R1  PReg = 1 // argument 1 (caller-save)
	R2  PReg = 2 // argument 2 (caller-save)
	R3  PReg = 3 // argument 3 (caller-save)
	R4  PReg = 4 // argument 4 (caller-save)
	R5  PReg = 5 // argument 5 (caller-save)
	R6  PReg = 6 // callee-save; reserved for the accounts-base input pointer
	R7  PReg = 7 // callee-save; reserved for the instruction-data pointer
	R8  PReg = 8 // callee-save, general pool
	R9  PReg = 9 // callee-save, general pool
	R10 PReg = 10 // frame pointer, read-only, never allocated
)

var calleeSavePool = []PReg{R8, R9} // R6/R7 are reserved, not pooled
var callerSavePool = []PReg{R1, R2, R3, R4, R5}

// TooManyLiveValuesError reports more simultaneously live values than the
// register pools plus available stack spill capacity (4KB frame) can hold.
type TooManyLiveValuesError struct {
	Count int
}

func (e *TooManyLiveValuesError) Error() string {
	return "too many live values for the available register and spill capacity"
}

const maxStackBytes = 4096
const spillSlotBytes = 8

// liveInterval is one VReg's [start, end] instruction-index range in the
// current function, computed by a single forward pass.
type liveInterval struct {
	vreg    ir.VReg
	start   int
	end     int
	hint    ir.RegHint
	spilled bool
	spillOff int32
	preg    PReg
	hasPreg bool
}

// Assignment is the result of allocating one function: a VReg->PReg map
// plus the spill slots (negative displacements from R10) for anything that
// didn't fit in a register.
type Assignment struct {
	Regs       map[ir.VReg]PReg
	SpillSlots map[ir.VReg]int32 // offset from R10, negative
	StackBytes int
}

// Allocate runs linear-scan register allocation over fn.Instrs.
func Allocate(fn *ir.Function) (*Assignment, error) {
	intervals := computeLiveIntervals(fn)
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	free := append([]PReg{}, calleeSavePool...)
	freeCaller := append([]PReg{}, callerSavePool...)
	var active []*liveInterval
	nextSpill := int32(0)

	assign := &Assignment{Regs: map[ir.VReg]PReg{}, SpillSlots: map[ir.VReg]int32{}}

	expireOld := func(current *liveInterval) {
		var stillActive []*liveInterval
		for _, a := range active {
			if a.end < current.start {
				if !a.spilled {
					returnReg(a.preg, &free, &freeCaller)
				}
				continue
			}
			stillActive = append(stillActive, a)
		}
		active = stillActive
	}

	for _, iv := range intervals {
		if iv.hint == ir.HintAccountsPtr {
			iv.preg, iv.hasPreg = R6, true
			active = append(active, iv)
			assign.Regs[iv.vreg] = R6
			continue
		}
		if iv.hint == ir.HintInstrDataPtr {
			iv.preg, iv.hasPreg = R7, true
			active = append(active, iv)
			assign.Regs[iv.vreg] = R7
			continue
		}

		expireOld(iv)

		long := iv.end-iv.start > 8 || iv.hint == ir.HintCalleeSave
		var preg PReg
		var ok bool
		if long {
			preg, ok = popReg(&free)
			if !ok {
				preg, ok = popReg(&freeCaller)
			}
		} else {
			preg, ok = popReg(&freeCaller)
			if !ok {
				preg, ok = popReg(&free)
			}
		}

		if ok {
			iv.preg, iv.hasPreg = preg, true
			assign.Regs[iv.vreg] = preg
			active = append(active, iv)
			continue
		}

		// Spill: assign the next stack slot.
		if int(nextSpill+spillSlotBytes) > maxStackBytes {
			return nil, &TooManyLiveValuesError{Count: len(intervals)}
		}
		nextSpill += spillSlotBytes
		iv.spilled = true
		iv.spillOff = -nextSpill
		assign.SpillSlots[iv.vreg] = iv.spillOff
		active = append(active, iv)
	}

	assign.StackBytes = int(nextSpill)
	return assign, nil
}

func popReg(pool *[]PReg) (PReg, bool) {
	if len(*pool) == 0 {
		return 0, false
	}
	r := (*pool)[0]
	*pool = (*pool)[1:]
	return r, true
}

func returnReg(r PReg, calleePool, callerPool *[]PReg) {
	switch r {
	case R8, R9:
		*calleePool = append(*calleePool, r)
	case R1, R2, R3, R4, R5:
		*callerPool = append(*callerPool, r)
	}
}

// computeLiveIntervals performs a single forward pass over the
// instruction stream: for each VReg, the first instruction that defines
// it and the last instruction that reads it.
func computeLiveIntervals(fn *ir.Function) []*liveInterval {
	starts := map[ir.VReg]int{}
	ends := map[ir.VReg]int{}
	order := []ir.VReg{}

	touch := func(v ir.VReg, idx int) {
		if _, ok := starts[v]; !ok {
			starts[v] = idx
			order = append(order, v)
		}
		if idx > ends[v] {
			ends[v] = idx
		}
		if idx < starts[v] {
			starts[v] = idx
		}
	}

	for i, in := range fn.Instrs {
		if defines, ok := definedReg(in); ok {
			touch(defines, i)
		}
		for _, v := range usedRegs(in) {
			touch(v, i)
		}
	}

	out := make([]*liveInterval, 0, len(order))
	for _, v := range order {
		out = append(out, &liveInterval{
			vreg:  v,
			start: starts[v],
			end:   ends[v],
			hint:  fn.Hints[v],
		})
	}
	return out
}

func definedReg(in ir.Instr) (ir.VReg, bool) {
	switch in.Op {
	case ir.OpConstI64, ir.OpConstPtr, ir.OpMove, ir.OpLoad1, ir.OpLoad2, ir.OpLoad4, ir.OpLoad8,
		ir.OpCall, ir.OpEntryAccountsPtr:
		return in.Dst, true
	default:
		if in.Op.IsBinaryALU() {
			return in.Dst, true
		}
		return 0, false
	}
}

func usedRegs(in ir.Instr) []ir.VReg {
	var out []ir.VReg
	add := func(o ir.Operand) {
		if !o.IsImm {
			out = append(out, o.Reg)
		}
	}
	switch in.Op {
	case ir.OpMove:
		out = append(out, in.A)
	case ir.OpLoad1, ir.OpLoad2, ir.OpLoad4, ir.OpLoad8:
		out = append(out, in.A)
	case ir.OpStore1, ir.OpStore2, ir.OpStore4, ir.OpStore8:
		out = append(out, in.A)
		add(in.Value)
	case ir.OpJumpIf:
		add(in.CmpA)
		add(in.CmpB)
	case ir.OpReturn:
		add(in.Value)
	case ir.OpCallSyscall, ir.OpCall:
		out = append(out, in.Args...)
	default:
		if in.Op.IsBinaryALU() {
			out = append(out, in.A)
			add(in.B)
		}
	}
	return out
}
