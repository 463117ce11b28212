package intrinsics

import (
	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/ir"
)

// registerSyscalls wires the direct syscall wrappers: argument VRegs are
// listed in order in Instr.Args of a single CallSyscall. The encoder moves
// them into R1..R5, and Murmur3 hashing/relocation bookkeeping happen in
// encode and syscalls -- intrinsics only need to name the syscall and its
// argument VRegs.
func registerSyscalls(t *Table) {
	simpleSyscall := func(name string, syscallName string, arity int) {
		t.register(name, arity, func(b *ir.Builder, args []ast.Node) (ir.VReg, error) {
			if len(args) != arity {
				return 0, arityError(name, itoa(arity), args, posOf(args))
			}
			vals, err := lowerAll(b, args)
			if err != nil {
				return 0, err
			}
			b.Emit(ir.Instr{Op: ir.OpCallSyscall, Name: syscallName, Argc: len(vals), Args: vals, Pos: posOf(args)})
			return b.Zero(), nil
		})
	}

	simpleSyscall("sol_log_", "sol_log_", 1)
	simpleSyscall("sol_log_64_", "sol_log_64_", 1)
	simpleSyscall("sol_log_pubkey", "sol_log_pubkey", 1)
	simpleSyscall("sol_log_compute_units_", "sol_log_compute_units_", 0)
	simpleSyscall("sol_log_data", "sol_log_data", 2)
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%10]}, b...)
		n /= 10
	}
	return string(b)
}
