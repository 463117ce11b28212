package intrinsics

import (
	"testing"

	"github.com/xyproto/solisp/ir"
	"github.com/xyproto/solisp/parse"
)

func lower(t *testing.T, src string) *ir.Function {
	t.Helper()
	program, err := parse.Parse(src)
	if err != nil {
		t.Fatalf("parse.Parse(%q): %v", src, err)
	}
	b := ir.NewBuilder(Default())
	m, err := b.Lower(program)
	if err != nil {
		t.Fatalf("Lower(%q): %v", src, err)
	}
	return m.Entry()
}

func lowerErr(t *testing.T, src string) error {
	t.Helper()
	program, err := parse.Parse(src)
	if err != nil {
		t.Fatalf("parse.Parse(%q): %v", src, err)
	}
	b := ir.NewBuilder(Default())
	_, err = b.Lower(program)
	return err
}

func countOp(fn *ir.Function, op ir.Op) int {
	n := 0
	for _, in := range fn.Instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestArithmeticIntrinsics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		op   ir.Op
	}{
		{"add", "(+ 1 2)", ir.OpAdd},
		{"sub", "(- 5 2)", ir.OpSub},
		{"mul", "(* 2 3)", ir.OpMul},
		{"div", "(/ 10 2)", ir.OpDiv},
		{"mod", "(% 10 3)", ir.OpMod},
		{"and", "(& 1 1)", ir.OpAnd},
		{"or", "(| 1 0)", ir.OpOr},
		{"xor", "(^ 1 1)", ir.OpXor},
		{"shl", "(<< 1 2)", ir.OpShl},
		{"shr", "(>> 8 2)", ir.OpShr},
		{"asr", "(asr 8 2)", ir.OpSar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lower(t, tt.src)
			if countOp(fn, tt.op) != 1 {
				t.Errorf("%s: expected exactly one %s instruction", tt.src, tt.op)
			}
		})
	}
}

func TestComparisonIntrinsicsEmitBooleanBranch(t *testing.T) {
	tests := []string{"(= 1 1)", "(!= 1 2)", "(< 1 2)", "(<= 1 1)", "(> 2 1)", "(>= 2 2)"}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			fn := lower(t, src)
			if countOp(fn, ir.OpJumpIf) == 0 {
				t.Errorf("%s: comparison should synthesize a branch", src)
			}
		})
	}
}

func TestNotIntrinsic(t *testing.T) {
	fn := lower(t, "(not 0)")
	if countOp(fn, ir.OpJumpIf) == 0 {
		t.Error("not should synthesize a branch")
	}
}

func TestArithmeticArityError(t *testing.T) {
	err := lowerErr(t, "(+ 1)")
	if err == nil {
		t.Fatal("expected an arity error for (+ 1)")
	}
	if _, ok := err.(*ir.ArityError); !ok {
		t.Errorf("err = %#v (%T), want *ir.ArityError", err, err)
	}
}

func TestAccountAccessorsEmitLoads(t *testing.T) {
	tests := []struct {
		name string
		src  string
		op   ir.Op
		off  int32
	}{
		{"is-signer", "(account-is-signer 0)", ir.OpLoad1, OffIsSigner},
		{"is-writable", "(account-is-writable 0)", ir.OpLoad1, OffIsWritable},
		{"executable", "(account-executable 0)", ir.OpLoad1, OffExecutable},
		{"lamports", "(account-lamports 0)", ir.OpLoad8, OffLamports},
		{"data-len", "(account-data-len 0)", ir.OpLoad8, OffDataLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lower(t, tt.src)
			var found bool
			for _, in := range fn.Instrs {
				if in.Op == tt.op && in.Offset == tt.off {
					found = true
				}
			}
			if !found {
				t.Errorf("%s: expected a %s at offset %d", tt.src, tt.op, tt.off)
			}
		})
	}
}

func TestAccountPointerAccessorsReturnAddress(t *testing.T) {
	tests := []struct {
		src string
		off int64
	}{
		{"(account-pubkey 0)", OffPubkey},
		{"(account-owner 0)", OffOwner},
		{"(account-data 0)", OffData},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			fn := lower(t, tt.src)
			var sawOffsetConst bool
			for _, in := range fn.Instrs {
				if in.Op == ir.OpConstI64 && in.Imm == tt.off {
					sawOffsetConst = true
				}
			}
			if !sawOffsetConst {
				t.Errorf("%s: expected offset constant %d materialized for pointer arithmetic", tt.src, tt.off)
			}
		})
	}
}

func TestMemLoadRequiresLiteralOffset(t *testing.T) {
	fn := lower(t, "(do (define p 0) (mem-load p 8))")
	if countOp(fn, ir.OpLoad8) != 1 {
		t.Error("mem-load with a literal offset should emit exactly one Load8")
	}

	err := lowerErr(t, "(do (define p 0) (define off 8) (mem-load p off))")
	if err == nil {
		t.Fatal("mem-load with a non-literal offset should fail")
	}
	if _, ok := err.(*ir.IntrinsicArgError); !ok {
		t.Errorf("err = %#v, want *ir.IntrinsicArgError", err)
	}
}

func TestMemStoreRequiresLiteralOffset(t *testing.T) {
	fn := lower(t, "(do (define p 0) (mem-store p 8 42))")
	if countOp(fn, ir.OpStore8) != 1 {
		t.Error("mem-store with a literal offset should emit exactly one Store8")
	}
}

func TestRequireEmitsConditionalEarlyReturn(t *testing.T) {
	fn := lower(t, `(require (= 1 1) "must be equal")`)
	var sawSyscall, sawReturn bool
	for _, in := range fn.Instrs {
		if in.Op == ir.OpCallSyscall && in.Name == "sol_log_" {
			sawSyscall = true
		}
		if in.Op == ir.OpReturn {
			sawReturn = true
		}
	}
	if !sawSyscall {
		t.Error("require should emit a sol_log_ call on the failure path")
	}
	if !sawReturn {
		t.Error("require should emit an early return on the failure path")
	}
}

func TestRequireRejectsNonStringMessage(t *testing.T) {
	err := lowerErr(t, "(require (= 1 1) 5)")
	if _, ok := err.(*ir.IntrinsicArgError); !ok {
		t.Errorf("err = %#v, want *ir.IntrinsicArgError", err)
	}
}

func TestAnchorErrorEmitsReturn(t *testing.T) {
	fn := lower(t, "(anchor-error 42)")
	var sawConst42, sawReturn bool
	for _, in := range fn.Instrs {
		if in.Op == ir.OpConstI64 && in.Imm == 42 {
			sawConst42 = true
		}
		if in.Op == ir.OpReturn {
			sawReturn = true
		}
	}
	if !sawConst42 || !sawReturn {
		t.Error("anchor-error should materialize the literal error code and return it")
	}
}

func TestSimpleSyscallWrappers(t *testing.T) {
	tests := []struct {
		src  string
		name string
	}{
		{`(sol_log_ "hi")`, "sol_log_"},
		{"(sol_log_64_ 1)", "sol_log_64_"},
		{"(sol_log_compute_units_)", "sol_log_compute_units_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lower(t, tt.src)
			var found bool
			for _, in := range fn.Instrs {
				if in.Op == ir.OpCallSyscall && in.Name == tt.name {
					found = true
				}
			}
			if !found {
				t.Errorf("%s: expected a CallSyscall to %s", tt.src, tt.name)
			}
		})
	}
}

func TestSystemTransferEmitsCPISyscall(t *testing.T) {
	fn := lower(t, "(do (define src 0) (define dst 1) (system-transfer (account-pubkey src) (account-pubkey dst) 1000))")
	var found bool
	for _, in := range fn.Instrs {
		if in.Op == ir.OpCallSyscall && in.Name == "sol_invoke_signed_c" {
			found = true
		}
	}
	if !found {
		t.Error("system-transfer should emit a sol_invoke_signed_c CallSyscall")
	}
}

func TestPDAIntrinsics(t *testing.T) {
	tests := []struct {
		src  string
		name string
	}{
		{"(do (define s 0) (derive-pda s))", "sol_try_find_program_address"},
		{"(do (define s 0) (create-pda s))", "sol_create_program_address"},
		{"(do (define s 0) (get-ata s))", "sol_get_associated_token_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lower(t, tt.src)
			var found bool
			for _, in := range fn.Instrs {
				if in.Op == ir.OpCallSyscall && in.Name == tt.name {
					found = true
				}
			}
			if !found {
				t.Errorf("%s: expected a CallSyscall to %s", tt.src, tt.name)
			}
		})
	}
}

func TestDefaultTableIsFreshEveryCall(t *testing.T) {
	t1 := Default()
	t2 := Default()
	if t1 == t2 {
		t.Error("Default() should return a fresh table on every call")
	}
}
