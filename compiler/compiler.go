// Package compiler wires together the full pipeline: parse -> ir.Builder
// (with intrinsics) -> optimize -> regalloc -> encode -> verify -> elfw.
// Modeled on a single driver-function shape (parse source, build IR,
// optimize, allocate registers, emit machine code, write the executable)
// behind one entry point, with env-var overrides read through
// github.com/xyproto/env/v2.
package compiler

import (
	"fmt"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/encode"
	"github.com/xyproto/solisp/intrinsics"
	"github.com/xyproto/solisp/ir"
	"github.com/xyproto/solisp/optimize"
	"github.com/xyproto/solisp/parse"
	"github.com/xyproto/solisp/regalloc"
	"github.com/xyproto/solisp/syscalls"
	"github.com/xyproto/solisp/verify"
	"github.com/xyproto/solisp/elfw"
)

// Options controls a single compile: wire-format version, optimization
// level, an advisory compute-unit budget, and whether source positions
// survive into warnings. LoadOptions applies env-var overrides on top
// of a caller-supplied set of defaults.
type Options struct {
	SBPFVersion   int // 1 or 2
	OptLevel      int // 0 or 1
	ComputeBudget int // advisory u32; exceeding it only adds a warning, it is not written into the object; default 200000
	DebugInfo     bool
	SourceFile    string
}

// DefaultComputeBudget is the advisory default compute-unit budget.
const DefaultComputeBudget = 200000

// Validate checks Options for the only illegal combinations: an
// unrecognized sbpf_version, an out-of-range opt_level, or a
// zero/negative compute budget (advisory or not, a program can't be
// given zero budget).
func (o Options) Validate() error {
	if o.SBPFVersion != 1 && o.SBPFVersion != 2 {
		return fmt.Errorf("sbpf_version must be 1 or 2, got %d", o.SBPFVersion)
	}
	if o.OptLevel < 0 || o.OptLevel > 1 {
		return fmt.Errorf("opt_level must be 0 or 1, got %d", o.OptLevel)
	}
	if o.ComputeBudget <= 0 {
		return fmt.Errorf("compute_budget must be positive, got %d", o.ComputeBudget)
	}
	return nil
}

// LoadOptions builds Options from CLI-supplied defaults, then lets
// SOLISP_SBPF_VERSION / SOLISP_OPT_LEVEL / SOLISP_COMPUTE_BUDGET /
// SOLISP_DEBUG_INFO override them. The CLI calls this after flag.Parse,
// so an env var set in the process environment wins over an explicit
// flag -- useful for CI pipelines pinning a sbpf_version across every
// invocation without touching call sites.
func LoadOptions(defaults Options) Options {
	o := defaults
	o.SBPFVersion = env.IntOr("SOLISP_SBPF_VERSION", o.SBPFVersion)
	o.OptLevel = env.IntOr("SOLISP_OPT_LEVEL", o.OptLevel)
	o.ComputeBudget = env.IntOr("SOLISP_COMPUTE_BUDGET", o.ComputeBudget)
	if env.Has("SOLISP_DEBUG_INFO") {
		o.DebugInfo = env.Bool("SOLISP_DEBUG_INFO")
	}
	return o
}

// Result collects the machine-checkable facts about a successful
// compile, independent of the object bytes themselves.
type Result struct {
	InstructionCount int
	EstimatedCU      int
	SyscallNames     []string
	Warnings         []ir.Diagnostic
}

// Compile runs the full pipeline over solisp source text and returns the
// packaged ELF object bytes plus Result.
func Compile(source string, filename string, opts Options) ([]byte, Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, Result{}, err
	}

	program, err := parse.Parse(source)
	if err != nil {
		return nil, Result{}, err
	}

	table := intrinsics.Default()
	builder := ir.NewBuilder(table)
	module, err := builder.Lower(program)
	if err != nil {
		return nil, Result{}, err
	}

	optimize.Run(module, opts.OptLevel)

	fn := module.Entry()
	assign, err := regalloc.Allocate(fn)
	if err != nil {
		return nil, Result{}, err
	}

	reg := syscalls.New()
	enc, err := encode.Encode(fn, assign, reg, opts.SBPFVersion)
	if err != nil {
		return nil, Result{}, err
	}

	if err := verify.Check(enc.Code, assign.StackBytes); err != nil {
		return nil, Result{}, err
	}

	object, err := elfw.Write(enc.Code, enc.Relocations, reg, elfw.Options{Version: opts.SBPFVersion})
	if err != nil {
		return nil, Result{}, err
	}

	instrCount := len(enc.Code) / 8
	if estimatedCU(instrCount) > opts.ComputeBudget {
		// compute_budget is advisory: baked into the result for the
		// caller to act on, never a compile failure on its own.
		module.Warn(ir.DiagComputeBudgetExceeded, ast.Pos{}, "estimated compute units %d exceed the advisory compute_budget %d", estimatedCU(instrCount), opts.ComputeBudget)
	}
	if !opts.DebugInfo {
		for i := range module.Diagnostics {
			module.Diagnostics[i].Pos = ast.Pos{}
		}
	}

	names := make([]string, 0, reg.Len())
	for _, e := range reg.Entries() {
		names = append(names, e.Name)
	}

	return object, Result{
		InstructionCount: instrCount,
		EstimatedCU:      estimatedCU(instrCount),
		SyscallNames:     names,
		Warnings:         module.Diagnostics,
	}, nil
}

// estimatedCU approximates the Solana compute-unit cost of a straight-line
// instruction count: one CU per sBPF instruction, a conservative static
// estimate absent any profiling data.
func estimatedCU(instrCount int) int {
	return instrCount
}
