// Command solisp is the compiler's CLI front door: stdlib flag package,
// dispatch on the subcommand, then each subcommand parses the same small
// set of flags from its own arguments. Unlike a multi-target native toolchain, solisp only ever
// emits one kind of artifact -- an sBPF ELF object -- so there is no
// arch/OS flag surface.
package main

import (
	"fmt"
	"os"

	"github.com/xyproto/solisp/compiler"
)

const versionString = "solisp 0.1.0"

func main() {
	if len(os.Args) < 2 {
		cmdHelp()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "help", "--help", "-h":
		cmdHelp()
	case "version", "--version", "-V":
		fmt.Println(versionString)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'solisp help' for usage information\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdHelp() {
	fmt.Printf(`solisp - a LISP-dialect compiler for Solana sBPF programs

USAGE:
    solisp <command> [arguments]

COMMANDS:
    build <file.lisp>     Compile to an sBPF ELF object
    run <file.lisp>       Compile and print a CompileResult summary
    watch <file.lisp>     Recompile on every save
    help                  Show this help message
    version               Show version information

FLAGS (build/run/watch):
    -o <file>             Output object filename (default: input name, .so suffix)
    -v                    Verbose mode
    -sbpf-version <1|2>   Wire format: 1 (dynamic relocations) or 2 (static hashes)
    -opt-level <0|1>      Optimization level
    -compute-budget <n>   Advisory compute-unit budget (default %d)
    -debug-info           Keep source position info in warnings

ENVIRONMENT:
    SOLISP_SBPF_VERSION, SOLISP_OPT_LEVEL, SOLISP_COMPUTE_BUDGET,
    SOLISP_DEBUG_INFO override the flags above, even when passed explicitly.
`, compiler.DefaultComputeBudget)
}
