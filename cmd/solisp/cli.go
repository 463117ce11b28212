// Subcommand implementations: each subcommand owns a small flag.FlagSet,
// reads the source file, calls into package compiler, and reports errors
// to stderr with a non-zero exit rather than panicking.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/solisp/compiler"
)

func parseFlags(name string, args []string) (opts compiler.Options, outputPath string, verbose bool, inputFile string, err error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	output := fs.String("o", "", "output object filename")
	v := fs.Bool("v", false, "verbose mode")
	sbpfVersion := fs.Int("sbpf-version", 2, "wire format: 1 or 2")
	optLevel := fs.Int("opt-level", 1, "optimization level: 0 or 1")
	computeBudget := fs.Int("compute-budget", compiler.DefaultComputeBudget, "advisory compute-unit budget")
	debugInfo := fs.Bool("debug-info", false, "keep source position info in warnings")

	if parseErr := fs.Parse(args); parseErr != nil {
		return opts, "", false, "", parseErr
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return opts, "", false, "", fmt.Errorf("usage: solisp %s <file.lisp> [flags]", name)
	}

	defaults := compiler.Options{
		SBPFVersion:   *sbpfVersion,
		OptLevel:      *optLevel,
		ComputeBudget: *computeBudget,
		DebugInfo:     *debugInfo,
		SourceFile:    rest[0],
	}
	opts = compiler.LoadOptions(defaults)
	outputPath = *output
	verbose = *v
	inputFile = rest[0]
	return opts, outputPath, verbose, inputFile, nil
}

func runBuild(args []string) {
	opts, outputPath, verbose, inputFile, err := parseFlags("build", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	object, result, err := compileFile(inputFile, opts, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		os.Exit(1)
	}

	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputFile, ".lisp") + ".so"
	}
	if err := os.WriteFile(outputPath, object, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	if verbose {
		fmt.Printf("Built: %s (%d instructions, ~%d CU)\n", outputPath, result.InstructionCount, result.EstimatedCU)
	}
}

func runRun(args []string) {
	opts, _, verbose, inputFile, err := parseFlags("run", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, result, err := compileFile(inputFile, opts, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		os.Exit(1)
	}

	printResult(inputFile, result)
}

func compileFile(path string, opts compiler.Options, verbose bool) ([]byte, compiler.Result, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, compiler.Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "compiling %s (sbpf_version=%d opt_level=%d)\n", path, opts.SBPFVersion, opts.OptLevel)
	}
	return compiler.Compile(string(source), path, opts)
}

func printResult(path string, result compiler.Result) {
	fmt.Printf("%s: %d instructions, ~%d compute units\n", path, result.InstructionCount, result.EstimatedCU)
	if len(result.SyscallNames) > 0 {
		fmt.Printf("  syscalls: %s\n", strings.Join(result.SyscallNames, ", "))
	}
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w.Message)
	}
}
