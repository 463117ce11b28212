package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/solisp/compiler"
)

func TestParseFlagsAppliesDefaults(t *testing.T) {
	opts, outputPath, verbose, inputFile, err := parseFlags("build", []string{"prog.lisp"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.SBPFVersion != 2 {
		t.Errorf("SBPFVersion = %d, want 2 (default)", opts.SBPFVersion)
	}
	if opts.OptLevel != 1 {
		t.Errorf("OptLevel = %d, want 1 (default)", opts.OptLevel)
	}
	if outputPath != "" {
		t.Errorf("outputPath = %q, want empty when -o is not passed", outputPath)
	}
	if verbose {
		t.Error("verbose should default to false")
	}
	if inputFile != "prog.lisp" {
		t.Errorf("inputFile = %q, want prog.lisp", inputFile)
	}
}

func TestParseFlagsHonoursExplicitFlags(t *testing.T) {
	opts, outputPath, verbose, inputFile, err := parseFlags("build", []string{
		"-sbpf-version", "1", "-opt-level", "0", "-o", "out.so", "-v", "prog.lisp",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.SBPFVersion != 1 {
		t.Errorf("SBPFVersion = %d, want 1", opts.SBPFVersion)
	}
	if opts.OptLevel != 0 {
		t.Errorf("OptLevel = %d, want 0", opts.OptLevel)
	}
	if outputPath != "out.so" {
		t.Errorf("outputPath = %q, want out.so", outputPath)
	}
	if !verbose {
		t.Error("expected verbose to be true when -v is passed")
	}
	if inputFile != "prog.lisp" {
		t.Errorf("inputFile = %q, want prog.lisp", inputFile)
	}
}

func TestParseFlagsRequiresInputFile(t *testing.T) {
	_, _, _, _, err := parseFlags("build", []string{"-v"})
	if err == nil {
		t.Fatal("expected an error when no input file is given")
	}
}

func TestCompileFileReadsAndCompilesSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.lisp")
	if err := os.WriteFile(path, []byte(`(sol_log_ "hi")`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, _, _, inputFile, err := parseFlags("run", []string{path})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	object, result, err := compileFile(inputFile, opts, false)
	if err != nil {
		t.Fatalf("compileFile: %v", err)
	}
	if len(object) == 0 {
		t.Error("expected a non-empty compiled object")
	}
	if result.InstructionCount == 0 {
		t.Error("expected a nonzero instruction count")
	}
}

func TestCompileFileMissingFileErrors(t *testing.T) {
	opts := compiler.Options{SBPFVersion: 2, OptLevel: 1, ComputeBudget: compiler.DefaultComputeBudget}
	_, _, err := compileFile("/nonexistent/path/does-not-exist.lisp", opts, false)
	if err == nil {
		t.Fatal("expected an error for a missing source file")
	}
}
