// runWatch is the platform-independent half of watch mode: parse flags
// once, recompile on every detected change, print a result or error. The
// platform-specific fileWatcher (watch_linux.go / watch_darwin.go) only
// knows how to detect writes to one path and debounce them.
package main

import (
	"fmt"
	"os"
)

func runWatch(args []string) {
	opts, _, verbose, inputFile, err := parseFlags("watch", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	recompile := func(path string) {
		_, result, err := compileFile(path, opts, verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: compilation failed: %v\n", path, err)
			return
		}
		printResult(path, result)
	}

	// Run once up front so a watcher that never observes a write still
	// reports the file's current state, matching `build`/`run`.
	recompile(inputFile)

	fw, err := newFileWatcher(recompile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer fw.close()

	if err := fw.addFile(inputFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to watch %s: %v\n", inputFile, err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "watching %s for changes (ctrl-c to stop)\n", inputFile)
	fw.watch()
}
