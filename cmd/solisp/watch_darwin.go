//go:build darwin
// +build darwin

// Watch mode, Darwin variant: a kqueue-based file watcher.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type fileWatcher struct {
	kq          int
	watchMap    map[int]string
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	onChange    func(string)
	closed      bool
}

func newFileWatcher(onChange func(string)) (*fileWatcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue failed: %v", err)
	}
	return &fileWatcher{
		kq:          kq,
		watchMap:    make(map[int]string),
		debounceMap: make(map[string]*time.Timer),
		onChange:    onChange,
	}, nil
}

func (fw *fileWatcher) addFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fd, err := unix.Open(absPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", absPath, err)
	}
	fw.mu.Lock()
	fw.watchMap[fd] = absPath
	fw.mu.Unlock()

	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_WRITE | unix.NOTE_EXTEND,
	}
	_, err = unix.Kevent(fw.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to register watch on %s: %v", absPath, err)
	}
	return nil
}

func (fw *fileWatcher) watch() {
	events := make([]unix.Kevent_t, 10)
	for {
		fw.mu.Lock()
		closed := fw.closed
		fw.mu.Unlock()
		if closed {
			return
		}
		n, err := unix.Kevent(fw.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			fmt.Fprintf(os.Stderr, "error reading kqueue events: %v\n", err)
			continue
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Ident)
			fw.mu.Lock()
			path := fw.watchMap[fd]
			fw.mu.Unlock()
			if path != "" {
				fw.debouncedCallback(path)
			}
		}
	}
}

func (fw *fileWatcher) debouncedCallback(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if timer, exists := fw.debounceMap[path]; exists {
		timer.Stop()
	}
	fw.debounceMap[path] = time.AfterFunc(500*time.Millisecond, func() {
		fw.onChange(path)
		fw.mu.Lock()
		delete(fw.debounceMap, path)
		fw.mu.Unlock()
	})
}

func (fw *fileWatcher) close() error {
	fw.mu.Lock()
	fw.closed = true
	for fd := range fw.watchMap {
		unix.Close(fd)
	}
	fw.mu.Unlock()
	return unix.Close(fw.kq)
}
