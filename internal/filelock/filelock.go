// Package filelock provides exclusive, cross-process file locking with an
// additional intra-process guard: POSIX advisory file locks are per-process,
// so two goroutines in the same process racing on the same lock path would
// both succeed at the OS level. Acquire canonicalizes the path and
// serializes same-process waiters through a package-level mutex map in
// addition to the OS-level lock.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Lock is a held exclusive lock on a path. Call Unlock exactly once to
// release both the intra-process and the OS-level lock.
type Lock struct {
	path     string
	file     *os.File
	procLock *sync.Mutex
}

var (
	procMu    sync.Mutex
	procLocks = map[string]*sync.Mutex{}
)

func procLockFor(canonical string) *sync.Mutex {
	procMu.Lock()
	defer procMu.Unlock()
	m, ok := procLocks[canonical]
	if !ok {
		m = &sync.Mutex{}
		procLocks[canonical] = m
	}
	return m
}

// Acquire takes the exclusive lock at path, creating it and its parent
// directory if necessary. It blocks until the lock is available. The
// process-local mutex is acquired first (see package doc), then the
// OS-level advisory lock.
func Acquire(path string) (*Lock, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filelock: resolve %s: %w", path, err)
	}
	canonical = filepath.Clean(canonical)

	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return nil, fmt.Errorf("filelock: mkdir for %s: %w", canonical, err)
	}

	m := procLockFor(canonical)
	m.Lock()

	f, err := os.OpenFile(canonical, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("filelock: open %s: %w", canonical, err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		m.Unlock()
		return nil, fmt.Errorf("filelock: lock %s: %w", canonical, err)
	}

	return &Lock{path: canonical, file: f, procLock: m}, nil
}

// Unlock releases the OS-level lock, closes the file, removes the lock
// file from disk, and releases the process-local mutex. It is safe to call
// at most once; calling it on an already-unlocked Lock is a programmer
// error and panics.
func (l *Lock) Unlock() error {
	if l.file == nil {
		panic("filelock: Unlock called on an already-unlocked Lock")
	}
	err := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	removeErr := os.Remove(l.path)
	l.procLock.Unlock()

	if err != nil {
		return fmt.Errorf("filelock: unlock %s: %w", l.path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("filelock: close %s: %w", l.path, closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("filelock: remove %s: %w", l.path, removeErr)
	}
	return nil
}

// Path returns the canonicalized path this lock was acquired for.
func (l *Lock) Path() string { return l.path }
