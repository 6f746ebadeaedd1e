// Package lock provides advisory per-archive locks. A lock marks an
// archive as claimed by one comparison or merge operation; read-only
// display scans deliberately never take it.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process holds an archive lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("archive lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired advisory lock on one archive.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive advisory lock for the archive at
// archivePath. The lock file lives beside the archive as
// <archive>.lock. Returns HeldError if another process holds it.
func Acquire(archivePath string) (*Lock, error) {
	lockPath := archivePath + ".lock"

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		pid := parsePID(string(data))
		_ = f.Close()
		return nil, &HeldError{PID: pid, Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// PairLock holds locks on the two archives of one operation.
type PairLock struct {
	locks []*Lock
}

// AcquirePair locks both archives of a source/target pair, always in
// lexical order of their canonical paths. Two operations targeting each
// other's archives therefore contend on the same first lock instead of
// deadlocking. A pair naming the same archive twice locks it once.
func AcquirePair(pathA, pathB string) (*PairLock, error) {
	canonA, err := canonical(pathA)
	if err != nil {
		return nil, err
	}
	canonB, err := canonical(pathB)
	if err != nil {
		return nil, err
	}

	paths := []string{canonA}
	if canonB != canonA {
		paths = append(paths, canonB)
	}
	sort.Strings(paths)

	p := &PairLock{}
	for _, path := range paths {
		l, err := Acquire(path)
		if err != nil {
			_ = p.Release()
			return nil, err
		}
		p.locks = append(p.locks, l)
	}
	return p, nil
}

// Release releases both locks. Safe to call on nil receiver.
func (p *PairLock) Release() error {
	if p == nil {
		return nil
	}
	var firstErr error
	// Release in reverse acquisition order.
	for i := len(p.locks) - 1; i >= 0; i-- {
		if err := p.locks[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.locks = nil
	return firstErr
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
