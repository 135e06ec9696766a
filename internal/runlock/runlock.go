// Package runlock guarantees that at most one archiving run touches the job
// tree at a time.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// FileName is the lock file created inside the job root.
const FileName = "archivist.lock"

// ErrHeld is matched by ContentionError.
var ErrHeld = errors.New("run lock held")

// ContentionError reports the process holding the lock.
type ContentionError struct {
	Path  string
	PID   int
	Alive bool
}

func (e *ContentionError) Error() string {
	switch {
	case e.PID == 0:
		return fmt.Sprintf("another run holds %s", e.Path)
	case e.Alive:
		return fmt.Sprintf("another run (pid %d) holds %s", e.PID, e.Path)
	default:
		return fmt.Sprintf("lock %s held; recorded pid %d is not running", e.Path, e.PID)
	}
}

func (e *ContentionError) Is(target error) bool { return target == ErrHeld }

// ErrorKindContention is the class the CLI maps onto its lock-held exit status.
const ErrorKindContention = "lock_contention"

// ErrorKind classifies the error for exit reporting.
func (e *ContentionError) ErrorKind() string { return ErrorKindContention }

// Lock is a held run lock.
type Lock struct {
	path  string
	flock *flock.Flock
}

// Acquire takes the run lock below root without blocking. The lock file keeps
// the holder's PID for diagnostics. Kernel locks vanish with their process.
func Acquire(root string) (*Lock, error) {
	path := filepath.Join(root, FileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		pid := readPID(path)
		return nil, &ContentionError{Path: path, PID: pid, Alive: pid > 0 && Alive(pid)}
	}
	if err := writePID(path); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	return &Lock{path: path, flock: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if err := os.Truncate(l.path, 0); err != nil && !os.IsNotExist(err) {
		_ = l.flock.Unlock()
		return fmt.Errorf("clear lock pid: %w", err)
	}
	return l.flock.Unlock()
}

// Holder returns the PID recorded in the lock below root, or 0.
func Holder(root string) int {
	return readPID(filepath.Join(root, FileName))
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// writePID writes through a separate descriptor; flock locks belong to the
// open file description held by fl and are unaffected.
func writePID(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write lock pid: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write lock pid: %w", err)
	}
	return f.Sync()
}
