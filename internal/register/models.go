package register

import (
	"errors"
	"fmt"
	"time"
)

// Status is the register state of a path.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusArchived Status = "Archived"
)

// Entry is one register row.
type Entry struct {
	Path       string
	JobID      string
	Status     Status
	ClaimedAt  time.Time
	ArchivedAt *time.Time
}

// Stats counts register rows by status.
type Stats struct {
	Pending  int
	Archived int
}

// Health summarises register consistency for diagnostics.
type Health struct {
	Path      string
	Integrity string
	// Overlap counts paths present in both tables. Any value other than zero
	// breaks the one-entry-per-path rule.
	Overlap int
	Stats   Stats
}

// OK reports whether the register passed every check.
func (h Health) OK() bool {
	return h.Integrity == "ok" && h.Overlap == 0
}

// ErrAlreadyArchiving is matched by ClaimError when a path belongs to another job.
var ErrAlreadyArchiving = errors.New("path already claimed by another job")

// ErrNotPending is returned by Commit when the path has no pending claim.
var ErrNotPending = errors.New("path is not pending")

// ClaimError reports the job that already owns a path.
type ClaimError struct {
	Path  string
	Owner string
	State Status
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s is %s under job %s", e.Path, e.State, e.Owner)
}

func (e *ClaimError) Is(target error) bool { return target == ErrAlreadyArchiving }

// ErrorKind is logged as the event type of a duplicate claim.
func (e *ClaimError) ErrorKind() string { return "duplicate_claim" }
