// Package sink defines the archive destinations a running job hands files to.
//
// A sink either completes a file synchronously (filesink) or accepts it and
// confirms later (arkivum). In both cases the original file is replaced by a
// symlink to its archive copy only once the copy is verified.
package sink

import (
	"context"
	"fmt"
)

// Status is the outcome of one archive attempt.
type Status string

const (
	StatusArchived Status = "Archived"
	StatusPending  Status = "Pending"
	StatusFailed   Status = "Failed"
)

// Result reports what a sink did with a file.
type Result struct {
	Status Status
	// Target is the archive location of the file, when known.
	Target string
	Detail string
}

// Archived builds a successful result.
func Archived(target string) Result {
	return Result{Status: StatusArchived, Target: target}
}

// Pending builds a result for a file that needs another run.
func Pending(target, format string, args ...any) Result {
	return Result{Status: StatusPending, Target: target, Detail: fmt.Sprintf(format, args...)}
}

// Failed builds a result for a file-level fault.
func Failed(target, format string, args ...any) Result {
	return Result{Status: StatusFailed, Target: target, Detail: fmt.Sprintf(format, args...)}
}

// Sink archives repository files.
//
// Archive advances a file as far as possible and must be safe to call again
// after any interruption. Status reports progress without side effects.
// A returned error means the attempt could not be evaluated at all; file
// faults are reported as StatusFailed.
type Sink interface {
	Name() string
	Archive(ctx context.Context, path string) (Result, error)
	Status(ctx context.Context, path string) (Result, error)
}
