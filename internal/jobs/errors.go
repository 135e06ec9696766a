package jobs

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job is in none of the state directories.
var ErrJobNotFound = errors.New("job not found")

// ErrCorruptRecord classifies records that cannot be decoded or validated.
var ErrCorruptRecord = errors.New("corrupt job record")

// CorruptRecordError describes an unreadable record and where it was found.
type CorruptRecordError struct {
	ID    string
	State State
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt job record %s in %s: %v", e.ID, e.State, e.Err)
}

func (e *CorruptRecordError) Unwrap() []error { return []error{ErrCorruptRecord, e.Err} }

// ErrorKind names the failure class shown with CLI errors and used as the
// event type when the record is reported.
func (e *CorruptRecordError) ErrorKind() string { return "corrupt_record" }
