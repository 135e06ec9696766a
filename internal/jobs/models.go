package jobs

import (
	"sort"
	"strings"
	"time"
)

// State is the lifecycle position of a job. Each state names a directory.
type State string

const (
	StateNew      State = "New"
	StateApproved State = "Approved"
	StateDeclined State = "Declined"
	StateRunning  State = "Running"
	StateError    State = "Error"
	StateFinished State = "Finished"
)

var allStates = []State{
	StateNew,
	StateApproved,
	StateDeclined,
	StateRunning,
	StateError,
	StateFinished,
}

// AllStates returns every job state in directory creation order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a user supplied name into a State. Matching ignores case.
func ParseState(value string) (State, bool) {
	trimmed := strings.TrimSpace(value)
	for _, state := range allStates {
		if strings.EqualFold(string(state), trimmed) {
			return state, true
		}
	}
	return "", false
}

// engineEdges are the transitions the scan applies by writing the new status
// before renaming. A record found with one of these (location, status) pairs
// was interrupted between the two steps.
var engineEdges = map[State]map[State]struct{}{
	StateApproved: {StateRunning: {}},
	StateDeclined: {StateFinished: {}},
	StateRunning:  {StateFinished: {}},
}

func isEngineEdge(from, to State) bool {
	_, ok := engineEdges[from][to]
	return ok
}

// FileStatus is the archival status of one file within a job.
type FileStatus string

const (
	FileNew      FileStatus = "New"
	FileRunning  FileStatus = "Running"
	FileArchived FileStatus = "Archived"
	FileDeclined FileStatus = "Declined"
	FileError    FileStatus = "Error"
	// FileIgnored marks files that were already symbolic links when the job
	// was created. They are never copied or deleted.
	FileIgnored FileStatus = "Ignored"
)

var fileStatusSet = map[FileStatus]struct{}{
	FileNew:      {},
	FileRunning:  {},
	FileArchived: {},
	FileDeclined: {},
	FileError:    {},
	FileIgnored:  {},
}

// ParseFileStatus validates a status read from a record.
func ParseFileStatus(value string) (FileStatus, bool) {
	trimmed := strings.TrimSpace(value)
	for status := range fileStatusSet {
		if strings.EqualFold(string(status), trimmed) {
			return status, true
		}
	}
	return "", false
}

// ItemRef is one logical item captured by a job. Included is false for items
// pulled in by closure that were already pending or archived elsewhere; their
// tags are never changed by this job.
type ItemRef struct {
	ID       int64  `toml:"id"`
	Key      string `toml:"key"`
	Included bool   `toml:"included"`
}

// Info is the descriptive header of a job record.
type Info struct {
	Status      State             `toml:"status"`
	UserID      int64             `toml:"user_id"`
	UserName    string            `toml:"user_name"`
	GroupID     int64             `toml:"group_id"`
	GroupName   string            `toml:"group_name,omitempty"`
	OwnerID     int64             `toml:"owner_id"`
	OwnerName   string            `toml:"owner_name"`
	Email       string            `toml:"email,omitempty"`
	Created     time.Time         `toml:"created"`
	Expiry      time.Time         `toml:"expiry"`
	Description string            `toml:"description,omitempty"`
	TotalBytes  int64             `toml:"total_bytes"`
	TotalSize   string            `toml:"total_size"`
	Complete    *time.Time        `toml:"complete,omitempty"`
	Error       string            `toml:"error,omitempty"`
	Notes       map[string]string `toml:"notes,omitempty"`
}

// Job is the in-memory form of a job record.
type Job struct {
	// ID is the record's file name and is not stored inside the record.
	ID       string                `toml:"-"`
	Info     Info                  `toml:"info"`
	Items    []ItemRef             `toml:"items"`
	Files    map[string]FileStatus `toml:"files"`
	Attempts map[string]int        `toml:"attempts,omitempty"`
	// Reasons explains why individual files are in Error.
	Reasons map[string]string `toml:"reasons,omitempty"`
}

// NewJob returns an empty job with the given header in state New.
func NewJob(info Info) *Job {
	info.Status = StateNew
	return &Job{
		Info:  info,
		Files: make(map[string]FileStatus),
	}
}

// SetFile records the status of path.
func (j *Job) SetFile(path string, status FileStatus) {
	if j.Files == nil {
		j.Files = make(map[string]FileStatus)
	}
	j.Files[path] = status
}

// Paths returns every file path in sorted order.
func (j *Job) Paths() []string {
	out := make([]string, 0, len(j.Files))
	for path := range j.Files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// PathsWith returns the sorted paths whose status is one of statuses.
func (j *Job) PathsWith(statuses ...FileStatus) []string {
	var out []string
	for _, path := range j.Paths() {
		for _, status := range statuses {
			if j.Files[path] == status {
				out = append(out, path)
				break
			}
		}
	}
	return out
}

// Counts tallies files by status.
func (j *Job) Counts() map[FileStatus]int {
	counts := make(map[FileStatus]int, len(fileStatusSet))
	for _, status := range j.Files {
		counts[status]++
	}
	return counts
}

// IncludedItems returns the items whose tags this job owns.
func (j *Job) IncludedItems() []ItemRef {
	var out []ItemRef
	for _, item := range j.Items {
		if item.Included {
			out = append(out, item)
		}
	}
	return out
}

// Outcome derives the state a job in the Running phase belongs to from its
// file statuses. A job stays Running while any file is still in flight so
// that an asynchronous sink keeps being polled. Once every file has settled
// the job is Finished when all files were archived (or all declined), and
// Error otherwise.
func (j *Job) Outcome() State {
	counts := j.Counts()
	if counts[FileRunning]+counts[FileNew] > 0 {
		return StateRunning
	}
	if counts[FileError] > 0 {
		return StateError
	}
	done := counts[FileIgnored]
	if counts[FileArchived]+done == len(j.Files) || counts[FileDeclined]+done == len(j.Files) {
		return StateFinished
	}
	return StateError
}

// MarkError sets path to Error and remembers why.
func (j *Job) MarkError(path, reason string) {
	j.SetFile(path, FileError)
	if reason == "" {
		return
	}
	if j.Reasons == nil {
		j.Reasons = make(map[string]string)
	}
	j.Reasons[path] = reason
}

// RecordFailure counts a failed archive attempt for path. Once the count
// exceeds budget the file is marked Error and true is returned.
func (j *Job) RecordFailure(path, reason string, budget int) bool {
	if j.Attempts == nil {
		j.Attempts = make(map[string]int)
	}
	j.Attempts[path]++
	if j.Attempts[path] > budget {
		j.MarkError(path, reason)
		return true
	}
	return false
}

// MarkArchived sets path to Archived and forgets its failure history.
func (j *Job) MarkArchived(path string) {
	j.SetFile(path, FileArchived)
	delete(j.Attempts, path)
	delete(j.Reasons, path)
}

// ResetErrors moves every Error file back to Running and clears the failure
// history so the next scan retries them. It returns the reset paths.
func (j *Job) ResetErrors() []string {
	reset := j.PathsWith(FileError)
	for _, path := range reset {
		j.Files[path] = FileRunning
		delete(j.Attempts, path)
		delete(j.Reasons, path)
	}
	j.Info.Error = ""
	return reset
}

// Overdue reports whether a job still awaiting review has passed its expiry.
func (j *Job) Overdue(now time.Time) bool {
	return !j.Info.Expiry.IsZero() && now.After(j.Info.Expiry)
}
