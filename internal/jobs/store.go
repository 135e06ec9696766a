package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"archivist/internal/fileutil"
)

// idLayout is the time prefix of job identifiers, followed by ".<n>".
const idLayout = "20060102_150405"

// Store manages the job state tree rooted at a single directory.
type Store struct {
	root string
	now  func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for identifiers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares the state directories under root and returns a Store.
func Open(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("job root is required")
	}
	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, state := range allStates {
		if err := os.MkdirAll(s.Dir(state), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", state, err)
		}
	}
	return s, nil
}

// Root returns the job tree root.
func (s *Store) Root() string { return s.root }

// Dir returns the directory holding jobs in state.
func (s *Store) Dir(state State) string {
	return filepath.Join(s.root, string(state))
}

func (s *Store) path(state State, id string) string {
	return filepath.Join(s.Dir(state), id)
}

// NextID returns an identifier not used by any job in the tree.
func (s *Store) NextID() string {
	prefix := s.now().Format(idLayout)
	for n := 1; ; n++ {
		id := prefix + "." + strconv.Itoa(n)
		if _, err := s.Locate(id); errors.Is(err, ErrJobNotFound) {
			return id
		}
	}
}

// Create writes job into New and returns its identifier. An identifier is
// assigned when job.ID is empty.
func (s *Store) Create(job *Job) (string, error) {
	if job == nil {
		return "", errors.New("create job: nil job")
	}
	if job.ID == "" {
		job.ID = s.NextID()
	} else if _, err := s.Locate(job.ID); err == nil {
		return "", fmt.Errorf("create job %s: already exists", job.ID)
	}
	job.Info.Status = StateNew
	if err := s.Save(job, StateNew); err != nil {
		return "", fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Save atomically rewrites job inside the directory of state at.
func (s *Store) Save(job *Job, at State) error {
	data, err := Encode(job)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(s.path(at, job.ID), data, 0o644); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

// Locate returns the state directory that currently holds id.
func (s *Store) Locate(id string) (State, error) {
	for _, state := range allStates {
		info, err := os.Stat(s.path(state, id))
		if err == nil && info.Mode().IsRegular() {
			return state, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Read locates and decodes id.
func (s *Store) Read(id string) (*Job, State, error) {
	state, err := s.Locate(id)
	if err != nil {
		return nil, "", err
	}
	job, err := s.ReadAt(state, id)
	return job, state, err
}

// ReadAt decodes the record id in the directory of state.
func (s *Store) ReadAt(state State, id string) (*Job, error) {
	data, err := os.ReadFile(s.path(state, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrJobNotFound, id, state)
		}
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	job, err := Decode(data)
	if err != nil {
		return nil, &CorruptRecordError{ID: id, State: state, Err: err}
	}
	job.ID = id
	return job, nil
}

// List returns the identifiers of jobs in state, oldest first. Hidden and
// temporary files are skipped.
func (s *Store) List(state State) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(state))
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Move renames id from one state directory to another. Moving a job that is
// already at to is a no-op.
func (s *Store) Move(id string, from, to State) error {
	if from == to {
		return nil
	}
	src := s.path(from, id)
	dst := s.path(to, id)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, dstErr := os.Stat(dst); dstErr == nil {
				return nil
			}
			return fmt.Errorf("%w: %s in %s", ErrJobNotFound, id, from)
		}
		return fmt.Errorf("stat job %s: %w", id, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("move job %s: already present in %s", id, to)
	}
	if err := fileutil.RenameDurable(src, dst); err != nil {
		return fmt.Errorf("move job %s from %s to %s: %w", id, from, to, err)
	}
	return nil
}

// Transition records to as the job's status inside from, then renames the
// record into to. A crash between the steps is completed by Reconcile.
func (s *Store) Transition(job *Job, from, to State) error {
	job.Info.Status = to
	if err := s.Save(job, from); err != nil {
		return err
	}
	return s.Move(job.ID, from, to)
}

// Fail renames the job into Error and then records the Error status, so a
// crash between the steps leaves the location authoritative.
func (s *Store) Fail(job *Job, from State, reason string) error {
	if err := s.Move(job.ID, from, StateError); err != nil {
		return err
	}
	job.Info.Status = StateError
	job.Info.Error = reason
	return s.Save(job, StateError)
}

// Encode serialises job as TOML.
func Encode(job *Job) ([]byte, error) {
	data, err := toml.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return data, nil
}

// Decode parses and validates a TOML job record.
func Decode(data []byte) (*Job, error) {
	var job Job
	if err := toml.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) validate() error {
	state, ok := ParseState(string(j.Info.Status))
	if !ok {
		return fmt.Errorf("info.status: unknown state %q", j.Info.Status)
	}
	j.Info.Status = state
	if j.Files == nil {
		j.Files = make(map[string]FileStatus)
	}
	for path, raw := range j.Files {
		status, ok := ParseFileStatus(string(raw))
		if !ok {
			return fmt.Errorf("files: unknown status %q for %s", raw, path)
		}
		j.Files[path] = status
	}
	return nil
}
