// Package arklog keeps one archive descriptor per archived file.
//
// A descriptor lives at <log root>/<file path>.ark and records where a file
// came from (Source) and every stage a sink reached while archiving it. Sinks
// resume from the recorded checksums after a crash, and operators use the
// descriptors to trace a symlink in the repository back to its archive copy.
package arklog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"archivist/internal/fileutil"
)

// Source describes the catalog origin of a file.
type Source struct {
	ItemID    int64     `toml:"item_id"`
	ItemKey   string    `toml:"item"`
	OwnerID   int64     `toml:"owner_id"`
	OwnerName string    `toml:"owner"`
	LinkedBy  int64     `toml:"linked_by"`
	JobID     string    `toml:"job"`
	Path      string    `toml:"path"`
	Bytes     int64     `toml:"bytes"`
	Size      string    `toml:"size"`
	Modified  time.Time `toml:"modified"`
}

// Stage records the progress of one sink.
type Stage struct {
	Path     string     `toml:"path,omitempty"`
	Size     int64      `toml:"size,omitempty"`
	MD5      string     `toml:"md5,omitempty"`
	SHA256   string     `toml:"sha256,omitempty"`
	Adler32  string     `toml:"adler32,omitempty"`
	Copied   *time.Time `toml:"copied,omitempty"`
	State    string     `toml:"state,omitempty"`
	Archived *time.Time `toml:"archived,omitempty"`
}

// HasChecksums reports whether a previous run recorded full digests.
func (s *Stage) HasChecksums() bool {
	return s != nil && s.Size > 0 && s.MD5 != "" && s.Adler32 != ""
}

// Checksums returns the recorded digests.
func (s *Stage) Checksums() fileutil.Checksums {
	if s == nil {
		return fileutil.Checksums{}
	}
	return fileutil.Checksums{Size: s.Size, MD5: s.MD5, SHA256: s.SHA256, Adler32: s.Adler32}
}

// SetChecksums stores digests and the archive path.
func (s *Stage) SetChecksums(sums fileutil.Checksums, path string) {
	s.Size = sums.Size
	s.MD5 = sums.MD5
	s.SHA256 = sums.SHA256
	s.Adler32 = sums.Adler32
	s.Path = path
}

// Record is the full descriptor.
type Record struct {
	Source  *Source `toml:"source,omitempty"`
	File    *Stage  `toml:"file_archiver,omitempty"`
	Arkivum *Stage  `toml:"arkivum_archiver,omitempty"`
}

// SourceOnly reports whether no sink has touched the file yet.
func (r *Record) SourceOnly() bool {
	return r.Source != nil && r.File == nil && r.Arkivum == nil
}

// Log resolves and persists descriptors under a root directory.
type Log struct {
	root string
}

// Open returns a Log rooted at dir, creating it when needed.
func Open(dir string) (*Log, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive log dir: %w", err)
	}
	return &Log{root: dir}, nil
}

// Root returns the log directory.
func (l *Log) Root() string { return l.root }

// PathFor maps a repository file path to its descriptor path.
func (l *Log) PathFor(path string) string {
	return filepath.Join(l.root, NonAbsolute(path)+".ark")
}

// NonAbsolute strips any volume and leading separators so path can be joined
// under another root.
func NonAbsolute(path string) string {
	path = filepath.Clean(path)
	path = strings.TrimPrefix(path, filepath.VolumeName(path))
	return strings.TrimLeft(path, string(filepath.Separator))
}

// Read loads the descriptor for path. A missing descriptor returns ok=false
// and an empty record.
func (l *Log) Read(path string) (*Record, bool, error) {
	data, err := os.ReadFile(l.PathFor(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Record{}, false, nil
		}
		return nil, false, fmt.Errorf("read descriptor for %s: %w", path, err)
	}
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("parse descriptor for %s: %w", path, err)
	}
	return &rec, true, nil
}

// Write replaces the descriptor for path atomically.
func (l *Log) Write(path string, rec *Record) error {
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode descriptor for %s: %w", path, err)
	}
	target := l.PathFor(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create descriptor dir: %w", err)
	}
	return fileutil.WriteFileAtomic(target, data, 0o644)
}

// Update reads, mutates and writes the descriptor for path. The record is
// written even when fn fails so the last stage reached survives.
func (l *Log) Update(path string, fn func(*Record) error) error {
	rec, _, err := l.Read(path)
	if err != nil {
		return err
	}
	fnErr := fn(rec)
	if err := l.Write(path, rec); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// WriteSource records the origin of path, keeping any sink stages.
func (l *Log) WriteSource(path string, src Source) error {
	return l.Update(path, func(rec *Record) error {
		rec.Source = &src
		return nil
	})
}

// RemoveIfSourceOnly deletes the descriptor for path when no sink has
// recorded a stage. It reports whether a file was removed.
func (l *Log) RemoveIfSourceOnly(path string) (bool, error) {
	rec, ok, err := l.Read(path)
	if err != nil || !ok {
		return false, err
	}
	if !rec.SourceOnly() {
		return false, nil
	}
	if err := os.Remove(l.PathFor(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove descriptor for %s: %w", path, err)
	}
	return true, nil
}
