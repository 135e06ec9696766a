// Package filesink archives files by copying them under a local archive root.
package filesink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"archivist/internal/arklog"
	"archivist/internal/fileutil"
	"archivist/internal/sink"
)

// Sink copies each file to <root>/<path>, verifies the copy against MD5,
// SHA-256 and Adler-32 digests and replaces the original with a symlink.
type Sink struct {
	root string
	log  *arklog.Log
	now  func() time.Time
}

var _ sink.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source for recorded stages.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New returns a file sink writing below root and recording stages in log.
func New(root string, log *arklog.Log, opts ...Option) (*Sink, error) {
	if root == "" {
		return nil, errors.New("archive root is required")
	}
	if log == nil {
		return nil, errors.New("archive log is required")
	}
	s := &Sink{root: root, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "file" }

// Target returns the archive location for path.
func (s *Sink) Target(path string) string {
	return filepath.Join(s.root, arklog.NonAbsolute(path))
}

// Archive copies, verifies and links path. A partially copied target from an
// interrupted run is verified against freshly computed source digests and
// removed when it does not match so the next attempt starts clean.
func (s *Sink) Archive(ctx context.Context, path string) (sink.Result, error) {
	if err := ctx.Err(); err != nil {
		return sink.Result{}, err
	}
	target := s.Target(path)

	if done, err := linkedTo(path, target); err != nil {
		return sink.Result{}, err
	} else if done {
		return sink.Archived(target), nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sink.Failed(target, "file does not exist: %s", path), nil
		}
		return sink.Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return sink.Failed(target, "not a regular file: %s", path), nil
	}

	var result sink.Result
	err = s.log.Update(path, func(rec *arklog.Record) error {
		if rec.File == nil {
			rec.File = &arklog.Stage{}
		}
		result = s.archive(path, target, rec.File)
		return nil
	})
	if err != nil {
		return sink.Result{}, err
	}
	return result, nil
}

func (s *Sink) archive(path, target string, stage *arklog.Stage) sink.Result {
	copied, err := exists(target)
	if err != nil {
		return sink.Failed(target, "stat archive copy: %v", err)
	}

	proven := true
	switch {
	case !copied:
		sums, err := fileutil.CopyFileVerified(path, target)
		if err != nil {
			return sink.Failed(target, "copy to archive: %v", err)
		}
		stage.SetChecksums(sums, target)
		now := s.now().UTC()
		stage.Copied = &now
		// CopyFileVerified re-read the copy already.
		return s.link(path, target, stage)
	case !stage.HasChecksums() || stage.SHA256 == "":
		sums, err := fileutil.HashFile(path)
		if err != nil {
			return sink.Failed(target, "checksum source: %v", err)
		}
		stage.SetChecksums(sums, target)
		proven = false
	}

	archived, err := fileutil.HashFile(target)
	if err != nil {
		return sink.Failed(target, "checksum archive copy: %v", err)
	}
	if !archived.Equal(stage.Checksums()) {
		if err := os.Remove(target); err != nil {
			return sink.Failed(target, "remove archive copy: %v", err)
		}
		stage.Copied = nil
		if !proven {
			// Leftover of an interrupted copy; the next attempt copies afresh.
			return sink.Pending(target, "removed partial archive copy")
		}
		return sink.Failed(target, "archived file has different checksum")
	}
	return s.link(path, target, stage)
}

func (s *Sink) link(path, target string, stage *arklog.Stage) sink.Result {
	if err := fileutil.ReplaceWithLink(path, target); err != nil {
		return sink.Failed(target, "replace original with link: %v", err)
	}
	now := s.now().UTC()
	stage.Archived = &now
	return sink.Archived(target)
}

// Status reports progress without touching the file or the descriptor.
func (s *Sink) Status(_ context.Context, path string) (sink.Result, error) {
	target := s.Target(path)
	done, err := linkedTo(path, target)
	if err != nil {
		return sink.Result{}, err
	}
	if done {
		return sink.Archived(target), nil
	}
	copied, err := exists(target)
	if err != nil {
		return sink.Result{}, err
	}
	if copied {
		return sink.Pending(target, "archive copy present, original not yet replaced"), nil
	}
	return sink.Pending(target, "not copied"), nil
}

func linkedTo(path, target string) (bool, error) {
	link, err := fileutil.LinkTarget(path)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", path, err)
	}
	if link == "" || filepath.Clean(link) != filepath.Clean(target) {
		return false, nil
	}
	return exists(target)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
