// Package arkivum archives files onto a mounted Arkivum appliance and
// confirms them through its REST API.
//
// Archiving is asynchronous: the first call copies the file onto the mount
// and later calls poll the appliance until the copy reaches the configured
// replication state. Only then is the original replaced by a symlink.
package arkivum

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"archivist/internal/arklog"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/sink"
)

// Sink implements sink.Sink for the appliance.
type Sink struct {
	cfg    config.Arkivum
	client *Client
	log    *arklog.Log
	now    func() time.Time
}

var _ sink.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithClient substitutes the REST client.
func WithClient(client *Client) Option {
	return func(s *Sink) { s.client = client }
}

// New builds an appliance sink.
func New(cfg config.Arkivum, log *arklog.Log, opts ...Option) (*Sink, error) {
	if cfg.MountRoot == "" {
		return nil, errors.New("arkivum mount root is required")
	}
	if log == nil {
		return nil, errors.New("archive log is required")
	}
	s := &Sink{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.Timeout(), cfg.InsecureSkipVerify),
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "arkivum" }

// RelPath is the location of path relative to the appliance root.
func (s *Sink) RelPath(path string) string {
	return filepath.Join(s.cfg.MountPath, arklog.NonAbsolute(path))
}

// Target is the location of path on the local mount.
func (s *Sink) Target(path string) string {
	return filepath.Join(s.cfg.MountRoot, s.RelPath(path))
}

// Archive copies path onto the mount if needed, then checks the appliance.
func (s *Sink) Archive(ctx context.Context, path string) (sink.Result, error) {
	if err := ctx.Err(); err != nil {
		return sink.Result{}, err
	}
	target := s.Target(path)

	link, err := fileutil.LinkTarget(path)
	if err != nil {
		return sink.Result{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	if link != "" && filepath.Clean(link) == filepath.Clean(target) {
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
		if rec.Arkivum == nil {
			rec.Arkivum = &arklog.Stage{}
		}
		result = s.archive(ctx, path, target, rec.Arkivum)
		return nil
	})
	if err != nil {
		return sink.Result{}, err
	}
	return result, nil
}

func (s *Sink) archive(ctx context.Context, path, target string, stage *arklog.Stage) sink.Result {
	copied, err := exists(target)
	if err != nil {
		return sink.Failed(target, "stat mount copy: %v", err)
	}
	replaced := false
	if copied && !stage.HasChecksums() {
		// A previous run died before recording digests, so the copy is unproven.
		kept, err := s.adopt(path, target, stage)
		if err != nil {
			return sink.Failed(target, "%v", err)
		}
		copied, replaced = kept, !kept
	}

	justCopied := false
	if !copied {
		sums, err := fileutil.CopyFileVerified(path, target)
		if err != nil {
			return sink.Failed(target, "copy to appliance: %v", err)
		}
		stage.SetChecksums(sums, target)
		now := s.now().UTC()
		stage.Copied = &now
		justCopied = true
	}
	if replaced {
		// Whatever the appliance knows describes the discarded copy.
		return sink.Pending(target, "recopied after partial copy, awaiting ingest")
	}

	remote, err := s.client.FileInfo(ctx, s.RelPath(path))
	if err != nil {
		if ctx.Err() != nil {
			return sink.Pending(target, "interrupted: %v", ctx.Err())
		}
		if justCopied || s.withinIngestDelay(stage) {
			return sink.Pending(target, "awaiting ingest: %v", err)
		}
		return sink.Failed(target, "appliance has no record of file: %v", err)
	}

	if remote.IngestState != IngestFinal {
		return sink.Pending(target, "ingest state %s", remote.IngestState)
	}
	if remote.Size != stage.Size {
		return sink.Failed(target, "archived file has different size: %d != %d", stage.Size, remote.Size)
	}
	if remote.MD5 != stage.MD5 {
		return sink.Failed(target, "archived file has different checksum")
	}

	stage.State = remote.ReplicationState
	if remote.ReplicationState != s.cfg.TargetState {
		return sink.Pending(target, "replication state %s", remote.ReplicationState)
	}

	if err := fileutil.ReplaceWithLink(path, target); err != nil {
		return sink.Failed(target, "replace original with link: %v", err)
	}
	now := s.now().UTC()
	stage.Archived = &now
	return sink.Archived(target)
}

// adopt verifies a mount copy that has no recorded digests against the
// source. A matching copy is recorded and kept; a mismatched one is removed
// and adopt reports false so the caller copies again.
func (s *Sink) adopt(path, target string, stage *arklog.Stage) (bool, error) {
	source, err := fileutil.HashFile(path)
	if err != nil {
		return false, fmt.Errorf("checksum source: %w", err)
	}
	onMount, err := fileutil.HashFile(target)
	if err != nil {
		return false, fmt.Errorf("checksum mount copy: %w", err)
	}
	if !onMount.Equal(source) {
		if err := os.Remove(target); err != nil {
			return false, fmt.Errorf("remove partial mount copy: %w", err)
		}
		stage.Copied = nil
		return false, nil
	}
	stage.SetChecksums(source, target)
	if stage.Copied == nil {
		now := s.now().UTC()
		stage.Copied = &now
	}
	return true, nil
}

func (s *Sink) withinIngestDelay(stage *arklog.Stage) bool {
	if stage.Copied == nil {
		return false
	}
	return s.now().Sub(*stage.Copied) < s.cfg.IngestDelay()
}

// Status queries the appliance without copying or linking.
func (s *Sink) Status(ctx context.Context, path string) (sink.Result, error) {
	target := s.Target(path)
	link, err := fileutil.LinkTarget(path)
	if err != nil {
		return sink.Result{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	if link != "" && filepath.Clean(link) == filepath.Clean(target) {
		return sink.Archived(target), nil
	}
	if _, err := os.Stat(target); err != nil {
		return sink.Pending(target, "not copied"), nil
	}
	remote, err := s.client.FileInfo(ctx, s.RelPath(path))
	if err != nil {
		return sink.Pending(target, "%v", err), nil
	}
	return sink.Pending(target, "ingest %s, replication %s", remote.IngestState, remote.ReplicationState), nil
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
