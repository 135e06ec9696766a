package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"archivist/internal/arklog"
	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/notifications"
	"archivist/internal/register"
	"archivist/internal/runlock"
	"archivist/internal/sink"
)

// Register is the subset of the archive register the engine drives.
type Register interface {
	Lookup(ctx context.Context, path string) (register.Entry, bool, error)
	PutPending(ctx context.Context, path, jobID string) error
	Commit(ctx context.Context, path, jobID string) error
	Release(ctx context.Context, path, jobID string) (bool, error)
	Pending(ctx context.Context) ([]register.Entry, error)
}

var _ Register = (*register.Register)(nil)

// Deps are the collaborators an Engine operates on.
type Deps struct {
	Jobs     *jobs.Store
	Register Register
	Catalog  catalog.Catalog
	Sink     sink.Sink
	Notifier notifications.Notifier
	Arklog   *arklog.Log
}

// Engine applies the job workflow. It is not safe for concurrent use; Run
// and the manual operations serialise across processes with the run lock.
type Engine struct {
	cfg      *config.Config
	jobs     *jobs.Store
	register Register
	catalog  catalog.Catalog
	sink     sink.Sink
	notifier notifications.Notifier
	arklog   *arklog.Log
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New validates deps and returns an Engine. A nil notifier falls back to the
// transport configured in cfg.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("workflow: job store is required")
	case deps.Register == nil:
		return nil, errors.New("workflow: register is required")
	case deps.Catalog == nil:
		return nil, errors.New("workflow: catalog is required")
	case deps.Sink == nil:
		return nil, errors.New("workflow: archive sink is required")
	case deps.Arklog == nil:
		return nil, errors.New("workflow: archive log is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	e := &Engine{
		cfg:      cfg,
		jobs:     deps.Jobs,
		register: deps.Register,
		catalog:  deps.Catalog,
		sink:     deps.Sink,
		notifier: deps.Notifier,
		arklog:   deps.Arklog,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// lock takes the run lock guarding the job tree.
func (e *Engine) lock() (*runlock.Lock, error) {
	return runlock.Acquire(e.jobs.Root())
}

func (e *Engine) release(lock *runlock.Lock) {
	if err := lock.Release(); err != nil {
		e.logger.Warn("run lock release failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+lock.Path()+" if no run is active"),
		)
	}
}

func (e *Engine) jobLogger(ctx context.Context, job *jobs.Job) *slog.Logger {
	return logging.WithContext(logging.WithJobID(ctx, job.ID), e.logger)
}

// persist applies t's effects to job and then records the transition. Engine
// edges write the status before renaming; every other edge renames first.
func (e *Engine) persist(ctx context.Context, job *jobs.Job, t Transition) error {
	if err := e.apply(ctx, job, t); err != nil {
		return err
	}
	switch {
	case t.To == jobs.StateError:
		return e.jobs.Fail(job, t.From, job.Info.Error)
	case t.Event == EventScan || t.Event == EventConfirmed:
		return e.jobs.Transition(job, t.From, t.To)
	default:
		if err := e.jobs.Move(job.ID, t.From, t.To); err != nil {
			return err
		}
		job.Info.Status = t.To
		if err := e.jobs.Save(job, t.To); err != nil {
			return fmt.Errorf("record %s status: %w", t.To, err)
		}
		return nil
	}
}
