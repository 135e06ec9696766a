package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/notifications"
	"archivist/internal/register"
	"archivist/internal/resolver"
	"archivist/internal/sink"
)

// ErrRunIncomplete is returned when a run finished but some jobs could not be
// advanced. Those jobs are retried by the next run.
var ErrRunIncomplete = errors.New("run incomplete")

// RunReport describes what one run changed.
type RunReport struct {
	RunID     string
	Reconcile jobs.ReconcileReport
	// Committed lists paths whose archive was confirmed by crash recovery.
	Committed []string
	// Reopened lists jobs moved back to Running by crash recovery.
	Reopened []string
	Declined []string
	Started  []string
	Finished []string
	Failed   []string
	// Waiting lists Running jobs with files still in flight.
	Waiting  []string
	Created  []string
	Skipped  []resolver.Failure
	Reminded int
	Alerts   []string
	Errors   []error
}

type scanFunc func(context.Context, *RunReport, *jobs.Job) error

// Run performs one scheduled pass over the job tree. It returns a
// *runlock.ContentionError without touching anything when another run holds
// the lock.
func (e *Engine) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, e.logger)

	lock, err := e.lock()
	if err != nil {
		return report, err
	}
	defer e.release(lock)

	started := time.Now()
	logger.Info("run started", logging.String("sink", e.sink.Name()))

	rec, err := e.jobs.Reconcile()
	report.Reconcile = rec
	if err != nil {
		return report, fmt.Errorf("reconcile job tree: %w", err)
	}
	e.logReconcile(ctx, &report)

	if err := e.recover(ctx, &report); err != nil {
		return report, fmt.Errorf("register cross-check: %w", err)
	}

	steps := []struct {
		state jobs.State
		fn    scanFunc
	}{
		{jobs.StateDeclined, e.scanDeclined},
		{jobs.StateApproved, e.scanApproved},
		{jobs.StateRunning, e.scanRunning},
	}
	for _, step := range steps {
		if err := e.scan(ctx, &report, step.state, step.fn); err != nil {
			return report, err
		}
	}

	if err := e.createJobs(ctx, &report); err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		logging.ErrorWithContext(logger, "job creation failed", "create_jobs_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the catalog database"),
		)
		report.Errors = append(report.Errors, fmt.Errorf("create jobs: %w", err))
	}
	e.remind(ctx, &report)

	logger.Info("run finished",
		logging.Int("declined", len(report.Declined)),
		logging.Int("started", len(report.Started)),
		logging.Int("finished", len(report.Finished)),
		logging.Int("failed", len(report.Failed)),
		logging.Int("waiting", len(report.Waiting)),
		logging.Int("created", len(report.Created)),
		logging.Duration("elapsed", time.Since(started)),
	)
	if len(report.Errors) > 0 {
		return report, fmt.Errorf("%w: %w", ErrRunIncomplete, errors.Join(report.Errors...))
	}
	return report, nil
}

func (e *Engine) logReconcile(ctx context.Context, report *RunReport) {
	logger := logging.WithContext(ctx, e.logger)
	rec := report.Reconcile
	for _, path := range rec.TempRemoved {
		logger.Info("removed interrupted write", logging.String("file", path))
	}
	for _, fix := range rec.Fixes {
		logger.Info("reconciled job record",
			logging.String(logging.FieldJobID, fix.ID),
			logging.String("from", string(fix.From)),
			logging.String("to", string(fix.To)),
			logging.String("action", fix.Action),
		)
	}
	for _, corrupt := range rec.Corrupt {
		logging.WarnWithContext(logger, "job record unreadable", corrupt.ErrorKind(),
			logging.String(logging.FieldJobID, corrupt.ID),
			logging.String(logging.FieldState, string(corrupt.State)),
			logging.Error(corrupt.Err),
			logging.String(logging.FieldImpact, "record moved to Error"),
		)
		e.alert(ctx, report, "Corrupt job record",
			fmt.Sprintf("job %s found in %s could not be read and was moved to Error: %v", corrupt.ID, corrupt.State, corrupt.Err))
	}
}

// scan visits every job in state. A job that cannot be advanced is recorded
// in the report and the scan moves on.
func (e *Engine) scan(ctx context.Context, report *RunReport, state jobs.State, fn scanFunc) error {
	ids, err := e.jobs.List(state)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("scanning jobs", logging.String(logging.FieldState, string(state)), logging.Int("count", len(ids)))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := e.jobs.ReadAt(state, id)
		var corrupt *jobs.CorruptRecordError
		switch {
		case errors.As(err, &corrupt):
			if moveErr := e.jobs.Move(id, state, jobs.StateError); moveErr != nil {
				report.Errors = append(report.Errors, moveErr)
				continue
			}
			report.Reconcile.Corrupt = append(report.Reconcile.Corrupt, corrupt)
			logging.WarnWithContext(logger, "job record unreadable", corrupt.ErrorKind(),
				logging.String(logging.FieldJobID, id),
				logging.String(logging.FieldState, string(state)),
				logging.Error(corrupt.Err),
				logging.String(logging.FieldImpact, "record moved to Error"),
			)
			e.alert(ctx, report, "Corrupt job record",
				fmt.Sprintf("job %s found in %s could not be read and was moved to Error: %v", id, state, corrupt.Err))
			continue
		case errors.Is(err, jobs.ErrJobNotFound):
			continue
		case err != nil:
			report.Errors = append(report.Errors, err)
			continue
		}

		jobCtx := logging.WithJobID(ctx, id)
		if err := fn(jobCtx, report, job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.ErrorWithContext(e.jobLogger(ctx, job), "job not advanced", "job_step_failed",
				logging.String(logging.FieldState, string(state)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the job is retried by the next run"),
			)
			report.Errors = append(report.Errors, fmt.Errorf("job %s: %w", id, err))
		}
	}
	return nil
}

func (e *Engine) scanDeclined(ctx context.Context, report *RunReport, job *jobs.Job) error {
	t, err := Plan(jobs.StateDeclined, EventScan)
	if err != nil {
		return err
	}
	if err := e.persist(ctx, job, t); err != nil {
		return err
	}
	report.Declined = append(report.Declined, job.ID)
	e.jobLogger(ctx, job).Info("declined job finished", logging.Int("files", len(job.Files)))
	return nil
}

func (e *Engine) scanApproved(ctx context.Context, report *RunReport, job *jobs.Job) error {
	t, err := Plan(jobs.StateApproved, EventScan)
	if err != nil {
		return err
	}
	if err := e.persist(ctx, job, t); err != nil {
		return err
	}
	report.Started = append(report.Started, job.ID)
	counts := job.Counts()
	e.jobLogger(ctx, job).Info("approved job started",
		logging.Int("running", counts[jobs.FileRunning]),
		logging.Int("rejected", counts[jobs.FileError]),
	)
	return nil
}

// scanRunning offers every unsettled file to the sink and then derives the
// job's state from the file statuses.
func (e *Engine) scanRunning(ctx context.Context, report *RunReport, job *jobs.Job) error {
	budget := e.cfg.RetryBudget()
	for _, path := range job.PathsWith(jobs.FileNew, jobs.FileRunning) {
		if err := e.archiveFile(ctx, job, path, budget); err != nil {
			if saveErr := e.jobs.Save(job, jobs.StateRunning); saveErr != nil {
				return errors.Join(err, saveErr)
			}
			return err
		}
	}

	logger := e.jobLogger(ctx, job)
	switch job.Outcome() {
	case jobs.StateFinished:
		t, err := Plan(jobs.StateRunning, EventConfirmed)
		if err != nil {
			return err
		}
		if err := e.persist(ctx, job, t); err != nil {
			return err
		}
		report.Finished = append(report.Finished, job.ID)
		logger.Info("job finished", logging.Int("files", len(job.Files)))
	case jobs.StateError:
		job.Info.Error = errorSummary(job)
		t, err := Plan(jobs.StateRunning, EventFailed)
		if err != nil {
			return err
		}
		if err := e.persist(ctx, job, t); err != nil {
			return err
		}
		report.Failed = append(report.Failed, job.ID)
		logging.WarnWithContext(logger, "job moved to Error", "job_failed",
			logging.String("reason", job.Info.Error),
			logging.String(logging.FieldErrorHint, "fix the cause, then run archivist reset "+job.ID),
			logging.String(logging.FieldImpact, "job waits for an operator"),
		)
	default:
		if err := e.jobs.Save(job, jobs.StateRunning); err != nil {
			return err
		}
		report.Waiting = append(report.Waiting, job.ID)
		counts := job.Counts()
		logger.Info("job still running",
			logging.Int("archived", counts[jobs.FileArchived]),
			logging.Int("running", counts[jobs.FileRunning]),
		)
	}
	return nil
}

// archiveFile advances one file of a Running job. Only register and
// cancellation faults are returned; sink failures count against the
// file's retry budget.
func (e *Engine) archiveFile(ctx context.Context, job *jobs.Job, path string, budget int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := e.jobLogger(ctx, job).With(logging.String(logging.FieldPath, path))

	entry, found, err := e.register.Lookup(ctx, path)
	if err != nil {
		return err
	}
	switch {
	case found && entry.JobID != job.ID:
		job.MarkError(path, fmt.Sprintf("%s under job %s", entry.Status, entry.JobID))
		logging.WarnWithContext(logger, "file owned by another job", "duplicate_claim",
			logging.String("owner_job", entry.JobID),
			logging.String(logging.FieldImpact, "file marked Error in this job"),
		)
		return nil
	case found && entry.Status == register.StatusArchived:
		job.MarkArchived(path)
		return nil
	case !found:
		claimed, err := e.claim(ctx, job, path)
		if err != nil || !claimed {
			return err
		}
	}
	job.SetFile(path, jobs.FileRunning)

	result, err := e.sink.Archive(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result = sink.Failed("", "%v", err)
	}
	switch result.Status {
	case sink.StatusArchived:
		if err := e.register.Commit(ctx, path, job.ID); err != nil {
			return fmt.Errorf("commit %s: %w", path, err)
		}
		job.MarkArchived(path)
		logger.Info("file archived", logging.String("target", result.Target))
	case sink.StatusPending:
		logger.Info("file awaiting archive confirmation", logging.String("detail", result.Detail))
	default:
		if job.RecordFailure(path, result.Detail, budget) {
			logging.WarnWithContext(logger, "file failed past retry budget", "archive_failed",
				logging.String("detail", result.Detail),
				logging.Int("attempts", job.Attempts[path]),
				logging.String(logging.FieldImpact, "file marked Error"),
			)
			return nil
		}
		logging.WarnWithContext(logger, "archive attempt failed", "archive_attempt_failed",
			logging.String("detail", result.Detail),
			logging.Int("attempts", job.Attempts[path]),
			logging.String(logging.FieldImpact, "file retried by the next run"),
		)
	}
	return nil
}

func errorSummary(job *jobs.Job) string {
	failed := job.PathsWith(jobs.FileError)
	if len(failed) == 0 {
		return "job files did not settle on a single outcome"
	}
	first := failed[0]
	reason := job.Reasons[first]
	if reason == "" {
		reason = "failed"
	}
	return fmt.Sprintf("%d of %d files in Error; %s: %s", len(failed), len(job.Files), first, reason)
}

// remind tells administrators which jobs await review.
func (e *Engine) remind(ctx context.Context, report *RunReport) {
	ids, err := e.jobs.List(jobs.StateNew)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return
	}
	now := e.now()
	entries := make([]notifications.ReviewEntry, 0, len(ids))
	for _, id := range ids {
		job, err := e.jobs.ReadAt(jobs.StateNew, id)
		if err != nil {
			continue
		}
		entries = append(entries, notifications.ReviewEntry{
			ID:      job.ID,
			User:    job.Info.UserName,
			Owner:   job.Info.OwnerName,
			Size:    job.Info.TotalSize,
			Files:   len(job.Files),
			Created: job.Info.Created,
			Overdue: job.Overdue(now),
		})
	}
	msg, ok := notifications.AwaitingReview(entries, e.cfg.Notifications.AdminEmails)
	if !ok {
		return
	}
	report.Reminded = len(entries)
	e.send(ctx, msg, "awaiting_review")
	overdue := 0
	for _, entry := range entries {
		if entry.Overdue {
			overdue++
		}
	}
	logging.WithContext(ctx, e.logger).Info("jobs awaiting review",
		logging.Int("count", len(entries)),
		logging.Int("overdue", overdue),
		logging.String("jobs", strings.Join(ids, ",")),
	)
}
