package workflow

import (
	"context"
	"errors"
	"fmt"

	"archivist/internal/jobs"
	"archivist/internal/logging"
)

// recover cross-checks pending register claims against the job tree.
//
// Claims of jobs in Approved, Running or Error are in flight or waiting for an
// operator and are left alone, as are claims of Declined jobs which the
// decline scan releases. A Finished job whose file is Archived had its commit
// interrupted, so the commit is completed. Any other claim belongs to a job
// that stopped short of confirming the file; the file is set back to Running
// and the job reopened so the next scan confirms it with the sink. Claims of
// a job that no longer exists are reported and kept.
func (e *Engine) recover(ctx context.Context, report *RunReport) error {
	entries, err := e.register.Pending(ctx)
	if err != nil {
		return err
	}
	byJob := make(map[string][]string)
	var order []string
	for _, entry := range entries {
		if _, ok := byJob[entry.JobID]; !ok {
			order = append(order, entry.JobID)
		}
		byJob[entry.JobID] = append(byJob[entry.JobID], entry.Path)
	}

	for _, id := range order {
		paths := byJob[id]
		state, err := e.jobs.Locate(id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			e.alert(ctx, report, "Orphaned register claim",
				fmt.Sprintf("%d pending path(s) reference missing job %s, first %s", len(paths), id, paths[0]))
			continue
		}
		if err != nil {
			return err
		}
		switch state {
		case jobs.StateApproved, jobs.StateRunning, jobs.StateError, jobs.StateDeclined:
			continue
		}
		if err := e.recoverJob(ctx, report, id, state, paths); err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) recoverJob(ctx context.Context, report *RunReport, id string, state jobs.State, paths []string) error {
	job, err := e.jobs.ReadAt(state, id)
	if err != nil {
		return err
	}
	logger := e.jobLogger(ctx, job)
	reopen := false
	for _, path := range paths {
		status, ok := job.Files[path]
		if !ok {
			e.alert(ctx, report, "Register claim outside job",
				fmt.Sprintf("%s is pending under job %s but not listed in it", path, id))
			continue
		}
		if state == jobs.StateFinished && status == jobs.FileArchived {
			if err := e.register.Commit(ctx, path, id); err != nil {
				return err
			}
			report.Committed = append(report.Committed, path)
			logger.Info("completed interrupted commit", logging.String(logging.FieldPath, path))
			continue
		}
		job.SetFile(path, jobs.FileRunning)
		reopen = true
	}
	if !reopen {
		return nil
	}

	// Status first so an interrupted reopen is retried by the next cross-check.
	job.Info.Status = jobs.StateRunning
	job.Info.Complete = nil
	if err := e.jobs.Save(job, state); err != nil {
		return err
	}
	if err := e.jobs.Move(id, state, jobs.StateRunning); err != nil {
		return err
	}
	report.Reopened = append(report.Reopened, id)
	logging.WarnWithContext(logger, "reopened job with unconfirmed register claims", "job_reopened",
		logging.String("from", string(state)),
		logging.String(logging.FieldImpact, "files are confirmed again by the Running scan"),
	)
	return nil
}
