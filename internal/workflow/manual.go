package workflow

import (
	"context"
	"fmt"

	"archivist/internal/catalog"
	"archivist/internal/jobs"
	"archivist/internal/logging"
)

// Approve moves a New job to Approved. The next run claims its files.
func (e *Engine) Approve(ctx context.Context, id string) (*jobs.Job, error) {
	return e.operate(ctx, id, EventApprove)
}

// Decline moves a New job to Declined. The next run rolls its tags back.
func (e *Engine) Decline(ctx context.Context, id string) (*jobs.Job, error) {
	return e.operate(ctx, id, EventDecline)
}

// Reset moves an Error job back to Running with its Error files re-queued.
// Files already archived are untouched. It returns the re-queued paths.
func (e *Engine) Reset(ctx context.Context, id string) ([]string, error) {
	var reset []string
	_, err := e.operateWith(ctx, id, EventReset, func(job *jobs.Job) {
		reset = job.PathsWith(jobs.FileError)
	})
	return reset, err
}

func (e *Engine) operate(ctx context.Context, id string, event Event) (*jobs.Job, error) {
	return e.operateWith(ctx, id, event, nil)
}

func (e *Engine) operateWith(ctx context.Context, id string, event Event, inspect func(*jobs.Job)) (*jobs.Job, error) {
	lock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer e.release(lock)

	job, state, err := e.jobs.Read(id)
	if err != nil {
		return nil, err
	}
	t, err := Plan(state, event)
	if err != nil {
		return nil, err
	}
	if inspect != nil {
		inspect(job)
	}
	ctx = logging.WithJobID(ctx, id)
	if err := e.persist(ctx, job, t); err != nil {
		return nil, fmt.Errorf("%s job %s: %w", event, id, err)
	}
	e.jobLogger(ctx, job).Info("job moved by operator",
		logging.String("event", string(event)),
		logging.String("from", string(t.From)),
		logging.String("to", string(t.To)),
	)
	return job, nil
}

// ClearFilter selects the archive requests ClearRequests withdraws. Zero
// values match everything.
type ClearFilter struct {
	// LinkedBy limits the clear to requests made by one user.
	LinkedBy int64
	// Items limits the clear to the listed item ids.
	Items []int64
}

func (f ClearFilter) matches(link catalog.TagLink) bool {
	if f.LinkedBy != 0 && link.LinkedBy != f.LinkedBy {
		return false
	}
	if len(f.Items) == 0 {
		return true
	}
	for _, id := range f.Items {
		if id == link.ItemID {
			return true
		}
	}
	return false
}

// ClearRequests withdraws TO-ARCHIVE requests that no job has captured yet.
// The archive note goes with the request unless the item is already
// archiving. It returns the cleared item ids.
func (e *Engine) ClearRequests(ctx context.Context, filter ClearFilter) ([]int64, error) {
	lock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer e.release(lock)

	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot: %w", err)
	}
	var cleared []int64
	for _, id := range snap.Tagged(catalog.TagToArchive) {
		link, _ := snap.TagLink(id, catalog.TagToArchive)
		if !filter.matches(link) {
			continue
		}
		if err := e.catalog.RemoveTag(ctx, id, catalog.TagToArchive); err != nil {
			return cleared, err
		}
		if !snap.HasTag(id, catalog.TagArchivePending) && !snap.HasTag(id, catalog.TagArchived) {
			if err := e.catalog.RemoveTag(ctx, id, catalog.TagArchiveNote); err != nil {
				return cleared, err
			}
		}
		cleared = append(cleared, id)
	}
	logging.WithContext(ctx, e.logger).Info("archive requests cleared",
		logging.Int("items", len(cleared)),
		logging.Int64("linked_by", filter.LinkedBy),
	)
	return cleared, nil
}
