package workflow

import (
	"context"
	"errors"
	"fmt"

	"archivist/internal/catalog"
	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/register"
)

// apply executes t's effects on job in order. Effects mutate job in memory
// and touch external systems; none of them persists the record.
func (e *Engine) apply(ctx context.Context, job *jobs.Job, t Transition) error {
	for _, effect := range t.Effects {
		var err error
		switch effect {
		case EffectClaimFiles:
			err = e.claimFiles(ctx, job)
		case EffectMarkRunning:
			for _, path := range job.PathsWith(jobs.FileNew) {
				job.SetFile(path, jobs.FileRunning)
			}
		case EffectPromoteTags:
			err = e.retag(ctx, job, []catalog.Tag{catalog.TagArchivePending}, catalog.TagArchived)
		case EffectRollbackTags:
			err = e.retag(ctx, job, []catalog.Tag{catalog.TagArchivePending, catalog.TagArchiveNote}, "")
		case EffectReleaseClaims:
			err = e.releaseClaims(ctx, job)
		case EffectMarkDeclined:
			for _, path := range job.PathsWith(jobs.FileNew, jobs.FileRunning, jobs.FileError) {
				job.SetFile(path, jobs.FileDeclined)
			}
		case EffectDropDescriptors:
			e.dropDescriptors(ctx, job)
		case EffectMarkComplete:
			now := e.now()
			job.Info.Complete = &now
			job.Info.Error = ""
		case EffectNotifyOwner:
			e.notifyResult(ctx, job, t, false)
		case EffectNotifyAdmin:
			e.notifyResult(ctx, job, t, true)
		case EffectResetErrors:
			job.ResetErrors()
		default:
			err = fmt.Errorf("unknown effect %q", effect)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", effect, err)
		}
	}
	return nil
}

func (e *Engine) claimFiles(ctx context.Context, job *jobs.Job) error {
	for _, path := range job.PathsWith(jobs.FileNew, jobs.FileRunning) {
		if _, err := e.claim(ctx, job, path); err != nil {
			return err
		}
	}
	return nil
}

// claim makes sure job owns path in the register. A path owned by another job
// is marked Error in job and reported as not claimed.
func (e *Engine) claim(ctx context.Context, job *jobs.Job, path string) (bool, error) {
	err := e.register.PutPending(ctx, path, job.ID)
	if err == nil {
		return true, nil
	}
	var claimErr *register.ClaimError
	if !errors.As(err, &claimErr) {
		return false, err
	}
	job.MarkError(path, claimErr.Error())
	logging.WarnWithContext(e.jobLogger(ctx, job), "file already claimed by another job", claimErr.ErrorKind(),
		logging.String(logging.FieldPath, path),
		logging.String("owner_job", claimErr.Owner),
		logging.String(logging.FieldErrorHint, "resolve the overlap with archivist register status"),
		logging.String(logging.FieldImpact, "file marked Error in this job"),
	)
	return false, nil
}

// retag removes the tags in remove from every included item and then applies
// add when it is set. Items that vanished from the catalog are skipped.
func (e *Engine) retag(ctx context.Context, job *jobs.Job, remove []catalog.Tag, add catalog.Tag) error {
	logger := e.jobLogger(ctx, job)
	for _, item := range job.IncludedItems() {
		err := e.retagItem(ctx, item.ID, remove, add, job.Info.UserID)
		if errors.Is(err, catalog.ErrItemNotFound) {
			logging.WarnWithContext(logger, "item no longer in catalog", "item_missing",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String(logging.FieldImpact, "tags not updated for this item"),
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("item %d: %w", item.ID, err)
		}
	}
	return nil
}

func (e *Engine) retagItem(ctx context.Context, itemID int64, remove []catalog.Tag, add catalog.Tag, linkedBy int64) error {
	for _, tag := range remove {
		if err := e.catalog.RemoveTag(ctx, itemID, tag); err != nil {
			return err
		}
	}
	if add == "" {
		return nil
	}
	return e.catalog.ApplyTag(ctx, itemID, add, linkedBy)
}

// releaseClaims drops pending claims of a declined job. Files the job already
// archived keep their entry and their Archived status.
func (e *Engine) releaseClaims(ctx context.Context, job *jobs.Job) error {
	for _, path := range job.PathsWith(jobs.FileNew, jobs.FileRunning, jobs.FileError) {
		released, err := e.register.Release(ctx, path, job.ID)
		if err != nil {
			return err
		}
		if released {
			e.jobLogger(ctx, job).Info("released register claim", logging.String(logging.FieldPath, path))
		}
	}
	return nil
}

// dropDescriptors removes the archive log descriptors written at creation for
// declined files. A descriptor carrying sink stages is kept and reported.
func (e *Engine) dropDescriptors(ctx context.Context, job *jobs.Job) {
	logger := e.jobLogger(ctx, job)
	for _, path := range job.PathsWith(jobs.FileDeclined) {
		removed, err := e.arklog.RemoveIfSourceOnly(path)
		if err != nil {
			logging.WarnWithContext(logger, "archive log descriptor not removed", "descriptor_remove_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale descriptor left in the archive log"),
			)
			continue
		}
		if removed {
			continue
		}
		if _, found, _ := e.arklog.Read(path); found {
			logging.WarnWithContext(logger, "declined file appears to have been archived", "declined_file_archived",
				logging.String(logging.FieldPath, path),
				logging.Alert("declined_archived"),
				logging.String(logging.FieldErrorHint, "inspect "+e.arklog.PathFor(path)),
				logging.String(logging.FieldImpact, "descriptor kept"),
			)
		}
	}
}
