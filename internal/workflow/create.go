package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"archivist/internal/arklog"
	"archivist/internal/catalog"
	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/register"
	"archivist/internal/resolver"
)

// pyramidSuffix marks the tiled copy some pixel files are converted into.
const pyramidSuffix = "_pyramid"

// Note keys that describe the tag itself rather than the request.
var reservedNoteKeys = map[string]struct{}{
	"Owner":    {},
	"Owner id": {},
}

// jobKey groups closures into one job per requester, item owner and group.
type jobKey struct {
	user  int64
	owner int64
	group int64
}

// createJobs turns items tagged TO-ARCHIVE into New jobs.
func (e *Engine) createJobs(ctx context.Context, report *RunReport) error {
	snap, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("catalog snapshot: %w", err)
	}
	requests := resolver.Requests(snap, catalog.TagToArchive)
	if len(requests) == 0 {
		return nil
	}
	logger := logging.WithContext(ctx, e.logger)

	closures, failures := resolver.New(snap).ResolveAll(requests)
	for _, failure := range failures {
		report.Skipped = append(report.Skipped, failure)
		logging.WarnWithContext(logger, "archive request skipped", "request_unresolved",
			logging.Int64(logging.FieldItemID, failure.Request.ItemID),
			logging.Int64("requested_by", failure.Request.RequestedBy),
			logging.Error(failure.Err),
			logging.String(logging.FieldImpact, "item stays tagged TO-ARCHIVE"),
		)
	}

	captured, err := e.capturedItems()
	if err != nil {
		return err
	}

	groups := make(map[jobKey][]resolver.Closure)
	var order []jobKey
	for _, closure := range closures {
		first := snap.Items[closure.Items[0]]
		key := jobKey{user: closure.Requests[0].RequestedBy, owner: first.OwnerID, group: first.GroupID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], closure)
	}
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.createJob(ctx, report, snap, key, groups[key], captured); err != nil {
			return err
		}
	}
	return nil
}

// capturedItems maps items already owned by a job awaiting review or start
// to that job. A crash between writing a record and tagging its items would
// otherwise produce a second job for the same request.
func (e *Engine) capturedItems() (map[int64]string, error) {
	captured := make(map[int64]string)
	for _, state := range []jobs.State{jobs.StateNew, jobs.StateApproved} {
		ids, err := e.jobs.List(state)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, err := e.jobs.ReadAt(state, id)
			if err != nil {
				continue
			}
			for _, item := range job.IncludedItems() {
				captured[item.ID] = id
			}
		}
	}
	return captured, nil
}

func (e *Engine) createJob(ctx context.Context, report *RunReport, snap *catalog.Snapshot, key jobKey, closures []resolver.Closure, captured map[int64]string) error {
	user := snap.Users[key.user]
	owner := snap.Users[key.owner]
	now := e.now()

	job := jobs.NewJob(jobs.Info{
		UserID:    user.ID,
		UserName:  user.Name,
		GroupID:   key.group,
		GroupName: snap.Groups[key.group].Name,
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
		Email:     user.Email,
		Created:   now,
		Expiry:    now.Add(e.cfg.ReviewExpiry()),
	})
	job.ID = e.jobs.NextID()
	logger := e.jobLogger(ctx, job)

	// itemOf attributes each path to the lowest item id linking it.
	itemOf := make(map[string]int64)
	var retag, pend []int64
	included := 0
	for _, closure := range closures {
		for _, id := range closure.Items {
			item := snap.Items[id]
			retag = append(retag, id)
			_, held := captured[id]
			isIncluded := !held &&
				!snap.HasTag(id, catalog.TagArchivePending) &&
				!snap.HasTag(id, catalog.TagArchived)
			job.Items = append(job.Items, jobs.ItemRef{ID: id, Key: item.Key(), Included: isIncluded})
			if isIncluded || held {
				pend = append(pend, id)
			}
			if isIncluded {
				included++
				copyNotes(job, snap.Notes[id])
			}
			for _, ref := range snap.FilesOf(id) {
				if _, ok := itemOf[ref.Path]; !ok {
					itemOf[ref.Path] = id
				}
			}
		}
	}
	sort.Slice(job.Items, func(i, j int) bool { return job.Items[i].ID < job.Items[j].ID })

	if included == 0 {
		logger.Info("requested items already archiving", logging.Int("items", len(job.Items)))
		return e.finishRequestTags(ctx, key, pend, retag)
	}

	var total int64
	for _, closure := range closures {
		for _, ref := range closure.Files {
			size, err := e.addFile(ctx, job, snap, ref, itemOf[ref.Path], key.user)
			if err != nil {
				return err
			}
			total += size
		}
	}
	job.Info.TotalBytes = total
	job.Info.TotalSize = humanize.IBytes(uint64(total))
	job.Info.Description = fmt.Sprintf("%d item(s) requested by %s", included, user.Name)

	if _, err := e.jobs.Create(job); err != nil {
		return err
	}
	if err := e.finishRequestTags(ctx, key, pend, retag); err != nil {
		return fmt.Errorf("tag job %s: %w", job.ID, err)
	}
	report.Created = append(report.Created, job.ID)
	counts := job.Counts()
	logger.Info("job created",
		logging.String("user", user.Name),
		logging.String("owner", owner.Name),
		logging.Int("items", len(job.Items)),
		logging.Int("files", len(job.Files)),
		logging.Int("ignored", counts[jobs.FileIgnored]),
		logging.Int("errors", counts[jobs.FileError]),
		logging.String("size", job.Info.TotalSize),
	)
	return nil
}

// finishRequestTags marks pend ArchivePending and drops the request tag from
// every resolved item unless configured to keep it.
func (e *Engine) finishRequestTags(ctx context.Context, key jobKey, pend, resolved []int64) error {
	for _, id := range pend {
		if err := e.catalog.ApplyTag(ctx, id, catalog.TagArchivePending, key.user); err != nil && !errors.Is(err, catalog.ErrItemNotFound) {
			return err
		}
	}
	if e.cfg.Workflow.KeepToArchiveTag {
		return nil
	}
	for _, id := range resolved {
		if err := e.catalog.RemoveTag(ctx, id, catalog.TagToArchive); err != nil {
			return err
		}
	}
	return nil
}

// addFile records ref in job and returns the bytes it contributes. Symbolic
// links are Ignored, missing files are Error unless configured to skip them,
// and files another job owns are Error.
func (e *Engine) addFile(ctx context.Context, job *jobs.Job, snap *catalog.Snapshot, ref catalog.FileRef, itemID int64, linkedBy int64) (int64, error) {
	logger := e.jobLogger(ctx, job)
	item := snap.Items[itemID]

	path, err := register.Canonical(ref.Path)
	if err != nil {
		return 0, err
	}
	if ref.Kind == catalog.KindPixels {
		if _, err := os.Stat(path + pyramidSuffix); err == nil {
			path += pyramidSuffix
		} else if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) && item.FilesetID != 0 {
			// Fileset items only carry a pixel file when it was converted.
			return 0, nil
		}
	}
	if _, seen := job.Files[path]; seen {
		return 0, nil
	}

	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if e.cfg.Workflow.IgnoreMissing {
			logging.WarnWithContext(logger, "skipping missing file", "file_missing",
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldImpact, "file left out of the job"),
			)
			return 0, nil
		}
		job.MarkError(path, "file does not exist")
		logging.WarnWithContext(logger, "file does not exist", "file_missing",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldErrorHint, "set workflow.ignore_missing to skip missing files"),
			logging.String(logging.FieldImpact, "file marked Error"),
		)
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("stat %s: %w", path, err)
	case info.Mode()&fs.ModeSymlink != 0:
		job.SetFile(path, jobs.FileIgnored)
		logger.Info("skipping symlink", logging.String(logging.FieldPath, path))
		return 0, nil
	case !info.Mode().IsRegular():
		job.MarkError(path, "not a regular file")
		return 0, nil
	}

	entry, found, err := e.register.Lookup(ctx, path)
	if err != nil {
		return 0, err
	}
	if found && entry.JobID != job.ID {
		job.MarkError(path, fmt.Sprintf("%s under job %s", entry.Status, entry.JobID))
		logging.WarnWithContext(logger, "file already claimed by another job", "duplicate_claim",
			logging.String(logging.FieldPath, path),
			logging.String("owner_job", entry.JobID),
			logging.String(logging.FieldImpact, "file marked Error"),
		)
		return 0, nil
	}

	job.SetFile(path, jobs.FileNew)
	src := arklog.Source{
		ItemID:    itemID,
		ItemKey:   item.Key(),
		OwnerID:   item.OwnerID,
		OwnerName: snap.Users[item.OwnerID].Name,
		LinkedBy:  linkedBy,
		JobID:     job.ID,
		Path:      path,
		Bytes:     info.Size(),
		Size:      humanize.IBytes(uint64(info.Size())),
		Modified:  info.ModTime().UTC(),
	}
	if err := e.arklog.WriteSource(path, src); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func copyNotes(job *jobs.Job, notes map[string]string) {
	for key, value := range notes {
		if _, reserved := reservedNoteKeys[key]; reserved {
			continue
		}
		if job.Info.Notes == nil {
			job.Info.Notes = make(map[string]string)
		}
		job.Info.Notes[key] = value
	}
}
