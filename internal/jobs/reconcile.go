package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"archivist/internal/fileutil"
)

// Fix records one repair applied by Reconcile.
type Fix struct {
	ID     string
	From   State
	To     State
	Action string
}

// ReconcileReport summarises a reconcile pass.
type ReconcileReport struct {
	TempRemoved []string
	Fixes       []Fix
	// Corrupt lists unreadable records that were moved into Error.
	Corrupt []*CorruptRecordError
}

// Changed reports whether the pass modified the tree.
func (r ReconcileReport) Changed() bool {
	return len(r.TempRemoved) > 0 || len(r.Fixes) > 0 || len(r.Corrupt) > 0
}

const (
	actionCompleteMove = "complete-move"
	actionRelabel      = "relabel"
	actionReset        = "reset"
)

// Reconcile brings every record's location and status into agreement.
//
// A (location, status) pair matching a scan transition means the rename was
// interrupted and is completed. Every other disagreement is resolved in favour
// of the location, since operators signal decisions by moving records. A
// record found in Running with status Error was moved there by hand to retry
// it, so its Error files are re-queued. Unreadable records are moved into
// Error untouched.
func (s *Store) Reconcile() (ReconcileReport, error) {
	var report ReconcileReport
	for _, state := range allStates {
		removed, err := s.removeTemps(state)
		if err != nil {
			return report, err
		}
		report.TempRemoved = append(report.TempRemoved, removed...)
	}

	for _, state := range allStates {
		ids, err := s.List(state)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			job, err := s.ReadAt(state, id)
			if err != nil {
				var corrupt *CorruptRecordError
				if !errors.As(err, &corrupt) {
					return report, err
				}
				if state == StateError {
					continue
				}
				if err := s.Move(id, state, StateError); err != nil {
					return report, err
				}
				report.Corrupt = append(report.Corrupt, corrupt)
				continue
			}
			fix, err := s.reconcileOne(job, state)
			if err != nil {
				return report, err
			}
			if fix != nil {
				report.Fixes = append(report.Fixes, *fix)
			}
		}
	}
	return report, nil
}

func (s *Store) reconcileOne(job *Job, location State) (*Fix, error) {
	status := job.Info.Status
	if status == location {
		return nil, nil
	}
	if isEngineEdge(location, status) {
		if err := s.Move(job.ID, location, status); err != nil {
			return nil, err
		}
		return &Fix{ID: job.ID, From: location, To: status, Action: actionCompleteMove}, nil
	}

	fix := &Fix{ID: job.ID, From: status, To: location, Action: actionRelabel}
	if location == StateRunning && status == StateError {
		job.ResetErrors()
		fix.Action = actionReset
	}
	job.Info.Status = location
	if err := s.Save(job, location); err != nil {
		return nil, fmt.Errorf("relabel job %s: %w", job.ID, err)
	}
	return fix, nil
}

func (s *Store) removeTemps(state State) ([]string, error) {
	dir := s.Dir(state)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s for temporary files: %w", state, err)
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, ".") || !strings.Contains(name, fileutil.TempMarker) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove temporary file %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
