package register

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"archivist/internal/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// Register is the durable ledger of which job owns each repository file.
type Register struct {
	db  *sqlstore.DB
	now func() time.Time
}

// Open initializes or connects to the register database at path.
func Open(ctx context.Context, path string) (*Register, error) {
	db, err := sqlstore.Open(ctx, path, sqlstore.Schema{Name: "register", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Register{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (r *Register) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

// Canonical returns the form paths are stored under.
func Canonical(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalise %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookup(ctx context.Context, q rowQuerier, path string) (Entry, bool, error) {
	var (
		jobID      string
		claimedRaw string
		archived   sql.NullString
		status     Status
	)
	err := q.QueryRowContext(ctx, `
		SELECT job_id, claimed_at, archived_at, 'Archived' FROM archived_files WHERE path = ?
		UNION ALL
		SELECT job_id, claimed_at, NULL, 'Pending' FROM pending_files WHERE path = ?
		LIMIT 1`, path, path).Scan(&jobID, &claimedRaw, &archived, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	entry := Entry{Path: path, JobID: jobID, Status: status}
	if ts, err := sqlstore.ParseTime(claimedRaw); err == nil {
		entry.ClaimedAt = ts
	}
	if archived.Valid {
		if ts, err := sqlstore.ParseTime(archived.String); err == nil {
			entry.ArchivedAt = &ts
		}
	}
	return entry, true, nil
}

// Lookup returns the entry for path, if any.
func (r *Register) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	canonical, err := Canonical(path)
	if err != nil {
		return Entry{}, false, err
	}
	return lookup(ctx, r.db, canonical)
}

// LookupAll returns the entries of every path that has one, keyed by
// canonical path. Paths without an entry are absent from the map.
func (r *Register) LookupAll(ctx context.Context, paths []string) (map[string]Entry, error) {
	found := make(map[string]Entry, len(paths))
	if len(paths) == 0 {
		return found, nil
	}
	args := make([]any, 0, len(paths))
	for _, path := range paths {
		canonical, err := Canonical(path)
		if err != nil {
			return nil, err
		}
		args = append(args, canonical)
	}
	in := sqlstore.Placeholders(len(args))
	pending, err := r.list(ctx,
		`SELECT path, job_id, claimed_at, NULL FROM pending_files WHERE path IN (`+in+`)`, StatusPending, args...)
	if err != nil {
		return nil, err
	}
	archived, err := r.list(ctx,
		`SELECT path, job_id, claimed_at, archived_at FROM archived_files WHERE path IN (`+in+`)`, StatusArchived, args...)
	if err != nil {
		return nil, err
	}
	for _, entry := range append(pending, archived...) {
		found[entry.Path] = entry
	}
	return found, nil
}

// PutPending claims path for jobID. Claiming a path the job already owns is a
// no-op, including after it was committed. A path owned by any other job
// yields a *ClaimError matching ErrAlreadyArchiving.
func (r *Register) PutPending(ctx context.Context, path, jobID string) error {
	canonical, err := Canonical(path)
	if err != nil {
		return err
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		entry, found, err := lookup(ctx, tx, canonical)
		if err != nil {
			return err
		}
		if found {
			if entry.JobID == jobID {
				return nil
			}
			return &ClaimError{Path: canonical, Owner: entry.JobID, State: entry.Status}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_files (path, job_id, claimed_at) VALUES (?, ?, ?)`,
			canonical, jobID, sqlstore.FormatTime(r.now())); err != nil {
			return fmt.Errorf("claim %s: %w", canonical, err)
		}
		return nil
	})
}

// Commit moves path from pending to archived in one transaction. Committing a
// path the job already archived is a no-op.
func (r *Register) Commit(ctx context.Context, path, jobID string) error {
	canonical, err := Canonical(path)
	if err != nil {
		return err
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		entry, found, err := lookup(ctx, tx, canonical)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("commit %s: %w", canonical, ErrNotPending)
		}
		if entry.JobID != jobID {
			return &ClaimError{Path: canonical, Owner: entry.JobID, State: entry.Status}
		}
		if entry.Status == StatusArchived {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO archived_files (path, job_id, claimed_at, archived_at) VALUES (?, ?, ?, ?)`,
			canonical, jobID, sqlstore.FormatTime(entry.ClaimedAt), sqlstore.FormatTime(r.now())); err != nil {
			return fmt.Errorf("archive %s: %w", canonical, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_files WHERE path = ?`, canonical); err != nil {
			return fmt.Errorf("release pending %s: %w", canonical, err)
		}
		return nil
	})
}

// Release drops the pending claim jobID holds on path. Archived entries are
// never released. It reports whether a claim was removed.
func (r *Register) Release(ctx context.Context, path, jobID string) (bool, error) {
	canonical, err := Canonical(path)
	if err != nil {
		return false, err
	}
	var released bool
	err = r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM pending_files WHERE path = ? AND job_id = ?`, canonical, jobID)
		if err != nil {
			return fmt.Errorf("release %s: %w", canonical, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		released = n > 0
		return nil
	})
	return released, err
}

// Pending lists every pending entry ordered by path.
func (r *Register) Pending(ctx context.Context) ([]Entry, error) {
	return r.list(ctx, `SELECT path, job_id, claimed_at, NULL FROM pending_files ORDER BY path`, StatusPending)
}

// Archived lists every archived entry ordered by path.
func (r *Register) Archived(ctx context.Context) ([]Entry, error) {
	return r.list(ctx, `SELECT path, job_id, claimed_at, archived_at FROM archived_files ORDER BY path`, StatusArchived)
}

// ForJob lists the entries owned by jobID.
func (r *Register) ForJob(ctx context.Context, jobID string) ([]Entry, error) {
	pending, err := r.list(ctx,
		`SELECT path, job_id, claimed_at, NULL FROM pending_files WHERE job_id = ? ORDER BY path`, StatusPending, jobID)
	if err != nil {
		return nil, err
	}
	archived, err := r.list(ctx,
		`SELECT path, job_id, claimed_at, archived_at FROM archived_files WHERE job_id = ? ORDER BY path`, StatusArchived, jobID)
	if err != nil {
		return nil, err
	}
	return append(pending, archived...), nil
}

func (r *Register) list(ctx context.Context, query string, status Status, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", status, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			claimedRaw string
			archived   sql.NullString
		)
		if err := rows.Scan(&entry.Path, &entry.JobID, &claimedRaw, &archived); err != nil {
			return nil, err
		}
		entry.Status = status
		if ts, err := sqlstore.ParseTime(claimedRaw); err == nil {
			entry.ClaimedAt = ts
		}
		if archived.Valid {
			if ts, err := sqlstore.ParseTime(archived.String); err == nil {
				entry.ArchivedAt = &ts
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats returns row counts per table.
func (r *Register) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := r.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM pending_files), (SELECT COUNT(1) FROM archived_files)`,
	).Scan(&stats.Pending, &stats.Archived)
	if err != nil {
		return Stats{}, fmt.Errorf("register stats: %w", err)
	}
	return stats, nil
}

// CheckHealth returns diagnostic information about the register database.
func (r *Register) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Path: r.db.Path()}
	integrity, err := r.db.IntegrityCheck(ctx)
	if err != nil {
		return health, err
	}
	health.Integrity = integrity
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM pending_files p JOIN archived_files a ON a.path = p.path`,
	).Scan(&health.Overlap); err != nil {
		return health, fmt.Errorf("register overlap: %w", err)
	}
	stats, err := r.Stats(ctx)
	if err != nil {
		return health, err
	}
	health.Stats = stats
	return health, nil
}
