package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"archivist/internal/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Store is a SQLite mirror of the upstream catalog. It implements Catalog.
type Store struct {
	db *sqlstore.DB
}

var _ Catalog = (*Store)(nil)

// Open initializes or connects to the catalog database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlstore.Open(ctx, path, sqlstore.Schema{Name: "catalog", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot loads the whole graph in one read transaction.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	loaders := []struct {
		name  string
		query string
		scan  func(*sql.Rows) error
	}{
		{"users", `SELECT id, name, email FROM users`, func(rows *sql.Rows) error {
			var u User
			if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
				return err
			}
			snap.Users[u.ID] = u
			return nil
		}},
		{"groups", `SELECT id, name FROM user_groups`, func(rows *sql.Rows) error {
			var g Group
			if err := rows.Scan(&g.ID, &g.Name); err != nil {
				return err
			}
			snap.Groups[g.ID] = g
			return nil
		}},
		{"group members", `SELECT group_id, user_id FROM group_members ORDER BY group_id, user_id`, func(rows *sql.Rows) error {
			var groupID, userID int64
			if err := rows.Scan(&groupID, &userID); err != nil {
				return err
			}
			g := snap.Groups[groupID]
			g.ID = groupID
			g.Members = append(g.Members, userID)
			snap.Groups[groupID] = g
			return nil
		}},
		{"items", `SELECT id, name, project, dataset, owner_id, group_id, fileset_id FROM items`, func(rows *sql.Rows) error {
			var it Item
			if err := rows.Scan(&it.ID, &it.Name, &it.Project, &it.Dataset, &it.OwnerID, &it.GroupID, &it.FilesetID); err != nil {
				return err
			}
			snap.Items[it.ID] = it
			return nil
		}},
		{"fileset files", `SELECT fileset_id, path FROM fileset_files ORDER BY fileset_id, path`, func(rows *sql.Rows) error {
			var id int64
			var path string
			if err := rows.Scan(&id, &path); err != nil {
				return err
			}
			snap.FilesetFiles[id] = append(snap.FilesetFiles[id], path)
			return nil
		}},
		{"item files", `SELECT item_id, path, kind FROM item_files ORDER BY item_id, path`, func(rows *sql.Rows) error {
			var id int64
			var ref FileRef
			if err := rows.Scan(&id, &ref.Path, &ref.Kind); err != nil {
				return err
			}
			snap.ItemFiles[id] = append(snap.ItemFiles[id], ref)
			return nil
		}},
		{"tags", `SELECT item_id, tag, linked_by FROM item_tags ORDER BY item_id, tag`, func(rows *sql.Rows) error {
			var link TagLink
			if err := rows.Scan(&link.ItemID, &link.Tag, &link.LinkedBy); err != nil {
				return err
			}
			snap.Tags[link.ItemID] = append(snap.Tags[link.ItemID], link)
			return nil
		}},
		{"notes", `SELECT item_id, key, value FROM item_notes`, func(rows *sql.Rows) error {
			var id int64
			var key, value string
			if err := rows.Scan(&id, &key, &value); err != nil {
				return err
			}
			if snap.Notes[id] == nil {
				snap.Notes[id] = make(map[string]string)
			}
			snap.Notes[id][key] = value
			return nil
		}},
	}
	for _, loader := range loaders {
		if err := scanAll(ctx, tx, loader.query, loader.scan); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", loader.name, err)
		}
	}
	return snap, nil
}

func scanAll(ctx context.Context, tx *sql.Tx, query string, scan func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) itemExists(ctx context.Context, tx *sql.Tx, itemID int64) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM items WHERE id = ?`, itemID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	return nil
}

// ApplyTag links tag to item. Re-applying keeps the original linker.
func (s *Store) ApplyTag(ctx context.Context, itemID int64, tag Tag, linkedBy int64) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.itemExists(ctx, tx, itemID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO item_tags (item_id, tag, linked_by) VALUES (?, ?, ?)
			 ON CONFLICT (item_id, tag) DO NOTHING`, itemID, string(tag), linkedBy)
		if err != nil {
			return fmt.Errorf("apply %s to %d: %w", tag, itemID, err)
		}
		return nil
	})
}

// RemoveTag unlinks tag from item. Removing the archive note also drops the
// note's key/value pairs.
func (s *Store) RemoveTag(ctx context.Context, itemID int64, tag Tag) error {
	if tag != TagArchiveNote {
		if err := s.db.Exec(ctx, `DELETE FROM item_tags WHERE item_id = ? AND tag = ?`, itemID, string(tag)); err != nil {
			return fmt.Errorf("remove %s from %d: %w", tag, itemID, err)
		}
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ? AND tag = ?`, itemID, string(tag)); err != nil {
			return fmt.Errorf("remove %s from %d: %w", tag, itemID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM item_notes WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("remove notes from %d: %w", itemID, err)
		}
		return nil
	})
}

// QueryTags lists the tags on item in name order.
func (s *Store) QueryTags(ctx context.Context, itemID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM item_tags WHERE item_id = ? ORDER BY tag`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query tags of %d: %w", itemID, err)
	}
	defer rows.Close()
	var tags []Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
