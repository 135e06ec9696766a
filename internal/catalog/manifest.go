package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the TOML interchange form used to load a catalog export.
type Manifest struct {
	Users []struct {
		ID    int64  `toml:"id"`
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"users"`
	Groups []struct {
		ID      int64   `toml:"id"`
		Name    string  `toml:"name"`
		Members []int64 `toml:"members"`
	} `toml:"groups"`
	Filesets []struct {
		ID    int64    `toml:"id"`
		Paths []string `toml:"paths"`
	} `toml:"filesets"`
	Items []ManifestItem `toml:"items"`
	Tags  []struct {
		Item     int64  `toml:"item"`
		Tag      string `toml:"tag"`
		LinkedBy int64  `toml:"linked_by"`
	} `toml:"tags"`
	Notes []struct {
		Item  int64  `toml:"item"`
		Key   string `toml:"key"`
		Value string `toml:"value"`
	} `toml:"notes"`
}

// ManifestItem describes one item and its legacy files.
type ManifestItem struct {
	ID      int64  `toml:"id"`
	Name    string `toml:"name"`
	Project string `toml:"project"`
	Dataset string `toml:"dataset"`
	Owner   int64  `toml:"owner"`
	Group   int64  `toml:"group"`
	Fileset int64  `toml:"fileset"`
	Files   []struct {
		Path string `toml:"path"`
		Kind string `toml:"kind"`
	} `toml:"files"`
}

// ImportStats counts rows written by Import.
type ImportStats struct {
	Users, Groups, Items, Files, Tags, Notes int
}

// Import upserts every row of the TOML manifest read from r in one transaction.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var m Manifest
	if err := toml.NewDecoder(r).Decode(&m); err != nil {
		return ImportStats{}, fmt.Errorf("parse manifest: %w", err)
	}

	var stats ImportStats
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stats = ImportStats{}
		exec := func(query string, args ...any) error {
			_, err := tx.ExecContext(ctx, query, args...)
			return err
		}
		for _, u := range m.Users {
			if err := exec(`INSERT INTO users (id, name, email) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email`,
				u.ID, u.Name, u.Email); err != nil {
				return fmt.Errorf("user %d: %w", u.ID, err)
			}
			stats.Users++
		}
		for _, g := range m.Groups {
			if err := exec(`INSERT INTO user_groups (id, name) VALUES (?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name`, g.ID, g.Name); err != nil {
				return fmt.Errorf("group %d: %w", g.ID, err)
			}
			for _, member := range g.Members {
				if err := exec(`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, g.ID, member); err != nil {
					return fmt.Errorf("group %d member %d: %w", g.ID, member, err)
				}
			}
			stats.Groups++
		}
		for _, fs := range m.Filesets {
			for _, path := range fs.Paths {
				if err := exec(`INSERT OR IGNORE INTO fileset_files (fileset_id, path) VALUES (?, ?)`, fs.ID, path); err != nil {
					return fmt.Errorf("fileset %d: %w", fs.ID, err)
				}
				stats.Files++
			}
		}
		for _, it := range m.Items {
			if err := exec(`INSERT INTO items (id, name, project, dataset, owner_id, group_id, fileset_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, project = excluded.project,
					dataset = excluded.dataset, owner_id = excluded.owner_id,
					group_id = excluded.group_id, fileset_id = excluded.fileset_id`,
				it.ID, it.Name, it.Project, it.Dataset, it.Owner, it.Group, it.Fileset); err != nil {
				return fmt.Errorf("item %d: %w", it.ID, err)
			}
			for _, f := range it.Files {
				kind := FileKind(f.Kind)
				if kind != KindOriginal && kind != KindPixels {
					return fmt.Errorf("item %d file %s: unknown kind %q", it.ID, f.Path, f.Kind)
				}
				if err := exec(`INSERT OR IGNORE INTO item_files (item_id, path, kind) VALUES (?, ?, ?)`,
					it.ID, f.Path, string(kind)); err != nil {
					return fmt.Errorf("item %d file %s: %w", it.ID, f.Path, err)
				}
				stats.Files++
			}
			stats.Items++
		}
		for _, t := range m.Tags {
			tag, ok := ParseTag(t.Tag)
			if !ok {
				return fmt.Errorf("item %d: unknown tag %q", t.Item, t.Tag)
			}
			if err := exec(`INSERT OR IGNORE INTO item_tags (item_id, tag, linked_by) VALUES (?, ?, ?)`,
				t.Item, string(tag), t.LinkedBy); err != nil {
				return fmt.Errorf("item %d tag %s: %w", t.Item, tag, err)
			}
			stats.Tags++
		}
		for _, n := range m.Notes {
			if err := exec(`INSERT INTO item_notes (item_id, key, value) VALUES (?, ?, ?)
				ON CONFLICT (item_id, key) DO UPDATE SET value = excluded.value`, n.Item, n.Key, n.Value); err != nil {
				return fmt.Errorf("item %d note %s: %w", n.Item, n.Key, err)
			}
			stats.Notes++
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, fmt.Errorf("import manifest: %w", err)
	}
	return stats, nil
}
