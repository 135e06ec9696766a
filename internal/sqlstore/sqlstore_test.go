package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"archivist/internal/sqlstore"
)

var testSchema = sqlstore.Schema{
	Name:    "test",
	SQL:     `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`,
	Version: 1,
}

func TestOpenChecksSchemaVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := sqlstore.Open(ctx, path, testSchema)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	newer := testSchema
	newer.Version = 2
	if _, err := sqlstore.Open(ctx, path, newer); !errors.Is(err, sqlstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestExecAndPlaceholders(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "test.db"), testSchema)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i, name := range []string{"a", "b", "c"} {
		if err := db.Exec(ctx, `INSERT INTO things (id, name) VALUES (?, ?)`, i+1, name); err != nil {
			t.Fatalf("Exec failed: %v", err)
		}
	}

	var count int
	query := `SELECT COUNT(*) FROM things WHERE id IN (` + sqlstore.Placeholders(2) + `)`
	if err := db.QueryRowContext(ctx, query, 1, 3).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	tests := map[int]string{-1: "", 0: "", 1: "?", 3: "?,?,?"}
	for n, want := range tests {
		if got := sqlstore.Placeholders(n); got != want {
			t.Fatalf("Placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "test.db"), testSchema)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO things (id, name) VALUES (1, 'a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled back insert is visible: %d rows", count)
	}
}
