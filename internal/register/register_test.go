package register_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"archivist/internal/register"
)

func openRegister(t *testing.T) *register.Register {
	t.Helper()
	reg, err := register.Open(context.Background(), filepath.Join(t.TempDir(), "register.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestPutPendingIsIdempotentPerJob(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/./a.tif", "job-1"); err != nil {
		t.Fatalf("repeated PutPending should succeed: %v", err)
	}

	entry, found, err := reg.Lookup(ctx, "/repo/a.tif")
	if err != nil || !found {
		t.Fatalf("Lookup failed: found=%v err=%v", found, err)
	}
	if entry.Status != register.StatusPending || entry.JobID != "job-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Archived != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPutPendingRejectsOtherJob(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	err := reg.PutPending(ctx, "/repo/a.tif", "job-2")
	if !errors.Is(err, register.ErrAlreadyArchiving) {
		t.Fatalf("expected ErrAlreadyArchiving, got %v", err)
	}
	var claim *register.ClaimError
	if !errors.As(err, &claim) || claim.Owner != "job-1" || claim.State != register.StatusPending {
		t.Fatalf("unexpected claim error %#v", err)
	}

	if err := reg.Commit(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	err = reg.PutPending(ctx, "/repo/a.tif", "job-2")
	if !errors.As(err, &claim) || claim.State != register.StatusArchived {
		t.Fatalf("expected archived claim error, got %v", err)
	}
}

func TestCommitMovesEntry(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.Commit(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := reg.Commit(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("repeated Commit should be a no-op: %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending after commit by owner should be a no-op: %v", err)
	}

	entry, found, err := reg.Lookup(ctx, "/repo/a.tif")
	if err != nil || !found {
		t.Fatalf("Lookup failed: found=%v err=%v", found, err)
	}
	if entry.Status != register.StatusArchived || entry.ArchivedAt == nil {
		t.Fatalf("unexpected entry %+v", entry)
	}
	pending, err := reg.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %v err=%v", pending, err)
	}
	archived, err := reg.Archived(ctx)
	if err != nil || len(archived) != 1 {
		t.Fatalf("expected one archived entry, got %v err=%v", archived, err)
	}
}

func TestCommitErrors(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	if err := reg.Commit(ctx, "/repo/none", "job-1"); !errors.Is(err, register.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.Commit(ctx, "/repo/a.tif", "job-2"); !errors.Is(err, register.ErrAlreadyArchiving) {
		t.Fatalf("expected ErrAlreadyArchiving for foreign commit, got %v", err)
	}
}

func TestForJobAndHealth(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	for _, path := range []string{"/repo/a", "/repo/b", "/repo/c"} {
		if err := reg.PutPending(ctx, path, "job-1"); err != nil {
			t.Fatalf("PutPending %s failed: %v", path, err)
		}
	}
	if err := reg.PutPending(ctx, "/repo/d", "job-2"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.Commit(ctx, "/repo/b", "job-1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	entries, err := reg.ForJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ForJob failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	health, err := reg.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.OK() {
		t.Fatalf("expected healthy register, got %+v", health)
	}
	if health.Stats.Pending != 3 || health.Stats.Archived != 1 {
		t.Fatalf("unexpected stats %+v", health.Stats)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "register.db")

	reg, err := register.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/a", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := register.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if _, found, err := reopened.Lookup(ctx, "/repo/a"); err != nil || !found {
		t.Fatalf("expected entry after reopen, found=%v err=%v", found, err)
	}
}

func TestReleaseDropsOnlyOwnPendingClaim(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	for _, path := range []string{"/repo/a.tif", "/repo/b.tif"} {
		if err := reg.PutPending(ctx, path, "job-1"); err != nil {
			t.Fatalf("PutPending failed: %v", err)
		}
	}
	if err := reg.Commit(ctx, "/repo/b.tif", "job-1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if released, err := reg.Release(ctx, "/repo/a.tif", "job-2"); err != nil || released {
		t.Fatalf("release by another job: released=%v err=%v", released, err)
	}
	if released, err := reg.Release(ctx, "/repo/a.tif", "job-1"); err != nil || !released {
		t.Fatalf("release by owner: released=%v err=%v", released, err)
	}
	if released, err := reg.Release(ctx, "/repo/b.tif", "job-1"); err != nil || released {
		t.Fatalf("archived entry must not be released: released=%v err=%v", released, err)
	}

	if _, found, _ := reg.Lookup(ctx, "/repo/a.tif"); found {
		t.Fatal("released path still registered")
	}
	if err := reg.PutPending(ctx, "/repo/a.tif", "job-2"); err != nil {
		t.Fatalf("released path should be claimable: %v", err)
	}
}

func TestLookupAll(t *testing.T) {
	ctx := context.Background()
	reg := openRegister(t)

	if err := reg.PutPending(ctx, "/repo/a.tif", "job-1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/b.tif", "job-2"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	if err := reg.Commit(ctx, "/repo/b.tif", "job-2"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	found, err := reg.LookupAll(ctx, []string{"/repo/./a.tif", "/repo/b.tif", "/repo/none.tif"})
	if err != nil {
		t.Fatalf("LookupAll failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected two entries, got %v", found)
	}
	if e := found["/repo/a.tif"]; e.Status != register.StatusPending || e.JobID != "job-1" {
		t.Fatalf("unexpected entry for a.tif: %+v", e)
	}
	if e := found["/repo/b.tif"]; e.Status != register.StatusArchived || e.JobID != "job-2" {
		t.Fatalf("unexpected entry for b.tif: %+v", e)
	}

	empty, err := reg.LookupAll(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %v err=%v", empty, err)
	}
}
