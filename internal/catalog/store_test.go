package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/catalog"
)

const manifest = `
[[users]]
id = 3
name = "alice"
email = "alice@example.org"

[[users]]
id = 4
name = "bob"

[[groups]]
id = 7
name = "lab"
members = [3, 4]

[[filesets]]
id = 11
paths = ["/repo/alice/plate/a.tif", "/repo/alice/plate/b.tif"]

[[items]]
id = 101
name = "a.tif"
project = "P"
dataset = "D"
owner = 3
group = 7
fileset = 11

[[items]]
id = 200
name = "legacy"
owner = 4
group = 7
files = [
  { path = "/files/1", kind = "original" },
  { path = "/pixels/200", kind = "pixels" },
]

[[tags]]
item = 101
tag = "to-archive"
linked_by = 3

[[notes]]
item = 101
key = "Reason"
value = "published"
`

func openCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Import(context.Background(), strings.NewReader(manifest)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	return store
}

func TestImportAndSnapshot(t *testing.T) {
	store := openCatalog(t)
	snap, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Users) != 2 || snap.Users[3].Email != "alice@example.org" {
		t.Fatalf("unexpected users %+v", snap.Users)
	}
	if g := snap.Groups[7]; len(g.Members) != 2 || !g.HasMember(4) {
		t.Fatalf("unexpected group %+v", g)
	}
	item := snap.Items[101]
	if item.Key() != "/P/D/a.tif (101)" {
		t.Fatalf("unexpected key %q", item.Key())
	}
	if files := snap.FilesOf(101); len(files) != 2 || files[0].Kind != catalog.KindFileset {
		t.Fatalf("unexpected fileset files %+v", files)
	}
	legacy := snap.FilesOf(200)
	if len(legacy) != 2 || legacy[0].Kind != catalog.KindOriginal || legacy[1].Kind != catalog.KindPixels {
		t.Fatalf("unexpected legacy files %+v", legacy)
	}
	if got := snap.Tagged(catalog.TagToArchive); len(got) != 1 || got[0] != 101 {
		t.Fatalf("unexpected tagged %v", got)
	}
	if link, ok := snap.TagLink(101, catalog.TagToArchive); !ok || link.LinkedBy != 3 {
		t.Fatalf("unexpected tag link %+v", link)
	}
	if snap.Notes[101]["Reason"] != "published" {
		t.Fatalf("unexpected notes %+v", snap.Notes)
	}
	if !snap.CanAct(4, item) {
		t.Fatal("group member should be allowed to act")
	}
	if snap.CanAct(99, item) {
		t.Fatal("outsider should not be allowed to act")
	}
}

func TestTagging(t *testing.T) {
	ctx := context.Background()
	store := openCatalog(t)

	if err := store.ApplyTag(ctx, 101, catalog.TagArchivePending, 3); err != nil {
		t.Fatalf("ApplyTag failed: %v", err)
	}
	if err := store.ApplyTag(ctx, 101, catalog.TagArchivePending, 3); err != nil {
		t.Fatalf("re-applying a tag should succeed: %v", err)
	}
	if err := store.RemoveTag(ctx, 101, catalog.TagToArchive); err != nil {
		t.Fatalf("RemoveTag failed: %v", err)
	}
	if err := store.RemoveTag(ctx, 101, catalog.TagToArchive); err != nil {
		t.Fatalf("removing a missing tag should succeed: %v", err)
	}
	tags, err := store.QueryTags(ctx, 101)
	if err != nil {
		t.Fatalf("QueryTags failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != catalog.TagArchivePending {
		t.Fatalf("unexpected tags %v", tags)
	}

	err = store.ApplyTag(ctx, 999, catalog.TagArchived, 3)
	if !errors.Is(err, catalog.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestRemoveNoteDropsValues(t *testing.T) {
	ctx := context.Background()
	store := openCatalog(t)
	if err := store.ApplyTag(ctx, 101, catalog.TagArchiveNote, 3); err != nil {
		t.Fatalf("ApplyTag failed: %v", err)
	}
	if err := store.RemoveTag(ctx, 101, catalog.TagArchiveNote); err != nil {
		t.Fatalf("RemoveTag failed: %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Notes[101]) != 0 {
		t.Fatalf("expected notes removed, got %v", snap.Notes[101])
	}
}

func TestImportRejectsUnknownTag(t *testing.T) {
	store := openCatalog(t)
	bad := "[[tags]]\nitem = 101\ntag = \"SHINY\"\nlinked_by = 3\n"
	if _, err := store.Import(context.Background(), strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}
