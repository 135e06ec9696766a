package arklog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archivist/internal/arklog"
	"archivist/internal/fileutil"
)

func openLog(t *testing.T) *arklog.Log {
	t.Helper()
	log, err := arklog.Open(filepath.Join(t.TempDir(), "Log"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return log
}

func TestPathFor(t *testing.T) {
	log := openLog(t)
	got := log.PathFor("/OMERO/ManagedRepository/u/img.tif")
	want := filepath.Join(log.Root(), "OMERO/ManagedRepository/u/img.tif.ark")
	if got != want {
		t.Fatalf("PathFor = %q, want %q", got, want)
	}
	if arklog.NonAbsolute("//a//b") != "a/b" {
		t.Fatalf("unexpected NonAbsolute %q", arklog.NonAbsolute("//a//b"))
	}
}

func TestSourceRoundTripAndStages(t *testing.T) {
	log := openLog(t)
	path := "/repo/a.tif"
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := log.WriteSource(path, arklog.Source{ItemID: 101, OwnerName: "alice", Path: path, Bytes: 4, Size: "4 B", Modified: modified}); err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	rec, ok, err := log.Read(path)
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if !rec.SourceOnly() || rec.Source.ItemID != 101 || !rec.Source.Modified.Equal(modified) {
		t.Fatalf("unexpected record %+v", rec.Source)
	}

	err = log.Update(path, func(rec *arklog.Record) error {
		rec.File = &arklog.Stage{}
		rec.File.SetChecksums(fileutil.Checksums{Size: 4, MD5: "m", SHA256: "s", Adler32: "a"}, "/archive/repo/a.tif")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	rec, _, err = log.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.SourceOnly() || !rec.File.HasChecksums() || rec.File.Path != "/archive/repo/a.tif" {
		t.Fatalf("unexpected file stage %+v", rec.File)
	}
	if rec.Source == nil || rec.Source.OwnerName != "alice" {
		t.Fatal("source section lost on update")
	}
}

func TestUpdatePersistsOnError(t *testing.T) {
	log := openLog(t)
	boom := errors.New("boom")
	err := log.Update("/repo/b.tif", func(rec *arklog.Record) error {
		rec.Arkivum = &arklog.Stage{State: "amber"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	rec, ok, err := log.Read("/repo/b.tif")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if rec.Arkivum == nil || rec.Arkivum.State != "amber" {
		t.Fatalf("expected stage written, got %+v", rec.Arkivum)
	}
}

func TestRemoveIfSourceOnly(t *testing.T) {
	log := openLog(t)
	if err := log.WriteSource("/repo/c.tif", arklog.Source{ItemID: 1}); err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	if err := log.WriteSource("/repo/d.tif", arklog.Source{ItemID: 2}); err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	if err := log.Update("/repo/d.tif", func(rec *arklog.Record) error {
		rec.File = &arklog.Stage{Path: "/archive/d.tif"}
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	removed, err := log.RemoveIfSourceOnly("/repo/c.tif")
	if err != nil || !removed {
		t.Fatalf("expected removal, removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(log.PathFor("/repo/c.tif")); !os.IsNotExist(err) {
		t.Fatalf("expected descriptor deleted, stat err=%v", err)
	}
	removed, err = log.RemoveIfSourceOnly("/repo/d.tif")
	if err != nil || removed {
		t.Fatalf("descriptor with stages must stay, removed=%v err=%v", removed, err)
	}
	removed, err = log.RemoveIfSourceOnly("/repo/missing.tif")
	if err != nil || removed {
		t.Fatalf("missing descriptor is a no-op, removed=%v err=%v", removed, err)
	}
}
