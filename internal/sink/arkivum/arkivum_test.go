package arkivum_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"archivist/internal/arklog"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/sink"
	"archivist/internal/sink/arkivum"
)

type appliance struct {
	mu    sync.Mutex
	infos map[string]map[string]any
	calls []string
}

func (a *appliance) set(rel string, info map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.infos[rel] = info
}

func (a *appliance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rel := strings.TrimPrefix(r.URL.Path, "/api/2/files/fileInfo/")
	a.calls = append(a.calls, rel)
	info, ok := a.infos[rel]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

type fixture struct {
	repo   string
	log    *arklog.Log
	sink   *arkivum.Sink
	server *appliance
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	log, err := arklog.Open(filepath.Join(base, "Log"))
	if err != nil {
		t.Fatalf("arklog.Open failed: %v", err)
	}
	app := &appliance{infos: make(map[string]map[string]any)}
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)

	f := &fixture{repo: filepath.Join(base, "repo"), log: log, server: app, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Arkivum{
		BaseURL:            srv.URL,
		MountRoot:          filepath.Join(base, "mnt"),
		MountPath:          "omero",
		TargetState:        "green",
		IngestDelaySeconds: 600,
		RequestTimeout:     5,
	}
	s, err := arkivum.New(cfg, log, arkivum.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.sink = s
	if err := os.MkdirAll(f.repo, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return f
}

func (f *fixture) file(t *testing.T, name, content string) (string, fileutil.Checksums) {
	t.Helper()
	path := filepath.Join(f.repo, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sums, err := fileutil.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	return path, sums
}

func (f *fixture) archive(t *testing.T, path string) sink.Result {
	t.Helper()
	res, err := f.sink.Archive(context.Background(), path)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	return res
}

func TestArchiveLifecycle(t *testing.T) {
	f := newFixture(t)
	path, sums := f.file(t, "a.tif", "pixels")
	rel := strings.TrimPrefix(f.sink.RelPath(path), "/")

	// copied, appliance has not seen it yet
	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending after copy, got %+v", res)
	}
	if _, err := os.Stat(f.sink.Target(path)); err != nil {
		t.Fatalf("expected copy on mount: %v", err)
	}

	f.server.set(rel, map[string]any{"ingestState": "ONGOING"})
	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending during ingest, got %+v", res)
	}

	f.server.set(rel, map[string]any{"ingestState": "FINAL", "size": sums.Size, "md5": sums.MD5, "replicationState": "amber"})
	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending below target state, got %+v", res)
	}

	f.server.set(rel, map[string]any{"ingestState": "FINAL", "size": sums.Size, "md5": sums.MD5, "replicationState": "green"})
	res := f.archive(t, path)
	if res.Status != sink.StatusArchived {
		t.Fatalf("expected Archived, got %+v", res)
	}
	if link, _ := fileutil.LinkTarget(path); link != f.sink.Target(path) {
		t.Fatalf("expected link to mount copy, got %q", link)
	}
	rec, _, err := f.log.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.Arkivum == nil || rec.Arkivum.State != "green" || rec.Arkivum.Archived == nil {
		t.Fatalf("unexpected stage %+v", rec.Arkivum)
	}
}

func TestArchiveFailsAfterIngestDelay(t *testing.T) {
	f := newFixture(t)
	path, _ := f.file(t, "b.tif", "data")
	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending, got %+v", res)
	}
	f.now = f.now.Add(11 * time.Minute)
	if res := f.archive(t, path); res.Status != sink.StatusFailed {
		t.Fatalf("expected Failed after delay, got %+v", res)
	}
}

func TestArchiveChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	path, sums := f.file(t, "c.tif", "data")
	rel := strings.TrimPrefix(f.sink.RelPath(path), "/")
	f.server.set(rel, map[string]any{"ingestState": "FINAL", "size": sums.Size, "md5": strings.Repeat("0", 32), "replicationState": "green"})
	res := f.archive(t, path)
	if res.Status != sink.StatusFailed {
		t.Fatalf("expected Failed, got %+v", res)
	}
	if link, _ := fileutil.IsSymlink(path); link {
		t.Fatal("original must survive a checksum mismatch")
	}
}

func TestFileInfoRejectsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ingestState":"FINAL","size":"big"}`))
	}))
	defer srv.Close()
	client := arkivum.NewClient(srv.URL, time.Second, false)
	_, err := client.FileInfo(context.Background(), "omero/x")
	if !errors.Is(err, arkivum.ErrNoInfo) {
		t.Fatalf("expected ErrNoInfo for schema violation, got %v", err)
	}
}

func TestFileInfoEscapesPath(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"ingestState":"ONGOING"}`))
	}))
	defer srv.Close()
	client := arkivum.NewClient(srv.URL, time.Second, false)
	info, err := client.FileInfo(context.Background(), "omero/my dir/a#1.tif")
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if info.IngestState != "ONGOING" {
		t.Fatalf("unexpected info %+v", info)
	}
	if got != "/api/2/files/fileInfo/omero/my%20dir/a%231.tif" {
		t.Fatalf("unexpected request path %q", got)
	}
}

func TestArchiveReplacesPartialMountCopy(t *testing.T) {
	f := newFixture(t)
	path, sums := f.file(t, "d.tif", "full-length-pixels")
	rel := strings.TrimPrefix(f.sink.RelPath(path), "/")
	target := f.sink.Target(path)

	// a crash mid-copy left a truncated file and no descriptor stage
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(target, []byte("full-"), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	partial, err := fileutil.HashFile(target)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	f.server.set(rel, map[string]any{"ingestState": "FINAL", "size": partial.Size, "md5": partial.MD5, "replicationState": "green"})

	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending after recopy, got %+v", res)
	}
	got, err := fileutil.HashFile(target)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if !got.Equal(sums) {
		t.Fatalf("mount copy not replaced: %+v", got)
	}
	if link, _ := fileutil.IsSymlink(path); link {
		t.Fatal("original must survive until the appliance confirms the new copy")
	}

	f.server.set(rel, map[string]any{"ingestState": "FINAL", "size": sums.Size, "md5": sums.MD5, "replicationState": "green"})
	if res := f.archive(t, path); res.Status != sink.StatusArchived {
		t.Fatalf("expected Archived, got %+v", res)
	}
}

func TestArchiveAdoptsCompleteMountCopy(t *testing.T) {
	f := newFixture(t)
	path, sums := f.file(t, "e.tif", "pixels")
	target := f.sink.Target(path)
	if _, err := fileutil.CopyFileVerified(path, target); err != nil {
		t.Fatalf("CopyFileVerified failed: %v", err)
	}
	before, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if res := f.archive(t, path); res.Status != sink.StatusPending {
		t.Fatalf("expected Pending while appliance has no record, got %+v", res)
	}
	after, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !os.SameFile(before, after) {
		t.Fatal("a verified mount copy must not be recopied")
	}
	rec, _, err := f.log.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !rec.Arkivum.Checksums().Equal(sums) || rec.Arkivum.Copied == nil {
		t.Fatalf("unexpected stage %+v", rec.Arkivum)
	}
}
