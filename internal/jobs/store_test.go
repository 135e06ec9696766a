package jobs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/internal/jobs"
)

func fixedClock() func() time.Time {
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func openStore(t *testing.T) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(filepath.Join(t.TempDir(), "Job"), jobs.WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func sampleJob() *jobs.Job {
	job := jobs.NewJob(jobs.Info{
		UserID:    3,
		UserName:  "alice",
		GroupID:   7,
		OwnerID:   3,
		OwnerName: "alice",
		Email:     "alice@example.org",
		Created:   time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Expiry:    time.Date(2024, 4, 4, 14, 30, 0, 0, time.UTC),
		Notes:     map[string]string{"Reason": "paper published"},
	})
	job.Items = []jobs.ItemRef{
		{ID: 101, Key: "/Project/Dataset/a.tif (101)", Included: true},
		{ID: 102, Key: "/Project/Dataset/b.tif (102)", Included: false},
	}
	job.SetFile("/OMERO/ManagedRepository/alice/a.tif", jobs.FileNew)
	job.SetFile("/OMERO/ManagedRepository/alice/link.tif", jobs.FileIgnored)
	return job
}

func TestOpenCreatesStateDirectories(t *testing.T) {
	store := openStore(t)
	for _, state := range jobs.AllStates() {
		info, err := os.Stat(store.Dir(state))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory for %s: %v", state, err)
		}
	}
}

func TestCreateAndReadRoundTrip(t *testing.T) {
	store := openStore(t)
	job := sampleJob()

	id, err := store.Create(job)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "20240305_143000.1" {
		t.Fatalf("unexpected id %q", id)
	}

	got, state, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if state != jobs.StateNew || got.Info.Status != jobs.StateNew {
		t.Fatalf("expected New, got location %s status %s", state, got.Info.Status)
	}
	if got.ID != id {
		t.Fatalf("expected id %q, got %q", id, got.ID)
	}
	if len(got.Items) != 2 || got.Items[0].ID != 101 || got.Items[1].Included {
		t.Fatalf("items not preserved: %+v", got.Items)
	}
	if got.Files["/OMERO/ManagedRepository/alice/link.tif"] != jobs.FileIgnored {
		t.Fatalf("files not preserved: %+v", got.Files)
	}
	if got.Info.Notes["Reason"] != "paper published" {
		t.Fatalf("notes not preserved: %+v", got.Info.Notes)
	}
	if !got.Info.Expiry.Equal(job.Info.Expiry) {
		t.Fatalf("expiry not preserved: %v", got.Info.Expiry)
	}
}

func TestNextIDSkipsExisting(t *testing.T) {
	store := openStore(t)
	first, err := store.Create(sampleJob())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Move(first, jobs.StateNew, jobs.StateFinished); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	second, err := store.Create(sampleJob())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if second != "20240305_143000.2" {
		t.Fatalf("expected sequence bump, got %q", second)
	}
}

func TestMoveIsIdempotent(t *testing.T) {
	store := openStore(t)
	id, err := store.Create(sampleJob())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Move(id, jobs.StateNew, jobs.StateApproved); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if err := store.Move(id, jobs.StateNew, jobs.StateApproved); err != nil {
		t.Fatalf("repeated Move should be a no-op: %v", err)
	}
	state, err := store.Locate(id)
	if err != nil || state != jobs.StateApproved {
		t.Fatalf("expected Approved, got %s err=%v", state, err)
	}
	err = store.Move("missing", jobs.StateNew, jobs.StateApproved)
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestTransitionWritesStatusThenMoves(t *testing.T) {
	store := openStore(t)
	job := sampleJob()
	id, err := store.Create(job)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Move(id, jobs.StateNew, jobs.StateApproved); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if err := store.Transition(job, jobs.StateApproved, jobs.StateRunning); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	got, state, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if state != jobs.StateRunning || got.Info.Status != jobs.StateRunning {
		t.Fatalf("expected Running/Running, got %s/%s", state, got.Info.Status)
	}
}

func TestFailMovesIntoError(t *testing.T) {
	store := openStore(t)
	job := sampleJob()
	id, err := store.Create(job)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Fail(job, jobs.StateNew, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	got, state, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if state != jobs.StateError || got.Info.Status != jobs.StateError || got.Info.Error != "boom" {
		t.Fatalf("unexpected result %s %+v", state, got.Info)
	}
}

func TestReadCorruptRecord(t *testing.T) {
	store := openStore(t)
	path := filepath.Join(store.Dir(jobs.StateRunning), "20240101_000000.1")
	if err := os.WriteFile(path, []byte("[info\nstatus = "), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := store.Read("20240101_000000.1")
	if !errors.Is(err, jobs.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	var corrupt *jobs.CorruptRecordError
	if !errors.As(err, &corrupt) || corrupt.State != jobs.StateRunning {
		t.Fatalf("expected CorruptRecordError in Running, got %v", err)
	}
}

func TestReadRejectsUnknownFileStatus(t *testing.T) {
	store := openStore(t)
	record := "[info]\nstatus = \"Running\"\n[files]\n\"/a\" = \"Exploded\"\n"
	path := filepath.Join(store.Dir(jobs.StateRunning), "20240101_000000.1")
	if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ReadAt(jobs.StateRunning, "20240101_000000.1"); !errors.Is(err, jobs.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestListSkipsHiddenAndTemp(t *testing.T) {
	store := openStore(t)
	id, err := store.Create(sampleJob())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	tmp := filepath.Join(store.Dir(jobs.StateNew), "."+id+".tmp.123")
	if err := os.WriteFile(tmp, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err := store.List(jobs.StateNew)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestReconcile(t *testing.T) {
	store := openStore(t)

	write := func(state jobs.State, id string, status jobs.State, files map[string]jobs.FileStatus) {
		t.Helper()
		job := sampleJob()
		job.ID = id
		job.Files = files
		job.Info.Status = status
		if err := store.Save(job, state); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	// interrupted Approved -> Running rename
	write(jobs.StateApproved, "a.1", jobs.StateRunning, map[string]jobs.FileStatus{"/f1": jobs.FileRunning})
	// manual approval of a New record
	write(jobs.StateApproved, "b.1", jobs.StateNew, map[string]jobs.FileStatus{"/f2": jobs.FileNew})
	// record put back into New by hand
	write(jobs.StateNew, "c.1", jobs.StateRunning, map[string]jobs.FileStatus{"/f3": jobs.FileRunning})
	// operator retry of an Error job by moving it into Running
	write(jobs.StateRunning, "d.1", jobs.StateError, map[string]jobs.FileStatus{
		"/f4": jobs.FileError, "/f5": jobs.FileArchived,
	})
	// interrupted Running -> Error rename leaves status behind
	write(jobs.StateError, "e.1", jobs.StateRunning, map[string]jobs.FileStatus{"/f6": jobs.FileError})

	if err := os.WriteFile(filepath.Join(store.Dir(jobs.StateDeclined), "bad.1"), []byte("not toml ["), 0o644); err != nil {
		t.Fatal(err)
	}
	tmp := filepath.Join(store.Dir(jobs.StateRunning), ".x.1.tmp.999")
	if err := os.WriteFile(tmp, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := store.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.Changed() {
		t.Fatal("expected changes")
	}
	if len(report.TempRemoved) != 1 {
		t.Fatalf("expected one temp removal, got %v", report.TempRemoved)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("temp file still present: %v", err)
	}
	if len(report.Corrupt) != 1 || report.Corrupt[0].ID != "bad.1" {
		t.Fatalf("unexpected corrupt list: %+v", report.Corrupt)
	}

	expect := map[string]jobs.State{
		"a.1":   jobs.StateRunning,
		"b.1":   jobs.StateApproved,
		"c.1":   jobs.StateNew,
		"d.1":   jobs.StateRunning,
		"e.1":   jobs.StateError,
		"bad.1": jobs.StateError,
	}
	for id, want := range expect {
		state, err := store.Locate(id)
		if err != nil || state != want {
			t.Fatalf("%s: expected location %s, got %s err=%v", id, want, state, err)
		}
		if id == "bad.1" {
			continue
		}
		job, err := store.ReadAt(state, id)
		if err != nil {
			t.Fatalf("%s: ReadAt failed: %v", id, err)
		}
		if job.Info.Status != want {
			t.Fatalf("%s: expected status %s, got %s", id, want, job.Info.Status)
		}
	}

	reset, err := store.ReadAt(jobs.StateRunning, "d.1")
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if reset.Files["/f4"] != jobs.FileRunning || reset.Files["/f5"] != jobs.FileArchived {
		t.Fatalf("expected Error files re-queued, got %+v", reset.Files)
	}

	second, err := store.Reconcile()
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if second.Changed() {
		t.Fatalf("expected reconcile to be idempotent, got %+v", second)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name  string
		files []jobs.FileStatus
		want  jobs.State
	}{
		{"all archived", []jobs.FileStatus{jobs.FileArchived, jobs.FileIgnored}, jobs.StateFinished},
		{"all declined", []jobs.FileStatus{jobs.FileDeclined, jobs.FileDeclined}, jobs.StateFinished},
		{"empty", nil, jobs.StateFinished},
		{"one error", []jobs.FileStatus{jobs.FileArchived, jobs.FileError}, jobs.StateError},
		{"still running", []jobs.FileStatus{jobs.FileArchived, jobs.FileRunning}, jobs.StateRunning},
		{"error waits for in-flight files", []jobs.FileStatus{jobs.FileError, jobs.FileRunning}, jobs.StateRunning},
		{"unclaimed file", []jobs.FileStatus{jobs.FileNew, jobs.FileArchived}, jobs.StateRunning},
		{"mixed terminal", []jobs.FileStatus{jobs.FileArchived, jobs.FileDeclined}, jobs.StateError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := jobs.NewJob(jobs.Info{})
			for i, status := range tc.files {
				job.SetFile("/f"+strings.Repeat("x", i), status)
			}
			if got := job.Outcome(); got != tc.want {
				t.Fatalf("Outcome() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRecordFailureHonoursBudget(t *testing.T) {
	job := jobs.NewJob(jobs.Info{})
	job.SetFile("/f", jobs.FileRunning)
	for i := 0; i < 2; i++ {
		if job.RecordFailure("/f", "copy failed", 2) {
			t.Fatalf("attempt %d should not exhaust budget", i+1)
		}
	}
	if !job.RecordFailure("/f", "copy failed", 2) {
		t.Fatal("third attempt should exhaust budget")
	}
	if job.Files["/f"] != jobs.FileError || job.Reasons["/f"] != "copy failed" {
		t.Fatalf("expected Error with reason, got %v %v", job.Files, job.Reasons)
	}
	reset := job.ResetErrors()
	if len(reset) != 1 || job.Files["/f"] != jobs.FileRunning || job.Attempts["/f"] != 0 {
		t.Fatalf("ResetErrors did not clear state: %v %v", job.Files, job.Attempts)
	}
}

func TestParseState(t *testing.T) {
	if state, ok := jobs.ParseState(" running "); !ok || state != jobs.StateRunning {
		t.Fatalf("unexpected parse result %s %v", state, ok)
	}
	if _, ok := jobs.ParseState("archived"); ok {
		t.Fatal("expected unknown state to fail")
	}
}
