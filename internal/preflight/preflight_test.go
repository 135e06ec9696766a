package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/config"
	"archivist/internal/register"
	"archivist/internal/runlock"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Unconfigured(t *testing.T) {
	if result := CheckDirectoryReadable("test", " "); result.Passed {
		t.Fatal("expected failure for empty path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("free", dir, 0); !result.Passed {
		t.Fatalf("expected pass without minimum, got: %s", result.Detail)
	}
	// no test machine has an exbibyte free
	result := CheckFreeSpace("free", dir, 1<<30)
	if result.Passed {
		t.Fatalf("expected failure for huge minimum, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckRegister(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "register.db")
	if result := CheckRegister(ctx, path); !result.Passed || !strings.Contains(result.Detail, "not created") {
		t.Fatalf("expected pass for missing register, got %+v", result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("check must not create the register")
	}

	reg, err := register.Open(ctx, path)
	if err != nil {
		t.Fatalf("register.Open failed: %v", err)
	}
	if err := reg.PutPending(ctx, "/repo/a", "job1"); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}
	_ = reg.Close()

	result := CheckRegister(ctx, path)
	if !result.Passed || !strings.Contains(result.Detail, "1 pending") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckCatalogMissing(t *testing.T) {
	result := CheckCatalog(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if result.Passed {
		t.Fatal("expected failure for missing catalog")
	}
}

func TestCheckArkivum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if result := CheckArkivum(context.Background(), config.Arkivum{BaseURL: srv.URL}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckArkivum(context.Background(), config.Arkivum{}); result.Passed {
		t.Fatal("expected failure without url")
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if result := CheckArkivum(context.Background(), config.Arkivum{BaseURL: broken.URL}); result.Passed {
		t.Fatal("expected failure on server error")
	}
}

func TestCheckRunLock(t *testing.T) {
	root := t.TempDir()
	if result := CheckRunLock(root); result.Detail != "free" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	lock, err := runlock.Acquire(root)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()
	if result := CheckRunLock(root); !strings.Contains(result.Detail, "held by running pid") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestAllPassed(t *testing.T) {
	if !AllPassed([]Result{{Passed: true}}) {
		t.Fatal("expected all passed")
	}
	if AllPassed([]Result{{Passed: true}, {Passed: false}}) {
		t.Fatal("expected failure")
	}
}
