package testsupport

import (
	"context"
	"strings"
	"testing"

	"archivist/internal/arklog"
	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/jobs"
	"archivist/internal/register"
)

// MustOpenRegister opens the register named by cfg and registers cleanup.
func MustOpenRegister(t testing.TB, cfg *config.Config) *register.Register {
	t.Helper()
	reg, err := register.Open(context.Background(), cfg.Paths.RegisterDB)
	if err != nil {
		t.Fatalf("register.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// MustOpenCatalog opens the catalog named by cfg, loads manifest when it is
// not empty, and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config, manifest string) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(context.Background(), cfg.Paths.CatalogDB)
	if err != nil {
		t.Fatalf("catalog.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if strings.TrimSpace(manifest) != "" {
		if _, err := store.Import(context.Background(), strings.NewReader(manifest)); err != nil {
			t.Fatalf("catalog import failed: %v", err)
		}
	}
	return store
}

// MustOpenJobs opens the job tree named by cfg.
func MustOpenJobs(t testing.TB, cfg *config.Config, opts ...jobs.Option) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(cfg.Paths.JobRoot, opts...)
	if err != nil {
		t.Fatalf("jobs.Open failed: %v", err)
	}
	return store
}

// MustOpenArklog opens the archive log named by cfg.
func MustOpenArklog(t testing.TB, cfg *config.Config) *arklog.Log {
	t.Helper()
	log, err := arklog.Open(cfg.Paths.ArchiveLog)
	if err != nil {
		t.Fatalf("arklog.Open failed: %v", err)
	}
	return log
}
