package testsupport

import (
	"path/filepath"
	"testing"

	"archivist/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Notifications are disabled and the file sink archives under the temp dir.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.JobRoot = filepath.Join(base, "archive", "Job")
	cfgVal.Paths.ArchiveLog = filepath.Join(base, "archive", "Log")
	cfgVal.Paths.RegisterDB = filepath.Join(base, "archive", "register.db")
	cfgVal.Paths.CatalogDB = filepath.Join(base, "archive", "catalog.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.Repository = filepath.Join(base, "repo", "ManagedRepository")
	cfgVal.Paths.LegacyFiles = filepath.Join(base, "repo", "Files")
	cfgVal.Paths.LegacyPixels = filepath.Join(base, "repo", "Pixels")
	cfgVal.Sink.Kind = config.SinkFile
	cfgVal.Sink.File.ArchiveRoot = filepath.Join(base, "vault")
	cfgVal.Notifications.Transport = config.TransportNone
	cfgVal.Notifications.AdminEmails = []string{"admin@example.org"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxRetries sets the per-file retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = n
	}
}

// WithKeepToArchiveTag leaves request tags in place after job creation.
func WithKeepToArchiveTag() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.KeepToArchiveTag = true
	}
}

// WithIgnoreMissing drops missing files from new jobs.
func WithIgnoreMissing() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.IgnoreMissing = true
	}
}

// WithArkivum switches the sink to the appliance at baseURL.
func WithArkivum(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sink.Kind = config.SinkArkivum
		b.cfg.Sink.Arkivum.BaseURL = baseURL
		b.cfg.Sink.Arkivum.MountRoot = filepath.Join(b.baseDir, "arkivum")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.Paths.JobRoot))
}
