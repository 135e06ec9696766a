package preflight

import (
	"context"

	"archivist/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// RunAll executes all applicable preflight checks for the given config.
// Sink checks follow the configured sink kind.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results,
		CheckDirectoryAccess("Job root", cfg.Paths.JobRoot),
		CheckDirectoryAccess("Archive log", cfg.Paths.ArchiveLog),
		CheckDirectoryReadable("Repository", cfg.Paths.Repository),
	)
	if cfg.Paths.LegacyFiles != "" {
		results = append(results, CheckDirectoryReadable("Legacy files", cfg.Paths.LegacyFiles))
	}
	if cfg.Paths.LegacyPixels != "" {
		results = append(results, CheckDirectoryReadable("Legacy pixels", cfg.Paths.LegacyPixels))
	}

	results = append(results,
		CheckRegister(ctx, cfg.Paths.RegisterDB),
		CheckCatalog(ctx, cfg.Paths.CatalogDB),
	)

	switch cfg.Sink.Kind {
	case config.SinkArkivum:
		results = append(results,
			CheckDirectoryAccess("Arkivum mount", cfg.Sink.Arkivum.MountRoot),
			CheckArkivum(ctx, cfg.Sink.Arkivum),
		)
	default:
		results = append(results,
			CheckDirectoryAccess("Archive root", cfg.Sink.File.ArchiveRoot),
			CheckFreeSpace("Archive free space", cfg.Sink.File.ArchiveRoot, cfg.Workflow.MinFreeGiB),
		)
	}

	results = append(results, CheckRunLock(cfg.Paths.JobRoot))
	return results
}
