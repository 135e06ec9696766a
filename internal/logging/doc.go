// Package logging assembles structured slog loggers and the attribute helpers
// used across archivist.
//
// Console output stays human-readable while every file sink receives JSON, with
// both routed through a single fan-out handler. Context helpers tag log lines
// with the run identifier and the job being processed so one scan can be
// followed end to end. A no-op logger is provided for tests and wiring code
// that cannot fail.
package logging
