// Package jobs persists archive jobs as TOML records inside a six-directory
// state tree and exposes helpers for driving their lifecycle.
//
// Each job is one file named by its identifier. The directory it sits in is
// the label operators act on (moving a record from New to Approved approves
// it) while the record's info.status is authoritative for transitions the
// scan applies itself. Records are written with write-temp, fsync, rename so a
// crash leaves either the old or the new record, and jobs move between states
// only by atomic rename. Reconcile repairs any disagreement between location
// and status left by an interrupted run.
//
// Treat this package as the single source of truth for job semantics; file
// side effects (tags, register, sinks) belong to the workflow package.
package jobs
