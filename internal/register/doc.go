// Package register records, per repository file, which archive job owns it
// and whether the sink has confirmed the copy.
//
// The register is a SQLite database with two tables. pending_files holds
// claims made when a job is approved; archived_files holds confirmed copies
// and is append-only. A path appears in at most one of them, which the store
// enforces inside the claiming transaction. Paths are stored in canonical
// absolute form.
package register
