// Package catalog models the upstream repository's logical items, the
// physical files behind them, and the archiving tags users attach.
//
// The Source and Tagger interfaces are the contract the workflow consumes.
// Store implements both on a SQLite mirror that is loaded from a TOML
// manifest export, so a scan always works from one consistent Snapshot.
package catalog
