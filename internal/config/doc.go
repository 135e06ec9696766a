// Package config loads, normalizes, and validates archivist configuration data.
//
// It supplies defaults modelled on a standard repository install (job tree,
// archive log, and register under /OMERO/Archive), expands user paths
// including tilde shortcuts, reads TOML files, and honours environment
// fallbacks such as ARCHIVIST_NTFY_TOPIC. The Config type centralizes every
// knob the scan and the CLI need so directories and sink credentials are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
