// Package main hosts the archivist CLI entrypoint and command graph.
//
// A scheduler invokes `archivist run` periodically; every other command is an
// operator tool that reads or edits the same job tree, register, and catalog
// under the run lock. Commands open what they need through commandContext so
// the heavy lifting stays in the internal packages.
package main
