// Package preflight provides readiness checks for the filesystem paths,
// databases and services that archivist depends on.
//
// The "archivist doctor" command runs RunAll and renders the results. The
// run command uses CheckDirectoryAccess on the job root before taking the
// run lock so a missing mount fails fast with a clear message.
package preflight
