// Package workflow advances archive jobs through the state directories.
//
// Plan is a pure table from (state, event) to the next state and the effects
// that must be applied on the way. The Engine executes those effects against
// the job store, the archive register, the catalog, and the archive sink, and
// persists each transition only after its effects succeeded. Every effect is
// idempotent so an interrupted transition is simply replayed by the next run.
//
// Run is one scheduled invocation: it takes the run lock, reconciles the job
// tree, cross-checks pending register entries, scans Declined, Approved and
// Running in that order, turns newly tagged items into New jobs, and reminds
// administrators about jobs awaiting review. Error is never scanned; jobs
// leave it only through Reset.
package workflow
