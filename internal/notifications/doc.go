// Package notifications tells job owners and administrators what happened.
//
// NewService picks a transport from config: ntfy publishes to a topic over
// HTTP, smtp mails the recipients with the job record attached, and an
// unconfigured transport degrades to a no-op. Message builders in this
// package keep wording consistent across the workflow engine and the CLI.
//
// Delivery is best-effort. Callers log a failed Send and carry on.
package notifications
