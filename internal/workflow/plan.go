package workflow

import (
	"errors"
	"fmt"

	"archivist/internal/jobs"
)

// Event drives a job out of its current state.
type Event string

const (
	// EventApprove and EventDecline are operator decisions on a New job.
	EventApprove Event = "approve"
	EventDecline Event = "decline"
	// EventScan is the run visiting a job in Approved or Declined.
	EventScan Event = "scan"
	// EventConfirmed is a Running job whose files have all settled.
	EventConfirmed Event = "confirmed"
	// EventFailed is a Running job with a file past its retry budget.
	EventFailed Event = "failed"
	// EventReset is the operator retrying an Error job.
	EventReset Event = "reset"
)

// Effect is one side effect applied before a transition is persisted.
type Effect string

const (
	EffectClaimFiles      Effect = "claim_files"
	EffectMarkRunning     Effect = "mark_running"
	EffectPromoteTags     Effect = "promote_tags"
	EffectRollbackTags    Effect = "rollback_tags"
	EffectReleaseClaims   Effect = "release_claims"
	EffectMarkDeclined    Effect = "mark_declined"
	EffectDropDescriptors Effect = "drop_descriptors"
	EffectMarkComplete    Effect = "mark_complete"
	EffectNotifyOwner     Effect = "notify_owner"
	EffectNotifyAdmin     Effect = "notify_admin"
	EffectResetErrors     Effect = "reset_errors"
)

// Transition is the outcome of planning one event.
type Transition struct {
	From    jobs.State
	Event   Event
	To      jobs.State
	Effects []Effect
}

// ErrInvalidTransition is returned when an event does not apply to a state.
var ErrInvalidTransition = errors.New("invalid transition")

type edge struct {
	from  jobs.State
	event Event
}

var transitions = map[edge]Transition{
	{jobs.StateNew, EventApprove}: {
		To: jobs.StateApproved,
	},
	{jobs.StateNew, EventDecline}: {
		To: jobs.StateDeclined,
	},
	{jobs.StateDeclined, EventScan}: {
		To: jobs.StateFinished,
		Effects: []Effect{
			EffectRollbackTags,
			EffectReleaseClaims,
			EffectMarkDeclined,
			EffectDropDescriptors,
			EffectNotifyOwner,
		},
	},
	{jobs.StateApproved, EventScan}: {
		To: jobs.StateRunning,
		Effects: []Effect{
			EffectClaimFiles,
			EffectMarkRunning,
			EffectPromoteTags,
		},
	},
	{jobs.StateRunning, EventConfirmed}: {
		To: jobs.StateFinished,
		Effects: []Effect{
			EffectMarkComplete,
			EffectNotifyOwner,
		},
	},
	{jobs.StateRunning, EventFailed}: {
		To: jobs.StateError,
		Effects: []Effect{
			EffectNotifyAdmin,
		},
	},
	{jobs.StateError, EventReset}: {
		To: jobs.StateRunning,
		Effects: []Effect{
			EffectResetErrors,
		},
	},
}

// Plan returns the transition event causes from state. It has no side effects.
func Plan(from jobs.State, event Event) (Transition, error) {
	t, ok := transitions[edge{from, event}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s on %s job", ErrInvalidTransition, event, from)
	}
	t.From = from
	t.Event = event
	t.Effects = append([]Effect(nil), t.Effects...)
	return t, nil
}

// Has reports whether the transition includes effect.
func (t Transition) Has(effect Effect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}
