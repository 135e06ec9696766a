package workflow_test

import (
	"errors"
	"reflect"
	"testing"

	"archivist/internal/jobs"
	"archivist/internal/workflow"
)

func TestPlanTable(t *testing.T) {
	tests := []struct {
		from    jobs.State
		event   workflow.Event
		to      jobs.State
		effects []workflow.Effect
	}{
		{jobs.StateNew, workflow.EventApprove, jobs.StateApproved, nil},
		{jobs.StateNew, workflow.EventDecline, jobs.StateDeclined, nil},
		{jobs.StateDeclined, workflow.EventScan, jobs.StateFinished, []workflow.Effect{
			workflow.EffectRollbackTags,
			workflow.EffectReleaseClaims,
			workflow.EffectMarkDeclined,
			workflow.EffectDropDescriptors,
			workflow.EffectNotifyOwner,
		}},
		{jobs.StateApproved, workflow.EventScan, jobs.StateRunning, []workflow.Effect{
			workflow.EffectClaimFiles,
			workflow.EffectMarkRunning,
			workflow.EffectPromoteTags,
		}},
		{jobs.StateRunning, workflow.EventConfirmed, jobs.StateFinished, []workflow.Effect{
			workflow.EffectMarkComplete,
			workflow.EffectNotifyOwner,
		}},
		{jobs.StateRunning, workflow.EventFailed, jobs.StateError, []workflow.Effect{
			workflow.EffectNotifyAdmin,
		}},
		{jobs.StateError, workflow.EventReset, jobs.StateRunning, []workflow.Effect{
			workflow.EffectResetErrors,
		}},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"/"+string(tc.event), func(t *testing.T) {
			got, err := workflow.Plan(tc.from, tc.event)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if got.From != tc.from || got.Event != tc.event || got.To != tc.to {
				t.Fatalf("unexpected transition %+v", got)
			}
			if len(got.Effects) != len(tc.effects) || (len(tc.effects) > 0 && !reflect.DeepEqual(got.Effects, tc.effects)) {
				t.Fatalf("effects = %v, want %v", got.Effects, tc.effects)
			}
		})
	}
}

func TestPlanRejectsUnknownEdges(t *testing.T) {
	invalid := []struct {
		from  jobs.State
		event workflow.Event
	}{
		{jobs.StateNew, workflow.EventScan},
		{jobs.StateApproved, workflow.EventApprove},
		{jobs.StateRunning, workflow.EventDecline},
		{jobs.StateError, workflow.EventScan},
		{jobs.StateFinished, workflow.EventReset},
		{jobs.StateDeclined, workflow.EventApprove},
	}
	for _, tc := range invalid {
		if _, err := workflow.Plan(tc.from, tc.event); !errors.Is(err, workflow.ErrInvalidTransition) {
			t.Fatalf("Plan(%s, %s) = %v, want ErrInvalidTransition", tc.from, tc.event, err)
		}
	}
}

func TestPlanReturnsIndependentEffects(t *testing.T) {
	first, err := workflow.Plan(jobs.StateApproved, workflow.EventScan)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	first.Effects[0] = workflow.EffectNotifyAdmin

	second, err := workflow.Plan(jobs.StateApproved, workflow.EventScan)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if second.Effects[0] != workflow.EffectClaimFiles {
		t.Fatalf("planner table was mutated: %v", second.Effects)
	}
	if !second.Has(workflow.EffectPromoteTags) || second.Has(workflow.EffectNotifyOwner) {
		t.Fatalf("Has reported wrong membership for %v", second.Effects)
	}
}
