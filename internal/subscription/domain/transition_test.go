package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		trigger Trigger
		want    bool
	}{
		{"first payment", StatusIncomplete, StatusActive, TriggerProcessor, true},
		{"trial configured", StatusIncomplete, StatusTrialing, TriggerProcessor, true},
		{"trial converts", StatusTrialing, StatusActive, TriggerProcessor, true},
		{"trial charge fails", StatusTrialing, StatusPastDue, TriggerProcessor, true},
		{"recurring charge fails", StatusActive, StatusPastDue, TriggerProcessor, true},
		{"recovered", StatusPastDue, StatusActive, TriggerProcessor, true},
		{"dunning exhausted", StatusPastDue, StatusCanceled, TriggerProcessor, true},
		{"processor cannot pause", StatusActive, StatusPaused, TriggerProcessor, false},
		{"processor cannot revive", StatusCanceled, StatusActive, TriggerProcessor, false},
		{"admin cancel", StatusTrialing, StatusCanceled, TriggerAdmin, true},
		{"admin pause", StatusPastDue, StatusPaused, TriggerAdmin, true},
		{"admin cannot pause canceled", StatusCanceled, StatusPaused, TriggerAdmin, false},
		{"admin cannot revive", StatusCanceled, StatusActive, TriggerAdmin, false},
		{"reactivate", StatusCanceled, StatusActive, TriggerReactivate, true},
		{"reactivate only from canceled", StatusPastDue, StatusActive, TriggerReactivate, false},
		{"unknown trigger", StatusActive, StatusCanceled, Trigger("cron"), false},
		{"same status", StatusActive, StatusActive, TriggerProcessor, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.trigger))
		})
	}
}

func TestFromProcessorStatus(t *testing.T) {
	status, ok := FromProcessorStatus("incomplete_expired")
	assert.True(t, ok)
	assert.Equal(t, StatusCanceled, status)

	status, ok = FromProcessorStatus("past_due")
	assert.True(t, ok)
	assert.Equal(t, StatusPastDue, status)

	_, ok = FromProcessorStatus("mystery")
	assert.False(t, ok)
}

func TestBillingStateStaleness(t *testing.T) {
	var state BillingState
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, state.IsStale(base))
	state.Touch(base)
	assert.False(t, state.IsStale(base))
	assert.True(t, state.IsStale(base.Add(-time.Second)))

	state.Touch(base.Add(-time.Hour))
	assert.Equal(t, base, *state.LastEventAt)

	state.SetStatus(StatusPastDue)
	assert.True(t, state.Active)
	state.SetStatus(StatusPaused)
	assert.False(t, state.Active)
}
