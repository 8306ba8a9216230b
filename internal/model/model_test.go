package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncActionIsValid(t *testing.T) {
	assert.True(t, ActionUpsertEvent.IsValid())
	assert.True(t, ActionDeleteEvent.IsValid())
	assert.True(t, ActionPullCalendars.IsValid())
	assert.False(t, SyncAction("").IsValid())
	assert.False(t, SyncAction("REINDEX").IsValid())
}

func TestHoldIsLive(t *testing.T) {
	now := time.Now().UTC()
	h := &CalendarHold{Status: HoldStatusActive, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, h.IsLive(now))

	h.ExpiresAt = now.Add(-time.Minute)
	assert.False(t, h.IsLive(now))

	h.ExpiresAt = now.Add(time.Minute)
	h.Status = HoldStatusCancelled
	assert.False(t, h.IsLive(now))
}

func TestRuleFor(t *testing.T) {
	a := &RemoteAccount{CalendarRules: []CalendarRule{
		{CalendarID: "work", BlockIfBusyOnly: false, BlockAllDay: true},
	}}

	rule := a.RuleFor("work")
	assert.False(t, rule.BlockIfBusyOnly)
	assert.True(t, rule.BlockAllDay)

	// Unknown calendars get the conservative default.
	rule = a.RuleFor("personal")
	assert.True(t, rule.BlockIfBusyOnly)
	assert.False(t, rule.BlockAllDay)
}

func TestHasScope(t *testing.T) {
	a := &RemoteAccount{Scopes: []string{"https://www.googleapis.com/auth/calendar"}}
	assert.True(t, a.HasScope("https://www.googleapis.com/auth/calendar"))
	assert.False(t, a.HasScope("https://www.googleapis.com/auth/calendar.readonly"))
}
