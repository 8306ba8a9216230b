package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

func TestMergeIntervals(t *testing.T) {
	assert.Nil(t, MergeIntervals(nil))
	assert.Nil(t, MergeIntervals([]Interval{}))

	// Overlapping and adjacent intervals coalesce.
	merged := MergeIntervals([]Interval{
		{StartMinute: 540, EndMinute: 600},
		{StartMinute: 570, EndMinute: 660},
		{StartMinute: 660, EndMinute: 720},
		{StartMinute: 900, EndMinute: 960},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, 540, merged[0].StartMinute)
	assert.Equal(t, 720, merged[0].EndMinute)
	assert.Equal(t, 900, merged[1].StartMinute)
	assert.Equal(t, 960, merged[1].EndMinute)

	// No two output intervals touch.
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i].StartMinute, merged[i-1].EndMinute)
	}

	// Contained interval disappears.
	merged = MergeIntervals([]Interval{
		{StartMinute: 0, EndMinute: 1440},
		{StartMinute: 100, EndMinute: 200},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].StartMinute)
	assert.Equal(t, 1440, merged[0].EndMinute)

	// Merging is idempotent.
	again := MergeIntervals(merged)
	assert.Equal(t, merged, again)

	// Input order does not matter.
	a := MergeIntervals([]Interval{{StartMinute: 60, EndMinute: 120}, {StartMinute: 0, EndMinute: 60}})
	require.Len(t, a, 1)
	assert.Equal(t, 0, a[0].StartMinute)
	assert.Equal(t, 120, a[0].EndMinute)
}

func TestIntervalOverlaps(t *testing.T) {
	iv := Interval{StartMinute: 540, EndMinute: 600}
	assert.True(t, iv.Overlaps(570, 630))
	assert.True(t, iv.Overlaps(500, 550))
	assert.True(t, iv.Overlaps(540, 600))
	// Half-open: touching endpoints do not overlap.
	assert.False(t, iv.Overlaps(600, 660))
	assert.False(t, iv.Overlaps(480, 540))
}

func TestBlockedFinder_CollectsAllSources(t *testing.T) {
	orgID := uuid.New()
	workerID := uuid.New()
	loc, err := timeutil.LoadZone("UTC")
	require.NoError(t, err)
	date := timeutil.LocalDate{Year: 2026, Month: time.June, Day: 15}
	now := time.Date(2026, time.June, 14, 12, 0, 0, 0, time.UTC)

	at := func(hour, min int) time.Time {
		return time.Date(2026, time.June, 15, hour, min, 0, 0, time.UTC)
	}

	events := newFakeEvents()
	require.NoError(t, events.Create(context.Background(), &model.Event{
		OrgID: orgID, Type: model.EventTypeJob, Status: model.EventStatusScheduled,
		Busy: true, StartAt: at(9, 0), EndAt: at(10, 0), WorkerIDs: []uuid.UUID{workerID},
	}))

	holds := newFakeHolds(func() time.Time { return now })
	require.NoError(t, holds.RetireAndCreate(context.Background(), orgID, uuid.New(), model.HoldSourceAutomatedIntake,
		[]*model.CalendarHold{{
			WorkerID: workerID, StartAt: at(11, 0), EndAt: at(12, 0),
			ExpiresAt: now.Add(time.Hour),
		}}))

	timeOff := &fakeTimeOff{entries: []model.TimeOff{{
		ID: uuid.New(), OrgID: orgID, WorkerID: workerID, StartAt: at(14, 0), EndAt: at(16, 0),
	}}}

	finder := NewBlockedFinder(events, holds, timeOff)
	finder.now = func() time.Time { return now }

	intervals, err := finder.Find(context.Background(), BlockQuery{
		OrgID: orgID, WorkerID: workerID, Date: date, Zone: loc,
		IncludeEvents: true, IncludeHolds: true, IncludeTimeOff: true,
	})
	require.NoError(t, err)
	require.Len(t, intervals, 3)

	bySource := map[BlockSource]Interval{}
	for _, iv := range intervals {
		bySource[iv.Source] = iv
	}
	assert.Equal(t, 540, bySource[SourceEvent].StartMinute)
	assert.Equal(t, 600, bySource[SourceEvent].EndMinute)
	assert.Equal(t, 660, bySource[SourceHold].StartMinute)
	assert.Equal(t, 840, bySource[SourceTimeOff].StartMinute)
	assert.Equal(t, 960, bySource[SourceTimeOff].EndMinute)
}

func TestBlockedFinder_ExcludesExpiredHolds(t *testing.T) {
	orgID := uuid.New()
	workerID := uuid.New()
	loc := time.UTC
	date := timeutil.LocalDate{Year: 2026, Month: time.June, Day: 15}
	now := time.Date(2026, time.June, 15, 8, 0, 0, 0, time.UTC)
	at := func(hour int) time.Time {
		return time.Date(2026, time.June, 15, hour, 0, 0, 0, time.UTC)
	}

	holds := newFakeHolds(func() time.Time { return now })
	require.NoError(t, holds.RetireAndCreate(context.Background(), orgID, uuid.New(), model.HoldSourceAutomatedIntake,
		[]*model.CalendarHold{
			{WorkerID: workerID, StartAt: at(9), EndAt: at(10), ExpiresAt: now.Add(-time.Minute)},
			{WorkerID: workerID, StartAt: at(11), EndAt: at(12), ExpiresAt: now.Add(time.Minute)},
		}))

	finder := NewBlockedFinder(newFakeEvents(), holds, &fakeTimeOff{})
	finder.now = func() time.Time { return now }

	intervals, err := finder.Find(context.Background(), BlockQuery{
		OrgID: orgID, WorkerID: workerID, Date: date, Zone: loc, IncludeHolds: true,
	})
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, 660, intervals[0].StartMinute)
}

func TestBlockedFinder_SelfExclusion(t *testing.T) {
	orgID := uuid.New()
	workerID := uuid.New()
	date := timeutil.LocalDate{Year: 2026, Month: time.June, Day: 15}
	at := func(hour int) time.Time {
		return time.Date(2026, time.June, 15, hour, 0, 0, 0, time.UTC)
	}

	events := newFakeEvents()
	e := &model.Event{
		OrgID: orgID, Type: model.EventTypeJob, Status: model.EventStatusScheduled,
		Busy: true, StartAt: at(9), EndAt: at(10), WorkerIDs: []uuid.UUID{workerID},
	}
	require.NoError(t, events.Create(context.Background(), e))

	finder := NewBlockedFinder(events, newFakeHolds(time.Now), &fakeTimeOff{})

	intervals, err := finder.Find(context.Background(), BlockQuery{
		OrgID: orgID, WorkerID: workerID, Date: date, Zone: time.UTC,
		IncludeEvents: true, ExcludeEventID: &e.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, intervals)
}
