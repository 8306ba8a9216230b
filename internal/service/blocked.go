package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

// BlockSource identifies which table an interval came from.
type BlockSource string

const (
	SourceEvent   BlockSource = "event"
	SourceHold    BlockSource = "hold"
	SourceTimeOff BlockSource = "time_off"
)

// Interval is a blocked span of a worker's local day, in wall-clock minutes
// (0-1440). A span touching the next day is clamped to 1440.
type Interval struct {
	StartMinute int         `json:"start_minute"`
	EndMinute   int         `json:"end_minute"`
	Source      BlockSource `json:"source"`
	SourceID    uuid.UUID   `json:"source_id"`
}

// Overlaps reports whether the interval intersects [startMin, endMin).
func (iv Interval) Overlaps(startMin, endMin int) bool {
	return iv.StartMinute < endMin && startMin < iv.EndMinute
}

// BlockQuery selects the sources to collect and optional self-exclusions so
// a record can check conflicts against other records without colliding with
// itself.
type BlockQuery struct {
	OrgID    uuid.UUID
	WorkerID uuid.UUID
	Date     timeutil.LocalDate
	Zone     *time.Location

	IncludeEvents  bool
	IncludeHolds   bool
	IncludeTimeOff bool

	ExcludeEventID *uuid.UUID
	ExcludeHoldID  *uuid.UUID

	// ExcludeHoldsOfLead skips live holds owned by (lead, source); a lead
	// regenerating its options must not be blocked by its previous set.
	ExcludeHoldsOfLead *uuid.UUID
	ExcludeHoldSource  string
}

// BlockedFinder collects busy events, live holds and time off for a worker's
// local day as local-minute intervals. Output is not merged; merging is the
// caller's responsibility.
type BlockedFinder struct {
	events  EventStore
	holds   HoldStore
	timeOff TimeOffStore

	now func() time.Time
}

func NewBlockedFinder(events EventStore, holds HoldStore, timeOff TimeOffStore) *BlockedFinder {
	return &BlockedFinder{events: events, holds: holds, timeOff: timeOff, now: time.Now}
}

// Find returns every blocked interval touching the requested local day,
// clipped to its bounds.
func (f *BlockedFinder) Find(ctx context.Context, q BlockQuery) ([]Interval, error) {
	dayStart, dayEnd := timeutil.DayBoundsUTC(q.Date, q.Zone)
	var out []Interval

	if f.events != nil && q.IncludeEvents {
		events, err := f.events.ListBusyInRange(ctx, q.OrgID, q.WorkerID, dayStart, dayEnd, q.ExcludeEventID)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if start, end, ok := timeutil.ClampToDay(e.StartAt, e.EndAt, q.Date, q.Zone); ok {
				out = append(out, Interval{StartMinute: start, EndMinute: end, Source: SourceEvent, SourceID: e.ID})
			}
		}
	}

	if f.holds != nil && q.IncludeHolds {
		holds, err := f.holds.ListLiveInRange(ctx, q.OrgID, q.WorkerID, dayStart, dayEnd, f.now().UTC(), q.ExcludeHoldID)
		if err != nil {
			return nil, err
		}
		for _, h := range holds {
			if q.ExcludeHoldsOfLead != nil && h.LeadID == *q.ExcludeHoldsOfLead && h.Source == q.ExcludeHoldSource {
				continue
			}
			if start, end, ok := timeutil.ClampToDay(h.StartAt, h.EndAt, q.Date, q.Zone); ok {
				out = append(out, Interval{StartMinute: start, EndMinute: end, Source: SourceHold, SourceID: h.ID})
			}
		}
	}

	if f.timeOff != nil && q.IncludeTimeOff {
		offs, err := f.timeOff.ListInRange(ctx, q.OrgID, q.WorkerID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		for _, o := range offs {
			if start, end, ok := timeutil.ClampToDay(o.StartAt, o.EndAt, q.Date, q.Zone); ok {
				out = append(out, Interval{StartMinute: start, EndMinute: end, Source: SourceTimeOff, SourceID: o.ID})
			}
		}
	}
	return out, nil
}

// MergeIntervals sorts by start and coalesces overlapping or adjacent
// intervals. The result is minimal: no two output intervals touch. Source
// attribution does not survive merging; callers needing attribution use the
// unmerged list.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartMinute != sorted[j].StartMinute {
			return sorted[i].StartMinute < sorted[j].StartMinute
		}
		return sorted[i].EndMinute < sorted[j].EndMinute
	})

	merged := []Interval{{StartMinute: sorted[0].StartMinute, EndMinute: sorted[0].EndMinute}}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.StartMinute <= last.EndMinute {
			if iv.EndMinute > last.EndMinute {
				last.EndMinute = iv.EndMinute
			}
			continue
		}
		merged = append(merged, Interval{StartMinute: iv.StartMinute, EndMinute: iv.EndMinute})
	}
	return merged
}
