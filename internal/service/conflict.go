package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

// Conflict names one blocking source touched by a candidate interval.
type Conflict struct {
	WorkerID uuid.UUID   `json:"worker_id"`
	Source   BlockSource `json:"source"`
	SourceID uuid.UUID   `json:"source_id"`
}

// ConflictRequest is a candidate UTC interval checked against a set of
// workers.
type ConflictRequest struct {
	OrgID     uuid.UUID
	WorkerIDs []uuid.UUID
	StartAt   time.Time
	EndAt     time.Time

	ExcludeEventID *uuid.UUID
	ExcludeHoldID  *uuid.UUID
}

// ConflictDetector reports every already-committed interval overlapping a
// candidate. Read-only: callers decide whether to reject or warn.
type ConflictDetector struct {
	settings SettingsStore
	finder   *BlockedFinder
}

func NewConflictDetector(settings SettingsStore, finder *BlockedFinder) *ConflictDetector {
	return &ConflictDetector{settings: settings, finder: finder}
}

// Check computes, per worker, the local date(s) the candidate touches in
// that worker's own zone (a UTC interval can straddle a local-date boundary),
// fetches blocked intervals per date, and reports every overlap deduplicated
// by (worker, source, sourceId).
func (d *ConflictDetector) Check(ctx context.Context, req ConflictRequest) ([]Conflict, error) {
	if !req.EndAt.After(req.StartAt) {
		return nil, fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	settings, err := d.settings.GetOrCreate(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	seen := map[string]bool{}

	for _, workerID := range req.WorkerIDs {
		zoneName, err := d.workerZone(ctx, settings.OrgID, workerID, req.StartAt, settings.CalendarTimezone)
		if err != nil {
			return nil, err
		}
		loc, err := timeutil.LoadZone(zoneName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		for _, date := range datesTouched(req.StartAt, req.EndAt, loc) {
			candStart, candEnd, ok := timeutil.ClampToDay(req.StartAt, req.EndAt, date, loc)
			if !ok {
				continue
			}
			blocked, err := d.finder.Find(ctx, BlockQuery{
				OrgID:          req.OrgID,
				WorkerID:       workerID,
				Date:           date,
				Zone:           loc,
				IncludeEvents:  true,
				IncludeHolds:   true,
				IncludeTimeOff: true,
				ExcludeEventID: req.ExcludeEventID,
				ExcludeHoldID:  req.ExcludeHoldID,
			})
			if err != nil {
				return nil, err
			}
			for _, iv := range blocked {
				if !iv.Overlaps(candStart, candEnd) {
					continue
				}
				key := workerID.String() + "/" + string(iv.Source) + "/" + iv.SourceID.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				conflicts = append(conflicts, Conflict{WorkerID: workerID, Source: iv.Source, SourceID: iv.SourceID})
			}
		}
	}
	return conflicts, nil
}

// workerZone resolves the worker's own zone from their working-hours row for
// the weekday the candidate starts on, falling back to the org zone.
func (d *ConflictDetector) workerZone(ctx context.Context, orgID, workerID uuid.UUID, startAt time.Time, orgZone string) (string, error) {
	orgLoc, err := timeutil.LoadZone(orgZone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	weekday := int(timeutil.DateOf(startAt, orgLoc).Weekday())
	wh, err := d.settings.GetWorkingHours(ctx, orgID, workerID, weekday)
	if err != nil {
		return "", err
	}
	if wh != nil && wh.Timezone != "" {
		return wh.Timezone, nil
	}
	return orgZone, nil
}

// datesTouched returns the 1 or 2 local dates a UTC interval covers in loc.
// The end instant is exclusive.
func datesTouched(startAt, endAt time.Time, loc *time.Location) []timeutil.LocalDate {
	first := timeutil.DateOf(startAt, loc)
	last := timeutil.DateOf(endAt.Add(-time.Nanosecond), loc)
	if last == first {
		return []timeutil.LocalDate{first}
	}
	dates := []timeutil.LocalDate{first}
	for d := first.AddDays(1); ; d = d.AddDays(1) {
		dates = append(dates, d)
		if d == last {
			break
		}
	}
	return dates
}
