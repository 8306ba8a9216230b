package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

// ErrValidation marks inputs rejected before any side effect.
var ErrValidation = errors.New("validation failed")

var validSlotSizes = map[int]bool{15: true, 30: true, 60: true, 90: true}

// Hours of working time assumed when a worker has no explicit window for a
// weekday.
const defaultWindowHours = 8

// AvailabilityRequest asks for open slot start times for one worker on one
// local date.
type AvailabilityRequest struct {
	OrgID           uuid.UUID
	WorkerID        uuid.UUID
	Date            timeutil.LocalDate
	DurationMinutes int
	StepMinutes     int // 0 means the org default slot size

	// IgnoreEvents opts out of event blocking, used when rescheduling should
	// not collide with the booking being moved.
	IgnoreEvents   bool
	ExcludeEventID *uuid.UUID
	ExcludeHoldID  *uuid.UUID

	// ExcludeHoldsOfLead skips live holds owned by (lead, source), so a
	// lead's regenerated option set may reuse its own held slots.
	ExcludeHoldsOfLead *uuid.UUID
	ExcludeHoldSource  string
}

// AvailabilityResult carries open slot start instants and the zone they were
// computed in.
type AvailabilityResult struct {
	Slots    []time.Time `json:"slots"`
	Timezone string      `json:"timezone"`
}

// Scheduler computes availability and owns booking writes. There is no lock
// between an availability read and a booking write: two concurrent requests
// can both observe a slot as free and both book it. Known, accepted gap; the
// hold flow narrows the window for automated intake.
type Scheduler struct {
	settings SettingsStore
	events   EventStore
	jobs     JobStore
	accounts AccountStore
	finder   *BlockedFinder

	now func() time.Time
}

func NewScheduler(settings SettingsStore, events EventStore, jobs JobStore, accounts AccountStore, finder *BlockedFinder) *Scheduler {
	return &Scheduler{settings: settings, events: events, jobs: jobs, accounts: accounts, finder: finder, now: time.Now}
}

// workerWindow resolves the worker's window for a weekday, deriving the
// default (untimed start hour + 8h) when no explicit row exists.
func (s *Scheduler) workerWindow(ctx context.Context, settings *model.OrgCalendarSettings, workerID uuid.UUID, weekday int) (startMin, endMin int, working bool, zone string, err error) {
	wh, err := s.settings.GetWorkingHours(ctx, settings.OrgID, workerID, weekday)
	if err != nil {
		return 0, 0, false, "", err
	}
	if wh == nil {
		start := settings.DefaultUntimedStartHour * 60
		end := start + defaultWindowHours*60
		if end > timeutil.MinutesPerDay {
			end = timeutil.MinutesPerDay
		}
		return start, end, true, settings.CalendarTimezone, nil
	}
	zone = wh.Timezone
	if zone == "" {
		zone = settings.CalendarTimezone
	}
	return wh.StartMinute, wh.EndMinute, wh.IsWorking, zone, nil
}

// Availability returns slot start times on the requested date such that a
// booking of the requested duration overlaps nothing that existed at
// computation time.
func (s *Scheduler) Availability(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	if req.DurationMinutes <= 0 || req.DurationMinutes > timeutil.MinutesPerDay {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrValidation, timeutil.MinutesPerDay)
	}
	if req.StepMinutes < 0 {
		return nil, fmt.Errorf("%w: step must not be negative", ErrValidation)
	}

	settings, err := s.settings.GetOrCreate(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	step := req.StepMinutes
	if step == 0 {
		step = settings.DefaultSlotMinutes
	}
	if !validSlotSizes[step] {
		return nil, fmt.Errorf("%w: step must be one of 15, 30, 60, 90", ErrValidation)
	}

	weekday := int(req.Date.Weekday())
	windowStart, windowEnd, working, zoneName, err := s.workerWindow(ctx, settings, req.WorkerID, weekday)
	if err != nil {
		return nil, err
	}
	loc, err := timeutil.LoadZone(zoneName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	result := &AvailabilityResult{Timezone: zoneName}
	if !working || windowEnd-windowStart < req.DurationMinutes {
		return result, nil
	}

	blocked, err := s.finder.Find(ctx, BlockQuery{
		OrgID:              req.OrgID,
		WorkerID:           req.WorkerID,
		Date:               req.Date,
		Zone:               loc,
		IncludeEvents:      !settings.AllowOverlaps && !req.IgnoreEvents,
		IncludeHolds:       true,
		IncludeTimeOff:     true,
		ExcludeEventID:     req.ExcludeEventID,
		ExcludeHoldID:      req.ExcludeHoldID,
		ExcludeHoldsOfLead: req.ExcludeHoldsOfLead,
		ExcludeHoldSource:  req.ExcludeHoldSource,
	})
	if err != nil {
		return nil, err
	}
	merged := MergeIntervals(blocked)

	for candidate := windowStart; candidate+req.DurationMinutes <= windowEnd; candidate += step {
		candidateEnd := candidate + req.DurationMinutes
		free := true
		for _, iv := range merged {
			if iv.Overlaps(candidate, candidateEnd) {
				free = false
				break
			}
		}
		if free {
			result.Slots = append(result.Slots, timeutil.AtMinute(req.Date, candidate, loc))
		}
	}
	return result, nil
}

// Book creates a busy event and enqueues outbound sync for each assigned
// worker that has a connected account. An event with no connected worker is
// stored with sync state NONE and never enters the queue. The write is not
// serialized against concurrent availability reads.
func (s *Scheduler) Book(ctx context.Context, e *model.Event) error {
	if e.EndAt.Before(e.StartAt) || e.EndAt.Equal(e.StartAt) {
		return fmt.Errorf("%w: event end must be after start", ErrValidation)
	}
	if len(e.WorkerIDs) == 0 {
		return fmt.Errorf("%w: event needs at least one worker", ErrValidation)
	}
	e.Busy = true

	connected := s.connectedWorkers(ctx, e.OrgID, e.WorkerIDs)
	if len(connected) > 0 {
		e.SyncStatus = model.SyncStatePending
	} else {
		e.SyncStatus = model.SyncStateNone
	}
	if err := s.events.Create(ctx, e); err != nil {
		return err
	}
	s.enqueue(ctx, e, model.ActionUpsertEvent, connected)
	return nil
}

// CancelBooking cancels an event and propagates the deletion outward.
func (s *Scheduler) CancelBooking(ctx context.Context, eventID uuid.UUID) error {
	e, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("event %s not found", eventID)
	}
	if err := s.events.Cancel(ctx, eventID); err != nil {
		return err
	}
	if e.ExternalEventID != "" {
		s.enqueue(ctx, e, model.ActionDeleteEvent, s.connectedWorkers(ctx, e.OrgID, e.WorkerIDs))
	}
	return nil
}

// connectedWorkers filters to workers with an enabled remote account. A job
// for anyone else could only fail permanently in the queue.
func (s *Scheduler) connectedWorkers(ctx context.Context, orgID uuid.UUID, workerIDs []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, workerID := range workerIDs {
		a, err := s.accounts.GetByOrgUser(ctx, orgID, workerID)
		if err != nil {
			log.Error().Err(err).Str("worker_id", workerID.String()).Msg("Failed to look up remote account")
			continue
		}
		if a != nil && a.IsEnabled {
			out = append(out, workerID)
		}
	}
	return out
}

func (s *Scheduler) enqueue(ctx context.Context, e *model.Event, action model.SyncAction, workerIDs []uuid.UUID) {
	for _, workerID := range workerIDs {
		job := &model.SyncJob{OrgID: e.OrgID, UserID: workerID, EventID: &e.ID, Action: action}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			log.Error().Err(err).Str("event_id", e.ID.String()).Msg("Failed to enqueue sync job")
		}
	}
}
