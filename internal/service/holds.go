package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

const (
	// HoldTTL is how long a tentative reservation blocks time before
	// expiring on its own.
	HoldTTL = 10 * time.Minute

	defaultOptionCount   = 3
	defaultLookaheadDays = 10
)

// OptionRequest asks for a fresh set of tentative time options for a lead.
type OptionRequest struct {
	OrgID           uuid.UUID
	LeadID          uuid.UUID
	WorkerIDs       []uuid.UUID
	DurationMinutes int
	Count           int // 0 means 3
	LookaheadDays   int // 0 means 10
	Source          string
}

// HoldService creates and resolves tentative reservations for automated
// intake.
type HoldService struct {
	holds     HoldStore
	scheduler *Scheduler

	now func() time.Time
}

func NewHoldService(holds HoldStore, scheduler *Scheduler) *HoldService {
	return &HoldService{holds: holds, scheduler: scheduler, now: time.Now}
}

// GenerateOptions computes availability per candidate worker over the
// lookahead window and reserves up to Count distinct start times as ACTIVE
// holds. The previous option set for (lead, source) is retired in the same
// transaction that creates the new one. A global de-dup set keeps the same
// UTC instant from being offered twice across different workers.
func (s *HoldService) GenerateOptions(ctx context.Context, req OptionRequest) ([]*model.CalendarHold, error) {
	if len(req.WorkerIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one worker is required", ErrValidation)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	count := req.Count
	if count == 0 {
		count = defaultOptionCount
	}
	lookahead := req.LookaheadDays
	if lookahead == 0 {
		lookahead = defaultLookaheadDays
	}
	source := req.Source
	if source == "" {
		source = model.HoldSourceAutomatedIntake
	}

	now := s.now().UTC()
	taken := map[time.Time]bool{}
	var holds []*model.CalendarHold

	duration := time.Duration(req.DurationMinutes) * time.Minute
	expiresAt := now.Add(HoldTTL)

outer:
	for dayOffset := 1; dayOffset <= lookahead; dayOffset++ {
		for _, workerID := range req.WorkerIDs {
			// Each worker's availability is computed in their own zone; the
			// date offset is anchored to UTC which is close enough for a
			// rolling lookahead.
			date := timeutil.DateOf(now, time.UTC).AddDays(dayOffset)
			result, err := s.scheduler.Availability(ctx, AvailabilityRequest{
				OrgID:              req.OrgID,
				WorkerID:           workerID,
				Date:               date,
				DurationMinutes:    req.DurationMinutes,
				ExcludeHoldsOfLead: &req.LeadID,
				ExcludeHoldSource:  source,
			})
			if err != nil {
				return nil, err
			}
			for _, slot := range result.Slots {
				if taken[slot] {
					continue
				}
				taken[slot] = true
				holds = append(holds, &model.CalendarHold{
					WorkerID:  workerID,
					StartAt:   slot,
					EndAt:     slot.Add(duration),
					ExpiresAt: expiresAt,
				})
				if len(holds) >= count {
					break outer
				}
				break // at most one option per worker per day
			}
		}
	}

	if err := s.holds.RetireAndCreate(ctx, req.OrgID, req.LeadID, source, holds); err != nil {
		return nil, err
	}
	log.Info().
		Str("lead_id", req.LeadID.String()).
		Int("options", len(holds)).
		Msg("Generated hold option set")
	return holds, nil
}

// Get returns one hold, or nil when it does not exist.
func (s *HoldService) Get(ctx context.Context, id uuid.UUID) (*model.CalendarHold, error) {
	return s.holds.GetByID(ctx, id)
}

// CancelOptions cancels the lead's live option set, freeing the held time
// before the TTL runs out.
func (s *HoldService) CancelOptions(ctx context.Context, orgID, leadID uuid.UUID, source string) error {
	if source == "" {
		source = model.HoldSourceAutomatedIntake
	}
	if err := s.holds.CancelSet(ctx, orgID, leadID, source); err != nil {
		return err
	}
	log.Info().Str("lead_id", leadID.String()).Msg("Cancelled hold option set")
	return nil
}

// Confirm promotes the chosen hold to CONFIRMED, cancels its siblings and
// books the real event.
func (s *HoldService) Confirm(ctx context.Context, holdID uuid.UUID, eventType model.EventType, title string) (*model.Event, error) {
	h, err := s.holds.Confirm(ctx, holdID)
	if err != nil {
		return nil, err
	}

	e := &model.Event{
		OrgID:     h.OrgID,
		Type:      eventType,
		Status:    model.EventStatusScheduled,
		Busy:      true,
		StartAt:   h.StartAt,
		EndAt:     h.EndAt,
		WorkerIDs: []uuid.UUID{h.WorkerID},
		Title:     title,
	}
	if err := s.scheduler.Book(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
