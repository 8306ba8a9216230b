package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/service"
	"github.com/teresa-solution/calendar-sync-service/internal/timeutil"
)

func httpError(err error) error {
	if errors.Is(err, service.ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	log.Error().Err(err).Msg("Request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.QueryParam(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

type availabilityQuery struct {
	OrgID    string `query:"org" validate:"required,uuid"`
	WorkerID string `query:"worker" validate:"required,uuid"`
	Date     string `query:"date" validate:"required"`
	Duration int    `query:"duration" validate:"required,min=1"`
	Step     int    `query:"step" validate:"omitempty,oneof=15 30 60 90"`
}

func (s *Server) handleAvailability(c echo.Context) error {
	var q availabilityQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	date, err := timeutil.ParseLocalDate(q.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.scheduler.Availability(c.Request().Context(), service.AvailabilityRequest{
		OrgID:           uuid.MustParse(q.OrgID),
		WorkerID:        uuid.MustParse(q.WorkerID),
		Date:            date,
		DurationMinutes: q.Duration,
		StepMinutes:     q.Step,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type conflictRequest struct {
	OrgID          string    `json:"org_id" validate:"required,uuid"`
	WorkerIDs      []string  `json:"worker_ids" validate:"required,min=1,dive,uuid"`
	StartAt        time.Time `json:"start_at" validate:"required"`
	EndAt          time.Time `json:"end_at" validate:"required"`
	ExcludeEventID *string   `json:"exclude_event_id,omitempty" validate:"omitempty,uuid"`
	ExcludeHoldID  *string   `json:"exclude_hold_id,omitempty" validate:"omitempty,uuid"`
}

func (s *Server) handleConflictCheck(c echo.Context) error {
	var req conflictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	workerIDs := make([]uuid.UUID, len(req.WorkerIDs))
	for i, w := range req.WorkerIDs {
		workerIDs[i] = uuid.MustParse(w)
	}
	cr := service.ConflictRequest{
		OrgID:     uuid.MustParse(req.OrgID),
		WorkerIDs: workerIDs,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
	}
	if req.ExcludeEventID != nil {
		id := uuid.MustParse(*req.ExcludeEventID)
		cr.ExcludeEventID = &id
	}
	if req.ExcludeHoldID != nil {
		id := uuid.MustParse(*req.ExcludeHoldID)
		cr.ExcludeHoldID = &id
	}

	conflicts, err := s.conflicts.Check(c.Request().Context(), cr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

type generateHoldsRequest struct {
	OrgID     string   `json:"org_id" validate:"required,uuid"`
	LeadID    string   `json:"lead_id" validate:"required,uuid"`
	WorkerIDs []string `json:"worker_ids" validate:"required,min=1,dive,uuid"`
	Duration  int      `json:"duration_minutes" validate:"required,min=1"`
	Count     int      `json:"count" validate:"omitempty,min=1,max=10"`
	Lookahead int      `json:"lookahead_days" validate:"omitempty,min=1,max=60"`
}

func (s *Server) handleGenerateHolds(c echo.Context) error {
	var req generateHoldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	workerIDs := make([]uuid.UUID, len(req.WorkerIDs))
	for i, w := range req.WorkerIDs {
		workerIDs[i] = uuid.MustParse(w)
	}
	holds, err := s.holds.GenerateOptions(c.Request().Context(), service.OptionRequest{
		OrgID:           uuid.MustParse(req.OrgID),
		LeadID:          uuid.MustParse(req.LeadID),
		WorkerIDs:       workerIDs,
		DurationMinutes: req.Duration,
		Count:           req.Count,
		LookaheadDays:   req.Lookahead,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"holds": holds})
}

func (s *Server) handleGetHold(c echo.Context) error {
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}
	h, err := s.holds.Get(c.Request().Context(), holdID)
	if err != nil {
		return httpError(err)
	}
	if h == nil {
		return echo.NewHTTPError(http.StatusNotFound, "hold not found")
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) handleCancelHolds(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	leadID, err := parseUUIDParam(c, "lead")
	if err != nil {
		return err
	}
	if err := s.holds.CancelOptions(c.Request().Context(), orgID, leadID, c.QueryParam("source")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type timeOffRequest struct {
	OrgID    string    `json:"org_id" validate:"required,uuid"`
	WorkerID string    `json:"worker_id" validate:"required,uuid"`
	StartAt  time.Time `json:"start_at" validate:"required"`
	EndAt    time.Time `json:"end_at" validate:"required"`
	Reason   string    `json:"reason"`
}

func (s *Server) handleCreateTimeOff(c echo.Context) error {
	var req timeOffRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !req.EndAt.After(req.StartAt) {
		return echo.NewHTTPError(http.StatusBadRequest, "end_at must be after start_at")
	}

	entry := &model.TimeOff{
		OrgID:    uuid.MustParse(req.OrgID),
		WorkerID: uuid.MustParse(req.WorkerID),
		StartAt:  req.StartAt.UTC(),
		EndAt:    req.EndAt.UTC(),
		Reason:   req.Reason,
	}
	if err := s.timeOff.Create(c.Request().Context(), entry); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleDeleteTimeOff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid time off id")
	}
	if err := s.timeOff.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListTimeOff(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	workerID, err := parseUUIDParam(c, "worker")
	if err != nil {
		return err
	}
	from, err := time.Parse(time.RFC3339, c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	to, err := time.Parse(time.RFC3339, c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	entries, err := s.timeOff.ListInRange(c.Request().Context(), orgID, workerID, from.UTC(), to.UTC())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"time_off": entries})
}

type confirmHoldRequest struct {
	EventType string `json:"event_type" validate:"omitempty,oneof=JOB ESTIMATE FOLLOW_UP"`
	Title     string `json:"title"`
}

func (s *Server) handleConfirmHold(c echo.Context) error {
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}
	var req confirmHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	eventType := model.EventType(req.EventType)
	if eventType == "" {
		eventType = model.EventTypeJob
	}

	event, err := s.holds.Confirm(c.Request().Context(), holdID, eventType, req.Title)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, event)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	settings, err := s.settings.GetOrCreate(c.Request().Context(), orgID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

type updateSettingsRequest struct {
	OrgID                   string `json:"org_id" validate:"required,uuid"`
	AllowOverlaps           bool   `json:"allow_overlaps"`
	DefaultSlotMinutes      int    `json:"default_slot_minutes" validate:"required,oneof=15 30 60 90"`
	DefaultUntimedStartHour int    `json:"default_untimed_start_hour" validate:"min=0,max=23"`
	CalendarTimezone        string `json:"calendar_timezone" validate:"required"`
	WeekStartsOn            int    `json:"week_starts_on" validate:"min=0,max=6"`
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var req updateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !timeutil.ValidZone(req.CalendarTimezone) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid calendar timezone")
	}

	ctx := c.Request().Context()
	orgID := uuid.MustParse(req.OrgID)
	settings, err := s.settings.GetOrCreate(ctx, orgID)
	if err != nil {
		return httpError(err)
	}
	settings.AllowOverlaps = req.AllowOverlaps
	settings.DefaultSlotMinutes = req.DefaultSlotMinutes
	settings.DefaultUntimedStartHour = req.DefaultUntimedStartHour
	settings.CalendarTimezone = req.CalendarTimezone
	settings.WeekStartsOn = req.WeekStartsOn
	if err := s.settings.Update(ctx, settings); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) handleListWorkingHours(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	workerID, err := parseUUIDParam(c, "worker")
	if err != nil {
		return err
	}
	hours, err := s.settings.ListWorkingHours(c.Request().Context(), orgID, workerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"working_hours": hours})
}

type upsertWorkingHoursRequest struct {
	OrgID       string `json:"org_id" validate:"required,uuid"`
	WorkerID    string `json:"worker_id" validate:"required,uuid"`
	Weekday     int    `json:"weekday" validate:"min=0,max=6"`
	IsWorking   bool   `json:"is_working"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1440"`
	EndMinute   int    `json:"end_minute" validate:"min=0,max=1440"`
	Timezone    string `json:"timezone"`
}

func (s *Server) handleUpsertWorkingHours(c echo.Context) error {
	var req upsertWorkingHoursRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.IsWorking && req.EndMinute <= req.StartMinute {
		return echo.NewHTTPError(http.StatusBadRequest, "end_minute must be after start_minute")
	}
	if req.Timezone != "" && !timeutil.ValidZone(req.Timezone) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid timezone")
	}

	wh := &model.WorkingHours{
		OrgID:       uuid.MustParse(req.OrgID),
		WorkerID:    uuid.MustParse(req.WorkerID),
		Weekday:     req.Weekday,
		IsWorking:   req.IsWorking,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		Timezone:    req.Timezone,
	}
	if err := s.settings.UpsertWorkingHours(c.Request().Context(), wh); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wh)
}

func (s *Server) handleConnect(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	userID, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"url": s.accounts.AuthorizeURL(orgID, userID)})
}

func (s *Server) handleCallback(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code")
	}
	a, err := s.accounts.HandleCallback(c.Request().Context(), state, code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"org_id":      a.OrgID,
		"user_id":     a.UserID,
		"provider":    a.Provider,
		"is_enabled":  a.IsEnabled,
		"sync_status": a.SyncStatus,
	})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	orgID, err := parseUUIDParam(c, "org")
	if err != nil {
		return err
	}
	userID, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}
	if err := s.accounts.Disconnect(c.Request().Context(), orgID, userID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type syncRunRequest struct {
	JobLimit     int `json:"job_limit" validate:"omitempty,min=1,max=200"`
	AccountLimit int `json:"account_limit" validate:"omitempty,min=1,max=50"`
}

func (s *Server) handleSyncRun(c echo.Context) error {
	req := syncRunRequest{}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.JobLimit == 0 {
		req.JobLimit = 25
	}
	if req.AccountLimit == 0 {
		req.AccountLimit = 10
	}
	run, err := s.processor.RunCycle(c.Request().Context(), model.RunSourceManual, req.JobLimit, req.AccountLimit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetSyncJob(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, err := s.processor.Job(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleRetryFailed(c echo.Context) error {
	n, err := s.processor.RetryAllFailed(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"reset": n})
}

func (s *Server) handleClearStuck(c echo.Context) error {
	n, err := s.processor.SweepStuck(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) handleSyncHealth(c echo.Context) error {
	snap, err := s.health.Snapshot(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}
