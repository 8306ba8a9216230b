package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/gcal"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// Storage interfaces consumed by the services. The store package satisfies
// them; tests substitute fakes.

type SettingsStore interface {
	GetOrCreate(ctx context.Context, orgID uuid.UUID) (*model.OrgCalendarSettings, error)
	GetWorkingHours(ctx context.Context, orgID, workerID uuid.UUID, weekday int) (*model.WorkingHours, error)
}

type EventStore interface {
	Create(ctx context.Context, e *model.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Event, error)
	Update(ctx context.Context, e *model.Event) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ListBusyInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]model.Event, error)
	GetByExternalID(ctx context.Context, orgID uuid.UUID, calendarID, externalEventID string) (*model.Event, error)
	ListExternalBlocks(ctx context.Context, orgID uuid.UUID, calendarID string, from, to time.Time) ([]model.Event, error)
	SetSyncStatus(ctx context.Context, id uuid.UUID, state model.SyncState, externalCalendarID, externalEventID string) error
}

type HoldStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.CalendarHold, error)
	ListLiveInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to, now time.Time, excludeID *uuid.UUID) ([]model.CalendarHold, error)
	RetireAndCreate(ctx context.Context, orgID, leadID uuid.UUID, source string, holds []*model.CalendarHold) error
	Confirm(ctx context.Context, id uuid.UUID) (*model.CalendarHold, error)
	CancelSet(ctx context.Context, orgID, leadID uuid.UUID, source string) error
}

type TimeOffStore interface {
	ListInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to time.Time) ([]model.TimeOff, error)
}

type JobStore interface {
	Enqueue(ctx context.Context, j *model.SyncJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SyncJob, error)
	NextDue(ctx context.Context, now time.Time) (uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*model.SyncJob, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, lastError string, backoffMs int64, runAfter time.Time) error
	ResetStuck(ctx context.Context, threshold time.Duration, now time.Time) ([]model.SyncJob, error)
	RetryAllFailed(ctx context.Context, now time.Time) (int64, error)
	HasOpenJob(ctx context.Context, orgID, userID uuid.UUID, action model.SyncAction) (bool, error)
	LogAttempt(ctx context.Context, a *model.SyncJobAttempt) error
	CreateRun(ctx context.Context, source model.SyncRunSource) (*model.SyncRun, error)
	FinishRun(ctx context.Context, run *model.SyncRun) error
	LastRunAt(ctx context.Context, source model.SyncRunSource) (*time.Time, error)
	CountOpen(ctx context.Context) (int, error)
	CountStuck(ctx context.Context, threshold time.Duration, now time.Time) (int, error)
	RecentAttemptStats(ctx context.Context, limit int) (succeeded, failed int, err error)
}

type AccountStore interface {
	Upsert(ctx context.Context, a *model.RemoteAccount) error
	GetByOrgUser(ctx context.Context, orgID, userID uuid.UUID) (*model.RemoteAccount, error)
	ListEnabled(ctx context.Context, limit int) ([]model.RemoteAccount, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	SetSyncStatus(ctx context.Context, id uuid.UUID, status, syncError string, lastSyncAt *time.Time) error
	Disable(ctx context.Context, id uuid.UUID, syncError string) error
	Disconnect(ctx context.Context, orgID, userID uuid.UUID) error
}

type AlertStore interface {
	Create(ctx context.Context, a *model.HealthAlert) error
	ExistsSince(ctx context.Context, flag model.HealthFlag, since time.Time) (bool, error)
}

// CalendarGateway is the capability-scoped client for the remote calendar
// provider. The rest of the engine only ever deals with UTC instants and an
// allDay flag; payload shaping lives behind this interface.
type CalendarGateway interface {
	ExchangeCode(ctx context.Context, code string) (*gcal.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*gcal.Token, error)
	ListCalendars(ctx context.Context, accessToken string) ([]gcal.Calendar, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, p gcal.EventPayload) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, p gcal.EventPayload) error
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
	ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]gcal.RemoteEvent, error)
}
