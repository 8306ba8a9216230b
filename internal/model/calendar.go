package model

import (
	"time"

	"github.com/google/uuid"
)

// OrgCalendarSettings represents the org_calendar_settings table.
// One row per organization, created lazily with defaults.
type OrgCalendarSettings struct {
	ID                      uuid.UUID `json:"id"`
	OrgID                   uuid.UUID `json:"org_id"`
	AllowOverlaps           bool      `json:"allow_overlaps"`
	DefaultSlotMinutes      int       `json:"default_slot_minutes"` // 15, 30, 60 or 90
	DefaultUntimedStartHour int       `json:"default_untimed_start_hour"`
	CalendarTimezone        string    `json:"calendar_timezone"` // IANA name
	WeekStartsOn            int       `json:"week_starts_on"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// WorkingHours represents the working_hours table, keyed by
// (org, worker, weekday). Absence of a row implies a derived default window.
type WorkingHours struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	WorkerID    uuid.UUID `json:"worker_id"`
	Weekday     int       `json:"weekday"` // 0 (Sunday) - 6 (Saturday)
	IsWorking   bool      `json:"is_working"`
	StartMinute int       `json:"start_minute"` // 0-1440, local
	EndMinute   int       `json:"end_minute"`
	Timezone    string    `json:"timezone"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventType classifies the origin of an event.
type EventType string

const (
	EventTypeJob         EventType = "JOB"
	EventTypeEstimate    EventType = "ESTIMATE"
	EventTypeFollowUp    EventType = "FOLLOW_UP"
	EventTypeGoogleBlock EventType = "GOOGLE_BLOCK"
)

// EventStatus is the lifecycle state of an event. Every status except
// CANCELLED counts as busy truth.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "SCHEDULED"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusCancelled EventStatus = "CANCELLED"
)

// SyncState tracks outbound propagation of an event to the remote provider.
type SyncState string

const (
	SyncStateNone    SyncState = "NONE"
	SyncStatePending SyncState = "PENDING"
	SyncStateSynced  SyncState = "SYNCED"
	SyncStateError   SyncState = "ERROR"
)

// ProviderGoogle is the only remote calendar provider currently supported.
const ProviderGoogle = "google"

// Event represents the events table, the unit of busy truth. A row with
// Provider = google and Type = GOOGLE_BLOCK is owned by the pull importer;
// internal scheduling must never edit it except to cancel it when it is no
// longer observed remotely.
type Event struct {
	ID                 uuid.UUID   `json:"id"`
	OrgID              uuid.UUID   `json:"org_id"`
	Type               EventType   `json:"type"`
	Status             EventStatus `json:"status"`
	Busy               bool        `json:"busy"`
	AllDay             bool        `json:"all_day"`
	StartAt            time.Time   `json:"start_at"` // UTC
	EndAt              time.Time   `json:"end_at"`   // UTC
	WorkerIDs          []uuid.UUID `json:"worker_ids"`
	Title              string      `json:"title"`
	Provider           string      `json:"provider,omitempty"`
	ExternalCalendarID string      `json:"external_calendar_id,omitempty"`
	ExternalEventID    string      `json:"external_event_id,omitempty"`
	SyncStatus         SyncState   `json:"sync_status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// HoldStatus is the lifecycle state of a tentative reservation.
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusConfirmed HoldStatus = "CONFIRMED"
	HoldStatusCancelled HoldStatus = "CANCELLED"
	HoldStatusExpired   HoldStatus = "EXPIRED"
)

// HoldSourceAutomatedIntake marks holds created by the automated intake
// conversation flow.
const HoldSourceAutomatedIntake = "automated_intake"

// CalendarHold represents the calendar_holds table: a short-lived tentative
// reservation. At most one live (ACTIVE, unexpired) hold set may exist per
// (lead, source); creating a new set retires the previous one.
type CalendarHold struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	WorkerID  uuid.UUID  `json:"worker_id"`
	LeadID    uuid.UUID  `json:"lead_id"`
	Source    string     `json:"source"`
	StartAt   time.Time  `json:"start_at"` // UTC
	EndAt     time.Time  `json:"end_at"`   // UTC
	Status    HoldStatus `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsLive reports whether the hold still blocks time as of now.
func (h *CalendarHold) IsLive(now time.Time) bool {
	return h.Status == HoldStatusActive && h.ExpiresAt.After(now)
}

// TimeOff represents the time_off table. Always blocking, never synced
// to the remote provider.
type TimeOff struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	WorkerID  uuid.UUID `json:"worker_id"`
	StartAt   time.Time `json:"start_at"` // UTC
	EndAt     time.Time `json:"end_at"`   // UTC
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CalendarRule configures how events from one remote calendar turn into
// local busy blocks.
type CalendarRule struct {
	CalendarID      string `json:"calendar_id"`
	BlockIfBusyOnly bool   `json:"block_if_busy_only"`
	BlockAllDay     bool   `json:"block_all_day"`
}

// RemoteAccount represents the remote_accounts table: one per (org, user).
// Tokens are stored encrypted; the plaintext fields are transient and never
// persisted. Disconnect zeroes credentials but preserves the row.
type RemoteAccount struct {
	ID       uuid.UUID `json:"id"`
	OrgID    uuid.UUID `json:"org_id"`
	UserID   uuid.UUID `json:"user_id"`
	Provider string    `json:"provider"`

	AccessToken  string // Plaintext (transient, not stored in DB)
	RefreshToken string // Plaintext (transient, not stored in DB)

	EncryptedAccessToken  []byte `json:"-"`
	AccessTokenNonce      []byte `json:"-"`
	EncryptedRefreshToken []byte `json:"-"`
	RefreshTokenNonce     []byte `json:"-"`

	ExpiresAt       time.Time      `json:"expires_at"`
	Scopes          []string       `json:"scopes"`
	IsEnabled       bool           `json:"is_enabled"`
	WriteCalendarID string         `json:"write_calendar_id"`
	ReadCalendarIDs []string       `json:"read_calendar_ids"`
	CalendarRules   []CalendarRule `json:"calendar_rules"`
	SyncStatus      string         `json:"sync_status"`
	SyncError       string         `json:"sync_error,omitempty"`
	LastSyncAt      *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RuleFor returns the block rule for a calendar, defaulting to
// busy-only without all-day blocking when no rule is configured.
func (a *RemoteAccount) RuleFor(calendarID string) CalendarRule {
	for _, r := range a.CalendarRules {
		if r.CalendarID == calendarID {
			return r
		}
	}
	return CalendarRule{CalendarID: calendarID, BlockIfBusyOnly: true}
}

// HasScope reports whether the account was granted the given OAuth scope.
func (a *RemoteAccount) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
