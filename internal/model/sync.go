package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncAction identifies the work a sync job performs. The queue processor
// dispatches with an exhaustive switch; unknown values fail the job rather
// than being silently ignored.
type SyncAction string

const (
	ActionUpsertEvent   SyncAction = "UPSERT_EVENT"
	ActionDeleteEvent   SyncAction = "DELETE_EVENT"
	ActionPullCalendars SyncAction = "PULL_CALENDARS"
)

// IsValid returns true if the action is a known valid value.
func (a SyncAction) IsValid() bool {
	switch a {
	case ActionUpsertEvent, ActionDeleteEvent, ActionPullCalendars:
		return true
	}
	return false
}

// SyncJobStatus is the queue state of a sync job.
type SyncJobStatus string

const (
	JobStatusPending    SyncJobStatus = "PENDING"
	JobStatusProcessing SyncJobStatus = "PROCESSING"
	JobStatusDone       SyncJobStatus = "DONE"
	JobStatusError      SyncJobStatus = "ERROR"
)

// SyncJob represents the sync_jobs table: one unit of outbound or inbound
// synchronization work. Claimed via a conditional update so two workers can
// never process the same job concurrently.
type SyncJob struct {
	ID           uuid.UUID     `json:"id"`
	OrgID        uuid.UUID     `json:"org_id"`
	UserID       uuid.UUID     `json:"user_id"`
	EventID      *uuid.UUID    `json:"event_id,omitempty"`
	Action       SyncAction    `json:"action"`
	Status       SyncJobStatus `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	BackoffMs    int64         `json:"backoff_ms"`
	RunAfter     time.Time     `json:"run_after"` // UTC
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SyncJobAttempt represents the sync_job_attempts table: an immutable audit
// row per processing attempt. Append-only, never updated.
type SyncJobAttempt struct {
	ID            uuid.UUID  `json:"id"`
	JobID         uuid.UUID  `json:"job_id"`
	Action        SyncAction `json:"action"`
	Status        string     `json:"status"` // SUCCESS, ERROR or STUCK_RESET
	AttemptNumber int        `json:"attempt_number"`
	Retryable     bool       `json:"retryable"`
	BackoffMs     int64      `json:"backoff_ms"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Attempt statuses.
const (
	AttemptSuccess    = "SUCCESS"
	AttemptError      = "ERROR"
	AttemptStuckReset = "STUCK_RESET"
)

// SyncRunSource identifies what triggered a drain cycle.
type SyncRunSource string

const (
	RunSourceCron   SyncRunSource = "cron"
	RunSourceManual SyncRunSource = "manual"
)

// SyncRun represents the sync_runs table: one row per queue-drain cycle.
// Append-only.
type SyncRun struct {
	ID         uuid.UUID     `json:"id"`
	Source     SyncRunSource `json:"source"`
	Status     string        `json:"status"` // RUNNING, OK or PARTIAL
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// HealthFlag names a breached health threshold.
type HealthFlag string

const (
	FlagCronStale     HealthFlag = "cron_stale"
	FlagQueueHigh     HealthFlag = "queue_high"
	FlagErrorRateHigh HealthFlag = "error_rate_high"
)

// HealthAlert represents the health_alerts table. Alerts carrying the same
// flag are deduplicated against a rolling window.
type HealthAlert struct {
	ID        uuid.UUID  `json:"id"`
	Flag      HealthFlag `json:"flag"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}
