package service

import (
	"context"
	"fmt"
	"time"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/monitoring"
)

const (
	// Thresholds for the health flags.
	queueHighThreshold = 50
	errorRateThreshold = 0.3
	cronStaleThreshold = 10 * time.Minute

	attemptSampleSize = 50

	// AlertDedupeWindow suppresses repeat alerts for the same flag during an
	// ongoing incident while still re-alerting if it persists past the
	// window.
	AlertDedupeWindow = 30 * time.Minute
)

// HealthSnapshot is the queue-health view served to operators.
type HealthSnapshot struct {
	QueueDepth    int        `json:"queue_depth"`
	StuckJobs     int        `json:"stuck_jobs"`
	RecentSuccess int        `json:"recent_success"`
	RecentErrors  int        `json:"recent_errors"`
	ErrorRate     float64    `json:"error_rate"`
	LastCronRunAt *time.Time `json:"last_cron_run_at,omitempty"`

	CronStale     bool `json:"cron_stale"`
	QueueHigh     bool `json:"queue_high"`
	ErrorRateHigh bool `json:"error_rate_high"`
}

// HealthService computes queue-health snapshots and emits deduplicated
// alerts when thresholds are breached.
type HealthService struct {
	jobs   JobStore
	alerts AlertStore

	now func() time.Time
}

func NewHealthService(jobs JobStore, alerts AlertStore) *HealthService {
	return &HealthService{jobs: jobs, alerts: alerts, now: time.Now}
}

// Snapshot gathers queue depth, stuck count, recent error rate and drain
// staleness.
func (s *HealthService) Snapshot(ctx context.Context) (*HealthSnapshot, error) {
	now := s.now().UTC()
	snap := &HealthSnapshot{}

	var err error
	if snap.QueueDepth, err = s.jobs.CountOpen(ctx); err != nil {
		return nil, err
	}
	if snap.StuckJobs, err = s.jobs.CountStuck(ctx, StuckThreshold, now); err != nil {
		return nil, err
	}
	if snap.RecentSuccess, snap.RecentErrors, err = s.jobs.RecentAttemptStats(ctx, attemptSampleSize); err != nil {
		return nil, err
	}
	if total := snap.RecentSuccess + snap.RecentErrors; total > 0 {
		snap.ErrorRate = float64(snap.RecentErrors) / float64(total)
	}
	if snap.LastCronRunAt, err = s.jobs.LastRunAt(ctx, model.RunSourceCron); err != nil {
		return nil, err
	}

	snap.QueueHigh = snap.QueueDepth > queueHighThreshold
	snap.ErrorRateHigh = snap.ErrorRate > errorRateThreshold
	snap.CronStale = snap.LastCronRunAt == nil || now.Sub(*snap.LastCronRunAt) > cronStaleThreshold

	monitoring.SyncQueueDepth.Set(float64(snap.QueueDepth))
	monitoring.SyncStuckJobs.Set(float64(snap.StuckJobs))
	return snap, nil
}

// Evaluate takes a snapshot and writes an alert for each raised flag, unless
// an alert with the same flag already exists inside the dedupe window.
func (s *HealthService) Evaluate(ctx context.Context) (*HealthSnapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	type raised struct {
		flag    model.HealthFlag
		message string
	}
	var flags []raised
	if snap.CronStale {
		flags = append(flags, raised{model.FlagCronStale, "scheduled drain cycle has not run recently"})
	}
	if snap.QueueHigh {
		flags = append(flags, raised{model.FlagQueueHigh, fmt.Sprintf("open sync queue depth %d exceeds %d", snap.QueueDepth, queueHighThreshold)})
	}
	if snap.ErrorRateHigh {
		flags = append(flags, raised{model.FlagErrorRateHigh, fmt.Sprintf("sync error rate %.2f exceeds %.2f", snap.ErrorRate, errorRateThreshold)})
	}

	since := s.now().UTC().Add(-AlertDedupeWindow)
	for _, f := range flags {
		exists, err := s.alerts.ExistsSince(ctx, f.flag, since)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := s.alerts.Create(ctx, &model.HealthAlert{Flag: f.flag, Message: f.message}); err != nil {
			return nil, err
		}
		monitoring.EmitAlert(string(f.flag), f.message, map[string]string{
			"queue_depth": fmt.Sprintf("%d", snap.QueueDepth),
			"stuck_jobs":  fmt.Sprintf("%d", snap.StuckJobs),
		})
	}
	return snap, nil
}
