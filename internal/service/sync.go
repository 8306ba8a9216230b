package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/gcal"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/monitoring"
)

const (
	baseBackoff       = 30 * time.Second
	maxBackoff        = time.Hour
	permanentCooldown = 24 * time.Hour

	// StuckThreshold is how long a job may sit in PROCESSING before the
	// sweep assumes its worker crashed or hung.
	StuckThreshold = 10 * time.Minute

	// Rolling window for inbound pulls.
	pullWindowPast   = 7 * 24 * time.Hour
	pullWindowFuture = 60 * 24 * time.Hour

	defaultCalendarID = "primary"
)

// permanentError marks failures that must not be retried automatically.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// Backoff returns the retry delay after the given attempt number (1-based):
// min(1h, 30s * 2^(attempt-1)).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^22 * 30s already exceeds the cap; avoid shifting into overflow.
	if attempt > 22 {
		return maxBackoff
	}
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// SyncProcessor drains the sync job queue, talking to the remote provider
// through the gateway. Mutual exclusion per job comes solely from the
// conditional claim update in the job store.
type SyncProcessor struct {
	jobs     JobStore
	events   EventStore
	accounts AccountStore
	gateway  CalendarGateway

	now func() time.Time
}

func NewSyncProcessor(jobs JobStore, events EventStore, accounts AccountStore, gateway CalendarGateway) *SyncProcessor {
	return &SyncProcessor{jobs: jobs, events: events, accounts: accounts, gateway: gateway, now: time.Now}
}

// RunCycle executes one drain cycle: schedule inbound pulls for a bounded
// batch of accounts, then claim and execute up to jobLimit due jobs in
// (run_after, created_at) order.
func (p *SyncProcessor) RunCycle(ctx context.Context, source model.SyncRunSource, jobLimit, accountLimit int) (*model.SyncRun, error) {
	run, err := p.jobs.CreateRun(ctx, source)
	if err != nil {
		return nil, err
	}
	started := p.now()
	defer func() {
		monitoring.DrainCycleDuration.Observe(p.now().Sub(started).Seconds())
	}()

	if err := p.schedulePulls(ctx, accountLimit); err != nil {
		log.Error().Err(err).Msg("Failed to schedule account pulls")
	}

	for i := 0; i < jobLimit; i++ {
		now := p.now().UTC()
		id, err := p.jobs.NextDue(ctx, now)
		if err != nil {
			return run, err
		}
		if id == uuid.Nil {
			break
		}
		job, err := p.jobs.Claim(ctx, id, now)
		if err != nil {
			return run, err
		}
		if job == nil {
			// Lost the claim race to a concurrent cycle.
			continue
		}
		run.Processed++
		if p.processJob(ctx, job) {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}

	if err := p.jobs.FinishRun(ctx, run); err != nil {
		return run, err
	}
	log.Info().
		Str("source", string(run.Source)).
		Int("processed", run.Processed).
		Int("failed", run.Failed).
		Msg("Sync drain cycle finished")
	return run, nil
}

func (p *SyncProcessor) schedulePulls(ctx context.Context, limit int) error {
	accounts, err := p.accounts.ListEnabled(ctx, limit)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		open, err := p.jobs.HasOpenJob(ctx, a.OrgID, a.UserID, model.ActionPullCalendars)
		if err != nil {
			return err
		}
		if open {
			continue
		}
		job := &model.SyncJob{OrgID: a.OrgID, UserID: a.UserID, Action: model.ActionPullCalendars}
		if err := p.jobs.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// processJob executes one claimed job and settles its state. Returns true on
// success.
func (p *SyncProcessor) processJob(ctx context.Context, job *model.SyncJob) bool {
	err := p.execute(ctx, job)
	now := p.now().UTC()

	if err == nil {
		if markErr := p.jobs.MarkDone(ctx, job.ID); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID.String()).Msg("Failed to mark job done")
		}
		p.logAttempt(ctx, job, model.AttemptSuccess, false, 0, "")
		monitoring.SyncJobsProcessed.WithLabelValues(string(job.Action), "success").Inc()
		return true
	}

	retryable := p.classify(err)
	var backoff time.Duration
	if retryable {
		backoff = Backoff(job.AttemptCount)
	} else {
		backoff = permanentCooldown
	}
	if markErr := p.jobs.MarkError(ctx, job.ID, err.Error(), backoff.Milliseconds(), now.Add(backoff)); markErr != nil {
		log.Error().Err(markErr).Str("job_id", job.ID.String()).Msg("Failed to mark job errored")
	}
	p.logAttempt(ctx, job, model.AttemptError, retryable, backoff.Milliseconds(), err.Error())
	monitoring.SyncJobsProcessed.WithLabelValues(string(job.Action), "error").Inc()

	if job.EventID != nil {
		if stErr := p.events.SetSyncStatus(ctx, *job.EventID, model.SyncStateError, "", ""); stErr != nil {
			log.Error().Err(stErr).Str("event_id", job.EventID.String()).Msg("Failed to flag event sync error")
		}
	}
	p.recordAccountFailure(ctx, job, err)

	log.Error().Err(err).
		Str("job_id", job.ID.String()).
		Str("action", string(job.Action)).
		Int("attempt", job.AttemptCount).
		Bool("retryable", retryable).
		Msg("Sync job failed")
	return false
}

func (p *SyncProcessor) classify(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if gcal.IsAuthError(err) {
		return false
	}
	return gcal.IsRetryable(err)
}

// recordAccountFailure surfaces provider failures on the account row and
// disables further automatic sync on dead credentials.
func (p *SyncProcessor) recordAccountFailure(ctx context.Context, job *model.SyncJob, err error) {
	a, getErr := p.accounts.GetByOrgUser(ctx, job.OrgID, job.UserID)
	if getErr != nil || a == nil {
		return
	}
	if gcal.IsAuthError(err) {
		if disErr := p.accounts.Disable(ctx, a.ID, err.Error()); disErr != nil {
			log.Error().Err(disErr).Str("account_id", a.ID.String()).Msg("Failed to disable account")
		}
		return
	}
	if job.Action == model.ActionPullCalendars {
		if stErr := p.accounts.SetSyncStatus(ctx, a.ID, "ERROR", err.Error(), nil); stErr != nil {
			log.Error().Err(stErr).Str("account_id", a.ID.String()).Msg("Failed to record account sync error")
		}
	}
}

func (p *SyncProcessor) logAttempt(ctx context.Context, job *model.SyncJob, status string, retryable bool, backoffMs int64, errText string) {
	attempt := &model.SyncJobAttempt{
		JobID:         job.ID,
		Action:        job.Action,
		Status:        status,
		AttemptNumber: job.AttemptCount,
		Retryable:     retryable,
		BackoffMs:     backoffMs,
		Error:         errText,
	}
	if err := p.jobs.LogAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to log sync attempt")
	}
}

// execute dispatches by action. The switch is exhaustive over SyncAction;
// unknown values fail permanently instead of being silently ignored.
func (p *SyncProcessor) execute(ctx context.Context, job *model.SyncJob) error {
	switch job.Action {
	case model.ActionUpsertEvent:
		return p.upsertEvent(ctx, job)
	case model.ActionDeleteEvent:
		return p.deleteEvent(ctx, job)
	case model.ActionPullCalendars:
		return p.pullCalendars(ctx, job)
	default:
		return permanent("unknown sync action %q", job.Action)
	}
}

// connectedAccount loads the job's account and an access token, refreshing
// ahead of expiry by the gateway skew.
func (p *SyncProcessor) connectedAccount(ctx context.Context, job *model.SyncJob) (*model.RemoteAccount, string, error) {
	a, err := p.accounts.GetByOrgUser(ctx, job.OrgID, job.UserID)
	if err != nil {
		return nil, "", err
	}
	if a == nil || !a.IsEnabled {
		return nil, "", permanent("no enabled remote account for org %s user %s", job.OrgID, job.UserID)
	}

	now := p.now().UTC()
	if a.AccessToken != "" && a.ExpiresAt.After(now.Add(gcal.RefreshSkew)) {
		return a, a.AccessToken, nil
	}
	if a.RefreshToken == "" {
		return nil, "", permanent("remote account %s has no refresh token", a.ID)
	}
	tok, err := p.gateway.RefreshToken(ctx, a.RefreshToken)
	if err != nil {
		return nil, "", err
	}
	if err := p.accounts.UpdateTokens(ctx, a.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return nil, "", err
	}
	return a, tok.AccessToken, nil
}

func (p *SyncProcessor) upsertEvent(ctx context.Context, job *model.SyncJob) error {
	if job.EventID == nil {
		return permanent("upsert job %s has no event reference", job.ID)
	}
	e, err := p.events.GetByID(ctx, *job.EventID)
	if err != nil {
		return err
	}
	if e == nil {
		return permanent("event %s not found", *job.EventID)
	}
	if e.Status == model.EventStatusCancelled {
		return p.deleteEvent(ctx, job)
	}

	a, token, err := p.connectedAccount(ctx, job)
	if err != nil {
		return err
	}
	if !a.HasScope(gcal.ScopeCalendar) {
		return permanent("remote account %s lacks calendar write scope", a.ID)
	}
	calendarID := a.WriteCalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}

	payload := gcal.EventPayload{
		Summary: e.Title,
		Start:   e.StartAt,
		End:     e.EndAt,
		AllDay:  e.AllDay,
	}

	remoteID := e.ExternalEventID
	if remoteID != "" {
		err = p.gateway.UpdateEvent(ctx, token, calendarID, remoteID, payload)
		if gcal.IsNotFound(err) {
			// The stored remote id is gone; recreate.
			remoteID = ""
			err = nil
		}
		if err != nil {
			return err
		}
	}
	if remoteID == "" {
		remoteID, err = p.gateway.CreateEvent(ctx, token, calendarID, payload)
		if err != nil {
			return err
		}
	}
	return p.events.SetSyncStatus(ctx, e.ID, model.SyncStateSynced, calendarID, remoteID)
}

func (p *SyncProcessor) deleteEvent(ctx context.Context, job *model.SyncJob) error {
	if job.EventID == nil {
		return permanent("delete job %s has no event reference", job.ID)
	}
	e, err := p.events.GetByID(ctx, *job.EventID)
	if err != nil {
		return err
	}
	if e == nil || e.ExternalEventID == "" {
		// Nothing was ever pushed; already gone.
		return nil
	}

	_, token, err := p.connectedAccount(ctx, job)
	if err != nil {
		return err
	}
	calendarID := e.ExternalCalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	err = p.gateway.DeleteEvent(ctx, token, calendarID, e.ExternalEventID)
	if err != nil && !gcal.IsNotFound(err) {
		return err
	}
	return p.events.SetSyncStatus(ctx, e.ID, model.SyncStateNone, "", "")
}

// pullCalendars fetches the account's calendar list, imports remote events
// from the readable calendars as local busy blocks and cancels blocks whose
// remote event is no longer observed.
func (p *SyncProcessor) pullCalendars(ctx context.Context, job *model.SyncJob) error {
	a, token, err := p.connectedAccount(ctx, job)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	from := now.Add(-pullWindowPast)
	to := now.Add(pullWindowFuture)

	remoteCals, err := p.gateway.ListCalendars(ctx, token)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(remoteCals))
	primaryID := ""
	for _, c := range remoteCals {
		known[c.ID] = true
		if c.Primary {
			primaryID = c.ID
		}
	}

	calendarIDs := a.ReadCalendarIDs
	if len(calendarIDs) == 0 {
		id := a.WriteCalendarID
		if id == "" {
			id = primaryID
		}
		if id == "" {
			id = defaultCalendarID
		}
		calendarIDs = []string{id}
	}

	for _, calendarID := range calendarIDs {
		if !known[calendarID] && calendarID != defaultCalendarID {
			// The calendar no longer exists remotely. Its imported blocks
			// have no observable source anymore; retire them all.
			if err := p.cancelUnobservedBlocks(ctx, a.OrgID, calendarID, from, to, nil); err != nil {
				return err
			}
			continue
		}
		rule := a.RuleFor(calendarID)
		remote, err := p.gateway.ListEvents(ctx, token, calendarID, from, to)
		if err != nil {
			return err
		}

		observed := make(map[string]bool, len(remote))
		for _, rev := range remote {
			if rule.BlockIfBusyOnly && !rev.Busy {
				continue
			}
			if rev.AllDay && !rule.BlockAllDay {
				continue
			}
			existing, err := p.events.GetByExternalID(ctx, a.OrgID, calendarID, rev.ID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Type != model.EventTypeGoogleBlock {
				// One of our own pushed events echoed back; not a block.
				continue
			}
			observed[rev.ID] = true
			if existing == nil {
				block := &model.Event{
					OrgID:              a.OrgID,
					Type:               model.EventTypeGoogleBlock,
					Status:             model.EventStatusScheduled,
					Busy:               true,
					AllDay:             rev.AllDay,
					StartAt:            rev.Start,
					EndAt:              rev.End,
					WorkerIDs:          []uuid.UUID{a.UserID},
					Title:              rev.Summary,
					Provider:           model.ProviderGoogle,
					ExternalCalendarID: calendarID,
					ExternalEventID:    rev.ID,
					SyncStatus:         model.SyncStateSynced,
				}
				if err := p.events.Create(ctx, block); err != nil {
					return err
				}
				continue
			}
			if !existing.StartAt.Equal(rev.Start) || !existing.EndAt.Equal(rev.End) || existing.AllDay != rev.AllDay {
				existing.StartAt = rev.Start
				existing.EndAt = rev.End
				existing.AllDay = rev.AllDay
				existing.Title = rev.Summary
				if err := p.events.Update(ctx, existing); err != nil {
					return err
				}
			}
		}

		if err := p.cancelUnobservedBlocks(ctx, a.OrgID, calendarID, from, to, observed); err != nil {
			return err
		}
	}

	return p.accounts.SetSyncStatus(ctx, a.ID, "OK", "", &now)
}

// cancelUnobservedBlocks retires imported blocks in the window whose remote
// event id is absent from observed. A nil observed set cancels every block.
func (p *SyncProcessor) cancelUnobservedBlocks(ctx context.Context, orgID uuid.UUID, calendarID string, from, to time.Time, observed map[string]bool) error {
	blocks, err := p.events.ListExternalBlocks(ctx, orgID, calendarID, from, to)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if observed[b.ExternalEventID] {
			continue
		}
		if err := p.events.Cancel(ctx, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// Job returns one queue row for operational inspection.
func (p *SyncProcessor) Job(ctx context.Context, id uuid.UUID) (*model.SyncJob, error) {
	return p.jobs.GetByID(ctx, id)
}

// SweepStuck resets jobs stranded in PROCESSING past the threshold back to
// ERROR, due immediately, logging a synthetic attempt for each so the audit
// trail shows the reset.
func (p *SyncProcessor) SweepStuck(ctx context.Context) (int, error) {
	now := p.now().UTC()
	stuck, err := p.jobs.ResetStuck(ctx, StuckThreshold, now)
	if err != nil {
		return 0, err
	}
	for i := range stuck {
		job := &stuck[i]
		p.logAttempt(ctx, job, model.AttemptStuckReset, true, 0, "job stuck in PROCESSING; reset for reclaim")
		log.Warn().Str("job_id", job.ID.String()).Msg("Reset stuck sync job")
	}
	return len(stuck), nil
}

// RetryAllFailed bulk-resets ERROR jobs to PENDING, due immediately.
func (p *SyncProcessor) RetryAllFailed(ctx context.Context) (int64, error) {
	return p.jobs.RetryAllFailed(ctx, p.now().UTC())
}
