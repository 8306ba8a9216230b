package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/gcal"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// In-memory fakes for the store interfaces. Methods not exercised by a test
// keep zero-value behavior.

type fakeSettings struct {
	settings map[uuid.UUID]*model.OrgCalendarSettings
	hours    map[string]*model.WorkingHours // org/worker/weekday
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		settings: map[uuid.UUID]*model.OrgCalendarSettings{},
		hours:    map[string]*model.WorkingHours{},
	}
}

func hoursKey(orgID, workerID uuid.UUID, weekday int) string {
	return fmt.Sprintf("%s/%s/%d", orgID, workerID, weekday)
}

func (f *fakeSettings) GetOrCreate(_ context.Context, orgID uuid.UUID) (*model.OrgCalendarSettings, error) {
	if s, ok := f.settings[orgID]; ok {
		return s, nil
	}
	s := &model.OrgCalendarSettings{
		ID:                      uuid.New(),
		OrgID:                   orgID,
		DefaultSlotMinutes:      30,
		DefaultUntimedStartHour: 9,
		CalendarTimezone:        "UTC",
	}
	f.settings[orgID] = s
	return s, nil
}

func (f *fakeSettings) GetWorkingHours(_ context.Context, orgID, workerID uuid.UUID, weekday int) (*model.WorkingHours, error) {
	return f.hours[hoursKey(orgID, workerID, weekday)], nil
}

func (f *fakeSettings) setHours(wh *model.WorkingHours) {
	f.hours[hoursKey(wh.OrgID, wh.WorkerID, wh.Weekday)] = wh
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.Event
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: map[uuid.UUID]*model.Event{}}
}

func (f *fakeEvents) Create(_ context.Context, e *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeEvents) GetByID(_ context.Context, id uuid.UUID) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeEvents) Update(_ context.Context, e *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeEvents) Cancel(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		e.Status = model.EventStatusCancelled
	}
	return nil
}

func (f *fakeEvents) ListBusyInRange(_ context.Context, orgID, workerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, e := range f.events {
		if e.OrgID != orgID || e.Status == model.EventStatusCancelled || !e.Busy {
			continue
		}
		if excludeID != nil && e.ID == *excludeID {
			continue
		}
		assigned := false
		for _, w := range e.WorkerIDs {
			if w == workerID {
				assigned = true
				break
			}
		}
		if !assigned {
			continue
		}
		if e.StartAt.Before(to) && e.EndAt.After(from) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEvents) GetByExternalID(_ context.Context, orgID uuid.UUID, calendarID, externalEventID string) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.OrgID == orgID && e.ExternalCalendarID == calendarID && e.ExternalEventID == externalEventID &&
			e.Status != model.EventStatusCancelled {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) ListExternalBlocks(_ context.Context, orgID uuid.UUID, calendarID string, from, to time.Time) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, e := range f.events {
		if e.OrgID != orgID || e.Type != model.EventTypeGoogleBlock || e.ExternalCalendarID != calendarID {
			continue
		}
		if e.Status == model.EventStatusCancelled {
			continue
		}
		if e.StartAt.Before(to) && e.EndAt.After(from) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEvents) SetSyncStatus(_ context.Context, id uuid.UUID, state model.SyncState, externalCalendarID, externalEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		e.SyncStatus = state
		if externalCalendarID != "" {
			e.ExternalCalendarID = externalCalendarID
		}
		if externalEventID != "" {
			e.ExternalEventID = externalEventID
		}
	}
	return nil
}

type fakeHolds struct {
	mu    sync.Mutex
	holds map[uuid.UUID]*model.CalendarHold
	now   func() time.Time
}

func newFakeHolds(now func() time.Time) *fakeHolds {
	return &fakeHolds{holds: map[uuid.UUID]*model.CalendarHold{}, now: now}
}

func (f *fakeHolds) GetByID(_ context.Context, id uuid.UUID) (*model.CalendarHold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[id]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeHolds) ListLiveInRange(_ context.Context, orgID, workerID uuid.UUID, from, to, now time.Time, excludeID *uuid.UUID) ([]model.CalendarHold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CalendarHold
	for _, h := range f.holds {
		if h.OrgID != orgID || h.WorkerID != workerID {
			continue
		}
		if excludeID != nil && h.ID == *excludeID {
			continue
		}
		if !h.IsLive(now) {
			continue
		}
		if h.StartAt.Before(to) && h.EndAt.After(from) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (f *fakeHolds) RetireAndCreate(_ context.Context, orgID, leadID uuid.UUID, source string, holds []*model.CalendarHold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.holds {
		if h.OrgID == orgID && h.LeadID == leadID && h.Source == source && h.Status == model.HoldStatusActive {
			h.Status = model.HoldStatusExpired
		}
	}
	for _, h := range holds {
		if h.ID == uuid.Nil {
			h.ID = uuid.New()
		}
		h.OrgID = orgID
		h.LeadID = leadID
		h.Source = source
		h.Status = model.HoldStatusActive
		cp := *h
		f.holds[h.ID] = &cp
	}
	return nil
}

func (f *fakeHolds) Confirm(_ context.Context, id uuid.UUID) (*model.CalendarHold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[id]
	if !ok || !h.IsLive(f.now()) {
		return nil, ErrValidation
	}
	h.Status = model.HoldStatusConfirmed
	for _, sib := range f.holds {
		if sib.ID != h.ID && sib.OrgID == h.OrgID && sib.LeadID == h.LeadID &&
			sib.Source == h.Source && sib.Status == model.HoldStatusActive {
			sib.Status = model.HoldStatusCancelled
		}
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHolds) CancelSet(_ context.Context, orgID, leadID uuid.UUID, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.holds {
		if h.OrgID == orgID && h.LeadID == leadID && h.Source == source && h.Status == model.HoldStatusActive {
			h.Status = model.HoldStatusCancelled
		}
	}
	return nil
}

type fakeTimeOff struct {
	entries []model.TimeOff
}

func (f *fakeTimeOff) ListInRange(_ context.Context, orgID, workerID uuid.UUID, from, to time.Time) ([]model.TimeOff, error) {
	var out []model.TimeOff
	for _, o := range f.entries {
		if o.OrgID == orgID && o.WorkerID == workerID && o.StartAt.Before(to) && o.EndAt.After(from) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*model.SyncJob
	order    []uuid.UUID
	attempts []model.SyncJobAttempt
	runs     []*model.SyncRun
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[uuid.UUID]*model.SyncJob{}}
}

func (f *fakeJobs) Enqueue(_ context.Context, j *model.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = model.JobStatusPending
	cp := *j
	f.jobs[j.ID] = &cp
	f.order = append(f.order, j.ID)
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id uuid.UUID) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeJobs) NextDue(_ context.Context, now time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		j := f.jobs[id]
		if (j.Status == model.JobStatusPending || j.Status == model.JobStatusError) && !j.RunAfter.After(now) {
			return id, nil
		}
	}
	return uuid.Nil, nil
}

func (f *fakeJobs) Claim(_ context.Context, id uuid.UUID, _ time.Time) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	if j.Status != model.JobStatusPending && j.Status != model.JobStatusError {
		return nil, nil
	}
	j.Status = model.JobStatusProcessing
	j.AttemptCount++
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) MarkDone(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = model.JobStatusDone
		j.BackoffMs = 0
		j.LastError = ""
	}
	return nil
}

func (f *fakeJobs) MarkError(_ context.Context, id uuid.UUID, lastError string, backoffMs int64, runAfter time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = model.JobStatusError
		j.LastError = lastError
		j.BackoffMs = backoffMs
		j.RunAfter = runAfter
	}
	return nil
}

func (f *fakeJobs) ResetStuck(_ context.Context, threshold time.Duration, now time.Time) ([]model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncJob
	for _, j := range f.jobs {
		if j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(now.Add(-threshold)) {
			j.Status = model.JobStatusError
			j.RunAfter = now
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobs) RetryAllFailed(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == model.JobStatusError {
			j.Status = model.JobStatusPending
			j.RunAfter = now
			j.BackoffMs = 0
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) HasOpenJob(_ context.Context, orgID, userID uuid.UUID, action model.SyncAction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.OrgID == orgID && j.UserID == userID && j.Action == action && j.Status != model.JobStatusDone {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeJobs) LogAttempt(_ context.Context, a *model.SyncJobAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeJobs) CreateRun(_ context.Context, source model.SyncRunSource) (*model.SyncRun, error) {
	run := &model.SyncRun{ID: uuid.New(), Source: source, Status: "RUNNING", StartedAt: time.Now().UTC()}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeJobs) FinishRun(_ context.Context, run *model.SyncRun) error {
	if run.Failed > 0 {
		run.Status = "PARTIAL"
	} else {
		run.Status = "OK"
	}
	return nil
}

func (f *fakeJobs) LastRunAt(_ context.Context, source model.SyncRunSource) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, r := range f.runs {
		if r.Source != source {
			continue
		}
		t := r.StartedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (f *fakeJobs) CountOpen(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status != model.JobStatusDone {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) CountStuck(_ context.Context, threshold time.Duration, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(now.Add(-threshold)) {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) RecentAttemptStats(_ context.Context, limit int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	succeeded, failed := 0, 0
	start := 0
	if len(f.attempts) > limit {
		start = len(f.attempts) - limit
	}
	for _, a := range f.attempts[start:] {
		switch a.Status {
		case model.AttemptSuccess:
			succeeded++
		case model.AttemptError:
			failed++
		}
	}
	return succeeded, failed, nil
}

func (f *fakeJobs) jobList() []model.SyncJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SyncJob, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.jobs[id])
	}
	return out
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.RemoteAccount
	disabled []uuid.UUID
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[uuid.UUID]*model.RemoteAccount{}}
}

func (f *fakeAccounts) Upsert(_ context.Context, a *model.RemoteAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeAccounts) GetByOrgUser(_ context.Context, orgID, userID uuid.UUID) (*model.RemoteAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.OrgID == orgID && a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) ListEnabled(_ context.Context, limit int) ([]model.RemoteAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RemoteAccount
	for _, a := range f.accounts {
		if len(out) >= limit {
			break
		}
		if a.IsEnabled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdateTokens(_ context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.AccessToken = accessToken
		if refreshToken != "" {
			a.RefreshToken = refreshToken
		}
		a.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeAccounts) SetSyncStatus(_ context.Context, id uuid.UUID, status, syncError string, lastSyncAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.SyncStatus = status
		a.SyncError = syncError
		if lastSyncAt != nil {
			a.LastSyncAt = lastSyncAt
		}
	}
	return nil
}

func (f *fakeAccounts) Disable(_ context.Context, id uuid.UUID, syncError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.IsEnabled = false
		a.SyncStatus = "ERROR"
		a.SyncError = syncError
	}
	f.disabled = append(f.disabled, id)
	return nil
}

func (f *fakeAccounts) Disconnect(_ context.Context, orgID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.OrgID == orgID && a.UserID == userID {
			a.AccessToken = ""
			a.RefreshToken = ""
			a.IsEnabled = false
			a.SyncStatus = "DISCONNECTED"
		}
	}
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []model.HealthAlert
}

func (f *fakeAlerts) Create(_ context.Context, a *model.HealthAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeAlerts) ExistsSince(_ context.Context, flag model.HealthFlag, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.Flag == flag && a.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

// fakeGateway scripts remote responses per call.
type fakeGateway struct {
	exchangeToken *gcal.Token
	refreshToken  *gcal.Token
	refreshErr    error
	refreshCalls  int

	createID   string
	createErr  error
	createN    int
	updateErr  error
	updateN    int
	deleteErr  error
	deleteN    int
	listEvents []gcal.RemoteEvent
	listErr    error

	calendars     []gcal.Calendar
	calendarsErr  error
	listCalendarN int
}

func (g *fakeGateway) ExchangeCode(context.Context, string) (*gcal.Token, error) {
	return g.exchangeToken, nil
}

func (g *fakeGateway) RefreshToken(context.Context, string) (*gcal.Token, error) {
	g.refreshCalls++
	return g.refreshToken, g.refreshErr
}

func (g *fakeGateway) ListCalendars(context.Context, string) ([]gcal.Calendar, error) {
	g.listCalendarN++
	return g.calendars, g.calendarsErr
}

func (g *fakeGateway) CreateEvent(context.Context, string, string, gcal.EventPayload) (string, error) {
	g.createN++
	return g.createID, g.createErr
}

func (g *fakeGateway) UpdateEvent(context.Context, string, string, string, gcal.EventPayload) error {
	g.updateN++
	return g.updateErr
}

func (g *fakeGateway) DeleteEvent(context.Context, string, string, string) error {
	g.deleteN++
	return g.deleteErr
}

func (g *fakeGateway) ListEvents(context.Context, string, string, time.Time, time.Time) ([]gcal.RemoteEvent, error) {
	return g.listEvents, g.listErr
}
