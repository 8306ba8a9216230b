package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// SyncJobRepository handles the sync_jobs, sync_job_attempts and sync_runs
// tables.
type SyncJobRepository struct {
	db *sql.DB
}

func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

const jobColumns = `id, org_id, user_id, event_id, action, status, attempt_count, backoff_ms, run_after, last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.SyncJob, error) {
	j := &model.SyncJob{}
	err := row.Scan(&j.ID, &j.OrgID, &j.UserID, &j.EventID, &j.Action, &j.Status,
		&j.AttemptCount, &j.BackoffMs, &j.RunAfter, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Enqueue inserts a PENDING job due immediately.
func (r *SyncJobRepository) Enqueue(ctx context.Context, j *model.SyncJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	now := time.Now().UTC()
	j.Status = model.JobStatusPending
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (`+jobColumns+`)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.OrgID, j.UserID, j.EventID, j.Action, j.Status,
		j.AttemptCount, j.BackoffMs, j.RunAfter, j.LastError, j.CreatedAt, j.UpdatedAt)
	return err
}

// GetByID retrieves a job.
func (r *SyncJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SyncJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// Claim attempts to move one job from PENDING or ERROR to PROCESSING,
// incrementing its attempt count. The affected-row count decides whether the
// claim succeeded; this is the queue's only mutual-exclusion primitive, so
// two workers can never both claim the same job.
func (r *SyncJobRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*model.SyncJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`UPDATE sync_jobs
         SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
         WHERE id = $1 AND status IN ($4, $5)
         RETURNING `+jobColumns,
		id, model.JobStatusProcessing, now, model.JobStatusPending, model.JobStatusError))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// NextDue returns the id of the next claimable job in (run_after, created_at)
// order, or uuid.Nil when the queue is drained.
func (r *SyncJobRepository) NextDue(ctx context.Context, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM sync_jobs
         WHERE status IN ($1, $2) AND run_after <= $3
         ORDER BY run_after, created_at
         LIMIT 1`,
		model.JobStatusPending, model.JobStatusError, now).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, nil
	}
	return id, err
}

// MarkDone finishes a job successfully, resetting its backoff.
func (r *SyncJobRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $2, backoff_ms = 0, last_error = '', updated_at = $3 WHERE id = $1`,
		id, model.JobStatusDone, time.Now().UTC())
	return err
}

// MarkError records a failed attempt with its computed backoff and next
// eligible time.
func (r *SyncJobRepository) MarkError(ctx context.Context, id uuid.UUID, lastError string, backoffMs int64, runAfter time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $2, last_error = $3, backoff_ms = $4, run_after = $5, updated_at = $6
         WHERE id = $1`,
		id, model.JobStatusError, lastError, backoffMs, runAfter, time.Now().UTC())
	return err
}

// ResetStuck forcibly moves jobs left in PROCESSING past the threshold back
// to ERROR, due immediately, and returns them so synthetic attempts can be
// logged.
func (r *SyncJobRepository) ResetStuck(ctx context.Context, threshold time.Duration, now time.Time) ([]model.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE sync_jobs SET status = $1, run_after = $2, updated_at = $2
         WHERE status = $3 AND updated_at < $4
         RETURNING `+jobColumns,
		model.JobStatusError, now, model.JobStatusProcessing, now.Add(-threshold))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// RetryAllFailed bulk-resets ERROR jobs to PENDING, due immediately with
// backoff cleared. Returns the number of jobs reset.
func (r *SyncJobRepository) RetryAllFailed(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $1, run_after = $2, backoff_ms = 0, updated_at = $2
         WHERE status = $3`,
		model.JobStatusPending, now, model.JobStatusError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HasOpenJob reports whether an unfinished job with the given action already
// exists for (org, user). Used to avoid stacking duplicate pull jobs.
func (r *SyncJobRepository) HasOpenJob(ctx context.Context, orgID, userID uuid.UUID, action model.SyncAction) (bool, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM sync_jobs
         WHERE org_id = $1 AND user_id = $2 AND action = $3 AND status IN ($4, $5, $6)
         LIMIT 1`,
		orgID, userID, action, model.JobStatusPending, model.JobStatusProcessing, model.JobStatusError).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LogAttempt appends an immutable audit row for one processing attempt.
func (r *SyncJobRepository) LogAttempt(ctx context.Context, a *model.SyncJobAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_job_attempts (id, job_id, action, status, attempt_number, retryable, backoff_ms, error, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.JobID, a.Action, a.Status, a.AttemptNumber, a.Retryable, a.BackoffMs, a.Error, a.CreatedAt)
	return err
}

// CreateRun opens a drain-cycle record.
func (r *SyncJobRepository) CreateRun(ctx context.Context, source model.SyncRunSource) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New(),
		Source:    source,
		Status:    "RUNNING",
		StartedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, source, status, processed, succeeded, failed, started_at)
         VALUES ($1, $2, $3, 0, 0, 0, $4)`,
		run.ID, run.Source, run.Status, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun closes a drain-cycle record with its aggregate counts.
func (r *SyncJobRepository) FinishRun(ctx context.Context, run *model.SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if run.Failed > 0 {
		run.Status = "PARTIAL"
	} else {
		run.Status = "OK"
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = $2, processed = $3, succeeded = $4, failed = $5, finished_at = $6
         WHERE id = $1`,
		run.ID, run.Status, run.Processed, run.Succeeded, run.Failed, run.FinishedAt)
	return err
}

// LastRunAt returns when the last drain cycle from the given source started.
func (r *SyncJobRepository) LastRunAt(ctx context.Context, source model.SyncRunSource) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT started_at FROM sync_runs WHERE source = $1 ORDER BY started_at DESC LIMIT 1`, source).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountOpen returns ready + delayed + processing jobs.
func (r *SyncJobRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE status IN ($1, $2, $3)`,
		model.JobStatusPending, model.JobStatusError, model.JobStatusProcessing).Scan(&n)
	return n, err
}

// CountStuck returns jobs sitting in PROCESSING past the threshold.
func (r *SyncJobRepository) CountStuck(ctx context.Context, threshold time.Duration, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE status = $1 AND updated_at < $2`,
		model.JobStatusProcessing, now.Add(-threshold)).Scan(&n)
	return n, err
}

// RecentAttemptStats returns success and error counts over the latest limit
// attempt rows.
func (r *SyncJobRepository) RecentAttemptStats(ctx context.Context, limit int) (succeeded, failed int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = $1), COUNT(*) FILTER (WHERE status != $1)
         FROM (SELECT status FROM sync_job_attempts ORDER BY created_at DESC LIMIT $2) recent`,
		model.AttemptSuccess, limit).Scan(&succeeded, &failed)
	return succeeded, failed, err
}
