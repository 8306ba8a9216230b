package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// TimeOffRepository handles the time_off table.
type TimeOffRepository struct {
	db *sql.DB
}

func NewTimeOffRepository(db *sql.DB) *TimeOffRepository {
	return &TimeOffRepository{db: db}
}

// Create inserts a time-off interval.
func (r *TimeOffRepository) Create(ctx context.Context, t *model.TimeOff) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO time_off (id, org_id, worker_id, start_at, end_at, reason, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.OrgID, t.WorkerID, t.StartAt, t.EndAt, t.Reason, t.CreatedAt)
	return err
}

// Delete removes a time-off interval.
func (r *TimeOffRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM time_off WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListInRange returns the worker's time off intersecting [from, to).
func (r *TimeOffRepository) ListInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to time.Time) ([]model.TimeOff, error) {
	query := `SELECT id, org_id, worker_id, start_at, end_at, reason, created_at
              FROM time_off
              WHERE org_id = $1 AND worker_id = $2 AND start_at < $4 AND end_at > $3
              ORDER BY start_at`
	rows, err := r.db.QueryContext(ctx, query, orgID, workerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeOff
	for rows.Next() {
		var t model.TimeOff
		if err := rows.Scan(&t.ID, &t.OrgID, &t.WorkerID, &t.StartAt, &t.EndAt, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
