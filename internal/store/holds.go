package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// HoldRepository handles the calendar_holds table.
type HoldRepository struct {
	db *sql.DB
}

func NewHoldRepository(db *sql.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

const holdColumns = `id, org_id, worker_id, lead_id, source, start_at, end_at, status, expires_at, created_at, updated_at`

func scanHold(row interface{ Scan(...interface{}) error }) (*model.CalendarHold, error) {
	h := &model.CalendarHold{}
	err := row.Scan(&h.ID, &h.OrgID, &h.WorkerID, &h.LeadID, &h.Source, &h.StartAt, &h.EndAt,
		&h.Status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetByID retrieves a hold.
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CalendarHold, error) {
	h, err := scanHold(r.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM calendar_holds WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return h, err
}

// ListLiveInRange returns ACTIVE, unexpired holds for a worker whose interval
// intersects [from, to).
func (r *HoldRepository) ListLiveInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to, now time.Time, excludeID *uuid.UUID) ([]model.CalendarHold, error) {
	query := `SELECT ` + holdColumns + ` FROM calendar_holds
              WHERE org_id = $1 AND worker_id = $2 AND status = $3
                AND expires_at > $4
                AND start_at < $6 AND end_at > $5
                AND ($7::uuid IS NULL OR id != $7)
              ORDER BY start_at`
	rows, err := r.db.QueryContext(ctx, query, orgID, workerID, model.HoldStatusActive, now, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CalendarHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// RetireAndCreate expires every ACTIVE hold for (org, lead, source) and
// inserts the replacement set in a single transaction, so a concurrent
// generation call cannot interleave between retire and create.
func (r *HoldRepository) RetireAndCreate(ctx context.Context, orgID, leadID uuid.UUID, source string, holds []*model.CalendarHold) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE calendar_holds SET status = $4, updated_at = $5
         WHERE org_id = $1 AND lead_id = $2 AND source = $3 AND status = $6`,
		orgID, leadID, source, model.HoldStatusExpired, now, model.HoldStatusActive)
	if err != nil {
		return err
	}

	for _, h := range holds {
		if h.ID == uuid.Nil {
			h.ID = uuid.New()
		}
		h.OrgID = orgID
		h.LeadID = leadID
		h.Source = source
		h.Status = model.HoldStatusActive
		h.CreatedAt = now
		h.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO calendar_holds (`+holdColumns+`)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			h.ID, h.OrgID, h.WorkerID, h.LeadID, h.Source, h.StartAt, h.EndAt,
			h.Status, h.ExpiresAt, h.CreatedAt, h.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Confirm transitions one ACTIVE unexpired hold to CONFIRMED and its ACTIVE
// siblings (same lead and source) to CANCELLED, atomically. Returns the
// confirmed hold.
func (r *HoldRepository) Confirm(ctx context.Context, id uuid.UUID) (*model.CalendarHold, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	h, err := scanHold(tx.QueryRowContext(ctx,
		`UPDATE calendar_holds SET status = $2, updated_at = $3
         WHERE id = $1 AND status = $4 AND expires_at > $3
         RETURNING `+holdColumns,
		id, model.HoldStatusConfirmed, now, model.HoldStatusActive))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hold %s is not active or has expired", id)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE calendar_holds SET status = $5, updated_at = $6
         WHERE org_id = $1 AND lead_id = $2 AND source = $3 AND id != $4 AND status = $7`,
		h.OrgID, h.LeadID, h.Source, h.ID, model.HoldStatusCancelled, now, model.HoldStatusActive)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return h, nil
}

// CancelSet cancels every ACTIVE hold for (org, lead, source).
func (r *HoldRepository) CancelSet(ctx context.Context, orgID, leadID uuid.UUID, source string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calendar_holds SET status = $4, updated_at = $5
         WHERE org_id = $1 AND lead_id = $2 AND source = $3 AND status = $6`,
		orgID, leadID, source, model.HoldStatusCancelled, time.Now().UTC(), model.HoldStatusActive)
	return err
}
