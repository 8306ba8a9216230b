package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// AlertRepository handles the health_alerts table.
type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create appends an alert row.
func (r *AlertRepository) Create(ctx context.Context, a *model.HealthAlert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_alerts (id, flag, message, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Flag, a.Message, a.CreatedAt)
	return err
}

// ExistsSince reports whether an alert with the same flag was written after
// the given instant. Used to dedupe alert storms for an ongoing incident.
func (r *AlertRepository) ExistsSince(ctx context.Context, flag model.HealthFlag, since time.Time) (bool, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM health_alerts WHERE flag = $1 AND created_at > $2 LIMIT 1`, flag, since).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
