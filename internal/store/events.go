package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// EventRepository handles the events and event_workers tables.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, org_id, type, status, busy, all_day, start_at, end_at, title,
                      provider, external_calendar_id, external_event_id, sync_status, created_at, updated_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*model.Event, error) {
	e := &model.Event{}
	err := row.Scan(&e.ID, &e.OrgID, &e.Type, &e.Status, &e.Busy, &e.AllDay, &e.StartAt, &e.EndAt,
		&e.Title, &e.Provider, &e.ExternalCalendarID, &e.ExternalEventID, &e.SyncStatus,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts an event and its worker assignments in one transaction.
func (r *EventRepository) Create(ctx context.Context, e *model.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = model.EventStatusScheduled
	}
	if e.SyncStatus == "" {
		e.SyncStatus = model.SyncStateNone
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO events (` + eventColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = tx.ExecContext(ctx, query, e.ID, e.OrgID, e.Type, e.Status, e.Busy, e.AllDay,
		e.StartAt, e.EndAt, e.Title, e.Provider, e.ExternalCalendarID, e.ExternalEventID,
		e.SyncStatus, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	for _, workerID := range e.WorkerIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_workers (event_id, worker_id) VALUES ($1, $2)`, e.ID, workerID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetByID retrieves an event with its worker assignments.
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.WorkerIDs, err = r.workerIDs(ctx, e.ID)
	return e, err
}

func (r *EventRepository) workerIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT worker_id FROM event_workers WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update rewrites the mutable fields of an event and its assignments.
func (r *EventRepository) Update(ctx context.Context, e *model.Event) error {
	e.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE events
              SET type = $2, status = $3, busy = $4, all_day = $5, start_at = $6, end_at = $7,
                  title = $8, sync_status = $9, updated_at = $10
              WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, e.ID, e.Type, e.Status, e.Busy, e.AllDay,
		e.StartAt, e.EndAt, e.Title, e.SyncStatus, e.UpdatedAt)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_workers WHERE event_id = $1`, e.ID); err != nil {
		return err
	}
	for _, workerID := range e.WorkerIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_workers (event_id, worker_id) VALUES ($1, $2)`, e.ID, workerID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Cancel marks an event cancelled so it stops counting as busy truth.
func (r *EventRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = $2, updated_at = $3 WHERE id = $1 AND status != $2`,
		id, model.EventStatusCancelled, time.Now().UTC())
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

// ListBusyInRange returns non-cancelled busy events assigned to the worker
// whose interval intersects [from, to). excludeID lets a caller check
// conflicts against other records without self-colliding.
func (r *EventRepository) ListBusyInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]model.Event, error) {
	query := `SELECT e.` + eventColumnsAliased("e") + `
              FROM events e
              JOIN event_workers ew ON ew.event_id = e.id
              WHERE e.org_id = $1 AND ew.worker_id = $2
                AND e.status != $3 AND e.busy
                AND e.start_at < $5 AND e.end_at > $4
                AND ($6::uuid IS NULL OR e.id != $6)
              ORDER BY e.start_at`
	rows, err := r.db.QueryContext(ctx, query, orgID, workerID, model.EventStatusCancelled, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		e.WorkerIDs = []uuid.UUID{workerID}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetByExternalID finds the local block imported for a remote event.
func (r *EventRepository) GetByExternalID(ctx context.Context, orgID uuid.UUID, calendarID, externalEventID string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
              WHERE org_id = $1 AND external_calendar_id = $2 AND external_event_id = $3
                AND status != $4`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, orgID, calendarID, externalEventID, model.EventStatusCancelled))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.WorkerIDs, err = r.workerIDs(ctx, e.ID)
	return e, err
}

// ListExternalBlocks returns active imported blocks for one remote calendar
// within a window, for pull reconciliation.
func (r *EventRepository) ListExternalBlocks(ctx context.Context, orgID uuid.UUID, calendarID string, from, to time.Time) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
              WHERE org_id = $1 AND external_calendar_id = $2
                AND type = $3 AND status != $4
                AND start_at < $6 AND end_at > $5
              ORDER BY start_at`
	rows, err := r.db.QueryContext(ctx, query, orgID, calendarID, model.EventTypeGoogleBlock,
		model.EventStatusCancelled, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetSyncStatus updates the outbound sync bookkeeping owned by the job
// processor.
func (r *EventRepository) SetSyncStatus(ctx context.Context, id uuid.UUID, state model.SyncState, externalCalendarID, externalEventID string) error {
	query := `UPDATE events
              SET sync_status = $2,
                  external_calendar_id = COALESCE(NULLIF($3, ''), external_calendar_id),
                  external_event_id = COALESCE(NULLIF($4, ''), external_event_id),
                  updated_at = $5
              WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, state, externalCalendarID, externalEventID, time.Now().UTC())
	return err
}

func eventColumnsAliased(alias string) string {
	// eventColumns with every column qualified by alias; the first column is
	// already prefixed by the caller.
	return `id, ` + alias + `.org_id, ` + alias + `.type, ` + alias + `.status, ` + alias + `.busy, ` +
		alias + `.all_day, ` + alias + `.start_at, ` + alias + `.end_at, ` + alias + `.title, ` +
		alias + `.provider, ` + alias + `.external_calendar_id, ` + alias + `.external_event_id, ` +
		alias + `.sync_status, ` + alias + `.created_at, ` + alias + `.updated_at`
}
