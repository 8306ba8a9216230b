package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

const settingsCacheTTL = 1 * time.Hour

// SettingsRepository handles org calendar settings and per-worker working
// hours. Reads on the availability hot path go through redis with
// delete-on-write invalidation.
type SettingsRepository struct {
	db    *sql.DB
	redis RedisClient
}

func NewSettingsRepository(db *sql.DB, redis RedisClient) *SettingsRepository {
	return &SettingsRepository{db: db, redis: redis}
}

func settingsKey(orgID uuid.UUID) string {
	return fmt.Sprintf("calsettings:%s", orgID)
}

func workingHoursKey(orgID, workerID uuid.UUID, weekday int) string {
	return fmt.Sprintf("workhours:%s:%s:%d", orgID, workerID, weekday)
}

// GetOrCreate returns the org's calendar settings, creating a row with
// defaults on first access.
func (r *SettingsRepository) GetOrCreate(ctx context.Context, orgID uuid.UUID) (*model.OrgCalendarSettings, error) {
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, settingsKey(orgID)).Result(); err == nil {
			s := &model.OrgCalendarSettings{}
			if err := json.Unmarshal([]byte(cached), s); err == nil {
				return s, nil
			}
		}
	}

	query := `SELECT id, org_id, allow_overlaps, default_slot_minutes, default_untimed_start_hour,
                     calendar_timezone, week_starts_on, created_at, updated_at
              FROM org_calendar_settings WHERE org_id = $1`
	s := &model.OrgCalendarSettings{}
	err := r.db.QueryRowContext(ctx, query, orgID).Scan(
		&s.ID, &s.OrgID, &s.AllowOverlaps, &s.DefaultSlotMinutes, &s.DefaultUntimedStartHour,
		&s.CalendarTimezone, &s.WeekStartsOn, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		s = &model.OrgCalendarSettings{
			ID:                      uuid.New(),
			OrgID:                   orgID,
			AllowOverlaps:           false,
			DefaultSlotMinutes:      30,
			DefaultUntimedStartHour: 9,
			CalendarTimezone:        "UTC",
			WeekStartsOn:            0,
			CreatedAt:               time.Now().UTC(),
		}
		s.UpdatedAt = s.CreatedAt
		insert := `INSERT INTO org_calendar_settings
                     (id, org_id, allow_overlaps, default_slot_minutes, default_untimed_start_hour,
                      calendar_timezone, week_starts_on, created_at, updated_at)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
                   ON CONFLICT (org_id) DO NOTHING`
		if _, err := r.db.ExecContext(ctx, insert, s.ID, s.OrgID, s.AllowOverlaps, s.DefaultSlotMinutes,
			s.DefaultUntimedStartHour, s.CalendarTimezone, s.WeekStartsOn, s.CreatedAt, s.UpdatedAt); err != nil {
			return nil, err
		}
		// A concurrent first access may have won the insert; read back the
		// row that actually landed so the returned and cached ID is real.
		if err := r.db.QueryRowContext(ctx, query, orgID).Scan(
			&s.ID, &s.OrgID, &s.AllowOverlaps, &s.DefaultSlotMinutes, &s.DefaultUntimedStartHour,
			&s.CalendarTimezone, &s.WeekStartsOn, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	r.cacheSettings(ctx, s)
	return s, nil
}

// Update persists mutated settings and invalidates the cache.
func (r *SettingsRepository) Update(ctx context.Context, s *model.OrgCalendarSettings) error {
	query := `UPDATE org_calendar_settings
              SET allow_overlaps = $2, default_slot_minutes = $3, default_untimed_start_hour = $4,
                  calendar_timezone = $5, week_starts_on = $6, updated_at = $7
              WHERE org_id = $1`
	s.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, s.OrgID, s.AllowOverlaps, s.DefaultSlotMinutes,
		s.DefaultUntimedStartHour, s.CalendarTimezone, s.WeekStartsOn, s.UpdatedAt)
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
	if r.redis != nil {
		r.redis.Del(ctx, settingsKey(s.OrgID))
	}
	return nil
}

func (r *SettingsRepository) cacheSettings(ctx context.Context, s *model.OrgCalendarSettings) {
	if r.redis == nil {
		return
	}
	if data, err := json.Marshal(s); err == nil {
		r.redis.SetEx(ctx, settingsKey(s.OrgID), data, settingsCacheTTL)
	}
}

// GetWorkingHours returns the worker's window for a weekday, or nil when no
// explicit row exists.
func (r *SettingsRepository) GetWorkingHours(ctx context.Context, orgID, workerID uuid.UUID, weekday int) (*model.WorkingHours, error) {
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, workingHoursKey(orgID, workerID, weekday)).Result(); err == nil {
			wh := &model.WorkingHours{}
			if err := json.Unmarshal([]byte(cached), wh); err == nil {
				return wh, nil
			}
		}
	}

	query := `SELECT id, org_id, worker_id, weekday, is_working, start_minute, end_minute, timezone, created_at, updated_at
              FROM working_hours WHERE org_id = $1 AND worker_id = $2 AND weekday = $3`
	wh := &model.WorkingHours{}
	err := r.db.QueryRowContext(ctx, query, orgID, workerID, weekday).Scan(
		&wh.ID, &wh.OrgID, &wh.WorkerID, &wh.Weekday, &wh.IsWorking,
		&wh.StartMinute, &wh.EndMinute, &wh.Timezone, &wh.CreatedAt, &wh.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(wh); err == nil {
			r.redis.SetEx(ctx, workingHoursKey(orgID, workerID, weekday), data, settingsCacheTTL)
		}
	}
	return wh, nil
}

// ListWorkingHours returns all explicit windows for a worker.
func (r *SettingsRepository) ListWorkingHours(ctx context.Context, orgID, workerID uuid.UUID) ([]model.WorkingHours, error) {
	query := `SELECT id, org_id, worker_id, weekday, is_working, start_minute, end_minute, timezone, created_at, updated_at
              FROM working_hours WHERE org_id = $1 AND worker_id = $2 ORDER BY weekday`
	rows, err := r.db.QueryContext(ctx, query, orgID, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingHours
	for rows.Next() {
		var wh model.WorkingHours
		if err := rows.Scan(&wh.ID, &wh.OrgID, &wh.WorkerID, &wh.Weekday, &wh.IsWorking,
			&wh.StartMinute, &wh.EndMinute, &wh.Timezone, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// UpsertWorkingHours creates or replaces the row for (org, worker, weekday)
// and invalidates its cache entry.
func (r *SettingsRepository) UpsertWorkingHours(ctx context.Context, wh *model.WorkingHours) error {
	if wh.ID == uuid.Nil {
		wh.ID = uuid.New()
	}
	now := time.Now().UTC()
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = now
	}
	wh.UpdatedAt = now

	query := `INSERT INTO working_hours (id, org_id, worker_id, weekday, is_working, start_minute, end_minute, timezone, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
              ON CONFLICT (org_id, worker_id, weekday) DO UPDATE
              SET is_working = EXCLUDED.is_working, start_minute = EXCLUDED.start_minute,
                  end_minute = EXCLUDED.end_minute, timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, wh.ID, wh.OrgID, wh.WorkerID, wh.Weekday, wh.IsWorking,
		wh.StartMinute, wh.EndMinute, wh.Timezone, wh.CreatedAt, wh.UpdatedAt)
	if err != nil {
		return err
	}
	if r.redis != nil {
		r.redis.Del(ctx, workingHoursKey(wh.OrgID, wh.WorkerID, wh.Weekday))
	}
	return nil
}
