package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

const uniqueViolation = "23505"

type TimelineRepo struct {
	DB *sql.DB
}

func NewTimelineRepo(db *sql.DB) *TimelineRepo {
	return &TimelineRepo{DB: db}
}

func (r *TimelineRepo) GetOpenTimeline(ctx context.Context, deviceID string) (*domain.Timeline, error) {
	query := `
	SELECT id, device_id, start_time, end_time, created_at
	FROM timelines
	WHERE device_id = $1 AND end_time IS NULL
	LIMIT 1;
	`
	t, err := scanTimeline(r.DB.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open timeline: %w", err)
	}
	return t, nil
}

// CreateTimeline reports domain.ErrOpenTimelineExists when the partial
// unique index rejects a second open timeline.
func (r *TimelineRepo) CreateTimeline(ctx context.Context, t *domain.Timeline) error {
	query := `
	INSERT INTO timelines (id, device_id, start_time, end_time, created_at)
	VALUES ($1, $2, $3, $4, $5);
	`
	_, err := r.DB.ExecContext(ctx, query, t.ID, t.DeviceID, t.StartTime, t.EndTime, t.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrOpenTimelineExists
	}
	if err != nil {
		return fmt.Errorf("failed to create timeline: %w", err)
	}
	return nil
}

func (r *TimelineRepo) CloseTimeline(ctx context.Context, id string, endTime time.Time) error {
	query := `
	UPDATE timelines
	SET end_time = $2
	WHERE id = $1 AND end_time IS NULL;
	`
	res, err := r.DB.ExecContext(ctx, query, id, endTime)
	if err != nil {
		return fmt.Errorf("failed to close timeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close timeline: %w", err)
	}
	if n == 0 {
		return domain.ErrTimelineNotFound
	}
	return nil
}

func (r *TimelineRepo) ListOpenTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return r.listWithDevices(ctx, "t.end_time IS NULL")
}

func (r *TimelineRepo) ListClosedTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return r.listWithDevices(ctx, "t.end_time IS NOT NULL")
}

func (r *TimelineRepo) listWithDevices(ctx context.Context, where string) ([]domain.TimelineWithDevice, error) {
	query := `
	SELECT t.id, t.device_id, t.start_time, t.end_time, t.created_at,
	       d.id, d.name, d.os, d.created_at, d.updated_at
	FROM timelines t
	JOIN devices d ON d.id = t.device_id
	WHERE ` + where + `
	ORDER BY t.start_time DESC;
	`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list timelines: %w", err)
	}
	defer rows.Close()

	var out []domain.TimelineWithDevice
	for rows.Next() {
		var item domain.TimelineWithDevice
		var end sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.DeviceID, &item.StartTime, &end, &item.Timeline.CreatedAt,
			&item.Device.ID, &item.Device.Name, &item.Device.OS, &item.Device.CreatedAt, &item.Device.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		if end.Valid {
			item.EndTime = &end.Time
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanTimeline(row *sql.Row) (*domain.Timeline, error) {
	var t domain.Timeline
	var end sql.NullTime
	if err := row.Scan(&t.ID, &t.DeviceID, &t.StartTime, &end, &t.CreatedAt); err != nil {
		return nil, err
	}
	if end.Valid {
		t.EndTime = &end.Time
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
