// Package sqlite is a single-file store for running the tracker without a
// Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so that lexical order is
// chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) UpsertDevice(ctx context.Context, device *domain.Device) error {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO devices(id, name, os, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name,
	os=excluded.os,
	updated_at=excluded.updated_at
RETURNING created_at
`, device.ID, device.Name, device.OS, ts(device.CreatedAt), ts(device.UpdatedAt)).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	if device.CreatedAt, err = parseTS(createdAt); err != nil {
		return fmt.Errorf("parse device created_at: %w", err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	var d domain.Device
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, os, created_at, updated_at FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.OS, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if d.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetOpenTimeline(ctx context.Context, deviceID string) (*domain.Timeline, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, device_id, start_time, end_time, created_at
FROM timelines
WHERE device_id = ? AND end_time IS NULL
LIMIT 1
`, deviceID)
	t, err := scanTimeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open timeline: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTimeline(ctx context.Context, t *domain.Timeline) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO timelines(id, device_id, start_time, end_time, created_at)
VALUES (?, ?, ?, ?, ?)
`, t.ID, t.DeviceID, ts(t.StartTime), nullableTS(t.EndTime), ts(t.CreatedAt))
	if isUniqueErr(err) {
		return domain.ErrOpenTimelineExists
	}
	if err != nil {
		return fmt.Errorf("create timeline: %w", err)
	}
	return nil
}

func (s *Store) CloseTimeline(ctx context.Context, id string, endTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE timelines SET end_time = ? WHERE id = ? AND end_time IS NULL`, ts(endTime), id)
	if err != nil {
		return fmt.Errorf("close timeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close timeline: %w", err)
	}
	if n == 0 {
		return domain.ErrTimelineNotFound
	}
	return nil
}

func (s *Store) ListOpenTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return s.listTimelines(ctx, "t.end_time IS NULL")
}

func (s *Store) ListClosedTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return s.listTimelines(ctx, "t.end_time IS NOT NULL")
}

func (s *Store) listTimelines(ctx context.Context, where string) ([]domain.TimelineWithDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.device_id, t.start_time, t.end_time, t.created_at,
	d.id, d.name, d.os, d.created_at, d.updated_at
FROM timelines t
JOIN devices d ON d.id = t.device_id
WHERE `+where+`
ORDER BY t.start_time DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	defer rows.Close()

	var out []domain.TimelineWithDevice
	for rows.Next() {
		var item domain.TimelineWithDevice
		var start, created, devCreated, devUpdated string
		var end sql.NullString
		if err := rows.Scan(&item.ID, &item.DeviceID, &start, &end, &created,
			&item.Device.ID, &item.Device.Name, &item.Device.OS, &devCreated, &devUpdated); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		if err := fillTimeline(&item.Timeline, start, end, created); err != nil {
			return nil, err
		}
		if item.Device.CreatedAt, err = parseTS(devCreated); err != nil {
			return nil, err
		}
		if item.Device.UpdatedAt, err = parseTS(devUpdated); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) CreateLocation(ctx context.Context, loc *domain.Location) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO locations(device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, loc.DeviceID, loc.Latitude, loc.Longitude, loc.ReverseData, string(loc.EventType), nullableStr(loc.TimelineID), ts(loc.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("location id: %w", err)
	}
	loc.ID = id
	return nil
}

func (s *Store) GetLatestLocation(ctx context.Context, deviceID string) (*domain.Location, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at
FROM locations
WHERE device_id = ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`, deviceID)
	var loc domain.Location
	err := scanLocation(row, &loc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest location: %w", err)
	}
	return &loc, nil
}

func (s *Store) ListLocationsByTimeline(ctx context.Context, timelineID string) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at
FROM locations
WHERE timeline_id = ?
ORDER BY created_at ASC, id ASC
`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		var loc domain.Location
		if err := scanLocation(rows, &loc); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *Store) CountLocations(ctx context.Context, deviceID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE device_id = ?`, deviceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return n, nil
}

func (s *Store) LatestPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT l.id, l.device_id, l.latitude, l.longitude, l.reverse_data, l.event_type, l.timeline_id, l.created_at,
	d.id, d.name, d.os, d.created_at, d.updated_at
FROM (
	SELECT *, ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY created_at DESC, id DESC) AS rn
	FROM locations
) l
JOIN devices d ON d.id = l.device_id
WHERE l.rn = 1
ORDER BY l.device_id
`)
	if err != nil {
		return nil, fmt.Errorf("list latest positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var eventType, locCreated, devCreated, devUpdated string
		var timelineID sql.NullString
		if err := rows.Scan(
			&p.Location.ID, &p.Location.DeviceID, &p.Location.Latitude, &p.Location.Longitude,
			&p.Location.ReverseData, &eventType, &timelineID, &locCreated,
			&p.Device.ID, &p.Device.Name, &p.Device.OS, &devCreated, &devUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Location.EventType = domain.EventType(eventType)
		if timelineID.Valid {
			p.Location.TimelineID = &timelineID.String
		}
		if p.Location.CreatedAt, err = parseTS(locCreated); err != nil {
			return nil, err
		}
		if p.Device.CreatedAt, err = parseTS(devCreated); err != nil {
			return nil, err
		}
		if p.Device.UpdatedAt, err = parseTS(devUpdated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTimeline(s scanner) (*domain.Timeline, error) {
	var t domain.Timeline
	var start, created string
	var end sql.NullString
	if err := s.Scan(&t.ID, &t.DeviceID, &start, &end, &created); err != nil {
		return nil, err
	}
	if err := fillTimeline(&t, start, end, created); err != nil {
		return nil, err
	}
	return &t, nil
}

func fillTimeline(t *domain.Timeline, start string, end sql.NullString, created string) error {
	var err error
	if t.StartTime, err = parseTS(start); err != nil {
		return err
	}
	if t.CreatedAt, err = parseTS(created); err != nil {
		return err
	}
	if end.Valid {
		e, err := parseTS(end.String)
		if err != nil {
			return err
		}
		t.EndTime = &e
	}
	return nil
}

func scanLocation(s scanner, loc *domain.Location) error {
	var eventType, created string
	var timelineID sql.NullString
	if err := s.Scan(&loc.ID, &loc.DeviceID, &loc.Latitude, &loc.Longitude,
		&loc.ReverseData, &eventType, &timelineID, &created); err != nil {
		return err
	}
	loc.EventType = domain.EventType(eventType)
	if timelineID.Valid {
		loc.TimelineID = &timelineID.String
	}
	var err error
	loc.CreatedAt, err = parseTS(created)
	return err
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueErr(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
