package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type LocationRepo struct {
	DB *sql.DB
}

func NewLocationRepo(db *sql.DB) *LocationRepo {
	return &LocationRepo{DB: db}
}

// CreateLocation appends a sample and fills in its generated id.
func (r *LocationRepo) CreateLocation(ctx context.Context, loc *domain.Location) error {
	query := `
	INSERT INTO locations (device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id;
	`
	err := r.DB.QueryRowContext(ctx, query,
		loc.DeviceID, loc.Latitude, loc.Longitude, loc.ReverseData, string(loc.EventType), loc.TimelineID, loc.CreatedAt,
	).Scan(&loc.ID)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (r *LocationRepo) GetLatestLocation(ctx context.Context, deviceID string) (*domain.Location, error) {
	query := `
	SELECT id, device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at
	FROM locations
	WHERE device_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT 1;
	`
	var loc domain.Location
	err := scanLocation(r.DB.QueryRowContext(ctx, query, deviceID), &loc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest location: %w", err)
	}
	return &loc, nil
}

func (r *LocationRepo) ListLocationsByTimeline(ctx context.Context, timelineID string) ([]domain.Location, error) {
	query := `
	SELECT id, device_id, latitude, longitude, reverse_data, event_type, timeline_id, created_at
	FROM locations
	WHERE timeline_id = $1
	ORDER BY created_at ASC, id ASC;
	`
	rows, err := r.DB.QueryContext(ctx, query, timelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		var loc domain.Location
		if err := scanLocation(rows, &loc); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (r *LocationRepo) CountLocations(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE device_id = $1;`, deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return n, nil
}

// LatestPositions returns every device that has at least one location,
// paired with its most recent sample.
func (r *LocationRepo) LatestPositions(ctx context.Context) ([]domain.Position, error) {
	query := `
	SELECT DISTINCT ON (l.device_id)
	       l.id, l.device_id, l.latitude, l.longitude, l.reverse_data, l.event_type, l.timeline_id, l.created_at,
	       d.id, d.name, d.os, d.created_at, d.updated_at
	FROM locations l
	JOIN devices d ON d.id = l.device_id
	ORDER BY l.device_id, l.created_at DESC, l.id DESC;
	`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var eventType string
		var timelineID sql.NullString
		if err := rows.Scan(
			&p.Location.ID, &p.Location.DeviceID, &p.Location.Latitude, &p.Location.Longitude,
			&p.Location.ReverseData, &eventType, &timelineID, &p.Location.CreatedAt,
			&p.Device.ID, &p.Device.Name, &p.Device.OS, &p.Device.CreatedAt, &p.Device.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Location.EventType = domain.EventType(eventType)
		if timelineID.Valid {
			p.Location.TimelineID = &timelineID.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLocation(s scanner, loc *domain.Location) error {
	var eventType string
	var timelineID sql.NullString
	if err := s.Scan(
		&loc.ID, &loc.DeviceID, &loc.Latitude, &loc.Longitude,
		&loc.ReverseData, &eventType, &timelineID, &loc.CreatedAt,
	); err != nil {
		return err
	}
	loc.EventType = domain.EventType(eventType)
	if timelineID.Valid {
		loc.TimelineID = &timelineID.String
	}
	return nil
}
