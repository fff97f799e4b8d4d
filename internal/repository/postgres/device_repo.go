package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type DeviceRepo struct {
	DB *sql.DB
}

func NewDeviceRepo(db *sql.DB) *DeviceRepo {
	return &DeviceRepo{DB: db}
}

// UpsertDevice inserts the device or refreshes its name and os. CreatedAt is
// set to the stored value.
func (r *DeviceRepo) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (id, name, os, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		os = EXCLUDED.os,
		updated_at = EXCLUDED.updated_at
	RETURNING created_at;
	`
	err := r.DB.QueryRowContext(ctx, query,
		device.ID, device.Name, device.OS, device.CreatedAt, device.UpdatedAt,
	).Scan(&device.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	query := `
	SELECT id, name, os, created_at, updated_at
	FROM devices
	WHERE id = $1;
	`
	var d domain.Device
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.OS, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}
