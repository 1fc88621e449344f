package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/harrison/fleetd/internal/models"
)

const deviceColumns = `id, name, map_id, current_zone, direction, battery_level,
	forward_speed, turning_speed, vertical_speed, updated_at`

// UpsertDevice inserts or replaces a device record.
func (s *Store) UpsertDevice(d *models.Device) error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO devices (id, name, map_id, current_zone, direction, battery_level, forward_speed, turning_speed, vertical_speed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			map_id = excluded.map_id,
			current_zone = excluded.current_zone,
			direction = excluded.direction,
			battery_level = excluded.battery_level,
			forward_speed = excluded.forward_speed,
			turning_speed = excluded.turning_speed,
			vertical_speed = excluded.vertical_speed,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.MapID, d.CurrentZone, d.Direction, d.BatteryLevel,
		d.ForwardSpeed, d.TurningSpeed, d.VerticalSpeed, formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.ID, err)
	}
	return nil
}

// GetDevice fetches a device by id.
func (s *Store) GetDevice(id string) (*models.Device, error) {
	row := s.db.QueryRow(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

// ListDevices returns all devices ordered by id.
func (s *Store) ListDevices() ([]models.Device, error) {
	rows, err := s.db.Query(`SELECT ` + deviceColumns + ` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// UpdateDeviceLocation refreshes a device's last synced zone and direction.
func (s *Store) UpdateDeviceLocation(id, zone, direction string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE devices SET current_zone = ?, direction = ?, updated_at = ? WHERE id = ?`,
		zone, direction, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update device location %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update device location %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d         models.Device
		updatedAt string
	)
	err := row.Scan(&d.ID, &d.Name, &d.MapID, &d.CurrentZone, &d.Direction, &d.BatteryLevel,
		&d.ForwardSpeed, &d.TurningSpeed, &d.VerticalSpeed, &updatedAt)
	if err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}
