package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/phonelink/server/internal/models"
)

// DeviceRepository implements DeviceRepo for PostgreSQL/SQLite
type DeviceRepository struct {
	db DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, user_id, device_name, platform, push_token, registered_at, last_seen_at`

func scanDevice(row interface{ Scan(...interface{}) error }) (*models.Device, error) {
	var device models.Device
	var pushToken sql.NullString
	err := row.Scan(&device.ID, &device.UserID, &device.DeviceName, &device.Platform,
		&pushToken, &device.RegisteredAt, &device.LastSeenAt)
	if err != nil {
		return nil, err
	}
	device.PushToken = pushToken.String
	return &device, nil
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (r *DeviceRepository) GetAllForUser(ctx context.Context, userID string) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = $1 ORDER BY last_seen_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (r *DeviceRepository) Add(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (id, user_id, device_name, platform, push_token, registered_at, last_seen_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID, device.UserID, device.DeviceName, device.Platform,
		nullable(device.PushToken), device.RegisteredAt, device.LastSeenAt,
	)
	return err
}

func (r *DeviceRepository) Reassign(ctx context.Context, id, userID string) error {
	query := `UPDATE devices SET user_id = $1, last_seen_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC(), id)
	return err
}

func (r *DeviceRepository) ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error {
	query := `UPDATE devices SET user_id = $1 WHERE user_id = $2`
	_, err := r.db.ExecContext(ctx, query, toUserID, fromUserID)
	return err
}

func (r *DeviceRepository) UpdatePushToken(ctx context.Context, id, pushToken string) error {
	query := `UPDATE devices SET push_token = $1, last_seen_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, nullable(pushToken), time.Now().UTC(), id)
	return err
}

func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string) error {
	query := `UPDATE devices SET last_seen_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

func (r *DeviceRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// DeleteUnseenSince removes devices idle beyond the long-idle window.
func (r *DeviceRepository) DeleteUnseenSince(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}
