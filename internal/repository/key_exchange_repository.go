package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phonelink/server/internal/models"
)

// KeyExchangeRepository implements KeyExchangeRepo for PostgreSQL/SQLite
type KeyExchangeRepository struct {
	db DB
}

// NewKeyExchangeRepository creates a new KeyExchangeRepository
func NewKeyExchangeRepository(db DB) *KeyExchangeRepository {
	return &KeyExchangeRepository{db: db}
}

const keyExchangeColumns = `id, user_id, requesting_device, target_device, status, encrypted_response, created_at, fulfilled_at`

func scanKeyExchange(row interface{ Scan(...interface{}) error }) (*models.KeyExchangeRequest, error) {
	var req models.KeyExchangeRequest
	var status string
	var fulfilledAt sql.NullTime

	err := row.Scan(&req.ID, &req.UserID, &req.RequestingDevice, &req.TargetDevice,
		&status, &req.EncryptedResponse, &req.CreatedAt, &fulfilledAt)
	if err != nil {
		return nil, err
	}

	state, ok := models.ParseKeyExchangeState(status)
	if !ok {
		return nil, fmt.Errorf("key exchange %s has unknown status %q", req.ID, status)
	}
	req.State = state
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		req.FulfilledAt = &t
	}
	return &req, nil
}

func (r *KeyExchangeRepository) GetByID(ctx context.Context, id string) (*models.KeyExchangeRequest, error) {
	query := `SELECT ` + keyExchangeColumns + ` FROM key_exchanges WHERE id = $1`
	req, err := scanKeyExchange(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *KeyExchangeRepository) GetPendingForTarget(ctx context.Context, userID, targetDevice string) ([]*models.KeyExchangeRequest, error) {
	query := `SELECT ` + keyExchangeColumns + ` FROM key_exchanges
			  WHERE user_id = $1 AND target_device = $2 AND status = 'pending'
			  ORDER BY created_at`
	return r.queryMany(ctx, query, userID, targetDevice)
}

func (r *KeyExchangeRepository) GetFulfilledForRequester(ctx context.Context, userID, requestingDevice string) ([]*models.KeyExchangeRequest, error) {
	query := `SELECT ` + keyExchangeColumns + ` FROM key_exchanges
			  WHERE user_id = $1 AND requesting_device = $2 AND status = 'fulfilled'
			  ORDER BY created_at`
	return r.queryMany(ctx, query, userID, requestingDevice)
}

func (r *KeyExchangeRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.KeyExchangeRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*models.KeyExchangeRequest
	for rows.Next() {
		req, err := scanKeyExchange(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *KeyExchangeRepository) Add(ctx context.Context, req *models.KeyExchangeRequest) error {
	query := `INSERT INTO key_exchanges (id, user_id, requesting_device, target_device, status, encrypted_response, created_at, fulfilled_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.UserID, req.RequestingDevice, req.TargetDevice,
		req.State.String(), req.EncryptedResponse, req.CreatedAt, req.FulfilledAt,
	)
	return err
}

// Fulfill attaches the encrypted response to a pending request. The status
// guard makes a second response to the same request a no-op, keeping the
// request/response relationship strictly 1:1.
func (r *KeyExchangeRepository) Fulfill(ctx context.Context, id string, payload []byte) (bool, error) {
	query := `UPDATE key_exchanges SET status = 'fulfilled', encrypted_response = $1, fulfilled_at = $2
			  WHERE id = $3 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, payload, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *KeyExchangeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM key_exchanges WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}
