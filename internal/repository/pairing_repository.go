package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phonelink/server/internal/models"
)

// PairingRepository implements PairingRepo for PostgreSQL/SQLite
type PairingRepository struct {
	db DB
}

// NewPairingRepository creates a new PairingRepository
func NewPairingRepository(db DB) *PairingRepository {
	return &PairingRepository{db: db}
}

func (r *PairingRepository) Add(ctx context.Context, req *models.PairingRequest) error {
	query := `INSERT INTO pairing_requests (id, token_hash, device_id, device_name, device_type, requester_id, approved_by, status, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.TokenHash, req.DeviceID, req.DeviceName, req.DeviceType,
		nullable(req.RequesterID), nullable(req.ApprovedBy),
		req.State.String(), req.CreatedAt, req.ExpiresAt,
	)
	return err
}

func (r *PairingRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PairingRequest, error) {
	query := `SELECT id, device_id, device_name, device_type, requester_id, approved_by, status, created_at, expires_at
			  FROM pairing_requests WHERE token_hash = $1`

	var req models.PairingRequest
	var requester, approver sql.NullString
	var status string

	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&req.ID, &req.DeviceID, &req.DeviceName, &req.DeviceType,
		&requester, &approver, &status, &req.CreatedAt, &req.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	req.TokenHash = tokenHash
	req.RequesterID = requester.String
	req.ApprovedBy = approver.String

	state, ok := models.ParsePairingState(status)
	if !ok {
		return nil, fmt.Errorf("pairing request %s has unknown status %q", req.ID, status)
	}
	req.State = state
	return &req, nil
}

// Transition performs a compare-and-swap state change. The transition table
// is validated first; the WHERE clause on the stored status then guarantees
// that concurrent callers racing on the same row get exactly one winner.
func (r *PairingRepository) Transition(ctx context.Context, id string, from, to models.PairingState) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("invalid pairing transition %s -> %s", from, to)
	}

	query := `UPDATE pairing_requests SET status = $1 WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, to.String(), id, from.String())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// Approve binds the approver and leaves pending in one statement. Splitting
// this into a transition plus a second UPDATE would open a window where a
// racing redeem sees an approved request with no approver.
func (r *PairingRepository) Approve(ctx context.Context, id, userID string) (bool, error) {
	query := `UPDATE pairing_requests SET status = $1, approved_by = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query,
		models.PairingApproved.String(), userID, id, models.PairingPending.String())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *PairingRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pairing_requests WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}
