package repository

import (
	"context"
	"database/sql"

	"github.com/phonelink/server/internal/models"
)

// MessageRepository implements MessageRepo for PostgreSQL/SQLite
type MessageRepository struct {
	db DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, user_id, device_id, remote_id, address, body, direction, occurred_at, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	var remoteID sql.NullString

	err := row.Scan(&m.ID, &m.UserID, &m.DeviceID, &remoteID, &m.Address,
		&m.Body, &m.Direction, &m.OccurredAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.RemoteID = remoteID.String
	return &m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (r *MessageRepository) GetRecentForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = $1 ORDER BY occurred_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

func (r *MessageRepository) Add(ctx context.Context, m *models.Message) error {
	query := `INSERT INTO messages (id, user_id, device_id, remote_id, address, body, direction, occurred_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.DeviceID, nullable(m.RemoteID), m.Address,
		m.Body, m.Direction, m.OccurredAt, m.CreatedAt,
	)
	return err
}

func (r *MessageRepository) ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error {
	query := `UPDATE messages SET user_id = $1 WHERE user_id = $2`
	_, err := r.db.ExecContext(ctx, query, toUserID, fromUserID)
	return err
}
