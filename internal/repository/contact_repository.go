package repository

import (
	"context"
	"database/sql"

	"github.com/phonelink/server/internal/models"
)

// ContactRepository implements ContactRepo for PostgreSQL/SQLite
type ContactRepository struct {
	db DB
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db DB) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, user_id, remote_id, display_name, phone, normalized_phone, email, version, last_updated_by, last_updated_at, pending_sync, created_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*models.Contact, error) {
	var c models.Contact
	var remoteID, phone, normPhone, email sql.NullString

	err := row.Scan(&c.ID, &c.UserID, &remoteID, &c.DisplayName, &phone, &normPhone,
		&email, &c.Version, &c.LastUpdatedBy, &c.LastUpdatedAt, &c.PendingSync, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.RemoteID = remoteID.String
	c.Phone = phone.String
	c.NormalizedPhone = normPhone.String
	c.Email = email.String
	return &c, nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (r *ContactRepository) GetByRemoteID(ctx context.Context, userID, remoteID string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 AND remote_id = $2`
	contact, err := scanContact(r.db.QueryRowContext(ctx, query, userID, remoteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (r *ContactRepository) GetByNormalizedPhone(ctx context.Context, userID, normalizedPhone string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 AND normalized_phone = $2 ORDER BY created_at LIMIT 1`
	contact, err := scanContact(r.db.QueryRowContext(ctx, query, userID, normalizedPhone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (r *ContactRepository) GetAllForUser(ctx context.Context, userID string) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 ORDER BY display_name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) Add(ctx context.Context, c *models.Contact) error {
	query := `INSERT INTO contacts (id, user_id, remote_id, display_name, phone, normalized_phone, email, version, last_updated_by, last_updated_at, pending_sync, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, nullable(c.RemoteID), c.DisplayName, nullable(c.Phone),
		nullable(c.NormalizedPhone), nullable(c.Email), c.Version,
		c.LastUpdatedBy, c.LastUpdatedAt, c.PendingSync, c.CreatedAt,
	)
	return err
}

// Update persists an accepted write. The version guard repeats the conflict
// resolver's decision at the storage layer so a racing lower-version writer
// cannot clobber a higher version between read and write.
func (r *ContactRepository) Update(ctx context.Context, c *models.Contact) error {
	query := `UPDATE contacts
			  SET remote_id = $1, display_name = $2, phone = $3, normalized_phone = $4,
				  email = $5, version = $6, last_updated_by = $7, last_updated_at = $8, pending_sync = $9
			  WHERE id = $10 AND version <= $11`

	_, err := r.db.ExecContext(ctx, query,
		nullable(c.RemoteID), c.DisplayName, nullable(c.Phone),
		nullable(c.NormalizedPhone), nullable(c.Email), c.Version,
		c.LastUpdatedBy, c.LastUpdatedAt, c.PendingSync,
		c.ID, c.Version,
	)
	return err
}

func (r *ContactRepository) ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error {
	query := `UPDATE contacts SET user_id = $1 WHERE user_id = $2`
	_, err := r.db.ExecContext(ctx, query, toUserID, fromUserID)
	return err
}

func (r *ContactRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}
