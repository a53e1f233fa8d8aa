package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/phonelink/server/internal/models"
)

// UserRepository implements UserRepo for PostgreSQL/SQLite
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, phone, email, anonymous, fingerprint_hash, recovery_code_hash, created_at, deletion_due_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var user models.User
	var phone, email, fingerprint, recovery sql.NullString
	var deletionDue sql.NullTime

	err := row.Scan(&user.ID, &phone, &email, &user.Anonymous,
		&fingerprint, &recovery, &user.CreatedAt, &deletionDue)
	if err != nil {
		return nil, err
	}

	user.Phone = phone.String
	user.Email = email.String
	user.FingerprintHash = fingerprint.String
	user.RecoveryCodeHash = recovery.String
	if deletionDue.Valid {
		t := deletionDue.Time
		user.DeletionDueAt = &t
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByFingerprint(ctx context.Context, fingerprintHash string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE fingerprint_hash = $1 ORDER BY created_at LIMIT 1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, fingerprintHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) Add(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, phone, email, anonymous, fingerprint_hash, recovery_code_hash, created_at, deletion_due_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, nullable(user.Phone), nullable(user.Email), user.Anonymous,
		nullable(user.FingerprintHash), nullable(user.RecoveryCodeHash),
		user.CreatedAt, user.DeletionDueAt,
	)
	return err
}

func (r *UserRepository) SetPhone(ctx context.Context, id, phone string) error {
	query := `UPDATE users SET phone = $1, anonymous = false WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, phone, id)
	return err
}

func (r *UserRepository) SetFingerprint(ctx context.Context, id, fingerprintHash string) error {
	query := `UPDATE users SET fingerprint_hash = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, fingerprintHash, id)
	return err
}

func (r *UserRepository) SetRecoveryCodeHash(ctx context.Context, id, hash string) error {
	query := `UPDATE users SET recovery_code_hash = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, hash, id)
	return err
}

func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// GetOrphans returns identities with no devices and no messages, created
// before the cutoff. Abandoned pairing flows leave these behind.
func (r *UserRepository) GetOrphans(ctx context.Context, olderThan time.Time) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u
			  WHERE u.created_at < $1
				AND NOT EXISTS (SELECT 1 FROM devices d WHERE d.user_id = u.id)
				AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.user_id = u.id)`

	rows, err := r.db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetClaimableOrphan returns the oldest device-less anonymous identity that
// still holds data, or nil if none exists. Empty identities are excluded so
// an unrelated abandoned account is never revived by a fresh fingerprint.
func (r *UserRepository) GetClaimableOrphan(ctx context.Context) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u
			  WHERE u.anonymous = true
				AND u.phone IS NULL
				AND u.fingerprint_hash IS NULL
				AND NOT EXISTS (SELECT 1 FROM devices d WHERE d.user_id = u.id)
				AND (EXISTS (SELECT 1 FROM messages m WHERE m.user_id = u.id)
					 OR EXISTS (SELECT 1 FROM contacts c WHERE c.user_id = u.id))
			  ORDER BY u.created_at LIMIT 1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// nullable converts an empty string to NULL so partial unique indexes behave.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
