package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, nik, full_name, COALESCE(email, ''), username, role, password_hash,
	password_algo, is_active, must_reset_password, last_login_at, created_at, updated_at`

// Repository owns the users table plus the append-only login_attempts and
// password_history audit tables.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.NIK, &user.FullName, &user.Email, &user.Username, &user.Role,
		&user.PasswordHash, &user.PasswordAlgo, &user.IsActive, &user.MustResetPassword,
		&lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLoginAt = &value
	}
	return user, nil
}

func (r *Repository) GetByNIK(ctx context.Context, nik string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE nik = $1
	`, nik))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by nik: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// FirstAdmin returns the earliest-created active admin account. Admin login
// attaches its session to this row.
func (r *Repository) FirstAdmin(ctx context.Context) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'admin' AND is_active
		ORDER BY created_at ASC
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNoAdminAccount
		}
		return User{}, fmt.Errorf("query first admin: %w", err)
	}

	return user, nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}

	return nil
}

// ChangePassword archives the current hash to password_history and then
// overwrites it, clearing must_reset_password, in a single transaction.
func (r *Repository) ChangePassword(ctx context.Context, userID, newHash string) error {
	now := time.Now().UTC()

	historyID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password change tx: %w", err)
	}
	defer tx.Rollback()

	var oldHash string
	err = tx.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&oldHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock user row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_history (id, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, historyID.String(), userID, oldHash, now); err != nil {
		return fmt.Errorf("archive password hash: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, password_algo = 'argon2id', must_reset_password = FALSE, updated_at = $3
		WHERE id = $1
	`, userID, newHash, now); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password change tx: %w", err)
	}

	return nil
}

// RecordLoginAttempt appends an audit row. Callers treat failures here as
// best-effort; this method never influences the login outcome.
func (r *Repository) RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	var userID any
	if attempt.UserID != nil {
		userID = *attempt.UserID
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, user_id, username, ip_address, user_agent, is_success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.String(), userID, attempt.Username, attempt.IPAddress, attempt.UserAgent, attempt.IsSuccess, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}

	return nil
}

// SeedInput provisions one citizen or admin account. Public signup does not
// exist; accounts only enter the system through seeding.
type SeedInput struct {
	NIK               string
	FullName          string
	Email             string
	Username          string
	PasswordHash      string
	Role              string
	MustResetPassword bool
}

// UpsertSeedUser inserts the account or, when the NIK is already registered,
// refreshes its row in place.
func (r *Repository) UpsertSeedUser(ctx context.Context, input SeedInput) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	role := input.Role
	if role == "" {
		role = RoleCitizen
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, nik, full_name, email, username, role, password_hash, password_algo,
			is_active, must_reset_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'argon2id', TRUE, $8, $9, $9)
		ON CONFLICT (nik) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash,
			password_algo = EXCLUDED.password_algo,
			is_active = TRUE,
			must_reset_password = EXCLUDED.must_reset_password,
			updated_at = EXCLUDED.updated_at
	`, id.String(), input.NIK, input.FullName, nullIfEmpty(input.Email), input.Username, role,
		input.PasswordHash, input.MustResetPassword, now)
	if err != nil {
		return fmt.Errorf("upsert seed user: %w", err)
	}

	return nil
}

// DeleteOldLoginAttempts trims audit rows older than the cutoff, in batches.
func (r *Repository) DeleteOldLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM login_attempts
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM login_attempts t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("old login attempts rows affected: %w", err)
	}

	return affected, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
