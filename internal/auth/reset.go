package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultResetTokenTTL bounds how long a password reset link stays usable.
const DefaultResetTokenTTL = 10 * time.Minute

// ResetManager owns the password_reset_tokens table. Tokens are single-use,
// time-boxed, and stored hash-only like session tokens.
type ResetManager struct {
	db  *sql.DB
	ttl time.Duration
}

func NewResetManager(db *sql.DB, ttl time.Duration) *ResetManager {
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &ResetManager{db: db, ttl: ttl}
}

// ResetTokenInfo pairs a reset token with its account.
type ResetTokenInfo struct {
	Token ResetToken
	User  User
}

// Issue prunes the user's used and expired tokens, then inserts a fresh one.
// The pruning is housekeeping; Validate re-checks token state regardless.
func (m *ResetManager) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	now := time.Now().UTC()

	if _, err := m.db.ExecContext(ctx, `
		DELETE FROM password_reset_tokens
		WHERE user_id = $1 AND (used_at IS NOT NULL OR expires_at <= $2)
	`, userID, now); err != nil {
		return "", time.Time{}, fmt.Errorf("prune reset tokens: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	raw, hash, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := now.Add(m.ttl)
	if _, err := m.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, hash, expiresAt, now); err != nil {
		return "", time.Time{}, fmt.Errorf("insert reset token: %w", err)
	}

	return raw, expiresAt, nil
}

// Validate checks a raw token and reports exactly one failure, evaluated in
// fixed order: not found, used, expired, inactive account. A token that is
// both used and expired therefore reports used.
func (m *ResetManager) Validate(ctx context.Context, rawToken string) (*ResetTokenInfo, error) {
	if rawToken == "" {
		return nil, ErrResetTokenNotFound
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.token_hash, t.expires_at, t.used_at, t.created_at,
			u.id, u.nik, u.full_name, COALESCE(u.email, ''), u.username, u.role,
			u.password_hash, u.password_algo, u.is_active, u.must_reset_password,
			u.last_login_at, u.created_at, u.updated_at
		FROM password_reset_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`, HashToken(rawToken))

	var info ResetTokenInfo
	var usedAt, lastLogin sql.NullTime
	err := row.Scan(
		&info.Token.ID, &info.Token.UserID, &info.Token.TokenHash, &info.Token.ExpiresAt, &usedAt, &info.Token.CreatedAt,
		&info.User.ID, &info.User.NIK, &info.User.FullName, &info.User.Email, &info.User.Username, &info.User.Role,
		&info.User.PasswordHash, &info.User.PasswordAlgo, &info.User.IsActive, &info.User.MustResetPassword,
		&lastLogin, &info.User.CreatedAt, &info.User.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("query reset token: %w", err)
	}

	if usedAt.Valid {
		value := usedAt.Time.UTC()
		info.Token.UsedAt = &value
		return nil, ErrResetTokenUsed
	}
	if !info.Token.ExpiresAt.After(time.Now().UTC()) {
		return nil, ErrResetTokenExpired
	}
	if !info.User.IsActive {
		return nil, ErrResetAccountInactive
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		info.User.LastLoginAt = &value
	}

	return &info, nil
}

// Consume applies the password reset as one transaction: archive the old
// hash, overwrite the password and clear must_reset_password, revoke every
// active session, and finally mark the token used. The token update runs
// last so a crash mid-transaction can only leave a retry-safe state.
func (m *ResetManager) Consume(ctx context.Context, tokenID, userID, newPasswordHash string) error {
	now := time.Now().UTC()

	historyID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset consume tx: %w", err)
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
	`, userID, newPasswordHash, now); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, tokenID, now)
	if err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrResetTokenUsed
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset consume tx: %w", err)
	}

	return nil
}

// DeleteStale removes used and expired tokens across all users.
func (m *ResetManager) DeleteStale(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := m.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM password_reset_tokens
			WHERE used_at IS NOT NULL OR expires_at < NOW()
			ORDER BY created_at ASC
			LIMIT $1
		)
		DELETE FROM password_reset_tokens t
		USING stale
		WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale reset tokens rows affected: %w", err)
	}

	return affected, nil
}
