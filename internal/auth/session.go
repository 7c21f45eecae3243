package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sessionTokenBytes = 32 // 256 bits of entropy, hex-encoded for transport

	// DefaultSessionTTL bounds how long an issued session stays valid.
	DefaultSessionTTL = 5 * time.Minute
)

// SessionManager owns the auth_sessions table. Raw bearer tokens exist only
// in the return value of Create; the table holds their SHA-256 hashes.
type SessionManager struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSessionManager(db *sql.DB, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{db: db, ttl: ttl}
}

func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// HashToken computes the hex SHA-256 digest stored in place of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateToken() (raw, hash string, err error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate session token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// Create issues a fresh session for the user and returns the raw token.
// This is the only moment the token is available in plaintext.
func (m *SessionManager) Create(ctx context.Context, userID string) (string, time.Time, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	raw, hash, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, hash, expiresAt, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}

	return raw, expiresAt, nil
}

// Resolve returns the user and session for a raw token, or (nil, nil, nil)
// when the token is unknown, revoked, expired, or belongs to a deactivated
// account. The single nil result is deliberate: callers cannot tell those
// cases apart.
func (m *SessionManager) Resolve(ctx context.Context, rawToken string) (*User, *Session, error) {
	if rawToken == "" {
		return nil, nil, nil
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.token_hash, s.expires_at, s.revoked_at, s.created_at,
			u.id, u.nik, u.full_name, COALESCE(u.email, ''), u.username, u.role,
			u.password_hash, u.password_algo, u.is_active, u.must_reset_password,
			u.last_login_at, u.created_at, u.updated_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > $2
		  AND u.is_active
	`, HashToken(rawToken), time.Now().UTC())

	var session Session
	var user User
	var revokedAt, lastLogin sql.NullTime
	err := row.Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt, &revokedAt, &session.CreatedAt,
		&user.ID, &user.NIK, &user.FullName, &user.Email, &user.Username, &user.Role,
		&user.PasswordHash, &user.PasswordAlgo, &user.IsActive, &user.MustResetPassword,
		&lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	}

	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		session.RevokedAt = &value
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLoginAt = &value
	}

	return &user, &session, nil
}

// Revoke soft-deletes a session. Revoking twice is a no-op; the first
// revocation timestamp wins.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

// RevokeAllForUser soft-revokes every active session of the user.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke sessions for user: %w", err)
	}

	return nil
}

// DeleteExpired removes inert session rows: expired ones, and revoked ones
// older than the retention window. Expiry is enforced at query time, so this
// is pure garbage collection.
func (m *SessionManager) DeleteExpired(ctx context.Context, retention time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := time.Now().UTC().Add(-retention)

	res, err := m.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_sessions
			WHERE expires_at < NOW() OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_sessions t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}

	return affected, nil
}
