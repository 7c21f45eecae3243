package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"time"

	"citizen-portal/internal/observability"
)

const nikLength = 16

// AttemptMeta carries the request metadata recorded with every login
// attempt, successful or not.
type AttemptMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult is a successful authentication: the sanitized user plus the
// one-time raw session token.
type LoginResult struct {
	User      User
	RawToken  string
	ExpiresAt time.Time
}

// ForgotResult is a freshly issued reset token for an account.
type ForgotResult struct {
	User      User
	RawToken  string
	ExpiresAt time.Time
}

// Service orchestrates the credential lifecycle over the credential store,
// hasher, session manager, and reset manager.
type Service struct {
	repo        *Repository
	sessions    *SessionManager
	resets      *ResetManager
	hasher      *Hasher
	logger      *observability.Logger
	adminSecret string
}

func NewService(repo *Repository, sessions *SessionManager, resets *ResetManager, hasher *Hasher, logger *observability.Logger) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		resets:   resets,
		hasher:   hasher,
		logger:   logger,
	}
}

// WithAdminSecret enables the shared-secret admin login endpoint.
func (s *Service) WithAdminSecret(secret string) {
	s.adminSecret = strings.TrimSpace(secret)
}

func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// NormalizeNIK strips every non-digit character and requires exactly 16
// digits to remain.
func NormalizeNIK(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	nik := b.String()
	return nik, len(nik) == nikLength
}

// Login authenticates a citizen by NIK and password. Every failure after NIK
// validation is ErrInvalidCredentials; unknown accounts, deactivated
// accounts, and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, nik, password string, meta AttemptMeta) (LoginResult, error) {
	user, err := s.repo.GetByNIK(ctx, nik)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordAttempt(ctx, LoginAttempt{Username: nik, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent})
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !user.IsActive {
		s.recordAttempt(ctx, LoginAttempt{UserID: &user.ID, Username: nik, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent})
		return LoginResult{}, ErrInvalidCredentials
	}

	match, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return LoginResult{}, err
	}
	if !match {
		s.recordAttempt(ctx, LoginAttempt{UserID: &user.ID, Username: nik, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent})
		return LoginResult{}, ErrInvalidCredentials
	}

	return s.finishLogin(ctx, user, nik, meta)
}

// AdminLogin verifies the shared admin secret and attaches the session to
// the earliest-created active admin account.
func (s *Service) AdminLogin(ctx context.Context, password string, meta AttemptMeta) (LoginResult, error) {
	if s.adminSecret == "" {
		return LoginResult{}, ErrAdminLoginDisabled
	}

	if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminSecret)) != 1 {
		s.recordAttempt(ctx, LoginAttempt{Username: "admin", IPAddress: meta.IPAddress, UserAgent: meta.UserAgent})
		return LoginResult{}, ErrInvalidCredentials
	}

	admin, err := s.repo.FirstAdmin(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	return s.finishLogin(ctx, admin, "admin", meta)
}

func (s *Service) finishLogin(ctx context.Context, user User, username string, meta AttemptMeta) (LoginResult, error) {
	now := time.Now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.LastLoginAt = &now

	s.recordAttempt(ctx, LoginAttempt{
		UserID:    &user.ID,
		Username:  username,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		IsSuccess: true,
	})

	rawToken, expiresAt, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{User: user, RawToken: rawToken, ExpiresAt: expiresAt}, nil
}

// recordAttempt is best-effort: a failed audit write is logged and swallowed
// so it never changes the authentication outcome.
func (s *Service) recordAttempt(ctx context.Context, attempt LoginAttempt) {
	if err := s.repo.RecordLoginAttempt(ctx, attempt); err != nil {
		s.logger.Error("login_attempt_write_failed", map[string]any{"error": err.Error()})
	}
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// Forgot issues a reset token for the account registered under the NIK.
func (s *Service) Forgot(ctx context.Context, nik string) (ForgotResult, error) {
	user, err := s.repo.GetByNIK(ctx, nik)
	if err != nil {
		return ForgotResult{}, err
	}
	if !user.IsActive {
		return ForgotResult{}, ErrAccountInactive
	}

	rawToken, expiresAt, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		return ForgotResult{}, err
	}

	return ForgotResult{User: user, RawToken: rawToken, ExpiresAt: expiresAt}, nil
}

// ValidateResetToken re-checks a raw reset token without consuming it.
func (s *Service) ValidateResetToken(ctx context.Context, rawToken string) (*ResetTokenInfo, error) {
	return s.resets.Validate(ctx, rawToken)
}

// ResetPassword consumes a reset token and installs the new password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if violations := ValidatePassword(newPassword); len(violations) > 0 {
		return PolicyError{Violations: violations}
	}

	info, err := s.resets.Validate(ctx, rawToken)
	if err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	return s.resets.Consume(ctx, info.Token.ID, info.User.ID, newHash)
}

// ChangePassword rotates the password of an authenticated user who can
// still present the current one.
func (s *Service) ChangePassword(ctx context.Context, user User, currentPassword, newPassword string) error {
	match, err := s.hasher.Verify(user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !match {
		return ErrInvalidCredentials
	}

	if violations := ValidatePassword(newPassword); len(violations) > 0 {
		return PolicyError{Violations: violations}
	}

	same, err := s.hasher.Verify(user.PasswordHash, newPassword)
	if err != nil {
		return err
	}
	if same {
		return ErrSamePassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	return s.repo.ChangePassword(ctx, user.ID, newHash)
}
