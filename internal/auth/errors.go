package auth

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials covers every credential failure on login and
	// change-password. Callers must not surface anything more specific.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrAccountInactive    = errors.New("account inactive")
	ErrNoAdminAccount     = errors.New("no admin account provisioned")
	ErrAdminLoginDisabled = errors.New("admin login is not configured")
	ErrSamePassword       = errors.New("new password equals current password")

	// Reset token failures, reported in this fixed priority order.
	ErrResetTokenNotFound   = errors.New("reset token not found")
	ErrResetTokenUsed       = errors.New("reset token already used")
	ErrResetTokenExpired    = errors.New("reset token expired")
	ErrResetAccountInactive = errors.New("reset token account inactive")
)

// PolicyError carries every password policy rule the candidate violated.
type PolicyError struct {
	Violations []PolicyViolation
}

func (e PolicyError) Error() string {
	keys := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		keys = append(keys, v.Key)
	}
	return "password policy violated: " + strings.Join(keys, ",")
}
