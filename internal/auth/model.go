package auth

import "time"

const (
	RoleCitizen = "citizen"
	RoleAdmin   = "admin"
)

type User struct {
	ID                string
	NIK               string
	FullName          string
	Email             string
	Username          string
	Role              string
	PasswordHash      string
	PasswordAlgo      string
	IsActive          bool
	MustResetPassword bool
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PublicUser is the client-facing projection of a user. The password hash
// and row id never leave the server.
type PublicUser struct {
	NIK               string     `json:"nik"`
	FullName          string     `json:"fullName"`
	Email             string     `json:"email"`
	Role              string     `json:"role"`
	MustResetPassword bool       `json:"mustResetPassword"`
	LastLoginAt       *time.Time `json:"lastLoginAt,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		NIK:               u.NIK,
		FullName:          u.FullName,
		Email:             u.Email,
		Role:              u.Role,
		MustResetPassword: u.MustResetPassword,
		LastLoginAt:       u.LastLoginAt,
	}
}

type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the session is usable at the given instant.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type LoginAttempt struct {
	UserID    *string
	Username  string
	IPAddress string
	UserAgent string
	IsSuccess bool
}
