package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"citizen-portal/internal/observability"
)

func newServiceWithMock(t *testing.T) (*Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}

	service := NewService(
		NewRepository(db),
		NewSessionManager(db, 5*time.Minute),
		NewResetManager(db, 10*time.Minute),
		NewHasher(testHashParams()),
		observability.NewLogger(),
	)
	return service, mock, db
}

func userRows(user User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "nik", "full_name", "email", "username", "role", "password_hash",
		"password_algo", "is_active", "must_reset_password", "last_login_at",
		"created_at", "updated_at",
	}).AddRow(
		user.ID, user.NIK, user.FullName, user.Email, user.Username, user.Role,
		user.PasswordHash, user.PasswordAlgo, user.IsActive, user.MustResetPassword,
		nil, user.CreatedAt, user.UpdatedAt,
	)
}

func citizenFixture(t *testing.T, password string) User {
	t.Helper()
	hash, err := NewHasher(testHashParams()).Hash(password)
	if err != nil {
		t.Fatalf("hash fixture password: %v", err)
	}

	now := time.Now().UTC()
	return User{
		ID: "user-1", NIK: "3174051203990001", FullName: "Budi Santoso",
		Email: "budi@example.com", Username: "3174051203990001", Role: RoleCitizen,
		PasswordHash: hash, PasswordAlgo: "argon2id", IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
}

const testMeta = "service test"

func meta() AttemptMeta {
	return AttemptMeta{IPAddress: "127.0.0.1", UserAgent: testMeta}
}

func TestLoginSuccess(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")

	mock.ExpectQuery("WHERE nik = \\$1").WithArgs(user.NIK).WillReturnRows(userRows(user))
	mock.ExpectExec("SET last_login_at").
		WithArgs(user.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO login_attempts").
		WithArgs(sqlmock.AnyArg(), user.ID, user.NIK, "127.0.0.1", testMeta, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth_sessions").
		WithArgs(sqlmock.AnyArg(), user.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.Login(context.Background(), user.NIK, "Rahasia#123", meta())
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if result.RawToken == "" {
		t.Fatal("expected a session token")
	}
	if result.User.LastLoginAt == nil {
		t.Fatal("expected last login timestamp on the result")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	inactive := func(t *testing.T) User {
		user := citizenFixture(t, "Rahasia#123")
		user.IsActive = false
		return user
	}

	tests := []struct {
		name     string
		password string
		setup    func(t *testing.T, mock sqlmock.Sqlmock)
	}{
		{
			name:     "unknown nik",
			password: "Rahasia#123",
			setup: func(t *testing.T, mock sqlmock.Sqlmock) {
				mock.ExpectQuery("WHERE nik = \\$1").WillReturnError(sql.ErrNoRows)
				mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:     "inactive account",
			password: "Rahasia#123",
			setup: func(t *testing.T, mock sqlmock.Sqlmock) {
				mock.ExpectQuery("WHERE nik = \\$1").WillReturnRows(userRows(inactive(t)))
				mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:     "wrong password",
			password: "Salah#456x",
			setup: func(t *testing.T, mock sqlmock.Sqlmock) {
				mock.ExpectQuery("WHERE nik = \\$1").WillReturnRows(userRows(citizenFixture(t, "Rahasia#123")))
				mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mock, db := newServiceWithMock(t)
			defer db.Close()

			tt.setup(t, mock)

			_, err := service.Login(context.Background(), "3174051203990001", tt.password, meta())
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations not met: %v", err)
			}
		})
	}
}

func TestLoginAttemptFailureDoesNotBlockOutcome(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery("WHERE nik = \\$1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO login_attempts").WillReturnError(errors.New("audit table down"))

	_, err := service.Login(context.Background(), "3174051203990001", "Rahasia#123", meta())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAdminLoginDisabledWithoutSecret(t *testing.T) {
	service, _, db := newServiceWithMock(t)
	defer db.Close()

	_, err := service.AdminLogin(context.Background(), "whatever", meta())
	if !errors.Is(err, ErrAdminLoginDisabled) {
		t.Fatalf("expected ErrAdminLoginDisabled, got %v", err)
	}
}

func TestAdminLoginWrongSecret(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()
	service.WithAdminSecret("super-secret")

	mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := service.AdminLogin(context.Background(), "wrong", meta())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAdminLoginSuccess(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()
	service.WithAdminSecret("super-secret")

	admin := citizenFixture(t, "Rahasia#123")
	admin.Role = RoleAdmin

	mock.ExpectQuery("WHERE role = 'admin'").WillReturnRows(userRows(admin))
	mock.ExpectExec("SET last_login_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth_sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.AdminLogin(context.Background(), "super-secret", meta())
	if err != nil {
		t.Fatalf("AdminLogin() error: %v", err)
	}
	if result.User.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %q", result.User.Role)
	}
}

func TestAdminLoginNoAdminAccount(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()
	service.WithAdminSecret("super-secret")

	mock.ExpectQuery("WHERE role = 'admin'").WillReturnError(sql.ErrNoRows)

	_, err := service.AdminLogin(context.Background(), "super-secret", meta())
	if !errors.Is(err, ErrNoAdminAccount) {
		t.Fatalf("expected ErrNoAdminAccount, got %v", err)
	}
}

func TestForgotUnknownNIK(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery("WHERE nik = \\$1").WillReturnError(sql.ErrNoRows)

	_, err := service.Forgot(context.Background(), "3174051203990001")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestForgotInactiveAccount(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")
	user.IsActive = false
	mock.ExpectQuery("WHERE nik = \\$1").WillReturnRows(userRows(user))

	_, err := service.Forgot(context.Background(), user.NIK)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestForgotIssuesToken(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")
	mock.ExpectQuery("WHERE nik = \\$1").WillReturnRows(userRows(user))
	mock.ExpectExec("DELETE FROM password_reset_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO password_reset_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.Forgot(context.Background(), user.NIK)
	if err != nil {
		t.Fatalf("Forgot() error: %v", err)
	}
	if result.RawToken == "" {
		t.Fatal("expected a reset token")
	}
	if result.User.FullName != user.FullName {
		t.Fatalf("unexpected user on result: %+v", result.User)
	}
}

func TestResetPasswordRejectsWeakPasswordBeforeStorage(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	err := service.ResetPassword(context.Background(), "raw-reset", "lemah")
	var policyErr PolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	service, _, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")
	err := service.ChangePassword(context.Background(), user, "Salah#456x", "BaruKuat#789")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePasswordWeakNewPassword(t *testing.T) {
	service, _, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")
	err := service.ChangePassword(context.Background(), user, "Rahasia#123", "lemah")
	var policyErr PolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
}

func TestChangePasswordSameAsCurrent(t *testing.T) {
	service, _, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")
	err := service.ChangePassword(context.Background(), user, "Rahasia#123", "Rahasia#123")
	if !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}
}

func TestChangePasswordArchivesOldHash(t *testing.T) {
	service, mock, db := newServiceWithMock(t)
	defer db.Close()

	user := citizenFixture(t, "Rahasia#123")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT password_hash FROM users").
		WithArgs(user.ID).
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(user.PasswordHash))
	mock.ExpectExec("INSERT INTO password_history").
		WithArgs(sqlmock.AnyArg(), user.ID, user.PasswordHash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE users").
		WithArgs(user.ID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := service.ChangePassword(context.Background(), user, "Rahasia#123", "BaruKuat#789"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
