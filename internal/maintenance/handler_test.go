package maintenance

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"citizen-portal/internal/auth"
	"citizen-portal/internal/observability"
)

func newCleanupWithMock(t *testing.T, secret string) (*CleanupHandler, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}

	handler := NewCleanupHandler(
		auth.NewSessionManager(db, time.Minute),
		auth.NewResetManager(db, time.Minute),
		auth.NewRepository(db),
		observability.NewLogger(),
		secret,
		24*time.Hour,
		30*24*time.Hour,
		500,
	)
	return handler, mock, db
}

func expectSweep(mock sqlmock.Sqlmock, sessions, resets, attempts int64) {
	mock.ExpectExec("DELETE FROM auth_sessions").WillReturnResult(sqlmock.NewResult(0, sessions))
	mock.ExpectExec("DELETE FROM password_reset_tokens").WillReturnResult(sqlmock.NewResult(0, resets))
	mock.ExpectExec("DELETE FROM login_attempts").WillReturnResult(sqlmock.NewResult(0, attempts))
}

func TestHandleHiddenWithoutSecret(t *testing.T) {
	handler, _, db := newCleanupWithMock(t, "")
	defer db.Close()

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRejectsBadBearer(t *testing.T) {
	handler, _, db := newCleanupWithMock(t, "cron-secret")
	defer db.Close()

	for _, header := range []string{"", "Bearer wrong", "Basic cron-secret", "cron-secret"} {
		r := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}

		rec := httptest.NewRecorder()
		handler.Handle(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestHandleRunsSweep(t *testing.T) {
	handler, mock, db := newCleanupWithMock(t, "cron-secret")
	defer db.Close()

	expectSweep(mock, 3, 2, 1)

	r := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	r.Header.Set("Authorization", "Bearer cron-secret")

	rec := httptest.NewRecorder()
	handler.Handle(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestRunReturnsCounts(t *testing.T) {
	handler, mock, db := newCleanupWithMock(t, "cron-secret")
	defer db.Close()

	expectSweep(mock, 5, 4, 3)

	result, err := handler.Run(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.DeletedSessions != 5 || result.DeletedResetTokens != 4 || result.DeletedLoginAttempts != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
