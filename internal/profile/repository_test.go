package profile

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newRepositoryWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return NewRepository(db), mock, db
}

func snapshotRowColumns() []string {
	return []string{
		"u_id", "u_nik", "u_full_name", "u_email", "u_username", "u_role",
		"u_is_active", "u_must_reset_password", "u_last_login_at", "u_created_at", "u_updated_at",
		"p_birth_place", "p_birth_date", "p_gender", "p_religion", "p_education",
		"p_occupation", "p_institution", "p_address", "p_phone", "p_photo_path", "p_updated_at",
	}
}

func TestSnapshotWithoutProfileRow(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(snapshotRowColumns()).AddRow(
		"user-1", "3174051203990001", "Budi Santoso", "budi@example.com", "3174051203990001", "citizen",
		true, false, nil, now, now,
		"", "", "", "", "", "", "", "", "", "", nil,
	)

	mock.ExpectQuery("LEFT JOIN citizen_profiles").WithArgs("user-1").WillReturnRows(rows)

	s, err := repo.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	// Only fullName and email carry values: 2 of 11 fields.
	if s.Completion.Filled != 2 || s.Completion.Percentage != 18 {
		t.Fatalf("unexpected completion: %+v", s.Completion)
	}
	if s.Profile.UpdatedAt != nil {
		t.Fatal("expected nil profile timestamp for missing row")
	}
}

func TestSnapshotUnknownUser(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectQuery("LEFT JOIN citizen_profiles").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Snapshot(context.Background(), "ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateUnknownUser(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs("ghost", "Budi Santoso", "budi@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Update(context.Background(), "ghost", Input{FullName: "Budi Santoso", Email: "budi@example.com"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateWritesBothTables(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	input := Input{
		FullName: "Budi Santoso", Email: "budi@example.com",
		BirthPlace: "Jakarta", Address: "Jl. Merdeka No. 1",
	}

	mock.ExpectExec("UPDATE users").
		WithArgs("user-1", input.FullName, input.Email, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ON CONFLICT \\(user_id\\) DO UPDATE").
		WithArgs("user-1", input.BirthPlace, "", "", "", "", "", "", input.Address, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	refreshed := sqlmock.NewRows(snapshotRowColumns()).AddRow(
		"user-1", "3174051203990001", input.FullName, input.Email, "3174051203990001", "citizen",
		true, false, nil, now, now,
		input.BirthPlace, "", "", "", "", "", "", input.Address, "", "", now,
	)
	mock.ExpectQuery("LEFT JOIN citizen_profiles").WithArgs("user-1").WillReturnRows(refreshed)

	s, err := repo.Update(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if s.Completion.Filled != 4 {
		t.Fatalf("expected 4 filled fields, got %+v", s.Completion)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestAdminListComputesCompletion(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"u_id", "u_nik", "u_full_name", "u_email",
		"p_birth_place", "p_birth_date", "p_gender", "p_religion", "p_education",
		"p_occupation", "p_institution", "p_address", "p_phone", "p_photo_path", "p_updated_at",
	}).AddRow(
		"user-2", "3174051203990002", "Siti Aminah", "siti@example.com",
		"Bandung", "2000-01-01", "Perempuan", "Islam", "SMA",
		"Wiraswasta", "Toko Sendiri", "Jl. Asia Afrika 2", "081200000000", "", now,
	).AddRow(
		"user-1", "3174051203990001", "Budi Santoso", "",
		"", "", "", "", "", "", "", "", "", "", nil,
	)

	mock.ExpectQuery("ORDER BY u.created_at DESC").
		WithArgs("", "%%").
		WillReturnRows(rows)

	items, err := repo.AdminList(context.Background(), "")
	if err != nil {
		t.Fatalf("AdminList() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Completion != 100 {
		t.Fatalf("expected full completion for first item, got %d", items[0].Completion)
	}
	if items[1].Completion != 9 {
		t.Fatalf("expected 1/11 completion for second item, got %d", items[1].Completion)
	}
}

func TestAdminListFilterPattern(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectQuery("ORDER BY u.created_at DESC").
		WithArgs("budi", "%budi%").
		WillReturnRows(sqlmock.NewRows([]string{
			"u_id", "u_nik", "u_full_name", "u_email",
			"p_birth_place", "p_birth_date", "p_gender", "p_religion", "p_education",
			"p_occupation", "p_institution", "p_address", "p_phone", "p_photo_path", "p_updated_at",
		}))

	items, err := repo.AdminList(context.Background(), "  budi ")
	if err != nil {
		t.Fatalf("AdminList() error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty result, got %d items", len(items))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
