package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"citizen-portal/internal/auth"
)

const profileColumns = `COALESCE(p.birth_place, ''), COALESCE(p.birth_date, ''), COALESCE(p.gender, ''),
	COALESCE(p.religion, ''), COALESCE(p.education, ''), COALESCE(p.occupation, ''),
	COALESCE(p.institution, ''), COALESCE(p.address, ''), COALESCE(p.phone, ''),
	COALESCE(p.photo_path, ''), p.updated_at`

// Repository reads and writes citizen_profiles rows. A user without a
// profile row is treated as having an entirely empty profile.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Snapshot is the composite payload behind every profile read: account,
// profile, and the derived completion.
type Snapshot struct {
	User       auth.User
	Profile    Profile
	Completion Completion
}

func scanSnapshot(row *sql.Row) (Snapshot, error) {
	var s Snapshot
	var lastLogin, profileUpdated sql.NullTime
	err := row.Scan(
		&s.User.ID, &s.User.NIK, &s.User.FullName, &s.User.Email, &s.User.Username, &s.User.Role,
		&s.User.IsActive, &s.User.MustResetPassword, &lastLogin, &s.User.CreatedAt, &s.User.UpdatedAt,
		&s.Profile.BirthPlace, &s.Profile.BirthDate, &s.Profile.Gender,
		&s.Profile.Religion, &s.Profile.Education, &s.Profile.Occupation,
		&s.Profile.Institution, &s.Profile.Address, &s.Profile.Phone,
		&s.Profile.PhotoPath, &profileUpdated,
	)
	if err != nil {
		return Snapshot{}, err
	}

	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		s.User.LastLoginAt = &value
	}
	if profileUpdated.Valid {
		value := profileUpdated.Time.UTC()
		s.Profile.UpdatedAt = &value
	}
	s.Completion = ComputeCompletion(s.User.FullName, s.User.Email, s.Profile)

	return s, nil
}

// Snapshot loads the user with their profile. Returns sql.ErrNoRows when
// the user does not exist.
func (r *Repository) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.nik, u.full_name, COALESCE(u.email, ''), u.username, u.role,
			u.is_active, u.must_reset_password, u.last_login_at, u.created_at, u.updated_at,
			`+profileColumns+`
		FROM users u
		LEFT JOIN citizen_profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID)

	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("query profile snapshot: %w", err)
	}

	return s, nil
}

// ProfileFor implements auth.ProfileSource for the /api/auth/me payload.
func (r *Repository) ProfileFor(ctx context.Context, userID string) (any, any, error) {
	s, err := r.Snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.Profile, s.Completion, nil
}

// Update writes the contact fields to the user row and upserts the profile
// row in a single conflict-driven statement each, then returns the fresh
// snapshot.
func (r *Repository) Update(ctx context.Context, userID string, input Input) (Snapshot, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET full_name = $2, email = $3, updated_at = $4
		WHERE id = $1
	`, userID, input.FullName, input.Email, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("update user contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Snapshot{}, fmt.Errorf("user contact rows affected: %w", err)
	}
	if affected == 0 {
		return Snapshot{}, sql.ErrNoRows
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO citizen_profiles (user_id, birth_place, birth_date, gender, religion, education,
			occupation, institution, address, phone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			birth_place = EXCLUDED.birth_place,
			birth_date = EXCLUDED.birth_date,
			gender = EXCLUDED.gender,
			religion = EXCLUDED.religion,
			education = EXCLUDED.education,
			occupation = EXCLUDED.occupation,
			institution = EXCLUDED.institution,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
	`, userID, input.BirthPlace, input.BirthDate, input.Gender, input.Religion, input.Education,
		input.Occupation, input.Institution, input.Address, input.Phone, now); err != nil {
		return Snapshot{}, fmt.Errorf("upsert profile: %w", err)
	}

	return r.Snapshot(ctx, userID)
}

// SetPhotoPath records where the uploaded profile photo was stored.
func (r *Repository) SetPhotoPath(ctx context.Context, userID, path string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO citizen_profiles (user_id, photo_path, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			photo_path = EXCLUDED.photo_path,
			updated_at = EXCLUDED.updated_at
	`, userID, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert photo path: %w", err)
	}

	return nil
}

// AdminList returns every registered account, newest first, optionally
// filtered by NIK or name.
func (r *Repository) AdminList(ctx context.Context, query string) ([]AdminItem, error) {
	query = strings.TrimSpace(query)
	pattern := "%" + query + "%"

	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.nik, u.full_name, COALESCE(u.email, ''),
			`+profileColumns+`
		FROM users u
		LEFT JOIN citizen_profiles p ON p.user_id = u.id
		WHERE ($1 = '' OR u.nik LIKE $2 OR u.full_name ILIKE $2)
		ORDER BY u.created_at DESC
	`, query, pattern)
	if err != nil {
		return nil, fmt.Errorf("query admin profiles: %w", err)
	}
	defer rows.Close()

	items := make([]AdminItem, 0)
	for rows.Next() {
		var item AdminItem
		var p Profile
		var profileUpdated sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.NIK, &item.FullName, &item.Email,
			&p.BirthPlace, &p.BirthDate, &p.Gender, &p.Religion, &p.Education,
			&p.Occupation, &p.Institution, &p.Address, &p.Phone, &p.PhotoPath, &profileUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan admin profile row: %w", err)
		}

		if profileUpdated.Valid {
			value := profileUpdated.Time.UTC()
			item.UpdatedAt = &value
		}
		item.Completion = ComputeCompletion(item.FullName, item.Email, p).Percentage
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin profiles: %w", err)
	}

	return items, nil
}
