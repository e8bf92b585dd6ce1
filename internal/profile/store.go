// Package profile provides PostgreSQL-backed storage for user profiles: the
// skill sets, location, rating, and recency fields consumed by the matching
// engine.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/skillswap/chat-app/internal/apperr"
)

// User is one user profile row.
type User struct {
	ID            string
	Name          string
	ProfilePic    string
	City          string
	Country       string
	TeachSkills   []string
	LearnSkills   []string
	AverageRating float64
	LastActiveAt  *time.Time
	IsActive      bool
}

// Store manages user profiles in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, name, profile_pic, city, country, teach_skills, learn_skills,
	average_rating, last_active_at, is_active`

// Get retrieves a single user profile.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Name, &u.ProfilePic, &u.City, &u.Country,
		pq.Array(&u.TeachSkills), pq.Array(&u.LearnSkills),
		&u.AverageRating, &u.LastActiveAt, &u.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", userID, err)
	}
	return &u, nil
}

// ListActive returns every active user except excludeID. The matching engine
// materializes its candidate pool from this list.
func (s *Store) ListActive(ctx context.Context, excludeID string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE is_active AND id <> $1`

	rows, err := s.db.QueryContext(ctx, query, excludeID)
	if err != nil {
		return nil, fmt.Errorf("profile: list active: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Name, &u.ProfilePic, &u.City, &u.Country,
			pq.Array(&u.TeachSkills), pq.Array(&u.LearnSkills),
			&u.AverageRating, &u.LastActiveAt, &u.IsActive,
		); err != nil {
			return nil, fmt.Errorf("profile: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert creates or replaces a user profile. Used by platform sync and tests.
func (s *Store) Upsert(ctx context.Context, u *User) error {
	const query = `
		INSERT INTO user_profiles
			(id, name, profile_pic, city, country, teach_skills, learn_skills,
			 average_rating, last_active_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			profile_pic = EXCLUDED.profile_pic,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			teach_skills = EXCLUDED.teach_skills,
			learn_skills = EXCLUDED.learn_skills,
			average_rating = EXCLUDED.average_rating,
			last_active_at = EXCLUDED.last_active_at,
			is_active = EXCLUDED.is_active`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Name, u.ProfilePic, u.City, u.Country,
		pq.Array(u.TeachSkills), pq.Array(u.LearnSkills),
		u.AverageRating, u.LastActiveAt, u.IsActive,
	)
	if err != nil {
		return fmt.Errorf("profile: upsert %s: %w", u.ID, err)
	}
	return nil
}

// TouchLastActive stamps the user's last_active_at. Called when presence
// transitions offline so recency scoring sees disconnect times.
func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET last_active_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("profile: touch %s: %w", userID, err)
	}
	return nil
}
