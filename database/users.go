package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnsureUser returns the user registered under email, creating it first if
// needed. created reports whether a new row was inserted.
func (s *Store) EnsureUser(ctx context.Context, email string) (user *User, created bool, err error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u User
	err = s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT id, email, created_at FROM users WHERE email = ?`), email)
	if err == nil {
		return &u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to query user: %w", err)
	}

	u = User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`),
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent login for the same address.
			return s.EnsureUser(ctx, email)
		}
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}
	return &u, true, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT id, email, created_at FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return &u, nil
}

const profileColumns = `user_id, nickname, email, created_at, updated_at`

// CreateProfile inserts a profile. A taken nickname yields ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, p *UserProfile) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?)`),
		p.UserID, p.Nickname, p.Email, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile for %s: %w", p.UserID, ErrConflict)
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile of a user.
func (s *Store) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var p UserProfile
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %s: %w", userID, err)
	}
	return &p, nil
}

// ListProfiles returns all profiles, oldest first.
func (s *Store) ListProfiles(ctx context.Context) ([]UserProfile, error) {
	profiles := []UserProfile{}
	if err := s.db.SelectContext(ctx, &profiles,
		`SELECT `+profileColumns+` FROM user_profiles ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// UpdateNickname changes a user's nickname.
func (s *Store) UpdateNickname(ctx context.Context, userID, nickname string) (*UserProfile, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE user_profiles SET nickname = ?, updated_at = ? WHERE user_id = ?`),
		nickname, time.Now().UTC(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("nickname %q: %w", nickname, ErrConflict)
		}
		return nil, fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	rows, _ := res.RowsAffected()
	if err := notFoundIfNoRows(rows, "profile", userID); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

// NicknameTaken reports whether another user already uses nickname.
func (s *Store) NicknameTaken(ctx context.Context, nickname, excludeUserID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM user_profiles WHERE nickname = ? AND user_id <> ?`),
		nickname, excludeUserID)
	if err != nil {
		return false, fmt.Errorf("failed to check nickname: %w", err)
	}
	return count > 0, nil
}
