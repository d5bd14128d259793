package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meridian-router.dev/meridian/internal/clock"
)

// CreateUser stores a new API account.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = clock.Now().UTC()
	}
	if u.Role == "" {
		u.Role = "admin"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, username, password_hash, role, created_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt, u.LastLoginAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q already exists", u.Username)
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUserByUsername returns one account.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.rebind(
		`SELECT * FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the number of accounts. Used to seed the initial admin.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

// TouchUserLogin stamps a successful login.
func (s *Store) TouchUserLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET last_login_at = ? WHERE id = ?`), clock.Now().UTC(), id)
	return err
}

// UpdateUserPassword replaces an account's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET password_hash = ? WHERE id = ?`), passwordHash, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertActivity records an audit trail row.
func (s *Store) InsertActivity(ctx context.Context, a *UserActivity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO user_activity (id, username, action, resource, detail, client_ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Username, a.Action, a.Resource, a.Detail, a.ClientIP, a.CreatedAt)
	return err
}

// ListActivity returns recent audit rows.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]UserActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []UserActivity
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM user_activity ORDER BY created_at DESC LIMIT ?`), limit)
	return out, err
}
