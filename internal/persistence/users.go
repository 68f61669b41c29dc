package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an account that owns sessions and uploaded files.
// Credential handling lives outside this layer; the store only needs
// identity for ownership checks.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
	LastLogin *time.Time
	IsActive  bool
}

// EnsureUser creates the named user if it does not exist yet and
// returns the user id either way.
func (s *Store) EnsureUser(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username must be non-empty")
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?;`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("select user: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at)
		VALUES (?, ?, CURRENT_TIMESTAMP);
	`, id, username); err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// TouchLastLogin records a login timestamp for the user.
func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ? AND is_active = 1;
	`, userID)
	if err != nil {
		return fmt.Errorf("update last_login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("last_login rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
