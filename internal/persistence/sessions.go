package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one persistent conversation thread owned by a single user.
type Session struct {
	ID          string
	UserID      string
	Title       string
	LLMProvider string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateSession inserts a new session and returns its id.
func (s *Store) CreateSession(ctx context.Context, userID, title, provider string) (string, error) {
	id := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, title, llm_provider, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, id, userID, title, provider)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetSession returns the session only when it exists and belongs to
// userID; otherwise ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, llm_provider, created_at, updated_at
		FROM sessions
		WHERE id = ? AND user_id = ?;
	`, sessionID, userID).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.LLMProvider, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, llm_provider, created_at, updated_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?;
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.LLMProvider, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows: %w", err)
	}
	return out, nil
}

// UpdateSessionTitle renames a session, subject to ownership.
func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET title = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?;
	`, title, sessionID, userID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("title rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionProvider pins the model profile used by a session.
func (s *Store) UpdateSessionProvider(ctx context.Context, sessionID, userID, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET llm_provider = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?;
	`, provider, sessionID, userID)
	if err != nil {
		return fmt.Errorf("update session provider: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("provider rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSession bumps updated_at so the session sorts to the top of the
// dashboard list.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session; messages and summaries cascade.
func (s *Store) DeleteSession(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ? AND user_id = ?;
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
