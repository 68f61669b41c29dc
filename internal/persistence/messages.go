package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/chat"
)

// Turn is one stored message (user or assistant) in a session's
// history. Turns are immutable once written; ordering is by the
// autoincrement id, which is strictly increasing per session.
type Turn struct {
	ID        int64
	SessionID string
	Role      chat.Role
	Content   string
	FileIDs   []string
	CreatedAt time.Time
}

// AppendMessage durably writes one turn. File ids are stored as a JSON
// array alongside the content so that file context can be re-resolved
// on later reads.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string, fileIDs []string) error {
	switch role {
	case chat.RoleUser, chat.RoleAssistant:
	case chat.RoleSystem:
		return fmt.Errorf("system turns are assembled, not stored")
	default:
		return fmt.Errorf("invalid role %q", role)
	}

	var fileIDsJSON any
	if len(fileIDs) > 0 {
		raw, err := json.Marshal(fileIDs)
		if err != nil {
			return fmt.Errorf("marshal file ids: %w", err)
		}
		fileIDsJSON = string(raw)
	}

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, file_ids, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, sessionID, string(role), content, fileIDsJSON)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the session's full history in ascending order.
// The ownership check runs in the same query; a missing session and a
// foreign session both come back as ErrNotFound.
func (s *Store) ListMessages(ctx context.Context, sessionID, userID string) ([]Turn, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, COALESCE(file_ids, ''), created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id ASC;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var turn Turn
		var roleStr, fileIDsRaw string
		if err := rows.Scan(&turn.ID, &turn.SessionID, &roleStr, &turn.Content, &fileIDsRaw, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		role, err := chat.ParseRole(roleStr)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", turn.ID, err)
		}
		turn.Role = role
		if fileIDsRaw != "" {
			if err := json.Unmarshal([]byte(fileIDsRaw), &turn.FileIDs); err != nil {
				return nil, fmt.Errorf("message %d file ids: %w", turn.ID, err)
			}
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message rows: %w", err)
	}
	return out, nil
}

// CountMessages returns the number of turns stored for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM messages WHERE session_id = ?;
	`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
