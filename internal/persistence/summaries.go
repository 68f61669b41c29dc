package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Summary is the single current compressed representation of a
// session's older rounds. CoveredRounds counts user+assistant rounds
// already folded into Content; those turns are excluded when history
// is replayed.
type Summary struct {
	ID            int64
	SessionID     string
	CoveredRounds int
	Content       string
	TokenCount    int
	CreatedAt     time.Time
}

// LatestSummary returns the session's summary, or nil when none
// exists. Callers must tolerate nil at any time: losing a summary
// degrades to full uncompressed history, never to an error.
func (s *Store) LatestSummary(ctx context.Context, sessionID string) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, covered_rounds, content, token_count, created_at
		FROM summaries
		WHERE session_id = ?;
	`, sessionID).Scan(&sum.ID, &sum.SessionID, &sum.CoveredRounds, &sum.Content, &sum.TokenCount, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select summary: %w", err)
	}
	return &sum, nil
}

// ReplaceSummary atomically swaps the session's summary: delete any
// existing row, insert the new one, commit. A crash between the two
// statements rolls back to the old summary; readers never observe two
// summaries for one session (the unique index enforces it as well).
func (s *Store) ReplaceSummary(ctx context.Context, sessionID string, sum Summary) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin replace summary tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM summaries WHERE session_id = ?;
		`, sessionID); err != nil {
			return fmt.Errorf("delete prior summary: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO summaries (session_id, covered_rounds, content, token_count, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, sessionID, sum.CoveredRounds, sum.Content, sum.TokenCount); err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit replace summary: %w", err)
		}
		return nil
	})
}
