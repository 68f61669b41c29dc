package persistence

import (
	"context"
	"fmt"
	"time"
)

// Usage is one recorded model call's token accounting.
type Usage struct {
	ID               int64
	UserID           string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	CreatedAt        time.Time
}

// UsageTotals aggregates a user's recorded usage.
type UsageTotals struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Calls            int
}

// RecordTokenUsage appends one usage row. Usage accounting is best
// effort from the caller's point of view; failures here should be
// logged, not surfaced to the end of the turn.
func (s *Store) RecordTokenUsage(ctx context.Context, u Usage) error {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO token_usage (user_id, prompt_tokens, completion_tokens, total_tokens, model, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, u.UserID, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.Model)
		return err
	})
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

// UsageTotalsSince sums a user's usage recorded at or after since.
func (s *Store) UsageTotalsSince(ctx context.Context, userID string, since time.Time) (*UsageTotals, error) {
	var t UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COUNT(*)
		FROM token_usage
		WHERE user_id = ? AND created_at >= ?;
	`, userID, since).Scan(&t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &t.Calls)
	if err != nil {
		return nil, fmt.Errorf("sum token usage: %w", err)
	}
	return &t, nil
}
