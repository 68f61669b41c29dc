package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/persistence"
)

// Compressor folds older rounds into the session's single rolling
// summary. It decides how much history to discard; final framing of
// the prompt stays with the Manager.
type Compressor struct {
	summaries  SummaryStore
	estimator  Estimator
	summarizer Completer
	logger     *slog.Logger
}

// NewCompressor wires a Compressor from its collaborators.
func NewCompressor(summaries SummaryStore, estimator Estimator, summarizer Completer, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		summaries:  summaries,
		estimator:  estimator,
		summarizer: summarizer,
		logger:     logger.With("component", "compressor"),
	}
}

// Compress folds fullHistory's older rounds into an updated summary
// and returns the kept tail (the last keepRounds rounds) plus the new
// summary. A nil summary with nil error means compression was skipped
// because there was nothing to fold; the caller keeps its history
// unchanged. Any error leaves the summary store untouched.
func (c *Compressor) Compress(ctx context.Context, sessionID string, fullHistory []chat.Message, existing *persistence.Summary, keepRounds int) ([]chat.Message, *persistence.Summary, error) {
	totalRounds := CountMessageRounds(fullHistory)
	compressRounds := totalRounds - keepRounds
	if compressRounds <= 0 {
		return fullHistory, nil, nil
	}

	existingText := ""
	coveredRounds := 0
	if existing != nil {
		existingText = existing.Content
		coveredRounds = existing.CoveredRounds
	}
	if compressRounds <= coveredRounds {
		// Everything foldable is already in the summary.
		return fullHistory, nil, nil
	}

	foldStart := RoundsToMessages(coveredRounds)
	foldEnd := RoundsToMessages(compressRounds)
	if foldEnd > len(fullHistory) {
		foldEnd = len(fullHistory)
	}
	toFold := fullHistory[foldStart:foldEnd]

	summaryText, err := c.summarizer.Complete(ctx, []chat.Message{
		chat.User(summarizePrompt(existingText, toFold)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("summarize rounds %d-%d: %w", coveredRounds, compressRounds, err)
	}
	summaryText = strings.TrimSpace(summaryText)
	if summaryText == "" {
		return nil, nil, fmt.Errorf("summarizer returned empty summary for rounds %d-%d", coveredRounds, compressRounds)
	}

	newSum := persistence.Summary{
		CoveredRounds: compressRounds,
		Content:       summaryText,
		TokenCount:    c.estimator.EstimateText(summaryText),
	}
	if err := c.summaries.ReplaceSummary(ctx, sessionID, newSum); err != nil {
		return nil, nil, fmt.Errorf("persist summary: %w", err)
	}

	c.logger.Info("history compressed",
		"session_id", sessionID,
		"covered_rounds", compressRounds,
		"summary_tokens", newSum.TokenCount)

	kept := fullHistory[len(fullHistory)-RoundsToMessages(keepRounds):]
	return kept, &newSum, nil
}

// summarizePrompt merges the prior summary and the turns being folded
// into one summarization instruction.
func summarizePrompt(existingSummary string, toFold []chat.Message) string {
	var conversation strings.Builder
	for _, m := range toFold {
		conversation.WriteString(string(m.Role))
		conversation.WriteString(": ")
		conversation.WriteString(m.Content)
		conversation.WriteString("\n")
	}

	var b strings.Builder
	b.WriteString(`Summarize the following conversation history into a concise summary that preserves:
- Key facts, decisions, and conclusions
- User preferences and constraints mentioned
- Any ongoing tasks or action items
- Important context needed for future turns

`)
	if existingSummary != "" {
		b.WriteString("Existing summary of earlier conversation (merge it into your summary):\n")
		b.WriteString(existingSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(conversation.String())
	return b.String()
}
