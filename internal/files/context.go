package files

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/persistence"
)

// ContextForIDs renders the given files as inline context blocks,
// joined by a blank line. Files the user does not own, or that no
// longer exist, are skipped; a lookup that fails for another reason
// yields an explicit unavailable marker so the model knows a
// reference existed. This never fails the turn.
func (s *Service) ContextForIDs(ctx context.Context, fileIDs []string, userID string) string {
	var blocks []string
	for _, id := range fileIDs {
		f, err := s.store.GetFile(ctx, id, userID)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("file context lookup failed", "file_id", id, "error", err)
			blocks = append(blocks, fmt.Sprintf("[File: %s]\n(text extraction failed, content unavailable)", id))
			continue
		}
		blocks = append(blocks, formatContextBlock(f))
	}
	return strings.Join(blocks, "\n\n")
}

func formatContextBlock(f *persistence.File) string {
	switch f.ExtractionStatus {
	case persistence.ExtractionFailed:
		return fmt.Sprintf("[File: %s]\n(text extraction failed, content unavailable)", f.OriginalName)
	case persistence.ExtractionTooLarge:
		return fmt.Sprintf("[File: %s]\n(file content truncated, partial content follows)\n\n%s", f.OriginalName, f.ExtractedText)
	default:
		return fmt.Sprintf("[File: %s]\n\n%s", f.OriginalName, f.ExtractedText)
	}
}

// EnrichHistory prepends each user turn's file context to that turn's
// content. A file id that already contributed context to an earlier
// turn is skipped, so the same document is never rendered twice into
// one prompt. Returns the history as plain chat messages.
func (s *Service) EnrichHistory(ctx context.Context, turns []persistence.Turn, userID string) []chat.Message {
	seen := make(map[string]bool)
	out := make([]chat.Message, 0, len(turns))
	for _, t := range turns {
		content := t.Content
		if t.Role == chat.RoleUser && len(t.FileIDs) > 0 {
			fresh := make([]string, 0, len(t.FileIDs))
			for _, id := range t.FileIDs {
				if seen[id] {
					continue
				}
				seen[id] = true
				fresh = append(fresh, id)
			}
			if fc := s.ContextForIDs(ctx, fresh, userID); fc != "" {
				content = fc + "\n\n" + content
			}
		}
		out = append(out, chat.Message{Role: t.Role, Content: content})
	}
	return out
}
