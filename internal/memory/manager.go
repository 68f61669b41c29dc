// Package memory assembles the message list sent to the model on each
// turn: durable history, inline file context, the rolling summary, and
// token-budget compression of older rounds.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/chat"
	otelx "github.com/parleyhq/parley/internal/otel"
	"github.com/parleyhq/parley/internal/persistence"
)

// MessageStore is the durable turn log.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string, fileIDs []string) error
	ListMessages(ctx context.Context, sessionID, userID string) ([]persistence.Turn, error)
}

// SummaryStore holds at most one summary per session.
type SummaryStore interface {
	LatestSummary(ctx context.Context, sessionID string) (*persistence.Summary, error)
	ReplaceSummary(ctx context.Context, sessionID string, sum persistence.Summary) error
}

// ContextResolver renders stored file text into inline context.
type ContextResolver interface {
	ContextForIDs(ctx context.Context, fileIDs []string, userID string) string
	EnrichHistory(ctx context.Context, turns []persistence.Turn, userID string) []chat.Message
}

// Estimator approximates token counts for budgeting.
type Estimator interface {
	Estimate(msgs []chat.Message) int
	EstimateText(text string) int
}

// Completer is the synchronous LLM call used for summarization.
type Completer interface {
	Complete(ctx context.Context, msgs []chat.Message) (string, error)
}

// Settings are the compression knobs, reloadable from config.
type Settings struct {
	CompressionEnabled   bool
	CompressionThreshold float64
	KeepRounds           int
}

// DefaultSettings mirror the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		CompressionEnabled:   true,
		CompressionThreshold: 0.8,
		KeepRounds:           10,
	}
}

// BuildInput is one build request. MaxContextLength comes from the
// resolved model profile; zero means no profile was supplied and the
// threshold check is skipped.
type BuildInput struct {
	SessionID        string
	UserID           string
	UserMessage      string
	FileIDs          []string
	SystemPrompt     string
	MaxContextLength int
}

// Manager orchestrates context assembly. It is stateless across
// calls; every build is a pure function of storage plus the input.
type Manager struct {
	messages  MessageStore
	summaries SummaryStore
	resolver  ContextResolver
	estimator Estimator
	comp      *Compressor
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otelx.Metrics

	// settings is swapped by config reload while builds run on other
	// goroutines; every build takes one snapshot up front.
	mu       sync.RWMutex
	settings Settings
}

// NewManager wires a Manager from its collaborators.
func NewManager(messages MessageStore, summaries SummaryStore, resolver ContextResolver, estimator Estimator, summarizer Completer, settings Settings, logger *slog.Logger) *Manager {
	if settings.CompressionThreshold <= 0 || settings.CompressionThreshold > 1 {
		settings.CompressionThreshold = 0.8
	}
	if settings.KeepRounds < 0 {
		settings.KeepRounds = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		messages:  messages,
		summaries: summaries,
		resolver:  resolver,
		estimator: estimator,
		comp:      NewCompressor(summaries, estimator, summarizer, logger),
		settings:  settings,
		logger:    logger.With("component", "memory"),
	}
}

// SetTelemetry attaches an optional tracer and metrics set. Without
// it builds and compressions run uninstrumented.
func (m *Manager) SetTelemetry(tracer trace.Tracer, metrics *otelx.Metrics) {
	m.tracer = tracer
	m.metrics = metrics
}

// SetSettings swaps the compression knobs, used on config reload.
func (m *Manager) SetSettings(s Settings) {
	if s.CompressionThreshold <= 0 || s.CompressionThreshold > 1 {
		s.CompressionThreshold = 0.8
	}
	if s.KeepRounds < 0 {
		s.KeepRounds = 0
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

func (m *Manager) currentSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// BuildMessages assembles the ordered message list for one turn.
//
// History is loaded in full, file context is attached inline to the
// turn that introduced it, turns already folded into the summary are
// dropped, and when the estimated size crosses the threshold the
// compressor folds older rounds before the final list is framed. The
// result has at most one system message and always ends with the new
// user turn.
func (m *Manager) BuildMessages(ctx context.Context, in BuildInput) ([]chat.Message, error) {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = otelx.StartSpan(ctx, m.tracer, otelx.SpanMemoryBuild,
			otelx.AttrSessionID.String(in.SessionID))
		defer span.End()
	}

	settings := m.currentSettings()

	turns, err := m.messages.ListMessages(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	enriched := m.resolver.EnrichHistory(ctx, turns, in.UserID)

	sum, err := m.summaries.LatestSummary(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	summaryText := ""
	remaining := enriched
	if sum != nil {
		summaryText = sum.Content
		covered := RoundsToMessages(sum.CoveredRounds)
		if len(enriched) <= covered {
			remaining = nil
		} else {
			remaining = enriched[covered:]
		}
	}

	userMsg := chat.User(m.currentTurnContent(ctx, in, turns))
	provisional := append(append([]chat.Message{}, remaining...), userMsg)

	if in.MaxContextLength > 0 && settings.CompressionEnabled {
		check := provisional
		if in.SystemPrompt != "" {
			check = append([]chat.Message{chat.System(in.SystemPrompt)}, provisional...)
		}
		estimated := m.estimator.Estimate(check)
		threshold := int(float64(in.MaxContextLength) * settings.CompressionThreshold)
		if estimated > threshold {
			m.logger.Info("context over threshold",
				"session_id", in.SessionID,
				"estimated_tokens", estimated,
				"threshold", threshold)
			compCtx := ctx
			if m.tracer != nil {
				var span trace.Span
				compCtx, span = otelx.StartSpan(ctx, m.tracer, otelx.SpanMemoryCompress,
					otelx.AttrSessionID.String(in.SessionID))
				defer span.End()
			}
			kept, newSum, err := m.comp.Compress(compCtx, in.SessionID, enriched, sum, settings.KeepRounds)
			switch {
			case err != nil:
				if m.metrics != nil {
					m.metrics.CompressionFailures.Add(ctx, 1)
				}
				m.logger.Warn("compression failed, using uncompressed history",
					"session_id", in.SessionID, "error", err)
			case newSum != nil:
				if m.metrics != nil {
					m.metrics.Compressions.Add(ctx, 1)
				}
				provisional = append(append([]chat.Message{}, kept...), userMsg)
				summaryText = newSum.Content
				if after := m.estimator.Estimate(provisional); after > in.MaxContextLength {
					m.logger.Warn("context still over limit after compression",
						"session_id", in.SessionID,
						"estimated_tokens", after,
						"max_context_length", in.MaxContextLength)
				}
			}
		}
	}

	return frame(summaryText, in.SystemPrompt, provisional), nil
}

// currentTurnContent prepends the new turn's file context to the user
// message. Ids already attached to a stored turn are not resolved
// again; the earlier turn keeps the context.
func (m *Manager) currentTurnContent(ctx context.Context, in BuildInput, turns []persistence.Turn) string {
	if len(in.FileIDs) == 0 {
		return in.UserMessage
	}
	attached := make(map[string]bool)
	for _, t := range turns {
		for _, id := range t.FileIDs {
			attached[id] = true
		}
	}
	fresh := make([]string, 0, len(in.FileIDs))
	for _, id := range in.FileIDs {
		if !attached[id] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return in.UserMessage
	}
	fc := m.resolver.ContextForIDs(ctx, fresh, in.UserID)
	if fc == "" {
		return in.UserMessage
	}
	return fc + "\n\n" + in.UserMessage
}

// frame produces the final list: one combined system message when
// there is a summary or a system prompt, then the provisional array.
func frame(summaryText, systemPrompt string, provisional []chat.Message) []chat.Message {
	var parts []string
	if summaryText != "" {
		parts = append(parts, "[Historical Summary]\n"+summaryText)
	}
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	if len(parts) == 0 {
		return provisional
	}
	out := make([]chat.Message, 0, len(provisional)+1)
	out = append(out, chat.System(strings.Join(parts, "\n\n")))
	return append(out, provisional...)
}

// SaveExchange appends the completed round: the user turn with its
// file ids, then the assistant turn. This is the only mutation path
// for history and is not retried; the caller invokes it exactly once
// per finished exchange.
func (m *Manager) SaveExchange(ctx context.Context, sessionID, userMessage, assistantMessage string, fileIDs []string) error {
	if err := m.messages.AppendMessage(ctx, sessionID, chat.RoleUser, userMessage, fileIDs); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	if err := m.messages.AppendMessage(ctx, sessionID, chat.RoleAssistant, assistantMessage, nil); err != nil {
		return fmt.Errorf("append assistant turn: %w", err)
	}
	return nil
}
