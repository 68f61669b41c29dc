// Package engine runs the chat turn pipeline: session management,
// context assembly, streaming completion, and durable persistence of
// the finished exchange. Transport is the caller's problem; the
// engine only emits events through a sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	otelx "github.com/parleyhq/parley/internal/otel"
	"github.com/parleyhq/parley/internal/persistence"
	"github.com/parleyhq/parley/internal/pricing"
	"github.com/parleyhq/parley/internal/search"
)

// titleRuneLimit bounds auto-generated session titles.
const titleRuneLimit = 30

// searchInstruction steers the model toward prepended web results.
const searchInstruction = "The user's message includes current web search results. " +
	"Base your answer on them where relevant and mention the linked source when you use one."

// Errors shown at the user boundary. Internal failures keep their
// detail in the returned error and in logs; the sink only ever sees
// one of these.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrProcessingFailed = errors.New("processing failed, please try again")
)

// userFacing maps an internal failure to its boundary message.
func userFacing(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrSessionNotFound
	}
	return ErrProcessingFailed
}

// Chatter is the streaming completion surface of an LLM client.
type Chatter interface {
	Stream(ctx context.Context, msgs []chat.Message, onDelta func(delta string) error) (string, llm.Usage, error)
}

// ClientSource hands out clients and profiles by provider id.
type ClientSource interface {
	Profile(id string) (llm.ModelProfile, error)
	Get(ctx context.Context, id string) (Chatter, error)
}

// RegistrySource adapts *llm.Registry to ClientSource.
type RegistrySource struct {
	Registry *llm.Registry
}

func (r RegistrySource) Profile(id string) (llm.ModelProfile, error) {
	return r.Registry.Profile(id)
}

func (r RegistrySource) Get(ctx context.Context, id string) (Chatter, error) {
	return r.Registry.Get(ctx, id)
}

// Searcher retrieves web results to prepend to a turn. Search is
// best-effort; a failure answers without results.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// SearchPhase is the lifecycle of a turn's web search, surfaced to
// the sink so callers can show progress.
type SearchPhase string

const (
	SearchStarted   SearchPhase = "started"
	SearchCompleted SearchPhase = "completed"
	SearchFailed    SearchPhase = "failed"
)

// Sink receives turn events. OnDelta may return an error to abort
// the stream (client disconnect); other callbacks are notifications.
type Sink interface {
	OnSession(sessionID string)
	OnSearch(phase SearchPhase)
	OnDelta(delta string) error
	OnTitle(title string)
	OnUsage(usage llm.Usage)
	OnDone(reply string)
	OnError(err error)
}

// TurnRequest is one user turn.
type TurnRequest struct {
	SessionID    string // empty starts a new session
	UserID       string
	Message      string
	FileIDs      []string
	Provider     string // optional override, persisted to the session
	UseWebSearch bool   // prepend web results to this turn
}

// SessionStore is the session surface of the persistence layer.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, title, provider string) (string, error)
	GetSession(ctx context.Context, sessionID, userID string) (*persistence.Session, error)
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error
	UpdateSessionProvider(ctx context.Context, sessionID, userID, provider string) error
	TouchSession(ctx context.Context, sessionID string) error
	CountMessages(ctx context.Context, sessionID string) (int, error)
	RecordTokenUsage(ctx context.Context, u persistence.Usage) error
}

// Estimator supplies fallback token accounting when the provider
// reports none.
type Estimator interface {
	Estimate(msgs []chat.Message) int
	EstimateText(text string) int
}

// Engine is the chat pipeline.
type Engine struct {
	sessions        SessionStore
	manager         *memory.Manager
	clients         ClientSource
	estimator       Estimator
	defaultProvider string
	systemPrompt    string
	searcher        Searcher
	searchResults   int
	logger          *slog.Logger
	tracer          trace.Tracer
	metrics         *otelx.Metrics
}

// Options configures an Engine.
type Options struct {
	DefaultProvider string
	SystemPrompt    string
	Searcher        Searcher // nil disables web search
	SearchResults   int      // hits per search, default 3
	Logger          *slog.Logger
	Tracer          trace.Tracer
	Metrics         *otelx.Metrics
}

// New wires an Engine.
func New(sessions SessionStore, manager *memory.Manager, clients ClientSource, estimator Estimator, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SearchResults <= 0 {
		opts.SearchResults = 3
	}
	return &Engine{
		sessions:        sessions,
		manager:         manager,
		clients:         clients,
		estimator:       estimator,
		defaultProvider: opts.DefaultProvider,
		systemPrompt:    opts.SystemPrompt,
		searcher:        opts.Searcher,
		searchResults:   opts.SearchResults,
		logger:          opts.Logger.With("component", "engine"),
		tracer:          opts.Tracer,
		metrics:         opts.Metrics,
	}
}

// ProcessTurn runs one complete exchange. Storage failures reach the
// sink as boundary messages via userFacing while the returned error
// keeps the cause; compression and file context problems degrade
// inside the memory manager and never reach the sink.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest, sink Sink) error {
	start := time.Now()
	if e.tracer != nil {
		var span trace.Span
		ctx, span = otelx.StartSpan(ctx, e.tracer, otelx.SpanChatTurn,
			otelx.AttrUserID.String(req.UserID))
		defer span.End()
	}

	sessionID, providerID, isNew, err := e.resolveSession(ctx, req)
	if err != nil {
		e.logger.Error("session resolution failed", "session_id", req.SessionID, "error", err)
		sink.OnError(userFacing(err))
		return err
	}
	if isNew {
		sink.OnSession(sessionID)
	}

	profile, err := e.clients.Profile(providerID)
	if err != nil {
		sink.OnError(err)
		return err
	}
	client, err := e.clients.Get(ctx, providerID)
	if err != nil {
		sink.OnError(err)
		return err
	}

	buildMessage := req.Message
	systemPrompt := e.systemPrompt
	if req.UseWebSearch && e.searcher != nil {
		sink.OnSearch(SearchStarted)
		results, serr := e.searcher.Search(ctx, req.Message, e.searchResults)
		if serr != nil {
			e.logger.Warn("web search failed", "error", serr)
			sink.OnSearch(SearchFailed)
		} else {
			buildMessage = search.FormatResults(results) + "\n\nUser question: " + req.Message
			if systemPrompt == "" {
				systemPrompt = searchInstruction
			} else {
				systemPrompt += "\n\n" + searchInstruction
			}
			sink.OnSearch(SearchCompleted)
		}
	}

	msgs, err := e.manager.BuildMessages(ctx, memory.BuildInput{
		SessionID:        sessionID,
		UserID:           req.UserID,
		UserMessage:      buildMessage,
		FileIDs:          req.FileIDs,
		SystemPrompt:     systemPrompt,
		MaxContextLength: profile.MaxContextLength,
	})
	if err != nil {
		e.logger.Error("context build failed", "session_id", sessionID, "error", err)
		sink.OnError(userFacing(err))
		return err
	}

	streamCtx := ctx
	var streamSpan trace.Span
	if e.tracer != nil {
		streamCtx, streamSpan = otelx.StartClientSpan(ctx, e.tracer, otelx.SpanLLMStream,
			otelx.AttrProvider.String(providerID),
			otelx.AttrModel.String(profile.Model))
	}
	streamStart := time.Now()
	reply, usage, err := client.Stream(streamCtx, msgs, sink.OnDelta)
	if e.metrics != nil {
		e.metrics.LLMCallDuration.Record(ctx, time.Since(streamStart).Seconds())
	}
	if streamSpan != nil {
		streamSpan.SetAttributes(
			otelx.AttrTokensInput.Int(usage.PromptTokens),
			otelx.AttrTokensOutput.Int(usage.CompletionTokens))
		streamSpan.End()
	}
	if err != nil {
		sink.OnError(err)
		return fmt.Errorf("stream turn: %w", err)
	}

	if err := e.manager.SaveExchange(ctx, sessionID, req.Message, reply, req.FileIDs); err != nil {
		e.logger.Error("exchange not persisted", "session_id", sessionID, "error", err)
		sink.OnError(userFacing(err))
		return err
	}
	if err := e.sessions.TouchSession(ctx, sessionID); err != nil {
		e.logger.Warn("touch session failed", "session_id", sessionID, "error", err)
	}

	e.recordUsage(ctx, req.UserID, profile, msgs, reply, &usage)
	sink.OnUsage(usage)

	if title := e.maybeTitle(ctx, sessionID, req, isNew); title != "" {
		sink.OnTitle(title)
	}

	if e.metrics != nil {
		e.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	sink.OnDone(reply)
	return nil
}

// resolveSession finds or creates the session and decides which
// provider serves this turn: request override, then the session's
// stored provider, then the configured default.
func (e *Engine) resolveSession(ctx context.Context, req TurnRequest) (sessionID, providerID string, isNew bool, err error) {
	providerID = e.defaultProvider

	if req.SessionID == "" {
		if req.Provider != "" {
			providerID = req.Provider
		}
		if providerID == "" {
			return "", "", false, errors.New("no provider configured")
		}
		id, err := e.sessions.CreateSession(ctx, req.UserID, "New chat", providerID)
		if err != nil {
			return "", "", false, err
		}
		return id, providerID, true, nil
	}

	sess, err := e.sessions.GetSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return "", "", false, err
	}
	if sess.LLMProvider != "" {
		providerID = sess.LLMProvider
	}
	if req.Provider != "" && req.Provider != sess.LLMProvider {
		providerID = req.Provider
		if err := e.sessions.UpdateSessionProvider(ctx, sess.ID, req.UserID, req.Provider); err != nil {
			return "", "", false, err
		}
	}
	if providerID == "" {
		return "", "", false, errors.New("no provider configured")
	}
	return sess.ID, providerID, false, nil
}

// recordUsage persists token accounting, estimating locally when the
// provider reported nothing. Failures are logged, never surfaced.
func (e *Engine) recordUsage(ctx context.Context, userID string, profile llm.ModelProfile, prompt []chat.Message, reply string, usage *llm.Usage) {
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 {
		usage.PromptTokens = e.estimator.Estimate(prompt)
		usage.CompletionTokens = e.estimator.EstimateText(reply)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	err := e.sessions.RecordTokenUsage(ctx, persistence.Usage{
		UserID:           userID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Model:            profile.Model,
	})
	if err != nil {
		e.logger.Warn("token usage not recorded", "user_id", userID, "error", err)
	}
	if cost := pricing.EstimateCost(profile.Model, usage.PromptTokens, usage.CompletionTokens); cost > 0 {
		e.logger.Info("turn cost",
			"model", profile.Model,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
			"cost_usd", cost)
	}
	if e.metrics != nil {
		e.metrics.PromptTokens.Add(ctx, int64(usage.PromptTokens))
		e.metrics.CompletionTokens.Add(ctx, int64(usage.CompletionTokens))
	}
}

// maybeTitle sets an auto-generated title on a session's first
// exchange and returns it, or "" when the session already has
// history.
func (e *Engine) maybeTitle(ctx context.Context, sessionID string, req TurnRequest, isNew bool) string {
	if !isNew {
		count, err := e.sessions.CountMessages(ctx, sessionID)
		if err != nil || count > 2 {
			return ""
		}
	}
	title := GenerateTitle(req.Message)
	if err := e.sessions.UpdateSessionTitle(ctx, sessionID, req.UserID, title); err != nil {
		e.logger.Warn("session title not updated", "session_id", sessionID, "error", err)
		return ""
	}
	return title
}

// GenerateTitle derives a session title from the first user message:
// the first 30 runes, with "..." when truncated.
func GenerateTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleRuneLimit {
		return message
	}
	return string(runes[:titleRuneLimit]) + "..."
}
