package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/persistence"
	"github.com/parleyhq/parley/internal/search"
)

// recordingSink collects every event the engine emits.
type recordingSink struct {
	sessionID string
	searches  []engine.SearchPhase
	deltas    []string
	title     string
	usage     llm.Usage
	done      string
	errs      []error
	deltaErr  error
}

func (s *recordingSink) OnSession(id string) { s.sessionID = id }
func (s *recordingSink) OnSearch(phase engine.SearchPhase) {
	s.searches = append(s.searches, phase)
}
func (s *recordingSink) OnDelta(d string) error {
	if s.deltaErr != nil {
		return s.deltaErr
	}
	s.deltas = append(s.deltas, d)
	return nil
}
func (s *recordingSink) OnTitle(t string)       { s.title = t }
func (s *recordingSink) OnUsage(u llm.Usage)    { s.usage = u }
func (s *recordingSink) OnDone(reply string)    { s.done = reply }
func (s *recordingSink) OnError(err error)      { s.errs = append(s.errs, err) }

// fakeChatter streams its reply in fixed chunks.
type fakeChatter struct {
	reply  string
	usage  llm.Usage
	err    error
	prompt []chat.Message
}

func (f *fakeChatter) Stream(_ context.Context, msgs []chat.Message, onDelta func(string) error) (string, llm.Usage, error) {
	f.prompt = msgs
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	var sent strings.Builder
	for _, chunk := range splitChunks(f.reply, 5) {
		if err := onDelta(chunk); err != nil {
			return sent.String(), f.usage, err
		}
		sent.WriteString(chunk)
	}
	return f.reply, f.usage, nil
}

func splitChunks(s string, n int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		take := n
		if take > len(runes) {
			take = len(runes)
		}
		out = append(out, string(runes[:take]))
		runes = runes[take:]
	}
	return out
}

type fakeClients struct {
	chatter *fakeChatter
	profile llm.ModelProfile
}

func (f *fakeClients) Profile(id string) (llm.ModelProfile, error) {
	if id != f.profile.ID {
		return llm.ModelProfile{}, errors.New("unknown provider")
	}
	return f.profile, nil
}

func (f *fakeClients) Get(_ context.Context, id string) (engine.Chatter, error) {
	if id != f.profile.ID {
		return nil, errors.New("unknown provider")
	}
	return f.chatter, nil
}

type countEstimator struct{}

func (countEstimator) EstimateText(text string) int { return len(strings.Fields(text)) }
func (e countEstimator) Estimate(msgs []chat.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.EstimateText(m.Content)
	}
	return total
}

type noopResolver struct{}

func (noopResolver) ContextForIDs(context.Context, []string, string) string { return "" }
func (noopResolver) EnrichHistory(_ context.Context, turns []persistence.Turn, _ string) []chat.Message {
	out := make([]chat.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, chat.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

type noopCompleter struct{}

func (noopCompleter) Complete(context.Context, []chat.Message) (string, error) {
	return "summary", nil
}

// fakeSearcher records the query it was asked and returns canned
// results or a failure.
type fakeSearcher struct {
	results []search.Result
	err     error
	query   string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func newTestEngine(t *testing.T, chatter *fakeChatter) (*engine.Engine, *persistence.Store, string) {
	t.Helper()
	return newTestEngineSearch(t, chatter, nil)
}

func newTestEngineSearch(t *testing.T, chatter *fakeChatter, searcher engine.Searcher) (*engine.Engine, *persistence.Store, string) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "parley.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	userID, err := store.EnsureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	mgr := memory.NewManager(store, store, noopResolver{}, countEstimator{}, noopCompleter{}, memory.DefaultSettings(), nil)
	clients := &fakeClients{
		chatter: chatter,
		profile: llm.ModelProfile{
			ID: "openai", Kind: llm.KindOpenAI, Model: "gpt-4o",
			MaxContextLength: 32768, Enabled: true,
		},
	}
	eng := engine.New(store, mgr, clients, countEstimator{}, engine.Options{
		DefaultProvider: "openai",
		SystemPrompt:    "You are helpful.",
		Searcher:        searcher,
	})
	return eng, store, userID
}

func TestProcessTurn_NewSessionFullPipeline(t *testing.T) {
	chatter := &fakeChatter{
		reply: "Hello there, how can I help?",
		usage: llm.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}
	eng, store, userID := newTestEngine(t, chatter)
	sink := &recordingSink{}
	ctx := context.Background()

	err := eng.ProcessTurn(ctx, engine.TurnRequest{
		UserID:  userID,
		Message: "Hello",
	}, sink)
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}

	if sink.sessionID == "" {
		t.Fatal("expected session event for new session")
	}
	if strings.Join(sink.deltas, "") != chatter.reply {
		t.Fatalf("deltas do not reassemble reply: %q", strings.Join(sink.deltas, ""))
	}
	if sink.done != chatter.reply {
		t.Fatalf("unexpected done reply %q", sink.done)
	}
	if sink.usage.TotalTokens != 19 {
		t.Fatalf("expected provider usage forwarded, got %+v", sink.usage)
	}
	if sink.title != "Hello" {
		t.Fatalf("expected title from first message, got %q", sink.title)
	}

	// The exchange is durable.
	turns, err := store.ListMessages(ctx, sink.sessionID, userID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected stored roles: %+v", turns)
	}

	// System prompt reached the model exactly once, first.
	if len(chatter.prompt) == 0 || chatter.prompt[0].Role != chat.RoleSystem {
		t.Fatalf("expected leading system message, got %+v", chatter.prompt)
	}
}

func TestProcessTurn_SecondTurnCarriesHistory(t *testing.T) {
	chatter := &fakeChatter{reply: "Answer two."}
	eng, _, userID := newTestEngine(t, chatter)
	ctx := context.Background()

	first := &recordingSink{}
	if err := eng.ProcessTurn(ctx, engine.TurnRequest{UserID: userID, Message: "first question"}, first); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	second := &recordingSink{}
	err := eng.ProcessTurn(ctx, engine.TurnRequest{
		SessionID: first.sessionID,
		UserID:    userID,
		Message:   "second question",
	}, second)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// system + 2 history turns + new user message.
	if len(chatter.prompt) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d: %+v", len(chatter.prompt), chatter.prompt)
	}
	if chatter.prompt[3].Content != "second question" {
		t.Fatalf("expected new user turn last, got %+v", chatter.prompt[3])
	}
	if second.sessionID != "" {
		t.Fatal("existing session must not emit a session event")
	}
	if second.title != "" {
		t.Fatal("existing session must not be retitled")
	}
}

func TestProcessTurn_ForeignSessionRejected(t *testing.T) {
	chatter := &fakeChatter{reply: "x"}
	eng, store, userID := newTestEngine(t, chatter)
	ctx := context.Background()

	first := &recordingSink{}
	if err := eng.ProcessTurn(ctx, engine.TurnRequest{UserID: userID, Message: "mine"}, first); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	intruder, err := store.EnsureUser(ctx, "mallory")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	sink := &recordingSink{}
	err = eng.ProcessTurn(ctx, engine.TurnRequest{
		SessionID: first.sessionID,
		UserID:    intruder,
		Message:   "gimme",
	}, sink)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(sink.errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(sink.errs))
	}
	if !errors.Is(sink.errs[0], engine.ErrSessionNotFound) {
		t.Fatalf("sink should see the boundary message, got %v", sink.errs[0])
	}
	if len(sink.deltas) != 0 {
		t.Fatal("no deltas should stream for a rejected session")
	}
}

func TestProcessTurn_StorageFailureGenericAtBoundary(t *testing.T) {
	chatter := &fakeChatter{reply: "x"}
	eng, store, userID := newTestEngine(t, chatter)
	ctx := context.Background()

	// Force every storage call to fail.
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	sink := &recordingSink{}
	err := eng.ProcessTurn(ctx, engine.TurnRequest{UserID: userID, Message: "hello"}, sink)
	if err == nil {
		t.Fatal("expected storage failure to propagate")
	}
	if errors.Is(err, engine.ErrProcessingFailed) {
		t.Fatalf("returned error must keep the cause, got %v", err)
	}
	if len(sink.errs) != 1 || !errors.Is(sink.errs[0], engine.ErrProcessingFailed) {
		t.Fatalf("sink should see the generic boundary message, got %v", sink.errs)
	}
	if strings.Contains(sink.errs[0].Error(), "sql") || strings.Contains(sink.errs[0].Error(), "database") {
		t.Fatalf("storage detail leaked to the sink: %v", sink.errs[0])
	}
}

func TestProcessTurn_StreamFailureNothingPersisted(t *testing.T) {
	chatter := &fakeChatter{err: errors.New("provider unreachable")}
	eng, store, userID := newTestEngine(t, chatter)
	sink := &recordingSink{}
	ctx := context.Background()

	err := eng.ProcessTurn(ctx, engine.TurnRequest{UserID: userID, Message: "hello"}, sink)
	if err == nil {
		t.Fatal("expected stream failure to propagate")
	}
	if sink.done != "" {
		t.Fatal("done must not fire on failure")
	}
	turns, err := store.ListMessages(ctx, sink.sessionID, userID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("failed exchange must not be persisted, got %d turns", len(turns))
	}
}

func TestProcessTurn_EstimatorFallbackWhenNoUsage(t *testing.T) {
	chatter := &fakeChatter{reply: "four words exactly here"}
	eng, _, userID := newTestEngine(t, chatter)
	sink := &recordingSink{}

	err := eng.ProcessTurn(context.Background(), engine.TurnRequest{UserID: userID, Message: "count my tokens"}, sink)
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if sink.usage.CompletionTokens != 4 {
		t.Fatalf("expected estimated completion tokens 4, got %+v", sink.usage)
	}
	if sink.usage.PromptTokens == 0 || sink.usage.TotalTokens == 0 {
		t.Fatalf("expected estimated prompt/total tokens, got %+v", sink.usage)
	}
}

func TestProcessTurn_WebSearchAugmentsPrompt(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{
		{Title: "Go Releases", URL: "https://go.dev/dl/", Snippet: "Latest Go downloads."},
	}}
	chatter := &fakeChatter{reply: "Go 1.23 is current."}
	eng, store, userID := newTestEngineSearch(t, chatter, searcher)
	sink := &recordingSink{}
	ctx := context.Background()

	err := eng.ProcessTurn(ctx, engine.TurnRequest{
		UserID:       userID,
		Message:      "latest go release?",
		UseWebSearch: true,
	}, sink)
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}

	if searcher.query != "latest go release?" {
		t.Fatalf("searcher got query %q", searcher.query)
	}
	want := []engine.SearchPhase{engine.SearchStarted, engine.SearchCompleted}
	if len(sink.searches) != 2 || sink.searches[0] != want[0] || sink.searches[1] != want[1] {
		t.Fatalf("unexpected search phases %v", sink.searches)
	}

	// The model sees results plus the original question.
	last := chatter.prompt[len(chatter.prompt)-1]
	if !strings.Contains(last.Content, "[Search Results]") {
		t.Fatalf("prompt missing search results: %q", last.Content)
	}
	if !strings.Contains(last.Content, "Go Releases") || !strings.Contains(last.Content, "https://go.dev/dl/") {
		t.Fatalf("prompt missing result fields: %q", last.Content)
	}
	if !strings.Contains(last.Content, "User question: latest go release?") {
		t.Fatalf("prompt missing original question: %q", last.Content)
	}
	if !strings.Contains(chatter.prompt[0].Content, "web search results") {
		t.Fatalf("system prompt not extended: %q", chatter.prompt[0].Content)
	}

	// But the stored turn is the user's own words.
	turns, err := store.ListMessages(ctx, sink.sessionID, userID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if turns[0].Content != "latest go release?" {
		t.Fatalf("augmented message must not be persisted, got %q", turns[0].Content)
	}
}

func TestProcessTurn_WebSearchFailureContinuesUnaugmented(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("rate limited")}
	chatter := &fakeChatter{reply: "answering anyway"}
	eng, _, userID := newTestEngineSearch(t, chatter, searcher)
	sink := &recordingSink{}

	err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		UserID:       userID,
		Message:      "what is new?",
		UseWebSearch: true,
	}, sink)
	if err != nil {
		t.Fatalf("search failure must not fail the turn: %v", err)
	}

	want := []engine.SearchPhase{engine.SearchStarted, engine.SearchFailed}
	if len(sink.searches) != 2 || sink.searches[0] != want[0] || sink.searches[1] != want[1] {
		t.Fatalf("unexpected search phases %v", sink.searches)
	}
	last := chatter.prompt[len(chatter.prompt)-1]
	if last.Content != "what is new?" {
		t.Fatalf("failed search must leave the message untouched, got %q", last.Content)
	}
	if sink.done != "answering anyway" {
		t.Fatalf("turn should complete, got done=%q", sink.done)
	}
}

func TestProcessTurn_NoSearcherIgnoresFlag(t *testing.T) {
	chatter := &fakeChatter{reply: "plain answer"}
	eng, _, userID := newTestEngine(t, chatter)
	sink := &recordingSink{}

	err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		UserID:       userID,
		Message:      "hi",
		UseWebSearch: true,
	}, sink)
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if len(sink.searches) != 0 {
		t.Fatalf("no searcher wired, got phases %v", sink.searches)
	}
	last := chatter.prompt[len(chatter.prompt)-1]
	if last.Content != "hi" {
		t.Fatalf("message must pass through unchanged, got %q", last.Content)
	}
}

func TestGenerateTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello", "Hello"},
		{strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
	}
	for _, tc := range cases {
		if got := engine.GenerateTitle(tc.in); got != tc.want {
			t.Fatalf("GenerateTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// Truncation counts runes, not bytes.
	long := strings.Repeat("天気", 20)
	got := engine.GenerateTitle(long)
	if got != string([]rune(long)[:30])+"..." {
		t.Fatalf("rune truncation wrong: %q", got)
	}
}
