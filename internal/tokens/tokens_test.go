package tokens_test

import (
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/tokens"
)

func TestEstimateText_EmptyIsZero(t *testing.T) {
	e := tokens.NewEstimator()
	if got := e.EstimateText(""); got != 0 {
		t.Fatalf("expected 0 for empty string, got %d", got)
	}
}

func TestEstimateText_NonEmptyIsPositive(t *testing.T) {
	e := tokens.NewEstimator()
	if got := e.EstimateText("hello world"); got <= 0 {
		t.Fatalf("expected positive count, got %d", got)
	}
}

func TestEstimateText_MonotonicInLength(t *testing.T) {
	e := tokens.NewEstimator()
	short := e.EstimateText("alpha beta gamma")
	long := e.EstimateText(strings.Repeat("alpha beta gamma ", 50))
	if long <= short {
		t.Fatalf("expected longer text to cost more: short=%d long=%d", short, long)
	}
}

func TestEstimate_EmptyTranscriptIsZero(t *testing.T) {
	e := tokens.NewEstimator()
	if got := e.Estimate(nil); got != 0 {
		t.Fatalf("expected 0 for empty transcript, got %d", got)
	}
}

func TestEstimate_IncludesPerMessageOverhead(t *testing.T) {
	e := tokens.NewEstimator()
	msgs := []chat.Message{
		chat.System("be brief"),
		chat.User("hi"),
		chat.Assistant("hello"),
	}
	sum := 0
	for _, m := range msgs {
		sum += e.EstimateText(m.Content)
	}
	got := e.Estimate(msgs)
	// 4 tokens per message of framing plus 2 tokens of reply priming.
	want := sum + 4*len(msgs) + 2
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
