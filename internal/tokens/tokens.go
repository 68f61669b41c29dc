// Package tokens estimates prompt sizes for context budgeting.
//
// Estimates use the cl100k_base BPE when the encoding can be loaded,
// and degrade to a characters/4 heuristic when it cannot (offline
// hosts without the cached BPE file). Budget decisions only need to
// be approximately right, so the heuristic path is acceptable.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/parleyhq/parley/internal/chat"
)

// Per-message framing overhead observed for chat-format prompts, plus
// a flat priming cost for the reply.
const (
	perMessageOverhead = 4
	replyPriming       = 2
)

// Estimator counts tokens for strings and chat transcripts. The zero
// value is ready to use; the encoding loads lazily on first call.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns an Estimator. Loading the encoding is deferred
// until the first estimate so construction never fails.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// EstimateText returns the token count for one string.
func (e *Estimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Roughly one token per four characters for English-ish text.
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Estimate returns the token count for a full chat prompt: each
// message's content plus per-message framing, plus reply priming.
func (e *Estimator) Estimate(msgs []chat.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range msgs {
		total += e.EstimateText(m.Content) + perMessageOverhead
	}
	return total
}
