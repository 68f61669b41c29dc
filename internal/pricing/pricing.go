// Package pricing estimates USD cost for recorded token usage.
package pricing

import "strings"

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// Known model pricing as of mid 2026. Versioned model ids match by
// prefix, so "gpt-4o-2024-11-20" resolves through "gpt-4o".
var knownModels = map[string]ModelPricing{
	// DeepSeek
	"deepseek-chat":     {0.27, 1.10},
	"deepseek-reasoner": {0.55, 2.19},
	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
	// Anthropic
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-4-5":  {1.00, 5.00},
	// Gemini
	"gemini-2.5-pro":   {1.25, 10.00},
	"gemini-2.5-flash": {0.30, 2.50},
}

// EstimateCost returns the estimated USD cost for the given token
// counts. Unknown models (including self-hosted endpoints) cost 0.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := lookup(model)
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}

func lookup(model string) (ModelPricing, bool) {
	if p, ok := knownModels[model]; ok {
		return p, true
	}
	// Longest known prefix wins, so dated releases inherit the base
	// model's rate.
	var (
		best    ModelPricing
		bestLen int
		found   bool
	)
	for name, p := range knownModels {
		if strings.HasPrefix(model, name+"-") && len(name) > bestLen {
			best, bestLen, found = p, len(name), true
		}
	}
	return best, found
}
