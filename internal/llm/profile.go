// Package llm adapts configured provider profiles to Genkit-backed
// clients for streaming chat and synchronous summarization calls.
package llm

import (
	"fmt"
	"strings"
)

// Provider kinds. openai_compatible covers any endpoint speaking the
// OpenAI wire protocol (vLLM, DeepSeek, OpenRouter and friends).
const (
	KindOpenAI           = "openai"
	KindOpenAICompatible = "openai_compatible"
	KindAnthropic        = "anthropic"
	KindGoogle           = "google"
)

const defaultMaxContextLength = 32768

// ModelProfile describes one configured provider entry.
type ModelProfile struct {
	ID               string `yaml:"-"`
	DisplayName      string `yaml:"display_name"`
	Kind             string `yaml:"kind"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	APIKeyEnv        string `yaml:"api_key_env"`
	MaxContextLength int    `yaml:"max_context_length"`
	Enabled          bool   `yaml:"enabled"`
}

// Validate checks the profile and fills defaults.
func (p *ModelProfile) Validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case KindOpenAI, KindOpenAICompatible, KindAnthropic, KindGoogle:
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	default:
		return fmt.Errorf("provider %s: unknown kind %q", p.ID, p.Kind)
	}
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("provider %s: model is required", p.ID)
	}
	if p.Kind == KindOpenAICompatible && strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url is required for openai_compatible", p.ID)
	}
	if p.MaxContextLength <= 0 {
		p.MaxContextLength = defaultMaxContextLength
	}
	return nil
}

// ModelName returns the Genkit model reference for this profile.
func (p ModelProfile) ModelName() string {
	switch p.Kind {
	case KindAnthropic:
		return "anthropic/" + p.Model
	case KindOpenAI:
		return "openai/" + p.Model
	case KindGoogle:
		return "googleai/" + p.Model
	default:
		return p.Model
	}
}
