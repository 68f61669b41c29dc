package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/parleyhq/parley/internal/chat"
)

// Usage is the provider-reported token accounting for one call.
// Zero values mean the provider did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is one provider profile bound to a Genkit instance.
type Client struct {
	g       *genkit.Genkit
	profile ModelProfile
}

// NewClient initializes Genkit with the plugin matching the profile's
// kind. The API key comes from the profile's configured env var, with
// a per-kind conventional default.
func NewClient(ctx context.Context, profile ModelProfile) (*Client, error) {
	apiKey := apiKeyFor(profile)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: no API key in %s", profile.ID, keyEnvName(profile))
	}

	var g *genkit.Genkit
	switch profile.Kind {
	case KindAnthropic:
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: profile.BaseURL,
		}))
	case KindOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  profile.BaseURL,
		}))
	case KindOpenAICompatible:
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: profile.ID,
			APIKey:   apiKey,
			BaseURL:  profile.BaseURL,
		}))
	case KindGoogle:
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", profile.ID, profile.Kind)
	}

	slog.Info("llm client initialized",
		"provider", profile.ID,
		"kind", profile.Kind,
		"model", profile.ModelName())
	return &Client{g: g, profile: profile}, nil
}

// Profile returns the profile this client was built from.
func (c *Client) Profile() ModelProfile {
	return c.profile
}

// Complete runs one synchronous generation and returns the full text.
func (c *Client) Complete(ctx context.Context, msgs []chat.Message) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.profile.ModelName()),
		ai.WithMessages(toGenkitMessages(msgs)...),
	)
	if err != nil {
		return "", fmt.Errorf("generate (%s): %w", c.profile.ID, err)
	}
	return resp.Text(), nil
}

// Stream runs a streaming generation, forwarding each text delta to
// onDelta. It returns the accumulated reply and the provider-reported
// usage, which may be zero when the provider omits it. An onDelta
// error aborts the stream and is returned unchanged so callers can
// propagate client disconnects.
func (c *Client) Stream(ctx context.Context, msgs []chat.Message, onDelta func(delta string) error) (string, Usage, error) {
	stream := genkit.GenerateStream(ctx, c.g,
		ai.WithModelName(c.profile.ModelName()),
		ai.WithMessages(toGenkitMessages(msgs)...),
	)

	var full strings.Builder
	var doneText string
	var usage Usage
	for streamVal, err := range stream {
		if err != nil {
			return full.String(), usage, fmt.Errorf("stream (%s): %w", c.profile.ID, err)
		}
		if streamVal.Chunk != nil {
			for _, part := range streamVal.Chunk.Content {
				if part.Kind == ai.PartText && part.Text != "" {
					if err := onDelta(part.Text); err != nil {
						return full.String(), usage, err
					}
					full.WriteString(part.Text)
				}
			}
		}
		if streamVal.Done && streamVal.Response != nil {
			doneText = streamVal.Response.Text()
			if u := streamVal.Response.Usage; u != nil {
				usage = Usage{
					PromptTokens:     int(u.InputTokens),
					CompletionTokens: int(u.OutputTokens),
					TotalTokens:      int(u.TotalTokens),
				}
			}
		}
	}

	reply := full.String()
	if reply == "" {
		reply = doneText
	}
	return reply, usage, nil
}

func apiKeyFor(profile ModelProfile) string {
	return strings.TrimSpace(os.Getenv(keyEnvName(profile)))
}

func keyEnvName(profile ModelProfile) string {
	if profile.APIKeyEnv != "" {
		return profile.APIKeyEnv
	}
	switch profile.Kind {
	case KindAnthropic:
		return "ANTHROPIC_API_KEY"
	case KindGoogle:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// toGenkitMessages converts chat messages to Genkit messages. The
// switch is exhaustive over the closed role set; an unknown role is a
// programming error upstream and is dropped rather than guessed at.
func toGenkitMessages(msgs []chat.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		var role ai.Role
		switch m.Role {
		case chat.RoleSystem:
			role = ai.RoleSystem
		case chat.RoleUser:
			role = ai.RoleUser
		case chat.RoleAssistant:
			role = ai.RoleModel
		default:
			continue
		}
		out = append(out, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return out
}
