package llm

import (
	"context"
	"errors"
	"testing"
)

func testProfiles() map[string]ModelProfile {
	return map[string]ModelProfile{
		"deepseek": {
			ID: "deepseek", Kind: KindOpenAICompatible,
			BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat",
			MaxContextLength: 32768, Enabled: true,
		},
		"retired": {
			ID: "retired", Kind: KindOpenAI, Model: "gpt-3.5-turbo",
			Enabled: false,
		},
	}
}

func TestRegistry_GetConstructsOnce(t *testing.T) {
	r := NewRegistry(testProfiles())
	built := 0
	r.factory = func(_ context.Context, p ModelProfile) (*Client, error) {
		built++
		return &Client{profile: p}, nil
	}

	ctx := context.Background()
	first, err := r.Get(ctx, "deepseek")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := r.Get(ctx, "deepseek")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if built != 1 {
		t.Fatalf("expected one construction, got %d", built)
	}
	if first != second {
		t.Fatal("expected cached client identity")
	}
}

func TestRegistry_UnknownAndDisabledProviders(t *testing.T) {
	r := NewRegistry(testProfiles())
	r.factory = func(_ context.Context, p ModelProfile) (*Client, error) {
		return &Client{profile: p}, nil
	}

	if _, err := r.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := r.Get(context.Background(), "retired"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
	if _, err := r.Profile("retired"); err == nil {
		t.Fatal("expected Profile to reject disabled provider")
	}
}

func TestRegistry_FailedConstructionRetries(t *testing.T) {
	r := NewRegistry(testProfiles())
	attempts := 0
	r.factory = func(_ context.Context, p ModelProfile) (*Client, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient init failure")
		}
		return &Client{profile: p}, nil
	}

	ctx := context.Background()
	if _, err := r.Get(ctx, "deepseek"); err == nil {
		t.Fatal("expected first construction to fail")
	}
	if _, err := r.Get(ctx, "deepseek"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestModelProfile_Validate(t *testing.T) {
	cases := []struct {
		name    string
		profile ModelProfile
		wantErr bool
	}{
		{"valid openai", ModelProfile{ID: "a", Kind: "openai", Model: "gpt-4o"}, false},
		{"kind normalized", ModelProfile{ID: "b", Kind: "Anthropic", Model: "claude-sonnet-4-5"}, false},
		{"unknown kind", ModelProfile{ID: "c", Kind: "cohere", Model: "x"}, true},
		{"missing model", ModelProfile{ID: "d", Kind: "google"}, true},
		{"compat needs base url", ModelProfile{ID: "e", Kind: "openai_compatible", Model: "m"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.profile.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestModelProfile_ValidateFillsContextDefault(t *testing.T) {
	p := ModelProfile{ID: "a", Kind: "openai", Model: "gpt-4o"}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.MaxContextLength != 32768 {
		t.Fatalf("expected default max context 32768, got %d", p.MaxContextLength)
	}
}
