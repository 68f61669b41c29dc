package doctor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		HomeDir: home,
		DBPath:  filepath.Join(home, "parley.db"),
		Uploads: config.UploadsConfig{Dir: filepath.Join(home, "uploads")},
		LLM: config.LLMConfig{
			DefaultProvider: "deepseek",
			Providers: map[string]llm.ModelProfile{
				"deepseek": {
					ID:      "deepseek",
					Kind:    llm.KindOpenAICompatible,
					BaseURL: "https://api.deepseek.com/v1",
					Model:   "deepseek-chat",
					Enabled: true,
				},
			},
		},
	}
}

func TestProviderHostPrefersBaseURL(t *testing.T) {
	cfg := testConfig(t)
	if host := providerHost(cfg); host != "api.deepseek.com" {
		t.Fatalf("expected base URL host, got %q", host)
	}
}

func TestProviderHostFallsBackToKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Providers["deepseek"] = llm.ModelProfile{
		ID: "deepseek", Kind: llm.KindAnthropic, Model: "claude-sonnet-4-5", Enabled: true,
	}
	if host := providerHost(cfg); host != "api.anthropic.com" {
		t.Fatalf("expected anthropic endpoint, got %q", host)
	}
}

func TestKeyEnvResolution(t *testing.T) {
	cases := []struct {
		profile llm.ModelProfile
		want    string
	}{
		{llm.ModelProfile{Kind: llm.KindAnthropic}, "ANTHROPIC_API_KEY"},
		{llm.ModelProfile{Kind: llm.KindGoogle}, "GEMINI_API_KEY"},
		{llm.ModelProfile{Kind: llm.KindOpenAI}, "OPENAI_API_KEY"},
		{llm.ModelProfile{Kind: llm.KindOpenAICompatible}, "OPENAI_API_KEY"},
		{llm.ModelProfile{Kind: llm.KindOpenAICompatible, APIKeyEnv: "DEEPSEEK_API_KEY"}, "DEEPSEEK_API_KEY"},
	}
	for _, tc := range cases {
		if got := keyEnv(tc.profile); got != tc.want {
			t.Fatalf("keyEnv(%+v) = %q, want %q", tc.profile, got, tc.want)
		}
	}
}

func TestCheckProvidersWarnsOnMissingKey(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("OPENAI_API_KEY", "")

	res := checkProviders(context.Background(), cfg)
	if res.Status != "WARN" {
		t.Fatalf("expected WARN without API key, got %s (%s)", res.Status, res.Message)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	res = checkProviders(context.Background(), cfg)
	if res.Status != "PASS" {
		t.Fatalf("expected PASS with API key set, got %s (%s)", res.Status, res.Message)
	}
}

func TestCheckDatabaseOpensAndMigrates(t *testing.T) {
	cfg := testConfig(t)
	res := checkDatabase(context.Background(), cfg)
	if res.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", res.Status, res.Message)
	}
}

func TestCheckPermissionsWritableDirs(t *testing.T) {
	cfg := testConfig(t)
	res := checkPermissions(context.Background(), cfg)
	if res.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", res.Status, res.Message)
	}
}

func TestChecksSkipOnNilConfig(t *testing.T) {
	for _, check := range []func(context.Context, *config.Config) CheckResult{
		checkProviders, checkDatabase, checkPermissions, checkNetwork,
	} {
		if res := check(context.Background(), nil); res.Status != "SKIP" {
			t.Fatalf("%s: expected SKIP for nil config, got %s", res.Name, res.Status)
		}
	}
}

func TestRunCollectsAllChecks(t *testing.T) {
	cfg := testConfig(t)
	d := Run(context.Background(), cfg, "test")
	if len(d.Results) != 5 {
		t.Fatalf("expected 5 check results, got %d", len(d.Results))
	}
	if d.System.Version != "test" || d.System.OS == "" {
		t.Fatalf("system info incomplete: %+v", d.System)
	}
}
