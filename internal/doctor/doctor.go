// Package doctor runs startup diagnostics: config, provider
// credentials, database, filesystem permissions, and provider
// reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkProviders,
		checkDatabase,
		checkPermissions,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{Name: "Config", Status: "WARN", Message: "No LLM providers configured",
			Detail: "Add llm.providers to " + filepath.Join(cfg.HomeDir, "config.yaml")}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkProviders(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.LLM.Providers) == 0 {
		return CheckResult{Name: "Providers", Status: "SKIP", Message: "No providers configured"}
	}

	missing := 0
	detail := ""
	for id, p := range cfg.LLM.Providers {
		if !p.Enabled {
			continue
		}
		envVar := keyEnv(p)
		if envVar == "" || os.Getenv(envVar) != "" {
			continue
		}
		missing++
		if detail != "" {
			detail += "; "
		}
		detail += fmt.Sprintf("%s needs %s", id, envVar)
	}
	if missing > 0 {
		return CheckResult{
			Name:    "Providers",
			Status:  "WARN",
			Message: fmt.Sprintf("%d provider(s) missing an API key", missing),
			Detail:  detail,
		}
	}
	return CheckResult{Name: "Providers", Status: "PASS",
		Message: fmt.Sprintf("%d provider(s) configured with credentials", len(cfg.LLM.Providers))}
}

// keyEnv mirrors the client's env-var resolution per provider kind.
func keyEnv(p llm.ModelProfile) string {
	if p.APIKeyEnv != "" {
		return p.APIKeyEnv
	}
	switch p.Kind {
	case llm.KindAnthropic:
		return "ANTHROPIC_API_KEY"
	case llm.KindGoogle:
		return "GEMINI_API_KEY"
	case llm.KindOpenAI, llm.KindOpenAICompatible:
		return "OPENAI_API_KEY"
	}
	return ""
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	if _, err := store.SchemaVersion(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Migration ledger query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "Connection and schema valid"}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	for _, dir := range []string{cfg.HomeDir, cfg.Uploads.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("%s not creatable: %v", dir, err)}
		}
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
			return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("%s unwritable: %v", dir, err)}
		}
		os.Remove(testFile)
	}
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home and uploads directories writable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.LLM.Providers) == 0 {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "No providers configured"}
	}

	host := providerHost(cfg)
	if host == "" {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "No resolvable provider endpoint"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
	}
}

// providerHost picks the host of the default provider's endpoint,
// falling back to the well-known hosts per kind.
func providerHost(cfg *config.Config) string {
	p, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok {
		for _, prof := range cfg.LLM.Providers {
			p = prof
			break
		}
	}
	if p.BaseURL != "" {
		if u, err := url.Parse(p.BaseURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	switch p.Kind {
	case llm.KindAnthropic:
		return "api.anthropic.com"
	case llm.KindGoogle:
		return "generativelanguage.googleapis.com"
	case llm.KindOpenAI, llm.KindOpenAICompatible:
		return "api.openai.com"
	}
	return ""
}
