// Command parley is a terminal chat client for the parley
// conversation engine: durable sessions, file context, and
// token-budgeted history compression.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/audit"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/doctor"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/files"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	otelPkg "github.com/parleyhq/parley/internal/otel"
	"github.com/parleyhq/parley/internal/persistence"
	"github.com/parleyhq/parley/internal/retention"
	"github.com/parleyhq/parley/internal/search"
	"github.com/parleyhq/parley/internal/telemetry"
	"github.com/parleyhq/parley/internal/tokens"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	var (
		dbPath    = flag.String("db", "", "sqlite database path (default from config)")
		sessionID = flag.String("session", "", "resume an existing session id")
		provider  = flag.String("provider", "", "override the LLM provider for this session")
		user      = flag.String("user", "local", "username to chat as")
		webSearch = flag.Bool("search", false, "augment each turn with web search results")
		quiet     = flag.Bool("quiet", false, "log to file only, not stdout")
		runDoctor = flag.Bool("doctor", false, "run environment diagnostics and exit")
		version   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("parley", Version)
		return
	}
	if *runDoctor {
		if err := diagnose(); err != nil {
			fmt.Fprintln(os.Stderr, "parley:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*dbPath, *sessionID, *provider, *user, *webSearch, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func diagnose() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	d := doctor.Run(context.Background(), &cfg, Version)
	fmt.Printf("parley %s on %s/%s (%s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
	failed := false
	for _, r := range d.Results {
		fmt.Printf("[%s] %-12s %s\n", r.Status, r.Name, r.Message)
		if r.Detail != "" {
			fmt.Printf("       %s\n", r.Detail)
		}
		if r.Status == "FAIL" {
			failed = true
		}
	}
	if failed {
		return errors.New("one or more checks failed")
	}
	return nil
}

func run(dbPath, sessionID, providerOverride, username string, webSearch, quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := audit.Init(cfg.HomeDir); err != nil {
		logger.Warn("audit trail not initialized", "error", err)
	}
	defer audit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutCtx)
	}()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	userID, err := store.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	if err := store.TouchLastLogin(ctx, userID); err != nil {
		logger.Warn("last login not recorded", "error", err)
	}

	if len(cfg.LLM.Providers) == 0 {
		return errors.New("no LLM providers configured; add llm.providers to config.yaml")
	}
	registry := llm.NewRegistry(cfg.LLM.Providers)

	defaultProvider := cfg.LLM.DefaultProvider
	if providerOverride != "" {
		defaultProvider = providerOverride
	}
	if defaultProvider == "" {
		for id := range cfg.LLM.Providers {
			defaultProvider = id
			break
		}
	}
	summarizerClient, err := registry.Get(ctx, defaultProvider)
	if err != nil {
		return fmt.Errorf("init provider %q: %w", defaultProvider, err)
	}

	estimator := tokens.NewEstimator()
	fileSvc := files.NewService(store, files.TextExtractor{}, files.Options{
		UploadsDir:   cfg.Uploads.Dir,
		MaxSizeBytes: cfg.Uploads.MaxSizeBytes,
		AllowedExts:  cfg.Uploads.AllowedExts,
		Logger:       logger,
	})

	manager := memory.NewManager(store, store, fileSvc, estimator, summarizerClient, memory.Settings{
		CompressionEnabled:   cfg.Memory.Enabled(),
		CompressionThreshold: cfg.Memory.CompressionThreshold,
		KeepRounds:           cfg.Memory.Rounds(),
	}, logger)
	manager.SetTelemetry(otelProvider.Tracer, metrics)

	engOpts := engine.Options{
		DefaultProvider: defaultProvider,
		SystemPrompt:    cfg.SystemPrompt,
		SearchResults:   cfg.Search.NumResults,
		Logger:          logger,
		Tracer:          otelProvider.Tracer,
		Metrics:         metrics,
	}
	if webSearch {
		engOpts.Searcher = search.NewDuckDuckGo()
	}
	eng := engine.New(store, manager, engine.RegistrySource{Registry: registry}, estimator, engOpts)

	if cfg.Retention.Enabled {
		maxAge, err := time.ParseDuration(cfg.Retention.MaxAge)
		if err != nil {
			return fmt.Errorf("parse retention.max_age: %w", err)
		}
		sweeper, err := retention.NewSweeper(retention.Config{
			Store:    store,
			Logger:   logger,
			Schedule: cfg.Retention.Schedule,
			MaxAge:   maxAge,
		})
		if err != nil {
			return fmt.Errorf("init retention: %w", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// Hot-reload memory settings on config change.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher not started", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				fresh, err := config.Load()
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					continue
				}
				manager.SetSettings(memory.Settings{
					CompressionEnabled:   fresh.Memory.Enabled(),
					CompressionThreshold: fresh.Memory.CompressionThreshold,
					KeepRounds:           fresh.Memory.Rounds(),
				})
				logger.Info("memory settings reloaded",
					"compression_enabled", fresh.Memory.Enabled(),
					"keep_rounds", fresh.Memory.Rounds())
			}
		}()
	}

	return chatLoop(ctx, eng, userID, sessionID, providerOverride, webSearch)
}

// chatLoop reads user lines from stdin and streams replies to stdout
// until EOF or interrupt.
func chatLoop(ctx context.Context, eng *engine.Engine, userID, sessionID, provider string, webSearch bool) error {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("parley: type a message, Ctrl-D to quit")
	if sessionID != "" {
		fmt.Println("resuming session", sessionID)
	}

	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		sink := &consoleSink{}
		err := eng.ProcessTurn(ctx, engine.TurnRequest{
			SessionID:    sessionID,
			UserID:       userID,
			Message:      line,
			Provider:     provider,
			UseWebSearch: webSearch,
		}, sink)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if sink.sessionID != "" {
			sessionID = sink.sessionID
		}
		// Only the first turn needs the override; after that the
		// session carries its provider.
		provider = ""
		fmt.Println()
	}
	return in.Err()
}

// consoleSink writes deltas straight to stdout.
type consoleSink struct {
	sessionID string
}

func (s *consoleSink) OnSession(id string) { s.sessionID = id }
func (s *consoleSink) OnSearch(phase engine.SearchPhase) {
	switch phase {
	case engine.SearchStarted:
		fmt.Println("(searching the web...)")
	case engine.SearchFailed:
		fmt.Println("(search unavailable, answering without results)")
	}
}
func (s *consoleSink) OnDelta(d string) error {
	_, err := fmt.Print(d)
	return err
}
func (s *consoleSink) OnTitle(string)    {}
func (s *consoleSink) OnUsage(llm.Usage) {}
func (s *consoleSink) OnDone(string)     {}
func (s *consoleSink) OnError(err error) {}
