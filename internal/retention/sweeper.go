// Package retention periodically deletes uploaded files past their
// configured age, both the metadata rows and the blobs on disk.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/parleyhq/parley/internal/audit"
)

// cronParser parses standard 5-field cron expressions (minute, hour,
// dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Store is the persistence surface the sweeper needs.
type Store interface {
	PurgeFilesOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Config holds the dependencies for the sweeper.
type Config struct {
	Store    Store
	Logger   *slog.Logger
	Schedule string        // 5-field cron expression
	MaxAge   time.Duration // files older than this are purged
	Interval time.Duration // schedule poll interval; defaults to 1 minute
}

// Sweeper runs the purge on a cron schedule.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	schedule cronlib.Schedule
	maxAge   time.Duration
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. The schedule is validated here so a
// bad config fails at startup, not at 3am.
func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.MaxAge <= 0 {
		return nil, errors.New("retention max age must be positive")
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    cfg.Store,
		logger:   logger.With("component", "retention"),
		schedule: sched,
		maxAge:   cfg.MaxAge,
		interval: interval,
	}, nil
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention sweeper started", "max_age", s.maxAge)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.schedule.Next(time.Now())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			s.Sweep(ctx)
			next = s.schedule.Next(now)
		}
	}
}

// Sweep purges expired files once. Exposed so operators can trigger
// it on demand.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	paths, err := s.store.PurgeFilesOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	removed := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("expired upload blob not removed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if len(paths) > 0 {
		audit.Record("retention.purge", "retention", "",
			fmt.Sprintf("%d rows purged, %d blobs removed, cutoff %s", len(paths), removed, cutoff.UTC().Format(time.RFC3339)))
		s.logger.Info("retention sweep complete", "purged", len(paths), "blobs_removed", removed)
	}
}
