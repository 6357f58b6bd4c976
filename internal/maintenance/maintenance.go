// Package maintenance runs periodic background tasks as Go tickers: one per
// evaluator plus a cleanup task. Every evaluator is also reachable through
// the HTTP trigger and the CLI, so an external scheduler can replace any
// ticker by setting its interval to zero.
package maintenance

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mndd/notifier/internal/notifications"
)

// Runner runs an evaluator by name.
type Runner interface {
	Run(ctx context.Context, name string) (notifications.RunSummary, error)
}

// ClaimPurger deletes old claims. Stores with their own expiry don't need one.
type ClaimPurger interface {
	PurgeClaims(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RunPurger deletes old run log rows.
type RunPurger interface {
	PurgeRuns(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Config controls task intervals. Zero duration disables a task.
type Config struct {
	Intervals       map[string]time.Duration // evaluator name → interval
	CleanupInterval time.Duration
	ClaimRetention  time.Duration
	RunRetention    time.Duration
}

// Scheduler owns the tickers.
type Scheduler struct {
	runner Runner
	claims ClaimPurger
	runs   RunPurger
	cfg    Config
	logger *slog.Logger

	// running guards against a slow evaluator piling up ticks.
	mu      sync.Mutex
	running map[string]bool
}

// New creates a scheduler. claims and runs may be nil.
func New(runner Runner, claims ClaimPurger, runs RunPurger, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		claims:  claims,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		running: make(map[string]bool),
	}
}

// Start launches all configured tickers. Blocks until ctx is cancelled.
// Intended to be called with `go`.
func (s *Scheduler) Start(ctx context.Context) {
	names := make([]string, 0, len(s.cfg.Intervals))
	for name := range s.cfg.Intervals {
		names = append(names, name)
	}
	sort.Strings(names)

	var tickers []*time.Ticker
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	for _, name := range names {
		interval := s.cfg.Intervals[name]
		if interval <= 0 {
			s.logger.Info("Evaluator ticker disabled", "evaluator", name)
			continue
		}
		t := time.NewTicker(interval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { s.RunEvaluator(ctx, name) })
		s.logger.Info("Evaluator ticker started", "evaluator", name, "interval", interval)
	}

	if s.cfg.CleanupInterval > 0 {
		t := time.NewTicker(s.cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { s.Cleanup(ctx) })
	}

	<-ctx.Done()
	s.logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// RunEvaluator runs one tick of an evaluator. A tick that arrives while the
// previous one is still running is skipped.
func (s *Scheduler) RunEvaluator(ctx context.Context, name string) bool {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("Previous tick still running, skipping", "evaluator", name)
		return false
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	if _, err := s.runner.Run(ctx, name); err != nil {
		s.logger.Error("Scheduled run failed", "evaluator", name, "error", err)
	}
	return true
}

// Cleanup purges claims and run rows past their retention.
func (s *Scheduler) Cleanup(ctx context.Context) {
	if s.claims != nil && s.cfg.ClaimRetention > 0 {
		n, err := s.claims.PurgeClaims(ctx, s.cfg.ClaimRetention)
		if err != nil {
			s.logger.Warn("Cleanup: failed to purge old claims", "error", err)
		} else if n > 0 {
			s.logger.Info("Cleanup: purged old claims", "count", n)
		}
	}

	if s.runs != nil && s.cfg.RunRetention > 0 {
		n, err := s.runs.PurgeRuns(ctx, s.cfg.RunRetention)
		if err != nil {
			s.logger.Warn("Cleanup: failed to purge old runs", "error", err)
		} else if n > 0 {
			s.logger.Info("Cleanup: purged old runs", "count", n)
		}
	}
}
