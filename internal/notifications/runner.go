package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// RunRecorder persists run summaries. Failures are logged, never returned
// to the trigger.
type RunRecorder interface {
	RecordRun(ctx context.Context, sum RunSummary) error
}

// Runner looks evaluators up by name and runs them.
type Runner struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	recorder   RunRecorder
	logger     *slog.Logger
}

// NewRunner creates a runner. recorder may be nil.
func NewRunner(recorder RunRecorder, logger *slog.Logger, evals ...Evaluator) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		evaluators: make(map[string]Evaluator, len(evals)),
		recorder:   recorder,
		logger:     logger,
	}
	for _, e := range evals {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an evaluator.
func (r *Runner) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Name()] = e
}

// Names returns the registered evaluator names, sorted.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.evaluators))
	for n := range r.evaluators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes one evaluator pass. The only error is ErrUnknownEvaluator.
func (r *Runner) Run(ctx context.Context, name string) (RunSummary, error) {
	r.mu.RLock()
	e, ok := r.evaluators[name]
	r.mu.RUnlock()
	if !ok {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrUnknownEvaluator, name)
	}

	sum := e.Run(ctx)
	r.Record(ctx, sum)
	return sum, nil
}

// Record logs a summary and persists it when a recorder is configured.
func (r *Runner) Record(ctx context.Context, sum RunSummary) {
	if len(sum.Errors) > 0 || sum.BatchFailures > 0 {
		r.logger.Warn("Evaluator run finished with errors", "run_id", sum.RunID, "summary", sum.Summary())
	} else if sum.Notified > 0 {
		r.logger.Info("Evaluator run finished", "run_id", sum.RunID, "summary", sum.Summary())
	}
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordRun(context.WithoutCancel(ctx), sum); err != nil {
		r.logger.Warn("Failed to record run", "run_id", sum.RunID, "error", err)
	}
}
