// Package notifications decides when a notification is due and delivers it
// exactly once per occurrence.
//
// Pipeline: evaluate condition → resolve audience → claim occurrence →
// dispatch in batches → advance marker/cursor/snapshot.
//
// Evaluators never hold in-memory "last run" state. The claim store is the
// only thing that keeps overlapping or repeated runs from sending twice.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mndd/notifier/internal/claim"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultReminderLead      = 120 * time.Minute
	defaultReminderTolerance = 5 * time.Minute
	defaultDailyWindow       = 5 * time.Minute
	maxRecordedErrors        = 50
)

// Claim key prefixes. Each evaluator owns its own key space.
const (
	keyReminder = "reminder:"
	keyLeader   = "leader:"
	keyActivity = "activity:"
	keyDaily    = "daily:"
	keyRequest  = "request:"
)

var (
	ErrUnknownEvaluator = errors.New("unknown evaluator")
	ErrInvalidRequest   = errors.New("invalid notify request")
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Resolver turns a selector into devices.
type Resolver interface {
	Resolve(ctx context.Context, sel registry.Selector) ([]registry.Device, error)
}

// Sender delivers one template to many addresses.
type Sender interface {
	Dispatch(ctx context.Context, addresses []string, tmpl push.Template) push.Result
}

// Evaluator is one condition family that can be triggered by name.
type Evaluator interface {
	Name() string
	Run(ctx context.Context) RunSummary
}

// Deps are the collaborators shared by every evaluator.
type Deps struct {
	Registry Resolver
	Sender   Sender
	Claims   claim.Store
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// --------------------------------------------------------------------------
// Run summary
// --------------------------------------------------------------------------

// RunSummary is what one evaluator run did. Failures inside a run are
// counted here instead of failing the run.
type RunSummary struct {
	RunID         string              `json:"run_id"`
	Evaluator     string              `json:"evaluator"`
	StartedAt     time.Time           `json:"started_at"`
	Evaluated     int                 `json:"evaluated"`
	Invalid       int                 `json:"invalid"`
	Due           int                 `json:"due"`
	Notified      int                 `json:"notified"`
	ClaimsLost    int                 `json:"claims_lost"`
	NoAudience    int                 `json:"no_audience"`
	Recipients    int                 `json:"recipients"`
	Delivered     int                 `json:"delivered"`
	Batches       int                 `json:"batches"`
	BatchFailures int                 `json:"batch_failures"`
	Rejected      int                 `json:"rejected"`
	Failures      []push.BatchOutcome `json:"failures,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
	DurationMS    int64               `json:"duration_ms"`
}

func newRun(evaluator string, now time.Time) RunSummary {
	return RunSummary{
		RunID:     uuid.NewString(),
		Evaluator: evaluator,
		StartedAt: now,
	}
}

// recordDispatch folds one dispatcher result into the summary.
func (s *RunSummary) recordDispatch(res push.Result) {
	s.Recipients += res.Addresses
	s.Delivered += res.Delivered()
	s.Batches += len(res.Batches)
	for _, b := range res.Batches {
		s.Rejected += b.Rejected
	}
	failed := res.FailedBatches()
	s.BatchFailures += len(failed)
	s.Failures = append(s.Failures, failed...)
}

// addError records a recovered error message.
func (s *RunSummary) addError(format string, args ...interface{}) {
	if len(s.Errors) >= maxRecordedErrors {
		return
	}
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

func (s *RunSummary) finish(now time.Time) {
	s.DurationMS = now.Sub(s.StartedAt).Milliseconds()
}

// Summary returns a human-readable summary.
func (s *RunSummary) Summary() string {
	return fmt.Sprintf(
		"evaluator=%s evaluated=%d due=%d notified=%d claims_lost=%d recipients=%d delivered=%d batches=%d batch_failures=%d errors=%d dur=%dms",
		s.Evaluator, s.Evaluated, s.Due, s.Notified, s.ClaimsLost,
		s.Recipients, s.Delivered, s.Batches, s.BatchFailures, len(s.Errors), s.DurationMS)
}

// --------------------------------------------------------------------------
// Shared delivery step
// --------------------------------------------------------------------------

// claimAndSend claims (key, occurrence) and, if won, dispatches tmpl to
// devs. It reports whether this run owns the occurrence.
func claimAndSend(ctx context.Context, d Deps, sum *RunSummary, key, occurrence string, devs []registry.Device, tmpl push.Template) (bool, error) {
	won, err := d.Claims.TryClaim(ctx, key, occurrence)
	if err != nil {
		return false, fmt.Errorf("claim %s %s: %w", key, occurrence, err)
	}
	if !won {
		sum.ClaimsLost++
		d.Logger.Info("Occurrence already claimed, skipping", "key", key, "occurrence", occurrence)
		return false, nil
	}
	if len(devs) > 0 {
		sum.recordDispatch(d.Sender.Dispatch(ctx, registry.Addresses(devs), tmpl))
	}
	return true, nil
}
