// Package listener provides a Postgres LISTEN/NOTIFY consumer. It holds a
// dedicated pgx connection (not from the pool) listening on two channels:
//
//   - notify_request: the payload is a JSON notify request, delivered through
//     the intake.
//   - run_evaluator: the payload is an evaluator name, run immediately
//     (e.g. a publication trigger firing the publications evaluator).
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/semaphore"

	"github.com/mndd/notifier/internal/notifications"
)

const (
	RequestChannel   = "notify_request"
	EvaluatorChannel = "run_evaluator"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
	handleTimeout    = 2 * time.Minute
	maxInFlight      = 4
)

// RequestHandler delivers one notify request.
type RequestHandler interface {
	Handle(ctx context.Context, req notifications.Request) (notifications.RunSummary, error)
}

// EvaluatorRunner runs an evaluator by name.
type EvaluatorRunner interface {
	Run(ctx context.Context, name string) (notifications.RunSummary, error)
}

// Listener dispatches notifications received on the channels above.
type Listener struct {
	dbURL  string
	intake RequestHandler
	runner EvaluatorRunner
	logger *slog.Logger

	// inflight caps concurrent dispatches; a full listener stops reading and
	// notifications queue on the connection.
	inflight *semaphore.Weighted
}

func New(dbURL string, intake RequestHandler, runner EvaluatorRunner, logger *slog.Logger) *Listener {
	return &Listener{
		dbURL:    dbURL,
		intake:   intake,
		runner:   runner,
		logger:   logger,
		inflight: semaphore.NewWeighted(maxInFlight),
	}
}

// Start listens until ctx is cancelled, reconnecting automatically on
// connection loss. Intended to be called with `go`.
func (l *Listener) Start(ctx context.Context) {
	backoff := reconnectBackoff

	for {
		err := l.listenLoop(ctx)
		if ctx.Err() != nil {
			l.logger.Info("Notify listener stopped (context cancelled)")
			return
		}

		l.logger.Error("Notify listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func (l *Listener) listenLoop(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	for _, ch := range []string{RequestChannel, EvaluatorChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("LISTEN %s: %w", ch, err)
		}
	}
	l.logger.Info("Notify listener connected", "channels", []string{RequestChannel, EvaluatorChannel})

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if err := l.process(ctx, n.Channel, n.Payload); err != nil {
			return err
		}
	}
}

// process dispatches one notification in the background once a slot is
// free. It blocks while maxInFlight dispatches are running.
func (l *Listener) process(ctx context.Context, channel, payload string) error {
	if err := l.inflight.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for dispatch slot: %w", err)
	}
	go func() {
		defer l.inflight.Release(1)
		l.dispatch(context.WithoutCancel(ctx), channel, payload)
	}()
	return nil
}

// dispatch routes one notification payload.
func (l *Listener) dispatch(ctx context.Context, channel, payload string) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch channel {
	case RequestChannel:
		var req notifications.Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			l.logger.Warn("Failed to parse notify request", "payload", payload, "error", err)
			return
		}
		sum, err := l.intake.Handle(ctx, req)
		if err != nil {
			l.logger.Warn("Rejected notify request", "request_id", req.ID, "error", err)
			return
		}
		l.logger.Info("Notify request handled", "request_id", req.ID, "summary", sum.Summary())

	case EvaluatorChannel:
		name := strings.TrimSpace(payload)
		if _, err := l.runner.Run(ctx, name); err != nil {
			l.logger.Warn("Evaluator trigger failed", "evaluator", name, "error", err)
		}

	default:
		l.logger.Warn("Notification on unexpected channel", "channel", channel)
	}
}
