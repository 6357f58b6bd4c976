package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// Request is an ad-hoc notification from a producer. A request with an ID
// is delivered at most once; an empty ID gets a fresh one.
type Request struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]any    `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Selector registry.Selector `json:"selector"`
}

// Validate checks the request has something to say and someone to say it to.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: title and body are required", ErrInvalidRequest)
	}
	if err := r.Selector.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Intake delivers Requests from the HTTP, LISTEN/NOTIFY and Kafka ingresses.
type Intake struct {
	deps     Deps
	recorder RunRecorder
}

// NewIntake creates the intake. recorder may be nil.
func NewIntake(deps Deps, recorder RunRecorder) *Intake {
	return &Intake{deps: deps.withDefaults(), recorder: recorder}
}

// Handle delivers one request. The only error returned is ErrInvalidRequest;
// everything else is reported in the summary.
func (i *Intake) Handle(ctx context.Context, req Request) (sum RunSummary, err error) {
	sum = newRun("request", i.deps.Now())
	defer func() { sum.finish(i.deps.Now()) }()

	if err := req.Validate(); err != nil {
		return sum, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	defer i.record(ctx, &sum)
	sum.Evaluated++
	sum.Due++

	devs, err := i.deps.Registry.Resolve(ctx, req.Selector)
	if err != nil {
		i.deps.Logger.Warn("Request audience failed", "request_id", req.ID, "error", err)
		sum.addError("resolve audience: %v", err)
		return sum, nil
	}
	if len(devs) == 0 {
		sum.NoAudience++
		return sum, nil
	}

	tmpl := push.Template{Title: req.Title, Body: req.Body, Data: req.Data, Priority: req.Priority}
	won, err := claimAndSend(ctx, i.deps, &sum, keyRequest+req.ID, req.ID, devs, tmpl)
	if err != nil {
		i.deps.Logger.Warn("Request claim failed", "request_id", req.ID, "error", err)
		sum.addError("%v", err)
		return sum, nil
	}
	if won {
		sum.Notified++
	}
	return sum, nil
}

func (i *Intake) record(ctx context.Context, sum *RunSummary) {
	if i.recorder == nil {
		return
	}
	sum.finish(i.deps.Now())
	if err := i.recorder.RecordRun(context.WithoutCancel(ctx), *sum); err != nil {
		i.deps.Logger.Warn("Failed to record request run", "run_id", sum.RunID, "error", err)
	}
}
