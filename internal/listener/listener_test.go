package listener

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mndd/notifier/internal/notifications"
)

type fakeIntake struct {
	mu   sync.Mutex
	reqs []notifications.Request
}

func (f *fakeIntake) Handle(_ context.Context, req notifications.Request) (notifications.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return notifications.RunSummary{}, req.Validate()
}

type fakeRunner struct {
	names []string
}

func (f *fakeRunner) Run(_ context.Context, name string) (notifications.RunSummary, error) {
	f.names = append(f.names, name)
	if name != "publications" {
		return notifications.RunSummary{}, notifications.ErrUnknownEvaluator
	}
	return notifications.RunSummary{Evaluator: name}, nil
}

func newTestListener() (*Listener, *fakeIntake, *fakeRunner) {
	in, run := &fakeIntake{}, &fakeRunner{}
	return New("", in, run, slog.New(slog.NewTextHandler(io.Discard, nil))), in, run
}

func TestDispatch_Request(t *testing.T) {
	l, in, _ := newTestListener()

	l.dispatch(context.Background(), RequestChannel, `{"id":"r1","title":"t","body":"b","selector":{"kind":"all_logged_in"}}`)
	l.dispatch(context.Background(), RequestChannel, `{broken`)

	require.Len(t, in.reqs, 1)
	assert.Equal(t, "r1", in.reqs[0].ID)
}

func TestDispatch_Evaluator(t *testing.T) {
	l, in, run := newTestListener()

	l.dispatch(context.Background(), EvaluatorChannel, " publications\n")
	l.dispatch(context.Background(), EvaluatorChannel, "nope")
	l.dispatch(context.Background(), "other", "x")

	assert.Equal(t, []string{"publications", "nope"}, run.names)
	assert.Empty(t, in.reqs)
}

type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (b *blockingRunner) Run(_ context.Context, name string) (notifications.RunSummary, error) {
	b.started <- name
	<-b.release
	return notifications.RunSummary{Evaluator: name}, nil
}

func TestProcess_BoundsConcurrentDispatches(t *testing.T) {
	run := &blockingRunner{started: make(chan string, maxInFlight+1), release: make(chan struct{})}
	l := New("", &fakeIntake{}, run, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < maxInFlight; i++ {
		require.NoError(t, l.process(context.Background(), EvaluatorChannel, "publications"))
	}
	for i := 0; i < maxInFlight; i++ {
		<-run.started
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.process(ctx, EvaluatorChannel, "publications")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(run.release)
	require.NoError(t, l.process(context.Background(), EvaluatorChannel, "publications"))
	assert.Equal(t, "publications", <-run.started)
}
