package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mndd/notifier/internal/notifications"
	"github.com/mndd/notifier/internal/registry"
)

type fakeHandler struct {
	reqs []notifications.Request
}

func (f *fakeHandler) Handle(_ context.Context, req notifications.Request) (notifications.RunSummary, error) {
	f.reqs = append(f.reqs, req)
	if err := req.Validate(); err != nil {
		return notifications.RunSummary{}, err
	}
	return notifications.RunSummary{Notified: 1}, nil
}

func TestHandleMessage(t *testing.T) {
	h := &fakeHandler{}
	c := &Consumer{handler: h, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	c.handleMessage(context.Background(), []byte(`{"id":"r1","title":"Oi","body":"Tudo bem?","selector":{"kind":"owned_by","owner_ids":["u1"]}}`))
	c.handleMessage(context.Background(), []byte(`not json`))
	c.handleMessage(context.Background(), []byte(`{"title":"","body":"x","selector":{"kind":"all_logged_in"}}`))

	require.Len(t, h.reqs, 2)
	assert.Equal(t, "r1", h.reqs[0].ID)
	assert.Equal(t, registry.OwnedBy("u1"), h.reqs[0].Selector)
}

// fakeGroup runs a scripted Consume: the nth call returns script(n, handler),
// and once the script is exhausted the session sets up and blocks until
// the consumer stops.
type fakeGroup struct {
	sarama.ConsumerGroup

	mu     sync.Mutex
	calls  []time.Time
	script []func(h sarama.ConsumerGroupHandler) error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, time.Now())
	g.mu.Unlock()

	if n < len(g.script) {
		return g.script[n](h)
	}
	if err := h.Setup(nil); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return nil }

func (g *fakeGroup) Close() error { return nil }

func (g *fakeGroup) times() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.calls...)
}

func newScriptedConsumer(group *fakeGroup, backoff time.Duration) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        Config{Topic: "notify-requests"},
		handler:       &fakeHandler{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		backoff:       backoff,
	}
}

func TestStart_BacksOffBetweenFailedSessions(t *testing.T) {
	fail := func(sarama.ConsumerGroupHandler) error { return errors.New("broker unavailable") }
	group := &fakeGroup{script: []func(sarama.ConsumerGroupHandler) error{fail, fail}}
	c := newScriptedConsumer(group, 20*time.Millisecond)

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	calls := group.times()
	require.Len(t, calls, 3)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 40*time.Millisecond)
}

func TestStart_RebalanceGetsFreshReadyChannel(t *testing.T) {
	// A session that sets up and ends cleanly, as on a rebalance.
	rebalance := func(h sarama.ConsumerGroupHandler) error { return h.Setup(nil) }
	group := &fakeGroup{script: []func(sarama.ConsumerGroupHandler) error{rebalance, rebalance}}
	c := newScriptedConsumer(group, time.Hour)

	require.NoError(t, c.Start())
	assert.Eventually(t, func() bool { return len(group.times()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
}
