package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway records calls and fails the ones listed in failOn (1-based).
type fakeGateway struct {
	mu     sync.Mutex
	calls  [][]Message
	failOn map[int]error
	block  bool
}

func (g *fakeGateway) Send(ctx context.Context, msgs []Message) (Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, msgs)
	n := len(g.calls)
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if err, ok := g.failOn[n]; ok {
		return Response{StatusCode: 500, Raw: "boom"}, err
	}
	receipts := make([]Receipt, len(msgs))
	for i := range receipts {
		receipts[i] = Receipt{Status: "ok"}
	}
	return Response{StatusCode: 200, Receipts: receipts}, nil
}

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ExponentPushToken[%04d]", i)
	}
	return out
}

func testConfig() DispatcherConfig {
	return DispatcherConfig{BatchSize: 100, CallTimeout: time.Second}
}

func TestDispatch_PartitionsIntoBatches(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, testConfig(), nil)

	res := d.Dispatch(context.Background(), addresses(250), Template{Title: "t", Body: "b"})

	require.Len(t, gw.calls, 3)
	assert.Len(t, gw.calls[0], 100)
	assert.Len(t, gw.calls[1], 100)
	assert.Len(t, gw.calls[2], 50)
	assert.Equal(t, 250, res.Addresses)
	assert.Equal(t, 250, res.Delivered())
	assert.Empty(t, res.FailedBatches())
}

func TestDispatch_FailedBatchDoesNotStopOthers(t *testing.T) {
	gw := &fakeGateway{failOn: map[int]error{2: fmt.Errorf("%w: 500", ErrGatewayStatus)}}
	d := NewDispatcher(gw, testConfig(), nil)

	res := d.Dispatch(context.Background(), addresses(250), Template{Title: "t", Body: "b"})

	require.Len(t, gw.calls, 3, "batch 3 must still be attempted")
	failed := res.FailedBatches()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, 500, failed[0].StatusCode)
	assert.Equal(t, "boom", failed[0].Raw)
	assert.Equal(t, 150, res.Delivered())
}

func TestDispatch_TimeoutIsCapturedAsFailure(t *testing.T) {
	gw := &fakeGateway{block: true}
	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	d := NewDispatcher(gw, cfg, nil)

	res := d.Dispatch(context.Background(), addresses(150), Template{Title: "t"})

	require.Len(t, gw.calls, 2)
	require.Len(t, res.FailedBatches(), 2)
	assert.Contains(t, res.Batches[0].Err, "timeout")
}

func TestDispatch_DropsInvalidAddresses(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, testConfig(), nil)

	res := d.Dispatch(context.Background(), []string{"bogus", "ExpoPushToken[ok]", ""}, Template{Title: "t"})

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "ExpoPushToken[ok]", gw.calls[0][0].To)
	assert.Equal(t, 1, res.Addresses)
}

func TestDispatch_NoAddressesNoCalls(t *testing.T) {
	gw := &fakeGateway{}
	res := NewDispatcher(gw, testConfig(), nil).Dispatch(context.Background(), nil, Template{})
	assert.Empty(t, gw.calls)
	assert.Zero(t, res.Delivered())
}

func TestDispatch_OpenBreakerShortCircuitsRemainingBatches(t *testing.T) {
	boom := errors.New("connection refused")
	gw := &fakeGateway{failOn: map[int]error{1: boom, 2: boom, 3: boom}}
	cfg := testConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Minute
	d := NewDispatcher(gw, cfg, nil)

	res := d.Dispatch(context.Background(), addresses(400), Template{Title: "t"})

	assert.Len(t, gw.calls, 2, "breaker opens after two consecutive failures")
	require.Len(t, res.Batches, 4)
	assert.Len(t, res.FailedBatches(), 4)
	assert.Contains(t, res.Batches[3].Err, "breaker open")
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk([]int{}, 10))
	assert.Equal(t, [][]int{{1, 2}, {3}}, Chunk([]int{1, 2, 3}, 2))
}
