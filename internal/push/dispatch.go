package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DispatcherConfig controls batching and transport limits.
type DispatcherConfig struct {
	BatchSize       int
	CallTimeout     time.Duration
	RatePerSecond   float64 // 0 disables client-side rate limiting
	BreakerFailures uint32  // consecutive failed calls before the breaker opens; 0 disables
	BreakerCooldown time.Duration
}

// DefaultDispatcherConfig returns the gateway contract values.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:       DefaultBatchSize,
		CallTimeout:     15 * time.Second,
		RatePerSecond:   6,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// BatchOutcome is the result of one gateway call.
type BatchOutcome struct {
	Index      int       `json:"index"`
	Size       int       `json:"size"`
	StatusCode int       `json:"status_code,omitempty"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	Receipts   []Receipt `json:"-"`
	Err        string    `json:"error,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

// Failed reports whether the call itself failed.
func (o BatchOutcome) Failed() bool { return o.Err != "" }

// Result collects the outcomes of one Dispatch.
type Result struct {
	Addresses int            `json:"addresses"`
	Batches   []BatchOutcome `json:"batches"`
}

// FailedBatches returns the outcomes whose gateway call failed.
func (r Result) FailedBatches() []BatchOutcome {
	var out []BatchOutcome
	for _, b := range r.Batches {
		if b.Failed() {
			out = append(out, b)
		}
	}
	return out
}

// Delivered counts addresses in batches that reached the gateway successfully.
func (r Result) Delivered() int {
	n := 0
	for _, b := range r.Batches {
		if !b.Failed() {
			n += b.Size
		}
	}
	return n
}


// Dispatcher partitions addresses into gateway-sized batches and sends them
// one call per batch. Failures are collected, never returned as errors.
type Dispatcher struct {
	gateway Gateway
	cfg     DispatcherConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewDispatcher wraps a gateway with batching, per-call timeouts, rate
// limiting and a circuit breaker.
func NewDispatcher(gw Gateway, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	d := &Dispatcher{gateway: gw, cfg: cfg, logger: logger}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "push-gateway",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Gateway breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return d
}

// Dispatch sends tmpl to every address. Addresses are expected to be already
// validated and deduplicated by the registry; invalid ones are still dropped
// here so nothing malformed reaches the gateway.
func (d *Dispatcher) Dispatch(ctx context.Context, addresses []string, tmpl Template) Result {
	valid := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if ValidAddress(a) {
			valid = append(valid, a)
		}
	}

	res := Result{Addresses: len(valid)}
	batches := Chunk(valid, d.cfg.BatchSize)
	for i, batch := range batches {
		msgs := make([]Message, len(batch))
		for j, addr := range batch {
			msgs[j] = tmpl.For(addr)
		}

		out := d.sendBatch(ctx, msgs)
		out.Index = i
		out.Size = len(batch)
		if out.Failed() {
			d.logger.Warn("Push batch failed",
				"batch", i+1, "of", len(batches), "size", len(batch),
				"status", out.StatusCode, "error", out.Err)
		} else {
			d.logger.Info("Push batch sent",
				"batch", i+1, "of", len(batches), "size", len(batch),
				"accepted", out.Accepted, "rejected", out.Rejected)
		}
		res.Batches = append(res.Batches, out)
	}
	return res
}

func (d *Dispatcher) sendBatch(ctx context.Context, msgs []Message) BatchOutcome {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return BatchOutcome{Err: fmt.Sprintf("rate limit wait: %v", err)}
		}
	}

	call := func() (Response, error) {
		callCtx := ctx
		if d.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
			defer cancel()
		}
		return d.gateway.Send(callCtx, msgs)
	}

	var resp Response
	var err error
	if d.breaker != nil {
		var v interface{}
		v, err = d.breaker.Execute(func() (interface{}, error) {
			r, callErr := call()
			return r, callErr
		})
		if r, ok := v.(Response); ok {
			resp = r
		}
	} else {
		resp, err = call()
	}

	out := BatchOutcome{
		StatusCode: resp.StatusCode,
		Receipts:   resp.Receipts,
		Raw:        resp.Raw,
	}
	for _, r := range resp.Receipts {
		if r.OK() {
			out.Accepted++
		} else {
			out.Rejected++
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		out.Err = "timeout: " + err.Error()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		out.Err = "breaker open: " + err.Error()
	default:
		out.Err = err.Error()
	}
	if err == nil && len(resp.Errors) > 0 {
		out.Err = fmt.Sprintf("gateway error %s: %s", resp.Errors[0].Code, resp.Errors[0].Message)
	}
	return out
}

// Chunk splits items into consecutive groups of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
