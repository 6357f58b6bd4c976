package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/mndd/notifier/internal/api/respond"
)

// --------------------------------------------------------------------------
// Request timing middleware
// --------------------------------------------------------------------------

// TimingMiddleware reports handler latency in X-Process-Time. Trigger runs
// are synchronous, so this is the evaluator's wall time.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timedWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

// timedWriter sets the header just before the status line goes out; after
// that, headers can no longer change.
type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timedWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		ms := float64(time.Since(w.start).Microseconds()) / 1000
		w.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", ms))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// --------------------------------------------------------------------------
// Rate limiting middleware (per client IP token bucket)
// --------------------------------------------------------------------------

const maxTrackedClients = 4096

// ipLimiter keeps one bucket per client. Idle buckets age out after two
// windows, which is long enough for any of them to have refilled.
type ipLimiter struct {
	buckets *expirable.LRU[string, *rate.Limiter]
	rate    rate.Limit
	burst   int
	mu      sync.Mutex
}

func newIPLimiter(requestsPerWindow int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, 2*window),
		rate:    rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:   max(requestsPerWindow/2, 1),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets.Get(ip)
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets.Add(ip, b)
	}
	l.mu.Unlock()
	return b.Allow()
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// RateLimitMiddleware answers 429 once a client exceeds requestsPerWindow.
func RateLimitMiddleware(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newIPLimiter(requestsPerWindow, window)
	retryAfter := strconv.Itoa(max(int(window.Seconds()), 1))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				respond.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --------------------------------------------------------------------------
// Trigger token
// --------------------------------------------------------------------------

// RequireToken rejects requests without "Authorization: Bearer <token>".
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid trigger token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
