// Package retry re-runs failing document store reads with a fixed delay.
//
// The policy is deliberately plain: a fixed number of attempts, a fixed pause between them, no jitter, no backoff and
// no classification of errors. Every failure is retried the same way until attempts run out, then the last error is
// returned.

package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

var attemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "retry_attempts_total",
	Help: "Total number of attempts made by retried operations.",
}, []string{"operation", "outcome" /* ok | error */})

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	Attempts int           // Total number of attempts, including the first one.
	Delay    time.Duration // Pause between two attempts.
}

// DefaultPolicy makes 3 attempts one second apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Do runs `op` until it succeeds or the policy's attempts are exhausted. `name` labels logs and metrics.
// Cancelling `ctx` stops waiting between attempts; an attempt that already started is not interrupted by Do.
func Do[T any](ctx context.Context, clock clockwork.Clock, policy Policy, name string,
	op func(ctx context.Context) (T, error)) (T, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := max(policy.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			attemptsMetric.WithLabelValues(name, "ok").Inc()
			return value, nil
		}
		attemptsMetric.WithLabelValues(name, "error").Inc()
		lastErr = err
		if attempt == attempts {
			break
		}
		slog.Debug("Operation failed, retrying.", "operation", name, "attempt", attempt, "error", err)
		select {
		case <-clock.After(policy.Delay):
		case <-ctx.Done():
			return *new(T), fmt.Errorf("%s: gave up after %d attempts: %w", name, attempt, ctx.Err())
		}
	}
	return *new(T), fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
