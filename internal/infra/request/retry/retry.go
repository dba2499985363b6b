// Package retry wraps a request attempt with bounded, exponentially
// backed-off re-attempts. It is the only retry point of the request layer.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/vietddude/resilient/internal/infra/request/classify"
	"github.com/vietddude/resilient/internal/metrics"
)

// Policy defines retry behavior for one call.
type Policy struct {
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 = uncapped
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	Enabled:     true,
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

// NoRetry performs exactly one attempt.
var NoRetry = Policy{Enabled: false, MaxAttempts: 1}

// Attempts returns how many times the transport may be invoked.
func (p Policy) Attempts() int {
	if !p.Enabled || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay before retry n (zero-indexed): BaseDelay * 2^n.
func (p Policy) Backoff(n int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller executes attempts according to a Policy.
type Controller struct {
	sleep SleepFunc
	log   *slog.Logger
}

// NewController creates a controller that sleeps on the wall clock.
func NewController() *Controller {
	return &Controller{
		sleep: sleepContext,
		log:   slog.Default().With("component", "retry"),
	}
}

// WithSleep replaces the backoff sleeper. Intended for tests.
func (c *Controller) WithSleep(sleep SleepFunc) *Controller {
	c.sleep = sleep
	return c
}

// Execute runs attempt until it succeeds, the classified error is not
// retryable, or the policy's attempts are exhausted. The returned error is
// always a *classify.Error.
func (c *Controller) Execute(
	ctx context.Context,
	policy Policy,
	attempt func(ctx context.Context) error,
) error {
	maxAttempts := policy.Attempts()

	for n := 0; ; n++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}

		// The caller gave up: never retry past its cancellation.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classify.Classify(ctxErr)
		}

		classified := classify.Classify(err)
		if !policy.Enabled || !classified.Retryable || n+1 >= maxAttempts {
			return classified
		}

		delay := policy.Backoff(n)
		c.log.Debug("Retrying request",
			"attempt", n+1,
			"max_attempts", maxAttempts,
			"delay", delay,
			"kind", classified.Kind,
			"error", err,
		)
		metrics.RetriesTotal.WithLabelValues(string(classified.Kind)).Inc()

		if err := c.sleep(ctx, delay); err != nil {
			return classify.Classify(err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
