package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/config"
)

type attemptFunc func(ctx context.Context) (Extraction, error)

// retrier runs one card's extraction up to maxAttempts times. Only errors are
// retried; a rejection is a final answer.
type retrier struct {
	maxAttempts int
	base        time.Duration
	max         time.Duration
	metrics     *Metrics
}

func newRetrier(cfg *config.Config, metrics *Metrics) *retrier {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &retrier{
		maxAttempts: attempts,
		base:        cfg.RetryBackoff,
		max:         cfg.RetryBackoffMax,
		metrics:     metrics,
	}
}

// Do returns the extraction and the number of retries it took. When every
// attempt fails the error is an *ExtractionExhausted naming index.
func (r *retrier) Do(ctx context.Context, index int, fn attemptFunc) (Extraction, int, error) {
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		attempts = attempt
		ext, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("card retry succeeded",
					slog.Int("index", index),
					slog.Int("retries", attempt-1),
				)
			}
			return ext, attempt - 1, nil
		}
		lastErr = err

		slog.Warn("card extraction attempt failed",
			slog.Int("index", index),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.maxAttempts),
			slog.Any("error", err),
		)
		if attempt == r.maxAttempts || ctx.Err() != nil {
			break
		}

		r.metrics.IncRetries()
		if err := sleepContext(ctx, r.backoff(attempt)); err != nil {
			break
		}
	}
	return Extraction{}, attempts - 1, &ExtractionExhausted{Index: index, Attempts: attempts, Err: lastErr}
}

func (r *retrier) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if r.base <= 0 {
		return 0
	}

	delay := r.base * time.Duration(1<<(attempt-1))
	if r.max > 0 && delay > r.max {
		delay = r.max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
