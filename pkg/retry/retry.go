// Package retry runs operations against flaky backends (database startup,
// extraction providers, the HTTP API) with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
)

// Config defines the backoff schedule.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor spreads delays by +/- this fraction.
	JitterFactor float64
}

// DefaultConfig retries 3 times starting at 100ms, doubling up to 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.Multiplier)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func jitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	return time.Duration(float64(delay) + float64(delay)*factor*(rand.Float64()*2-1))
}

// RetryableError lets an error declare whether it is worth retrying.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether err looks transient. Errors implementing
// RetryableError decide for themselves; rate limits and unavailable backends
// are transient; otherwise common network and 5xx messages are matched.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, apperrors.ErrRateLimited) || errors.Is(err, apperrors.ErrBackendUnavailable) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"too many requests",
	"service unavailable",
	"http 500",
	"http 502",
	"http 503",
	"http 504",
}

// Do runs fn until it succeeds, fails permanently, or retries run out.
// Only errors accepted by IsRetryable are retried.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	delay := cfg.InitialDelay
	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, err
		}
		if attempt >= cfg.MaxRetries {
			return result, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		timer := time.NewTimer(jitter(delay, cfg.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
		delay = cfg.next(delay)
	}
}
