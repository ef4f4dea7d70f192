package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how slowly an operation is retried.
// The delay before attempt n+1 is min(Max, Base*2^(n-1)).
type RetryPolicy struct {
	Attempts int           `yaml:"attempts"`
	Base     time.Duration `yaml:"base"`
	Max      time.Duration `yaml:"max"`
	Jitter   float64       `yaml:"jitter"`
}

var (
	imageRetryPolicy   = RetryPolicy{Attempts: 3, Base: time.Second, Max: 10 * time.Second}
	publishRetryPolicy = RetryPolicy{Attempts: 3, Base: 2 * time.Second, Max: 30 * time.Second}
)

// newRetryTimer is overridden in tests. A nil timer makes backoff use a real one.
var newRetryTimer = func() backoff.Timer { return nil }

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Base
	exp.Multiplier = 2
	exp.MaxInterval = p.Max
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, fails permanently or the policy is
// exhausted. The last failure is returned on exhaustion.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	operation := func() error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if logger != nil {
			logger.Warn("retrying", "operation", name, "attempt", attempt, "wait", wait, "error", err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, newRetryTimer())
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// classifyHTTP wraps client errors other than timeouts and rate limits as
// permanent so they are not retried.
func classifyHTTP(err error) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch {
	case httpErr.StatusCode == http.StatusRequestTimeout, httpErr.StatusCode == http.StatusTooManyRequests:
		return err
	case httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
		return Permanent(err)
	}
	return err
}
