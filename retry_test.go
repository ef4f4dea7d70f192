package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func useRecordingTimer(t *testing.T) *recordingTimer {
	t.Helper()
	timer := &recordingTimer{c: make(chan time.Time, 16)}
	prev := newRetryTimer
	newRetryTimer = func() backoff.Timer { return timer }
	t.Cleanup(func() { newRetryTimer = prev })
	return timer
}

func TestRetrySucceedsAfterTwoFailures(t *testing.T) {
	timer := useRecordingTimer(t)
	policy := RetryPolicy{Attempts: 3, Base: time.Second, Max: 10 * time.Second}

	calls := 0
	got, err := Retry(context.Background(), policy, nil, "flaky", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, timer.waits, 2)
	assert.Equal(t, time.Second, timer.waits[0])
	assert.Equal(t, 2*time.Second, timer.waits[1])
	assert.GreaterOrEqual(t, timer.waits[1], timer.waits[0])
}

func TestRetryReturnsLastFailure(t *testing.T) {
	timer := useRecordingTimer(t)
	policy := RetryPolicy{Attempts: 3, Base: time.Second, Max: 10 * time.Second}

	calls := 0
	_, err := Retry(context.Background(), policy, nil, "broken", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("failure " + string(rune('0'+calls)))
	})

	require.Error(t, err)
	assert.Equal(t, "failure 3", err.Error())
	assert.Equal(t, 3, calls)
	assert.Len(t, timer.waits, 2)
}

func TestRetryCapsDelay(t *testing.T) {
	timer := useRecordingTimer(t)
	policy := RetryPolicy{Attempts: 5, Base: 2 * time.Second, Max: 5 * time.Second}

	_, _ = Retry(context.Background(), policy, nil, "capped", func(context.Context) (bool, error) {
		return false, errors.New("nope")
	})

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, timer.waits)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	timer := useRecordingTimer(t)
	sentinel := errors.New("bad request")

	calls := 0
	_, err := Retry(context.Background(), imageRetryPolicy, nil, "permanent", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestRetrySingleAttempt(t *testing.T) {
	useRecordingTimer(t)
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 0}, nil, "once", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 3, Base: time.Hour, Max: time.Hour}, nil, "cancelled", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"not found", http.StatusNotFound, true},
		{"request timeout", http.StatusRequestTimeout, false},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTP(&HTTPError{StatusCode: tt.status, URL: "https://example.com"})
			var perm *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &perm))
		})
	}

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, classifyHTTP(plain))
}
