package rserr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{CodeInvalidInput, KindValidation},
		{CodeStoreNotFound, KindNotFound},
		{CodeVersionState, KindConflict},
		{CodeQuotaExceeded, KindCapacity},
		{CodeThrottled, KindThrottled},
		{CodeEngineUnavailable, KindTransient},
		{CodeInternal, KindInternal},
		{"garbage", KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, kindFromCode(tt.code))
		})
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeIndexFailed, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeIndexFailed, CodeOf(err))
	assert.Equal(t, KindInternal, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, CodeIndexFailed, CodeOf(wrapped))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(Transient(CodeEngineUnavailable, errors.New("down"))))
	assert.True(t, IsRetryable(Newf(CodeThrottled, "busy")))
	assert.False(t, IsRetryable(Validation("bad input")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return Transient(CodeEngineUnavailable, errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryAbortsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return Validation("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return Transient(CodeEngineUnavailable, errors.New("x"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, Transient(CodeEngineUnavailable, errors.New("once"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3), WithResetTimeout(20*time.Millisecond))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("fail") })
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	// After the reset timeout the circuit half-opens and a success
	// closes it.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteWithFallback(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1))

	v, err := ExecuteWithFallback(cb,
		func() (string, error) { return "", errors.New("down") },
		func() (string, error) { return "fallback", nil })
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	// Circuit is now open; fallback serves directly.
	v, err = ExecuteWithFallback(cb,
		func() (string, error) { return "primary", nil },
		func() (string, error) { return "fallback", nil })
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}
