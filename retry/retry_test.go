package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recordingSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo_SucceedsAfterTwoFailures(t *testing.T) {
	var delays []time.Duration
	r := Retrier{MaxAttempts: 3, BaseDelay: time.Second, Sleep: recordingSleep(&delays)}

	calls := 0
	var got string
	result, err := Value(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	got = result

	assert.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	// Delays double starting from the base: base, base*2.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	r := Retrier{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Sleep: recordingSleep(&delays)}

	wantErr := errors.New("still failing")
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_FirstAttemptImmediate(t *testing.T) {
	var delays []time.Duration
	r := Retrier{MaxAttempts: 3, BaseDelay: time.Second, Sleep: recordingSleep(&delays)}

	err := r.Do(context.Background(), func(ctx context.Context) error { return nil })

	assert.NoError(t, err)
	assert.Empty(t, delays)
}

func TestDo_ZeroValueUsesDefaults(t *testing.T) {
	var delays []time.Duration
	r := Retrier{Sleep: recordingSleep(&delays)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Equal(t, []time.Duration{DefaultBaseDelay, 2 * DefaultBaseDelay}, delays)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}}

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
