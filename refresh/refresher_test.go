package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun_FetchesImmediatelyAndOnTick(t *testing.T) {
	var calls atomic.Int32
	r := New(10*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestPause_SkipsFetches(t *testing.T) {
	var calls atomic.Int32
	r := New(10*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	})

	release := r.Pause()
	assert.True(t, r.Paused())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load(), "no fetch may run while paused")

	release()
	assert.False(t, r.Paused())
	assert.Eventually(t, func() bool { return calls.Load() > 0 },
		time.Second, 5*time.Millisecond)
}

func TestPause_TokensStack(t *testing.T) {
	r := New(time.Minute, func(ctx context.Context) {})

	release1 := r.Pause()
	release2 := r.Pause()
	assert.True(t, r.Paused())

	release1()
	assert.True(t, r.Paused(), "still paused while one token is held")

	release2()
	assert.False(t, r.Paused())
}

func TestPause_ReleaseIsIdempotent(t *testing.T) {
	r := New(time.Minute, func(ctx context.Context) {})

	release := r.Pause()
	release()
	release()
	assert.False(t, r.Paused())

	// A second holder is unaffected by the double release above.
	r.Pause()
	assert.True(t, r.Paused())
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(0, func(ctx context.Context) {})
	assert.Equal(t, DefaultInterval, r.interval)
}
