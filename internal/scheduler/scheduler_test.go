package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNextTickAlignment(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Minute, Align: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 9, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC), s.nextTick(onBoundary))

	s.opts.Align = false
	assert.Equal(t, now.Add(5*time.Minute), s.nextTick(now))
}

func TestRunInvokesJobUntilCancelled(t *testing.T) {
	s, err := New(Options{Name: "test", Interval: 10 * time.Millisecond, Immediate: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("job errors are logged only")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("job must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
