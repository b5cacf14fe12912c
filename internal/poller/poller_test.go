package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerTicksAtFixedRate(t *testing.T) {
	var ticks atomic.Int32
	p := New("test", 20*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	p.Start()
	time.Sleep(150 * time.Millisecond)
	p.Stop()

	n := ticks.Load()
	require.GreaterOrEqual(t, n, int32(3))
	after := ticks.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
}

func TestPollerSurvivesFetchErrors(t *testing.T) {
	var ticks atomic.Int32
	p := New("test", 20*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("backend down")
	})

	p.Start()
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, ticks.Load(), int32(2), "schedule keeps running through errors")
}

func TestPollerSlowFetchDoesNotDelaySchedule(t *testing.T) {
	var ticks atomic.Int32
	p := New("test", 20*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		// Slower than the interval; ticks must still fire at the fixed rate.
		time.Sleep(80 * time.Millisecond)
		return nil
	})

	p.Start()
	time.Sleep(150 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, ticks.Load(), int32(4))
}

func TestPollerStartStopIdempotent(t *testing.T) {
	p := New("test", 20*time.Millisecond, func(ctx context.Context) error { return nil })

	p.Start()
	p.Start()
	p.Stop()
	p.Stop()

	// Restart after Stop works.
	var ticks atomic.Int32
	p2 := New("test2", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})
	p2.Start()
	time.Sleep(50 * time.Millisecond)
	p2.Stop()
	p2.Start()
	time.Sleep(50 * time.Millisecond)
	p2.Stop()
	assert.GreaterOrEqual(t, ticks.Load(), int32(4))
}

func TestPollerDefaultInterval(t *testing.T) {
	p := New("test", 0, func(ctx context.Context) error { return nil })
	assert.Equal(t, DefaultInterval, p.interval)
	p = New("test", -time.Second, func(ctx context.Context) error { return nil })
	assert.Equal(t, DefaultInterval, p.interval)
}
