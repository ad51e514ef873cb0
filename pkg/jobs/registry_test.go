package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRegistry_ScheduleFiresAfterDelay(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	runs := 0
	r.Schedule("push", time.Minute, func() { runs++ })
	assert.True(t, r.Exists("push"))

	clock.Advance(59 * time.Second)
	assert.Equal(t, 0, runs)

	clock.Advance(time.Second)
	assert.Equal(t, 1, runs)
	assert.False(t, r.Exists("push"), "one-shot job should be gone after running")
}

func TestRegistry_ScheduleReplacesExisting(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	var first, second int
	r.Schedule("push", time.Minute, func() { first++ })
	r.Schedule("push", time.Minute, func() { second++ })

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 0, clock.Pending())
}

func TestRegistry_Cancel(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	runs := 0
	r.Schedule("push", time.Minute, func() { runs++ })
	assert.True(t, r.Cancel("push"))
	assert.False(t, r.Cancel("push"))
	assert.False(t, r.Exists("push"))

	clock.Advance(time.Hour)
	assert.Equal(t, 0, runs)
}

func TestRegistry_ExistsWhileRunning(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	var existed, running bool
	r.Schedule("push", time.Second, func() {
		existed = r.Exists("push")
		running = r.Running("push")
	})

	clock.Advance(time.Second)
	assert.True(t, existed)
	assert.True(t, running)
	assert.False(t, r.Exists("push"))
}

func TestRegistry_SelfRearmingJob(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	runs := 0
	var tick func()
	tick = func() {
		runs++
		r.Schedule("push", time.Minute, tick)
	}
	r.Schedule("push", time.Minute, tick)

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 5, runs)
	assert.True(t, r.Exists("push"))
	assert.False(t, r.Running("push"))
	assert.Equal(t, 1, clock.Pending(), "re-arming must not leave duplicate timers")
}

func TestRegistry_PanickingJobIsRemoved(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	r.Schedule("push", time.Second, func() { panic("boom") })

	assert.Panics(t, func() { clock.Advance(time.Second) })
	assert.False(t, r.Exists("push"))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(NewManualClock(epoch))
	r.Schedule("b", time.Second, func() {})
	r.Schedule("a", time.Second, func() {})
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_SystemClock(t *testing.T) {
	r := NewRegistry(nil)

	var ran atomic.Bool
	done := make(chan struct{})
	r.Schedule("quick", 10*time.Millisecond, func() {
		ran.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	assert.True(t, ran.Load())
}

func TestWatchdog_RestartsMissingJob(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)
	metrics := observability.NewUnregisteredMetrics()

	restarts := 0
	wd := NewWatchdog(r, "push", func() {
		restarts++
		r.Schedule("push", time.Minute, func() {})
	}, WithMetrics(metrics))

	assert.True(t, wd.Check())
	assert.Equal(t, 1, restarts)
	assert.True(t, r.Exists("push"))

	assert.False(t, wd.Check(), "job is registered again, nothing to do")
	assert.Equal(t, 1, restarts)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WatchdogRestartsTotal))
}

func TestWatchdog_DoesNotRestartRunningJob(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock)

	restarts := 0
	wd := NewWatchdog(r, "push", func() { restarts++ })

	r.Schedule("push", time.Second, func() {
		assert.False(t, wd.Check())
	})
	clock.Advance(time.Second)
	assert.Equal(t, 0, restarts)
}

func TestWatchdog_RestartPanicIsContained(t *testing.T) {
	r := NewRegistry(NewManualClock(epoch))
	wd := NewWatchdog(r, "push", func() { panic("restart failed") })

	assert.NotPanics(t, func() { wd.Check() })
}

func TestWatchdog_StartStop(t *testing.T) {
	r := NewRegistry(nil)

	wd := NewWatchdog(r, "push", func() {}, WithSchedule("not a schedule"))
	require.Error(t, wd.Start())

	wd = NewWatchdog(r, "push", func() {}, WithSchedule("@every 1h"))
	require.NoError(t, wd.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, wd.Stop(ctx))
}
