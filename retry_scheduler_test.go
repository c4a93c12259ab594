package gobtcmini

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestRetrySchedulerReplacesPendingTask(t *testing.T) {
	t.Parallel()

	ticks := make(chan time.Duration, 4)
	testClock := clock.NewTestClockWithTickSignal(testEpoch, ticks)
	scheduler := newRetryScheduler(testClock)
	t.Cleanup(scheduler.Stop)

	var first, second atomic.Int32
	done := make(chan struct{})
	scheduler.Schedule("addr", time.Minute, func() { first.Add(1) })
	scheduler.Schedule("addr", time.Minute, func() {
		second.Add(1)
		close(done)
	})
	<-ticks
	<-ticks
	require.True(t, scheduler.Pending("addr"))

	testClock.SetTime(testEpoch.Add(time.Minute))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("replacement task never ran")
	}

	require.Zero(t, first.Load())
	require.EqualValues(t, 1, second.Load())
	require.Eventually(t, func() bool { return !scheduler.Pending("addr") }, time.Second, 5*time.Millisecond)
}

func TestRetrySchedulerCancel(t *testing.T) {
	t.Parallel()

	ticks := make(chan time.Duration, 1)
	testClock := clock.NewTestClockWithTickSignal(testEpoch, ticks)
	scheduler := newRetryScheduler(testClock)

	var ran atomic.Bool
	scheduler.Schedule("addr", time.Second, func() { ran.Store(true) })
	<-ticks

	require.True(t, scheduler.Cancel("addr"))
	require.False(t, scheduler.Cancel("addr"))
	require.False(t, scheduler.Pending("addr"))

	testClock.SetTime(testEpoch.Add(time.Hour))
	scheduler.Stop()
	require.False(t, ran.Load())
}

func TestRetrySchedulerIgnoresScheduleAfterStop(t *testing.T) {
	t.Parallel()

	scheduler := newRetryScheduler(clock.NewTestClock(testEpoch))
	scheduler.Stop()
	scheduler.Schedule("addr", 0, func() { t.Errorf("task ran after stop") })
	require.False(t, scheduler.Pending("addr"))
	scheduler.Stop()
}
