// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPriorityInterleaveTimerBeforeIdle covers S2: a HIGHEST-priority timer
// firing before a LOWEST idle, in the order their callbacks actually run.
func TestPriorityInterleaveTimerBeforeIdle(t *testing.T) {
	l := NewLoop(WithMaxBlockTime(5 * time.Millisecond))
	var order []string

	l.AddIdle(func(*IdleHandle) { order = append(order, "idle") }, 1)
	_, err := l.AddTimer(func(*TimerHandle) { order = append(order, "timer") }, 1, 1)
	require.NoError(t, err)

	l.Run()

	require.Equal(t, []string{"timer", "idle"}, order)
}

// TestNactivesEqualsSumOfHandleCounts covers invariant 4: nactives ==
// nios + ntimers + nidles at every quiescent point (checked here between
// ticks, with no IO handles registered).
func TestNactivesEqualsSumOfHandleCounts(t *testing.T) {
	l := NewLoop()
	_, err := l.AddTimer(func(*TimerHandle) {}, 1000, RepeatInfinite)
	require.NoError(t, err)
	l.AddIdle(func(*IdleHandle) {}, RepeatInfinite)
	l.AddIdle(func(*IdleHandle) {}, RepeatInfinite)

	assert.Equal(t, l.NIOs()+l.NTimers()+l.NIdles(), l.NActives())
	assert.Equal(t, 3, l.NActives())
}

// TestNpendingsZeroAtTickStart covers invariant 1: the pending queue is
// always fully drained by the end of processEvents, so it reads zero at the
// start of the next tick.
func TestNpendingsZeroAtTickStart(t *testing.T) {
	l := NewLoop(WithMaxBlockTime(5 * time.Millisecond))
	l.AddIdle(func(*IdleHandle) {}, 5)

	for i := 0; i < 5; i++ {
		require.Equal(t, 0, l.npendings, "npendings must be zero at the start of every tick")
		l.processEvents()
	}
}

// TestStopExitsOnNextIteration covers the Run/Stop status transition: an
// infinite idle keeps nactives above zero, but Stop still ends Run.
func TestStopExitsOnNextIteration(t *testing.T) {
	l := NewLoop(WithMaxBlockTime(2 * time.Millisecond))
	var ticks int
	l.AddIdle(func(*IdleHandle) {
		ticks++
		if ticks == 3 {
			l.Stop()
		}
	}, RepeatInfinite)

	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	assert.Equal(t, StatusStop, l.Status())
	assert.GreaterOrEqual(t, ticks, 3)
}

// TestPauseResume exercises the Pause/Resume status machine directly (no
// second goroutine, since §5 confines handle/loop-status APIs to the
// goroutine running Run): Pause only takes effect from RUNNING, Resume only
// from PAUSE, and dispatch continues normally afterwards.
func TestPauseResume(t *testing.T) {
	l := NewLoop(WithPauseInterval(time.Millisecond))
	var fired int
	l.AddIdle(func(*IdleHandle) { fired++ }, RepeatInfinite)

	l.status = StatusRunning
	l.processEvents()
	assert.Equal(t, 1, fired)

	l.Pause()
	require.Equal(t, StatusPause, l.Status())
	l.Pause() // no-op outside RUNNING
	assert.Equal(t, StatusPause, l.Status())

	l.Resume()
	require.Equal(t, StatusRunning, l.Status())

	l.processEvents()
	assert.Equal(t, 2, fired)
}
