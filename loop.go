// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package evloop implements a single-threaded, cooperative event loop that
// multiplexes IO readiness, timers (one-shot, interval, calendar-periodic),
// and idle handlers onto one scheduler, plus a small socket convenience
// layer on top of it.
//
// A Loop is not safe for concurrent use: every handle API must be called
// from the goroutine running Run.
package evloop

import (
	"time"

	"github.com/rs/zerolog"
)

// Status is the loop's run state.
type Status int

const (
	StatusStop Status = iota
	StatusRunning
	StatusPause
)

const (
	defaultPauseIntervalMs = 10
	defaultMaxBlockTimeMs  = 1000
)

// Loop is the event loop. Create one with NewLoop, register handles with
// AddTimer/AddPeriodTimer/AddIdle/IOAdd (or the socket convenience
// helpers), then call Run.
type Loop struct {
	status Status

	nactives int
	nios     int
	ntimers  int
	nidles   int
	npendings int

	pendings [priorityCount]*event

	idles idleList
	timers timerHeap
	ios    ioTable

	backend     Backend
	backendInit bool

	clk clock

	startWall time.Time
	loopCnt   uint64

	pauseIntervalMs int
	maxBlockTimeMs  int

	log zerolog.Logger
}

// NewLoop constructs a Loop. The IO watcher backend is lazily initialized
// on the first call that registers an fd (spec.md §6.1 "init — lazy, on
// first add_event").
func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		status:          StatusStop,
		idles:           newIdleList(),
		timers:          timerHeap{},
		ios:             newIOTable(),
		clk:             newClock(),
		startWall:       time.Now(),
		pauseIntervalMs: defaultPauseIntervalMs,
		maxBlockTimeMs:  defaultMaxBlockTimeMs,
		log:             defaultLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.backend == nil {
		l.backend = newDefaultBackend()
	}
	return l
}

// NActives, NIOs, NTimers, NIdles report the loop's live handle counts
// (spec.md §3 invariants: nactives == nios+ntimers+nidles).
func (l *Loop) NActives() int { return l.nactives }
func (l *Loop) NIOs() int     { return l.nios }
func (l *Loop) NTimers() int  { return l.ntimers }
func (l *Loop) NIdles() int   { return l.nidles }
func (l *Loop) Status() Status { return l.status }

func (l *Loop) ensureBackend() error {
	if l.backendInit {
		return nil
	}
	if err := l.backend.Init(l); err != nil {
		return err
	}
	l.backendInit = true
	return nil
}

// Run enters the tick loop and blocks until Stop is called or there is no
// more active work (spec.md §4.1.5).
func (l *Loop) Run() {
	l.loopCnt = 0
	l.status = StatusRunning
	for l.status != StatusStop {
		if l.status == StatusPause {
			msleep(l.pauseIntervalMs)
			l.clk.refresh()
			continue
		}
		l.loopCnt++
		if l.nactives == 0 {
			break
		}
		l.processEvents()
	}
	l.status = StatusStop
	l.cleanup()
}

// Stop requests the loop to exit after its current iteration.
func (l *Loop) Stop() { l.status = StatusStop }

// Pause suspends dispatch; the loop keeps sleeping PauseInterval per
// iteration until Resume is called.
func (l *Loop) Pause() {
	if l.status == StatusRunning {
		l.status = StatusPause
	}
}

// Resume undoes a prior Pause.
func (l *Loop) Resume() {
	if l.status == StatusPause {
		l.status = StatusRunning
	}
}

// processEvents runs one tick: compute block time, poll IO, process
// expired timers, process idles (only if no pendings accumulated yet), then
// drain the pending queue. Mirrors hloop.c's hloop_process_events exactly
// (spec.md §4.1.1).
func (l *Loop) processEvents() int {
	var nios, ntimers, nidles int

	blocktimeMs := l.maxBlockTimeMs
	l.clk.refresh()

	skipPoll := false
	if root := l.timers.peek(); root != nil {
		now := l.clk.now()
		if root.nextFireUsec <= now {
			skipPoll = true
		} else {
			deltaUs := int64(root.nextFireUsec - now)
			blocktimeMs = int(deltaUs/1000) + 1
			if blocktimeMs > l.maxBlockTimeMs {
				blocktimeMs = l.maxBlockTimeMs
			}
		}
	}

	if !skipPoll {
		if l.nios > 0 {
			if err := l.ensureBackend(); err != nil {
				l.log.Warn().Err(err).Msg("backend init failed")
			} else {
				n, err := l.backend.PollEvents(blocktimeMs)
				if err != nil {
					l.log.Warn().Err(err).Msg("poll_events error")
					n = 0
				}
				nios = n
			}
		} else {
			msleep(blocktimeMs)
		}
		l.clk.refresh()
	}

	if l.ntimers > 0 {
		ntimers = l.processTimers()
	}

	if l.npendings == 0 && l.nidles > 0 {
		nidles = l.processIdles()
	}

	ncbs := l.processPendings()

	l.log.Debug().
		Int("blocktime_ms", blocktimeMs).
		Int("nios", nios).
		Int("ntimers", ntimers).
		Int("nidles", nidles).
		Int("nactives", l.nactives).
		Int("ncbs", ncbs).
		Msg("tick")

	return ncbs
}

// processTimers pops every timer whose deadline has elapsed, marks it
// pending, and re-inserts it into the heap if it is still active (spec.md
// §4.1.2).
func (l *Loop) processTimers() int {
	n := 0
	now := l.clk.now()
	for {
		t := l.timers.peek()
		if t == nil || t.nextFireUsec > now {
			break
		}
		l.timers.dequeue()
		if !t.active {
			// Deleted from within its own callback on a prior tick: its
			// next_fire was forced to "now" so it would surface here, but it
			// must not dispatch again.
			continue
		}
		if t.repeat != RepeatInfinite {
			t.repeat--
			if t.repeat == 0 {
				l.delTimer(t)
			}
		}
		t.markPending()
		n++
		if t.active {
			t.advance(l)
			l.timers.insert(t)
		}
	}
	return n
}

// processIdles decrements every idle's repeat count and marks it pending,
// deleting handles whose repeat has reached zero (spec.md §4.1.3).
func (l *Loop) processIdles() int {
	n := 0
	l.idles.walk(func(idle *IdleHandle) {
		if idle.repeat != RepeatInfinite {
			idle.repeat--
		}
		if idle.repeat == 0 {
			l.delIdle(idle)
		}
		idle.markPending()
		n++
	})
	return n
}

// processPendings drains every priority lane from highest to lowest,
// invoking each pending handle's callback exactly once and releasing any
// handle marked for destruction (spec.md §4.1.4).
func (l *Loop) processPendings() int {
	if l.npendings == 0 {
		return 0
	}
	ncbs := 0
	for i := priorityCount - 1; i >= 0; i-- {
		next := l.pendings[i]
		for next != nil {
			cur := next
			if cur.pending && cur.dispatch != nil {
				cur.dispatch()
				ncbs++
			}
			next = cur.pendingNext
			cur.pending = false
			cur.pendingNext = nil
			if cur.destroy && cur.release != nil {
				cur.release()
			}
		}
		l.pendings[i] = nil
	}
	l.npendings = 0
	return ncbs
}

// cleanup releases every handle and the backend after Run exits (spec.md
// §4.1.2 "hloop_cleanup").
func (l *Loop) cleanup() {
	for i := range l.pendings {
		l.pendings[i] = nil
	}
	l.npendings = 0

	l.idles.walk(func(idle *IdleHandle) {})
	l.idles = newIdleList()
	l.nidles = 0

	l.timers = timerHeap{}
	l.ntimers = 0

	l.ios.forEach(func(io *IOHandle) {
		// spec.md §5: the loop never closes an fd it did not open, except
		// IO handles of kind TCP/UDP/IP/SOCKET; STDIO fds are left open.
		if io.ioType.isSocket() {
			_ = io.Close()
		}
	})
	l.ios = newIOTable()
	l.nios = 0

	if l.backendInit {
		if err := l.backend.Cleanup(); err != nil {
			l.log.Warn().Err(err).Msg("backend cleanup error")
		}
	}
}

func msleep(ms int) {
	if ms <= 0 {
		return
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
