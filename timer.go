// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RepeatInfinite marks a timer or idle handler that re-fires forever until
// explicitly deleted (spec.md §3 "INFINITE repeat").
const RepeatInfinite = ^uint32(0)

// TimerCallback is invoked when a timer fires.
type TimerCallback func(*TimerHandle)

type timerKind uint8

const (
	timerOneShot timerKind = iota
	timerPeriod
)

// TimerHandle is a one-shot/interval timer (kindTimeout) or a
// calendar-periodic timer (kindPeriod). See spec.md §3 "Timer".
type TimerHandle struct {
	*event

	heapIndex    int
	nextFireUsec uint64
	repeat       uint32

	timerKind  timerKind
	intervalMs uint64 // one-shot/interval only

	minute, hour, day, week, month int8 // period only, -1 == wildcard
	schedule                       cron.Schedule

	cb TimerCallback
}

// AddTimer registers a one-shot or repeating timer that fires every
// timeoutMs milliseconds, up to repeat times (RepeatInfinite for forever).
// Rejects timeoutMs == 0 with no side effects (spec.md §4.2).
func (l *Loop) AddTimer(cb TimerCallback, timeoutMs uint64, repeat uint32) (*TimerHandle, error) {
	if timeoutMs == 0 {
		return nil, ErrZeroTimeout
	}
	l.clk.refresh()
	t := &TimerHandle{
		event:      &event{kind: kindTimeout, priority: PriorityHighest},
		repeat:     repeat,
		timerKind:  timerOneShot,
		intervalMs: timeoutMs,
		cb:         cb,
	}
	t.nextFireUsec = l.clk.now() + timeoutMs*1000
	t.dispatch = func() {
		if t.cb != nil {
			t.cb(t)
		}
	}
	t.markActive(l)
	l.timers.insert(t)
	l.ntimers++
	return t, nil
}

// ResetTimer restarts a one-shot/interval timer's deadline from now. Only
// valid for non-period timers that are not currently pending (spec.md
// §4.2).
func (l *Loop) ResetTimer(t *TimerHandle) {
	if t.timerKind != timerOneShot || t.pending {
		return
	}
	l.timers.removeArbitrary(t)
	l.clk.refresh()
	t.nextFireUsec = l.clk.now() + t.intervalMs*1000
	l.timers.insert(t)
}

// AddPeriodTimer registers a calendar-periodic timer: it fires at the next
// wall-clock instant matching minute/hour/day/week/month, where a negative
// field means "any". Field ranges: minute<=59, hour<=23, day<=31, week<=6,
// month<=12 (spec.md §4.2).
func (l *Loop) AddPeriodTimer(cb TimerCallback, minute, hour, day, week, month int8, repeat uint32) (*TimerHandle, error) {
	if minute > 59 || hour > 23 || day > 31 || week > 6 || month > 12 {
		return nil, ErrInvalidPeriod
	}
	sched, err := cronScheduleFor(minute, hour, day, week, month)
	if err != nil {
		return nil, err
	}
	l.clk.refresh()
	t := &TimerHandle{
		event:     &event{kind: kindPeriod, priority: PriorityHigh},
		repeat:    repeat,
		timerKind: timerPeriod,
		minute:    minute, hour: hour, day: day, week: week, month: month,
		schedule: sched,
		cb:       cb,
	}
	t.nextFireUsec = l.clk.now() + usecUntilNext(sched)
	t.dispatch = func() {
		if t.cb != nil {
			t.cb(t)
		}
	}
	t.markActive(l)
	l.timers.insert(t)
	l.ntimers++
	return t, nil
}

// DelTimer deactivates a timer. Idempotent: calling it again on an
// already-destroyed timer is a no-op (spec.md §9 open question, resolved in
// DESIGN.md). The timer is not removed from the heap here: its next_fire is
// forced to "now" so the next processTimers pops and discards it without
// dispatching it. A timer already pending in the current tick still runs
// its callback once (mirrors hloop.c's htimer_del note).
func (l *Loop) DelTimer(t *TimerHandle) {
	l.delTimer(t)
}

func (l *Loop) delTimer(t *TimerHandle) {
	if !t.active {
		return
	}
	l.ntimers--
	t.markDestroy()
	l.clk.refresh()
	t.nextFireUsec = l.clk.now()
	l.timers.fix(t)
}

// advance recomputes a still-active timer's next deadline after it has
// fired, ready for reinsertion into the heap (spec.md §4.1.2).
func (t *TimerHandle) advance(l *Loop) {
	switch t.timerKind {
	case timerOneShot:
		t.nextFireUsec += t.intervalMs * 1000
	case timerPeriod:
		t.nextFireUsec = l.clk.now() + usecUntilNext(t.schedule)
	}
}

func usecUntilNext(sched cron.Schedule) uint64 {
	now := time.Now()
	next := sched.Next(now)
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	return uint64(d / time.Microsecond)
}

// cronScheduleFor translates the five libhv-style calendar fields (-1 ==
// wildcard) into a standard 5-field cron expression and parses it with
// robfig/cron/v3, replacing hloop.c's external calc_next_timeout utility
// (spec.md §4.2, §9).
func cronScheduleFor(minute, hour, day, week, month int8) (cron.Schedule, error) {
	field := func(v int8) string {
		if v < 0 {
			return "*"
		}
		return fmt.Sprintf("%d", v)
	}
	expr := fmt.Sprintf("%s %s %s %s %s", field(minute), field(hour), field(day), field(month), field(week))
	return cron.ParseStandard(expr)
}
