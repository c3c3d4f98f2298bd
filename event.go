// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

// Priority controls dispatch order within a tick: higher priorities run
// before lower ones, and within one priority dispatch is LIFO.
type Priority int

// Fixed priority lanes, numerically highest runs first.
const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest

	priorityCount = int(PriorityHighest) + 1
)

type kind uint8

const (
	kindIO kind = iota
	kindTimeout
	kindPeriod
	kindIdle
)

// event is the common header embedded by every loop-managed handle. It
// tracks lifecycle (active/pending/destroy) and links the handle into at
// most one priority lane's pending chain at a time.
type event struct {
	loop     *Loop
	kind     kind
	priority Priority

	active  bool
	pending bool
	destroy bool

	pendingNext *event

	// dispatch invokes the handle's user callback; set once at creation by
	// the concrete handle type (TimerHandle/IdleHandle/IOHandle).
	dispatch func()

	// release performs any type-specific teardown once destroy fires after
	// the handle's final pending dispatch. nil for handles with no extra
	// teardown (timers, idles).
	release func()

	userData any
}

// UserData returns the opaque value attached via SetUserData.
func (e *event) UserData() any { return e.userData }

// SetUserData attaches an opaque value to the handle, retrievable from
// within its callback.
func (e *event) SetUserData(v any) { e.userData = v }

// Priority reports the handle's dispatch priority.
func (e *event) Priority() Priority { return e.priority }

// Active reports whether the handle is currently registered with the loop.
func (e *event) Active() bool { return e.active }

// markActive registers the handle with the loop's active-handle accounting.
// Mirrors hloop.c's EVENT_ADD macro.
func (e *event) markActive(l *Loop) {
	e.loop = l
	e.active = true
	l.nactives++
}

// markInactive removes the handle from active accounting without freeing
// it. Mirrors hloop.c's EVENT_INACTIVE macro (used by hio_del, which keeps
// the IO handle around for reuse).
func (e *event) markInactive() {
	if !e.active {
		return
	}
	e.active = false
	if e.loop != nil {
		e.loop.nactives--
	}
}

// markPending pushes the handle onto its priority lane's head. A handle
// already pending is never double-queued in the same tick.
func (e *event) markPending() {
	if e.pending {
		return
	}
	e.pending = true
	l := e.loop
	e.pendingNext = l.pendings[e.priority]
	l.pendings[e.priority] = e
	l.npendings++
}

// markDestroy flips the handle inactive (if still active) and arms the
// destroy flag so the pending dispatcher releases it after its next (and
// final) callback. Idempotent: calling it twice on an already-destroyed
// handle is a no-op, per spec's "timer_del is idempotent" decision.
func (e *event) markDestroy() {
	if e.destroy {
		return
	}
	e.markInactive()
	e.destroy = true
}
