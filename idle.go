// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import "container/list"

// IdleCallback is invoked when an idle handler fires.
type IdleCallback func(*IdleHandle)

// IdleHandle fires whenever the loop has no other pressing work, up to
// repeat times (spec.md §3 "Idle").
type IdleHandle struct {
	*event

	repeat uint32
	elem   *list.Element
	cb     IdleCallback
}

// AddIdle registers an idle handler, appended to the idle list and
// dispatched at PriorityLowest whenever a tick reaches process_idles
// (spec.md §4.3).
func (l *Loop) AddIdle(cb IdleCallback, repeat uint32) *IdleHandle {
	idle := &IdleHandle{
		event:  &event{kind: kindIdle, priority: PriorityLowest},
		repeat: repeat,
		cb:     cb,
	}
	idle.dispatch = func() {
		if idle.cb != nil {
			idle.cb(idle)
		}
	}
	l.idles.pushBack(idle)
	idle.markActive(l)
	l.nidles++
	return idle
}

// DelIdle deactivates an idle handler and unlinks it immediately. Safe to
// call from within the idle's own callback: callbacks run from
// process_pendings, after the idle-list walk of process_idles has finished
// (spec.md §4.3).
func (l *Loop) DelIdle(idle *IdleHandle) {
	l.delIdle(idle)
}

func (l *Loop) delIdle(idle *IdleHandle) {
	if !idle.active {
		return
	}
	l.nidles--
	idle.markDestroy()
	l.idles.remove(idle)
}
