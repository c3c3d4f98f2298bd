// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import "container/list"

// idleList is a container/list-backed registry of idle handles. Grounded on
// socket515-gaio/watcher.go's use of container/list for per-fd queues;
// hloop.c uses an intrusive doubly-linked list for the same purpose
// (spec.md §4.3).
type idleList struct {
	l *list.List
}

func newIdleList() idleList {
	return idleList{l: list.New()}
}

func (il *idleList) pushBack(idle *IdleHandle) {
	idle.elem = il.l.PushBack(idle)
}

func (il *idleList) remove(idle *IdleHandle) {
	if idle.elem != nil {
		il.l.Remove(idle.elem)
		idle.elem = nil
	}
}

// walk visits every idle handle. Deletion mid-walk is safe because the next
// element is captured before fn may unlink the current one. Removal is not
// deferred: delIdle unlinks the node as soon as it is called.
func (il *idleList) walk(fn func(*IdleHandle)) {
	for e := il.l.Front(); e != nil; {
		next := e.Next()
		idle := e.Value.(*IdleHandle)
		fn(idle)
		e = next
	}
}
