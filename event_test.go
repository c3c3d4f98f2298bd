// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarkPendingOnlyOncePerTick exercises invariant 2 from spec.md §8:
// a handle marked pending twice before dispatch still appears exactly once
// on its lane.
func TestMarkPendingOnlyOncePerTick(t *testing.T) {
	l := NewLoop()
	e := &event{loop: l, priority: PriorityNormal}
	e.markPending()
	e.markPending()

	count := 0
	for cur := l.pendings[PriorityNormal]; cur != nil; cur = cur.pendingNext {
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, l.npendings)
}

// TestMarkDestroyIdempotent covers the DESIGN.md open-question resolution:
// deleting an already-destroyed handle twice is a no-op.
func TestMarkDestroyIdempotent(t *testing.T) {
	l := NewLoop()
	e := &event{loop: l, priority: PriorityLow}
	e.markActive(l)
	require.True(t, e.active)
	require.Equal(t, 1, l.nactives)

	e.markDestroy()
	assert.False(t, e.active)
	assert.True(t, e.destroy)
	assert.Equal(t, 0, l.nactives)

	e.markDestroy()
	assert.Equal(t, 0, l.nactives, "second markDestroy must not double-decrement")
}

// TestPendingLaneOrderIsLIFO matches spec.md §4.1.4: within one priority
// lane, dispatch order is LIFO (last marked pending runs first).
func TestPendingLaneOrderIsLIFO(t *testing.T) {
	l := NewLoop()
	a := &event{loop: l, priority: PriorityNormal}
	b := &event{loop: l, priority: PriorityNormal}
	c := &event{loop: l, priority: PriorityNormal}

	var order []string
	a.dispatch = func() { order = append(order, "a") }
	b.dispatch = func() { order = append(order, "b") }
	c.dispatch = func() { order = append(order, "c") }

	a.markPending()
	b.markPending()
	c.markPending()

	l.processPendings()
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Equal(t, 0, l.npendings)
}
