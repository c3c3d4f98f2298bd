// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import "time"

// clock is the loop's monotonic/wall-clock pair. cur is refreshed at tick
// start and again after the backend poll, so all timer math within a tick
// uses one cached reading instead of hammering the OS clock (spec.md §5
// "Clock").
type clock struct {
	epoch time.Time // reference instant for hrtime, monotonic
	cur   uint64    // cached hrtime in microseconds
}

func newClock() clock {
	return clock{epoch: time.Now()}
}

// hrtimeUsec returns the current monotonic microsecond reading, derived
// from time.Now()'s monotonic component the same way every timer deadline
// in this package is computed.
func (c *clock) hrtimeUsec() uint64 {
	return uint64(time.Since(c.epoch) / time.Microsecond)
}

// refresh caches a new hrtime reading and returns it.
func (c *clock) refresh() uint64 {
	c.cur = c.hrtimeUsec()
	return c.cur
}

// now returns the last cached hrtime reading without touching the clock.
func (c *clock) now() uint64 {
	return c.cur
}
