// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

// IOEvents is a subscription/readiness bitmask for an IO handle.
type IOEvents uint8

const (
	EventRead IOEvents = 1 << iota
	EventWrite
)

const AllEvents = EventRead | EventWrite

// Backend is the pluggable OS readiness multiplexer abstraction (spec.md
// §6.1). The loop owns exactly one backend instance, lazily initialized on
// the first AddEvent call.
type Backend interface {
	// Init is called lazily before the first AddEvent.
	Init(loop *Loop) error
	// AddEvent arms the given bits for fd.
	AddEvent(fd int, events IOEvents) error
	// DelEvent disarms the given bits for fd.
	DelEvent(fd int, events IOEvents) error
	// PollEvents blocks up to timeoutMs milliseconds, then for each ready
	// fd sets revents on its IOHandle and pushes it to the pending queue.
	// Returns the number of ready descriptors, or an error (treated as
	// zero events by the loop, per spec.md §7).
	PollEvents(timeoutMs int) (int, error)
	// Cleanup releases backend resources.
	Cleanup() error
}
