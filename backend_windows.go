// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build windows

package evloop

// windowsBackend exists only to fail fast: Windows IOCP completion
// bookkeeping is explicitly out of scope (spec.md §1, §5 "Thread
// affinity"/Non-goals), so a loop that never registers an fd still works
// (timers/idles only), but the first AddEvent call reports
// ErrBackendUnsupported instead of silently doing nothing.
type windowsBackend struct{}

func newDefaultBackend() Backend { return &windowsBackend{} }

func (b *windowsBackend) Init(*Loop) error                     { return ErrBackendUnsupported }
func (b *windowsBackend) AddEvent(int, IOEvents) error          { return ErrBackendUnsupported }
func (b *windowsBackend) DelEvent(int, IOEvents) error          { return ErrBackendUnsupported }
func (b *windowsBackend) PollEvents(int) (int, error)           { return 0, ErrBackendUnsupported }
func (b *windowsBackend) Cleanup() error                        { return nil }
