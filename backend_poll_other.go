// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build !linux && !windows

package evloop

import "golang.org/x/sys/unix"

// pollBackend is the darwin/bsd fallback Backend, built on poll(2) via
// golang.org/x/sys/unix. It rebuilds its fd set on every call, which is
// the right tradeoff for a portable fallback rather than the linux
// fast-path (spec.md §6.1).
type pollBackend struct {
	loop *Loop
	subs map[int]IOEvents
}

func newDefaultBackend() Backend {
	return &pollBackend{subs: make(map[int]IOEvents)}
}

func (b *pollBackend) Init(l *Loop) error {
	b.loop = l
	return nil
}

func (b *pollBackend) AddEvent(fd int, events IOEvents) error {
	b.subs[fd] = b.subs[fd] | events
	return nil
}

func (b *pollBackend) DelEvent(fd int, events IOEvents) error {
	remaining := b.subs[fd] &^ events
	if remaining == 0 {
		delete(b.subs, fd)
	} else {
		b.subs[fd] = remaining
	}
	return nil
}

func (b *pollBackend) PollEvents(timeoutMs int) (int, error) {
	if len(b.subs) == 0 {
		msleep(timeoutMs)
		return 0, nil
	}
	fds := make([]unix.PollFd, 0, len(b.subs))
	order := make([]int, 0, len(b.subs))
	for fd, ev := range b.subs {
		var events int16
		if ev&EventRead != 0 {
			events |= unix.POLLIN
		}
		if ev&EventWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		io := b.loop.ios.get(order[i])
		if io == nil {
			continue
		}
		var re IOEvents
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			re |= EventRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			re |= EventWrite
		}
		io.revents = re
		io.markPending()
		count++
	}
	return n, nil
}

func (b *pollBackend) Cleanup() error {
	b.subs = make(map[int]IOEvents)
	return nil
}
