// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package evloop

import "golang.org/x/sys/unix"

// epollBackend is the default Backend on linux, generalizing the teacher's
// internal.Poll epoll wrapper (evio_unix.go) to the four-operation shape
// spec.md §6.1 names.
type epollBackend struct {
	loop   *Loop
	epfd   int
	events []unix.EpollEvent
}

func newDefaultBackend() Backend {
	return &epollBackend{}
}

func (b *epollBackend) Init(l *Loop) error {
	b.loop = l
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	b.epfd = fd
	b.events = make([]unix.EpollEvent, 128)
	return nil
}

func epollMaskFor(events IOEvents) uint32 {
	var m uint32
	if events&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func (b *epollBackend) AddEvent(fd int, events IOEvents) error {
	io := b.loop.ios.get(fd)
	if io == nil {
		return ErrClosed
	}
	combined := io.events | events
	ev := unix.EpollEvent{Events: epollMaskFor(combined), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if io.events == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	return unix.EpollCtl(b.epfd, op, fd, &ev)
}

func (b *epollBackend) DelEvent(fd int, events IOEvents) error {
	io := b.loop.ios.get(fd)
	if io == nil {
		return nil
	}
	remaining := io.events &^ events
	if remaining == 0 {
		return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	ev := unix.EpollEvent{Events: epollMaskFor(remaining), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (b *epollBackend) PollEvents(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := b.events[i]
		io := b.loop.ios.get(int(ev.Fd))
		if io == nil {
			continue
		}
		var re IOEvents
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			re |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			re |= EventWrite
		}
		io.revents = re
		io.markPending()
	}
	return n, nil
}

func (b *epollBackend) Cleanup() error {
	if b.epfd == 0 {
		return nil
	}
	return unix.Close(b.epfd)
}
