// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IOType classifies the underlying descriptor, probed once when a handle
// first becomes active (spec.md §3 "IO handle").
type IOType uint8

const (
	IOUnknown IOType = iota
	IOTCP
	IOUDP
	IOIP
	IOSocket
	IOFile
	IOStdin
	IOStdout
	IOStderr
)

func (t IOType) isStdio() bool {
	return t == IOStdin || t == IOStdout || t == IOStderr
}

func (t IOType) isSocket() bool {
	switch t {
	case IOTCP, IOUDP, IOIP, IOSocket:
		return true
	}
	return false
}

// IOCallback is invoked for read/write/close readiness.
type IOCallback func(*IOHandle)

// AcceptCallback is invoked with the newly accepted connection.
type AcceptCallback func(conn *IOHandle)

// IOHandle represents one fd registered with the loop (spec.md §3 "IO
// handle"). At most one IOHandle exists per (loop, fd); closing it does not
// free its slot in the loop's IO table, so the struct can be reused for the
// next connection on the same fd (spec.md §4.4, §9 "IO table reuse").
type IOHandle struct {
	*event

	fd     int
	ioType IOType

	events  IOEvents
	revents IOEvents
	err     error
	closed  bool

	accept, connect, recv, send, recvfrom, sendto bool

	readCb    IOCallback
	writeCb   IOCallback
	closeCb   IOCallback
	acceptCb  AcceptCallback
	connectCb IOCallback

	readBuf []byte
	N       int // bytes transferred by the most recent callback

	writeQueue [][]byte

	localAddr unix.Sockaddr
	peerAddr  unix.Sockaddr

	deadline      time.Time
	deadlineTimer *TimerHandle
}

// ioGet lazily allocates and zero-initializes the IOHandle for fd (spec.md
// §4.4 "io_get").
func (l *Loop) ioGet(fd int) *IOHandle {
	if io := l.ios.get(fd); io != nil {
		return io
	}
	io := &IOHandle{
		event: &event{kind: kindIO, priority: PriorityNormal},
		fd:    fd,
	}
	io.release = func() { /* IO handles are retained in the table, never freed */ }
	l.ios.set(fd, io)
	return io
}

// probe fills ioType and, for sockets, local/peer address + nonblocking
// mode. Mirrors hloop.c's hio_reset/fill_io_type/hio_socket_init. Probe
// failures are logged and non-fatal (spec.md §7).
func (io *IOHandle) probe(l *Loop) {
	typ, err := unix.GetsockoptInt(io.fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		if errors.Is(err, unix.ENOTSOCK) {
			switch io.fd {
			case 0:
				io.ioType = IOStdin
			case 1:
				io.ioType = IOStdout
			case 2:
				io.ioType = IOStderr
			default:
				io.ioType = IOFile
			}
		} else {
			l.log.Warn().Err(err).Int("fd", io.fd).Msg("getsockopt SO_TYPE failed")
			io.ioType = IOUnknown
		}
	} else {
		switch typ {
		case unix.SOCK_STREAM:
			io.ioType = IOTCP
		case unix.SOCK_DGRAM:
			io.ioType = IOUDP
		case unix.SOCK_RAW:
			io.ioType = IOIP
		default:
			io.ioType = IOSocket
		}
	}

	if io.ioType.isSocket() {
		if err := unix.SetNonblock(io.fd, true); err != nil {
			l.log.Warn().Err(err).Int("fd", io.fd).Msg("set nonblocking failed")
		}
		if sa, err := unix.Getsockname(io.fd); err != nil {
			l.log.Warn().Err(err).Int("fd", io.fd).Msg("getsockname failed")
		} else {
			io.localAddr = sa
		}
		if io.ioType == IOTCP {
			if sa, err := unix.Getpeername(io.fd); err != nil {
				// Normal for a not-yet-connected socket; filled later by
				// Connect or by accept() handing us a connected fd.
				l.log.Debug().Err(err).Int("fd", io.fd).Msg("getpeername unavailable")
			} else {
				io.peerAddr = sa
			}
		}
	}
}

// IOAdd registers cb for events on io, probing its descriptor type on first
// activation (spec.md §4.4 "io_add").
func (l *Loop) IOAdd(io *IOHandle, cb IOCallback, events IOEvents) error {
	if !io.active {
		io.probe(l)
		io.dispatch = func() { l.dispatchIO(io) }
		io.markActive(l)
		l.nios++
	}
	if cb != nil {
		io.readCb = cb
	}
	if err := l.ensureBackend(); err != nil {
		return err
	}
	if err := l.backend.AddEvent(io.fd, events); err != nil {
		return err
	}
	io.events |= events
	return nil
}

// IODel de-subscribes events from io. Once io.events reaches zero the
// handle is deactivated and its per-connection state reset, but it is kept
// in the IO table for reuse (spec.md §4.4 "io_del").
func (l *Loop) IODel(io *IOHandle, events IOEvents) error {
	if !io.active {
		return nil
	}
	// A backend error (e.g. EBADF after Close already closed the fd, which
	// also drops it from the kernel's set) is returned, but the handle's own
	// bookkeeping is still updated.
	err := l.backend.DelEvent(io.fd, events)
	io.events &^= events
	if io.events == 0 {
		l.nios--
		io.markInactive()
		io.deinit()
	}
	return err
}

// deinit drains the write queue and resets per-connection state, without
// freeing the handle (spec.md §4.4, §5 "Write buffers").
func (io *IOHandle) deinit() {
	io.writeQueue = nil
	io.closed = false
	io.accept, io.connect, io.recv, io.send, io.recvfrom, io.sendto = false, false, false, false, false, false
	io.ioType = IOUnknown
	io.err = nil
	io.events, io.revents = 0, 0
	io.readCb, io.writeCb, io.closeCb, io.acceptCb, io.connectCb = nil, nil, nil, nil, nil
	if io.deadlineTimer != nil {
		io.loop.DelTimer(io.deadlineTimer)
		io.deadlineTimer = nil
	}
}

// Close is idempotent: once it returns, no further callbacks fire for this
// handle (spec.md §4.4 "close", testable property 7).
func (io *IOHandle) Close() error {
	if io.closed {
		return nil
	}
	io.closed = true
	err := unix.Close(io.fd)
	if io.closeCb != nil {
		io.closeCb(io)
	}
	if io.loop != nil {
		_ = io.loop.IODel(io, AllEvents)
	}
	return err
}

// Fd returns the underlying file descriptor.
func (io *IOHandle) Fd() int { return io.fd }

// Type returns the probed descriptor type.
func (io *IOHandle) Type() IOType { return io.ioType }

// Error returns the most recent IO error, if any (spec.md §7 "IO runtime
// errors").
func (io *IOHandle) Error() error { return io.err }

// Closed reports whether Close has already run.
func (io *IOHandle) Closed() bool { return io.closed }

// LocalAddr/PeerAddr return the addresses filled during probe/accept.
func (io *IOHandle) LocalAddr() unix.Sockaddr { return io.localAddr }
func (io *IOHandle) PeerAddr() unix.Sockaddr  { return io.peerAddr }

// SetPeerAddr lets callers (e.g. a UDP recvfrom handler, or a TCP client
// before connecting) fill in the peer address directly, mirroring hloop.c's
// hio_setpeeraddr.
func (io *IOHandle) SetPeerAddr(sa unix.Sockaddr) { io.peerAddr = sa }

// SetCloseCallback arms close_cb, fired exactly once from Close (spec.md §3
// "IO handle", §7 "IO runtime errors").
func (io *IOHandle) SetCloseCallback(cb IOCallback) { io.closeCb = cb }

// Read arms fd for read readiness. On each subsequent readable tick a
// single nonblocking read is attempted into buf and cb is invoked with
// io.N set to the byte count (spec.md §4.4 "Read/write path").
func (l *Loop) Read(io *IOHandle, buf []byte, cb IOCallback) error {
	io.readBuf = buf
	io.recv = true
	return l.IOAdd(io, cb, EventRead)
}

// Accept arms fd (a listening socket) for read readiness and invokes cb
// with each newly accepted connection (spec.md §4.4/§4.6 "haccept").
func (l *Loop) Accept(io *IOHandle, cb AcceptCallback) error {
	io.accept = true
	io.acceptCb = cb
	return l.IOAdd(io, nil, EventRead)
}

// Connect arms fd for write readiness; cb fires once the nonblocking
// connect succeeds. A failed connect does not invoke cb: the error is
// recorded on the handle and it is closed, firing its close callback
// (spec.md §4.4/§4.6 "hconnect").
func (l *Loop) Connect(io *IOHandle, cb IOCallback) error {
	io.connect = true
	io.connectCb = cb
	return l.IOAdd(io, nil, EventWrite)
}

// Write queues buf for nonblocking delivery. A write that completes
// immediately invokes cb synchronously; otherwise the remainder is queued
// and fd subscribes to write readiness until it drains (spec.md §4.4).
func (l *Loop) Write(io *IOHandle, buf []byte, cb IOCallback) error {
	if cb != nil {
		io.writeCb = cb
	}
	if len(io.writeQueue) == 0 {
		n, err := io.doWrite(buf)
		if err != nil && err != unix.EAGAIN {
			io.err = errors.Wrap(err, "write")
			_ = io.Close()
			return io.err
		}
		if n < 0 {
			// EAGAIN: nothing was written, queue the whole buffer.
			n = 0
		}
		io.N = n
		if n == len(buf) {
			if io.writeCb != nil {
				io.writeCb(io)
			}
			return nil
		}
		buf = buf[n:]
	}
	io.writeQueue = append(io.writeQueue, append([]byte(nil), buf...))
	return l.IOAdd(io, nil, EventWrite)
}

// SetDeadline arms a one-shot timer that closes io if it fires before being
// cancelled by a subsequent successful read (SPEC_FULL.md §4.4). Writes and
// connect completions do not cancel it.
func (io *IOHandle) SetDeadline(l *Loop, d time.Duration) error {
	if io.deadlineTimer != nil {
		l.DelTimer(io.deadlineTimer)
		io.deadlineTimer = nil
	}
	if d <= 0 {
		return nil
	}
	io.deadline = time.Now().Add(d)
	t, err := l.AddTimer(func(*TimerHandle) {
		io.err = errors.New("evloop: deadline exceeded")
		_ = io.Close()
	}, uint64(d.Milliseconds()), 1)
	if err != nil {
		return err
	}
	io.deadlineTimer = t
	return nil
}

// dispatchIO is the single per-fd callback the backend invokes through the
// event header's dispatch closure. It inspects revents and the handle's
// role flags to decide whether to accept/connect/read/drain-write, exactly
// the branching hloop.c's hio callback and the teacher's loopRun switch
// perform (evio_unix.go).
func (l *Loop) dispatchIO(io *IOHandle) {
	if io.closed {
		return
	}
	if io.revents&EventRead != 0 {
		switch {
		case io.accept:
			l.dispatchAccept(io)
		default:
			l.dispatchRead(io)
		}
	}
	if io.closed {
		return
	}
	if io.revents&EventWrite != 0 {
		switch {
		case io.connect:
			l.dispatchConnect(io)
		default:
			l.dispatchWriteDrain(io)
		}
	}
	io.revents = 0
}

func (l *Loop) dispatchAccept(io *IOHandle) {
	// unix.Accept (not Accept4) for portability: Accept4 is unavailable on
	// darwin/bsd in golang.org/x/sys/unix, so nonblocking mode is set
	// explicitly after accepting, same as hloop.c's hio_socket_init.
	nfd, sa, err := unix.Accept(io.fd)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		io.err = errors.Wrap(err, "accept")
		l.log.Warn().Err(err).Int("fd", io.fd).Msg("accept failed")
		return
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		l.log.Warn().Err(err).Int("fd", nfd).Msg("set nonblocking failed")
	}
	conn := l.ioGet(nfd)
	conn.peerAddr = sa
	if io.acceptCb != nil {
		io.acceptCb(conn)
	}
}

func (l *Loop) dispatchConnect(io *IOHandle) {
	io.connect = false
	cb := io.connectCb
	io.connectCb = nil
	errno, gerr := unix.GetsockoptInt(io.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr == nil && errno != 0 {
		gerr = unix.Errno(errno)
	}
	_ = l.IODel(io, EventWrite)
	if gerr != nil {
		io.err = errors.Wrap(gerr, "connect")
		_ = io.Close()
		return
	}
	if sa, err := unix.Getpeername(io.fd); err == nil {
		io.peerAddr = sa
	}
	if cb != nil {
		cb(io)
	}
}

func (l *Loop) dispatchRead(io *IOHandle) {
	if io.readBuf == nil {
		return
	}
	var n int
	var err error
	if io.recvfrom {
		var from unix.Sockaddr
		n, from, err = unix.Recvfrom(io.fd, io.readBuf, 0)
		if err == nil && from != nil {
			io.peerAddr = from
		}
	} else {
		n, err = unix.Read(io.fd, io.readBuf)
	}
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		io.err = errors.Wrap(err, "read")
		_ = io.Close()
		return
	}
	// UDP sockets have no EOF: a zero-length datagram is valid data.
	if n == 0 && !io.recvfrom {
		io.err = errEOF
		_ = io.Close()
		return
	}
	io.N = n
	if io.deadlineTimer != nil {
		l.DelTimer(io.deadlineTimer)
		io.deadlineTimer = nil
	}
	if io.readCb != nil {
		io.readCb(io)
	}
}

// doWrite sends buf over fd, routing through sendto(2) with the stored peer
// address for datagram sockets (spec.md §4.6 "sendto").
func (io *IOHandle) doWrite(buf []byte) (int, error) {
	if io.sendto && io.peerAddr != nil {
		if err := unix.Sendto(io.fd, buf, 0, io.peerAddr); err != nil {
			return 0, err
		}
		return len(buf), nil
	}
	return unix.Write(io.fd, buf)
}

func (l *Loop) dispatchWriteDrain(io *IOHandle) {
	for len(io.writeQueue) > 0 {
		head := io.writeQueue[0]
		n, err := io.doWrite(head)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			io.err = errors.Wrap(err, "write")
			_ = io.Close()
			return
		}
		io.N = n
		if n == len(head) {
			io.writeQueue = io.writeQueue[1:]
			continue
		}
		io.writeQueue[0] = head[n:]
		return
	}
	cb := io.writeCb
	_ = l.IODel(io, EventWrite)
	if cb != nil {
		cb(io)
	}
}

// errEOF marks a zero-byte, error-free read as end-of-file, matching
// net.Conn / io.Reader convention without importing the stdlib io package
// (which would collide with this file's *IOHandle receiver name "io").
var errEOF = errors.New("EOF")
