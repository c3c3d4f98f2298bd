// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"net"
	"strconv"
	"syscall"

	"github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// syscallConner is implemented by the concrete net.Listener/net.PacketConn
// types this package hands off to the loop.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// dupFd extracts an independent, loop-owned file descriptor from a
// net.Listener/net.Conn/net.PacketConn, the same trick RTradeLtd-gaio's
// aio_generic.go uses (dupconn) to hand a raw fd to a non-net.Conn-based
// event loop without racing the original object's finalizer.
func dupFd(obj any) (int, error) {
	sc, ok := obj.(syscallConner)
	if !ok {
		return -1, ErrUnsupportedConn
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "syscallconn")
	}
	var newfd int
	var dupErr error
	if cerr := rc.Control(func(fd uintptr) {
		newfd, dupErr = unix.Dup(int(fd))
	}); cerr != nil {
		return -1, errors.Wrap(cerr, "control")
	}
	if dupErr != nil {
		return -1, errors.Wrap(dupErr, "dup")
	}
	return newfd, nil
}

// CreateTCPServer binds addr ("host:port") and arms it to accept
// connections. When reuse is true the listener is created with
// SO_REUSEPORT via github.com/kavu/go_reuseport, the teacher's own
// dependency for horizontally-scaled listeners (spec.md §4.6
// "create_tcp_server").
func (l *Loop) CreateTCPServer(addr string, reuse bool, acceptCb AcceptCallback) (*IOHandle, error) {
	var ln net.Listener
	var err error
	if reuse {
		ln, err = reuseport.Listen("tcp", addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	fd, err := dupFd(ln)
	ln.Close()
	if err != nil {
		return nil, err
	}
	io := l.ioGet(fd)
	io.ioType = IOTCP
	if err := l.Accept(io, acceptCb); err != nil {
		return nil, err
	}
	return io, nil
}

// CreateTCPClient resolves host:port and starts a nonblocking connect,
// invoking connectCb once it completes (spec.md §4.6 "create_tcp_client").
func (l *Loop) CreateTCPClient(host string, port int, connectCb IOCallback) (*IOHandle, error) {
	raddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := raddr.IP.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: raddr.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: raddr.Port}
		copy(s.Addr[:], raddr.IP.To16())
		sa = s
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "nonblock")
	}
	io := l.ioGet(fd)
	io.ioType = IOTCP
	io.SetPeerAddr(sa)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		l.ios.clear(fd)
		return nil, errors.Wrap(err, "connect")
	}
	if connErr := l.Connect(io, connectCb); connErr != nil {
		return nil, connErr
	}
	return io, nil
}

// CreateUDPServer binds addr for datagram traffic. Callers follow up with
// RecvFrom to start receiving (spec.md §4.6 "create_udp_server").
func (l *Loop) CreateUDPServer(addr string, reuse bool) (*IOHandle, error) {
	var pc net.PacketConn
	var err error
	if reuse {
		pc, err = reuseport.ListenPacket("udp", addr)
	} else {
		pc, err = net.ListenPacket("udp", addr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "listenpacket")
	}
	fd, err := dupFd(pc)
	pc.Close()
	if err != nil {
		return nil, err
	}
	io := l.ioGet(fd)
	io.ioType = IOUDP
	return io, nil
}

// CreateUDPClient resolves host:port as the default peer for subsequent
// SendTo calls (spec.md §4.6 "create_udp_client").
func (l *Loop) CreateUDPClient(host string, port int) (*IOHandle, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := raddr.IP.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: raddr.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: raddr.Port}
		copy(s.Addr[:], raddr.IP.To16())
		sa = s
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	io := l.ioGet(fd)
	io.ioType = IOUDP
	io.SetPeerAddr(sa)
	return io, nil
}

// CreateUnixServer/CreateUnixClient extend the original's TCP/UDP-only
// convenience layer to unix-domain stream sockets (SPEC_FULL.md §4.6): the
// io_type probe already recognizes SOCK_STREAM regardless of address
// family, so the only new code is listener/dialer setup.
func (l *Loop) CreateUnixServer(path string, acceptCb AcceptCallback) (*IOHandle, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	// Closing the net listener would otherwise unlink path while the dup'd
	// fd is still listening on it.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	fd, err := dupFd(ln)
	ln.Close()
	if err != nil {
		return nil, err
	}
	io := l.ioGet(fd)
	io.ioType = IOSocket
	if err := l.Accept(io, acceptCb); err != nil {
		return nil, err
	}
	return io, nil
}

func (l *Loop) CreateUnixClient(path string, connectCb IOCallback) (*IOHandle, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "nonblock")
	}
	io := l.ioGet(fd)
	io.ioType = IOSocket
	sa := &unix.SockaddrUnix{Name: path}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		l.ios.clear(fd)
		return nil, errors.Wrap(err, "connect")
	}
	if connErr := l.Connect(io, connectCb); connErr != nil {
		return nil, connErr
	}
	return io, nil
}

// Recv/Send are thin role-tagging wrappers over Read/Write for TCP
// connections, mirroring hloop.c's hrecv/hsend.
func (l *Loop) Recv(io *IOHandle, buf []byte, cb IOCallback) error {
	io.recv = true
	io.ioType = IOTCP
	return l.Read(io, buf, cb)
}

func (l *Loop) Send(io *IOHandle, buf []byte, cb IOCallback) error {
	io.send = true
	io.ioType = IOTCP
	return l.Write(io, buf, cb)
}

// RecvFrom/SendTo tag a handle as UDP and forward to Read/Write. The peer
// address for the datagram just received is available via io.PeerAddr
// after the loop fills it in from the underlying recvfrom (hloop.c's
// hrecvfrom/hsendto).
func (l *Loop) RecvFrom(io *IOHandle, buf []byte, cb IOCallback) error {
	io.recvfrom = true
	io.ioType = IOUDP
	return l.Read(io, buf, cb)
}

func (l *Loop) SendTo(io *IOHandle, buf []byte, cb IOCallback) error {
	io.sendto = true
	io.ioType = IOUDP
	return l.Write(io, buf, cb)
}
