// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestUDPRoundTrip covers CreateUDPServer/CreateUDPClient + RecvFrom/SendTo,
// verifying the peer address captured by a recvfrom is usable for the
// reply (spec.md §4.6 "create_udp_server"/"create_udp_client").
func TestUDPRoundTrip(t *testing.T) {
	l := NewLoop(WithMaxBlockTime(20 * time.Millisecond))

	const msg = "datagram"
	var gotEcho string

	server, err := l.CreateUDPServer("127.0.0.1:0", false)
	require.NoError(t, err)

	// require is safe only on the goroutine running the test function, so
	// every callback below (dispatched from l.Run() on its own goroutine)
	// uses assert instead.
	var client *IOHandle
	require.NoError(t, l.RecvFrom(server, make([]byte, 64), func(c *IOHandle) {
		echo := append([]byte(nil), c.readBuf[:c.N]...)
		assert.NoError(t, l.SendTo(c, echo, func(c *IOHandle) {
			_ = server.Close()
		}))
	}))

	// RecvFrom above arms the socket, which probes and fills LocalAddr; read
	// the bound ephemeral port only after that.
	sa, ok := server.LocalAddr().(*unix.SockaddrInet4)
	require.True(t, ok)

	client, err = l.CreateUDPClient("127.0.0.1", sa.Port)
	require.NoError(t, err)
	require.NoError(t, l.RecvFrom(client, make([]byte, 64), func(c *IOHandle) {
		gotEcho = string(c.readBuf[:c.N])
		_ = client.Close()
	}))
	require.NoError(t, l.SendTo(client, []byte(msg), nil))

	doneCh := make(chan struct{})
	go func() {
		l.Run()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not quiesce")
	}

	assert.Equal(t, msg, gotEcho)
}

// TestUnixDomainRoundTrip covers the SPEC_FULL.md §4.6 extension of the
// original TCP/UDP-only convenience layer to unix-domain stream sockets.
func TestUnixDomainRoundTrip(t *testing.T) {
	l := NewLoop(WithMaxBlockTime(20 * time.Millisecond))

	sockPath := filepath.Join(t.TempDir(), "evloop-test.sock")
	defer os.Remove(sockPath)

	const msg = "unix-ping"
	var gotEcho string

	// require is safe only on the goroutine running the test function, so
	// every callback below (dispatched from l.Run() on its own goroutine)
	// uses assert instead.
	server, err := l.CreateUnixServer(sockPath, func(conn *IOHandle) {
		buf := make([]byte, 64)
		assert.NoError(t, l.Read(conn, buf, func(c *IOHandle) {
			assert.NoError(t, l.Write(c, buf[:c.N], func(c *IOHandle) {
				_ = c.Close()
			}))
		}))
	})
	require.NoError(t, err)

	_, err = l.CreateUnixClient(sockPath, func(c *IOHandle) {
		assert.NoError(t, l.Write(c, []byte(msg), nil))
		buf := make([]byte, 64)
		assert.NoError(t, l.Read(c, buf, func(c *IOHandle) {
			gotEcho = string(buf[:c.N])
			_ = c.Close()
			_ = server.Close()
		}))
	})
	require.NoError(t, err)

	doneCh := make(chan struct{})
	go func() {
		l.Run()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not quiesce")
	}

	assert.Equal(t, msg, gotEcho)
}
