// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package netconn_test

import (
	"context"
	"net"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/domu-agent/qrexec/transport"
	"github.com/domu-agent/qrexec/transport/netconn"
)

func TestChannelWritevGathersBuffers(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	left := netconn.New(a)
	right := netconn.New(b)

	done := make(chan error, 1)
	go func() {
		done <- left.Writev([][]byte{[]byte("hello, "), []byte("world")})
	}()

	buf := make([]byte, 64)
	n, err := right.Read(buf)
	must.NoError(t, err)
	must.Eq(t, "hello, world", string(buf[:n]))
	must.NoError(t, <-done)
}

func TestChannelReadReportsEOFOnClose(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })

	left := netconn.New(a)
	must.NoError(t, a.Close())

	buf := make([]byte, 16)
	_, err := left.Read(buf)
	must.ErrorIs(t, err, transport.ErrEOF)
}

func TestDialerDialsLoopbackTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	must.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		accepted <- conn
	}()

	dialer := &netconn.Dialer{
		Network: "tcp",
		AddrFor: func(domain, port uint32) string { return ln.Addr().String() },
	}

	ch, err := dialer.Dial(context.Background(), 1, 2)
	must.NoError(t, err)
	conn := <-accepted
	t.Cleanup(func() { _ = conn.Close(); _ = ch.Close() })
	must.NotNil(t, ch)
}

func TestListenerAcceptReturnsIdentityAndHonorsCancellation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	must.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	wrapped := netconn.NewListener(ln, 3, 4)

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = conn.Close()
		}
	}()

	ch, domain, port, err := wrapped.Accept(context.Background())
	must.NoError(t, err)
	must.Eq(t, uint32(3), domain)
	must.Eq(t, uint32(4), port)
	_ = ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err = wrapped.Accept(ctx)
	must.ErrorIs(t, err, context.Canceled)
}
