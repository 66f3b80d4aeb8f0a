// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netconn adapts net.Conn (TCP or Unix-domain stream sockets) into
// the transport.Channel/Dialer/Listener contract, so the qrexec agent can run
// — and be tested — without a real hypervisor vchan implementation.
package netconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/domu-agent/qrexec/transport"
)

// Channel adapts a net.Conn into transport.Channel.
type Channel struct {
	conn net.Conn
	wmu  sync.Mutex
}

// New wraps an established net.Conn as a transport.Channel.
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if errors.Is(err, net.ErrClosed) {
		return n, transport.ErrEOF
	}
	return n, translateEOF(err)
}

// Writev gathers bufs into one atomic write using net.Buffers, which uses a
// single writev(2) syscall on platforms where the underlying conn supports
// it, and falls back to looped Write otherwise — either way, the peer never
// observes a partial concatenation interleaved with another writer, since
// concurrent Writev calls on one Channel are serialized.
func (c *Channel) Writev(bufs [][]byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	nb := net.Buffers(bufs)
	_, err := nb.WriteTo(c.conn)
	return translateEOF(err)
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

func translateEOF(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return transport.ErrEOF
	}
	return err
}

// Dialer opens client channels by mapping (domain, port) to a dial address
// via AddrFor. Network is passed to net.Dialer.DialContext ("tcp", "unix",
// ...).
type Dialer struct {
	Network string
	AddrFor func(domain, port uint32) string
}

func (d *Dialer) Dial(ctx context.Context, domain, port uint32) (transport.Channel, error) {
	if d.AddrFor == nil {
		return nil, fmt.Errorf("netconn: Dialer.AddrFor is nil")
	}
	addr := d.AddrFor(domain, port)
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, d.Network, addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Listener accepts client channels on a fixed (domain, port) pair — matching
// the management channel's well-known-port model, where a single long-lived
// listener serves one logical endpoint rather than discriminating between
// many.
type Listener struct {
	ln     net.Listener
	domain uint32
	port   uint32
}

// NewListener wraps an already-bound net.Listener. domain/port are the
// logical identity reported to callers of Accept — they do not affect how
// connections are accepted.
func NewListener(ln net.Listener, domain, port uint32) *Listener {
	return &Listener{ln: ln, domain: domain, port: port}
}

func (l *Listener) Accept(ctx context.Context) (transport.Channel, uint32, uint32, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, net.ErrClosed) {
				return nil, 0, 0, transport.ErrEOF
			}
			return nil, 0, 0, r.err
		}
		return New(r.conn), l.domain, l.port, nil
	}
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
