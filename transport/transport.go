// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport defines the duplex, inter-domain byte channel the
// qrexec agent consumes. It owns no wire format of its own: chunk boundaries
// on Read are not meaningful above this layer, and Writev's caller is
// responsible for framing.
//
// This package is deliberately narrow — the real hypervisor transport (Xen
// libvchan or equivalent) is out of scope for this module; what lives here is
// the consumed contract plus enough structure (Dialer/Listener) for a
// concrete adapter, such as transport/netconn, to implement it.
package transport

import (
	"context"
	"errors"
)

// ErrEOF is returned by Read and Writev when the remote end has cleanly
// closed the channel.
var ErrEOF = errors.New("transport: end of channel")

// Channel is one duplex byte-oriented connection between two domains.
type Channel interface {
	// Read pulls the next available chunk of bytes. Chunk boundaries carry
	// no meaning: a single Read may return fewer bytes than are available,
	// or bytes that span multiple messages framed above this layer.
	Read(p []byte) (n int, err error)

	// Writev gathers all buffers into a single atomic write: a concurrent
	// reader on the other end can never observe only part of the
	// concatenation of bufs.
	Writev(bufs [][]byte) error

	// Close releases the channel. Close is idempotent.
	Close() error
}

// Dialer opens a Channel as a client toward a (domain, port) rendezvous.
type Dialer interface {
	Dial(ctx context.Context, domain, port uint32) (Channel, error)
}

// Listener accepts Channels dispatched by remote domains. Port derivation and
// addressing are adapter-specific; Accept reports the (domain, port) the
// incoming channel claims, for the caller's own bookkeeping.
type Listener interface {
	Accept(ctx context.Context) (ch Channel, domain, port uint32, err error)
	Close() error
}
