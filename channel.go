// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/domu-agent/qrexec/transport"
)

// readChunkSize is how many bytes the channel pulls from the transport per
// underlying Read call when its carry-over buffer doesn't already hold
// enough to satisfy the current request. It bounds over-reads when many
// small frames are pipelined back to back.
const readChunkSize = 32 * 1024

// Channel owns one transport.Channel for its lifetime: a carry-over buffer
// of bytes already pulled from the transport but not yet consumed by a
// frame, a mutex (mu) serializing all reads and guarding that buffer, and a
// second mutex (wmu) serializing all writes, so that no two frames can ever
// interleave on the wire and no caller ever observes a partially-assembled
// frame. Reads and writes take separate locks, so a Recv blocked waiting for
// the next frame never holds up a Send on the same channel. closed is set
// while holding both locks and may be read under either.
//
// The accumulate-into-carry-buffer loop below (readExactlyLocked) reads into
// a scratch area across as many partial transport reads as it takes, then
// slices off exactly what was asked for. The transport is always blocking
// and reliable, so there is no retry-on-would-block branch to account for.
type Channel struct {
	tr transport.Channel

	mu     sync.Mutex
	wmu    sync.Mutex
	carry  []byte
	closed bool
}

// NewChannel wraps an already-open transport.Channel.
func NewChannel(tr transport.Channel) *Channel {
	return &Channel{tr: tr}
}

// Recv blocks until a full frame is available, returning ErrEOF if the
// transport closes cleanly before or during a frame, or ErrClosed if the
// channel's own Close was already called. Concurrent callers are serialized
// by the channel's read mutex: each observes either a complete frame or one of
// those two errors, never a partial frame.
func (c *Channel) Recv() (MsgType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return MsgUnknown, nil, ErrClosed
	}

	header, err := c.readExactlyLocked(headerLen)
	if err != nil {
		return MsgUnknown, nil, err
	}
	typ, length := unpackHeader(header)

	if length == 0 {
		return typ, nil, nil
	}
	payload, err := c.readExactlyLocked(int(length))
	if err != nil {
		return MsgUnknown, nil, err
	}
	// Copy out of the carry buffer: readExactlyLocked's slice aliases
	// c.carry's backing array, which the next call may overwrite.
	out := make([]byte, len(payload))
	copy(out, payload)
	return typ, out, nil
}

// Send writes a header and payload as a single gather write, so a reader on
// the other side can never observe a partial frame interleaved with another
// send. Returns ErrClosed if the channel's own Close was already called.
func (c *Channel) Send(t MsgType, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed {
		return ErrClosed
	}

	hdr := packHeader(t, uint32(len(payload)))
	bufs := [][]byte{hdr[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	if err := c.tr.Writev(bufs); err != nil {
		return translateTransportErr(err)
	}
	return nil
}

// Close releases the underlying transport channel. Idempotent: calling it
// more than once returns nil on the later calls instead of reaching the
// transport again.
func (c *Channel) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.tr.Close()
}

// readExactlyLocked returns the next n bytes, blocking on transport reads as
// needed and accumulating them in c.carry. Caller must hold c.mu. The
// returned slice aliases c.carry and is only valid until the next call.
func (c *Channel) readExactlyLocked(n int) ([]byte, error) {
	for len(c.carry) < n {
		buf := make([]byte, readChunkSize)
		rn, err := c.tr.Read(buf)
		if rn > 0 {
			c.carry = append(c.carry, buf[:rn]...)
		}
		if err != nil {
			if errors.Is(err, transport.ErrEOF) || errors.Is(err, io.EOF) {
				return nil, ErrEOF
			}
			return nil, fmt.Errorf("qrexec: transport read: %w", err)
		}
		if rn == 0 {
			return nil, fmt.Errorf("qrexec: transport read: %w", io.ErrNoProgress)
		}
	}
	out := c.carry[:n]
	c.carry = c.carry[n:]
	return out, nil
}

func translateTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrEOF) || errors.Is(err, io.EOF) {
		return ErrEOF
	}
	return fmt.Errorf("qrexec: transport write: %w", err)
}
