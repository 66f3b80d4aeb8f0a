// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package qrexec implements the guest-side agent of a qrexec-style
// command-execution protocol carried over an inter-domain transport channel.
//
// The protocol is a length-prefixed framed message stream with a fixed
// asymmetric version handshake, a byte-stream flow layer multiplexing
// stdin/stdout/stderr/exit-code sub-streams on top of one framed channel,
// and a per-request session lifecycle that always closes its transport and
// notifies the dispatcher, on every exit path.
package qrexec

import "errors"

var (
	// ErrEOF reports the end of the underlying transport, whether it comes
	// between frames or cuts a frame short (the partial frame is not
	// delivered). It is distinct from io.EOF so callers can't accidentally
	// conflate a protocol-level close with a partial stdlib io.Reader EOF.
	ErrEOF = errors.New("qrexec: end of transport")

	// ErrProtocol reports an unexpected frame type or a malformed payload
	// where the protocol defines fixed structure (handshake window, flow
	// reads, fixed-layout payloads).
	ErrProtocol = errors.New("qrexec: protocol error")

	// ErrVersionMismatch reports a peer_info handshake payload whose version
	// is not the one this agent speaks.
	ErrVersionMismatch = errors.New("qrexec: version mismatch")

	// ErrMalformedCmdline reports an exec_params cmdline tail missing its
	// mandatory NUL terminator or its USER:COMMAND colon separator.
	ErrMalformedCmdline = errors.New("qrexec: malformed cmdline")

	// ErrTruncatedPayload reports a payload shorter than its declared
	// fixed-layout prefix.
	ErrTruncatedPayload = errors.New("qrexec: truncated payload")

	// ErrClosed reports an operation attempted on an already-closed channel
	// or flow.
	ErrClosed = errors.New("qrexec: channel closed")
)

// exitCodeOnError is the exit status reported for the dispatcher when a
// session aborts before (or instead of) running the handler: transport
// failure, handshake failure, malformed cmdline, or a handler panic/error.
const exitCodeOnError int64 = 255
