// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"errors"
	"fmt"
)

// ServerHandshake runs the server-side half of the version handshake on a
// freshly opened channel: send this agent's hello first, then receive the
// peer's. This ordering is mandated for the listener's management channel
// and is not negotiable.
func ServerHandshake(ch *Channel) error {
	if err := ch.Send(MsgHello, packPeerInfo(protocolVersion)); err != nil {
		return err
	}
	return recvHello(ch)
}

// ClientHandshake runs the client-side half of the version handshake on a
// freshly opened channel: receive the peer's hello first, then send this
// agent's. This ordering is mandated for per-session channels the agent
// opens toward a caller and is not negotiable.
func ClientHandshake(ch *Channel) error {
	if err := recvHello(ch); err != nil {
		return err
	}
	return ch.Send(MsgHello, packPeerInfo(protocolVersion))
}

// recvHello receives and validates one hello frame. Any other frame type
// during the handshake window, any EOF before it arrives, a truncated
// payload, or a version other than protocolVersion is fatal.
func recvHello(ch *Channel) error {
	typ, payload, err := ch.Recv()
	if err != nil {
		if errors.Is(err, ErrEOF) {
			return fmt.Errorf("%w: eof during handshake", ErrProtocol)
		}
		return err
	}
	if typ != MsgHello {
		return fmt.Errorf("%w: expected hello, got %s", ErrProtocol, typ)
	}
	version, err := unpackPeerInfo(payload)
	if err != nil {
		return err
	}
	if version != protocolVersion {
		return fmt.Errorf("%w: peer sent version %d, agent speaks %d", ErrVersionMismatch, version, protocolVersion)
	}
	return nil
}
