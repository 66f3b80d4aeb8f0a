// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/domu-agent/qrexec/transport"
)

// Handler is the embedder-supplied command execution contract: it may call
// Read/ReadLine/Write/Ewrite on flow any number of times and must not close
// it itself — close is unexported on Flow specifically to make that rule
// structural.
type Handler func(user, cmd string, flow *Flow) int32

// request is the dispatcher's decoded exec request: an execution mode, the
// (domain, port) of the channel to open toward the caller, and the raw
// cmdline tail to parse once the flow exists.
type request struct {
	mode    ExecMode
	domain  uint32
	port    uint32
	cmdline []byte
}

// runSession implements the per-request lifecycle end to end: open a client
// channel toward (domain, port), run the client-side handshake, construct a
// flow, parse the cmdline, invoke the handler, and — on every exit path once
// the flow exists, including a malformed cmdline or a handler panic — close
// the flow with the resulting exit code. A dial or handshake failure returns
// exitCodeOnError without a flow.
//
// The single deferred cleanup below runs regardless of which return path
// was taken, exactly once, and a flow that was never constructed (dial or
// handshake failed first) is simply never closed — there is nothing to tear
// down.
func runSession(ctx context.Context, dialer transport.Dialer, req request, handler Handler, log hclog.Logger, metrics *Metrics) (exitCode int64) {
	exitCode = exitCodeOnError
	start := time.Now()
	var flow *Flow

	defer func() {
		if r := recover(); r != nil {
			log.Warn("handler panicked", "panic", fmt.Sprintf("%v", r))
			exitCode = exitCodeOnError
		}
		if flow != nil {
			if err := flow.close(exitCode); err != nil {
				log.Warn("flow close reported errors", "error", err)
			}
		}
		metrics.sessionFinished(req.mode, exitCode, time.Since(start))
	}()

	tr, err := dialer.Dial(ctx, req.domain, req.port)
	if err != nil {
		log.Warn("failed to open per-session channel", "error", err)
		return
	}

	ch := NewChannel(tr)
	if err := ClientHandshake(ch); err != nil {
		log.Warn("client handshake failed", "error", err)
		_ = ch.Close()
		return
	}

	flow = newFlow(ch, req.mode)

	user, cmd, err := parseCmdline(req.cmdline)
	if err != nil {
		log.Warn("malformed cmdline", "error", err)
		return
	}

	exitCode = int64(handler(user, cmd, flow))
	return
}
