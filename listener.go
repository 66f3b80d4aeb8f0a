// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/domu-agent/qrexec/internal/sessionid"
	"github.com/domu-agent/qrexec/transport"
)

// Listener owns the management channel: it runs the server-side handshake
// at construction time, then dispatches incoming just_exec/exec_cmdline
// requests to independently running sessions, multiplexing their
// connection_terminated notifications back onto the one management
// channel.
type Listener struct {
	mgmt    *Channel
	dialer  transport.Dialer
	handler Handler
	log     hclog.Logger
	metrics *Metrics
}

// NewListener performs the server-side handshake on mgmtTransport
// immediately — sending hello before waiting on the peer's — and returns an
// error if that fails. dialer is used to open the per-session channels each
// dispatched request requires; handler is invoked for every accepted
// request.
func NewListener(mgmtTransport transport.Channel, dialer transport.Dialer, handler Handler, opts ...Option) (*Listener, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	mgmt := NewChannel(mgmtTransport)
	if err := ServerHandshake(mgmt); err != nil {
		_ = mgmt.Close()
		return nil, fmt.Errorf("management channel handshake: %w", err)
	}
	o.logger.Info("management channel handshake complete", "version", protocolVersion)

	return &Listener{
		mgmt:    mgmt,
		dialer:  dialer,
		handler: handler,
		log:     o.logger,
		metrics: NewMetrics(o.registerer),
	}, nil
}

// Serve runs the receive/dispatch loop until the management channel reports
// ErrEOF (clean shutdown) or a fatal channel error. Each just_exec/
// exec_cmdline request spawns its own goroutine running the session
// lifecycle; Serve itself never blocks on a session and returns as soon as
// the management channel closes, regardless of sessions still in flight —
// they run to completion and report back independently.
//
// ctx is threaded through to each session's per-channel dial — the one
// point where cancellation is safe, since it happens before any cleanup
// obligation exists.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		typ, payload, err := l.mgmt.Recv()
		if err != nil {
			if errors.Is(err, ErrEOF) {
				l.log.Info("management channel closed, listener exiting")
				return nil
			}
			return fmt.Errorf("management channel recv: %w", err)
		}

		l.metrics.frameDispatched(typ)

		switch typ {
		case MsgJustExec, MsgExecCmdline:
			l.dispatch(ctx, typ, payload)
		default:
			l.log.Info("unrecognized frame on management channel, ignoring", "type", typ)
		}
	}
}

// dispatch decodes one exec request and spawns its session. A malformed
// exec_params payload (too short to carry the domain/port prefix) never
// reaches a per-session channel, but the peer still gets its
// connection_terminated for the request it sent: dispatch sends it directly,
// using whatever prefix can be recovered from the truncated payload, instead
// of handing off to a session goroutine that has nothing valid to run.
func (l *Listener) dispatch(ctx context.Context, typ MsgType, payload []byte) {
	prefix := execParamsPrefix(payload)

	params, err := unpackExecParams(payload)
	if err != nil {
		l.log.Warn("malformed exec_params, reporting termination without a session", "error", err)
		if sendErr := l.mgmt.Send(MsgConnectionTerminated, prefix); sendErr != nil {
			l.log.Warn("failed to send connection_terminated", "error", sendErr)
		}
		return
	}

	mode := ExecCmdline
	if typ == MsgJustExec {
		mode = JustExec
	}

	go l.runAndNotify(ctx, mode, params, prefix)
}

// runAndNotify runs one session to completion and then always sends
// connection_terminated on the management channel, even if the per-session
// channel never managed to open.
func (l *Listener) runAndNotify(ctx context.Context, mode ExecMode, params execParams, prefix []byte) {
	sid := sessionid.New()
	log := l.log.With("session", sid, "domain", params.ConnectDomain, "port", params.ConnectPort)
	l.metrics.sessionStarted(mode)

	req := request{
		mode:    mode,
		domain:  params.ConnectDomain,
		port:    params.ConnectPort,
		cmdline: params.Cmdline,
	}
	exitCode := runSession(ctx, l.dialer, req, l.handler, log, l.metrics)
	log.Info("session ended", "exit_code", exitCode)

	if err := l.mgmt.Send(MsgConnectionTerminated, prefix); err != nil {
		log.Warn("failed to send connection_terminated", "error", err)
	}
}

// Close releases the management channel.
func (l *Listener) Close() error {
	return l.mgmt.Close()
}
