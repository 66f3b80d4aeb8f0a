// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ExecMode fixes a Flow's behavior for its whole lifetime: whether it is a
// fire-and-forget dispatch with no stdin/stdout streaming, or a full
// bidirectional session.
type ExecMode uint8

const (
	// JustExec is a fire-and-forget dispatch: Write/Ewrite are silently
	// dropped and Read/ReadLine return ErrEOF immediately.
	JustExec ExecMode = iota
	// ExecCmdline is a full bidirectional streaming session.
	ExecCmdline
)

// Flow presents a byte-stream view of one execution over a framed Channel,
// multiplexing the stdin/stdout/stderr/exit-code sub-streams onto that
// single channel. It owns the channel for the duration of one execution and
// is single-owner: the handler and the session goroutine that constructed
// it are the only code that ever touches it, so no locking is needed beyond
// what Channel itself already provides for the wire.
type Flow struct {
	ch   *Channel
	mode ExecMode

	stdinBuf []byte
	stdinEOF bool
}

// newFlow constructs a Flow around an already handshaken channel. Unexported:
// only the session lifecycle ever creates one, right after a successful
// handshake.
func newFlow(ch *Channel, mode ExecMode) *Flow {
	return &Flow{ch: ch, mode: mode}
}

// Mode reports the Flow's fixed execution mode.
func (f *Flow) Mode() ExecMode { return f.mode }

// Write sends p on the stdout sub-stream. Empty buffers are dropped — they
// are reserved as end-of-stream markers, sent only by close. In JustExec
// mode this is a no-op that reports success: a fire-and-forget flow never
// issues a data-stream send while its handler runs.
func (f *Flow) Write(p []byte) (int, error) {
	if f.mode == JustExec || len(p) == 0 {
		return len(p), nil
	}
	if err := f.ch.Send(MsgDataStdout, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Ewrite sends p on the stderr sub-stream. Same empty-buffer and JustExec
// rules as Write.
func (f *Flow) Ewrite(p []byte) (int, error) {
	if f.mode == JustExec || len(p) == 0 {
		return len(p), nil
	}
	if err := f.ch.Send(MsgDataStderr, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Writef formats its arguments, appends a trailing newline, and sends the
// result on stdout.
func (f *Flow) Writef(format string, args ...any) (int, error) {
	return f.Write([]byte(fmt.Sprintf(format, args...) + "\n"))
}

// Ewritef formats its arguments, appends a trailing newline, and sends the
// result on stderr.
func (f *Flow) Ewritef(format string, args ...any) (int, error) {
	return f.Ewrite([]byte(fmt.Sprintf(format, args...) + "\n"))
}

// Read returns the next chunk of stdin bytes, draining any carry-over
// residue left by a previous ReadLine call before pulling a new frame. It
// returns ErrEOF once the remote end has sent its empty data_stdin
// end-of-stream marker, or immediately in JustExec mode. Any frame type
// other than data_stdin arriving while a Flow waits for stdin is a fatal
// protocol error.
func (f *Flow) Read() ([]byte, error) {
	if f.mode == JustExec {
		return nil, ErrEOF
	}
	if len(f.stdinBuf) > 0 {
		out := f.stdinBuf
		f.stdinBuf = nil
		return out, nil
	}
	if f.stdinEOF {
		return nil, ErrEOF
	}
	if err := f.fillStdin(); err != nil {
		return nil, err
	}
	out := f.stdinBuf
	f.stdinBuf = nil
	return out, nil
}

// ReadLine returns the next line from stdin, up to but not including the
// next '\n', refilling its internal buffer from new data_stdin frames as
// needed and discarding the consumed newline. If end-of-stream arrives
// before a newline is found, any buffered partial line is discarded and
// ReadLine returns ErrEOF.
func (f *Flow) ReadLine() (string, error) {
	if f.mode == JustExec {
		return "", ErrEOF
	}
	for {
		if idx := bytes.IndexByte(f.stdinBuf, '\n'); idx >= 0 {
			line := string(f.stdinBuf[:idx])
			f.stdinBuf = f.stdinBuf[idx+1:]
			return line, nil
		}
		if f.stdinEOF {
			f.stdinBuf = nil
			return "", ErrEOF
		}
		if err := f.fillStdin(); err != nil {
			if errors.Is(err, ErrEOF) {
				f.stdinBuf = nil
				return "", ErrEOF
			}
			return "", err
		}
	}
}

// fillStdin pulls exactly one frame and appends it to stdinBuf, or marks
// stdinEOF and returns ErrEOF on the empty end-of-stream marker.
func (f *Flow) fillStdin() error {
	typ, payload, err := f.ch.Recv()
	if err != nil {
		return err
	}
	if typ != MsgDataStdin {
		return fmt.Errorf("%w: expected data_stdin, got %s", ErrProtocol, typ)
	}
	if len(payload) == 0 {
		f.stdinEOF = true
		return ErrEOF
	}
	f.stdinBuf = append(f.stdinBuf, payload...)
	return nil
}

// close sends the mandatory end-of-stream marker (a zero-length
// data_stdout) and then the exit-code frame, in that order, then tears down
// the underlying channel — unconditionally, regardless of mode or of any
// failure along the way, and regardless of the handler's own success or
// failure. It runs from the session's deferred cleanup, never from the
// handler: close is unexported so a handler living in another package
// cannot call it itself, enforcing "the handler never closes its own flow"
// structurally rather than just by convention.
func (f *Flow) close(exitCode int64) error {
	var merr *multierror.Error
	if err := f.ch.Send(MsgDataStdout, nil); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("end-of-stream marker: %w", err))
	}
	if err := f.ch.Send(MsgDataExitCode, packExitStatus(exitCode)); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("exit code frame: %w", err))
	}
	if err := f.ch.Close(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("channel close: %w", err))
	}
	return merr.ErrorOrNil()
}
