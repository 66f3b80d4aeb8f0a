// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"encoding/binary"
	"fmt"
)

// MsgType is the small closed set of frame types recognized by this protocol.
// The values are this module's own assignment; unknown/unassigned values
// decode to MsgUnknown rather than producing an error, so a listener can log
// and continue instead of treating forward-compatible frames as fatal.
type MsgType uint32

const (
	MsgHello                MsgType = 0x70
	MsgJustExec             MsgType = 0x71
	MsgExecCmdline          MsgType = 0x72
	MsgDataStdin            MsgType = 0x73
	MsgDataStdout           MsgType = 0x74
	MsgDataStderr           MsgType = 0x75
	MsgDataExitCode         MsgType = 0x76
	MsgConnectionTerminated MsgType = 0x77

	// MsgUnknown is never sent; recv() reports it for any type value outside
	// the closed set above so callers can distinguish "forward-compatible,
	// ignore" from "fatal protocol violation" per spec.
	MsgUnknown MsgType = 0
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgJustExec:
		return "just_exec"
	case MsgExecCmdline:
		return "exec_cmdline"
	case MsgDataStdin:
		return "data_stdin"
	case MsgDataStdout:
		return "data_stdout"
	case MsgDataStderr:
		return "data_stderr"
	case MsgDataExitCode:
		return "data_exit_code"
	case MsgConnectionTerminated:
		return "connection_terminated"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint32(t))
	}
}

func (t MsgType) known() bool {
	switch t {
	case MsgHello, MsgJustExec, MsgExecCmdline, MsgDataStdin, MsgDataStdout,
		MsgDataStderr, MsgDataExitCode, MsgConnectionTerminated:
		return true
	default:
		return false
	}
}

// headerLen is the fixed on-wire size of a message header: type (u32) then
// length (u32), both little-endian. There is no checksum and no extended
// length encoding — the transport is presumed reliable and in-order.
const headerLen = 8

// packHeader encodes a message header into an 8-byte buffer.
func packHeader(t MsgType, length uint32) [headerLen]byte {
	var b [headerLen]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(t))
	binary.LittleEndian.PutUint32(b[4:8], length)
	return b
}

// unpackHeader decodes an 8-byte header. b must be exactly headerLen bytes.
func unpackHeader(b []byte) (t MsgType, length uint32) {
	raw := binary.LittleEndian.Uint32(b[0:4])
	length = binary.LittleEndian.Uint32(b[4:8])
	if MsgType(raw).known() {
		t = MsgType(raw)
	} else {
		t = MsgUnknown
	}
	return t, length
}

// peerInfoLen is the fixed prefix of a peer_info payload: a u32 version
// followed by reserved bytes. Only the version is meaningful; reserved bytes
// are accepted but ignored.
const peerInfoLen = 4

// protocolVersion is the only version this agent speaks. Any peer_info
// payload with a different version is fatal per spec.
const protocolVersion uint32 = 2

// packPeerInfo encodes a hello payload carrying the given version.
func packPeerInfo(version uint32) []byte {
	b := make([]byte, peerInfoLen)
	binary.LittleEndian.PutUint32(b, version)
	return b
}

// unpackPeerInfo decodes the version prefix of a hello payload.
func unpackPeerInfo(payload []byte) (version uint32, err error) {
	if len(payload) < peerInfoLen {
		return 0, fmt.Errorf("%w: peer_info needs %d bytes, got %d", ErrTruncatedPayload, peerInfoLen, len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:peerInfoLen]), nil
}

// execParamsFixedLen is the fixed prefix of an exec_params payload:
// connect_domain (u32) then connect_port (u32). The cmdline tail follows and
// is variable-length.
const execParamsFixedLen = 8

// execParams is the decoded form of an exec_params payload.
type execParams struct {
	ConnectDomain uint32
	ConnectPort   uint32
	Cmdline       []byte
}

// packExecParams encodes the fixed prefix and cmdline tail of an exec_params
// payload. cmdline is expected to already carry its trailing NUL.
func packExecParams(domain, port uint32, cmdline []byte) []byte {
	b := make([]byte, execParamsFixedLen+len(cmdline))
	binary.LittleEndian.PutUint32(b[0:4], domain)
	binary.LittleEndian.PutUint32(b[4:8], port)
	copy(b[execParamsFixedLen:], cmdline)
	return b
}

// unpackExecParams decodes an exec_params payload. It does not validate the
// cmdline tail's USER:COMMAND\0 structure — that is parseCmdline's job, run
// once the session has committed to the request.
func unpackExecParams(payload []byte) (execParams, error) {
	if len(payload) < execParamsFixedLen {
		return execParams{}, fmt.Errorf("%w: exec_params needs >= %d bytes, got %d", ErrTruncatedPayload, execParamsFixedLen, len(payload))
	}
	return execParams{
		ConnectDomain: binary.LittleEndian.Uint32(payload[0:4]),
		ConnectPort:   binary.LittleEndian.Uint32(payload[4:8]),
		Cmdline:       payload[execParamsFixedLen:],
	}, nil
}

// execParamsPrefix returns the fixed (connect_domain, connect_port) prefix of
// an exec_params payload, verbatim — this is what connection_terminated
// echoes back on the management channel. A payload shorter than the prefix
// is copied and zero-padded to execParamsFixedLen bytes.
func execParamsPrefix(payload []byte) []byte {
	if len(payload) < execParamsFixedLen {
		out := make([]byte, execParamsFixedLen)
		copy(out, payload)
		return out
	}
	out := make([]byte, execParamsFixedLen)
	copy(out, payload[:execParamsFixedLen])
	return out
}

// exitStatusLen is the fixed size of an exit_status payload: an i64 return
// code, little-endian.
const exitStatusLen = 8

// packExitStatus encodes an exit_status payload.
func packExitStatus(code int64) []byte {
	b := make([]byte, exitStatusLen)
	binary.LittleEndian.PutUint64(b, uint64(code))
	return b
}

// unpackExitStatus decodes an exit_status payload.
func unpackExitStatus(payload []byte) (int64, error) {
	if len(payload) < exitStatusLen {
		return 0, fmt.Errorf("%w: exit_status needs %d bytes, got %d", ErrTruncatedPayload, exitStatusLen, len(payload))
	}
	return int64(binary.LittleEndian.Uint64(payload[0:exitStatusLen])), nil
}

// parseCmdline splits a cmdline tail of the form "USER:COMMAND\0" into its
// user and command parts. Absence of the mandatory NUL terminator or the
// colon separator is a fatal session error per spec.
func parseCmdline(raw []byte) (user, command string, err error) {
	if len(raw) == 0 || raw[len(raw)-1] != 0 {
		return "", "", fmt.Errorf("%w: missing NUL terminator", ErrMalformedCmdline)
	}
	body := raw[:len(raw)-1]
	idx := -1
	for i, c := range body {
		if c == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", fmt.Errorf("%w: missing ':' separator", ErrMalformedCmdline)
	}
	return string(body[:idx]), string(body[idx+1:]), nil
}
