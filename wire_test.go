// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestHeaderRoundTrip(t *testing.T) {
	header := packHeader(MsgExecCmdline, 1234)
	typ, length := unpackHeader(header[:])
	must.Eq(t, MsgExecCmdline, typ)
	must.Eq(t, uint32(1234), length)
}

func TestHeaderUnknownType(t *testing.T) {
	header := packHeader(MsgType(0xdead), 0)
	typ, _ := unpackHeader(header[:])
	must.Eq(t, MsgUnknown, typ)
}

func TestPeerInfoRoundTrip(t *testing.T) {
	payload := packPeerInfo(2)
	version, err := unpackPeerInfo(payload)
	must.NoError(t, err)
	must.Eq(t, uint32(2), version)
}

func TestPeerInfoTruncated(t *testing.T) {
	_, err := unpackPeerInfo([]byte{1, 2})
	must.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestExecParamsRoundTrip(t *testing.T) {
	payload := packExecParams(7, 512, []byte("alice:cat\x00"))
	params, err := unpackExecParams(payload)
	must.NoError(t, err)
	must.Eq(t, uint32(7), params.ConnectDomain)
	must.Eq(t, uint32(512), params.ConnectPort)
	must.Eq(t, []byte("alice:cat\x00"), params.Cmdline)
}

func TestExecParamsTruncated(t *testing.T) {
	_, err := unpackExecParams([]byte{1, 2, 3})
	must.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestExecParamsPrefix(t *testing.T) {
	payload := packExecParams(7, 512, []byte("alice:cat\x00"))
	prefix := execParamsPrefix(payload)
	must.Eq(t, execParamsFixedLen, len(prefix))
	must.Eq(t, payload[:execParamsFixedLen], prefix)
}

func TestExitStatusRoundTrip(t *testing.T) {
	for _, code := range []int64{0, 255, -1, 1 << 40} {
		payload := packExitStatus(code)
		got, err := unpackExitStatus(payload)
		must.NoError(t, err)
		must.Eq(t, code, got)
	}
}

func TestExitStatusTruncated(t *testing.T) {
	_, err := unpackExitStatus([]byte{1, 2, 3})
	must.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestParseCmdline(t *testing.T) {
	user, cmd, err := parseCmdline([]byte("alice:cat\x00"))
	must.NoError(t, err)
	must.Eq(t, "alice", user)
	must.Eq(t, "cat", cmd)
}

func TestParseCmdlineColonInCommand(t *testing.T) {
	user, cmd, err := parseCmdline([]byte("alice:echo a:b\x00"))
	must.NoError(t, err)
	must.Eq(t, "alice", user)
	must.Eq(t, "echo a:b", cmd)
}

func TestParseCmdlineMissingNUL(t *testing.T) {
	_, _, err := parseCmdline([]byte("alice:cat"))
	must.ErrorIs(t, err, ErrMalformedCmdline)
}

func TestParseCmdlineMissingColon(t *testing.T) {
	_, _, err := parseCmdline([]byte("no-colon\x00"))
	must.ErrorIs(t, err, ErrMalformedCmdline)
}

func TestParseCmdlineEmpty(t *testing.T) {
	_, _, err := parseCmdline(nil)
	must.ErrorIs(t, err, ErrMalformedCmdline)
}

func TestMsgTypeString(t *testing.T) {
	must.Eq(t, "exec_cmdline", MsgExecCmdline.String())
	must.StrContains(t, MsgType(0x99).String(), "unknown")
}
