// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"net"
	"sync"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/domu-agent/qrexec/transport/netconn"
)

func pipeChannels(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewChannel(netconn.New(a)), NewChannel(netconn.New(b))
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	left, right := pipeChannels(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		must.NoError(t, left.Send(MsgDataStdout, []byte("hello")))
	}()

	typ, payload, err := right.Recv()
	wg.Wait()
	must.NoError(t, err)
	must.Eq(t, MsgDataStdout, typ)
	must.Eq(t, []byte("hello"), payload)
}

func TestChannelRecvZeroLengthPayload(t *testing.T) {
	left, right := pipeChannels(t)

	go func() {
		_ = left.Send(MsgDataStdout, nil)
	}()

	typ, payload, err := right.Recv()
	must.NoError(t, err)
	must.Eq(t, MsgDataStdout, typ)
	must.Eq(t, 0, len(payload))
}

func TestChannelRecvAcrossMultipleFrames(t *testing.T) {
	left, right := pipeChannels(t)

	go func() {
		_ = left.Send(MsgDataStdin, []byte("one"))
		_ = left.Send(MsgDataStdin, []byte("two"))
	}()

	typ, p1, err := right.Recv()
	must.NoError(t, err)
	must.Eq(t, MsgDataStdin, typ)
	must.Eq(t, []byte("one"), p1)

	typ, p2, err := right.Recv()
	must.NoError(t, err)
	must.Eq(t, MsgDataStdin, typ)
	must.Eq(t, []byte("two"), p2)
}

func TestChannelRecvEOF(t *testing.T) {
	left, right := pipeChannels(t)
	must.NoError(t, left.Close())

	_, _, err := right.Recv()
	must.ErrorIs(t, err, ErrEOF)
}

func TestChannelSendAfterClose(t *testing.T) {
	left, right := pipeChannels(t)
	must.NoError(t, right.Close())
	must.NoError(t, left.Close())

	err := left.Send(MsgHello, nil)
	must.Error(t, err)
}

func TestChannelOperationsAfterOwnCloseReturnErrClosed(t *testing.T) {
	left, _ := pipeChannels(t)
	must.NoError(t, left.Close())

	err := left.Send(MsgHello, nil)
	must.ErrorIs(t, err, ErrClosed)

	_, _, err = left.Recv()
	must.ErrorIs(t, err, ErrClosed)
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	left, _ := pipeChannels(t)
	must.NoError(t, left.Close())
	must.NoError(t, left.Close())
}
