// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"sync"
	"testing"

	"github.com/shoenig/test/must"
)

func TestHandshakeHappyPath(t *testing.T) {
	server, client := pipeChannels(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = ServerHandshake(server)
	}()

	clientErr := ClientHandshake(client)
	wg.Wait()

	must.NoError(t, serverErr)
	must.NoError(t, clientErr)
}

func TestHandshakeVersionMismatch(t *testing.T) {
	server, client := pipeChannels(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Act as a peer speaking a different version.
		_ = server.Send(MsgHello, packPeerInfo(3))
		_, _, _ = server.Recv()
	}()

	err := ClientHandshake(client)
	// The client sends nothing after rejecting the version; closing it ends
	// the peer's pending Recv.
	_ = client.Close()
	wg.Wait()
	must.ErrorIs(t, err, ErrVersionMismatch)
}

func TestHandshakeUnexpectedFrameType(t *testing.T) {
	server, client := pipeChannels(t)

	go func() {
		_ = server.Send(MsgDataStdout, nil)
	}()

	err := ClientHandshake(client)
	must.ErrorIs(t, err, ErrProtocol)
}

func TestHandshakeEOFBeforeHello(t *testing.T) {
	server, client := pipeChannels(t)
	must.NoError(t, server.Close())

	err := ClientHandshake(client)
	must.ErrorIs(t, err, ErrProtocol)
}
