// SPDX-License-Identifier: GPL-3.0-or-later

package wisp_test

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/iotest"
	"github.com/bassosimone/wisp"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerListenAndServeBindFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	srv := wisp.NewServer()
	err = srv.ListenAndServe(context.Background(), listener.Addr().String())
	require.Error(t, err)
}

func TestServerListenAndServeStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := wisp.NewServer()

	errch := make(chan error, 1)
	go func() {
		errch <- srv.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	cancel()
	select {
	case err := <-errch:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRecordsFrameTrace(t *testing.T) {
	var (
		mu     sync.Mutex
		buffer bytes.Buffer
	)
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(data []byte) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return buffer.Write(data)
		},
		CloseFunc: func() error {
			return nil
		},
	}
	trace := wisp.NewFrameTrace(wc, 1500)

	srv := wisp.NewServer(wisp.ServerOptionTrace(trace))
	conn := dialSession(t, srv)
	expectHandshake(t, conn, wisp.DefaultBufferSize)

	// an inbound frame for an unknown id is dropped by the session
	// but still recorded by the trace
	sendFrame(t, conn, wisp.Frame{Type: wisp.PacketData, StreamID: 9, Payload: []byte("x")})
	expectNoFrame(t, conn)
	require.NoError(t, trace.Close())

	mu.Lock()
	defer mu.Unlock()
	reader, err := pcapgo.NewReader(bytes.NewReader(buffer.Bytes()))
	require.NoError(t, err)

	// first recorded frame: the outbound handshake CONTINUE
	data, _, err := reader.ReadPacketData()
	require.NoError(t, err)
	frame, err := wisp.ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, wisp.PacketContinue, frame.Type)
	assert.Equal(t, uint32(0), frame.StreamID)

	// second recorded frame: the inbound DATA
	data, _, err = reader.ReadPacketData()
	require.NoError(t, err)
	frame, err = wisp.ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, wisp.PacketData, frame.Type)
	assert.Equal(t, uint32(9), frame.StreamID)
}
