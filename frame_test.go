// SPDX-License-Identifier: GPL-3.0-or-later

package wisp_test

import (
	"testing"

	"github.com/bassosimone/wisp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []wisp.Frame{
		{Type: wisp.PacketConnect, StreamID: 1, Payload: []byte{0x01, 0x50, 0x00, 'l', 'o'}},
		{Type: wisp.PacketData, StreamID: 0xdeadbeef, Payload: []byte("hello")},
		{Type: wisp.PacketContinue, StreamID: 0, Payload: []byte{0x20, 0x00, 0x00, 0x00}},
		{Type: wisp.PacketClose, StreamID: 0xffffffff, Payload: []byte{0x02}},
		{Type: wisp.PacketData, StreamID: 7, Payload: nil},
	}
	for _, frame := range frames {
		data := wisp.MarshalFrame(frame)
		require.Len(t, data, 5+len(frame.Payload))

		parsed, err := wisp.ParseFrame(data)
		require.NoError(t, err)
		assert.Equal(t, frame.Type, parsed.Type)
		assert.Equal(t, frame.StreamID, parsed.StreamID)
		assert.Equal(t, append([]byte{}, frame.Payload...), append([]byte{}, parsed.Payload...))
	}
}

func TestFrameWireLayout(t *testing.T) {
	data := wisp.MarshalFrame(wisp.Frame{
		Type:     wisp.PacketData,
		StreamID: 0x04030201,
		Payload:  []byte{0xaa},
	})
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x03, 0x04, 0xaa}, data)
}

func TestParseFrameTooShort(t *testing.T) {
	for size := 0; size < 5; size++ {
		_, err := wisp.ParseFrame(make([]byte, size))
		require.ErrorIs(t, err, wisp.ErrFrameTooShort)
	}

	frame, err := wisp.ParseFrame(make([]byte, 5))
	require.NoError(t, err)
	assert.Empty(t, frame.Payload)
}

func TestParseConnect(t *testing.T) {
	t.Run("tcp", func(t *testing.T) {
		payload := []byte{0x01, 0x50, 0x00, 'l', 'o', 'c', 'a', 'l', 'h', 'o', 's', 't'}
		creq, err := wisp.ParseConnect(payload)
		require.NoError(t, err)
		assert.Equal(t, wisp.StreamTCP, creq.Kind)
		assert.Equal(t, uint16(80), creq.Port)
		assert.Equal(t, "localhost", creq.Host)
	})

	t.Run("udp", func(t *testing.T) {
		payload := []byte{0x02, 0x35, 0x00, '1', '.', '1', '.', '1', '.', '1'}
		creq, err := wisp.ParseConnect(payload)
		require.NoError(t, err)
		assert.Equal(t, wisp.StreamUDP, creq.Kind)
		assert.Equal(t, uint16(53), creq.Port)
		assert.Equal(t, "1.1.1.1", creq.Host)
	})

	t.Run("too_short", func(t *testing.T) {
		for size := 0; size < 4; size++ {
			_, err := wisp.ParseConnect(make([]byte, size))
			require.ErrorIs(t, err, wisp.ErrConnectTooShort)
		}
	})
}
