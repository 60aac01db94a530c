// SPDX-License-Identifier: GPL-3.0-or-later

// Package wisp implements the server side of the Wisp protocol: a
// multiplexing transport carrying many independent TCP and UDP streams
// over a single WebSocket connection.
//
// A client opens one WebSocket to a [*Server] and uses framed control
// messages to open, feed, and close outbound TCP connections and UDP
// flows. The server terminates those streams against the real network
// and relays bytes in both directions.
//
// The typical usage is to create a [*Server] using [NewServer] and run
// it with [*Server.ListenAndServe]. Each accepted WebSocket becomes one
// session with its own stream table; streams are keyed by a client
// allocated 32-bit id and torn down either by an explicit CLOSE frame,
// by the upstream socket reporting EOF or an error, or by the WebSocket
// going away.
//
// The wire format is binary: every Wisp packet travels as exactly one
// WebSocket binary message and consists of a one-byte type, a four-byte
// little-endian stream id, and an opaque payload. See [ParseFrame] and
// [MarshalFrame] for the codec and [ParseConnect] for the CONNECT
// payload layout.
//
// The [*FrameTrace] type allows you to capture every frame crossing the
// server in a PCAP format so that you can inspect what happened using
// tools such as wireshark.
package wisp
