// SPDX-License-Identifier: GPL-3.0-or-later

package wisp

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// DefaultBufferSize is the default CONTINUE credit advertised to the
// client at session start and per TCP stream.
const DefaultBufferSize = 32

// Server accepts WebSocket connections and serves one Wisp session per
// connection.
//
// Construct using [NewServer].
type Server struct {
	// credit is the advertised CONTINUE credit.
	credit uint32

	// dialer opens the upstream transports.
	dialer *Dialer

	// logger is the logger to use.
	logger *log.Logger

	// malformed counts dropped malformed or unknown-type frames.
	malformed atomic.Uint64

	// misuses counts dropped protocol misuses.
	misuses atomic.Uint64

	// trace optionally records every frame crossing the server.
	trace *FrameTrace

	// upgrader upgrades HTTP requests to WebSockets.
	upgrader websocket.Upgrader
}

// ServerOption is an option for [NewServer].
type ServerOption func(srv *Server)

// ServerOptionBufferSize sets the advertised CONTINUE credit.
//
// The default is [DefaultBufferSize]. The credit is advisory: the
// server advertises it once per session and once per TCP stream and
// never updates it afterwards.
func ServerOptionBufferSize(credit uint32) ServerOption {
	return func(srv *Server) {
		srv.credit = credit
	}
}

// ServerOptionLogger sets the logger used by the server.
//
// The default is [log.Default].
func ServerOptionLogger(logger *log.Logger) ServerOption {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// ServerOptionTrace attaches a [*FrameTrace] recording every frame the
// server sends or receives. The caller retains ownership of the trace
// and must close it after the server has stopped.
func ServerOptionTrace(trace *FrameTrace) ServerOption {
	return func(srv *Server) {
		srv.trace = trace
	}
}

// NewServer creates a new [*Server] instance.
func NewServer(options ...ServerOption) *Server {
	srv := &Server{
		credit:    DefaultBufferSize,
		dialer:    NewDialer(),
		logger:    log.Default(),
		malformed: atomic.Uint64{},
		misuses:   atomic.Uint64{},
		trace:     nil,
		upgrader: websocket.Upgrader{
			// Wisp carries its own framing so any origin may speak it.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range options {
		opt(srv)
	}
	return srv
}

// MalformedFrames returns the number of inbound frames dropped because
// they were shorter than a frame header, of an unknown type, or a
// CONNECT whose payload is too short to parse.
func (srv *Server) MalformedFrames() uint64 {
	return srv.malformed.Load()
}

// ProtocolMisuses returns the number of inbound frames dropped because
// they misused the protocol, such as a CONNECT for the reserved stream
// id zero or for an id already in the table.
func (srv *Server) ProtocolMisuses() uint64 {
	return srv.misuses.Load()
}

// ServeHTTP implements [http.Handler] by upgrading the request to a
// WebSocket and serving a Wisp session on it until it goes away.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Printf("wisp: upgrade failed: %s", err.Error())
		return
	}
	defer conn.Close()

	// Bound a single inbound message to the header plus the largest
	// payload we would ever produce ourselves.
	conn.SetReadLimit(frameHeaderSize + maxReadSize)

	srv.logger.Printf("wisp: session open: %s", conn.RemoteAddr())
	newSession(srv, conn).run()
	srv.logger.Printf("wisp: session closed: %s", conn.RemoteAddr())
}

// ListenAndServe listens on the given TCP address and serves Wisp
// sessions until the context is done, at which point the listener is
// closed and nil is returned. A bind failure is returned immediately.
func (srv *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	httpSrv := &http.Server{Handler: srv}
	err = httpSrv.Serve(listener)
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}
