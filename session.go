// SPDX-License-Identifier: GPL-3.0-or-later

package wisp

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// outboxBuffer is the capacity of a session's outbound frame queue.
const outboxBuffer = 1024

// session is the state attached to one accepted WebSocket.
//
// Concurrency discipline: the ingress goroutine (running [*session.run])
// dispatches inbound frames; each live stream has one egress pump
// goroutine; a single writer goroutine owns the WebSocket send side and
// drains the outbox queue. The stream table is guarded by mu, and every
// outbound enqueue for a live stream happens while holding mu, which is
// what makes a stream's CLOSE the last frame it ever produces.
type session struct {
	// conn is the WebSocket we serve.
	conn *websocket.Conn

	// srv is the server that accepted us.
	srv *Server

	// outbox queues marshaled frames for the writer goroutine.
	outbox chan []byte

	// drained is closed when the session enters the draining state.
	drained chan struct{}

	// drainOnce provides "once" semantics for closing drained.
	drainOnce sync.Once

	// mu guards draining, streams, and each stream's closed flag.
	mu sync.RWMutex

	// draining indicates no new frames may be dispatched or sent.
	draining bool

	// streams is the stream table, keyed by stream id.
	streams map[uint32]*stream

	// wg waits for the writer and the egress pumps.
	wg sync.WaitGroup
}

// newSession creates a [*session] serving the given WebSocket.
func newSession(srv *Server, conn *websocket.Conn) *session {
	return &session{
		conn:      conn,
		srv:       srv,
		outbox:    make(chan []byte, outboxBuffer),
		drained:   make(chan struct{}),
		drainOnce: sync.Once{},
		mu:        sync.RWMutex{},
		draining:  false,
		streams:   make(map[uint32]*stream),
		wg:        sync.WaitGroup{},
	}
}

// run serves the session until the WebSocket goes away, then tears
// down every live stream and joins the spawned goroutines.
func (sx *session) run() {
	// 1. spawn the writer goroutine owning the WebSocket send side
	sx.wg.Add(1)
	go sx.writerLoop()

	// 2. the initial CONTINUE must be the first frame on the wire
	sx.enqueue(MarshalFrame(continueFrame(0, sx.srv.credit)))

	// 3. dispatch inbound messages until close, EOF, or fatal error
	for {
		kind, message, err := sx.conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		sx.dispatch(message)
	}

	// 4. drain the session and wait for pumps and writer to exit
	sx.teardown()
	sx.wg.Wait()
}

// writerLoop sends queued frames until the queue is abandoned or a
// send fails. A send failure is terminal for the whole session.
func (sx *session) writerLoop() {
	defer sx.wg.Done()
	for {
		select {
		case data := <-sx.outbox:
			if err := sx.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				sx.teardown()
				return
			}

		case <-sx.drained:
			return
		}
	}
}

// enqueue hands a marshaled frame to the writer goroutine. It reports
// false when the session is draining and the frame was discarded.
func (sx *session) enqueue(data []byte) bool {
	if sx.srv.trace != nil {
		sx.srv.trace.Dump(data)
	}
	select {
	case sx.outbox <- data:
		return true
	case <-sx.drained:
		return false
	}
}

// sendStreamFrame enqueues a frame belonging to a live stream. The
// closed check and the enqueue happen under mu so that no DATA frame
// can slip behind the stream's CLOSE onto the queue.
func (sx *session) sendStreamFrame(st *stream, frame Frame) bool {
	sx.mu.RLock()
	defer sx.mu.RUnlock()
	if st.closed {
		return false
	}
	return sx.enqueue(MarshalFrame(frame))
}

// lookup returns the stream record for the given id, or nil.
func (sx *session) lookup(streamID uint32) *stream {
	sx.mu.RLock()
	defer sx.mu.RUnlock()
	return sx.streams[streamID]
}

// dispatch routes one inbound WebSocket message.
func (sx *session) dispatch(message []byte) {
	if sx.srv.trace != nil {
		sx.srv.trace.Dump(message)
	}

	frame, err := ParseFrame(message)
	if err != nil {
		sx.srv.malformed.Add(1)
		return
	}

	switch frame.Type {
	case PacketConnect:
		sx.handleConnect(frame)

	case PacketData:
		sx.handleData(frame)

	case PacketClose:
		sx.handleClose(frame)

	case PacketContinue:
		// advisory credit from the client: nothing to do

	default:
		sx.srv.malformed.Add(1)
	}
}

// handleConnect opens a new stream for an inbound CONNECT frame.
func (sx *session) handleConnect(frame Frame) {
	// 1. CONNECT on the reserved id or an id already in use is a
	// protocol misuse: we drop it and bump the counter
	if frame.StreamID == 0 || sx.lookup(frame.StreamID) != nil {
		sx.srv.misuses.Add(1)
		return
	}

	// 2. validate the payload shape
	creq, err := ParseConnect(frame.Payload)
	if err != nil {
		sx.srv.malformed.Add(1)
		return
	}
	if creq.Kind != StreamTCP && creq.Kind != StreamUDP {
		sx.srv.misuses.Add(1)
		return
	}

	// 3. resolve and connect; on failure answer CLOSE with the
	// narrowest applicable reason and never insert into the table
	transport, err := sx.srv.dialer.DialStream(context.Background(), creq.Kind, creq.Host, creq.Port)
	if err != nil {
		reason := classifyDialError(err)
		sx.srv.logger.Printf("wisp: stream %d: connect %s:%d failed: %s",
			frame.StreamID, creq.Host, creq.Port, err.Error())
		sx.enqueue(MarshalFrame(closeFrame(frame.StreamID, reason)))
		return
	}

	// 4. insert into the table and, for TCP only, advertise the
	// per-stream credit before any DATA can be produced
	st := &stream{id: frame.StreamID, transport: transport, closed: false}
	sx.mu.Lock()
	if sx.draining {
		sx.mu.Unlock()
		_ = transport.Close()
		return
	}
	sx.streams[frame.StreamID] = st
	if creq.Kind == StreamTCP {
		sx.enqueue(MarshalFrame(continueFrame(frame.StreamID, sx.srv.credit)))
	}
	sx.mu.Unlock()

	// 5. attach the egress pump owning the transport's read side
	sx.wg.Add(1)
	go sx.pump(st)
}

// handleData forwards an inbound DATA payload to the upstream socket.
func (sx *session) handleData(frame Frame) {
	st := sx.lookup(frame.StreamID)
	if st == nil {
		return // the peer may have closed concurrently
	}
	if _, err := st.transport.Write(frame.Payload); err != nil {
		sx.closeStream(frame.StreamID, CloseNetworkError, true)
	}
}

// handleClose tears down a stream the peer has closed. The peer
// initiated the close so we do not echo a CLOSE back.
func (sx *session) handleClose(frame Frame) {
	sx.closeStream(frame.StreamID, CloseNormal, false)
}

// pump is the egress pump: it moves upstream bytes into DATA frames
// until the transport reports EOF or an error, then closes the stream
// with the corresponding reason and exits.
func (sx *session) pump(st *stream) {
	defer sx.wg.Done()
	buff := make([]byte, maxReadSize)
	for {
		count, err := st.transport.Read(buff)
		if err != nil {
			reason := CloseNetworkError
			if errors.Is(err, io.EOF) {
				reason = CloseNormal
			}
			sx.closeStream(st.id, reason, true)
			return
		}
		frame := Frame{Type: PacketData, StreamID: st.id, Payload: buff[:count]}
		if !sx.sendStreamFrame(st, frame) {
			return
		}
	}
}

// closeStream removes a stream from the table, marks it closed, and
// closes its socket. Removal and the closed flag are a single step
// under mu, so a concurrent pump or dispatcher cannot observe a
// half-removed entry. With notify, the peer receives a CLOSE frame,
// enqueued under the same critical section for terminality.
func (sx *session) closeStream(streamID uint32, reason CloseReason, notify bool) {
	sx.mu.Lock()
	st, found := sx.streams[streamID]
	if !found || st.closed {
		sx.mu.Unlock()
		return
	}
	st.closed = true
	delete(sx.streams, streamID)
	if notify {
		sx.enqueue(MarshalFrame(closeFrame(streamID, reason)))
	}
	sx.mu.Unlock()
	_ = st.transport.Close()
}

// teardown transitions the session into the draining state: the table
// is emptied and every upstream handle is closed, which is also the
// cancellation signal for the pumps. Safe to call more than once and
// from any goroutine.
func (sx *session) teardown() {
	// 1. close drained before taking the lock: a pump blocked inside
	// enqueue while holding the read lock must observe it and let go,
	// otherwise we could not acquire the write lock below
	sx.drainOnce.Do(func() {
		close(sx.drained)
	})

	// 2. flip to draining exactly once
	sx.mu.Lock()
	if sx.draining {
		sx.mu.Unlock()
		return
	}
	sx.draining = true
	closing := make([]*stream, 0, len(sx.streams))
	for _, st := range sx.streams {
		st.closed = true
		closing = append(closing, st)
	}
	clear(sx.streams)
	sx.mu.Unlock()

	// 3. make sure the ingress loop terminates as well
	_ = sx.conn.Close()

	// 4. best-effort close of every upstream socket; the in-flight
	// read inside each pump returns and the pump exits
	for _, st := range closing {
		_ = st.transport.Close()
	}
}
