//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/netem/blob/6e0d618f0cb48b96c78cd066e23cf3aa1208b1dd/pcap.go
//

package wisp

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// frameTraceLinkType is DLT_USER0, the conventional link type for a
// custom link layer, which is what raw Wisp frames are to a pcap.
const frameTraceLinkType = layers.LinkType(147)

// traceSnapshot is a frame snapshot.
type traceSnapshot struct {
	// data is the data inside the snapshot.
	data []byte

	// length is the original frame length.
	length int
}

// FrameTrace is an open trace of Wisp frames in PCAP format.
//
// Attach to a [*Server] using [ServerOptionTrace]: every frame the
// server sends or receives, across all sessions, is recorded.
//
// Construct using [NewFrameTrace].
type FrameTrace struct {
	// cancel allows to cancel the background goroutine.
	cancel context.CancelFunc

	// dropped is the number of frames dropped.
	dropped atomic.Uint64

	// errch contains the error returned by the background goroutine.
	errch chan error

	// snaps contains the queued snapshots.
	snaps chan traceSnapshot

	// once provides "once" semantics for Close.
	once sync.Once

	// snapSize is the number of bytes to capture per frame.
	snapSize uint16

	// wc is the open writer we're using.
	wc io.WriteCloser
}

// FrameTraceOption is an option for [NewFrameTrace].
type FrameTraceOption func(cfg *frameTraceConfig)

// frameTraceConfig is the internal type modified by [FrameTraceOption].
type frameTraceConfig struct {
	buffer int
}

// DefaultFrameTraceBuffer is the default number of frames the trace
// buffers while waiting for disk I/O.
const DefaultFrameTraceBuffer = 4096

// FrameTraceOptionBuffer sets the number of buffered frames.
//
// The default is [DefaultFrameTraceBuffer] frames. When the buffer is
// full, additional frames are dropped and counted.
func FrameTraceOptionBuffer(buffer int) FrameTraceOption {
	return func(cfg *frameTraceConfig) {
		cfg.buffer = buffer
	}
}

// NewFrameTrace creates a new [*FrameTrace] instance writing to the
// given writer and capturing at most snapSize bytes per frame.
func NewFrameTrace(wc io.WriteCloser, snapSize uint16, options ...FrameTraceOption) *FrameTrace {
	cfg := &frameTraceConfig{
		buffer: DefaultFrameTraceBuffer,
	}
	for _, opt := range options {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &FrameTrace{
		cancel:   cancel,
		dropped:  atomic.Uint64{},
		errch:    make(chan error, 1),
		snaps:    make(chan traceSnapshot, cfg.buffer),
		once:     sync.Once{},
		snapSize: snapSize,
		wc:       wc,
	}

	go tr.saveLoop(ctx)
	return tr
}

// Dump records the given raw Wisp frame.
func (tr *FrameTrace) Dump(frame []byte) {
	snapSize := min(len(frame), int(tr.snapSize))
	frameSnap := make([]byte, snapSize)
	copy(frameSnap, frame)
	select {
	case tr.snaps <- traceSnapshot{data: frameSnap, length: len(frame)}:
	default:
		tr.dropped.Add(1)
	}
}

// Dropped returns the number of frames dropped due to buffer overflow.
//
// Frames are dropped when Dump is called but the internal buffer is
// full, which happens when disk I/O cannot keep up with frame rate.
func (tr *FrameTrace) Dropped() uint64 {
	return tr.dropped.Load()
}

// saveLoop is the loop that dumps frames.
func (tr *FrameTrace) saveLoop(ctx context.Context) {
	// Write the PCAP header
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(uint32(tr.snapSize), frameTraceLinkType); err != nil {
		tr.errch <- err
		return
	}

	// Loop until we're done and write each entry.
	//
	// Make sure we drain the buffer on exit.
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-tr.snaps:
					if err := tr.saveFrame(w, snap); err != nil {
						tr.errch <- err
						return
					}
				default:
					tr.errch <- nil
					return
				}
			}

		case snap := <-tr.snaps:
			if err := tr.saveFrame(w, snap); err != nil {
				tr.errch <- err
				return
			}
		}
	}
}

func (tr *FrameTrace) saveFrame(w *pcapgo.Writer, snap traceSnapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  len(snap.data),
		Length:         snap.length,
		InterfaceIndex: 0,
		AncillaryData:  []any{},
	}
	return w.WritePacket(ci, snap.data)
}

// Close interrupts the background goroutine and waits for it to join
// before closing the capture file.
func (tr *FrameTrace) Close() (err error) {
	tr.once.Do(func() {
		// notify the background goroutine to terminate
		tr.cancel()

		// wait for the goroutine to terminate
		err1 := <-tr.errch

		// close the open capture file
		err2 := tr.wc.Close()

		// assemble a common error (nil on success)
		err = errors.Join(err1, err2)
	})
	return
}
