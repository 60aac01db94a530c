//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/unetstack.go
//

package wisp

import (
	"net"
)

// maxReadSize caps the number of bytes a single upstream read may
// return, and therefore the payload size of a single DATA frame.
const maxReadSize = 65536

// Transport is the capability surface shared by the TCP and UDP
// backends of a stream. The owning stream record holds exactly one
// Transport and the egress pump owns its read side.
type Transport interface {
	// Read fills buff with upstream bytes. For TCP it returns
	// whatever bytes are currently available and [io.EOF] on
	// half-close; for UDP it returns exactly one datagram.
	Read(buff []byte) (int, error)

	// Write sends data upstream. For TCP it writes all bytes; for
	// UDP it sends data as one datagram to the stored peer.
	Write(data []byte) (int, error)

	// Close releases the underlying socket. Close is idempotent.
	Close() error

	// Kind returns the stream kind of this transport.
	Kind() StreamKind

	// RemoteAddr returns the resolved remote address.
	RemoteAddr() net.Addr
}

// tcpTransport wraps a connected [net.Conn] carrying a TCP stream.
type tcpTransport struct {
	conn net.Conn
}

var _ Transport = &tcpTransport{}

// Read implements [Transport].
func (tt *tcpTransport) Read(buff []byte) (int, error) {
	return tt.conn.Read(buff)
}

// Write implements [Transport].
func (tt *tcpTransport) Write(data []byte) (int, error) {
	return tt.conn.Write(data)
}

// Close implements [Transport].
func (tt *tcpTransport) Close() error {
	return tt.conn.Close()
}

// Kind implements [Transport].
func (tt *tcpTransport) Kind() StreamKind {
	return StreamTCP
}

// RemoteAddr implements [Transport].
func (tt *tcpTransport) RemoteAddr() net.Addr {
	return tt.conn.RemoteAddr()
}

// udpTransport wraps an unbound [*net.UDPConn] plus the resolved peer
// address used as the default destination for every datagram.
type udpTransport struct {
	// pconn is the unbound UDP socket.
	pconn *net.UDPConn

	// remote is the resolved peer address.
	remote *net.UDPAddr
}

var _ Transport = &udpTransport{}

// Read implements [Transport].
//
// Datagrams arriving from sources other than the stored peer are
// silently dropped.
func (ut *udpTransport) Read(buff []byte) (int, error) {
	for {
		count, addr, err := ut.pconn.ReadFromUDP(buff)
		if err != nil {
			return 0, err
		}
		if !addr.IP.Equal(ut.remote.IP) || addr.Port != ut.remote.Port {
			continue
		}
		return count, nil
	}
}

// Write implements [Transport].
func (ut *udpTransport) Write(data []byte) (int, error) {
	return ut.pconn.WriteToUDP(data, ut.remote)
}

// Close implements [Transport].
func (ut *udpTransport) Close() error {
	return ut.pconn.Close()
}

// Kind implements [Transport].
func (ut *udpTransport) Kind() StreamKind {
	return StreamUDP
}

// RemoteAddr implements [Transport].
func (ut *udpTransport) RemoteAddr() net.Addr {
	return ut.remote
}
