// SPDX-License-Identifier: GPL-3.0-or-later

package wisp

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/bassosimone/runtimex"
)

// Dialer opens [Transport] instances pretty much like [*net.Dialer]
// except that here the network is selected by a Wisp [StreamKind] and
// the result is the capability object a stream record owns.
//
// The zero value is invalid. Construct using [NewDialer].
type Dialer struct {
	// dialer is the TCP dialer to use.
	dialer *net.Dialer

	// resolver is the resolver used for UDP peers.
	resolver *net.Resolver
}

// NewDialer creates a new [*Dialer] instance.
func NewDialer() *Dialer {
	return &Dialer{
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
	}
}

// DialStream opens the transport for a stream of the given kind.
//
// For TCP we resolve and connect in one step. For UDP we resolve the
// host to a concrete peer address and create an unbound socket; no
// packets flow until the first DATA frame.
func (d *Dialer) DialStream(ctx context.Context, kind StreamKind, host string, port uint16) (Transport, error) {
	switch kind {
	case StreamTCP:
		epnt := net.JoinHostPort(host, strconv.Itoa(int(port)))
		conn, err := d.dialer.DialContext(ctx, "tcp", epnt)
		if err != nil {
			return nil, err
		}
		return &tcpTransport{conn: conn}, nil

	case StreamUDP:
		addrs, err := d.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		runtimex.Assert(len(addrs) > 0)
		remote := &net.UDPAddr{
			IP:   addrs[0].IP,
			Port: int(port),
			Zone: addrs[0].Zone,
		}
		pconn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return nil, err
		}
		return &udpTransport{pconn: pconn, remote: remote}, nil

	default:
		return nil, syscall.EPROTOTYPE
	}
}
