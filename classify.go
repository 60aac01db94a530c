//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Error classification table in the spirit of ooni/netem's unetstack.go
//

package wisp

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// reasonsMap maps platform errno values to wisp close reasons.
//
// Anything that neither the table nor the timeout checks in
// [classifyDialError] recognize falls back to [CloseUnreachable],
// which is the broadest of the connect-failure reasons.
var reasonsMap = map[error]CloseReason{
	syscall.ECONNREFUSED:  CloseRefused,
	syscall.ETIMEDOUT:     CloseTimeout,
	syscall.EHOSTUNREACH:  CloseUnreachable,
	syscall.ENETUNREACH:   CloseUnreachable,
	syscall.EHOSTDOWN:     CloseUnreachable,
	syscall.ENETDOWN:      CloseUnreachable,
	syscall.EACCES:        CloseUnreachable,
	syscall.EADDRNOTAVAIL: CloseUnreachable,
}

// classifyDialError maps a connect or resolve error to the close
// reason the server should answer the CONNECT with.
//
// We match structured error kinds rather than message substrings: the
// errno wrapped by the [*net.OpError] chain decides REFUSED versus
// TIMEOUT, a [*net.DNSError] means the name never resolved, and a
// timeout reported through the [net.Error] interface (including a
// context deadline) means the attempt timed out.
func classifyDialError(err error) CloseReason {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CloseUnreachable
	}
	for errno, reason := range reasonsMap {
		if errors.Is(err, errno) {
			return reason
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CloseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CloseTimeout
	}
	return CloseUnreachable
}
