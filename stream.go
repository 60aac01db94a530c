// SPDX-License-Identifier: GPL-3.0-or-later

package wisp

// stream is the record for one live stream inside a session.
//
// The record is created by the ingress dispatcher on CONNECT and
// destroyed either by an inbound CLOSE, by the egress pump observing
// EOF or an error, by a failed upstream write of inbound DATA, or by
// session teardown. The closed flag is guarded
// by the owning session's mutex; once set, no further frame for this
// id reaches the outbound queue.
type stream struct {
	// id is the client-allocated stream id, never zero.
	id uint32

	// transport is the owning handle for the upstream socket.
	transport Transport

	// closed is the terminal flag, guarded by session.mu.
	closed bool
}
