// Package transport implements the duplex message channel a proxy and
// the root exchange envelopes over, and the WCP (Web Connection
// Protocol) handshake that establishes one. Conn stands in for a
// browser MessagePort — spec.md §1 explicitly scopes the real
// `getAgent()` postMessage plumbing out ("a thin helper"); what must
// be implemented is everything downstream of having a connected
// duplex channel, which this package provides as a transport-neutral
// interface with two concrete backings.
package transport

import "context"

// Conn is a duplex channel of raw JSON envelope bytes, one per
// connected proxy. It is the Go analogue of a MessagePort after
// port.start() has been called (§4.1 step 4).
type Conn interface {
	// Send writes one envelope. Safe for concurrent use.
	Send(ctx context.Context, line []byte) error
	// Recv returns a channel of inbound envelope bytes; it is closed
	// when the connection ends.
	Recv() <-chan []byte
	// Close tears down the connection. Idempotent.
	Close() error
}
