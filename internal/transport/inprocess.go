package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("transport: connection closed")

// InProcessConn is a channel-backed Conn for a proxy hosted in the
// same JS realm as the root (spec.md §4.1 step 1: "if the handle is
// present, return it immediately" — no postMessage round trip at all).
// It is symmetric: NewInProcessPair returns the two ends wired
// together, each side's Send feeding the other's Recv.
type InProcessConn struct {
	out    chan []byte
	in     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewInProcessPair returns two connected ends.
func NewInProcessPair() (a, b *InProcessConn) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	a = &InProcessConn{out: c1, in: c2}
	b = &InProcessConn{out: c2, in: c1}
	return a, b
}

func (c *InProcessConn) Send(ctx context.Context, line []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.mu.Unlock()

	cp := append([]byte(nil), line...)
	select {
	case c.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *InProcessConn) Recv() <-chan []byte {
	return c.in
}

func (c *InProcessConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.out)
	return nil
}
