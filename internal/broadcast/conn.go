package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrConnClosed is returned by Send after Close
var ErrConnClosed = errors.New("connection closed")

// ErrSlowConsumer is returned when a ChanConn buffer is full
var ErrSlowConsumer = errors.New("subscriber buffer full")

// ChanConn is an in-process Conn backed by a buffered channel.
// A full buffer fails the send rather than blocking the publisher.
type ChanConn struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChanConn creates a ChanConn with the given buffer size
func NewChanConn(buffer int) *ChanConn {
	return &ChanConn{ch: make(chan Event, buffer)}
}

// Events returns the receive side; it is closed when the connection closes
func (c *ChanConn) Events() <-chan Event {
	return c.ch
}

// Send enqueues event without blocking
func (c *ChanConn) Send(ctx context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.ch <- event:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close closes the event channel. Safe to call more than once.
func (c *ChanConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
