package transport

import (
	"net"
	"sync"

	"clobsim/internal/registry"
)

// conn adapts a net.Conn into a registry.Participant: a stable ID plus
// a way to push outbound frames. Writes are serialized with a mutex
// since execution reports and book deltas for this connection can be
// produced by another connection's goroutine (through the matcher)
// while this connection's own read loop runs in its own goroutine.
type conn struct {
	id     registry.ID
	netc   net.Conn
	mu     sync.Mutex
	closed bool
}

func newConn(netc net.Conn) *conn {
	return &conn{id: registry.NewID(), netc: netc}
}

func (c *conn) ID() registry.ID { return c.id }

func (c *conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_, err := c.netc.Write(frame)
	return err
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.netc.Close()
}
