package app

import (
	"sync"

	"github.com/dkeye/callstream/internal/core"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
	limit  int // frames accepted before the connection drops; 0 unlimited
	closes int
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.limit != 0 && len(c.frames) == c.limit {
		c.closed = true
		return core.ErrConnectionClosed
	}
	c.frames = append(c.frames, raw)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.closes++
	c.mu.Unlock()
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}
