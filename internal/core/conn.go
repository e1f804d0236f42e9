package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/wiretask-server/internal/store"
)

// Transport is the network side of a connection.
type Transport interface {
	// Ping sends a protocol ping and blocks until the pong arrives or ctx ends.
	Ping(ctx context.Context) error
	// Close terminates the underlying socket.
	Close(reason string)
}

// Conn is one live client connection. Outbound frames are queued and drained
// by the transport's writer; the queue is never closed, Done signals the end.
type Conn struct {
	ID string

	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool
	limitOnce sync.Once
	limiter   *rateLimiter

	mu    sync.RWMutex
	user  *store.User
	token string
}

// NewConn creates a connection with an outbound queue of the given size.
func NewConn(id string, t Transport, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	c := &Conn{
		ID:        id,
		transport: t,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Outbound returns the queue of frames waiting to be written.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a frame without blocking. It reports false when the connection
// is closed or its queue is full.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Reply queues a frame, waiting for room in the queue.
func (c *Conn) Reply(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkAlive records liveness evidence.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// Close marks the connection closed and terminates the transport. Safe to call
// more than once.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.transport != nil {
			c.transport.Close(reason)
		}
	})
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Identity returns the authenticated user and token, or nil when anonymous.
func (c *Conn) Identity() (*store.User, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.token
}

// UserID returns the authenticated user id, or 0 when anonymous.
func (c *Conn) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return 0
	}
	return c.user.ID
}

func (c *Conn) setIdentity(user *store.User, token string) {
	c.mu.Lock()
	c.user = user
	c.token = token
	c.mu.Unlock()
}

func (c *Conn) allow(limit int, window time.Duration, now time.Time) bool {
	c.limitOnce.Do(func() { c.limiter = newRateLimiter(limit, window) })
	return c.limiter.allow(now)
}
