package bdv

import (
	"sync"
	"sync/atomic"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
)

// MaxCallbackWaiters bounds the number of concurrent long-poll waiters
// per BDV.
const MaxCallbackWaiters = 2

// Callback is the per-transport capability set: implemented by each
// framing transport and injected into the BDV at construction.
type Callback interface {
	// Emit enqueues an event for eventual delivery to the client.
	Emit(Action)
	// Drain blocks until at least one event is available (or the
	// callback is closed) and returns every queued event.
	Drain() ([]Action, error)
	// Close unblocks any waiter in Drain with a TransportClosed error.
	Close()
}

// SocketCallback is the default in-process Callback: a promise/future
// queue bounded by a 2-waiter validity check that rejects excess
// concurrent waiters with Busy, backing the registerCallback
// long-polling primitive.
type SocketCallback struct {
	mu      sync.Mutex
	pending []Action
	waiters int32
	notify  chan struct{}
	done    chan struct{} // closed exactly once, releases every waiter
	closed  bool
}

// NewSocketCallback constructs an empty SocketCallback.
func NewSocketCallback() *SocketCallback {
	return &SocketCallback{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Emit implements Callback.
func (c *SocketCallback) Emit(a Action) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, a)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Drain implements Callback: it blocks on the outbound queue until at
// least one event is ready, subject to the 2-waiter bound.
func (c *SocketCallback) Drain() ([]Action, error) {
	if atomic.AddInt32(&c.waiters, 1) > MaxCallbackWaiters {
		atomic.AddInt32(&c.waiters, -1)
		return nil, corerr.Busy("too many concurrent registerCallback waiters (max %d)", MaxCallbackWaiters)
	}
	defer atomic.AddInt32(&c.waiters, -1)

	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			drained := c.pending
			c.pending = nil
			c.mu.Unlock()
			return drained, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, corerr.New(corerr.KindTransportClosed, "callback closed")
		}

		select {
		case <-c.notify:
		case <-c.done:
		}
	}
}

// Close implements Callback.
func (c *SocketCallback) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
}
