package turn

import (
	"context"
	"sync"
)

// Canceller holds the single live cancellation reference of an orchestrator.
// Starting an operation replaces the reference without signalling the
// previous one; only Cancel signals, and only the current reference.
type Canceller struct {
	mu      sync.Mutex
	next    uint64
	current uint64
	cancel  context.CancelFunc
}

// Start derives a cancellable context for a new operation and makes it the
// current reference. done must be called when the operation finishes; it
// releases the context and clears the reference if it is still current.
func (c *Canceller) Start(parent context.Context) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	c.next++
	id := c.next
	c.current = id
	c.cancel = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if c.current == id {
			c.current = 0
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the current operation. It is a no-op when none is live.
func (c *Canceller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.current = 0
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Active reports whether a cancellation reference is live.
func (c *Canceller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
