// Package publish transfers snapshot nodes from the producer to the consumer.
package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"stacksnap/snapshot"
)

// ErrClosed is returned by Receive once the channel is closed and empty
var ErrClosed = errors.New("publish channel closed")

// Event hands a node, or a restructure request, to the consumer.
// Restructure events carry no node.
type Event struct {
	Generation  uuid.UUID
	Node        snapshot.Node
	Restructure bool
}

// Channel is an unbounded FIFO of events. Publish never blocks.
type Channel struct {
	mu       sync.Mutex
	queue    []Event
	closed   bool
	notify   chan struct{}
	inFlight atomic.Int64
}

func New() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Publish appends ev. Ownership of ev.Node's consumer state moves to the
// receiver. It returns false when the channel is closed.
func (c *Channel) Publish(ev Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	c.inFlight.Add(1)
	c.mu.Unlock()

	c.signal()
	return true
}

// TryReceive pops the oldest event without blocking
func (c *Channel) TryReceive() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return Event{}, false
	}
	ev := c.queue[0]
	c.queue[0] = Event{}
	c.queue = c.queue[1:]
	c.inFlight.Add(-1)
	return ev, true
}

// Receive blocks until an event is available, ctx is done or the channel
// is closed and empty.
func (c *Channel) Receive(ctx context.Context) (Event, error) {
	for {
		if ev, ok := c.TryReceive(); ok {
			return ev, nil
		}

		c.mu.Lock()
		closed := c.closed && len(c.queue) == 0
		c.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.notify:
		}
	}
}

// Drain pops every queued event
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.queue
	c.queue = nil
	c.inFlight.Add(-int64(len(events)))
	return events
}

// Notify returns a channel that receives a value after events are published
// or the channel is closed. Wakeups may be coalesced.
func (c *Channel) Notify() <-chan struct{} {
	return c.notify
}

// Close stops accepting events. Queued events can still be received.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.signal()
}

// Pending returns the number of queued events
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// InFlight returns the number of published but not yet received events
func (c *Channel) InFlight() int64 {
	return c.inFlight.Load()
}
