// Package notify serializes user-visible progress events. A task walking
// through many sub-states in quick succession must not flood the observing
// surface: loading updates for a task collapse into one pending entry and
// dispatches are throttled to a human-readable cadence.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/jonboulle/clockwork"
)

// Type is the kind of notification surfaced to the observer.
type Type string

const (
	// TypeLoading ...
	TypeLoading Type = "loading"
	// TypeSuccess ...
	TypeSuccess Type = "success"
	// TypeError ...
	TypeError Type = "error"
)

const (
	// DefaultDrainInterval is how often the queue is checked for dispatchable entries.
	DefaultDrainInterval = 300 * time.Millisecond
	// DefaultMinSpacing is the minimum time between two dispatches.
	DefaultMinSpacing = time.Second
	// DefaultMaxQueueLength caps undelivered entries; the oldest is evicted first.
	DefaultMaxQueueLength = 10
)

// Notification is one user-visible event.
type Notification struct {
	TaskID  string
	Type    Type
	Title   string
	Message string
}

// Sink delivers a notification to the observing surface.
type Sink interface {
	Notify(n Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n Notification) error

// Notify ...
func (f SinkFunc) Notify(n Notification) error { return f(n) }

// Coalescer deduplicates and paces notifications before handing them to a Sink.
type Coalescer struct {
	sink   Sink
	clock  clockwork.Clock
	logger log.Logger

	DrainInterval  time.Duration
	MinSpacing     time.Duration
	MaxQueueLength int

	mu           sync.Mutex
	queue        []Notification
	lastDispatch time.Time
}

// NewCoalescer ...
func NewCoalescer(sink Sink, logger log.Logger, clock clockwork.Clock) *Coalescer {
	if logger == nil {
		logger = log.NewLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coalescer{
		sink:           sink,
		clock:          clock,
		logger:         logger,
		DrainInterval:  DefaultDrainInterval,
		MinSpacing:     DefaultMinSpacing,
		MaxQueueLength: DefaultMaxQueueLength,
	}
}

// Publish enqueues a notification, collapsing it with pending entries where
// the observer would not be able to tell the difference:
//   - a loading entry for a task replaces that task's pending loading entry,
//   - a terminal entry for a task cancels that task's pending loading entry,
//   - exact duplicates (type+title+message) of a pending entry are dropped.
func (c *Coalescer) Publish(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.Type == TypeLoading {
		for i := range c.queue {
			if c.queue[i].Type == TypeLoading && c.queue[i].TaskID == n.TaskID {
				c.queue[i] = n
				return
			}
		}
	} else {
		c.removePendingLoading(n.TaskID)
	}

	for _, pending := range c.queue {
		if pending.Type == n.Type && pending.Title == n.Title && pending.Message == n.Message {
			return
		}
	}

	c.queue = append(c.queue, n)
	if len(c.queue) > c.MaxQueueLength {
		evicted := c.queue[0]
		c.queue = c.queue[1:]
		c.logger.Debugf("Notification queue full, evicted %q", evicted.Title)
	}
}

func (c *Coalescer) removePendingLoading(taskID string) {
	kept := c.queue[:0]
	for _, pending := range c.queue {
		if pending.Type == TypeLoading && pending.TaskID == taskID {
			continue
		}
		kept = append(kept, pending)
	}
	c.queue = kept
}

// PendingCount returns the number of undelivered notifications.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run drains the queue on a fixed interval until ctx is done. Dispatches are
// spaced at least MinSpacing apart so a state-transition storm is throttled.
func (c *Coalescer) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.dispatchNext()
		}
	}
}

func (c *Coalescer) dispatchNext() {
	c.mu.Lock()
	if len(c.queue) == 0 || c.clock.Since(c.lastDispatch) < c.MinSpacing {
		c.mu.Unlock()
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.lastDispatch = c.clock.Now()
	c.mu.Unlock()

	if err := c.sink.Notify(next); err != nil {
		c.logger.Warnf("Failed to deliver notification %q: %s", next.Title, err)
	}
}
