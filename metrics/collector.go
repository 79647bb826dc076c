// Package metrics provides server-wide counters behind the connection
// lifecycle hooks.
//
// The Collector is a leaf package with no internal dependencies; it
// satisfies the server's Hooks interface structurally, so wiring it in is
// one argument at server construction. All increment methods are
// nil-receiver safe.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	ConnectionsStarted int64
	ConnectionsStopped int64
	ConnectionErrors   int64

	MessagesReceived int64
	EventsHandled    int64
	AcksSent         int64

	// Tags counts batches per tag, capped at maxTrackedTags distinct tags.
	Tags map[string]int64
}

// maxTrackedTags bounds the per-tag map so hostile clients cannot grow it
// without limit. Overflow tags are folded into the "<other>" bucket.
const maxTrackedTags = 1024

// overflowTag collects batch counts once maxTrackedTags is reached.
const overflowTag = "<other>"

// Collector accumulates counters for the lifetime of the server process.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	connectionsStarted int64
	connectionsStopped int64
	connectionErrors   int64

	messagesReceived int64
	eventsHandled    int64
	acksSent         int64

	tags map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{tags: make(map[string]int64)}
}

// ConnectionStart records a connection worker starting.
func (c *Collector) ConnectionStart(string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsStarted++
	c.mu.Unlock()
}

// ConnectionStop records a connection worker ending, clean or not.
func (c *Collector) ConnectionStop(string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsStopped++
	c.mu.Unlock()
}

// ConnectionError records an abnormal connection termination.
func (c *Collector) ConnectionError(string, error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionErrors++
	c.mu.Unlock()
}

// MessageReceived records one decoded batch and its tag.
func (c *Collector) MessageReceived(tag string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesReceived++
	if _, ok := c.tags[tag]; !ok && len(c.tags) >= maxTrackedTags {
		tag = overflowTag
	}
	c.tags[tag]++
	c.mu.Unlock()
}

// EventHandled records one event dispatched to the handler.
func (c *Collector) EventHandled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsHandled++
	c.mu.Unlock()
}

// AckSent records one outbound ack frame.
func (c *Collector) AckSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.acksSent++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tags := make(map[string]int64, len(c.tags))
	for k, v := range c.tags {
		tags[k] = v
	}
	return Snapshot{
		ConnectionsStarted: c.connectionsStarted,
		ConnectionsStopped: c.connectionsStopped,
		ConnectionErrors:   c.connectionErrors,
		MessagesReceived:   c.messagesReceived,
		EventsHandled:      c.eventsHandled,
		AcksSent:           c.acksSent,
		Tags:               tags,
	}
}
