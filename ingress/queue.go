// Package ingress implements the bounded event ingress queue that the
// host's inbound surface feeds (spec §4.5). The HTTP front door that
// admits external events is out of scope (spec §6.5); only the queue
// semantics it would call into live here.
package ingress

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType enumerates the three admission points spec §4.5 names.
type EventType string

const (
	EventMessages     EventType = "messages"
	EventToolCall     EventType = "tool_call"
	EventPluginInvoke EventType = "plugin_invoked"
)

// Envelope is one queued event.
type Envelope struct {
	Type       EventType
	Payload    map[string]interface{}
	ReceivedAt time.Time
	Client     string
}

// DefaultCapacity is the queue's default bound (spec §6.4).
const DefaultCapacity = 1000

// Queue is a bounded FIFO with drop-oldest admission: when full, the
// oldest item is evicted to admit the new one.
type Queue struct {
	mu       sync.Mutex
	items    []Envelope
	capacity int
	logger   *logrus.Entry
}

// NewQueue creates a queue with the given capacity (DefaultCapacity if <=0).
func NewQueue(capacity int, logger *logrus.Entry) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, logger: logger}
}

// Put admits env, dropping the oldest item first if the queue is full.
// Non-blocking by construction (the queue is an in-memory slice guarded
// by a mutex, never a bounded channel that could block a producer).
func (q *Queue) Put(env Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		if q.logger != nil {
			q.logger.WithFields(logrus.Fields{
				"dropped_type": dropped.Type,
				"capacity":     q.capacity,
			}).Warn("Event queue full, dropping oldest then enqueue")
		}
	}
	q.items = append(q.items, env)
}

// Len reports the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns up to n items in FIFO order, consuming them.
func (q *Queue) Drain(n int) []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Envelope, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Inspect returns up to min(limit, capacity) items without removing them
// — a non-destructive drain-and-requeue (spec §4.5 inspection surface).
func (q *Queue) Inspect(limit int) []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := limit
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	if n > q.capacity {
		n = q.capacity
	}
	out := make([]Envelope, n)
	copy(out, q.items[:n])
	return out
}
