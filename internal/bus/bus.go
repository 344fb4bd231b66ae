// Package bus is the in-process event fabric between the queue, the dispatch
// loop, and the case-state notifier. Delivery is fan-out by topic prefix and
// strictly non-blocking: the queue's hot path never waits on a consumer.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Task lifecycle event topics.
const (
	TopicTaskEnqueued     = "task.enqueued"
	TopicTaskCompleted    = "task.completed"
	TopicTaskFailed       = "task.failed"
	TopicTaskRetrying     = "task.retrying"
	TopicTaskDeadLettered = "task.dead_lettered"
)

// TaskLifecycleEvent is published on every task status change of note.
type TaskLifecycleEvent struct {
	TaskID     string // Task ID
	Name       string // Routing key
	Priority   string // Tier name (e.g. HIGH)
	RetryCount int    // Retry count at time of event
	Error      string // Error message for failed/retrying/dead_lettered
}

// Subscription is one consumer's view of the bus. Events arrive on Ch until
// Unsubscribe closes it.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus fans events out to prefix-matched subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a consumer for every topic matching topicPrefix; the
// empty prefix matches all topics. The subscription buffers 100 events, and a
// consumer that falls further behind loses events rather than stalling
// publishers.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// with nil or an already-removed subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscription whose prefix matches
// topic. A full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix != "" && !strings.HasPrefix(topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow consumer; drop rather than block the publisher.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
