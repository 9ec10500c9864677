// Package bus implements the Message Bus: typed, best-effort-async
// pub/sub with bounded per-subscriber queues and drop-oldest overflow,
// generalized from the teacher's Redis-Streams-backed subscription model
// (internal/streaming/manager.go) down to a single-process, in-memory
// channel fan-out — this engine has no distributed delivery requirement.
package bus

import (
	"sync"
	"time"

	ometrics "github.com/taskmesh/orchestrator/internal/metrics"
)

// EventType enumerates the message types the spec publishes.
type EventType string

const (
	TaskStarted       EventType = "task.started"
	TaskFinished      EventType = "task.finished"
	SubtaskAssigned   EventType = "subtask.assigned"
	SubtaskStarted    EventType = "subtask.started"
	SubtaskCompleted  EventType = "subtask.completed"
	SubtaskFailed     EventType = "subtask.failed"
	KnowledgeReloaded EventType = "knowledge.reloaded"
	PersonaCreated    EventType = "persona.created"
)

// DefaultQueueSize is the default bound on a subscriber's queue.
const DefaultQueueSize = 256

// Event is one message published on the bus.
type Event struct {
	Type      EventType
	TaskID    string
	SubtaskID string
	Payload   map[string]any
	At        time.Time
}

// Predicate decides whether a subscriber wants a given event type.
type Predicate func(EventType) bool

// All matches every event type.
func All(EventType) bool { return true }

// OneOf matches any of the given event types.
func OneOf(types ...EventType) Predicate {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(t EventType) bool { return set[t] }
}

type subscriber struct {
	id        uint64
	predicate Predicate
	ch        chan Event
	mu        sync.Mutex // guards drop-oldest compaction on ch
}

// Bus is a typed, in-memory pub/sub hub. Publishers never block on a slow
// subscriber: a full queue drops its oldest pending event to make room.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
}

// New creates a Bus. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{subs: make(map[uint64]*subscriber), queueSize: queueSize}
}

// Subscription is a handle returned by Subscribe; read Events and call
// Unsubscribe (via Bus.Unsubscribe) when done.
type Subscription struct {
	id     uint64
	Events <-chan Event
}

// Subscribe registers a new subscriber matching predicate. Delivery order
// to this subscriber follows publish order.
func (b *Bus) Subscribe(predicate Predicate) Subscription {
	if predicate == nil {
		predicate = All
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, predicate: predicate, ch: make(chan Event, b.queueSize)}
	b.subs[id] = sub

	return Subscription{id: id, Events: sub.ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[sub.id]
	if !ok {
		return
	}
	delete(b.subs, sub.id)
	close(s.ch)
}

// Publish delivers evt to every matching subscriber without blocking. A
// subscriber whose queue is full has its oldest pending event dropped to
// make room, and the drop counter for evt.Type is incremented.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ometrics.BusEventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for _, sub := range b.subs {
		if !sub.predicate(evt.Type) {
			continue
		}
		sub.deliver(evt)
	}
}

func (s *subscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- evt:
		return
	default:
	}

	// Queue full: drop the oldest pending event, then enqueue the new one.
	select {
	case <-s.ch:
		ometrics.BusSubscriberDrops.WithLabelValues(string(evt.Type)).Inc()
	default:
	}
	select {
	case s.ch <- evt:
	default:
		// Another publisher raced us and refilled the queue; drop this one.
		ometrics.BusSubscriberDrops.WithLabelValues(string(evt.Type)).Inc()
	}
}
