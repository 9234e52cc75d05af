package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a task event on the wire.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventMetrics   EventType = "metrics"
	EventResult    EventType = "result"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Event is the message shape delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"taskId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:      eventType,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ReplayLogEntries is how many recent log entries a newly attached
// subscriber receives before live events begin.
const ReplayLogEntries = 20

// subscriberBuffer bounds the per-subscriber queue. A subscriber that
// falls this far behind has failed delivery and is pruned.
const subscriberBuffer = 64

// Subscriber is a live consumer of one task's event stream.
//
// The delivery channel is closed only through close(), which is
// serialized with send() on the subscriber's own lock: a send can
// never race the close, no matter which goroutine detaches the
// subscriber.
type Subscriber struct {
	id     string
	taskID string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id
}

// TaskID returns the task this subscriber is bound to.
func (s *Subscriber) TaskID() string {
	return s.taskID
}

// Events returns the delivery channel. It is closed when the
// subscriber is pruned or unsubscribed; consumers should range over it.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// send queues the event without blocking. It reports false when the
// subscriber is closed or its queue is full; either way the caller
// treats the subscriber as dead.
func (s *Subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// close marks the subscriber dead and closes the delivery channel.
// Safe to call from any goroutine, any number of times.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster fans task events out to all live subscribers of a task.
//
// Delivery is at most once per publish: a subscriber whose delivery
// fails (its queue is full) is pruned immediately, with no retry and no
// backlog kept beyond the attach-time replay. An event published
// concurrently with an attach may be seen twice by that subscriber,
// once in the replay and once live; events are never lost in that
// window.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string][]*Subscriber // taskID -> subscribers
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string][]*Subscriber),
	}
}

// Subscribe attaches a new subscriber to the task and immediately
// queues the replay: the current progress snapshot followed by the most
// recent ReplayLogEntries log entries. Live events stream afterwards.
//
// The replay snapshot and the registration happen under the same
// critical section, so no publish can fall between them: everything
// appended before the snapshot is in the replay, everything published
// after registration is delivered live.
func (b *Broadcaster) Subscribe(t *Task) *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		taskID: t.ID(),
		ch:     make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	sub.send(NewEvent(EventProgress, t.ID(), t.Progress()))
	for _, entry := range t.RecentLogs(ReplayLogEntries) {
		sub.send(NewEvent(EventLog, t.ID(), entry))
	}
	b.subs[t.ID()] = append(b.subs[t.ID()], sub)
	b.mu.Unlock()

	return sub
}

// Unsubscribe detaches the subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	b.remove(sub)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers the event to every currently attached subscriber of
// the task. Subscribers that cannot accept the event are pruned.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, len(b.subs[ev.TaskID]))
	copy(subs, b.subs[ev.TaskID])
	b.mu.RUnlock()

	var dead []*Subscriber
	for _, sub := range subs {
		if !sub.send(ev) {
			dead = append(dead, sub)
		}
	}

	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, sub := range dead {
		b.remove(sub)
	}
	b.mu.Unlock()
	for _, sub := range dead {
		sub.close()
	}
}

// Heartbeat answers a subscriber's liveness probe. The reply goes only
// to the probing subscriber; a subscriber that cannot accept it is
// pruned like any other failed delivery. Probing an already detached
// subscriber is a no-op.
func (b *Broadcaster) Heartbeat(sub *Subscriber) {
	if sub.send(NewEvent(EventHeartbeat, sub.taskID, nil)) {
		return
	}
	b.mu.Lock()
	b.remove(sub)
	b.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of live subscribers for a task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

// Close detaches every subscriber. Used on daemon shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string][]*Subscriber)
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.close()
		}
	}
}

// remove deletes the subscriber from its task's list. Caller holds the
// lock.
func (b *Broadcaster) remove(sub *Subscriber) {
	subs := b.subs[sub.taskID]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.taskID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
