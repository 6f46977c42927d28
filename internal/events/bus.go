package events

import (
	"sync"
)

// Publisher is the narrow contract the scheduler and workflow depend on.
type Publisher interface {
	Publish(topic string, event Event)
}

// subscription is a single subscriber channel with its topic filter.
// A nil topics set receives every topic.
type subscription struct {
	ch     chan Event
	topics map[string]bool
}

func (s *subscription) wants(topic string) bool {
	return s.topics == nil || s.topics[topic]
}

// EventBus is a channel-based pub-sub event bus.
// Delivery is fire-and-forget: slow subscribers lose events instead of blocking publishers.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe creates a subscription to one or more topics.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) Subscribe(bufSize int, topics ...string) <-chan Event {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return b.add(bufSize, set)
}

// SubscribeAll creates a subscription to ALL topics.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.add(bufSize, nil)
}

func (b *EventBus) add(bufSize int, topics map[string]bool) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs = append(b.subs, &subscription{ch: ch, topics: topics})
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown channels are ignored.
func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.ch == ch {
			close(s.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that subscriber.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			// Channel full, drop event
		}
	}
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
