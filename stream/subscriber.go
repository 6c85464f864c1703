package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of the event feed. Delivery is at-most-once:
// an event is dropped rather than blocking the publisher when the
// subscriber's buffer is full or its flow-control credits are spent.
type Subscriber struct {
	id string

	// ch carries delivered events; closed exactly once by Close.
	ch     chan *Event
	closed atomic.Bool

	// credits is the remaining delivery allowance. A send consumes one
	// credit; at zero the subscriber is skipped until AddCredits.
	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	// filter, when set, must return true for an event to be delivered.
	filter func(*Event) bool
}

// NewSubscriber creates a subscriber with the given channel buffer size
// and initial credit allowance.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes the delivery allowance.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining delivery allowance.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter installs a delivery predicate. Events failing the predicate
// are dropped for this subscriber only.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Topics returns a copy of the topic names this subscriber is on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers evt if the subscriber is open, the filter accepts it,
// a credit is available, and the buffer has room. Returns false when
// the event was dropped for any of those reasons.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	// Take one credit; retry on a lost race for the last one.
	for {
		remaining := s.credits.Load()
		if remaining <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(remaining, remaining-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full; restore the credit.
		s.credits.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
