// Package eventbus is an in-process topic based pub/sub bus. Topics are
// dot separated; a subscription pattern may use "*" for one segment or for
// everything.
package eventbus

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Topic string
	Data  any
}

type subscriber struct {
	id      string
	pattern string
	ch      chan Event

	mu     sync.Mutex
	closed bool
}

// send delivers ev or gives up after timeout. Events for a closed or slow
// subscriber are dropped.
func (s *subscriber) send(ev Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if timeout <= 0 {
		select {
		case s.ch <- ev:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-t.C:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // pattern -> id -> subscriber
	counter     uint64
}

func New() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*subscriber),
	}
}

// Subscribe returns a channel receiving events whose topic matches pattern,
// and a function that cancels the subscription and closes the channel.
func (bus *EventBus) Subscribe(pattern string, bufferSize int) (<-chan Event, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&bus.counter, 1))
	sub := &subscriber{
		id:      id,
		pattern: pattern,
		ch:      make(chan Event, bufferSize),
	}

	bus.mu.Lock()
	if _, ok := bus.subscribers[pattern]; !ok {
		bus.subscribers[pattern] = make(map[string]*subscriber)
	}
	bus.subscribers[pattern][id] = sub
	bus.mu.Unlock()

	unsubscribe := func() {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		if subs, ok := bus.subscribers[pattern]; ok {
			if s, ok := subs[id]; ok {
				s.close()
				delete(subs, id)
				if len(subs) == 0 {
					delete(bus.subscribers, pattern)
				}
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans data out to every matching subscriber and returns the number
// of deliveries.
func (bus *EventBus) Publish(topic string, data any, timeout time.Duration) int {
	ev := Event{Topic: topic, Data: data}

	bus.mu.RLock()
	defer bus.mu.RUnlock()

	delivered := 0
	for pattern, subs := range bus.subscribers {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, sub := range subs {
			if sub.send(ev, timeout) {
				delivered++
			}
		}
	}
	return delivered
}

// Shutdown closes every subscription.
func (bus *EventBus) Shutdown() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, subs := range bus.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	bus.subscribers = make(map[string]map[string]*subscriber)
}

func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}
