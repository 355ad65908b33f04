package api

import (
	"sync"

	"minibus/internal/planner"
)

// EventBroker fans run events out to stream subscribers. Topics are run ids.
type EventBroker interface {
	Subscribe(topic string) chan planner.Event
	Unsubscribe(topic string, ch chan planner.Event)
	Publish(topic string, evt planner.Event)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan planner.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan planner.Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan planner.Event {
	ch := make(chan planner.Event, 64)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan planner.Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan planner.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(topic string, evt planner.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}
