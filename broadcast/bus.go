package broadcast

import (
	"sync"

	"chat-core/logger"
	"chat-core/model"
)

// Bus is the in-process pub/sub fabric. Each subscription owns a
// buffered channel; a subscriber that falls behind loses events rather
// than blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	log    *logger.Logger
	closed bool
}

// Subscription receives the events of one topic.
type Subscription struct {
	C     chan model.Event
	topic string
	bus   *Bus
}

const subscriberBuffer = 64

// NewBus creates an empty bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log,
	}
}

// Subscribe registers interest in a topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		C:     make(chan model.Event, subscriberBuffer),
		topic: topic,
		bus:   b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			close(s.C)
			if len(set) == 0 {
				delete(b.subs, s.topic)
			}
		}
	}
}

// Publish delivers ev to every subscriber of topic. Events for one
// topic arrive at each subscriber in publish order; a full subscriber
// buffer drops the event for that subscriber only.
func (b *Bus) Publish(topic string, ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.C <- ev:
		default:
			b.log.Warnw("dropping event for slow subscriber", "topic", topic, "type", ev.Type)
		}
	}
}
