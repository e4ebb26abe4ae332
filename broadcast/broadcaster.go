// Package broadcast is the fan-out fabric. Core components publish
// events to named topics; connected clients subscribe to the topics of
// the channels, servers and users they care about. Publishing is
// fire-and-forget: a slow or absent subscriber never blocks a caller.
package broadcast

import (
	"sync"

	"chat-core/model"
)

// Broadcaster delivers an event to every subscriber of a topic.
type Broadcaster interface {
	Publish(topic string, ev model.Event)
}

// Topic helpers.

func ChannelTopic(channelID string) string {
	return "channel:" + channelID
}

func ServerTopic(serverID string) string {
	return "server:" + serverID
}

func UserTopic(userID string) string {
	return "user:" + userID
}

func VoiceTopic(channelID string) string {
	return "voice:" + channelID
}

// Recorder is a Broadcaster that captures published events, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent pairs a topic with the event sent to it.
type RecordedEvent struct {
	Topic string
	Event model.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(topic string, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Topic: topic, Event: ev})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByTopic returns the events published to one topic, in order.
func (r *Recorder) ByTopic(topic string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, rec := range r.events {
		if rec.Topic == topic {
			out = append(out, rec.Event)
		}
	}
	return out
}

// ByType returns the events of one type across all topics, in order.
func (r *Recorder) ByType(eventType string) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedEvent
	for _, rec := range r.events {
		if rec.Event.Type == eventType {
			out = append(out, rec)
		}
	}
	return out
}
