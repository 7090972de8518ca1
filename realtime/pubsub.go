// Package realtime carries live delivery events from the messaging core
// to subscribed clients over a topic-based publish/subscribe channel.
// Delivery is at-least-once and fire-and-forget for publishers;
// subscribers dedupe on event ID and re-sort messages by their persisted
// (created_at, message_id) order, never by arrival order.
package realtime

import "github.com/google/uuid"

// Event types published by the messaging core.
const (
	EventInsert = "insert"
	EventUpdate = "update"
)

// Event is one delivery notification scoped to a conversation topic.
// Row carries the affected row rendered as a JSON-friendly map; no
// schema beyond {type, table, row} is assumed by subscribers.
type Event struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Table string         `json:"table"`
	Row   map[string]any `json:"row"`
}

// NewEvent builds an Event with a fresh ID.
func NewEvent(eventType, table string, row map[string]any) Event {
	return Event{
		ID:    uuid.NewString(),
		Type:  eventType,
		Table: table,
		Row:   row,
	}
}

// ConversationTopic names the topic for one conversation's events.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Publisher is the side of the channel the messaging core writes to.
type Publisher interface {
	Publish(topic string, event Event)
}

// Subscriber is the side clients read from.
type Subscriber interface {
	Subscribe(topic string) (*Subscription, error)
}

// PubSub is the full delivery channel contract.
type PubSub interface {
	Publisher
	Subscriber
}

// Subscription is one client's attachment to a topic. Events arrives
// asynchronously; Cancel detaches and closes Events.
type Subscription struct {
	Topic  string
	Events <-chan Event

	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
