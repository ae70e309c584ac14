// Package events publishes chat and deal domain events to the event stream.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageSent      = "message.sent"
	ConversationRead = "conversation.read"
	DealPending      = "deal.pending"
	DealConfirmed    = "deal.confirmed"
)

type Event struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversationId"`
	ActorID        uuid.UUID `json:"actorId"`
	At             time.Time `json:"at"`
	Data           any       `json:"data,omitempty"`
}

// Publisher is best-effort: Publish never blocks the caller and never fails it.
type Publisher interface {
	Publish(ev Event)
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(Event) {}
