package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
)

// Client to server events. The short names are what older app builds emit.
const (
	EventJoin  = "chat:join"
	EventLeave = "chat:leave"
	EventSend  = "message:send"
	EventPing  = "ping"
)

// Server to client events.
const (
	EventMessageNew = "message:new"
	EventChatRead   = "chat:read"
	EventDealUpdate = "deal:update"
	EventError      = "message:error"
	EventPong       = "pong"
)

var eventAliases = map[string]string{
	"join":  EventJoin,
	"leave": EventLeave,
	"send":  EventSend,
}

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is one of JoinEvent, LeaveEvent, SendEvent or PingEvent.
type ClientEvent interface {
	Name() string
}

type JoinEvent struct{ ConversationID uuid.UUID }

type LeaveEvent struct{ ConversationID uuid.UUID }

type SendEvent struct {
	ConversationID uuid.UUID
	Body           string
}

type PingEvent struct{}

func (JoinEvent) Name() string  { return EventJoin }
func (LeaveEvent) Name() string { return EventLeave }
func (SendEvent) Name() string  { return EventSend }
func (PingEvent) Name() string  { return EventPing }

// roomRef accepts both {"conversationId": ...} and the older {"chatId": ...}.
type roomRef struct {
	ConversationID string `json:"conversationId"`
	ChatID         string `json:"chatId"`
}

func (r roomRef) id() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ChatID
}

type sendData struct {
	roomRef
	Body    *string `json:"body"`
	Content *string `json:"content"`
}

// DecodeClientEvent parses one inbound frame. Malformed frames wrap apperr.ErrValidation.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", apperr.ErrValidation)
	}
	name := strings.TrimSpace(env.Event)
	if canonical, ok := eventAliases[name]; ok {
		name = canonical
	}

	switch name {
	case EventPing:
		return PingEvent{}, nil
	case EventJoin, EventLeave:
		id, err := decodeRoom(env.Data)
		if err != nil {
			return nil, err
		}
		if name == EventJoin {
			return JoinEvent{ConversationID: id}, nil
		}
		return LeaveEvent{ConversationID: id}, nil
	case EventSend:
		var d sendData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("malformed send payload: %w", apperr.ErrValidation)
		}
		id, err := parseConversationID(d.id())
		if err != nil {
			return nil, err
		}
		ev := SendEvent{ConversationID: id}
		switch {
		case d.Body != nil:
			ev.Body = *d.Body
		case d.Content != nil:
			ev.Body = *d.Content
		}
		return ev, nil
	case "":
		return nil, fmt.Errorf("event name is required: %w", apperr.ErrValidation)
	default:
		return nil, fmt.Errorf("unknown event %q: %w", env.Event, apperr.ErrValidation)
	}
}

// decodeRoom reads join/leave data, either a bare id string or a room reference object.
func decodeRoom(data json.RawMessage) (uuid.UUID, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return uuid.Nil, fmt.Errorf("malformed conversation id: %w", apperr.ErrValidation)
		}
		return parseConversationID(s)
	}
	var ref roomRef
	if len(data) == 0 || json.Unmarshal(data, &ref) != nil {
		return uuid.Nil, fmt.Errorf("conversation id is required: %w", apperr.ErrValidation)
	}
	return parseConversationID(ref.id())
}

func parseConversationID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("conversation id is required: %w", apperr.ErrValidation)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid conversation id: %w", apperr.ErrValidation)
	}
	return id, nil
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// MessagePayload is the message:new body. It is also the HTTP representation of a message.
type MessagePayload struct {
	ID             uint64     `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	SenderID       uuid.UUID  `json:"senderId"`
	ReceiverID     *uuid.UUID `json:"receiverId"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Read           bool       `json:"read"`
}

type messageWire MessagePayload

// MarshalJSON adds the legacy body/createdAt names next to content/timestamp.
func (p MessagePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		messageWire
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"createdAt"`
	}{messageWire(p), p.Content, p.Timestamp})
}

type ReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	LastReadAt     time.Time `json:"lastReadAt"`
}

type DealPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	OrderID        uuid.UUID `json:"orderId"`
	Status         string    `json:"status"`
	ListingSold    bool      `json:"listingSold"`
}

type ErrorPayload struct {
	Code           string     `json:"code"`
	Message        string     `json:"message"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}
