package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/events"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/realtime"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/repository"
)

// Broadcaster fans an event out to a conversation room.
type Broadcaster interface {
	Broadcast(conversationID uuid.UUID, event string, payload any) int
}

// Notifier hands a delivered message to the push pipeline of its receiver.
type Notifier interface {
	NotifyMessage(ctx context.Context, receiverID uuid.UUID, p realtime.MessagePayload) error
}

// ChatService is the single delivery routine behind both the websocket and the HTTP
// send paths, plus the read-receipt side effects of fetching and marking read.
type ChatService struct {
	repo     *repository.ChatRepository
	rooms    Broadcaster
	notifier Notifier
	events   events.Publisher
	log      *zap.Logger
	timeout  time.Duration
}

// NewChatService wires the service. notifier may be nil; timeout bounds every datastore
// round trip started from here, zero means no deadline.
func NewChatService(repo *repository.ChatRepository, rooms Broadcaster, notifier Notifier, pub events.Publisher, log *zap.Logger, timeout time.Duration) *ChatService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ChatService{
		repo:     repo,
		rooms:    rooms,
		notifier: notifier,
		events:   pub,
		log:      log,
		timeout:  timeout,
	}
}

// IsRead reports whether a message sent at sentAt is covered by the receiver's watermark.
// A nil watermark means the receiver never read the conversation.
func IsRead(sentAt time.Time, watermark *time.Time) bool {
	return watermark != nil && !sentAt.After(*watermark)
}

// Deliver persists body from senderID and broadcasts it as message:new. The broadcast,
// notification and event are best-effort: once the append succeeded the message is
// delivered as far as the caller is concerned.
func (s *ChatService) Deliver(ctx context.Context, conversationID, senderID uuid.UUID, body string) (*realtime.MessagePayload, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	msg, err := s.repo.AppendMessage(ctx, conversationID, senderID, body)
	if err != nil {
		return nil, err
	}

	other, err := s.repo.Counterpart(ctx, conversationID, senderID)
	if err != nil {
		s.log.Warn("counterpart lookup failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
	}

	payload := toPayload(msg, other)
	s.rooms.Broadcast(conversationID, realtime.EventMessageNew, payload)

	if other != nil && s.notifier != nil {
		_ = s.notifier.NotifyMessage(ctx, other.UserID, payload)
	}
	s.events.Publish(events.Event{
		Type:           events.MessageSent,
		ConversationID: conversationID,
		ActorID:        senderID,
		At:             msg.CreatedAt,
		Data:           payload,
	})
	return &payload, nil
}

// ListMessages returns the history oldest first and, as a side effect, marks it read
// for userID and announces the new watermark to the room.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]realtime.MessagePayload, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	at, err := s.repo.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	out := make([]realtime.MessagePayload, 0, len(msgs))
	for i := range msgs {
		out = append(out, toPayload(&msgs[i], receiverOf(members, msgs[i].SenderID)))
	}
	s.announceRead(conversationID, userID, at)
	return out, nil
}

// MarkRead moves the watermark without fetching.
func (s *ChatService) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (*realtime.ReadPayload, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	at, err := s.repo.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.announceRead(conversationID, userID, at), nil
}

func (s *ChatService) StartConversation(ctx context.Context, buyerID, listingID uuid.UUID) (*repository.ConversationDetail, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.FindOrCreateConversation(ctx, buyerID, listingID)
}

func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]repository.ConversationSummary, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.ListConversationsForUser(ctx, userID)
}

func (s *ChatService) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*repository.ConversationDetail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.GetConversation(ctx, conversationID, userID)
}

func (s *ChatService) UnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.UnreadTotal(ctx, userID)
}

func (s *ChatService) ClearMessages(ctx context.Context, conversationID, userID uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.ClearMessages(ctx, conversationID, userID)
}

func (s *ChatService) announceRead(conversationID, userID uuid.UUID, at time.Time) *realtime.ReadPayload {
	p := &realtime.ReadPayload{ConversationID: conversationID, UserID: userID, LastReadAt: at}
	s.rooms.Broadcast(conversationID, realtime.EventChatRead, p)
	s.events.Publish(events.Event{
		Type:           events.ConversationRead,
		ConversationID: conversationID,
		ActorID:        userID,
		At:             at,
	})
	return p
}

func (s *ChatService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func receiverOf(members []models.ChatMember, senderID uuid.UUID) *models.ChatMember {
	for i := range members {
		if members[i].UserID != senderID {
			return &members[i]
		}
	}
	return nil
}

func toPayload(msg *models.Message, receiver *models.ChatMember) realtime.MessagePayload {
	p := realtime.MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Body,
		Timestamp:      msg.CreatedAt,
	}
	if receiver != nil {
		id := receiver.UserID
		p.ReceiverID = &id
		p.Read = IsRead(msg.CreatedAt, receiver.LastReadAt)
	}
	return p
}
