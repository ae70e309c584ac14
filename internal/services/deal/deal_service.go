package deal

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

type Broadcaster interface {
	Broadcast(conversationID uuid.UUID, event string, payload any) int
}

// DealService runs the none -> pending -> confirmed flow of a conversation and tells
// the room about every transition.
type DealService struct {
	repo    *repository.ChatRepository
	rooms   Broadcaster
	events  events.Publisher
	log     *zap.Logger
	timeout time.Duration
}

func NewDealService(repo *repository.ChatRepository, rooms Broadcaster, pub events.Publisher, log *zap.Logger, timeout time.Duration) *DealService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &DealService{repo: repo, rooms: rooms, events: pub, log: log, timeout: timeout}
}

func (s *DealService) GetDeal(ctx context.Context, conversationID, userID uuid.UUID) (*repository.DealView, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.GetDeal(ctx, conversationID, userID)
}

// ConfirmDeal advances the deal for userID. Idempotent repeats return the current
// status and broadcast nothing.
func (s *DealService) ConfirmDeal(ctx context.Context, conversationID, userID uuid.UUID) (*repository.DealResult, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.repo.ConfirmDeal(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	payload := realtime.DealPayload{
		ConversationID: conversationID,
		OrderID:        res.OrderID,
		Status:         string(res.Status),
		ListingSold:    res.ListingSold,
	}
	s.rooms.Broadcast(conversationID, realtime.EventDealUpdate, payload)

	evType := events.DealPending
	if res.Status == models.OrderStatusConfirmed {
		evType = events.DealConfirmed
	}
	s.events.Publish(events.Event{
		Type:           evType,
		ConversationID: conversationID,
		ActorID:        userID,
		At:             time.Now().UTC(),
		Data:           payload,
	})
	return res, nil
}

func (s *DealService) ListOrders(ctx context.Context, userID uuid.UUID) ([]repository.OrderSummary, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.ListOrdersForUser(ctx, userID)
}

func (s *DealService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
