package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
)

type DealRole string

const (
	RoleBuyer  DealRole = "buyer"
	RoleSeller DealRole = "seller"
)

type DealView struct {
	Role    DealRole           `json:"role"`
	Status  models.OrderStatus `json:"status"`
	OrderID *uuid.UUID         `json:"orderId"`
}

type DealResult struct {
	ConversationID uuid.UUID          `json:"-"`
	Role           DealRole           `json:"-"`
	Status         models.OrderStatus `json:"status"`
	OrderID        uuid.UUID          `json:"orderId"`
	ListingSold    bool               `json:"listingSold"`

	// Changed is true only for the call that moved the deal to a new status.
	Changed bool `json:"-"`
}

type OrderSummary struct {
	ID        uuid.UUID          `json:"id"`
	Status    models.OrderStatus `json:"status"`
	Role      DealRole           `json:"role"`
	CreatedAt time.Time          `json:"createdAt"`
	Listing   *ListingPreview    `json:"listing"`
}

type dealContext struct {
	conv    models.Conversation
	listing models.Listing
	role    DealRole
}

// GetDeal reports the caller's role and the logical deal status of the conversation.
func (r *ChatRepository) GetDeal(ctx context.Context, conversationID, userID uuid.UUID) (*DealView, error) {
	dc, err := r.loadDealContext(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	view := &DealView{Role: dc.role, Status: models.OrderStatusNone}
	order, err := r.findOrder(r.db.WithContext(ctx), conversationID)
	if err != nil {
		return nil, err
	}
	if order != nil {
		view.Status = order.Status
		view.OrderID = &order.ID
	}
	return view, nil
}

// ConfirmDeal advances the deal one step for the caller. A buyer opens a pending order,
// a seller confirms it and flips the listing to sold in the same transaction. Repeated
// calls return the current status without side effects.
func (r *ChatRepository) ConfirmDeal(ctx context.Context, conversationID, userID uuid.UUID) (*DealResult, error) {
	dc, err := r.loadDealContext(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if dc.role == RoleBuyer {
		return r.requestDeal(ctx, dc, userID)
	}
	return r.ratifyDeal(ctx, dc)
}

func (r *ChatRepository) requestDeal(ctx context.Context, dc *dealContext, buyerID uuid.UUID) (*DealResult, error) {
	if dc.listing.Sold {
		return nil, fmt.Errorf("listing already sold: %w", apperr.ErrConflict)
	}

	db := r.db.WithContext(ctx)
	existing, err := r.findOrder(db, dc.conv.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.dealResult(dc, existing, false), nil
	}

	order := models.Order{
		ConversationID: dc.conv.ID,
		ListingID:      dc.listing.ID,
		BuyerID:        buyerID,
		SellerID:       dc.listing.UserID,
		Status:         models.OrderStatusPending,
		CreatedAt:      r.now(),
	}
	if err := db.Create(&order).Error; err != nil {
		// unique conversation_id: a concurrent click already created it
		existing, findErr := r.findOrder(db, dc.conv.ID)
		if findErr == nil && existing != nil {
			return r.dealResult(dc, existing, false), nil
		}
		return nil, r.unavailable("create order", err)
	}

	r.log.Info("deal requested",
		zap.String("conversation_id", dc.conv.ID.String()),
		zap.String("order_id", order.ID.String()))
	return r.dealResult(dc, &order, true), nil
}

func (r *ChatRepository) ratifyDeal(ctx context.Context, dc *dealContext) (*DealResult, error) {
	var (
		order   models.Order
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ?", dc.conv.ID).
			First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no pending order to confirm: %w", apperr.ErrInvalidState)
		}
		if err != nil {
			return err
		}

		if order.Status == models.OrderStatusConfirmed {
			return nil
		}

		now := r.now()
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
			Updates(map[string]interface{}{
				"status":       models.OrderStatusConfirmed,
				"confirmed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// confirmed by a concurrent call between lock and update
			order.Status = models.OrderStatusConfirmed
			return nil
		}

		// a listing closes once; a second buyer's pending order stays pending
		res = tx.Model(&models.Listing{}).
			Where("id = ? AND sold = ?", dc.listing.ID, false).
			Update("sold", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Listing{}).Where("id = ?", dc.listing.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("listing %s no longer exists: %w", dc.listing.ID, apperr.ErrInvalidState)
			}
			return fmt.Errorf("listing %s already sold: %w", dc.listing.ID, apperr.ErrConflict)
		}

		order.Status = models.OrderStatusConfirmed
		order.ConfirmedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidState) || errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, r.unavailable("confirm order", err)
	}

	if changed {
		r.log.Info("deal confirmed",
			zap.String("conversation_id", dc.conv.ID.String()),
			zap.String("order_id", order.ID.String()),
			zap.String("listing_id", dc.listing.ID.String()))
	}
	return r.dealResult(dc, &order, changed), nil
}

// ListOrdersForUser returns the orders where userID is buyer or seller, newest first.
func (r *ChatRepository) ListOrdersForUser(ctx context.Context, userID uuid.UUID) ([]OrderSummary, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, r.unavailable("list orders", err)
	}

	out := make([]OrderSummary, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		role := RoleSeller
		if o.BuyerID == userID {
			role = RoleBuyer
		}
		out = append(out, OrderSummary{
			ID:        o.ID,
			Status:    o.Status,
			Role:      role,
			CreatedAt: o.CreatedAt,
			Listing:   listingPreview(o.Listing),
		})
	}
	return out, nil
}

func (r *ChatRepository) loadDealContext(ctx context.Context, conversationID, userID uuid.UUID) (*dealContext, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members").
		Preload("Listing").
		First(&conv, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, r.unavailable("load conversation", err)
	}
	if !isMember(conv.Members, userID) {
		return nil, fmt.Errorf("not a member of conversation %s: %w", conversationID, apperr.ErrForbidden)
	}
	if conv.Listing == nil {
		return nil, fmt.Errorf("chat not linked to a listing: %w", apperr.ErrInvalidState)
	}

	role := RoleBuyer
	if conv.Listing.UserID == userID {
		role = RoleSeller
	}
	return &dealContext{conv: conv, listing: *conv.Listing, role: role}, nil
}

func (r *ChatRepository) findOrder(db *gorm.DB, conversationID uuid.UUID) (*models.Order, error) {
	var orders []models.Order
	if err := db.Where("conversation_id = ?", conversationID).Limit(1).Find(&orders).Error; err != nil {
		return nil, r.unavailable("find order", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (r *ChatRepository) dealResult(dc *dealContext, order *models.Order, changed bool) *DealResult {
	return &DealResult{
		ConversationID: dc.conv.ID,
		Role:           dc.role,
		Status:         order.Status,
		OrderID:        order.ID,
		ListingSold:    order.Status == models.OrderStatusConfirmed,
		Changed:        changed,
	}
}
