// internal/models/order.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	// OrderStatusNone is never stored: it is the logical status of a conversation without an order row.
	OrderStatusNone      OrderStatus = "none"
	OrderStatusPending   OrderStatus = "pending"   // buyer asked to close the deal
	OrderStatusConfirmed OrderStatus = "confirmed" // seller ratified, listing sold
)

// Order is the deal record of a conversation. At most one per conversation.
type Order struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID   `gorm:"type:uuid;uniqueIndex;not null" json:"conversationId"`
	ListingID      uuid.UUID   `gorm:"type:uuid;index;not null" json:"listingId"`
	BuyerID        uuid.UUID   `gorm:"type:uuid;index;not null" json:"buyerId"`
	SellerID       uuid.UUID   `gorm:"type:uuid;index;not null" json:"sellerId"`
	Status         OrderStatus `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	ConfirmedAt    *time.Time  `json:"confirmedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Listing *Listing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
