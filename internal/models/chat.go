// internal/models/chat.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a 1:1 chat tied to a listing. BuyerID/SellerID/ListingID form the
// find-or-create key; membership rows are the authorization source.
type Conversation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	BuyerID  uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_conversation_pair_listing;not null" json:"buyerId"`
	SellerID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_conversation_pair_listing;not null" json:"sellerId"`

	// nil once the listing is deleted
	ListingID *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_conversation_pair_listing" json:"listingId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Listing *Listing     `gorm:"foreignKey:ListingID;constraint:OnDelete:SET NULL" json:"listing,omitempty"`
	Members []ChatMember `gorm:"foreignKey:ConversationID" json:"members,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ChatMember joins a user to a conversation and carries the read watermark.
type ChatMember struct {
	ConversationID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"conversationId"`
	UserID         uuid.UUID  `gorm:"type:uuid;primaryKey;index" json:"userId"`
	LastReadAt     *time.Time `json:"lastReadAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Message is immutable once written. The auto-increment id breaks created_at ties.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index:idx_message_conversation_created,priority:1;not null" json:"conversationId"`
	SenderID       uuid.UUID `gorm:"type:uuid;index;not null" json:"senderId"`
	Body           string    `gorm:"type:text;not null" json:"body"`
	CreatedAt      time.Time `gorm:"index:idx_message_conversation_created,priority:2" json:"createdAt"`
}
