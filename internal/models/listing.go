package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Listing is owned by the catalog; the chat core only reads it and flips Sold.
type Listing struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"userId"`

	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`

	// ordered image URLs, the first one is used as preview
	Images datatypes.JSON `json:"images"`

	Sold bool `gorm:"not null;default:false" json:"sold"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// FirstImage returns the preview image URL or nil when the listing has none.
func (l *Listing) FirstImage() *string {
	if len(l.Images) == 0 {
		return nil
	}
	var urls []string
	if err := json.Unmarshal(l.Images, &urls); err != nil || len(urls) == 0 {
		return nil
	}
	return &urls[0]
}
