package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
)

// MaxMessageLength is counted in characters, not bytes.
const MaxMessageLength = 2000

var ErrSelfChat = fmt.Errorf("cannot start chat on your own listing: %w", apperr.ErrForbidden)

// Profile is the public part of a user shown to the counterpart.
type Profile struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	PhotoURL *string   `json:"photoUrl"`
}

type ListingPreview struct {
	ID       uuid.UUID  `json:"id"`
	Title    string     `json:"title"`
	ImageURI *string    `json:"imageUri"`
	OwnerID  *uuid.UUID `json:"ownerId,omitempty"`
	Sold     bool       `json:"sold"`
}

type MessagePreview struct {
	ID        uint64    `json:"id"`
	SenderID  uuid.UUID `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConversationSummary struct {
	ID          uuid.UUID       `json:"id"`
	Counterpart *Profile        `json:"other"`
	LastMessage *MessagePreview `json:"lastMessage"`
	Listing     *ListingPreview `json:"listing"`
	UnreadCount int64           `json:"unreadCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type ConversationDetail struct {
	ID          uuid.UUID       `json:"conversationId"`
	Counterpart *Profile        `json:"other"`
	Listing     *ListingPreview `json:"listing"`
}

// ChatRepository is the conversation store: conversations, memberships, messages and
// (in deal_repository.go) orders. Membership is checked on every per-conversation call.
type ChatRepository struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewChatRepository(db *gorm.DB, log *zap.Logger) *ChatRepository {
	return &ChatRepository{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for message timestamps and read watermarks.
func (r *ChatRepository) WithClock(now func() time.Time) *ChatRepository {
	r.now = now
	return r
}

// Ping checks that the datastore answers.
func (r *ChatRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return r.unavailable("ping", err)
	}
	return nil
}

// FindOrCreateConversation returns the conversation between buyerID and the owner of
// listingID about that listing, creating it with both memberships when missing.
func (r *ChatRepository) FindOrCreateConversation(ctx context.Context, buyerID, listingID uuid.UUID) (*ConversationDetail, bool, error) {
	listing, err := r.getListing(ctx, listingID)
	if err != nil {
		return nil, false, err
	}
	if listing.UserID == buyerID {
		return nil, false, ErrSelfChat
	}

	conv, err := r.findConversation(ctx, buyerID, listing.UserID, listing.ID)
	if err == nil {
		return r.detail(conv, buyerID), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, r.unavailable("find conversation", err)
	}

	conv = &models.Conversation{
		BuyerID:   buyerID,
		SellerID:  listing.UserID,
		ListingID: &listing.ID,
		CreatedAt: r.now(),
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := []models.ChatMember{
			{ConversationID: conv.ID, UserID: buyerID},
			{ConversationID: conv.ID, UserID: listing.UserID},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		// lost the race against a concurrent start on the same triple
		existing, findErr := r.findConversation(ctx, buyerID, listing.UserID, listing.ID)
		if findErr == nil {
			return r.detail(existing, buyerID), false, nil
		}
		return nil, false, r.unavailable("create conversation", err)
	}

	created, err := r.findConversation(ctx, buyerID, listing.UserID, listing.ID)
	if err != nil {
		return nil, false, r.unavailable("reload conversation", err)
	}
	r.log.Info("conversation created",
		zap.String("conversation_id", created.ID.String()),
		zap.String("listing_id", listing.ID.String()))
	return r.detail(created, buyerID), true, nil
}

// GetConversation returns the conversation meta as seen by userID.
func (r *ChatRepository) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*ConversationDetail, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members.User").
		Preload("Listing").
		First(&conv, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, r.unavailable("get conversation", err)
	}
	if !isMember(conv.Members, userID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrForbidden)
	}
	return r.detail(&conv, userID), nil
}

// ListConversationsForUser returns every conversation userID belongs to, most recent
// activity first. Unread counts are computed from the current watermark on each call.
func (r *ChatRepository) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members.User").
		Preload("Listing").
		Where("id IN (?)", r.db.Model(&models.ChatMember{}).Select("conversation_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, r.unavailable("list conversations", err)
	}

	out := make([]ConversationSummary, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		summary := ConversationSummary{
			ID:          conv.ID,
			Counterpart: counterpartProfile(conv.Members, userID),
			Listing:     listingPreview(conv.Listing),
			CreatedAt:   conv.CreatedAt,
		}

		var last models.Message
		err := r.db.WithContext(ctx).
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return nil, r.unavailable("last message", err)
		}
		if last.ID != 0 {
			summary.LastMessage = &MessagePreview{
				ID:        last.ID,
				SenderID:  last.SenderID,
				Body:      last.Body,
				CreatedAt: last.CreatedAt,
			}
		}

		var watermark *time.Time
		if me := findMember(conv.Members, userID); me != nil {
			watermark = me.LastReadAt
		}
		if summary.UnreadCount, err = r.countUnread(ctx, conv.ID, userID, watermark); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return activityAt(out[i]).After(activityAt(out[j]))
	})
	return out, nil
}

// UnreadTotal sums the unread counts over all conversations of userID.
func (r *ChatRepository) UnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN chat_members ON chat_members.conversation_id = messages.conversation_id AND chat_members.user_id = ?", userID).
		Where("messages.sender_id <> ?", userID).
		Where("(chat_members.last_read_at IS NULL OR messages.created_at > chat_members.last_read_at)").
		Count(&total).Error
	if err != nil {
		return 0, r.unavailable("unread total", err)
	}
	return total, nil
}

// GetMembership is the authorization primitive. It reports apperr.ErrNotFound when
// userID is not a member of conversationID.
func (r *ChatRepository) GetMembership(ctx context.Context, conversationID, userID uuid.UUID) (*models.ChatMember, error) {
	var m models.ChatMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("membership: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, r.unavailable("get membership", err)
	}
	return &m, nil
}

// Counterpart returns the other member of a 1:1 conversation, or nil if there is none.
func (r *ChatRepository) Counterpart(ctx context.Context, conversationID, userID uuid.UUID) (*models.ChatMember, error) {
	members, err := r.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].UserID != userID {
			return &members[i], nil
		}
	}
	return nil, nil
}

func (r *ChatRepository) Members(ctx context.Context, conversationID uuid.UUID) ([]models.ChatMember, error) {
	var members []models.ChatMember
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Find(&members).Error; err != nil {
		return nil, r.unavailable("list members", err)
	}
	return members, nil
}

// AppendMessage persists a new message from senderID. The server assigns id and timestamp.
func (r *ChatRepository) AppendMessage(ctx context.Context, conversationID, senderID uuid.UUID, body string) (*models.Message, error) {
	if err := r.requireMember(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}

	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      r.now(),
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, r.unavailable("append message", err)
	}
	return &msg, nil
}

// ListMessages returns the conversation history oldest first. Callers check membership.
func (r *ChatRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, r.unavailable("list messages", err)
	}
	return msgs, nil
}

// MarkRead moves the caller's watermark to now and returns it.
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (time.Time, error) {
	if err := r.requireMember(ctx, conversationID, userID); err != nil {
		return time.Time{}, err
	}
	at := r.now()
	err := r.db.WithContext(ctx).
		Model(&models.ChatMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", at).Error
	if err != nil {
		return time.Time{}, r.unavailable("mark read", err)
	}
	return at, nil
}

// ClearMessages deletes the whole history of the conversation. Conversation,
// memberships and order are left untouched.
func (r *ChatRepository) ClearMessages(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&models.Message{})
	if res.Error != nil {
		return r.unavailable("clear messages", res.Error)
	}
	r.log.Info("conversation cleared",
		zap.String("conversation_id", conversationID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("deleted", res.RowsAffected))
	return nil
}

// ValidateBody enforces the 1..MaxMessageLength character rule.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is required: %w", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return fmt.Errorf("message body exceeds %d characters: %w", MaxMessageLength, apperr.ErrValidation)
	}
	return nil
}

func (r *ChatRepository) requireMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := r.GetMembership(ctx, conversationID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("not a member of conversation %s: %w", conversationID, apperr.ErrForbidden)
	}
	return err
}

func (r *ChatRepository) getListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("listing %s: %w", listingID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, r.unavailable("get listing", err)
	}
	return &listing, nil
}

func (r *ChatRepository) findConversation(ctx context.Context, buyerID, sellerID, listingID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members.User").
		Preload("Listing").
		Where("buyer_id = ? AND seller_id = ? AND listing_id = ?", buyerID, sellerID, listingID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ChatRepository) countUnread(ctx context.Context, conversationID, userID uuid.UUID, watermark *time.Time) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
	if watermark != nil {
		q = q.Where("created_at > ?", *watermark)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, r.unavailable("count unread", err)
	}
	return n, nil
}

func (r *ChatRepository) detail(conv *models.Conversation, userID uuid.UUID) *ConversationDetail {
	return &ConversationDetail{
		ID:          conv.ID,
		Counterpart: counterpartProfile(conv.Members, userID),
		Listing:     listingPreview(conv.Listing),
	}
}

// unavailable wraps an unexpected datastore error so callers see apperr.ErrUnavailable.
func (r *ChatRepository) unavailable(op string, err error) error {
	r.log.Warn("datastore error", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrUnavailable, err)
}

func isMember(members []models.ChatMember, userID uuid.UUID) bool {
	return findMember(members, userID) != nil
}

func findMember(members []models.ChatMember, userID uuid.UUID) *models.ChatMember {
	for i := range members {
		if members[i].UserID == userID {
			return &members[i]
		}
	}
	return nil
}

func counterpartProfile(members []models.ChatMember, userID uuid.UUID) *Profile {
	for _, m := range members {
		if m.UserID == userID || m.User == nil {
			continue
		}
		p := &Profile{ID: m.User.ID, Name: m.User.Name}
		if m.User.PhotoURL != "" {
			photo := m.User.PhotoURL
			p.PhotoURL = &photo
		}
		return p
	}
	return nil
}

func listingPreview(l *models.Listing) *ListingPreview {
	if l == nil {
		return nil
	}
	owner := l.UserID
	return &ListingPreview{
		ID:       l.ID,
		Title:    l.Title,
		ImageURI: l.FirstImage(),
		OwnerID:  &owner,
		Sold:     l.Sold,
	}
}

func activityAt(s ConversationSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}
