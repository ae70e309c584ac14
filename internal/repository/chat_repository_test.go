package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/testutil"
)

type fixture struct {
	db       *gorm.DB
	repo     *ChatRepository
	clock    *testutil.Clock
	seller   models.User
	buyer    models.User
	stranger models.User
	listing  models.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	clock := testutil.NewClock()
	f := &fixture{
		db:    gdb,
		repo:  NewChatRepository(gdb, zap.NewNop()).WithClock(clock.Now),
		clock: clock,
	}
	f.seller = testutil.CreateUser(t, gdb, "sari")
	f.buyer = testutil.CreateUser(t, gdb, "bima")
	f.stranger = testutil.CreateUser(t, gdb, "tono")
	f.listing = testutil.CreateListing(t, gdb, f.seller, "desk-lamp")
	return f
}

func (f *fixture) start(t *testing.T) uuid.UUID {
	t.Helper()
	conv, _, err := f.repo.FindOrCreateConversation(context.Background(), f.buyer.ID, f.listing.ID)
	require.NoError(t, err)
	return conv.ID
}

func TestFindOrCreateConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.repo.FindOrCreateConversation(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.repo.FindOrCreateConversation(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var members int64
	require.NoError(t, f.db.Model(&models.ChatMember{}).Where("conversation_id = ?", first.ID).Count(&members).Error)
	assert.EqualValues(t, 2, members)

	require.NotNil(t, first.Counterpart)
	assert.Equal(t, f.seller.ID, first.Counterpart.ID)
	require.NotNil(t, first.Listing)
	require.NotNil(t, first.Listing.ImageURI)
	assert.Equal(t, "https://cdn.example/desk-lamp-1.jpg", *first.Listing.ImageURI)
}

func TestFindOrCreateConversationSeparatesListings(t *testing.T) {
	f := newFixture(t)
	other := testutil.CreateListing(t, f.db, f.seller, "bike")

	a, _, err := f.repo.FindOrCreateConversation(context.Background(), f.buyer.ID, f.listing.ID)
	require.NoError(t, err)
	b, _, err := f.repo.FindOrCreateConversation(context.Background(), f.buyer.ID, other.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFindOrCreateConversationRejectsSelfChat(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.repo.FindOrCreateConversation(context.Background(), f.seller.ID, f.listing.ID)
	assert.ErrorIs(t, err, ErrSelfChat)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestFindOrCreateConversationUnknownListing(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.repo.FindOrCreateConversation(context.Background(), f.buyer.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAppendMessageRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	_, err := f.repo.AppendMessage(ctx, convID, f.stranger.ID, "hi")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.repo.AppendMessage(ctx, convID, f.buyer.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.repo.AppendMessage(ctx, convID, f.buyer.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.repo.AppendMessage(ctx, convID, f.buyer.ID, strings.Repeat("a", MaxMessageLength+1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// multi-byte characters count once
	msg, err := f.repo.AppendMessage(ctx, convID, f.buyer.ID, strings.Repeat("é", MaxMessageLength))
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, f.clock.Peek(), msg.CreatedAt)
}

func TestListMessagesKeepsAppendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	bodies := []string{"Is this available?", "Yes it is", "Can I pick it up today?", "Sure"}
	senders := []uuid.UUID{f.buyer.ID, f.seller.ID, f.buyer.ID, f.seller.ID}
	for i, body := range bodies {
		_, err := f.repo.AppendMessage(ctx, convID, senders[i], body)
		require.NoError(t, err)
	}

	msgs, err := f.repo.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, len(bodies))
	for i := range bodies {
		assert.Equal(t, bodies[i], msgs[i].Body)
	}
}

func TestListMessagesBreaksTimestampTiesByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	fixed := f.clock.Now()
	f.repo.WithClock(func() time.Time { return fixed })
	for _, body := range []string{"one", "two", "three"} {
		_, err := f.repo.AppendMessage(ctx, convID, f.buyer.ID, body)
		require.NoError(t, err)
	}

	msgs, err := f.repo.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Body, msgs[1].Body, msgs[2].Body})
	assert.Less(t, msgs[0].ID, msgs[1].ID)
}

func TestUnreadCountsFollowWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	_, err := f.repo.AppendMessage(ctx, convID, f.buyer.ID, "Is this available?")
	require.NoError(t, err)
	_, err = f.repo.AppendMessage(ctx, convID, f.buyer.ID, "I can pay cash")
	require.NoError(t, err)

	// never read: every counterpart message is unread
	list, err := f.repo.ListConversationsForUser(ctx, f.seller.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "I can pay cash", list[0].LastMessage.Body)
	assert.Equal(t, f.buyer.ID, list[0].Counterpart.ID)

	// own messages never count
	list, err = f.repo.ListConversationsForUser(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, list[0].UnreadCount)

	_, err = f.repo.MarkRead(ctx, convID, f.seller.ID)
	require.NoError(t, err)
	list, err = f.repo.ListConversationsForUser(ctx, f.seller.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, list[0].UnreadCount)

	_, err = f.repo.AppendMessage(ctx, convID, f.buyer.ID, "Still there?")
	require.NoError(t, err)
	list, err = f.repo.ListConversationsForUser(ctx, f.seller.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list[0].UnreadCount)

	total, err := f.repo.UnreadTotal(ctx, f.seller.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.start(t)
	bike := testutil.CreateListing(t, f.db, f.seller, "bike")
	newer, _, err := f.repo.FindOrCreateConversation(ctx, f.buyer.ID, bike.ID)
	require.NoError(t, err)

	_, err = f.repo.AppendMessage(ctx, older, f.buyer.ID, "bump")
	require.NoError(t, err)

	list, err := f.repo.ListConversationsForUser(ctx, f.buyer.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older, list[0].ID)
	assert.Equal(t, newer.ID, list[1].ID)

	none, err := f.repo.ListConversationsForUser(ctx, f.stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkReadIsIdempotentAndMemberOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	first, err := f.repo.MarkRead(ctx, convID, f.seller.ID)
	require.NoError(t, err)
	second, err := f.repo.MarkRead(ctx, convID, f.seller.ID)
	require.NoError(t, err)
	assert.True(t, second.After(first))

	m, err := f.repo.GetMembership(ctx, convID, f.seller.ID)
	require.NoError(t, err)
	require.NotNil(t, m.LastReadAt)
	assert.True(t, m.LastReadAt.Equal(second))

	_, err = f.repo.MarkRead(ctx, convID, f.stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.repo.GetMembership(ctx, convID, f.stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClearMessagesKeepsConversationMembersAndDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	_, err := f.repo.AppendMessage(ctx, convID, f.buyer.ID, "hello")
	require.NoError(t, err)
	_, err = f.repo.ConfirmDeal(ctx, convID, f.buyer.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.repo.ClearMessages(ctx, convID, f.stranger.ID), apperr.ErrForbidden)
	require.NoError(t, f.repo.ClearMessages(ctx, convID, f.seller.ID))

	msgs, err := f.repo.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	var convs, members, orders int64
	f.db.Model(&models.Conversation{}).Where("id = ?", convID).Count(&convs)
	f.db.Model(&models.ChatMember{}).Where("conversation_id = ?", convID).Count(&members)
	f.db.Model(&models.Order{}).Where("conversation_id = ?", convID).Count(&orders)
	assert.EqualValues(t, 1, convs)
	assert.EqualValues(t, 2, members)
	assert.EqualValues(t, 1, orders)
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.start(t)

	detail, err := f.repo.GetConversation(ctx, convID, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, f.buyer.ID, detail.Counterpart.ID)
	require.NotNil(t, detail.Listing.OwnerID)
	assert.Equal(t, f.seller.ID, *detail.Listing.OwnerID)

	_, err = f.repo.GetConversation(ctx, convID, f.stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.repo.GetConversation(ctx, uuid.New(), f.seller.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCounterpart(t *testing.T) {
	f := newFixture(t)
	convID := f.start(t)

	other, err := f.repo.Counterpart(context.Background(), convID, f.buyer.ID)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, f.seller.ID, other.UserID)
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.repo.Ping(context.Background()))
}
