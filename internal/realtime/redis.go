package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedis creates a new Redis client
func NewRedis(addr, password string, db int, log *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	log.Info("redis client created", zap.String("addr", addr))
	return rdb
}

// Notification is what the push worker reads from notifications:<userId>.
type Notification struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Text           string    `json:"text"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier hands new-message notifications to the out-of-process push worker.
type RedisNotifier struct {
	rdb redisPublisher
	log *zap.Logger
}

func NewRedisNotifier(rdb redisPublisher, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log}
}

func NotificationChannel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

// NotifyMessage publishes a chat_message notification for receiverID.
func (n *RedisNotifier) NotifyMessage(ctx context.Context, receiverID uuid.UUID, p MessagePayload) error {
	b, err := json.Marshal(Notification{
		Type:           "chat_message",
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Text:           p.Content,
	})
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, NotificationChannel(receiverID), b).Err(); err != nil {
		n.log.Warn("notification publish failed",
			zap.String("receiver_id", receiverID.String()),
			zap.Error(err))
		return err
	}
	return nil
}
