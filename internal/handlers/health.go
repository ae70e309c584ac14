package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/realtime"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	Store   pinger
	Redis   *redis.Client // optional
	Gateway *realtime.Gateway
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"connections": h.Gateway.Connections(),
	})
}

// DBHealth reports 503 when the datastore does not answer within two seconds. Redis is
// reported but does not fail the check since notifications are best-effort.
func (h *HealthHandler) DBHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	redisStatus := "disabled"
	if h.Redis != nil {
		redisStatus = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			redisStatus = "down"
		}
	}

	if err := h.Store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "down",
			"message": unavailableMessage,
			"redis":   redisStatus,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"redis":  redisStatus,
	})
}
