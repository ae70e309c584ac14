package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// LocalUserID is the locals key holding the authenticated uuid.UUID.
const LocalUserID = "userId"

func SetUserID(c *fiber.Ctx, uid uuid.UUID) {
	c.Locals(LocalUserID, uid)
}

// UserID returns the caller set by JWT.
func UserID(c *fiber.Ctx) (uuid.UUID, error) {
	v := c.Locals(LocalUserID)
	if v == nil {
		return uuid.Nil, fmt.Errorf("unauthorized")
	}

	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	default:
		return uuid.Nil, fmt.Errorf("invalid userId type: %T", v)
	}
}
