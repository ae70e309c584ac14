package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/utils"
)

// TokenCookie is the cookie web clients keep the session token in.
const TokenCookie = "ns_token"

// JWT verifies the bearer token and stores the caller's id in locals. The token is
// taken from the Authorization header, then the session cookie, then the "token" query
// parameter (browsers cannot set headers on a websocket handshake).
func JWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return unauthorized(c, "Missing token")
		}

		uid, err := utils.ParseUserID(secret, tokenStr)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		SetUserID(c, uid)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"code":    apperr.Code(apperr.ErrUnauthorized),
		"message": msg,
	})
}

func bearerToken(c *fiber.Ctx) string {
	if h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if t := c.Cookies(TokenCookie); t != "" {
		return t
	}
	return c.Query("token")
}
