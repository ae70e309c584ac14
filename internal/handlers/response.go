package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/middleware"
)

const unavailableMessage = "Database unavailable. Please try again in a moment."

var statusByKind = []struct {
	kind   error
	status int
}{
	{apperr.ErrUnauthorized, fiber.StatusUnauthorized},
	{apperr.ErrForbidden, fiber.StatusForbidden},
	{apperr.ErrNotFound, fiber.StatusNotFound},
	{apperr.ErrValidation, fiber.StatusBadRequest},
	{apperr.ErrConflict, fiber.StatusConflict},
	{apperr.ErrInvalidState, fiber.StatusBadRequest},
	{apperr.ErrUnavailable, fiber.StatusServiceUnavailable},
}

// classify maps err to an HTTP status and the message shown to the client. Only the
// kinds in apperr reach the client with their own text.
func classify(err error) (int, string) {
	for _, k := range statusByKind {
		if !errors.Is(err, k.kind) {
			continue
		}
		if k.kind == apperr.ErrUnavailable {
			return k.status, unavailableMessage
		}
		return k.status, strings.TrimSuffix(err.Error(), ": "+k.kind.Error())
	}
	return fiber.StatusInternalServerError, "Internal server error"
}

func fail(c *fiber.Ctx, err error) error {
	status, msg := classify(err)
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"code":    apperr.Code(err),
		"message": msg,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"code":    "validation_error",
		"message": msg,
	})
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func getUserUUID(c *fiber.Ctx) (uuid.UUID, error) {
	uid, err := middleware.UserID(c)
	if err != nil {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	return uid, nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, apperr.ErrValidation)
	}
	return id, nil
}

// dbContext bounds the datastore work of one request by timeout.
func dbContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return c.UserContext(), func() {}
	}
	return context.WithTimeout(c.UserContext(), timeout)
}
