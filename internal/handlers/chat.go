package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/chat"
)

type ChatHandler struct {
	Chat *chat.ChatService
	Log  *zap.Logger
}

func NewChatHandler(svc *chat.ChatService, log *zap.Logger) *ChatHandler {
	return &ChatHandler{Chat: svc, Log: log}
}

type startConversationReq struct {
	ListingID string `json:"listingId"`
	ProductID string `json:"productId"` // older clients
}

// StartConversation finds or creates the caller's conversation about a listing.
func (h *ChatHandler) StartConversation(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}

	var req startConversationReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	raw := req.ListingID
	if raw == "" {
		raw = req.ProductID
	}
	if raw == "" {
		return badRequest(c, "listingId is required")
	}
	listingID, err := uuid.Parse(raw)
	if err != nil {
		return badRequest(c, "Invalid listingId")
	}

	conv, created, err := h.Chat.StartConversation(c.UserContext(), userID, listingID)
	if err != nil {
		return fail(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"created": created,
		"data":    conv,
	})
}

func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}
	list, err := h.Chat.ListConversations(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, list)
}

func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}
	total, err := h.Chat.UnreadTotal(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"total": total})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	userID, convID, err := h.caller(c)
	if err != nil {
		return fail(c, err)
	}
	conv, err := h.Chat.GetConversation(c.UserContext(), convID, userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, conv)
}

// GetMessages returns the history and marks it read for the caller.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, convID, err := h.caller(c)
	if err != nil {
		return fail(c, err)
	}
	msgs, err := h.Chat.ListMessages(c.UserContext(), convID, userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, msgs)
}

type sendMessageReq struct {
	Body    *string `json:"body"`
	Content *string `json:"content"`
	Text    *string `json:"text"`
}

func (r sendMessageReq) text() string {
	for _, s := range []*string{r.Body, r.Content, r.Text} {
		if s != nil {
			return *s
		}
	}
	return ""
}

// SendMessage is the synchronous delivery path. The response carries the same payload
// the room receives as message:new.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, convID, err := h.caller(c)
	if err != nil {
		return fail(c, err)
	}

	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	msg, err := h.Chat.Deliver(c.UserContext(), convID, userID, req.text())
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

func (h *ChatHandler) ClearMessages(c *fiber.Ctx) error {
	userID, convID, err := h.caller(c)
	if err != nil {
		return fail(c, err)
	}
	if err := h.Chat.ClearMessages(c.UserContext(), convID, userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Chat cleared",
	})
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, convID, err := h.caller(c)
	if err != nil {
		return fail(c, err)
	}
	read, err := h.Chat.MarkRead(c.UserContext(), convID, userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, read)
}

func (h *ChatHandler) caller(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, err := getUserUUID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	convID, err := paramUUID(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, convID, nil
}
