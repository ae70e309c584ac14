package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/deal"
)

type DealHandler struct {
	Deals *deal.DealService
	Log   *zap.Logger
}

func NewDealHandler(svc *deal.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{Deals: svc, Log: log}
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}
	convID, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	view, err := h.Deals.GetDeal(c.UserContext(), convID, userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, view)
}

// ConfirmDeal is clicked by both sides: the buyer opens the order, the seller closes it.
func (h *DealHandler) ConfirmDeal(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}
	convID, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	res, err := h.Deals.ConfirmDeal(c.UserContext(), convID, userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, res)
}

func (h *DealHandler) ListOrders(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}
	orders, err := h.Deals.ListOrders(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, orders)
}
