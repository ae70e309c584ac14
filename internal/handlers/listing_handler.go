package handlers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
)

// ListingHandler is the thin catalog surface the chat needs to have something to talk about.
type ListingHandler struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Timeout time.Duration
}

func NewListingHandler(db *gorm.DB, log *zap.Logger, timeout time.Duration) *ListingHandler {
	return &ListingHandler{DB: db, Log: log, Timeout: timeout}
}

type ListingReq struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	Images      []string `json:"images"`
}

func (h *ListingHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := dbContext(c, h.Timeout)
	defer cancel()

	uid, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}

	var req ListingReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	errs := FieldErrors{}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs.Add("title", "Title is required")
	}
	if req.Price < 0 {
		errs.Add("price", "Price cannot be negative")
	}
	images := make([]string, 0, len(req.Images))
	for _, u := range req.Images {
		if u = strings.TrimSpace(u); u != "" {
			images = append(images, u)
		}
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to process images",
		})
	}

	listing := models.Listing{
		UserID:      uid,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Images:      datatypes.JSON(imagesJSON),
	}
	if err := h.DB.WithContext(ctx).Create(&listing).Error; err != nil {
		h.Log.Warn("create listing", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"code":    "unavailable",
			"message": unavailableMessage,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    listing,
	})
}

func (h *ListingHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := dbContext(c, h.Timeout)
	defer cancel()

	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var listing models.Listing
	err = h.DB.WithContext(ctx).Preload("User").First(&listing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"code":    "not_found",
			"message": "Listing not found",
		})
	}
	if err != nil {
		h.Log.Warn("get listing", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"code":    "unavailable",
			"message": unavailableMessage,
		})
	}
	return ok(c, listing)
}
