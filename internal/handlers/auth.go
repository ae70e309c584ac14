package handlers

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/middleware"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/utils"
)

// AuthHandler issues the tokens every other route verifies.
type AuthHandler struct {
	DB        *gorm.DB
	JWTSecret string
	Expires   int
	Timeout   time.Duration
	Log       *zap.Logger
}

type RegisterReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	PhotoURL string `json:"photoUrl"`
}

type FieldErrors map[string][]string

func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

func validationFail(c *fiber.Ctx, errs FieldErrors) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"code":    "validation_error",
		"message": "Validation error",
		"errors":  errs,
	})
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	ctx, cancel := dbContext(c, h.Timeout)
	defer cancel()

	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)

	errs := FieldErrors{}
	if name == "" {
		errs.Add("name", "Name is required")
	}
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email format")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	} else if len(password) < 6 {
		errs.Add("password", "Password must be at least 6 characters")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var existing models.User
	err := h.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		errs.Add("email", "Email is already registered")
		return validationFail(c, errs)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.Log.Warn("register lookup", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"code":    "unavailable",
			"message": unavailableMessage,
		})
	}

	pw, err := utils.HashPassword(password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to process password",
		})
	}

	u := models.User{
		Name:     name,
		Email:    email,
		PhotoURL: strings.TrimSpace(req.PhotoURL),
		Password: pw,
		IsActive: true,
	}
	if err := h.DB.WithContext(ctx).Create(&u).Error; err != nil {
		h.Log.Warn("register create", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Registration failed",
		})
	}

	return h.issue(c, fiber.StatusCreated, &u)
}

type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	ctx, cancel := dbContext(c, h.Timeout)
	defer cancel()

	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)

	errs := FieldErrors{}
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var u models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Wrong email or password",
		})
	}
	if !u.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Account is not active",
		})
	}
	if !utils.CheckPassword(u.Password, password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Wrong email or password",
		})
	}

	return h.issue(c, fiber.StatusOK, &u)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out",
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	ctx, cancel := dbContext(c, h.Timeout)
	defer cancel()

	uid, err := getUserUUID(c)
	if err != nil {
		return fail(c, err)
	}

	var u models.User
	if err := h.DB.WithContext(ctx).First(&u, "id = ?", uid).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}
	return ok(c, fiber.Map{
		"id":       u.ID,
		"name":     u.Name,
		"email":    u.Email,
		"photoUrl": u.PhotoURL,
	})
}

// issue signs a token, sets the session cookie and returns it in the body for mobile
// clients that keep it themselves.
func (h *AuthHandler) issue(c *fiber.Ctx, status int, u *models.User) error {
	token, err := utils.SignJWT(h.JWTSecret, u.ID, u.Email, h.Expires)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create token",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		SameSite: "Lax",
		MaxAge:   h.Expires * 60,
	})

	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"token": token,
			"user": fiber.Map{
				"id":       u.ID,
				"name":     u.Name,
				"email":    u.Email,
				"photoUrl": u.PhotoURL,
			},
		},
	})
}
