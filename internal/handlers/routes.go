package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/middleware"
)

// Router holds every handler of the service and mounts them on an app.
type Router struct {
	JWTSecret string
	Auth      *AuthHandler
	Listings  *ListingHandler
	Chat      *ChatHandler
	Deals     *DealHandler
	WS        *WSHandler
	Health    *HealthHandler
}

func (r *Router) Mount(app *fiber.App) {
	app.Get("/health", r.Health.Health)
	app.Get("/db-health", r.Health.DBHealth)

	api := app.Group("/api")

	// public
	api.Post("/auth/register", r.Auth.Register)
	api.Post("/auth/login", r.Auth.Login)
	api.Post("/auth/logout", r.Auth.Logout)
	api.Get("/listings/:id", r.Listings.Get)

	// protected (JWT)
	protected := api.Group("/", middleware.JWT(r.JWTSecret))
	protected.Get("/me", r.Auth.Me)
	protected.Post("/listings", r.Listings.Create)

	chats := protected.Group("/chats")
	chats.Post("/start", r.Chat.StartConversation)
	chats.Get("/", r.Chat.GetConversations)
	chats.Get("/unread", r.Chat.GetUnreadTotal)
	chats.Get("/:id", r.Chat.GetConversation)
	chats.Get("/:id/messages", r.Chat.GetMessages)
	chats.Post("/:id/messages", r.Chat.SendMessage)
	chats.Delete("/:id/messages", r.Chat.ClearMessages)
	chats.Patch("/:id/read", r.Chat.MarkAsRead)
	chats.Get("/:id/deal", r.Deals.GetDeal)
	chats.Post("/:id/deal/confirm", r.Deals.ConfirmDeal)

	protected.Get("/orders", r.Deals.ListOrders)

	// token from the query string, verified before the upgrade
	app.Get("/ws/chat",
		middleware.RequireUpgrade(),
		middleware.JWT(r.JWTSecret),
		r.WS.Upgrade(),
	)
}
