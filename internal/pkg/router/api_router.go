package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mixhaven/MixHaven/app/controllers"
	"github.com/mixhaven/MixHaven/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Provider webhooks are never rate limited; the provider retries on
	// anything but a quick acknowledgement.
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Client-facing endpoints are reached through emailed links and verify
	// the client email against the pitch record.
	v1.Post("/client/pitches/:id/approve", controllers.HandleClientApprovePitch)
	v1.Post("/client/pitches/:id/pay", controllers.HandleClientPayPitch)
	v1.Post("/client/milestones/:id/pay", controllers.HandleClientPayMilestone)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())
	authed.Post("/orders", controllers.HandleCreateOrder)
	authed.Post("/billing/payments", controllers.HandleProcessPayment)
	authed.Get("/billing/invoices", controllers.HandleListInvoices)
	authed.Get("/notifications", controllers.HandleListNotifications)
	authed.Post("/notifications/read", controllers.HandleMarkNotificationsRead)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
