package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/velora-social/velora/app/controllers"
	"github.com/velora-social/velora/internal/pkg/database"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks. The CORS middleware answers OPTIONS preflights with
	// permissive headers; the provider itself only ever POSTs.
	hooks := app.Group("/webhooks", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST,OPTIONS",
		AllowHeaders: "Content-Type,paypal-auth-algo,paypal-cert-url,paypal-transmission-id,paypal-transmission-sig,paypal-transmission-time",
	}))

	webhookCtl := controllers.NewWebhookControllerFromEnv(database.GetDB())
	hooks.Post("/paypal", webhookCtl.HandlePayPalWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
