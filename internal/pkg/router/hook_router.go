package router

import (
	"github.com/gofiber/fiber/v2"
)

// HookRouter carries the inbound callback surface: gateway webhooks and the
// Telegram bot webhook. These endpoints authenticate per request (signature,
// path token, secret header) instead of via middleware.
type HookRouter struct {
	deps Deps
}

func NewHookRouter(deps Deps) *HookRouter {
	return &HookRouter{deps: deps}
}

func (h *HookRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	hooks := app.Group("/hooks")
	hooks.Post("/mercadopago", h.deps.Webhook.HandleMercadoPagoWebhook)
	hooks.Post("/yookassa", h.deps.Webhook.HandleYooKassaWebhook)
	hooks.Post("/telegram/:token", h.deps.Bot.HandleTelegramUpdate)

	if h.deps.DevMode {
		// Stand-in for the gateway redirect in local runs.
		hooks.Get("/mock/paid", h.deps.Webhook.HandleMockPaid)
	}
}
