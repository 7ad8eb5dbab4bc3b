package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// ApiRouter installs the operator REST surface.
type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	admin := v1.Group("/admin", h.deps.Admin.RequireOperator)
	admin.Post("/grant", h.deps.Admin.HandleGrant)
	admin.Post("/revoke", h.deps.Admin.HandleRevoke)
	admin.Get("/subscriptions", h.deps.Admin.HandleListActive)
	admin.Post("/sessions", h.deps.Admin.HandleSchedule)
	admin.Post("/payments/mark-paid", h.deps.Admin.HandleMarkPaid)
}
