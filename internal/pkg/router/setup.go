package router

import (
	"github.com/courseclub/CourseClub/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// Router installs one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the controllers the route groups need. Built once in main;
// no globals.
type Deps struct {
	Bot     *controllers.BotController
	Webhook *controllers.WebhookController
	Admin   *controllers.AdminController
	DevMode bool
}

// InstallRouter wires all route groups onto the app.
func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHookRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
