package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/qwikcal/qwikcal/app/controllers"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/cache"
	"github.com/qwikcal/qwikcal/internal/pkg/env"
	"github.com/qwikcal/qwikcal/internal/pkg/middleware"
)

// ApiRouter installs the v1 API surface.
type ApiRouter struct {
	events   *controllers.EventController
	billing  *controllers.BillingController
	accounts repository.AccountRepository
}

// NewApiRouter wires the API routes from the given controllers.
func NewApiRouter(events *controllers.EventController, billing *controllers.BillingController, accounts repository.AccountRepository) *ApiRouter {
	return &ApiRouter{events: events, billing: billing, accounts: accounts}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	v1 := api.Group("/v1")

	// The provider webhook authenticates via signature, not owner headers
	v1.Post("/billing/webhook", h.billing.Webhook)

	authed := v1.Group("", middleware.OwnerAuthMiddleware(h.accounts))

	authed.Post("/events", h.events.Create)
	authed.Post("/events/upload", h.events.Upload)
	authed.Get("/events", h.events.List)
	authed.Get("/events/:id", h.events.Get)
	authed.Put("/events/:id", h.events.Update)
	authed.Delete("/events/:id", h.events.Delete)
	authed.Get("/events/:id/calendar", h.events.DownloadCalendar)
	authed.Post("/events/:id/deliver", h.events.Deliver)

	authed.Post("/billing/subscription", h.billing.Subscribe)
}

// newLimiterStorage backs the rate limiter with Redis database 1 so limits
// survive restarts and hold across instances. Cache uses database 0.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
