package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/handlers"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/middleware"
)

// SetupOrchestrator configures the operator admin API
func SetupOrchestrator(app *fiber.App, logger *logging.Logger, h *handlers.Handler,
	gatherer prometheus.Gatherer, cfg config.AuthConfig,
) {
	setupCommon(app, logger, h, gatherer)

	admin := app.Group("/admin", middleware.APIKeyAuth(logger, cfg.APIKeys, cfg.Enabled))
	admin.Get("/ring", h.GetRing)
	admin.Post("/nodes", h.AddNodes)
	admin.Delete("/nodes", h.RemoveNodes)
	admin.Post("/cluster/start", h.StartCluster)
	admin.Post("/cluster/stop", h.StopCluster)
	admin.Post("/cluster/shutdown", h.ShutdownCluster)
	admin.Get("/events", h.ListEvents)

	app.Use(h.NotFound)
}

// SetupNode configures a storage node's data API
func SetupNode(app *fiber.App, logger *logging.Logger, h *handlers.Handler,
	gatherer prometheus.Gatherer, cfg config.AuthConfig,
) {
	setupCommon(app, logger, h, gatherer)
	auth := middleware.APIKeyAuth(logger, cfg.APIKeys, cfg.Enabled)

	v1 := app.Group("/v1", auth)
	v1.Get("/kv/:key", h.GetKey)
	v1.Put("/kv/:key", h.PutKey)
	v1.Delete("/kv/:key", h.DeleteKey)
	v1.Get("/node", h.NodeStatus)

	admin := app.Group("/admin", auth)
	admin.Post("/replication", h.ConfigureReplication)

	app.Use(h.NotFound)
}

// Health and metrics are served without auth
func setupCommon(app *fiber.App, logger *logging.Logger, h *handlers.Handler, gatherer prometheus.Gatherer) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger))

	app.Get("/health", h.Health)
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// New creates a new Fiber app with configuration
func New(name string, logger *logging.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})
}
