package routes

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fsotosa-ops/oasis-api/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, health *handlers.HealthHandler, webhooks *handlers.WebhooksHandler, metricsReg *prometheus.Registry) {
	app.Get("/health", health.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")

	// Fixed paths go before the :provider wildcard so "providers" and
	// "dlq" are never treated as provider names.
	api.Get("/webhooks/providers", webhooks.ListProviders)
	api.Get("/webhooks/events/failed", webhooks.ListFailedEvents)
	api.Get("/webhooks/dlq/stats", webhooks.DLQStats)
	api.Post("/webhooks/dlq/retry", webhooks.RetryDLQ)
	api.Post("/webhooks/:provider", webhooks.HandleWebhook)
}
