package http

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler) {
	// Health check
	app.Get("/health", handler.HealthCheck)

	// Push subscription (public, read-mostly notification stream)
	app.Get("/api/sse", handler.StreamEvents)

	api := app.Group("/api")
	{
		// Heartbeat ingestion from driver tablets
		api.Post("/heartbeat", handler.PostHeartbeat)

		// Arrival predictions (polling fallback for the locator map)
		api.Get("/arrivals", handler.GetArrivals)
		api.Get("/arrivals/route/:routeId", handler.GetRouteArrivals)

		// Device state
		api.Get("/devices/:deviceId", handler.GetDevice)

		// Operator messaging
		api.Post("/messages", handler.PostMessage)
		api.Get("/messages", handler.GetMessages)
	}
}
