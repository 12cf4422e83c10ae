package routes

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/convertrack/backend/internal/handlers"
	"github.com/convertrack/backend/internal/middleware"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

// Deps bundles the services the routes dispatch into.
type Deps struct {
	Store      storage.Store
	Allocator  *services.SequenceAllocator
	Correlator *services.IdentityCorrelator
	Pipeline   *services.DeliveryPipeline
	Aggregator *services.FunnelAggregator
	Notifier   *services.ChatNotifier // may be nil
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps Deps) {
	trackHandler := handlers.NewTrackHandler(deps.Store, deps.Allocator, deps.Correlator, deps.Pipeline)
	chatHandler := handlers.NewChatHandler(deps.Store, deps.Correlator, deps.Pipeline, deps.Notifier)
	chargeHandler := handlers.NewChargeHandler(deps.Store, deps.Correlator, deps.Pipeline)
	funnelHandler := handlers.NewFunnelHandler(deps.Aggregator)

	// API routes
	api := app.Group("/api")
	api.Get("/next-client-ref", trackHandler.NextClientRef)
	api.Post("/track", trackHandler.Track)
	api.Get("/funnel", funnelHandler.Report)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")

	// ENVIRONMENT-AWARE VALIDATION: providers can't sign requests in local
	// testing, so the shared-token check is skippable outside production.
	if os.Getenv("ENVIRONMENT") == "development" || os.Getenv("DISABLE_WEBHOOK_VALIDATION") == "true" {
		if os.Getenv("ENVIRONMENT") == "development" {
			println("⚠️  Webhook token validation DISABLED for development")
		}
	} else {
		webhooks.Use(middleware.ValidateWebhookToken())
	}

	webhooks.Post("/botconversa", chatHandler.HandleWebhook)
	webhooks.Post("/payment", chargeHandler.HandleGeneric)
	webhooks.Post("/payment/created", chargeHandler.HandleCreated)
	webhooks.Post("/payment/completed", chargeHandler.HandleCompleted)
}
