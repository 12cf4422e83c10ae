package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/convertrack/backend/internal/ingest"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

// TrackHandler handles the landing-page tracking API: reference allocation
// and click tracking.
type TrackHandler struct {
	store      storage.Store
	allocator  *services.SequenceAllocator
	correlator *services.IdentityCorrelator
	pipeline   *services.DeliveryPipeline
}

// NewTrackHandler creates a new track handler
func NewTrackHandler(store storage.Store, allocator *services.SequenceAllocator, correlator *services.IdentityCorrelator, pipeline *services.DeliveryPipeline) *TrackHandler {
	return &TrackHandler{
		store:      store,
		allocator:  allocator,
		correlator: correlator,
		pipeline:   pipeline,
	}
}

// NextClientRef allocates and returns the next global client reference.
func (h *TrackHandler) NextClientRef(c *fiber.Ctx) error {
	ref, err := h.allocator.AllocateNext(models.CounterGlobalClientRef)
	if err != nil {
		log.Printf("❌ next-client-ref failed: %v", err)
		status := fiber.StatusBadRequest
		if errors.Is(err, storage.ErrStoreUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	log.Printf("🔖 next-client-ref => %d", ref)
	return c.JSON(fiber.Map{
		"ok":         true,
		"client_ref": ref,
	})
}

// Track upserts the click session for an event_id and reports the assigned
// reference and click ordinal. Idempotent: reposting the same event_id merges
// instead of duplicating.
func (h *TrackHandler) Track(c *fiber.Ctx) error {
	var req ingest.TrackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "invalid payload: " + err.Error(),
		})
	}

	facts, err := req.Normalize()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	fields := req.Session(clientIP(c))
	fields = h.correlator.Enrich(fields)

	session, err := h.correlator.UpsertByDelivery(facts.EventID, fields)
	if err != nil {
		log.Printf("❌ track upsert failed (event_id=%s): %v", facts.EventID, err)
		status := fiber.StatusBadRequest
		if errors.Is(err, storage.ErrStoreUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	log.Printf("👣 track event_id=%s client_ref=%s click_number=%d",
		facts.EventID, session.ClientRef, session.ClickNumber)

	h.pipeline.Deliver(c.UserContext(), models.EventPageview, session, services.EventOptions{})

	return c.JSON(fiber.Map{
		"ok":           true,
		"click_number": session.ClickNumber,
		"client_ref":   session.ClientRef,
	})
}

// clientIP resolves the caller's address the way the reverse proxy reports
// it: X-Forwarded-For first hop, then X-Real-Ip, then the socket peer.
func clientIP(c *fiber.Ctx) string {
	if xfwd := c.Get("X-Forwarded-For"); xfwd != "" {
		return strings.TrimSpace(strings.Split(xfwd, ",")[0])
	}
	if xreal := c.Get("X-Real-Ip"); xreal != "" {
		return strings.TrimSpace(xreal)
	}
	return c.IP()
}
