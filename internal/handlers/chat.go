package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/convertrack/backend/internal/ingest"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

// ChatHandler processes chat-provider webhooks (BotConversa): every inbound
// message is logged append-only, then correlated to a session by the embedded
// cliente# reference.
type ChatHandler struct {
	store      storage.Store
	correlator *services.IdentityCorrelator
	pipeline   *services.DeliveryPipeline
	notifier   *services.ChatNotifier // may be nil
}

// NewChatHandler creates a new chat webhook handler
func NewChatHandler(store storage.Store, correlator *services.IdentityCorrelator, pipeline *services.DeliveryPipeline, notifier *services.ChatNotifier) *ChatHandler {
	return &ChatHandler{
		store:      store,
		correlator: correlator,
		pipeline:   pipeline,
		notifier:   notifier,
	}
}

// HandleWebhook processes one inbound chat message. The provider sometimes
// posts JSON and sometimes tacks the fields onto the query string, so both
// are read. Persistence problems degrade to skipping the side effects; the
// provider still gets its 200.
func (h *ChatHandler) HandleWebhook(c *fiber.Ctx) error {
	// Query first, body second: a field present in both takes the body value.
	var msg ingest.ChatMessage
	if err := c.QueryParser(&msg); err != nil {
		log.Printf("⚠️  Chat query parameters ignored: %v", err)
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&msg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"ok":    false,
				"error": "invalid payload: " + err.Error(),
			})
		}
	}

	facts, _ := msg.Normalize()
	now := time.Now()

	log.Printf("📱 Chat message from %s: %s", facts.PhoneDigits, facts.FreeText)

	if err := h.store.CreateMessage(&models.Message{
		Text:      facts.FreeText,
		From:      facts.PhoneDigits,
		ClientRef: facts.ClientRef,
		ServerIP:  clientIP(c),
	}); err != nil {
		log.Printf("⚠️  Chat message not persisted: %v", err)
	}

	if facts.ClientRef != "" {
		session, created, err := h.correlator.AttachContactToClientRef(facts.ClientRef, facts.PhoneDigits, facts.FreeText, now)
		if err != nil {
			log.Printf("⚠️  Contact attach failed for cliente#%s: %v", facts.ClientRef, err)
		} else {
			h.pipeline.Deliver(c.UserContext(), models.EventPageview, session, services.EventOptions{EventTime: now})
			h.pipeline.Deliver(c.UserContext(), models.EventContact, session, services.EventOptions{EventTime: now})

			if created && h.notifier != nil && facts.PhoneDigits != "" {
				if err := h.notifier.SendReferenceConfirmation(facts.PhoneDigits, facts.ClientRef); err != nil {
					log.Printf("⚠️  Confirmation not sent to %s: %v", facts.PhoneDigits, err)
				}
			}
		}
	}

	return c.JSON(fiber.Map{
		"ok":         true,
		"client_ref": facts.ClientRef,
		"from":       facts.PhoneDigits,
	})
}
