package handlers

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/convertrack/backend/internal/ingest"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

// ChargeHandler processes payment-provider webhooks: the charge snapshot is
// upserted by transaction id, the customer is correlated to a session, and
// the implied conversion event is delivered.
type ChargeHandler struct {
	store      storage.Store
	correlator *services.IdentityCorrelator
	pipeline   *services.DeliveryPipeline
}

// NewChargeHandler creates a new charge webhook handler
func NewChargeHandler(store storage.Store, correlator *services.IdentityCorrelator, pipeline *services.DeliveryPipeline) *ChargeHandler {
	return &ChargeHandler{
		store:      store,
		correlator: correlator,
		pipeline:   pipeline,
	}
}

// HandleCreated processes a "charge created" webhook: the customer reached
// checkout, so InitiateCheckout is delivered.
func (h *ChargeHandler) HandleCreated(c *fiber.Ctx) error {
	return h.handle(c, models.EventInitiateCheckout)
}

// HandleCompleted processes a "charge completed" webhook: Purchase.
func (h *ChargeHandler) HandleCompleted(c *fiber.Ctx) error {
	return h.handle(c, models.EventPurchase)
}

// HandleGeneric dispatches on the charge status for providers that post
// every lifecycle event to a single URL.
func (h *ChargeHandler) HandleGeneric(c *fiber.Ctx) error {
	kind := models.EventInitiateCheckout
	var probe struct {
		Charge struct {
			Status string `json:"status"`
		} `json:"charge"`
	}
	if err := json.Unmarshal(c.Body(), &probe); err == nil {
		switch strings.ToLower(probe.Charge.Status) {
		case "paid", "completed", "approved":
			kind = models.EventPurchase
		}
	}
	return h.handle(c, kind)
}

func (h *ChargeHandler) handle(c *fiber.Ctx, kind string) error {
	raw := c.Body()

	var hook ingest.ChargeWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "invalid payload: " + err.Error(),
		})
	}

	facts, _ := hook.Normalize()
	now := time.Now()

	charge := hook.Charge.Model(clientIP(c), string(raw))
	if charge.ClientRef == "" {
		charge.ClientRef = facts.ClientRef
	}
	if _, err := h.store.UpsertChargeByTransactionID(charge); err != nil {
		// The provider will retry; the conversion event still goes out.
		log.Printf("⚠️  Charge %s not persisted: %v", charge.TransactionID, err)
	}

	log.Printf("💰 Charge %s (%s) value=%.2f client_ref=%s",
		charge.TransactionID, charge.Status, charge.Value, facts.ClientRef)

	session, err := h.correlator.Resolve(services.ResolveKeys{
		ClientRef:   facts.ClientRef,
		PhoneDigits: facts.PhoneDigits,
		SessionID:   facts.SessionID,
		EventID:     facts.EventID,
	})
	if err != nil {
		log.Printf("⚠️  Charge correlation failed: %v", err)
	}

	// A charge may be the first fact ever seen for this customer: when it
	// carries a reference but no session exists yet, a stub is created so
	// the event still attributes.
	if session == nil && facts.ClientRef != "" {
		session, _, err = h.correlator.AttachContactToClientRef(facts.ClientRef, facts.PhoneDigits, "", now)
		if err != nil {
			log.Printf("⚠️  Charge stub not created for cliente#%s: %v", facts.ClientRef, err)
		}
	}

	if session != nil {
		// Contact details the charge carries and the click never saw.
		session.FillFrom(&models.Session{
			UserPhone: facts.PhoneDigits,
			UserEmail: hook.Charge.Customer.Email,
			UserName:  hook.Charge.Customer.Name,
		})
		if err := h.store.SaveSession(session); err != nil {
			log.Printf("⚠️  Charge contact details not persisted: %v", err)
		}

		// The charge timestamp and status land on every matched session
		// whether or not the event goes out.
		if err := h.correlator.StampChargeStage(services.ResolveKeys{
			ClientRef:   facts.ClientRef,
			PhoneDigits: facts.PhoneDigits,
			SessionID:   facts.SessionID,
			EventID:     facts.EventID,
		}, kind, now, hook.Charge.Status); err != nil {
			log.Printf("⚠️  Charge stage not stamped: %v", err)
		}

		h.pipeline.Deliver(c.UserContext(), kind, session, services.EventOptions{
			ValueMinorUnits: hook.Charge.Value,
			Currency:        hook.Charge.Currency,
			EventTime:       now,
			Custom: map[string]interface{}{
				"status":   hook.Charge.Status,
				"order_id": hook.Charge.OrderID,
			},
		})
	} else {
		log.Printf("⚠️  Charge %s not correlated to any session", charge.TransactionID)
	}

	return c.JSON(fiber.Map{"ok": true})
}
