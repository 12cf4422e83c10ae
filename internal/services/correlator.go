package services

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/convertrack/backend/internal/ingest"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/storage"
)

// IdentityCorrelator glues the independent webhook sources to one customer
// identity: it resolves partial keys to the best existing session, backfills
// sparse records, and owns the idempotent upsert keyed by event_id.
type IdentityCorrelator struct {
	store storage.Store
	seq   *SequenceAllocator
}

// NewIdentityCorrelator creates a new correlator
func NewIdentityCorrelator(store storage.Store, seq *SequenceAllocator) *IdentityCorrelator {
	return &IdentityCorrelator{
		store: store,
		seq:   seq,
	}
}

// ResolveKeys is a partial identity: any subset of the four keys may be set.
type ResolveKeys struct {
	ClientRef   string
	PhoneDigits string
	SessionID   string
	EventID     string
}

// Resolve finds the best existing session for a partial identity. Priority:
// client_ref, then phone (both spellings), then session id, then event id.
// When several sessions match one key the most recently created wins; that
// tie-break is deliberate, not an error. Returns nil when nothing matches.
func (c *IdentityCorrelator) Resolve(keys ResolveKeys) (*models.Session, error) {
	sessions, err := c.matchAll(keys)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// matchAll walks the same key priority Resolve uses but keeps the whole set
// matched by the first key that hits.
func (c *IdentityCorrelator) matchAll(keys ResolveKeys) ([]*models.Session, error) {
	if keys.ClientRef != "" {
		sessions, err := c.store.GetSessionsByClientRef(keys.ClientRef)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			return sessions, nil
		}
	}

	if keys.PhoneDigits != "" {
		variants := ingest.PhoneVariants(keys.PhoneDigits)
		sessions, err := c.store.GetSessionsByPhone(variants...)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			return sessions, nil
		}
	}

	if keys.SessionID != "" {
		sessions, err := c.store.GetSessionsBySessionID(keys.SessionID)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			return sessions, nil
		}
	}

	if keys.EventID != "" {
		session, err := c.store.GetSessionByEventID(keys.EventID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if session != nil {
			return []*models.Session{session}, nil
		}
	}

	return nil, nil
}

// StampChargeStage persists the charge's timestamp and provider status on
// every session the charge's identity matches. Charges are facts about the
// customer whether or not the conversion event goes out, so this runs even
// with the delivery pipeline unconfigured; the monotonic funnel flags stay
// with the delivery path.
func (c *IdentityCorrelator) StampChargeStage(keys ResolveKeys, kind string, at time.Time, status string) error {
	sessions, err := c.matchAll(keys)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		switch kind {
		case models.EventInitiateCheckout:
			s.LastCheckoutAt = &at
		case models.EventPurchase:
			s.LastPurchaseAt = &at
			if status != "" {
				s.LastPurchaseStatus = status
			}
		default:
			return nil
		}
		if err := c.store.SaveSession(s); err != nil {
			return err
		}
	}
	return nil
}

// Enrich backfills empty attribution and contact fields of partial from the
// best resolve match. Fields already populated on partial are never touched.
func (c *IdentityCorrelator) Enrich(partial *models.Session) *models.Session {
	var eventID string
	if partial.EventID != nil {
		eventID = *partial.EventID
	}
	match, err := c.Resolve(ResolveKeys{
		ClientRef:   partial.ClientRef,
		PhoneDigits: partial.UserPhone,
		SessionID:   partial.SessionID,
		EventID:     eventID,
	})
	if err != nil {
		log.Printf("⚠️  Enrich lookup failed: %v", err)
		return partial
	}
	if match != nil {
		partial.FillFrom(match)
	}
	return partial
}

// UpsertByDelivery is the idempotency boundary. A session already holding
// this event_id absorbs the new fields (new values win); otherwise a session
// is inserted, minting a client reference when the caller has none and a
// per-customer click ordinal exactly once. A retried POST therefore merges
// instead of duplicating and never burns a second ordinal.
func (c *IdentityCorrelator) UpsertByDelivery(eventID string, fields *models.Session) (*models.Session, error) {
	existing, err := c.store.GetSessionByEventID(eventID)
	if err == nil {
		existing.MergeFrom(fields)
		if err := c.store.SaveSession(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	session := fields
	session.EventID = &eventID

	if session.ClientRef == "" {
		ref, err := c.seq.AllocateNext(models.CounterGlobalClientRef)
		if err != nil {
			return nil, err
		}
		session.ClientRef = strconv.FormatInt(ref, 10)
	}

	click, err := c.seq.AllocateNext(models.ClientCounterKey(session.ClientRef))
	if err != nil {
		return nil, err
	}
	session.ClickNumber = int(click)

	if err := c.store.CreateSession(session); err != nil {
		if errors.Is(err, storage.ErrDuplicateEventID) {
			// Lost the first-arrival race; the winner's row is authoritative.
			winner, err2 := c.store.GetSessionByEventID(eventID)
			if err2 != nil {
				return nil, err2
			}
			winner.MergeFrom(fields)
			if err2 := c.store.SaveSession(winner); err2 != nil {
				return nil, err2
			}
			return winner, nil
		}
		return nil, err
	}
	return session, nil
}

// AttachContactToClientRef records a chat fact against a reference. Every
// session sharing the reference is updated (a click record and a webhook stub
// may coexist until reconciled); when none exists yet the chat webhook is the
// first fact ever seen for this customer, so a minimal stub is inserted.
// Reports whether a stub was created.
func (c *IdentityCorrelator) AttachContactToClientRef(clientRef, phoneDigits, rawText string, observedAt time.Time) (*models.Session, bool, error) {
	sessions, err := c.store.GetSessionsByClientRef(clientRef)
	if err != nil {
		return nil, false, err
	}

	if len(sessions) == 0 {
		stub := &models.Session{
			ClientRef:          clientRef,
			UserPhone:          phoneDigits,
			LastMessageText:    rawText,
			WhatsAppReceivedAt: &observedAt,
		}
		if err := c.store.CreateSession(stub); err != nil {
			return nil, false, err
		}
		log.Printf("💬 Chat stub created for cliente#%s", clientRef)
		return stub, true, nil
	}

	for _, s := range sessions {
		if phoneDigits != "" {
			s.UserPhone = phoneDigits
		}
		s.WhatsAppReceivedAt = &observedAt
		if rawText != "" {
			s.LastMessageText = rawText
		}
		if err := c.store.SaveSession(s); err != nil {
			return nil, false, err
		}
	}
	return sessions[0], false, nil
}

// MarkStage flips the monotonic funnel flag for an event kind and persists
// the session. Safe to call redundantly and in any order.
func (c *IdentityCorrelator) MarkStage(session *models.Session, kind string, at time.Time, status string) error {
	switch kind {
	case models.EventPageview:
		session.MarkPageview()
	case models.EventInitiateCheckout:
		session.MarkInitiateCheckout(at)
	case models.EventPurchase:
		session.MarkPurchase(at, status)
	case models.EventContact:
		// Contact has no dedicated funnel flag; the chat timestamp on the
		// session already records it.
		return nil
	}
	return c.store.SaveSession(session)
}
