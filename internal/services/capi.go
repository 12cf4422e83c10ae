package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/convertrack/backend/internal/ingest"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/storage"
)

const defaultCAPIBase = "https://graph.facebook.com/v18.0"

// UserData carries the hashed and cookie-based identity fields of a canonical
// event. Raw PII never lands here; phone, email and name go through SHA-256.
type UserData struct {
	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
	Phone           string `json:"ph,omitempty"`
	Email           string `json:"em,omitempty"`
	FirstName       string `json:"fn,omitempty"`
	LastName        string `json:"ln,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
}

// CanonicalEvent is the normalized structure sent to the attribution API.
// Empty optional fields are omitted entirely, never sent as nulls.
type CanonicalEvent struct {
	EventName      string                 `json:"event_name"`
	EventID        string                 `json:"event_id,omitempty"`
	EventTime      int64                  `json:"event_time"`
	ActionSource   string                 `json:"action_source"`
	EventSourceURL string                 `json:"event_source_url,omitempty"`
	UserData       UserData               `json:"user_data"`
	CustomData     map[string]interface{} `json:"custom_data,omitempty"`
}

// EventOptions tweaks one build: monetary value, overridden currency or time.
type EventOptions struct {
	ValueMinorUnits int64
	Currency        string
	EventTime       time.Time
	Custom          map[string]interface{}
}

// PipelineConfig carries the external API credentials and defaults.
type PipelineConfig struct {
	PixelID        string
	AccessToken    string
	TestEventCode  string
	Endpoint       string // overrides the graph URL, used by tests
	DefaultName    string // contact name when no click-originated data exists
	DefaultMessage string
}

// DeliveryPipeline builds canonical conversion events and pushes them to the
// external attribution API with a bounded fallback: one minimal-payload retry
// on a validation rejection or a network failure, then the event is dropped.
// Delivery never fails the inbound request that triggered it.
type DeliveryPipeline struct {
	store      storage.Store
	correlator *IdentityCorrelator
	sink       OutcomeSink
	client     *http.Client
	config     PipelineConfig
}

// NewDeliveryPipeline creates a new pipeline
func NewDeliveryPipeline(store storage.Store, correlator *IdentityCorrelator, sink OutcomeSink, config PipelineConfig) *DeliveryPipeline {
	if sink == nil {
		sink = LogSink{}
	}
	return &DeliveryPipeline{
		store:      store,
		correlator: correlator,
		sink:       sink,
		client:     &http.Client{Timeout: 10 * time.Second},
		config:     config,
	}
}

// Enabled reports whether credentials are configured. A disabled pipeline
// skips delivery silently so webhook ingestion keeps working.
func (p *DeliveryPipeline) Enabled() bool {
	return p.config.Endpoint != "" || (p.config.PixelID != "" && p.config.AccessToken != "")
}

// BuildEvent assembles the canonical event for one kind from correlated
// session state.
func (p *DeliveryPipeline) BuildEvent(kind string, session *models.Session, opts EventOptions) *CanonicalEvent {
	at := opts.EventTime
	if at.IsZero() {
		at = time.Now()
	}

	name := session.UserName
	if name == "" && kind == models.EventContact {
		name = p.config.DefaultName
	}
	first, last := splitName(name)

	event := &CanonicalEvent{
		EventName:      kind,
		EventID:        p.eventIDFor(kind, session),
		EventTime:      at.Unix(),
		ActionSource:   "website",
		EventSourceURL: session.PageURL,
		UserData: UserData{
			ClientIPAddress: session.ServerIP,
			ClientUserAgent: session.UserAgent,
			FBP:             session.FBP,
			FBC:             session.FBC,
			Phone:           hashPhone(session.UserPhone),
			Email:           hashField(session.UserEmail),
			FirstName:       hashField(first),
			LastName:        hashField(last),
			ExternalID:      session.ClientRef,
		},
	}

	custom := map[string]interface{}{}
	for k, v := range opts.Custom {
		if s, ok := v.(string); ok && s == "" {
			continue // never send null-ish keys
		}
		if v == nil {
			continue
		}
		custom[k] = v
	}
	if opts.ValueMinorUnits > 0 {
		currency := opts.Currency
		if currency == "" {
			currency = "BRL"
		}
		custom["value"] = float64(opts.ValueMinorUnits) / 100
		custom["currency"] = currency
	}
	if kind == models.EventContact {
		msg := session.LastMessageText
		if msg == "" {
			msg = p.config.DefaultMessage
		}
		if msg != "" {
			custom["message"] = msg
		}
	}
	if session.UTMCampaign != "" {
		custom["utm_campaign"] = session.UTMCampaign
	}
	if session.UTMSource != "" {
		custom["utm_source"] = session.UTMSource
	}
	if len(custom) > 0 {
		event.CustomData = custom
	}
	return event
}

// eventIDFor resolves the dedup id for a send. The most recent delivered
// event of the same kind for this identity wins, so a provider retry reaches
// the API under the id it already saw; only a first-ever send falls back to
// the session's own delivery id.
func (p *DeliveryPipeline) eventIDFor(kind string, session *models.Session) string {
	if session.ClientRef != "" {
		rec, err := p.store.GetLatestEventByKind(session.ClientRef, kind)
		if err == nil && rec.EventID != "" {
			return rec.EventID
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️  Event id lookup failed: %v", err)
		}
	}
	if session.EventID != nil {
		return *session.EventID
	}
	return ""
}

// Deliver builds and sends one event, applies the bounded retry, records the
// outcome, and flips the session's funnel flag when the API was reachable at
// all. The returned outcome is informational; callers never treat it as an
// error.
func (p *DeliveryPipeline) Deliver(ctx context.Context, kind string, session *models.Session, opts EventOptions) DeliveryOutcome {
	event := p.BuildEvent(kind, session, opts)

	outcome := DeliveryOutcome{Kind: kind, EventID: event.EventID, At: time.Now()}
	if !p.Enabled() {
		outcome.Status = models.DeliveryFailed
		outcome.Response = "pipeline disabled: no credentials"
		p.record(session, outcome)
		return outcome
	}

	code, body, err := p.send(ctx, event)
	reachable := err == nil

	// A 400 means the API judged the payload malformed; strip it down to
	// identity, timestamp and source URL and try exactly once more. Network
	// failures get the same single retry.
	if err != nil || code == http.StatusBadRequest {
		minimal := minimalEvent(event)
		code, body, err = p.send(ctx, minimal)
		reachable = reachable || err == nil
		outcome.Retried = true
	}

	switch {
	case err != nil:
		outcome.Status = models.DeliveryFailed
		outcome.Response = err.Error()
	case code >= 200 && code < 300:
		outcome.Status = models.DeliveryAccepted
		outcome.StatusCode = code
		outcome.Response = body
	default:
		outcome.Status = models.DeliveryRejected
		outcome.StatusCode = code
		outcome.Response = body
	}

	p.record(session, outcome)

	if reachable {
		if err := p.correlator.MarkStage(session, kind, outcome.At, chargeStatus(opts)); err != nil {
			log.Printf("⚠️  Failed to flag %s on session %d: %v", kind, session.ID, err)
		}
	}
	return outcome
}

// record persists the outcome row and feeds the injected sink. Every Deliver
// call ends up here exactly once, including the unconfigured-pipeline path.
func (p *DeliveryPipeline) record(session *models.Session, outcome DeliveryOutcome) {
	if err := p.store.RecordEvent(&models.EventRecord{
		Kind:       outcome.Kind,
		ClientRef:  session.ClientRef,
		EventID:    outcome.EventID,
		Status:     outcome.Status,
		StatusCode: outcome.StatusCode,
		Response:   outcome.Response,
		Retried:    outcome.Retried,
	}); err != nil {
		log.Printf("⚠️  Failed to record %s outcome: %v", outcome.Kind, err)
	}
	p.sink.Record(outcome)
}

func chargeStatus(opts EventOptions) string {
	if s, ok := opts.Custom["status"].(string); ok {
		return s
	}
	return ""
}

// minimalEvent keeps only what the API needs to identify the occurrence:
// the dedup id, the timestamp and the source URL. All user-data enrichment
// and custom data is dropped.
func minimalEvent(event *CanonicalEvent) *CanonicalEvent {
	return &CanonicalEvent{
		EventName:      event.EventName,
		EventID:        event.EventID,
		EventTime:      event.EventTime,
		ActionSource:   event.ActionSource,
		EventSourceURL: event.EventSourceURL,
		UserData: UserData{
			ClientIPAddress: event.UserData.ClientIPAddress,
			ClientUserAgent: event.UserData.ClientUserAgent,
			ExternalID:      event.UserData.ExternalID,
		},
	}
}

func (p *DeliveryPipeline) endpoint() string {
	if p.config.Endpoint != "" {
		return p.config.Endpoint
	}
	return fmt.Sprintf("%s/%s/events?access_token=%s", defaultCAPIBase, p.config.PixelID, p.config.AccessToken)
}

func (p *DeliveryPipeline) send(ctx context.Context, event *CanonicalEvent) (int, string, error) {
	payload := map[string]interface{}{
		"data": []*CanonicalEvent{event},
	}
	if p.config.TestEventCode != "" {
		payload["test_event_code"] = p.config.TestEventCode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, string(respBody), nil
}

// hashField lower-cases, trims and SHA-256 hashes one PII value. Empty in,
// empty out, so omitempty drops absent fields.
func hashField(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// hashPhone hashes the bare digits (the API wants country code digits with
// no punctuation).
func hashPhone(phone string) string {
	digits := strings.TrimPrefix(ingest.NormalizePhone(phone), "+")
	return hashField(digits)
}

// splitName separates a free-form name into first and last tokens.
func splitName(name string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}
