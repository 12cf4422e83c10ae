package ingest

import (
	"errors"

	"github.com/convertrack/backend/internal/models"
)

// ErrMissingEventID is returned when a track request has no idempotency key.
var ErrMissingEventID = errors.New("track request missing event_id")

// TrackRequest is the generic tracking POST sent by the landing page on every
// click, carrying the full attribution capture.
type TrackRequest struct {
	EventID   string `json:"event_id"`
	ClientRef string `json:"client_ref"`
	SessionID string `json:"session_id"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMContent  string `json:"utm_content"`
	UTMTerm     string `json:"utm_term"`
	FBClid      string `json:"fbclid"`
	GClid       string `json:"gclid"`
	MSClkid     string `json:"msclkid"`
	FBP         string `json:"fbp"`
	FBC         string `json:"fbc"`
	PageURL     string `json:"page_url"`
	Referrer    string `json:"referrer"`
	UserAgent   string `json:"user_agent"`

	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Normalize validates the idempotency key and lifts the correlation fields.
func (t *TrackRequest) Normalize() (*Facts, error) {
	if t.EventID == "" {
		return nil, ErrMissingEventID
	}
	return &Facts{
		PhoneDigits: NormalizePhone(t.Phone),
		ClientRef:   t.ClientRef,
		SessionID:   t.SessionID,
		EventID:     t.EventID,
		FreeText:    t.Message,
	}, nil
}

// Session builds the field set to upsert for this click.
func (t *TrackRequest) Session(serverIP string) *models.Session {
	return &models.Session{
		ClientRef:       t.ClientRef,
		SessionID:       t.SessionID,
		UserPhone:       NormalizePhone(t.Phone),
		UserEmail:       t.Email,
		UserName:        t.Name,
		UTMSource:       t.UTMSource,
		UTMMedium:       t.UTMMedium,
		UTMCampaign:     t.UTMCampaign,
		UTMContent:      t.UTMContent,
		UTMTerm:         t.UTMTerm,
		FBClid:          t.FBClid,
		GClid:           t.GClid,
		MSClkid:         t.MSClkid,
		FBP:             t.FBP,
		FBC:             t.FBC,
		PageURL:         t.PageURL,
		Referrer:        t.Referrer,
		UserAgent:       t.UserAgent,
		ServerIP:        serverIP,
		LastMessageText: t.Message,
	}
}
