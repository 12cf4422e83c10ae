package models

import (
	"time"

	"gorm.io/gorm"
)

// Session is the unit of identity correlation: one landing-page click, one
// chat-originated stub, or the merged result of both once a shared key shows up.
type Session struct {
	// Using gorm.Model gives us ID (uint), CreatedAt, UpdatedAt, DeletedAt automatically
	gorm.Model

	// EventID is the idempotency key generated by the tracking client.
	// Nullable: webhook-originated stubs never have one. Uniqueness is only
	// enforced among non-null values, hence the pointer.
	EventID *string `json:"event_id" gorm:"uniqueIndex"`

	// ClientRef is the externally visible sequential reference ("cliente#23001").
	// Assigned once per real customer; stored as string because it travels
	// through chat messages and query strings.
	ClientRef   string `json:"client_ref" gorm:"index"`
	SessionID   string `json:"session_id" gorm:"index"` // browser-session cookie ("sid.<uuid>")
	ClickNumber int    `json:"click_number"`            // ordinal of this click among clicks sharing ClientRef

	// Contact
	UserPhone string `json:"user_phone" gorm:"index"` // normalized digits, may keep leading +
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`

	// Attribution
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign" gorm:"index"`
	UTMContent  string `json:"utm_content"`
	UTMTerm     string `json:"utm_term"`
	FBClid      string `json:"fbclid"`
	GClid       string `json:"gclid"`
	MSClkid     string `json:"msclkid"`
	FBP         string `json:"fbp"` // _fbp browser cookie
	FBC         string `json:"fbc"` // _fbc browser cookie
	PageURL     string `json:"page_url"`
	Referrer    string `json:"referrer"`
	UserAgent   string `json:"user_agent"`
	ServerIP    string `json:"server_ip"`

	// Funnel flags: monotonic, never reset once true.
	HasPageview         bool `json:"has_pageview" gorm:"default:false"`
	HasInitiateCheckout bool `json:"has_initiate_checkout" gorm:"default:false"`
	HasPurchase         bool `json:"has_purchase" gorm:"default:false"`

	LastMessageText    string     `json:"last_message_text"`
	LastPurchaseStatus string     `json:"last_purchase_status"`
	WhatsAppReceivedAt *time.Time `json:"whatsapp_received_at"`
	LastCheckoutAt     *time.Time `json:"last_checkout_at"`
	LastPurchaseAt     *time.Time `json:"last_purchase_at"`
}

// MergeFrom applies non-empty fields of src over s (new values win). Used on
// repeated delivery of the same event_id: the retried POST carries fresher
// attribution, so it overwrites, but empty fields never clobber stored ones.
func (s *Session) MergeFrom(src *Session) {
	for dst, val := range fieldPairs(s, src) {
		if val != "" {
			*dst = val
		}
	}
	if src.ClickNumber != 0 {
		s.ClickNumber = src.ClickNumber
	}
	if src.WhatsAppReceivedAt != nil {
		s.WhatsAppReceivedAt = src.WhatsAppReceivedAt
	}
	if src.LastCheckoutAt != nil {
		s.LastCheckoutAt = src.LastCheckoutAt
	}
	if src.LastPurchaseAt != nil {
		s.LastPurchaseAt = src.LastPurchaseAt
	}
	s.HasPageview = s.HasPageview || src.HasPageview
	s.HasInitiateCheckout = s.HasInitiateCheckout || src.HasInitiateCheckout
	s.HasPurchase = s.HasPurchase || src.HasPurchase
}

// FillFrom copies fields from src only where s is empty (existing values win).
// This is the enrich direction: backfilling a sparse record from the best
// resolve match without overwriting anything already known.
func (s *Session) FillFrom(src *Session) {
	for dst, val := range fieldPairs(s, src) {
		if *dst == "" && val != "" {
			*dst = val
		}
	}
	if s.ClickNumber == 0 {
		s.ClickNumber = src.ClickNumber
	}
}

// fieldPairs maps each mergeable string field of dst to the corresponding
// value on src, so MergeFrom and FillFrom share one field list.
func fieldPairs(dst, src *Session) map[*string]string {
	return map[*string]string{
		&dst.ClientRef:          src.ClientRef,
		&dst.SessionID:          src.SessionID,
		&dst.UserPhone:          src.UserPhone,
		&dst.UserEmail:          src.UserEmail,
		&dst.UserName:           src.UserName,
		&dst.UTMSource:          src.UTMSource,
		&dst.UTMMedium:          src.UTMMedium,
		&dst.UTMCampaign:        src.UTMCampaign,
		&dst.UTMContent:         src.UTMContent,
		&dst.UTMTerm:            src.UTMTerm,
		&dst.FBClid:             src.FBClid,
		&dst.GClid:              src.GClid,
		&dst.MSClkid:            src.MSClkid,
		&dst.FBP:                src.FBP,
		&dst.FBC:                src.FBC,
		&dst.PageURL:            src.PageURL,
		&dst.Referrer:           src.Referrer,
		&dst.UserAgent:          src.UserAgent,
		&dst.ServerIP:           src.ServerIP,
		&dst.LastMessageText:    src.LastMessageText,
		&dst.LastPurchaseStatus: src.LastPurchaseStatus,
	}
}

// MarkPageview, MarkInitiateCheckout and MarkPurchase flip funnel flags.
// Flags only ever go false→true; callers may invoke them redundantly.
func (s *Session) MarkPageview() { s.HasPageview = true }

func (s *Session) MarkInitiateCheckout(at time.Time) {
	s.HasInitiateCheckout = true
	s.LastCheckoutAt = &at
}

func (s *Session) MarkPurchase(at time.Time, status string) {
	s.HasPurchase = true
	s.LastPurchaseAt = &at
	if status != "" {
		s.LastPurchaseStatus = status
	}
}
