package models

import "gorm.io/gorm"

// Event kinds reported to the ad-attribution API.
const (
	EventPageview         = "PageView"
	EventContact          = "Contact"
	EventInitiateCheckout = "InitiateCheckout"
	EventPurchase         = "Purchase"
)

// Delivery outcome statuses
const (
	DeliveryAccepted = "accepted" // API took the event
	DeliveryRejected = "rejected" // API refused it (after the minimal retry)
	DeliveryFailed   = "failed"   // never reached the API
)

// EventRecord is the last-known delivery outcome for one conversion event.
// It doubles as the dedup source: when the same underlying fact arrives again,
// the pipeline reuses the EventID of the latest record with the same kind and
// identity so the receiving side recognizes the duplicate.
type EventRecord struct {
	gorm.Model

	Kind      string `json:"kind" gorm:"index:idx_event_identity"`
	ClientRef string `json:"client_ref" gorm:"index:idx_event_identity"`
	EventID   string `json:"event_id"`

	Status     string `json:"status"` // accepted / rejected / failed
	StatusCode int    `json:"status_code"`
	Response   string `json:"response" gorm:"type:text"`
	Retried    bool   `json:"retried"` // a minimal-payload retry was sent
}
