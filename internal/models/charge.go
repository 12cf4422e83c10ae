package models

import (
	"time"

	"gorm.io/gorm"
)

// Charge is a snapshot of one payment-provider event. Upserted by
// TransactionID so retried provider deliveries land on the same row.
type Charge struct {
	gorm.Model

	TransactionID string `json:"transaction_id" gorm:"uniqueIndex"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"` // "created", "paid", ...

	// Value in decimal currency units (the provider sends minor units).
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`

	// Customer contact as the provider reported it.
	Email string `json:"email"`
	Phone string `json:"phone" gorm:"index"`
	Name  string `json:"name"`

	// Correlation hints. Any of these may be empty.
	ClientRef string `json:"client_ref" gorm:"index"`
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`

	ServerIP   string     `json:"server_ip"`
	Timestamp  *time.Time `json:"timestamp"`         // provider's own event time
	RawPayload string     `json:"-" gorm:"type:text"` // original body, kept for audit
}

// Charge status constants
const (
	ChargeStatusCreated = "created"
	ChargeStatusPaid    = "paid"
)
