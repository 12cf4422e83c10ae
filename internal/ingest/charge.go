package ingest

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convertrack/backend/internal/models"
)

// ChargeWebhook is the payment-provider inbound shape. Both the "created" and
// the "completed" variant carry the same nested charge object; only the
// status differs.
type ChargeWebhook struct {
	Event  string        `json:"event"`
	Charge ChargePayload `json:"charge"`
}

// ChargePayload is the nested charge object.
type ChargePayload struct {
	TransactionID  string           `json:"transaction_id"`
	OrderID        string           `json:"order_id"`
	Status         string           `json:"status"`
	Value          int64            `json:"value"` // minor currency units
	Currency       string           `json:"currency"`
	Customer       ChargeCustomer   `json:"customer"`
	AdditionalInfo []AdditionalInfo `json:"additional_info"`
	ClientRef      string           `json:"client_ref"`
	EventID        string           `json:"event_id"`
	SessionID      string           `json:"session_id"`
	CreatedAt      string           `json:"created_at"`
}

// ChargeCustomer is the customer block inside a charge.
type ChargeCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// AdditionalInfo is one key/value pair of the provider's free-form list. The
// checkout page smuggles the client reference through here, usually under a
// "cliente" or "quantidade" key.
type AdditionalInfo struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Normalize extracts correlation keys from the charge. Reference priority:
// structured client_ref, then an embedded cliente# token anywhere in the
// additional-info list, then a bare value under the known keys.
func (w *ChargeWebhook) Normalize() (*Facts, error) {
	ch := &w.Charge

	ref := ch.ClientRef
	if ref == "" {
		ref = refFromAdditionalInfo(ch.AdditionalInfo)
	}

	return &Facts{
		PhoneDigits: NormalizePhone(ch.Customer.Phone),
		ClientRef:   ref,
		SessionID:   ch.SessionID,
		EventID:     ch.EventID,
	}, nil
}

func refFromAdditionalInfo(info []AdditionalInfo) string {
	for _, kv := range info {
		if ref := ExtractClientRef(kv.Value); ref != "" {
			return ref
		}
	}
	for _, kv := range info {
		key := strings.ToLower(strings.TrimSpace(kv.Key))
		if key == "cliente" || key == "quantidade" {
			if v := strings.TrimSpace(kv.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

// DecimalValue converts the provider's minor-unit value to decimal currency
// units, rounded to two places.
func (p *ChargePayload) DecimalValue() float64 {
	return math.Round(float64(p.Value)) / 100
}

// Model builds the persistable charge snapshot. The upsert key falls back to
// the order id and finally a fresh UUID when the provider sent neither, so a
// keyless charge still gets exactly one row.
func (p *ChargePayload) Model(serverIP, rawPayload string) *models.Charge {
	txID := p.TransactionID
	if txID == "" {
		txID = p.OrderID
	}
	if txID == "" {
		txID = uuid.NewString()
	}

	currency := p.Currency
	if currency == "" {
		currency = "BRL"
	}

	charge := &models.Charge{
		TransactionID: txID,
		OrderID:       p.OrderID,
		Status:        p.Status,
		Value:         p.DecimalValue(),
		Currency:      currency,
		Email:         p.Customer.Email,
		Phone:         NormalizePhone(p.Customer.Phone),
		Name:          p.Customer.Name,
		ClientRef:     p.ClientRef,
		EventID:       p.EventID,
		SessionID:     p.SessionID,
		ServerIP:      serverIP,
		RawPayload:    rawPayload,
	}

	if p.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			charge.Timestamp = &ts
		}
	}
	return charge
}
