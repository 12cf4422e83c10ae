package models

import "time"

// Counter is a named monotonic sequence. Two key families are in use:
//
//	global:client_ref   next customer reference to hand out
//	client:<ref>        per-customer click ordinal
type Counter struct {
	Key       string    `json:"key" gorm:"primaryKey;column:key"`
	Value     int64     `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter key constants
const (
	CounterGlobalClientRef = "global:client_ref"
	CounterClientPrefix    = "client:"
)

// ClientCounterKey returns the per-customer click ordinal key for a reference.
func ClientCounterKey(clientRef string) string {
	return CounterClientPrefix + clientRef
}
