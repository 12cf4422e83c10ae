package services

import (
	"log"
	"time"
)

// DeliveryOutcome is the final result of one event delivery attempt chain.
type DeliveryOutcome struct {
	Kind       string
	EventID    string
	Status     string // accepted / rejected / failed
	StatusCode int
	Response   string
	Retried    bool
	At         time.Time
}

// OutcomeSink receives every delivery outcome. Injected into the pipeline so
// observability isn't a process-wide mutable cache.
type OutcomeSink interface {
	Record(outcome DeliveryOutcome)
}

// LogSink logs outcomes. The default sink.
type LogSink struct{}

func (LogSink) Record(o DeliveryOutcome) {
	if o.Status == "accepted" {
		log.Printf("📤 CAPI %s accepted (event_id=%s retried=%v)", o.Kind, o.EventID, o.Retried)
		return
	}
	log.Printf("❌ CAPI %s %s (code=%d retried=%v): %s", o.Kind, o.Status, o.StatusCode, o.Retried, o.Response)
}
