package storage

import (
	"errors"
	"time"

	"github.com/convertrack/backend/internal/models"
)

// Sentinel errors. Callers check with errors.Is.
var (
	// ErrNotFound means no record matched the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEventID means a session with this event_id already exists.
	// The caller is expected to re-read and merge instead of inserting.
	ErrDuplicateEventID = errors.New("duplicate event_id")
	// ErrStoreUnavailable means the backing store cannot be reached at all.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store defines the interface for storage operations
type Store interface {
	// Counter operations. IncrementCounter creates the counter at floor when
	// absent, so the first returned value is floor+1. It must be atomic:
	// concurrent calls for the same key never return the same value.
	IncrementCounter(key string, floor int64) (int64, error)
	GetCounter(key string) (int64, error)
	SetCounter(key string, value int64) error
	EnsureCounter(key string, seed int64) error
	// MaxNumericClientRef scans sessions and returns the largest client_ref
	// that parses as an integer; refs that do not parse are ignored.
	MaxNumericClientRef() (int64, error)

	// Session operations
	CreateSession(session *models.Session) error // ErrDuplicateEventID on event_id conflict
	SaveSession(session *models.Session) error
	GetSessionByEventID(eventID string) (*models.Session, error)
	// List getters return newest-created first.
	GetSessionsByClientRef(clientRef string) ([]*models.Session, error)
	GetSessionsByPhone(variants ...string) ([]*models.Session, error)
	GetSessionsBySessionID(sessionID string) ([]*models.Session, error)
	// ListSessionsTouchedBetween returns sessions whose creation, checkout or
	// purchase timestamp falls inside [start, end].
	ListSessionsTouchedBetween(start, end time.Time) ([]*models.Session, error)

	// Message operations
	CreateMessage(msg *models.Message) error

	// Charge operations
	UpsertChargeByTransactionID(charge *models.Charge) (*models.Charge, error)

	// Event delivery records
	RecordEvent(rec *models.EventRecord) error
	GetLatestEventByKind(clientRef, kind string) (*models.EventRecord, error)
}
