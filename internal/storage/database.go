package storage

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/convertrack/backend/internal/models"
)

// DatabaseStore implements Store on PostgreSQL via GORM.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a store backed by the given GORM connection.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// storeErr maps GORM errors onto the package sentinels.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Join(ErrStoreUnavailable, err)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key value")
}

// Counter operations

// IncrementCounter relies on the database for atomicity: the upsert both
// creates the row at floor and increments it in one statement, so concurrent
// callers always observe disjoint values.
func (d *DatabaseStore) IncrementCounter(key string, floor int64) (int64, error) {
	var value int64
	err := d.db.Raw(`
		INSERT INTO counters ("key", value, created_at, updated_at)
		VALUES (?, ?, NOW(), NOW())
		ON CONFLICT ("key") DO UPDATE SET value = counters.value + 1, updated_at = NOW()
		RETURNING value`, key, floor+1).Scan(&value).Error
	if err != nil {
		return 0, storeErr(err)
	}
	return value, nil
}

func (d *DatabaseStore) GetCounter(key string) (int64, error) {
	var c models.Counter
	if err := d.db.First(&c, "\"key\" = ?", key).Error; err != nil {
		return 0, storeErr(err)
	}
	return c.Value, nil
}

func (d *DatabaseStore) SetCounter(key string, value int64) error {
	err := d.db.Exec(`
		INSERT INTO counters ("key", value, created_at, updated_at)
		VALUES (?, ?, NOW(), NOW())
		ON CONFLICT ("key") DO UPDATE SET value = ?, updated_at = NOW()`,
		key, value, value).Error
	return storeErr(err)
}

func (d *DatabaseStore) EnsureCounter(key string, seed int64) error {
	err := d.db.Exec(`
		INSERT INTO counters ("key", value, created_at, updated_at)
		VALUES (?, ?, NOW(), NOW())
		ON CONFLICT ("key") DO NOTHING`, key, seed).Error
	return storeErr(err)
}

func (d *DatabaseStore) MaxNumericClientRef() (int64, error) {
	// Non-numeric refs are filtered out before the cast so a stray value
	// can't fail the whole bootstrap scan.
	var max int64
	err := d.db.Raw(`
		SELECT COALESCE(MAX(CAST(client_ref AS BIGINT)), 0)
		FROM sessions
		WHERE client_ref ~ '^[0-9]+$' AND deleted_at IS NULL`).Scan(&max).Error
	if err != nil {
		return 0, storeErr(err)
	}
	return max, nil
}

// Session operations

func (d *DatabaseStore) CreateSession(session *models.Session) error {
	if err := d.db.Create(session).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateEventID
		}
		return storeErr(err)
	}
	return nil
}

func (d *DatabaseStore) SaveSession(session *models.Session) error {
	return storeErr(d.db.Save(session).Error)
}

func (d *DatabaseStore) GetSessionByEventID(eventID string) (*models.Session, error) {
	var s models.Session
	if err := d.db.First(&s, "event_id = ?", eventID).Error; err != nil {
		return nil, storeErr(err)
	}
	return &s, nil
}

func (d *DatabaseStore) GetSessionsByClientRef(clientRef string) ([]*models.Session, error) {
	return d.listSessions("client_ref = ? AND client_ref <> ''", clientRef)
}

func (d *DatabaseStore) GetSessionsByPhone(variants ...string) ([]*models.Session, error) {
	return d.listSessions("user_phone IN ? AND user_phone <> ''", variants)
}

func (d *DatabaseStore) GetSessionsBySessionID(sessionID string) ([]*models.Session, error) {
	return d.listSessions("session_id = ? AND session_id <> ''", sessionID)
}

func (d *DatabaseStore) ListSessionsTouchedBetween(start, end time.Time) ([]*models.Session, error) {
	return d.listSessions(`(created_at BETWEEN ? AND ?)
		OR (last_checkout_at BETWEEN ? AND ?)
		OR (last_purchase_at BETWEEN ? AND ?)`,
		start, end, start, end, start, end)
}

func (d *DatabaseStore) listSessions(query string, args ...interface{}) ([]*models.Session, error) {
	var sessions []*models.Session
	err := d.db.Where(query, args...).
		Order("created_at DESC, id DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return sessions, nil
}

// Message operations

func (d *DatabaseStore) CreateMessage(msg *models.Message) error {
	return storeErr(d.db.Create(msg).Error)
}

// Charge operations

func (d *DatabaseStore) UpsertChargeByTransactionID(charge *models.Charge) (*models.Charge, error) {
	var existing models.Charge
	err := d.db.First(&existing, "transaction_id = ?", charge.TransactionID).Error
	if err == nil {
		charge.ID = existing.ID
		charge.CreatedAt = existing.CreatedAt
		if err := d.db.Save(charge).Error; err != nil {
			return nil, storeErr(err)
		}
		return charge, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storeErr(err)
	}

	if err := d.db.Create(charge).Error; err != nil {
		if isDuplicate(err) {
			// Lost a race with a concurrent delivery of the same charge;
			// the provider retries are idempotent so first write wins.
			return d.UpsertChargeByTransactionID(charge)
		}
		return nil, storeErr(err)
	}
	return charge, nil
}

// Event delivery records

func (d *DatabaseStore) RecordEvent(rec *models.EventRecord) error {
	return storeErr(d.db.Create(rec).Error)
}

func (d *DatabaseStore) GetLatestEventByKind(clientRef, kind string) (*models.EventRecord, error) {
	var rec models.EventRecord
	err := d.db.Where("client_ref = ? AND client_ref <> '' AND kind = ?", clientRef, kind).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return &rec, nil
}
