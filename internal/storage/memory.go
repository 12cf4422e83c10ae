package storage

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/convertrack/backend/internal/models"
)

// MemoryStore holds all data in memory. Used for tests and when no database
// is configured (the tracker keeps answering, it just forgets on restart).
type MemoryStore struct {
	sessions map[uint]*models.Session
	messages []*models.Message
	charges  map[string]*models.Charge
	events   []*models.EventRecord
	counters map[string]*models.Counter

	// Mutexes for thread safety
	sessionMu sync.RWMutex
	messageMu sync.Mutex
	chargeMu  sync.Mutex
	eventMu   sync.RWMutex
	counterMu sync.Mutex

	sessionSeq uint
	eventSeq   uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uint]*models.Session),
		charges:  make(map[string]*models.Charge),
		counters: make(map[string]*models.Counter),
	}
}

// Counter operations

func (m *MemoryStore) IncrementCounter(key string, floor int64) (int64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	c, exists := m.counters[key]
	if !exists {
		c = &models.Counter{Key: key, Value: floor, CreatedAt: time.Now()}
		m.counters[key] = c
	}
	c.Value++
	c.UpdatedAt = time.Now()
	return c.Value, nil
}

func (m *MemoryStore) GetCounter(key string) (int64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	c, exists := m.counters[key]
	if !exists {
		return 0, ErrNotFound
	}
	return c.Value, nil
}

func (m *MemoryStore) SetCounter(key string, value int64) error {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	c, exists := m.counters[key]
	if !exists {
		m.counters[key] = &models.Counter{Key: key, Value: value, CreatedAt: time.Now()}
		return nil
	}
	c.Value = value
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) EnsureCounter(key string, seed int64) error {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	if _, exists := m.counters[key]; !exists {
		m.counters[key] = &models.Counter{Key: key, Value: seed, CreatedAt: time.Now()}
	}
	return nil
}

func (m *MemoryStore) MaxNumericClientRef() (int64, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var max int64
	for _, s := range m.sessions {
		n, err := strconv.ParseInt(strings.TrimSpace(s.ClientRef), 10, 64)
		if err != nil {
			continue // non-numeric refs don't participate
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// Session operations

func (m *MemoryStore) CreateSession(session *models.Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if session.EventID != nil {
		for _, s := range m.sessions {
			if s.EventID != nil && *s.EventID == *session.EventID {
				return ErrDuplicateEventID
			}
		}
	}

	m.sessionSeq++
	session.ID = m.sessionSeq
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) SaveSession(session *models.Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) GetSessionByEventID(eventID string) (*models.Session, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	for _, s := range m.sessions {
		if s.EventID != nil && *s.EventID == eventID {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetSessionsByClientRef(clientRef string) ([]*models.Session, error) {
	return m.filterSessions(func(s *models.Session) bool {
		return s.ClientRef != "" && s.ClientRef == clientRef
	}), nil
}

func (m *MemoryStore) GetSessionsByPhone(variants ...string) ([]*models.Session, error) {
	return m.filterSessions(func(s *models.Session) bool {
		if s.UserPhone == "" {
			return false
		}
		for _, v := range variants {
			if s.UserPhone == v {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) GetSessionsBySessionID(sessionID string) ([]*models.Session, error) {
	return m.filterSessions(func(s *models.Session) bool {
		return s.SessionID != "" && s.SessionID == sessionID
	}), nil
}

func (m *MemoryStore) ListSessionsTouchedBetween(start, end time.Time) ([]*models.Session, error) {
	inRange := func(t *time.Time) bool {
		return t != nil && !t.Before(start) && !t.After(end)
	}
	return m.filterSessions(func(s *models.Session) bool {
		created := s.CreatedAt
		return (!created.Before(start) && !created.After(end)) ||
			inRange(s.LastCheckoutAt) || inRange(s.LastPurchaseAt)
	}), nil
}

// filterSessions returns matches newest-created first.
func (m *MemoryStore) filterSessions(match func(*models.Session) bool) []*models.Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Message operations

func (m *MemoryStore) CreateMessage(msg *models.Message) error {
	m.messageMu.Lock()
	defer m.messageMu.Unlock()

	msg.ID = uint(len(m.messages) + 1)
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, msg)
	return nil
}

// Charge operations

func (m *MemoryStore) UpsertChargeByTransactionID(charge *models.Charge) (*models.Charge, error) {
	m.chargeMu.Lock()
	defer m.chargeMu.Unlock()

	if existing, exists := m.charges[charge.TransactionID]; exists {
		id, createdAt := existing.ID, existing.CreatedAt
		*existing = *charge
		existing.ID = id
		existing.CreatedAt = createdAt
		existing.UpdatedAt = time.Now()
		return existing, nil
	}

	charge.ID = uint(len(m.charges) + 1)
	charge.CreatedAt = time.Now()
	charge.UpdatedAt = charge.CreatedAt
	m.charges[charge.TransactionID] = charge
	return charge, nil
}

// Event delivery records

func (m *MemoryStore) RecordEvent(rec *models.EventRecord) error {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.eventSeq++
	rec.ID = m.eventSeq
	rec.CreatedAt = time.Now()
	m.events = append(m.events, rec)
	return nil
}

func (m *MemoryStore) GetLatestEventByKind(clientRef, kind string) (*models.EventRecord, error) {
	m.eventMu.RLock()
	defer m.eventMu.RUnlock()

	for i := len(m.events) - 1; i >= 0; i-- {
		rec := m.events[i]
		if rec.Kind == kind && rec.ClientRef != "" && rec.ClientRef == clientRef {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}
