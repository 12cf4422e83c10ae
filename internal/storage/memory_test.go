package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertrack/backend/internal/models"
)

func TestMemoryStore_IncrementCounterConcurrent(t *testing.T) {
	store := NewMemoryStore()

	const n = 500
	var wg sync.WaitGroup
	results := make(chan int64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.IncrementCounter("global:client_ref", 23000)
			assert.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for v := range results {
		assert.False(t, seen[v])
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryStore_EventIDUniqueness(t *testing.T) {
	store := NewMemoryStore()

	eventID := "ev-1"
	require.NoError(t, store.CreateSession(&models.Session{EventID: &eventID}))

	dup := "ev-1"
	err := store.CreateSession(&models.Session{EventID: &dup})
	assert.ErrorIs(t, err, ErrDuplicateEventID)

	// Uniqueness only applies among non-null event ids.
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "23001"}))
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "23002"}))
}

func TestMemoryStore_ConcurrentFirstArrivalsSingleRecord(t *testing.T) {
	store := NewMemoryStore()

	const n = 50
	var wg sync.WaitGroup
	var winners int64
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventID := "ev-race"
			err := store.CreateSession(&models.Session{EventID: &eventID})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrDuplicateEventID)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners, "exactly one insert wins")
	_, err := store.GetSessionByEventID("ev-race")
	assert.NoError(t, err)
}

func TestMemoryStore_MaxNumericClientRefIgnoresNonNumeric(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "23001"}))
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "abc"}))
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "30000"}))
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: ""}))

	max, err := store.MaxNumericClientRef()
	require.NoError(t, err)
	assert.Equal(t, int64(30000), max)
}

func TestMemoryStore_UpsertChargeIdempotent(t *testing.T) {
	store := NewMemoryStore()

	first, err := store.UpsertChargeByTransactionID(&models.Charge{
		TransactionID: "tx-1",
		Status:        models.ChargeStatusCreated,
		Value:         19.99,
	})
	require.NoError(t, err)

	second, err := store.UpsertChargeByTransactionID(&models.Charge{
		TransactionID: "tx-1",
		Status:        models.ChargeStatusPaid,
		Value:         19.99,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.ChargeStatusPaid, second.Status)
}

func TestMemoryStore_ListSessionsTouchedBetween(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	inside := &models.Session{ClientRef: "1"}
	inside.CreatedAt = at
	require.NoError(t, store.CreateSession(inside))

	outside := &models.Session{ClientRef: "2"}
	outside.CreatedAt = at.Add(-48 * time.Hour)
	require.NoError(t, store.CreateSession(outside))

	purchasedInside := &models.Session{ClientRef: "3"}
	purchasedInside.CreatedAt = at.Add(-48 * time.Hour)
	purchasedInside.MarkPurchase(at, "paid")
	require.NoError(t, store.CreateSession(purchasedInside))

	got, err := store.ListSessionsTouchedBetween(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
}
