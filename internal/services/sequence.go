package services

import (
	"log"

	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/storage"
)

// SequenceAllocator hands out sequential identifiers backed by named counters
// in the store. The store's increment is atomic, so concurrent allocations of
// the same key are strictly disjoint and contiguous.
type SequenceAllocator struct {
	store storage.Store
	seed  int64 // global:client_ref starts here; first allocation returns seed+1
}

// NewSequenceAllocator creates a new allocator
func NewSequenceAllocator(store storage.Store, seed int64) *SequenceAllocator {
	return &SequenceAllocator{
		store: store,
		seed:  seed,
	}
}

// AllocateNext atomically increments the counter at key and returns the new
// value. Only the global client reference counter starts at the configured
// seed; every other key (per-customer click ordinals) starts at zero.
func (a *SequenceAllocator) AllocateNext(key string) (int64, error) {
	floor := int64(0)
	if key == models.CounterGlobalClientRef {
		floor = a.seed
	}
	return a.store.IncrementCounter(key, floor)
}

// Bootstrap makes sure the global reference counter can never re-issue a
// value that is already out in the wild. Target is the max of the configured
// seed, the persisted counter and the largest numeric client_ref stored in
// sessions, so redeploys and store migrations cannot cause collisions.
//
// With forceRaise the counter is set to the target unconditionally; without
// it the counter is only raised when it sits below the target. Either way it
// never goes down: the persisted value participates in the max.
func (a *SequenceAllocator) Bootstrap(forceRaise bool) error {
	key := models.CounterGlobalClientRef

	if err := a.store.EnsureCounter(key, a.seed); err != nil {
		return err
	}
	persisted, err := a.store.GetCounter(key)
	if err != nil {
		return err
	}
	maxObserved, err := a.store.MaxNumericClientRef()
	if err != nil {
		return err
	}

	target := seedTarget(a.seed, persisted, maxObserved)
	if forceRaise || persisted < target {
		if err := a.store.SetCounter(key, target); err != nil {
			return err
		}
		log.Printf("🔢 Counter %s bootstrapped: persisted=%d observed=%d => %d (force=%v)",
			key, persisted, maxObserved, target, forceRaise)
		return nil
	}

	log.Printf("🔢 Counter %s left at %d (target %d)", key, persisted, target)
	return nil
}

// seedTarget computes the bootstrap target for the global reference counter.
// Pure so the policy is testable without a store.
func seedTarget(floor, persisted, maxObserved int64) int64 {
	target := floor
	if persisted > target {
		target = persisted
	}
	if maxObserved > target {
		target = maxObserved
	}
	return target
}
