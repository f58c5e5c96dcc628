// Package memory provides an in-memory implementation of the shopgate.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// Store implements shopgate.Store using an in-memory map
type Store struct {
	mu      sync.Mutex
	records map[int64]*shopgate.Record
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[int64]*shopgate.Record),
	}
}

// UpsertProfile implements shopgate.Store
func (s *Store) UpsertProfile(ctx context.Context, profile shopgate.Profile) (*shopgate.Record, error) {
	if profile.CustomerID == 0 {
		return nil, shopgate.ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.upsertProfileLocked(profile)
	recCopy := cloneRecord(rec)
	return recCopy, nil
}

// Get implements shopgate.Store
func (s *Store) Get(ctx context.Context, customerID int64) (*shopgate.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[customerID]
	if !ok {
		return nil, shopgate.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	return cloneRecord(rec), nil
}

// ApplyPlanUpdate implements shopgate.Store
func (s *Store) ApplyPlanUpdate(ctx context.Context, update shopgate.PlanUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyPlanUpdateLocked(update)
}

// DecrementUses implements shopgate.Store with an atomic
// decrement-if-positive under the store lock
func (s *Store) DecrementUses(ctx context.Context, customerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[customerID]
	if !ok {
		return 0, shopgate.ErrRecordNotFound
	}
	if rec.RemainingUses == nil {
		return 0, shopgate.ErrUsesNotTracked
	}
	if *rec.RemainingUses <= 0 {
		return 0, shopgate.ErrUsesExhausted
	}

	*rec.RemainingUses--
	rec.UpdatedAt = time.Now().UTC()
	return *rec.RemainingUses, nil
}

// Count implements shopgate.Store
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records), nil
}

// ApplySync implements shopgate.Store. The whole pass applies under
// one lock acquisition, so concurrent readers observe either the state
// before the pass or after it.
func (s *Store) ApplySync(ctx context.Context, profiles []shopgate.Profile, updates []shopgate.PlanUpdate) (shopgate.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range profiles {
		if p.CustomerID == 0 {
			continue
		}
		s.upsertProfileLocked(p)
	}

	applied := 0
	for _, u := range updates {
		if err := s.applyPlanUpdateLocked(u); err != nil {
			// A purchase without a matching profile is not reconciled
			continue
		}
		applied++
	}

	return shopgate.SyncResult{
		SyncedCustomers:      len(s.records),
		UpdatedSubscriptions: applied,
	}, nil
}

// Clear removes all records (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[int64]*shopgate.Record)
}

func (s *Store) upsertProfileLocked(profile shopgate.Profile) *shopgate.Record {
	now := time.Now().UTC()

	rec, ok := s.records[profile.CustomerID]
	if !ok {
		rec = &shopgate.Record{
			CustomerID: profile.CustomerID,
			Email:      profile.Email,
			FirstName:  profile.FirstName,
			LastName:   profile.LastName,
			Plan:       shopgate.PlanNone,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.records[profile.CustomerID] = rec
		return rec
	}

	// New non-empty values win; empty upstream fields never clear
	// what is already stored.
	if profile.Email != "" {
		rec.Email = profile.Email
	}
	if profile.FirstName != "" {
		rec.FirstName = profile.FirstName
	}
	if profile.LastName != "" {
		rec.LastName = profile.LastName
	}
	rec.UpdatedAt = now
	return rec
}

func (s *Store) applyPlanUpdateLocked(update shopgate.PlanUpdate) error {
	rec, ok := s.records[update.CustomerID]
	if !ok {
		return shopgate.ErrRecordNotFound
	}

	productID := update.ProductID
	expiry := update.Expiry

	rec.Plan = update.Plan
	rec.PlanProductID = &productID
	rec.Expiry = &expiry
	if update.RemainingUses != nil {
		uses := *update.RemainingUses
		rec.RemainingUses = &uses
	} else {
		rec.RemainingUses = nil
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneRecord(rec *shopgate.Record) *shopgate.Record {
	recCopy := *rec
	if rec.PlanProductID != nil {
		v := *rec.PlanProductID
		recCopy.PlanProductID = &v
	}
	if rec.Expiry != nil {
		v := *rec.Expiry
		recCopy.Expiry = &v
	}
	if rec.RemainingUses != nil {
		v := *rec.RemainingUses
		recCopy.RemainingUses = &v
	}
	return &recCopy
}
