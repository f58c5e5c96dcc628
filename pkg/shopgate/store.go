package shopgate

import "context"

// Store defines the interface for entitlement record persistence.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// UpsertProfile creates a record with PlanNone if the customer is
	// unknown, otherwise updates only the profile fields, preferring new
	// non-empty values. Plan, expiry and quota are never touched.
	UpsertProfile(ctx context.Context, profile Profile) (*Record, error)

	// Get retrieves the record for a customer.
	// Returns ErrRecordNotFound if none exists.
	Get(ctx context.Context, customerID int64) (*Record, error)

	// ApplyPlanUpdate unconditionally overwrites plan, product id and
	// expiry, and resets the remaining-uses counter according to the plan
	// (the update's value for metered plans, nil for unlimited plans).
	// Returns ErrRecordNotFound if the customer has no record.
	ApplyPlanUpdate(ctx context.Context, update PlanUpdate) error

	// DecrementUses atomically decrements the remaining-uses counter by
	// one, only if it is currently positive, and returns the new value.
	// Returns ErrUsesNotTracked if the counter is absent,
	// ErrUsesExhausted if it is already at or below zero, and
	// ErrRecordNotFound if the customer has no record.
	// Concurrent calls for the same customer must serialize: a counter
	// of k yields exactly k successful decrements and never goes negative.
	DecrementUses(ctx context.Context, customerID int64) (int, error)

	// Count returns the total number of records in the store.
	Count(ctx context.Context) (int, error)

	// ApplySync commits one reconciliation pass as a single unit:
	// all profile upserts, then all plan updates. Updates for customers
	// without a record are skipped silently and not counted.
	// No partial commit survives an error.
	ApplySync(ctx context.Context, profiles []Profile, updates []PlanUpdate) (SyncResult, error)
}
