// Package firestore provides a Cloud Firestore implementation of the
// shopgate.Store interface. The usage decrement runs inside a Firestore
// transaction, which retries on contention so concurrent checks for the
// same customer serialize.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// Store implements shopgate.Store using Google Cloud Firestore
type Store struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore store configuration
type Config struct {
	// Collection is the Firestore collection holding entitlement records.
	// Default: "entitlement_records".
	Collection string
}

// DefaultConfig returns a config with default values
func DefaultConfig() Config {
	return Config{
		Collection: "entitlement_records",
	}
}

// New creates a new Firestore store
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.Collection == "" {
		config.Collection = "entitlement_records"
	}
	return &Store{client: client, collection: config.Collection}, nil
}

// UpsertProfile implements shopgate.Store
func (s *Store) UpsertProfile(ctx context.Context, profile shopgate.Profile) (*shopgate.Record, error) {
	if profile.CustomerID == 0 {
		return nil, shopgate.ErrInvalidProfile
	}

	doc := s.doc(profile.CustomerID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now().UTC()
		if err != nil || !snap.Exists() {
			return tx.Set(doc, map[string]interface{}{
				"customerID": profile.CustomerID,
				"email":      profile.Email,
				"firstName":  profile.FirstName,
				"lastName":   profile.LastName,
				"plan":       string(shopgate.PlanNone),
				"createdAt":  now,
				"updatedAt":  now,
			})
		}

		updates := map[string]interface{}{"updatedAt": now}
		if profile.Email != "" {
			updates["email"] = profile.Email
		}
		if profile.FirstName != "" {
			updates["firstName"] = profile.FirstName
		}
		if profile.LastName != "" {
			updates["lastName"] = profile.LastName
		}
		return tx.Set(doc, updates, firestore.MergeAll)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	return s.Get(ctx, profile.CustomerID)
}

// Get implements shopgate.Store
func (s *Store) Get(ctx context.Context, customerID int64) (*shopgate.Record, error) {
	snap, err := s.doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, shopgate.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if !snap.Exists() {
		return nil, shopgate.ErrRecordNotFound
	}
	return recordFromDoc(customerID, snap.Data()), nil
}

// ApplyPlanUpdate implements shopgate.Store
func (s *Store) ApplyPlanUpdate(ctx context.Context, update shopgate.PlanUpdate) error {
	doc := s.doc(update.CustomerID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return shopgate.ErrRecordNotFound
			}
			return err
		}
		if !snap.Exists() {
			return shopgate.ErrRecordNotFound
		}

		data := map[string]interface{}{
			"plan":          string(update.Plan),
			"planProductID": update.ProductID,
			"expiry":        update.Expiry.UTC(),
			"updatedAt":     time.Now().UTC(),
		}
		if update.RemainingUses != nil {
			data["remainingUses"] = *update.RemainingUses
		} else {
			data["remainingUses"] = firestore.Delete
		}
		return tx.Set(doc, data, firestore.MergeAll)
	})
	if err != nil {
		if err == shopgate.ErrRecordNotFound {
			return err
		}
		return fmt.Errorf("failed to apply plan update: %w", err)
	}
	return nil
}

// DecrementUses implements shopgate.Store
func (s *Store) DecrementUses(ctx context.Context, customerID int64) (int, error) {
	doc := s.doc(customerID)
	remaining := 0

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return shopgate.ErrRecordNotFound
			}
			return err
		}
		if !snap.Exists() {
			return shopgate.ErrRecordNotFound
		}

		data := snap.Data()
		uses, tracked := data["remainingUses"]
		if !tracked {
			return shopgate.ErrUsesNotTracked
		}
		current := asInt(uses)
		if current <= 0 {
			return shopgate.ErrUsesExhausted
		}

		remaining = current - 1
		return tx.Set(doc, map[string]interface{}{
			"remainingUses": remaining,
			"updatedAt":     time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		switch err {
		case shopgate.ErrRecordNotFound, shopgate.ErrUsesNotTracked, shopgate.ErrUsesExhausted:
			return 0, err
		}
		return 0, fmt.Errorf("failed to decrement uses: %w", err)
	}
	return remaining, nil
}

// Count implements shopgate.Store via a server-side aggregation
func (s *Store) Count(ctx context.Context) (int, error) {
	agg := s.client.Collection(s.collection).Query.NewAggregationQuery().WithCount("total")
	results, err := agg.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	value, ok := results["total"]
	if !ok {
		return 0, fmt.Errorf("count aggregation returned no result")
	}
	count, ok := value.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count aggregation type %T", value)
	}
	return int(count.GetIntegerValue()), nil
}

// ApplySync implements shopgate.Store. Firestore transactions cap out
// well below a full sync pass, so records apply one at a time;
// overlapping passes resolve last-write-wins as the reconciliation
// contract permits.
func (s *Store) ApplySync(ctx context.Context, profiles []shopgate.Profile, updates []shopgate.PlanUpdate) (shopgate.SyncResult, error) {
	for _, p := range profiles {
		if p.CustomerID == 0 {
			continue
		}
		if _, err := s.UpsertProfile(ctx, p); err != nil {
			return shopgate.SyncResult{}, err
		}
	}

	applied := 0
	for _, u := range updates {
		err := s.ApplyPlanUpdate(ctx, u)
		if err == shopgate.ErrRecordNotFound {
			continue
		}
		if err != nil {
			return shopgate.SyncResult{}, err
		}
		applied++
	}

	total, err := s.Count(ctx)
	if err != nil {
		return shopgate.SyncResult{}, err
	}
	return shopgate.SyncResult{SyncedCustomers: total, UpdatedSubscriptions: applied}, nil
}

func (s *Store) doc(customerID int64) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(fmt.Sprintf("%d", customerID))
}

func recordFromDoc(customerID int64, data map[string]interface{}) *shopgate.Record {
	rec := &shopgate.Record{
		CustomerID: customerID,
		Email:      getString(data, "email"),
		FirstName:  getString(data, "firstName"),
		LastName:   getString(data, "lastName"),
		Plan:       shopgate.Plan(getString(data, "plan")),
		CreatedAt:  getTime(data, "createdAt"),
		UpdatedAt:  getTime(data, "updatedAt"),
	}

	if v, ok := data["planProductID"]; ok {
		productID := int64(asInt(v))
		rec.PlanProductID = &productID
	}
	if v, ok := data["expiry"].(time.Time); ok {
		rec.Expiry = &v
	}
	if v, ok := data["remainingUses"]; ok {
		uses := asInt(v)
		rec.RemainingUses = &uses
	}
	return rec
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(math.Round(n))
	default:
		return 0
	}
}
