// Package redis provides a Redis implementation of the shopgate.Store interface.
// Record mutations run through Lua scripts so the check-then-write sequences
// (profile upsert, conditional usage decrement) execute atomically server-side.
//
// A reconciliation pass applies record by record; Redis offers no cross-key
// transaction for this shape, so overlapping passes resolve last-write-wins,
// which the reconciliation contract permits.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// Store implements shopgate.Store using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "shopgate:")
	KeyPrefix string

	// RecordTTL is the TTL for record keys (0 = no expiration).
	// Records are rebuilt on every sync, so expiring them is safe.
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "shopgate:",
		RecordTTL: 0,
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "shopgate:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// Create a plan-none record, or refresh only the non-empty profile
	// fields of an existing one
	s.scripts["upsertProfile"] = redis.NewScript(`
		local recordKey = KEYS[1]
		local indexKey = KEYS[2]
		local customerID = ARGV[1]
		local email = ARGV[2]
		local firstName = ARGV[3]
		local lastName = ARGV[4]
		local now = ARGV[5]
		local ttl = tonumber(ARGV[6])

		if redis.call('EXISTS', recordKey) == 0 then
			redis.call('HSET', recordKey,
				'customer_id', customerID,
				'email', email,
				'first_name', firstName,
				'last_name', lastName,
				'plan', 'none',
				'created_at', now,
				'updated_at', now)
		else
			if email ~= '' then
				redis.call('HSET', recordKey, 'email', email)
			end
			if firstName ~= '' then
				redis.call('HSET', recordKey, 'first_name', firstName)
			end
			if lastName ~= '' then
				redis.call('HSET', recordKey, 'last_name', lastName)
			end
			redis.call('HSET', recordKey, 'updated_at', now)
		end

		redis.call('SADD', indexKey, customerID)
		if ttl > 0 then
			redis.call('EXPIRE', recordKey, ttl)
		end
		return 'ok'
	`)

	// Overwrite plan, product and expiry; reset or remove the usage counter
	s.scripts["applyPlan"] = redis.NewScript(`
		local recordKey = KEYS[1]
		local plan = ARGV[1]
		local productID = ARGV[2]
		local expiry = ARGV[3]
		local remainingUses = ARGV[4]
		local now = ARGV[5]

		if redis.call('EXISTS', recordKey) == 0 then
			return 'not_found'
		end

		redis.call('HSET', recordKey,
			'plan', plan,
			'plan_product_id', productID,
			'expiry', expiry,
			'updated_at', now)

		if remainingUses == '' then
			redis.call('HDEL', recordKey, 'remaining_uses')
		else
			redis.call('HSET', recordKey, 'remaining_uses', remainingUses)
		end
		return 'ok'
	`)

	// Decrement the usage counter only if it is currently positive
	s.scripts["decrement"] = redis.NewScript(`
		local recordKey = KEYS[1]
		local now = ARGV[1]

		if redis.call('EXISTS', recordKey) == 0 then
			return {-1, 'not_found'}
		end

		local uses = redis.call('HGET', recordKey, 'remaining_uses')
		if not uses then
			return {-1, 'not_tracked'}
		end
		if tonumber(uses) <= 0 then
			return {-1, 'exhausted'}
		end

		local remaining = redis.call('HINCRBY', recordKey, 'remaining_uses', -1)
		redis.call('HSET', recordKey, 'updated_at', now)
		return {remaining, 'ok'}
	`)
}

// UpsertProfile implements shopgate.Store
func (s *Store) UpsertProfile(ctx context.Context, profile shopgate.Profile) (*shopgate.Record, error) {
	if profile.CustomerID == 0 {
		return nil, shopgate.ErrInvalidProfile
	}
	if err := s.runUpsert(ctx, profile); err != nil {
		return nil, err
	}
	return s.Get(ctx, profile.CustomerID)
}

func (s *Store) runUpsert(ctx context.Context, profile shopgate.Profile) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.scripts["upsertProfile"].Run(ctx, s.client,
		[]string{s.recordKey(profile.CustomerID), s.indexKey()},
		strconv.FormatInt(profile.CustomerID, 10),
		profile.Email, profile.FirstName, profile.LastName,
		now, int(s.config.RecordTTL.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Get implements shopgate.Store
func (s *Store) Get(ctx context.Context, customerID int64) (*shopgate.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if len(fields) == 0 {
		return nil, shopgate.ErrRecordNotFound
	}
	return recordFromHash(fields)
}

// ApplyPlanUpdate implements shopgate.Store
func (s *Store) ApplyPlanUpdate(ctx context.Context, update shopgate.PlanUpdate) error {
	status, err := s.runApplyPlan(ctx, update)
	if err != nil {
		return err
	}
	if status == "not_found" {
		return shopgate.ErrRecordNotFound
	}
	return nil
}

func (s *Store) runApplyPlan(ctx context.Context, update shopgate.PlanUpdate) (string, error) {
	uses := ""
	if update.RemainingUses != nil {
		uses = strconv.Itoa(*update.RemainingUses)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.scripts["applyPlan"].Run(ctx, s.client,
		[]string{s.recordKey(update.CustomerID)},
		string(update.Plan),
		strconv.FormatInt(update.ProductID, 10),
		update.Expiry.UTC().Format(time.RFC3339Nano),
		uses, now,
	).Text()
	if err != nil {
		return "", fmt.Errorf("failed to apply plan update: %w", err)
	}
	return res, nil
}

// DecrementUses implements shopgate.Store
func (s *Store) DecrementUses(ctx context.Context, customerID int64) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.scripts["decrement"].Run(ctx, s.client,
		[]string{s.recordKey(customerID)}, now).Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement uses: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected decrement result: %v", res)
	}

	remaining, _ := res[0].(int64)
	status, _ := res[1].(string)
	switch status {
	case "ok":
		return int(remaining), nil
	case "not_found":
		return 0, shopgate.ErrRecordNotFound
	case "not_tracked":
		return 0, shopgate.ErrUsesNotTracked
	case "exhausted":
		return 0, shopgate.ErrUsesExhausted
	default:
		return 0, fmt.Errorf("unexpected decrement status %q", status)
	}
}

// Count implements shopgate.Store
func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}

// ApplySync implements shopgate.Store
func (s *Store) ApplySync(ctx context.Context, profiles []shopgate.Profile, updates []shopgate.PlanUpdate) (shopgate.SyncResult, error) {
	for _, p := range profiles {
		if p.CustomerID == 0 {
			continue
		}
		if err := s.runUpsert(ctx, p); err != nil {
			return shopgate.SyncResult{}, err
		}
	}

	applied := 0
	for _, u := range updates {
		status, err := s.runApplyPlan(ctx, u)
		if err != nil {
			return shopgate.SyncResult{}, err
		}
		if status == "ok" {
			applied++
		}
	}

	total, err := s.Count(ctx)
	if err != nil {
		return shopgate.SyncResult{}, err
	}
	return shopgate.SyncResult{SyncedCustomers: total, UpdatedSubscriptions: applied}, nil
}

func (s *Store) recordKey(customerID int64) string {
	return fmt.Sprintf("%srecord:%d", s.config.KeyPrefix, customerID)
}

func (s *Store) indexKey() string {
	return s.config.KeyPrefix + "customers"
}

func recordFromHash(fields map[string]string) (*shopgate.Record, error) {
	customerID, err := strconv.ParseInt(fields["customer_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed record: bad customer_id %q", fields["customer_id"])
	}

	rec := &shopgate.Record{
		CustomerID: customerID,
		Email:      fields["email"],
		FirstName:  fields["first_name"],
		LastName:   fields["last_name"],
		Plan:       shopgate.Plan(fields["plan"]),
	}

	if v, ok := fields["plan_product_id"]; ok && v != "" {
		productID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed record: bad plan_product_id %q", v)
		}
		rec.PlanProductID = &productID
	}
	if v, ok := fields["expiry"]; ok && v != "" {
		expiry, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("malformed record: bad expiry %q", v)
		}
		rec.Expiry = &expiry
	}
	if v, ok := fields["remaining_uses"]; ok {
		uses, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("malformed record: bad remaining_uses %q", v)
		}
		rec.RemainingUses = &uses
	}
	if v, ok := fields["created_at"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = t
		}
	}
	if v, ok := fields["updated_at"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}
