// Package postgres provides a PostgreSQL implementation of the shopgate.Store interface.
// Reconciliation passes commit inside a single transaction; the usage decrement is a
// single conditional UPDATE so concurrent access checks serialize at the row level.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// Schema is the table this store operates on. Creating it is left to
// the deployment's migration tooling; EnsureSchema applies it for
// development setups.
const Schema = `
CREATE TABLE IF NOT EXISTS entitlement_records (
	customer_id     BIGINT PRIMARY KEY,
	email           TEXT NOT NULL DEFAULT '',
	first_name      TEXT NOT NULL DEFAULT '',
	last_name       TEXT NOT NULL DEFAULT '',
	plan            TEXT NOT NULL DEFAULT 'none',
	plan_product_id BIGINT,
	expiry          TIMESTAMPTZ,
	remaining_uses  INTEGER,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Store implements shopgate.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the entitlement_records table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertProfile implements shopgate.Store
func (s *Store) UpsertProfile(ctx context.Context, profile shopgate.Profile) (*shopgate.Record, error) {
	if profile.CustomerID == 0 {
		return nil, shopgate.ErrInvalidProfile
	}

	row := s.pool.QueryRow(ctx, upsertProfileSQL,
		profile.CustomerID, profile.Email, profile.FirstName, profile.LastName, string(shopgate.PlanNone))
	return scanRecord(row)
}

// upsertProfileSQL creates a plan-none record, or refreshes only the
// profile fields of an existing one. NULLIF keeps empty upstream
// values from clearing stored ones.
const upsertProfileSQL = `
INSERT INTO entitlement_records (customer_id, email, first_name, last_name, plan)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (customer_id) DO UPDATE SET
	email      = COALESCE(NULLIF(EXCLUDED.email, ''), entitlement_records.email),
	first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), entitlement_records.first_name),
	last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), entitlement_records.last_name),
	updated_at = NOW()
RETURNING customer_id, email, first_name, last_name, plan, plan_product_id, expiry, remaining_uses, created_at, updated_at`

// Get implements shopgate.Store
func (s *Store) Get(ctx context.Context, customerID int64) (*shopgate.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT customer_id, email, first_name, last_name, plan, plan_product_id, expiry, remaining_uses, created_at, updated_at
			FROM entitlement_records WHERE customer_id = $1`,
		customerID)

	rec, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return nil, shopgate.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyPlanUpdate implements shopgate.Store
func (s *Store) ApplyPlanUpdate(ctx context.Context, update shopgate.PlanUpdate) error {
	tag, err := s.pool.Exec(ctx, applyPlanUpdateSQL,
		update.CustomerID, string(update.Plan), update.ProductID, update.Expiry, update.RemainingUses)
	if err != nil {
		return fmt.Errorf("failed to apply plan update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shopgate.ErrRecordNotFound
	}
	return nil
}

const applyPlanUpdateSQL = `
UPDATE entitlement_records
	SET plan = $2, plan_product_id = $3, expiry = $4, remaining_uses = $5, updated_at = NOW()
	WHERE customer_id = $1`

// DecrementUses implements shopgate.Store. The conditional UPDATE is a
// single statement, so two concurrent checks can never both take the
// last remaining use.
func (s *Store) DecrementUses(ctx context.Context, customerID int64) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE entitlement_records
			SET remaining_uses = remaining_uses - 1, updated_at = NOW()
			WHERE customer_id = $1 AND remaining_uses > 0
			RETURNING remaining_uses`,
		customerID).Scan(&remaining)

	if err == pgx.ErrNoRows {
		// Nothing matched: distinguish absent record, untracked counter
		// and exhausted counter.
		var uses *int
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT remaining_uses FROM entitlement_records WHERE customer_id = $1`,
			customerID).Scan(&uses)
		if lookupErr == pgx.ErrNoRows {
			return 0, shopgate.ErrRecordNotFound
		}
		if lookupErr != nil {
			return 0, fmt.Errorf("failed to inspect remaining uses: %w", lookupErr)
		}
		if uses == nil {
			return 0, shopgate.ErrUsesNotTracked
		}
		return 0, shopgate.ErrUsesExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement uses: %w", err)
	}
	return remaining, nil
}

// Count implements shopgate.Store
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entitlement_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ApplySync implements shopgate.Store inside one transaction
func (s *Store) ApplySync(ctx context.Context, profiles []shopgate.Profile, updates []shopgate.PlanUpdate) (shopgate.SyncResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return shopgate.SyncResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, p := range profiles {
		if p.CustomerID == 0 {
			continue
		}
		row := tx.QueryRow(ctx, upsertProfileSQL,
			p.CustomerID, p.Email, p.FirstName, p.LastName, string(shopgate.PlanNone))
		if _, err := scanRecord(row); err != nil {
			return shopgate.SyncResult{}, fmt.Errorf("failed to upsert profile %d: %w", p.CustomerID, err)
		}
	}

	applied := 0
	for _, u := range updates {
		tag, err := tx.Exec(ctx, applyPlanUpdateSQL,
			u.CustomerID, string(u.Plan), u.ProductID, u.Expiry, u.RemainingUses)
		if err != nil {
			return shopgate.SyncResult{}, fmt.Errorf("failed to apply plan update %d: %w", u.CustomerID, err)
		}
		if tag.RowsAffected() > 0 {
			applied++
		}
	}

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM entitlement_records`).Scan(&total); err != nil {
		return shopgate.SyncResult{}, fmt.Errorf("failed to count records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return shopgate.SyncResult{}, fmt.Errorf("failed to commit sync: %w", err)
	}

	return shopgate.SyncResult{SyncedCustomers: total, UpdatedSubscriptions: applied}, nil
}

func scanRecord(row pgx.Row) (*shopgate.Record, error) {
	var rec shopgate.Record
	var plan string
	err := row.Scan(
		&rec.CustomerID,
		&rec.Email,
		&rec.FirstName,
		&rec.LastName,
		&plan,
		&rec.PlanProductID,
		&rec.Expiry,
		&rec.RemainingUses,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Plan = shopgate.Plan(plan)
	return &rec, nil
}
