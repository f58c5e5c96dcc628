package shopgate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAccessWindow is how long a qualifying purchase grants access
	DefaultAccessWindow = 30 * 24 * time.Hour

	// DefaultTier1Uses is the quota a tier1 purchase grants
	DefaultTier1Uses = 10
)

// Source is the upstream supplier of customer profiles and order rows.
// Both datasets are fetched in full on every reconciliation.
type Source interface {
	// Customers returns all customer profiles.
	Customers(ctx context.Context) ([]Profile, error)

	// Orders returns all order rows, oldest pagination order preserved.
	Orders(ctx context.Context) ([]OrderLine, error)
}

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	// Source supplies profiles and orders (required)
	Source Source

	// Store receives the reconciled state (required)
	Store Store

	// Catalog maps subscription product IDs to plans (required)
	Catalog Catalog

	// AccessWindow is added to the purchase timestamp to produce the
	// expiry. Default: DefaultAccessWindow.
	AccessWindow time.Duration

	// Tier1Uses is the quota assigned on a tier1 purchase.
	// Default: DefaultTier1Uses.
	Tier1Uses int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking sync passes (default: NoopMetrics)
	Metrics Metrics

	// Now returns the current time. Default: time.Now in UTC.
	Now func() time.Time
}

// Validate checks that the configuration is valid
func (c *ReconcilerConfig) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("source is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Catalog.Tier1ProductID == 0 || c.Catalog.Tier2ProductID == 0 || c.Catalog.ProProductID == 0 {
		return fmt.Errorf("catalog requires all three subscription product IDs")
	}
	return nil
}

// Reconciler maps upstream purchase history onto local entitlement records
type Reconciler struct {
	source       Source
	store        Store
	catalog      Catalog
	accessWindow time.Duration
	tier1Uses    int
	logger       Logger
	metrics      Metrics
	now          func() time.Time
}

// NewReconciler creates a reconciler with the given configuration
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.AccessWindow <= 0 {
		config.AccessWindow = DefaultAccessWindow
	}
	if config.Tier1Uses <= 0 {
		config.Tier1Uses = DefaultTier1Uses
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Reconciler{
		source:       config.Source,
		store:        config.Store,
		catalog:      config.Catalog,
		accessWindow: config.AccessWindow,
		tier1Uses:    config.Tier1Uses,
		logger:       config.Logger,
		metrics:      config.Metrics,
		now:          config.Now,
	}, nil
}

// purchase is the surviving latest qualifying purchase for one customer
type purchase struct {
	productID   int64
	purchasedAt time.Time
}

// Reconcile fetches the full upstream datasets and applies them to the
// store as one unit. If either fetch fails, no mutation happens and the
// failure is returned to the caller.
func (r *Reconciler) Reconcile(ctx context.Context) (SyncResult, error) {
	start := r.now()

	var profiles []Profile
	var orders []OrderLine

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetchStart := time.Now()
		var err error
		profiles, err = r.source.Customers(gctx)
		r.metrics.RecordUpstreamFetch("customers", time.Since(fetchStart), err)
		if err != nil {
			return fmt.Errorf("failed to fetch customers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		fetchStart := time.Now()
		var err error
		orders, err = r.source.Orders(gctx)
		r.metrics.RecordUpstreamFetch("orders", time.Since(fetchStart), err)
		if err != nil {
			return fmt.Errorf("failed to fetch orders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		r.metrics.RecordSync(false, 0)
		r.logger.Error("reconciliation aborted", Field{Key: "error", Value: err.Error()})
		return SyncResult{}, err
	}

	updates := r.planUpdates(orders)

	applyStart := time.Now()
	result, err := r.store.ApplySync(ctx, profiles, updates)
	r.metrics.RecordStorageOperation("apply_sync", time.Since(applyStart), err)
	r.metrics.RecordSyncDuration(time.Since(start))
	if err != nil {
		r.metrics.RecordSync(false, 0)
		return SyncResult{}, fmt.Errorf("failed to commit sync: %w", err)
	}

	r.metrics.RecordSync(true, result.UpdatedSubscriptions)
	r.logger.Info("reconciliation complete",
		Field{Key: "synced_customers", Value: result.SyncedCustomers},
		Field{Key: "updated_subscriptions", Value: result.UpdatedSubscriptions},
	)
	return result, nil
}

// planUpdates reduces the order list to one PlanUpdate per customer,
// keeping only the latest qualifying purchase. Ties on the exact
// timestamp go to the order seen first.
func (r *Reconciler) planUpdates(orders []OrderLine) []PlanUpdate {
	latest := make(map[int64]purchase)
	order := make([]int64, 0)

	for _, o := range orders {
		if o.CustomerID == 0 || o.ProductID == "" {
			continue
		}
		productID, err := strconv.ParseInt(o.ProductID, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := r.catalog.PlanFor(productID); !ok {
			continue
		}

		purchasedAt, err := time.Parse(time.RFC3339, o.CreatedAt)
		if err != nil {
			// Unparseable timestamps count as "just now" rather than
			// dropping the purchase.
			purchasedAt = r.now()
			r.logger.Warn("order timestamp unparseable, using current time",
				Field{Key: "order_id", Value: o.OrderID},
				Field{Key: "created_at", Value: o.CreatedAt},
			)
		}

		prev, seen := latest[o.CustomerID]
		if seen && !purchasedAt.After(prev.purchasedAt) {
			continue
		}
		if !seen {
			order = append(order, o.CustomerID)
		}
		latest[o.CustomerID] = purchase{productID: productID, purchasedAt: purchasedAt}
	}

	updates := make([]PlanUpdate, 0, len(latest))
	for _, cid := range order {
		p := latest[cid]
		plan, _ := r.catalog.PlanFor(p.productID)

		update := PlanUpdate{
			CustomerID:  cid,
			Plan:        plan,
			ProductID:   p.productID,
			PurchasedAt: p.purchasedAt,
			Expiry:      p.purchasedAt.Add(r.accessWindow),
		}
		if plan.Metered() {
			uses := r.tier1Uses
			update.RemainingUses = &uses
		}
		updates = append(updates, update)
	}
	return updates
}
