package shopgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultCustomerIDLength is the number of digits in a platform customer id
const DefaultCustomerIDLength = 13

// DefaultLoginRedirect is where clients without an identity are sent
const DefaultLoginRedirect = "/account/login"

// Syncer refreshes local entitlement state from the upstream platform.
// *Reconciler satisfies this.
type Syncer interface {
	Reconcile(ctx context.Context) (SyncResult, error)
}

// GateConfig holds access gate configuration
type GateConfig struct {
	// Store holds the entitlement records (required)
	Store Store

	// Syncer refreshes the store before every check (required)
	Syncer Syncer

	// ToolURL is the downstream tool entry point returned on grants (required)
	ToolURL string

	// SubscriptionPageURL is where denied customers are sent to
	// purchase or upgrade a plan (required)
	SubscriptionPageURL string

	// LoginRedirect is where clients without a usable identifier are
	// sent. Default: DefaultLoginRedirect.
	LoginRedirect string

	// CustomerIDLength is the exact digit count a well-formed
	// identifier must have. Default: DefaultCustomerIDLength.
	CustomerIDLength int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking access decisions (default: NoopMetrics)
	Metrics Metrics

	// Now returns the current time. Default: time.Now in UTC.
	Now func() time.Time
}

// Validate checks that the configuration is valid
func (c *GateConfig) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Syncer == nil {
		return fmt.Errorf("syncer is required")
	}
	if c.ToolURL == "" {
		return fmt.Errorf("tool URL is required")
	}
	if c.SubscriptionPageURL == "" {
		return fmt.Errorf("subscription page URL is required")
	}
	return nil
}

// Gate decides whether a customer may reach the downstream tool
type Gate struct {
	store            Store
	syncer           Syncer
	toolURL          string
	subscriptionPage string
	loginRedirect    string
	idLength         int
	logger           Logger
	metrics          Metrics
	now              func() time.Time
}

// NewGate creates an access gate with the given configuration
func NewGate(config GateConfig) (*Gate, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.LoginRedirect == "" {
		config.LoginRedirect = DefaultLoginRedirect
	}
	if config.CustomerIDLength <= 0 {
		config.CustomerIDLength = DefaultCustomerIDLength
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

	return &Gate{
		store:            config.Store,
		syncer:           config.Syncer,
		toolURL:          config.ToolURL,
		subscriptionPage: config.SubscriptionPageURL,
		loginRedirect:    config.LoginRedirect,
		idLength:         config.CustomerIDLength,
		logger:           config.Logger,
		metrics:          config.Metrics,
		now:              config.Now,
	}, nil
}

// EvaluateAccess runs the full access check for a raw customer
// identifier: refresh entitlement state upstream, then decide from the
// stored record. Every path terminates in exactly one Decision; a
// tier1 grant and its quota decrement happen together or not at all.
func (g *Gate) EvaluateAccess(ctx context.Context, rawCustomerID string) Decision {
	start := time.Now()
	decision := g.evaluate(ctx, rawCustomerID)
	g.metrics.RecordAccessCheckDuration(time.Since(start))
	g.metrics.RecordAccessDecision(decision.Plan, decision.Reason, decision.Granted)
	return decision
}

func (g *Gate) evaluate(ctx context.Context, rawCustomerID string) Decision {
	if rawCustomerID == "" {
		return Decision{
			Reason:   ReasonMissingCustomerID,
			Redirect: g.loginRedirect,
		}
	}

	if !digitsOfLength(rawCustomerID, g.idLength) {
		return Decision{
			Reason:  ReasonInvalidCustomerID,
			Message: fmt.Sprintf("customer id must be %d digits", g.idLength),
		}
	}

	// Refresh before deciding. An upstream failure fails closed: stale
	// local state is never trusted to grant access.
	if _, err := g.syncer.Reconcile(ctx); err != nil {
		g.logger.Error("sync failed during access check", Field{Key: "error", Value: err.Error()})
		return Decision{
			Reason:  ReasonSyncFailed,
			Message: err.Error(),
		}
	}

	customerID, err := strconv.ParseInt(rawCustomerID, 10, 64)
	if err != nil {
		return Decision{
			Reason:  ReasonInvalidCustomerID,
			Message: fmt.Sprintf("customer id must be %d digits", g.idLength),
		}
	}

	getStart := time.Now()
	record, err := g.store.Get(ctx, customerID)
	g.recordStorageOp("get", getStart, err)
	if errors.Is(err, ErrRecordNotFound) {
		return Decision{
			Reason:   ReasonNotFound,
			Redirect: g.loginRedirect,
		}
	}
	if err != nil {
		g.logger.Error("record lookup failed", Field{Key: "customer_id", Value: customerID}, Field{Key: "error", Value: err.Error()})
		return Decision{
			Reason:  ReasonSyncFailed,
			Message: "failed to read entitlement record",
		}
	}

	if record.Plan == PlanNone || record.Expiry == nil || g.now().After(*record.Expiry) {
		return Decision{
			Reason:   ReasonNoActiveSubscription,
			Redirect: g.subscriptionPage,
		}
	}

	switch record.Plan {
	case PlanTier1:
		return g.grantMetered(ctx, record)
	case PlanTier2, PlanPro:
		return Decision{
			Granted: true,
			Plan:    record.Plan,
			ToolURL: g.toolURL,
		}
	default:
		g.logger.Error("record carries unknown plan",
			Field{Key: "customer_id", Value: record.CustomerID},
			Field{Key: "plan", Value: string(record.Plan)},
		)
		return Decision{
			Reason:  ReasonDataError,
			Message: fmt.Sprintf("unknown plan %q", record.Plan),
		}
	}
}

// grantMetered handles the tier1 branch: the quota must exist, must be
// positive, and the decrement must win any race with concurrent checks
// before access is granted.
func (g *Gate) grantMetered(ctx context.Context, record *Record) Decision {
	if record.RemainingUses == nil {
		// Reconciliation always assigns a quota with the tier1 plan;
		// a nil counter here is an integrity fault upstream of this check.
		g.logger.Error("tier1 record missing remaining uses", Field{Key: "customer_id", Value: record.CustomerID})
		return Decision{
			Reason:  ReasonDataError,
			Message: "tier1 record missing remaining uses",
		}
	}

	if *record.RemainingUses <= 0 {
		return Decision{
			Reason:   ReasonTier1Exhausted,
			Redirect: g.subscriptionPage,
		}
	}

	decStart := time.Now()
	remaining, err := g.store.DecrementUses(ctx, record.CustomerID)
	g.recordStorageOp("decrement_uses", decStart, err)
	switch {
	case errors.Is(err, ErrUsesExhausted):
		// Lost the race against a concurrent check that took the last use.
		return Decision{
			Reason:   ReasonTier1Exhausted,
			Redirect: g.subscriptionPage,
		}
	case errors.Is(err, ErrUsesNotTracked):
		return Decision{
			Reason:  ReasonDataError,
			Message: "tier1 record missing remaining uses",
		}
	case err != nil:
		g.logger.Error("usage decrement failed", Field{Key: "customer_id", Value: record.CustomerID}, Field{Key: "error", Value: err.Error()})
		return Decision{
			Reason:  ReasonSyncFailed,
			Message: "failed to record usage",
		}
	}

	return Decision{
		Granted:       true,
		Plan:          PlanTier1,
		RemainingUses: &remaining,
		ToolURL:       g.toolURL,
	}
}

// recordStorageOp reports a store call to metrics. Sentinel outcomes
// such as a missing record or an exhausted quota are normal decision
// inputs, not storage errors.
func (g *Gate) recordStorageOp(operation string, start time.Time, err error) {
	if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrUsesExhausted) || errors.Is(err, ErrUsesNotTracked) {
		err = nil
	}
	g.metrics.RecordStorageOperation(operation, time.Since(start), err)
}

// digitsOfLength reports whether s is exactly n ASCII digits
func digitsOfLength(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
