package shopgate

import (
	"net/http"
	"time"
)

// Plan identifies a subscription tier
type Plan string

const (
	// PlanNone means the customer has never purchased a subscription
	PlanNone Plan = "none"
	// PlanTier1 grants metered access with a fixed number of uses
	PlanTier1 Plan = "tier1"
	// PlanTier2 grants unlimited access
	PlanTier2 Plan = "tier2"
	// PlanPro grants unlimited access
	PlanPro Plan = "pro"
)

// Metered reports whether the plan tracks a remaining-uses counter
func (p Plan) Metered() bool {
	return p == PlanTier1
}

// Catalog maps subscription product IDs to plans
type Catalog struct {
	Tier1ProductID int64
	Tier2ProductID int64
	ProProductID   int64
}

// PlanFor returns the plan a product grants, or false for
// products outside the subscription set
func (c Catalog) PlanFor(productID int64) (Plan, bool) {
	switch productID {
	case c.Tier1ProductID:
		return PlanTier1, true
	case c.Tier2ProductID:
		return PlanTier2, true
	case c.ProProductID:
		return PlanPro, true
	default:
		return PlanNone, false
	}
}

// Profile is a customer profile row as fetched from the shop platform
type Profile struct {
	CustomerID int64
	Email      string
	FirstName  string
	LastName   string
}

// OrderLine is a flattened order row: the customer and the first
// line-item product of one order. ProductID and CreatedAt arrive as
// raw strings and are validated during reconciliation.
type OrderLine struct {
	OrderID    int64
	CustomerID int64
	ProductID  string
	CreatedAt  string
}

// Record is the durable entitlement state for one customer
type Record struct {
	CustomerID    int64
	Email         string
	FirstName     string
	LastName      string
	Plan          Plan
	PlanProductID *int64
	Expiry        *time.Time
	RemainingUses *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PlanUpdate is the plan assignment derived from a customer's latest
// qualifying purchase
type PlanUpdate struct {
	CustomerID    int64
	Plan          Plan
	ProductID     int64
	PurchasedAt   time.Time
	Expiry        time.Time
	RemainingUses *int
}

// SyncResult reports the outcome of one reconciliation pass
type SyncResult struct {
	SyncedCustomers      int
	UpdatedSubscriptions int
}

// ReasonCode identifies why access was denied
type ReasonCode string

const (
	// ReasonMissingCustomerID means no identifier was supplied
	ReasonMissingCustomerID ReasonCode = "missing_customer_id"
	// ReasonInvalidCustomerID means the identifier failed the structural check
	ReasonInvalidCustomerID ReasonCode = "invalid_customer_id"
	// ReasonSyncFailed means entitlement data could not be refreshed upstream
	ReasonSyncFailed ReasonCode = "upstream_sync_failed"
	// ReasonNotFound means no record exists for the identifier after sync
	ReasonNotFound ReasonCode = "not_found"
	// ReasonNoActiveSubscription means the plan is absent or expired
	ReasonNoActiveSubscription ReasonCode = "no_active_subscription"
	// ReasonDataError means a tier1 record is missing its quota counter.
	// This signals a reconciliation bug, not a user state.
	ReasonDataError ReasonCode = "subscription_data_error"
	// ReasonTier1Exhausted means the tier1 quota has been used up
	ReasonTier1Exhausted ReasonCode = "tier1_exhausted"
)

// HTTPStatus maps a denial reason to its HTTP status code
func (r ReasonCode) HTTPStatus() int {
	switch r {
	case ReasonMissingCustomerID, ReasonInvalidCustomerID:
		return http.StatusBadRequest
	case ReasonNotFound:
		return http.StatusUnauthorized
	case ReasonNoActiveSubscription, ReasonTier1Exhausted:
		return http.StatusForbidden
	case ReasonSyncFailed, ReasonDataError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Decision is the terminal outcome of one access check
type Decision struct {
	Granted bool

	// Plan is set on grants
	Plan Plan

	// Reason is set on denials
	Reason ReasonCode

	// Message carries detail for denials that need explaining
	Message string

	// Redirect is where the client should send the user on denial
	Redirect string

	// RemainingUses is set on tier1 grants only (the post-decrement count)
	RemainingUses *int

	// ToolURL is the downstream tool entry point, set on grants
	ToolURL string
}

// HTTPStatus returns the status code for this decision
func (d Decision) HTTPStatus() int {
	if d.Granted {
		return http.StatusOK
	}
	return d.Reason.HTTPStatus()
}
