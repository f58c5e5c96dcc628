// Package gin provides Gin middleware that gates handlers behind a
// subscription access check.
package gin

import (
	gongin "github.com/gin-gonic/gin"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// DecisionKey is where the granted decision is stored in the Gin context
const DecisionKey = "shopgate_decision"

// CustomerIDExtractor extracts the raw customer identifier from a Gin context.
// Return empty string if no identifier is present.
type CustomerIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Gate evaluates access checks (required)
	Gate *shopgate.Gate

	// GetCustomerID extracts the customer identifier from the context.
	// Default: FromQuery("customer_id", "logged_in_customer_id").
	GetCustomerID CustomerIDExtractor

	// OnDenied is called when access is denied.
	// If nil, aborts with the decision rendered as JSON.
	OnDenied func(c *gongin.Context, decision shopgate.Decision)
}

// Middleware creates a Gin middleware that only passes requests through
// after the gate grants access
func Middleware(config Config) gongin.HandlerFunc {
	if config.GetCustomerID == nil {
		config.GetCustomerID = FromQuery("customer_id", "logged_in_customer_id")
	}

	return func(c *gongin.Context) {
		decision := config.Gate.EvaluateAccess(c.Request.Context(), config.GetCustomerID(c))

		if !decision.Granted {
			if config.OnDenied != nil {
				config.OnDenied(c, decision)
				c.Abort()
				return
			}
			body := gongin.H{"ok": false, "reason": string(decision.Reason)}
			if decision.Message != "" {
				body["message"] = decision.Message
			}
			if decision.Redirect != "" {
				body["redirect"] = decision.Redirect
			}
			c.AbortWithStatusJSON(decision.HTTPStatus(), body)
			return
		}

		c.Set(DecisionKey, decision)
		c.Next()
	}
}

// DecisionFromContext returns the granted decision stored by the middleware
func DecisionFromContext(c *gongin.Context) (shopgate.Decision, bool) {
	v, ok := c.Get(DecisionKey)
	if !ok {
		return shopgate.Decision{}, false
	}
	decision, ok := v.(shopgate.Decision)
	return decision, ok
}

// FromQuery returns an extractor that tries query parameters in order
func FromQuery(params ...string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		for _, p := range params {
			if v := c.Query(p); v != "" {
				return v
			}
		}
		return ""
	}
}

// FromHeader returns an extractor that reads a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
