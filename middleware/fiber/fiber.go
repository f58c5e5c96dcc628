// Package fiber provides Fiber middleware that gates handlers behind a
// subscription access check.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// DecisionKey is where the granted decision is stored in Fiber locals
const DecisionKey = "shopgate_decision"

// CustomerIDExtractor extracts the raw customer identifier from a Fiber context.
// Return empty string if no identifier is present.
type CustomerIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Gate evaluates access checks (required)
	Gate *shopgate.Gate

	// GetCustomerID extracts the customer identifier from the context.
	// Default: FromQuery("customer_id", "logged_in_customer_id").
	GetCustomerID CustomerIDExtractor

	// OnDenied is called when access is denied.
	// If nil, responds with the decision rendered as JSON.
	OnDenied func(c *fiber.Ctx, decision shopgate.Decision) error
}

// New creates a Fiber middleware that only passes requests through
// after the gate grants access
func New(config Config) fiber.Handler {
	if config.GetCustomerID == nil {
		config.GetCustomerID = FromQuery("customer_id", "logged_in_customer_id")
	}

	return func(c *fiber.Ctx) error {
		decision := config.Gate.EvaluateAccess(c.UserContext(), config.GetCustomerID(c))

		if !decision.Granted {
			if config.OnDenied != nil {
				return config.OnDenied(c, decision)
			}
			body := fiber.Map{"ok": false, "reason": string(decision.Reason)}
			if decision.Message != "" {
				body["message"] = decision.Message
			}
			if decision.Redirect != "" {
				body["redirect"] = decision.Redirect
			}
			return c.Status(decision.HTTPStatus()).JSON(body)
		}

		c.Locals(DecisionKey, decision)
		return c.Next()
	}
}

// DecisionFromContext returns the granted decision stored by the middleware
func DecisionFromContext(c *fiber.Ctx) (shopgate.Decision, bool) {
	decision, ok := c.Locals(DecisionKey).(shopgate.Decision)
	return decision, ok
}

// FromQuery returns an extractor that tries query parameters in order
func FromQuery(params ...string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
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
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
