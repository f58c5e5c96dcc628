// Package echo provides Echo middleware that gates handlers behind a
// subscription access check.
package echo

import (
	"github.com/labstack/echo/v4"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// DecisionKey is where the granted decision is stored in the Echo context
const DecisionKey = "shopgate_decision"

// CustomerIDExtractor extracts the raw customer identifier from an Echo context.
// Return empty string if no identifier is present.
type CustomerIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Gate evaluates access checks (required)
	Gate *shopgate.Gate

	// GetCustomerID extracts the customer identifier from the context.
	// Default: FromQuery("customer_id", "logged_in_customer_id").
	GetCustomerID CustomerIDExtractor

	// OnDenied is called when access is denied.
	// If nil, responds with the decision rendered as JSON.
	OnDenied func(c echo.Context, decision shopgate.Decision) error
}

// Middleware creates an Echo middleware that only passes requests
// through after the gate grants access
func Middleware(config Config) echo.MiddlewareFunc {
	if config.GetCustomerID == nil {
		config.GetCustomerID = FromQuery("customer_id", "logged_in_customer_id")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision := config.Gate.EvaluateAccess(c.Request().Context(), config.GetCustomerID(c))

			if !decision.Granted {
				if config.OnDenied != nil {
					return config.OnDenied(c, decision)
				}
				body := map[string]interface{}{"ok": false, "reason": string(decision.Reason)}
				if decision.Message != "" {
					body["message"] = decision.Message
				}
				if decision.Redirect != "" {
					body["redirect"] = decision.Redirect
				}
				return c.JSON(decision.HTTPStatus(), body)
			}

			c.Set(DecisionKey, decision)
			return next(c)
		}
	}
}

// DecisionFromContext returns the granted decision stored by the middleware
func DecisionFromContext(c echo.Context) (shopgate.Decision, bool) {
	decision, ok := c.Get(DecisionKey).(shopgate.Decision)
	return decision, ok
}

// FromQuery returns an extractor that tries query parameters in order
func FromQuery(params ...string) CustomerIDExtractor {
	return func(c echo.Context) string {
		for _, p := range params {
			if v := c.QueryParam(p); v != "" {
				return v
			}
		}
		return ""
	}
}

// FromHeader returns an extractor that reads a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
