// Package http provides HTTP middleware that gates handlers behind a
// subscription access check.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// CustomerIDExtractor extracts the raw customer identifier from a request.
// Return empty string if no identifier is present.
type CustomerIDExtractor func(r *http.Request) string

// ContextKey is the type used for context values set by this middleware
type ContextKey string

// DecisionContextKey is where the granted decision is stored in the
// request context
const DecisionContextKey ContextKey = "shopgate_decision"

// Config holds middleware configuration
type Config struct {
	// Gate evaluates access checks (required)
	Gate *shopgate.Gate

	// GetCustomerID extracts the customer identifier from the request.
	// Default: FromQuery("customer_id", "logged_in_customer_id").
	GetCustomerID CustomerIDExtractor

	// OnDenied is called when access is denied.
	// If nil, writes the decision as JSON with its mapped status code.
	OnDenied func(w http.ResponseWriter, r *http.Request, decision shopgate.Decision)
}

// Middleware creates an HTTP middleware that only passes requests
// through after the gate grants access. The decision (including the
// remaining-uses count for metered plans) is available to the next
// handler via DecisionFromContext.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetCustomerID == nil {
		config.GetCustomerID = FromQuery("customer_id", "logged_in_customer_id")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := config.Gate.EvaluateAccess(r.Context(), config.GetCustomerID(r))

			if !decision.Granted {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
					return
				}
				writeDecision(w, decision)
				return
			}

			ctx := context.WithValue(r.Context(), DecisionContextKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DecisionFromContext returns the granted decision stored by the middleware
func DecisionFromContext(ctx context.Context) (shopgate.Decision, bool) {
	decision, ok := ctx.Value(DecisionContextKey).(shopgate.Decision)
	return decision, ok
}

// FromQuery returns an extractor that tries query parameters in order
func FromQuery(params ...string) CustomerIDExtractor {
	return func(r *http.Request) string {
		for _, p := range params {
			if v := r.URL.Query().Get(p); v != "" {
				return v
			}
		}
		return ""
	}
}

// FromHeader returns an extractor that reads a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

func writeDecision(w http.ResponseWriter, decision shopgate.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.HTTPStatus())
	body := map[string]interface{}{
		"ok":     false,
		"reason": string(decision.Reason),
	}
	if decision.Message != "" {
		body["message"] = decision.Message
	}
	if decision.Redirect != "" {
		body["redirect"] = decision.Redirect
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already committed; nothing left to do
		return
	}
}
