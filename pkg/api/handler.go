// Package api provides the HTTP endpoints of the access gate: the
// access check called by the downstream tool, the protected sync
// trigger, and a health probe. Handlers are plain http.HandlerFunc
// methods so any router can mount them.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// SyncTokenHeader carries the shared secret for the admin sync trigger
const SyncTokenHeader = "X-Sync-Token"

// Config holds configuration for the HTTP handlers
type Config struct {
	// Gate evaluates access checks (required)
	Gate *shopgate.Gate

	// Syncer runs admin-triggered reconciliation (required)
	Syncer shopgate.Syncer

	// SyncToken is the shared secret the admin sync trigger requires (required)
	SyncToken string

	// ShopDomain is reported by the health endpoint
	ShopDomain string

	// Logger is used for structured logging (default: NoopLogger)
	Logger shopgate.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Gate == nil {
		return fmt.Errorf("gate is required")
	}
	if c.Syncer == nil {
		return fmt.Errorf("syncer is required")
	}
	if c.SyncToken == "" {
		return fmt.Errorf("sync token is required")
	}
	return nil
}

// Handler serves the access gate's HTTP endpoints
type Handler struct {
	config Config
}

// NewHandler creates a new Handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &shopgate.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// AccessCheck handles the tool's access check. The customer identifier
// arrives as the customer_id query parameter, or logged_in_customer_id
// as used by earlier proxy routes.
func (h *Handler) AccessCheck(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		customerID = r.URL.Query().Get("logged_in_customer_id")
	}

	decision := h.config.Gate.EvaluateAccess(r.Context(), customerID)

	resp := AccessResponse{
		OK:            decision.Granted,
		Reason:        string(decision.Reason),
		Message:       decision.Message,
		Redirect:      decision.Redirect,
		RemainingUses: decision.RemainingUses,
		ToolURL:       decision.ToolURL,
	}
	if decision.Granted {
		resp.Plan = string(decision.Plan)
	}

	writeJSON(w, decision.HTTPStatus(), resp)
}

// AdminSync handles the protected manual sync trigger. The shared
// secret must match before any upstream call or store mutation happens.
func (h *Handler) AdminSync(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(SyncTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.SyncToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Reason: "unauthorized"})
		return
	}

	result, err := h.config.Syncer.Reconcile(r.Context())
	if err != nil {
		h.config.Logger.Error("admin sync failed", shopgate.Field{Key: "error", Value: err.Error()})
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		OK:                   true,
		SyncedCustomers:      result.SyncedCustomers,
		UpdatedSubscriptions: result.UpdatedSubscriptions,
	})
}

// Health handles the liveness probe
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Shop: h.config.ShopDomain})
}

// writeJSON writes a JSON response with proper headers
func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already committed; nothing left to do
		return
	}
}
