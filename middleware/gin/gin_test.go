package gin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/formdept/shopgate/pkg/shopgate"
	"github.com/formdept/shopgate/storage/memory"
)

const customerID = int64(7001234567890)

type stubSyncer struct{}

func (stubSyncer) Reconcile(ctx context.Context) (shopgate.SyncResult, error) {
	return shopgate.SyncResult{}, nil
}

func newTestGate(t *testing.T, plan shopgate.Plan, uses *int) *shopgate.Gate {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	if _, err := store.UpsertProfile(ctx, shopgate.Profile{CustomerID: customerID, Email: "ada@example.com"}); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if plan != shopgate.PlanNone {
		err := store.ApplyPlanUpdate(ctx, shopgate.PlanUpdate{
			CustomerID:    customerID,
			Plan:          plan,
			ProductID:     8424683241647,
			PurchasedAt:   time.Now().UTC(),
			Expiry:        time.Now().UTC().Add(24 * time.Hour),
			RemainingUses: uses,
		})
		if err != nil {
			t.Fatalf("ApplyPlanUpdate failed: %v", err)
		}
	}

	gate, err := shopgate.NewGate(shopgate.GateConfig{
		Store:               store,
		Syncer:              stubSyncer{},
		ToolURL:             "https://tool.example.com/app",
		SubscriptionPageURL: "/pages/subscribe",
	})
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return gate
}

func newTestRouter(config Config, handler gongin.HandlerFunc) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	r := gongin.New()
	r.Use(Middleware(config))
	r.GET("/tool", handler)
	return r
}

func TestMiddleware_GrantPassesThrough(t *testing.T) {
	gate := newTestGate(t, shopgate.PlanTier2, nil)

	var seen shopgate.Decision
	var found bool
	r := newTestRouter(Config{Gate: gate}, func(c *gongin.Context) {
		seen, found = DecisionFromContext(c)
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tool?customer_id=7001234567890", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the request to pass, got %d", rec.Code)
	}
	if !found {
		t.Fatal("the decision must be stored in the context")
	}
	if seen.Plan != shopgate.PlanTier2 || !seen.Granted {
		t.Errorf("unexpected decision in context: %+v", seen)
	}
}

func TestMiddleware_DenialWritesDecision(t *testing.T) {
	gate := newTestGate(t, shopgate.PlanNone, nil)

	nextCalled := false
	r := newTestRouter(Config{Gate: gate}, func(c *gongin.Context) {
		nextCalled = true
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tool?customer_id=7001234567890", nil)
	r.ServeHTTP(rec, req)

	if nextCalled {
		t.Fatal("a denied request must not reach the handler")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("unexpected status: %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["reason"] != string(shopgate.ReasonNoActiveSubscription) {
		t.Errorf("unexpected reason: %v", body["reason"])
	}
	if body["redirect"] != "/pages/subscribe" {
		t.Errorf("unexpected redirect: %v", body["redirect"])
	}
}

func TestMiddleware_OnDeniedHook(t *testing.T) {
	gate := newTestGate(t, shopgate.PlanNone, nil)

	var denied shopgate.Decision
	r := newTestRouter(Config{
		Gate: gate,
		OnDenied: func(c *gongin.Context, decision shopgate.Decision) {
			denied = decision
			c.Status(http.StatusTeapot)
		},
	}, func(c *gongin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tool?customer_id=7001234567890", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("the custom denial handler must control the response, got %d", rec.Code)
	}
	if denied.Reason != shopgate.ReasonNoActiveSubscription {
		t.Errorf("unexpected reason: %s", denied.Reason)
	}
}

func TestMiddleware_DefaultExtractorFallsBack(t *testing.T) {
	gate := newTestGate(t, shopgate.PlanPro, nil)

	r := newTestRouter(Config{Gate: gate}, func(c *gongin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tool?logged_in_customer_id=7001234567890", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("the proxy parameter must be accepted, got %d", rec.Code)
	}
}

func TestFromHeader(t *testing.T) {
	gate := newTestGate(t, shopgate.PlanPro, nil)

	r := newTestRouter(Config{
		Gate:          gate,
		GetCustomerID: FromHeader("X-Customer-ID"),
	}, func(c *gongin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tool", nil)
	req.Header.Set("X-Customer-ID", "7001234567890")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected the header identity to be used, got %d", rec.Code)
	}
}
