package shopgate_test

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/formdept/shopgate/pkg/shopgate"
	"github.com/formdept/shopgate/storage/memory"
)

const (
	testToolURL          = "https://tool.example.com/app"
	testSubscriptionPage = "/pages/subscribe"
)

// stubSyncer satisfies shopgate.Syncer without touching any upstream
type stubSyncer struct {
	err   error
	calls atomic.Int64
}

func (s *stubSyncer) Reconcile(ctx context.Context) (shopgate.SyncResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return shopgate.SyncResult{}, s.err
	}
	return shopgate.SyncResult{}, nil
}

// stubMetrics captures storage operation reports; everything else is a no-op
type stubMetrics struct {
	shopgate.NoopMetrics
	mu     sync.Mutex
	ops    []string
	opErrs int
}

func (m *stubMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, operation)
	if err != nil {
		m.opErrs++
	}
}

func newTestGate(t *testing.T, store shopgate.Store, syncer shopgate.Syncer) *shopgate.Gate {
	t.Helper()
	gate, err := shopgate.NewGate(shopgate.GateConfig{
		Store:               store,
		Syncer:              syncer,
		ToolURL:             testToolURL,
		SubscriptionPageURL: testSubscriptionPage,
		Now:                 func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return gate
}

// seedRecord plants an entitlement record directly in the store
func seedRecord(t *testing.T, store shopgate.Store, customerID int64, plan shopgate.Plan, expiry time.Time, uses *int) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertProfile(ctx, shopgate.Profile{CustomerID: customerID, Email: "seed@example.com"}); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if plan == shopgate.PlanNone {
		return
	}
	productID := tier1ProductID
	switch plan {
	case shopgate.PlanTier2:
		productID = tier2ProductID
	case shopgate.PlanPro:
		productID = proProductID
	}
	err := store.ApplyPlanUpdate(ctx, shopgate.PlanUpdate{
		CustomerID:    customerID,
		Plan:          plan,
		ProductID:     productID,
		PurchasedAt:   expiry.Add(-shopgate.DefaultAccessWindow),
		Expiry:        expiry,
		RemainingUses: uses,
	})
	if err != nil {
		t.Fatalf("ApplyPlanUpdate failed: %v", err)
	}
}

func intPtr(n int) *int { return &n }

func TestEvaluateAccess_MissingCustomerID(t *testing.T) {
	gate := newTestGate(t, memory.New(), &stubSyncer{})

	decision := gate.EvaluateAccess(context.Background(), "")
	if decision.Granted {
		t.Fatal("expected denial")
	}
	if decision.Reason != shopgate.ReasonMissingCustomerID {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
	if decision.Redirect != shopgate.DefaultLoginRedirect {
		t.Errorf("unexpected redirect: %s", decision.Redirect)
	}
	if decision.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("unexpected status: %d", decision.HTTPStatus())
	}
}

func TestEvaluateAccess_InvalidCustomerID(t *testing.T) {
	syncer := &stubSyncer{}
	gate := newTestGate(t, memory.New(), syncer)

	for _, raw := range []string{"12345", "70012345678901", "70012345678a0", "7001-34567890"} {
		decision := gate.EvaluateAccess(context.Background(), raw)
		if decision.Granted {
			t.Fatalf("%q: expected denial", raw)
		}
		if decision.Reason != shopgate.ReasonInvalidCustomerID {
			t.Errorf("%q: unexpected reason: %s", raw, decision.Reason)
		}
		if decision.HTTPStatus() != http.StatusBadRequest {
			t.Errorf("%q: unexpected status: %d", raw, decision.HTTPStatus())
		}
	}
	if got := syncer.calls.Load(); got != 0 {
		t.Errorf("malformed identifiers must be rejected before any sync, got %d calls", got)
	}
}

func TestEvaluateAccess_SyncFailureFailsClosed(t *testing.T) {
	store := memory.New()
	// Even a customer with a healthy active record is denied when the
	// refresh fails.
	seedRecord(t, store, customerA, shopgate.PlanPro, fixedNow.Add(24*time.Hour), nil)
	gate := newTestGate(t, store, &stubSyncer{err: errors.New("shopify 502")})

	decision := gate.EvaluateAccess(context.Background(), "7001234567890")
	if decision.Granted {
		t.Fatal("a failed sync must deny access")
	}
	if decision.Reason != shopgate.ReasonSyncFailed {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
	if decision.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("unexpected status: %d", decision.HTTPStatus())
	}
}

func TestEvaluateAccess_UnknownCustomer(t *testing.T) {
	gate := newTestGate(t, memory.New(), &stubSyncer{})

	decision := gate.EvaluateAccess(context.Background(), "7001234567890")
	if decision.Granted {
		t.Fatal("expected denial")
	}
	if decision.Reason != shopgate.ReasonNotFound {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
	if decision.Redirect != shopgate.DefaultLoginRedirect {
		t.Errorf("unexpected redirect: %s", decision.Redirect)
	}
	if decision.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", decision.HTTPStatus())
	}
}

func TestEvaluateAccess_NoActiveSubscription(t *testing.T) {
	cases := map[string]func(t *testing.T, store shopgate.Store){
		"plan none": func(t *testing.T, store shopgate.Store) {
			seedRecord(t, store, customerA, shopgate.PlanNone, time.Time{}, nil)
		},
		"expired": func(t *testing.T, store shopgate.Store) {
			seedRecord(t, store, customerA, shopgate.PlanPro, fixedNow.Add(-time.Minute), nil)
		},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			store := memory.New()
			seed(t, store)
			gate := newTestGate(t, store, &stubSyncer{})

			decision := gate.EvaluateAccess(context.Background(), "7001234567890")
			if decision.Granted {
				t.Fatal("expected denial")
			}
			if decision.Reason != shopgate.ReasonNoActiveSubscription {
				t.Errorf("unexpected reason: %s", decision.Reason)
			}
			if decision.Redirect != testSubscriptionPage {
				t.Errorf("unexpected redirect: %s", decision.Redirect)
			}
			if decision.HTTPStatus() != http.StatusForbidden {
				t.Errorf("unexpected status: %d", decision.HTTPStatus())
			}
		})
	}
}

func TestEvaluateAccess_UnlimitedPlansGrant(t *testing.T) {
	for _, plan := range []shopgate.Plan{shopgate.PlanTier2, shopgate.PlanPro} {
		t.Run(string(plan), func(t *testing.T) {
			store := memory.New()
			seedRecord(t, store, customerA, plan, fixedNow.Add(24*time.Hour), nil)
			gate := newTestGate(t, store, &stubSyncer{})

			decision := gate.EvaluateAccess(context.Background(), "7001234567890")
			if !decision.Granted {
				t.Fatalf("expected grant, got %s", decision.Reason)
			}
			if decision.Plan != plan {
				t.Errorf("unexpected plan: %s", decision.Plan)
			}
			if decision.RemainingUses != nil {
				t.Errorf("unlimited plans expose no counter, got %d", *decision.RemainingUses)
			}
			if decision.ToolURL != testToolURL {
				t.Errorf("unexpected tool URL: %s", decision.ToolURL)
			}
			if decision.HTTPStatus() != http.StatusOK {
				t.Errorf("unexpected status: %d", decision.HTTPStatus())
			}
		})
	}
}

func TestEvaluateAccess_Tier1ConsumesQuota(t *testing.T) {
	store := memory.New()
	seedRecord(t, store, customerA, shopgate.PlanTier1, fixedNow.Add(24*time.Hour), intPtr(2))
	gate := newTestGate(t, store, &stubSyncer{})
	ctx := context.Background()

	decision := gate.EvaluateAccess(ctx, "7001234567890")
	if !decision.Granted {
		t.Fatalf("expected grant, got %s", decision.Reason)
	}
	if decision.RemainingUses == nil || *decision.RemainingUses != 1 {
		t.Errorf("expected 1 use left, got %v", decision.RemainingUses)
	}

	decision = gate.EvaluateAccess(ctx, "7001234567890")
	if !decision.Granted {
		t.Fatalf("expected grant, got %s", decision.Reason)
	}
	if decision.RemainingUses == nil || *decision.RemainingUses != 0 {
		t.Errorf("expected 0 uses left, got %v", decision.RemainingUses)
	}

	decision = gate.EvaluateAccess(ctx, "7001234567890")
	if decision.Granted {
		t.Fatal("an exhausted quota must deny access")
	}
	if decision.Reason != shopgate.ReasonTier1Exhausted {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
	if decision.Redirect != testSubscriptionPage {
		t.Errorf("unexpected redirect: %s", decision.Redirect)
	}
	if decision.HTTPStatus() != http.StatusForbidden {
		t.Errorf("unexpected status: %d", decision.HTTPStatus())
	}
}

func TestEvaluateAccess_Tier1MissingQuotaIsDataError(t *testing.T) {
	store := memory.New()
	seedRecord(t, store, customerA, shopgate.PlanTier1, fixedNow.Add(24*time.Hour), nil)
	gate := newTestGate(t, store, &stubSyncer{})

	decision := gate.EvaluateAccess(context.Background(), "7001234567890")
	if decision.Granted {
		t.Fatal("expected denial")
	}
	if decision.Reason != shopgate.ReasonDataError {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
	if decision.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("unexpected status: %d", decision.HTTPStatus())
	}
}

func TestEvaluateAccess_ConcurrentTier1Checks(t *testing.T) {
	const (
		quota   = 5
		callers = 20
	)

	store := memory.New()
	seedRecord(t, store, customerA, shopgate.PlanTier1, fixedNow.Add(24*time.Hour), intPtr(quota))
	syncer := &stubSyncer{}
	gate := newTestGate(t, store, syncer)

	var wg sync.WaitGroup
	decisions := make([]shopgate.Decision, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = gate.EvaluateAccess(context.Background(), "7001234567890")
		}(i)
	}
	wg.Wait()

	granted := 0
	exhausted := 0
	for _, d := range decisions {
		switch {
		case d.Granted:
			granted++
		case d.Reason == shopgate.ReasonTier1Exhausted:
			exhausted++
		default:
			t.Errorf("unexpected denial reason: %s", d.Reason)
		}
	}
	if granted != quota {
		t.Errorf("expected exactly %d grants, got %d", quota, granted)
	}
	if exhausted != callers-quota {
		t.Errorf("expected %d exhausted denials, got %d", callers-quota, exhausted)
	}
	if got := syncer.calls.Load(); got != callers {
		t.Errorf("expected %d sync calls, got %d", callers, got)
	}

	rec, err := store.Get(context.Background(), customerA)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.RemainingUses == nil || *rec.RemainingUses != 0 {
		t.Errorf("expected the counter to land on 0, got %v", rec.RemainingUses)
	}
}

func TestEvaluateAccess_SyncsOnEveryCheck(t *testing.T) {
	store := memory.New()
	seedRecord(t, store, customerA, shopgate.PlanPro, fixedNow.Add(24*time.Hour), nil)
	syncer := &stubSyncer{}
	gate := newTestGate(t, store, syncer)

	for i := 0; i < 3; i++ {
		gate.EvaluateAccess(context.Background(), "7001234567890")
	}
	if got := syncer.calls.Load(); got != 3 {
		t.Errorf("expected 3 sync calls, got %d", got)
	}
}

func TestEvaluateAccess_RecordsStorageOperations(t *testing.T) {
	store := memory.New()
	seedRecord(t, store, customerA, shopgate.PlanTier1, fixedNow.Add(24*time.Hour), intPtr(1))
	metrics := &stubMetrics{}
	gate, err := shopgate.NewGate(shopgate.GateConfig{
		Store:               store,
		Syncer:              &stubSyncer{},
		ToolURL:             testToolURL,
		SubscriptionPageURL: testSubscriptionPage,
		Metrics:             metrics,
		Now:                 func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	ctx := context.Background()

	if decision := gate.EvaluateAccess(ctx, "7001234567890"); !decision.Granted {
		t.Fatalf("expected grant, got %s", decision.Reason)
	}
	// A zero counter denies before any decrement is issued.
	gate.EvaluateAccess(ctx, "7001234567890")
	// A missing record is a lookup outcome, not a storage error.
	gate.EvaluateAccess(ctx, "7009876543210")

	want := []string{"get", "decrement_uses", "get", "get"}
	if !reflect.DeepEqual(metrics.ops, want) {
		t.Errorf("unexpected operations: got %v, want %v", metrics.ops, want)
	}
	if metrics.opErrs != 0 {
		t.Errorf("expected no storage errors, got %d", metrics.opErrs)
	}
}

func TestNewGate_Validation(t *testing.T) {
	store := memory.New()
	syncer := &stubSyncer{}

	cases := map[string]shopgate.GateConfig{
		"missing store":             {Syncer: syncer, ToolURL: "t", SubscriptionPageURL: "s"},
		"missing syncer":            {Store: store, ToolURL: "t", SubscriptionPageURL: "s"},
		"missing tool URL":          {Store: store, Syncer: syncer, SubscriptionPageURL: "s"},
		"missing subscription page": {Store: store, Syncer: syncer, ToolURL: "t"},
	}
	for name, config := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := shopgate.NewGate(config); err == nil {
				t.Error("expected a config error")
			}
		})
	}
}
