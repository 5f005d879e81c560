package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lipila-gateway/cache"
	"lipila-gateway/events"
	"lipila-gateway/poller"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestReconciler(store Store) (*Reconciler, *recordingPublisher) {
	pub := &recordingPublisher{}
	r := NewReconciler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, cache.NewMemoryStore(), pub)
	r.now = func() time.Time { return fixedNow }
	return r, pub
}

func success(txID string) Outcome {
	return Outcome{TransactionID: txID, VendorID: "vendor-1", PlanID: "basic-monthly", State: poller.Success, PaymentType: "mobile-money"}
}

func TestNextBillingDate(t *testing.T) {
	from := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		cycle BillingCycle
		want  time.Time
	}{
		{Weekly, time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)},
		{Monthly, from.AddDate(0, 1, 0)},
		{Quarterly, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Yearly, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextBillingDate(from, tt.cycle)
		if err != nil {
			t.Fatalf("%s: %v", tt.cycle, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.cycle, got, tt.want)
		}
	}
	if _, err := NextBillingDate(from, "daily"); !errors.Is(err, ErrUnknownBillingCycle) {
		t.Fatalf("expected unknown cycle error, got %v", err)
	}
}

func TestReconcileTwiceExtendsOnce(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	r, pub := newTestReconciler(store)
	ctx := context.Background()

	first, err := r.Reconcile(ctx, success("TX-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Applied || first.Subscription == nil {
		t.Fatalf("expected first call to apply, got %+v", first)
	}
	second, err := r.Reconcile(ctx, success("TX-1"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Applied || !second.Duplicate {
		t.Fatalf("expected duplicate on second call, got %+v", second)
	}

	sub, err := store.GetSubscription(ctx, "vendor-1")
	if err != nil {
		t.Fatal(err)
	}
	want := fixedNow.AddDate(0, 1, 0)
	if !sub.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, sub.CurrentPeriodEnd)
	}
	if sub.Status != StatusActive || sub.LastTransactionID != "TX-1" || !sub.Amount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if len(store.Payments("vendor-1")) != 1 {
		t.Fatalf("expected one payment recorded, got %d", len(store.Payments("vendor-1")))
	}
	if pub.count(events.TypeSubscriptionActivated) != 1 {
		t.Fatalf("expected one activation event, got %d", pub.count(events.TypeSubscriptionActivated))
	}
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	r, _ := newTestReconciler(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Reconcile(context.Background(), success("TX-C")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	sub, err := store.GetSubscription(context.Background(), "vendor-1")
	if err != nil {
		t.Fatal(err)
	}
	if !sub.CurrentPeriodEnd.Equal(fixedNow.AddDate(0, 1, 0)) {
		t.Fatalf("subscription extended more than once: %v", sub.CurrentPeriodEnd)
	}
}

func TestReconcileStoreGuardWithoutCache(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	r := NewReconciler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, nil, nil)
	r.now = func() time.Time { return fixedNow }

	for i := 0; i < 2; i++ {
		if _, err := r.Reconcile(context.Background(), success("TX-S")); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(store.Payments("vendor-1")); n != 1 {
		t.Fatalf("expected one payment, got %d", n)
	}
}

func TestReconcileExtendsFromCurrentPeriodEnd(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	r, _ := newTestReconciler(store)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, success("TX-A")); err != nil {
		t.Fatal(err)
	}
	res, err := r.Reconcile(ctx, success("TX-B"))
	if err != nil {
		t.Fatal(err)
	}
	want := fixedNow.AddDate(0, 2, 0)
	if !res.Subscription.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected renewal to stack to %v, got %v", want, res.Subscription.CurrentPeriodEnd)
	}
}

func TestReconcileFailureLeavesSubscription(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	r, pub := newTestReconciler(store)
	ctx := context.Background()

	for _, state := range []poller.State{poller.Failed, poller.Canceled, poller.Timeout} {
		o := success("TX-F-" + string(state))
		o.State = state
		res, err := r.Reconcile(ctx, o)
		if err != nil {
			t.Fatal(err)
		}
		if res.Applied || res.Message != FallbackMessage {
			t.Fatalf("%s: unexpected result %+v", state, res)
		}
	}
	o := success("TX-F-msg")
	o.State = poller.Failed
	o.Message = "insufficient balance"
	if res, _ := r.Reconcile(ctx, o); res.Message != "insufficient balance" {
		t.Fatalf("expected gateway message, got %q", res.Message)
	}

	if _, err := store.GetSubscription(ctx, "vendor-1"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected no subscription, got %v", err)
	}
	if pub.count(events.TypePaymentNotCompleted) != 4 {
		t.Fatalf("expected 4 not-completed events, got %d", pub.count(events.TypePaymentNotCompleted))
	}
}

func TestReconcileUnknownPlanReleasesMark(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	marks := cache.NewMemoryStore()
	r := NewReconciler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, marks, nil)

	o := success("TX-P")
	o.PlanID = "missing"
	if _, err := r.Reconcile(context.Background(), o); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected plan not found, got %v", err)
	}
	if dup, err := marks.CheckOrSetInProgress(context.Background(), "TX-P"); dup || err != nil {
		t.Fatalf("mark was not released: dup=%v err=%v", dup, err)
	}
}

func TestReconcileHeldElsewhereIsRetryable(t *testing.T) {
	store := NewMemoryStore(DefaultPlans()...)
	marks := cache.NewMemoryStore()
	r := NewReconciler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, marks, nil)
	r.now = func() time.Time { return fixedNow }

	// another instance owns the transaction
	if dup, err := marks.CheckOrSetInProgress(context.Background(), "TX-H"); dup || err != nil {
		t.Fatalf("setup: %v %v", dup, err)
	}
	if _, err := r.Reconcile(context.Background(), success("TX-H")); !errors.Is(err, ErrReconcileInProgress) {
		t.Fatalf("expected ErrReconcileInProgress, got %v", err)
	}
	if _, err := store.GetSubscription(context.Background(), "vendor-1"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("subscription changed while held elsewhere: %v", err)
	}

	// the holder gives up; the next attempt applies the payment
	if err := marks.Release(context.Background(), "TX-H"); err != nil {
		t.Fatal(err)
	}
	res, err := r.Reconcile(context.Background(), success("TX-H"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.Subscription == nil || res.Subscription.Status != StatusActive {
		t.Fatalf("expected the payment to be applied, got %+v", res)
	}
}
