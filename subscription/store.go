package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists plans, subscriptions and applied payments.
type Store interface {
	GetPlan(ctx context.Context, planID string) (Plan, error)
	GetSubscription(ctx context.Context, vendorID string) (Subscription, error)
	// ApplyPayment records p and extends the vendor's subscription by one
	// billing cycle of plan. If p.TransactionID was already recorded nothing
	// changes and applied is false.
	ApplyPayment(ctx context.Context, p Payment, plan Plan, now time.Time) (sub Subscription, applied bool, err error)
}

// DefaultPlans are the tiers offered to vendors.
func DefaultPlans() []Plan {
	return []Plan{
		{ID: "basic-monthly", Name: "Basic", Price: decimal.NewFromInt(150), Currency: "ZMW", Cycle: Monthly},
		{ID: "standard-quarterly", Name: "Standard", Price: decimal.NewFromInt(400), Currency: "ZMW", Cycle: Quarterly},
		{ID: "premium-yearly", Name: "Premium", Price: decimal.NewFromInt(1500), Currency: "ZMW", Cycle: Yearly},
		{ID: "trial-weekly", Name: "Trial", Price: decimal.NewFromInt(40), Currency: "ZMW", Cycle: Weekly},
	}
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	plans    map[string]Plan
	subs     map[string]Subscription // by vendor
	payments map[string]Payment      // by transaction id
}

func NewMemoryStore(plans ...Plan) *MemoryStore {
	s := &MemoryStore{
		plans:    make(map[string]Plan),
		subs:     make(map[string]Subscription),
		payments: make(map[string]Payment),
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *MemoryStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, vendorID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[vendorID]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *MemoryStore) ApplyPayment(ctx context.Context, p Payment, plan Plan, now time.Time) (Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.payments[p.TransactionID]; seen {
		return s.subs[p.VendorID], false, nil
	}
	sub, ok := s.subs[p.VendorID]
	if !ok {
		sub = Subscription{ID: uuid.NewString(), Status: StatusInactive}
	}
	sub, err := extend(sub, plan, p, now)
	if err != nil {
		return Subscription{}, false, err
	}
	p.SubscriptionID = sub.ID
	p.AppliedAt = now
	s.payments[p.TransactionID] = p
	s.subs[p.VendorID] = sub
	return sub, true, nil
}

// Payments returns the applied payments for vendorID.
func (s *MemoryStore) Payments(vendorID string) []Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Payment
	for _, p := range s.payments {
		if p.VendorID == vendorID {
			out = append(out, p)
		}
	}
	return out
}
