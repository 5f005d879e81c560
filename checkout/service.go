// Package checkout drives a subscription payment from request to a
// reconciled outcome.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lipila-gateway/poller"
	"lipila-gateway/providers"
	"lipila-gateway/subscription"
)

const (
	reconcileTimeout = 30 * time.Second
	// reconcileAttempts bounds retries while another instance holds the transaction
	reconcileAttempts   = 5
	reconcileRetryDelay = 2 * time.Second

	// RecordRetention is how long a settled or abandoned payment stays readable.
	RecordRetention = time.Hour
)

// Payments is satisfied by *providers.Orchestrator.
type Payments interface {
	Pay(ctx context.Context, t providers.PaymentType, req providers.PaymentRequest) (*providers.PaymentResponse, error)
	CancelTransaction(ctx context.Context, transactionID string) (*providers.CancelResponse, error)
}

// Plans is satisfied by every subscription.Store.
type Plans interface {
	GetPlan(ctx context.Context, planID string) (subscription.Plan, error)
}

// Sessions is satisfied by *poller.Manager.
type Sessions interface {
	Start(key, transactionID string, onOutcome func(poller.Outcome))
	StopTransaction(transactionID string) bool
	Active(transactionID string) bool
}

// Reconciler is satisfied by *subscription.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, o subscription.Outcome) (subscription.Result, error)
}

// Customer is the payer as entered at checkout.
type Customer struct {
	FullName      string `json:"fullName"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phoneNumber"`
	AccountNumber string `json:"accountNumber,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
	Address       string `json:"address,omitempty"`
	Zip           string `json:"zip,omitempty"`
}

// Request starts a subscription payment.
type Request struct {
	VendorID    string                `json:"vendorId"`
	PlanID      string                `json:"planId"`
	PaymentType providers.PaymentType `json:"paymentType"`
	Customer    Customer              `json:"customer"`
}

// Payment is the local view of one payment attempt.
type Payment struct {
	TransactionID string                     `json:"transactionId"`
	ExternalID    string                     `json:"externalId"`
	VendorID      string                     `json:"vendorId"`
	PlanID        string                     `json:"planId"`
	PaymentType   providers.PaymentType      `json:"paymentType"`
	Amount        decimal.Decimal            `json:"amount"`
	Currency      string                     `json:"currency"`
	State         poller.State               `json:"state"`
	Message       string                     `json:"message"`
	Category      Category                   `json:"category,omitempty"`
	Guidance      string                     `json:"guidance,omitempty"`
	RedirectURL   string                     `json:"redirectUrl,omitempty"`
	Mock          bool                       `json:"mock,omitempty"`
	Polling       bool                       `json:"polling"`
	Subscription  *subscription.Subscription `json:"subscription,omitempty"`
	StartedAt     time.Time                  `json:"startedAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

// claim marks who is moving a record to its final state.
type claim int

const (
	unclaimed claim = iota
	claimSettle
	claimCancel
)

type record struct {
	Payment
	claim claim
	// deferred holds a poll outcome that arrived while a remote cancel was in flight
	deferred *poller.Outcome
}

type Service struct {
	log         *slog.Logger
	payments    Payments
	plans       Plans
	sessions    Sessions
	reconciler  Reconciler
	callbackURL string
	now         func() time.Time
	retryDelay  time.Duration

	mu       sync.Mutex
	records  map[string]*record
	attempts map[string]string // attempt key -> transaction id being polled
}

// NewService wires the checkout flow. callbackURL is the card redirect used
// when the customer did not supply one.
func NewService(log *slog.Logger, payments Payments, plans Plans, sessions Sessions, reconciler Reconciler, callbackURL string) *Service {
	return &Service{
		log:         log,
		payments:    payments,
		plans:       plans,
		sessions:    sessions,
		reconciler:  reconciler,
		callbackURL: callbackURL,
		now:         time.Now,
		retryDelay:  reconcileRetryDelay,
		records:     make(map[string]*record),
		attempts:    make(map[string]string),
	}
}

// StartPayment charges the plan's price. A payment that settles straight
// away is reconciled before returning; a pending one is polled in the
// background and its progress read through Status.
func (s *Service) StartPayment(ctx context.Context, req Request) (Payment, error) {
	if strings.TrimSpace(req.VendorID) == "" {
		return Payment{}, &providers.ValidationError{Field: "vendorId", Message: "vendor id is required"}
	}
	if strings.TrimSpace(req.PlanID) == "" {
		return Payment{}, &providers.ValidationError{Field: "planId", Message: "plan id is required"}
	}
	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	if errors.Is(err, subscription.ErrPlanNotFound) {
		return Payment{}, &providers.ValidationError{Field: "planId", Message: fmt.Sprintf("unknown plan %q", req.PlanID)}
	}
	if err != nil {
		return Payment{}, fmt.Errorf("load plan %s: %w", req.PlanID, err)
	}

	resp, err := s.payments.Pay(ctx, req.PaymentType, s.paymentRequest(req, plan))
	if err != nil {
		s.log.Warn("payment not started", "vendor_id", req.VendorID, "plan_id", plan.ID,
			"payment_type", req.PaymentType, "category", Classify(err), "error", err)
		return Payment{}, err
	}

	now := s.now()
	rec := &record{Payment: Payment{
		TransactionID: resp.Key(),
		ExternalID:    resp.ExternalID,
		VendorID:      req.VendorID,
		PlanID:        plan.ID,
		PaymentType:   req.PaymentType,
		Amount:        resp.Amount,
		Currency:      resp.Currency,
		State:         poller.Pending,
		Message:       resp.Message,
		RedirectURL:   resp.RedirectURL,
		Mock:          resp.Mock,
		StartedAt:     now,
		UpdatedAt:     now,
	}}
	s.mu.Lock()
	s.prune(now)
	s.records[rec.TransactionID] = rec
	s.mu.Unlock()

	if state := poller.NormalizeStatus(string(resp.Status)); state.Terminal() {
		s.finish(ctx, rec, poller.Outcome{TransactionID: rec.TransactionID, State: state, Message: resp.Message, At: now})
		return s.snapshot(rec), nil
	}

	s.watch(rec)
	s.log.Info("payment pending, polling for status", "transaction_id", rec.TransactionID, "vendor_id", req.VendorID, "plan_id", plan.ID)
	return s.snapshot(rec), nil
}

// watch polls rec in the background. A newer attempt for the same vendor and
// plan replaces the older one, whose record is dropped.
func (s *Service) watch(rec *record) {
	key := attemptKey(rec.VendorID, rec.PlanID)
	s.mu.Lock()
	if prev, ok := s.attempts[key]; ok && prev != rec.TransactionID {
		if old, ok := s.records[prev]; ok && !old.State.Terminal() && old.claim == unclaimed {
			delete(s.records, prev)
			s.log.Info("payment attempt superseded", "transaction_id", prev, "replaced_by", rec.TransactionID)
		}
	}
	s.attempts[key] = rec.TransactionID
	s.mu.Unlock()

	s.sessions.Start(key, rec.TransactionID, func(o poller.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		s.finish(ctx, rec, o)
	})
}

// Status returns the latest known state of a payment.
func (s *Service) Status(transactionID string) (Payment, error) {
	s.mu.Lock()
	rec, ok := s.records[transactionID]
	s.mu.Unlock()
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return s.snapshot(rec), nil
}

// StopPolling stops waiting for a payment without touching it remotely. No
// outcome is reported for it afterwards.
func (s *Service) StopPolling(transactionID string) (Payment, error) {
	s.mu.Lock()
	rec, err := s.pendingLocked(transactionID)
	s.mu.Unlock()
	if err != nil {
		return Payment{}, err
	}
	if s.sessions.StopTransaction(transactionID) {
		s.log.Info("polling stopped by caller", "transaction_id", transactionID)
	}
	return s.snapshot(rec), nil
}

// Cancel asks the gateway to cancel the transaction. Polling carries on
// until the gateway agrees, so a refused cancel still ends in a reconciled
// outcome.
func (s *Service) Cancel(ctx context.Context, transactionID string) (Payment, error) {
	s.mu.Lock()
	rec, err := s.pendingLocked(transactionID)
	if err == nil {
		rec.claim = claimCancel
	}
	s.mu.Unlock()
	if err != nil {
		return Payment{}, err
	}

	resp, err := s.payments.CancelTransaction(ctx, transactionID)
	if err == nil && !resp.Success {
		s.log.Warn("gateway refused cancel", "transaction_id", transactionID, "message", resp.Message)
		err = fmt.Errorf("cancel %s: %s", transactionID, resp.Message)
	}
	if err != nil {
		s.log.Warn("remote cancel failed, still polling", "transaction_id", transactionID, "error", err)
		s.mu.Lock()
		rec.claim = unclaimed
		deferred := rec.deferred
		rec.deferred = nil
		s.mu.Unlock()
		if deferred != nil {
			s.finish(ctx, rec, *deferred)
		}
		return s.snapshot(rec), err
	}

	s.sessions.StopTransaction(transactionID)
	s.mu.Lock()
	deferred := rec.deferred
	rec.deferred = nil
	rec.claim = claimSettle
	s.mu.Unlock()

	o := poller.Outcome{TransactionID: transactionID, State: poller.Canceled, Message: resp.Message, At: s.now()}
	if deferred != nil && deferred.State == poller.Success {
		// money already moved; the cancel came too late to matter
		s.log.Warn("payment settled before cancel took effect", "transaction_id", transactionID)
		o = *deferred
	}
	s.settle(ctx, rec, o)
	return s.snapshot(rec), nil
}

// pendingLocked returns a record nobody is finishing yet. Callers hold s.mu.
func (s *Service) pendingLocked(transactionID string) (*record, error) {
	rec, ok := s.records[transactionID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if rec.State.Terminal() || rec.claim != unclaimed {
		return rec, ErrPaymentFinal
	}
	return rec, nil
}

// finish claims rec for the outcome and reconciles it. A record that is final
// already, or being settled, keeps its state.
func (s *Service) finish(ctx context.Context, rec *record, o poller.Outcome) {
	s.mu.Lock()
	switch {
	case rec.State.Terminal() || rec.claim == claimSettle:
		s.mu.Unlock()
		s.log.Warn("outcome ignored, payment already final", "transaction_id", o.TransactionID, "state", o.State)
		return
	case rec.claim == claimCancel:
		rec.deferred = &o
		s.mu.Unlock()
		return
	}
	rec.claim = claimSettle
	s.mu.Unlock()
	s.settle(ctx, rec, o)
}

// settle reconciles o and records it. The caller holds the settle claim.
func (s *Service) settle(ctx context.Context, rec *record, o poller.Outcome) {
	outcome := subscription.Outcome{
		TransactionID: o.TransactionID,
		VendorID:      rec.VendorID,
		PlanID:        rec.PlanID,
		State:         o.State,
		Message:       o.Message,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		PaymentType:   string(rec.PaymentType),
	}
	var (
		res subscription.Result
		err error
	)
retry:
	for attempt := 1; ; attempt++ {
		res, err = s.reconciler.Reconcile(ctx, outcome)
		if !errors.Is(err, subscription.ErrReconcileInProgress) || attempt == reconcileAttempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.State = o.State
	rec.Message = o.Message
	rec.Category = CategoryForState(o.State)
	rec.UpdatedAt = s.now()
	rec.claim = unclaimed
	if key := attemptKey(rec.VendorID, rec.PlanID); s.attempts[key] == rec.TransactionID {
		delete(s.attempts, key)
	}
	if err != nil {
		s.log.Error("reconcile failed", "transaction_id", o.TransactionID, "state", o.State, "error", err)
		return
	}
	if res.Message != "" {
		rec.Message = res.Message
	}
	rec.Subscription = res.Subscription
}

// prune drops settled records past RecordRetention, and pending ones nobody
// polls any more. Callers hold s.mu.
func (s *Service) prune(now time.Time) {
	cutoff := now.Add(-RecordRetention)
	for id, rec := range s.records {
		if rec.claim != unclaimed || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if !rec.State.Terminal() && s.sessions.Active(id) {
			continue
		}
		delete(s.records, id)
		if key := attemptKey(rec.VendorID, rec.PlanID); s.attempts[key] == id {
			delete(s.attempts, key)
		}
	}
}

func (s *Service) snapshot(rec *record) Payment {
	s.mu.Lock()
	out := rec.Payment
	s.mu.Unlock()
	if !out.State.Terminal() {
		out.Polling = s.sessions.Active(out.TransactionID)
	}
	out.Guidance = Guidance(out.Category)
	return out
}

func (s *Service) paymentRequest(req Request, plan subscription.Plan) providers.PaymentRequest {
	c := req.Customer
	out := providers.PaymentRequest{
		Currency:          plan.Currency,
		Amount:            plan.Price,
		AccountNumber:     c.AccountNumber,
		PhoneNumber:       c.PhoneNumber,
		Email:             c.Email,
		FullName:          c.FullName,
		Narration:         fmt.Sprintf("%s subscription", plan.Name),
		ClientRedirectURL: c.RedirectURL,
	}
	if req.PaymentType == providers.Card && out.ClientRedirectURL == "" {
		out.ClientRedirectURL = s.callbackURL
	}
	if c.City != "" || c.Country != "" || c.Address != "" || c.Zip != "" {
		first, last, _ := strings.Cut(strings.TrimSpace(c.FullName), " ")
		out.Customer = &providers.Customer{
			FirstName: first,
			LastName:  strings.TrimSpace(last),
			City:      c.City,
			Country:   c.Country,
			Address:   c.Address,
			Zip:       c.Zip,
		}
	}
	return out
}

// attemptKey identifies a logical payment attempt: paying again for the
// same plan replaces the previous wait.
func attemptKey(vendorID, planID string) string {
	return vendorID + "/" + planID
}
