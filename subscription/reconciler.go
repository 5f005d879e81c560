package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"lipila-gateway/cache"
	"lipila-gateway/events"
	"lipila-gateway/poller"
)

// FallbackMessage is shown when the gateway gave no reason for a failure.
const FallbackMessage = "Payment was not completed"

// ErrReconcileInProgress means another instance holds the transaction. The
// outcome has not been applied yet and should be reconciled again shortly.
var ErrReconcileInProgress = errors.New("reconciliation in progress elsewhere")

// Marks is satisfied by the cache package's idempotency stores.
type Marks interface {
	CheckOrSetInProgress(ctx context.Context, transactionID string) (bool, error)
	SetCompleted(ctx context.Context, transactionID string) error
	Release(ctx context.Context, transactionID string) error
}

// Outcome is a terminal payment outcome for a vendor's plan.
type Outcome struct {
	TransactionID string
	VendorID      string
	PlanID        string
	State         poller.State
	Message       string
	Amount        decimal.Decimal // zero means the plan price
	Currency      string
	PaymentType   string
}

// Result tells the caller what reconciliation did.
type Result struct {
	TransactionID string
	State         poller.State
	Message       string
	Applied       bool // the subscription was extended by this call
	Duplicate     bool // the transaction had already been applied
	Subscription  *Subscription
}

type Reconciler struct {
	log    *slog.Logger
	store  Store
	marks  Marks
	events events.Publisher
	now    func() time.Time

	// in-process dedupe, marks and the store guard cover other instances
	sf singleflight.Group
}

func NewReconciler(log *slog.Logger, store Store, marks Marks, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Reconciler{log: log, store: store, marks: marks, events: pub, now: time.Now}
}

// Reconcile applies a successful outcome to the vendor's subscription.
// Other outcomes leave state untouched and return the message to show.
// Calling it again with the same transaction id never extends twice.
func (r *Reconciler) Reconcile(ctx context.Context, o Outcome) (Result, error) {
	if o.TransactionID == "" {
		return Result{}, errors.New("reconcile: transaction id is required")
	}
	if o.State != poller.Success {
		return r.notCompleted(ctx, o), nil
	}

	v, err, shared := r.sf.Do("reconcile_"+o.TransactionID, func() (interface{}, error) {
		return r.apply(ctx, o)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		r.log.Debug("joined in-flight reconciliation", "transaction_id", o.TransactionID)
	}
	return res, nil
}

func (r *Reconciler) notCompleted(ctx context.Context, o Outcome) Result {
	msg := o.Message
	if msg == "" {
		msg = FallbackMessage
	}
	r.log.Info("payment not completed, subscription unchanged",
		"transaction_id", o.TransactionID, "vendor_id", o.VendorID, "state", o.State, "message", msg)
	r.publish(ctx, events.Event{
		Type:          events.TypePaymentNotCompleted,
		TransactionID: o.TransactionID,
		VendorID:      o.VendorID,
		PlanID:        o.PlanID,
		State:         string(o.State),
		Message:       msg,
	})
	return Result{TransactionID: o.TransactionID, State: o.State, Message: msg}
}

func (r *Reconciler) apply(ctx context.Context, o Outcome) (Result, error) {
	log := r.log.With("transaction_id", o.TransactionID, "vendor_id", o.VendorID, "plan_id", o.PlanID)
	res := Result{TransactionID: o.TransactionID, State: o.State, Message: o.Message}

	owned := false
	if r.marks != nil {
		dup, err := r.marks.CheckOrSetInProgress(ctx, o.TransactionID)
		switch {
		case errors.Is(err, cache.ErrInProgress):
			log.Info("reconciliation already in progress elsewhere")
			return Result{}, fmt.Errorf("reconcile %s: %w", o.TransactionID, ErrReconcileInProgress)
		case err != nil:
			// the store guard still holds without the cache
			log.Warn("idempotency cache unavailable", "error", err)
		case dup:
			log.Info("transaction already reconciled")
			res.Duplicate = true
			return r.withCurrent(ctx, res, o.VendorID), nil
		default:
			owned = true
		}
	}
	release := func() {
		if owned {
			if err := r.marks.Release(ctx, o.TransactionID); err != nil {
				log.Warn("release idempotency mark failed", "error", err)
			}
		}
	}

	plan, err := r.store.GetPlan(ctx, o.PlanID)
	if err != nil {
		release()
		return Result{}, fmt.Errorf("reconcile %s: %w", o.TransactionID, err)
	}
	p := Payment{
		TransactionID: o.TransactionID,
		VendorID:      o.VendorID,
		PlanID:        plan.ID,
		Amount:        o.Amount,
		Currency:      o.Currency,
		PaymentType:   o.PaymentType,
	}
	if p.Amount.IsZero() {
		p.Amount = plan.Price
	}
	if p.Currency == "" {
		p.Currency = plan.Currency
	}

	sub, applied, err := r.store.ApplyPayment(ctx, p, plan, r.now())
	if err != nil {
		release()
		return Result{}, fmt.Errorf("reconcile %s: %w", o.TransactionID, err)
	}
	if r.marks != nil {
		if err := r.marks.SetCompleted(ctx, o.TransactionID); err != nil {
			log.Warn("mark transaction completed failed", "error", err)
		}
	}

	res.Subscription = &sub
	res.Applied = applied
	res.Duplicate = !applied
	if !applied {
		log.Info("payment already applied to subscription")
		return res, nil
	}
	if res.Message == "" {
		res.Message = "Subscription activated"
	}
	log.Info("subscription extended", "period_end", sub.CurrentPeriodEnd, "amount", p.Amount.String(), "currency", p.Currency)
	r.publish(ctx, events.Event{
		Type:          events.TypeSubscriptionActivated,
		TransactionID: o.TransactionID,
		VendorID:      o.VendorID,
		PlanID:        plan.ID,
		State:         string(o.State),
		Amount:        p.Amount.String(),
		Currency:      p.Currency,
		PeriodEnd:     &sub.CurrentPeriodEnd,
	})
	return res, nil
}

func (r *Reconciler) withCurrent(ctx context.Context, res Result, vendorID string) Result {
	if sub, err := r.store.GetSubscription(ctx, vendorID); err == nil {
		res.Subscription = &sub
	}
	return res
}

// publish is best effort; the subscription change is already durable.
func (r *Reconciler) publish(ctx context.Context, e events.Event) {
	if err := r.events.Publish(ctx, e); err != nil {
		r.log.Warn("payment event not published", "type", e.Type, "transaction_id", e.TransactionID, "error", err)
	}
}
