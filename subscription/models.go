// Package subscription turns terminal payment outcomes into durable
// subscription state.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUnknownBillingCycle  = errors.New("unknown billing cycle")
)

type BillingCycle string

const (
	Weekly    BillingCycle = "weekly"
	Monthly   BillingCycle = "monthly"
	Quarterly BillingCycle = "quarterly"
	Yearly    BillingCycle = "yearly"
)

// Plan is a priced subscription tier.
type Plan struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Currency string
	Cycle    BillingCycle
}

type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
)

// Subscription is a vendor's current entitlement. CurrentPeriodEnd is the
// next billing boundary.
type Subscription struct {
	ID                 string
	VendorID           string
	PlanID             string
	Status             Status
	Amount             decimal.Decimal
	Currency           string
	LastTransactionID  string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	UpdatedAt          time.Time
}

// Payment is a settled payment applied to a subscription. TransactionID is
// unique: a payment is applied at most once.
type Payment struct {
	TransactionID  string
	SubscriptionID string
	VendorID       string
	PlanID         string
	Amount         decimal.Decimal
	Currency       string
	PaymentType    string
	AppliedAt      time.Time
}

// NextBillingDate returns the boundary one billing cycle after from.
func NextBillingDate(from time.Time, cycle BillingCycle) (time.Time, error) {
	switch cycle {
	case Weekly:
		return from.AddDate(0, 0, 7), nil
	case Monthly:
		return from.AddDate(0, 1, 0), nil
	case Quarterly:
		return from.AddDate(0, 3, 0), nil
	case Yearly:
		return from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownBillingCycle, cycle)
	}
}

// extend applies p to sub. A period still running is extended from its end,
// a lapsed or new one starts at now.
func extend(sub Subscription, plan Plan, p Payment, now time.Time) (Subscription, error) {
	start := now
	if sub.Status == StatusActive && sub.CurrentPeriodEnd.After(now) {
		start = sub.CurrentPeriodEnd
	}
	end, err := NextBillingDate(start, plan.Cycle)
	if err != nil {
		return Subscription{}, err
	}
	sub.VendorID = p.VendorID
	sub.PlanID = plan.ID
	sub.Status = StatusActive
	sub.Amount = p.Amount
	sub.Currency = p.Currency
	sub.LastTransactionID = p.TransactionID
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	sub.UpdatedAt = now
	return sub, nil
}
