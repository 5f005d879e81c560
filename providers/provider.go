package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"lipila-gateway/gateway"
)

// PaymentType is the payment rail a request is sent over.
type PaymentType string

const (
	MobileMoney PaymentType = "mobile-money"
	Card        PaymentType = "card"
)

// Status is the gateway's transaction status vocabulary.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusSuccessful Status = "Successful"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

// parseStatus maps the gateway's status onto the canonical spelling. Unknown
// values are kept as sent.
func parseStatus(raw string) Status {
	for _, s := range []Status{StatusPending, StatusSuccessful, StatusFailed, StatusCancelled} {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s
		}
	}
	return Status(strings.TrimSpace(raw))
}

// Customer is the structured billing identity used by card payments.
type Customer struct {
	FirstName string
	LastName  string
	City      string
	Country   string
	Address   string
	Zip       string
}

// PaymentRequest contains the necessary data for a transaction.
type PaymentRequest struct {
	Currency          string
	Amount            decimal.Decimal
	AccountNumber     string
	PhoneNumber       string
	Email             string
	FullName          string
	ExternalID        string // caller correlation key, generated when empty
	Narration         string
	ClientRedirectURL string // required for card payments
	Customer          *Customer
}

// PaymentResponse holds the result of a transaction.
type PaymentResponse struct {
	Status        Status          `json:"status"`
	Message       string          `json:"message"`
	TransactionID string          `json:"transactionId"`
	ExternalID    string          `json:"externalId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentType   PaymentType     `json:"paymentType"`
	RedirectURL   string          `json:"redirectUrl,omitempty"`
	Mock          bool            `json:"mock,omitempty"`
	ProviderName  string          `json:"-"`
}

// Key is the identifier the payment is tracked and reconciled under. The
// gateway occasionally settles a payment without assigning a transaction id,
// in which case the caller's externalId stands in.
func (r *PaymentResponse) Key() string {
	if r.TransactionID != "" {
		return r.TransactionID
	}
	return r.ExternalID
}

// TransactionStatusResponse is one snapshot of a transaction's remote state.
type TransactionStatusResponse struct {
	Status        string          `json:"status"`
	PaymentType   string          `json:"paymentType"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"accountNumber"`
	Customer      json.RawMessage `json:"customer,omitempty"`
	TransactionID string          `json:"transactionId"`
	ExternalID    string          `json:"externalId"`
	Message       string          `json:"message"`
}

// CancelResponse is the gateway's answer to a cancel request.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PaymentProvider defines the interface for every payment rail (Adapter Pattern).
type PaymentProvider interface {
	Name() string
	Type() PaymentType
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
}

// Gateway is the subset of *gateway.Client the providers depend on.
type Gateway interface {
	Call(ctx context.Context, req gateway.Request, opts gateway.CallOptions) (*gateway.Result, error)
}
