package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lipila-gateway/gateway"
)

const (
	// MobileMoneyTimeout is longer than the card ceiling; mobile-money
	// settlement waits on the subscriber's handset.
	MobileMoneyTimeout = 45 * time.Second
	CardTimeout        = 30 * time.Second
	StatusTimeout      = 30 * time.Second
)

// Paths are the gateway endpoints, relative to its base URL.
type Paths struct {
	MobileMoney string
	Card        string
	Status      string
	Cancel      string
	Health      string
}

func DefaultPaths() Paths {
	return Paths{
		MobileMoney: "/transactions/mobile-money",
		Card:        "/transactions/card",
		Status:      "/transactions/status",
		Cancel:      "/transactions/cancel",
		Health:      "/health",
	}
}

// Config carries the settings shared by every provider.
type Config struct {
	Currency string
	MockMode bool
	Phone    PhoneFormat
	Paths    Paths

	MobileMoneyCall gateway.CallOptions
	CardCall        gateway.CallOptions
	StatusCall      gateway.CallOptions
}

// DefaultConfig returns ZMW, Zambian numbering and the standard timeouts.
func DefaultConfig() Config {
	return Config{
		Currency:        "ZMW",
		Phone:           NewPhoneFormat(defaultCountryCode),
		Paths:           DefaultPaths(),
		MobileMoneyCall: gateway.CallOptions{Timeout: MobileMoneyTimeout, MaxRetries: gateway.DefaultMaxRetries, RetryDelay: gateway.DefaultRetryDelay},
		CardCall:        gateway.CallOptions{Timeout: CardTimeout, MaxRetries: gateway.DefaultMaxRetries, RetryDelay: gateway.DefaultRetryDelay},
		StatusCall:      gateway.CallOptions{Timeout: StatusTimeout, MaxRetries: gateway.DefaultMaxRetries, RetryDelay: gateway.DefaultRetryDelay},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.Phone.Pattern == nil {
		c.Phone = d.Phone
	}
	if c.Paths == (Paths{}) {
		c.Paths = d.Paths
	}
	if c.MobileMoneyCall.Timeout <= 0 {
		c.MobileMoneyCall = d.MobileMoneyCall
	}
	if c.CardCall.Timeout <= 0 {
		c.CardCall = d.CardCall
	}
	if c.StatusCall.Timeout <= 0 {
		c.StatusCall = d.StatusCall
	}
	return c
}

// Orchestrator routes payments to the provider for their rail and wraps the
// status and cancel endpoints.
type Orchestrator struct {
	logger    *slog.Logger
	gw        Gateway
	cfg       Config
	providers map[PaymentType]PaymentProvider
}

// NewOrchestrator initializes the service with all providers.
func NewOrchestrator(logger *slog.Logger, gw Gateway, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	shared := &base{logger: logger, gw: gw, cfg: cfg, now: time.Now}
	return &Orchestrator{
		logger: logger,
		gw:     gw,
		cfg:    cfg,
		providers: map[PaymentType]PaymentProvider{
			MobileMoney: &MobileMoneyProvider{base: shared},
			Card:        &CardProvider{base: shared},
		},
	}
}

// MockMode reports whether network calls are bypassed.
func (o *Orchestrator) MockMode() bool { return o.cfg.MockMode }

// Paths returns the configured gateway endpoints.
func (o *Orchestrator) Paths() Paths { return o.cfg.Paths }

// Pay dispatches req to the provider for t.
func (o *Orchestrator) Pay(ctx context.Context, t PaymentType, req PaymentRequest) (*PaymentResponse, error) {
	provider, ok := o.providers[t]
	if !ok {
		return nil, &ValidationError{Field: "paymentType", Message: fmt.Sprintf("unsupported payment type %q", t)}
	}
	o.logger.Info("starting payment", "provider", provider.Name(), "external_id", req.ExternalID, "amount", req.Amount.String())
	return provider.ProcessPayment(ctx, req)
}

func (o *Orchestrator) PayMobileMoney(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	return o.Pay(ctx, MobileMoney, req)
}

func (o *Orchestrator) PayCard(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	return o.Pay(ctx, Card, req)
}

// CheckStatus reads the current remote state of a transaction.
func (o *Orchestrator) CheckStatus(ctx context.Context, transactionID string) (*TransactionStatusResponse, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, &ValidationError{Field: "transactionId", Message: "transaction id is required"}
	}
	if o.cfg.MockMode {
		o.logger.Warn("mock mode: synthetic transaction status", "transaction_id", transactionID)
		return &TransactionStatusResponse{
			Status:        string(StatusSuccessful),
			TransactionID: transactionID,
			Currency:      o.cfg.Currency,
			Message:       "Mock transaction (no real charge)",
		}, nil
	}
	res, err := o.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   o.cfg.Paths.Status,
		Query:  url.Values{"transactionId": []string{transactionID}},
	}, o.cfg.StatusCall)
	if err != nil {
		return nil, fmt.Errorf("check status of %s: %w", transactionID, err)
	}
	var status TransactionStatusResponse
	if err := res.Decode(&status); err != nil {
		return nil, fmt.Errorf("check status of %s: %w", transactionID, err)
	}
	if status.TransactionID == "" {
		status.TransactionID = transactionID
	}
	return &status, nil
}

// CancelTransaction asks the gateway to cancel a pending transaction.
func (o *Orchestrator) CancelTransaction(ctx context.Context, transactionID string) (*CancelResponse, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, &ValidationError{Field: "transactionId", Message: "transaction id is required"}
	}
	if o.cfg.MockMode {
		o.logger.Warn("mock mode: synthetic cancellation", "transaction_id", transactionID)
		return &CancelResponse{Success: true, Message: "Mock transaction cancelled"}, nil
	}
	res, err := o.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   o.cfg.Paths.Cancel,
		Body:   map[string]string{"transactionId": transactionID},
	}, o.cfg.StatusCall)
	if err != nil {
		return nil, fmt.Errorf("cancel %s: %w", transactionID, err)
	}
	var out CancelResponse
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", transactionID, err)
	}
	return &out, nil
}

// base holds what both rails share.
type base struct {
	logger *slog.Logger
	gw     Gateway
	cfg    Config
	now    func() time.Time
}

func (b *base) externalID(tag string, supplied string) string {
	if supplied != "" {
		return supplied
	}
	return fmt.Sprintf("%s-%d", tag, b.now().UnixNano())
}

func (b *base) currency(supplied string) string {
	if supplied != "" {
		return strings.ToUpper(supplied)
	}
	return b.cfg.Currency
}

// send posts body and turns the reply into a PaymentResponse, applying the
// business-status rules shared by both rails.
func (b *base) send(ctx context.Context, providerName string, t PaymentType, path string, opts gateway.CallOptions, body any, externalID, currency string, amount decimal.Decimal) (*PaymentResponse, error) {
	res, err := b.gw.Call(ctx, gateway.Request{Method: http.MethodPost, Path: path, Body: body}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s payment %s: %w", t, externalID, err)
	}
	var resp PaymentResponse
	if err := res.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%s payment %s: %w", t, externalID, err)
	}
	resp.Status = parseStatus(string(resp.Status))
	resp.ProviderName = providerName
	resp.PaymentType = t
	if resp.ExternalID == "" {
		resp.ExternalID = externalID
	}
	if resp.Currency == "" {
		resp.Currency = currency
	}
	if resp.Amount.IsZero() {
		resp.Amount = amount
	}

	if resp.Status == StatusFailed {
		b.logger.Warn("gateway declined payment", "provider", providerName, "external_id", resp.ExternalID,
			"transaction_id", resp.TransactionID, "message", resp.Message)
		return nil, &PaymentFailedError{TransactionID: resp.TransactionID, ExternalID: resp.ExternalID, Message: resp.Message}
	}
	if resp.TransactionID == "" && resp.Status != StatusSuccessful {
		return nil, &gateway.Error{
			Kind:       gateway.KindUnknown,
			StatusCode: res.StatusCode,
			Endpoint:   path,
			Strategy:   res.Strategy,
			Message:    "response carried no transactionId",
		}
	}
	b.logger.Info("payment submitted", "provider", providerName, "external_id", resp.ExternalID,
		"transaction_id", resp.TransactionID, "status", resp.Status, "strategy", res.Strategy)
	return &resp, nil
}
