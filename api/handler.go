package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lipila-gateway/checkout"
	"lipila-gateway/poller"
	"lipila-gateway/providers"
)

const (
	// startTimeout covers every strategy and retry of one payment call.
	startTimeout = 3 * time.Minute
	maxBodyBytes = 64 << 10
)

// Checkout is satisfied by *checkout.Service.
type Checkout interface {
	StartPayment(ctx context.Context, req checkout.Request) (checkout.Payment, error)
	Status(transactionID string) (checkout.Payment, error)
	Cancel(ctx context.Context, transactionID string) (checkout.Payment, error)
	StopPolling(transactionID string) (checkout.Payment, error)
}

type Handler struct {
	log     *slog.Logger
	service Checkout
	tracer  trace.Tracer
	mock    bool
}

// NewHandler builds the HTTP surface. mock is reported on /healthz so
// operators can tell a mock deployment from a live one.
func NewHandler(log *slog.Logger, service Checkout, mock bool) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payments-http"),
		mock:    mock,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1/payments", func(r chi.Router) {
		r.Post("/", h.pay)
		r.Get("/{transactionId}", h.status)
		r.Post("/{transactionId}/cancel", h.cancel)
		r.Delete("/{transactionId}/poll", h.stopPolling)
	})
	return r
}

type errorResponse struct {
	Error    string            `json:"error"`
	Category checkout.Category `json:"category,omitempty"`
	Field    string            `json:"field,omitempty"`
	Guidance string            `json:"guidance,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "mockMode": h.mock})
}

// pay processes the API request.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "StartPayment")
	defer span.End()

	var req checkout.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid Request Body", Category: checkout.CategoryInvalidInput})
		return
	}
	if req.PaymentType == "" {
		req.PaymentType = providers.MobileMoney
	}
	span.SetAttributes(
		attribute.String("payment.vendor_id", req.VendorID),
		attribute.String("payment.plan_id", req.PlanID),
		attribute.String("payment.type", string(req.PaymentType)),
	)

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	p, err := h.service.StartPayment(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.respondError(w, err)
		return
	}
	span.SetAttributes(attribute.String("payment.transaction_id", p.TransactionID), attribute.String("payment.state", string(p.State)))

	status := http.StatusOK
	if p.State == poller.Pending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, p)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Status(chi.URLParam(r, "transactionId"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelPayment")
	defer span.End()

	p, err := h.service.Cancel(ctx, chi.URLParam(r, "transactionId"))
	if err != nil {
		span.RecordError(err)
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) stopPolling(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.StopPolling(chi.URLParam(r, "transactionId"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrPaymentNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, checkout.ErrPaymentFinal):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	category := checkout.Classify(err)
	body := errorResponse{Error: err.Error(), Category: category, Guidance: checkout.Guidance(category)}
	var vErr *providers.ValidationError
	if errors.As(err, &vErr) {
		body.Field = vErr.Field
		body.Error = vErr.Message
	}

	status := http.StatusInternalServerError
	switch category {
	case checkout.CategoryInvalidInput:
		status = http.StatusBadRequest
	case checkout.CategoryDeclined:
		status = http.StatusPaymentRequired
	case checkout.CategoryServiceUnavailable:
		status = http.StatusServiceUnavailable
	case checkout.CategoryTimeout:
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("payment request failed", "status", status, "category", category, "error", err)
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
