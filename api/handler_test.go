package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"lipila-gateway/checkout"
	"lipila-gateway/gateway"
	"lipila-gateway/poller"
	"lipila-gateway/providers"
)

type stubCheckout struct {
	payment checkout.Payment
	err     error
	got     checkout.Request
}

func (s *stubCheckout) StartPayment(ctx context.Context, req checkout.Request) (checkout.Payment, error) {
	s.got = req
	return s.payment, s.err
}

func (s *stubCheckout) Status(transactionID string) (checkout.Payment, error) {
	if s.err != nil {
		return checkout.Payment{}, s.err
	}
	p := s.payment
	p.TransactionID = transactionID
	return p, nil
}

func (s *stubCheckout) Cancel(ctx context.Context, transactionID string) (checkout.Payment, error) {
	return s.payment, s.err
}

func (s *stubCheckout) StopPolling(transactionID string) (checkout.Payment, error) {
	return s.payment, s.err
}

func newServer(svc Checkout) *httptest.Server {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, false)
	return httptest.NewServer(h.Routes())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestPayPendingReturnsAccepted(t *testing.T) {
	svc := &stubCheckout{payment: checkout.Payment{TransactionID: "TX-1", State: poller.Pending, Polling: true}}
	srv := newServer(svc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/payments", map[string]any{
		"vendorId": "v1", "planId": "basic-monthly",
		"customer": map[string]string{"fullName": "Jane Banda", "phoneNumber": "0977000000"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var p checkout.Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.TransactionID != "TX-1" || !p.Polling {
		t.Fatalf("unexpected body: %+v", p)
	}
	if svc.got.PaymentType != providers.MobileMoney || svc.got.Customer.PhoneNumber != "0977000000" {
		t.Fatalf("request not decoded: %+v", svc.got)
	}
}

func TestPayErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{"validation", &providers.ValidationError{Field: "phoneNumber", Message: "bad"}, http.StatusBadRequest, "phoneNumber"},
		{"declined", &providers.PaymentFailedError{Message: "no funds"}, http.StatusPaymentRequired, ""},
		{"unavailable", &gateway.Error{Kind: gateway.KindServiceUnavailable, StatusCode: 503}, http.StatusServiceUnavailable, ""},
		{"timeout", &gateway.Error{Kind: gateway.KindTimeout}, http.StatusGatewayTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&stubCheckout{err: tt.err})
			defer srv.Close()

			resp := postJSON(t, srv.URL+"/v1/payments", map[string]any{"vendorId": "v1", "planId": "p"})
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Field != tt.field || body.Guidance == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestPayRejectsMalformedBody(t *testing.T) {
	srv := newServer(&stubCheckout{})
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/v1/payments", "application/json", bytes.NewReader([]byte(`{"vendorId":`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusAndCancelRoutes(t *testing.T) {
	svc := &stubCheckout{payment: checkout.Payment{State: poller.Success}}
	srv := newServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/payments/TX-9")
	if err != nil {
		t.Fatal(err)
	}
	var p checkout.Payment
	_ = json.NewDecoder(resp.Body).Decode(&p)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || p.TransactionID != "TX-9" {
		t.Fatalf("unexpected status response: %d %+v", resp.StatusCode, p)
	}

	svc.err = checkout.ErrPaymentFinal
	resp = postJSON(t, srv.URL+"/v1/payments/TX-9/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	svc.err = checkout.ErrPaymentNotFound
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/payments/TX-0/poll", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newServer(&stubCheckout{})
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
