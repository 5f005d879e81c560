package providers

import (
	"context"
	"encoding/json"
	"strings"
)

// Billing address fallbacks for customers who only gave a name.
const (
	defaultFirstName = "Customer"
	defaultLastName  = "User"
	defaultCity      = "Lusaka"
	defaultCountry   = "ZM"
	defaultAddress   = "Lusaka"
	defaultZip       = "10101"
)

// CardProvider implements the PaymentProvider interface for redirect-based
// card payments.
type CardProvider struct {
	*base
}

func (p *CardProvider) Name() string { return "CARD" }

func (p *CardProvider) Type() PaymentType { return Card }

type cardBody struct {
	Currency          string      `json:"currency"`
	Amount            json.Number `json:"amount"`
	PhoneNumber       string      `json:"phoneNumber"`
	Email             string      `json:"email"`
	CustomerFirstName string      `json:"customerFirstName"`
	CustomerLastName  string      `json:"customerLastName"`
	CustomerCity      string      `json:"customerCity"`
	CustomerCountry   string      `json:"customerCountry"`
	CustomerAddress   string      `json:"customerAddress"`
	CustomerZip       string      `json:"customerZip"`
	ExternalID        string      `json:"externalId"`
	Narration         string      `json:"narration"`
	ClientRedirectURL string      `json:"clientRedirectUrl"`
}

// ProcessPayment validates req and starts a card checkout. The response's
// RedirectURL is where the customer completes the payment.
func (p *CardProvider) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	phone, err := p.cfg.Phone.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := validateRedirectURL(req.ClientRedirectURL); err != nil {
		return nil, err
	}

	customer := billingCustomer(req)
	body := cardBody{
		Currency:          p.currency(req.Currency),
		Amount:            json.Number(req.Amount.String()),
		PhoneNumber:       phone,
		Email:             req.Email,
		CustomerFirstName: customer.FirstName,
		CustomerLastName:  customer.LastName,
		CustomerCity:      customer.City,
		CustomerCountry:   customer.Country,
		CustomerAddress:   customer.Address,
		CustomerZip:       customer.Zip,
		ExternalID:        p.externalID("CARD", req.ExternalID),
		Narration:         req.Narration,
		ClientRedirectURL: req.ClientRedirectURL,
	}
	if body.Narration == "" {
		body.Narration = "Subscription payment"
	}

	if p.cfg.MockMode {
		resp := p.mockResponse(p.Name(), Card, body.ExternalID, body.Currency, req.Amount)
		resp.RedirectURL = req.ClientRedirectURL
		return resp, nil
	}
	return p.send(ctx, p.Name(), Card, p.cfg.Paths.Card, p.cfg.CardCall, body, body.ExternalID, body.Currency, req.Amount)
}

// billingCustomer uses the structured customer when given, otherwise splits
// the full name. Missing parts fall back to placeholders the gateway accepts.
func billingCustomer(req PaymentRequest) Customer {
	var c Customer
	if req.Customer != nil {
		c = *req.Customer
	} else {
		parts := strings.Fields(req.FullName)
		if len(parts) > 0 {
			c.FirstName = parts[0]
			c.LastName = strings.Join(parts[1:], " ")
		}
	}
	c.FirstName = orDefault(c.FirstName, defaultFirstName)
	c.LastName = orDefault(c.LastName, defaultLastName)
	c.City = orDefault(c.City, defaultCity)
	c.Country = orDefault(c.Country, defaultCountry)
	c.Address = orDefault(c.Address, defaultAddress)
	c.Zip = orDefault(c.Zip, defaultZip)
	return c
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
