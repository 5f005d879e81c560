package providers

import (
	"context"
	"encoding/json"
)

// MobileMoneyProvider implements the PaymentProvider interface for the
// mobile-money rail (MTN, Airtel and Zamtel wallets behind the gateway).
type MobileMoneyProvider struct {
	*base
}

func (p *MobileMoneyProvider) Name() string { return "MOBILE_MONEY" }

func (p *MobileMoneyProvider) Type() PaymentType { return MobileMoney }

type mobileMoneyBody struct {
	Currency      string      `json:"currency"`
	Amount        json.Number `json:"amount"`
	AccountNumber string      `json:"accountNumber"`
	PhoneNumber   string      `json:"phoneNumber"`
	FullName      string      `json:"fullName"`
	Email         string      `json:"email"`
	ExternalID    string      `json:"externalId"`
	Narration     string      `json:"narration"`
}

// ProcessPayment validates req and submits a mobile-money collection.
func (p *MobileMoneyProvider) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	phone, err := p.cfg.Phone.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	body := mobileMoneyBody{
		Currency:      p.currency(req.Currency),
		Amount:        json.Number(req.Amount.String()),
		AccountNumber: req.AccountNumber,
		PhoneNumber:   phone,
		FullName:      req.FullName,
		Email:         req.Email,
		ExternalID:    p.externalID("MM", req.ExternalID),
		Narration:     req.Narration,
	}
	if body.AccountNumber == "" {
		body.AccountNumber = phone
	}
	if body.Narration == "" {
		body.Narration = "Subscription payment"
	}

	if p.cfg.MockMode {
		return p.mockResponse(p.Name(), MobileMoney, body.ExternalID, body.Currency, req.Amount), nil
	}
	return p.send(ctx, p.Name(), MobileMoney, p.cfg.Paths.MobileMoney, p.cfg.MobileMoneyCall, body, body.ExternalID, body.Currency, req.Amount)
}
