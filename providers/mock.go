package providers

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// mockResponse is the synthetic success returned instead of calling the gateway.
func (b *base) mockResponse(providerName string, t PaymentType, externalID, currency string, amount decimal.Decimal) *PaymentResponse {
	resp := &PaymentResponse{
		Status:        StatusSuccessful,
		Message:       "Mock payment successful (no real charge)",
		TransactionID: "MOCK-" + uuid.NewString(),
		ExternalID:    externalID,
		Amount:        amount,
		Currency:      currency,
		PaymentType:   t,
		Mock:          true,
		ProviderName:  providerName,
	}
	b.logger.Warn("mock mode: no real charge", "provider", providerName, "external_id", externalID,
		"transaction_id", resp.TransactionID, "amount", amount.String(), "currency", currency)
	return resp
}
