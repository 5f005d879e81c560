package providers

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("invalid payment request")
	ErrPaymentFailed = errors.New("payment failed")
)

// ValidationError reports malformed caller input. It is raised before any
// network attempt.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PaymentFailedError is a business failure: the gateway accepted the call
// but reported the payment as Failed.
type PaymentFailedError struct {
	TransactionID string
	ExternalID    string
	Message       string
}

func (e *PaymentFailedError) Error() string {
	if e.Message == "" {
		return "payment failed"
	}
	return "payment failed: " + e.Message
}

func (e *PaymentFailedError) Is(target error) bool { return target == ErrPaymentFailed }
