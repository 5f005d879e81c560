package checkout

import (
	"context"
	"errors"

	"lipila-gateway/gateway"
	"lipila-gateway/poller"
	"lipila-gateway/providers"
)

// Category is what the user is told to do about a payment that did not go
// through.
type Category string

const (
	CategoryNone               Category = ""
	CategoryInvalidInput       Category = "invalid_input"
	CategoryServiceUnavailable Category = "service_unavailable"
	CategoryDeclined           Category = "declined"
	CategoryCancelled          Category = "cancelled"
	CategoryTimeout            Category = "timeout"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentFinal    = errors.New("payment already reached a final state")
)

// Classify maps an error from StartPayment or Cancel to a user category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, providers.ErrValidation), errors.Is(err, gateway.ErrBadRequest):
		return CategoryInvalidInput
	case errors.Is(err, providers.ErrPaymentFailed):
		return CategoryDeclined
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryServiceUnavailable
	}
}

// CategoryForState maps a terminal poll state to a user category.
func CategoryForState(s poller.State) Category {
	switch s {
	case poller.Failed:
		return CategoryDeclined
	case poller.Canceled:
		return CategoryCancelled
	case poller.Timeout:
		return CategoryTimeout
	default:
		return CategoryNone
	}
}

// Guidance is the message shown for a category.
func Guidance(c Category) string {
	switch c {
	case CategoryInvalidInput:
		return "Some payment details are invalid. Please correct them and try again."
	case CategoryServiceUnavailable:
		return "The payment service is unavailable right now. Please try again later."
	case CategoryDeclined:
		return "The payment was declined. Please check your details and try again."
	case CategoryCancelled:
		return "The payment was cancelled. You have not been charged."
	case CategoryTimeout:
		return "We could not confirm the payment in time. Check your statement before trying again to avoid paying twice."
	default:
		return ""
	}
}
