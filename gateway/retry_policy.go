package gateway

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

// classifyTransportError turns a failure that produced no HTTP response into
// the taxonomy. Timeouts and dropped connections are transient.
func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	case isRetryAbleSystemError(err) || isNetworkError(err):
		return &Error{Kind: KindServiceUnavailable, Message: "connection failed", Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isRetryAbleSystemError(err error) bool {
	// Connection Refused / Reset
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// isTransient reports whether err should count against the circuit breaker.
// Credential and validation rejections mean the gateway is up.
func isTransient(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return err != nil
}

// isBreakerRejection is true when the breaker refused to let the attempt through.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// backoff is the linear delay before retry number attempt (1-based).
func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
