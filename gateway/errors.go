package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindTimeout            Kind = "TIMEOUT"
	KindUnknown            Kind = "UNKNOWN"
)

// Sentinels for errors.Is checks against *Error.
var (
	ErrUnauthorized       = errors.New("gateway rejected all credentials")
	ErrBadRequest         = errors.New("gateway rejected the request")
	ErrForbidden          = errors.New("gateway refused access")
	ErrNotFound           = errors.New("gateway endpoint not found")
	ErrServiceUnavailable = errors.New("payment gateway is currently unavailable")
	ErrTimeout            = errors.New("payment gateway timed out")
	ErrUnknown            = errors.New("unexpected payment gateway error")
)

// Error is returned by Client.Call for every non-successful outcome.
// StatusCode is zero when no HTTP response was received.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Endpoint   string
	Strategy   string
	Attempts   int // total HTTP attempts across all strategies
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s", strings.ToLower(string(e.Kind)))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " on %s", e.Endpoint)
	}
	if e.Strategy != "" {
		fmt.Fprintf(&b, " using %s", e.Strategy)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// Retryable reports whether the same strategy may be attempted again.
func (e *Error) Retryable() bool {
	return e.Kind == KindServiceUnavailable || e.Kind == KindTimeout
}

func sentinelFor(k Kind) error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindBadRequest:
		return ErrBadRequest
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindServiceUnavailable:
		return ErrServiceUnavailable
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// KindForStatus maps an HTTP status code onto the error taxonomy.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of a gateway error, or "" if err is not one.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// gatewayMessage pulls the human readable message out of an error body.
// The gateway is inconsistent about the field name, so several are tried.
func gatewayMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail", "title"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
		if errs, ok := payload["errors"]; ok {
			if raw, err := json.Marshal(errs); err == nil {
				return string(raw)
			}
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxMessageBytes)
}

const maxMessageBytes = 500

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
