package gateway

import (
	"net/http"
	"strings"
)

// AuthStrategy decorates an outgoing request with credentials. The gateway has
// accepted different header schemes over time, so the client tries several.
type AuthStrategy interface {
	Name() string
	Apply(h http.Header)
}

// BearerStrategy sends "Authorization: Bearer <key>".
type BearerStrategy struct {
	Key string
}

func (s BearerStrategy) Name() string { return "bearer" }

func (s BearerStrategy) Apply(h http.Header) {
	h.Set("Authorization", "Bearer "+s.Key)
}

// APIKeyHeaderStrategy sends the key in a dedicated API key header.
type APIKeyHeaderStrategy struct {
	Key    string
	Header string // defaults to x-api-key
}

func (s APIKeyHeaderStrategy) Name() string { return "api-key-header" }

func (s APIKeyHeaderStrategy) Apply(h http.Header) {
	header := s.Header
	if header == "" {
		header = "x-api-key"
	}
	h.Set(header, s.Key)
}

// RawAuthorizationStrategy sends the bare key as the Authorization header.
type RawAuthorizationStrategy struct {
	Key string
}

func (s RawAuthorizationStrategy) Name() string { return "raw-authorization" }

func (s RawAuthorizationStrategy) Apply(h http.Header) {
	h.Set("Authorization", s.Key)
}

// CustomHeaderStrategy sends the key under a vendor specific header.
type CustomHeaderStrategy struct {
	Key    string
	Header string
}

func (s CustomHeaderStrategy) Name() string { return "custom-header:" + s.Header }

func (s CustomHeaderStrategy) Apply(h http.Header) {
	h.Set(s.Header, s.Key)
}

// DefaultStrategies returns the strategies in the order the gateway is most
// likely to accept them.
func DefaultStrategies(key string) []AuthStrategy {
	return []AuthStrategy{
		BearerStrategy{Key: key},
		APIKeyHeaderStrategy{Key: key},
		RawAuthorizationStrategy{Key: key},
		CustomHeaderStrategy{Key: key, Header: "X-Lipila-Api-Key"},
	}
}

// MaskSecret keeps a short prefix of a credential for log correlation.
func MaskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "<empty>"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
