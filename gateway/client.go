package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
	DefaultBreakerThreshold = 10
	DefaultBreakerTimeout   = 30 * time.Second

	maxResponseBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Secret  string

	// Strategies overrides DefaultStrategies(Secret).
	Strategies []AuthStrategy
	HTTPClient *http.Client

	BreakerThreshold   uint32
	BreakerOpenTimeout time.Duration

	// Sleep waits between retries. Tests replace it to observe backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

// CallOptions bound a single logical call.
type CallOptions struct {
	Timeout    time.Duration // per HTTP attempt
	MaxRetries int           // per strategy, transient failures only
	RetryDelay time.Duration // multiplied by the attempt number
}

// DefaultCallOptions returns the card/status defaults.
func DefaultCallOptions() CallOptions {
	return CallOptions{Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

// Request describes an outbound gateway operation.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Body       any
	Strategies []AuthStrategy // optional per-call override
}

// Attempt records one failed HTTP attempt.
type Attempt struct {
	Strategy   string
	Number     int
	StatusCode int
	Kind       Kind
	Retried    bool
}

// Result is a successful gateway response.
type Result struct {
	StatusCode int
	Body       []byte
	Strategy   string
	Attempts   []Attempt // failed attempts that preceded the success
}

// Decode unmarshals the response body into v.
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{Kind: KindUnknown, StatusCode: r.StatusCode, Message: "invalid response body", Strategy: r.Strategy, Err: err}
	}
	return nil
}

// FailedAttempts is the number of attempts that failed before success.
func (r *Result) FailedAttempts() int { return len(r.Attempts) }

// Client performs authenticated calls against the payment gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	strategies []AuthStrategy
	secretHint string
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client. It is safe for concurrent use.
func NewClient(logger *slog.Logger, opts Options) *Client {
	strategies := opts.Strategies
	if len(strategies) == 0 && opts.Secret != "" {
		strategies = DefaultStrategies(opts.Secret)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	threshold := opts.BreakerThreshold
	if threshold == 0 {
		threshold = DefaultBreakerThreshold
	}
	openTimeout := opts.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultBreakerTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		strategies: strategies,
		secretHint: MaskSecret(opts.Secret),
		logger:     logger,
		tracer:     otel.Tracer("lipila-gateway"),
		sleep:      sleep,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lipila-gateway",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Strategies returns the configured authentication strategies in order.
func (c *Client) Strategies() []AuthStrategy { return c.strategies }

// Call runs req through the auth fallback and retry policy.
//
// A 401 moves on to the next strategy without using the retry budget.
// 502/503/504 and timeouts retry the same strategy up to MaxRetries times,
// sleeping RetryDelay*attempt in between, then move on. Anything else is
// returned straight away so a bad request is never reported as an auth problem.
func (c *Client) Call(ctx context.Context, req Request, opts CallOptions) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.call", trace.WithAttributes(
		attribute.String("gateway.method", req.Method),
		attribute.String("gateway.path", req.Path),
	))
	defer span.End()

	res, err := c.call(ctx, req, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("gateway.strategy", res.Strategy), attribute.Int("gateway.failed_attempts", len(res.Attempts)))
	return res, nil
}

func (c *Client) call(ctx context.Context, req Request, opts CallOptions) (*Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	var payload []byte
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Kind: KindUnknown, Endpoint: req.Path, Message: "encode request body", Err: err}
		}
		payload = raw
	}

	strategies := req.Strategies
	if len(strategies) == 0 {
		strategies = c.strategies
	}
	if len(strategies) == 0 {
		return nil, &Error{Kind: KindUnauthorized, Endpoint: req.Path, Message: "no credentials configured"}
	}

	var (
		attempts []Attempt
		lastErr  *Error
	)
	for _, strategy := range strategies {
	retries:
		for n := 1; ; n++ {
			status, body, callErr := c.attempt(ctx, req, payload, strategy, opts.Timeout)
			if callErr == nil {
				c.logger.Info("gateway call succeeded",
					"endpoint", req.Path, "strategy", strategy.Name(), "attempt", n,
					"status", status, "failed_attempts", len(attempts))
				return &Result{StatusCode: status, Body: body, Strategy: strategy.Name(), Attempts: attempts}, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			callErr.Endpoint = req.Path
			callErr.Strategy = strategy.Name()
			lastErr = callErr
			record := Attempt{Strategy: strategy.Name(), Number: n, StatusCode: callErr.StatusCode, Kind: callErr.Kind}
			logAttrs := []any{
				"endpoint", req.Path, "strategy", strategy.Name(), "attempt", n,
				"status", callErr.StatusCode, "kind", callErr.Kind, "credential", c.secretHint,
			}

			switch {
			case isBreakerRejection(callErr.Err):
				attempts = append(attempts, record)
				c.logger.Error("gateway circuit open, failing fast", logAttrs...)
				callErr.Attempts = len(attempts)
				return nil, callErr

			case callErr.Kind == KindUnauthorized:
				attempts = append(attempts, record)
				c.logger.Warn("gateway rejected credentials, trying next strategy", append(logAttrs, "retried", false)...)
				break retries

			case callErr.Retryable() && n <= opts.MaxRetries:
				record.Retried = true
				attempts = append(attempts, record)
				delay := backoff(opts.RetryDelay, n)
				c.logger.Warn("transient gateway failure, retrying", append(logAttrs, "retried", true, "delay", delay)...)
				if err := c.sleep(ctx, delay); err != nil {
					return nil, err
				}

			case callErr.Retryable():
				attempts = append(attempts, record)
				c.logger.Warn("gateway retries exhausted for strategy", append(logAttrs, "retried", false)...)
				break retries

			default:
				attempts = append(attempts, record)
				c.logger.Error("gateway call failed", append(logAttrs, "retried", false, "message", callErr.Message)...)
				callErr.Attempts = len(attempts)
				return nil, callErr
			}
		}
	}

	lastErr.Attempts = len(attempts)
	if lastErr.Kind == KindUnauthorized {
		lastErr.Message = fmt.Sprintf("all %d authentication strategies rejected: %s", len(strategies), lastErr.Message)
	}
	c.logger.Error("gateway call exhausted all strategies",
		"endpoint", req.Path, "attempts", len(attempts), "kind", lastErr.Kind, "status", lastErr.StatusCode)
	return nil, lastErr
}

type response struct {
	status int
	body   []byte
}

// attempt runs a single HTTP round trip behind the circuit breaker.
func (c *Client) attempt(ctx context.Context, req Request, payload []byte, strategy AuthStrategy, timeout time.Duration) (int, []byte, *Error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req, payload, strategy, timeout)
	})
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return 0, nil, gwErr
		}
		if isBreakerRejection(err) {
			return 0, nil, &Error{Kind: KindServiceUnavailable, Message: "circuit breaker open", Err: err}
		}
		return 0, nil, &Error{Kind: KindUnknown, Err: err}
	}
	resp := out.(*response)
	return resp.status, resp.body, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, payload []byte, strategy AuthStrategy, timeout time.Duration) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.endpoint(req), body)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	strategy.Apply(httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &response{status: resp.StatusCode, body: raw}, nil
	}
	return nil, &Error{Kind: KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: gatewayMessage(raw)}
}

func (c *Client) endpoint(req Request) string {
	u := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}
