package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// StrategyReport is the outcome of probing the gateway with one strategy.
type StrategyReport struct {
	Strategy   string
	OK         bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// CheckConnectivity probes path once with every strategy in turn. It bypasses
// the retry policy and the circuit breaker so each strategy gets a clean answer.
func (c *Client) CheckConnectivity(ctx context.Context, path string, timeout time.Duration) []StrategyReport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	req := Request{Method: http.MethodGet, Path: path}
	reports := make([]StrategyReport, 0, len(c.strategies))
	for _, strategy := range c.strategies {
		start := time.Now()
		resp, err := c.roundTrip(ctx, req, nil, strategy, timeout)
		report := StrategyReport{Strategy: strategy.Name(), Latency: time.Since(start)}
		if err != nil {
			report.Err = err
			var gwErr *Error
			if errors.As(err, &gwErr) {
				gwErr.Endpoint = path
				gwErr.Strategy = strategy.Name()
				report.StatusCode = gwErr.StatusCode
			}
			c.logger.Warn("gateway health probe failed", "strategy", strategy.Name(), "status", report.StatusCode, "error", err)
		} else {
			report.OK = true
			report.StatusCode = resp.status
			c.logger.Info("gateway health probe passed", "strategy", strategy.Name(), "status", resp.status)
		}
		reports = append(reports, report)
	}
	return reports
}
