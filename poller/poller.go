package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"lipila-gateway/providers"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 5 * time.Minute

	TimeoutMessage = "Payment timeout"
)

// ErrCancelled is returned when polling stops before an outcome.
var ErrCancelled = errors.New("polling cancelled")

// StatusChecker is satisfied by *providers.Orchestrator.
type StatusChecker interface {
	CheckStatus(ctx context.Context, transactionID string) (*providers.TransactionStatusResponse, error)
}

// Outcome is a terminal result of polling one transaction.
type Outcome struct {
	TransactionID string
	State         State
	Message       string
	Status        *providers.TransactionStatusResponse // last snapshot, nil on timeout
	Polls         int
	At            time.Time
}

type Poller struct {
	checker  StatusChecker
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// New returns a Poller. Zero durations fall back to the defaults.
func New(logger *slog.Logger, checker StatusChecker, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{checker: checker, logger: logger, interval: interval, timeout: timeout}
}

// Poll blocks until transactionID reaches a terminal status, the budget
// runs out (a Timeout outcome) or ctx is cancelled (ErrCancelled).
func (p *Poller) Poll(ctx context.Context, transactionID string) (Outcome, error) {
	var active atomic.Bool
	active.Store(true)
	return p.poll(ctx, transactionID, &active)
}

func (p *Poller) poll(ctx context.Context, transactionID string, active *atomic.Bool) (Outcome, error) {
	// the budget bounds the status queries as well as the wait between them
	budget, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log := p.logger.With("transaction_id", transactionID)
	polls := 0
	expired := func() (Outcome, error) {
		if ctx.Err() != nil || !active.Load() {
			log.Info("polling stopped", "polls", polls)
			return Outcome{}, ErrCancelled
		}
		log.Warn("payment status not final before deadline", "polls", polls, "budget", p.timeout)
		return Outcome{TransactionID: transactionID, State: Timeout, Message: TimeoutMessage, Polls: polls, At: time.Now()}, nil
	}

	for {
		select {
		case <-budget.Done():
			return expired()

		case <-ticker.C:
			if !active.Load() {
				return Outcome{}, ErrCancelled
			}
			// a tick and the deadline can be ready together after a slow query
			if budget.Err() != nil {
				return expired()
			}
			polls++
			status, err := p.checker.CheckStatus(budget, transactionID)
			if err != nil {
				if budget.Err() != nil {
					return expired()
				}
				// a failed lookup says nothing about the payment itself
				log.Warn("status query failed, will retry", "poll", polls, "error", err)
				continue
			}
			state := NormalizeStatus(status.Status)
			if !state.Terminal() {
				log.Debug("payment still pending", "poll", polls, "remote_status", status.Status)
				continue
			}
			if !active.Load() {
				return Outcome{}, ErrCancelled
			}
			msg := status.Message
			if msg == "" {
				msg = defaultMessage(state)
			}
			log.Info("payment reached terminal status", "poll", polls, "state", state, "remote_status", status.Status)
			return Outcome{TransactionID: transactionID, State: state, Message: msg, Status: status, Polls: polls, At: time.Now()}, nil
		}
	}
}
