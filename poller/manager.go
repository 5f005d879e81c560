package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OutcomeRetention is how long a reported outcome stays readable through
// Outcome.
const OutcomeRetention = time.Hour

type session struct {
	key           string
	transactionID string
	active        atomic.Bool
	cancel        context.CancelFunc
}

// stop reports whether this call deactivated the session.
func (s *session) stop() bool {
	stopped := s.active.CompareAndSwap(true, false)
	s.cancel()
	return stopped
}

// Manager runs at most one poll session per payment attempt key. Starting a
// session for a key that already has one cancels the old session first, so
// a payment attempt can only ever report one outcome.
type Manager struct {
	poller *Poller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	outcomes map[string]Outcome
	now      func() time.Time
}

func NewManager(logger *slog.Logger, p *Poller) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		poller:   p,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		outcomes: make(map[string]Outcome),
		now:      time.Now,
	}
}

// Start begins polling transactionID under key. onOutcome runs once, on the
// session's goroutine, unless the session is stopped or replaced first.
func (m *Manager) Start(key, transactionID string, onOutcome func(Outcome)) {
	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{key: key, transactionID: transactionID, cancel: cancel}
	s.active.Store(true)

	m.mu.Lock()
	m.pruneOutcomes()
	if prev, ok := m.sessions[key]; ok {
		prev.stop()
		m.logger.Info("replaced poll session", "key", key, "previous_transaction_id", prev.transactionID, "transaction_id", transactionID)
	}
	m.sessions[key] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()

		out, err := m.poller.poll(ctx, transactionID, &s.active)
		if err != nil {
			if !errors.Is(err, ErrCancelled) {
				m.logger.Error("poll session failed", "key", key, "transaction_id", transactionID, "error", err)
			}
			return
		}

		m.mu.Lock()
		// the session is only allowed to report if nobody stopped it meanwhile
		reporting := s.active.CompareAndSwap(true, false)
		if reporting {
			m.outcomes[transactionID] = out
		}
		if m.sessions[key] == s {
			delete(m.sessions, key)
		}
		m.mu.Unlock()

		if reporting && onOutcome != nil {
			onOutcome(out)
		}
	}()
}

// pruneOutcomes drops outcomes older than OutcomeRetention. Callers hold m.mu.
func (m *Manager) pruneOutcomes() {
	cutoff := m.now().Add(-OutcomeRetention)
	for id, out := range m.outcomes {
		if out.At.Before(cutoff) {
			delete(m.outcomes, id)
		}
	}
}

// Stop cancels the session for key. No outcome is reported.
func (m *Manager) Stop(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return false
	}
	delete(m.sessions, key)
	return s.stop()
}

// StopTransaction cancels whichever session is polling transactionID.
func (m *Manager) StopTransaction(transactionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if s.transactionID == transactionID {
			delete(m.sessions, key)
			return s.stop()
		}
	}
	return false
}

// Active reports whether transactionID is still being polled.
func (m *Manager) Active(transactionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.transactionID == transactionID && s.active.Load() {
			return true
		}
	}
	return false
}

// Outcome returns the reported outcome for transactionID, if any.
func (m *Manager) Outcome(transactionID string) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outcomes[transactionID]
	return out, ok
}

// Shutdown stops every session and waits for their goroutines to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for key, s := range m.sessions {
		s.stop()
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
