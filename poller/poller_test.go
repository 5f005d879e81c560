package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lipila-gateway/providers"
)

// scriptedChecker answers with statuses in order, repeating the last one.
type scriptedChecker struct {
	mu       sync.Mutex
	statuses []string
	errs     map[int]error // 1-based query number
	calls    int32
}

func (c *scriptedChecker) CheckStatus(ctx context.Context, transactionID string) (*providers.TransactionStatusResponse, error) {
	n := int(atomic.AddInt32(&c.calls, 1))
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[n]; err != nil {
		return nil, err
	}
	i := n - 1
	if i >= len(c.statuses) {
		i = len(c.statuses) - 1
	}
	return &providers.TransactionStatusResponse{TransactionID: transactionID, Status: c.statuses[i]}, nil
}

func (c *scriptedChecker) count() int { return int(atomic.LoadInt32(&c.calls)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]State{
		"Successful": Success, "COMPLETED": Success, "success": Success,
		"Failed": Failed, "error": Failed, "Failure": Failed,
		"Cancelled": Canceled, "canceled": Canceled, "CANCEL": Canceled,
		"Pending": Pending, "processing": Pending, "": Pending,
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPollStopsAtTerminalStatus(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Pending", "Pending", "Successful"}}
	p := New(discardLogger(), checker, 5*time.Millisecond, time.Second)

	out, err := p.Poll(context.Background(), "TX-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Success || out.Polls != 3 {
		t.Fatalf("expected success on third poll, got %+v", out)
	}
	time.Sleep(30 * time.Millisecond)
	if checker.count() != 3 {
		t.Fatalf("expected no 4th query, got %d", checker.count())
	}
}

func TestPollTimesOut(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Pending"}}
	p := New(discardLogger(), checker, 10*time.Millisecond, 55*time.Millisecond)

	out, err := p.Poll(context.Background(), "TX-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Timeout || out.Message != "Payment timeout" {
		t.Fatalf("expected timeout outcome, got %+v", out)
	}
	after := checker.count()
	if after == 0 {
		t.Fatal("expected at least one status query before timing out")
	}
	time.Sleep(40 * time.Millisecond)
	if checker.count() != after {
		t.Fatalf("polled after timeout: %d -> %d", after, checker.count())
	}
}

func TestPollSurvivesQueryErrors(t *testing.T) {
	checker := &scriptedChecker{
		statuses: []string{"Pending", "Pending", "Failed"},
		errs:     map[int]error{1: errors.New("connection reset"), 2: errors.New("connection reset")},
	}
	p := New(discardLogger(), checker, 5*time.Millisecond, time.Second)

	out, err := p.Poll(context.Background(), "TX-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Failed || out.Polls != 3 {
		t.Fatalf("expected failure on third poll, got %+v", out)
	}
}

func TestPollCancelReportsNothing(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Pending"}}
	p := New(discardLogger(), checker, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	out, err := p.Poll(ctx, "TX-4")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if out.State != "" {
		t.Fatalf("expected no outcome, got %+v", out)
	}
}

func TestManagerReportsOnce(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Pending", "completed"}}
	m := NewManager(discardLogger(), New(discardLogger(), checker, 5*time.Millisecond, time.Second))
	defer m.Shutdown()

	got := make(chan Outcome, 2)
	m.Start("vendor-1/plan-1", "TX-5", func(o Outcome) { got <- o })

	select {
	case o := <-got:
		if o.State != Success || o.TransactionID != "TX-5" {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome reported")
	}
	if o, ok := m.Outcome("TX-5"); !ok || o.State != Success {
		t.Fatalf("outcome not recorded: %+v %v", o, ok)
	}
	if m.Active("TX-5") {
		t.Fatal("session still active after reporting")
	}
}

func TestManagerReplacesPriorSession(t *testing.T) {
	first := &scriptedChecker{statuses: []string{"Pending"}}
	p := New(discardLogger(), first, 5*time.Millisecond, time.Second)
	m := NewManager(discardLogger(), p)
	defer m.Shutdown()

	var reported int32
	m.Start("attempt", "TX-old", func(Outcome) { atomic.AddInt32(&reported, 1) })
	time.Sleep(15 * time.Millisecond)
	m.Start("attempt", "TX-new", func(Outcome) { atomic.AddInt32(&reported, 1) })

	if m.Active("TX-old") {
		t.Fatal("old session still active after replacement")
	}
	if !m.Active("TX-new") {
		t.Fatal("new session not active")
	}
	if !m.Stop("attempt") {
		t.Fatal("expected Stop to deactivate the session")
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&reported) != 0 {
		t.Fatal("stopped sessions must not report")
	}
	if m.Stop("attempt") {
		t.Fatal("second Stop should be a no-op")
	}
}

func TestManagerStopTransaction(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Pending"}}
	m := NewManager(discardLogger(), New(discardLogger(), checker, 5*time.Millisecond, time.Second))

	m.Start("a", "TX-7", nil)
	if !m.StopTransaction("TX-7") {
		t.Fatal("expected session to stop")
	}
	m.Shutdown()
	n := checker.count()
	time.Sleep(20 * time.Millisecond)
	if checker.count() != n {
		t.Fatal("polling continued after shutdown")
	}
	if _, ok := m.Outcome("TX-7"); ok {
		t.Fatal("cancelled session recorded an outcome")
	}
}

// slowChecker answers Pending after delay, or earlier if ctx ends.
type slowChecker struct {
	delay time.Duration
	calls int32
}

func (c *slowChecker) CheckStatus(ctx context.Context, transactionID string) (*providers.TransactionStatusResponse, error) {
	atomic.AddInt32(&c.calls, 1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
		return &providers.TransactionStatusResponse{TransactionID: transactionID, Status: "Pending"}, nil
	}
}

func TestPollBudgetBoundsSlowQueries(t *testing.T) {
	checker := &slowChecker{delay: 400 * time.Millisecond}
	p := New(discardLogger(), checker, 10*time.Millisecond, 50*time.Millisecond)

	start := time.Now()
	out, err := p.Poll(context.Background(), "TX-slow")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Timeout || out.Message != TimeoutMessage {
		t.Fatalf("expected timeout outcome, got %+v", out)
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("poll ran %s past a 50ms budget", elapsed)
	}
	if n := atomic.LoadInt32(&checker.calls); n != 1 {
		t.Fatalf("expected a single query inside the budget, got %d", n)
	}
}

func TestManagerExpiresOldOutcomes(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"Successful"}}
	m := NewManager(discardLogger(), New(discardLogger(), checker, 5*time.Millisecond, time.Second))
	defer m.Shutdown()

	done := make(chan struct{})
	m.Start("a", "TX-8", func(Outcome) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no outcome reported")
	}
	if _, ok := m.Outcome("TX-8"); !ok {
		t.Fatal("outcome not recorded")
	}

	m.mu.Lock()
	m.now = func() time.Time { return time.Now().Add(OutcomeRetention + time.Minute) }
	m.mu.Unlock()
	m.Start("b", "TX-9", nil)
	if _, ok := m.Outcome("TX-8"); ok {
		t.Fatal("expired outcome still readable")
	}
}
