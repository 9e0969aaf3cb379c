package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/wompi"
)

type fakeGateway struct {
	mu       sync.Mutex
	statuses []string
	calls    int
	err      error
}

func (g *fakeGateway) TransactionByReference(_ context.Context, reference string) (wompi.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return wompi.Transaction{}, g.err
	}
	status := wompi.StatusPending
	if len(g.statuses) > 0 {
		status = g.statuses[0]
		if len(g.statuses) > 1 {
			g.statuses = g.statuses[1:]
		}
	}
	return wompi.Transaction{ID: "txn-fake", Reference: reference, Status: status}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakePlacer struct {
	mu         sync.Mutex
	placed     []string
	failN      int
	existingID string
}

func (p *fakePlacer) PlaceOrder(_ context.Context, a Attempt, _ bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return "", errors.New("orders backend unavailable")
	}
	p.placed = append(p.placed, a.Reference)
	return "order-" + a.Reference, nil
}

func (p *fakePlacer) ExistingOrder(_ context.Context, _ string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.existingID, p.existingID != ""
}

func (p *fakePlacer) placedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

func testPaymentsConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		PollInterval:    config.Duration{Duration: 5 * time.Millisecond},
		MaxPollAttempts: 60,
		DaviplataGrace:  config.Duration{Duration: 30 * time.Millisecond},
		AttemptTTL:      config.Duration{Duration: time.Minute},
		RequeueInterval: config.Duration{Duration: 10 * time.Millisecond},
	}
}

func newEngine(t *testing.T, gw Gateway, placer OrderPlacer) *Service {
	t.Helper()
	s := NewService(testPaymentsConfig(), gw, nil, placer, nil, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestApprovedWidgetResultSkipsPolling(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, err := s.Start(StartRequest{UserID: "u1", Method: MethodCard, AmountCents: 250000})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := s.ReportWidgetResult(a.Reference, &WidgetResult{TransactionID: "X", Status: wompi.StatusApproved})
	if err != nil {
		t.Fatalf("widget result: %v", err)
	}
	if got.State != StateApproved {
		t.Fatalf("expected APPROVED, got %s", got.State)
	}
	if got.OrderID == "" {
		t.Fatal("order should be created")
	}
	if placer.placedCount() != 1 {
		t.Fatalf("expected exactly one order placement, got %d", placer.placedCount())
	}
	if gw.callCount() != 0 {
		t.Fatalf("approved widget result must not poll the gateway, got %d calls", gw.callCount())
	}

	s.mu.Lock()
	starts := s.attempts[a.Reference].pollStarts
	s.mu.Unlock()
	if starts != 0 {
		t.Fatalf("polling task must never start, started %d times", starts)
	}
}

func TestPendingResultPollsUntilApproved(t *testing.T) {
	gw := &fakeGateway{statuses: []string{wompi.StatusPending, wompi.StatusPending, wompi.StatusApproved}}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 100000})
	got, err := s.ReportWidgetResult(a.Reference, &WidgetResult{TransactionID: "X", Status: wompi.StatusPending})
	if err != nil {
		t.Fatalf("widget result: %v", err)
	}
	if got.State != StatePolling {
		t.Fatalf("expected POLLING, got %s", got.State)
	}

	waitFor(t, 2*time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateApproved
	})
	if placer.placedCount() != 1 {
		t.Fatalf("expected one order, got %d", placer.placedCount())
	}
}

func TestDaviplataCountdownStartsPollingExactlyOnce(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodDaviplata, AmountCents: 50000})
	got, err := s.ReportWidgetResult(a.Reference, nil)
	if err != nil {
		t.Fatalf("widget result: %v", err)
	}
	if got.State != StateDaviplataWait {
		t.Fatalf("expected DAVIPLATA_WAIT, got %s", got.State)
	}

	// Let the countdown expire, then also assert payment manually;
	// the two paths must not stack a second loop.
	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StatePolling
	})
	s.ConfirmPaid(context.Background(), a.Reference)

	s.mu.Lock()
	starts := s.attempts[a.Reference].pollStarts
	s.mu.Unlock()
	if starts != 1 {
		t.Fatalf("polling must start exactly once, started %d times", starts)
	}
}

func TestManualConfirmDuringCountdownStopsTimer(t *testing.T) {
	gw := &fakeGateway{statuses: []string{wompi.StatusApproved}}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodDaviplata, AmountCents: 50000})
	s.ReportWidgetResult(a.Reference, nil)

	if _, err := s.ConfirmPaid(context.Background(), a.Reference); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateApproved
	})

	// Outlive the original countdown to prove the timer was stopped.
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	starts := s.attempts[a.Reference].pollStarts
	s.mu.Unlock()
	if starts != 1 {
		t.Fatalf("expected one polling start, got %d", starts)
	}
}

func TestPollingStopsAtAttemptCap(t *testing.T) {
	gw := &fakeGateway{} // always PENDING
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 75000})
	s.ReportWidgetResult(a.Reference, &WidgetResult{Status: wompi.StatusPending})

	waitFor(t, 3*time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateTimeout
	})

	cur, _ := s.Get(a.Reference)
	if cur.PollAttempts != 60 {
		t.Fatalf("expected exactly 60 poll attempts, got %d", cur.PollAttempts)
	}
	if placer.placedCount() != 0 {
		t.Fatal("no order may be created on timeout")
	}
}

func TestManualConfirmAfterTimeout(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{}
	cfg := testPaymentsConfig()
	cfg.MaxPollAttempts = 2
	s := NewService(cfg, gw, nil, placer, nil, zerolog.Nop())
	defer s.Close()

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodPSE, AmountCents: 30000})
	s.ReportWidgetResult(a.Reference, &WidgetResult{Status: wompi.StatusPending})

	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateTimeout
	})

	// Still unconfirmed: gateway keeps answering PENDING.
	if _, err := s.ConfirmPaid(context.Background(), a.Reference); !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed, got %v", err)
	}
	cur, _ := s.Get(a.Reference)
	if cur.State != StateTimeout {
		t.Fatalf("unconfirmed attempt must stay TIMEOUT, got %s", cur.State)
	}

	// Now the gateway reports APPROVED: the cross-check succeeds.
	gw.mu.Lock()
	gw.statuses = []string{wompi.StatusApproved}
	gw.mu.Unlock()

	got, err := s.ConfirmPaid(context.Background(), a.Reference)
	if err != nil {
		t.Fatalf("confirm after approval: %v", err)
	}
	if got.State != StateApproved || got.OrderID == "" {
		t.Fatalf("expected APPROVED with order, got %+v", got)
	}
}

func TestDeclinedPolling(t *testing.T) {
	gw := &fakeGateway{statuses: []string{wompi.StatusDeclined}}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodCard, AmountCents: 80000})
	s.ReportWidgetResult(a.Reference, &WidgetResult{Status: wompi.StatusPending})

	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateDeclined
	})
	if placer.placedCount() != 0 {
		t.Fatal("declined payment must not create an order")
	}
}

func TestCancelDuringWait(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodDaviplata, AmountCents: 40000})
	s.ReportWidgetResult(a.Reference, nil)

	got, err := s.Cancel(a.Reference)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.State != StateUserCancelled {
		t.Fatalf("expected USER_CANCELLED, got %s", got.State)
	}

	// Outlive the countdown: no polling may ever start.
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	starts := s.attempts[a.Reference].pollStarts
	s.mu.Unlock()
	if starts != 0 {
		t.Fatalf("cancelled attempt must never poll, started %d times", starts)
	}
}

func TestExistingOrderShortCircuit(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{existingID: "order-prior"}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 60000})
	s.ReportWidgetResult(a.Reference, &WidgetResult{Status: wompi.StatusPending})

	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateApproved
	})

	cur, _ := s.Get(a.Reference)
	if cur.OrderID != "order-prior" {
		t.Fatalf("expected adopted order, got %q", cur.OrderID)
	}
	if placer.placedCount() != 0 {
		t.Fatal("an existing order must not be placed again")
	}
}

func TestApprovedButUnorderedIsRequeued(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{failN: 2}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodCard, AmountCents: 90000})
	_, err := s.ReportWidgetResult(a.Reference, &WidgetResult{TransactionID: "X", Status: wompi.StatusApproved})
	if err == nil {
		t.Fatal("expected the first placement to fail")
	}

	cur, _ := s.Get(a.Reference)
	if cur.State != StateApproved {
		t.Fatalf("a captured payment stays APPROVED, got %s", cur.State)
	}
	if cur.OrderID != "" {
		t.Fatal("order must not exist yet")
	}

	// The requeue loop keeps retrying until the insert succeeds.
	waitFor(t, 2*time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.OrderID != ""
	})
	if placer.placedCount() != 1 {
		t.Fatalf("expected exactly one eventual order, got %d", placer.placedCount())
	}
}

func TestOneActiveAttemptPerUser(t *testing.T) {
	gw := &fakeGateway{}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, err := s.Start(StartRequest{UserID: "u1", Method: MethodCard, AmountCents: 10000})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 20000}); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}

	// Terminal states re-arm the user.
	s.Cancel(a.Reference)
	if _, err := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 20000}); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
}

func TestGatewayEventResolvesAttempt(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway unreachable")}
	placer := &fakePlacer{}
	s := newEngine(t, gw, placer)

	a, _ := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 35000})
	s.ReportWidgetResult(a.Reference, &WidgetResult{Status: wompi.StatusPending})

	s.RecordGatewayEvent(wompi.Transaction{
		ID:        "txn-evt",
		Reference: a.Reference,
		Status:    wompi.StatusApproved,
	})

	waitFor(t, time.Second, func() bool {
		cur, _ := s.Get(a.Reference)
		return cur.State == StateApproved && cur.OrderID != ""
	})
	cur, _ := s.Get(a.Reference)
	if cur.TransactionID != "txn-evt" {
		t.Fatalf("expected event transaction id, got %q", cur.TransactionID)
	}
}

type staticSigner struct{}

func (staticSigner) Sign(reference string, _ int64) string { return "sig-" + reference }

func TestStartSignsAndOpensWidget(t *testing.T) {
	s := NewService(testPaymentsConfig(), &fakeGateway{}, staticSigner{}, &fakePlacer{}, nil, zerolog.Nop())
	t.Cleanup(func() { s.Close() })

	a, err := s.Start(StartRequest{UserID: "u1", Method: MethodNequi, AmountCents: 250000, PromoCode: "DIEZ"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.State != StateWidgetOpen {
		t.Fatalf("state = %s, want WIDGET_OPEN", a.State)
	}
	if a.Signature != "sig-"+a.Reference {
		t.Fatalf("signature = %q, want one issued for %s", a.Signature, a.Reference)
	}
	if a.PromoCode != "DIEZ" {
		t.Fatalf("promo code = %q, want DIEZ", a.PromoCode)
	}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	s := newEngine(t, &fakeGateway{}, &fakePlacer{})

	if _, err := s.Start(StartRequest{UserID: "u1", Method: "SOBRE", AmountCents: 100}); err == nil {
		t.Fatal("unknown method must be rejected")
	}
	if _, err := s.Start(StartRequest{UserID: "u1", Method: MethodCard, AmountCents: 0}); err == nil {
		t.Fatal("non-positive amount must be rejected")
	}
}
