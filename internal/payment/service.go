package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/metrics"
	"github.com/supercasa/server/internal/wompi"
)

// Gateway is the slice of the gateway client the engine needs.
type Gateway interface {
	TransactionByReference(ctx context.Context, reference string) (wompi.Transaction, error)
}

// Signer computes the widget integrity signature for a new attempt.
type Signer interface {
	Sign(reference string, amountCents int64) string
}

// OrderPlacer materializes an order once an attempt is approved. Both
// methods must be idempotent by reference.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, a Attempt, requeued bool) (orderID string, err error)
	ExistingOrder(ctx context.Context, reference string) (orderID string, found bool)
}

// attemptHandle pairs an attempt with its owned background tasks.
type attemptHandle struct {
	a          Attempt
	cancelPoll context.CancelFunc
	graceTimer *time.Timer
	polling    bool
	pollStarts int
}

// Service is the reconciliation engine. All state transitions happen
// under one mutex; polling work happens in per-attempt goroutines
// that re-acquire it only to publish results.
type Service struct {
	cfg     config.PaymentsConfig
	gateway Gateway
	signer  Signer
	placer  OrderPlacer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	attempts map[string]*attemptHandle
	byUser   map[string]string
	events   map[string]wompi.Transaction
	parked   map[string]bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService builds the engine and starts its background loops.
func NewService(cfg config.PaymentsConfig, gateway Gateway, signer Signer, placer OrderPlacer, m *metrics.Metrics, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		gateway:  gateway,
		signer:   signer,
		placer:   placer,
		metrics:  m,
		logger:   logger.With().Str("component", "payment").Logger(),
		attempts: make(map[string]*attemptHandle),
		byUser:   make(map[string]string),
		events:   make(map[string]wompi.Transaction),
		parked:   make(map[string]bool),
		baseCtx:  ctx,
		cancel:   cancel,
	}

	s.wg.Add(2)
	go s.requeueLoop()
	go s.cleanupLoop()
	return s
}

// Close cancels every polling task and background loop.
func (s *Service) Close() error {
	s.cancel()

	s.mu.Lock()
	for _, h := range s.attempts {
		if h.cancelPoll != nil {
			h.cancelPoll()
		}
		if h.graceTimer != nil {
			h.graceTimer.Stop()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// StartRequest opens a new attempt.
type StartRequest struct {
	UserID      string
	Method      Method
	AmountCents int64
	PromoCode   string
}

// Start registers an attempt as INITIATED, issues the reference and
// integrity signature, and opens the widget window. One active attempt
// per user: a user with a non-terminal attempt must cancel or finish
// it first.
func (s *Service) Start(req StartRequest) (Attempt, error) {
	if !req.Method.Valid() {
		return Attempt{}, ErrInvalidTransition
	}
	if req.AmountCents <= 0 {
		return Attempt{}, ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.byUser[req.UserID]; ok {
		if h, ok := s.attempts[ref]; ok && !h.a.State.Terminal() {
			return Attempt{}, ErrAttemptInProgress
		}
	}

	now := time.Now()
	reference := wompi.NewReference()
	h := &attemptHandle{a: Attempt{
		Reference:   reference,
		UserID:      req.UserID,
		Method:      req.Method,
		AmountCents: req.AmountCents,
		PromoCode:   req.PromoCode,
		State:       StateInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	s.attempts[reference] = h
	s.byUser[req.UserID] = reference

	if s.signer != nil {
		h.a.Signature = s.signer.Sign(reference, req.AmountCents)
	}
	s.transitionLocked(h, StateWidgetOpen)

	if s.metrics != nil {
		s.metrics.ObservePaymentStarted(string(req.Method))
	}
	s.logger.Info().
		Str("reference", reference).
		Str("method", string(req.Method)).
		Int64("amount_cents", req.AmountCents).
		Msg("payment.attempt_started")
	return h.a, nil
}

// Get returns the attempt for a reference.
func (s *Service) Get(reference string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.attempts[reference]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return h.a, nil
}

// WidgetResult is what the checkout widget reported when it closed,
// nil when it closed without invoking its callback with transaction
// data.
type WidgetResult struct {
	TransactionID string
	Status        string
}

// ReportWidgetResult drives the WIDGET_OPEN transition. An APPROVED
// result creates the order immediately with no polling. Any other
// reported status starts the polling task. A missing result routes
// DaviPlata attempts into the grace wait and everything else straight
// to polling.
func (s *Service) ReportWidgetResult(reference string, result *WidgetResult) (Attempt, error) {
	s.mu.Lock()
	h, ok := s.attempts[reference]
	if !ok {
		s.mu.Unlock()
		return Attempt{}, ErrNotFound
	}
	if h.a.State != StateWidgetOpen {
		a := h.a
		s.mu.Unlock()
		if a.State.Terminal() {
			return a, nil
		}
		return a, ErrInvalidTransition
	}

	switch {
	case result != nil && result.Status == wompi.StatusApproved:
		h.a.TransactionID = result.TransactionID
		s.mu.Unlock()
		return s.resolveApproved(reference, result.TransactionID)

	case result != nil:
		// Any reported status other than APPROVED is treated as
		// unsettled; the polling task decides the outcome.
		h.a.TransactionID = result.TransactionID
		s.startPollingLocked(h)
		a := h.a
		s.mu.Unlock()
		return a, nil

	case h.a.Method == MethodDaviplata:
		s.transitionLocked(h, StateDaviplataWait)
		grace := s.cfg.DaviplataGrace.Duration
		if grace <= 0 {
			grace = 2 * time.Minute
		}
		// The countdown fires the poll exactly once; a manual
		// "I paid" stops the timer first so the two paths cannot
		// both start a loop.
		h.graceTimer = time.AfterFunc(grace, func() { s.graceExpired(reference) })
		a := h.a
		s.mu.Unlock()
		return a, nil

	default:
		s.startPollingLocked(h)
		a := h.a
		s.mu.Unlock()
		return a, nil
	}
}

func (s *Service) graceExpired(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.attempts[reference]
	if !ok || h.a.State != StateDaviplataWait {
		return
	}
	h.graceTimer = nil
	s.startPollingLocked(h)
}

// ConfirmPaid handles the user asserting "I already paid". From the
// DaviPlata wait it short-circuits the countdown into polling. From
// TIMEOUT it performs a single gateway cross-check: only an APPROVED
// answer creates the order, anything else stays unresolved.
func (s *Service) ConfirmPaid(ctx context.Context, reference string) (Attempt, error) {
	s.mu.Lock()
	h, ok := s.attempts[reference]
	if !ok {
		s.mu.Unlock()
		return Attempt{}, ErrNotFound
	}

	switch h.a.State {
	case StateDaviplataWait:
		if h.graceTimer != nil {
			h.graceTimer.Stop()
			h.graceTimer = nil
		}
		s.startPollingLocked(h)
		a := h.a
		s.mu.Unlock()
		return a, nil

	case StateTimeout:
		s.mu.Unlock()
		tx, err := s.checkGateway(ctx, reference)
		if err == nil && tx.Status == wompi.StatusApproved {
			return s.resolveApproved(reference, tx.ID)
		}
		a, _ := s.Get(reference)
		return a, ErrUnconfirmed

	default:
		a := h.a
		s.mu.Unlock()
		return a, ErrInvalidTransition
	}
}

// Cancel aborts a non-terminal attempt, stopping its polling task and
// grace timer.
func (s *Service) Cancel(reference string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.attempts[reference]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	if h.a.State.Terminal() {
		return h.a, nil
	}

	if h.cancelPoll != nil {
		h.cancelPoll()
		h.cancelPoll = nil
	}
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.polling = false
	s.transitionLocked(h, StateUserCancelled)
	return h.a, nil
}

// RecordGatewayEvent stores an inbound gateway event so polling can
// fall back to it when direct status calls fail, and resolves the
// attempt immediately when the event is terminal.
func (s *Service) RecordGatewayEvent(tx wompi.Transaction) {
	if tx.Reference == "" {
		return
	}

	s.mu.Lock()
	s.events[tx.Reference] = tx
	h, ok := s.attempts[tx.Reference]
	active := ok && !h.a.State.Terminal()
	s.mu.Unlock()

	if !active || !wompi.IsTerminal(tx.Status) {
		return
	}

	if tx.Status == wompi.StatusApproved {
		if _, err := s.resolveApproved(tx.Reference, tx.ID); err != nil {
			s.logger.Error().Err(err).Str("reference", tx.Reference).Msg("payment.event_resolution_failed")
		}
		return
	}
	s.resolveDeclined(tx.Reference, tx.ID)
}

// transitionLocked updates state under the service mutex.
func (s *Service) transitionLocked(h *attemptHandle, to State) {
	from := h.a.State
	h.a.State = to
	h.a.UpdatedAt = time.Now()

	s.logger.Info().
		Str("reference", h.a.Reference).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("poll_attempts", h.a.PollAttempts).
		Msg("payment.transition")

	if to.Terminal() && s.metrics != nil {
		s.metrics.ObservePaymentResolved(string(h.a.Method), string(to), time.Since(h.a.CreatedAt), h.a.AmountCents)
	}
}

// resolveApproved places the order and publishes APPROVED. A failed
// order placement still marks the attempt APPROVED but parks it for
// the requeue loop, so a captured payment can never be silently lost.
func (s *Service) resolveApproved(reference, transactionID string) (Attempt, error) {
	s.mu.Lock()
	h, ok := s.attempts[reference]
	if !ok {
		s.mu.Unlock()
		return Attempt{}, ErrNotFound
	}
	if h.a.State == StateApproved {
		a := h.a
		s.mu.Unlock()
		return a, nil
	}
	s.stopTasksLocked(h)
	if transactionID != "" {
		h.a.TransactionID = transactionID
	}
	s.transitionLocked(h, StateApproved)
	a := h.a
	s.mu.Unlock()

	ctx, cancelCtx := context.WithTimeout(s.baseCtx, 15*time.Second)
	defer cancelCtx()
	orderID, err := s.placer.PlaceOrder(ctx, a, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		h.a.LastError = err.Error()
		s.parked[reference] = true
		s.logger.Error().
			Err(err).
			Str("reference", reference).
			Msg("payment.order_creation_failed_parked")
		return h.a, err
	}
	h.a.OrderID = orderID
	h.a.LastError = ""
	delete(s.parked, reference)
	return h.a, nil
}

func (s *Service) resolveDeclined(reference, transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.attempts[reference]
	if !ok || h.a.State.Terminal() {
		return
	}
	s.stopTasksLocked(h)
	if transactionID != "" {
		h.a.TransactionID = transactionID
	}
	s.transitionLocked(h, StateDeclined)
}

func (s *Service) stopTasksLocked(h *attemptHandle) {
	if h.cancelPoll != nil {
		h.cancelPoll()
		h.cancelPoll = nil
	}
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.polling = false
}

func (s *Service) checkGateway(ctx context.Context, reference string) (wompi.Transaction, error) {
	tx, err := s.gateway.TransactionByReference(ctx, reference)
	if err == nil {
		return tx, nil
	}

	// Fall back to the last recorded inbound event.
	s.mu.Lock()
	event, ok := s.events[reference]
	s.mu.Unlock()
	if ok {
		return event, nil
	}
	return wompi.Transaction{}, err
}
