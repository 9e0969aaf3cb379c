package payment

import (
	"context"
	"time"

	"github.com/supercasa/server/internal/wompi"
)

// startPollingLocked launches the attempt's single polling task.
// Callers hold the service mutex. A second call while a task is
// running is a no-op: one loop per attempt, always.
func (s *Service) startPollingLocked(h *attemptHandle) {
	if h.polling {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	h.cancelPoll = cancel
	h.polling = true
	h.pollStarts++
	s.transitionLocked(h, StatePolling)

	reference := h.a.Reference
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx, reference)
	}()
}

// pollLoop asks for the attempt's status on a fixed interval until a
// terminal signal arrives or the attempt budget runs out. Each tick:
// an order already materialized for this reference short-circuits
// everything, then the gateway is asked directly, with the recorded
// inbound event as the fallback when the gateway call fails.
func (s *Service) pollLoop(ctx context.Context, reference string) {
	interval := s.cfg.PollInterval.Duration
	if interval <= 0 {
		interval = 3 * time.Second
	}
	maxAttempts := s.cfg.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		h, ok := s.attempts[reference]
		if !ok || h.a.State != StatePolling {
			s.mu.Unlock()
			return
		}
		h.a.PollAttempts++
		attempts := h.a.PollAttempts
		s.mu.Unlock()

		// Cheap short-circuit: the backend already has the order.
		if orderID, found := s.placer.ExistingOrder(ctx, reference); found {
			s.observeTick("order_found")
			s.observeResolution(StateApproved, attempts)
			s.adoptExistingOrder(reference, orderID)
			return
		}

		tx, err := s.checkGateway(ctx, reference)
		if err != nil {
			s.observeTick("error")
		} else {
			switch tx.Status {
			case wompi.StatusApproved:
				s.observeTick("approved")
				s.observeResolution(StateApproved, attempts)
				if _, err := s.resolveApproved(reference, tx.ID); err != nil {
					s.logger.Error().Err(err).Str("reference", reference).Msg("payment.poll_resolution_failed")
				}
				return
			case wompi.StatusDeclined, wompi.StatusError, wompi.StatusVoided:
				s.observeTick("declined")
				s.observeResolution(StateDeclined, attempts)
				s.resolveDeclined(reference, tx.ID)
				return
			default:
				s.observeTick("pending")
			}
		}

		if attempts >= maxAttempts {
			s.observeResolution(StateTimeout, attempts)
			s.timeoutAttempt(reference)
			return
		}
	}
}

// adoptExistingOrder marks an attempt approved against an order that
// was created out of band, without placing a second one.
func (s *Service) adoptExistingOrder(reference, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.attempts[reference]
	if !ok || h.a.State.Terminal() {
		return
	}
	s.stopTasksLocked(h)
	h.a.OrderID = orderID
	s.transitionLocked(h, StateApproved)
}

// timeoutAttempt moves a polling attempt to TIMEOUT. The attempt
// stays queryable so a manual confirmation can still cross-check the
// gateway.
func (s *Service) timeoutAttempt(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.attempts[reference]
	if !ok || h.a.State != StatePolling {
		return
	}
	s.stopTasksLocked(h)
	s.transitionLocked(h, StateTimeout)
}

func (s *Service) observeTick(result string) {
	if s.metrics != nil {
		s.metrics.ObservePollTick(result)
	}
}

func (s *Service) observeResolution(state State, attempts int) {
	if s.metrics != nil {
		s.metrics.ObservePollResolution(string(state), attempts)
	}
}

// requeueLoop retries order placement for attempts the gateway
// approved but whose order insert failed. Money captured without an
// order record is the one inconsistency this engine refuses to leave
// behind.
func (s *Service) requeueLoop() {
	defer s.wg.Done()

	interval := s.cfg.RequeueInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		pending := make([]Attempt, 0, len(s.parked))
		for ref := range s.parked {
			if h, ok := s.attempts[ref]; ok {
				pending = append(pending, h.a)
			} else {
				delete(s.parked, ref)
			}
		}
		s.mu.Unlock()

		for _, a := range pending {
			ctx, cancel := context.WithTimeout(s.baseCtx, 15*time.Second)
			orderID, err := s.placer.PlaceOrder(ctx, a, true)
			cancel()

			s.mu.Lock()
			h, ok := s.attempts[a.Reference]
			if !ok {
				delete(s.parked, a.Reference)
				s.mu.Unlock()
				continue
			}
			if err != nil {
				h.a.LastError = err.Error()
				s.mu.Unlock()
				s.logger.Warn().
					Err(err).
					Str("reference", a.Reference).
					Msg("payment.requeue_retry_failed")
				continue
			}
			h.a.OrderID = orderID
			h.a.LastError = ""
			delete(s.parked, a.Reference)
			s.mu.Unlock()

			s.logger.Info().
				Str("reference", a.Reference).
				Str("order_id", orderID).
				Msg("payment.requeued_order_created")
		}
	}
}

// cleanupLoop drops terminal attempts older than the attempt TTL.
// Parked attempts are exempt until their order exists.
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ttl := s.cfg.AttemptTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-ttl)

		s.mu.Lock()
		for ref, h := range s.attempts {
			if !h.a.State.Terminal() || h.a.UpdatedAt.After(cutoff) {
				continue
			}
			if s.parked[ref] {
				continue
			}
			delete(s.attempts, ref)
			delete(s.events, ref)
			if s.byUser[h.a.UserID] == ref {
				delete(s.byUser, h.a.UserID)
			}
		}
		s.mu.Unlock()
	}
}
