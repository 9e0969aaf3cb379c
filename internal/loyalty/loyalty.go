// Package loyalty implements the points program: points accrue on
// approved orders and redeem into checkout discounts.
package loyalty

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/config"
)

var (
	ErrDisabled           = errors.New("loyalty: program disabled")
	ErrInsufficientPoints = errors.New("loyalty: insufficient points")
	ErrBelowMinimum       = errors.New("loyalty: redemption below minimum")
)

// Balance is a user's current points position.
type Balance struct {
	UserID string `json:"user_id"`
	Points int64  `json:"puntos"`
}

// Store persists point balances.
type Store interface {
	Get(ctx context.Context, userID string) (int64, error)
	Add(ctx context.Context, userID string, delta int64) (int64, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.Mutex
	points map[string]int64
}

// NewMemoryStore creates an empty balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]int64)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[userID], nil
}

func (s *MemoryStore) Add(_ context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.points[userID] + delta
	if next < 0 {
		return s.points[userID], ErrInsufficientPoints
	}
	s.points[userID] = next
	return next, nil
}

// Service applies the configured earn and redeem rates.
type Service struct {
	cfg    config.LoyaltyConfig
	store  Store
	logger zerolog.Logger
}

// NewService creates the points service.
func NewService(cfg config.LoyaltyConfig, store Store, logger zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "loyalty").Logger(),
	}
}

// Enabled reports whether the program is active.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Balance returns the user's current points.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	points, err := s.store.Get(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{UserID: userID, Points: points}, nil
}

// EarnFromOrder accrues points for an approved order total.
func (s *Service) EarnFromOrder(ctx context.Context, userID string, totalCents int64) (int64, error) {
	if !s.cfg.Enabled || s.cfg.EarnPerCOP <= 0 {
		return 0, nil
	}
	earned := totalCents / s.cfg.EarnPerCOP
	if earned <= 0 {
		return 0, nil
	}
	balance, err := s.store.Add(ctx, userID, earned)
	if err != nil {
		return 0, err
	}
	s.logger.Info().
		Str("user_id", userID).
		Int64("earned", earned).
		Int64("balance", balance).
		Msg("loyalty.points_earned")
	return earned, nil
}

// Redemption is the result of converting points to a discount.
type Redemption struct {
	Points        int64 `json:"puntos"`
	DiscountCents int64 `json:"descuento"`
	Balance       int64 `json:"saldo"`
}

// Redeem converts points into a checkout discount.
func (s *Service) Redeem(ctx context.Context, userID string, points int64) (Redemption, error) {
	if !s.cfg.Enabled {
		return Redemption{}, ErrDisabled
	}
	if points < s.cfg.MinRedeemValue {
		return Redemption{}, ErrBelowMinimum
	}

	balance, err := s.store.Add(ctx, userID, -points)
	if err != nil {
		return Redemption{}, err
	}

	discount := points * s.cfg.RedeemRate
	s.logger.Info().
		Str("user_id", userID).
		Int64("points", points).
		Int64("discount_cents", discount).
		Msg("loyalty.points_redeemed")
	return Redemption{Points: points, DiscountCents: discount, Balance: balance}, nil
}
